// ABOUTME: The six observer-facing event kinds and the Bus that groups their topics
// ABOUTME: Agents and the Manager publish here; UIs, logs and the state recorder subscribe

package agent

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/partner-poller/internal/errmap"
	"github.com/2389/partner-poller/internal/eventbus"
	"github.com/2389/partner-poller/internal/runtimestate"
)

// Event kind names, used as topic names and on the wire.
const (
	KindGlobalLog       = "global_log"
	KindAgentLog        = "agent_log"
	KindStatusChanged   = "agent_status_changed"
	KindScheduleChanged = "agent_schedule_changed"
	KindAPIState        = "agent_api_state_changed"
	KindDBState         = "agent_db_state_changed"
)

// LogEntry is a process-wide log line.
type LogEntry struct {
	At      time.Time `json:"at"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
}

// AgentLogEntry is a log line scoped to one agent.
type AgentLogEntry struct {
	AgentID string    `json:"agentId"`
	At      time.Time `json:"at"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
}

// StatusChanged reports an agent's current status.
type StatusChanged struct {
	AgentID string `json:"agentId"`
	Status  Status `json:"status"`
}

// ScheduleChanged asks observers to refresh an agent's next-run information.
type ScheduleChanged struct {
	AgentID string `json:"agentId"`
}

// ConnStateChanged reports api or db connection health. Code is errmap.None
// when there is no error to report.
type ConnStateChanged struct {
	AgentID string                  `json:"agentId"`
	Status  runtimestate.ConnStatus `json:"status"`
	Code    errmap.Code             `json:"errorCode,omitempty"`
	Kind    string                  `json:"errorKind,omitempty"`
	Message string                  `json:"errorMessage,omitempty"`
}

// Detail returns the error carried by the event.
func (e ConnStateChanged) Detail() errmap.Detail {
	return errmap.Detail{Code: e.Code, Kind: e.Kind, Message: e.Message}
}

// Bus is the set of topics shared by agents, the manager and observers.
type Bus struct {
	GlobalLog       *eventbus.Topic[LogEntry]
	AgentLog        *eventbus.Topic[AgentLogEntry]
	StatusChanged   *eventbus.Topic[StatusChanged]
	ScheduleChanged *eventbus.Topic[ScheduleChanged]
	APIState        *eventbus.Topic[ConnStateChanged]
	DBState         *eventbus.Topic[ConnStateChanged]

	now func() time.Time
}

// NewBus creates a bus with no subscribers. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		GlobalLog:       eventbus.NewTopic[LogEntry](KindGlobalLog, logger),
		AgentLog:        eventbus.NewTopic[AgentLogEntry](KindAgentLog, logger),
		StatusChanged:   eventbus.NewTopic[StatusChanged](KindStatusChanged, logger),
		ScheduleChanged: eventbus.NewTopic[ScheduleChanged](KindScheduleChanged, logger),
		APIState:        eventbus.NewTopic[ConnStateChanged](KindAPIState, logger),
		DBState:         eventbus.NewTopic[ConnStateChanged](KindDBState, logger),
		now:             time.Now,
	}
}

// Logf publishes a global log entry.
func (b *Bus) Logf(level LogLevel, format string, args ...any) {
	b.GlobalLog.Publish(LogEntry{At: b.now(), Level: level, Message: fmt.Sprintf(format, args...)})
}

// AgentLogf publishes a log entry scoped to agentID.
func (b *Bus) AgentLogf(agentID string, level LogLevel, format string, args ...any) {
	b.AgentLog.Publish(AgentLogEntry{AgentID: agentID, At: b.now(), Level: level, Message: fmt.Sprintf(format, args...)})
}

// PublishStatus publishes agentID's status.
func (b *Bus) PublishStatus(agentID string, status Status) {
	b.StatusChanged.Publish(StatusChanged{AgentID: agentID, Status: status})
}

// PublishScheduleChanged asks observers to refresh agentID's schedule.
func (b *Bus) PublishScheduleChanged(agentID string) {
	b.ScheduleChanged.Publish(ScheduleChanged{AgentID: agentID})
}

// PublishAPIState publishes agentID's api connection health.
func (b *Bus) PublishAPIState(agentID string, status runtimestate.ConnStatus, code errmap.Code, message string) {
	b.APIState.Publish(ConnStateChanged{AgentID: agentID, Status: status, Code: code, Message: message})
}

// PublishDBState publishes agentID's db connection health.
func (b *Bus) PublishDBState(agentID string, status runtimestate.ConnStatus, code errmap.Code, message string) {
	b.DBState.Publish(ConnStateChanged{AgentID: agentID, Status: status, Code: code, Message: message})
}

// PublishAPIError publishes an api error for agentID with its classified detail.
func (b *Bus) PublishAPIError(agentID string, d errmap.Detail) {
	b.APIState.Publish(ConnStateChanged{AgentID: agentID, Status: runtimestate.ConnError, Code: d.Code, Kind: d.Kind, Message: d.Message})
}

// PublishDBError publishes a db error for agentID with its classified detail.
func (b *Bus) PublishDBError(agentID string, d errmap.Detail) {
	b.DBState.Publish(ConnStateChanged{AgentID: agentID, Status: runtimestate.ConnError, Code: d.Code, Kind: d.Kind, Message: d.Message})
}
