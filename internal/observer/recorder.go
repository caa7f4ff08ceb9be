// ABOUTME: Writes bus events into the runtime state store
// ABOUTME: Error-level agent logs set lastError; api state events update the api block

package observer

import (
	"log/slog"
	"time"

	"github.com/2389/partner-poller/internal/agent"
	"github.com/2389/partner-poller/internal/eventbus"
	"github.com/2389/partner-poller/internal/runtimestate"
)

// Recorder persists observer-facing facts so they survive restarts.
type Recorder struct {
	store  *runtimestate.Store
	known  func(id string) bool
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder. known filters agent ids; events for ids it
// rejects are ignored. A nil known accepts every id.
func NewRecorder(store *runtimestate.Store, known func(id string) bool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if known == nil {
		known = func(string) bool { return true }
	}
	return &Recorder{
		store:  store,
		known:  known,
		logger: logger.With("component", "recorder"),
		now:    time.Now,
	}
}

// Attach subscribes the recorder to bus.
func (r *Recorder) Attach(bus *agent.Bus) eventbus.Subscriptions {
	return eventbus.Subscriptions{
		bus.AgentLog.Subscribe(r.onAgentLog),
		bus.APIState.Subscribe(r.onAPIState),
	}
}

func (r *Recorder) onAgentLog(e agent.AgentLogEntry) {
	if e.Level != agent.LevelError || !r.known(e.AgentID) {
		return
	}
	at := e.At
	if at.IsZero() {
		at = r.now()
	}
	r.save(e.AgentID, func(s *runtimestate.AgentState) {
		s.RecordError(at, e.Message)
	})
}

func (r *Recorder) onAPIState(e agent.ConnStateChanged) {
	if !r.known(e.AgentID) {
		return
	}
	at := r.now()
	r.save(e.AgentID, func(s *runtimestate.AgentState) {
		switch e.Status {
		case runtimestate.ConnOK:
			s.API.MarkOK(at)
		case runtimestate.ConnError:
			s.API.MarkError(at, e.Detail())
		default:
			s.API.Reset()
		}
	})
}

func (r *Recorder) save(id string, mutate func(*runtimestate.AgentState)) {
	if err := r.store.UpdateAndSave(id, mutate); err != nil {
		r.logger.Warn("saving runtime state", "agent_id", id, "error", err)
	}
}
