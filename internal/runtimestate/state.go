// ABOUTME: Per-agent runtime state blocks: api, db, tick, progress and last error
// ABOUTME: Every block has a non-empty default so observers never see missing data

package runtimestate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/2389/partner-poller/internal/errmap"
)

// ConnStatus is the health of a connection to an external system.
type ConnStatus int

const (
	ConnUnknown ConnStatus = iota
	ConnOK
	ConnError
)

// String returns the lower-case name of the status.
func (c ConnStatus) String() string {
	switch c {
	case ConnOK:
		return "ok"
	case ConnError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseConnStatus parses case-insensitively; anything unrecognized is ConnUnknown.
func ParseConnStatus(s string) ConnStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ok":
		return ConnOK
	case "error":
		return ConnError
	default:
		return ConnUnknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c ConnStatus) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ConnStatus) UnmarshalText(text []byte) error {
	*c = ParseConnStatus(string(text))
	return nil
}

const (
	textUnknown   = "state: unknown"
	textConnected = "state: connected"

	// ResultNone is the tick result before any tick has run.
	ResultNone = "none"
)

// ErrorInfo is the last failure recorded for a connection.
type ErrorInfo struct {
	Code    errmap.Code `json:"code"`
	Kind    string      `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`
}

// APIState mirrors the partner API connection.
type APIState struct {
	BaseURL          string     `json:"baseUrl,omitempty"`
	Status           ConnStatus `json:"status"`
	Text             string     `json:"text"`
	LastSuccessAtUTC time.Time  `json:"lastSuccessAtUtc,omitzero"`
	LastErrorAtUTC   time.Time  `json:"lastErrorAtUtc,omitzero"`
	LastError        ErrorInfo  `json:"lastError"`
}

// MarkOK records a successful exchange with the API.
func (a *APIState) MarkOK(at time.Time) {
	a.Status = ConnOK
	a.Text = textConnected
	a.LastSuccessAtUTC = at.UTC()
	a.LastError = ErrorInfo{}
}

// MarkError records a failed exchange with the API.
func (a *APIState) MarkError(at time.Time, d errmap.Detail) {
	a.Status = ConnError
	a.Text = errorText(d.Code)
	a.LastErrorAtUTC = at.UTC()
	a.LastError = ErrorInfo{Code: d.Code, Kind: d.Kind, Message: d.Message}
}

// Reset returns the block to unknown without forgetting timestamps.
func (a *APIState) Reset() {
	a.Status = ConnUnknown
	a.Text = textUnknown
}

// DBState mirrors the database connection of an agent.
type DBState struct {
	ProfileKey       string     `json:"profileKey,omitempty"`
	ConnectionName   string     `json:"connectionName,omitempty"`
	DBName           string     `json:"dbName,omitempty"`
	Status           ConnStatus `json:"status"`
	Text             string     `json:"text"`
	LastSuccessAtUTC time.Time  `json:"lastSuccessAtUtc,omitzero"`
	LastErrorAtUTC   time.Time  `json:"lastErrorAtUtc,omitzero"`
	LastError        ErrorInfo  `json:"lastError"`
}

// MarkOK records a successful health check against the named database.
func (d *DBState) MarkOK(at time.Time, dbName string) {
	d.DBName = dbName
	d.Status = ConnOK
	d.Text = textConnected
	d.LastSuccessAtUTC = at.UTC()
	d.LastErrorAtUTC = time.Time{}
	d.LastError = ErrorInfo{}
}

// MarkError records a failed health check.
func (d *DBState) MarkError(at time.Time, detail errmap.Detail) {
	d.DBName = ""
	d.Status = ConnError
	d.Text = errorText(detail.Code)
	d.LastErrorAtUTC = at.UTC()
	d.LastError = ErrorInfo{Code: detail.Code, Kind: detail.Kind, Message: detail.Message}
}

// TickState describes the most recent tick.
type TickState struct {
	LastStartedAt  time.Time `json:"lastStartedAt,omitzero"`
	LastFinishedAt time.Time `json:"lastFinishedAt,omitzero"`
	DurationMs     int64     `json:"durationMs"`
	LastResult     string    `json:"lastResult"`
}

// ProgressState is cumulative pagination progress.
type ProgressState struct {
	Iterations    int64 `json:"iterations"`
	LastPage      int   `json:"lastPage,omitempty"`
	TotalPages    int   `json:"totalPages,omitempty"`
	LastItemCount int   `json:"lastItemCount"`
}

// AgentState is everything recorded about one agent. It contains only value
// fields, so a copy is a snapshot.
type AgentState struct {
	API              APIState      `json:"api"`
	DB               DBState       `json:"db"`
	Tick             TickState     `json:"tick"`
	Progress         ProgressState `json:"progress"`
	LastErrorAt      time.Time     `json:"lastErrorAt,omitzero"`
	LastErrorMessage string        `json:"lastErrorMessage,omitempty"`
}

// NewAgentState returns the default record for an agent never seen before.
func NewAgentState() AgentState {
	return AgentState{
		API:  APIState{Status: ConnUnknown, Text: textUnknown},
		DB:   DBState{Status: ConnUnknown, Text: textUnknown},
		Tick: TickState{LastResult: ResultNone},
	}
}

// RecordError sets the cross-cutting last-error fields.
func (s *AgentState) RecordError(at time.Time, message string) {
	s.LastErrorAt = at.UTC()
	s.LastErrorMessage = message
}

// UnmarshalJSON decodes on top of the defaults so that blocks missing from
// older documents still come back populated.
func (s *AgentState) UnmarshalJSON(data []byte) error {
	type plain AgentState
	v := plain(NewAgentState())
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.API.Text == "" {
		v.API.Text = textUnknown
	}
	if v.DB.Text == "" {
		v.DB.Text = textUnknown
	}
	if v.Tick.LastResult == "" {
		v.Tick.LastResult = ResultNone
	}
	*s = AgentState(v)
	return nil
}

func errorText(code errmap.Code) string {
	if code == errmap.None {
		return "error"
	}
	return fmt.Sprintf("error: %s", code)
}
