// ABOUTME: The Agent contract every integration implements and the per-tick context
// ABOUTME: StateMachine provides the thread-safe status half of the contract

package agent

import (
	"context"
	"sync"
	"time"
)

// Agent is one integration polled by the Manager.
type Agent interface {
	// ID is a stable lowercase token, unique per process.
	ID() string
	DisplayName() string
	Status() Status

	// Activate moves a stopped agent to active.
	Activate()
	// Pause moves an active agent to paused.
	Pause()
	// Resume moves a paused agent to active.
	Resume()
	// Stop moves the agent to stopped from any state and resets any
	// agent-local progress cursor to its configured start.
	Stop()

	// Tick performs one unit of work. ctx is cancelled when the tick must
	// unwind; returning an error that wraps context.Canceled reports a clean
	// cancellation. Any other error is an unhandled failure.
	Tick(ctx context.Context, tc TickContext) error
}

// Demoter is implemented by agents that can be forced to stopped without the
// side effects of Stop. The Manager prefers it when demoting a failed agent.
type Demoter interface {
	Demote()
}

// Tick sources.
const (
	SourceManual    = "manual"
	SourceScheduled = "scheduled"
)

// TickContext is the immutable per-tick information handed to Agent.Tick.
// The cancellation signal travels separately as the ctx argument.
type TickContext struct {
	Bus           *Bus
	StartedAt     time.Time
	CorrelationID string
	Source        string
}

// StateMachine implements Status, Activate, Pause, Resume, Stop and Demote.
// Transitions that do not apply to the current state are no-ops. The zero
// value is stopped.
type StateMachine struct {
	mu     sync.RWMutex
	status Status
}

// Status returns the current status.
func (m *StateMachine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Activate moves stopped to active.
func (m *StateMachine) Activate() {
	m.transition(StatusStopped, StatusActive)
}

// Pause moves active to paused.
func (m *StateMachine) Pause() {
	m.transition(StatusActive, StatusPaused)
}

// Resume moves paused to active.
func (m *StateMachine) Resume() {
	m.transition(StatusPaused, StatusActive)
}

// Stop moves any state to stopped. Agents with a progress cursor override
// Stop to reset it as well.
func (m *StateMachine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = StatusStopped
}

// Demote moves any state to stopped and nothing else.
func (m *StateMachine) Demote() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = StatusStopped
}

func (m *StateMachine) transition(from, to Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != from {
		return false
	}
	m.status = to
	return true
}
