// ABOUTME: Registry of agents with single-flight tick execution, cancellation and lifecycle events
// ABOUTME: Manual and scheduled runs share one gate; unhandled tick failures demote the agent to stopped

package agent

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/2389/partner-poller/internal/errmap"
	"github.com/2389/partner-poller/internal/runtimestate"
	"github.com/2389/partner-poller/internal/telemetry"
)

// ErrAgentAlreadyRegistered indicates an agent with the same ID is already registered.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// ErrAgentNotFound indicates the specified agent was not found.
var ErrAgentNotFound = errors.New("agent not found")

// ErrInvalidAgent indicates a nil agent or one with an empty ID.
var ErrInvalidAgent = errors.New("invalid agent")

// Outcome is the result of a tick request.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeCanceled
	OutcomeFailed
	OutcomeSkipped
	OutcomeBusy
	OutcomeUnknownAgent
)

// String returns the lower-case name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeBusy:
		return "busy"
	default:
		return "unknown_agent"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Info is a point-in-time view of a registered agent.
type Info struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Status      Status `json:"status"`
	Running     bool   `json:"running"`
}

// entry pairs an agent with its execution flag and in-flight cancel handle.
type entry struct {
	agent   Agent
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (e *entry) setCancel(cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel = cancel
}

// cancelInFlight signals the running tick, if any.
func (e *entry) cancelInFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// Manager owns the agent registry and runs ticks.
type Manager struct {
	agents map[string]*entry
	mu     sync.RWMutex

	bus     *Bus
	logger  *slog.Logger
	metrics *telemetry.TickMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records tick outcomes on m.
func WithMetrics(m *telemetry.TickMetrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithTracer wraps each tick in a span from t.
func WithTracer(t trace.Tracer) Option {
	return func(mgr *Manager) { mgr.tracer = t }
}

// WithClock overrides the time source used for TickContext.StartedAt.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// NewManager creates a Manager publishing on bus.
func NewManager(bus *Bus, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		agents: make(map[string]*entry),
		bus:    bus,
		logger: logger.With("component", "agent_manager"),
		tracer: noop.NewTracerProvider().Tracer(telemetry.ScopeName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bus returns the bus the manager publishes on.
func (m *Manager) Bus() *Bus { return m.bus }

// Register adds an agent and publishes its initial status.
// Returns ErrAgentAlreadyRegistered if an agent with the same ID exists.
func (m *Manager) Register(a Agent) error {
	if a == nil || strings.TrimSpace(a.ID()) == "" {
		return ErrInvalidAgent
	}
	id := normalizeID(a.ID())

	m.mu.Lock()
	if _, exists := m.agents[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentAlreadyRegistered, id)
	}
	m.agents[id] = &entry{agent: a}
	total := len(m.agents)
	m.mu.Unlock()

	m.logger.Info("agent registered",
		"agent_id", id,
		"name", a.DisplayName(),
		"status", a.Status().String(),
		"total_agents", total,
	)
	m.bus.Logf(LevelInfo, "Agent %s registered (%s)", a.DisplayName(), a.Status())
	m.bus.PublishStatus(id, a.Status())
	return nil
}

// Agent returns the agent registered under id.
func (m *Manager) Agent(id string) (Agent, bool) {
	e, ok := m.lookup(id)
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// IsRunning reports whether a tick is in flight for id.
func (m *Manager) IsRunning(id string) bool {
	e, ok := m.lookup(id)
	return ok && e.running.Load()
}

// Agents returns all registered agents ordered by display name.
func (m *Manager) Agents() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.agents))
	for id, e := range m.agents {
		infos = append(infos, Info{
			ID:          id,
			DisplayName: e.agent.DisplayName(),
			Status:      e.agent.Status(),
			Running:     e.running.Load(),
		})
	}
	m.mu.RUnlock()

	slices.SortFunc(infos, func(a, b Info) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return infos
}

// IDs returns the registered agent ids in display order.
func (m *Manager) IDs() []string {
	infos := m.Agents()
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.ID
	}
	return ids
}

// StartNow runs a manual tick. A paused agent is resumed first; a stopped
// agent is skipped. ctx bounds the tick alongside Stop.
func (m *Manager) StartNow(ctx context.Context, id string) Outcome {
	return m.runTick(ctx, id, SourceManual)
}

// RunScheduled runs a tick on behalf of the scheduler. It never changes the
// agent's status; ticks for paused or stopped agents are skipped.
func (m *Manager) RunScheduled(ctx context.Context, id string) Outcome {
	return m.runTick(ctx, id, SourceScheduled)
}

func (m *Manager) runTick(parent context.Context, id, source string) Outcome {
	id = normalizeID(id)
	e, ok := m.lookup(id)
	if !ok {
		m.logger.Warn("tick requested for unknown agent", "agent_id", id, "source", source)
		m.bus.Logf(LevelWarning, "Tick requested for unknown agent %q [%s]", id, source)
		m.bus.PublishScheduleChanged(id)
		m.metrics.Rejected(parent, id, source, OutcomeUnknownAgent.String())
		return OutcomeUnknownAgent
	}
	a := e.agent

	if !e.running.CompareAndSwap(false, true) {
		m.logger.Warn("tick already running, request dropped", "agent_id", id, "source", source)
		m.bus.Logf(LevelWarning, "%s: tick already running, %s request dropped", a.DisplayName(), source)
		m.bus.AgentLogf(id, LevelWarning, "Tick already running, %s request dropped", source)
		m.metrics.Rejected(parent, id, source, OutcomeBusy.String())
		return OutcomeBusy
	}
	defer e.running.Store(false)

	// The cancel handle is visible to Stop before the status gate, so a Stop
	// racing the gate always reaches this tick.
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	e.setCancel(cancel)
	defer func() {
		e.setCancel(nil)
		cancel()
	}()

	if a.Status() == StatusPaused && source == SourceManual {
		a.Resume()
		m.bus.PublishStatus(id, a.Status())
		m.bus.PublishScheduleChanged(id)
		m.bus.AgentLogf(id, LevelInfo, "Resumed by manual start")
	}

	if status := a.Status(); status != StatusActive {
		m.logger.Debug("tick skipped", "agent_id", id, "source", source, "status", status.String())
		m.bus.AgentLogf(id, LevelInfo, "Tick skipped [%s]: agent is %s", source, status)
		m.bus.PublishScheduleChanged(id)
		m.metrics.Rejected(parent, id, source, status.String())
		return OutcomeSkipped
	}

	tc := TickContext{
		Bus:           m.bus,
		StartedAt:     m.now().UTC(),
		CorrelationID: uuid.NewString(),
		Source:        source,
	}

	ctx, span := m.tracer.Start(ctx, "agent.tick", trace.WithAttributes(
		attribute.String("agent.id", id),
		attribute.String("tick.source", source),
		attribute.String("tick.correlation_id", tc.CorrelationID),
	))
	defer span.End()

	log := m.logger.With("agent_id", id, "source", source, "correlation_id", tc.CorrelationID)
	log.Info("tick started")
	m.bus.Logf(LevelInfo, "%s: tick started [%s]", a.DisplayName(), source)
	m.bus.AgentLogf(id, LevelInfo, "Tick started [%s] (%s)", source, tc.CorrelationID)
	m.bus.PublishStatus(id, a.Status())

	m.metrics.Started(ctx, id)
	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = invoke(ctx, a, tc)
	}
	elapsed := time.Since(start)

	outcome := m.finish(ctx, log, a, id, source, err, elapsed)
	if outcome == OutcomeFailed {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("tick.outcome", outcome.String()))
	m.metrics.Finished(context.WithoutCancel(ctx), id, source, outcome.String(), elapsed)
	return outcome
}

func (m *Manager) finish(ctx context.Context, log *slog.Logger, a Agent, id, source string, err error, elapsed time.Duration) Outcome {
	switch {
	case err == nil:
		log.Info("tick finished", "duration_ms", elapsed.Milliseconds())
		m.bus.Logf(LevelInfo, "%s: tick finished in %d ms", a.DisplayName(), elapsed.Milliseconds())
		m.bus.AgentLogf(id, LevelInfo, "Tick finished in %d ms", elapsed.Milliseconds())
		m.bus.PublishScheduleChanged(id)
		return OutcomeCompleted

	case isCancellation(ctx, err):
		log.Warn("tick canceled", "duration_ms", elapsed.Milliseconds())
		m.bus.Logf(LevelWarning, "%s: tick canceled [%s]", a.DisplayName(), source)
		m.bus.AgentLogf(id, LevelWarning, "Tick canceled")
		m.bus.PublishScheduleChanged(id)
		return OutcomeCanceled

	default:
		log.Error("tick failed, stopping agent", "error", err, "code", errmap.Classify(err).String())
		m.bus.Logf(LevelError, "%s: tick failed: %v", a.DisplayName(), err)
		m.bus.AgentLogf(id, LevelError, "Tick failed, agent stopped: %v", err)
		if d, ok := a.(Demoter); ok {
			d.Demote()
		} else {
			a.Stop()
		}
		m.bus.PublishAPIState(id, runtimestate.ConnUnknown, errmap.None, "")
		m.bus.PublishStatus(id, a.Status())
		m.bus.PublishScheduleChanged(id)
		return OutcomeFailed
	}
}

// invoke calls Tick, turning a panic into an AgentInternalError.
func invoke(ctx context.Context, a Agent, tc TickContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errmap.Wrap(errmap.AgentInternalError, fmt.Errorf("tick panic: %v", r))
		}
	}()
	return a.Tick(ctx, tc)
}

// isCancellation reports whether err is the tick unwinding after ctx ended.
func isCancellation(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || errmap.Classify(err) == errmap.AgentCanceled {
		return true
	}
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

// Activate moves a stopped agent to active.
func (m *Manager) Activate(id string) error {
	return m.apply(id, "activate", func(e *entry) { e.agent.Activate() })
}

// Pause moves an active agent to paused. An in-flight tick runs to completion.
func (m *Manager) Pause(id string) error {
	return m.apply(id, "pause", func(e *entry) { e.agent.Pause() })
}

// Resume moves a paused agent to active.
func (m *Manager) Resume(id string) error {
	return m.apply(id, "resume", func(e *entry) { e.agent.Resume() })
}

// Stop moves the agent to stopped and cancels its in-flight tick.
func (m *Manager) Stop(id string) error {
	return m.apply(id, "stop", m.stopEntry)
}

func (m *Manager) stopEntry(e *entry) {
	e.agent.Stop()
	if e.cancelInFlight() {
		m.bus.AgentLogf(normalizeID(e.agent.ID()), LevelWarning, "Cancellation requested for running tick")
	}
	m.bus.PublishAPIState(normalizeID(e.agent.ID()), runtimestate.ConnUnknown, errmap.None, "")
}

// PauseAll pauses every agent.
func (m *Manager) PauseAll() {
	m.applyAll("pause", func(e *entry) { e.agent.Pause() })
}

// ResumeAll resumes every paused agent.
func (m *Manager) ResumeAll() {
	m.applyAll("resume", func(e *entry) { e.agent.Resume() })
}

// StopAll stops every agent and cancels all in-flight ticks.
func (m *Manager) StopAll() {
	m.applyAll("stop", m.stopEntry)
}

func (m *Manager) apply(id, action string, fn func(*entry)) error {
	id = normalizeID(id)
	e, ok := m.lookup(id)
	if !ok {
		m.logger.Warn("lifecycle request for unknown agent", "agent_id", id, "action", action)
		m.bus.Logf(LevelWarning, "Cannot %s unknown agent %q", action, id)
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	m.transition(id, e, action, fn)
	return nil
}

func (m *Manager) applyAll(action string, fn func(*entry)) {
	m.mu.RLock()
	snapshot := make(map[string]*entry, len(m.agents))
	for id, e := range m.agents {
		snapshot[id] = e
	}
	m.mu.RUnlock()

	for id, e := range snapshot {
		m.transition(id, e, action, fn)
	}
	m.bus.Logf(LevelInfo, "%s applied to %d agents", action, len(snapshot))
}

func (m *Manager) transition(id string, e *entry, action string, fn func(*entry)) {
	before := e.agent.Status()
	fn(e)
	after := e.agent.Status()

	m.logger.Info("agent lifecycle", "agent_id", id, "action", action,
		"from", before.String(), "to", after.String())
	m.bus.AgentLogf(id, LevelInfo, "%s: %s -> %s", action, before, after)
	m.bus.PublishStatus(id, after)
	m.bus.PublishScheduleChanged(id)
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.agents[normalizeID(id)]
	return e, ok
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
