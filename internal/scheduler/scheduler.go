// ABOUTME: Cron-backed scheduler that fires RunScheduled for each registered agent
// ABOUTME: Answers next-run and description queries; interval triggers also fire on start

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/2389/partner-poller/internal/agent"
)

// Runner executes scheduled ticks. *agent.Manager implements it.
type Runner interface {
	RunScheduled(ctx context.Context, id string) agent.Outcome
}

type job struct {
	entryID cron.EntryID
	trigger trigger
	run     func()
}

// Scheduler owns one cron trigger per agent.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time

	immediate sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation evaluates daily triggers in loc instead of time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// New creates a scheduler that invokes runner.
func New(runner Runner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner: runner,
		logger: logger,
		loc:    time.Local,
		now:    time.Now,
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{logger: logger}
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	return s
}

// Register installs a trigger for id. Registering an id twice is a no-op.
// Interval triggers fire immediately when the scheduler is running; daily
// triggers wait for their first wall-clock match.
func (s *Scheduler) Register(id string, spec Spec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}
	t, err := spec.resolve()
	if err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return nil
	}

	j := &job{trigger: t}
	j.entryID = s.cron.Schedule(t.schedule, cron.FuncJob(func() { s.fire(id) }))
	j.run = s.cron.Entry(j.entryID).WrappedJob.Run
	s.jobs[id] = j

	s.logger.Info("agent scheduled", "agent_id", id, "schedule", t.describe())
	if s.started && t.interval > 0 {
		s.immediate.Go(j.run)
	}
	return nil
}

// Unregister removes id's trigger.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		s.cron.Remove(j.entryID)
		delete(s.jobs, id)
	}
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	outcome := s.runner.RunScheduled(ctx, id)
	s.logger.Debug("scheduled tick done", "agent_id", id, "outcome", outcome.String())
}

// Start begins firing triggers and runs every interval trigger once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()

	for _, j := range s.jobs {
		if j.trigger.interval > 0 {
			s.immediate.Go(j.run)
		}
	}
	s.logger.Info("scheduler started", "agents", len(s.jobs))
}

// Stop halts the triggers, cancels running scheduled ticks and waits for
// them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	cronDone := s.cron.Stop()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.immediate.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// NextRun returns the next fire time for id.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}

	if e := s.cron.Entry(j.entryID); e.Valid() && !e.Next.IsZero() {
		return e.Next, true
	}
	return j.trigger.schedule.Next(s.now().In(s.loc)), true
}

// Describe returns the human-readable recurrence for id, or "" if id is not
// scheduled.
func (s *Scheduler) Describe(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j.trigger.describe()
	}
	return ""
}

// Describe returns the human-readable recurrence of spec.
func Describe(spec Spec) (string, error) {
	t, err := spec.resolve()
	if err != nil {
		return "", err
	}
	return t.describe(), nil
}

// cronLogger adapts slog to cron.Logger. Cron's routine chatter goes to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
