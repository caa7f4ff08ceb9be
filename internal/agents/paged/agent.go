// ABOUTME: Paged polling agent: DB health check, then up to max_pages_per_tick pages per tick
// ABOUTME: Handles API failures itself; only cancellation is returned to the manager

package paged

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/partner-poller/internal/agent"
	"github.com/2389/partner-poller/internal/config"
	"github.com/2389/partner-poller/internal/dbhealth"
	"github.com/2389/partner-poller/internal/errmap"
	"github.com/2389/partner-poller/internal/runtimestate"
)

// Tick results recorded in runtime state.
const (
	ResultRunning  = "running"
	ResultOK       = "ok"
	ResultError    = "error"
	ResultCanceled = "canceled"
	ResultDone     = "done"
	ResultSkipped  = "skipped"
)

// Fetcher retrieves one page. *Client implements it.
type Fetcher interface {
	URL() string
	FetchPage(ctx context.Context, page, perPage int) (*PageResponse, []byte, error)
}

// HealthChecker resolves a database profile's name. *dbhealth.Checker implements it.
type HealthChecker interface {
	Profile(key string) (dbhealth.Profile, bool)
	GetDBName(ctx context.Context, key string) (string, error)
}

// Params configures an Agent.
type Params struct {
	ID          string
	DisplayName string
	Fetcher     Fetcher
	// Health may be nil, which skips the database check.
	Health    HealthChecker
	DBProfile string
	Paging    config.PagingConfig
	Store     *runtimestate.Store
	Logger    *slog.Logger
}

// Agent polls a paged partner endpoint.
type Agent struct {
	agent.StateMachine

	id        string
	name      string
	fetcher   Fetcher
	health    HealthChecker
	dbProfile string
	startPage int
	cursor    *Cursor
	store     *runtimestate.Store
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a stopped agent.
func New(p Params) (*Agent, error) {
	switch {
	case p.ID == "":
		return nil, fmt.Errorf("paged agent: %w: empty id", errmap.ErrMisconfigured)
	case p.Fetcher == nil:
		return nil, fmt.Errorf("paged agent %s: %w: no fetcher", p.ID, errmap.ErrMisconfigured)
	case p.Store == nil:
		return nil, fmt.Errorf("paged agent %s: %w: no runtime state store", p.ID, errmap.ErrMisconfigured)
	}

	paging := p.Paging
	if paging.StartPage < 1 {
		paging.StartPage = 1
	}
	if paging.PerPage < 1 {
		paging.PerPage = 10
	}
	if paging.MaxPagesPerTick < 1 {
		paging.MaxPagesPerTick = 1
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := p.DisplayName
	if name == "" {
		name = p.ID
	}

	a := &Agent{
		id:        p.ID,
		name:      name,
		fetcher:   p.Fetcher,
		health:    p.Health,
		dbProfile: p.DBProfile,
		startPage: paging.StartPage,
		cursor:    NewCursor(paging.StartPage, paging.PerPage, paging.MaxPagesPerTick),
		store:     p.Store,
		logger:    logger.With("component", "paged_agent", "agent_id", p.ID),
		now:       time.Now,
	}
	a.store.UpdateAgent(a.id, func(s *runtimestate.AgentState) {
		s.API.BaseURL = a.fetcher.URL()
		if a.dbProfile != "" {
			s.DB.ProfileKey = a.dbProfile
		}
	})
	return a, nil
}

func (a *Agent) ID() string          { return a.id }
func (a *Agent) DisplayName() string { return a.name }

// Cursor returns a copy of the pagination cursor.
func (a *Agent) Cursor() CursorState { return a.cursor.State() }

// Stop moves to stopped and rewinds the cursor to the start page.
func (a *Agent) Stop() {
	a.StateMachine.Stop()
	a.cursor.Reset(a.startPage)
}

// Tick runs one polling cycle. API and database failures are reported on the
// bus and return nil; only cancellation is returned as an error.
func (a *Agent) Tick(ctx context.Context, tc agent.TickContext) error {
	bus := tc.Bus
	if st := a.Status(); st != agent.StatusActive {
		bus.Logf(agent.LevelWarning, "%s: tick skipped (status=%s)", a.name, st)
		bus.AgentLogf(a.id, agent.LevelWarning, "tick skipped (status=%s)", st)
		return nil
	}

	started := tc.StartedAt
	if started.IsZero() {
		started = a.now()
	}
	a.store.UpdateAgent(a.id, func(s *runtimestate.AgentState) {
		s.Tick.LastStartedAt = started.UTC()
		s.Tick.LastResult = ResultRunning
	})

	cur := a.cursor.State()
	bus.Logf(agent.LevelInfo, "%s: tick start (page=%d, per_page=%d)", a.name, cur.CurrentPage, cur.PerPage)
	bus.AgentLogf(a.id, agent.LevelInfo, "tick start (page=%d, per_page=%d)", cur.CurrentPage, cur.PerPage)

	result, err := a.run(ctx, bus)
	a.finish(started, result)
	return err
}

func (a *Agent) run(ctx context.Context, bus *agent.Bus) (string, error) {
	if err := ctx.Err(); err != nil {
		return ResultCanceled, err
	}

	if a.health != nil && a.dbProfile != "" {
		a.checkDB(ctx, bus)
		if err := ctx.Err(); err != nil {
			return ResultCanceled, err
		}
	}

	maxPages := a.cursor.State().MaxPagesPerTick
	for i := range maxPages {
		if a.cursor.Exhausted() {
			st := a.cursor.State()
			bus.AgentLogf(a.id, agent.LevelInfo, "all %d pages processed", st.PageTotal)
			if i == 0 {
				return ResultDone, nil
			}
			break
		}

		if err := a.fetchPage(ctx, bus); err != nil {
			if canceled(ctx, err) {
				return ResultCanceled, err
			}
			return ResultError, nil
		}
	}
	return ResultOK, nil
}

func (a *Agent) fetchPage(ctx context.Context, bus *agent.Bus) error {
	cur := a.cursor.State()
	page := cur.CurrentPage

	resp, raw, err := a.fetcher.FetchPage(ctx, page, cur.PerPage)
	a.store.UpdateAgent(a.id, func(s *runtimestate.AgentState) { s.Progress.Iterations++ })

	if err != nil {
		if canceled(ctx, err) {
			return err
		}
		a.reportAPIError(bus, page, errmap.Classify(err), err, raw)
		return err
	}

	if !resp.Success {
		err := businessError(resp)
		a.reportAPIError(bus, page, errmap.APIBusinessFailure, err, raw)
		return err
	}

	a.cursor.UpdatePageTotal(resp.PageTotal)
	items := len(resp.Data)

	bus.PublishAPIState(a.id, runtimestate.ConnOK, errmap.None, "")
	bus.Logf(agent.LevelInfo, "%s: page %d received, items %d", a.name, page, items)
	bus.AgentLogf(a.id, agent.LevelInfo, "page %d: items %d", page, items)
	bus.AgentLogf(a.id, agent.LevelInfo, "%s", prettyJSON(raw))

	a.cursor.MarkPageProcessed(page)
	total := a.cursor.State().PageTotal
	a.store.UpdateAgent(a.id, func(s *runtimestate.AgentState) {
		s.Progress.LastPage = page
		s.Progress.TotalPages = total
		s.Progress.LastItemCount = items
	})
	return nil
}

func (a *Agent) reportAPIError(bus *agent.Bus, page int, code errmap.Code, err error, raw []byte) {
	d := errmap.Describe(code, err)
	msg := fmt.Sprintf("%s: tick error on page %d. %s: %v", a.name, page, d.Kind, err)
	a.cursor.MarkError(msg)
	a.logger.Warn("page failed", "page", page, "code", code.String(), "error", err)

	bus.PublishAPIError(a.id, d)
	bus.Logf(agent.LevelError, "%s", msg)
	bus.AgentLogf(a.id, agent.LevelError, "page %d failed (%s): %v", page, code, err)
	if len(raw) > 0 && code == errmap.APIBusinessFailure {
		bus.AgentLogf(a.id, agent.LevelInfo, "%s", prettyJSON(raw))
	}
}

func (a *Agent) checkDB(ctx context.Context, bus *agent.Bus) {
	profile, _ := a.health.Profile(a.dbProfile)
	connName := profile.ConnectionName
	if connName == "" {
		connName = a.dbProfile
	}

	name, err := a.health.GetDBName(ctx, a.dbProfile)
	at := a.now()

	if err != nil {
		if canceled(ctx, err) {
			return
		}
		code := errmap.ClassifyDB(err)
		if errors.Is(err, dbhealth.ErrUnknownProfile) {
			code = errmap.AgentMisconfigured
		}
		d := errmap.Describe(code, err)
		a.store.UpdateAgent(a.id, func(s *runtimestate.AgentState) {
			s.DB.ProfileKey = a.dbProfile
			s.DB.ConnectionName = connName
			s.DB.MarkError(at, d)
		})
		bus.PublishDBError(a.id, d)
		bus.AgentLogf(a.id, agent.LevelError, "db error (%s): %v", code, err)
		return
	}

	a.store.UpdateAgent(a.id, func(s *runtimestate.AgentState) {
		s.DB.ProfileKey = a.dbProfile
		s.DB.ConnectionName = connName
		s.DB.MarkOK(at, name)
	})
	bus.PublishDBState(a.id, runtimestate.ConnOK, errmap.None, "")
	bus.AgentLogf(a.id, agent.LevelInfo, "db ok: %s | %s", a.dbProfile, name)
}

func (a *Agent) finish(started time.Time, result string) {
	finished := a.now()
	err := a.store.UpdateAndSave(a.id, func(s *runtimestate.AgentState) {
		s.Tick.LastFinishedAt = finished.UTC()
		s.Tick.DurationMs = finished.Sub(started).Milliseconds()
		s.Tick.LastResult = result
	})
	if err != nil {
		a.logger.Warn("saving runtime state", "error", err)
	}
}

// canceled reports whether err is the tick unwinding because ctx ended.
func canceled(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
