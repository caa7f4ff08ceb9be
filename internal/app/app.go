// ABOUTME: Composition root wiring config, runtime state, agents, scheduler and observers
// ABOUTME: Run supervises the observer API and performs the ordered shutdown

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/partner-poller/internal/agent"
	"github.com/2389/partner-poller/internal/agents/paged"
	"github.com/2389/partner-poller/internal/api"
	"github.com/2389/partner-poller/internal/config"
	"github.com/2389/partner-poller/internal/dbhealth"
	"github.com/2389/partner-poller/internal/errmap"
	"github.com/2389/partner-poller/internal/eventbus"
	"github.com/2389/partner-poller/internal/httpclient"
	"github.com/2389/partner-poller/internal/observer"
	"github.com/2389/partner-poller/internal/runtimestate"
	"github.com/2389/partner-poller/internal/scheduler"
	"github.com/2389/partner-poller/internal/telemetry"
)

// shutdownTimeout bounds the whole shutdown sequence.
const shutdownTimeout = 15 * time.Second

// App is a fully wired poller process.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *runtimestate.Store
	bus       *agent.Bus
	manager   *agent.Manager
	scheduler *scheduler.Scheduler
	services  *httpclient.Provider
	databases *dbhealth.Factory
	api       *api.Server
	subs      eventbus.Subscriptions

	flushTelemetry telemetry.Shutdown
}

// New builds every component from cfg. Agents are registered and enabled
// ones activated, but nothing is scheduled until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger.With("component", "app")}
	defer func() {
		if err != nil {
			a.release(context.Background())
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a.flushTelemetry, err = telemetry.Init(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, version, cfg.Telemetry.Insecure)
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewTickMetrics(telemetry.Meter())
	if err != nil {
		return nil, err
	}

	a.store = runtimestate.NewStore(cfg.RuntimeState.Path, logger)
	if err := a.store.Reload(); err != nil {
		a.logger.Warn("starting with empty runtime state", "error", err)
	}

	a.bus = agent.NewBus(logger)
	a.manager = agent.NewManager(a.bus, logger,
		agent.WithMetrics(metrics),
		agent.WithTracer(telemetry.Tracer()),
	)
	a.subs = observer.AttachLogSink(a.bus, logger)
	known := func(id string) bool {
		_, ok := a.manager.Agent(id)
		return ok
	}
	a.subs = append(a.subs, observer.NewRecorder(a.store, known, logger).Attach(a.bus)...)

	a.services = httpclient.NewProvider(cfg, nil)
	a.databases, err = dbhealth.NewFactory(cfg.Databases, logger)
	if err != nil {
		return nil, fmt.Errorf("creating database factory: %w", err)
	}
	a.scheduler = scheduler.New(a.manager, logger, scheduler.WithLocation(loc))

	checker := dbhealth.NewChecker(a.databases)
	for _, id := range cfg.AgentIDs() {
		if err := a.addAgent(id, cfg.Agents[id], checker); err != nil {
			return nil, err
		}
	}

	if cfg.Observer.HTTPAddr != "" {
		a.api, err = api.New(api.Params{
			Addr:     cfg.Observer.HTTPAddr,
			Manager:  a.manager,
			Schedule: a.scheduler,
			Store:    a.store,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) addAgent(id string, ac config.AgentConfig, checker *dbhealth.Checker) error {
	var ag agent.Agent
	switch ac.Type {
	case config.AgentTypePaged:
		svc, err := a.services.Service(ac.Service)
		if err != nil {
			return fmt.Errorf("agent %s: %w", id, err)
		}
		p := paged.Params{
			ID:          id,
			DisplayName: ac.DisplayName,
			Fetcher:     paged.NewClient(svc),
			DBProfile:   ac.DBProfile,
			Paging:      ac.Paging,
			Store:       a.store,
			Logger:      a.logger,
		}
		if ac.DBProfile != "" {
			p.Health = checker
		}
		pa, err := paged.New(p)
		if err != nil {
			return err
		}
		ag = pa
	default:
		return fmt.Errorf("agent %s: %w: unsupported type %q", id, errmap.ErrMisconfigured, ac.Type)
	}

	if err := a.manager.Register(ag); err != nil {
		return err
	}
	if err := a.scheduler.Register(id, ac.Schedule); err != nil {
		return fmt.Errorf("agent %s: %w", id, err)
	}
	if ac.IsEnabled() {
		return a.manager.Activate(id)
	}
	return nil
}

// Manager exposes the agent manager.
func (a *App) Manager() *agent.Manager { return a.manager }

// Store exposes the runtime state store.
func (a *App) Store() *runtimestate.Store { return a.store }

// Run starts the scheduler and the observer API and blocks until ctx is done
// or the API fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start()
	ids := a.manager.IDs()
	for _, id := range ids {
		a.bus.PublishScheduleChanged(id)
	}
	a.bus.Logf(agent.LevelInfo, "Poller started with %d agents", len(ids))
	a.logger.Info("poller started", "agents", len(ids))

	g, gctx := errgroup.WithContext(ctx)
	if a.api != nil {
		g.Go(func() error {
			return a.api.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	runErr := g.Wait()

	// The parent context is already canceled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.shutdown(shutdownCtx))
}

// shutdown runs after the API has stopped accepting requests.
func (a *App) shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	var errs []error
	if err := a.scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	a.manager.StopAll()
	if a.api != nil {
		if err := a.api.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.store.Save(); err != nil {
		errs = append(errs, fmt.Errorf("saving runtime state: %w", err))
	}
	if err := a.release(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// release closes subscriptions, database handles and HTTP clients, and
// flushes telemetry. It tolerates a partially built App.
func (a *App) release(ctx context.Context) error {
	var errs []error
	a.subs.Close()
	if a.databases != nil {
		if err := a.databases.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing databases: %w", err))
		}
	}
	if a.services != nil {
		a.services.Close()
	}
	if a.flushTelemetry != nil {
		if err := a.flushTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}
