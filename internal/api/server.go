// ABOUTME: Observer HTTP server exposing agent control, runtime state and event streams
// ABOUTME: Owns the listener lifecycle and the background manual ticks it starts

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/2389/partner-poller/internal/agent"
	"github.com/2389/partner-poller/internal/eventbus"
	"github.com/2389/partner-poller/internal/runtimestate"
)

// ScheduleInfo answers next-run questions. *scheduler.Scheduler implements it.
type ScheduleInfo interface {
	NextRun(id string) (time.Time, bool)
	Describe(id string) string
}

// Params configures a Server.
type Params struct {
	Addr     string
	Manager  *agent.Manager
	Schedule ScheduleInfo
	Store    *runtimestate.Store
	Logger   *slog.Logger
}

// Server is the observer HTTP API.
type Server struct {
	manager  *agent.Manager
	schedule ScheduleInfo
	store    *runtimestate.Store
	stream   *Broadcaster
	subs     eventbus.Subscriptions
	upgrader websocket.Upgrader
	logger   *slog.Logger

	httpServer *http.Server
	runs       sync.WaitGroup
	closeOnce  sync.Once
}

// New creates the server and attaches its broadcaster to the manager's bus.
func New(p Params) (*Server, error) {
	if p.Manager == nil || p.Schedule == nil || p.Store == nil {
		return nil, errors.New("api: manager, schedule and store are required")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}

	s := &Server{
		manager:  p.Manager,
		schedule: p.Schedule,
		store:    p.Store,
		stream:   NewBroadcaster(p.Logger),
		logger:   p.Logger.With("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.subs = s.stream.Attach(p.Manager.Bus())

	mux := http.NewServeMux()
	s.routes(mux)
	s.httpServer = &http.Server{
		Addr:              p.Addr,
		Handler:           otelhttp.NewHandler(mux, "observer-api"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.closeStreams()
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("observer API listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.closeStreams()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving observer API: %w", err)
	case <-ctx.Done():
	}

	// The parent context is already canceled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown ends all event streams and stops accepting requests. Manual ticks
// started through the API keep running; see Wait.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down observer API")
	s.closeStreams()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("observer API shutdown: %w", err)
	}
	return nil
}

func (s *Server) closeStreams() {
	s.closeOnce.Do(func() {
		s.subs.Close()
		s.stream.Close()
	})
}

// Wait blocks until manual ticks started through the API have returned or
// ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for manual ticks: %w", ctx.Err())
	}
}
