// ABOUTME: Tests for the paged agent against httptest servers and a temp SQLite profile
// ABOUTME: Covers cursor movement, error classification, cancellation and manager integration

package paged

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/partner-poller/internal/agent"
	"github.com/2389/partner-poller/internal/config"
	"github.com/2389/partner-poller/internal/dbhealth"
	"github.com/2389/partner-poller/internal/errmap"
	"github.com/2389/partner-poller/internal/httpclient"
	"github.com/2389/partner-poller/internal/runtimestate"
)

// partnerAPI records requested pages and answers with respond.
type partnerAPI struct {
	mu      sync.Mutex
	pages   []PageRequest
	respond func(w http.ResponseWriter, r *http.Request, req PageRequest)
}

func (p *partnerAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req PageRequest
	_ = json.Unmarshal(body, &req)

	p.mu.Lock()
	p.pages = append(p.pages, req)
	p.mu.Unlock()

	p.respond(w, r, req)
}

func (p *partnerAPI) requested() []PageRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PageRequest(nil), p.pages...)
}

func okPage(pageTotal, items int) func(http.ResponseWriter, *http.Request, PageRequest) {
	return func(w http.ResponseWriter, _ *http.Request, _ PageRequest) {
		data := make([]map[string]string, items)
		for i := range data {
			data[i] = map[string]string{"blank_number": "B"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true, "status": 200, "page_total": pageTotal, "data": data,
		})
	}
}

type harness struct {
	agent *Agent
	api   *partnerAPI
	store *runtimestate.Store
	bus   *agent.Bus

	mu       sync.Mutex
	apiState []agent.ConnStateChanged
	dbState  []agent.ConnStateChanged
	errors   []agent.AgentLogEntry
}

func newHarness(t *testing.T, paging config.PagingConfig, respond func(http.ResponseWriter, *http.Request, PageRequest), health HealthChecker, dbProfile string) *harness {
	t.Helper()
	api := &partnerAPI{respond: respond}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	provider := httpclient.NewProvider(&config.Config{
		Services: map[string]config.ServiceConfig{
			"partner": {BaseURL: srv.URL, Endpoint: "/api/default/certificate"},
		},
	}, nil)
	svc, err := provider.Service("partner")
	require.NoError(t, err)

	store := runtimestate.NewStore(filepath.Join(t.TempDir(), "state.json"), nil)
	a, err := New(Params{
		ID:          "partner",
		DisplayName: "Partner",
		Fetcher:     NewClient(svc),
		Health:      health,
		DBProfile:   dbProfile,
		Paging:      paging,
		Store:       store,
	})
	require.NoError(t, err)
	a.Activate()

	h := &harness{agent: a, api: api, store: store, bus: agent.NewBus(nil)}
	h.bus.APIState.Subscribe(func(e agent.ConnStateChanged) { h.mu.Lock(); h.apiState = append(h.apiState, e); h.mu.Unlock() })
	h.bus.DBState.Subscribe(func(e agent.ConnStateChanged) { h.mu.Lock(); h.dbState = append(h.dbState, e); h.mu.Unlock() })
	h.bus.AgentLog.Subscribe(func(e agent.AgentLogEntry) {
		if e.Level == agent.LevelError {
			h.mu.Lock()
			h.errors = append(h.errors, e)
			h.mu.Unlock()
		}
	})
	return h
}

func (h *harness) tick(ctx context.Context) error {
	return h.agent.Tick(ctx, agent.TickContext{Bus: h.bus, StartedAt: time.Now(), CorrelationID: "test", Source: agent.SourceManual})
}

func (h *harness) lastAPI(t *testing.T) agent.ConnStateChanged {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.apiState)
	return h.apiState[len(h.apiState)-1]
}

func TestAgent_SuccessfulPageAdvancesCursor(t *testing.T) {
	h := newHarness(t, config.PagingConfig{StartPage: 1, PerPage: 25, MaxPagesPerTick: 1}, okPage(3, 2), nil, "")

	require.NoError(t, h.tick(t.Context()))

	assert.Equal(t, []PageRequest{{Page: 1, PerPage: 25}}, h.api.requested())
	cur := h.agent.Cursor()
	assert.Equal(t, 2, cur.CurrentPage)
	assert.Equal(t, 1, cur.LastProcessedPage)
	assert.Equal(t, 3, cur.PageTotal)

	assert.Equal(t, runtimestate.ConnOK, h.lastAPI(t).Status)

	st := h.store.Agent("partner")
	assert.Equal(t, ResultOK, st.Tick.LastResult)
	assert.False(t, st.Tick.LastFinishedAt.IsZero())
	assert.Equal(t, int64(1), st.Progress.Iterations)
	assert.Equal(t, 1, st.Progress.LastPage)
	assert.Equal(t, 3, st.Progress.TotalPages)
	assert.Equal(t, 2, st.Progress.LastItemCount)
	assert.Contains(t, st.API.BaseURL, "/api/default/certificate")

	_, err := os.Stat(h.store.Path())
	assert.NoError(t, err, "tick must persist runtime state")
}

func TestAgent_MaxPagesPerTick(t *testing.T) {
	h := newHarness(t, config.PagingConfig{StartPage: 2, PerPage: 10, MaxPagesPerTick: 3}, okPage(10, 1), nil, "")

	require.NoError(t, h.tick(t.Context()))

	got := h.api.requested()
	require.Len(t, got, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{got[0].Page, got[1].Page, got[2].Page})
	assert.Equal(t, 5, h.agent.Cursor().CurrentPage)
}

func TestAgent_StopsAtLastKnownPage(t *testing.T) {
	h := newHarness(t, config.PagingConfig{StartPage: 1, PerPage: 10, MaxPagesPerTick: 5}, okPage(2, 1), nil, "")

	require.NoError(t, h.tick(t.Context()))
	assert.Len(t, h.api.requested(), 2)

	require.NoError(t, h.tick(t.Context()))
	assert.Len(t, h.api.requested(), 2, "exhausted cursor must not fetch")
	assert.Equal(t, ResultDone, h.store.Agent("partner").Tick.LastResult)
}

func TestAgent_BusinessFailure(t *testing.T) {
	respond := func(w http.ResponseWriter, _ *http.Request, _ PageRequest) {
		_, _ = w.Write([]byte(`{"success":false,"status":403,"msg":"token expired"}`))
	}
	h := newHarness(t, config.PagingConfig{}, respond, nil, "")

	require.NoError(t, h.tick(t.Context()), "handled api failures are not returned")

	ev := h.lastAPI(t)
	assert.Equal(t, runtimestate.ConnError, ev.Status)
	assert.Equal(t, errmap.APIBusinessFailure, ev.Code)
	assert.Contains(t, ev.Message, "token expired")

	assert.Equal(t, 1, h.agent.Cursor().CurrentPage)
	assert.NotEmpty(t, h.agent.Cursor().LastError)
	assert.Equal(t, ResultError, h.store.Agent("partner").Tick.LastResult)
	assert.NotEmpty(t, h.errors)
}

func TestAgent_HTTPErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   errmap.Code
	}{
		{"server error", http.StatusBadGateway, errmap.APIServerError},
		{"unauthorized", http.StatusUnauthorized, errmap.APIUnauthorized},
		{"rate limited", http.StatusTooManyRequests, errmap.APIRateLimited},
		{"not found", http.StatusNotFound, errmap.APIHTTPError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			respond := func(w http.ResponseWriter, _ *http.Request, _ PageRequest) {
				http.Error(w, "nope", tt.status)
			}
			h := newHarness(t, config.PagingConfig{}, respond, nil, "")

			require.NoError(t, h.tick(t.Context()))
			ev := h.lastAPI(t)
			assert.Equal(t, tt.want, ev.Code)
			assert.Equal(t, "HTTPStatusError", ev.Kind)
			assert.Equal(t, 1, h.agent.Cursor().CurrentPage)
		})
	}
}

func TestAgent_MalformedJSON(t *testing.T) {
	respond := func(w http.ResponseWriter, _ *http.Request, _ PageRequest) {
		_, _ = w.Write([]byte(`{"success":`))
	}
	h := newHarness(t, config.PagingConfig{}, respond, nil, "")

	require.NoError(t, h.tick(t.Context()))
	assert.Equal(t, errmap.DataParseError, h.lastAPI(t).Code)
}

func TestAgent_CancellationIsReturned(t *testing.T) {
	entered := make(chan struct{})
	respond := func(_ http.ResponseWriter, r *http.Request, _ PageRequest) {
		close(entered)
		<-r.Context().Done()
	}
	h := newHarness(t, config.PagingConfig{}, respond, nil, "")

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- h.tick(ctx) }()

	<-entered
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("tick did not unwind")
	}

	h.mu.Lock()
	assert.Empty(t, h.apiState)
	assert.Empty(t, h.errors)
	h.mu.Unlock()

	st := h.store.Agent("partner")
	assert.Equal(t, ResultCanceled, st.Tick.LastResult)
	assert.Equal(t, errmap.None, st.API.LastError.Code)
	assert.Equal(t, 1, h.agent.Cursor().CurrentPage)
}

func TestAgent_StopResetsCursorButDemoteDoesNot(t *testing.T) {
	h := newHarness(t, config.PagingConfig{StartPage: 4, PerPage: 10, MaxPagesPerTick: 1}, okPage(10, 1), nil, "")
	require.NoError(t, h.tick(t.Context()))
	require.Equal(t, 5, h.agent.Cursor().CurrentPage)

	h.agent.Demote()
	assert.Equal(t, agent.StatusStopped, h.agent.Status())
	assert.Equal(t, 5, h.agent.Cursor().CurrentPage)

	h.agent.Activate()
	h.agent.Stop()
	assert.Equal(t, agent.StatusStopped, h.agent.Status())
	cur := h.agent.Cursor()
	assert.Equal(t, 4, cur.CurrentPage)
	assert.Zero(t, cur.PageTotal)
	assert.Zero(t, cur.LastProcessedPage)
}

func TestAgent_SkipsWhenNotActive(t *testing.T) {
	h := newHarness(t, config.PagingConfig{}, okPage(1, 1), nil, "")
	h.agent.Pause()

	require.NoError(t, h.tick(t.Context()))
	assert.Empty(t, h.api.requested())
	assert.Equal(t, runtimestate.ResultNone, h.store.Agent("partner").Tick.LastResult)
}

func TestAgent_DBHealthCheckSQLite(t *testing.T) {
	factory, err := dbhealth.NewFactory(config.DatabasesConfig{
		Profiles: map[string]config.DBProfile{
			"local": {Driver: config.DriverSQLite, ConnectionString: filepath.Join(t.TempDir(), "eko.db"), Name: "Eko", Lvl: "test"},
		},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { factory.Close() })

	h := newHarness(t, config.PagingConfig{}, okPage(1, 0), dbhealth.NewChecker(factory), "local")
	require.NoError(t, h.tick(t.Context()))

	db := h.store.Agent("partner").DB
	assert.Equal(t, runtimestate.ConnOK, db.Status)
	assert.Equal(t, "local", db.ProfileKey)
	assert.Equal(t, "Eko (test)", db.ConnectionName)
	assert.Equal(t, "eko.db", db.DBName)

	h.mu.Lock()
	require.Len(t, h.dbState, 1)
	assert.Equal(t, runtimestate.ConnOK, h.dbState[0].Status)
	h.mu.Unlock()
}

type failingHealth struct{ err error }

func (f failingHealth) Profile(key string) (dbhealth.Profile, bool) {
	return dbhealth.Profile{Key: key, ConnectionName: "Broken"}, true
}

func (f failingHealth) GetDBName(context.Context, string) (string, error) { return "", f.err }

func TestAgent_DBHealthCheckFailureStillPolls(t *testing.T) {
	h := newHarness(t, config.PagingConfig{}, okPage(1, 1), failingHealth{err: errors.New("listener refused")}, "broken")

	require.NoError(t, h.tick(t.Context()))

	db := h.store.Agent("partner").DB
	assert.Equal(t, runtimestate.ConnError, db.Status)
	assert.Equal(t, errmap.Unknown, db.LastError.Code)
	assert.Equal(t, "listener refused", db.LastError.Message)
	assert.Empty(t, db.DBName)

	h.mu.Lock()
	require.Len(t, h.dbState, 1)
	assert.Equal(t, runtimestate.ConnError, h.dbState[0].Status)
	h.mu.Unlock()

	assert.Len(t, h.api.requested(), 1)
	assert.Equal(t, ResultOK, h.store.Agent("partner").Tick.LastResult)
}

func TestAgent_WithManager(t *testing.T) {
	calls := 0
	respond := func(w http.ResponseWriter, r *http.Request, req PageRequest) {
		calls++
		if calls == 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		okPage(5, 1)(w, r, req)
	}
	h := newHarness(t, config.PagingConfig{}, respond, nil, "")
	mgr := agent.NewManager(h.bus, nil)
	require.NoError(t, mgr.Register(h.agent))

	assert.Equal(t, agent.OutcomeCompleted, mgr.StartNow(t.Context(), "partner"))
	assert.Equal(t, agent.StatusActive, h.agent.Status(), "handled api errors must not demote")
	assert.Equal(t, 1, h.agent.Cursor().CurrentPage)

	assert.Equal(t, agent.OutcomeCompleted, mgr.RunScheduled(t.Context(), "partner"))
	assert.Equal(t, 2, h.agent.Cursor().CurrentPage)

	require.NoError(t, mgr.Stop("partner"))
	assert.Equal(t, 1, h.agent.Cursor().CurrentPage)
}

func TestNew_Validation(t *testing.T) {
	store := runtimestate.NewStore(filepath.Join(t.TempDir(), "s.json"), nil)

	_, err := New(Params{Store: store})
	assert.ErrorIs(t, err, errmap.ErrMisconfigured)

	_, err = New(Params{ID: "x", Store: store})
	assert.ErrorIs(t, err, errmap.ErrMisconfigured)
}

func TestCursor(t *testing.T) {
	c := NewCursor(1, 10, 1)
	assert.False(t, c.Exhausted())

	c.UpdatePageTotal(0)
	assert.Zero(t, c.State().PageTotal)

	c.UpdatePageTotal(1)
	c.MarkError("boom")
	assert.Equal(t, "boom", c.State().LastError)

	c.MarkPageProcessed(1)
	assert.True(t, c.Exhausted())
	assert.Empty(t, c.State().LastError)

	c.Reset(1)
	assert.False(t, c.Exhausted())
	assert.Equal(t, 1, c.State().CurrentPage)
}

func TestPrettyJSON(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": 1\n}", prettyJSON([]byte(`{"a":1}`)))
	assert.Equal(t, "not json", prettyJSON([]byte("not json")))
}
