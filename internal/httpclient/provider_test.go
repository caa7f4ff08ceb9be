// ABOUTME: Tests for the per-service HTTP client provider
// ABOUTME: Verifies headers, timeout precedence, URL resolution and caching

package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/partner-poller/internal/config"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{TimeoutSeconds: 40},
		Services: map[string]config.ServiceConfig{
			"UzStandart": {BaseURL: baseURL, Endpoint: "/v1/items", AuthBearer: "tok", HTTPTimeoutSeconds: 5},
			"plain":      {BaseURL: baseURL + "/api/"},
		},
	}
}

func TestProvider_SetsHeaders(t *testing.T) {
	var gotAuth, gotAccept, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewProvider(testConfig(srv.URL), nil)
	defer p.Close()

	svc, err := p.Service("uzstandart")
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, svc.URL(""), nil)
	require.NoError(t, err)
	resp, err := svc.Client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "/v1/items", gotPath)
}

func TestProvider_NoBearerWhenUnset(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	p := NewProvider(testConfig(srv.URL), nil)
	svc, err := p.Service("plain")
	require.NoError(t, err)

	resp, err := svc.Client.Get(svc.URL("items"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, gotAuth)
}

func TestProvider_TimeoutPrecedence(t *testing.T) {
	p := NewProvider(testConfig("https://example.test"), nil)

	svc, err := p.Service("uzstandart")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, svc.Client.Timeout)

	plain, err := p.Service("plain")
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, plain.Client.Timeout)
}

func TestProvider_CachesClients(t *testing.T) {
	p := NewProvider(testConfig("https://example.test"), nil)

	a, err := p.Service("UZSTANDART")
	require.NoError(t, err)
	b, err := p.Service("uzstandart")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestProvider_UnknownAndInvalid(t *testing.T) {
	cfg := testConfig("https://example.test")
	cfg.Services["broken"] = config.ServiceConfig{BaseURL: "not a url"}
	p := NewProvider(cfg, nil)

	_, err := p.Service("ghost")
	assert.ErrorIs(t, err, ErrUnknownService)

	_, err = p.Service("")
	assert.ErrorIs(t, err, ErrUnknownService)

	_, err = p.Service("broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid base_url")
}

func TestService_URL(t *testing.T) {
	p := NewProvider(testConfig("https://example.test"), nil)
	svc, err := p.Service("plain")
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/api/items", svc.URL("/items"))
	assert.Equal(t, "https://example.test/api/items?page=2", svc.URL("items?page=2"))
}
