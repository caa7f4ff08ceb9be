// ABOUTME: One cached *http.Client per configured partner service
// ABOUTME: Clients carry the service base URL, timeout, bearer auth and JSON Accept header

package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/2389/partner-poller/internal/config"
)

// ErrUnknownService indicates the service key is not in the configuration.
var ErrUnknownService = errors.New("unknown service")

// Service is a configured client for one partner API.
type Service struct {
	Name    string
	BaseURL *url.URL
	// Endpoint is the default path for the service's main operation.
	Endpoint string
	Client   *http.Client
}

// URL resolves path against the base URL. An empty path uses Endpoint.
func (s *Service) URL(path string) string {
	if path == "" {
		path = s.Endpoint
	}
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return s.BaseURL.String()
	}
	base := *s.BaseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(ref).String()
}

// Provider builds and caches Services from configuration.
type Provider struct {
	cfg  *config.Config
	base http.RoundTripper

	mu       sync.Mutex
	services map[string]*Service
}

// NewProvider creates a provider over cfg. A nil base uses http.DefaultTransport.
func NewProvider(cfg *config.Config, base http.RoundTripper) *Provider {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Provider{cfg: cfg, base: base, services: make(map[string]*Service)}
}

// Service returns the cached client for name, building it on first use.
func (p *Provider) Service(name string) (*Service, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownService)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.services[key]; ok {
		return s, nil
	}

	sc, ok := p.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	base, err := url.Parse(sc.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("service %s: invalid base_url %q", name, sc.BaseURL)
	}

	s := &Service{
		Name:     key,
		BaseURL:  base,
		Endpoint: sc.Endpoint,
		Client:   newClient(p.base, sc.AuthBearer, p.cfg.ServiceTimeout(p.configKey(key))),
	}
	p.services[key] = s
	return s, nil
}

func (p *Provider) lookup(key string) (config.ServiceConfig, bool) {
	ck := p.configKey(key)
	sc, ok := p.cfg.Services[ck]
	return sc, ok
}

// configKey maps a lowercase key back to its spelling in the config map.
func (p *Provider) configKey(key string) string {
	for k := range p.cfg.Services {
		if strings.EqualFold(k, key) {
			return k
		}
	}
	return key
}

// Close drops all cached clients and their idle connections.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.services {
		s.Client.CloseIdleConnections()
	}
	clear(p.services)
}

func newClient(base http.RoundTripper, bearer string, timeout time.Duration) *http.Client {
	var rt http.RoundTripper = &headerTransport{base: base, bearer: bearer}
	rt = otelhttp.NewTransport(rt)
	return &http.Client{Transport: rt, Timeout: timeout}
}

// headerTransport sets Accept and Authorization on every request.
type headerTransport struct {
	base   http.RoundTripper
	bearer string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept", "application/json")
	if t.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+t.bearer)
	}
	return t.base.RoundTrip(req)
}

// CloseIdleConnections forwards to the wrapped transport.
func (t *headerTransport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if c, ok := t.base.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}
