package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relaymux/relaymux/internal/configstore"
	"github.com/relaymux/relaymux/internal/dedup"
	"github.com/relaymux/relaymux/internal/health"
	"github.com/relaymux/relaymux/internal/metrics"
	"github.com/relaymux/relaymux/internal/orchestrator"
	"github.com/relaymux/relaymux/internal/security"
	"github.com/relaymux/relaymux/internal/selector"
	"github.com/relaymux/relaymux/internal/upstream"
)

const testConfigYAML = `
version: "1"
providers:
  - name: primary
    type: anthropic
    base_url: https://primary.example.com
    auth_type: api_key
    auth_value: primary-key
model_routes:
  - pattern: "claude-*"
    entries:
      - provider: primary
        upstream_model: passthrough
        priority: 1
settings:
  unhealthy_threshold: 1
  auth:
    enabled: false
`

type fakeDoer struct {
	fn func(req upstream.Request) (*upstream.Response, error)
}

func (f *fakeDoer) Do(_ context.Context, req upstream.Request) (*upstream.Response, error) {
	return f.fn(req)
}

func newTestGateway(t *testing.T, configYAML string, doer *fakeDoer) (*Gateway, *configstore.Store) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	store, err := configstore.New(path)
	if err != nil {
		t.Fatalf("configstore.New: %v", err)
	}
	engine := health.New(health.Config{})
	sel := selector.New(engine)
	dedupRegistry := dedup.New(time.Minute)
	metricsRegistry := metrics.New()
	orch := orchestrator.New(store, engine, sel, dedupRegistry, doer, nil, metricsRegistry, nil)

	gw := New(Config{}, store.Get().Raw.Settings.Auth, Deps{
		Orchestrator: orch,
		Store:        store,
		ConfigPath:   path,
		Health:       engine,
		Metrics:      metricsRegistry,
	})
	return gw, store
}

func TestHandleHealth_AlwaysOK(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t, testConfigYAML, &fakeDoer{})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleMessages_NonStreamRoundTrip(t *testing.T) {
	t.Parallel()
	anthResp := `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`
	doer := &fakeDoer{fn: func(upstream.Request) (*upstream.Response, error) {
		return &upstream.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader(anthResp)),
		}, nil
	}}
	gw, _ := newTestGateway(t, testConfigYAML, doer)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	body := `{"model":"claude-3-5-sonnet","messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(srv.URL+"/v1/messages", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/messages: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleMessages_NoRouteReturns404(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t, testConfigYAML, &fakeDoer{})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	body := `{"model":"unrouted","messages":[]}`
	resp, err := http.Post(srv.URL+"/v1/messages", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/messages: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleCountTokens_ReturnsEstimate(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t, testConfigYAML, &fakeDoer{})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	body := `{"model":"claude-3-5-sonnet","messages":[{"role":"user","content":"hello there"}]}`
	resp, err := http.Post(srv.URL+"/v1/messages/count_tokens", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/messages/count_tokens: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleListProviders_ReportsConfiguredProvider(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t, testConfigYAML, &fakeDoer{})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/providers")
	if err != nil {
		t.Fatalf("GET /providers: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleReloadProviders_ValidConfigReturns200(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t, testConfigYAML, &fakeDoer{})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/providers/reload", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /providers/reload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (reloading the same valid file on disk)", resp.StatusCode)
	}
}

const authEnabledConfigYAML = `
version: "1"
providers:
  - name: primary
    type: anthropic
    base_url: https://primary.example.com
    auth_type: api_key
    auth_value: primary-key
model_routes:
  - pattern: "claude-*"
    entries:
      - provider: primary
        upstream_model: passthrough
        priority: 1
settings:
  unhealthy_threshold: 1
  auth:
    enabled: true
    api_key: secret123
`

func TestAuthMiddleware_RejectsMissingCredential(t *testing.T) {
	t.Parallel()
	authYAML := authEnabledConfigYAML
	var events []security.AuditEvent
	logger := security.NewAuditLogger(security.AuditLoggerConfig{
		OnEvent: func(e security.AuditEvent) { events = append(events, e) },
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(authYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	store, err := configstore.New(path)
	if err != nil {
		t.Fatalf("configstore.New: %v", err)
	}
	engine := health.New(health.Config{})
	sel := selector.New(engine)
	orch := orchestrator.New(store, engine, sel, dedup.New(time.Minute), &fakeDoer{}, nil, nil, nil)
	gw := New(Config{}, store.Get().Raw.Settings.Auth, Deps{
		Orchestrator:   orch,
		Store:          store,
		ConfigPath:     path,
		Health:         engine,
		AuditLogger:    logger,
		AttemptLimiter: security.NewAttemptLimiter(security.AttemptLimiterConfig{}),
	})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("x-api-key", "secret123")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /health with key: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with valid key", resp2.StatusCode)
	}

	if len(events) < 2 {
		t.Fatalf("expected auth_failure and auth_success events to be audited, got %d", len(events))
	}
	if events[0].Type != security.EventAuthFailure {
		t.Errorf("events[0].Type = %q, want %q", events[0].Type, security.EventAuthFailure)
	}
}

func TestOAuthEndpoints_404WhenUnconfigured(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t, testConfigYAML, &fakeDoer{})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/oauth/status")
	if err != nil {
		t.Fatalf("GET /oauth/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with empty inventory", resp.StatusCode)
	}

	resp2, err := http.Post(srv.URL+"/oauth/exchange-code", "application/json", strings.NewReader(`{"code":"x","account_email":"a@b.com"}`))
	if err != nil {
		t.Fatalf("POST /oauth/exchange-code: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 without an OAuth manager", resp2.StatusCode)
	}
}

func TestMetricsEndpoint_ServesPrometheusFormat(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t, testConfigYAML, &fakeDoer{})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
