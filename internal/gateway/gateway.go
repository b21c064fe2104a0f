// Package gateway mounts the Request Orchestrator, Config Store, Health
// Engine, and OAuth Manager on spec §6's HTTP surface: POST /v1/messages
// and its count_tokens sibling, GET /health, the provider health and
// reload endpoints, the OAuth account-management endpoints, and
// GET /metrics. It replaces the teacher's core.Module-lifecycle
// Telegram/webhook gateway with a plain constructor — this process has
// no plugin registry, so there is nothing for a module lifecycle to
// plug into.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/relaymux/relaymux/internal/config"
	"github.com/relaymux/relaymux/internal/configstore"
	"github.com/relaymux/relaymux/internal/health"
	"github.com/relaymux/relaymux/internal/metrics"
	"github.com/relaymux/relaymux/internal/oauth"
	"github.com/relaymux/relaymux/internal/orchestrator"
	"github.com/relaymux/relaymux/internal/security"
	"github.com/relaymux/relaymux/internal/tokencount"
)

// Gateway is the HTTP front door of relaymux: it owns the listener and
// wires every inbound request through the Auth Gate into the
// Orchestrator, the Config Store, the OAuth Manager, or the metrics
// registry depending on path.
type Gateway struct {
	config     Config
	configPath string

	orch     *orchestrator.Orchestrator
	store    *configstore.Store
	health   *health.Engine
	oauthMgr *oauth.Manager
	metrics  *metrics.Registry
	counter  *tokencount.Estimator

	authSettings   config.AuthSettings
	auditLogger    *security.AuditLogger
	attemptLimiter *security.AttemptLimiter

	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// Deps bundles the service graph a Gateway is mounted on.
type Deps struct {
	Orchestrator   *orchestrator.Orchestrator
	Store          *configstore.Store
	ConfigPath     string
	Health         *health.Engine
	OAuth          *oauth.Manager // nil when no provider configures auth_type: oauth
	Metrics        *metrics.Registry
	AuditLogger    *security.AuditLogger
	AttemptLimiter *security.AttemptLimiter
	Logger         *slog.Logger
}

// New constructs a Gateway. cfg is the HTTP-transport configuration
// (bind address, timeouts); authSettings is the inbound Auth Gate
// configuration from the loaded Config Store snapshot.
func New(cfg Config, authSettings config.AuthSettings, deps Deps) *Gateway {
	cfg.defaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	counter, err := tokencount.Default()
	if err != nil {
		logger.Warn("token counter unavailable, count_tokens will use the rough estimator", "error", err)
		counter = nil
	}
	return &Gateway{
		config:         cfg,
		configPath:     deps.ConfigPath,
		orch:           deps.Orchestrator,
		store:          deps.Store,
		health:         deps.Health,
		oauthMgr:       deps.OAuth,
		metrics:        deps.Metrics,
		counter:        counter,
		authSettings:   authSettings,
		auditLogger:    deps.AuditLogger,
		attemptLimiter: deps.AttemptLimiter,
		logger:         logger,
	}
}

// Handler returns the fully-wired http.Handler, useful for tests that
// want httptest.NewServer without going through ListenAndServe.
func (g *Gateway) Handler() http.Handler {
	return g.buildRouter()
}

// ListenAndServe starts the HTTP server and blocks until ctx is
// cancelled or the server fails to start.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		errCh <- g.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return g.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the HTTP server within the configured
// shutdown timeout.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()
	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
