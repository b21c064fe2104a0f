// Package main is the entry point for the relaymux CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/relaymux/relaymux/internal/config"
	"github.com/relaymux/relaymux/internal/configstore"
	"github.com/relaymux/relaymux/internal/cron"
	"github.com/relaymux/relaymux/internal/dedup"
	"github.com/relaymux/relaymux/internal/gateway"
	"github.com/relaymux/relaymux/internal/health"
	"github.com/relaymux/relaymux/internal/metrics"
	"github.com/relaymux/relaymux/internal/oauth"
	"github.com/relaymux/relaymux/internal/orchestrator"
	"github.com/relaymux/relaymux/internal/reload"
	"github.com/relaymux/relaymux/internal/security"
	"github.com/relaymux/relaymux/internal/selector"
	"github.com/relaymux/relaymux/internal/tracing"
	"github.com/relaymux/relaymux/internal/upstream"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCode lets a command signal a specific process exit status, per
// spec §6's CLI requirement: 0 normal, 1 config-parse error at startup,
// 2 bind failure.
type exitCode struct {
	code int
	err  error
}

func (e *exitCode) Error() string { return e.err.Error() }
func (e *exitCode) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ec *exitCode
	if errors.As(err, &ec) {
		return ec.code
	}
	return 1
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relaymux",
		Short:         "relaymux proxies Anthropic-wire clients across a pool of upstream providers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), startCmd(), configCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relaymux %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func startCmd() *cobra.Command {
	var (
		configPath string
		bind       string
		logLevel   string
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the relaymux proxy server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return &exitCode{code: 1, err: fmt.Errorf("loading %s: %w", envFile, err)}
			}

			logger, err := newLogger(logLevel)
			if err != nil {
				return &exitCode{code: 1, err: err}
			}
			slog.SetDefault(logger)

			path := configPath
			if path == "" {
				resolved, err := resolveConfigPath()
				if err != nil {
					return &exitCode{code: 1, err: err}
				}
				path = resolved
			}

			return run(cmd.Context(), path, bind, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file (default: search XDG/./relaymux.yaml)")
	cmd.Flags().StringVar(&bind, "bind", "", "listen address, overrides the config file's bind address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading real environment variables")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <path>",
		Short: "Parse and validate a config file without starting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return &exitCode{code: 1, err: err}
			}
			if err := config.Validate(cfg); err != nil {
				return &exitCode{code: 1, err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d provider(s), %d route(s))\n", args[0], len(cfg.Providers), len(cfg.ModelRoutes))
			return nil
		},
	})
	return cmd
}

// run loads the config and builds the full service graph — config store,
// health engine, selector, dedup registry, oauth manager, orchestrator,
// gateway — then serves until ctx is cancelled or the listener fails to
// bind, per SPEC_FULL.md §2's process-topology note.
func run(ctx context.Context, configPath, bindOverride string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitCode{code: 1, err: err}
	}
	if err := config.Validate(cfg); err != nil {
		return &exitCode{code: 1, err: err}
	}

	store, err := configstore.New(configPath)
	if err != nil {
		return &exitCode{code: 1, err: err}
	}
	settings := cfg.Settings

	healthEngine := health.New(health.Config{
		FailureCooldown:    settings.FailureCooldown(),
		StickyDuration:     settings.StickyDuration(),
		UnhealthyThreshold: settings.UnhealthyThresholdOrDefault(),
	})
	sel := selector.New(healthEngine)
	dedupRegistry := dedup.New(settings.DeduplicationTTL())
	metricsRegistry := metrics.New()

	tracer, err := tracing.New(ctx, settings.Tracing)
	if err != nil {
		return &exitCode{code: 1, err: err}
	}
	defer tracer.Shutdown(context.Background())

	var oauthMgr *oauth.Manager
	var tokenIssuer orchestrator.TokenIssuer
	if usesOAuth(cfg) {
		oauthMgr = oauth.New(settings.OAuth)
		if err := oauthMgr.Load(); err != nil {
			logger.Warn("oauth: loading persisted tokens failed, starting with an empty pool", "error", err)
		}
		tokenIssuer = oauthMgr
	}

	pool := upstream.NewPool(0)
	upstreamClient := upstream.NewClient(pool)

	orch := orchestrator.New(store, healthEngine, sel, dedupRegistry, upstreamClient, tokenIssuer, metricsRegistry, tracer)

	redactor := security.NewRedactor()
	redactor.AddLiteral(settings.Auth.APIKey)
	auditLogger := security.NewAuditLogger(security.AuditLoggerConfig{
		Writer:   os.Stderr,
		Redactor: redactor,
	})
	attemptLimiter := security.NewAttemptLimiter(security.AttemptLimiterConfig{})

	gwConfig := gateway.Config{}
	if bindOverride != "" {
		gwConfig.Bind = bindOverride
	}

	gw := gateway.New(gwConfig, settings.Auth, gateway.Deps{
		Orchestrator:   orch,
		Store:          store,
		ConfigPath:     configPath,
		Health:         healthEngine,
		OAuth:          oauthMgr,
		Metrics:        metricsRegistry,
		AuditLogger:    auditLogger,
		AttemptLimiter: attemptLimiter,
		Logger:         logger,
	})

	scheduler := cron.NewScheduler(logger)
	if oauthMgr != nil {
		if err := scheduler.RegisterJob(&oauth.RefreshSweep{Manager: oauthMgr, Logger: logger}); err != nil {
			return &exitCode{code: 1, err: err}
		}
	}
	if err := scheduler.Start(); err != nil {
		return &exitCode{code: 1, err: err}
	}
	defer scheduler.Stop(context.Background())

	watcher := reload.NewWatcher(reload.WatcherConfig{ConfigPath: configPath})
	watcher.Start(ctx)
	defer watcher.Stop()
	reloadHandler := reload.NewHandler(store, logger)
	go reloadHandler.Run(ctx, watcher.Events())

	logger.Info("relaymux starting", "config", configPath, "providers", len(cfg.Providers))
	if err := gw.ListenAndServe(ctx); err != nil {
		return &exitCode{code: 2, err: fmt.Errorf("gateway: %w", err)}
	}
	logger.Info("relaymux stopped")
	return nil
}

// usesOAuth reports whether any configured provider resolves its
// credential through the OAuth Manager.
func usesOAuth(cfg *config.Config) bool {
	for _, p := range cfg.Providers {
		if p.AuthType == config.AuthOAuth {
			return true
		}
	}
	return false
}

// newLogger builds the process-wide structured logger, wrapped in a
// security.RedactingHandler so secrets never reach stderr regardless of
// which call site logged them.
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	redacted := security.NewRedactingHandler(handler, security.NewRedactor())
	return slog.New(redacted), nil
}

// resolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/relaymux/relaymux.yaml → ./relaymux.yaml
func resolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "relaymux", "relaymux.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "relaymux", "relaymux.yaml"))
	}
	candidates = append(candidates, "relaymux.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}
