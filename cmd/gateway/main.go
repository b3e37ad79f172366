package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zeroveil/gateway/internal/audit"
	auditsqlite "github.com/zeroveil/gateway/internal/audit/sqlite"
	"github.com/zeroveil/gateway/internal/config"
	"github.com/zeroveil/gateway/internal/domain"
	"github.com/zeroveil/gateway/internal/gateway"
	"github.com/zeroveil/gateway/internal/mixer"
	"github.com/zeroveil/gateway/internal/pii"
	"github.com/zeroveil/gateway/internal/policy"
	"github.com/zeroveil/gateway/internal/provider"
	"github.com/zeroveil/gateway/internal/ratelimit"
	"github.com/zeroveil/gateway/internal/router"
	"github.com/zeroveil/gateway/internal/server"
	"github.com/zeroveil/gateway/internal/telemetry"
	"github.com/zeroveil/gateway/internal/tenant"
	"github.com/zeroveil/gateway/internal/tokens"
)

const version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.Init(version, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	configPath := os.Getenv("ZEROVEIL_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	policies, err := policy.NewStore(cfg.Policy.Path)
	if err != nil {
		log.Fatalf("Failed to load policy %s: %v", cfg.Policy.Path, err)
	}
	pol := policies.Current()

	auth, tenantDir, err := buildAuthenticator(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to load tenants: %v", err)
	}

	sink, err := buildSink(cfg, pol)
	if err != nil {
		log.Fatalf("Failed to open audit sink: %v", err)
	}
	recorder := audit.NewRecorder(sink, logger)

	detector := pii.NewDetector(detectorConfig(pol))
	engine := policy.NewEngine(detector, nil)
	limiter := ratelimit.New(nil)

	registry := provider.NewRegistry()
	tiers := make([]router.TierConfig, 0, len(cfg.Routing.Tiers))
	for _, tc := range cfg.Routing.Tiers {
		if err := registerProvider(registry, tc); err != nil {
			log.Fatalf("Failed to register provider %s: %v", tc.Provider, err)
		}
		tiers = append(tiers, router.TierConfig{Provider: tc.Provider, Timeout: tc.Timeout})
	}
	controller := router.New(registry, tiers, nil)

	gw := gateway.New(
		policies,
		auth,
		limiter,
		engine,
		recorder,
		controller,
		tokens.NewRegistry(),
		mixer.Config{
			BatchWindow:  time.Duration(cfg.Mixer.BatchWindowMS) * time.Millisecond,
			MaxBatchSize: cfg.Mixer.MaxBatchSize,
			GroupBy:      mixer.GroupBy(cfg.Mixer.GroupBy),
			PoolSlots:    cfg.Mixer.PoolSlots,
			QueueDepth:   cfg.Mixer.QueueDepth,
		},
		logger,
	)

	srv := server.New(server.Options{
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.WriteTimeout,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
	}, gw, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("gateway started",
		slog.Int("port", cfg.Server.Port),
		slog.String("policy", cfg.Policy.Path),
		slog.String("policy_version", pol.Version),
		slog.String("audit_sink", pol.Logging.Sink),
	)

	// SIGHUP reloads policy and tenants without dropping connections.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			if err := policies.Reload(); err != nil {
				logger.Error("policy reload failed", slog.String("error", err.Error()))
			} else {
				logger.Info("policy reloaded", slog.String("version", policies.Current().Version))
			}
			if tenantDir != nil {
				if err := tenantDir.Reload(); err != nil {
					logger.Error("tenant reload failed", slog.String("error", err.Error()))
				} else {
					logger.Info("tenants reloaded")
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	// Let in-flight batches finish so their outcomes are recorded.
	gw.Mixer().Drain()
	if err := recorder.Close(); err != nil {
		logger.Error("audit close error", slog.String("error", err.Error()))
	}

	logger.Info("gateway shutdown complete")
}

func buildAuthenticator(cfg *config.Config, logger *slog.Logger) (gateway.Authenticator, *tenant.Directory, error) {
	if cfg.Auth.AllowLegacyKey {
		key := cfg.Auth.LegacyKey
		if key == "" {
			key = os.Getenv("ZEROVEIL_API_KEY")
		}
		if key == "" {
			return nil, nil, errors.New("auth.allow_legacy_key is set but no legacy key is configured")
		}
		logger.Warn("legacy single-key auth enabled; all requests map to the default tenant")
		return tenant.NewLegacyAuthenticator(key), nil, nil
	}
	dir, err := tenant.LoadDirectory(cfg.Tenants.Path)
	if err != nil {
		return nil, nil, err
	}
	if retired := os.Getenv("ZEROVEIL_API_KEY"); retired != "" {
		// Old shared-key clients get a distinct refusal instead of a
		// generic invalid_key.
		return tenant.NewLegacyGuard(dir, retired), dir, nil
	}
	return dir, dir, nil
}

func buildSink(cfg *config.Config, pol *policy.Policy) (audit.Sink, error) {
	sinkName := pol.Logging.Sink
	path := pol.Logging.Path
	if cfg.Audit.Sink != "" {
		sinkName = cfg.Audit.Sink
	}
	if cfg.Audit.Path != "" {
		path = cfg.Audit.Path
	}

	switch sinkName {
	case policy.SinkStdout:
		return audit.StdoutSink{}, nil
	case policy.SinkSQLite:
		return auditsqlite.New(path)
	default:
		return audit.NewJSONLSink(path, audit.RetentionConfig{
			MaxSizeMB:   pol.Logging.Retention.MaxSizeMB,
			RotateCount: pol.Logging.Retention.RotateCount,
			MaxAgeDays:  pol.Logging.Retention.MaxAgeDays,
		})
	}
}

func detectorConfig(pol *policy.Policy) pii.Config {
	cfg := pii.DefaultConfig()
	cfg.Enabled = pol.PIIGate.On()
	if len(pol.PIIGate.Patterns) > 0 {
		cfg.Classes = cfg.Classes[:0]
		for _, p := range pol.PIIGate.Patterns {
			cfg.Classes = append(cfg.Classes, pii.Class(p))
		}
	}
	return cfg
}

func registerProvider(registry *provider.Registry, tc config.TierConfig) error {
	switch tc.Provider {
	case "stub":
		return registry.Register(provider.NewStub("stub"))
	default:
		keyEnv := tc.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "OPENAI_API_KEY"
		}
		creds := map[domain.CredentialRef]string{"shared": os.Getenv(keyEnv)}
		var opts []provider.OpenAIOption
		if tc.BaseURL != "" {
			opts = append(opts, provider.WithBaseURL(tc.BaseURL))
		}
		return registry.Register(provider.NewOpenAI(tc.Provider, creds, opts...))
	}
}
