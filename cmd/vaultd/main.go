package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"multivault/config"
	"multivault/core/events"
	"multivault/gateway/middleware"
	"multivault/gateway/routes"
	"multivault/observability/logging"
	"multivault/observability/metrics"
	telemetry "multivault/observability/otel"
	"multivault/services/vault/server"
	"multivault/storage"
	"multivault/storage/journal"
)

const serviceName = "vaultd"

func main() {
	var cfgPath string
	var memory bool
	flag.StringVar(&cfgPath, "config", "./vaultd.toml", "path to vaultd configuration (.toml or .yaml)")
	flag.BoolVar(&memory, "memory", false, "keep vault state in memory instead of LevelDB")
	flag.Parse()

	if err := run(cfgPath, memory); err != nil {
		slog.Error("vaultd exited", slog.Any("error", err))
		_ = logging.Close()
		os.Exit(1)
	}
	_ = logging.Close()
}

func run(cfgPath string, memory bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if env := strings.TrimSpace(os.Getenv("VAULT_ENV")); env != "" {
		cfg.Env = env
	}

	logger := logging.Setup(serviceName, cfg.Env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Env,
		VaultAddress: cfg.VaultAddress,
		AssetSymbol:  cfg.AssetSymbol,
		Endpoint:     cfg.Telemetry.Endpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Headers:      telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:      cfg.Telemetry.Metrics,
		Traces:       cfg.Telemetry.Traces,
		SampleRatio:  cfg.Telemetry.SampleRatio,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := openState(cfg, memory)
	if err != nil {
		return err
	}
	defer db.Close()

	journalDSN := cfg.JournalDSN
	if memory {
		journalDSN = ""
	}
	eventLog, err := journal.Open(journalDSN)
	if err != nil {
		return err
	}
	eventLog.SetLogger(logger)
	defer eventLog.Close()

	vaultMetrics := metrics.Vault()
	svc, err := server.New(server.Options{
		Config:  cfg,
		DB:      db,
		Emitter: events.Fanout{eventLog, vaultMetrics},
		Metrics: vaultMetrics,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("start vault: %w", err)
	}

	limits := map[string]middleware.RateLimit{
		routes.RateLimitRead:  {RequestsPerMinute: cfg.RateLimit.RequestsPerMinute * 4, Burst: cfg.RateLimit.Burst * 4},
		routes.RateLimitWrite: {RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
	}
	router, err := routes.New(routes.Config{
		Service: svc,
		Journal: eventLog,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: serviceName,
			LogRequests: true,
			Gatherers:   []prometheus.Gatherer{prometheus.DefaultGatherer},
		}, logger),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}

	handler := http.Handler(router)
	if cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(router, serviceName)
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("vaultd listening",
			slog.String("address", listener.Addr().String()),
			slog.String("vault", cfg.VaultAddress),
			slog.Bool("auth", cfg.Auth.Enabled))
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	return nil
}

func openState(cfg *config.Config, memory bool) (storage.Database, error) {
	if memory {
		return storage.NewMemDB(), nil
	}
	path := filepath.Join(cfg.DataDir, "state")
	// The journal sqlite file lives beside the state directory.
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	db, err := storage.NewLevelDB(path)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return db, nil
}
