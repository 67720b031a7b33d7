package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"multivault/gateway/middleware"
	"multivault/services/vault/server"
	"multivault/storage/journal"
)

// Rate limit groups.
const (
	RateLimitRead  = "read"
	RateLimitWrite = "write"
)

type Config struct {
	Service       *server.Service
	Journal       *journal.Journal
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
	// RequestTimeout bounds non-streaming handlers.
	RequestTimeout time.Duration
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Service == nil {
		return nil, errors.New("routes: vault service required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	vr := &vaultRoutes{svc: cfg.Service, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}
	if cfg.Authenticator != nil {
		r.Use(cfg.Authenticator.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	limit := func(group string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(group)
	}
	deadline := func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, `{"error":{"code":"UNAVAILABLE","message":"request timed out"}}`)
	}

	r.Route("/v1/vault", func(vault chi.Router) {
		if cfg.Journal != nil {
			er := &eventRoutes{journal: cfg.Journal, logger: logger, origins: cfg.CORS.AllowedOrigins}
			vault.With(limit(RateLimitRead)).Route("/events", er.mount)
		}
		vault.Group(func(read chi.Router) {
			read.Use(limit(RateLimitRead), deadline)
			vr.mountReads(read)
		})
		vault.Group(func(write chi.Router) {
			write.Use(middleware.RequireCaller, limit(RateLimitWrite), deadline)
			vr.mountWrites(write)
			write.Route("/admin", vr.mountAdmin)
		})
	})
	r.Route("/v1/asset", func(asset chi.Router) {
		asset.Group(func(read chi.Router) {
			read.Use(limit(RateLimitRead), deadline)
			vr.mountAssetReads(read)
		})
		asset.Group(func(write chi.Router) {
			write.Use(middleware.RequireCaller, limit(RateLimitWrite), deadline)
			vr.mountAssetWrites(write)
		})
	})
	return r, nil
}
