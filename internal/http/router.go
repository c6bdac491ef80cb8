// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, error rendering, panic
// recovery, metrics, CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - A single terminal error handler renders every failure envelope
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-registration-backend/internal/apperror"
	"github.com/tbourn/go-registration-backend/internal/config"
	"github.com/tbourn/go-registration-backend/internal/domain"
	"github.com/tbourn/go-registration-backend/internal/http/handlers"
	"github.com/tbourn/go-registration-backend/internal/http/middleware"
	"github.com/tbourn/go-registration-backend/internal/repo"
	"github.com/tbourn/go-registration-backend/internal/services"
)

// registrationPath is the registration route relative to the API base path.
const registrationPath = "/user/registration"

// regRepoShim adapts the repository free functions to the
// services.RegistrationRepo interface expected by the RegistrationService.
type regRepoShim struct{}

// EmailReserved proxies repo.EmailReserved.
func (regRepoShim) EmailReserved(ctx context.Context, db *gorm.DB, email string) (bool, error) {
	return repo.EmailReserved(ctx, db, email)
}

// PasswordWeak proxies repo.PasswordWeak.
func (regRepoShim) PasswordWeak(ctx context.Context, db *gorm.DB, password string) (bool, error) {
	return repo.PasswordWeak(ctx, db, password)
}

// GetIdempotency proxies repo.GetIdempotency.
func (regRepoShim) GetIdempotency(ctx context.Context, db *gorm.DB, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, scope, key, now)
}

// CreateIdempotency proxies repo.CreateIdempotency.
func (regRepoShim) CreateIdempotency(ctx context.Context, db *gorm.DB, scope, key, fingerprint string, status int, data string, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, scope, key, fingerprint, status, data, ttl)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), error rendering,
// idempotency and rate limiting, CORS and security headers, health and
// metrics endpoints, and then mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Metrics
//  5. Gzip response compression
//  6. ErrorHandler: renders c.Errors as an error envelope on the way out
//  7. Recovery: panics become INTERNAL_SERVER_ERROR through ErrorHandler
//  8. Body size limiter
//  9. CORS and Security headers
//  10. Idempotency validator (before rate limiter to allow bypass on replay)
//  11. Rate limiter (per IP, bypass only for a key replayed with its original payload)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key", // project-specific sensitive header example
		},
	}))

	// 4) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 5) Compression (promhttp negotiates its own)
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 6) Error envelopes
	r.Use(middleware.ErrorHandler(middleware.ErrorOptions{ExposeStack: cfg.ExposeErrorStack}))

	// 7) Panic recovery
	r.Use(middleware.Recovery())

	// 8) Global body size limit
	r.Use(limitBody(cfg.MaxBodyBytes))

	// 9) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", middleware.HeaderIdempotentReplayed, "Retry-After"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// 10) Idempotency validation (before rate limiting)
	apiBase := cfg.APIBasePath // e.g. "/api"
	regRoute := joinPath(apiBase, registrationPath)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
			Scope: func(c *gin.Context) string {
				if c.FullPath() == regRoute {
					return services.ScopeRegistration
				}
				return ""
			},
		},
		idempotencyLookup(db),
	))

	// 11) Token-bucket rate limiter per IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, apperror.New(apperror.ResourceNotFound))
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, apperror.New(apperror.MethodNotAllowed))
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db
	regSvc := services.NewRegistrationService(db, regRepoShim{})
	if cfg.IdempotencyTTL > 0 {
		regSvc.IdempotencyTTL = cfg.IdempotencyTTL
	}
	h := handlers.New(regSvc)

	r.GET("/", h.Index)

	// Public API
	api := groupWithPrefix(r, apiBase)
	{
		api.POST(registrationPath, h.Registration()...)
	}
}

// idempotencyLookup reports whether a live idempotency record exists and was
// recorded for the same payload fingerprint. A missing record is not an error.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, scope, key, fingerprint string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return rec != nil && rec.Fingerprint == fingerprint, nil
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath returns the full route of rel under prefix, as Gin reports it from
// c.FullPath.
func joinPath(prefix, rel string) string {
	if prefix == "" || prefix == "/" {
		return rel
	}
	return prefix + rel
}
