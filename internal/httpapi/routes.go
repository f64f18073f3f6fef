package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.temporal.io/sdk/client"

	"github.com/jordanhubbard/learncompanion/internal/apikey"
	"github.com/jordanhubbard/learncompanion/internal/circuitbreaker"
	"github.com/jordanhubbard/learncompanion/internal/events"
	"github.com/jordanhubbard/learncompanion/internal/health"
	"github.com/jordanhubbard/learncompanion/internal/idempotency"
	"github.com/jordanhubbard/learncompanion/internal/metrics"
	"github.com/jordanhubbard/learncompanion/internal/pipeline"
	"github.com/jordanhubbard/learncompanion/internal/ratelimit"
	"github.com/jordanhubbard/learncompanion/internal/router"
	"github.com/jordanhubbard/learncompanion/internal/stats"
	"github.com/jordanhubbard/learncompanion/internal/store"
	"github.com/jordanhubbard/learncompanion/internal/vault"
)

type Dependencies struct {
	// Engine is the provider/model registry: adapter lookup for the
	// companion pipeline and the readiness check behind /healthz.
	Engine *router.Engine
	// Companion is C12: the emotion/ability/difficulty-aware learning
	// companion pipeline, exposed at /v1/companion/*.
	Companion *pipeline.Engine
	Vault     *vault.Vault
	Metrics   *metrics.Registry
	Store     store.Store
	Health    *health.Tracker
	EventBus  *events.Bus
	Stats     *stats.Collector

	// API key management (nil if not configured).
	APIKeyMgr     *apikey.Manager
	BudgetChecker *apikey.BudgetChecker

	// Admin endpoint authentication token (empty = no auth).
	AdminToken string

	// Idempotency cache (nil = idempotency disabled).
	IdempotencyCache *idempotency.Cache

	// Temporal workflow client (nil when Temporal is disabled).
	TemporalClient    client.Client
	TemporalTaskQueue string

	// Circuit breaker for Temporal dispatch (nil when Temporal is disabled).
	CircuitBreaker *circuitbreaker.Breaker

	// Rate limiter for expensive API endpoints (nil = no rate limiting).
	RateLimiter  *ratelimit.Limiter
	RateLimitRPS int

	// Outbound provider timeout as configured; no handler in this package
	// reads it.
	ProviderTimeout time.Duration

	// Active health prober (nil when no probeable adapters are configured).
	Prober *health.Prober

	// Queue for best-effort async store writes (nil = writes happen inline).
	StoreWriteQueue chan func()
}

// maxRequestBodySize is the maximum allowed request body for POST/PUT/PATCH endpoints (10 MB).
const maxRequestBodySize = 10 << 20

// bodySizeLimit is a middleware that wraps the request body with
// http.MaxBytesReader to enforce a maximum request body size.
func bodySizeLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func MountRoutes(r chi.Router, d Dependencies) {
	// Redirect root to the JSON admin info endpoint. The core ships no
	// frontend (spec's "the frontend" is an external collaborator); this is
	// an operational JSON surface only.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin/api/info", http.StatusFound)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		// Verify the system can actually route requests.
		modelCount := len(d.Engine.ListModels())
		adapterCount := len(d.Engine.ListAdapterIDs())
		if adapterCount == 0 || modelCount == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":   "unhealthy",
				"adapters": adapterCount,
				"models":   modelCount,
			})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"adapters": adapterCount,
			"models":   modelCount,
		})
	})

	// JSON admin info endpoint. No embedded frontend ships in the core;
	// operational visibility is the JSON admin API mounted below.
	r.Get("/admin/api/info", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"service":           "learncompanion",
			"vault_locked":      d.Vault.IsLocked(),
			"vault_initialized": d.Vault.Salt() != nil,
			"rate_limit_rps":    d.RateLimitRPS,
			"companion_enabled": d.Companion != nil,
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(bodySizeLimit(maxRequestBodySize))
		// Apply rate limiting only to expensive API endpoints, not healthz/metrics/admin.
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}
		// Apply idempotency middleware before auth so cached responses are replayed early.
		if d.IdempotencyCache != nil {
			r.Use(idempotency.Middleware(d.IdempotencyCache))
		}
		// Apply API key auth middleware if key manager is configured.
		if d.APIKeyMgr != nil {
			r.Use(apikey.AuthMiddleware(d.APIKeyMgr, d.BudgetChecker))
		}
		if d.Companion != nil {
			r.Post("/companion/chat", CompanionChatHandler(d))
			r.Post("/companion/chat/stream", CompanionStreamHandler(d))
			r.Post("/companion/stop", CompanionStopHandler(d))
		}
	})

	// Operational surface: circuit-breaker state, rolling stats, and a live
	// event feed for the companion pipeline. No provider/model/routing
	// configuration CRUD lives here — that's config-file and vault-managed,
	// not a runtime admin API.
	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(bodySizeLimit(maxRequestBodySize))
		if d.AdminToken != "" {
			r.Use(adminAuthMiddleware(d.AdminToken))
		}

		r.Get("/health", HealthStatsHandler(d))
		r.Get("/stats", StatsHandler(d))
		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}
	})

	r.Handle("/metrics", d.Metrics.Handler())

	// Serve built documentation from docs/book/ (mdbook output) if available.
	mountDocs(r)
}

func mountDocs(r chi.Router) {
	// Look for docs/book/ in known locations:
	// - docs/book/ relative to working directory (development)
	// - /docs/book/ absolute path (Docker container)
	candidates := []string{
		filepath.Join("docs", "book"),
		"/docs/book",
	}
	for _, docRoot := range candidates {
		if info, err := os.Stat(docRoot); err == nil && info.IsDir() {
			docsFS := http.FileServer(http.Dir(docRoot))
			r.Handle("/docs/*", http.StripPrefix("/docs/", docsFS))
			r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/docs/", http.StatusMovedPermanently)
			})
			return
		}
	}
}

// adminAuthMiddleware checks for a valid Bearer token on admin endpoints.
func adminAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := r.Header.Get("X-Real-IP")
			if clientIP == "" {
				clientIP = r.RemoteAddr
			}

			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				slog.Warn("admin auth: missing token", slog.String("ip", clientIP), slog.String("path", r.URL.Path))
				http.Error(w, "missing admin token", http.StatusUnauthorized)
				return
			}
			provided := strings.TrimPrefix(auth, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				slog.Warn("admin auth: invalid token", slog.String("ip", clientIP), slog.String("path", r.URL.Path))
				http.Error(w, "invalid admin token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
