package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ashgrovepsych/practice-sync/internal/http/handlers"
	httpmiddleware "github.com/ashgrovepsych/practice-sync/internal/http/middleware"
	"github.com/ashgrovepsych/practice-sync/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	SyncTrigger        *handlers.SyncTriggerHandler
	Webhook            *handlers.PMSWebhookHandler
	Dashboard          *handlers.DashboardHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Requests per second allowed on the webhook endpoint per source IP.
	// Zero disables rate limiting.
	WebhookRatePerSecond float64
	WebhookBurst         int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhook, health, metrics)
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Webhook != nil {
			webhook := public
			if cfg.WebhookRatePerSecond > 0 {
				webhook = public.With(httpmiddleware.RateLimit(cfg.WebhookRatePerSecond, cfg.WebhookBurst))
			}
			webhook.Post("/webhooks/pms", cfg.Webhook.Handle)
		}
	})

	// Admin routes (protected by JWT)
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.SyncTrigger != nil {
				admin.Post("/sync", cfg.SyncTrigger.SyncAll)
				admin.Post("/sync/{remoteID}", cfg.SyncTrigger.SyncOne)
			}
			if cfg.Dashboard != nil {
				admin.Get("/sync/status/{remoteID}", cfg.Dashboard.SyncStatus)
				admin.Get("/dashboard/{remoteID}", cfg.Dashboard.Overview)
			}
		})
	}

	return r
}
