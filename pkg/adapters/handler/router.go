package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/config"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/ports"
)

// HealthCheck is one dependency probed by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Services bundles what the router serves.
type Services struct {
	Resolver ports.Resolver
	Links    ports.LinkService
	ABTests  ports.ABTestService
	Health   []HealthCheck
}

// NewRouter creates and configures the main application router
func NewRouter(cfg *config.Config, svc Services) http.Handler {
	// Initialize Handlers
	rh := NewRedirectHandler(svc.Resolver, cfg.AB.CookieName, cfg.AB.CookieMaxAge, cfg.IsProduction())
	h := NewHTTPHandler(svc.Links)
	ah := NewABTestHandler(svc.ABTests)

	// Initialize Middleware
	mw := NewMiddleware(cfg)

	// Initialize Auth Handler
	authHandler := NewAuthHandler(cfg)

	// Setup Router
	mux := http.NewServeMux()

	// Public Routes
	mux.HandleFunc("GET /healthz", healthHandler(svc.Health))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /auth/google/login", authHandler.Login)
	mux.HandleFunc("GET /auth/google/callback", authHandler.Callback)
	mux.HandleFunc("GET /auth/logout", authHandler.Logout)
	mux.Handle("POST /api/v1/guest/links",
		httprate.LimitByIP(10, time.Minute)(http.HandlerFunc(h.CreateGuest)))

	// Redirects
	mux.HandleFunc("GET /r/{domain}/{slug}", rh.ByPath)
	mux.HandleFunc("GET /{slug}", rh.ByHost)

	// Protected Routes (API)
	protectedMux := http.NewServeMux()
	protectedMux.HandleFunc("POST /api/v1/links", h.Create)
	protectedMux.HandleFunc("GET /api/v1/links", h.List)
	protectedMux.HandleFunc("POST /api/v1/links/import", h.Import)
	protectedMux.HandleFunc("GET /api/v1/links/{id}", h.Get)
	protectedMux.HandleFunc("PUT /api/v1/links/{id}", h.Update)
	protectedMux.HandleFunc("DELETE /api/v1/links/{id}", h.Delete)
	protectedMux.HandleFunc("POST /api/v1/links/{id}/archive", h.Archive)
	protectedMux.HandleFunc("GET /api/v1/links/{id}/stats", h.Stats)

	// A/B test Routes
	protectedMux.HandleFunc("POST /api/v1/links/{id}/abtest", ah.Create)
	protectedMux.HandleFunc("GET /api/v1/abtests/{id}", ah.Get)
	protectedMux.HandleFunc("PUT /api/v1/abtests/{id}/variants", ah.SetVariants)
	protectedMux.HandleFunc("POST /api/v1/abtests/{id}/{action}", ah.Transition)

	adminRPM := cfg.Server.AdminRPM
	if adminRPM <= 0 {
		adminRPM = 600
	}
	mux.Handle("/api/v1/", httprate.LimitByIP(adminRPM, time.Minute)(mw.AuthMiddleware(protectedMux)))

	return RequestLogger(mux)
}

func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		res := map[string]string{"message": "ok"}
		status := http.StatusOK
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				res[c.Name] = err.Error()
				res["message"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			res[c.Name] = "ok"
		}
		writeJSON(w, status, res)
	}
}
