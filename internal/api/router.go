package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Meirlen/Tabys-sub000/internal/api/handler"
	apimw "github.com/Meirlen/Tabys-sub000/internal/api/middleware"
	"github.com/Meirlen/Tabys-sub000/internal/queue"
	"github.com/Meirlen/Tabys-sub000/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	broadcasts *service.BroadcastService,
	auth *service.OtpService,
	q *queue.DrainQueue,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	bh := handler.NewBroadcastHandler(broadcasts, logger)
	ah := handler.NewAuthHandler(auth, logger)
	mh := handler.NewMetricsHandler(q)
	hh := handler.NewHealthHandler()

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Admin-facing routes. Identity arrives via trusted headers from
		// the upstream auth layer.
		r.Group(func(r chi.Router) {
			r.Use(apimw.AuthContext)

			r.Post("/broadcasts", bh.Create)
			r.Get("/broadcasts", bh.List)
			r.Get("/broadcasts/{id}", bh.GetByID)
			r.Patch("/broadcasts/{id}", bh.Update)
			r.Delete("/broadcasts/{id}", bh.Delete)
			r.Post("/broadcasts/{id}/send", bh.Send)
			r.Post("/broadcasts/{id}/retry", bh.Retry)
			r.Post("/broadcasts/{id}/cancel", bh.Cancel)
			r.Get("/broadcasts/{id}/stats", bh.Stats)

			r.Post("/auth/otp", ah.Mint)
			r.Delete("/auth/otp/{token}", ah.Revoke)
			r.Get("/auth/sessions", ah.Sessions)
		})

		// Bot-facing routes. The one-time token (or an established
		// session) is the credential; no admin headers are present.
		r.Post("/bot/verify", ah.Verify)
		r.Post("/bot/restore", ah.Restore)
		r.Post("/bot/logout", ah.Logout)

		// JSON metrics snapshot
		r.Get("/metrics", mh.GetMetrics)
	})

	return r
}
