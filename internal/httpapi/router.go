package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
)

type RouterConfig struct {
	Logger         *zap.Logger
	Metrics        *metrics.ServerMetrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
}

func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(cfg.Logger, cfg.Metrics))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", h.Health)
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Get("/cart", h.ListCart)
		r.Post("/cart/items", h.AddCartItem)
		r.Patch("/cart/items/{id}", h.UpdateCartItem)
		r.Delete("/cart/items/{id}", h.RemoveCartItem)

		r.Post("/checkout", h.Checkout)
		r.Get("/orders/{id}", h.GetOrder)
	})

	r.Post("/admin/reports/daily", h.TriggerDailyReport)
	return r
}
