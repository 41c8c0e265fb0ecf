package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Carts              Carts
	Checkout           Checkouter
	Catalog            map[string]int64
	Log                *logrus.Logger
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	Heartbeat          time.Duration
}

// NewRouter wires the cart API. The event stream sits outside the request
// timeout since it stays open for the life of the page.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 25 * time.Second
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = 1 << 20 // 1MB
	}
	cartHandler := NewCartHandler(cfg.Carts, cfg.Catalog, cfg.RequestTimeout)
	checkoutHandler := NewCheckoutHandler(cfg.Carts, cfg.Checkout, cfg.RequestTimeout)
	eventsHandler := NewEventsHandler(cfg.Carts, cfg.Heartbeat)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(EnsureSession)
	r.Use(RequestLogger(cfg.Log))
	r.Use(middleware.Recoverer)

	r.Get("/health", cartHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/cart/events", eventsHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			r.Use(middleware.RequestSize(cfg.MaxRequestBodySize))
			r.Use(middleware.Compress(5))

			r.Get("/cart", cartHandler.GetCart)
			r.Delete("/cart", cartHandler.ClearCart)
			r.Post("/cart/items", cartHandler.AddItem)
			r.Put("/cart/items/{price_id}", cartHandler.UpdateQuantity)
			r.Delete("/cart/items/{price_id}", cartHandler.RemoveItem)
			r.Post("/checkout", checkoutHandler.InitiateCheckout)
		})
	})

	return otelhttp.NewHandler(r, "merch-cart")
}
