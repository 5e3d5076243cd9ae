package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// CallbackPath is the route providers redirect the shopper's browser to.
const CallbackPath = "/api/v1/payments/callback"

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Carts          CartService
	Checkout       CheckoutService
	Payments       PaymentService
	Orders         OrderReader
	Ready          []Pinger
	PublicURL      string
	RequestTimeout time.Duration
	Log            *slog.Logger
}

func NewRouter(cfg RouterConfig) chi.Router {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	cartHandler := NewCartHandler(cfg.Carts, cfg.RequestTimeout, log)
	checkoutHandler := NewCheckoutHandler(cfg.Checkout, cfg.Payments, cfg.PublicURL+CallbackPath, cfg.RequestTimeout, log)
	paymentHandler := NewPaymentHandler(cfg.Payments, cfg.RequestTimeout, log)
	orderHandler := NewOrderHandler(cfg.Orders, cfg.RequestTimeout, log)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(IdentityMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, p := range cfg.Ready {
			if err := p.Ping(ctx); err != nil {
				respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(SessionMiddleware(cfg.Checkout, log))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{rowID}", cartHandler.UpdateQuantity)
				r.Delete("/items/{rowID}", cartHandler.RemoveItem)
				r.Post("/items/{rowID}/increase", cartHandler.Increase)
				r.Post("/items/{rowID}/decrease", cartHandler.Decrease)
			})

			r.Route("/checkout", func(r chi.Router) {
				r.Get("/", checkoutHandler.GetSession)
				r.Post("/coupon", checkoutHandler.ApplyCoupon)
				r.Delete("/coupon", checkoutHandler.RemoveCoupon)
				r.Put("/billing-address", checkoutHandler.SetBillingAddress)
				r.Put("/delivery-address", checkoutHandler.SetDeliveryAddress)
				r.Put("/payment-gateway", checkoutHandler.SetPaymentGateway)
				r.Post("/validate", checkoutHandler.Validate)
				r.Post("/proceed", checkoutHandler.Proceed)
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/{paymentID}/initialize", paymentHandler.Initialize)
			r.Get("/callback", paymentHandler.Callback)
			r.Post("/webhook/{gateway}", paymentHandler.Webhook)
		})

		r.Get("/orders/{orderID}", orderHandler.GetOrder)
	})

	return r
}
