package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_checkout/internal/checkout"
	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/payment"
)

type CheckoutService interface {
	SessionResolver
	ApplyCoupon(ctx context.Context, token, code string) (*domain.CheckoutSession, error)
	RemoveCoupon(ctx context.Context, token string) (*domain.CheckoutSession, error)
	SetBillingAddress(ctx context.Context, token string, addr domain.Address) (*domain.CheckoutSession, error)
	SetDeliveryAddress(ctx context.Context, token string, addr domain.Address) (*domain.CheckoutSession, error)
	SetPaymentGateway(ctx context.Context, token string, gatewayID int64) (*domain.CheckoutSession, error)
	Validate(ctx context.Context, sess *domain.CheckoutSession) error
	ProceedToPayment(ctx context.Context, token string, opts checkout.ProceedOptions) (*checkout.Result, error)
}

type CheckoutHandler struct {
	checkout    CheckoutService
	payments    PaymentService
	callbackURL string
	timeout     time.Duration
	log         *slog.Logger
}

// NewCheckoutHandler takes the absolute URL of the payment callback route;
// it is handed to providers as the browser redirect target.
func NewCheckoutHandler(svc CheckoutService, payments PaymentService, callbackURL string, timeout time.Duration, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: svc, payments: payments, callbackURL: callbackURL, timeout: timeout, log: log}
}

type CouponRequestDTO struct {
	Code string `json:"code"`
}

type GatewayRequestDTO struct {
	PaymentGatewayID int64 `json:"payment_gateway_id"`
}

type ProceedRequestDTO struct {
	StoreID        *int64         `json:"store_id,omitempty"`
	ReturnURL      *string        `json:"return_url,omitempty"`
	CancelURL      *string        `json:"cancel_url,omitempty"`
	DeliveryMethod string         `json:"delivery_method,omitempty"`
	Mode           string         `json:"mode,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ProceedResponseDTO hands a guest the payment's access token once; it is
// needed to reopen the hosted checkout later.
type ProceedResponseDTO struct {
	Order       *domain.Order         `json:"order"`
	Payment     InitializeResponseDTO `json:"payment"`
	AccessToken string                `json:"access_token,omitempty"`
	CheckoutURL string                `json:"checkout_url"`
}

// GET /api/v1/checkout
func (h *CheckoutHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sessionFromContext(r.Context()))
}

// POST /api/v1/checkout/coupon
func (h *CheckoutHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req CouponRequestDTO
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "missing_code", "code is required")
		return
	}
	h.mutate(w, r, func(ctx context.Context, token string) (*domain.CheckoutSession, error) {
		return h.checkout.ApplyCoupon(ctx, token, req.Code)
	})
}

// DELETE /api/v1/checkout/coupon
func (h *CheckoutHandler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.checkout.RemoveCoupon)
}

// PUT /api/v1/checkout/billing-address
func (h *CheckoutHandler) SetBillingAddress(w http.ResponseWriter, r *http.Request) {
	var addr domain.Address
	if !decodeJSON(w, r, &addr, false) {
		return
	}
	h.mutate(w, r, func(ctx context.Context, token string) (*domain.CheckoutSession, error) {
		return h.checkout.SetBillingAddress(ctx, token, addr)
	})
}

// PUT /api/v1/checkout/delivery-address
func (h *CheckoutHandler) SetDeliveryAddress(w http.ResponseWriter, r *http.Request) {
	var addr domain.Address
	if !decodeJSON(w, r, &addr, false) {
		return
	}
	h.mutate(w, r, func(ctx context.Context, token string) (*domain.CheckoutSession, error) {
		return h.checkout.SetDeliveryAddress(ctx, token, addr)
	})
}

// PUT /api/v1/checkout/payment-gateway
func (h *CheckoutHandler) SetPaymentGateway(w http.ResponseWriter, r *http.Request) {
	var req GatewayRequestDTO
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.PaymentGatewayID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_gateway_id", "payment_gateway_id must be positive")
		return
	}
	h.mutate(w, r, func(ctx context.Context, token string) (*domain.CheckoutSession, error) {
		return h.checkout.SetPaymentGateway(ctx, token, req.PaymentGatewayID)
	})
}

// POST /api/v1/checkout/validate
func (h *CheckoutHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.checkout.Validate(ctx, sessionFromContext(r.Context())); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// POST /api/v1/checkout/proceed
//
// The order and payment are committed before the provider is called. If
// initialization then fails the response still carries their ids so the
// client can retry POST /payments/{id}/initialize.
func (h *CheckoutHandler) Proceed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ProceedRequestDTO
	if !decodeJSON(w, r, &req, true) {
		return
	}
	mode, ok := parseMode(req.Mode)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_mode", "mode must be test or live")
		return
	}

	callback := h.callbackURL
	res, err := h.checkout.ProceedToPayment(ctx, sessionFromContext(r.Context()).Token, checkout.ProceedOptions{
		StoreID:        req.StoreID,
		CallbackURL:    &callback,
		CancelURL:      req.CancelURL,
		ReturnURL:      req.ReturnURL,
		DeliveryMethod: req.DeliveryMethod,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	caller := payment.Caller{OwnerID: userIDFromContext(r.Context()), AccessToken: res.Payment.AccessToken()}
	c, err := h.payments.Initialize(ctx, res.Payment.ID, caller, mode)
	if err != nil {
		status, body := errorBody(err)
		body.OrderID, body.PaymentID = &res.Order.ID, &res.Payment.ID
		if status >= http.StatusInternalServerError {
			h.log.ErrorContext(ctx, "payment initialization failed", "payment_id", res.Payment.ID, "error", err)
		}
		respondJSON(w, status, body)
		return
	}

	resp := ProceedResponseDTO{Order: res.Order, Payment: toInitializeResponse(c), CheckoutURL: c.CheckoutURL}
	if res.Payment.OwnerID == nil {
		resp.AccessToken = res.Payment.AccessToken()
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (h *CheckoutHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, token string) (*domain.CheckoutSession, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, err := fn(ctx, sessionFromContext(r.Context()).Token)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func parseMode(raw string) (domain.GatewayMode, bool) {
	switch m := domain.GatewayMode(raw); m {
	case "", domain.GatewayModeTest, domain.GatewayModeLive:
		return m, true
	default:
		return "", false
	}
}
