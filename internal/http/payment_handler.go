package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/payment"
)

type PaymentService interface {
	Initialize(ctx context.Context, paymentID int64, caller payment.Caller, mode domain.GatewayMode) (*payment.Checkout, error)
	HandleWebhook(ctx context.Context, code string, headers http.Header, body []byte) (*payment.Outcome, error)
	HandleCallback(ctx context.Context, query url.Values, verifier *string) (*payment.Outcome, error)
}

type PaymentHandler struct {
	payments PaymentService
	timeout  time.Duration
	log      *slog.Logger
}

func NewPaymentHandler(payments PaymentService, timeout time.Duration, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, timeout: timeout, log: log}
}

type InitializeRequestDTO struct {
	Mode string `json:"mode,omitempty"`
}

// InitializeResponseDTO carries nothing about the payer; anyone holding the
// payment id could otherwise read it back.
type InitializeResponseDTO struct {
	PaymentID   int64  `json:"payment_id"`
	Reference   string `json:"reference"`
	Gateway     string `json:"gateway"`
	CheckoutURL string `json:"checkout_url"`
}

func toInitializeResponse(c *payment.Checkout) InitializeResponseDTO {
	return InitializeResponseDTO{PaymentID: c.PaymentID, Reference: c.Reference, Gateway: c.Gateway, CheckoutURL: c.CheckoutURL}
}

type VerificationResponseDTO struct {
	Reference string               `json:"reference"`
	Status    domain.PaymentStatus `json:"status"`
}

// POST /api/v1/payments/{paymentID}/initialize
//
// Only the payment's owner (X-User-ID) or, for a guest payment, the holder of
// its access token (X-Payment-Token) may open it; anyone else gets 404.
func (h *PaymentHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, err := strconv.ParseInt(chi.URLParam(r, "paymentID"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_payment_id", "payment id must be a positive integer")
		return
	}

	var req InitializeRequestDTO
	if !decodeJSON(w, r, &req, true) {
		return
	}
	mode, ok := parseMode(req.Mode)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_mode", "mode must be test or live")
		return
	}

	caller := payment.Caller{
		OwnerID:     userIDFromContext(r.Context()),
		AccessToken: strings.TrimSpace(r.Header.Get(HeaderPaymentToken)),
	}
	c, err := h.payments.Initialize(ctx, id, caller, mode)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toInitializeResponse(c))
}

// GET /api/v1/payments/callback
//
// Providers send the shopper's browser here. After verification the shopper
// is sent on to the return URL recorded at checkout, if there is one.
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	out, err := h.payments.HandleCallback(ctx, r.URL.Query(), verifier(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	pay := out.Payment
	if target := pay.ReturnURL(); target != "" {
		if u, perr := url.Parse(target); perr == nil {
			q := u.Query()
			q.Set("reference", pay.TransactionReference)
			q.Set("status", string(pay.Status))
			u.RawQuery = q.Encode()
			http.Redirect(w, r, u.String(), http.StatusSeeOther)
			return
		}
		h.log.WarnContext(ctx, "ignoring unparsable return url", "payment_id", pay.ID, "return_url", target)
	}

	respondJSON(w, http.StatusOK, VerificationResponseDTO{
		Reference: pay.TransactionReference,
		Status:    pay.Status,
	})
}

// POST /api/v1/payments/webhook/{gateway}
//
// Providers retry anything that is not 2xx, so duplicates and already
// settled payments are acknowledged with 200.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "body_too_large", "webhook body too large")
		return
	}

	code := chi.URLParam(r, "gateway")
	out, err := h.payments.HandleWebhook(ctx, code, r.Header, body)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	h.log.InfoContext(ctx, "webhook processed",
		"gateway", code,
		"payment_id", out.Payment.ID,
		"status", out.Payment.Status,
		"duplicate", out.AlreadyApplied)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
