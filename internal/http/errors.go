package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/go_checkout/internal/cart"
	"github.com/fjod/go_checkout/internal/checkout"
	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/gateway"
	"github.com/fjod/go_checkout/internal/payment"
)

type ErrorResponse struct {
	Error     string              `json:"error"`
	Code      string              `json:"code,omitempty"`
	Details   string              `json:"details,omitempty"`
	Fields    map[string][]string `json:"errors,omitempty"`
	Missing   []string            `json:"missing,omitempty"`
	OrderID   *int64              `json:"order_id,omitempty"`
	PaymentID *int64              `json:"payment_id,omitempty"`
}

// sentinelKinds maps plain sentinel errors to a status and error code.
var sentinelKinds = []struct {
	err    error
	status int
	code   string
}{
	{payment.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{payment.ErrNotPending, http.StatusConflict, "payment_not_pending"},
	{payment.ErrBadNotification, http.StatusBadRequest, "bad_notification"},
	{payment.ErrGatewayMismatch, http.StatusBadRequest, "gateway_mismatch"},
	{gateway.ErrUnsupportedGateway, http.StatusInternalServerError, "unsupported_gateway"},
	{cart.ErrInvalidItem, http.StatusBadRequest, "invalid_item"},
	{cart.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{cart.ErrLineNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	{context.Canceled, http.StatusRequestTimeout, "canceled"},
}

// errorBody classifies err into a status and response body. Unknown errors
// are reported as 500 without leaking their text.
func errorBody(err error) (int, ErrorResponse) {
	var (
		ve *checkout.ValidationError
		ce *gateway.ConfigError
		pe *gateway.ProviderError
		ie *payment.IntegrityError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "validation failed", Code: "validation_failed", Fields: ve.Fields}
	case errors.As(err, &ce):
		status := ce.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, ErrorResponse{Error: ce.Message, Code: "gateway_config", Missing: ce.Missing}
	case errors.As(err, &pe):
		return providerStatus(pe), ErrorResponse{Error: pe.Message, Code: "gateway_error", Details: pe.Gateway}
	case errors.As(err, &ie):
		return http.StatusConflict, ErrorResponse{Error: "payment does not match the quoted amount", Code: "integrity_mismatch"}
	}

	for _, k := range sentinelKinds {
		if errors.Is(err, k.err) {
			return k.status, ErrorResponse{Error: err.Error(), Code: k.code}
		}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"}
}

// providerStatus passes through client errors the provider reported and
// turns everything else into a bad gateway.
func providerStatus(pe *gateway.ProviderError) int {
	if pe.Status >= 400 && pe.Status < 500 {
		return pe.Status
	}
	return http.StatusBadGateway
}

func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	respondJSON(w, status, body)
}
