// Package gateway adapts external payment providers to one verification contract.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_checkout/internal/domain"
)

var ErrUnsupportedGateway = errors.New("unsupported payment gateway")

// Adapter is implemented once per provider.
type Adapter interface {
	Code() string
	// Initialize opens a hosted payment session for p.
	Initialize(ctx context.Context, p *domain.Payment) (*InitResult, error)
	// VerifyWebhook and VerifyCallback always re-query the provider; the
	// inbound payload is only used to locate the transaction.
	VerifyWebhook(ctx context.Context, payload []byte, p *domain.Payment) (*Verification, error)
	VerifyCallback(ctx context.Context, query url.Values, p *domain.Payment) (*Verification, error)
	// ValidateSignature never panics or errors; anything malformed is false.
	ValidateSignature(headers http.Header, body []byte) bool
	// WebhookReference extracts our transaction reference from a notification.
	WebhookReference(payload []byte) (string, error)
}

type InitResult struct {
	GatewayReference string `json:"gateway_reference"`
	CheckoutURL      string `json:"checkout_url"`
	AccessCode       string `json:"access_code,omitempty"`
}

// Verification is the provider's authoritative view of a transaction, in
// major currency units.
type Verification struct {
	Status    string
	Amount    decimal.Decimal
	Currency  string
	Method    string
	Reference string
	PaidAt    string
}

// ProviderError is a non-success answer from the provider.
type ProviderError struct {
	Gateway string
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: provider returned %d: %s", e.Gateway, e.Status, e.Message)
}

// ConfigError is an operator-fixable problem with a gateway's setup.
type ConfigError struct {
	Status  int
	Message string
	Missing []string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: missing %s", e.Message, strings.Join(e.Missing, ", "))
	}
	return e.Message
}

// toMinor and fromMinor are exact inverses for a given factor.
func toMinor(amount decimal.Decimal, factor int64) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(factor))
}

func fromMinor(amount decimal.Decimal, factor int64) decimal.Decimal {
	return amount.Div(decimal.NewFromInt(factor))
}

func baseURL(creds map[string]string, fallback string) string {
	if u := strings.TrimRight(creds["base_url"], "/"); u != "" {
		return u
	}
	return fallback
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
