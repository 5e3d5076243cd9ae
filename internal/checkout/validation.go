package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_checkout/internal/domain"
)

var phonePattern = regexp.MustCompile(`^[0-9+\-() ]+$`)

// ValidationError carries every failed check keyed by field path.
type ValidationError struct {
	Fields map[string][]string `json:"errors"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "validation failed: " + strings.Join(keys, ", ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Validate runs the pre-payment gate. It returns *ValidationError when any
// check fails, and a plain error only when a lookup itself fails.
func (s *Service) Validate(ctx context.Context, sess *domain.CheckoutSession) error {
	ve := &ValidationError{}

	validateItems(ve, sess.Items)
	validateAddress(ve, "billing_address", sess.BillingAddress, false)
	validateAddress(ve, "delivery_address", sess.DeliveryAddress, true)
	if err := s.validateGateway(ctx, ve, sess.PaymentGatewayID); err != nil {
		return err
	}
	validateAmount(ve, sess.Total, s.opts.MinOrderAmount, s.opts.MaxOrderAmount)

	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

func validateItems(ve *ValidationError, items []domain.CartItem) {
	if len(items) == 0 {
		ve.add("items", "cart is empty")
		return
	}
	for i, it := range items {
		key := fmt.Sprintf("items.%d.", i)
		if it.ItemID <= 0 || !it.Kind.Valid() {
			ve.add(key+"product_id", "must reference a product")
		}
		if it.Quantity < 1 {
			ve.add(key+"quantity", "must be a positive number")
		}
		if it.UnitPrice.IsNegative() {
			ve.add(key+"price", "must not be negative")
		}
		if strings.TrimSpace(it.Name) == "" {
			ve.add(key+"name", "is required")
		}
	}
}

func validateAddress(ve *ValidationError, prefix string, a *domain.Address, needState bool) {
	if a == nil {
		ve.add(prefix, "is required")
		return
	}

	required := []struct{ field, value string }{
		{"full_name", a.FullName},
		{"phone", a.Phone},
		{"email", a.Email},
		{"street_address", a.StreetAddress},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			ve.add(prefix+"."+r.field, "is required")
		}
	}
	if a.CountryID == nil {
		ve.add(prefix+".country", "is required")
	}
	if needState && a.StateID == nil {
		ve.add(prefix+".state", "is required")
	}

	if a.Email != "" {
		if _, err := mail.ParseAddress(a.Email); err != nil {
			ve.add(prefix+".email", "must be a valid email address")
		}
	}
	if a.Phone != "" && !phonePattern.MatchString(a.Phone) {
		ve.add(prefix+".phone", "may only contain digits, spaces and + - ( )")
	}
}

func (s *Service) validateGateway(ctx context.Context, ve *ValidationError, id *int64) error {
	const key = "payment_gateway_id"
	if id == nil {
		ve.add(key, "is required")
		return nil
	}

	g, err := s.gateways.GetGateway(ctx, *id)
	if errors.Is(err, domain.ErrNotFound) {
		ve.add(key, "does not exist")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load payment gateway: %w", err)
	}
	if !g.Enabled {
		ve.add(key, "is disabled")
		return nil
	}

	mode := g.Mode
	if mode == "" {
		mode = s.opts.DefaultMode
	}
	cfg, err := s.gateways.GetGatewayConfig(ctx, g.ID, mode)
	if err != nil {
		return fmt.Errorf("load payment gateway config: %w", err)
	}
	if cfg == nil || !cfg.Active {
		ve.add(key, fmt.Sprintf("has no active %s configuration", mode))
	}
	return nil
}

func validateAmount(ve *ValidationError, total, minAmount, maxAmount decimal.Decimal) {
	const key = "amount"
	switch {
	case !total.IsPositive():
		ve.add(key, "must be greater than zero")
	case total.LessThan(minAmount):
		ve.add(key, "must be at least "+minAmount.StringFixed(2))
	case maxAmount.IsPositive() && total.GreaterThan(maxAmount):
		ve.add(key, "must not exceed "+maxAmount.StringFixed(2))
	}
}
