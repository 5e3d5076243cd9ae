package payment

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/gateway"
	"github.com/fjod/go_checkout/internal/repository"
)

var (
	ErrNotPending       = errors.New("payment is no longer pending")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrBadNotification  = errors.New("unreadable gateway notification")
	ErrGatewayMismatch  = errors.New("notification gateway does not match the payment")
)

// Caller is whoever asks to open a payment's hosted checkout. A payment with
// an owner opens only for that owner; a guest payment opens only with the
// access token issued when it was created.
type Caller struct {
	OwnerID     string
	AccessToken string
}

// Checkout is what a shopper needs to continue to the provider's hosted page.
type Checkout struct {
	PaymentID   int64
	Reference   string
	Gateway     string
	CheckoutURL string
}

func (c Caller) owns(p *domain.Payment) bool {
	if p.OwnerID != nil {
		return c.OwnerID != "" && c.OwnerID == *p.OwnerID
	}
	want := p.AccessToken()
	return want != "" && subtle.ConstantTimeCompare([]byte(c.AccessToken), []byte(want)) == 1
}

type Store interface {
	GetPayment(ctx context.Context, id int64) (*domain.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error)
	SetPaymentInitialization(ctx context.Context, id int64, gatewayReference, checkoutURL string) error
	GetGatewayByCode(ctx context.Context, code string) (*domain.Gateway, error)
}

type AdapterResolver interface {
	ForPayment(ctx context.Context, p *domain.Payment, override domain.GatewayMode) (gateway.Adapter, error)
	ForCode(ctx context.Context, code string, override domain.GatewayMode) (gateway.Adapter, error)
}

type Service struct {
	store      Store
	resolver   AdapterResolver
	reconciler *Reconciler
	timeout    time.Duration
	log        *slog.Logger
}

func NewService(store Store, resolver AdapterResolver, reconciler *Reconciler, timeout time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, resolver: resolver, reconciler: reconciler, timeout: timeout, log: log}
}

// Initialize opens a hosted checkout for a committed payment. It holds no
// transaction while the provider is called and may be retried. Payments the
// caller does not own are reported as not found.
func (s *Service) Initialize(ctx context.Context, paymentID int64, caller Caller, mode domain.GatewayMode) (*Checkout, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !caller.owns(p) {
		return nil, repository.ErrPaymentNotFound
	}
	if p.Status != domain.PaymentStatusPending {
		return nil, fmt.Errorf("initialize payment %d: %w", p.ID, ErrNotPending)
	}

	adapter, err := s.resolver.ForPayment(ctx, p, mode)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := adapter.Initialize(callCtx, p)
	if err != nil {
		s.log.ErrorContext(ctx, "gateway initialize failed", "payment_id", p.ID, "gateway", adapter.Code(), "error", err)
		return nil, err
	}

	if err := s.store.SetPaymentInitialization(ctx, p.ID, res.GatewayReference, res.CheckoutURL); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "payment initialized", "payment_id", p.ID, "gateway", adapter.Code())
	return &Checkout{
		PaymentID:   p.ID,
		Reference:   p.TransactionReference,
		Gateway:     adapter.Code(),
		CheckoutURL: res.CheckoutURL,
	}, nil
}

// HandleWebhook authenticates a provider notification, re-verifies the
// transaction with the provider and reconciles it.
func (s *Service) HandleWebhook(ctx context.Context, code string, headers http.Header, body []byte) (*Outcome, error) {
	adapter, err := s.resolver.ForCode(ctx, code, "")
	if err != nil {
		return nil, err
	}
	if !adapter.ValidateSignature(headers, body) {
		s.log.WarnContext(ctx, "webhook rejected", "gateway", code)
		return nil, ErrInvalidSignature
	}

	ref, err := adapter.WebhookReference(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadNotification, err)
	}
	p, err := s.store.GetPaymentByReference(ctx, ref)
	if err != nil {
		return nil, err
	}

	// a valid signature only vouches for payments made through this gateway
	g, err := s.store.GetGatewayByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if g.ID != p.PaymentGatewayID {
		s.log.WarnContext(ctx, "webhook for another gateway's payment",
			"gateway", code, "payment_id", p.ID, "payment_gateway_id", p.PaymentGatewayID)
		return nil, ErrGatewayMismatch
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	v, err := adapter.VerifyWebhook(callCtx, body, p)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Apply(ctx, p.ID, v, nil)
}

// HandleCallback verifies the browser redirect back from the provider.
func (s *Service) HandleCallback(ctx context.Context, query url.Values, verifier *string) (*Outcome, error) {
	ref := CallbackReference(query)
	if ref == "" {
		return nil, fmt.Errorf("%w: callback carries no reference", ErrBadNotification)
	}
	p, err := s.store.GetPaymentByReference(ctx, ref)
	if err != nil {
		return nil, err
	}

	adapter, err := s.resolver.ForPayment(ctx, p, "")
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	v, err := adapter.VerifyCallback(callCtx, query, p)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Apply(ctx, p.ID, v, verifier)
}

// CallbackReference finds our transaction reference among the query keys
// the supported providers append to the redirect.
func CallbackReference(query url.Values) string {
	for _, key := range []string{"reference", "trxref", "tx_ref"} {
		if v := query.Get(key); v != "" {
			return v
		}
	}
	return ""
}
