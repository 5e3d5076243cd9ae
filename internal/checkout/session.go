// Package checkout drives a token-addressed draft from cart to a committed
// order and payment.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/pricing"
	"github.com/fjod/go_checkout/internal/repository"
)

type CartReader interface {
	All(ctx context.Context, ownerKey string) ([]domain.CartItem, error)
	Clear(ctx context.Context, ownerKey string) error
	Merge(ctx context.Context, guestKey, ownerKey string) error
}

type CouponFinder interface {
	FindActiveByCode(ctx context.Context, code string) (*domain.Coupon, error)
	GetCoupon(ctx context.Context, id int64) (*domain.Coupon, error)
}

type GatewayRegistry interface {
	GetGateway(ctx context.Context, id int64) (*domain.Gateway, error)
	FindEnabledGateway(ctx context.Context, id int64) (*domain.Gateway, error)
	FindEnabledDefaultGateway(ctx context.Context) (*domain.Gateway, error)
	GetGatewayConfig(ctx context.Context, gatewayID int64, mode domain.GatewayMode) (*domain.GatewayConfig, error)
}

// GeoResolver lookups return nil, nil for unknown ids.
type GeoResolver interface {
	FindCountry(ctx context.Context, id int64) (*domain.GeoRef, error)
	FindState(ctx context.Context, id int64) (*domain.GeoRef, error)
	FindCity(ctx context.Context, id int64) (*domain.GeoRef, error)
}

type SessionStore interface {
	GetSessionByToken(ctx context.Context, token string) (*domain.CheckoutSession, error)
	GetSessionByOwner(ctx context.Context, ownerID string) (*domain.CheckoutSession, error)
	CreateSession(ctx context.Context, s *domain.CheckoutSession) error
	SaveSession(ctx context.Context, s *domain.CheckoutSession) error
	DeleteSession(ctx context.Context, token string) error
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx repository.Tx) error) error
}

type Deps struct {
	Carts    CartReader
	Coupons  CouponFinder
	Gateways GatewayRegistry
	Geo      GeoResolver
	Sessions SessionStore
	Tx       TxRunner
}

type Options struct {
	Currency       string
	DefaultMode    domain.GatewayMode
	MinOrderAmount decimal.Decimal
	MaxOrderAmount decimal.Decimal
}

type Service struct {
	carts    CartReader
	coupons  CouponFinder
	gateways GatewayRegistry
	geo      GeoResolver
	sessions SessionStore
	tx       TxRunner
	opts     Options
	log      *slog.Logger
}

func NewService(deps Deps, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		carts:    deps.Carts,
		coupons:  deps.Coupons,
		gateways: deps.Gateways,
		geo:      deps.Geo,
		sessions: deps.Sessions,
		tx:       deps.Tx,
		opts:     opts,
		log:      log,
	}
}

// Identity is who is asking: a session token, an authenticated owner, or both.
type Identity struct {
	Token   string
	OwnerID string
}

// Resolve finds the caller's draft by token, then by owner, and creates one
// when neither matches. The returned session is already synced with the cart.
func (s *Service) Resolve(ctx context.Context, id Identity) (*domain.CheckoutSession, error) {
	sess, err := s.lookup(ctx, &id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		if sess, err = s.create(ctx, id); err != nil {
			return nil, err
		}
	}

	if err := s.SyncItems(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// lookup clears id.Token when the token belongs to somebody else so that a
// fresh one is generated.
func (s *Service) lookup(ctx context.Context, id *Identity) (*domain.CheckoutSession, error) {
	if id.Token != "" {
		sess, err := s.sessions.GetSessionByToken(ctx, id.Token)
		switch {
		case err == nil && sess.OwnerID == nil && id.OwnerID != "":
			return s.adopt(ctx, sess, id.OwnerID)
		case err == nil && (sess.OwnerID == nil || *sess.OwnerID == id.OwnerID):
			return sess, nil
		case err == nil:
			id.Token = ""
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}

	if id.OwnerID != "" {
		sess, err := s.sessions.GetSessionByOwner(ctx, id.OwnerID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// adopt stamps the owner on a guest draft and moves the guest cart over,
// unless the owner already has a draft of their own.
func (s *Service) adopt(ctx context.Context, sess *domain.CheckoutSession, ownerID string) (*domain.CheckoutSession, error) {
	_, err := s.sessions.GetSessionByOwner(ctx, ownerID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	guestKey := sess.CartKey()
	sess.OwnerID = &ownerID
	if err := s.carts.Merge(ctx, guestKey, sess.CartKey()); err != nil {
		return nil, err
	}
	if err := s.sessions.SaveSession(ctx, sess); err != nil {
		if errors.Is(err, repository.ErrOwnerHasSession) {
			sess.OwnerID = nil
			return sess, nil
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "guest checkout adopted", "session_id", sess.ID, "owner_id", ownerID)
	return sess, nil
}

func (s *Service) create(ctx context.Context, id Identity) (*domain.CheckoutSession, error) {
	sess := &domain.CheckoutSession{ID: uuid.NewString(), Token: id.Token}
	if sess.Token == "" {
		sess.Token = uuid.NewString()
	}
	if id.OwnerID != "" {
		owner := id.OwnerID
		sess.OwnerID = &owner
	}

	g, err := s.gateways.FindEnabledDefaultGateway(ctx)
	if err != nil {
		return nil, err
	}
	if g != nil {
		sess.PaymentGatewayID = &g.ID
	}

	err = s.sessions.CreateSession(ctx, sess)
	if errors.Is(err, repository.ErrOwnerHasSession) {
		// lost a race against a concurrent first request
		if id.OwnerID != "" {
			return s.sessions.GetSessionByOwner(ctx, id.OwnerID)
		}
		return s.sessions.GetSessionByToken(ctx, sess.Token)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// SyncItems copies the current cart into the draft and reprices it. A coupon
// that stopped being redeemable is dropped.
func (s *Service) SyncItems(ctx context.Context, sess *domain.CheckoutSession) error {
	items, err := s.carts.All(ctx, sess.CartKey())
	if err != nil {
		return err
	}
	sess.Items = items

	coupon, err := s.currentCoupon(ctx, sess)
	if err != nil {
		return err
	}

	t := pricing.Calculate(sess.Items, coupon)
	sess.Subtotal, sess.Discount, sess.Tax, sess.Shipping, sess.Total = t.Subtotal, t.Discount, t.Tax, t.Shipping, t.Total

	return s.sessions.SaveSession(ctx, sess)
}

func (s *Service) currentCoupon(ctx context.Context, sess *domain.CheckoutSession) (*domain.Coupon, error) {
	if sess.CouponID == nil {
		return nil, nil
	}
	c, err := s.coupons.GetCoupon(ctx, *sess.CouponID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if c == nil || !c.Usable(timeNow()) {
		s.log.InfoContext(ctx, "coupon dropped from checkout", "session_id", sess.ID, "coupon_id", *sess.CouponID)
		sess.CouponID, sess.CouponCode = nil, nil
		return nil, nil
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, token string) (*domain.CheckoutSession, error) {
	return s.mutate(ctx, token, func(*domain.CheckoutSession) error { return nil })
}

func (s *Service) ApplyCoupon(ctx context.Context, token, code string) (*domain.CheckoutSession, error) {
	return s.mutate(ctx, token, func(sess *domain.CheckoutSession) error {
		c, err := s.coupons.FindActiveByCode(ctx, strings.TrimSpace(code))
		if err != nil {
			return err
		}
		sess.CouponID, sess.CouponCode = &c.ID, &c.Code
		return nil
	})
}

func (s *Service) RemoveCoupon(ctx context.Context, token string) (*domain.CheckoutSession, error) {
	return s.mutate(ctx, token, func(sess *domain.CheckoutSession) error {
		sess.CouponID, sess.CouponCode = nil, nil
		return nil
	})
}

func (s *Service) SetBillingAddress(ctx context.Context, token string, addr domain.Address) (*domain.CheckoutSession, error) {
	return s.mutate(ctx, token, func(sess *domain.CheckoutSession) error {
		sess.BillingAddress = &addr
		return nil
	})
}

// SetDeliveryAddress embeds whatever country, state and city it can resolve.
func (s *Service) SetDeliveryAddress(ctx context.Context, token string, addr domain.Address) (*domain.CheckoutSession, error) {
	return s.mutate(ctx, token, func(sess *domain.CheckoutSession) error {
		s.embedGeo(ctx, &addr)
		sess.DeliveryAddress = &addr
		return nil
	})
}

func (s *Service) SetPaymentGateway(ctx context.Context, token string, gatewayID int64) (*domain.CheckoutSession, error) {
	return s.mutate(ctx, token, func(sess *domain.CheckoutSession) error {
		g, err := s.gateways.FindEnabledGateway(ctx, gatewayID)
		if err != nil {
			return err
		}
		sess.PaymentGatewayID = &g.ID
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, token string, fn func(*domain.CheckoutSession) error) (*domain.CheckoutSession, error) {
	sess, err := s.sessions.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := s.SyncItems(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) embedGeo(ctx context.Context, a *domain.Address) {
	a.Country, a.State, a.CityRef = nil, nil, nil
	if a.CountryID != nil {
		a.Country = s.findGeo(ctx, "country", *a.CountryID, s.geo.FindCountry)
	}
	if a.StateID != nil {
		a.State = s.findGeo(ctx, "state", *a.StateID, s.geo.FindState)
	}
	if a.CityID != nil {
		a.CityRef = s.findGeo(ctx, "city", *a.CityID, s.geo.FindCity)
	}
	if a.City == "" && a.CityRef != nil {
		a.City = a.CityRef.Name
	}
}

func (s *Service) findGeo(ctx context.Context, kind string, id int64, find func(context.Context, int64) (*domain.GeoRef, error)) *domain.GeoRef {
	ref, err := find(ctx, id)
	if err != nil {
		s.log.WarnContext(ctx, "geo lookup failed", "kind", kind, "id", id, "error", err)
		return nil
	}
	return ref
}
