package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/repository"
	"github.com/fjod/go_checkout/pkg/logger"
)

var errBoom = errors.New("boom")

type fakeCarts struct {
	items    map[string][]domain.CartItem
	cleared  []string
	clearErr error
}

func (c *fakeCarts) All(_ context.Context, key string) ([]domain.CartItem, error) {
	return c.items[key], nil
}

func (c *fakeCarts) Clear(_ context.Context, key string) error {
	if c.clearErr != nil {
		return c.clearErr
	}
	c.cleared = append(c.cleared, key)
	delete(c.items, key)
	return nil
}

func (c *fakeCarts) Merge(_ context.Context, guestKey, ownerKey string) error {
	c.items[ownerKey] = append(c.items[ownerKey], c.items[guestKey]...)
	delete(c.items, guestKey)
	return nil
}

type fakeCoupons struct {
	byCode map[string]*domain.Coupon
}

func (c *fakeCoupons) FindActiveByCode(_ context.Context, code string) (*domain.Coupon, error) {
	cp, ok := c.byCode[code]
	if !ok || !cp.Usable(time.Now()) {
		return nil, repository.ErrCouponNotFound
	}
	return cp, nil
}

func (c *fakeCoupons) GetCoupon(_ context.Context, id int64) (*domain.Coupon, error) {
	for _, cp := range c.byCode {
		if cp.ID == id {
			return cp, nil
		}
	}
	return nil, repository.ErrCouponNotFound
}

type fakeGateways struct {
	gateways map[int64]*domain.Gateway
	configs  map[int64]*domain.GatewayConfig
}

func (g *fakeGateways) GetGateway(_ context.Context, id int64) (*domain.Gateway, error) {
	if gw, ok := g.gateways[id]; ok {
		return gw, nil
	}
	return nil, repository.ErrGatewayNotFound
}

func (g *fakeGateways) FindEnabledGateway(ctx context.Context, id int64) (*domain.Gateway, error) {
	gw, err := g.GetGateway(ctx, id)
	if err != nil || !gw.Enabled {
		return nil, repository.ErrGatewayNotFound
	}
	return gw, nil
}

func (g *fakeGateways) FindEnabledDefaultGateway(context.Context) (*domain.Gateway, error) {
	for _, gw := range g.gateways {
		if gw.Enabled && gw.IsDefault {
			return gw, nil
		}
	}
	return nil, nil
}

func (g *fakeGateways) GetGatewayConfig(_ context.Context, gatewayID int64, mode domain.GatewayMode) (*domain.GatewayConfig, error) {
	cfg, ok := g.configs[gatewayID]
	if !ok || cfg.Mode != mode {
		return nil, nil
	}
	return cfg, nil
}

type fakeGeo struct {
	countries, states, cities map[int64]*domain.GeoRef
}

func (g *fakeGeo) FindCountry(_ context.Context, id int64) (*domain.GeoRef, error) {
	return g.countries[id], nil
}

func (g *fakeGeo) FindState(_ context.Context, id int64) (*domain.GeoRef, error) {
	return g.states[id], nil
}

func (g *fakeGeo) FindCity(_ context.Context, id int64) (*domain.GeoRef, error) {
	return g.cities[id], nil
}

// fakeSessions stores value copies so callers cannot mutate it behind its back.
type fakeSessions struct {
	byToken map[string]domain.CheckoutSession
}

func (s *fakeSessions) GetSessionByToken(_ context.Context, token string) (*domain.CheckoutSession, error) {
	sess, ok := s.byToken[token]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return &sess, nil
}

func (s *fakeSessions) GetSessionByOwner(_ context.Context, ownerID string) (*domain.CheckoutSession, error) {
	for _, sess := range s.byToken {
		if sess.OwnerID != nil && *sess.OwnerID == ownerID {
			return &sess, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (s *fakeSessions) ownerTaken(token string, owner *string) bool {
	if owner == nil {
		return false
	}
	for t, sess := range s.byToken {
		if t != token && sess.OwnerID != nil && *sess.OwnerID == *owner {
			return true
		}
	}
	return false
}

func (s *fakeSessions) CreateSession(_ context.Context, sess *domain.CheckoutSession) error {
	if _, ok := s.byToken[sess.Token]; ok || s.ownerTaken(sess.Token, sess.OwnerID) {
		return repository.ErrOwnerHasSession
	}
	sess.CreatedAt, sess.UpdatedAt = time.Now(), time.Now()
	s.byToken[sess.Token] = *sess
	return nil
}

func (s *fakeSessions) SaveSession(_ context.Context, sess *domain.CheckoutSession) error {
	if _, ok := s.byToken[sess.Token]; !ok {
		return repository.ErrSessionNotFound
	}
	if s.ownerTaken(sess.Token, sess.OwnerID) {
		return repository.ErrOwnerHasSession
	}
	sess.UpdatedAt = time.Now()
	s.byToken[sess.Token] = *sess
	return nil
}

func (s *fakeSessions) DeleteSession(_ context.Context, token string) error {
	delete(s.byToken, token)
	return nil
}

// fakeDB only makes a transaction's writes visible when fn returns nil.
type fakeDB struct {
	failOn string
	nextID int64
	// couponLimit caps redemptions per coupon when set
	couponLimit map[int64]int

	orders     []*domain.Order
	payments   []*domain.Payment
	payables   []*domain.Payable
	couponUses map[int64]int
	events     []string
}

func (db *fakeDB) WithTx(_ context.Context, fn func(tx repository.Tx) error) error {
	tx := &fakeTx{db: db, couponUses: map[int64]int{}}
	if err := fn(tx); err != nil {
		return err
	}
	db.orders = append(db.orders, tx.orders...)
	db.payments = append(db.payments, tx.payments...)
	db.payables = append(db.payables, tx.payables...)
	db.events = append(db.events, tx.events...)
	for id, n := range tx.couponUses {
		db.couponUses[id] += n
	}
	return nil
}

type fakeTx struct {
	repository.Tx
	db *fakeDB

	orders     []*domain.Order
	payments   []*domain.Payment
	payables   []*domain.Payable
	couponUses map[int64]int
	events     []string
}

func (t *fakeTx) fail(op string) error {
	if t.db.failOn == op {
		return errBoom
	}
	return nil
}

func (t *fakeTx) id() int64 {
	t.db.nextID++
	return t.db.nextID
}

func (t *fakeTx) CreateOrder(_ context.Context, o *domain.Order) error {
	if err := t.fail("CreateOrder"); err != nil {
		return err
	}
	o.ID, o.CreatedAt = t.id(), time.Now()
	t.orders = append(t.orders, o)
	return nil
}

func (t *fakeTx) CreateOrderItems(_ context.Context, orderID int64, items []domain.OrderItem) error {
	if err := t.fail("CreateOrderItems"); err != nil {
		return err
	}
	for i := range items {
		items[i].ID, items[i].OrderID = t.id(), orderID
	}
	return nil
}

func (t *fakeTx) CreatePayment(_ context.Context, p *domain.Payment) error {
	if err := t.fail("CreatePayment"); err != nil {
		return err
	}
	p.ID = t.id()
	t.payments = append(t.payments, p)
	return nil
}

func (t *fakeTx) CreatePayable(_ context.Context, p *domain.Payable) error {
	if err := t.fail("CreatePayable"); err != nil {
		return err
	}
	p.ID = t.id()
	t.payables = append(t.payables, p)
	return nil
}

func (t *fakeTx) IncrementCouponUsage(_ context.Context, couponID int64) error {
	if err := t.fail("IncrementCouponUsage"); err != nil {
		return err
	}
	if limit, ok := t.db.couponLimit[couponID]; ok && t.db.couponUses[couponID]+t.couponUses[couponID] >= limit {
		return repository.ErrCouponExhausted
	}
	t.couponUses[couponID]++
	return nil
}

func (t *fakeTx) InsertOutboxEvent(_ context.Context, _, _, eventType string, _ any) error {
	if err := t.fail("InsertOutboxEvent"); err != nil {
		return err
	}
	t.events = append(t.events, eventType)
	return nil
}

type fixture struct {
	svc      *Service
	carts    *fakeCarts
	coupons  *fakeCoupons
	gateways *fakeGateways
	sessions *fakeSessions
	db       *fakeDB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	past := time.Now().Add(-time.Hour)
	f := &fixture{
		carts: &fakeCarts{items: map[string][]domain.CartItem{}},
		coupons: &fakeCoupons{byCode: map[string]*domain.Coupon{
			"FIXED500": {ID: 1, Code: "FIXED500", Type: domain.CouponTypeFixed, Value: decimal.NewFromInt(500), Active: true},
			"PCT20":    {ID: 2, Code: "PCT20", Type: domain.CouponTypePercentage, Value: decimal.NewFromInt(20), Active: true},
			"EXPIRED":  {ID: 3, Code: "EXPIRED", Type: domain.CouponTypeFixed, Value: decimal.NewFromInt(100), Active: true, ExpiresAt: &past},
		}},
		gateways: &fakeGateways{
			gateways: map[int64]*domain.Gateway{
				1: {ID: 1, Code: "paystack", Name: "Paystack", Enabled: true, IsDefault: true, Mode: domain.GatewayModeTest},
				2: {ID: 2, Code: "flutterwave", Name: "Flutterwave", Enabled: false},
			},
			configs: map[int64]*domain.GatewayConfig{
				1: {GatewayID: 1, Mode: domain.GatewayModeTest, Active: true, Credentials: map[string]string{"secret_key": "sk"}},
				2: {GatewayID: 2, Mode: domain.GatewayModeTest, Active: true, Credentials: map[string]string{"secret_key": "sk"}},
			},
		},
		sessions: &fakeSessions{byToken: map[string]domain.CheckoutSession{}},
		db:       &fakeDB{couponUses: map[int64]int{}},
	}
	geo := &fakeGeo{
		countries: map[int64]*domain.GeoRef{1: {ID: 1, Name: "Nigeria", Code: "NG"}},
		states:    map[int64]*domain.GeoRef{10: {ID: 10, Name: "Lagos", Code: "LA"}},
		cities:    map[int64]*domain.GeoRef{100: {ID: 100, Name: "Ikeja"}},
	}

	f.svc = NewService(Deps{
		Carts:    f.carts,
		Coupons:  f.coupons,
		Gateways: f.gateways,
		Geo:      geo,
		Sessions: f.sessions,
		Tx:       f.db,
	}, Options{
		Currency:       "NGN",
		DefaultMode:    domain.GatewayModeTest,
		MinOrderAmount: decimal.NewFromInt(100),
		MaxOrderAmount: decimal.NewFromInt(10_000_000),
	}, logger.Nop())
	return f
}

func int64p(v int64) *int64 { return &v }

func validAddress() domain.Address {
	return domain.Address{
		FullName:      "Ada Obi",
		Phone:         "+234 (0) 800-000",
		Email:         "ada@example.com",
		StreetAddress: "1 Marina Road",
		CountryID:     int64p(1),
		StateID:       int64p(10),
		CityID:        int64p(100),
	}
}

func sampleItem() domain.CartItem {
	return domain.CartItem{
		RowID:     domain.RowID(domain.ItemKindInventory, 7, nil),
		ItemID:    7,
		Kind:      domain.ItemKindInventory,
		Name:      "Kettle",
		UnitPrice: decimal.NewFromInt(1000),
		Quantity:  2,
	}
}
