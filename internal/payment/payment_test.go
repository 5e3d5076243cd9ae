package payment

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/gateway"
	"github.com/fjod/go_checkout/internal/repository"
	"github.com/fjod/go_checkout/pkg/logger"
)

// memDB keeps payments by id. A transaction works on copies and only writes
// them back when fn succeeds; mu stands in for the row lock.
type memDB struct {
	mu       sync.Mutex
	payments map[int64]domain.Payment
	events   []domain.PaymentVerifiedEvent
	saves    int
	initRef  map[int64][2]string
}

func newMemDB(payments ...domain.Payment) *memDB {
	db := &memDB{payments: map[int64]domain.Payment{}, initRef: map[int64][2]string{}}
	for _, p := range payments {
		db.payments[p.ID] = p
	}
	return db
}

func (db *memDB) WithTx(_ context.Context, fn func(tx repository.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx := &memTx{db: db, staged: map[int64]domain.Payment{}}
	if err := fn(tx); err != nil {
		return err
	}
	for id, p := range tx.staged {
		db.payments[id] = p
	}
	db.saves += len(tx.staged)
	db.events = append(db.events, tx.events...)
	return nil
}

func (db *memDB) GetPayment(_ context.Context, id int64) (*domain.Payment, error) {
	p, ok := db.payments[id]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return &p, nil
}

func (db *memDB) GetPaymentByReference(_ context.Context, ref string) (*domain.Payment, error) {
	for _, p := range db.payments {
		if p.TransactionReference == ref {
			return &p, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (db *memDB) SetPaymentInitialization(_ context.Context, id int64, gatewayRef, checkoutURL string) error {
	p, ok := db.payments[id]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	p.GatewayReference, p.CheckoutURL = &gatewayRef, &checkoutURL
	db.payments[id] = p
	db.initRef[id] = [2]string{gatewayRef, checkoutURL}
	return nil
}

var gatewayIDs = map[string]int64{"paystack": 1, "flutterwave": 2}

func (db *memDB) GetGatewayByCode(_ context.Context, code string) (*domain.Gateway, error) {
	id, ok := gatewayIDs[code]
	if !ok {
		return nil, repository.ErrGatewayNotFound
	}
	return &domain.Gateway{ID: id, Code: code, Enabled: true}, nil
}

type memTx struct {
	repository.Tx
	db     *memDB
	staged map[int64]domain.Payment
	events []domain.PaymentVerifiedEvent
}

func (t *memTx) LockPayment(_ context.Context, id int64) (*domain.Payment, error) {
	p, ok := t.db.payments[id]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return &p, nil
}

func (t *memTx) SavePaymentResult(_ context.Context, p *domain.Payment) error {
	t.staged[p.ID] = *p
	return nil
}

func (t *memTx) InsertOutboxEvent(_ context.Context, topic, _, eventType string, payload any) error {
	if topic != domain.TopicPaymentEvents || eventType != domain.EventPaymentVerified {
		return errors.New("unexpected event")
	}
	t.events = append(t.events, payload.(domain.PaymentVerifiedEvent))
	return nil
}

func pendingPayment() domain.Payment {
	return domain.Payment{
		ID:                   1,
		PaymentGatewayID:     1,
		Amount:               decimal.NewFromInt(5000),
		Currency:             "NGN",
		TransactionReference: "PAY-1",
		Status:               domain.PaymentStatusPending,
		Metadata:             map[string]any{domain.MetadataAccessToken: "tok-1"},
	}
}

// guest holds the access token issued with pendingPayment.
var guest = Caller{AccessToken: "tok-1"}

func success() *gateway.Verification {
	return &gateway.Verification{
		Status:    "success",
		Amount:    decimal.RequireFromString("5000.00"),
		Currency:  "ngn",
		Method:    "card",
		Reference: "GW-1",
		PaidAt:    "2026-03-01T09:30:00.000Z",
	}
}

func newTestReconciler(db *memDB, now time.Time) *Reconciler {
	r := NewReconciler(db, logger.Nop())
	r.now = func() time.Time { return now }
	return r
}

func TestApply_SuccessStampsPayment(t *testing.T) {
	db := newMemDB(pendingPayment())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	staff := "staff-7"

	out, err := newTestReconciler(db, now).Apply(context.Background(), 1, success(), &staff)
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.False(t, out.AlreadyApplied)

	p := db.payments[1]
	assert.Equal(t, domain.PaymentStatusCompleted, p.Status)
	require.NotNil(t, p.PaidAt)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC), *p.PaidAt)
	require.NotNil(t, p.VerifiedAt)
	assert.Equal(t, now, *p.VerifiedAt)
	assert.Equal(t, &staff, p.VerifiedBy)
	assert.Equal(t, "success", *p.TransactionStatus)
	assert.Equal(t, "card", *p.Method)
	assert.Equal(t, "GW-1", *p.GatewayReference)

	require.Len(t, db.events, 1)
	assert.Equal(t, int64(1), db.events[0].PaymentID)
	assert.Equal(t, domain.PaymentStatusCompleted, db.events[0].Status)
	assert.Equal(t, &staff, db.events[0].VerifiedBy)
}

func TestApply_IsIdempotent(t *testing.T) {
	db := newMemDB(pendingPayment())
	r := newTestReconciler(db, time.Now())

	_, err := r.Apply(context.Background(), 1, success(), nil)
	require.NoError(t, err)
	once := db.payments[1]

	out, err := r.Apply(context.Background(), 1, success(), nil)
	require.NoError(t, err)
	assert.True(t, out.AlreadyApplied)
	assert.False(t, out.Completed)

	assert.Equal(t, once, db.payments[1])
	assert.Len(t, db.events, 1)
	assert.Equal(t, 1, db.saves)
}

func TestApply_AmountMismatchPersistsNothing(t *testing.T) {
	db := newMemDB(pendingPayment())
	v := success()
	v.Amount = decimal.NewFromInt(4000)

	_, err := newTestReconciler(db, time.Now()).Apply(context.Background(), 1, v, nil)

	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.True(t, ie.ExpectedAmount.Equal(decimal.NewFromInt(5000)))
	assert.True(t, ie.ObservedAmount.Equal(decimal.NewFromInt(4000)))
	assert.Equal(t, pendingPayment(), db.payments[1])
	assert.Empty(t, db.events)
}

func TestApply_CurrencyMismatch(t *testing.T) {
	db := newMemDB(pendingPayment())
	v := success()
	v.Currency = "USD"

	_, err := newTestReconciler(db, time.Now()).Apply(context.Background(), 1, v, nil)

	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "USD", ie.ObservedCurrency)
	assert.Equal(t, domain.PaymentStatusPending, db.payments[1].Status)
}

func TestApply_FailedIsRecordedWithoutPaidAt(t *testing.T) {
	db := newMemDB(pendingPayment())
	v := success()
	v.Status = "failed"

	out, err := newTestReconciler(db, time.Now()).Apply(context.Background(), 1, v, nil)
	require.NoError(t, err)
	assert.False(t, out.Completed)

	p := db.payments[1]
	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
	assert.Nil(t, p.PaidAt)
	assert.Nil(t, p.VerifiedAt)
	assert.Empty(t, db.events)
}

func TestApply_UnrecognisedStatusKeepsPaymentOpen(t *testing.T) {
	db := newMemDB(pendingPayment())
	v := success()
	v.Status = "abandoned"

	out, err := newTestReconciler(db, time.Now()).Apply(context.Background(), 1, v, nil)
	require.NoError(t, err)
	assert.False(t, out.Completed)

	p := db.payments[1]
	assert.Equal(t, domain.PaymentStatusPending, p.Status)
	require.NotNil(t, p.TransactionStatus)
	assert.Equal(t, "abandoned", *p.TransactionStatus)
	assert.Nil(t, p.PaidAt)
	assert.Empty(t, db.events)
}

func TestApply_MissingPaidAtDefaultsToNow(t *testing.T) {
	db := newMemDB(pendingPayment())
	now := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	v := success()
	v.PaidAt = ""

	_, err := newTestReconciler(db, now).Apply(context.Background(), 1, v, nil)
	require.NoError(t, err)
	assert.Equal(t, now, *db.payments[1].PaidAt)
	assert.Nil(t, db.payments[1].VerifiedBy)
}

func TestApply_UnknownPayment(t *testing.T) {
	db := newMemDB()
	_, err := newTestReconciler(db, time.Now()).Apply(context.Background(), 9, success(), nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApply_ConcurrentNotificationsCompleteOnce(t *testing.T) {
	db := newMemDB(pendingPayment())
	r := newTestReconciler(db, time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Apply(context.Background(), 1, success(), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, db.events, 1)
	assert.Equal(t, domain.PaymentStatusCompleted, db.payments[1].Status)
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]domain.PaymentStatus{
		"success":    domain.PaymentStatusCompleted,
		"Successful": domain.PaymentStatusCompleted,
		"completed":  domain.PaymentStatusCompleted,
		"failed":     domain.PaymentStatusFailed,
		"pending":    domain.PaymentStatus("pending"),
		"abandoned":  domain.PaymentStatus("abandoned"),
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeStatus(in), in)
	}
}

func TestParsePaidAt(t *testing.T) {
	fallback := time.Unix(0, 0).UTC()
	want := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	for _, raw := range []string{"2026-01-02T10:00:00Z", "2026-01-02T10:00:00.000Z", "2026-01-02T11:00:00+01:00", "2026-01-02 10:00:00"} {
		assert.Equal(t, want, parsePaidAt(raw, fallback), raw)
	}
	assert.Equal(t, fallback, parsePaidAt("yesterday", fallback))
}

type stubAdapter struct {
	code         string
	validSig     bool
	verification *gateway.Verification
	initErr      error
	verifyCalls  int
	deadlineSet  bool
}

func (a *stubAdapter) Code() string { return a.code }

func (a *stubAdapter) Initialize(ctx context.Context, p *domain.Payment) (*gateway.InitResult, error) {
	_, a.deadlineSet = ctx.Deadline()
	if a.initErr != nil {
		return nil, a.initErr
	}
	return &gateway.InitResult{GatewayReference: p.TransactionReference, CheckoutURL: "https://pay.example/" + p.TransactionReference}, nil
}

func (a *stubAdapter) VerifyWebhook(context.Context, []byte, *domain.Payment) (*gateway.Verification, error) {
	a.verifyCalls++
	return a.verification, nil
}

func (a *stubAdapter) VerifyCallback(context.Context, url.Values, *domain.Payment) (*gateway.Verification, error) {
	a.verifyCalls++
	return a.verification, nil
}

func (a *stubAdapter) ValidateSignature(http.Header, []byte) bool { return a.validSig }

func (a *stubAdapter) WebhookReference([]byte) (string, error) { return "PAY-1", nil }

type stubResolver struct {
	adapter *stubAdapter
	err     error
}

func (r *stubResolver) ForPayment(context.Context, *domain.Payment, domain.GatewayMode) (gateway.Adapter, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.adapter, nil
}

func (r *stubResolver) ForCode(ctx context.Context, _ string, mode domain.GatewayMode) (gateway.Adapter, error) {
	return r.ForPayment(ctx, nil, mode)
}

func newTestService(db *memDB, adapter *stubAdapter) *Service {
	return NewService(db, &stubResolver{adapter: adapter}, NewReconciler(db, logger.Nop()), time.Second, logger.Nop())
}

func TestInitialize_PersistsProviderSession(t *testing.T) {
	db := newMemDB(pendingPayment())
	adapter := &stubAdapter{code: "paystack"}

	c, err := newTestService(db, adapter).Initialize(context.Background(), 1, guest, "")
	require.NoError(t, err)
	assert.True(t, adapter.deadlineSet)
	assert.Equal(t, Checkout{PaymentID: 1, Reference: "PAY-1", Gateway: "paystack", CheckoutURL: "https://pay.example/PAY-1"}, *c)
	assert.Equal(t, [2]string{"PAY-1", "https://pay.example/PAY-1"}, db.initRef[1])
}

func TestInitialize_ProviderFailureLeavesPaymentRetryable(t *testing.T) {
	db := newMemDB(pendingPayment())
	adapter := &stubAdapter{code: "paystack", initErr: &gateway.ProviderError{Gateway: "paystack", Status: 504, Message: "timeout"}}
	svc := newTestService(db, adapter)

	_, err := svc.Initialize(context.Background(), 1, guest, "")
	var pe *gateway.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Empty(t, db.initRef)

	adapter.initErr = nil
	_, err = svc.Initialize(context.Background(), 1, guest, "")
	require.NoError(t, err)
	assert.Len(t, db.payments, 1)
}

func TestInitialize_RejectsSettledPayment(t *testing.T) {
	p := pendingPayment()
	p.Status = domain.PaymentStatusCompleted
	db := newMemDB(p)

	_, err := newTestService(db, &stubAdapter{}).Initialize(context.Background(), 1, guest, "")
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestInitialize_ResolverErrorsPassThrough(t *testing.T) {
	db := newMemDB(pendingPayment())
	cfgErr := &gateway.ConfigError{Status: http.StatusForbidden, Message: "disabled"}
	svc := NewService(db, &stubResolver{err: cfgErr}, NewReconciler(db, logger.Nop()), time.Second, logger.Nop())

	_, err := svc.Initialize(context.Background(), 1, guest, "")
	assert.ErrorIs(t, err, cfgErr)
}

func TestInitialize_OnlyForTheOwner(t *testing.T) {
	owned := pendingPayment()
	owner := "user-7"
	owned.OwnerID = &owner
	db := newMemDB(owned)
	adapter := &stubAdapter{code: "paystack"}
	svc := newTestService(db, adapter)
	ctx := context.Background()

	for name, caller := range map[string]Caller{
		"anonymous":      {},
		"another user":   {OwnerID: "user-8"},
		"token no owner": {AccessToken: "tok-1"},
	} {
		_, err := svc.Initialize(ctx, 1, caller, "")
		assert.ErrorIs(t, err, domain.ErrNotFound, name)
	}
	assert.Empty(t, db.initRef, "provider never called for a stranger")

	_, err := svc.Initialize(ctx, 1, Caller{OwnerID: "user-7"}, "")
	require.NoError(t, err)
}

func TestInitialize_GuestNeedsAccessToken(t *testing.T) {
	db := newMemDB(pendingPayment())
	svc := newTestService(db, &stubAdapter{code: "paystack"})
	ctx := context.Background()

	_, err := svc.Initialize(ctx, 1, Caller{}, "")
	assert.ErrorIs(t, err, repository.ErrPaymentNotFound)
	_, err = svc.Initialize(ctx, 1, Caller{OwnerID: "user-7", AccessToken: "tok-2"}, "")
	assert.ErrorIs(t, err, repository.ErrPaymentNotFound)

	noToken := pendingPayment()
	noToken.Metadata = nil
	_, err = newTestService(newMemDB(noToken), &stubAdapter{code: "paystack"}).Initialize(ctx, 1, Caller{}, "")
	assert.ErrorIs(t, err, repository.ErrPaymentNotFound)

	_, err = svc.Initialize(ctx, 1, guest, "")
	assert.NoError(t, err)
}

func TestHandleWebhook_RejectsAnotherGatewaysPayment(t *testing.T) {
	db := newMemDB(pendingPayment())
	adapter := &stubAdapter{code: "flutterwave", validSig: true, verification: success()}

	// signed by flutterwave, but PAY-1 was made through paystack
	_, err := newTestService(db, adapter).HandleWebhook(context.Background(), "flutterwave", http.Header{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrGatewayMismatch)
	assert.Zero(t, adapter.verifyCalls)
	assert.Equal(t, domain.PaymentStatusPending, db.payments[1].Status)
	assert.Empty(t, db.events)
}

func TestHandleWebhook_InvalidSignatureIsDiscarded(t *testing.T) {
	db := newMemDB(pendingPayment())
	adapter := &stubAdapter{code: "paystack", validSig: false, verification: success()}

	_, err := newTestService(db, adapter).HandleWebhook(context.Background(), "paystack", http.Header{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, adapter.verifyCalls)
	assert.Equal(t, domain.PaymentStatusPending, db.payments[1].Status)
}

func TestWebhookAndCallback_AreCommutative(t *testing.T) {
	db := newMemDB(pendingPayment())
	adapter := &stubAdapter{code: "paystack", validSig: true, verification: success()}
	svc := newTestService(db, adapter)
	ctx := context.Background()

	out, err := svc.HandleWebhook(ctx, "paystack", http.Header{}, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, out.Completed)

	out, err = svc.HandleCallback(ctx, url.Values{"reference": {"PAY-1"}}, nil)
	require.NoError(t, err)
	assert.True(t, out.AlreadyApplied)
	assert.Equal(t, 2, adapter.verifyCalls)
	assert.Len(t, db.events, 1)
}

func TestHandleCallback_NeedsReference(t *testing.T) {
	db := newMemDB(pendingPayment())
	_, err := newTestService(db, &stubAdapter{}).HandleCallback(context.Background(), url.Values{}, nil)
	assert.ErrorIs(t, err, ErrBadNotification)
}

func TestCallbackReference(t *testing.T) {
	assert.Equal(t, "a", CallbackReference(url.Values{"reference": {"a"}, "trxref": {"b"}}))
	assert.Equal(t, "b", CallbackReference(url.Values{"trxref": {"b"}}))
	assert.Equal(t, "c", CallbackReference(url.Values{"tx_ref": {"c"}, "status": {"successful"}}))
	assert.Empty(t, CallbackReference(url.Values{}))
}
