package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/pkg/logger"
)

func testPayment() *domain.Payment {
	cb := "https://shop.example/payments/callback"
	return &domain.Payment{
		ID:                   11,
		FullName:             "Ada Obi",
		Email:                "ada@example.com",
		Phone:                "+2348000000",
		PaymentGatewayID:     1,
		Amount:               decimal.RequireFromString("5000.50"),
		Currency:             "ngn",
		Description:          "Payment for order #7",
		TransactionReference: "PAY-abc",
		Status:               domain.PaymentStatusPending,
		CallbackURL:          &cb,
	}
}

func newPaystackServer(t *testing.T, handler http.HandlerFunc) (*Paystack, *httptest.Server) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(2*time.Second, logger.Nop())
	a := NewPaystack(map[string]string{"secret_key": "sk_test", "public_key": "pk_test", "base_url": srv.URL}, client)
	return a.(*Paystack), srv
}

func TestPaystack_Initialize(t *testing.T) {
	var got map[string]any
	a, _ := newPaystackServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.com/x","access_code":"ac","reference":"PAY-abc"}}`))
	})

	res, err := a.Initialize(context.Background(), testPayment())
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/x", res.CheckoutURL)
	assert.Equal(t, "PAY-abc", res.GatewayReference)
	assert.Equal(t, "ac", res.AccessCode)

	assert.Equal(t, float64(500050), got["amount"])
	assert.Equal(t, "NGN", got["currency"])
	assert.Equal(t, "PAY-abc", got["reference"])
	assert.Equal(t, "https://shop.example/payments/callback", got["callback_url"])
}

func TestPaystack_InitializeProviderError(t *testing.T) {
	a, _ := newPaystackServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	})

	_, err := a.Initialize(context.Background(), testPayment())
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusUnauthorized, pe.Status)
	assert.Equal(t, "Invalid key", pe.Message)
	assert.Equal(t, PaystackCode, pe.Gateway)
}

func TestPaystack_InitializeStatusFalse(t *testing.T) {
	a, _ := newPaystackServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":false,"message":"Duplicate Transaction Reference"}`))
	})

	_, err := a.Initialize(context.Background(), testPayment())
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Duplicate Transaction Reference", pe.Message)
}

func TestPaystack_VerifyConvertsFromMinorUnits(t *testing.T) {
	a, _ := newPaystackServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/PAY-abc", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"status":"success","reference":"PAY-abc","amount":500050,"currency":"NGN","channel":"card","paid_at":"2026-01-02T10:00:00.000Z"}}`))
	})

	v, err := a.VerifyWebhook(context.Background(), []byte(`{"event":"charge.success","data":{"amount":1}}`), testPayment())
	require.NoError(t, err)
	assert.Equal(t, "success", v.Status)
	assert.True(t, v.Amount.Equal(decimal.RequireFromString("5000.50")), v.Amount.String())
	assert.Equal(t, "NGN", v.Currency)
	assert.Equal(t, "card", v.Method)
	assert.Equal(t, "2026-01-02T10:00:00.000Z", v.PaidAt)
}

func TestPaystack_VerifyCallbackReferenceMismatch(t *testing.T) {
	a, _ := newPaystackServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provider must not be called")
	})

	_, err := a.VerifyCallback(context.Background(), url.Values{"reference": {"PAY-other"}}, testPayment())
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusBadRequest, pe.Status)
}

func TestPaystack_ValidateSignature(t *testing.T) {
	a, _ := newPaystackServer(t, func(http.ResponseWriter, *http.Request) {})
	body := []byte(`{"event":"charge.success","data":{"reference":"PAY-abc"}}`)

	mac := hmac.New(sha512.New, []byte("sk_test"))
	mac.Write(body)
	good := hex.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("x-paystack-signature", good)
	assert.True(t, a.ValidateSignature(h, body))

	assert.False(t, a.ValidateSignature(h, append(body, ' ')), "body tampered")

	h.Set("x-paystack-signature", "not-hex")
	assert.False(t, a.ValidateSignature(h, body))

	assert.False(t, a.ValidateSignature(http.Header{}, body), "missing header")
}

func TestPaystack_WebhookReference(t *testing.T) {
	a, _ := newPaystackServer(t, func(http.ResponseWriter, *http.Request) {})

	ref, err := a.WebhookReference([]byte(`{"event":"charge.success","data":{"reference":"PAY-abc"}}`))
	require.NoError(t, err)
	assert.Equal(t, "PAY-abc", ref)

	_, err = a.WebhookReference([]byte(`{"event":"charge.success","data":{}}`))
	assert.Error(t, err)
	_, err = a.WebhookReference([]byte(`garbage`))
	assert.Error(t, err)
}

func TestMinorUnitsSymmetric(t *testing.T) {
	for _, s := range []string{"0", "0.01", "5000.50", "123456.78"} {
		d := decimal.RequireFromString(s)
		assert.True(t, fromMinor(toMinor(d, paystackFactor), paystackFactor).Equal(d), s)
		assert.True(t, fromMinor(toMinor(d, flutterwaveFactor), flutterwaveFactor).Equal(d), s)
	}
}
