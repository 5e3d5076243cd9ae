package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_checkout/internal/domain"
)

const (
	FlutterwaveCode = "flutterwave"

	flutterwaveBaseURL      = "https://api.flutterwave.com/v3"
	flutterwaveSignatureKey = "Verif-Hash"
	// Flutterwave takes and returns major units.
	flutterwaveFactor = 1
)

type Flutterwave struct {
	secretKey  string
	secretHash string
	baseURL    string
	client     *Client
}

func NewFlutterwave(creds map[string]string, client *Client) Adapter {
	return &Flutterwave{
		secretKey:  creds["secret_key"],
		secretHash: creds["secret_hash"],
		baseURL:    baseURL(creds, flutterwaveBaseURL),
		client:     client,
	}
}

func (f *Flutterwave) Code() string { return FlutterwaveCode }

type flutterwaveEnvelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type flutterwaveTransaction struct {
	ID          int64           `json:"id"`
	TxRef       string          `json:"tx_ref"`
	FlwRef      string          `json:"flw_ref"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	PaymentType string          `json:"payment_type"`
	CreatedAt   string          `json:"created_at"`
}

func (f *Flutterwave) Initialize(ctx context.Context, pay *domain.Payment) (*InitResult, error) {
	body := map[string]any{
		"tx_ref":       pay.TransactionReference,
		"amount":       toMinor(pay.Amount, flutterwaveFactor).Round(2),
		"currency":     strings.ToUpper(pay.Currency),
		"redirect_url": deref(pay.CallbackURL),
		"customer": map[string]string{
			"email":       pay.Email,
			"phonenumber": pay.Phone,
			"name":        pay.FullName,
		},
		"customizations": map[string]string{"title": pay.Description},
		"meta":           map[string]any{"payment_id": pay.ID},
	}

	var resp flutterwaveEnvelope[struct {
		Link string `json:"link"`
	}]
	err := f.client.doJSON(ctx, request{
		gateway: FlutterwaveCode,
		method:  http.MethodPost,
		url:     f.baseURL + "/payments",
		headers: f.auth(),
		body:    body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Status != "success" || resp.Data.Link == "" {
		return nil, &ProviderError{Gateway: FlutterwaveCode, Status: http.StatusBadGateway, Message: resp.Message}
	}

	return &InitResult{
		GatewayReference: pay.TransactionReference,
		CheckoutURL:      resp.Data.Link,
	}, nil
}

func (f *Flutterwave) VerifyWebhook(ctx context.Context, _ []byte, pay *domain.Payment) (*Verification, error) {
	return f.verify(ctx, pay.TransactionReference)
}

func (f *Flutterwave) VerifyCallback(ctx context.Context, query url.Values, pay *domain.Payment) (*Verification, error) {
	if ref := query.Get("tx_ref"); ref != "" && ref != pay.TransactionReference {
		return nil, &ProviderError{Gateway: FlutterwaveCode, Status: http.StatusBadRequest, Message: "callback tx_ref does not match payment"}
	}
	return f.verify(ctx, pay.TransactionReference)
}

func (f *Flutterwave) verify(ctx context.Context, txRef string) (*Verification, error) {
	var resp flutterwaveEnvelope[flutterwaveTransaction]
	err := f.client.doJSON(ctx, request{
		gateway: FlutterwaveCode,
		method:  http.MethodGet,
		url:     f.baseURL + "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(txRef),
		headers: f.auth(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, &ProviderError{Gateway: FlutterwaveCode, Status: http.StatusBadGateway, Message: resp.Message}
	}

	tx := resp.Data
	ref := tx.FlwRef
	if ref == "" && tx.ID != 0 {
		ref = fmt.Sprint(tx.ID)
	}
	return &Verification{
		Status:    tx.Status,
		Amount:    fromMinor(tx.Amount, flutterwaveFactor),
		Currency:  tx.Currency,
		Method:    tx.PaymentType,
		Reference: ref,
		PaidAt:    tx.CreatedAt,
	}, nil
}

// ValidateSignature compares the shared hash header in constant time.
func (f *Flutterwave) ValidateSignature(headers http.Header, _ []byte) bool {
	got := headers.Get(flutterwaveSignatureKey)
	if got == "" || f.secretHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(f.secretHash)) == 1
}

func (f *Flutterwave) WebhookReference(payload []byte) (string, error) {
	var evt struct {
		Event string `json:"event"`
		Data  struct {
			TxRef string `json:"tx_ref"`
		} `json:"data"`
		TxRef string `json:"txRef"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return "", fmt.Errorf("decode flutterwave webhook: %w", err)
	}
	if evt.Data.TxRef != "" {
		return evt.Data.TxRef, nil
	}
	if evt.TxRef != "" {
		return evt.TxRef, nil
	}
	return "", fmt.Errorf("flutterwave webhook %q carries no tx_ref", evt.Event)
}

func (f *Flutterwave) auth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + f.secretKey}
}
