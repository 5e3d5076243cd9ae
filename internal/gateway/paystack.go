package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_checkout/internal/domain"
)

const (
	PaystackCode = "paystack"

	paystackBaseURL      = "https://api.paystack.co"
	paystackSignatureKey = "X-Paystack-Signature"
	// Paystack amounts are in kobo/pesewas/cents.
	paystackFactor = 100
)

type Paystack struct {
	secretKey string
	baseURL   string
	client    *Client
}

func NewPaystack(creds map[string]string, client *Client) Adapter {
	return &Paystack{
		secretKey: creds["secret_key"],
		baseURL:   baseURL(creds, paystackBaseURL),
		client:    client,
	}
}

func (p *Paystack) Code() string { return PaystackCode }

type paystackEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type paystackTransaction struct {
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Channel   string          `json:"channel"`
	PaidAt    string          `json:"paid_at"`
}

func (p *Paystack) Initialize(ctx context.Context, pay *domain.Payment) (*InitResult, error) {
	body := map[string]any{
		"email":     pay.Email,
		"amount":    toMinor(pay.Amount, paystackFactor).Round(0).IntPart(),
		"currency":  strings.ToUpper(pay.Currency),
		"reference": pay.TransactionReference,
		"metadata": map[string]any{
			"payment_id":  pay.ID,
			"description": pay.Description,
			"cancel_url":  deref(pay.CancelURL),
		},
	}
	if pay.CallbackURL != nil {
		body["callback_url"] = *pay.CallbackURL
	}

	var resp paystackEnvelope[struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}]
	err := p.client.doJSON(ctx, request{
		gateway: PaystackCode,
		method:  http.MethodPost,
		url:     p.baseURL + "/transaction/initialize",
		headers: p.auth(),
		body:    body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, &ProviderError{Gateway: PaystackCode, Status: http.StatusBadGateway, Message: resp.Message}
	}

	return &InitResult{
		GatewayReference: resp.Data.Reference,
		CheckoutURL:      resp.Data.AuthorizationURL,
		AccessCode:       resp.Data.AccessCode,
	}, nil
}

func (p *Paystack) VerifyWebhook(ctx context.Context, _ []byte, pay *domain.Payment) (*Verification, error) {
	return p.verify(ctx, pay.TransactionReference)
}

func (p *Paystack) VerifyCallback(ctx context.Context, query url.Values, pay *domain.Payment) (*Verification, error) {
	ref := query.Get("reference")
	if ref == "" {
		ref = query.Get("trxref")
	}
	if ref != "" && ref != pay.TransactionReference {
		return nil, &ProviderError{Gateway: PaystackCode, Status: http.StatusBadRequest, Message: "callback reference does not match payment"}
	}
	return p.verify(ctx, pay.TransactionReference)
}

func (p *Paystack) verify(ctx context.Context, reference string) (*Verification, error) {
	var resp paystackEnvelope[paystackTransaction]
	err := p.client.doJSON(ctx, request{
		gateway: PaystackCode,
		method:  http.MethodGet,
		url:     p.baseURL + "/transaction/verify/" + url.PathEscape(reference),
		headers: p.auth(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, &ProviderError{Gateway: PaystackCode, Status: http.StatusBadGateway, Message: resp.Message}
	}

	tx := resp.Data
	return &Verification{
		Status:    tx.Status,
		Amount:    fromMinor(tx.Amount, paystackFactor),
		Currency:  tx.Currency,
		Method:    tx.Channel,
		Reference: tx.Reference,
		PaidAt:    tx.PaidAt,
	}, nil
}

// ValidateSignature checks the hex HMAC-SHA512 of the raw body keyed by the secret key.
func (p *Paystack) ValidateSignature(headers http.Header, body []byte) bool {
	got := strings.TrimSpace(headers.Get(paystackSignatureKey))
	if got == "" || p.secretKey == "" {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}

	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

func (p *Paystack) WebhookReference(payload []byte) (string, error) {
	var evt struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return "", fmt.Errorf("decode paystack webhook: %w", err)
	}
	if evt.Data.Reference == "" {
		return "", fmt.Errorf("paystack webhook %q carries no reference", evt.Event)
	}
	return evt.Data.Reference, nil
}

func (p *Paystack) auth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.secretKey}
}
