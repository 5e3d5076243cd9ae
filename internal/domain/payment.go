package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) String() string {
	return string(s)
}

const PayableTypeOrder = "order"

// MetadataReturnURL is the payment metadata key holding the shopper's landing page.
const MetadataReturnURL = "return_url"

// MetadataAccessToken is the payment metadata key holding the secret a guest
// presents to reopen the payment's hosted checkout.
const MetadataAccessToken = "access_token"

func (p *Payment) AccessToken() string {
	if s, ok := p.Metadata[MetadataAccessToken].(string); ok {
		return s
	}
	return ""
}

// ReturnURL reports the shopper landing page recorded at checkout, if any.
func (p *Payment) ReturnURL() string {
	if s, ok := p.Metadata[MetadataReturnURL].(string); ok {
		return s
	}
	return ""
}

type Payment struct {
	ID                   int64           `json:"id"`
	OwnerID              *string         `json:"owner_id,omitempty"`
	FullName             string          `json:"full_name"`
	Email                string          `json:"email"`
	Phone                string          `json:"phone"`
	PaymentGatewayID     int64           `json:"payment_gateway_id"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Description          string          `json:"description"`
	TransactionReference string          `json:"transaction_reference"`
	GatewayReference     *string         `json:"gateway_reference,omitempty"`
	Status               PaymentStatus   `json:"status"`
	TransactionStatus    *string         `json:"transaction_status,omitempty"`
	Method               *string         `json:"method,omitempty"`
	CheckoutURL          *string         `json:"checkout_url,omitempty"`
	CallbackURL          *string         `json:"callback_url,omitempty"`
	CancelURL            *string         `json:"cancel_url,omitempty"`
	Metadata             map[string]any  `json:"metadata,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
	VerifiedAt           *time.Time      `json:"verified_at,omitempty"`
	VerifiedBy           *string         `json:"verified_by,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Payable records that a payment settles one entity for a given amount.
type Payable struct {
	ID          int64           `json:"id"`
	PaymentID   int64           `json:"payment_id"`
	PayableType string          `json:"payable_type"`
	PayableID   int64           `json:"payable_id"`
	Amount      decimal.Decimal `json:"amount"`
	VerifiedAt  *time.Time      `json:"verified_at,omitempty"`
	VerifiedBy  *string         `json:"verified_by,omitempty"`
}
