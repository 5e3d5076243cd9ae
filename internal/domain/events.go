package domain

import (
	"encoding/json"
	"time"
)

const (
	TopicPaymentEvents = "payment-events"
	TopicOrderEvents   = "order-events"

	EventPaymentVerified = "PaymentVerified"
	EventOrderPlaced     = "OrderPlaced"
	EventOrderPaid       = "OrderPaid"
)

type OutboxEvent struct {
	ID          int64
	Topic       string
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

type PaymentVerifiedEvent struct {
	PaymentID  int64         `json:"payment_id"`
	Status     PaymentStatus `json:"status"`
	VerifiedBy *string       `json:"verified_by,omitempty"`
	VerifiedAt time.Time     `json:"verified_at"`
}

type OrderPlacedEvent struct {
	OrderID   int64     `json:"order_id"`
	PaymentID int64     `json:"payment_id"`
	OwnerID   *string   `json:"owner_id,omitempty"`
	Total     string    `json:"total"`
	Currency  string    `json:"currency"`
	PlacedAt  time.Time `json:"placed_at"`
}

type OrderPaidEvent struct {
	OrderID   int64     `json:"order_id"`
	PaymentID int64     `json:"payment_id"`
	PaidAt    time.Time `json:"paid_at"`
}
