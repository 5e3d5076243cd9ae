package repository

import (
	"context"
	"time"

	"github.com/fjod/go_checkout/internal/domain"
)

// Tx is the set of writes that must share a transaction. *Queries
// implements it; WithTx hands one bound to a live *sql.Tx.
type Tx interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	CreateOrderItems(ctx context.Context, orderID int64, items []domain.OrderItem) error
	CreatePayment(ctx context.Context, p *domain.Payment) error
	CreatePayable(ctx context.Context, p *domain.Payable) error
	IncrementCouponUsage(ctx context.Context, couponID int64) error

	LockPayment(ctx context.Context, paymentID int64) (*domain.Payment, error)
	SavePaymentResult(ctx context.Context, p *domain.Payment) error

	MarkPayablesVerified(ctx context.Context, paymentID int64, verifiedBy *string, at time.Time) ([]domain.Payable, error)
	MarkOrderPaid(ctx context.Context, orderID int64) (bool, error)

	ClaimInventoryDeduction(ctx context.Context, orderID int64) (bool, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error)
	DecrementInventory(ctx context.Context, inventoryID int64, quantity int) error

	InsertOutboxEvent(ctx context.Context, topic, aggregateID, eventType string, payload any) error

	UpsertGateway(ctx context.Context, g *domain.Gateway) error
	UpsertGatewayConfig(ctx context.Context, c *domain.GatewayConfig) error
}

var _ Tx = (*Queries)(nil)
