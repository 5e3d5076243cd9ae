package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_checkout/internal/domain"
)

// StrandedVerifiedPayments finds completed payments whose payables were
// never settled and that have no PaymentVerified event waiting in the
// outbox. Only payments completed at least grace ago are returned, so an
// event still making its way through the consumer is left alone.
func (q *Queries) StrandedVerifiedPayments(ctx context.Context, grace time.Duration, limit int) ([]domain.PaymentVerifiedEvent, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT p.id, p.status, p.verified_by, COALESCE(p.verified_at, p.updated_at)
		 FROM payments p
		 WHERE p.status = $1
		   AND COALESCE(p.verified_at, p.updated_at) <= NOW() - make_interval(secs => $2)
		   AND EXISTS (
		       SELECT 1 FROM payables pb WHERE pb.payment_id = p.id AND pb.verified_at IS NULL)
		   AND NOT EXISTS (
		       SELECT 1 FROM outbox_events e
		       WHERE e.event_type = $3 AND e.aggregate_id = p.id::text AND e.processed_at IS NULL)
		 ORDER BY p.id
		 LIMIT $4`,
		domain.PaymentStatusCompleted, grace.Seconds(), domain.EventPaymentVerified, limit)
	if err != nil {
		return nil, fmt.Errorf("query stranded payments: %w", err)
	}
	defer rows.Close()

	var out []domain.PaymentVerifiedEvent
	for rows.Next() {
		var e domain.PaymentVerifiedEvent
		if err := rows.Scan(&e.PaymentID, &e.Status, &e.VerifiedBy, &e.VerifiedAt); err != nil {
			return nil, fmt.Errorf("scan stranded payment: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// StrandedPaidOrders finds orders past pending whose stock was never
// deducted and that have no OrderPaid event waiting in the outbox.
func (q *Queries) StrandedPaidOrders(ctx context.Context, grace time.Duration, limit int) ([]domain.OrderPaidEvent, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT DISTINCT ON (o.id) o.id, pb.payment_id, pb.verified_at
		 FROM orders o
		 JOIN payables pb ON pb.payable_type = $1 AND pb.payable_id = o.id AND pb.verified_at IS NOT NULL
		 WHERE o.status <> $2
		   AND pb.verified_at <= NOW() - make_interval(secs => $3)
		   AND NOT EXISTS (SELECT 1 FROM inventory_deductions d WHERE d.order_id = o.id)
		   AND NOT EXISTS (
		       SELECT 1 FROM outbox_events e
		       WHERE e.event_type = $4 AND e.aggregate_id = o.id::text AND e.processed_at IS NULL)
		 ORDER BY o.id, pb.verified_at
		 LIMIT $5`,
		domain.PayableTypeOrder, domain.OrderStatusPending, grace.Seconds(), domain.EventOrderPaid, limit)
	if err != nil {
		return nil, fmt.Errorf("query stranded orders: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderPaidEvent
	for rows.Next() {
		var e domain.OrderPaidEvent
		if err := rows.Scan(&e.OrderID, &e.PaymentID, &e.PaidAt); err != nil {
			return nil, fmt.Errorf("scan stranded order: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}
