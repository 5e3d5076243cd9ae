package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_checkout/internal/domain"
)

func (q *Queries) CreateOrder(ctx context.Context, o *domain.Order) error {
	billing, err := marshalNullable(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("marshal billing address: %w", err)
	}
	delivery, err := marshalNullable(o.DeliveryAddress)
	if err != nil {
		return fmt.Errorf("marshal delivery address: %w", err)
	}
	meta, err := marshalMap(o.Metadata)
	if err != nil {
		return fmt.Errorf("marshal order metadata: %w", err)
	}

	query := `INSERT INTO orders (owner_id, store_id, full_name, email, phone, delivery_method, billing_address,
	              delivery_address, status, coupon_id, coupon_code, subtotal, discount, tax, shipping, total, currency, metadata)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	          RETURNING id, created_at, updated_at`

	err = q.q.QueryRowContext(ctx, query,
		o.OwnerID, o.StoreID, o.FullName, o.Email, o.Phone, o.DeliveryMethod, billing, delivery,
		o.Status, o.CouponID, o.CouponCode, o.Subtotal, o.Discount, o.Tax, o.Shipping, o.Total, o.Currency, meta,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (q *Queries) CreateOrderItems(ctx context.Context, orderID int64, items []domain.OrderItem) error {
	query := `INSERT INTO order_items (order_id, item_id, kind, name, unit_price, quantity, total, options)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`

	for i := range items {
		it := &items[i]
		opts, err := marshalMap(it.Options)
		if err != nil {
			return fmt.Errorf("marshal item options: %w", err)
		}
		it.OrderID = orderID
		err = q.q.QueryRowContext(ctx, query,
			orderID, it.ItemID, it.Kind, it.Name, it.UnitPrice, it.Quantity, it.Total, opts,
		).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("insert order item %d: %w", it.ItemID, err)
		}
	}
	return nil
}

func (q *Queries) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	query := `SELECT id, owner_id, store_id, full_name, email, phone, delivery_method, billing_address, delivery_address,
	              status, coupon_id, coupon_code, subtotal, discount, tax, shipping, total, currency, metadata, created_at, updated_at
	          FROM orders WHERE id = $1`

	var o domain.Order
	var billing, delivery, meta []byte
	err := q.q.QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.OwnerID, &o.StoreID, &o.FullName, &o.Email, &o.Phone, &o.DeliveryMethod, &billing, &delivery,
		&o.Status, &o.CouponID, &o.CouponCode, &o.Subtotal, &o.Discount, &o.Tax, &o.Shipping, &o.Total,
		&o.Currency, &meta, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}

	if o.BillingAddress, err = unmarshalAddress(billing); err != nil {
		return nil, err
	}
	if o.DeliveryAddress, err = unmarshalAddress(delivery); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &o.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal order metadata: %w", err)
	}

	if o.Items, err = q.GetOrderItems(ctx, id); err != nil {
		return nil, err
	}
	return &o, nil
}

func (q *Queries) GetOrderItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, order_id, item_id, kind, name, unit_price, quantity, total, options FROM order_items WHERE order_id = $1 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		var opts []byte
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ItemID, &it.Kind, &it.Name, &it.UnitPrice, &it.Quantity, &it.Total, &opts); err != nil {
			return nil, fmt.Errorf("scan order item row: %w", err)
		}
		if err := json.Unmarshal(opts, &it.Options); err != nil {
			return nil, fmt.Errorf("unmarshal item options: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// AdvanceOrderStatus moves an order one step along its lifecycle.
func (q *Queries) AdvanceOrderStatus(ctx context.Context, orderID int64, next domain.OrderStatus) error {
	var current domain.OrderStatus
	err := q.q.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("query order status: %w", err)
	}
	if !current.CanAdvanceTo(next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, current, next)
	}

	res, err := q.q.ExecContext(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`, orderID, next, current)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: order %d changed concurrently", domain.ErrIllegalTransition, orderID)
	}
	return nil
}

// MarkOrderPaid flips a pending order to paid. It reports false if the
// order was already past pending.
func (q *Queries) MarkOrderPaid(ctx context.Context, orderID int64) (bool, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		orderID, domain.OrderStatusPaid, domain.OrderStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark order paid rows: %w", err)
	}
	return n > 0, nil
}
