package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ClaimInventoryDeduction records that stock for an order is being taken.
// It reports false when the order was already claimed.
func (q *Queries) ClaimInventoryDeduction(ctx context.Context, orderID int64) (bool, error) {
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO inventory_deductions (order_id) VALUES ($1) ON CONFLICT (order_id) DO NOTHING`, orderID)
	if err != nil {
		return false, fmt.Errorf("claim inventory deduction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim inventory deduction rows: %w", err)
	}
	return n > 0, nil
}

// DecrementInventory clamps at zero instead of failing on oversell.
func (q *Queries) DecrementInventory(ctx context.Context, inventoryID int64, quantity int) error {
	_, err := q.q.ExecContext(ctx,
		`UPDATE inventories SET quantity = GREATEST(quantity - $2, 0), updated_at = NOW() WHERE id = $1`,
		inventoryID, quantity)
	if err != nil {
		return fmt.Errorf("decrement inventory %d: %w", inventoryID, err)
	}
	return nil
}

func (q *Queries) SetInventory(ctx context.Context, inventoryID int64, quantity int) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO inventories (id, quantity) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()`,
		inventoryID, quantity)
	if err != nil {
		return fmt.Errorf("set inventory %d: %w", inventoryID, err)
	}
	return nil
}

func (q *Queries) GetInventoryQuantity(ctx context.Context, inventoryID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT quantity FROM inventories WHERE id = $1`, inventoryID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("inventory %d: %w", inventoryID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query inventory: %w", err)
	}
	return n, nil
}
