package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_checkout/internal/domain"
)

const couponColumns = `id, code, type, value, min_order_amount, max_uses, used_count, active, starts_at, expires_at`

func (q *Queries) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code)
	return scanCoupon(row)
}

// FindActiveByCode only returns a coupon that can be redeemed right now.
func (q *Queries) FindActiveByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	c, err := q.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !c.Usable(time.Now()) {
		return nil, ErrCouponNotFound
	}
	return c, nil
}

func (q *Queries) GetCoupon(ctx context.Context, id int64) (*domain.Coupon, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id)
	return scanCoupon(row)
}

func (q *Queries) CreateCoupon(ctx context.Context, c *domain.Coupon) error {
	query := `INSERT INTO coupons (code, type, value, min_order_amount, max_uses, used_count, active, starts_at, expires_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`

	err := q.q.QueryRowContext(ctx, query,
		c.Code, c.Type, c.Value, c.MinOrderAmount, c.MaxUses, c.UsedCount, c.Active, c.StartsAt, c.ExpiresAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// IncrementCouponUsage takes one redemption. It fails with
// ErrCouponExhausted when max_uses is already reached, so concurrent
// checkouts cannot redeem past the limit.
func (q *Queries) IncrementCouponUsage(ctx context.Context, couponID int64) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE coupons SET used_count = used_count + 1
		 WHERE id = $1 AND (max_uses IS NULL OR used_count < max_uses)`, couponID)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment coupon usage rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := q.GetCoupon(ctx, couponID); err != nil {
		return err
	}
	return ErrCouponExhausted
}

func scanCoupon(row *sql.Row) (*domain.Coupon, error) {
	var c domain.Coupon
	var maxUses sql.NullInt32

	err := row.Scan(&c.ID, &c.Code, &c.Type, &c.Value, &c.MinOrderAmount, &maxUses, &c.UsedCount, &c.Active, &c.StartsAt, &c.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan coupon: %w", err)
	}
	if maxUses.Valid {
		n := int(maxUses.Int32)
		c.MaxUses = &n
	}
	return &c, nil
}
