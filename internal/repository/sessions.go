package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_checkout/internal/domain"
)

const sessionColumns = `id, token, owner_id, items, subtotal, discount, tax, shipping, total,
	payment_gateway_id, coupon_id, coupon_code, billing_address, delivery_address, created_at, updated_at`

func (q *Queries) GetSessionByToken(ctx context.Context, token string) (*domain.CheckoutSession, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE token = $1`, token)
	return scanSession(row)
}

func (q *Queries) GetSessionByOwner(ctx context.Context, ownerID string) (*domain.CheckoutSession, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE owner_id = $1`, ownerID)
	return scanSession(row)
}

func (q *Queries) CreateSession(ctx context.Context, s *domain.CheckoutSession) error {
	items, billing, delivery, err := marshalSessionJSON(s)
	if err != nil {
		return err
	}

	query := `INSERT INTO checkout_sessions (id, token, owner_id, items, subtotal, discount, tax, shipping, total,
	              payment_gateway_id, coupon_id, coupon_code, billing_address, delivery_address, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
	          RETURNING created_at, updated_at`

	err = q.q.QueryRowContext(ctx, query,
		s.ID, s.Token, s.OwnerID, items,
		s.Subtotal, s.Discount, s.Tax, s.Shipping, s.Total,
		s.PaymentGatewayID, s.CouponID, s.CouponCode, billing, delivery,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOwnerHasSession
		}
		return fmt.Errorf("insert checkout session: %w", err)
	}
	return nil
}

// SaveSession overwrites the draft; concurrent writers for one token are last-write-wins.
func (q *Queries) SaveSession(ctx context.Context, s *domain.CheckoutSession) error {
	items, billing, delivery, err := marshalSessionJSON(s)
	if err != nil {
		return err
	}

	query := `UPDATE checkout_sessions SET owner_id = $2, items = $3, subtotal = $4, discount = $5, tax = $6,
	              shipping = $7, total = $8, payment_gateway_id = $9, coupon_id = $10, coupon_code = $11,
	              billing_address = $12, delivery_address = $13, updated_at = NOW()
	          WHERE token = $1
	          RETURNING updated_at`

	err = q.q.QueryRowContext(ctx, query,
		s.Token, s.OwnerID, items,
		s.Subtotal, s.Discount, s.Tax, s.Shipping, s.Total,
		s.PaymentGatewayID, s.CouponID, s.CouponCode, billing, delivery,
	).Scan(&s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOwnerHasSession
		}
		return fmt.Errorf("update checkout session: %w", err)
	}
	return nil
}

func (q *Queries) DeleteSession(ctx context.Context, token string) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM checkout_sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete checkout session: %w", err)
	}
	return nil
}

func marshalSessionJSON(s *domain.CheckoutSession) (items, billing, delivery any, err error) {
	list := s.Items
	if list == nil {
		list = []domain.CartItem{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal session items: %w", err)
	}
	items = string(raw)
	if billing, err = marshalNullable(s.BillingAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal billing address: %w", err)
	}
	if delivery, err = marshalNullable(s.DeliveryAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal delivery address: %w", err)
	}
	return items, billing, delivery, nil
}

func scanSession(row *sql.Row) (*domain.CheckoutSession, error) {
	var s domain.CheckoutSession
	var items, billing, delivery []byte

	err := row.Scan(
		&s.ID, &s.Token, &s.OwnerID, &items,
		&s.Subtotal, &s.Discount, &s.Tax, &s.Shipping, &s.Total,
		&s.PaymentGatewayID, &s.CouponID, &s.CouponCode,
		&billing, &delivery, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkout session: %w", err)
	}

	if err := json.Unmarshal(items, &s.Items); err != nil {
		return nil, fmt.Errorf("unmarshal session items: %w", err)
	}
	if s.BillingAddress, err = unmarshalAddress(billing); err != nil {
		return nil, err
	}
	if s.DeliveryAddress, err = unmarshalAddress(delivery); err != nil {
		return nil, err
	}
	return &s, nil
}

// marshalNullable yields a nil arg (SQL NULL) for a nil address.
func marshalNullable(a *domain.Address) (any, error) {
	if a == nil {
		return nil, nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func marshalMap[T any](m map[string]T) (string, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalAddress(raw []byte) (*domain.Address, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var a domain.Address
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("unmarshal address: %w", err)
	}
	return &a, nil
}
