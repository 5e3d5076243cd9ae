package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_checkout/internal/domain"
)

const paymentColumns = `id, owner_id, full_name, email, phone, payment_gateway_id, amount, currency, description,
	transaction_reference, gateway_reference, status, transaction_status, method, checkout_url, callback_url,
	cancel_url, metadata, paid_at, verified_at, verified_by, created_at, updated_at`

func (q *Queries) CreatePayment(ctx context.Context, p *domain.Payment) error {
	meta, err := marshalMap(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal payment metadata: %w", err)
	}

	query := `INSERT INTO payments (owner_id, full_name, email, phone, payment_gateway_id, amount, currency, description,
	              transaction_reference, status, callback_url, cancel_url, metadata)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	          RETURNING id, created_at, updated_at`

	err = q.q.QueryRowContext(ctx, query,
		p.OwnerID, p.FullName, p.Email, p.Phone, p.PaymentGatewayID, p.Amount, p.Currency, p.Description,
		p.TransactionReference, p.Status, p.CallbackURL, p.CancelURL, meta,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (q *Queries) CreatePayable(ctx context.Context, p *domain.Payable) error {
	err := q.q.QueryRowContext(ctx,
		`INSERT INTO payables (payment_id, payable_type, payable_id, amount) VALUES ($1, $2, $3, $4) RETURNING id`,
		p.PaymentID, p.PayableType, p.PayableID, p.Amount,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert payable: %w", err)
	}
	return nil
}

func (q *Queries) GetPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	return scanPayment(q.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (q *Queries) GetPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	return scanPayment(q.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_reference = $1`, reference))
}

// LockPayment reads the payment row under FOR UPDATE. Only meaningful inside WithTx.
func (q *Queries) LockPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	return scanPayment(q.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
}

// SetPaymentInitialization stores what the provider returned for a hosted checkout.
func (q *Queries) SetPaymentInitialization(ctx context.Context, id int64, gatewayReference, checkoutURL string) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE payments SET gateway_reference = $2, checkout_url = $3, updated_at = NOW() WHERE id = $1`,
		id, gatewayReference, checkoutURL)
	if err != nil {
		return fmt.Errorf("update payment initialization: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (q *Queries) SavePaymentResult(ctx context.Context, p *domain.Payment) error {
	query := `UPDATE payments SET status = $2, transaction_status = $3, method = $4, gateway_reference = $5,
	              paid_at = $6, verified_at = $7, verified_by = $8, updated_at = NOW()
	          WHERE id = $1
	          RETURNING updated_at`

	err := q.q.QueryRowContext(ctx, query,
		p.ID, p.Status, p.TransactionStatus, p.Method, p.GatewayReference, p.PaidAt, p.VerifiedAt, p.VerifiedBy,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPaymentNotFound
	}
	if err != nil {
		return fmt.Errorf("save payment result: %w", err)
	}
	return nil
}

// MarkPayablesVerified stamps every not-yet-verified payable of the payment
// and returns the rows it changed.
func (q *Queries) MarkPayablesVerified(ctx context.Context, paymentID int64, verifiedBy *string, at time.Time) ([]domain.Payable, error) {
	rows, err := q.q.QueryContext(ctx,
		`UPDATE payables SET verified_at = $2, verified_by = $3
		 WHERE payment_id = $1 AND verified_at IS NULL
		 RETURNING id, payment_id, payable_type, payable_id, amount, verified_at, verified_by`,
		paymentID, at, verifiedBy)
	if err != nil {
		return nil, fmt.Errorf("mark payables verified: %w", err)
	}
	defer rows.Close()

	var out []domain.Payable
	for rows.Next() {
		var p domain.Payable
		if err := rows.Scan(&p.ID, &p.PaymentID, &p.PayableType, &p.PayableID, &p.Amount, &p.VerifiedAt, &p.VerifiedBy); err != nil {
			return nil, fmt.Errorf("scan payable row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (q *Queries) GetPayables(ctx context.Context, paymentID int64) ([]domain.Payable, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, payment_id, payable_type, payable_id, amount, verified_at, verified_by FROM payables WHERE payment_id = $1 ORDER BY id`,
		paymentID)
	if err != nil {
		return nil, fmt.Errorf("query payables: %w", err)
	}
	defer rows.Close()

	var out []domain.Payable
	for rows.Next() {
		var p domain.Payable
		if err := rows.Scan(&p.ID, &p.PaymentID, &p.PayableType, &p.PayableID, &p.Amount, &p.VerifiedAt, &p.VerifiedBy); err != nil {
			return nil, fmt.Errorf("scan payable row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row *sql.Row) (*domain.Payment, error) {
	var p domain.Payment
	var meta []byte

	err := row.Scan(
		&p.ID, &p.OwnerID, &p.FullName, &p.Email, &p.Phone, &p.PaymentGatewayID, &p.Amount, &p.Currency,
		&p.Description, &p.TransactionReference, &p.GatewayReference, &p.Status, &p.TransactionStatus, &p.Method,
		&p.CheckoutURL, &p.CallbackURL, &p.CancelURL, &meta, &p.PaidAt, &p.VerifiedAt, &p.VerifiedBy,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if err := json.Unmarshal(meta, &p.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal payment metadata: %w", err)
	}
	return &p, nil
}
