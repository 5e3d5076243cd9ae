// Package payment initializes hosted payments and applies provider
// verification results to the local payment record.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/gateway"
	"github.com/fjod/go_checkout/internal/repository"
)

var tracer = otel.Tracer("github.com/fjod/go_checkout/internal/payment")

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx repository.Tx) error) error
}

// IntegrityError means the provider charged something other than what was quoted.
type IntegrityError struct {
	PaymentID        int64
	ExpectedAmount   decimal.Decimal
	ObservedAmount   decimal.Decimal
	ExpectedCurrency string
	ObservedCurrency string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("payment %d: expected %s %s, provider reported %s %s",
		e.PaymentID, e.ExpectedAmount.String(), e.ExpectedCurrency, e.ObservedAmount.String(), e.ObservedCurrency)
}

type Outcome struct {
	Payment *domain.Payment
	// AlreadyApplied is set when the payment was completed before this call.
	AlreadyApplied bool
	// Completed is set only on the call that moved the payment to completed.
	Completed bool
}

type Reconciler struct {
	tx  TxRunner
	log *slog.Logger
	now func() time.Time
}

func NewReconciler(tx TxRunner, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{tx: tx, log: log, now: time.Now}
}

// Apply merges a verification into the payment under a row lock. A completed
// payment is never touched again, so duplicate webhooks and a racing
// callback are no-ops. On a mismatch nothing is written.
func (r *Reconciler) Apply(ctx context.Context, paymentID int64, v *gateway.Verification, verifier *string) (_ *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "payment.Reconcile")
	span.SetAttributes(attribute.Int64("payment.id", paymentID), attribute.String("provider.status", v.Status))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var out *Outcome
	err = r.tx.WithTx(ctx, func(tx repository.Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == domain.PaymentStatusCompleted {
			out = &Outcome{Payment: p, AlreadyApplied: true}
			return nil
		}

		if ierr := checkIntegrity(p, v); ierr != nil {
			r.log.WarnContext(ctx, "payment integrity mismatch",
				"payment_id", p.ID,
				"reference", p.TransactionReference,
				"expected_amount", ierr.ExpectedAmount.String(),
				"observed_amount", ierr.ObservedAmount.String(),
				"expected_currency", ierr.ExpectedCurrency,
				"observed_currency", ierr.ObservedCurrency)
			return ierr
		}

		merged := r.merge(p, v, verifier)
		if err := tx.SavePaymentResult(ctx, merged); err != nil {
			return err
		}

		out = &Outcome{Payment: merged}
		if merged.Status != domain.PaymentStatusCompleted {
			return nil
		}
		out.Completed = true
		return tx.InsertOutboxEvent(ctx, domain.TopicPaymentEvents, strconv.FormatInt(merged.ID, 10), domain.EventPaymentVerified,
			domain.PaymentVerifiedEvent{
				PaymentID:  merged.ID,
				Status:     merged.Status,
				VerifiedBy: merged.VerifiedBy,
				VerifiedAt: *merged.VerifiedAt,
			})
	})
	if err != nil {
		return nil, err
	}

	if out.Completed {
		r.log.InfoContext(ctx, "payment completed", "payment_id", out.Payment.ID, "reference", out.Payment.TransactionReference)
	}
	return out, nil
}

// merge leaves the local status alone for statuses it does not recognise;
// only the provider's own status string, method and reference are recorded.
func (r *Reconciler) merge(p *domain.Payment, v *gateway.Verification, verifier *string) *domain.Payment {
	merged := *p
	now := r.now()

	if v.Status != "" {
		raw := v.Status
		merged.TransactionStatus = &raw
	}
	if v.Method != "" {
		method := v.Method
		merged.Method = &method
	}
	if v.Reference != "" {
		ref := v.Reference
		merged.GatewayReference = &ref
	}

	switch NormalizeStatus(v.Status) {
	case domain.PaymentStatusCompleted:
		paidAt := parsePaidAt(v.PaidAt, now)
		merged.Status = domain.PaymentStatusCompleted
		merged.PaidAt = &paidAt
		merged.VerifiedAt = &now
		merged.VerifiedBy = verifier
	case domain.PaymentStatusFailed:
		merged.Status = domain.PaymentStatusFailed
	}
	return &merged
}

// NormalizeStatus folds provider success vocabulary into completed. Anything
// else is returned as the provider spelled it.
func NormalizeStatus(status string) domain.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "successful", "completed":
		return domain.PaymentStatusCompleted
	case "failed":
		return domain.PaymentStatusFailed
	default:
		return domain.PaymentStatus(status)
	}
}

func checkIntegrity(p *domain.Payment, v *gateway.Verification) *IntegrityError {
	if v.Amount.Equal(p.Amount) && strings.EqualFold(v.Currency, p.Currency) {
		return nil
	}
	return &IntegrityError{
		PaymentID:        p.ID,
		ExpectedAmount:   p.Amount,
		ObservedAmount:   v.Amount,
		ExpectedCurrency: p.Currency,
		ObservedCurrency: v.Currency,
	}
}

var paidAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parsePaidAt(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range paidAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback
}
