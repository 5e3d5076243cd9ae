package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/repository"
)

// PaymentVerified settles whatever a completed payment paid for: payables
// are stamped verified and their pending orders become paid.
type PaymentVerified struct {
	tx  TxRunner
	log *slog.Logger
}

func NewPaymentVerified(tx TxRunner, log *slog.Logger) *PaymentVerified {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentVerified{tx: tx, log: log}
}

func (h *PaymentVerified) Handle(ctx context.Context, m kafka.Message) error {
	if eventType(m) != domain.EventPaymentVerified {
		return nil
	}

	var event domain.PaymentVerifiedEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.PaymentID == 0 {
		return fmt.Errorf("%w: missing payment_id", ErrMalformedEvent)
	}
	if event.Status != domain.PaymentStatusCompleted {
		return nil
	}

	var paidOrders []int64
	err := h.tx.WithTx(ctx, func(tx repository.Tx) error {
		paidOrders = paidOrders[:0]

		payables, err := tx.MarkPayablesVerified(ctx, event.PaymentID, event.VerifiedBy, event.VerifiedAt)
		if err != nil {
			return err
		}

		for _, p := range payables {
			if p.PayableType != domain.PayableTypeOrder {
				continue
			}
			flipped, err := tx.MarkOrderPaid(ctx, p.PayableID)
			if err != nil {
				return err
			}
			if !flipped {
				continue
			}
			err = tx.InsertOutboxEvent(ctx, domain.TopicOrderEvents, strconv.FormatInt(p.PayableID, 10), domain.EventOrderPaid,
				domain.OrderPaidEvent{OrderID: p.PayableID, PaymentID: event.PaymentID, PaidAt: event.VerifiedAt})
			if err != nil {
				return err
			}
			paidOrders = append(paidOrders, p.PayableID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("settle payment %d: %w", event.PaymentID, err)
	}

	for _, id := range paidOrders {
		h.log.InfoContext(ctx, "order paid", "order_id", id, "payment_id", event.PaymentID)
	}
	return nil
}
