package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/segmentio/kafka-go"

	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/repository"
)

// Inventory takes stock for paid orders, once per order.
type Inventory struct {
	tx  TxRunner
	log *slog.Logger
}

func NewInventory(tx TxRunner, log *slog.Logger) *Inventory {
	if log == nil {
		log = slog.Default()
	}
	return &Inventory{tx: tx, log: log}
}

func (h *Inventory) Handle(ctx context.Context, m kafka.Message) error {
	if eventType(m) != domain.EventOrderPaid {
		return nil
	}

	var event domain.OrderPaidEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.OrderID == 0 {
		return fmt.Errorf("%w: missing order_id", ErrMalformedEvent)
	}

	claimed := false
	err := h.tx.WithTx(ctx, func(tx repository.Tx) error {
		ok, err := tx.ClaimInventoryDeduction(ctx, event.OrderID)
		if err != nil || !ok {
			return err
		}
		claimed = true

		items, err := tx.GetOrderItems(ctx, event.OrderID)
		if err != nil {
			return err
		}
		for _, d := range deductions(items) {
			if err := tx.DecrementInventory(ctx, d.inventoryID, d.quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deduct inventory for order %d: %w", event.OrderID, err)
	}

	if claimed {
		h.log.InfoContext(ctx, "inventory deducted", "order_id", event.OrderID)
	} else {
		h.log.DebugContext(ctx, "inventory already deducted", "order_id", event.OrderID)
	}
	return nil
}

type deduction struct {
	inventoryID int64
	quantity    int
}

// deductions sums quantities per stock unit and orders them by id, so
// concurrent orders lock inventory rows in the same order.
func deductions(items []domain.OrderItem) []deduction {
	byID := map[int64]int{}
	for _, it := range items {
		if id := it.InventoryID(); id > 0 && it.Quantity > 0 {
			byID[id] += it.Quantity
		}
	}

	out := make([]deduction, 0, len(byID))
	for id, qty := range byID {
		out = append(out, deduction{inventoryID: id, quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].inventoryID < out[j].inventoryID })
	return out
}
