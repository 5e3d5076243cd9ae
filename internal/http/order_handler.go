package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/repository"
)

type OrderReader interface {
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
}

type OrderHandler struct {
	orders  OrderReader
	timeout time.Duration
	log     *slog.Logger
}

func NewOrderHandler(orders OrderReader, timeout time.Duration, log *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, timeout: timeout, log: log}
}

// GET /api/v1/orders/{orderID}
//
// Only the owning user can read an order. Other callers get 404 so order ids
// cannot be enumerated.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := userIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthenticated", HeaderUserID+" header is required")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order id must be a positive integer")
		return
	}

	order, err := h.orders.GetOrder(ctx, id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if order.OwnerID == nil || *order.OwnerID != userID {
		writeError(w, r, h.log, repository.ErrOrderNotFound)
		return
	}

	respondJSON(w, http.StatusOK, order)
}
