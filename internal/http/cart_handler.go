package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fjod/go_checkout/internal/domain"
)

type CartService interface {
	Get(ctx context.Context, ownerKey string) (*domain.Cart, error)
	Add(ctx context.Context, ownerKey string, item domain.CartItem) (domain.CartItem, error)
	Update(ctx context.Context, ownerKey, rowID string, quantity int) error
	Increase(ctx context.Context, ownerKey, rowID string, by int) error
	Decrease(ctx context.Context, ownerKey, rowID string, by int) error
	Remove(ctx context.Context, ownerKey, rowID string) error
	Clear(ctx context.Context, ownerKey string) error
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
	log     *slog.Logger
}

func NewCartHandler(carts CartService, timeout time.Duration, log *slog.Logger) *CartHandler {
	return &CartHandler{carts: carts, timeout: timeout, log: log}
}

type AddItemRequestDTO struct {
	ItemID    int64             `json:"item_id"`
	Kind      domain.ItemKind   `json:"kind"`
	Name      string            `json:"name"`
	UnitPrice decimal.Decimal   `json:"unit_price"`
	Quantity  int               `json:"quantity"`
	Options   map[string]string `json:"options,omitempty"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type StepRequestDTO struct {
	By int `json:"by"`
}

type CartResponseDTO struct {
	Items    []domain.CartItem `json:"items"`
	Count    int               `json:"count"`
	Subtotal decimal.Decimal   `json:"subtotal"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	h.respondCart(ctx, w, r, http.StatusOK)
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.ItemID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "item_id must be positive")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	_, err := h.carts.Add(ctx, cartKey(r), domain.CartItem{
		ItemID:    req.ItemID,
		Kind:      req.Kind,
		Name:      req.Name,
		UnitPrice: req.UnitPrice,
		Quantity:  req.Quantity,
		Options:   req.Options,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.respondCart(ctx, w, r, http.StatusCreated)
}

// PUT /api/v1/cart/items/{rowID}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.carts.Update(ctx, cartKey(r), chi.URLParam(r, "rowID"), req.Quantity); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.respondCart(ctx, w, r, http.StatusOK)
}

// POST /api/v1/cart/items/{rowID}/increase
func (h *CartHandler) Increase(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, h.carts.Increase)
}

// POST /api/v1/cart/items/{rowID}/decrease
func (h *CartHandler) Decrease(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, h.carts.Decrease)
}

func (h *CartHandler) step(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, ownerKey, rowID string, by int) error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	req := StepRequestDTO{By: 1}
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if err := fn(ctx, cartKey(r), chi.URLParam(r, "rowID"), req.By); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.respondCart(ctx, w, r, http.StatusOK)
}

// DELETE /api/v1/cart/items/{rowID}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.carts.Remove(ctx, cartKey(r), chi.URLParam(r, "rowID")); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.respondCart(ctx, w, r, http.StatusOK)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.carts.Clear(ctx, cartKey(r)); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, r *http.Request, status int) {
	c, err := h.carts.Get(ctx, cartKey(r))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	resp := CartResponseDTO{Items: c.Items, Subtotal: decimal.Zero}
	if resp.Items == nil {
		resp.Items = []domain.CartItem{}
	}
	for _, it := range c.Items {
		resp.Count += it.Quantity
		resp.Subtotal = resp.Subtotal.Add(it.LineTotal())
	}
	respondJSON(w, status, resp)
}

func cartKey(r *http.Request) string {
	return sessionFromContext(r.Context()).CartKey()
}
