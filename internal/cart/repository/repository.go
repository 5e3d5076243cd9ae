package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_checkout/internal/domain"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrItemNotFound = errors.New("item not found in cart")
)

// CartRepository is keyed by cart owner key ("user:<id>" or "guest:<token>").
type CartRepository interface {
	GetCart(ctx context.Context, ownerKey string) (*domain.Cart, error)
	UpsertCart(ctx context.Context, cart *domain.Cart) error
	// AddItem adds item.Quantity to an existing row, or appends the row.
	AddItem(ctx context.Context, ownerKey string, item domain.CartItem) error
	UpdateItemQuantity(ctx context.Context, ownerKey, rowID string, quantity int) error
	// AdjustItemQuantity adds delta to a row in a single write. The result
	// never drops below 1.
	AdjustItemQuantity(ctx context.Context, ownerKey, rowID string, delta int) error
	RemoveItem(ctx context.Context, ownerKey, rowID string) error
	DeleteCart(ctx context.Context, ownerKey string) error
}
