package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_checkout/internal/domain"
)

// CartCache holds read-through copies of carts. Every Delete bumps the
// owner key's generation; a fill only lands if the generation it read
// before loading the cart is still current, so a fill racing an
// invalidation can never resurrect the old cart.
type CartCache interface {
	Get(ctx context.Context, ownerKey string) (*domain.Cart, error)
	Generation(ctx context.Context, ownerKey string) (int64, error)
	// Set reports false when gen is stale and nothing was stored.
	Set(ctx context.Context, ownerKey string, gen int64, cart *domain.Cart) (bool, error)
	Delete(ctx context.Context, ownerKey string) error
}

var ErrCacheMiss = errors.New("cache miss")
