// Package cart is the transient line-item store behind checkout.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_checkout/internal/cart/cache"
	"github.com/fjod/go_checkout/internal/cart/repository"
	"github.com/fjod/go_checkout/internal/domain"
)

var (
	ErrInvalidItem     = errors.New("invalid cart item")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrLineNotFound    = repository.ErrItemNotFound
)

type Service struct {
	repo  repository.CartRepository
	cache cache.CartCache
	log   *slog.Logger
	sfg   singleflight.Group
}

func NewService(repo repository.CartRepository, cache cache.CartCache, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, cache: cache, log: log}
}

// Get returns an empty cart when the owner has none. A miss is filled from
// Mongo under the generation read before loading, so a fill that races a
// write is dropped instead of caching the old cart.
func (s *Service) Get(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	cart, err := s.cache.Get(ctx, ownerKey)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log.WarnContext(ctx, "cart cache get failed", "owner_key", ownerKey, "error", err)
	}

	gen, err := s.cache.Generation(ctx, ownerKey)
	if err != nil {
		s.log.WarnContext(ctx, "cart cache generation failed", "owner_key", ownerKey, "error", err)
		gen = -1
	}

	// readers that arrive after an invalidation see a new generation and
	// never share a load that started before it
	v, err, _ := s.sfg.Do(fmt.Sprintf("%s#%d", ownerKey, gen), func() (interface{}, error) {
		cart, err := s.repo.GetCart(ctx, ownerKey)
		if errors.Is(err, repository.ErrCartNotFound) {
			now := time.Now()
			return &domain.Cart{OwnerKey: ownerKey, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		if gen >= 0 {
			stored, err := s.cache.Set(ctx, ownerKey, gen, cart)
			switch {
			case err != nil:
				s.log.WarnContext(ctx, "cart cache set failed", "owner_key", ownerKey, "error", err)
			case !stored:
				s.log.DebugContext(ctx, "cart cache fill superseded", "owner_key", ownerKey)
			}
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

func (s *Service) All(ctx context.Context, ownerKey string) ([]domain.CartItem, error) {
	cart, err := s.Get(ctx, ownerKey)
	if err != nil {
		return nil, err
	}
	return cart.Items, nil
}

func (s *Service) Total(ctx context.Context, ownerKey string) (decimal.Decimal, error) {
	items, err := s.All(ctx, ownerKey)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum, nil
}

// Add puts an item in the cart. Re-adding the same item with the same
// options grows the existing line.
func (s *Service) Add(ctx context.Context, ownerKey string, item domain.CartItem) (domain.CartItem, error) {
	if !item.Kind.Valid() || item.ItemID <= 0 || item.UnitPrice.IsNegative() {
		return domain.CartItem{}, ErrInvalidItem
	}
	if item.Quantity < 1 {
		return domain.CartItem{}, ErrInvalidQuantity
	}
	item.RowID = domain.RowID(item.Kind, item.ItemID, item.Options)

	if err := s.repo.AddItem(ctx, ownerKey, item); err != nil {
		return domain.CartItem{}, fmt.Errorf("add cart item: %w", err)
	}
	s.invalidate(ownerKey)
	return item, nil
}

func (s *Service) Update(ctx context.Context, ownerKey, rowID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if err := s.repo.UpdateItemQuantity(ctx, ownerKey, rowID, quantity); err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}
	s.invalidate(ownerKey)
	return nil
}

// Increase and Decrease adjust the stored quantity in place, so concurrent
// adjustments never overwrite each other.
func (s *Service) Increase(ctx context.Context, ownerKey, rowID string, by int) error {
	if by < 1 {
		by = 1
	}
	return s.adjust(ctx, ownerKey, rowID, by)
}

// Decrease never takes a line below 1; use Remove to drop it.
func (s *Service) Decrease(ctx context.Context, ownerKey, rowID string, by int) error {
	if by < 1 {
		by = 1
	}
	return s.adjust(ctx, ownerKey, rowID, -by)
}

func (s *Service) adjust(ctx context.Context, ownerKey, rowID string, delta int) error {
	if err := s.repo.AdjustItemQuantity(ctx, ownerKey, rowID, delta); err != nil {
		return fmt.Errorf("adjust cart item: %w", err)
	}
	s.invalidate(ownerKey)
	return nil
}

func (s *Service) Remove(ctx context.Context, ownerKey, rowID string) error {
	if err := s.repo.RemoveItem(ctx, ownerKey, rowID); err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	s.invalidate(ownerKey)
	return nil
}

func (s *Service) Clear(ctx context.Context, ownerKey string) error {
	err := s.repo.DeleteCart(ctx, ownerKey)
	if err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.invalidate(ownerKey)
	return nil
}

// Merge folds the guest cart into the owner's cart on login. Matching rows
// have their quantities summed. The guest cart is removed afterwards.
func (s *Service) Merge(ctx context.Context, guestKey, ownerKey string) error {
	if guestKey == ownerKey {
		return nil
	}
	guest, err := s.repo.GetCart(ctx, guestKey)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load guest cart: %w", err)
	}

	owner, err := s.repo.GetCart(ctx, ownerKey)
	if errors.Is(err, repository.ErrCartNotFound) {
		owner = &domain.Cart{OwnerKey: ownerKey}
	} else if err != nil {
		return fmt.Errorf("load owner cart: %w", err)
	}

	index := make(map[string]int, len(owner.Items))
	for i, it := range owner.Items {
		index[it.RowID] = i
	}
	for _, it := range guest.Items {
		if i, ok := index[it.RowID]; ok {
			owner.Items[i].Quantity += it.Quantity
			continue
		}
		index[it.RowID] = len(owner.Items)
		owner.Items = append(owner.Items, it)
	}

	if err := s.repo.UpsertCart(ctx, owner); err != nil {
		return fmt.Errorf("save merged cart: %w", err)
	}
	if err := s.repo.DeleteCart(ctx, guestKey); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		s.log.WarnContext(ctx, "guest cart not removed after merge", "guest_key", guestKey, "error", err)
	}

	s.invalidate(guestKey)
	s.invalidate(ownerKey)
	return nil
}

func (s *Service) invalidate(ownerKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, ownerKey); err != nil {
		s.log.Warn("cart cache invalidate failed", "owner_key", ownerKey, "error", err)
	}
}
