package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_checkout/internal/domain"
)

// entryVersion is bumped whenever domain.Cart changes shape. Entries written
// under another version read as misses and are rebuilt from Mongo.
const entryVersion = 2

const (
	defaultPrefix    = "checkout:cart:"
	defaultTTL       = 15 * time.Minute
	defaultMaxJitter = 5 * time.Minute

	// generations outlive any fill that could still be in flight
	generationTTL = 24 * time.Hour
)

// setIfGeneration writes the cart only while the generation counter still
// holds the value the caller read before loading it. A missing counter is 0.
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if (current or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

type entry struct {
	Version int          `json:"v"`
	Cart    *domain.Cart `json:"cart"`
}

type Option func(*RedisCache)

func WithTTL(ttl, maxJitter time.Duration) Option {
	return func(r *RedisCache) {
		r.ttl, r.maxJitter = ttl, maxJitter
	}
}

func WithPrefix(prefix string) Option {
	return func(r *RedisCache) { r.prefix = prefix }
}

// RedisCache keeps a read-through copy of carts keyed by owner key. It works
// with a single node or a cluster client.
type RedisCache struct {
	client    redis.UniversalClient
	prefix    string
	ttl       time.Duration
	maxJitter time.Duration
}

func NewRedisCache(client redis.UniversalClient, opts ...Option) *RedisCache {
	r := &RedisCache{
		client:    client,
		prefix:    defaultPrefix,
		ttl:       defaultTTL,
		maxJitter: defaultMaxJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisCache) Get(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	raw, err := r.client.Get(ctx, r.key(ownerKey)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("read cached cart %s: %w", ownerKey, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode cached cart %s: %w", ownerKey, err)
	}
	if e.Version != entryVersion || e.Cart == nil || e.Cart.OwnerKey != ownerKey {
		return nil, ErrCacheMiss
	}
	return e.Cart, nil
}

func (r *RedisCache) Generation(ctx context.Context, ownerKey string) (int64, error) {
	gen, err := r.client.Get(ctx, r.generationKey(ownerKey)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cart generation %s: %w", ownerKey, err)
	}
	return gen, nil
}

func (r *RedisCache) Set(ctx context.Context, ownerKey string, gen int64, cart *domain.Cart) (bool, error) {
	raw, err := json.Marshal(entry{Version: entryVersion, Cart: cart})
	if err != nil {
		return false, fmt.Errorf("encode cart %s: %w", ownerKey, err)
	}

	keys := []string{r.key(ownerKey), r.generationKey(ownerKey)}
	stored, err := setIfGeneration.Run(ctx, r.client, keys, gen, raw, r.expiry().Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cache cart %s: %w", ownerKey, err)
	}
	return stored == 1, nil
}

// Delete evicts the cart and bumps its generation in one transaction.
func (r *RedisCache) Delete(ctx context.Context, ownerKey string) error {
	genKey := r.generationKey(ownerKey)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, r.key(ownerKey))
		return nil
	})
	if err != nil {
		return fmt.Errorf("evict cart %s: %w", ownerKey, err)
	}
	return nil
}

// expiry spreads out carts cached in the same burst.
func (r *RedisCache) expiry() time.Duration {
	if r.maxJitter <= 0 {
		return r.ttl
	}
	return r.ttl + rand.N(r.maxJitter)
}

// key hash-tags the owner key so the entry and its generation share a
// cluster slot.
func (r *RedisCache) key(ownerKey string) string {
	return r.prefix + "{" + ownerKey + "}"
}

func (r *RedisCache) generationKey(ownerKey string) string {
	return r.key(ownerKey) + ":gen"
}
