package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrOpen is returned while a breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func DefaultConfig() Config {
	return Config{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Registry hands out one breaker per name, created on first use.
type Registry[T any] struct {
	mu       sync.Mutex
	cfg      Config
	log      *slog.Logger
	breakers map[string]*gobreaker.CircuitBreaker[T]
	// IsSuccessful lets callers keep client-side errors from tripping the breaker.
	IsSuccessful func(err error) bool
}

func NewRegistry[T any](cfg Config, log *slog.Logger) *Registry[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Registry[T]{
		cfg:      cfg,
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker[T]),
	}
}

func (r *Registry[T]) Execute(name string, fn func() (T, error)) (T, error) {
	v, err := r.get(name).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return v, ErrOpen
	}
	return v, err
}

func (r *Registry[T]) State(name string) gobreaker.State {
	return r.get(name).State()
}

func (r *Registry[T]) get(name string) *gobreaker.CircuitBreaker[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	threshold := r.cfg.ConsecutiveFailures
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: r.cfg.MaxRequests,
		Interval:    r.cfg.Interval,
		Timeout:     r.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: r.IsSuccessful,
	}
	cb := gobreaker.NewCircuitBreaker[T](st)
	r.breakers[name] = cb
	return cb
}
