package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fjod/go_checkout/internal/repository"
)

// ErrMalformedEvent marks a message that will never succeed; it is committed
// without retrying.
var ErrMalformedEvent = errors.New("malformed event")

const (
	retryBackoff    = 200 * time.Millisecond
	maxRetryBackoff = 30 * time.Second
)

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx repository.Tx) error) error
}

type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds one topic to a handler. An offset is committed only once the
// handler succeeds or rejects the message as malformed. Transient failures are
// retried until they clear or the context ends, so a crash mid-message means
// redelivery; handlers must be idempotent.
type Consumer struct {
	name   string
	reader messageReader
	handle Handler
	log    *slog.Logger
}

func NewConsumer(name, topic, groupID string, handle Handler, log *slog.Logger, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID + "-" + name,
		MaxBytes: 10e6, // 10MB
	})
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{name: name, reader: reader, handle: handle, log: log.With("consumer", name)}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		c.log.ErrorContext(ctx, "error reading message", "error", err)
		return
	}

	if err := c.handleWithRetry(ctx, m); err != nil {
		// shutting down: leave the offset for the next owner of the partition
		return
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.ErrorContext(ctx, "error committing offset", "offset", m.Offset, "error", err)
	}
}

// handleWithRetry returns nil once the message may be committed, or the
// context error when it must stay uncommitted.
func (c *Consumer) handleWithRetry(ctx context.Context, m kafka.Message) error {
	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, m)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrMalformedEvent) {
			c.log.ErrorContext(ctx, "skipping malformed message",
				"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.WarnContext(ctx, "handler failed", "attempt", attempt, "offset", m.Offset, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
}

// backoff doubles from retryBackoff and stays at maxRetryBackoff.
func backoff(attempt int) time.Duration {
	d := retryBackoff
	for i := 1; i < attempt && d < maxRetryBackoff; i++ {
		d *= 2
	}
	return min(d, maxRetryBackoff)
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
