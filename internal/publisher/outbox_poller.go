package publisher

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fjod/go_checkout/internal/domain"
)

const batchSize = 100

type Outbox interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	InsertOutboxEvent(ctx context.Context, topic, aggregateID, eventType string, payload any) error
	StrandedVerifiedPayments(ctx context.Context, grace time.Duration, limit int) ([]domain.PaymentVerifiedEvent, error)
	StrandedPaidOrders(ctx context.Context, grace time.Duration, limit int) ([]domain.OrderPaidEvent, error)
}

// Recovery configures the sweep that re-enqueues follow-up events for
// completed payments and paid orders whose handlers never finished. A zero
// Interval disables it.
type Recovery struct {
	Interval time.Duration
	Grace    time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboxPoller relays committed outbox rows to Kafka. Delivery is
// at-least-once: a row is marked only after the broker accepted it.
type OutboxPoller struct {
	eventTick time.Duration
	recovery  Recovery
	repo      Outbox
	writer    messageWriter
	log       *slog.Logger
}

func NewOutboxPoller(repo Outbox, interval time.Duration, recovery Recovery, log *slog.Logger, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	if log == nil {
		log = slog.Default()
	}
	return &OutboxPoller{eventTick: interval, recovery: recovery, repo: repo, writer: w, log: log}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	defer eventTicker.Stop()

	var recoveryC <-chan time.Time
	if p.recovery.Interval > 0 {
		recoveryTicker := time.NewTicker(p.recovery.Interval)
		defer recoveryTicker.Stop()
		recoveryC = recoveryTicker.C
	}

	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryC:
			p.recoverStrandedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

// processUnpublishedEvents stops at the first failed publish so rows for the
// same aggregate are never sent out of order.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.publishToKafka(ctx, event); err != nil {
			p.log.ErrorContext(ctx, "failed to publish outbox event",
				"event_id", event.ID, "event_type", event.EventType, "error", err)
			return published
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.ErrorContext(ctx, "failed to mark outbox event as processed", "event_id", event.ID, "error", err)
			return published
		}
		published++
	}
	return published
}

// recoverStrandedEvents writes fresh outbox rows for settlement and stock
// work that never happened, e.g. after a consumer gave up on a message or a
// row was published but lost. Both handlers are idempotent, so a duplicate
// is harmless.
func (p *OutboxPoller) recoverStrandedEvents(ctx context.Context) int {
	recovered := 0

	payments, err := p.repo.StrandedVerifiedPayments(ctx, p.recovery.Grace, batchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to find stranded payments", "error", err)
	}
	for _, e := range payments {
		err := p.repo.InsertOutboxEvent(ctx, domain.TopicPaymentEvents, strconv.FormatInt(e.PaymentID, 10), domain.EventPaymentVerified, e)
		if err != nil {
			p.log.ErrorContext(ctx, "failed to re-enqueue payment", "payment_id", e.PaymentID, "error", err)
			continue
		}
		p.log.WarnContext(ctx, "re-enqueued stranded payment", "payment_id", e.PaymentID)
		recovered++
	}

	orders, err := p.repo.StrandedPaidOrders(ctx, p.recovery.Grace, batchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to find stranded orders", "error", err)
	}
	for _, e := range orders {
		err := p.repo.InsertOutboxEvent(ctx, domain.TopicOrderEvents, strconv.FormatInt(e.OrderID, 10), domain.EventOrderPaid, e)
		if err != nil {
			p.log.ErrorContext(ctx, "failed to re-enqueue order", "order_id", e.OrderID, "error", err)
			continue
		}
		p.log.WarnContext(ctx, "re-enqueued stranded order", "order_id", e.OrderID, "payment_id", e.PaymentID)
		recovered++
	}
	return recovered
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *domain.OutboxEvent) error {
	msg := kafka.Message{
		Topic: event.Topic,
		Key:   []byte(event.AggregateID), // partition by aggregate for ordering
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
