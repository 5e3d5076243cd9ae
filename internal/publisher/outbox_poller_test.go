package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/pkg/logger"
)

type mockOutbox struct {
	mu        sync.Mutex
	events    []*domain.OutboxEvent
	processed []int64
	fetchErr  error
	markErr   error

	strandedPayments []domain.PaymentVerifiedEvent
	strandedOrders   []domain.OrderPaidEvent
	strandedErr      error
	insertErr        error
	grace            time.Duration
}

func (m *mockOutbox) GetUnprocessedEvents(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	done := map[int64]bool{}
	for _, id := range m.processed {
		done[id] = true
	}
	var out []*domain.OutboxEvent
	for _, e := range m.events {
		if !done[e.ID] && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockOutbox) MarkEventAsProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.processed = append(m.processed, id)
	return nil
}

func (m *mockOutbox) InsertOutboxEvent(_ context.Context, topic, aggregateID, eventType string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.events = append(m.events, &domain.OutboxEvent{
		ID:          int64(len(m.events) + 1),
		Topic:       topic,
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     data,
	})
	return nil
}

func (m *mockOutbox) StrandedVerifiedPayments(_ context.Context, grace time.Duration, _ int) ([]domain.PaymentVerifiedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grace = grace
	return m.strandedPayments, m.strandedErr
}

func (m *mockOutbox) StrandedPaidOrders(_ context.Context, _ time.Duration, _ int) ([]domain.OrderPaidEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strandedOrders, nil
}

type mockWriter struct {
	messages []kafkaGo.Message
	failAt   int // 1-based call number that fails, 0 never
	calls    int
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	w.calls++
	if w.failAt == w.calls {
		return errors.New("broker unavailable")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *mockWriter) Close() error { return nil }

func outboxEvents() []*domain.OutboxEvent {
	return []*domain.OutboxEvent{
		{ID: 1, Topic: domain.TopicOrderEvents, AggregateID: "10", EventType: domain.EventOrderPlaced, Payload: json.RawMessage(`{"order_id":10}`)},
		{ID: 2, Topic: domain.TopicPaymentEvents, AggregateID: "7", EventType: domain.EventPaymentVerified, Payload: json.RawMessage(`{"payment_id":7}`)},
		{ID: 3, Topic: domain.TopicOrderEvents, AggregateID: "10", EventType: domain.EventOrderPaid, Payload: json.RawMessage(`{"order_id":10}`)},
	}
}

func newTestPoller(repo Outbox, w messageWriter) *OutboxPoller {
	return &OutboxPoller{
		eventTick: 10 * time.Millisecond,
		recovery:  Recovery{Interval: 20 * time.Millisecond, Grace: time.Minute},
		repo:      repo,
		writer:    w,
		log:       logger.Nop(),
	}
}

func strandedScenario() *mockOutbox {
	by := "webhook"
	return &mockOutbox{
		strandedPayments: []domain.PaymentVerifiedEvent{
			{PaymentID: 7, Status: domain.PaymentStatusCompleted, VerifiedBy: &by, VerifiedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		},
		strandedOrders: []domain.OrderPaidEvent{
			{OrderID: 10, PaymentID: 7, PaidAt: time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)},
		},
	}
}

func TestProcessUnpublishedEvents_RoutesByTopicAndKey(t *testing.T) {
	repo := &mockOutbox{events: outboxEvents()}
	w := &mockWriter{}
	p := newTestPoller(repo, w)

	n := p.processUnpublishedEvents(context.Background())
	require.Equal(t, 3, n)
	require.Len(t, w.messages, 3)

	assert.Equal(t, domain.TopicOrderEvents, w.messages[0].Topic)
	assert.Equal(t, "10", string(w.messages[0].Key))
	assert.Equal(t, domain.TopicPaymentEvents, w.messages[1].Topic)
	assert.JSONEq(t, `{"payment_id":7}`, string(w.messages[1].Value))
	require.Len(t, w.messages[2].Headers, 1)
	assert.Equal(t, "event_type", w.messages[2].Headers[0].Key)
	assert.Equal(t, domain.EventOrderPaid, string(w.messages[2].Headers[0].Value))

	assert.Equal(t, []int64{1, 2, 3}, repo.processed)
}

func TestProcessUnpublishedEvents_StopsAtFirstFailure(t *testing.T) {
	repo := &mockOutbox{events: outboxEvents()}
	w := &mockWriter{failAt: 2}
	p := newTestPoller(repo, w)

	n := p.processUnpublishedEvents(context.Background())
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, repo.processed)

	// the failed row is retried on the next tick
	n = p.processUnpublishedEvents(context.Background())
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2, 3}, repo.processed)
}

func TestProcessUnpublishedEvents_UnmarkedRowIsRepublished(t *testing.T) {
	repo := &mockOutbox{events: outboxEvents()[:1], markErr: errors.New("db down")}
	w := &mockWriter{}
	p := newTestPoller(repo, w)

	assert.Equal(t, 0, p.processUnpublishedEvents(context.Background()))
	repo.markErr = nil
	assert.Equal(t, 1, p.processUnpublishedEvents(context.Background()))

	// at-least-once: the broker saw it twice
	assert.Len(t, w.messages, 2)
}

func TestProcessUnpublishedEvents_FetchError(t *testing.T) {
	repo := &mockOutbox{fetchErr: errors.New("db down")}
	w := &mockWriter{}
	p := newTestPoller(repo, w)

	assert.Equal(t, 0, p.processUnpublishedEvents(context.Background()))
	assert.Empty(t, w.messages)
}

func TestRun_StopsWithContext(t *testing.T) {
	repo := &mockOutbox{events: outboxEvents()}
	w := &mockWriter{}
	p := newTestPoller(repo, w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.processed) == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestRecoverStrandedEvents_ReenqueuesFollowUps(t *testing.T) {
	repo := strandedScenario()
	p := newTestPoller(repo, &mockWriter{})

	n := p.recoverStrandedEvents(context.Background())
	require.Equal(t, 2, n)
	assert.Equal(t, time.Minute, repo.grace)
	require.Len(t, repo.events, 2)

	pay := repo.events[0]
	assert.Equal(t, domain.TopicPaymentEvents, pay.Topic)
	assert.Equal(t, "7", pay.AggregateID)
	assert.Equal(t, domain.EventPaymentVerified, pay.EventType)
	var verified domain.PaymentVerifiedEvent
	require.NoError(t, json.Unmarshal(pay.Payload, &verified))
	assert.Equal(t, int64(7), verified.PaymentID)
	assert.Equal(t, domain.PaymentStatusCompleted, verified.Status)
	require.NotNil(t, verified.VerifiedBy)
	assert.Equal(t, "webhook", *verified.VerifiedBy)

	order := repo.events[1]
	assert.Equal(t, domain.TopicOrderEvents, order.Topic)
	assert.Equal(t, "10", order.AggregateID)
	assert.Equal(t, domain.EventOrderPaid, order.EventType)
	assert.JSONEq(t, `{"order_id":10,"payment_id":7,"paid_at":"2026-03-01T12:00:01Z"}`, string(order.Payload))
}

func TestRecoverStrandedEvents_PaymentLookupFailureStillSweepsOrders(t *testing.T) {
	repo := strandedScenario()
	repo.strandedPayments = nil
	repo.strandedErr = errors.New("db down")
	p := newTestPoller(repo, &mockWriter{})

	assert.Equal(t, 1, p.recoverStrandedEvents(context.Background()))
	require.Len(t, repo.events, 1)
	assert.Equal(t, domain.EventOrderPaid, repo.events[0].EventType)
}

func TestRecoverStrandedEvents_InsertFailure(t *testing.T) {
	repo := strandedScenario()
	repo.insertErr = errors.New("db down")
	p := newTestPoller(repo, &mockWriter{})

	assert.Equal(t, 0, p.recoverStrandedEvents(context.Background()))
	assert.Empty(t, repo.events)
}

func TestRun_RecoveredEventsArePublished(t *testing.T) {
	repo := strandedScenario()
	w := &mockWriter{}
	p := newTestPoller(repo, w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.processed) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	require.NotEmpty(t, w.messages)
	assert.Equal(t, domain.EventPaymentVerified, string(w.messages[0].Headers[0].Value))
	assert.Equal(t, "7", string(w.messages[0].Key))
}

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestOutboxPoller_PublishesEventsToKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}

	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	createTopic(t, brokerAddr, domain.TopicPaymentEvents)
	time.Sleep(5 * time.Second)

	repo := &mockOutbox{events: outboxEvents()[1:2]}
	writer := &kafkaGo.Writer{
		Addr:         kafkaGo.TCP(brokerAddr),
		Balancer:     &kafkaGo.Hash{},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	defer writer.Close()

	poller := &OutboxPoller{eventTick: time.Second, repo: repo, writer: writer, log: logger.Nop()}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	go poller.Run(ctx)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    domain.TopicPaymentEvents,
		GroupID:  "test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", string(msg.Key))
	assert.JSONEq(t, `{"payment_id":7}`, string(msg.Value))
	assert.Equal(t, domain.EventPaymentVerified, string(msg.Headers[0].Value))

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.processed) == 1
	}, 5*time.Second, 100*time.Millisecond)
}
