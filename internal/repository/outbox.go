package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fjod/go_checkout/internal/domain"
)

// InsertOutboxEvent records an event in the caller's transaction; the
// outbox poller publishes it after commit.
func (q *Queries) InsertOutboxEvent(ctx context.Context, topic, aggregateID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	_, err = q.q.ExecContext(ctx,
		`INSERT INTO outbox_events (topic, aggregate_id, event_type, payload) VALUES ($1, $2, $3, $4)`,
		topic, aggregateID, eventType, string(data))
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (q *Queries) GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, topic, aggregate_id, event_type, payload, created_at
		 FROM outbox_events WHERE processed_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Topic, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		e.Payload = payload
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (q *Queries) MarkEventAsProcessed(ctx context.Context, id int64) error {
	if _, err := q.q.ExecContext(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark outbox event processed: %w", err)
	}
	return nil
}
