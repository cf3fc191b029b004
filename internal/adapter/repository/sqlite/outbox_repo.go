package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

// OutboxRepository implements usecase.OutboxRepository.
type OutboxRepository struct {
	db DBTX
}

// Create creates a new outbox event within a transaction.
func (r *OutboxRepository) Create(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	_, err = conn(r.db, tx).ExecContext(ctx, `
		INSERT INTO outbox_events (id, aggregate_id, aggregate_type, event_type, payload, created_at, published_at, published)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.AggregateID, event.AggregateType, event.EventType, string(payload),
		formatTime(event.CreatedAt), nullTime(event.PublishedAt), event.Published,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// GetUnpublished retrieves unpublished events, oldest first.
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, payload, created_at, published_at, published
		FROM outbox_events
		WHERE published = 0
		ORDER BY created_at, rowid
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var (
			e                  domain.OutboxEvent
			payload, createdAt string
			publishedAt        sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &payload, &createdAt, &publishedAt, &e.Published); err != nil {
			return nil, err
		}

		var p parser
		p.keep(json.Unmarshal([]byte(payload), &e.Payload))
		e.CreatedAt = p.time(createdAt)
		e.PublishedAt = p.nullTime(publishedAt)
		if p.err != nil {
			return nil, fmt.Errorf("decode outbox event %s: %w", e.ID, p.err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// MarkPublished marks an event as published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET published = 1, published_at = ? WHERE id = ?`,
		formatTime(publishedAt), id)
	return err
}

// DeletePublished deletes published events older than before.
func (r *OutboxRepository) DeletePublished(ctx context.Context, before time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM outbox_events WHERE published = 1 AND published_at < ?`,
		formatTime(before))
	return err
}
