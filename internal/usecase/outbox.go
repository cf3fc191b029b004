package usecase

import (
	"context"
	"time"

	"github.com/iho/cashflow/internal/domain"
)

// outboxWriter enqueues events inside the caller's database transaction so
// they are published only if the change commits. A nil repository disables
// the outbox.
type outboxWriter struct {
	repo  OutboxRepository
	idGen IDGenerator
}

func (w outboxWriter) enqueue(
	ctx context.Context,
	tx Transaction,
	aggregateType, aggregateID, eventType string,
	payload map[string]any,
	at time.Time,
) error {
	if w.repo == nil {
		return nil
	}

	return w.repo.Create(ctx, tx, &domain.OutboxEvent{
		ID:            w.idGen.Generate(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     at,
	})
}
