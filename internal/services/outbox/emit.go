package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/RelayBox/internal/broker/messages"
	"github.com/BearBump/RelayBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Enqueuer is satisfied by storage.Repository, usually the transaction handle.
type Enqueuer interface {
	EnqueueOutbox(ctx context.Context, e *models.OutboxEvent) error
}

// Emit serializes a domain event and stores it in the outbox. Called inside
// the transaction that performs the state change, so the event is published
// if and only if the change commits.
func Emit(ctx context.Context, q Enqueuer, eventType string, aggregateID, actorID uuid.UUID, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "marshal event data")
	}
	now := time.Now().UTC()
	env := messages.DomainEvent{
		EventID:     uuid.New(),
		Type:        eventType,
		Version:     messages.DomainEventVersion,
		AggregateID: aggregateID,
		ActorID:     actorID,
		OccurredAt:  now,
		Data:        raw,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	return q.EnqueueOutbox(ctx, &models.OutboxEvent{
		ID:            env.EventID,
		EventType:     eventType,
		AggregateID:   aggregateID,
		Payload:       payload,
		NextAttemptAt: now,
		CreatedAt:     now,
	})
}
