package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/RelayBox/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (q *queries) EnqueueOutbox(ctx context.Context, e *models.OutboxEvent) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO outbox_events (id, event_type, aggregate_id, payload, attempts, next_attempt_at, created_at)
VALUES ($1,$2,$3,$4,0,$5,$6)
`, e.ID, e.EventType, e.AggregateID, e.Payload, e.NextAttemptAt.UTC(), e.CreatedAt.UTC())
	return mapErr(err, "insert outbox event")
}

// ClaimDueOutbox выбирает пачку неопубликованных событий и "бронирует" их на время lease,
// чтобы параллельные воркеры не отправили одно событие дважды.
// Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueOutbox(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEvent, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT id, event_type, aggregate_id, payload, attempts, last_error, next_attempt_at, published_at, created_at
FROM outbox_events
WHERE published_at IS NULL
  AND next_attempt_at <= $1
ORDER BY created_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due outbox events")
	}

	var picked []*models.OutboxEvent
	for rows.Next() {
		var e models.OutboxEvent
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.AggregateID, &e.Payload, &e.Attempts,
			&e.LastError, &e.NextAttemptAt, &e.PublishedAt, &e.CreatedAt,
		); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan outbox event")
		}
		picked = append(picked, &e)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, e := range picked {
		if _, err := tx.Exec(ctx, `UPDATE outbox_events SET next_attempt_at = $2 WHERE id = $1`, e.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease outbox event")
		}
		e.NextAttemptAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) MarkOutboxPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE outbox_events
SET published_at = $2, attempts = attempts + 1, last_error = NULL
WHERE id = $1
`, id, at.UTC())
	return errors.Wrap(err, "mark outbox published")
}

func (s *Storage) MarkOutboxFailed(ctx context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE outbox_events
SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3
WHERE id = $1
`, id, lastError, nextAttemptAt.UTC())
	return errors.Wrap(err, "mark outbox failed")
}
