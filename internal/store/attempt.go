package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zachbroad/webhook-dispatch/internal/model"
)

// AttemptStore is the append-only delivery attempt log.
type AttemptStore struct {
	pool *pgxpool.Pool
}

const attemptColumns = `id, event_id, event_type, destination_id, attempt, request_payload, status_code,
	response_body, success, failure, error_message, delivery_time_ms, attempted_at`

func (s *AttemptStore) Create(ctx context.Context, a *model.DeliveryAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO delivery_attempts (`+attemptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (event_id, destination_id, attempt) DO NOTHING`,
		a.ID, a.EventID, a.EventType, a.DestinationID, a.Attempt, a.RequestPayload, a.StatusCode,
		a.ResponseBody, a.Success, a.Failure, a.Error, a.DeliveryTimeMs, a.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create attempt %d: %w", a.Attempt, model.ErrDuplicateAttempt)
	}
	return nil
}

func (s *AttemptStore) ListByDestination(ctx context.Context, destinationID uuid.UUID, limit int) ([]model.DeliveryAttempt, error) {
	return s.list(ctx,
		`SELECT `+attemptColumns+` FROM delivery_attempts
		 WHERE destination_id = $1 ORDER BY attempted_at DESC LIMIT $2`,
		destinationID, limit,
	)
}

func (s *AttemptStore) ListByPair(ctx context.Context, eventID string, destinationID uuid.UUID) ([]model.DeliveryAttempt, error) {
	return s.list(ctx,
		`SELECT `+attemptColumns+` FROM delivery_attempts
		 WHERE event_id = $1 AND destination_id = $2 ORDER BY attempt ASC`,
		eventID, destinationID,
	)
}

func (s *AttemptStore) list(ctx context.Context, query string, args ...any) ([]model.DeliveryAttempt, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []model.DeliveryAttempt
	for rows.Next() {
		var a model.DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.EventID, &a.EventType, &a.DestinationID, &a.Attempt, &a.RequestPayload, &a.StatusCode,
			&a.ResponseBody, &a.Success, &a.Failure, &a.Error, &a.DeliveryTimeMs, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
