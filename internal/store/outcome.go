package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zachbroad/webhook-dispatch/internal/model"
)

type OutcomeStore struct {
	pool *pgxpool.Pool
}

func (s *OutcomeStore) Upsert(ctx context.Context, o *model.Outcome) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO delivery_outcomes (event_id, destination_id, state, attempts, last_failure, last_error, next_attempt_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (event_id, destination_id) DO UPDATE SET
			state           = EXCLUDED.state,
			attempts        = EXCLUDED.attempts,
			last_failure    = EXCLUDED.last_failure,
			last_error      = EXCLUDED.last_error,
			next_attempt_at = EXCLUDED.next_attempt_at,
			updated_at      = EXCLUDED.updated_at`,
		o.EventID, o.DestinationID, o.State, o.Attempts, o.LastFailure, o.LastError, o.NextAttemptAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	return nil
}

// Claim moves the pair to o.State for the attempt after o.Attempts, under the
// same rule as model.Outcome.Claimable. The conditional upsert makes the
// claim atomic across workers.
func (s *OutcomeStore) Claim(ctx context.Context, o *model.Outcome, staleBefore time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO delivery_outcomes (event_id, destination_id, state, attempts, last_failure, last_error, next_attempt_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (event_id, destination_id) DO UPDATE SET
			state           = EXCLUDED.state,
			attempts        = EXCLUDED.attempts,
			last_failure    = EXCLUDED.last_failure,
			last_error      = EXCLUDED.last_error,
			next_attempt_at = EXCLUDED.next_attempt_at,
			updated_at      = EXCLUDED.updated_at
		 WHERE delivery_outcomes.attempts = EXCLUDED.attempts
		   AND (delivery_outcomes.state IN ('PENDING', 'RETRY_SCHEDULED')
		        OR (delivery_outcomes.state = 'DELIVERING' AND delivery_outcomes.updated_at < $9))`,
		o.EventID, o.DestinationID, o.State, o.Attempts, o.LastFailure, o.LastError, o.NextAttemptAt, o.UpdatedAt, staleBefore,
	)
	if err != nil {
		return fmt.Errorf("claim outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim outcome: %w", model.ErrDuplicateAttempt)
	}
	return nil
}

func (s *OutcomeStore) Get(ctx context.Context, eventID string, destinationID uuid.UUID) (*model.Outcome, error) {
	var o model.Outcome
	err := s.pool.QueryRow(ctx,
		`SELECT event_id, destination_id, state, attempts, last_failure, last_error, next_attempt_at, updated_at
		 FROM delivery_outcomes WHERE event_id = $1 AND destination_id = $2`,
		eventID, destinationID,
	).Scan(&o.EventID, &o.DestinationID, &o.State, &o.Attempts, &o.LastFailure, &o.LastError, &o.NextAttemptAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outcome: %w", err)
	}
	return &o, nil
}
