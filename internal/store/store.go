package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zachbroad/webhook-dispatch/internal/model"
)

type Store struct {
	Destinations *DestinationStore
	Attempts     *AttemptStore
	Outcomes     *OutcomeStore
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Destinations: &DestinationStore{pool: pool},
		Attempts:     &AttemptStore{pool: pool},
		Outcomes:     &OutcomeStore{pool: pool},
	}
}

// The methods below let a Store serve as the dispatcher's journal.

func (s *Store) RecordAttempt(ctx context.Context, a *model.DeliveryAttempt) error {
	return s.Attempts.Create(ctx, a)
}

func (s *Store) SaveOutcome(ctx context.Context, o *model.Outcome) error {
	return s.Outcomes.Upsert(ctx, o)
}

func (s *Store) ClaimOutcome(ctx context.Context, o *model.Outcome, staleBefore time.Time) error {
	return s.Outcomes.Claim(ctx, o, staleBefore)
}

func (s *Store) Outcome(ctx context.Context, eventID string, destinationID uuid.UUID) (*model.Outcome, error) {
	return s.Outcomes.Get(ctx, eventID, destinationID)
}
