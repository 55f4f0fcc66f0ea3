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

type DestinationStore struct {
	pool *pgxpool.Pool
}

const destinationColumns = `id, org_id, name, url, integration_type, event_types, auth_type, auth_config,
	settings, timeout_seconds, retry_count, rate_limit_per_hour, rate_limit_per_day, custom_headers,
	payload_template, transform_script, is_active, last_triggered_at, created_at, updated_at`

func scanDestination(row pgx.Row) (*model.Destination, error) {
	var d model.Destination
	err := row.Scan(&d.ID, &d.OrgID, &d.Name, &d.URL, &d.IntegrationType, &d.EventTypes, &d.AuthType, &d.AuthConfig,
		&d.Settings, &d.TimeoutSeconds, &d.RetryCount, &d.RateLimitPerHour, &d.RateLimitPerDay, &d.CustomHeaders,
		&d.PayloadTemplate, &d.TransformScript, &d.IsActive, &d.LastTriggeredAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DestinationStore) Create(ctx context.Context, d *model.Destination) (*model.Destination, error) {
	eventTypes := d.EventTypes
	if eventTypes == nil {
		eventTypes = []string{}
	}
	headers := d.CustomHeaders
	if headers == nil {
		headers = map[string]string{}
	}
	authType := d.AuthType
	if authType == "" {
		authType = model.AuthNone
	}
	created, err := scanDestination(s.pool.QueryRow(ctx,
		`INSERT INTO destinations (org_id, name, url, integration_type, event_types, auth_type, auth_config,
			settings, timeout_seconds, retry_count, rate_limit_per_hour, rate_limit_per_day, custom_headers,
			payload_template, transform_script, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING `+destinationColumns,
		d.OrgID, d.Name, d.URL, d.IntegrationType, eventTypes, authType, d.AuthConfig,
		d.Settings, d.TimeoutSeconds, d.RetryCount, d.RateLimitPerHour, d.RateLimitPerDay, headers,
		d.PayloadTemplate, d.TransformScript, d.IsActive,
	))
	if err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	return created, nil
}

func (s *DestinationStore) Get(ctx context.Context, id uuid.UUID) (*model.Destination, error) {
	d, err := scanDestination(s.pool.QueryRow(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get destination %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get destination: %w", err)
	}
	return d, nil
}

func (s *DestinationStore) List(ctx context.Context, orgID string) ([]model.Destination, error) {
	return s.list(ctx, `SELECT `+destinationColumns+` FROM destinations WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
}

func (s *DestinationStore) ListActive(ctx context.Context, orgID string) ([]model.Destination, error) {
	return s.list(ctx, `SELECT `+destinationColumns+` FROM destinations WHERE org_id = $1 AND is_active = true ORDER BY created_at`, orgID)
}

func (s *DestinationStore) list(ctx context.Context, query string, args ...any) ([]model.Destination, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	defer rows.Close()

	var dests []model.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		dests = append(dests, *d)
	}
	return dests, rows.Err()
}

func (s *DestinationStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE destinations SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set destination active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set destination active %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// MarkTriggered records the time of the latest successful delivery. It is the
// only write the dispatcher makes to a destination.
func (s *DestinationStore) MarkTriggered(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE destinations SET last_triggered_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark destination triggered: %w", err)
	}
	return nil
}

func (s *DestinationStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM destinations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete destination: %w", err)
	}
	return nil
}
