package event

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/parfum/driver"
	"goflare.io/parfum/models"
)

// ErrNotFound is returned when the event has never been recorded.
var ErrNotFound = errors.New("event not found")

var _ Repository = (*repository)(nil)

// Repository records processor events so that redeliveries are handled once.
type Repository interface {
	// Create records the event. It reports false when the event already exists.
	Create(ctx context.Context, tx pgx.Tx, event *models.Event) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Event, error)
	MarkAsProcessed(ctx context.Context, tx pgx.Tx, id string) error
	MarkAsFailed(ctx context.Context, id string, cause error) error
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

func (r *repository) Create(ctx context.Context, tx pgx.Tx, event *models.Event) (bool, error) {
	q := `
INSERT INTO stripe_events (id, type, processed, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`
	args := []any{event.ID, string(event.Type), event.Processed, event.CreatedAt, event.UpdatedAt}

	var err error
	var inserted int64
	if tx != nil {
		tag, execErr := tx.Exec(ctx, q, args...)
		err, inserted = execErr, tag.RowsAffected()
	} else {
		tag, execErr := r.conn.Exec(ctx, q, args...)
		err, inserted = execErr, tag.RowsAffected()
	}
	if err != nil {
		r.logger.Error("Failed to record event", zap.String("event_id", event.ID), zap.Error(err))
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	return inserted == 1, nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	var (
		e         models.Event
		typ       string
		lastError *string
	)
	err := r.conn.QueryRow(ctx, `
SELECT id, type, processed, last_error, created_at, updated_at
FROM stripe_events
WHERE id = $1`, id).Scan(&e.ID, &typ, &e.Processed, &lastError, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Type = stripe.EventType(typ)
	if lastError != nil {
		e.LastError = *lastError
	}
	return &e, nil
}

func (r *repository) MarkAsProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	q := `UPDATE stripe_events SET processed = true, last_error = NULL, updated_at = now() WHERE id = $1`
	var err error
	if tx != nil {
		_, err = tx.Exec(ctx, q, id)
	} else {
		_, err = r.conn.Exec(ctx, q, id)
	}
	return err
}

func (r *repository) MarkAsFailed(ctx context.Context, id string, cause error) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE stripe_events SET last_error = $2, updated_at = now() WHERE id = $1`, id, cause.Error())
	return err
}
