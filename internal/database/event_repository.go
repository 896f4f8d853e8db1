package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/adaptivestudy/internal/telemetry"
)

type eventRow struct {
	ID         string    `db:"id"`
	Kind       string    `db:"kind"`
	LearnerID  string    `db:"learner_id"`
	OccurredAt time.Time `db:"occurred_at"`
	Payload    string    `db:"payload"`
}

// EventRepository stores telemetry envelopes
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new repository instance
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// SaveEvents inserts a batch of envelopes in one transaction
func (r *EventRepository) SaveEvents(ctx context.Context, events []telemetry.Envelope) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, env := range events {
		row := eventRow{
			ID:         env.ID,
			Kind:       string(env.Kind),
			LearnerID:  env.LearnerID,
			OccurredAt: env.OccurredAt.UTC(),
			Payload:    string(env.Payload),
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO telemetry_events (id, kind, learner_id, occurred_at, payload)
			VALUES (:id, :kind, :learner_id, :occurred_at, :payload)`, row)
		if err != nil {
			return fmt.Errorf("failed to save event %s: %w", env.ID, err)
		}
	}
	return tx.Commit()
}

// ListByLearner returns a learner's most recent events, oldest first
func (r *EventRepository) ListByLearner(ctx context.Context, learnerID string, limit int) ([]telemetry.Envelope, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []eventRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT id, kind, learner_id, occurred_at, payload FROM (
			SELECT id, kind, learner_id, occurred_at, payload
			FROM telemetry_events
			WHERE learner_id = ?
			ORDER BY occurred_at DESC, id DESC
			LIMIT ?
		) recent
		ORDER BY occurred_at ASC, id ASC`), learnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	out := make([]telemetry.Envelope, 0, len(rows))
	for _, row := range rows {
		out = append(out, telemetry.Envelope{
			ID:         row.ID,
			Kind:       telemetry.Kind(row.Kind),
			LearnerID:  row.LearnerID,
			OccurredAt: row.OccurredAt.UTC(),
			Payload:    []byte(row.Payload),
		})
	}
	return out, nil
}
