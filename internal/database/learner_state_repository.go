package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/example/adaptivestudy/pkg/models"
)

type learnerRow struct {
	ID              string `db:"id"`
	Version         int64  `db:"version"`
	AttemptCounter  int64  `db:"attempt_counter"`
	SessionID       string `db:"session_id"`
	SessionAttempts int    `db:"session_attempts"`
	ActiveLo        string `db:"active_lo"`
}

type loStateRow struct {
	LearnerID string `db:"learner_id"`
	models.LoState
	RecentSEsJSON string `db:"recent_ses"`
}

type exposureRow struct {
	LearnerID string `db:"learner_id"`
	models.ItemExposureRecord
	RecentAttemptsJSON string `db:"recent_attempts"`
}

type cardRow struct {
	LearnerID string `db:"learner_id"`
	models.RetentionCard
	LoIDsJSON string `db:"lo_ids"`
}

// LearnerStateRepository persists learner snapshots with optimistic versioning
type LearnerStateRepository struct {
	db *sqlx.DB
}

// NewLearnerStateRepository creates a new repository instance
func NewLearnerStateRepository(db *sqlx.DB) *LearnerStateRepository {
	return &LearnerStateRepository{db: db}
}

// Load returns the stored state of a learner, or an empty state with
// version 0 if the learner has never been saved
func (r *LearnerStateRepository) Load(ctx context.Context, learnerID string) (*models.LearnerState, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row learnerRow
	err = tx.GetContext(ctx, &row, tx.Rebind(`
		SELECT id, version, attempt_counter, session_id, session_attempts, active_lo
		FROM learners WHERE id = ?`), learnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewLearnerState(learnerID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get learner %s: %w", learnerID, err)
	}

	state := models.NewLearnerState(learnerID)
	state.Version = row.Version
	state.AttemptCounter = row.AttemptCounter
	state.Session = models.Session{ID: row.SessionID, Attempts: row.SessionAttempts, ActiveLo: row.ActiveLo}

	var los []loStateRow
	err = tx.SelectContext(ctx, &los, tx.Rebind(`
		SELECT learner_id, lo_id, theta_hat, se, items_attempted, recent_ses, prior_mu, prior_sigma,
			last_probe_difficulty, mastery_confirmed, probe_state, last_attempt_ms
		FROM lo_states WHERE learner_id = ?`), learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get LO states: %w", err)
	}
	for _, lr := range los {
		st := lr.LoState
		if err := unmarshalColumn(lr.RecentSEsJSON, &st.RecentSEs); err != nil {
			return nil, fmt.Errorf("failed to parse recent SEs of %s: %w", st.LoID, err)
		}
		state.LoStates[st.LoID] = &st
	}

	var exposure []exposureRow
	err = tx.SelectContext(ctx, &exposure, tx.Rebind(`
		SELECT learner_id, item_id, attempts, correct, last_attempt_ms, recent_attempts
		FROM item_exposure WHERE learner_id = ?`), learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exposure: %w", err)
	}
	for _, er := range exposure {
		rec := er.ItemExposureRecord
		if err := unmarshalColumn(er.RecentAttemptsJSON, &rec.RecentAttempts); err != nil {
			return nil, fmt.Errorf("failed to parse attempts of %s: %w", rec.ItemID, err)
		}
		state.Exposure[rec.ItemID] = &rec
	}

	var cards []cardRow
	err = tx.SelectContext(ctx, &cards, tx.Rebind(`
		SELECT learner_id, item_id, lo_ids, half_life_hours, next_review_ms, last_review_ms, lapses, reviews
		FROM retention_cards WHERE learner_id = ?`), learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get retention cards: %w", err)
	}
	for _, cr := range cards {
		card := cr.RetentionCard
		if err := unmarshalColumn(cr.LoIDsJSON, &card.LoIDs); err != nil {
			return nil, fmt.Errorf("failed to parse LOs of card %s: %w", card.ItemID, err)
		}
		state.Cards[card.ItemID] = &card
	}

	return state, nil
}

// Save writes state if its version still matches the stored one and returns
// the saved copy with the incremented version. A mismatch returns
// models.ErrRepositoryConflict and leaves the stored state untouched.
func (r *LearnerStateRepository) Save(ctx context.Context, state *models.LearnerState) (*models.LearnerState, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	next := state.Version + 1
	var res sql.Result
	if state.Version == 0 {
		res, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO learners (id, version, attempt_counter, session_id, session_attempts, active_lo)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`),
			state.LearnerID, next, state.AttemptCounter,
			state.Session.ID, state.Session.Attempts, state.Session.ActiveLo)
	} else {
		res, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE learners SET
				version = ?,
				attempt_counter = ?,
				session_id = ?,
				session_attempts = ?,
				active_lo = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND version = ?`),
			next, state.AttemptCounter, state.Session.ID, state.Session.Attempts,
			state.Session.ActiveLo, state.LearnerID, state.Version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save learner %s: %w", state.LearnerID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("learner %s at version %d: %w", state.LearnerID, state.Version, models.ErrRepositoryConflict)
	}

	if err := r.replaceChildren(ctx, tx, state); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit learner %s: %w", state.LearnerID, err)
	}

	saved := state.Clone()
	saved.Version = next
	return saved, nil
}

func (r *LearnerStateRepository) replaceChildren(ctx context.Context, tx *sqlx.Tx, state *models.LearnerState) error {
	for _, table := range []string{"lo_states", "item_exposure", "retention_cards"} {
		if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM "+table+" WHERE learner_id = ?"), state.LearnerID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, id := range sortedKeys(state.LoStates) {
		st := state.LoStates[id]
		row := loStateRow{LearnerID: state.LearnerID, LoState: *st, RecentSEsJSON: marshalColumn(st.RecentSEs)}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO lo_states (
				learner_id, lo_id, theta_hat, se, items_attempted, recent_ses, prior_mu, prior_sigma,
				last_probe_difficulty, mastery_confirmed, probe_state, last_attempt_ms
			) VALUES (
				:learner_id, :lo_id, :theta_hat, :se, :items_attempted, :recent_ses, :prior_mu, :prior_sigma,
				:last_probe_difficulty, :mastery_confirmed, :probe_state, :last_attempt_ms
			)`, row)
		if err != nil {
			return fmt.Errorf("failed to save LO state %s: %w", id, err)
		}
	}

	for _, id := range sortedKeys(state.Exposure) {
		rec := state.Exposure[id]
		row := exposureRow{LearnerID: state.LearnerID, ItemExposureRecord: *rec, RecentAttemptsJSON: marshalColumn(rec.RecentAttempts)}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO item_exposure (learner_id, item_id, attempts, correct, last_attempt_ms, recent_attempts)
			VALUES (:learner_id, :item_id, :attempts, :correct, :last_attempt_ms, :recent_attempts)`, row)
		if err != nil {
			return fmt.Errorf("failed to save exposure %s: %w", id, err)
		}
	}

	for _, id := range sortedKeys(state.Cards) {
		card := state.Cards[id]
		row := cardRow{LearnerID: state.LearnerID, RetentionCard: *card, LoIDsJSON: marshalColumn(card.LoIDs)}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO retention_cards (
				learner_id, item_id, lo_ids, half_life_hours, next_review_ms, last_review_ms, lapses, reviews
			) VALUES (
				:learner_id, :item_id, :lo_ids, :half_life_hours, :next_review_ms, :last_review_ms, :lapses, :reviews
			)`, row)
		if err != nil {
			return fmt.Errorf("failed to save retention card %s: %w", id, err)
		}
	}
	return nil
}

// ListLearnerIDs returns every stored learner id in order
func (r *LearnerStateRepository) ListLearnerIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, "SELECT id FROM learners ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to list learners: %w", err)
	}
	return ids, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// marshalColumn encodes a slice into a JSON TEXT column; nil becomes "[]"
func marshalColumn[T any](v []T) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalColumn[T any](s string, dst *[]T) error {
	if s == "" || s == "[]" {
		*dst = nil
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}
