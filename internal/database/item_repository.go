package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/example/adaptivestudy/pkg/models"
)

type itemRow struct {
	models.CandidateItem
	LoIDsJSON      string `db:"lo_ids"`
	ThresholdsJSON string `db:"thresholds"`
}

func (r itemRow) item() (models.CandidateItem, error) {
	item := r.CandidateItem
	if err := unmarshalColumn(r.LoIDsJSON, &item.LoIDs); err != nil {
		return item, fmt.Errorf("failed to parse LOs of item %s: %w", item.ID, err)
	}
	if err := unmarshalColumn(r.ThresholdsJSON, &item.Thresholds); err != nil {
		return item, fmt.Errorf("failed to parse thresholds of item %s: %w", item.ID, err)
	}
	return item, nil
}

// ItemRepository handles database operations for catalog items
type ItemRepository struct {
	db *sqlx.DB
}

// NewItemRepository creates a new repository instance
func NewItemRepository(db *sqlx.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// GetAll returns all items ordered by id
func (r *ItemRepository) GetAll(ctx context.Context) ([]models.CandidateItem, error) {
	var rows []itemRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, lo_ids, difficulty, thresholds, median_time_seconds
		FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get items: %w", err)
	}
	items := make([]models.CandidateItem, 0, len(rows))
	for _, row := range rows {
		item, err := row.item()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// GetByID returns an item or models.ErrNotFound
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*models.CandidateItem, error) {
	var row itemRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT id, lo_ids, difficulty, thresholds, median_time_seconds
		FROM items WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by ID: %w", err)
	}
	item, err := row.item()
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Upsert inserts the item or updates the existing one. It reports whether a
// new row was created.
func (r *ItemRepository) Upsert(ctx context.Context, item models.CandidateItem) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind("SELECT COUNT(*) FROM items WHERE id = ?"), item.ID); err != nil {
		return false, fmt.Errorf("failed to check item %s: %w", item.ID, err)
	}

	row := itemRow{
		CandidateItem:  item,
		LoIDsJSON:      marshalColumn(item.LoIDs),
		ThresholdsJSON: marshalColumn(item.Thresholds),
	}
	query := `
		INSERT INTO items (id, lo_ids, difficulty, thresholds, median_time_seconds)
		VALUES (:id, :lo_ids, :difficulty, :thresholds, :median_time_seconds)`
	if n > 0 {
		query = `
			UPDATE items SET
				lo_ids = :lo_ids,
				difficulty = :difficulty,
				thresholds = :thresholds,
				median_time_seconds = :median_time_seconds,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = :id`
	}
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return false, fmt.Errorf("failed to save item %s: %w", item.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit item %s: %w", item.ID, err)
	}
	return n == 0, nil
}

// Count returns the number of items
func (r *ItemRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM items"); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}
