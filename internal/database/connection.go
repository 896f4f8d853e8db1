package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Options selects the database to open
type Options struct {
	Type string // "sqlite" or "postgres"
	Path string // sqlite file, ":memory:" for an in-process database
	URL  string // postgres connection string
}

// Connect opens the database described by opts and creates the schema
func Connect(opts Options) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch opts.Type {
	case "", "sqlite", DriverSQLite:
		db, err = connectSQLite(opts.Path)
	case "postgres", "postgresql":
		if opts.URL == "" {
			return nil, fmt.Errorf("postgres requires a connection URL")
		}
		db, err = sqlx.Connect(DriverPostgres, opts.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database type %q", opts.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := InitSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func connectSQLite(path string) (*sqlx.DB, error) {
	if path == "" {
		path = filepath.Join("data", "adaptivestudy.db")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.Connect(DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// SQLite doesn't support multiple writers, and ":memory:" is per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

var schema = []struct {
	name string
	ddl  string
}{
	{"learners", `
		CREATE TABLE IF NOT EXISTS learners (
			id TEXT PRIMARY KEY,
			version BIGINT NOT NULL,
			attempt_counter BIGINT NOT NULL DEFAULT 0,
			session_id TEXT NOT NULL DEFAULT '',
			session_attempts INTEGER NOT NULL DEFAULT 0,
			active_lo TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`},
	{"lo_states", `
		CREATE TABLE IF NOT EXISTS lo_states (
			learner_id TEXT NOT NULL REFERENCES learners(id),
			lo_id TEXT NOT NULL,
			theta_hat DOUBLE PRECISION NOT NULL,
			se DOUBLE PRECISION NOT NULL,
			items_attempted INTEGER NOT NULL DEFAULT 0,
			recent_ses TEXT NOT NULL DEFAULT '[]',
			prior_mu DOUBLE PRECISION NOT NULL,
			prior_sigma DOUBLE PRECISION NOT NULL,
			last_probe_difficulty DOUBLE PRECISION NOT NULL DEFAULT 0,
			mastery_confirmed BOOLEAN NOT NULL DEFAULT false,
			probe_state TEXT NOT NULL,
			last_attempt_ms BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (learner_id, lo_id)
		)`},
	{"item_exposure", `
		CREATE TABLE IF NOT EXISTS item_exposure (
			learner_id TEXT NOT NULL REFERENCES learners(id),
			item_id TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			correct INTEGER NOT NULL DEFAULT 0,
			last_attempt_ms BIGINT NOT NULL DEFAULT 0,
			recent_attempts TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (learner_id, item_id)
		)`},
	{"retention_cards", `
		CREATE TABLE IF NOT EXISTS retention_cards (
			learner_id TEXT NOT NULL REFERENCES learners(id),
			item_id TEXT NOT NULL,
			lo_ids TEXT NOT NULL DEFAULT '[]',
			half_life_hours DOUBLE PRECISION NOT NULL,
			next_review_ms BIGINT NOT NULL,
			last_review_ms BIGINT NOT NULL DEFAULT 0,
			lapses INTEGER NOT NULL DEFAULT 0,
			reviews INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (learner_id, item_id)
		)`},
	{"items", `
		CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			lo_ids TEXT NOT NULL,
			difficulty DOUBLE PRECISION NOT NULL,
			thresholds TEXT NOT NULL DEFAULT '[]',
			median_time_seconds DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`},
	{"telemetry_events", `
		CREATE TABLE IF NOT EXISTS telemetry_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			learner_id TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			payload TEXT NOT NULL
		)`},
	{"telemetry_events index", `
		CREATE INDEX IF NOT EXISTS idx_telemetry_events_learner
			ON telemetry_events (learner_id, occurred_at)`},
}

// InitSchema creates the tables if they don't exist
func InitSchema(db *sqlx.DB) error {
	for _, t := range schema {
		if _, err := db.Exec(t.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", t.name, err)
		}
	}
	return nil
}
