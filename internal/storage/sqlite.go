// Package storage opens the SQLite database that keeps tour history.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist. The path must be on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := checkLocalFilesystem(path, detectFilesystemType); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Tour runs finish concurrently; one writer connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tour_run (
  id                  TEXT PRIMARY KEY,
  source              TEXT NOT NULL,
  destination         TEXT NOT NULL,
  route_fingerprint   TEXT NOT NULL,
  status              TEXT NOT NULL,
  total_junctions     INTEGER NOT NULL,
  completed_junctions INTEGER NOT NULL,
  no_winner           INTEGER NOT NULL DEFAULT 0,
  wins                JSON NOT NULL DEFAULT '{}',
  success             INTEGER NOT NULL,
  started_at          TEXT NOT NULL,
  ended_at            TEXT NOT NULL,
  wall_clock_ms       INTEGER NOT NULL,
  error               TEXT,
  report              JSON NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS junction_outcome (
  run_id          TEXT NOT NULL REFERENCES tour_run(id) ON DELETE CASCADE,
  junction_index  INTEGER NOT NULL,
  junction_id     INTEGER NOT NULL,
  address         TEXT,
  winner_worker   TEXT,
  winner_category TEXT,
  winning_score   REAL NOT NULL DEFAULT 0,
  rationale       TEXT NOT NULL,
  degraded        INTEGER NOT NULL DEFAULT 0,
  candidates      INTEGER NOT NULL DEFAULT 0,
  timed_out       JSON NOT NULL DEFAULT '[]',
  window_ms       INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (run_id, junction_index)
);`,
		`CREATE INDEX IF NOT EXISTS tour_run_started_at_idx ON tour_run(started_at);`,
		`CREATE INDEX IF NOT EXISTS tour_run_fingerprint_idx ON tour_run(route_fingerprint);`,
		`CREATE INDEX IF NOT EXISTS junction_outcome_category_idx ON junction_outcome(winner_category);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
