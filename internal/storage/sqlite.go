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
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	if err := RequireLocalDisk(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers inside this process; busy_timeout
	// covers the other cluster-manager processes sharing the file.
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
		`CREATE TABLE IF NOT EXISTS job_graphs (
  job_id        TEXT PRIMARY KEY,
  job_name      TEXT NOT NULL,
  plan          BLOB,
  digest        TEXT NOT NULL,
  submitted_at  TEXT NOT NULL,
  written_epoch INTEGER NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS job_graph_writer (
  store      TEXT PRIMARY KEY,
  epoch      INTEGER NOT NULL,
  holder     TEXT NOT NULL,
  opened_at  TEXT NOT NULL,
  closed_at  TEXT
);`,
		`CREATE TABLE IF NOT EXISTS leader_lease (
  lease_name  TEXT PRIMARY KEY,
  holder_id   TEXT NOT NULL,
  lease_epoch INTEGER NOT NULL,
  acquired_at TEXT NOT NULL,
  renewed_at  TEXT NOT NULL,
  expires_at  INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS job_graphs_submitted_at_idx ON job_graphs(submitted_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
