package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// IsSQLiteURL reports whether databaseURL selects the embedded backend:
// sqlite://path, file:path or :memory:.
func IsSQLiteURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "sqlite://") ||
		strings.HasPrefix(databaseURL, "file:") ||
		databaseURL == ":memory:"
}

// OpenSQLite opens a modernc SQLite database and creates the schema. A single
// connection serializes writers the way row locks do on Postgres.
func OpenSQLite(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", strings.TrimPrefix(databaseURL, "sqlite://"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return db, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS concepts (
	id TEXT PRIMARY KEY,
	workspace TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
