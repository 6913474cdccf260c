package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// dialect holds the statements that differ between Postgres and SQLite.
type dialect struct {
	name   string
	load   string
	lock   string
	ensure string
	write  string
	upsert string
	remove string
	list   string
}

var postgresDialect = dialect{
	name:   "postgres",
	load:   `SELECT workspace::text FROM concepts WHERE id = $1`,
	lock:   `SELECT workspace::text FROM concepts WHERE id = $1 FOR UPDATE`,
	ensure: `INSERT INTO concepts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
	write:  `UPDATE concepts SET workspace = $2::jsonb, updated_at = NOW() WHERE id = $1`,
	upsert: `
		INSERT INTO concepts (id, workspace) VALUES ($1, $2::jsonb)
		ON CONFLICT (id) DO UPDATE SET workspace = EXCLUDED.workspace, updated_at = NOW()
	`,
	remove: `DELETE FROM concepts WHERE id = $1`,
	list:   `SELECT id FROM concepts ORDER BY id`,
}

var sqliteDialect = dialect{
	name:   "sqlite",
	load:   `SELECT workspace FROM concepts WHERE id = ?`,
	lock:   `SELECT workspace FROM concepts WHERE id = ?`,
	ensure: `INSERT OR IGNORE INTO concepts (id) VALUES (?)`,
	write:  `UPDATE concepts SET workspace = ?2, updated_at = CURRENT_TIMESTAMP WHERE id = ?1`,
	upsert: `
		INSERT INTO concepts (id, workspace) VALUES (?1, ?2)
		ON CONFLICT (id) DO UPDATE SET workspace = excluded.workspace, updated_at = CURRENT_TIMESTAMP
	`,
	remove: `DELETE FROM concepts WHERE id = ?`,
	list:   `SELECT id FROM concepts ORDER BY id`,
}

// PostgresStore persists one workspace document per concept. The same type
// serves the SQLite backend through NewSQLiteStore.
type PostgresStore struct {
	db *sql.DB
	d  dialect
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, d: postgresDialect}
}

func NewSQLiteStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, d: sqliteDialect}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Backend() string {
	return s.d.name
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// LoadWorkspace returns the stored document, nil when the record exists but was
// never written, or ErrNotFound.
func (s *PostgresStore) LoadWorkspace(ctx context.Context, conceptID string) ([]byte, error) {
	var workspace sql.NullString
	err := s.db.QueryRowContext(ctx, s.d.load, conceptID).Scan(&workspace)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load workspace %s: %w", conceptID, err)
	}
	if !workspace.Valid {
		return nil, nil
	}
	return []byte(workspace.String), nil
}

// MutateWorkspace runs a read-modify-write of one concept inside a transaction
// holding the concept's row lock, creating the record when it does not exist.
// Concurrent writers to the same concept are serialized.
func (s *PostgresStore) MutateWorkspace(ctx context.Context, conceptID string, fn MutateFunc) ([]byte, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mutate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.d.ensure, conceptID); err != nil {
		return nil, fmt.Errorf("ensure concept %s: %w", conceptID, err)
	}
	var current sql.NullString
	if err := tx.QueryRowContext(ctx, s.d.lock, conceptID).Scan(&current); err != nil {
		return nil, fmt.Errorf("lock concept %s: %w", conceptID, err)
	}
	var existing []byte
	if current.Valid {
		existing = []byte(current.String)
	}

	next, err := fn(existing)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, s.d.write, conceptID, string(next)); err != nil {
		return nil, fmt.Errorf("write workspace %s: %w", conceptID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit workspace %s: %w", conceptID, err)
	}
	return next, nil
}

// SaveWorkspace overwrites the document without reading it first.
func (s *PostgresStore) SaveWorkspace(ctx context.Context, conceptID string, workspace []byte) error {
	if _, err := s.db.ExecContext(ctx, s.d.upsert, conceptID, string(workspace)); err != nil {
		return fmt.Errorf("save workspace %s: %w", conceptID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteConcept(ctx context.Context, conceptID string) error {
	res, err := s.db.ExecContext(ctx, s.d.remove, conceptID)
	if err != nil {
		return fmt.Errorf("delete concept %s: %w", conceptID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete concept %s: %w", conceptID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListConceptIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.d.list)
	if err != nil {
		return nil, fmt.Errorf("list concepts: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan concept id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate concepts: %w", err)
	}
	return ids, nil
}
