package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("MARGINALIA_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("MARGINALIA_TEST_DATABASE_URL is not set")
	}
	return dsn
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := testDatabaseURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	applied, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected migrations to be applied on an empty schema")
	}
	again, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil {
		t.Fatalf("re-apply up migrations: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no pending migrations, got %v", again)
	}

	if err := applyDownMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO concepts (id, workspace) VALUES ('bad', '[]'::jsonb)`); err == nil {
		t.Fatal("expected non-object workspace to be rejected")
	}
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := testDatabaseURL(t)
	ctx := context.Background()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	exerciseStore(t, NewPostgresStore(db), "pg-"+time.Now().UTC().Format("20060102150405.000000000"))
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	downs, err := listMigrations(migrationsDir, ".down.sql")
	if err != nil {
		return err
	}
	for i := len(downs) - 1; i >= 0; i-- {
		sqlBytes, err := os.ReadFile(downs[i].path)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}
	return nil
}
