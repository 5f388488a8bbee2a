package migration_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/marcus-qen/incidentd/internal/migration"
)

func openTempDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testMigrations() []migration.Migration {
	return []migration.Migration{
		{
			Version:     2,
			Description: "add index",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `CREATE INDEX idx_items_name ON items(name)`)
				return err
			},
			Down: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `DROP INDEX idx_items_name`)
				return err
			},
		},
		{
			Version:     1,
			Description: "create items",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
				return err
			},
			Down: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `DROP TABLE items`)
				return err
			},
		},
	}
}

func tableExists(db *sql.DB, name string) bool {
	var n string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE name = ?`, name).Scan(&n)
	return err == nil
}

func TestCurrentVersion_FreshDB(t *testing.T) {
	db := openTempDB(t)
	v, err := migration.CurrentVersion(context.Background(), db, nil, "samples")
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if v != 0 {
		t.Errorf("want 0, got %d", v)
	}
}

func TestSetVersion_PerStore(t *testing.T) {
	ctx := context.Background()
	db := openTempDB(t)

	if err := migration.SetVersion(ctx, db, nil, "a", 3); err != nil {
		t.Fatalf("SetVersion: %v", err)
	}
	if err := migration.SetVersion(ctx, db, nil, "a", 7); err != nil {
		t.Fatalf("SetVersion update: %v", err)
	}
	if err := migration.SetVersion(ctx, db, nil, "b", 1); err != nil {
		t.Fatalf("SetVersion other store: %v", err)
	}
	if v, _ := migration.CurrentVersion(ctx, db, nil, "a"); v != 7 {
		t.Errorf("want 7 for a, got %d", v)
	}
	if v, _ := migration.CurrentVersion(ctx, db, nil, "b"); v != 1 {
		t.Errorf("want 1 for b, got %d", v)
	}
}

func TestRunner_MigrateAndRollback(t *testing.T) {
	ctx := context.Background()
	db := openTempDB(t)
	r := migration.NewRunner("test", testMigrations(), nil, nil)

	if err := r.Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if v, _ := migration.CurrentVersion(ctx, db, nil, "test"); v != 2 {
		t.Fatalf("want v2, got %d", v)
	}
	if !tableExists(db, "items") || !tableExists(db, "idx_items_name") {
		t.Fatal("expected table and index")
	}

	// Idempotent.
	if err := r.Migrate(ctx, db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	if err := r.Rollback(ctx, db, 1); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if v, _ := migration.CurrentVersion(ctx, db, nil, "test"); v != 1 {
		t.Fatalf("want v1 after rollback, got %d", v)
	}
	if tableExists(db, "idx_items_name") {
		t.Fatal("index should be gone")
	}
}

func TestRunner_MigrateTo(t *testing.T) {
	ctx := context.Background()
	db := openTempDB(t)
	r := migration.NewRunner("test", testMigrations(), nil, nil)

	if err := r.MigrateTo(ctx, db, 1); err != nil {
		t.Fatalf("MigrateTo: %v", err)
	}
	if v, _ := migration.CurrentVersion(ctx, db, nil, "test"); v != 1 {
		t.Fatalf("want v1, got %d", v)
	}
	if r.Latest() != 2 {
		t.Fatalf("want latest 2, got %d", r.Latest())
	}
}

func TestRunner_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTempDB(t)
	r := migration.NewRunner("test", []migration.Migration{
		{
			Version:     1,
			Description: "broken",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, `CREATE TABLE half (id INTEGER)`); err != nil {
					return err
				}
				return errors.New("boom")
			},
		},
	}, nil, nil)

	if err := r.Migrate(ctx, db); err == nil {
		t.Fatal("expected error")
	}
	if v, _ := migration.CurrentVersion(ctx, db, nil, "test"); v != 0 {
		t.Fatalf("version must not advance, got %d", v)
	}
	if tableExists(db, "half") {
		t.Fatal("partial migration should be rolled back")
	}
}

func TestCheckVersion_RefusesNewerSchema(t *testing.T) {
	ctx := context.Background()
	db := openTempDB(t)
	if err := migration.SetVersion(ctx, db, nil, "test", 5); err != nil {
		t.Fatalf("SetVersion: %v", err)
	}
	if err := migration.CheckVersion(ctx, db, nil, "test", 4); err == nil {
		t.Fatal("expected downgrade protection error")
	}
	if err := migration.CheckVersion(ctx, db, nil, "test", 5); err != nil {
		t.Fatalf("same version should pass: %v", err)
	}
}
