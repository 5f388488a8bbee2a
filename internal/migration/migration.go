// Package migration provides schema versioning, ordered migration running and
// downgrade protection for incidentd's SQL stores. It works against SQLite,
// Postgres and MySQL; callers supply a Rebind for non-"?" placeholder styles.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion records the schema version applied for one store.
type SchemaVersion struct {
	StoreName string
	Version   int
	AppliedAt time.Time
}

// Rebind rewrites a query written with "?" placeholders for the target driver.
type Rebind func(query string) string

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	store_name VARCHAR(64) NOT NULL PRIMARY KEY,
	version    INTEGER NOT NULL DEFAULT 0,
	applied_at BIGINT NOT NULL
)`

func identity(q string) string { return q }

// EnsureTable creates the schema_version table if it doesn't exist.
func EnsureTable(ctx context.Context, db Execer) error {
	if _, err := db.ExecContext(ctx, createVersionTable); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	return nil
}

// CurrentVersion returns the version recorded for store, 0 when none is.
func CurrentVersion(ctx context.Context, db Execer, bind Rebind, store string) (int, error) {
	if bind == nil {
		bind = identity
	}
	if err := EnsureTable(ctx, db); err != nil {
		return 0, err
	}
	var version int
	err := db.QueryRowContext(ctx, bind(`SELECT version FROM schema_version WHERE store_name = ?`), store).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// SetVersion records version for store.
func SetVersion(ctx context.Context, db Execer, bind Rebind, store string, version int) error {
	if bind == nil {
		bind = identity
	}
	if err := EnsureTable(ctx, db); err != nil {
		return err
	}
	return setVersion(ctx, db, bind, store, version)
}

func setVersion(ctx context.Context, db Execer, bind Rebind, store string, version int) error {
	now := time.Now().UTC().UnixMilli()

	res, err := db.ExecContext(ctx, bind(`UPDATE schema_version SET version = ?, applied_at = ? WHERE store_name = ?`), version, now, store)
	if err != nil {
		return fmt.Errorf("update schema version: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		return nil
	}
	// MySQL reports 0 affected rows when the values are unchanged.
	var existing int
	err = db.QueryRowContext(ctx, bind(`SELECT version FROM schema_version WHERE store_name = ?`), store).Scan(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}

	if _, err := db.ExecContext(ctx,
		bind(`INSERT INTO schema_version (store_name, version, applied_at) VALUES (?, ?, ?)`),
		store, version, now,
	); err != nil {
		return fmt.Errorf("insert schema version: %w", err)
	}
	return nil
}

// CheckVersion returns an error if the schema recorded for store is newer
// than binaryVersion. Call this at startup to refuse running an old binary
// against a newer schema.
func CheckVersion(ctx context.Context, db Execer, bind Rebind, store string, binaryVersion int) error {
	current, err := CurrentVersion(ctx, db, bind, store)
	if err != nil {
		return err
	}
	if current > binaryVersion {
		return fmt.Errorf(
			"%s schema version %d is newer than binary version %d; refusing to start",
			store, current, binaryVersion,
		)
	}
	return nil
}
