package migration

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Migration describes a single schema change.
type Migration struct {
	// Version is the schema version this migration produces.
	Version int
	// Description is a human-readable summary.
	Description string
	// Up applies the migration inside tx.
	Up func(ctx context.Context, tx *sql.Tx) error
	// Down reverts the migration inside tx.
	Down func(ctx context.Context, tx *sql.Tx) error
}

// Runner applies ordered migrations to a database.
type Runner struct {
	storeName  string
	migrations []Migration
	bind       Rebind
	logger     *zap.Logger
}

// NewRunner creates a Runner for storeName with the given migrations.
// Migrations are sorted by Version ascending automatically.
func NewRunner(storeName string, migrations []Migration, bind Rebind, logger *zap.Logger) *Runner {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	if bind == nil {
		bind = identity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{storeName: storeName, migrations: sorted, bind: bind, logger: logger}
}

// Latest returns the highest version the runner knows about.
func (r *Runner) Latest() int {
	if len(r.migrations) == 0 {
		return 0
	}
	return r.migrations[len(r.migrations)-1].Version
}

// Migrate applies all pending up-migrations in version order.
func (r *Runner) Migrate(ctx context.Context, db *sql.DB) error {
	return r.MigrateTo(ctx, db, r.Latest())
}

// MigrateTo applies up-migrations up to and including targetVersion. Each
// migration and its version bump commit in one transaction; on error the
// transaction is rolled back and the error is returned immediately.
func (r *Runner) MigrateTo(ctx context.Context, db *sql.DB, targetVersion int) error {
	current, err := CurrentVersion(ctx, db, r.bind, r.storeName)
	if err != nil {
		return fmt.Errorf("runner[%s] read current version: %w", r.storeName, err)
	}

	for _, m := range r.migrations {
		if m.Version <= current || m.Version > targetVersion {
			continue
		}
		if err := r.apply(ctx, db, m.Version, m.Description, m.Up, m.Version); err != nil {
			return err
		}
		r.logger.Info("migration applied",
			zap.String("store", r.storeName),
			zap.Int("version", m.Version),
			zap.String("description", m.Description),
		)
	}
	return nil
}

// Rollback applies down-migrations in reverse order until the schema reaches
// targetVersion.
func (r *Runner) Rollback(ctx context.Context, db *sql.DB, targetVersion int) error {
	current, err := CurrentVersion(ctx, db, r.bind, r.storeName)
	if err != nil {
		return fmt.Errorf("runner[%s] read current version: %w", r.storeName, err)
	}

	for i := len(r.migrations) - 1; i >= 0; i-- {
		m := r.migrations[i]
		if m.Version <= targetVersion || m.Version > current {
			continue
		}
		if m.Down == nil {
			return fmt.Errorf("runner[%s] no Down function for v%d", r.storeName, m.Version)
		}
		prev := targetVersion
		if i > 0 && r.migrations[i-1].Version > prev {
			prev = r.migrations[i-1].Version
		}
		if err := r.apply(ctx, db, m.Version, m.Description, m.Down, prev); err != nil {
			return err
		}
		r.logger.Info("migration rolled back",
			zap.String("store", r.storeName),
			zap.Int("version", m.Version),
			zap.Int("schema_version", prev),
		)
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, db *sql.DB, version int, desc string, step func(context.Context, *sql.Tx) error, resultVersion int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("runner[%s] begin tx for v%d: %w", r.storeName, version, err)
	}
	if err := step(ctx, tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("runner[%s] v%d (%s): %w", r.storeName, version, desc, err)
	}
	if err := setVersion(ctx, tx, r.bind, r.storeName, resultVersion); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("runner[%s] set version %d: %w", r.storeName, resultVersion, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("runner[%s] commit v%d: %w", r.storeName, version, err)
	}
	return nil
}
