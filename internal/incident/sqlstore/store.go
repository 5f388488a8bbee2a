// Package sqlstore is the durable incident store: outcome samples, the
// alert-run audit log and the cooldown table, on SQLite, Postgres or MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/marcus-qen/incidentd/internal/incident"
	"github.com/marcus-qen/incidentd/internal/migration"
)

const storeName = "incident"

var (
	_ incident.SampleSource   = (*Store)(nil)
	_ incident.RunStore       = (*Store)(nil)
	_ incident.CooldownGate   = (*Store)(nil)
	_ incident.RetentionStore = (*Store)(nil)
	_ incident.SnapshotReader = (*Store)(nil)
)

// Options configures Open.
type Options struct {
	// Driver is sqlite (default), postgres or mysql.
	Driver string
	// DSN is a file path for sqlite and a connection string otherwise.
	DSN    string
	Logger *zap.Logger
}

// Store implements every persistence contract of the incident engine.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// Open connects, migrates the schema and returns a ready store.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dialect, err := ParseDialect(opts.Driver)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := opts.DSN
	if dialect == DialectSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect != DialectSQLite {
		db.SetMaxOpenConns(16)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	runner := migration.NewRunner(storeName, migrations(), dialect.Rebind, logger)
	if err := migration.CheckVersion(ctx, db, dialect.Rebind, storeName, runner.Latest()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runner.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db, dialect: dialect, logger: logger.Named("sqlstore")}, nil
}

// Dialect reports which SQL dialect the store speaks.
func (s *Store) Dialect() Dialect { return s.dialect }

// Ping checks the connection for health endpoints.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// sqliteDSN applies WAL mode and the busy timeout on every pooled
// connection, not only the first one.
func sqliteDSN(path string) string {
	if path == "" {
		path = "incidentd.db"
	}
	if strings.Contains(path, "_pragma=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func (s *Store) rebind(q string) string { return s.dialect.Rebind(q) }

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func migrations() []migration.Migration {
	exec := func(stmts ...string) func(context.Context, *sql.Tx) error {
		return func(ctx context.Context, tx *sql.Tx) error {
			for _, stmt := range stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return []migration.Migration{
		{
			Version:     1,
			Description: "samples, alert runs and cooldowns",
			Up: exec(
				`CREATE TABLE samples (
					id         VARCHAR(64)  NOT NULL PRIMARY KEY,
					domain     VARCHAR(64)  NOT NULL,
					scope_id   VARCHAR(191) NOT NULL DEFAULT '',
					ts_ms      BIGINT       NOT NULL,
					outcome    VARCHAR(16)  NOT NULL,
					latency_ms DOUBLE PRECISION NULL
				)`,
				`CREATE INDEX idx_samples_scope_ts ON samples(domain, scope_id, ts_ms)`,
				`CREATE INDEX idx_samples_domain_ts ON samples(domain, ts_ms)`,
				`CREATE TABLE alert_runs (
					run_id          VARCHAR(64)  NOT NULL PRIMARY KEY,
					domain          VARCHAR(64)  NOT NULL,
					scope_id        VARCHAR(191) NOT NULL DEFAULT '',
					evaluated_ms    BIGINT       NOT NULL,
					severity        VARCHAR(16)  NOT NULL,
					reasons         TEXT         NOT NULL,
					recipient_count INTEGER      NOT NULL DEFAULT 0,
					published_count INTEGER      NOT NULL DEFAULT 0,
					sample_count    INTEGER      NOT NULL DEFAULT 0,
					error_count     INTEGER      NOT NULL DEFAULT 0,
					rate_percent    DOUBLE PRECISION NOT NULL DEFAULT 0
				)`,
				`CREATE INDEX idx_alert_runs_scope_ts ON alert_runs(domain, scope_id, evaluated_ms)`,
				`CREATE TABLE cooldowns (
					scope_key     VARCHAR(191) NOT NULL PRIMARY KEY,
					last_fired_ms BIGINT       NOT NULL
				)`,
			),
			Down: exec(
				`DROP TABLE cooldowns`,
				`DROP TABLE alert_runs`,
				`DROP TABLE samples`,
			),
		},
	}
}
