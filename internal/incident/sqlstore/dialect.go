package sqlstore

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported drivers.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case DialectPostgres:
		return "pgx" // pgx/v5/stdlib registers as "pgx"
	case DialectMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

// Rebind rewrites "?" placeholders into the dialect's style.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// acquireCooldownSQL is a single conditional upsert: it inserts the key, or
// moves last_fired_ms forward only when the stored value is at or before the
// cutoff. Arguments: key, now, cutoff.
func (d Dialect) acquireCooldownSQL() string {
	if d == DialectMySQL {
		return `INSERT INTO cooldowns (scope_key, last_fired_ms) VALUES (?, ?)
ON DUPLICATE KEY UPDATE last_fired_ms = IF(last_fired_ms <= ?, VALUES(last_fired_ms), last_fired_ms)`
	}
	return d.Rebind(`INSERT INTO cooldowns (scope_key, last_fired_ms) VALUES (?, ?)
ON CONFLICT (scope_key) DO UPDATE SET last_fired_ms = excluded.last_fired_ms
WHERE cooldowns.last_fired_ms <= ?`)
}

// deleteBatchSQL deletes at most LIMIT rows of table matching where. The
// limit is the last argument.
func (d Dialect) deleteBatchSQL(table, key, tsColumn, where string) string {
	if d == DialectMySQL {
		return fmt.Sprintf(`DELETE FROM %s WHERE %s ORDER BY %s LIMIT ?`, table, where, tsColumn)
	}
	return d.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE %s IN (SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT ?)`,
		table, key, key, table, where, tsColumn))
}

// snapshotTxOptions returns the options for a consistent read-only export.
// SQLite transactions are already serializable over WAL.
func (d Dialect) snapshotTxOptions() *sql.TxOptions {
	if d == DialectSQLite {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}
