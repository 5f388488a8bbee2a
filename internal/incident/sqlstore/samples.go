package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/marcus-qen/incidentd/internal/incident"
)

// AppendSamples writes samples in one transaction. Samples without an ID get
// one; samples are never updated after they are written.
func (s *Store) AppendSamples(ctx context.Context, samples []incident.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO samples (id, domain, scope_id, ts_ms, outcome, latency_ms) VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, smp := range samples {
		if smp.ID == "" {
			smp.ID = uuid.NewString()
		}
		if smp.Domain == "" {
			return fmt.Errorf("sample %s has no domain", smp.ID)
		}
		var latency sql.NullFloat64
		if smp.LatencyMs != nil {
			latency = sql.NullFloat64{Float64: *smp.LatencyMs, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, smp.ID, smp.Domain, smp.ScopeID, toMillis(smp.Timestamp), string(smp.Outcome), latency); err != nil {
			return fmt.Errorf("insert sample %s: %w", smp.ID, err)
		}
	}
	return tx.Commit()
}

// Samples implements incident.SampleSource.
func (s *Store) Samples(ctx context.Context, q incident.SampleQuery) ([]incident.Sample, error) {
	where, args := sampleFilter(q.Domain, q.ScopeID)
	where += " AND ts_ms >= ? AND ts_ms < ?"
	args = append(args, toMillis(q.From), toMillis(q.To))

	return querySamples(ctx, s.db, s.rebind(
		`SELECT id, domain, scope_id, ts_ms, outcome, latency_ms FROM samples WHERE `+where+` ORDER BY ts_ms, id`), args...)
}

func sampleFilter(domain, scopeID string) (string, []any) {
	clauses := []string{"domain = ?"}
	args := []any{domain}
	if scopeID != "" {
		clauses = append(clauses, "scope_id = ?")
		args = append(args, scopeID)
	}
	return strings.Join(clauses, " AND "), args
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func querySamples(ctx context.Context, db queryer, query string, args ...any) ([]incident.Sample, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []incident.Sample
	for rows.Next() {
		var (
			smp     incident.Sample
			tsMs    int64
			outcome string
			latency sql.NullFloat64
		)
		if err := rows.Scan(&smp.ID, &smp.Domain, &smp.ScopeID, &tsMs, &outcome, &latency); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		smp.Timestamp = fromMillis(tsMs)
		smp.Outcome = incident.Outcome(outcome)
		if latency.Valid {
			v := latency.Float64
			smp.LatencyMs = &v
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}
