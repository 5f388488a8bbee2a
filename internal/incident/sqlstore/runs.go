package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marcus-qen/incidentd/internal/incident"
)

// RecordRun implements incident.RunStore. Runs are append-only.
func (s *Store) RecordRun(ctx context.Context, run incident.AlertRun) error {
	reasons := run.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("encode reasons: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO alert_runs
		(run_id, domain, scope_id, evaluated_ms, severity, reasons, recipient_count, published_count, sample_count, error_count, rate_percent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.RunID, run.Domain, run.ScopeID, toMillis(run.EvaluatedAt), run.Severity.String(), string(reasonsJSON),
		run.RecipientCount, run.PublishedCount, run.SampleCount, run.ErrorCount, run.RatePercent,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	return nil
}

// Runs implements incident.RunStore, newest first.
func (s *Store) Runs(ctx context.Context, q incident.RunQuery) ([]incident.AlertRun, error) {
	where := "1 = 1"
	var args []any
	if q.Domain != "" {
		where, args = sampleFilter(q.Domain, q.ScopeID)
	}
	if !q.Since.IsZero() {
		where += " AND evaluated_ms >= ?"
		args = append(args, toMillis(q.Since))
	}
	query := `SELECT ` + runColumns + ` FROM alert_runs WHERE ` + where + ` ORDER BY evaluated_ms DESC, run_id DESC`
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	return queryRuns(ctx, s.db, s.rebind(query), args...)
}

const runColumns = `run_id, domain, scope_id, evaluated_ms, severity, reasons, recipient_count, published_count, sample_count, error_count, rate_percent`

func queryRuns(ctx context.Context, db queryer, query string, args ...any) ([]incident.AlertRun, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []incident.AlertRun
	for rows.Next() {
		var (
			run         incident.AlertRun
			evaluatedMs int64
			severity    string
			reasons     string
		)
		if err := rows.Scan(&run.RunID, &run.Domain, &run.ScopeID, &evaluatedMs, &severity, &reasons,
			&run.RecipientCount, &run.PublishedCount, &run.SampleCount, &run.ErrorCount, &run.RatePercent); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.EvaluatedAt = fromMillis(evaluatedMs)
		if run.Severity, err = incident.ParseSeverity(severity); err != nil {
			return nil, fmt.Errorf("run %s: %w", run.RunID, err)
		}
		if err := json.Unmarshal([]byte(reasons), &run.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons of run %s: %w", run.RunID, err)
		}
		if run.Reasons == nil {
			run.Reasons = []string{}
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
