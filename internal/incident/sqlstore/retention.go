package sqlstore

import (
	"context"
	"fmt"

	"github.com/marcus-qen/incidentd/internal/incident"
)

// DeleteSamplesBefore implements incident.RetentionStore.
func (s *Store) DeleteSamplesBefore(ctx context.Context, f incident.RetentionFilter, limit int) (int64, error) {
	return s.deleteBatch(ctx, "samples", "id", "ts_ms", f, limit)
}

// DeleteRunsBefore implements incident.RetentionStore.
func (s *Store) DeleteRunsBefore(ctx context.Context, f incident.RetentionFilter, limit int) (int64, error) {
	return s.deleteBatch(ctx, "alert_runs", "run_id", "evaluated_ms", f, limit)
}

func (s *Store) deleteBatch(ctx context.Context, table, key, tsColumn string, f incident.RetentionFilter, limit int) (int64, error) {
	if f.Before.IsZero() {
		return 0, fmt.Errorf("delete %s: empty horizon", table)
	}
	where, args := sampleFilter(f.Domain, f.ScopeID)
	where += " AND " + tsColumn + " < ?"
	args = append(args, toMillis(f.Before), limit)

	res, err := s.db.ExecContext(ctx, s.dialect.deleteBatchSQL(table, key, tsColumn, where), args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return n, nil
}
