package sqlstore

import (
	"context"
	"fmt"

	"github.com/marcus-qen/incidentd/internal/incident"
)

// Snapshot implements incident.SnapshotReader. Both tables are read inside
// one transaction so an export sees a single committed state.
func (s *Store) Snapshot(ctx context.Context, q incident.SnapshotQuery) (incident.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, s.dialect.snapshotTxOptions())
	if err != nil {
		return incident.Snapshot{}, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	where, args := sampleFilter(q.Domain, q.ScopeID)
	samples, err := querySamples(ctx, tx, s.rebind(
		`SELECT id, domain, scope_id, ts_ms, outcome, latency_ms FROM samples WHERE `+where+` ORDER BY ts_ms, id`), args...)
	if err != nil {
		return incident.Snapshot{}, err
	}
	runs, err := queryRuns(ctx, tx, s.rebind(
		`SELECT `+runColumns+` FROM alert_runs WHERE `+where+` ORDER BY evaluated_ms, run_id`), args...)
	if err != nil {
		return incident.Snapshot{}, err
	}
	return incident.Snapshot{Samples: samples, Runs: runs}, nil
}
