package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus-qen/incidentd/internal/incident"
)

// TryAcquire implements incident.CooldownGate with one conditional upsert,
// so concurrent evaluations on any replica sharing the database cannot both
// pass for the same key.
func (s *Store) TryAcquire(ctx context.Context, key incident.CooldownKey, now time.Time, cooldown time.Duration) (bool, error) {
	nowMs := toMillis(now)
	cutoff := nowMs - cooldown.Milliseconds()

	res, err := s.db.ExecContext(ctx, s.dialect.acquireCooldownSQL(), key.String(), nowMs, cutoff)
	if err != nil {
		return false, fmt.Errorf("acquire cooldown %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire cooldown %s: %w", key, err)
	}
	return n > 0, nil
}
