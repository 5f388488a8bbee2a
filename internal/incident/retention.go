package incident

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/incidentd/internal/metrics"
	"github.com/marcus-qen/incidentd/internal/telemetry"
)

// DefaultPurgeBatchSize bounds the rows removed by one delete statement.
const DefaultPurgeBatchSize = 500

// RetentionFilter selects rows strictly older than Before. An empty ScopeID
// matches every scope of the domain.
type RetentionFilter struct {
	Domain  string
	ScopeID string
	Before  time.Time
}

// RetentionStore deletes at most limit matching rows per call and returns how
// many were removed.
type RetentionStore interface {
	DeleteSamplesBefore(ctx context.Context, f RetentionFilter, limit int) (int64, error)
	DeleteRunsBefore(ctx context.Context, f RetentionFilter, limit int) (int64, error)
}

// Validate rejects policies whose horizon would not be strictly positive.
func (p RetentionPolicy) Validate() error {
	switch {
	case p.Days != 0 && p.Months != 0:
		return fmt.Errorf("%w: set retentionDays or retentionMonths, not both", ErrInvalidRetention)
	case p.Days < 0 || p.Months < 0:
		return fmt.Errorf("%w: horizon must be positive", ErrInvalidRetention)
	case p.Days == 0 && p.Months == 0:
		return fmt.Errorf("%w: horizon must be positive", ErrInvalidRetention)
	}
	switch p.Target {
	case TargetSamples, TargetRuns, TargetAll, "":
	default:
		return fmt.Errorf("%w: unknown target %q", ErrInvalidRetention, p.Target)
	}
	return nil
}

// Horizon returns the cutoff instant; rows strictly before it are purged.
// Months are calendar months.
func (p RetentionPolicy) Horizon(now time.Time) (time.Time, error) {
	if err := p.Validate(); err != nil {
		return time.Time{}, err
	}
	now = now.UTC()
	if p.Months > 0 {
		return now.AddDate(0, -p.Months, 0), nil
	}
	return now.AddDate(0, 0, -p.Days), nil
}

func (p RetentionPolicy) target() RetentionTarget {
	if p.Target == "" {
		return TargetAll
	}
	return p.Target
}

// PurgeScope optionally narrows a purge to one scope (a user or workspace).
type PurgeScope struct {
	ScopeID string
}

// Purger deletes expired samples and alert runs in bounded batches.
type Purger struct {
	domain    string
	store     RetentionStore
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

// NewPurger creates a purger for domain.
func NewPurger(domain string, store RetentionStore, logger *zap.Logger) *Purger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Purger{
		domain:    domain,
		store:     store,
		batchSize: DefaultPurgeBatchSize,
		logger:    logger.With(zap.String("domain", domain)),
		now:       time.Now,
	}
}

// WithBatchSize overrides the per-statement delete bound.
func (p *Purger) WithBatchSize(n int) *Purger {
	if n > 0 {
		p.batchSize = n
	}
	return p
}

// WithClock overrides the clock used to compute the horizon.
func (p *Purger) WithClock(now func() time.Time) *Purger {
	if now != nil {
		p.now = now
	}
	return p
}

// Purge removes rows older than the policy horizon. The policy is validated
// before anything is deleted. Running Purge twice with no new data deletes
// nothing the second time.
func (p *Purger) Purge(ctx context.Context, policy RetentionPolicy, scope PurgeScope) (RetentionPurgeResult, error) {
	now := p.now().UTC()
	horizon, err := policy.Horizon(now)
	if err != nil {
		return RetentionPurgeResult{}, err
	}

	result := RetentionPurgeResult{
		RetentionDays:   policy.Days,
		RetentionMonths: policy.Months,
		ExecutedAt:      now,
		UserScoped:      scope.ScopeID != "",
	}
	filter := RetentionFilter{Domain: p.domain, ScopeID: scope.ScopeID, Before: horizon}
	target := policy.target()

	ctx, span := telemetry.StartPurgeSpan(ctx, p.domain, string(target))
	err = p.purge(ctx, target, filter, &result)
	telemetry.EndPurgeSpan(span, result.DeletedSamples, result.DeletedRuns, err)
	metrics.RecordPurge(p.domain, result.DeletedSamples, result.DeletedRuns)
	if err != nil {
		metrics.RecordStoreError(p.domain, "purge")
		return result, fmt.Errorf("%w: purge: %w", ErrStoreUnavailable, err)
	}

	p.logger.Info("retention purge complete",
		zap.Time("horizon", horizon),
		zap.String("target", string(target)),
		zap.String("scope_id", scope.ScopeID),
		zap.Int64("deleted_samples", result.DeletedSamples),
		zap.Int64("deleted_runs", result.DeletedRuns),
	)
	return result, nil
}

func (p *Purger) purge(ctx context.Context, target RetentionTarget, f RetentionFilter, result *RetentionPurgeResult) error {
	if target == TargetSamples || target == TargetAll {
		n, err := p.drain(ctx, f, p.store.DeleteSamplesBefore)
		result.DeletedSamples = n
		result.DeletedRows += n
		if err != nil {
			return fmt.Errorf("samples: %w", err)
		}
	}
	if target == TargetRuns || target == TargetAll {
		n, err := p.drain(ctx, f, p.store.DeleteRunsBefore)
		result.DeletedRuns = n
		result.DeletedRows += n
		if err != nil {
			return fmt.Errorf("runs: %w", err)
		}
	}
	return nil
}

// drain repeats del until a batch comes back short.
func (p *Purger) drain(ctx context.Context, f RetentionFilter, del func(context.Context, RetentionFilter, int) (int64, error)) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := del(ctx, f, p.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(p.batchSize) {
			return total, nil
		}
	}
}
