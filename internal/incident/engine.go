package incident

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marcus-qen/incidentd/internal/metrics"
	"github.com/marcus-qen/incidentd/internal/telemetry"
)

const checkAllConcurrency = 8

// SampleQuery selects samples of one domain in [From, To). An empty ScopeID
// selects every scope of the domain.
type SampleQuery struct {
	Domain  string
	ScopeID string
	From    time.Time
	To      time.Time
}

// SampleSource reads outcome samples.
type SampleSource interface {
	Samples(ctx context.Context, q SampleQuery) ([]Sample, error)
}

// RunQuery selects alert-run history, newest first. Zero fields match all.
type RunQuery struct {
	Domain  string
	ScopeID string
	Since   time.Time
	Limit   int
}

// RunStore is the append-only alert-run audit log.
type RunStore interface {
	RecordRun(ctx context.Context, run AlertRun) error
	Runs(ctx context.Context, q RunQuery) ([]AlertRun, error)
}

// Deps are the capabilities a domain plugs into the engine.
type Deps struct {
	Samples   SampleSource
	Runs      RunStore
	Gate      CooldownGate
	Publisher *Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Engine evaluates one domain's samples and publishes incidents.
type Engine struct {
	domain    string
	config    ConfigProvider
	samples   SampleSource
	runs      RunStore
	gate      CooldownGate
	publisher *Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine creates an engine for domain. A nil gate falls back to an
// in-memory gate, which only serializes evaluations inside this process.
func NewEngine(domain string, config ConfigProvider, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	gate := deps.Gate
	if gate == nil {
		gate = NewMemoryGate()
	}
	return &Engine{
		domain:    domain,
		config:    config,
		samples:   deps.Samples,
		runs:      deps.Runs,
		gate:      gate,
		publisher: deps.Publisher,
		logger:    logger.With(zap.String("domain", domain)),
		now:       now,
	}
}

// Domain returns the domain name the engine evaluates.
func (e *Engine) Domain() string { return e.domain }

// Config returns the live config snapshot.
func (e *Engine) Config() AlertConfig { return e.config.AlertConfig() }

// Check runs the full pipeline for one scope. An empty scopeID evaluates the
// whole domain under the global cooldown key.
//
// Once the cooldown gate accepts, the run is recorded even if ctx is
// cancelled while notifications are in flight.
func (e *Engine) Check(ctx context.Context, scopeID string) (AlertCheckResult, error) {
	cfg := e.config.AlertConfig()
	now := e.now().UTC()
	result := newCheckResult(cfg, now, scopeID)

	if !cfg.Enabled {
		return result, nil
	}
	if err := cfg.Validate(); err != nil {
		return result, err
	}

	started := time.Now()
	metrics.ActiveChecks.Inc()
	defer metrics.ActiveChecks.Dec()

	ctx, span := telemetry.StartCheckSpan(ctx, e.domain, scopeID)
	result, err := e.check(ctx, cfg, now, scopeID, result)
	sev := SeverityNone
	if result.Severity != nil {
		sev = *result.Severity
	}
	telemetry.EndCheckSpan(span, sev.String(), result.SampleCount, result.PublishedCount, result.Suppressed, err)
	if err != nil {
		return result, err
	}

	metrics.RecordCheck(e.domain, sev.String(), result.PublishedCount, result.Suppressed, time.Since(started))
	return result, nil
}

func (e *Engine) check(ctx context.Context, cfg AlertConfig, now time.Time, scopeID string, result AlertCheckResult) (AlertCheckResult, error) {
	_, curTo, baseFrom := Windows(now, cfg)
	// Stores keep millisecond timestamps and query [From, To), so widen by
	// one millisecond to include samples stamped at now.
	samples, err := e.samples.Samples(ctx, SampleQuery{Domain: e.domain, ScopeID: scopeID, From: baseFrom, To: curTo.Add(time.Millisecond)})
	if err != nil {
		metrics.RecordStoreError(e.domain, "samples")
		return result, fmt.Errorf("%w: read samples for %s: %w", ErrStoreUnavailable, CooldownKey{Domain: e.domain, ScopeID: scopeID}, err)
	}

	cmp := Compare(samples, now, cfg)
	cls := Classify(ClassifyInput{
		CurrentRate:     cmp.CurrentRate,
		BaselineRate:    cmp.BaselineRate,
		SampleCount:     cmp.Current.SampleCount,
		ErrorScopeCount: cmp.ErrorScopeCount,
	}, cfg)

	run := AlertRun{
		RunID:       uuid.NewString(),
		Domain:      e.domain,
		ScopeID:     scopeID,
		EvaluatedAt: now,
		Severity:    cls.Severity,
		Reasons:     cls.Reasons,
		SampleCount: cmp.Current.SampleCount,
		ErrorCount:  cmp.Current.ErrorCount,
		RatePercent: cmp.CurrentRate,
	}

	recordCtx := ctx
	suppressed := false
	if cls.Severity > SeverityNone {
		acquired, err := e.gate.TryAcquire(ctx, CooldownKey{Domain: e.domain, ScopeID: scopeID}, now, cfg.Cooldown())
		if err != nil {
			metrics.RecordStoreError(e.domain, "cooldown")
			return result, fmt.Errorf("%w: cooldown gate: %w", ErrStoreUnavailable, err)
		}
		if !acquired {
			suppressed = true
			run.Reasons = append(run.Reasons, ReasonCooldownActive)
		} else {
			recordCtx = context.WithoutCancel(ctx)
			outcome := e.publisher.Publish(ctx, PublishRequest{
				Domain:     e.domain,
				ScopeID:    scopeID,
				Severity:   cls.Severity,
				Comparison: cmp,
				Config:     cfg,
				Reasons:    run.Reasons,
				Now:        now,
			})
			run.RecipientCount = outcome.RecipientCount
			run.PublishedCount = outcome.PublishedCount
			if outcome.ResolutionFailed {
				run.Reasons = append(run.Reasons, ReasonRecipientResolutionFailed)
			}
		}
	}

	if err := e.runs.RecordRun(recordCtx, run); err != nil {
		metrics.RecordStoreError(e.domain, "record_run")
		return result, fmt.Errorf("%w: record run %s: %w", ErrStoreUnavailable, run.RunID, err)
	}

	e.logger.Info("alert check evaluated",
		zap.String("run_id", run.RunID),
		zap.String("scope_id", scopeOrGlobal(scopeID)),
		zap.String("severity", run.Severity.String()),
		zap.Float64("rate_percent", run.RatePercent),
		zap.Int("samples", run.SampleCount),
		zap.Int("published", run.PublishedCount),
		zap.Bool("suppressed", suppressed),
	)

	sev := run.Severity
	result.Severity = &sev
	result.Reasons = run.Reasons
	result.RecipientCount = run.RecipientCount
	result.PublishedCount = run.PublishedCount
	result.RunID = run.RunID
	result.SampleCount = run.SampleCount
	result.ErrorCount = run.ErrorCount
	result.ErrorScopeCount = cmp.ErrorScopeCount
	result.CurrentRatePercent = cmp.CurrentRate
	result.BaselineRatePercent = cmp.BaselineRate
	result.Suppressed = suppressed
	return result, nil
}

// CheckAll is the scheduled entry point. Without PerScope it evaluates the
// global scope; with PerScope it evaluates the scopes with the most errors
// in the current window, at most MaxScopesPerRun of them. Scope failures do
// not stop the others and are returned joined.
func (e *Engine) CheckAll(ctx context.Context) ([]AlertCheckResult, error) {
	cfg := e.config.AlertConfig()
	if !cfg.Enabled || !cfg.PerScope {
		res, err := e.Check(ctx, "")
		if err != nil {
			return nil, err
		}
		return []AlertCheckResult{res}, nil
	}

	now := e.now().UTC()
	curFrom, curTo, _ := Windows(now, cfg)
	samples, err := e.samples.Samples(ctx, SampleQuery{Domain: e.domain, From: curFrom, To: curTo.Add(time.Millisecond)})
	if err != nil {
		metrics.RecordStoreError(e.domain, "samples")
		return nil, fmt.Errorf("%w: list scopes: %w", ErrStoreUnavailable, err)
	}
	scopes := rankScopes(samples, cfg.MaxScopesPerRun)

	results := make([]AlertCheckResult, len(scopes))
	errs := make([]error, len(scopes))
	g := errgroup.Group{}
	g.SetLimit(checkAllConcurrency)
	for i, scope := range scopes {
		g.Go(func() error {
			res, err := e.Check(ctx, scope)
			if err != nil {
				e.logger.Error("scope check failed", zap.String("scope_id", scope), zap.Error(err))
				errs[i] = fmt.Errorf("scope %s: %w", scope, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := make([]AlertCheckResult, 0, len(results))
	for i := range results {
		if errs[i] == nil {
			out = append(out, results[i])
		}
	}
	return out, errors.Join(errs...)
}

// rankScopes orders scopes by error count desc, then scope id, and keeps at
// most limit of them (0 keeps all).
func rankScopes(samples []Sample, limit int) []string {
	errorsByScope := make(map[string]int)
	for _, s := range samples {
		if s.ScopeID == "" {
			continue
		}
		n := errorsByScope[s.ScopeID]
		if s.IsError() {
			n++
		}
		errorsByScope[s.ScopeID] = n
	}
	scopes := make([]string, 0, len(errorsByScope))
	for id := range errorsByScope {
		scopes = append(scopes, id)
	}
	sort.Slice(scopes, func(i, j int) bool {
		ei, ej := errorsByScope[scopes[i]], errorsByScope[scopes[j]]
		if ei != ej {
			return ei > ej
		}
		return scopes[i] < scopes[j]
	})
	if limit > 0 && len(scopes) > limit {
		scopes = scopes[:limit]
	}
	return scopes
}

// Trends returns zero-filled trend points covering rangeHours up to now.
func (e *Engine) Trends(ctx context.Context, scopeID string, rangeHours int) ([]TrendPoint, error) {
	cfg := e.config.AlertConfig()
	grain := cfg.TrendGrain()
	start, n := TrendRange(e.now(), rangeHours, grain)
	end := start.Add(time.Duration(n) * grain)

	samples, err := e.samples.Samples(ctx, SampleQuery{Domain: e.domain, ScopeID: scopeID, From: start, To: end})
	if err != nil {
		metrics.RecordStoreError(e.domain, "samples")
		return nil, fmt.Errorf("%w: read trend samples: %w", ErrStoreUnavailable, err)
	}
	return TrendPoints(Buckets(samples, start, grain, n, cfg.SlowLatencyMs)), nil
}

// Runs returns the domain's alert-run history, newest first.
func (e *Engine) Runs(ctx context.Context, q RunQuery) ([]AlertRun, error) {
	q.Domain = e.domain
	runs, err := e.runs.Runs(ctx, q)
	if err != nil {
		metrics.RecordStoreError(e.domain, "runs")
		return nil, fmt.Errorf("%w: read runs: %w", ErrStoreUnavailable, err)
	}
	return runs, nil
}

func newCheckResult(cfg AlertConfig, now time.Time, scopeID string) AlertCheckResult {
	return AlertCheckResult{
		AlertsEnabled:            cfg.Enabled,
		EvaluatedAt:              now,
		WindowHours:              cfg.WindowHours,
		BaselineWindowHours:      cfg.BaselineWindowHours,
		CooldownMinutes:          cfg.CooldownMinutes,
		MinSampleCount:           cfg.MinSampleCount,
		WarningThresholdPercent:  cfg.WarningThresholdPercent,
		CriticalThresholdPercent: cfg.CriticalThresholdPercent,
		Reasons:                  []string{},
		ScopeID:                  scopeID,
	}
}

func scopeOrGlobal(scopeID string) string {
	if scopeID == "" {
		return GlobalScope
	}
	return scopeID
}
