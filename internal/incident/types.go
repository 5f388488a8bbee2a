// Package incident implements the incident-alerting engine shared by every
// sync and platform domain: windowed error-rate aggregation, baseline
// comparison, severity classification, cooldown gating, alert publishing,
// retention purges and compliance exports.
package incident

import (
	"fmt"
	"strings"
	"time"
)

// GlobalScope is the scope key used when a domain is evaluated as a whole.
const GlobalScope = "global"

// Outcome is the result recorded by a sample producer.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Sample is one immutable outcome observation for a scope.
type Sample struct {
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	ScopeID   string    `json:"scopeId"`
	Timestamp time.Time `json:"timestampUtc"`
	Outcome   Outcome   `json:"outcome"`
	LatencyMs *float64  `json:"latencyMs,omitempty"`
}

// IsError reports whether the sample recorded a failure.
func (s Sample) IsError() bool { return s.Outcome == OutcomeError }

// WindowBucket summarizes the samples in [Start, End).
type WindowBucket struct {
	Start         time.Time `json:"bucketStartUtc"`
	End           time.Time `json:"bucketEndUtc"`
	SampleCount   int       `json:"sampleCount"`
	ErrorCount    int       `json:"errorCount"`
	HealthyCount  int       `json:"healthyCount"`
	WarnCount     int       `json:"warnCount"`
	CriticalCount int       `json:"criticalCount"`
	AvgLatencyMs  float64   `json:"avgLatencyMs"`
}

// ErrorRatePercent returns errorCount/sampleCount as a percentage, 0 when empty.
func (b WindowBucket) ErrorRatePercent() float64 {
	return percentage(b.ErrorCount, b.SampleCount)
}

// AlertConfig is the per-domain evaluation configuration. A value is treated
// as immutable for the duration of one evaluation.
type AlertConfig struct {
	Enabled                  bool    `json:"enabled" yaml:"enabled"`
	WindowHours              int     `json:"windowHours" yaml:"window_hours"`
	BaselineWindowHours      int     `json:"baselineWindowHours,omitempty" yaml:"baseline_window_hours"`
	CooldownMinutes          int     `json:"cooldownMinutes" yaml:"cooldown_minutes"`
	MinSampleCount           int     `json:"minSampleCount" yaml:"min_sample_count"`
	WarningThresholdPercent  float64 `json:"warningThresholdPercent" yaml:"warning_threshold_percent"`
	CriticalThresholdPercent float64 `json:"criticalThresholdPercent" yaml:"critical_threshold_percent"`
	MinErrorScopes           int     `json:"minErrorScopes,omitempty" yaml:"min_error_scopes"`
	MaxScopesPerRun          int     `json:"maxScopesPerRun,omitempty" yaml:"max_scopes_per_run"`

	// PerScope makes CheckAll evaluate each scope instead of the whole domain.
	PerScope bool `json:"perScope,omitempty" yaml:"per_scope"`
	// BaselineDeltaPercent demotes candidates whose rate is within this many
	// points of the baseline rate. 0 disables the rule.
	BaselineDeltaPercent float64 `json:"baselineDeltaPercent,omitempty" yaml:"baseline_delta_percent"`
	// SlowLatencyMs marks successful samples at or above it as warn. 0 disables.
	SlowLatencyMs          float64 `json:"slowLatencyMs,omitempty" yaml:"slow_latency_ms"`
	TrendBucketMinutes     int     `json:"trendBucketMinutes,omitempty" yaml:"trend_bucket_minutes"`
	DispatchTimeoutSeconds int     `json:"dispatchTimeoutSeconds,omitempty" yaml:"dispatch_timeout_seconds"`
}

const (
	defaultTrendBucketMinutes     = 60
	defaultDispatchTimeoutSeconds = 10
)

// Window returns the current-window width.
func (c AlertConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// BaselineWindow returns the baseline width, 0 when baseline comparison is off.
func (c AlertConfig) BaselineWindow() time.Duration {
	return time.Duration(c.BaselineWindowHours) * time.Hour
}

// Cooldown returns the minimum spacing between two published alerts.
func (c AlertConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// TrendGrain returns the trend sub-bucket width.
func (c AlertConfig) TrendGrain() time.Duration {
	if c.TrendBucketMinutes <= 0 {
		return defaultTrendBucketMinutes * time.Minute
	}
	return time.Duration(c.TrendBucketMinutes) * time.Minute
}

// DispatchTimeout bounds a single notification dispatch.
func (c AlertConfig) DispatchTimeout() time.Duration {
	if c.DispatchTimeoutSeconds <= 0 {
		return defaultDispatchTimeoutSeconds * time.Second
	}
	return time.Duration(c.DispatchTimeoutSeconds) * time.Second
}

// Validate checks the config for values the engine cannot evaluate.
func (c AlertConfig) Validate() error {
	var problems []string
	if c.WindowHours <= 0 {
		problems = append(problems, "windowHours must be > 0")
	}
	if c.BaselineWindowHours < 0 {
		problems = append(problems, "baselineWindowHours must be >= 0")
	}
	if c.CooldownMinutes < 0 {
		problems = append(problems, "cooldownMinutes must be >= 0")
	}
	if c.MinSampleCount < 0 || c.MinErrorScopes < 0 || c.MaxScopesPerRun < 0 {
		problems = append(problems, "minimum and maximum counts must be >= 0")
	}
	if !inPercentRange(c.WarningThresholdPercent) || !inPercentRange(c.CriticalThresholdPercent) {
		problems = append(problems, "thresholds must be within [0,100]")
	}
	if c.WarningThresholdPercent > c.CriticalThresholdPercent {
		problems = append(problems, "warningThresholdPercent must not exceed criticalThresholdPercent")
	}
	if c.BaselineDeltaPercent < 0 || c.SlowLatencyMs < 0 {
		problems = append(problems, "baselineDeltaPercent and slowLatencyMs must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func inPercentRange(v float64) bool { return v >= 0 && v <= 100 }

// AlertRun is the append-only audit record of one evaluation.
type AlertRun struct {
	RunID          string    `json:"runId"`
	Domain         string    `json:"domain"`
	ScopeID        string    `json:"scopeId,omitempty"`
	EvaluatedAt    time.Time `json:"evaluatedAtUtc"`
	Severity       Severity  `json:"severity"`
	Reasons        []string  `json:"reasons"`
	RecipientCount int       `json:"recipientCount"`
	PublishedCount int       `json:"publishedCount"`
	SampleCount    int       `json:"sampleCount"`
	ErrorCount     int       `json:"errorCount"`
	RatePercent    float64   `json:"ratePercent"`
}

// AlertCheckResult is returned by every check call.
type AlertCheckResult struct {
	AlertsEnabled            bool      `json:"alertsEnabled"`
	EvaluatedAt              time.Time `json:"evaluatedAtIso"`
	WindowHours              int       `json:"windowHours"`
	BaselineWindowHours      int       `json:"baselineWindowHours"`
	CooldownMinutes          int       `json:"cooldownMinutes"`
	MinSampleCount           int       `json:"minSampleCount"`
	WarningThresholdPercent  float64   `json:"warningThresholdPercent"`
	CriticalThresholdPercent float64   `json:"criticalThresholdPercent"`
	Severity                 *Severity `json:"severity"`
	Reasons                  []string  `json:"reasons"`
	RecipientCount           int       `json:"recipientCount"`
	PublishedCount           int       `json:"publishedCount"`

	RunID               string   `json:"runId,omitempty"`
	ScopeID             string   `json:"scopeId,omitempty"`
	SampleCount         int      `json:"sampleCount"`
	ErrorCount          int      `json:"errorCount"`
	ErrorScopeCount     int      `json:"errorScopeCount"`
	CurrentRatePercent  float64  `json:"currentRatePercent"`
	BaselineRatePercent *float64 `json:"baselineRatePercent,omitempty"`
	Suppressed          bool     `json:"suppressed"`
}

// TrendPoint is one sub-bucket of a trend series.
type TrendPoint struct {
	BucketStart         time.Time `json:"bucketStartIso"`
	SampleCount         int       `json:"sampleCount"`
	HealthyCount        int       `json:"healthyCount"`
	WarnCount           int       `json:"warnCount"`
	CriticalCount       int       `json:"criticalCount"`
	AvgErrorRatePercent float64   `json:"avgErrorRatePercent"`
	AvgLatencyMs        float64   `json:"avgLatencyMs"`
}

// Recipient is one resolved notification target for a scope.
type Recipient struct {
	ID          string `json:"id" yaml:"id"`
	WorkspaceID string `json:"workspaceId,omitempty" yaml:"workspace_id"`
	Channel     string `json:"channel" yaml:"channel"`
	Address     string `json:"address,omitempty" yaml:"address"`
}

// Notification is the payload delivered to one recipient.
type Notification struct {
	NotificationID      string    `json:"notificationId"`
	WorkspaceID         string    `json:"workspaceId,omitempty"`
	Status              string    `json:"status"`
	Title               string    `json:"title"`
	Message             string    `json:"message"`
	IncidentRatePercent float64   `json:"incidentRatePercent"`
	IncidentRuns        int       `json:"incidentRuns"`
	TotalRuns           int       `json:"totalRuns"`
	WarningRatePercent  float64   `json:"warningRatePercent"`
	CriticalRatePercent float64   `json:"criticalRatePercent"`
	CreatedAt           time.Time `json:"createdAt"`
}

// RetentionTarget selects which entity a retention policy purges.
type RetentionTarget string

const (
	TargetSamples RetentionTarget = "samples"
	TargetRuns    RetentionTarget = "runs"
	TargetAll     RetentionTarget = "all"
)

// RetentionPolicy configures how old rows must be before they are purged.
// Exactly one of Days or Months is set.
type RetentionPolicy struct {
	Days   int             `json:"retentionDays,omitempty" yaml:"days"`
	Months int             `json:"retentionMonths,omitempty" yaml:"months"`
	Target RetentionTarget `json:"targetEntity" yaml:"target"`
}

// RetentionPurgeResult reports the rows removed by one purge.
type RetentionPurgeResult struct {
	DeletedRows     int64     `json:"deletedRows"`
	DeletedRuns     int64     `json:"deletedRuns"`
	DeletedSamples  int64     `json:"deletedSamples"`
	RetentionDays   int       `json:"retentionDays,omitempty"`
	RetentionMonths int       `json:"retentionMonths,omitempty"`
	ExecutedAt      time.Time `json:"executedAtIso"`
	UserScoped      bool      `json:"userScoped,omitempty"`
}

// DataExportResult is the uniform export envelope.
type DataExportResult struct {
	GeneratedAt time.Time `json:"generatedAtIso"`
	DataJSON    string    `json:"dataJson"`
}
