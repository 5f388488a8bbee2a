package incident

import "fmt"

// Reason strings that callers match on.
const (
	ReasonInsufficientSamples       = "insufficient_samples"
	ReasonCooldownActive            = "cooldown_active"
	ReasonRecipientResolutionFailed = "recipient_resolution_failed"
	ReasonWithinBaseline            = "within_baseline"
)

// ClassifyInput carries the measurements of one evaluation.
type ClassifyInput struct {
	CurrentRate     float64
	BaselineRate    *float64
	SampleCount     int
	ErrorScopeCount int
}

// Classification is the severity decided for one evaluation and every
// condition that contributed to it, in evaluation order.
type Classification struct {
	Severity Severity
	Reasons  []string
}

// Classify maps the measurements to a severity. The first matching rule
// decides the candidate; the optional per-domain rules may only lower it.
func Classify(in ClassifyInput, cfg AlertConfig) Classification {
	if in.SampleCount < cfg.MinSampleCount {
		return Classification{
			Severity: SeverityNone,
			Reasons:  []string{ReasonInsufficientSamples},
		}
	}

	var c Classification
	switch {
	case in.CurrentRate >= cfg.CriticalThresholdPercent:
		c.Severity = SeverityCritical
		c.Reasons = append(c.Reasons, fmt.Sprintf("critical_threshold: error rate %.2f%% >= %.2f%%", in.CurrentRate, cfg.CriticalThresholdPercent))
	case in.CurrentRate >= cfg.WarningThresholdPercent:
		c.Severity = SeverityWarning
		c.Reasons = append(c.Reasons, fmt.Sprintf("warning_threshold: error rate %.2f%% >= %.2f%%", in.CurrentRate, cfg.WarningThresholdPercent))
	default:
		c.Severity = SeverityNone
	}

	if cfg.MinErrorScopes > 0 && c.Severity > SeverityWarning && in.ErrorScopeCount < cfg.MinErrorScopes {
		c.Severity = SeverityWarning
		c.Reasons = append(c.Reasons, fmt.Sprintf("min_error_scopes: %d scopes in error < %d required for critical", in.ErrorScopeCount, cfg.MinErrorScopes))
	}

	if in.BaselineRate != nil {
		delta := in.CurrentRate - *in.BaselineRate
		c.Reasons = append(c.Reasons, fmt.Sprintf("baseline: error rate %.2f%% over %dh, delta %+.2f points", *in.BaselineRate, cfg.BaselineWindowHours, delta))
		if cfg.BaselineDeltaPercent > 0 && c.Severity > SeverityNone && delta < cfg.BaselineDeltaPercent {
			c.Severity = SeverityNone
			c.Reasons = append(c.Reasons, fmt.Sprintf("%s: delta %+.2f < %.2f points", ReasonWithinBaseline, delta, cfg.BaselineDeltaPercent))
		}
	}

	if c.Reasons == nil {
		c.Reasons = []string{}
	}
	return c
}
