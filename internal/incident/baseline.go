package incident

import "time"

// Comparison is the current window measured against its trailing baseline.
type Comparison struct {
	Current         WindowBucket
	Baseline        *WindowBucket
	CurrentRate     float64
	BaselineRate    *float64
	ErrorScopeCount int
}

// Windows returns the current window [now-window, now] and the baseline
// window [baseFrom, now-window) immediately preceding it. baseFrom equals
// curFrom when the config has no baseline.
func Windows(now time.Time, cfg AlertConfig) (curFrom, curTo, baseFrom time.Time) {
	curTo = now.UTC()
	curFrom = curTo.Add(-cfg.Window())
	baseFrom = curFrom
	if cfg.BaselineWindowHours > 0 {
		baseFrom = curFrom.Add(-cfg.BaselineWindow())
	}
	return curFrom, curTo, baseFrom
}

// Compare computes the current and baseline error rates. Baseline comparison
// is skipped when no baseline width is configured or the baseline window
// holds no samples.
func Compare(samples []Sample, now time.Time, cfg AlertConfig) Comparison {
	curFrom, curTo, baseFrom := Windows(now, cfg)
	curEnd := closedEnd(curTo)

	current := Aggregate(samples, curFrom, curEnd, cfg.SlowLatencyMs)
	current.End = curTo
	cmp := Comparison{
		Current:         current,
		CurrentRate:     current.ErrorRatePercent(),
		ErrorScopeCount: errorScopes(samples, curFrom, curEnd),
	}

	if cfg.BaselineWindowHours <= 0 {
		return cmp
	}
	baseline := Aggregate(samples, baseFrom, curFrom, cfg.SlowLatencyMs)
	if baseline.SampleCount == 0 {
		return cmp
	}
	rate := baseline.ErrorRatePercent()
	cmp.Baseline = &baseline
	cmp.BaselineRate = &rate
	return cmp
}

// closedEnd turns an inclusive upper bound into the exclusive one the
// half-open helpers take.
func closedEnd(to time.Time) time.Time { return to.Add(time.Nanosecond) }

func errorScopes(samples []Sample, from, to time.Time) int {
	seen := make(map[string]struct{})
	for _, s := range samples {
		if s.IsError() && inRange(s.Timestamp, from, to) {
			seen[s.ScopeID] = struct{}{}
		}
	}
	return len(seen)
}
