package incident

import "time"

type bucketAccumulator struct {
	bucket     WindowBucket
	latencySum float64
	latencyN   int
}

func (a *bucketAccumulator) add(s Sample, slowLatencyMs float64) {
	a.bucket.SampleCount++
	switch {
	case s.IsError():
		a.bucket.ErrorCount++
		a.bucket.CriticalCount++
	case slowLatencyMs > 0 && s.LatencyMs != nil && *s.LatencyMs >= slowLatencyMs:
		a.bucket.WarnCount++
	default:
		a.bucket.HealthyCount++
	}
	if s.LatencyMs != nil {
		a.latencySum += *s.LatencyMs
		a.latencyN++
	}
}

func (a *bucketAccumulator) result() WindowBucket {
	out := a.bucket
	if a.latencyN > 0 {
		out.AvgLatencyMs = a.latencySum / float64(a.latencyN)
	}
	return out
}

// Aggregate folds the samples falling in [from, to) into one bucket.
// Samples outside the range are ignored; an empty range yields a zero bucket.
func Aggregate(samples []Sample, from, to time.Time, slowLatencyMs float64) WindowBucket {
	acc := bucketAccumulator{bucket: WindowBucket{Start: from.UTC(), End: to.UTC()}}
	for _, s := range samples {
		if inRange(s.Timestamp, from, to) {
			acc.add(s, slowLatencyMs)
		}
	}
	return acc.result()
}

// Buckets splits [start, start+n*width) into n contiguous half-open buckets
// and distributes samples into them. A sample exactly on a boundary belongs
// to the bucket starting at that instant.
func Buckets(samples []Sample, start time.Time, width time.Duration, n int, slowLatencyMs float64) []WindowBucket {
	if n <= 0 || width <= 0 {
		return []WindowBucket{}
	}
	start = start.UTC()
	accs := make([]bucketAccumulator, n)
	for i := range accs {
		bStart := start.Add(time.Duration(i) * width)
		accs[i].bucket = WindowBucket{Start: bStart, End: bStart.Add(width)}
	}

	end := start.Add(time.Duration(n) * width)
	for _, s := range samples {
		if !inRange(s.Timestamp, start, end) {
			continue
		}
		idx := int(s.Timestamp.Sub(start) / width)
		accs[idx].add(s, slowLatencyMs)
	}

	out := make([]WindowBucket, n)
	for i := range accs {
		out[i] = accs[i].result()
	}
	return out
}

// TrendRange returns the deterministic bucket grid covering rangeHours up to
// and including the bucket that contains now. The grid is anchored on now
// truncated to grain, so repeated calls inside one grain agree.
func TrendRange(now time.Time, rangeHours int, grain time.Duration) (start time.Time, n int) {
	if grain <= 0 {
		grain = time.Hour
	}
	if rangeHours <= 0 {
		rangeHours = 24
	}
	span := time.Duration(rangeHours) * time.Hour
	n = int(span / grain)
	if span%grain != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	end := now.UTC().Truncate(grain).Add(grain)
	return end.Add(-time.Duration(n) * grain), n
}

// TrendPoints converts buckets into trend points.
func TrendPoints(buckets []WindowBucket) []TrendPoint {
	out := make([]TrendPoint, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, TrendPoint{
			BucketStart:         b.Start,
			SampleCount:         b.SampleCount,
			HealthyCount:        b.HealthyCount,
			WarnCount:           b.WarnCount,
			CriticalCount:       b.CriticalCount,
			AvgErrorRatePercent: b.ErrorRatePercent(),
			AvgLatencyMs:        b.AvgLatencyMs,
		})
	}
	return out
}

func inRange(ts, from, to time.Time) bool {
	return !ts.Before(from) && ts.Before(to)
}

func percentage(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
