package incident

import (
	"testing"
	"time"
)

func TestAggregate_CountsSumToSampleCount(t *testing.T) {
	store := &memStore{}
	from := testNow.Add(-time.Hour)
	store.add("a", from, OutcomeError, nil)
	store.add("a", from.Add(time.Minute), OutcomeSuccess, floatPtr(900))
	store.add("a", from.Add(2*time.Minute), OutcomeSuccess, floatPtr(100))
	store.add("a", from.Add(3*time.Minute), OutcomeSuccess, nil)
	store.add("a", testNow, OutcomeError, nil) // at the exclusive end

	b := Aggregate(store.samples, from, testNow, 500)
	if b.SampleCount != 4 {
		t.Fatalf("expected 4 samples, got %d", b.SampleCount)
	}
	if b.HealthyCount+b.WarnCount+b.CriticalCount != b.SampleCount {
		t.Fatalf("counts do not sum: %+v", b)
	}
	if b.ErrorCount != 1 || b.CriticalCount != 1 {
		t.Fatalf("expected 1 error, got %+v", b)
	}
	if b.WarnCount != 1 {
		t.Fatalf("expected 1 slow sample, got %d", b.WarnCount)
	}
	if b.AvgLatencyMs != 500 {
		t.Fatalf("expected avg latency 500, got %v", b.AvgLatencyMs)
	}
	if b.ErrorRatePercent() != 25 {
		t.Fatalf("expected 25%% error rate, got %v", b.ErrorRatePercent())
	}
}

func TestAggregate_EmptyRangeIsZero(t *testing.T) {
	b := Aggregate(nil, testNow.Add(-time.Hour), testNow, 0)
	if b.SampleCount != 0 || b.ErrorRatePercent() != 0 {
		t.Fatalf("expected zero bucket, got %+v", b)
	}
	if !b.Start.Equal(testNow.Add(-time.Hour)) {
		t.Fatalf("unexpected bucket start %v", b.Start)
	}
}

func TestBuckets_BoundarySampleBelongsToLaterBucket(t *testing.T) {
	start := testNow.Truncate(time.Hour).Add(-2 * time.Hour)
	samples := []Sample{
		{ID: "1", Timestamp: start.Add(time.Hour), Outcome: OutcomeError},
		{ID: "2", Timestamp: start.Add(time.Hour - time.Nanosecond), Outcome: OutcomeSuccess},
	}
	buckets := Buckets(samples, start, time.Hour, 2, 0)
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	if buckets[0].SampleCount != 1 || buckets[0].ErrorCount != 0 {
		t.Fatalf("first bucket wrong: %+v", buckets[0])
	}
	if buckets[1].SampleCount != 1 || buckets[1].ErrorCount != 1 {
		t.Fatalf("second bucket wrong: %+v", buckets[1])
	}
	for i, b := range buckets {
		if b.HealthyCount+b.WarnCount+b.CriticalCount != b.SampleCount {
			t.Fatalf("bucket %d counts do not sum: %+v", i, b)
		}
	}
}

func TestTrendRange_DeterministicWithinGrain(t *testing.T) {
	a, n1 := TrendRange(testNow, 24, time.Hour)
	b, n2 := TrendRange(testNow.Add(20*time.Minute), 24, time.Hour)
	if !a.Equal(b) || n1 != n2 {
		t.Fatalf("expected the same grid, got %v/%d and %v/%d", a, n1, b, n2)
	}
	if n1 != 24 {
		t.Fatalf("expected 24 buckets, got %d", n1)
	}
	end := a.Add(time.Duration(n1) * time.Hour)
	if !testNow.Before(end) || testNow.Before(end.Add(-time.Hour)) {
		t.Fatalf("now %v should fall in the last bucket ending %v", testNow, end)
	}
}

func TestTrendPoints_ZeroFilled(t *testing.T) {
	start, n := TrendRange(testNow, 6, time.Hour)
	samples := []Sample{{ID: "1", Timestamp: testNow, Outcome: OutcomeError}}
	points := TrendPoints(Buckets(samples, start, time.Hour, n, 0))
	if len(points) != 6 {
		t.Fatalf("expected 6 points, got %d", len(points))
	}
	for i, p := range points[:5] {
		if p.SampleCount != 0 || p.AvgErrorRatePercent != 0 {
			t.Fatalf("point %d should be empty: %+v", i, p)
		}
	}
	last := points[5]
	if last.SampleCount != 1 || last.CriticalCount != 1 || last.AvgErrorRatePercent != 100 {
		t.Fatalf("unexpected last point: %+v", last)
	}
}
