package incident

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var testNow = time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func floatPtr(v float64) *float64 { return &v }

// memStore is an in-memory SampleSource, RunStore, RetentionStore and
// SnapshotReader used by the engine tests.
type memStore struct {
	mu      sync.Mutex
	samples []Sample
	runs    []AlertRun
	err     error
	seq     int
}

func (m *memStore) add(scope string, ts time.Time, outcome Outcome, latency *float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.samples = append(m.samples, Sample{
		ID:        fmt.Sprintf("s-%05d", m.seq),
		Domain:    "test",
		ScopeID:   scope,
		Timestamp: ts,
		Outcome:   outcome,
		LatencyMs: latency,
	})
}

// fill adds total samples for scope spread over the hour before now, errs of
// which are errors.
func (m *memStore) fill(scope string, total, errs int) {
	for i := 0; i < total; i++ {
		outcome := OutcomeSuccess
		if i < errs {
			outcome = OutcomeError
		}
		m.add(scope, testNow.Add(-time.Duration(i+1)*time.Second), outcome, nil)
	}
}

func (m *memStore) Samples(_ context.Context, q SampleQuery) ([]Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []Sample
	for _, s := range m.samples {
		if s.Domain != q.Domain || (q.ScopeID != "" && s.ScopeID != q.ScopeID) {
			continue
		}
		if inRange(s.Timestamp, q.From, q.To) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) RecordRun(_ context.Context, run AlertRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *memStore) Runs(_ context.Context, q RunQuery) ([]AlertRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AlertRun
	for _, r := range m.runs {
		if q.Domain != "" && r.Domain != q.Domain {
			continue
		}
		if q.ScopeID != "" && r.ScopeID != q.ScopeID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EvaluatedAt.After(out[j].EvaluatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memStore) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *memStore) DeleteSamplesBefore(_ context.Context, f RetentionFilter, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []Sample
	var n int64
	for _, s := range m.samples {
		if int(n) < limit && s.Domain == f.Domain && (f.ScopeID == "" || s.ScopeID == f.ScopeID) && s.Timestamp.Before(f.Before) {
			n++
			continue
		}
		kept = append(kept, s)
	}
	m.samples = kept
	return n, nil
}

func (m *memStore) DeleteRunsBefore(_ context.Context, f RetentionFilter, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []AlertRun
	var n int64
	for _, r := range m.runs {
		if int(n) < limit && r.Domain == f.Domain && (f.ScopeID == "" || r.ScopeID == f.ScopeID) && r.EvaluatedAt.Before(f.Before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.runs = kept
	return n, nil
}

func (m *memStore) Snapshot(_ context.Context, q SnapshotQuery) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Snapshot{}, m.err
	}
	var snap Snapshot
	// Reverse order so the exporter's sorting is exercised.
	for i := len(m.samples) - 1; i >= 0; i-- {
		s := m.samples[i]
		if s.Domain == q.Domain && (q.ScopeID == "" || s.ScopeID == q.ScopeID) {
			snap.Samples = append(snap.Samples, s)
		}
	}
	for i := len(m.runs) - 1; i >= 0; i-- {
		r := m.runs[i]
		if r.Domain == q.Domain && (q.ScopeID == "" || r.ScopeID == q.ScopeID) {
			snap.Runs = append(snap.Runs, r)
		}
	}
	return snap, nil
}

type staticResolver struct {
	recipients []Recipient
	err        error
}

func (r staticResolver) Recipients(context.Context, string, string) ([]Recipient, error) {
	return r.recipients, r.err
}

// countingDispatcher accepts every notification except those addressed to
// recipients listed in fail.
type countingDispatcher struct {
	fail  map[string]bool
	delay time.Duration
	calls atomic.Int64
	mu    sync.Mutex
	sent  []Notification
}

func (d *countingDispatcher) Dispatch(ctx context.Context, r Recipient, n Notification) error {
	d.calls.Add(1)
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d.fail[r.ID] {
		return errors.New("rejected")
	}
	d.mu.Lock()
	d.sent = append(d.sent, n)
	d.mu.Unlock()
	return nil
}

func twoRecipients() []Recipient {
	return []Recipient{
		{ID: "ops-1", WorkspaceID: "ws-1", Channel: "webhook"},
		{ID: "ops-2", WorkspaceID: "ws-1", Channel: "webhook"},
	}
}

func exampleConfig() AlertConfig {
	return AlertConfig{
		Enabled:                  true,
		WindowHours:              24,
		BaselineWindowHours:      24,
		CooldownMinutes:          30,
		MinSampleCount:           10,
		WarningThresholdPercent:  5,
		CriticalThresholdPercent: 15,
	}
}
