package incident

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryGate_FirstAlwaysPasses(t *testing.T) {
	gate := NewMemoryGate()
	key := CooldownKey{Domain: "mailbox-sync", ScopeID: "mb-1"}

	ok, err := gate.TryAcquire(context.Background(), key, testNow, time.Hour)
	if err != nil || !ok {
		t.Fatalf("first acquire should pass, got %v %v", ok, err)
	}
	ok, _ = gate.TryAcquire(context.Background(), key, testNow.Add(59*time.Minute), time.Hour)
	if ok {
		t.Fatal("acquire inside cooldown should be rejected")
	}
	ok, _ = gate.TryAcquire(context.Background(), key, testNow.Add(time.Hour), time.Hour)
	if !ok {
		t.Fatal("acquire once cooldown elapsed should pass")
	}
	ok, _ = gate.TryAcquire(context.Background(), key, testNow.Add(119*time.Minute), time.Hour)
	if ok {
		t.Fatal("second fire must restart the cooldown")
	}
}

func TestMemoryGate_ConcurrentSingleWinner(t *testing.T) {
	gate := NewMemoryGate()
	key := CooldownKey{Domain: "provider-sync"}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := gate.TryAcquire(context.Background(), key, testNow, 30*time.Minute); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestMemoryGate_SeedFromRuns(t *testing.T) {
	gate := NewMemoryGate()
	gate.Seed([]AlertRun{
		{Domain: "d", ScopeID: "s", EvaluatedAt: testNow.Add(-10 * time.Minute), Severity: SeverityCritical, Reasons: []string{}},
		{Domain: "d", ScopeID: "s", EvaluatedAt: testNow.Add(-time.Minute), Severity: SeverityCritical, Reasons: []string{ReasonCooldownActive}},
		{Domain: "d", ScopeID: "s", EvaluatedAt: testNow, Severity: SeverityNone},
	})
	key := CooldownKey{Domain: "d", ScopeID: "s"}
	// The suppressed run at -1m must not count: the cooldown runs from -10m.
	if ok, _ := gate.TryAcquire(context.Background(), key, testNow.Add(19*time.Minute), 30*time.Minute); ok {
		t.Fatal("seeded fire at -10m should still block at +19m")
	}
	if ok, _ := gate.TryAcquire(context.Background(), key, testNow.Add(20*time.Minute), 30*time.Minute); !ok {
		t.Fatal("cooldown from the published run should have elapsed at +20m")
	}
}

func TestCooldownKey_GlobalScope(t *testing.T) {
	if got := (CooldownKey{Domain: "agent-platform"}).String(); got != "agent-platform:global" {
		t.Fatalf("unexpected key %q", got)
	}
}
