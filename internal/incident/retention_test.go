package incident

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPurge_DeletesOnlyExpiredRows(t *testing.T) {
	store := &memStore{}
	store.add("a", testNow.AddDate(0, 0, -10), OutcomeSuccess, nil)
	store.add("a", testNow.AddDate(0, 0, -40), OutcomeError, nil)

	purger := NewPurger("test", store, nil).WithClock(fixedClock)
	res, err := purger.Purge(context.Background(), RetentionPolicy{Days: 30, Target: TargetSamples}, PurgeScope{})
	if err != nil {
		t.Fatalf("Purge error: %v", err)
	}
	if res.DeletedRows != 1 || res.DeletedSamples != 1 {
		t.Fatalf("expected 1 deleted row, got %+v", res)
	}
	if res.RetentionDays != 30 || !res.ExecutedAt.Equal(testNow) {
		t.Fatalf("unexpected result metadata: %+v", res)
	}
	if len(store.samples) != 1 || store.samples[0].Timestamp.Before(testNow.AddDate(0, 0, -11)) {
		t.Fatalf("wrong row survived: %+v", store.samples)
	}

	again, err := purger.Purge(context.Background(), RetentionPolicy{Days: 30, Target: TargetSamples}, PurgeScope{})
	if err != nil {
		t.Fatalf("second Purge error: %v", err)
	}
	if again.DeletedRows != 0 {
		t.Fatalf("second purge should delete nothing, got %d", again.DeletedRows)
	}
}

func TestPurge_BatchesUntilDrained(t *testing.T) {
	store := &memStore{}
	for i := 0; i < 23; i++ {
		store.add("a", testNow.AddDate(0, -3, 0).Add(time.Duration(i)*time.Minute), OutcomeSuccess, nil)
		store.runs = append(store.runs, AlertRun{RunID: "r", Domain: "test", ScopeID: "a", EvaluatedAt: testNow.AddDate(0, -3, 0)})
	}
	store.add("a", testNow, OutcomeSuccess, nil)

	purger := NewPurger("test", store, nil).WithClock(fixedClock).WithBatchSize(5)
	res, err := purger.Purge(context.Background(), RetentionPolicy{Months: 2, Target: TargetAll}, PurgeScope{})
	if err != nil {
		t.Fatalf("Purge error: %v", err)
	}
	if res.DeletedSamples != 23 || res.DeletedRuns != 23 || res.DeletedRows != 46 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if res.RetentionMonths != 2 {
		t.Fatalf("expected months in result, got %+v", res)
	}
	if len(store.samples) != 1 {
		t.Fatalf("recent sample must survive, got %d", len(store.samples))
	}
}

func TestPurge_ScopedToOneScope(t *testing.T) {
	store := &memStore{}
	old := testNow.AddDate(0, 0, -90)
	store.add("user-1", old, OutcomeSuccess, nil)
	store.add("user-2", old, OutcomeSuccess, nil)

	res, err := NewPurger("test", store, nil).WithClock(fixedClock).
		Purge(context.Background(), RetentionPolicy{Days: 30}, PurgeScope{ScopeID: "user-1"})
	if err != nil {
		t.Fatalf("Purge error: %v", err)
	}
	if !res.UserScoped || res.DeletedSamples != 1 {
		t.Fatalf("expected 1 scoped deletion, got %+v", res)
	}
	if store.samples[0].ScopeID != "user-2" {
		t.Fatalf("other scope must be untouched, got %+v", store.samples)
	}
}

func TestPurge_RejectsNonPositiveHorizon(t *testing.T) {
	store := &memStore{}
	store.add("a", testNow.AddDate(-5, 0, 0), OutcomeSuccess, nil)
	purger := NewPurger("test", store, nil).WithClock(fixedClock)

	for _, policy := range []RetentionPolicy{
		{Days: 0},
		{Days: -1},
		{Months: -2},
		{Days: 10, Months: 1},
		{Days: 10, Target: "everything"},
	} {
		if _, err := purger.Purge(context.Background(), policy, PurgeScope{}); !errors.Is(err, ErrInvalidRetention) {
			t.Fatalf("policy %+v: expected ErrInvalidRetention, got %v", policy, err)
		}
	}
	if len(store.samples) != 1 {
		t.Fatal("rejected policies must not delete anything")
	}
}

func TestRetentionHorizon_CalendarMonths(t *testing.T) {
	h, err := RetentionPolicy{Months: 1}.Horizon(time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Horizon error: %v", err)
	}
	// AddDate normalizes Feb 31 to Mar 3.
	if want := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC); !h.Equal(want) {
		t.Fatalf("expected %v, got %v", want, h)
	}
}
