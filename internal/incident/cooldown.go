package incident

import (
	"context"
	"sync"
	"time"
)

// CooldownKey identifies the cooldown slot of one domain scope.
type CooldownKey struct {
	Domain  string
	ScopeID string
}

// String renders the key as "domain:scope", using GlobalScope for the
// domain-wide evaluation.
func (k CooldownKey) String() string {
	scope := k.ScopeID
	if scope == "" {
		scope = GlobalScope
	}
	return k.Domain + ":" + scope
}

// CooldownGate is the engine's only mutual-exclusion point. TryAcquire must
// read the last fire time for key and, when there is none or it is at least
// cooldown before now, record now, all as one atomic step. It returns false
// when the key is still cooling down.
type CooldownGate interface {
	TryAcquire(ctx context.Context, key CooldownKey, now time.Time, cooldown time.Duration) (bool, error)
}

// MemoryGate is a process-local CooldownGate.
type MemoryGate struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemoryGate creates an empty in-memory gate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{last: make(map[string]time.Time)}
}

// TryAcquire implements CooldownGate.
func (g *MemoryGate) TryAcquire(_ context.Context, key CooldownKey, now time.Time, cooldown time.Duration) (bool, error) {
	k := key.String()

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.last[k]; ok && now.Sub(last) < cooldown {
		return false, nil
	}
	g.last[k] = now
	return true, nil
}

// Seed rebuilds gate state from alert-run history. Only runs that passed the
// gate are considered; later fire times win.
func (g *MemoryGate) Seed(runs []AlertRun) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, run := range runs {
		if run.Severity == SeverityNone || hasReason(run.Reasons, ReasonCooldownActive) {
			continue
		}
		k := CooldownKey{Domain: run.Domain, ScopeID: run.ScopeID}.String()
		if cur, ok := g.last[k]; !ok || run.EvaluatedAt.After(cur) {
			g.last[k] = run.EvaluatedAt
		}
	}
}

func hasReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}
