package domains

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/incidentd/internal/config"
	"github.com/marcus-qen/incidentd/internal/incident"
)

// ErrUnknownDomain is returned for a domain that is neither built in nor
// configured.
var ErrUnknownDomain = errors.New("unknown domain")

// Store is the persistence every domain shares.
type Store interface {
	incident.SampleSource
	incident.RunStore
	incident.RetentionStore
	incident.SnapshotReader
}

// Deps are shared by every domain service. One gate serves every domain
// so scheduled and on-demand checks contend on the same cooldown keys.
type Deps struct {
	Store      Store
	Gate       incident.CooldownGate
	Resolver   incident.RecipientResolver
	Dispatcher incident.NotificationDispatcher
	Logger     *zap.Logger
	// Now and PurgeBatchSize are optional.
	Now            func() time.Time
	PurgeBatchSize int
}

// Registry holds one Service per domain.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
	builtin  map[string]Definition
	logger   *zap.Logger
}

// NewRegistry builds the built-in domains plus any domain that only exists
// in cfg. A configured section replaces the built-in defaults.
//
// Without a Gate the registry falls back to an in-process gate seeded from
// recent alert runs, so a restart does not re-notify inside a cooldown.
func NewRegistry(ctx context.Context, cfg config.Config, deps Deps) (*Registry, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("domains: store is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	type entry struct {
		def Definition
		cfg config.DomainConfig
	}
	var (
		entries []entry
		longest time.Duration
	)
	builtin := make(map[string]Definition)
	for _, def := range Builtin() {
		d := def.Defaults
		if override, ok := cfg.Domains[def.Name]; ok {
			d = override.WithDefaults()
		}
		builtin[def.Name] = def
		entries = append(entries, entry{def, d})
	}
	for name, d := range cfg.Domains {
		if _, ok := builtin[name]; ok {
			continue
		}
		d = d.WithDefaults()
		entries = append(entries, entry{genericDefinition(name, d), d})
	}
	for _, e := range entries {
		if err := e.cfg.Alert.Validate(); err != nil {
			return nil, fmt.Errorf("domain %s: %w", e.def.Name, err)
		}
		longest = max(longest, e.cfg.Alert.Cooldown())
	}

	if deps.Gate == nil {
		gate, err := seededMemoryGate(ctx, deps.Store, deps.Now().Add(-longest))
		if err != nil {
			return nil, err
		}
		deps.Logger.Info("using in-process cooldown gate", zap.Duration("seed_horizon", longest))
		deps.Gate = gate
	}

	r := &Registry{
		services: make(map[string]*Service, len(entries)),
		builtin:  builtin,
		logger:   deps.Logger,
	}
	for _, e := range entries {
		r.services[e.def.Name] = newService(e.def, e.cfg, deps)
	}
	return r, nil
}

func seededMemoryGate(ctx context.Context, runs incident.RunStore, since time.Time) (*incident.MemoryGate, error) {
	history, err := runs.Runs(ctx, incident.RunQuery{Since: since})
	if err != nil {
		return nil, fmt.Errorf("seed cooldown gate: %w", err)
	}
	gate := incident.NewMemoryGate()
	gate.Seed(history)
	return gate, nil
}

// Get returns the named service.
func (r *Registry) Get(name string) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, name)
	}
	return s, nil
}

// Names returns the domain names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for n := range r.services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Services returns every service sorted by name.
func (r *Registry) Services() []*Service {
	names := r.Names()
	out := make([]*Service, 0, len(names))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range names {
		out = append(out, r.services[n])
	}
	return out
}

// Apply pushes reloaded domain sections into the running services and
// reports whether the scheduled jobs need reinstalling. A built-in domain
// whose section was removed reverts to its defaults. A config-only domain
// whose section was removed keeps its last settings. Domains added after
// startup are ignored until restart.
func (r *Registry) Apply(cfg config.Config) (schedulesChanged bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := range cfg.Domains {
		if _, ok := r.services[name]; !ok {
			r.logger.Warn("ignoring domain added after startup", zap.String("domain", name))
		}
	}
	for name, s := range r.services {
		d, ok := cfg.Domains[name]
		def, isBuiltin := r.builtin[name]
		switch {
		case ok:
			d = d.WithDefaults()
		case isBuiltin:
			d = def.Defaults
		default:
			r.logger.Warn("domain section removed, keeping last settings until restart", zap.String("domain", name))
			continue
		}
		if err := d.Alert.Validate(); err != nil {
			r.logger.Error("rejecting domain config", zap.String("domain", name), zap.Error(err))
			continue
		}
		if schedulingChanged(s.Settings(), d) {
			schedulesChanged = true
		}
		s.Update(d)
		r.logger.Debug("domain config applied", zap.String("domain", name), zap.Bool("from_defaults", !ok))
	}
	return schedulesChanged
}

func schedulingChanged(prev, next config.DomainConfig) bool {
	return prev.Schedule != next.Schedule ||
		prev.PurgeSchedule != next.PurgeSchedule ||
		prev.HasRetention() != next.HasRetention() ||
		prev.Alert.Enabled != next.Alert.Enabled
}
