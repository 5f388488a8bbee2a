package domains

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/incidentd/internal/config"
	"github.com/marcus-qen/incidentd/internal/incident"
)

// Service is one domain's public surface: it wraps the shared engine with
// the domain's config, templates and retention policy.
type Service struct {
	name     string
	alert    *incident.ReloadableConfig
	settings atomic.Pointer[config.DomainConfig]

	engine   *incident.Engine
	purger   *incident.Purger
	exporter *incident.Exporter
	logger   *zap.Logger
}

func newService(def Definition, d config.DomainConfig, deps Deps) *Service {
	logger := deps.Logger.Named(def.Name)
	renderer := templateRenderer{title: def.Title, message: def.Message}
	publisher := incident.NewPublisher(deps.Resolver, deps.Dispatcher, renderer, logger)

	s := &Service{
		name:   def.Name,
		alert:  incident.NewReloadableConfig(d.Alert),
		logger: logger,
	}
	s.settings.Store(&d)
	s.engine = incident.NewEngine(def.Name, s.alert, incident.Deps{
		Samples:   deps.Store,
		Runs:      deps.Store,
		Gate:      deps.Gate,
		Publisher: publisher,
		Logger:    logger,
		Now:       deps.Now,
	})
	s.purger = incident.NewPurger(def.Name, deps.Store, logger)
	s.exporter = incident.NewExporter(def.Name, deps.Store, logger)
	if deps.Now != nil {
		s.purger = s.purger.WithClock(deps.Now)
		s.exporter = s.exporter.WithClock(deps.Now)
	}
	if deps.PurgeBatchSize > 0 {
		s.purger = s.purger.WithBatchSize(deps.PurgeBatchSize)
	}
	return s
}

// Name returns the domain name.
func (s *Service) Name() string { return s.name }

// Settings returns the active domain section.
func (s *Service) Settings() config.DomainConfig { return *s.settings.Load() }

// Update swaps the domain section. Running evaluations keep their snapshot.
func (s *Service) Update(d config.DomainConfig) {
	d = d.WithDefaults()
	s.settings.Store(&d)
	s.alert.Store(d.Alert)
}

// CheckAlerts evaluates one scope, or the whole domain when scopeID is empty.
func (s *Service) CheckAlerts(ctx context.Context, scopeID string) (incident.AlertCheckResult, error) {
	return s.engine.Check(ctx, scopeID)
}

// CheckAll runs the scheduled evaluation.
func (s *Service) CheckAll(ctx context.Context) ([]incident.AlertCheckResult, error) {
	return s.engine.CheckAll(ctx)
}

// Trends returns rangeHours of zero-filled trend points.
func (s *Service) Trends(ctx context.Context, scopeID string, rangeHours int) ([]incident.TrendPoint, error) {
	return s.engine.Trends(ctx, scopeID, rangeHours)
}

// History returns past evaluations newest first.
func (s *Service) History(ctx context.Context, scopeID string, since time.Time, limit int) ([]incident.AlertRun, error) {
	return s.engine.Runs(ctx, incident.RunQuery{ScopeID: scopeID, Since: since, Limit: limit})
}

// PurgeRetention purges with policy, or with the configured policy when
// policy is nil.
func (s *Service) PurgeRetention(ctx context.Context, policy *incident.RetentionPolicy, scopeID string) (incident.RetentionPurgeResult, error) {
	p := s.Settings().Retention
	if policy != nil {
		p = *policy
	}
	return s.purger.Purge(ctx, p, incident.PurgeScope{ScopeID: scopeID})
}

// ExportData returns the JSON snapshot for one scope, or the whole domain
// for privileged callers.
func (s *Service) ExportData(ctx context.Context, scopeID string, privileged bool) (incident.DataExportResult, error) {
	return s.exporter.Export(ctx, incident.ExportRequest{ScopeID: scopeID, Privileged: privileged})
}
