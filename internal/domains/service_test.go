package domains_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/marcus-qen/incidentd/internal/config"
	"github.com/marcus-qen/incidentd/internal/directory"
	"github.com/marcus-qen/incidentd/internal/domains"
	"github.com/marcus-qen/incidentd/internal/incident"
	"github.com/marcus-qen/incidentd/internal/incident/sqlstore"
)

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []incident.Notification
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _ incident.Recipient, n incident.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func samples(domain, scope string, total, errs int) []incident.Sample {
	out := make([]incident.Sample, 0, total)
	for i := 0; i < total; i++ {
		outcome := incident.OutcomeSuccess
		if i < errs {
			outcome = incident.OutcomeError
		}
		out = append(out, incident.Sample{
			Domain:    domain,
			ScopeID:   scope,
			Timestamp: now.Add(-time.Duration(i+1) * time.Minute),
			Outcome:   outcome,
		})
	}
	return out
}

var _ = Describe("Domain services", func() {
	var (
		ctx        context.Context
		store      *sqlstore.Store
		dispatcher *recordingDispatcher
		resolver   *directory.Static
		registry   *domains.Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		store, err = sqlstore.Open(ctx, sqlstore.Options{DSN: filepath.Join(GinkgoT().TempDir(), "incident.db")})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)

		dispatcher = &recordingDispatcher{}
		resolver = directory.NewStatic([]directory.Entry{
			{Domain: directory.Wildcard, Recipients: []incident.Recipient{{ID: "ops", WorkspaceID: "ws-1", Channel: "webhook"}}},
		}, nil)

		cfg := config.Default()
		cfg.Domains = map[string]config.DomainConfig{
			"billing-sync": {Alert: incident.AlertConfig{
				Enabled: true, WindowHours: 2, MinSampleCount: 5,
				WarningThresholdPercent: 10, CriticalThresholdPercent: 50,
			}},
		}
		registry, err = domains.NewRegistry(ctx, cfg, domains.Deps{
			Store:      store,
			Gate:       store,
			Resolver:   resolver,
			Dispatcher: dispatcher,
			Now:        func() time.Time { return now },
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("registers built-in and configured domains", func() {
		Expect(registry.Names()).To(Equal([]string{"agent-platform", "billing-sync", "mailbox-sync", "provider-sync"}))
		_, err := registry.Get("unknown")
		Expect(errors.Is(err, domains.ErrUnknownDomain)).To(BeTrue())

		svc, err := registry.Get("billing-sync")
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.Settings().Schedule).To(Equal(config.DefaultSchedule))
	})

	It("alerts a failing mailbox once and renders the domain template", func() {
		Expect(store.AppendSamples(ctx, samples(domains.MailboxSync, "mb-7", 40, 20))).To(Succeed())
		svc, err := registry.Get(domains.MailboxSync)
		Expect(err).NotTo(HaveOccurred())

		first, err := svc.CheckAlerts(ctx, "mb-7")
		Expect(err).NotTo(HaveOccurred())
		Expect(*first.Severity).To(Equal(incident.SeverityCritical))
		Expect(first.PublishedCount).To(Equal(1))

		Expect(dispatcher.sent).To(HaveLen(1))
		Expect(dispatcher.sent[0].Title).To(Equal("Mailbox sync critical: mb-7"))
		Expect(dispatcher.sent[0].Message).To(HavePrefix("20 of 40 sync runs failed (50.00%)"))

		second, err := svc.CheckAlerts(ctx, "mb-7")
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Suppressed).To(BeTrue())
		Expect(dispatcher.count()).To(Equal(1))

		history, err := svc.History(ctx, "mb-7", time.Time{}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(2))
		suppressed := 0
		for _, run := range history {
			if slices.Contains(run.Reasons, incident.ReasonCooldownActive) {
				suppressed++
			}
		}
		Expect(suppressed).To(Equal(1))
	})

	It("caps provider-sync at warning until enough connections fail", func() {
		Expect(store.AppendSamples(ctx, samples(domains.ProviderSync, "conn-1", 30, 15))).To(Succeed())
		svc, err := registry.Get(domains.ProviderSync)
		Expect(err).NotTo(HaveOccurred())

		res, err := svc.CheckAlerts(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(*res.Severity).To(Equal(incident.SeverityWarning))
		Expect(res.ErrorScopeCount).To(Equal(1))
	})

	It("applies reloaded config to the next evaluation", func() {
		Expect(store.AppendSamples(ctx, samples("billing-sync", "acct-1", 10, 2))).To(Succeed())
		svc, err := registry.Get("billing-sync")
		Expect(err).NotTo(HaveOccurred())

		res, err := svc.CheckAlerts(ctx, "acct-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(*res.Severity).To(Equal(incident.SeverityWarning))

		cfg := config.Default()
		cfg.Domains = map[string]config.DomainConfig{
			"billing-sync": {Alert: incident.AlertConfig{
				Enabled: true, WindowHours: 2, MinSampleCount: 5,
				WarningThresholdPercent: 30, CriticalThresholdPercent: 50,
			}},
		}
		Expect(registry.Apply(cfg)).To(BeFalse())

		res, err = svc.CheckAlerts(ctx, "acct-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(*res.Severity).To(Equal(incident.SeverityNone))
		Expect(res.WarningThresholdPercent).To(Equal(30.0))
	})

	It("reports a schedule change when a domain is disabled or re-enabled", func() {
		section := func(enabled bool) config.Config {
			cfg := config.Default()
			cfg.Domains = map[string]config.DomainConfig{
				"billing-sync": {Alert: incident.AlertConfig{
					Enabled: enabled, WindowHours: 2, MinSampleCount: 5,
					WarningThresholdPercent: 10, CriticalThresholdPercent: 50,
				}},
			}
			return cfg
		}
		Expect(registry.Apply(section(false))).To(BeTrue())
		Expect(registry.Apply(section(false))).To(BeFalse())
		Expect(registry.Apply(section(true))).To(BeTrue())

		svc, err := registry.Get("billing-sync")
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.Settings().Alert.Enabled).To(BeTrue())
	})

	It("reverts a built-in domain to its defaults when its section is removed", func() {
		var mailboxDefaults config.DomainConfig
		for _, def := range domains.Builtin() {
			if def.Name == domains.MailboxSync {
				mailboxDefaults = def.Defaults
			}
		}
		svc, err := registry.Get(domains.MailboxSync)
		Expect(err).NotTo(HaveOccurred())
		billing, err := registry.Get("billing-sync")
		Expect(err).NotTo(HaveOccurred())

		cfg := config.Default()
		cfg.Domains = map[string]config.DomainConfig{
			domains.MailboxSync: {
				Alert:    incident.AlertConfig{Enabled: true, WindowHours: 6, MinSampleCount: 5},
				Schedule: "@every 1m",
			},
		}
		Expect(registry.Apply(cfg)).To(BeTrue())
		Expect(svc.Settings().Alert.WindowHours).To(Equal(6))

		Expect(registry.Apply(config.Default())).To(BeTrue())
		Expect(svc.Settings()).To(Equal(mailboxDefaults))
		Expect(svc.Settings().Alert.WindowHours).To(Equal(24))

		// Config-only domains keep their last section until restart.
		Expect(billing.Settings().Alert.WindowHours).To(Equal(2))
	})

	It("seeds the in-process gate from recorded runs", func() {
		Expect(store.RecordRun(ctx, incident.AlertRun{
			RunID:          "prior",
			Domain:         domains.MailboxSync,
			ScopeID:        "mb-9",
			EvaluatedAt:    now.Add(-10 * time.Minute),
			Severity:       incident.SeverityCritical,
			Reasons:        []string{},
			RecipientCount: 1,
			PublishedCount: 1,
		})).To(Succeed())
		Expect(store.AppendSamples(ctx, samples(domains.MailboxSync, "mb-9", 40, 20))).To(Succeed())

		seeded, err := domains.NewRegistry(ctx, config.Default(), domains.Deps{
			Store:      store,
			Resolver:   resolver,
			Dispatcher: dispatcher,
			Now:        func() time.Time { return now },
		})
		Expect(err).NotTo(HaveOccurred())
		svc, err := seeded.Get(domains.MailboxSync)
		Expect(err).NotTo(HaveOccurred())

		res, err := svc.CheckAlerts(ctx, "mb-9")
		Expect(err).NotTo(HaveOccurred())
		Expect(*res.Severity).To(Equal(incident.SeverityCritical))
		Expect(res.Suppressed).To(BeTrue())
		Expect(dispatcher.count()).To(BeZero())

		other, err := svc.CheckAlerts(ctx, "mb-10")
		Expect(err).NotTo(HaveOccurred())
		Expect(other.Suppressed).To(BeFalse())
	})

	It("purges with the configured policy and exports a scoped snapshot", func() {
		old := samples(domains.AgentPlatform, "ws-1", 3, 0)
		for i := range old {
			old[i].Timestamp = now.AddDate(0, -7, 0)
		}
		Expect(store.AppendSamples(ctx, old)).To(Succeed())
		Expect(store.AppendSamples(ctx, samples(domains.AgentPlatform, "ws-1", 2, 1))).To(Succeed())
		svc, err := registry.Get(domains.AgentPlatform)
		Expect(err).NotTo(HaveOccurred())

		purged, err := svc.PurgeRetention(ctx, nil, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(purged.DeletedSamples).To(Equal(int64(3)))
		Expect(purged.RetentionMonths).To(Equal(6))

		_, err = svc.PurgeRetention(ctx, &incident.RetentionPolicy{Days: 0}, "")
		Expect(errors.Is(err, incident.ErrInvalidRetention)).To(BeTrue())

		export, err := svc.ExportData(ctx, "ws-1", false)
		Expect(err).NotTo(HaveOccurred())
		var doc incident.ExportDocument
		Expect(json.Unmarshal([]byte(export.DataJSON), &doc)).To(Succeed())
		Expect(doc.Domain).To(Equal(domains.AgentPlatform))
		Expect(doc.Samples).To(HaveLen(2))

		_, err = svc.ExportData(ctx, "", false)
		Expect(errors.Is(err, incident.ErrExportForbidden)).To(BeTrue())
	})

	It("returns zero-filled trends", func() {
		Expect(store.AppendSamples(ctx, samples(domains.AgentPlatform, "ws-2", 8, 2))).To(Succeed())
		svc, err := registry.Get(domains.AgentPlatform)
		Expect(err).NotTo(HaveOccurred())

		points, err := svc.Trends(ctx, "ws-2", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(points).To(HaveLen(8))
		total := 0
		for _, p := range points {
			total += p.SampleCount
		}
		Expect(total).To(Equal(8))
	})
})
