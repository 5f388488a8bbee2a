// Package domains binds the incident engine to the sync and platform
// domains that emit outcome samples.
package domains

import (
	"text/template"

	"github.com/marcus-qen/incidentd/internal/config"
	"github.com/marcus-qen/incidentd/internal/incident"
)

// Built-in domain names.
const (
	MailboxSync   = "mailbox-sync"
	ProviderSync  = "provider-sync"
	AgentPlatform = "agent-platform"
)

// Definition is one domain's defaults and message templates.
type Definition struct {
	Name     string
	Defaults config.DomainConfig
	Title    *template.Template
	Message  *template.Template
}

var funcs = template.FuncMap{
	"pct": func(v float64) string { return formatPercent(v) },
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).Parse(text))
}

// Builtin returns the built-in definitions in a stable order.
func Builtin() []Definition {
	return []Definition{
		{
			Name: MailboxSync,
			Defaults: config.DomainConfig{
				Alert: incident.AlertConfig{
					Enabled:                  true,
					WindowHours:              24,
					CooldownMinutes:          60,
					MinSampleCount:           10,
					WarningThresholdPercent:  10,
					CriticalThresholdPercent: 30,
					PerScope:                 true,
					MaxScopesPerRun:          200,
				},
				Retention: incident.RetentionPolicy{Days: 90, Target: incident.TargetAll},
			}.WithDefaults(),
			Title: mustTemplate("mailbox-title", `Mailbox sync {{.Severity}}{{if .ScopeID}}: {{.ScopeID}}{{end}}`),
			Message: mustTemplate("mailbox-message",
				`{{.ErrorCount}} of {{.SampleCount}} sync runs failed ({{pct .RatePercent}}) in the last {{.WindowHours}}h. `+
					`Warning at {{pct .WarningPercent}}, critical at {{pct .CriticalPercent}}.`),
		},
		{
			Name: ProviderSync,
			Defaults: config.DomainConfig{
				Alert: incident.AlertConfig{
					Enabled:                  true,
					WindowHours:              6,
					CooldownMinutes:          30,
					MinSampleCount:           20,
					WarningThresholdPercent:  5,
					CriticalThresholdPercent: 20,
					MinErrorScopes:           3,
					MaxScopesPerRun:          500,
				},
				Retention: incident.RetentionPolicy{Days: 30, Target: incident.TargetAll},
			}.WithDefaults(),
			Title: mustTemplate("provider-title", `Provider sync {{.Severity}}`),
			Message: mustTemplate("provider-message",
				`{{.ErrorCount}} of {{.SampleCount}} provider syncs failed ({{pct .RatePercent}}) across {{.ErrorScopeCount}} connections in the last {{.WindowHours}}h.`),
		},
		{
			Name: AgentPlatform,
			Defaults: config.DomainConfig{
				Alert: incident.AlertConfig{
					Enabled:                  true,
					WindowHours:              1,
					BaselineWindowHours:      24,
					CooldownMinutes:          15,
					MinSampleCount:           25,
					WarningThresholdPercent:  5,
					CriticalThresholdPercent: 15,
					BaselineDeltaPercent:     2,
					SlowLatencyMs:            30000,
					TrendBucketMinutes:       15,
				},
				Retention: incident.RetentionPolicy{Months: 6, Target: incident.TargetAll},
			}.WithDefaults(),
			Title: mustTemplate("agent-title", `Agent platform {{.Severity}}{{if .ScopeID}} in {{.ScopeID}}{{end}}`),
			Message: mustTemplate("agent-message",
				`Agent run error rate is {{pct .RatePercent}} ({{.ErrorCount}}/{{.SampleCount}}) over {{.WindowHours}}h`+
					`{{with .BaselineRatePercent}}, baseline {{pct .}}{{end}}.`),
		},
	}
}

// genericDefinition serves domains that only exist in configuration.
func genericDefinition(name string, d config.DomainConfig) Definition {
	return Definition{
		Name:     name,
		Defaults: d.WithDefaults(),
		Title:    mustTemplate(name+"-title", `{{.Domain}} {{.Severity}}{{if .ScopeID}}: {{.ScopeID}}{{end}}`),
		Message: mustTemplate(name+"-message",
			`{{.ErrorCount}} of {{.SampleCount}} runs failed ({{pct .RatePercent}}) in the last {{.WindowHours}}h.`),
	}
}
