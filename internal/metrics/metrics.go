/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the incident-alerting engine.
//
// All metrics are registered with the package Registry, served by Handler.
//
// Metric naming follows Prometheus conventions:
//   - incidentd_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every incidentd collector plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

var (
	// ChecksTotal counts completed evaluations by domain and classified severity.
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentd_alert_checks_total",
			Help: "Total number of alert evaluations by domain and severity.",
		},
		[]string{"domain", "severity"},
	)

	// CheckDurationSeconds is a histogram of evaluation duration by domain.
	CheckDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "incidentd_alert_check_duration_seconds",
			Help:    "Duration of alert evaluations in seconds.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"domain"},
	)

	// NotificationsPublishedTotal counts dispatches confirmed as accepted.
	NotificationsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentd_notifications_published_total",
			Help: "Total notifications accepted by the dispatch interface.",
		},
		[]string{"domain"},
	)

	// AlertsSuppressedTotal counts alerts rejected by the cooldown gate.
	AlertsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentd_alerts_suppressed_total",
			Help: "Total alerts suppressed by an active cooldown.",
		},
		[]string{"domain"},
	)

	// DispatchFailuresTotal counts failed or timed-out dispatches by channel.
	DispatchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentd_dispatch_failures_total",
			Help: "Total notification dispatches that failed or timed out.",
		},
		[]string{"domain", "channel"},
	)

	// StoreErrorsTotal counts store failures that aborted an operation.
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentd_store_errors_total",
			Help: "Total sample/alert-run store failures by operation.",
		},
		[]string{"domain", "op"},
	)

	// RetentionDeletedRowsTotal counts rows removed by retention purges.
	RetentionDeletedRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentd_retention_deleted_rows_total",
			Help: "Total rows deleted by retention purges by entity.",
		},
		[]string{"domain", "entity"},
	)

	// ExportsTotal counts data exports.
	ExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidentd_exports_total",
			Help: "Total compliance exports generated.",
		},
		[]string{"domain"},
	)

	// ActiveChecks is the number of evaluations currently running.
	ActiveChecks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "incidentd_active_checks",
			Help: "Number of alert evaluations currently executing.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ChecksTotal,
		CheckDurationSeconds,
		NotificationsPublishedTotal,
		AlertsSuppressedTotal,
		DispatchFailuresTotal,
		StoreErrorsTotal,
		RetentionDeletedRowsTotal,
		ExportsTotal,
		ActiveChecks,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordCheck records metrics for a completed evaluation.
func RecordCheck(domain, severity string, published int, suppressed bool, duration time.Duration) {
	ChecksTotal.WithLabelValues(domain, severity).Inc()
	CheckDurationSeconds.WithLabelValues(domain).Observe(duration.Seconds())
	if published > 0 {
		NotificationsPublishedTotal.WithLabelValues(domain).Add(float64(published))
	}
	if suppressed {
		AlertsSuppressedTotal.WithLabelValues(domain).Inc()
	}
}

// RecordDispatchFailure records one failed dispatch.
func RecordDispatchFailure(domain, channel string) {
	DispatchFailuresTotal.WithLabelValues(domain, channel).Inc()
}

// RecordStoreError records one aborted store operation.
func RecordStoreError(domain, op string) {
	StoreErrorsTotal.WithLabelValues(domain, op).Inc()
}

// RecordPurge records the rows removed by a retention purge.
func RecordPurge(domain string, samples, runs int64) {
	RetentionDeletedRowsTotal.WithLabelValues(domain, "samples").Add(float64(samples))
	RetentionDeletedRowsTotal.WithLabelValues(domain, "runs").Add(float64(runs))
}

// RecordExport records one generated export.
func RecordExport(domain string) {
	ExportsTotal.WithLabelValues(domain).Inc()
}
