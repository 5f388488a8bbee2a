/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getHistogramCount(hv *prometheus.HistogramVec, labels ...string) uint64 {
	m := &dto.Metric{}
	observer := hv.WithLabelValues(labels...)
	if c, ok := observer.(prometheus.Metric); ok {
		if err := c.Write(m); err != nil {
			return 0
		}
		return m.GetHistogram().GetSampleCount()
	}
	return 0
}

func TestRecordCheck(t *testing.T) {
	RecordCheck("test-domain", "critical", 3, false, 120*time.Millisecond)

	if val := getCounterValue(ChecksTotal, "test-domain", "critical"); val < 1 {
		t.Errorf("ChecksTotal = %f, want >= 1", val)
	}
	if val := getCounterValue(NotificationsPublishedTotal, "test-domain"); val < 3 {
		t.Errorf("NotificationsPublishedTotal = %f, want >= 3", val)
	}
	if count := getHistogramCount(CheckDurationSeconds, "test-domain"); count < 1 {
		t.Errorf("CheckDurationSeconds count = %d, want >= 1", count)
	}
}

func TestRecordCheckSuppressed(t *testing.T) {
	before := getCounterValue(AlertsSuppressedTotal, "suppressed-domain")
	RecordCheck("suppressed-domain", "warning", 0, true, time.Millisecond)
	after := getCounterValue(AlertsSuppressedTotal, "suppressed-domain")
	if after-before != 1 {
		t.Errorf("AlertsSuppressedTotal delta = %f, want 1", after-before)
	}
}

func TestRecordPurge(t *testing.T) {
	RecordPurge("purge-domain", 7, 2)
	if val := getCounterValue(RetentionDeletedRowsTotal, "purge-domain", "samples"); val < 7 {
		t.Errorf("samples deleted = %f, want >= 7", val)
	}
	if val := getCounterValue(RetentionDeletedRowsTotal, "purge-domain", "runs"); val < 2 {
		t.Errorf("runs deleted = %f, want >= 2", val)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	RecordDispatchFailure("handler-domain", "webhook")
	RecordStoreError("handler-domain", "load_samples")
	RecordExport("handler-domain")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"incidentd_dispatch_failures_total",
		"incidentd_store_errors_total",
		"incidentd_exports_total",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
