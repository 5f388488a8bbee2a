/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for incidentd.
//
// Custom span attributes use the `incidentd.` prefix:
//   - incidentd.domain: the alerting domain (mailbox-sync, provider-sync, ...)
//   - incidentd.scope: the evaluated scope, "global" for domain-wide checks
//   - incidentd.severity: the classified severity
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/marcus-qen/incidentd"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// TraceConfig selects the exporter and sampling.
type TraceConfig struct {
	// Endpoint is the OTLP gRPC collector; tracing is off when empty.
	Endpoint string
	// Insecure disables TLS to the collector.
	Insecure bool
	// SampleRatio is the root sampling ratio in (0,1]. 0 samples everything.
	SampleRatio float64
	Version     string
}

// InitTraceProvider installs the global provider and returns its shutdown
// function. With no endpoint the global noop provider is left in place.
func InitTraceProvider(ctx context.Context, cfg TraceConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter for %s: %w", cfg.Endpoint, err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String("incidentd"),
		semconv.ServiceVersionKey.String(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartCheckSpan creates the parent span for one alert evaluation.
func StartCheckSpan(ctx context.Context, domain, scope string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "incident.check",
		trace.WithAttributes(
			attribute.String("incidentd.domain", domain),
			attribute.String("incidentd.scope", scope),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndCheckSpan enriches the check span with the evaluation outcome.
func EndCheckSpan(span trace.Span, severity string, samples, published int, suppressed bool, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.String("incidentd.severity", severity),
			attribute.Int("incidentd.sample_count", samples),
			attribute.Int("incidentd.published_count", published),
			attribute.Bool("incidentd.suppressed", suppressed),
		)
	}
	span.End()
}

// StartDispatchSpan creates a child span for one notification dispatch.
func StartDispatchSpan(ctx context.Context, domain, channel, recipient string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "incident.dispatch",
		trace.WithAttributes(
			attribute.String("incidentd.domain", domain),
			attribute.String("incidentd.channel", channel),
			attribute.String("incidentd.recipient", recipient),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndDispatchSpan closes a dispatch span, marking failures.
func EndDispatchSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StartPurgeSpan creates the span for a retention purge.
func StartPurgeSpan(ctx context.Context, domain, target string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "incident.purge",
		trace.WithAttributes(
			attribute.String("incidentd.domain", domain),
			attribute.String("incidentd.retention_target", target),
		),
	)
}

// EndPurgeSpan records deleted row counts on the purge span.
func EndPurgeSpan(span trace.Span, samples, runs int64, err error) {
	span.SetAttributes(
		attribute.Int64("incidentd.deleted_samples", samples),
		attribute.Int64("incidentd.deleted_runs", runs),
	)
	EndDispatchSpan(span, err)
}

// StartExportSpan creates the span for a data export.
func StartExportSpan(ctx context.Context, domain, scope string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "incident.export",
		trace.WithAttributes(
			attribute.String("incidentd.domain", domain),
			attribute.String("incidentd.scope", scope),
		),
	)
}
