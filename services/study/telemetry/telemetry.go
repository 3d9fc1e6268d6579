// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires the process-wide OpenTelemetry tracer and meter
// providers and exposes the Prometheus handler for both the promauto
// counters and the OpenTelemetry instruments the study packages register.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilContext is returned when Init receives a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
)

// Config controls telemetry behavior.
type Config struct {
	// ServiceName identifies this process in traces and metrics.
	ServiceName string `json:"service_name" yaml:"service_name"`

	// ServiceVersion is the version string recorded on the resource.
	ServiceVersion string `json:"service_version" yaml:"service_version"`

	// TraceExporter is "none" or "stdout".
	TraceExporter string `json:"trace_exporter" yaml:"trace_exporter"`

	// MetricExporter is "none", "prometheus" or "stdout".
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter"`

	// Writer receives stdout-exported spans and metrics. Defaults to
	// os.Stderr so command output on stdout stays clean.
	Writer io.Writer `json:"-" yaml:"-"`
}

// DefaultConfig returns a config with tracing and OpenTelemetry metrics
// disabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "budgetcliff",
		ServiceVersion: "1.0.0",
		TraceExporter:  ExporterNone,
		MetricExporter: ExporterNone,
	}
}

// meterRegistry holds the series of the current OpenTelemetry Prometheus
// exporter. Each Init gets a fresh registry so repeated setup never collides
// with an earlier exporter.
var (
	meterRegistryMu sync.RWMutex
	meterRegistry   *prometheus.Registry
)

// Init installs the global tracer and meter providers described by cfg.
//
// Description:
//
//	With exporter "none" no provider is installed and otel.Tracer and
//	otel.Meter return no-op implementations, so instrumented code runs
//	unchanged. Stdout tracing batches spans as pretty JSON. Prometheus
//	metrics are served by MetricsHandler; stdout metrics are pushed
//	periodically and on shutdown.
//
// Outputs:
//
//	shutdown - Flushes and stops every installed provider. Must be called
//	           on exit.
//	error - ErrNilContext or ErrUnknownExporter, or exporter setup failure.
//
// Thread Safety: Call once at startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var stops []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, stop := range slices.Backward(stops) {
			errs = append(errs, stop(ctx))
		}
		return errors.Join(errs...)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	tp, err := initTracer(cfg, w, res)
	if err != nil {
		return nil, err
	}
	if tp != nil {
		otel.SetTracerProvider(tp)
		stops = append(stops, tp.Shutdown)
	}

	mp, err := initMeter(cfg, w, res)
	if err != nil {
		return nil, errors.Join(err, shutdown(ctx))
	}
	if mp != nil {
		otel.SetMeterProvider(mp)
		stops = append(stops, mp.Shutdown)
	}
	return shutdown, nil
}

// initTracer returns nil when tracing is disabled.
func initTracer(cfg Config, w io.Writer, res *resource.Resource) (*trace.TracerProvider, error) {
	switch cfg.TraceExporter {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("%w: trace %s", ErrUnknownExporter, cfg.TraceExporter)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	), nil
}

// initMeter returns nil when OpenTelemetry metrics are disabled.
func initMeter(cfg Config, w io.Writer, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	switch cfg.MetricExporter {
	case "", ExporterNone:
		return nil, nil

	case ExporterPrometheus:
		reg := prometheus.NewRegistry()
		exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		meterRegistryMu.Lock()
		meterRegistry = reg
		meterRegistryMu.Unlock()

		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		), nil

	case ExporterStdout:
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		), nil

	default:
		return nil, fmt.Errorf("%w: metric %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}

// MetricsHandler serves the default Prometheus registry, which holds every
// promauto counter in the study packages, merged with the OpenTelemetry
// instruments when the prometheus metric exporter is installed.
//
// Thread Safety: Safe for concurrent use.
func MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
		meterRegistryMu.RLock()
		if meterRegistry != nil {
			gatherers = append(gatherers, meterRegistry)
		}
		meterRegistryMu.RUnlock()
		promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
