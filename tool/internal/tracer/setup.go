// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracer

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
)

const (
	ExporterStdout = "stdout"
	ExporterNone   = "none"

	defaultMetricInterval = 10 * time.Second
)

// SetupConfig selects where woven telemetry goes.
type SetupConfig struct {
	ServiceName    string
	ServiceVersion string
	Exporter       string
	Writer         io.Writer
	MetricInterval time.Duration
}

// Providers bundles the SDK providers the agent owns.
type Providers struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	shutdown       []func(context.Context) error
}

// Setup builds tracer and meter providers. The "none" exporter yields no-op
// providers.
func Setup(ctx context.Context, cfg SetupConfig) (*Providers, error) {
	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		return &Providers{
			TracerProvider: tracenoop.NewTracerProvider(),
			MeterProvider:  metricnoop.NewMeterProvider(),
		}, nil
	}
	if cfg.Exporter != ExporterStdout {
		return nil, ex.Newf("unsupported exporter %q", cfg.Exporter)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, ex.Wrapf(err, "failed to create resource")
	}

	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(writer))
	if err != nil {
		return nil, ex.Wrapf(err, "failed to create trace exporter")
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(writer))
	if err != nil {
		return nil, ex.Wrapf(err, "failed to create metric exporter")
	}
	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = defaultMetricInterval
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
	)
	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		shutdown:       []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}, nil
}

// Shutdown flushes and stops the providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return ex.Wrapf(errors.Join(errs...), "failed to shutdown telemetry providers")
	}
	return nil
}
