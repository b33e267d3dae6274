// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/instrument"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/vm"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/weave"
)

const (
	instrumentationName = "github.com/open-telemetry/opentelemetry-go-live-instrumentation"
	durationMetric      = "method.duration"
	metricNameKey       = attribute.Key("metric.name")
	weaveIDKey          = attribute.Key("weave.id")
	weaveSourcesKey     = attribute.Key("weave.sources")
)

// Provenance resolves the record of a woven method.
type Provenance interface {
	Lookup(class, method string) (weave.Record, bool)
}

// Tracer is what a woven entry point runs. It reads the provenance of the
// method at call time, so removing a directive stops its effect as soon as
// the record is gone.
type Tracer struct {
	provenance Provenance
	tracer     trace.Tracer
	duration   metric.Float64Histogram
}

var _ vm.Dispatcher = (*Tracer)(nil)

func New(p Provenance, tp trace.TracerProvider, mp metric.MeterProvider) (*Tracer, error) {
	duration, err := mp.Meter(instrumentationName).Float64Histogram(durationMetric,
		metric.WithUnit("s"),
		metric.WithDescription("Duration of woven method invocations."),
	)
	if err != nil {
		return nil, ex.Wrapf(err, "failed to create %s histogram", durationMetric)
	}
	return &Tracer{
		provenance: p,
		tracer:     tp.Tracer(instrumentationName),
		duration:   duration,
	}, nil
}

func noop(error) {}

func (t *Tracer) Enter(ctx context.Context, site instrument.Site, id string) (context.Context, func(error)) {
	rec, ok := t.provenance.Lookup(site.Class, site.Signature)
	if !ok || rec.IgnoreTransaction {
		return ctx, noop
	}
	start := time.Now()
	var span trace.Span
	if !rec.ExcludeFromTrace {
		kind := trace.SpanKindInternal
		if rec.Dispatcher {
			kind = trace.SpanKindServer
		}
		sources := make([]string, 0, len(rec.Sources))
		for _, s := range rec.Sources {
			sources = append(sources, s.String())
		}
		ctx, span = t.tracer.Start(ctx, rec.MetricName,
			trace.WithSpanKind(kind),
			trace.WithTimestamp(start),
			trace.WithAttributes(
				semconv.CodeNamespace(site.Class),
				semconv.CodeFunction(site.Signature),
				weaveIDKey.String(id),
				weaveSourcesKey.StringSlice(sources),
			),
		)
	}
	return ctx, func(err error) {
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}
		t.duration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(metricNameKey.String(rec.MetricName)))
	}
}
