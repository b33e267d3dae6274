// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/catalog"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/instrument"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/parse"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/pointcut"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/registry"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/report"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/tracer"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/vm"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/weave"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/util"
)

const (
	// AnnotationSource holds the directives derived from the configured
	// trace annotations.
	AnnotationSource = "annotations"
	// ConfigSource holds the pointcuts of the configuration file.
	ConfigSource = "config"
)

var configSource = pointcut.Source{Name: ConfigSource, Kind: pointcut.SourceConfig}

// Agent wires the runtime, the weaving driver and the tracer together and
// exposes the submission API.
type Agent struct {
	cfg       *Config
	runtime   *vm.Runtime
	classpath *catalog.Classpath
	driver    *weave.Driver
}

func New(cfg *Config, providers *tracer.Providers) (*Agent, error) {
	scanner, err := catalog.NewScanner(cfg.ScannerCache)
	if err != nil {
		return nil, err
	}
	weaver := instrument.NewDstWeaver()
	rt := vm.New(scanner, weaver, vm.WithConcurrency(cfg.Concurrency))
	classpath := catalog.NewClasspath(scanner)
	driver := weave.NewDriver(registry.New(), rt, classpath, weaver)
	tr, err := tracer.New(driver, providers.TracerProvider, providers.MeterProvider)
	if err != nil {
		return nil, err
	}
	rt.AddTransformer(driver)
	rt.SetDispatcher(tr)
	return &Agent{
		cfg:       cfg,
		runtime:   rt,
		classpath: classpath,
		driver:    driver,
	}, nil
}

func (a *Agent) Runtime() *vm.Runtime { return a.runtime }

func (a *Agent) Classpath() *catalog.Classpath { return a.classpath }

func (a *Agent) Snapshot() *registry.Snapshot { return a.driver.Snapshot() }

// Start scans the class directories and registers the static sources. Only
// malformed config pointcuts fail it: classes named by the config may be
// loaded later.
func (a *Agent) Start(ctx context.Context) error {
	for _, dir := range a.cfg.ClassDirs {
		if _, err := a.classpath.ScanDir(ctx, dir); err != nil {
			return err
		}
	}
	a.registerAnnotations(ctx)
	doc := a.staticConfig()
	if len(doc.Problems) > 0 {
		return ex.Newf("invalid pointcuts in config: %s", strings.Join(doc.Errors(), "; "))
	}
	if res := a.submit(ctx, configSource, doc); !res.OK() {
		util.LoggerFromContext(ctx).Warn("Config pointcuts not resolved yet", "error", res.Error)
	}
	return nil
}

// Define loads the classes declared in src into the runtime.
func (a *Agent) Define(ctx context.Context, src []byte) ([]string, error) {
	return a.runtime.Define(ctx, src)
}

// ProcessDirectives parses payload and replaces the directives of the named
// source with it. It never panics: every failure ends up in the result.
func (a *Agent) ProcessDirectives(ctx context.Context, payload []byte, sourceName string,
	kind pointcut.SourceKind,
) (res report.Result) {
	logger := util.LoggerFromContext(ctx).With("source", sourceName)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Failed to process directives", "panic", r, "stack", string(debug.Stack()))
			res = report.NewBuilder().Problem(fmt.Sprintf("internal error: %v", r)).Build()
		}
	}()

	doc, err := parse.Payload(payload)
	if err != nil {
		logger.Warn("Rejected directive document", "error", err)
		return report.NewBuilder().Problem(err.Error()).Build()
	}
	for _, w := range doc.Warnings {
		logger.Warn(w)
	}
	src := pointcut.Source{Name: sourceName, Kind: kind}
	return a.submit(ctx, src, doc)
}

func (a *Agent) submit(ctx context.Context, src pointcut.Source, doc *parse.Document) report.Result {
	out := a.driver.Submit(ctx, src, doc.Directives(src))
	return report.NewBuilder().
		Specified(out.Specified).
		Problem(doc.Errors()...).
		Problem(out.Problems...).
		Retransformed(out.Retransformed...).
		Build()
}

// Register replaces the directives of a programmatic source.
func (a *Agent) Register(ctx context.Context, src pointcut.Source, directives []*pointcut.Directive) report.Result {
	stamped := make([]*pointcut.Directive, 0, len(directives))
	for i, d := range directives {
		c := *d
		c.Source = src
		c.Index = i
		stamped = append(stamped, &c)
	}
	out := a.driver.Submit(ctx, src, stamped)
	return report.NewBuilder().
		Specified(out.Specified).
		Problem(out.Problems...).
		Retransformed(out.Retransformed...).
		Build()
}

func (a *Agent) registerAnnotations(ctx context.Context) {
	if len(a.cfg.TraceAnnotations) == 0 {
		return
	}
	directives := make([]*pointcut.Directive, 0, len(a.cfg.TraceAnnotations))
	for _, name := range a.cfg.TraceAnnotations {
		directives = append(directives, &pointcut.Directive{
			Name:         name,
			Target:       pointcut.Selector{Kind: pointcut.SelectAnnotation, Name: name},
			MetricPrefix: a.cfg.MetricPrefix,
			Enabled:      true,
		})
	}
	a.Register(ctx, pointcut.Source{Name: AnnotationSource, Kind: pointcut.SourceAnnotation}, directives)
}

// LoadStaticConfig registers the pointcuts of the configuration file as the
// config source.
func (a *Agent) LoadStaticConfig(ctx context.Context) report.Result {
	return a.submit(ctx, configSource, a.staticConfig())
}

func (a *Agent) staticConfig() *parse.Document {
	return parse.Pointcuts(a.cfg.MetricPrefix, a.cfg.Pointcuts)
}

// Provenance returns the record of a woven method.
func (a *Agent) Provenance(class, method string) (weave.Record, bool) {
	return a.driver.Lookup(class, method)
}

// Records lists every woven method.
func (a *Agent) Records() []weave.Record {
	return a.driver.Store().Records()
}
