// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/catalog"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/instrument"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/util"
)

// Transformer rewrites class source. It is called with the unmodified source
// the class was defined from, both when the class is first loaded and when it
// is retransformed.
type Transformer interface {
	Transform(ctx context.Context, cls *catalog.ClassDescriptor, original []byte, firstLoad bool) ([]byte, error)
}

// Dispatcher receives the woven tracer entry points at invocation time. The
// returned function runs when the method returns.
type Dispatcher interface {
	Enter(ctx context.Context, site instrument.Site, id string) (context.Context, func(err error))
}

// Outcome of a retransformation request.
type Outcome struct {
	Retransformed []string
	Failed        map[string]error
}

type class struct {
	desc     *catalog.ClassDescriptor
	original []byte

	// mu serializes transformations of this class
	mu        sync.Mutex
	installed []byte
	markers   map[instrument.Site][]string
}

// Runtime is a minimal host runtime: it owns loaded classes, the source each
// of them currently runs, and lets registered transformers rewrite it.
type Runtime struct {
	scanner *catalog.Scanner
	weaver  instrument.Weaver
	limit   int

	mu           sync.RWMutex
	classes      map[string]*class
	transformers []Transformer
	dispatcher   Dispatcher
}

var _ catalog.ClassCatalog = (*Runtime)(nil)

type Option func(*Runtime)

// WithConcurrency bounds the number of classes retransformed in parallel.
func WithConcurrency(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.limit = n
		}
	}
}

func New(scanner *catalog.Scanner, weaver instrument.Weaver, opts ...Option) *Runtime {
	r := &Runtime{
		scanner: scanner,
		weaver:  weaver,
		limit:   runtime.GOMAXPROCS(0),
		classes: make(map[string]*class),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) AddTransformer(t Transformer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transformers = append(r.transformers, t)
}

func (r *Runtime) SetDispatcher(d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatcher = d
}

func (r *Runtime) Lookup(name string) (*catalog.ClassDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	if !ok {
		return nil, false
	}
	return c.desc, true
}

func (r *Runtime) LoadedClasses() []*catalog.ClassDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	classes := make([]*catalog.ClassDescriptor, 0, len(r.classes))
	for _, c := range r.classes {
		classes = append(classes, c.desc)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })
	return classes
}

// Installed returns the source class currently runs.
func (r *Runtime) Installed(name string) ([]byte, bool) {
	c, ok := r.class(name)
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.installed, true
}

func (r *Runtime) class(name string) (*class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}

func (r *Runtime) snapshotTransformers() []Transformer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Transformer(nil), r.transformers...)
}

// Define loads every class declared in src. Classes become visible to
// LoadedClasses before the load-time transformers run, so a concurrent
// retransformation either sees them or they see its directives. A failing
// transformer leaves the class loaded without instrumentation.
func (r *Runtime) Define(ctx context.Context, src []byte) ([]string, error) {
	descs, err := r.scanner.Scan(src)
	if err != nil {
		return nil, err
	}
	loaded := make([]*class, 0, len(descs))
	r.mu.Lock()
	for _, d := range descs {
		if _, exists := r.classes[d.Name]; exists {
			r.mu.Unlock()
			return nil, ex.Newf("class %s is already defined", d.Name)
		}
	}
	for _, d := range descs {
		c := &class{desc: d, original: src, installed: src}
		// Held until the load-time transformation is installed
		c.mu.Lock()
		r.classes[d.Name] = c
		loaded = append(loaded, c)
	}
	r.mu.Unlock()

	logger := util.LoggerFromContext(ctx)
	names := make([]string, 0, len(loaded))
	for _, c := range loaded {
		if err1 := r.transform(ctx, c, true); err1 != nil {
			logger.Warn("Class loaded without instrumentation", "class", c.desc.Name, "error", err1)
		}
		c.mu.Unlock()
		names = append(names, c.desc.Name)
	}
	logger.Debug("Defined classes", "classes", names)
	return names, nil
}

// transform runs every transformer over the original source and installs
// the result. c.mu must be held.
func (r *Runtime) transform(ctx context.Context, c *class, firstLoad bool) error {
	if c.desc.IsInterface {
		return nil
	}
	out := c.original
	for _, t := range r.snapshotTransformers() {
		next, err := t.Transform(ctx, c.desc, out, firstLoad)
		if err != nil {
			return ex.Wrapf(err, "failed to transform %s", c.desc.Name)
		}
		out = next
	}
	markers, err := r.weaver.Markers(out)
	if err != nil {
		return ex.Wrapf(err, "invalid transformed source for %s", c.desc.Name)
	}
	own := make(map[instrument.Site][]string)
	for site, ids := range markers {
		if site.Class == c.desc.Name {
			own[site] = ids
		}
	}
	c.installed = out
	c.markers = own
	return nil
}

// Retransform re-runs the transformers over the named classes concurrently.
// A failing class keeps the source it had and does not stop the others.
func (r *Runtime) Retransform(ctx context.Context, names []string) Outcome {
	out := Outcome{
		Retransformed: make([]string, 0, len(names)),
		Failed:        make(map[string]error),
	}
	var mu sync.Mutex
	g := &errgroup.Group{}
	g.SetLimit(r.limit)
	for _, name := range names {
		g.Go(func() error {
			err := r.retransform(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failed[name] = err
			} else {
				out.Retransformed = append(out.Retransformed, name)
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(out.Retransformed)
	return out
}

func (r *Runtime) retransform(ctx context.Context, name string) error {
	c, ok := r.class(name)
	if !ok {
		return ex.Newf("class %s is not loaded", name)
	}
	if c.desc.IsInterface {
		return ex.Newf("class %s is an interface", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return r.transform(ctx, c, false)
}

// Invoke calls method on an instance of class. method is either a bare name,
// which must resolve to a single method, or a full signature. The method is
// looked up along the superclass chain and every tracer entry point woven
// into it fires around body.
func (r *Runtime) Invoke(ctx context.Context, className, method string, body func(context.Context) error) error {
	c, ok := r.class(className)
	if !ok {
		return ex.Newf("class %s is not loaded", className)
	}
	site, err := r.resolve(c.desc, method)
	if err != nil {
		return err
	}
	declarer, _ := r.class(site.Class)
	declarer.mu.Lock()
	ids := append([]string(nil), declarer.markers[site]...)
	declarer.mu.Unlock()

	r.mu.RLock()
	dispatcher := r.dispatcher
	r.mu.RUnlock()

	exits := make([]func(error), 0, len(ids))
	if dispatcher != nil {
		for _, id := range ids {
			var exit func(error)
			ctx, exit = dispatcher.Enter(ctx, site, id)
			exits = append(exits, exit)
		}
	}
	if body != nil {
		err = body(ctx)
	}
	for i := len(exits) - 1; i >= 0; i-- {
		exits[i](err)
	}
	return err
}

func (r *Runtime) resolve(cls *catalog.ClassDescriptor, method string) (instrument.Site, error) {
	if strings.Contains(method, "(") {
		declarer, ok := catalog.Declarer(r, cls, method)
		if !ok {
			return instrument.Site{}, ex.Newf("method %s not found on class %s", method, cls.Name)
		}
		return instrument.Site{Class: declarer.Name, Signature: method}, nil
	}
	found := catalog.ResolveMethod(r, cls, method, nil)
	switch len(found) {
	case 0:
		return instrument.Site{}, ex.Newf("method %s not found on class %s", method, cls.Name)
	case 1:
		sig := found[0].Signature()
		declarer, _ := catalog.Declarer(r, cls, sig)
		return instrument.Site{Class: declarer.Name, Signature: sig}, nil
	default:
		return instrument.Site{}, ex.Newf("method %s is ambiguous on class %s", method, cls.Name)
	}
}
