// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package weave

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/catalog"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/instrument"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/match"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/pointcut"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/registry"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/vm"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/util"
)

// RetransformationPort is the host runtime facility the driver works
// through: it enumerates loaded classes and re-runs their transformers.
type RetransformationPort interface {
	catalog.ClassCatalog
	Retransform(ctx context.Context, classes []string) vm.Outcome
}

// Outcome of one submission.
type Outcome struct {
	Specified int
	Problems  []string
	// Retransformed lists the classes sent for retransformation, including
	// the ones that failed.
	Retransformed []string
}

// Driver keeps the woven code of loaded classes in line with the registry.
type Driver struct {
	registry  *registry.Registry
	port      RetransformationPort
	classpath catalog.Hierarchy
	weaver    instrument.Weaver
	store     *Store

	// submissions are serialized, class loading is not
	submitMu sync.Mutex

	pendingMu sync.RWMutex
	pending   map[string]classRecords
}

var _ vm.Transformer = (*Driver)(nil)

// NewDriver wires a driver. classpath resolves classes that are not loaded
// yet and may be nil.
func NewDriver(reg *registry.Registry, port RetransformationPort, classpath catalog.Hierarchy,
	weaver instrument.Weaver,
) *Driver {
	return &Driver{
		registry:  reg,
		port:      port,
		classpath: classpath,
		weaver:    weaver,
		store:     NewStore(),
	}
}

func (d *Driver) Store() *Store { return d.store }

func (d *Driver) Snapshot() *registry.Snapshot { return d.registry.Snapshot() }

func (d *Driver) Lookup(class, method string) (Record, bool) {
	return d.store.Lookup(class, method)
}

func (d *Driver) hierarchy() catalog.Hierarchy {
	if d.classpath == nil {
		return d.port
	}
	return catalog.Chain(d.port, d.classpath)
}

// desired computes the records cls needs under the active directives.
func desired(active []*pointcut.Directive, cls *catalog.ClassDescriptor, h catalog.Hierarchy) classRecords {
	records := make(classRecords)
	for _, dir := range active {
		for _, m := range match.Methods(dir, cls, h) {
			sig := m.Signature()
			r, ok := records[sig]
			if !ok {
				r = &Record{Key: Key{Class: cls.Name, Method: sig}, ID: WeaveID(cls.Name, sig)}
				records[sig] = r
			}
			r.merge(dir, m.Name)
		}
	}
	return records
}

// validate reports class selectors naming unknown classes and method
// selectors that resolve to nothing on their class.
func (d *Driver) validate(directives []*pointcut.Directive) []string {
	h := d.hierarchy()
	problems := make([]string, 0)
	for _, dir := range directives {
		if !dir.Enabled || dir.Target.Kind != pointcut.SelectClass {
			continue
		}
		cls, ok := h.Lookup(dir.Target.Name)
		if !ok {
			problems = append(problems, fmt.Sprintf("class %s not found", dir.Target.Name))
			continue
		}
		for _, sel := range dir.Methods {
			found := false
			for _, m := range catalog.ResolveMethod(h, cls, sel.Name, sel.Params) {
				if match.Method(sel, m) {
					found = true
					break
				}
			}
			if !found {
				problems = append(problems, fmt.Sprintf("method %s not found on class %s", sel, cls.Name))
			}
		}
	}
	return problems
}

// Submit replaces the directives of source and brings every loaded class in
// line with the new registry content.
func (d *Driver) Submit(ctx context.Context, source pointcut.Source, directives []*pointcut.Directive) Outcome {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	logger := util.LoggerFromContext(ctx)

	reg := d.registry.Submit(source, directives)
	out := Outcome{
		Specified:     reg.Specified,
		Problems:      d.validate(directives),
		Retransformed: make([]string, 0),
	}

	// Diff under the store lock, one class at a time
	active := reg.Current.Active()
	h := d.hierarchy()
	retransform := make(map[string]classRecords)
	recordOnly := make(map[string]classRecords)
	for _, cls := range d.port.LoadedClasses() {
		want := desired(active, cls, h)
		have := d.store.current(cls.Name)
		switch {
		case want.equal(have):
		case want.sameWoven(have):
			recordOnly[cls.Name] = want
		default:
			retransform[cls.Name] = want
		}
	}
	for name := range retransform {
		out.Retransformed = append(out.Retransformed, name)
	}
	sort.Strings(out.Retransformed)

	var res vm.Outcome
	if len(out.Retransformed) > 0 {
		d.pendingMu.Lock()
		d.pending = retransform
		d.pendingMu.Unlock()

		res = d.port.Retransform(ctx, out.Retransformed)

		d.pendingMu.Lock()
		d.pending = nil
		d.pendingMu.Unlock()
	}

	d.store.mu.Lock()
	for _, name := range res.Retransformed {
		d.store.commit(name, retransform[name])
	}
	for name, records := range recordOnly {
		d.store.commit(name, records)
	}
	d.store.mu.Unlock()

	failed := make([]string, 0, len(res.Failed))
	for name := range res.Failed {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	for _, name := range failed {
		logger.Error("Failed to retransform class", "class", name, "error", res.Failed[name])
		out.Problems = append(out.Problems, fmt.Sprintf("failed to retransform class %s: %v", name, res.Failed[name]))
	}
	logger.Info("Applied directives", "source", source, "specified", out.Specified,
		"retransformed", out.Retransformed, "updated", len(recordOnly), "problems", len(out.Problems))
	return out
}

// Transform weaves cls from its original source. On retransformation the
// records staged by Submit are used, otherwise the class is matched against
// the current registry snapshot and its records are committed right away.
func (d *Driver) Transform(ctx context.Context, cls *catalog.ClassDescriptor, original []byte, firstLoad bool) ([]byte, error) {
	var (
		records classRecords
		staged  bool
	)
	if !firstLoad {
		d.pendingMu.RLock()
		records, staged = d.pending[cls.Name]
		d.pendingMu.RUnlock()
	}
	if staged {
		return d.weaver.Inject(original, cls.Name, records.points(cls)...)
	}

	// Weave outside the store lock. The records are committed only if no
	// submission was published meanwhile: a Submit that published earlier
	// either reads them during its diff or makes us start over.
	for {
		snap := d.registry.Snapshot()
		records = desired(snap.Active(), cls, d.hierarchy())
		out, err := d.weaver.Inject(original, cls.Name, records.points(cls)...)
		if err != nil {
			return nil, err
		}
		d.store.mu.Lock()
		if d.registry.Snapshot().Version() != snap.Version() {
			d.store.mu.Unlock()
			continue
		}
		d.store.commit(cls.Name, records)
		d.store.mu.Unlock()
		if len(records) > 0 {
			util.LoggerFromContext(ctx).Debug("Woven class on load", "class", cls.Name, "methods", records.signatures())
		}
		return out, nil
	}
}
