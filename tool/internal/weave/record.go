// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package weave

import (
	"slices"
	"sort"
	"sync"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/catalog"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/instrument"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/pointcut"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/util"
)

// Key identifies a woven method.
type Key struct {
	Class  string `json:"class"`
	Method string `json:"method"`
}

// Record is the provenance of one woven method: which sources asked for it
// and the tracer behaviour they resolve to.
type Record struct {
	Key
	ID                string            `json:"id"`
	Sources           []pointcut.Source `json:"sources"`
	Dispatcher        bool              `json:"dispatcher"`
	MetricName        string            `json:"metric_name"`
	ExcludeFromTrace  bool              `json:"exclude_from_trace,omitempty"`
	IgnoreTransaction bool              `json:"ignore_transaction,omitempty"`

	hasFormat bool
}

// WeaveID is the label of the tracer entry point woven into a method. It only
// depends on the method, so every source shares one entry point.
func WeaveID(class, signature string) string {
	return util.Hash(class, signature)
}

func (r *Record) equal(o *Record) bool {
	return r.Key == o.Key &&
		r.Dispatcher == o.Dispatcher &&
		r.MetricName == o.MetricName &&
		r.ExcludeFromTrace == o.ExcludeFromTrace &&
		r.IgnoreTransaction == o.IgnoreTransaction &&
		slices.Equal(r.Sources, o.Sources)
}

func (r *Record) clone() Record {
	c := *r
	c.Sources = append([]pointcut.Source(nil), r.Sources...)
	return c
}

// merge folds directive d into the record. Directives must arrive in source
// order: the first explicit metric name wins, a method is excluded from the
// trace only if every contributor excludes it.
func (r *Record) merge(d *pointcut.Directive, method string) {
	if len(r.Sources) == 0 {
		r.MetricName = d.MetricName(r.Class, method)
		r.ExcludeFromTrace = d.ExcludeFromTrace
	} else {
		r.ExcludeFromTrace = r.ExcludeFromTrace && d.ExcludeFromTrace
		if !r.hasFormat && d.MetricNameFormat != "" {
			r.MetricName = d.MetricNameFormat
		}
	}
	r.hasFormat = r.hasFormat || d.MetricNameFormat != ""
	known := slices.ContainsFunc(r.Sources, func(s pointcut.Source) bool { return s.Name == d.Source.Name })
	if !known {
		r.Sources = append(r.Sources, d.Source)
	}
	r.Dispatcher = r.Dispatcher || d.TransactionStart
	r.IgnoreTransaction = r.IgnoreTransaction || d.IgnoreTransaction
}

// classRecords maps method signatures to records of one class.
type classRecords map[string]*Record

func (c classRecords) signatures() []string {
	sigs := make([]string, 0, len(c))
	for sig := range c {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	return sigs
}

// sameWoven reports whether both sets weave exactly the same methods.
func (c classRecords) sameWoven(o classRecords) bool {
	if len(c) != len(o) {
		return false
	}
	for sig := range c {
		if _, ok := o[sig]; !ok {
			return false
		}
	}
	return true
}

func (c classRecords) equal(o classRecords) bool {
	if !c.sameWoven(o) {
		return false
	}
	for sig, r := range c {
		if !r.equal(o[sig]) {
			return false
		}
	}
	return true
}

func (c classRecords) points(cls *catalog.ClassDescriptor) []instrument.Point {
	points := make([]instrument.Point, 0, len(c))
	for _, sig := range c.signatures() {
		m, ok := cls.DeclaredMethod(sig)
		util.Assert(ok, "woven method must be declared")
		points = append(points, instrument.Point{Method: m, ID: c[sig].ID})
	}
	return points
}

// Store holds the committed provenance records.
type Store struct {
	mu      sync.RWMutex
	classes map[string]classRecords
}

func NewStore() *Store {
	return &Store{classes: make(map[string]classRecords)}
}

func (s *Store) Lookup(class, method string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.classes[class][method]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Records returns every committed record ordered by class and method.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	classes := make([]string, 0, len(s.classes))
	for c := range s.classes {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	records := make([]Record, 0)
	for _, c := range classes {
		for _, sig := range s.classes[c].signatures() {
			records = append(records, s.classes[c][sig].clone())
		}
	}
	return records
}

func (s *Store) current(class string) classRecords {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classes[class]
}

// commit replaces the records of class. The caller holds s.mu.
func (s *Store) commit(class string, records classRecords) {
	if len(records) == 0 {
		delete(s.classes, class)
		return
	}
	s.classes[class] = records
}
