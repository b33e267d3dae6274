// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/pointcut"
)

// Snapshot is an immutable view of every registered directive, keyed by
// source name.
type Snapshot struct {
	version int64
	sources map[string]pointcut.Source
	sets    map[string][]*pointcut.Directive
}

var emptySnapshot = &Snapshot{
	sources: map[string]pointcut.Source{},
	sets:    map[string][]*pointcut.Directive{},
}

// Version increases with every submission that changed the registry.
func (s *Snapshot) Version() int64 { return s.version }

// Sources lists registered sources ordered by kind, then name.
func (s *Snapshot) Sources() []pointcut.Source {
	sources := make([]pointcut.Source, 0, len(s.sources))
	for _, src := range s.sources {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Less(sources[j]) })
	return sources
}

func (s *Snapshot) Directives(sourceName string) []*pointcut.Directive {
	return s.sets[sourceName]
}

// Active returns the enabled directives of all sources, ordered by source
// then by position within the source.
func (s *Snapshot) Active() []*pointcut.Directive {
	active := make([]*pointcut.Directive, 0)
	for _, src := range s.Sources() {
		for _, d := range s.sets[src.Name] {
			if d.Enabled {
				active = append(active, d)
			}
		}
	}
	return active
}

// Outcome describes one submission.
type Outcome struct {
	Specified int
	Removed   bool
	Previous  *Snapshot
	Current   *Snapshot
}

// Registry holds the directive sets. Readers load the current snapshot
// without locking, writers are serialized.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func New() *Registry {
	r := &Registry{}
	r.current.Store(emptySnapshot)
	return r
}

func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Submit replaces the directive set registered under source.Name. An empty
// set removes the source.
func (r *Registry) Submit(source pointcut.Source, directives []*pointcut.Directive) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	next := &Snapshot{
		version: prev.version + 1,
		sources: make(map[string]pointcut.Source, len(prev.sources)+1),
		sets:    make(map[string][]*pointcut.Directive, len(prev.sets)+1),
	}
	for name, src := range prev.sources {
		next.sources[name] = src
		next.sets[name] = prev.sets[name]
	}
	_, existed := prev.sources[source.Name]
	outcome := Outcome{Specified: len(directives), Previous: prev}
	if len(directives) == 0 {
		if !existed {
			outcome.Current = prev
			return outcome
		}
		delete(next.sources, source.Name)
		delete(next.sets, source.Name)
		outcome.Removed = true
	} else {
		set := make([]*pointcut.Directive, len(directives))
		copy(set, directives)
		next.sources[source.Name] = source
		next.sets[source.Name] = set
	}
	r.current.Store(next)
	outcome.Current = next
	return outcome
}
