// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package match decides which classes and methods a directive applies to.
// Every function here is a pure predicate over descriptors.
package match

import (
	"slices"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/catalog"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/pointcut"
)

// Class reports whether cls is a candidate for d. Interface types are never
// candidates, they have no code to weave.
func Class(d *pointcut.Directive, cls *catalog.ClassDescriptor, h catalog.Hierarchy) bool {
	if cls.IsInterface {
		return false
	}
	switch d.Target.Kind {
	case pointcut.SelectClass:
		if cls.Name == d.Target.Name {
			return true
		}
		if !d.Target.IncludeSubclasses {
			return false
		}
		for _, super := range catalog.Superclasses(h, cls) {
			if super.Name == d.Target.Name {
				return true
			}
		}
		return false
	case pointcut.SelectInterface:
		return Implements(h, cls, d.Target.Name)
	case pointcut.SelectAnnotation:
		for _, m := range cls.Methods {
			if m.HasAnnotation(d.Target.Name) {
				return true
			}
		}
	}
	return false
}

// Implements reports whether cls or any of its superclasses declares iface,
// directly or through interface embedding.
func Implements(h catalog.Hierarchy, cls *catalog.ClassDescriptor, iface string) bool {
	visited := make(map[string]bool)
	for _, c := range append([]*catalog.ClassDescriptor{cls}, catalog.Superclasses(h, cls)...) {
		for _, declared := range c.Interfaces {
			if extends(h, declared, iface, visited) {
				return true
			}
		}
	}
	return false
}

func extends(h catalog.Hierarchy, name, iface string, visited map[string]bool) bool {
	if name == iface {
		return true
	}
	if visited[name] {
		return false
	}
	visited[name] = true
	desc, ok := h.Lookup(name)
	if !ok {
		return false
	}
	for _, parent := range desc.Interfaces {
		if extends(h, parent, iface, visited) {
			return true
		}
	}
	return false
}

// Method reports whether m satisfies sel: equal names, parameters equal in
// order unless sel leaves them open, equal return type when sel names one.
func Method(sel pointcut.MethodSelector, m catalog.MethodDescriptor) bool {
	if sel.Name != m.Name {
		return false
	}
	if sel.Params != nil && !slices.Equal(sel.Params, m.Params) {
		return false
	}
	return sel.ReturnType == "" || sel.ReturnType == m.ReturnType
}

// Methods returns the methods declared on cls that d weaves, in declaration
// order. Inherited methods belong to the class declaring them.
func Methods(d *pointcut.Directive, cls *catalog.ClassDescriptor, h catalog.Hierarchy) []catalog.MethodDescriptor {
	matched := make([]catalog.MethodDescriptor, 0)
	if !Class(d, cls, h) {
		return matched
	}
	for _, m := range cls.Methods {
		if d.Target.Kind == pointcut.SelectAnnotation {
			if m.HasAnnotation(d.Target.Name) {
				matched = append(matched, m)
			}
			continue
		}
		for _, sel := range d.Methods {
			if Method(sel, m) {
				matched = append(matched, m)
				break
			}
		}
	}
	return matched
}
