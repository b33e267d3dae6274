// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"slices"
	"sort"
	"strings"
)

// MethodDescriptor describes one method declared on a class.
type MethodDescriptor struct {
	Name        string   `json:"name"`
	Params      []string `json:"params"`
	ReturnType  string   `json:"return_type,omitempty"`
	Annotations []string `json:"annotations,omitempty"`
}

// Signature is the method identity used for provenance, e.g.
// "Checkout(context.Context,string) error".
func (m MethodDescriptor) Signature() string {
	sig := m.Name + "(" + strings.Join(m.Params, ",") + ")"
	if m.ReturnType != "" {
		sig += " " + m.ReturnType
	}
	return sig
}

func (m MethodDescriptor) HasAnnotation(name string) bool {
	return slices.Contains(m.Annotations, name)
}

// ClassDescriptor describes a named type: its superclass (the first embedded
// struct), the interfaces it declares and its methods in declaration order.
// Descriptors handed out by the catalog are shared and must not be mutated.
type ClassDescriptor struct {
	Name        string             `json:"name"`
	Package     string             `json:"package"`
	Super       string             `json:"super,omitempty"`
	Interfaces  []string           `json:"interfaces,omitempty"`
	IsInterface bool               `json:"is_interface,omitempty"`
	Methods     []MethodDescriptor `json:"methods,omitempty"`
}

func (c *ClassDescriptor) DeclaredMethod(signature string) (MethodDescriptor, bool) {
	for _, m := range c.Methods {
		if m.Signature() == signature {
			return m, true
		}
	}
	return MethodDescriptor{}, false
}

// Hierarchy resolves class names to descriptors.
type Hierarchy interface {
	Lookup(name string) (*ClassDescriptor, bool)
}

// ClassCatalog is the capability of enumerating the loaded class population.
type ClassCatalog interface {
	Hierarchy
	LoadedClasses() []*ClassDescriptor
}

type chain []Hierarchy

func (c chain) Lookup(name string) (*ClassDescriptor, bool) {
	for _, h := range c {
		if cls, ok := h.Lookup(name); ok {
			return cls, true
		}
	}
	return nil, false
}

// Chain returns a Hierarchy that consults each of hs in order.
func Chain(hs ...Hierarchy) Hierarchy {
	return chain(hs)
}

// Superclasses returns the superclass chain of cls, nearest first. The walk
// stops at the first unknown name and never visits a class twice.
func Superclasses(h Hierarchy, cls *ClassDescriptor) []*ClassDescriptor {
	supers := make([]*ClassDescriptor, 0)
	visited := map[string]bool{cls.Name: true}
	for name := cls.Super; name != "" && !visited[name]; {
		visited[name] = true
		super, ok := h.Lookup(name)
		if !ok {
			break
		}
		supers = append(supers, super)
		name = super.Super
	}
	return supers
}

// ResolveMethod returns the methods named name that are callable on cls,
// searching cls first and then its superclass chain. A method declared on a
// subclass hides superclass methods with the same signature. params follows
// the selector convention: nil matches any parameter list.
func ResolveMethod(h Hierarchy, cls *ClassDescriptor, name string, params []string) []MethodDescriptor {
	found := make([]MethodDescriptor, 0)
	seen := make(map[string]bool)
	for _, c := range append([]*ClassDescriptor{cls}, Superclasses(h, cls)...) {
		for _, m := range c.Methods {
			if m.Name != name || seen[m.Signature()] {
				continue
			}
			if params != nil && !slices.Equal(params, m.Params) {
				continue
			}
			seen[m.Signature()] = true
			found = append(found, m)
		}
	}
	return found
}

// Declarer returns the class that declares the method with the given
// signature as seen from cls: cls itself or the nearest superclass.
func Declarer(h Hierarchy, cls *ClassDescriptor, signature string) (*ClassDescriptor, bool) {
	for _, c := range append([]*ClassDescriptor{cls}, Superclasses(h, cls)...) {
		if _, ok := c.DeclaredMethod(signature); ok {
			return c, true
		}
	}
	return nil, false
}

func Names(classes []*ClassDescriptor) []string {
	names := make([]string, 0, len(classes))
	for _, c := range classes {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}
