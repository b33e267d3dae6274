// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pointcut

import (
	"fmt"
	"strings"
)

// SelectorKind tells which part of a class a directive targets.
type SelectorKind int

const (
	SelectClass      SelectorKind = iota // exact class name, optionally its subclasses
	SelectInterface                      // every class implementing an interface
	SelectAnnotation                     // every method carrying a marker
)

func (k SelectorKind) String() string {
	switch k {
	case SelectClass:
		return "class"
	case SelectInterface:
		return "interface"
	case SelectAnnotation:
		return "annotation"
	default:
		return fmt.Sprintf("SelectorKind(%d)", int(k))
	}
}

// Selector picks the classes (or, for annotations, methods) a directive
// applies to.
type Selector struct {
	Kind              SelectorKind `json:"kind"`
	Name              string       `json:"name"`
	IncludeSubclasses bool         `json:"include_subclasses,omitempty"`
}

func (s Selector) String() string {
	if s.IncludeSubclasses {
		return fmt.Sprintf("%s %s (and subclasses)", s.Kind, s.Name)
	}
	return fmt.Sprintf("%s %s", s.Kind, s.Name)
}

// MethodSelector matches methods by name and, optionally, by exact parameter
// types and return type. A nil Params matches any parameter list while an
// empty non-nil Params only matches methods without parameters.
type MethodSelector struct {
	Name       string   `json:"name"`
	Params     []string `json:"params"`
	ReturnType string   `json:"return_type,omitempty"`
}

func (m MethodSelector) String() string {
	var sb strings.Builder
	sb.WriteString(m.Name)
	if m.Params == nil {
		sb.WriteString("(..)")
	} else {
		sb.WriteString("(" + strings.Join(m.Params, ",") + ")")
	}
	if m.ReturnType != "" {
		sb.WriteString(" " + m.ReturnType)
	}
	return sb.String()
}

// Directive is one pointcut: a target selector, the methods it covers and the
// behaviour of the tracer woven into them. Directives are never mutated after
// parsing, a source replaces its whole set instead.
type Directive struct {
	Source            Source           `json:"source"`
	Index             int              `json:"index"`
	Name              string           `json:"name"`
	Target            Selector         `json:"target"`
	Methods           []MethodSelector `json:"methods,omitempty"`
	TransactionStart  bool             `json:"transaction_start,omitempty"`
	ExcludeFromTrace  bool             `json:"exclude_from_trace,omitempty"`
	IgnoreTransaction bool             `json:"ignore_transaction,omitempty"`
	MetricNameFormat  string           `json:"metric_name_format,omitempty"`
	MetricPrefix      string           `json:"metric_prefix,omitempty"`
	Enabled           bool             `json:"enabled"`
}

func (d *Directive) String() string {
	methods := make([]string, 0, len(d.Methods))
	for _, m := range d.Methods {
		methods = append(methods, m.String())
	}
	return fmt.Sprintf("{%s#%d %s [%s]}", d.Source, d.Index, d.Target, strings.Join(methods, ", "))
}

// MetricName resolves the metric name for a woven method.
func (d *Directive) MetricName(class, method string) string {
	if d.MetricNameFormat != "" {
		return d.MetricNameFormat
	}
	prefix := d.MetricPrefix
	if prefix == "" {
		prefix = DefaultMetricPrefix
	}
	return prefix + "/" + class + "/" + method
}

const DefaultMetricPrefix = "Custom"
