// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package parse

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/pointcut"
)

// Method is the raw form of a method selector. A nil Parameters matches any
// parameter list, an empty one only matches methods without parameters.
type Method struct {
	Name       string   `yaml:"name"`
	Parameters []string `yaml:"parameters"`
	ReturnType string   `yaml:"return_type,omitempty"`
}

// Pointcut is the raw, unvalidated form of a directive shared by the XML and
// YAML dialects.
type Pointcut struct {
	Name              string   `yaml:"name,omitempty"`
	ClassName         string   `yaml:"class_name,omitempty"`
	IncludeSubclasses bool     `yaml:"include_subclasses,omitempty"`
	InterfaceName     string   `yaml:"interface_name,omitempty"`
	MethodAnnotation  string   `yaml:"method_annotation,omitempty"`
	Methods           []Method `yaml:"methods,omitempty"`
	TransactionStart  bool     `yaml:"transaction_start,omitempty"`
	ExcludeFromTrace  bool     `yaml:"exclude_from_trace,omitempty"`
	IgnoreTransaction bool     `yaml:"ignore_transaction,omitempty"`
	MetricNameFormat  string   `yaml:"metric_name_format,omitempty"`
	Enabled           *bool    `yaml:"enabled,omitempty"`

	// set by the XML reader for attributes that failed to parse
	invalid []string
}

// Problem is a pointcut that was rejected. Its siblings are unaffected.
type Problem struct {
	Index   int
	Message string
}

func (p Problem) String() string { return p.Message }

// Document is a parsed directive document.
type Document struct {
	Name         string
	Version      string
	Enabled      bool
	MetricPrefix string
	Problems     []Problem
	Warnings     []string

	valid []*pointcut.Directive
}

func newDocument() *Document {
	return &Document{Enabled: true, MetricPrefix: pointcut.DefaultMetricPrefix}
}

// Specified is the number of pointcuts that passed validation. A disabled
// document specifies nothing.
func (d *Document) Specified() int {
	if !d.Enabled {
		return 0
	}
	return len(d.valid)
}

// Directives stamps every valid pointcut with src and returns them in
// document order.
func (d *Document) Directives(src pointcut.Source) []*pointcut.Directive {
	if !d.Enabled {
		return []*pointcut.Directive{}
	}
	directives := make([]*pointcut.Directive, 0, len(d.valid))
	for i, v := range d.valid {
		dir := *v
		dir.Source = src
		dir.Index = i
		dir.Methods = append([]pointcut.MethodSelector(nil), v.Methods...)
		directives = append(directives, &dir)
	}
	return directives
}

// Errors returns problem messages in document order.
func (d *Document) Errors() []string {
	msgs := make([]string, 0, len(d.Problems))
	for _, p := range d.Problems {
		msgs = append(msgs, p.Message)
	}
	return msgs
}

func (d *Document) checkVersion() {
	if d.Version == "" {
		return
	}
	v := d.Version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		d.Warnings = append(d.Warnings, fmt.Sprintf("extension %q has invalid version %q", d.Name, d.Version))
	}
}

// add validates the raw pointcuts and keeps the valid ones.
func (d *Document) add(pointcuts []Pointcut) {
	for i := range pointcuts {
		dir, problem := validate(i, &pointcuts[i], d.MetricPrefix)
		if problem != "" {
			d.Problems = append(d.Problems, Problem{Index: i, Message: problem})
			continue
		}
		d.valid = append(d.valid, dir)
	}
}

func describe(p *Pointcut) string {
	switch {
	case p.ClassName != "":
		return "class " + p.ClassName
	case p.InterfaceName != "":
		return "interface " + p.InterfaceName
	case p.MethodAnnotation != "":
		return "annotation " + p.MethodAnnotation
	}
	return "pointcut"
}

func validate(index int, p *Pointcut, prefix string) (*pointcut.Directive, string) {
	where := fmt.Sprintf("pointcut %d", index)
	if p.Name != "" {
		where = fmt.Sprintf("pointcut %d (%s)", index, p.Name)
	}
	if len(p.invalid) > 0 {
		return nil, fmt.Sprintf("%s: %s", where, strings.Join(p.invalid, ", "))
	}
	selectors := make([]pointcut.Selector, 0, 1)
	if p.ClassName != "" {
		selectors = append(selectors, pointcut.Selector{
			Kind:              pointcut.SelectClass,
			Name:              p.ClassName,
			IncludeSubclasses: p.IncludeSubclasses,
		})
	}
	if p.InterfaceName != "" {
		selectors = append(selectors, pointcut.Selector{Kind: pointcut.SelectInterface, Name: p.InterfaceName})
	}
	if p.MethodAnnotation != "" {
		selectors = append(selectors, pointcut.Selector{Kind: pointcut.SelectAnnotation, Name: p.MethodAnnotation})
	}
	switch {
	case len(selectors) == 0 && len(p.Methods) == 0:
		return nil, where + ": neither class name nor method information"
	case len(selectors) == 0:
		names := make([]string, 0, len(p.Methods))
		for _, m := range p.Methods {
			names = append(names, m.Name)
		}
		return nil, fmt.Sprintf("%s: method %s has no class, interface or annotation", where,
			strings.Join(names, ", "))
	case len(selectors) > 1:
		return nil, fmt.Sprintf("%s: more than one selector in %s", where, describe(p))
	}
	target := selectors[0]
	if target.Kind != pointcut.SelectAnnotation && len(p.Methods) == 0 {
		return nil, fmt.Sprintf("%s: %s has no method", where, describe(p))
	}
	methods := make([]pointcut.MethodSelector, 0, len(p.Methods))
	for _, m := range p.Methods {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return nil, fmt.Sprintf("%s: %s has a method without name", where, describe(p))
		}
		var params []string
		if m.Parameters != nil {
			params = make([]string, 0, len(m.Parameters))
			for _, t := range m.Parameters {
				params = append(params, strings.TrimSpace(t))
			}
		}
		methods = append(methods, pointcut.MethodSelector{
			Name:       name,
			Params:     params,
			ReturnType: strings.TrimSpace(m.ReturnType),
		})
	}
	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	return &pointcut.Directive{
		Name:              p.Name,
		Target:            target,
		Methods:           methods,
		TransactionStart:  p.TransactionStart,
		ExcludeFromTrace:  p.ExcludeFromTrace,
		IgnoreTransaction: p.IgnoreTransaction,
		MetricNameFormat:  p.MetricNameFormat,
		MetricPrefix:      prefix,
		Enabled:           enabled,
	}, ""
}
