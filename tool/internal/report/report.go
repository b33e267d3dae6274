// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"sort"
	"strings"
)

// Result is what a submission returns to its caller. Empty strings stand for
// absent values.
type Result struct {
	PointcutsSpecified   int    `json:"pointcuts_specified"`
	Error                string `json:"error,omitempty"`
	RetransformInitiated string `json:"retransform_initiated,omitempty"`
}

func (r Result) OK() bool { return r.Error == "" }

// Builder accumulates the outcome of a submission.
type Builder struct {
	specified int
	problems  []string
	classes   map[string]bool
}

func NewBuilder() *Builder {
	return &Builder{classes: make(map[string]bool)}
}

func (b *Builder) Specified(n int) *Builder {
	b.specified = n
	return b
}

// Problem records an error message, duplicates are kept once.
func (b *Builder) Problem(msgs ...string) *Builder {
	for _, msg := range msgs {
		if msg != "" && !b.hasProblem(msg) {
			b.problems = append(b.problems, msg)
		}
	}
	return b
}

func (b *Builder) hasProblem(msg string) bool {
	for _, p := range b.problems {
		if p == msg {
			return true
		}
	}
	return false
}

func (b *Builder) Retransformed(classes ...string) *Builder {
	for _, c := range classes {
		b.classes[c] = true
	}
	return b
}

func (b *Builder) Build() Result {
	r := Result{
		PointcutsSpecified: b.specified,
		Error:              strings.Join(b.problems, "; "),
	}
	if len(b.classes) > 0 {
		names := make([]string, 0, len(b.classes))
		for c := range b.classes {
			names = append(names, c)
		}
		sort.Strings(names)
		r.RetransformInitiated = "Retransforming classes: [" + strings.Join(names, ", ") + "]"
	}
	return r
}
