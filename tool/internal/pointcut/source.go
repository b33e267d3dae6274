// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pointcut

import (
	"fmt"
	"strings"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
)

// SourceKind is the mechanism that produced a set of directives.
type SourceKind int

const (
	SourceAnnotation SourceKind = iota // markers found on methods
	SourceConfig                       // static agent configuration
	SourceDynamic                      // documents submitted at runtime
)

var sourceKindNames = map[SourceKind]string{
	SourceAnnotation: "annotation",
	SourceConfig:     "config",
	SourceDynamic:    "dynamic",
}

func (k SourceKind) String() string {
	if name, ok := sourceKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("SourceKind(%d)", int(k))
}

func ParseSourceKind(s string) (SourceKind, error) {
	for k, name := range sourceKindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, ex.Newf("unknown source kind %q", s)
}

func (k SourceKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *SourceKind) UnmarshalText(b []byte) error {
	parsed, err := ParseSourceKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Source identifies where directives came from. It is the unit of atomic
// replacement in the registry.
type Source struct {
	Name string     `json:"name" yaml:"name"`
	Kind SourceKind `json:"kind" yaml:"kind"`
}

func (s Source) String() string { return s.Kind.String() + ":" + s.Name }

// Less orders sources by kind, then by name.
func (s Source) Less(o Source) bool {
	if s.Kind != o.Kind {
		return s.Kind < o.Kind
	}
	return s.Name < o.Name
}
