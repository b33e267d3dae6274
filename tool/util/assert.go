// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package util

import (
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
)

// Assert panics with a stackful error when condition does not hold. It guards
// internal invariants only, user input must be reported as an error instead.
func Assert(condition bool, message string) {
	if !condition {
		panic(ex.Newf("Assertion failed: %s", message))
	}
}
