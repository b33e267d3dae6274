// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package util

import (
	"strconv"

	"github.com/zeebo/xxh3"
)

// Hash returns a short, stable hex identifier for the joined parts.
func Hash(parts ...string) string {
	h := xxh3.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.WriteString(p)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// HashBytes returns the 64-bit xxh3 digest of b.
func HashBytes(b []byte) uint64 {
	return xxh3.Hash(b)
}
