// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package util

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
)

func IsGoFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".go") &&
		!strings.HasSuffix(strings.ToLower(path), "_test.go")
}

func HasExt(path string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// ListFiles walks dir recursively and returns the sorted list of regular files
// accepted by keep.
func ListFiles(dir string, keep func(string) bool) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !keep(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, ex.Wrapf(err, "failed to walk %s", dir)
	}
	sort.Strings(files)
	return files, nil
}
