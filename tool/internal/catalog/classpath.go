// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/util"
)

// Classpath holds classes that are known but not necessarily loaded. It lets
// validation accept directives naming classes that will be loaded later.
type Classpath struct {
	scanner *Scanner
	mu      sync.RWMutex
	classes map[string]*ClassDescriptor
}

func NewClasspath(scanner *Scanner) *Classpath {
	return &Classpath{
		scanner: scanner,
		classes: make(map[string]*ClassDescriptor),
	}
}

func (cp *Classpath) Add(classes ...*ClassDescriptor) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for _, c := range classes {
		cp.classes[c.Name] = c
	}
}

// AddSource scans src and adds every class it declares.
func (cp *Classpath) AddSource(src []byte) ([]*ClassDescriptor, error) {
	classes, err := cp.scanner.Scan(src)
	if err != nil {
		return nil, err
	}
	cp.Add(classes...)
	return classes, nil
}

// ScanDir adds every Go source unit found under dir and returns their paths.
func (cp *Classpath) ScanDir(ctx context.Context, dir string) ([]string, error) {
	logger := util.LoggerFromContext(ctx)
	files, err := util.ListFiles(dir, util.IsGoFile)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		src, err1 := os.ReadFile(file)
		if err1 != nil {
			return nil, ex.Wrapf(err1, "failed to read %s", file)
		}
		classes, err1 := cp.AddSource(src)
		if err1 != nil {
			return nil, ex.Wrapf(err1, "failed to scan %s", file)
		}
		logger.Debug("Scanned classpath unit", "file", file, "classes", Names(classes))
	}
	return files, nil
}

func (cp *Classpath) Lookup(name string) (*ClassDescriptor, bool) {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	c, ok := cp.classes[name]
	return c, ok
}

func (cp *Classpath) Classes() []*ClassDescriptor {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	classes := make([]*ClassDescriptor, 0, len(cp.classes))
	for _, c := range cp.classes {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })
	return classes
}
