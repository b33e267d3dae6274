// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/internal/pointcut"
	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/util"
)

func isExtension(path string) bool {
	return util.HasExt(path, ".xml", ".yaml", ".yml")
}

// Watcher turns every extension file of a directory into a dynamic source
// named after the file. Changes are picked up after a quiet period.
type Watcher struct {
	agent    *Agent
	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	// seen maps a source name to the hash of its last submitted content
	seen map[string]uint64
	done chan struct{}
	wg   sync.WaitGroup
}

func NewWatcher(agent *Agent, dir string, debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ex.Wrapf(err, "failed to create watcher")
	}
	if err = fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, ex.Wrapf(err, "failed to watch %s", dir)
	}
	return &Watcher{
		agent:    agent,
		dir:      dir,
		debounce: debounce,
		watcher:  fsWatcher,
		seen:     make(map[string]uint64),
		done:     make(chan struct{}),
	}, nil
}

// Start submits the current content of the directory and keeps watching it.
func (w *Watcher) Start(ctx context.Context) {
	w.Sync(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
}

func (w *Watcher) Stop() {
	close(w.done)
	_ = w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	logger := util.LoggerFromContext(ctx)

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isExtension(event.Name) {
				continue
			}
			logger.Debug("Extension changed", "file", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("Extension watcher failed", "error", err)
		case <-timerC:
			timerC = nil
			w.Sync(ctx)
		}
	}
}

// Sync resubmits changed extension files and clears the sources of removed
// ones.
func (w *Watcher) Sync(ctx context.Context) {
	logger := util.LoggerFromContext(ctx)
	files, err := util.ListFiles(w.dir, isExtension)
	if err != nil {
		logger.Error("Failed to list extensions", "dir", w.dir, "error", err)
		return
	}
	present := make(map[string]bool, len(files))
	for _, file := range files {
		name := filepath.Base(file)
		present[name] = true
		content, err1 := os.ReadFile(file)
		if err1 != nil {
			logger.Error("Failed to read extension", "file", file, "error", err1)
			continue
		}
		hash := util.HashBytes(content)
		if prev, ok := w.seen[name]; ok && prev == hash {
			continue
		}
		w.seen[name] = hash
		res := w.agent.ProcessDirectives(ctx, content, name, pointcut.SourceDynamic)
		logger.Info("Loaded extension", "file", file, "specified", res.PointcutsSpecified,
			"error", res.Error, "retransform", res.RetransformInitiated)
	}
	for name := range w.seen {
		if present[name] {
			continue
		}
		delete(w.seen, name)
		res := w.agent.ProcessDirectives(ctx, nil, name, pointcut.SourceDynamic)
		logger.Info("Removed extension", "source", name, "retransform", res.RetransformInitiated)
	}
}
