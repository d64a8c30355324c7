// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package app

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"

	"github.com/Wave-Play/robo.js-sub007/pkg/errutil"
)

// reloadDebounce groups the file events of one manifest save.
const reloadDebounce = 150 * time.Millisecond

// Watch reloads routes whose persisted entries change whenever a new
// manifest is saved, until ctx is done. Start must have succeeded.
func (r *Runtime) Watch(ctx context.Context) error {
	if !r.Ready() {
		return oops.Code(CodeNotStarted).In("app").Errorf("runtime is not started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.In("app").Wrapf(err, "create watcher")
	}
	defer watcher.Close() //nolint:errcheck // nothing to do on close failure

	buildDir := filepath.Dir(r.store.Dir())
	if err := watcher.Add(buildDir); err != nil {
		return oops.In("app").With("dir", buildDir).Wrapf(err, "watch build directory")
	}
	r.logger.Info("watching for new builds", "dir", buildDir)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != r.store.Dir() || !ev.Has(fsnotify.Create) {
				continue
			}
			pending = time.After(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			errutil.LogWarn(r.logger, "build watcher error", err)
		case <-pending:
			pending = nil
			if _, err := os.Stat(r.store.Dir()); err != nil {
				continue
			}
			if err := r.Reload(); err != nil {
				errutil.LogError(r.logger, "failed to reload manifest", err)
			}
		}
	}
}

// Reload reads the saved manifest and swaps every route whose definition
// or entries changed. Routes the new build no longer declares are removed.
// Unchanged routes keep their loaded handlers.
func (r *Runtime) Reload() error {
	m, err := r.store.Load()
	if err != nil {
		return err
	}

	r.mu.RLock()
	current, p := r.manifest, r.portal
	observers := r.observers
	r.mu.RUnlock()
	if p == nil {
		return oops.Code(CodeNotStarted).In("app").Errorf("runtime is not started")
	}

	reloaded, removed := 0, 0
	for ns, defs := range m.Routes {
		for _, def := range defs {
			if old, known := current.Definition(ns, def.Name); known &&
				reflect.DeepEqual(old, def) &&
				reflect.DeepEqual(current.Entries(ns, def.Name), m.Entries(ns, def.Name)) {
				continue
			}
			if err := p.ReloadRoute(ns, def.Name); err != nil {
				return err
			}
			reloaded++
		}
	}
	for ns, defs := range current.Routes {
		for _, def := range defs {
			if _, kept := m.Definition(ns, def.Name); kept {
				continue
			}
			if err := p.RemoveRoute(ns, def.Name); err != nil {
				return err
			}
			removed++
		}
	}

	r.mu.Lock()
	r.manifest = m
	r.mu.Unlock()
	for _, fn := range observers {
		fn(m)
	}

	r.logger.Info("manifest reloaded",
		"build_hash", m.Project.BuildHash,
		"routes_reloaded", reloaded,
		"routes_removed", removed)
	return nil
}
