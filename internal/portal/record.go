// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package portal

import (
	"context"

	"github.com/Wave-Play/robo.js-sub007/internal/loader"
	"github.com/Wave-Play/robo.js-sub007/internal/manifest"
)

// LoadState is the import state of a record.
type LoadState string

// Load states.
const (
	StateIdle    LoadState = "idle"
	StateLoading LoadState = "loading"
	StateLoaded  LoadState = "loaded"
	StateFailed  LoadState = "failed"
)

// Record wraps one handler entry at runtime. The handler is imported on
// first use and cached until the record is reloaded or unloaded.
type Record struct {
	Entry manifest.HandlerEntry

	p          *Portal
	enabled    bool
	state      LoadState
	handler    *loader.Module
	err        error
	generation uint64
	detached   bool

	controller    any
	hasController bool
}

// Key returns the entry key.
func (r *Record) Key() string { return r.Entry.Key }

// ID returns the entry id.
func (r *Record) ID() string { return r.Entry.ID }

// Module returns the cross-cutting module tag, if any.
func (r *Record) Module() string { return r.Entry.Module }

// Enabled reports whether the record may be dispatched. A record is enabled
// when its own flag is set and its module, if any, is enabled.
func (r *Record) Enabled() bool {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()
	return r.enabled && !r.p.disabled[r.Entry.Module]
}

// SetEnabled sets the record's own flag.
func (r *Record) SetEnabled(enabled bool) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	r.enabled = enabled
}

// State returns the load state and the last import error.
func (r *Record) State() (LoadState, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()
	return r.state, r.err
}

// Loaded returns the cached module without importing it.
func (r *Record) Loaded() (*loader.Module, bool) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()
	return r.handler, r.handler != nil
}

// Handler returns the imported module, importing it on first use.
func (r *Record) Handler(ctx context.Context) (*loader.Module, error) {
	return r.p.load(ctx, r)
}

// invalidate drops the cached module. Callers hold p.mu.
func (r *Record) invalidate() {
	if r.handler != nil {
		r.handler.Close()
	}
	r.handler = nil
	r.err = nil
	r.state = StateIdle
	r.controller = nil
	r.hasController = false
	r.generation = r.p.nextGeneration()
}
