// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

// Package portal is the runtime registry over a manifest: lazy handler
// imports, module toggles, controllers and hot reload.
package portal

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/sync/singleflight"

	"github.com/Wave-Play/robo.js-sub007/internal/loader"
	"github.com/Wave-Play/robo.js-sub007/internal/manifest"
	"github.com/Wave-Play/robo.js-sub007/internal/route"
)

// errStale marks an import finished after its record was invalidated.
var errStale = errors.New("stale import")

// routeTable holds the records of one route.
type routeTable struct {
	def        route.Definition
	records    []*Record
	controller *controllerReg
}

// Portal owns every record of a process. Mutation is idempotent and safe
// for concurrent use; concurrent lookups of an unloaded record share one
// import.
type Portal struct {
	loader loader.Loader
	root   string
	store  *manifest.Store
	logger *slog.Logger

	mu         sync.RWMutex
	routes     map[string]*routeTable
	disabled   map[string]bool
	generation uint64

	group singleflight.Group
}

// Option configures a Portal.
type Option func(*Portal)

// WithRoot sets the directory relative file paths resolve against.
func WithRoot(root string) Option {
	return func(p *Portal) {
		p.root = root
	}
}

// WithStore enables ReloadRoute from a persisted manifest.
func WithStore(s *manifest.Store) Option {
	return func(p *Portal) {
		p.store = s
	}
}

// WithLogger sets the portal's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Portal) {
		p.logger = logger
	}
}

// New creates a portal exposing every route of m.
func New(l loader.Loader, m *manifest.Manifest, opts ...Option) *Portal {
	p := &Portal{
		loader:   l,
		logger:   slog.Default(),
		routes:   make(map[string]*routeTable),
		disabled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}

	if m != nil {
		for ns, defs := range m.Routes {
			for _, def := range defs {
				p.routes[tableKey(ns, def.Name)] = &routeTable{
					def:     def,
					records: p.newRecords(m.Entries(ns, def.Name)),
				}
			}
		}
	}
	return p
}

func tableKey(namespace, routeName string) string {
	return namespace + ":" + routeName
}

func (p *Portal) nextGeneration() uint64 {
	p.generation++
	return p.generation
}

// newRecords wraps entries. Callers hold p.mu or own p exclusively.
func (p *Portal) newRecords(entries []manifest.HandlerEntry) []*Record {
	records := make([]*Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, &Record{
			Entry:      e,
			p:          p,
			enabled:    true,
			state:      StateIdle,
			generation: p.nextGeneration(),
		})
	}
	return records
}

// Routes returns the type of every route, sorted.
func (p *Portal) Routes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	types := make([]string, 0, len(p.routes))
	for t := range p.routes {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Definition returns the definition of a route.
func (p *Portal) Definition(namespace, routeName string) (route.Definition, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.routes[tableKey(namespace, routeName)]
	if !ok {
		return route.Definition{}, false
	}
	return t.def, true
}

// Records returns every record of a route in manifest order.
func (p *Portal) Records(namespace, routeName string) []*Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.routes[tableKey(namespace, routeName)]
	if !ok {
		return nil
	}
	return slices.Clone(t.records)
}

// GetHandlers returns every record sharing key, for multiple routes.
func (p *Portal) GetHandlers(namespace, routeName, key string) ([]*Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	found := p.find(namespace, routeName, key)
	if len(found) == 0 {
		return nil, ErrHandlerNotFound(namespace, routeName, key)
	}
	return found, nil
}

// Lookup returns the record for key without importing it.
func (p *Portal) Lookup(namespace, routeName, key string) (*Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	found := p.find(namespace, routeName, key)
	if len(found) == 0 {
		return nil, ErrHandlerNotFound(namespace, routeName, key)
	}
	return found[0], nil
}

// GetHandler resolves key and returns its module, importing it once.
func (p *Portal) GetHandler(ctx context.Context, namespace, routeName, key string) (*loader.Module, error) {
	rec, err := p.Lookup(namespace, routeName, key)
	if err != nil {
		return nil, err
	}
	return p.load(ctx, rec)
}

// find returns the records of a route matching key. Callers hold p.mu.
func (p *Portal) find(namespace, routeName, key string) []*Record {
	t, ok := p.routes[tableKey(namespace, routeName)]
	if !ok {
		return nil
	}
	var found []*Record
	for _, r := range t.records {
		if r.Entry.Key == key {
			found = append(found, r)
		}
	}
	return found
}

func (p *Portal) load(ctx context.Context, rec *Record) (*loader.Module, error) {
	for {
		p.mu.Lock()
		if rec.handler != nil {
			mod := rec.handler
			p.mu.Unlock()
			recordHit(rec.Entry.Namespace, rec.Entry.Route)
			return mod, nil
		}
		if rec.detached {
			p.mu.Unlock()
			return nil, ErrHandlerNotFound(rec.Entry.Namespace, rec.Entry.Route, rec.Entry.Key)
		}
		gen := rec.generation
		rec.state = StateLoading
		p.mu.Unlock()

		// The import is shared, so it must outlive a caller that gives up.
		shared := context.WithoutCancel(ctx)
		v, err, _ := p.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
			return p.importRecord(shared, rec, gen)
		})
		if errors.Is(err, errStale) {
			continue
		}
		if err != nil {
			return nil, err
		}
		mod, _ := v.(*loader.Module)
		return mod, nil
	}
}

// importRecord runs one import and caches it unless the record was
// invalidated while the import was in flight.
func (p *Portal) importRecord(ctx context.Context, rec *Record, gen uint64) (*loader.Module, error) {
	p.mu.RLock()
	if rec.generation == gen && rec.handler != nil {
		mod := rec.handler
		p.mu.RUnlock()
		return mod, nil
	}
	p.mu.RUnlock()

	mod, err := p.loader.Load(ctx, p.resolve(rec.Entry.FilePath))

	p.mu.Lock()
	defer p.mu.Unlock()

	ns, rt := rec.Entry.Namespace, rec.Entry.Route
	if rec.generation != gen {
		mod.Close()
		recordImport(ns, rt, ResultStale)
		p.logger.Debug("discarding stale import", "route", rec.Entry.Type, "id", rec.Entry.ID)
		return nil, errStale
	}
	if err != nil {
		rec.state = StateFailed
		rec.err = err
		recordImport(ns, rt, ResultFailed)
		return nil, err
	}
	rec.handler = mod
	rec.state = StateLoaded
	rec.err = nil
	recordImport(ns, rt, ResultLoaded)
	return mod, nil
}

func (p *Portal) resolve(path string) string {
	if filepath.IsAbs(path) || p.root == "" {
		return filepath.FromSlash(path)
	}
	return filepath.Join(p.root, filepath.FromSlash(path))
}

// ReloadHandler drops the cached module of every record under key. The next
// lookup imports the file again.
func (p *Portal) ReloadHandler(namespace, routeName, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	found := p.find(namespace, routeName, key)
	if len(found) == 0 {
		return ErrHandlerNotFound(namespace, routeName, key)
	}
	for _, r := range found {
		r.invalidate()
	}
	recordReload(namespace, routeName, "handler")
	p.logger.Debug("reloaded handler", "namespace", namespace, "route", routeName, "key", key)
	return nil
}

// ReloadRoute replaces a route's records with the entries persisted in the
// store. Enable flags survive for ids present in both.
func (p *Portal) ReloadRoute(namespace, routeName string) error {
	if p.store == nil {
		return oops.Code(CodeNoStore).In("portal").
			With("namespace", namespace).
			With("route", routeName).
			Errorf("portal has no manifest store to reload from")
	}
	entries, err := p.store.LoadHandlers(namespace, routeName)
	if err != nil {
		return err
	}

	defs, err := p.store.LoadRoutes(namespace)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(defs, func(d route.Definition) bool { return d.Name == routeName })
	if idx < 0 {
		return ErrRouteNotFound(namespace, routeName)
	}

	p.SetEntries(defs[idx], namespace, routeName, entries)
	recordReload(namespace, routeName, "route")
	return nil
}

// SetEntries swaps one route's definition and records.
func (p *Portal) SetEntries(def route.Definition, namespace, routeName string, entries []manifest.HandlerEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := tableKey(namespace, routeName)
	t, ok := p.routes[key]
	if !ok {
		t = &routeTable{}
		p.routes[key] = t
	}
	t.def = def

	enabled := make(map[string]bool, len(t.records))
	for _, r := range t.records {
		enabled[r.Entry.ID] = r.enabled
		r.invalidate()
		r.detached = true
	}

	t.records = p.newRecords(entries)
	for _, r := range t.records {
		if e, seen := enabled[r.Entry.ID]; seen {
			r.enabled = e
		}
	}
	p.logger.Debug("replaced route records", "route", key, "entries", len(entries))
}

// RemoveRoute drops a route and all of its records. Lookups on it fail
// from then on.
func (p *Portal) RemoveRoute(namespace, routeName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := tableKey(namespace, routeName)
	t, ok := p.routes[key]
	if !ok {
		return ErrRouteNotFound(namespace, routeName)
	}
	for _, r := range t.records {
		r.invalidate()
		r.detached = true
	}
	delete(p.routes, key)
	recordReload(namespace, routeName, "remove")
	p.logger.Debug("removed route", "route", key)
	return nil
}

// Unload removes every record under key from the registry.
func (p *Portal) Unload(namespace, routeName, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.routes[tableKey(namespace, routeName)]
	if !ok {
		return ErrHandlerNotFound(namespace, routeName, key)
	}
	before := len(t.records)
	t.records = slices.DeleteFunc(t.records, func(r *Record) bool {
		if r.Entry.Key != key {
			return false
		}
		r.invalidate()
		r.detached = true
		return true
	})
	if len(t.records) == before {
		return ErrHandlerNotFound(namespace, routeName, key)
	}
	recordReload(namespace, routeName, "unload")
	return nil
}

// ClearCache drops every cached module and resets enable state.
func (p *Portal) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.routes {
		for _, r := range t.records {
			r.invalidate()
			r.enabled = true
		}
	}
	p.disabled = make(map[string]bool)
}

// Close releases every cached module.
func (p *Portal) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.routes {
		for _, r := range t.records {
			r.invalidate()
		}
	}
}
