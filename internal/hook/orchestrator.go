// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

// Package hook runs project and plugin lifecycle hooks in the order and with
// the concurrency each hook family requires.
package hook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/Wave-Play/robo.js-sub007/internal/config"
	"github.com/Wave-Play/robo.js-sub007/internal/loader"
	"github.com/Wave-Play/robo.js-sub007/internal/manifest"
	"github.com/Wave-Play/robo.js-sub007/internal/route"
	"github.com/Wave-Play/robo.js-sub007/pkg/errutil"
)

// ExportAggregate is the named export a build complete hook may carry to
// aggregate metadata of its namespace.
const ExportAggregate = "aggregate"

// Orchestrator runs hooks discovered at build time.
type Orchestrator struct {
	loader  loader.Loader
	hooks   map[manifest.HookType][]manifest.HookEntry
	plugins map[string]manifest.PluginInfo
	cfg     *config.Config
	env     func(string) string
	root    string
	paths   Paths
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithConfig exposes the project config to hooks.
func WithConfig(cfg *config.Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// WithEnv sets the environment accessor handed to hooks.
func WithEnv(env func(string) string) Option {
	return func(o *Orchestrator) {
		o.env = env
	}
}

// WithRoot sets the directory relative hook paths are resolved against.
func WithRoot(root string) Option {
	return func(o *Orchestrator) {
		o.root = root
		o.paths.Root = root
	}
}

// WithPaths sets the source and build directories shown to hooks.
func WithPaths(src, build string) Option {
	return func(o *Orchestrator) {
		o.paths.Src = src
		o.paths.Build = build
	}
}

// New creates an orchestrator over hook listings and the plugin registry.
// Hooks of each type run in priority order: the project first, then plugins
// in registration order.
func New(l loader.Loader, hooks map[manifest.HookType][]manifest.HookEntry, plugins []manifest.PluginInfo, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		loader:  l,
		hooks:   make(map[manifest.HookType][]manifest.HookEntry, len(hooks)),
		plugins: make(map[string]manifest.PluginInfo, len(plugins)),
		logger:  slog.Default(),
	}
	for t, list := range hooks {
		sorted := slices.Clone(list)
		slices.SortStableFunc(sorted, func(a, b manifest.HookEntry) int {
			return a.Priority - b.Priority
		})
		o.hooks[t] = sorted
	}
	for _, p := range plugins {
		o.plugins[p.Name] = p
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.env == nil {
		o.env = func(string) string { return "" }
	}
	return o
}

// split separates the project hooks of one family and phase from the
// plugin hooks.
func (o *Orchestrator) split(t manifest.HookType, phase manifest.Phase) (project, plugins []manifest.HookEntry) {
	for _, h := range o.hooks[t] {
		if phase != "" && h.Phase != phase {
			continue
		}
		if h.Source == manifest.SourceProject {
			project = append(project, h)
		} else {
			plugins = append(plugins, h)
		}
	}
	return project, plugins
}

// Init runs init hooks: the project first, then plugins one at a time.
func (o *Orchestrator) Init(ctx context.Context) error {
	return o.sequential(ctx, manifest.HookInit, "")
}

// Start runs start hooks in registration order.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.sequential(ctx, manifest.HookStart, "")
}

// BuildStart runs build start hooks: the project first, then every plugin
// concurrently.
func (o *Orchestrator) BuildStart(ctx context.Context) error {
	project, plugins := o.split(manifest.HookBuild, manifest.PhaseStart)
	for _, h := range project {
		if _, err := o.invoke(ctx, h, o.newContext(h)); err != nil {
			return err
		}
	}
	return o.parallel(ctx, plugins, func(h manifest.HookEntry) *Context {
		return o.newContext(h)
	}, nil)
}

// BuildTransform passes the entry set through every transform hook in turn.
// A hook returning nothing leaves the set unchanged.
func (o *Orchestrator) BuildTransform(ctx context.Context, entries []route.ScannedEntry) ([]route.ScannedEntry, error) {
	project, plugins := o.split(manifest.HookBuild, manifest.PhaseTransform)
	current := entries
	for _, h := range append(project, plugins...) {
		hc := o.newContext(h)
		hc.Entries = slices.Clone(current)

		out, err := o.invoke(ctx, h, hc)
		if err != nil {
			if o.fatal(h) {
				return nil, err
			}
			o.warnFailSafe(h, err)
			continue
		}
		next, err := decodeEntries(out)
		if err != nil {
			err = errHookFailed(h, oops.Code(CodeInvalidResult).In("hook").Wrap(err))
			if o.fatal(h) {
				return nil, err
			}
			o.warnFailSafe(h, err)
			continue
		}
		if next != nil {
			o.logger.Debug("transform hook replaced entries",
				"hook", h.Path,
				"before", len(current),
				"after", len(next))
			current = next
		}
	}
	return current, nil
}

// BuildComplete runs build complete hooks against the assembled manifest and
// returns the merged metadata. A map returned by a hook is an update to its
// namespace. Aggregators run only after every hook has finished.
func (o *Orchestrator) BuildComplete(ctx context.Context, m *manifest.Manifest) (map[string]map[string]any, error) {
	registry := NewMetadataRegistry()
	project, plugins := o.split(manifest.HookBuild, manifest.PhaseComplete)

	var (
		mu   sync.Mutex
		open []*loader.Module
	)
	defer func() {
		for _, mod := range open {
			mod.Close()
		}
	}()
	keep := func(hc *Context, mod *loader.Module, out any) {
		mu.Lock()
		open = append(open, mod)
		mu.Unlock()
		if agg, ok := mod.Func(ExportAggregate); ok {
			registry.Aggregator(hc.Namespace, scriptAggregator(ctx, agg))
		}
		if data, ok := out.(map[string]any); ok && len(data) > 0 {
			registry.Update(hc.Namespace, data)
		}
	}

	newContext := func(h manifest.HookEntry) *Context {
		hc := o.newContext(h)
		hc.Manifest = m
		hc.Metadata = registry
		return hc
	}

	for _, h := range project {
		hc := newContext(h)
		mod, out, err := o.call(ctx, h, hc)
		if err != nil {
			return nil, err
		}
		keep(hc, mod, out)
	}
	if err := o.parallel(ctx, plugins, newContext, keep); err != nil {
		return nil, err
	}

	var base map[string]map[string]any
	if m != nil {
		base = m.Metadata
	}
	merged, err := registry.Merge(base)
	if err != nil {
		return nil, oops.Code(CodeHookFailed).In("hook").Wrapf(err, "aggregate metadata")
	}
	return merged, nil
}

// Stop runs stop hooks: the project first, then plugins in reverse
// registration order. Every hook runs even when an earlier one fails.
func (o *Orchestrator) Stop(ctx context.Context) error {
	project, plugins := o.split(manifest.HookStop, "")
	slices.Reverse(plugins)

	var errs []error
	for _, h := range append(project, plugins...) {
		if _, err := o.invoke(ctx, h, o.newContext(h)); err != nil {
			if !o.fatal(h) {
				o.warnFailSafe(h, err)
				continue
			}
			errutil.LogError(o.logger, "stop hook failed", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sequential runs every hook of a family one at a time. Project failures and
// failures of plugins without failSafe abort the run.
func (o *Orchestrator) sequential(ctx context.Context, t manifest.HookType, phase manifest.Phase) error {
	project, plugins := o.split(t, phase)
	for _, h := range append(project, plugins...) {
		if _, err := o.invoke(ctx, h, o.newContext(h)); err != nil {
			if o.fatal(h) {
				return err
			}
			o.warnFailSafe(h, err)
		}
	}
	return nil
}

// parallel runs plugin hooks concurrently. Every hook finishes its attempt
// before the first fatal failure is returned.
func (o *Orchestrator) parallel(ctx context.Context, hooks []manifest.HookEntry, newContext func(manifest.HookEntry) *Context, keep func(*Context, *loader.Module, any)) error {
	var g errgroup.Group
	for _, h := range hooks {
		g.Go(func() error {
			hc := newContext(h)
			if keep == nil {
				_, err := o.invoke(ctx, h, hc)
				return o.contain(h, err)
			}
			mod, out, err := o.call(ctx, h, hc)
			if err != nil {
				return o.contain(h, err)
			}
			keep(hc, mod, out)
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) contain(h manifest.HookEntry, err error) error {
	if err == nil {
		return nil
	}
	if o.fatal(h) {
		return err
	}
	o.warnFailSafe(h, err)
	return nil
}

// invoke loads and calls one hook, then closes its module.
func (o *Orchestrator) invoke(ctx context.Context, h manifest.HookEntry, hc *Context) (any, error) {
	mod, out, err := o.call(ctx, h, hc)
	if err != nil {
		return nil, err
	}
	mod.Close()
	return out, nil
}

// call loads one hook and invokes its default export. On success the
// module is returned open.
func (o *Orchestrator) call(ctx context.Context, h manifest.HookEntry, hc *Context) (*loader.Module, any, error) {
	hc.Logger.Debug("running hook", "path", h.Path)

	mod, err := o.loader.Load(ctx, o.resolve(h.Path))
	if err != nil {
		return nil, nil, errHookFailed(h, err)
	}
	out, err := mod.Call(ctx, hc)
	if err != nil {
		mod.Close()
		return nil, nil, errHookFailed(h, err)
	}
	return mod, out, nil
}

func (o *Orchestrator) resolve(p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) || o.root == "" {
		return p
	}
	return filepath.Join(o.root, p)
}

// fatal reports whether a failure of h aborts the run.
func (o *Orchestrator) fatal(h manifest.HookEntry) bool {
	if h.Source == manifest.SourceProject {
		return true
	}
	return !o.plugins[h.Plugin].FailSafe
}

func (o *Orchestrator) warnFailSafe(h manifest.HookEntry, err error) {
	errutil.LogWarn(o.logger, "failSafe plugin hook failed, continuing", err,
		"plugin", h.Plugin,
		"hook", label(h))
}

func (o *Orchestrator) newContext(h manifest.HookEntry) *Context {
	hc := &Context{
		Type:      h.Type,
		Phase:     h.Phase,
		Namespace: ProjectNamespace,
		Config:    o.cfg,
		Paths:     o.paths,
		Env:       o.env,
	}
	if o.cfg != nil {
		hc.Mode = o.cfg.Mode
	}
	hc.Paths.Source = sourceDir(o.resolve(h.Path))

	logger := o.logger.With("hook", label(h))
	if h.Source == manifest.SourcePlugin {
		p := o.plugins[h.Plugin]
		hc.Plugin = h.Plugin
		hc.Options = p.Options
		if p.Namespace != "" {
			hc.Namespace = p.Namespace
		}
		logger = logger.With("plugin", h.Plugin)
	}
	hc.Logger = logger
	return hc
}

// sourceDir returns the directory holding the hook directory of a hook file.
func sourceDir(hookPath string) string {
	slashed := filepath.ToSlash(hookPath)
	if i := strings.LastIndex(slashed, "/"+manifest.HookDir+"/"); i >= 0 {
		return filepath.FromSlash(slashed[:i])
	}
	if strings.HasPrefix(slashed, manifest.HookDir+"/") {
		return "."
	}
	return filepath.Dir(hookPath)
}

// decodeEntries converts a transform result into entries. Only an untyped
// nil means unchanged; a nil slice is an empty set. Results from script
// hooks go through their JSON form.
func decodeEntries(out any) ([]route.ScannedEntry, error) {
	switch v := out.(type) {
	case nil:
		return nil, nil
	case []route.ScannedEntry:
		if v == nil {
			return []route.ScannedEntry{}, nil
		}
		return v, nil
	case map[string]any:
		if len(v) == 0 {
			return []route.ScannedEntry{}, nil
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	entries := []route.ScannedEntry{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, oops.Wrapf(err, "transform hook must return a list of entries")
	}
	if entries == nil {
		entries = []route.ScannedEntry{}
	}
	return entries, nil
}

// scriptAggregator adapts an aggregate export to an Aggregator.
func scriptAggregator(ctx context.Context, fn loader.Func) Aggregator {
	return func(current map[string]any, updates []map[string]any) (map[string]any, error) {
		out, err := fn(ctx, current, updates)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return current, nil
		}
		merged, ok := out.(map[string]any)
		if !ok {
			return nil, oops.Code(CodeInvalidResult).In("hook").Errorf("aggregator must return a table, got %T", out)
		}
		return merged, nil
	}
}
