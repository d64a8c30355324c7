// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/Wave-Play/robo.js-sub007/internal/config"
	"github.com/Wave-Play/robo.js-sub007/internal/dispatch"
	"github.com/Wave-Play/robo.js-sub007/internal/hook"
	"github.com/Wave-Play/robo.js-sub007/internal/loader"
	"github.com/Wave-Play/robo.js-sub007/internal/manifest"
	"github.com/Wave-Play/robo.js-sub007/internal/portal"
	"github.com/Wave-Play/robo.js-sub007/pkg/errutil"
)

// CodeNotStarted marks runtime calls made before Start succeeded.
const CodeNotStarted = "NOT_STARTED"

// Runtime serves a built manifest.
type Runtime struct {
	cfg    *config.Config
	loader loader.Loader
	store  *manifest.Store
	logger *slog.Logger

	mu         sync.RWMutex
	manifest   *manifest.Manifest
	portal     *portal.Portal
	dispatcher *dispatch.Dispatcher
	hooks      *hook.Orchestrator
	observers  []func(*manifest.Manifest)

	ready atomic.Bool
}

// NewRuntime creates a runtime over the manifest in cfg's build directory.
func NewRuntime(cfg *config.Config, l loader.Loader, opts ...Option) *Runtime {
	o := newOptions(opts)
	return &Runtime{
		cfg:    cfg,
		loader: l,
		store:  manifest.NewStore(cfg.BuildPath()),
		logger: o.logger.With("phase", "runtime"),
	}
}

// OnManifest registers fn to be called with every manifest the runtime
// serves, at start and after each reload.
func (r *Runtime) OnManifest(fn func(*manifest.Manifest)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Start runs init hooks before anything else is loaded, then loads the
// manifest, runs start hooks and dispatches the _start lifecycle event.
func (r *Runtime) Start(ctx context.Context) error {
	if _, err := r.store.LoadProject(); err != nil {
		return oops.In("app").Hint("run 'robo build' first").Wrap(err)
	}

	lookup, err := manifest.LoadEnv(r.cfg.Root, r.cfg.Mode)
	if err != nil {
		return err
	}
	env := envAccessor(lookup)

	plugins, err := r.store.LoadPlugins()
	if err != nil {
		return err
	}
	initHooks, err := r.store.LoadHooks(manifest.HookInit)
	if err != nil {
		return err
	}
	if err := r.orchestrator(map[manifest.HookType][]manifest.HookEntry{manifest.HookInit: initHooks}, plugins, env).Init(ctx); err != nil {
		return err
	}

	m, err := r.store.Load()
	if err != nil {
		return err
	}
	warnEnv(r.logger, m.Env)

	p := portal.New(r.loader, m,
		portal.WithRoot(r.cfg.Root),
		portal.WithStore(r.store),
		portal.WithLogger(r.logger),
	)
	hooks := r.orchestrator(m.Hooks, m.Plugins, env)
	if err := hooks.Start(ctx); err != nil {
		p.Close()
		return err
	}
	d := dispatch.New(p, dispatch.WithConfig(r.cfg), dispatch.WithLogger(r.logger))

	r.mu.Lock()
	r.manifest, r.portal, r.dispatcher, r.hooks = m, p, d, hooks
	observers := r.observers
	r.mu.Unlock()
	for _, fn := range observers {
		fn(m)
	}

	report := d.Event(ctx, dispatch.EventStart)
	logFailures(r.logger, report)

	r.ready.Store(true)
	r.logger.Info("runtime started",
		"project", m.Project.Name,
		"build_hash", m.Project.BuildHash,
		"plugins", len(m.Plugins),
		"routes", len(p.Routes()))
	return nil
}

// Stop dispatches the _stop lifecycle event, runs stop hooks, waits for
// abandoned handlers and releases every loaded module.
func (r *Runtime) Stop(ctx context.Context) error {
	if !r.ready.CompareAndSwap(true, false) {
		return nil
	}
	r.mu.RLock()
	p, d, hooks := r.portal, r.dispatcher, r.hooks
	r.mu.RUnlock()

	logFailures(r.logger, d.Event(ctx, dispatch.EventStop))

	var errs []error
	if err := hooks.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.Wait(ctx); err != nil {
		errs = append(errs, oops.In("app").Wrapf(err, "wait for abandoned handlers"))
	}
	p.Close()

	r.logger.Info("runtime stopped")
	return errors.Join(errs...)
}

// Ready reports whether the runtime has started and not stopped.
func (r *Runtime) Ready() bool {
	return r.ready.Load()
}

// Portal returns the handler registry. Nil before Start.
func (r *Runtime) Portal() *portal.Portal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.portal
}

// Dispatcher returns the dispatcher. Nil before Start.
func (r *Runtime) Dispatcher() *dispatch.Dispatcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dispatcher
}

// Manifest returns the manifest being served. Nil before Start.
func (r *Runtime) Manifest() *manifest.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manifest
}

// Command dispatches a command through the running dispatcher.
func (r *Runtime) Command(ctx context.Context, key string, ix dispatch.Interaction, args ...any) (dispatch.Result, error) {
	d := r.Dispatcher()
	if d == nil || !r.Ready() {
		return dispatch.Result{}, oops.Code(CodeNotStarted).In("app").Errorf("runtime is not started")
	}
	return d.Command(ctx, key, ix, args...)
}

// Event dispatches an event through the running dispatcher.
func (r *Runtime) Event(ctx context.Context, name string, args ...any) (dispatch.EventReport, error) {
	d := r.Dispatcher()
	if d == nil || !r.Ready() {
		return dispatch.EventReport{}, oops.Code(CodeNotStarted).In("app").Errorf("runtime is not started")
	}
	return d.Event(ctx, name, args...), nil
}

func (r *Runtime) orchestrator(hooks map[manifest.HookType][]manifest.HookEntry, plugins []manifest.PluginInfo, env func(string) string) *hook.Orchestrator {
	return hook.New(r.loader, hooks, plugins,
		hook.WithRoot(r.cfg.Root),
		hook.WithConfig(r.cfg),
		hook.WithEnv(env),
		hook.WithPaths(r.cfg.SourcePath(), r.cfg.BuildPath()),
		hook.WithLogger(r.logger),
	)
}

func logFailures(logger *slog.Logger, report dispatch.EventReport) {
	for _, res := range report.Failed() {
		errutil.LogWarn(logger, "lifecycle handler did not complete", res.Err,
			"event", report.Name,
			"handler", res.ID,
			"status", res.Status)
	}
}
