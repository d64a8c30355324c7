// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package app

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/samber/oops"

	"github.com/Wave-Play/robo.js-sub007/internal/config"
	"github.com/Wave-Play/robo.js-sub007/internal/hook"
	"github.com/Wave-Play/robo.js-sub007/internal/loader"
	"github.com/Wave-Play/robo.js-sub007/internal/manifest"
	"github.com/Wave-Play/robo.js-sub007/internal/plugin"
	"github.com/Wave-Play/robo.js-sub007/internal/route"
)

// BuildResult is the outcome of a successful build.
type BuildResult struct {
	Manifest *manifest.Manifest
	// Previous is the manifest the build replaced, if any.
	Previous *manifest.Manifest
	Duration time.Duration
}

// Diff returns a unified diff between the previous and the new manifest.
func (r *BuildResult) Diff() (string, error) {
	return manifest.Diff(r.Previous, r.Manifest)
}

// Build resolves plugins, runs build hooks around route scanning, assembles
// the manifest and persists it. Any fatal failure aborts before the
// manifest is written.
func Build(ctx context.Context, cfg *config.Config, l loader.Loader, opts ...Option) (*BuildResult, error) {
	o := newOptions(opts)
	logger := o.logger.With("phase", "build")
	started := time.Now()

	regs, err := cfg.Registrations()
	if err != nil {
		return nil, err
	}
	plugins, err := plugin.NewManager(cfg.PluginsPath(),
		plugin.WithHostVersion(o.hostVersion),
		plugin.WithLogger(logger),
	).Resolve(ctx, regs)
	if err != nil {
		return nil, err
	}

	sources := []manifest.HookSource{manifest.ProjectHooks(cfg.SourcePath())}
	for i, p := range plugins {
		sources = append(sources, manifest.PluginHooks(i, p.Name, p.SourceDir))
	}
	hooks, err := manifest.DiscoverHooks(cfg.Root, sources, l.Extensions())
	if err != nil {
		return nil, err
	}

	infos := pluginInfos(cfg, plugins, hooks)

	lookup, err := manifest.LoadEnv(cfg.Root, cfg.Mode)
	if err != nil {
		return nil, err
	}

	orch := hook.New(l, hooks, infos,
		hook.WithRoot(cfg.Root),
		hook.WithConfig(cfg),
		hook.WithEnv(envAccessor(lookup)),
		hook.WithPaths(cfg.SourcePath(), cfg.BuildPath()),
		hook.WithLogger(logger),
	)

	if err := orch.BuildStart(ctx); err != nil {
		return nil, err
	}

	defs := definitions(cfg, plugins)
	entries, err := scan(ctx, cfg, l, logger, defs, plugins)
	if err != nil {
		return nil, err
	}
	logger.Info("scanned routes", "routes", len(defs), "entries", len(entries))

	entries, err = orch.BuildTransform(ctx, entries)
	if err != nil {
		return nil, err
	}

	env, err := manifest.NewEnvChecker(lookup).Check(envPatterns(cfg, plugins))
	if err != nil {
		return nil, err
	}
	warnEnv(logger, env)

	m, err := manifest.NewBuilder(manifest.WithLogger(logger)).Assemble(manifest.Input{
		Project: manifest.ProjectInfo{
			Name:    cfg.Name,
			Version: cfg.Version,
			Mode:    cfg.Mode,
		},
		Env:         env,
		Plugins:     infos,
		Definitions: defs,
		Entries:     entries,
		Hooks:       hooks,
	})
	if err != nil {
		return nil, err
	}

	metadata, err := orch.BuildComplete(ctx, m)
	if err != nil {
		return nil, err
	}
	m.Metadata = metadata

	store := manifest.NewStore(cfg.BuildPath())
	var previous *manifest.Manifest
	if store.Exists() {
		if previous, err = store.Load(); err != nil {
			logger.Warn("previous manifest unreadable, replacing it", "error", err)
			previous = nil
		}
	}
	if err := store.Save(m); err != nil {
		return nil, err
	}

	res := &BuildResult{Manifest: m, Previous: previous, Duration: time.Since(started)}
	logger.Info("build complete",
		"build_hash", m.Project.BuildHash,
		"plugins", len(m.Plugins),
		"duration", res.Duration)
	return res, nil
}

// definitions lists project routes followed by each plugin's routes.
func definitions(cfg *config.Config, plugins []*plugin.Plugin) []route.Definition {
	defs := append([]route.Definition{}, cfg.Routes...)
	for _, p := range plugins {
		defs = append(defs, p.Manifest.Routes...)
	}
	return defs
}

// scan applies every route definition to the project source directory, its
// modules overlay and every plugin source directory.
func scan(ctx context.Context, cfg *config.Config, l loader.Loader, logger *slog.Logger, defs []route.Definition, plugins []*plugin.Plugin) ([]route.ScannedEntry, error) {
	scanner := route.NewScanner(l, route.WithProjectRoot(cfg.Root), route.WithLogger(logger))

	var entries []route.ScannedEntry
	for _, def := range defs {
		found, err := scanner.Scan(ctx, def, cfg.SourcePath())
		if err != nil {
			return nil, err
		}
		entries = append(entries, found...)

		modules, err := scanner.ScanModules(ctx, def, cfg.SourcePath())
		if err != nil {
			return nil, err
		}
		entries = append(entries, modules...)

		for _, p := range plugins {
			found, err := scanner.Scan(ctx, def, p.SourceDir)
			if err != nil {
				return nil, oops.In("app").With("plugin", p.Name).Wrap(err)
			}
			for i := range found {
				found[i].Plugin = p.Name
			}
			entries = append(entries, found...)
		}
		logger.Debug("scanned route", "route", def.Type())
	}
	return entries, nil
}

func pluginInfos(cfg *config.Config, plugins []*plugin.Plugin, hooks map[manifest.HookType][]manifest.HookEntry) []manifest.PluginInfo {
	infos := make([]manifest.PluginInfo, 0, len(plugins))
	for _, p := range plugins {
		routes := make([]string, 0, len(p.Manifest.Routes))
		for _, def := range p.Manifest.Routes {
			routes = append(routes, def.Type())
		}
		infos = append(infos, manifest.PluginInfo{
			Name:      p.Name,
			Version:   p.Manifest.Version,
			Path:      relative(cfg, p.Dir),
			Namespace: p.Namespace(),
			Routes:    routes,
			Hooks:     manifest.HookTypesOf(hooks, p.Name),
			FailSafe:  p.Meta.FailSafe,
			Options:   maps.Clone(p.Options),
		})
	}
	return infos
}

// envPatterns orders built-ins first so project and plugin declarations
// override them.
func envPatterns(cfg *config.Config, plugins []*plugin.Plugin) []manifest.EnvPattern {
	patterns := manifest.Patterns("robo", manifest.BuiltinEnv)
	patterns = append(patterns, manifest.Patterns("project", cfg.Env)...)
	for _, p := range plugins {
		patterns = append(patterns, manifest.Patterns(p.Name, p.Manifest.Env)...)
	}
	return patterns
}
