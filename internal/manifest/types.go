// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

// Package manifest assembles scanned entries, hooks, plugins and project
// metadata into the persisted registry read at process start.
package manifest

import (
	"time"

	"github.com/Wave-Play/robo.js-sub007/internal/route"
)

// Source identifies who owns a handler or hook.
type Source string

// Sources.
const (
	SourceProject Source = "project"
	SourcePlugin  Source = "plugin"
)

// HookType is a hook family.
type HookType string

// Hook types, in lifecycle order.
const (
	HookInit  HookType = "init"
	HookBuild HookType = "build"
	HookStart HookType = "start"
	HookStop  HookType = "stop"
)

// HookTypes lists every hook type.
var HookTypes = []HookType{HookInit, HookBuild, HookStart, HookStop}

// Phase is a build hook phase.
type Phase string

// Build phases.
const (
	PhaseStart     Phase = "start"
	PhaseTransform Phase = "transform"
	PhaseComplete  Phase = "complete"
)

// Manifest is the aggregate registry produced by a build.
type Manifest struct {
	Project ProjectInfo  `json:"project"`
	Env     EnvStatus    `json:"env"`
	Plugins []PluginInfo `json:"plugins"`
	// Routes holds route definitions per namespace.
	Routes map[string][]route.Definition `json:"routes"`
	// Handlers holds entries per namespace, then per route name.
	Handlers map[string]map[string][]HandlerEntry `json:"handlers"`
	Hooks    map[HookType][]HookEntry             `json:"hooks"`
	// Metadata is the merged output of build complete aggregators, per
	// namespace.
	Metadata map[string]map[string]any `json:"metadata,omitempty"`
}

// ProjectInfo describes the build.
type ProjectInfo struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	BuildTime time.Time `json:"buildTime"`
	BuildHash string    `json:"buildHash"`
	Mode      string    `json:"mode"`
}

// PluginInfo is one plugin registry entry.
type PluginInfo struct {
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Path      string         `json:"path"`
	Namespace string         `json:"namespace"`
	Routes    []string       `json:"routes,omitempty"`
	Hooks     []HookType     `json:"hooks,omitempty"`
	FailSafe  bool           `json:"failSafe,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// HandlerEntry is the persisted form of a scanned entry.
type HandlerEntry struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Namespace string `json:"namespace"`
	Route     string `json:"route"`
	Source    Source `json:"source"`
	Plugin    string `json:"plugin,omitempty"`
	Module    string `json:"module,omitempty"`

	RelativePath    string                 `json:"relativePath"`
	FilePath        string                 `json:"filePath"`
	Exports         []string               `json:"exports,omitempty"`
	Metadata        map[string]any         `json:"metadata,omitempty"`
	DynamicSegments *route.DynamicSegments `json:"dynamicSegments,omitempty"`
	// Digest fingerprints the handler file; it changes whenever the file does.
	Digest string `json:"digest,omitempty"`
}

// HookEntry is one discovered hook file.
type HookEntry struct {
	Type     HookType `json:"type"`
	Phase    Phase    `json:"phase,omitempty"`
	Priority int      `json:"priority"`
	Source   Source   `json:"source"`
	Plugin   string   `json:"plugin,omitempty"`
	// Path is the hook file, relative to the project root when possible.
	Path string `json:"path"`
}

// Entries returns every handler entry of a route, or nil.
func (m *Manifest) Entries(namespace, routeName string) []HandlerEntry {
	if m == nil || m.Handlers == nil {
		return nil
	}
	return m.Handlers[namespace][routeName]
}

// Definition returns the definition of a route.
func (m *Manifest) Definition(namespace, routeName string) (route.Definition, bool) {
	if m == nil {
		return route.Definition{}, false
	}
	for _, def := range m.Routes[namespace] {
		if def.Name == routeName {
			return def, true
		}
	}
	return route.Definition{}, false
}

// Plugin returns the registry entry of a plugin.
func (m *Manifest) Plugin(name string) (PluginInfo, bool) {
	if m == nil {
		return PluginInfo{}, false
	}
	for _, p := range m.Plugins {
		if p.Name == name {
			return p, true
		}
	}
	return PluginInfo{}, false
}

// HooksOf returns hook entries of one type and, for build hooks, one phase.
// An empty phase matches every entry.
func (m *Manifest) HooksOf(t HookType, phase Phase) []HookEntry {
	if m == nil {
		return nil
	}
	var out []HookEntry
	for _, h := range m.Hooks[t] {
		if phase == "" || h.Phase == phase {
			out = append(out, h)
		}
	}
	return out
}
