// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/Wave-Play/robo.js-sub007/internal/route"
)

// Input is everything a build collected before assembly.
type Input struct {
	Project     ProjectInfo
	Env         EnvStatus
	Plugins     []PluginInfo
	Definitions []route.Definition
	// Entries are scanned entries of every source, in scan order. Plugin
	// entries carry their plugin name.
	Entries  []route.ScannedEntry
	Hooks    map[HookType][]HookEntry
	Metadata map[string]map[string]any
}

// Builder assembles manifests.
type Builder struct {
	now    func() time.Time
	logger *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithClock sets the clock used for the build time.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// WithLogger sets the builder's logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder creates a manifest builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Assemble groups entries by route and assigns ids. Project entries use the
// bare key, plugin entries "plugin:key". When several entries share a key on
// a multiple route each id gets an ":index" suffix in scan order; on any
// other route a shared key is an AMBIGUOUS_KEY error.
func (b *Builder) Assemble(in Input) (*Manifest, error) {
	m := &Manifest{
		Project:  in.Project,
		Env:      in.Env,
		Plugins:  slices.Clone(in.Plugins),
		Routes:   make(map[string][]route.Definition),
		Handlers: make(map[string]map[string][]HandlerEntry),
		Hooks:    make(map[HookType][]HookEntry, len(HookTypes)),
		Metadata: in.Metadata,
	}
	if m.Plugins == nil {
		m.Plugins = []PluginInfo{}
	}

	defs := make(map[string]route.Definition, len(in.Definitions))
	for _, def := range in.Definitions {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := defs[def.Type()]; dup {
			return nil, oops.Code(CodeInvalidManifest).In("manifest").
				With("route", def.Type()).
				Errorf("route %s declared more than once", def.Type())
		}
		defs[def.Type()] = def
		m.Routes[def.Namespace] = append(m.Routes[def.Namespace], def)
		if m.Handlers[def.Namespace] == nil {
			m.Handlers[def.Namespace] = make(map[string][]HandlerEntry)
		}
		m.Handlers[def.Namespace][def.Name] = []HandlerEntry{}
	}

	grouped := make(map[string][]route.ScannedEntry)
	var order []string
	for _, e := range in.Entries {
		if _, ok := defs[e.Type]; !ok {
			return nil, ErrUnknownRoute(e.Type, e.FilePath)
		}
		if _, seen := grouped[e.Type]; !seen {
			order = append(order, e.Type)
		}
		grouped[e.Type] = append(grouped[e.Type], e)
	}

	for _, typ := range order {
		def := defs[typ]
		handlers, err := assignIDs(def, grouped[typ])
		if err != nil {
			return nil, err
		}
		m.Handlers[def.Namespace][def.Name] = handlers
	}

	for _, t := range HookTypes {
		hooks := slices.Clone(in.Hooks[t])
		slices.SortStableFunc(hooks, func(a, b HookEntry) int { return a.Priority - b.Priority })
		if hooks == nil {
			hooks = []HookEntry{}
		}
		m.Hooks[t] = hooks
	}

	if m.Project.BuildTime.IsZero() {
		m.Project.BuildTime = b.now().UTC()
	}
	hash, err := buildHash(m)
	if err != nil {
		return nil, err
	}
	m.Project.BuildHash = hash

	b.logger.Debug("assembled manifest",
		"routes", len(defs),
		"entries", len(in.Entries),
		"plugins", len(m.Plugins),
		"build_hash", hash)
	return m, nil
}

func assignIDs(def route.Definition, entries []route.ScannedEntry) ([]HandlerEntry, error) {
	files := make(map[string][]string)
	for _, e := range entries {
		files[e.Key] = append(files[e.Key], e.FilePath)
	}
	if !def.Multiple {
		for _, e := range entries {
			if f := files[e.Key]; len(f) > 1 {
				return nil, ErrAmbiguousKey(def.Type(), e.Key, f...)
			}
		}
	}

	occurrence := make(map[string]int)
	ids := make(map[string]string)
	out := make([]HandlerEntry, 0, len(entries))
	for _, e := range entries {
		id := e.Key
		source := SourceProject
		if e.Plugin != "" {
			id = e.Plugin + ":" + e.Key
			source = SourcePlugin
		}
		if len(files[e.Key]) > 1 {
			id += ":" + strconv.Itoa(occurrence[e.Key])
			occurrence[e.Key]++
		}
		if other, taken := ids[id]; taken {
			return nil, ErrAmbiguousKey(def.Type(), id, other, e.FilePath)
		}
		ids[id] = e.FilePath

		out = append(out, HandlerEntry{
			ID:              id,
			Key:             e.Key,
			Type:            e.Type,
			Namespace:       def.Namespace,
			Route:           def.Name,
			Source:          source,
			Plugin:          e.Plugin,
			Module:          e.Module,
			RelativePath:    e.RelativePath,
			FilePath:        e.FilePath,
			Exports:         slices.Clone(e.Exports),
			Metadata:        maps.Clone(e.Config),
			DynamicSegments: e.DynamicSegments,
			Digest:          e.Digest,
		})
	}
	return out, nil
}

// buildHash fingerprints everything a build discovered. Time and env status
// are excluded so unchanged sources hash the same.
func buildHash(m *Manifest) (string, error) {
	data, err := json.Marshal(struct {
		Plugins  []PluginInfo                         `json:"plugins"`
		Routes   map[string][]route.Definition        `json:"routes"`
		Handlers map[string]map[string][]HandlerEntry `json:"handlers"`
		Hooks    map[HookType][]HookEntry             `json:"hooks"`
	}{m.Plugins, m.Routes, m.Handlers, m.Hooks})
	if err != nil {
		return "", oops.Code(CodeInvalidManifest).In("manifest").Wrapf(err, "hash manifest")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}
