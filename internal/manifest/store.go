// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package manifest

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"

	"github.com/Wave-Play/robo.js-sub007/internal/route"
)

// StoreDir is the manifest directory inside a build directory.
const StoreDir = "manifest"

// Persisted file layout.
const (
	projectFile  = "project.json"
	envFile      = "env.json"
	pluginsFile  = "plugins.json"
	metadataFile = "metadata.json"
	routesDir    = "routes"
	handlersDir  = "handlers"
	hooksDir     = "hooks"
)

// Store persists a manifest as independently loadable files.
type Store struct {
	dir string
}

// NewStore creates a store under buildDir/manifest.
func NewStore(buildDir string) *Store {
	return &Store{dir: filepath.Join(buildDir, StoreDir)}
}

// Dir returns the manifest directory.
func (s *Store) Dir() string {
	return s.dir
}

// Exists reports whether a manifest has been saved.
func (s *Store) Exists() bool {
	_, err := os.Stat(filepath.Join(s.dir, projectFile))
	return err == nil
}

// Save writes m to a temporary directory and swaps it into place, so a
// failed save leaves the previous manifest intact.
func (s *Store) Save(m *Manifest) error {
	parent := filepath.Dir(s.dir)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return oops.Code(CodeStoreFailed).In("manifest").With("dir", parent).Wrap(err)
	}
	tmp, err := os.MkdirTemp(parent, ".manifest-*")
	if err != nil {
		return oops.Code(CodeStoreFailed).In("manifest").With("dir", parent).Wrap(err)
	}
	defer os.RemoveAll(tmp) //nolint:errcheck // best-effort cleanup of the staging directory

	if err := writeManifest(tmp, m); err != nil {
		return err
	}

	var old string
	if _, err := os.Stat(s.dir); err == nil {
		old = tmp + ".old"
		if err := os.Rename(s.dir, old); err != nil {
			return oops.Code(CodeStoreFailed).In("manifest").With("dir", s.dir).Wrap(err)
		}
	}
	if err := os.Rename(tmp, s.dir); err != nil {
		if old != "" {
			_ = os.Rename(old, s.dir)
		}
		return oops.Code(CodeStoreFailed).In("manifest").With("dir", s.dir).Wrap(err)
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}
	return nil
}

func writeManifest(dir string, m *Manifest) error {
	if err := writeJSON(filepath.Join(dir, projectFile), m.Project); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, envFile), m.Env); err != nil {
		return err
	}
	plugins := m.Plugins
	if plugins == nil {
		plugins = []PluginInfo{}
	}
	if err := writeJSON(filepath.Join(dir, pluginsFile), plugins); err != nil {
		return err
	}
	metadata := m.Metadata
	if metadata == nil {
		metadata = map[string]map[string]any{}
	}
	if err := writeJSON(filepath.Join(dir, metadataFile), metadata); err != nil {
		return err
	}
	for ns, defs := range m.Routes {
		if err := writeJSON(filepath.Join(dir, routesDir, ns+".json"), defs); err != nil {
			return err
		}
	}
	for ns, routes := range m.Handlers {
		for name, entries := range routes {
			if entries == nil {
				entries = []HandlerEntry{}
			}
			if err := writeJSON(filepath.Join(dir, handlersDir, ns, name+".json"), entries); err != nil {
				return err
			}
		}
	}
	for _, t := range HookTypes {
		hooks := m.Hooks[t]
		if hooks == nil {
			hooks = []HookEntry{}
		}
		if err := writeJSON(filepath.Join(dir, hooksDir, string(t)+".json"), hooks); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return oops.Code(CodeStoreFailed).In("manifest").With("path", path).Wrapf(err, "encode")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return oops.Code(CodeStoreFailed).In("manifest").With("path", path).Wrap(err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return oops.Code(CodeStoreFailed).In("manifest").With("path", path).Wrap(err)
	}
	return nil
}

func (s *Store) readJSON(rel string, v any) error {
	path := filepath.Join(s.dir, filepath.FromSlash(rel))
	data, err := os.ReadFile(path) //nolint:gosec // path is built from the manifest directory
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return oops.Code(CodeManifestNotFound).In("manifest").
				With("path", path).
				Hint("run robo build first").
				Errorf("manifest file %s not found", rel)
		}
		return oops.Code(CodeStoreFailed).In("manifest").With("path", path).Wrap(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return oops.Code(CodeInvalidManifest).In("manifest").With("path", path).Wrapf(err, "decode")
	}
	return nil
}

// LoadProject loads project metadata.
func (s *Store) LoadProject() (ProjectInfo, error) {
	var p ProjectInfo
	err := s.readJSON(projectFile, &p)
	return p, err
}

// LoadEnv loads the environment status.
func (s *Store) LoadEnv() (EnvStatus, error) {
	var e EnvStatus
	err := s.readJSON(envFile, &e)
	return e, err
}

// LoadPlugins loads the plugin registry.
func (s *Store) LoadPlugins() ([]PluginInfo, error) {
	var p []PluginInfo
	err := s.readJSON(pluginsFile, &p)
	return p, err
}

// LoadMetadata loads the aggregated build metadata.
func (s *Store) LoadMetadata() (map[string]map[string]any, error) {
	var m map[string]map[string]any
	err := s.readJSON(metadataFile, &m)
	return m, err
}

// LoadRoutes loads the route definitions of one namespace.
func (s *Store) LoadRoutes(namespace string) ([]route.Definition, error) {
	var defs []route.Definition
	err := s.readJSON(routesDir+"/"+namespace+".json", &defs)
	return defs, err
}

// LoadHandlers loads the entries of one route.
func (s *Store) LoadHandlers(namespace, routeName string) ([]HandlerEntry, error) {
	var entries []HandlerEntry
	err := s.readJSON(handlersDir+"/"+namespace+"/"+routeName+".json", &entries)
	return entries, err
}

// LoadHooks loads the hook entries of one type.
func (s *Store) LoadHooks(t HookType) ([]HookEntry, error) {
	var hooks []HookEntry
	err := s.readJSON(hooksDir+"/"+string(t)+".json", &hooks)
	return hooks, err
}

// Namespaces lists the namespaces with persisted routes.
func (s *Store) Namespaces() ([]string, error) {
	return s.list(routesDir)
}

// RouteNames lists the persisted routes of a namespace.
func (s *Store) RouteNames(namespace string) ([]string, error) {
	return s.list(handlersDir + "/" + namespace)
}

func (s *Store) list(rel string) ([]string, error) {
	dir := filepath.Join(s.dir, filepath.FromSlash(rel))
	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.Code(CodeStoreFailed).In("manifest").With("dir", dir).Wrap(err)
	}
	var names []string
	for _, item := range items {
		if !item.IsDir() && strings.HasSuffix(item.Name(), ".json") {
			names = append(names, strings.TrimSuffix(item.Name(), ".json"))
		}
	}
	return names, nil
}

// Load reads the whole manifest.
func (s *Store) Load() (*Manifest, error) {
	m := &Manifest{
		Routes:   make(map[string][]route.Definition),
		Handlers: make(map[string]map[string][]HandlerEntry),
		Hooks:    make(map[HookType][]HookEntry, len(HookTypes)),
	}
	var err error
	if m.Project, err = s.LoadProject(); err != nil {
		return nil, err
	}
	if m.Env, err = s.LoadEnv(); err != nil {
		return nil, err
	}
	if m.Plugins, err = s.LoadPlugins(); err != nil {
		return nil, err
	}
	if m.Metadata, err = s.LoadMetadata(); err != nil {
		return nil, err
	}

	namespaces, err := s.Namespaces()
	if err != nil {
		return nil, err
	}
	for _, ns := range namespaces {
		defs, err := s.LoadRoutes(ns)
		if err != nil {
			return nil, err
		}
		m.Routes[ns] = defs
		m.Handlers[ns] = make(map[string][]HandlerEntry, len(defs))
		for _, def := range defs {
			entries, err := s.LoadHandlers(ns, def.Name)
			if err != nil {
				return nil, err
			}
			m.Handlers[ns][def.Name] = entries
		}
	}

	for _, t := range HookTypes {
		if m.Hooks[t], err = s.LoadHooks(t); err != nil {
			return nil, err
		}
	}
	return m, nil
}
