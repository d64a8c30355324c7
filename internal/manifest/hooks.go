// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package manifest

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/samber/oops"
)

// HookDir is the directory, relative to a source directory, holding hooks.
const HookDir = "robo"

// hookFile is a well-known hook location without its extension.
type hookFile struct {
	typ   HookType
	phase Phase
	name  string
}

var hookFiles = []hookFile{
	{HookInit, "", path.Join(HookDir, "init")},
	{HookBuild, PhaseStart, path.Join(HookDir, "build", "start")},
	{HookBuild, PhaseTransform, path.Join(HookDir, "build", "transform")},
	{HookBuild, PhaseComplete, path.Join(HookDir, "build", "complete")},
	{HookStart, "", path.Join(HookDir, "start")},
	{HookStop, "", path.Join(HookDir, "stop")},
}

// HookSource is one directory searched for hooks.
type HookSource struct {
	Source   Source
	Plugin   string
	Dir      string
	Priority int
}

// ProjectHooks is the hook source of the project. It always runs first.
func ProjectHooks(dir string) HookSource {
	return HookSource{Source: SourceProject, Dir: dir}
}

// PluginHooks is the hook source of the plugin at registration index i.
func PluginHooks(i int, name, dir string) HookSource {
	return HookSource{Source: SourcePlugin, Plugin: name, Dir: dir, Priority: i + 1}
}

// DiscoverHooks looks for every well-known hook file in every source. A
// missing file means the source has no hook of that type. When several
// extensions match, the first in exts wins. Paths are made relative to root
// when possible.
func DiscoverHooks(root string, sources []HookSource, exts []string) (map[HookType][]HookEntry, error) {
	hooks := make(map[HookType][]HookEntry)
	for _, src := range sources {
		for _, hf := range hookFiles {
			found, err := findHook(filepath.Join(src.Dir, filepath.FromSlash(hf.name)), exts)
			if err != nil {
				return nil, oops.Code(CodeInvalidManifest).In("manifest").
					With("source", src.Dir).
					With("hook", hf.name).
					Wrap(err)
			}
			if found == "" {
				continue
			}
			if rel, err := filepath.Rel(root, found); err == nil {
				found = filepath.ToSlash(rel)
			}
			hooks[hf.typ] = append(hooks[hf.typ], HookEntry{
				Type:     hf.typ,
				Phase:    hf.phase,
				Priority: src.Priority,
				Source:   src.Source,
				Plugin:   src.Plugin,
				Path:     found,
			})
		}
	}
	return hooks, nil
}

func findHook(base string, exts []string) (string, error) {
	for _, ext := range exts {
		candidate := base + ext
		info, err := os.Stat(candidate)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", err
		}
		if !info.IsDir() {
			return candidate, nil
		}
	}
	return "", nil
}

// HookTypesOf lists the hook types present for one plugin, in lifecycle
// order.
func HookTypesOf(hooks map[HookType][]HookEntry, pluginName string) []HookType {
	var types []HookType
	for _, t := range HookTypes {
		for _, h := range hooks[t] {
			if h.Plugin == pluginName {
				types = append(types, t)
				break
			}
		}
	}
	return types
}
