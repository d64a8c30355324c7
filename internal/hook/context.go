// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package hook

import (
	"log/slog"

	"github.com/Wave-Play/robo.js-sub007/internal/config"
	"github.com/Wave-Play/robo.js-sub007/internal/manifest"
	"github.com/Wave-Play/robo.js-sub007/internal/route"
)

// ProjectNamespace is the metadata namespace of project hooks.
const ProjectNamespace = "project"

// Paths are the directories a hook may need.
type Paths struct {
	Root   string `json:"root"`
	Src    string `json:"src"`
	Build  string `json:"build"`
	Source string `json:"source"`
}

// Context is the argument every hook receives. Script hooks see its JSON
// form; the logger, env accessor and metadata registry are only reachable
// from Go.
type Context struct {
	Type      manifest.HookType `json:"type"`
	Phase     manifest.Phase    `json:"phase,omitempty"`
	Plugin    string            `json:"plugin,omitempty"`
	Namespace string            `json:"namespace"`
	Options   map[string]any    `json:"options,omitempty"`
	Mode      string            `json:"mode,omitempty"`
	Config    *config.Config    `json:"config,omitempty"`
	Paths     Paths             `json:"paths"`

	// Entries is the current entry set during build transform.
	Entries []route.ScannedEntry `json:"entries,omitempty"`
	// Manifest is the assembled manifest during build complete.
	Manifest *manifest.Manifest `json:"manifest,omitempty"`

	Logger   *slog.Logger        `json:"-"`
	Env      func(string) string `json:"-"`
	Metadata *MetadataRegistry   `json:"-"`
}

// Getenv reads an environment variable through the hook's accessor.
func (c *Context) Getenv(name string) string {
	if c.Env == nil {
		return ""
	}
	return c.Env(name)
}
