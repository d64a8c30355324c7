// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package plugin

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
)

// Error codes for plugin resolution.
const (
	CodePluginNotFound      = "PLUGIN_NOT_FOUND"
	CodeInvalidManifest     = "INVALID_MANIFEST"
	CodeIncompatibleHost    = "INCOMPATIBLE_HOST"
	CodeInvalidRegistration = "INVALID_REGISTRATION"
)

// OptionPath is the registration option overriding a plugin's directory.
const OptionPath = "path"

// Plugin is a resolved registration.
type Plugin struct {
	Registration
	Manifest *Manifest
	// Dir is the plugin's root directory.
	Dir string
	// SourceDir holds the plugin's route directories and hooks.
	SourceDir string
}

// Namespace returns the namespace owning the plugin's routes.
func (p *Plugin) Namespace() string {
	return p.Manifest.Namespace
}

// Manager resolves plugin registrations against a plugins directory.
type Manager struct {
	pluginsDir  string
	hostVersion string
	logger      *slog.Logger
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithHostVersion enables requires-constraint checks against the host
// version.
func WithHostVersion(v string) ManagerOption {
	return func(m *Manager) {
		m.hostVersion = v
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a plugin manager.
func NewManager(pluginsDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		pluginsDir: pluginsDir,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the directory a plugin name resolves to. Scoped names map to
// nested directories.
func (m *Manager) Dir(name string) string {
	return filepath.Join(m.pluginsDir, filepath.FromSlash(name))
}

// Resolve loads the manifest of every registration, in registration order.
// A missing or invalid plugin fails the whole resolution.
func (m *Manager) Resolve(ctx context.Context, regs []Registration) ([]*Plugin, error) {
	plugins := make([]*Plugin, 0, len(regs))
	namespaces := make(map[string]string)
	for _, reg := range regs {
		if err := ctx.Err(); err != nil {
			return nil, oops.In("plugin").Wrap(err)
		}
		dir := m.Dir(reg.Name)
		if custom, ok := reg.Options[OptionPath].(string); ok && custom != "" {
			dir = custom
		}
		p, err := m.load(reg.Name, dir)
		if err != nil {
			return nil, err
		}
		p.Registration = reg
		if owner, taken := namespaces[p.Namespace()]; taken {
			return nil, oops.Code(CodeInvalidManifest).In("plugin").
				With("plugin", reg.Name).
				With("namespace", p.Namespace()).
				Errorf("namespace %q already owned by plugin %q", p.Namespace(), owner)
		}
		namespaces[p.Namespace()] = reg.Name
		plugins = append(plugins, p)

		m.logger.Debug("resolved plugin",
			"plugin", reg.Name,
			"version", p.Manifest.Version,
			"namespace", p.Namespace(),
			"fail_safe", reg.Meta.FailSafe)
	}
	return plugins, nil
}

// Discover finds all valid plugins in the plugins directory, including
// one level of @scope directories. Invalid plugins are logged and skipped.
func (m *Manager) Discover(_ context.Context) ([]*Plugin, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.In("plugin").With("dir", m.pluginsDir).Wrapf(err, "read plugins directory")
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if !strings.HasPrefix(entry.Name(), "@") {
			names = append(names, entry.Name())
			continue
		}
		scoped, err := os.ReadDir(filepath.Join(m.pluginsDir, entry.Name()))
		if err != nil {
			m.logger.Warn("skipping unreadable plugin scope", "scope", entry.Name(), "error", err)
			continue
		}
		for _, s := range scoped {
			if s.IsDir() {
				names = append(names, entry.Name()+"/"+s.Name())
			}
		}
	}

	var plugins []*Plugin
	for _, name := range names {
		p, err := m.load(name, m.Dir(name))
		if err != nil {
			m.logger.Warn("skipping plugin",
				"dir", name,
				"error", err)
			continue
		}
		p.Registration = Registration{Name: p.Manifest.Name}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

func (m *Manager) load(name, dir string) (*Plugin, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath) //nolint:gosec // path is built from the plugins directory
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code(CodePluginNotFound).In("plugin").
				With("plugin", name).
				With("path", manifestPath).
				Hint("install the plugin or remove it from the plugins list").
				Errorf("plugin %q not found", name)
		}
		return nil, oops.Code(CodePluginNotFound).In("plugin").With("plugin", name).Wrap(err)
	}

	if err := ValidateSchema(data); err != nil {
		return nil, oops.In("plugin").With("plugin", name).With("path", manifestPath).Wrap(err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, oops.Code(CodeInvalidManifest).In("plugin").With("plugin", name).Wrap(err)
	}
	if manifest.Name != name {
		return nil, oops.Code(CodeInvalidManifest).In("plugin").
			With("plugin", name).
			Errorf("manifest name %q does not match directory %q", manifest.Name, name)
	}

	if m.hostVersion != "" {
		ok, err := manifest.Compatible(m.hostVersion)
		if err != nil {
			return nil, oops.Code(CodeIncompatibleHost).In("plugin").With("plugin", name).Wrap(err)
		}
		if !ok {
			return nil, oops.Code(CodeIncompatibleHost).In("plugin").
				With("plugin", name).
				With("requires", manifest.Requires).
				With("host", m.hostVersion).
				Errorf("plugin %q requires host %s", name, manifest.Requires)
		}
	}

	source := dir
	if manifest.Source != "" {
		source = filepath.Join(dir, filepath.FromSlash(manifest.Source))
	}

	return &Plugin{
		Manifest:  manifest,
		Dir:       dir,
		SourceDir: source,
	}, nil
}
