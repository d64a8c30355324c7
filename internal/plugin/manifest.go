// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

// Package plugin resolves plugin registrations into plugin directories and
// their plugin.yaml manifests.
package plugin

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Wave-Play/robo.js-sub007/internal/route"
)

// ManifestFile is the file name of a plugin manifest.
const ManifestFile = "plugin.yaml"

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name        string `json:"name" yaml:"name" jsonschema:"maxLength=64,pattern=^(@[a-z0-9-]+/)?[a-z]([a-z0-9-]*[a-z0-9])?$"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Namespace owns the plugin's routes. Defaults to the unscoped name.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	// Requires is a semver constraint on the host version.
	Requires string `json:"requires,omitempty" yaml:"requires,omitempty"`
	// Source is the directory holding handler and hook files, relative to
	// the plugin directory. Defaults to the plugin directory itself.
	Source string             `json:"source,omitempty" yaml:"source,omitempty"`
	Routes []route.Definition `json:"routes,omitempty" yaml:"routes,omitempty"`
	// Env maps environment variable names to validation patterns.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: an optional @scope/ prefix, then a
// lowercase letter followed by lowercase letters, digits or hyphens, not
// ending with a hyphen.
var namePattern = regexp.MustCompile(`^(@[a-z0-9-]+/)?[a-z]([a-z0-9-]*[a-z0-9])?$`)

// unscopedPattern extracts the name without its scope.
var unscopedPattern = regexp.MustCompile(`^(?:@[a-z0-9-]+/)?(.+)$`)

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// applyDefaults fills the namespace and each route's namespace.
func (m *Manifest) applyDefaults() {
	if m.Namespace == "" {
		m.Namespace = UnscopedName(m.Name)
	}
	for i := range m.Routes {
		if m.Routes[i].Namespace == "" {
			m.Routes[i].Namespace = m.Namespace
		}
	}
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not a semantic version: %w", m.Version, err)
	}
	if m.Requires != "" {
		if _, err := semver.NewConstraint(m.Requires); err != nil {
			return fmt.Errorf("requires %q is not a valid constraint: %w", m.Requires, err)
		}
	}

	seen := make(map[string]bool)
	for _, def := range m.Routes {
		if err := def.Validate(); err != nil {
			return err
		}
		if seen[def.Type()] {
			return fmt.Errorf("route %s declared twice", def.Type())
		}
		seen[def.Type()] = true
	}

	for name, pattern := range m.Env {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("env %s: invalid pattern: %w", name, err)
		}
	}

	return nil
}

// Compatible reports whether the plugin accepts the given host version.
// Plugins without a requires constraint accept every host.
func (m *Manifest) Compatible(hostVersion string) (bool, error) {
	if m.Requires == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return false, fmt.Errorf("requires %q: %w", m.Requires, err)
	}
	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return false, fmt.Errorf("host version %q: %w", hostVersion, err)
	}
	return c.Check(v), nil
}

// UnscopedName strips an @scope/ prefix from a plugin name.
func UnscopedName(name string) string {
	if m := unscopedPattern.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return name
}
