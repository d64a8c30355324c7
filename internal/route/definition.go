// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

// Package route turns directory trees into handler entries. A Definition
// describes one scanning convention; the Scanner applies it to a build
// directory.
package route

import (
	"path"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// KeyStyle selects how a file path becomes a lookup key.
type KeyStyle string

// Supported key styles.
const (
	// KeyFilename uses the file (or bound directory) name only.
	KeyFilename KeyStyle = "filename"
	// KeyFilepath joins every segment with KeyConfig.Separator.
	KeyFilepath KeyStyle = "filepath"
	// KeyCamelCase folds nested segments into one camelCase word.
	KeyCamelCase KeyStyle = "camelCase"
	// KeyDotNotation joins every segment with ".".
	KeyDotNotation KeyStyle = "dotNotation"
)

// Requirement states whether an export must, may or must not be present.
type Requirement string

// Export requirements. The zero value behaves as RequireOptional.
const (
	RequireRequired  Requirement = "required"
	RequireOptional  Requirement = "optional"
	RequireForbidden Requirement = "forbidden"
)

// Default segment patterns. Each must capture the parameter name.
const (
	DefaultDynamicPattern          = `^\[([^\[\].]+)\]$`
	DefaultCatchAllPattern         = `^\[\.\.\.([^\[\]]+)\]$`
	DefaultOptionalCatchAllPattern = `^\[\[\.\.\.([^\[\]]+)\]\]$`
)

// KeyConfig controls key generation.
type KeyConfig struct {
	Style     KeyStyle `json:"style,omitempty" yaml:"style,omitempty" jsonschema:"enum=filename,enum=filepath,enum=camelCase,enum=dotNotation"`
	Separator string   `json:"separator,omitempty" yaml:"separator,omitempty"`

	// Transform rewrites the generated key. Only settable from Go.
	Transform func(key string, segments []string) string `json:"-" yaml:"-"`
}

// NestingConfig controls directory descent and dynamic segments.
type NestingConfig struct {
	// MaxDepth limits descent below the route directory. Zero is unlimited.
	MaxDepth int `json:"maxDepth,omitempty" yaml:"maxDepth,omitempty"`
	// AllowIndex binds index files to their parent directory's key.
	AllowIndex bool `json:"allowIndex,omitempty" yaml:"allowIndex,omitempty"`

	DynamicPattern          string `json:"dynamicPattern,omitempty" yaml:"dynamicPattern,omitempty"`
	CatchAllPattern         string `json:"catchAllPattern,omitempty" yaml:"catchAllPattern,omitempty"`
	OptionalCatchAllPattern string `json:"optionalCatchAllPattern,omitempty" yaml:"optionalCatchAllPattern,omitempty"`
}

// ExportsConfig declares the exports a handler file may carry.
type ExportsConfig struct {
	Default Requirement `json:"default,omitempty" yaml:"default,omitempty" jsonschema:"enum=required,enum=optional,enum=forbidden"`
	Config  Requirement `json:"config,omitempty" yaml:"config,omitempty" jsonschema:"enum=required,enum=optional,enum=forbidden"`
	// Named lists further exports captured into the entry.
	Named []string `json:"named,omitempty" yaml:"named,omitempty"`
}

// Definition declares one scan target. Definitions are immutable once
// loaded.
type Definition struct {
	Name        string        `json:"name" yaml:"name"`
	Namespace   string        `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Directory   string        `json:"directory,omitempty" yaml:"directory,omitempty"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Key         KeyConfig     `json:"key,omitempty" yaml:"key,omitempty"`
	Nesting     NestingConfig `json:"nesting,omitempty" yaml:"nesting,omitempty"`
	Exports     ExportsConfig `json:"exports,omitempty" yaml:"exports,omitempty"`
	// Multiple allows several handlers to share a key, as event routes need.
	Multiple bool `json:"multiple,omitempty" yaml:"multiple,omitempty"`
	// Filter is a glob matched against the route-relative file path.
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`
	// Extensions overrides the loader's extensions.
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// namePattern validates route and namespace names.
var namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// Type returns the entry type for the route, "namespace:name".
func (d Definition) Type() string {
	return d.Namespace + ":" + d.Name
}

// Dir returns the directory scanned relative to a build directory. It
// defaults to the namespace and route name.
func (d Definition) Dir() string {
	if d.Directory != "" {
		return path.Clean(d.Directory)
	}
	return path.Join(d.Namespace, d.Name)
}

// Validate checks the definition and compiles its patterns.
func (d Definition) Validate() error {
	_, err := d.compile()
	return err
}

// compiled is a Definition with its patterns ready for use.
type compiled struct {
	Definition
	dynamic     *regexp.Regexp
	catchAll    *regexp.Regexp
	optCatchAll *regexp.Regexp
	filter      glob.Glob
}

func (d Definition) compile() (*compiled, error) {
	if !namePattern.MatchString(d.Name) {
		return nil, ErrInvalidRoute(d, "name %q must start with a letter and contain only letters, digits, '-' or '_'", d.Name)
	}
	if !namePattern.MatchString(d.Namespace) {
		return nil, ErrInvalidRoute(d, "namespace %q must start with a letter and contain only letters, digits, '-' or '_'", d.Namespace)
	}
	if strings.HasPrefix(d.Dir(), "..") || path.IsAbs(d.Directory) {
		return nil, ErrInvalidRoute(d, "directory %q must stay inside the build directory", d.Directory)
	}
	switch d.Key.Style {
	case "", KeyFilename, KeyFilepath, KeyCamelCase, KeyDotNotation:
	default:
		return nil, ErrInvalidRoute(d, "unknown key style %q", d.Key.Style)
	}
	for field, req := range map[string]Requirement{"exports.default": d.Exports.Default, "exports.config": d.Exports.Config} {
		switch req {
		case "", RequireRequired, RequireOptional, RequireForbidden:
		default:
			return nil, ErrInvalidRoute(d, "%s: unknown requirement %q", field, req)
		}
	}
	if d.Nesting.MaxDepth < 0 {
		return nil, ErrInvalidRoute(d, "nesting.maxDepth must not be negative")
	}

	c := &compiled{Definition: d}
	var err error
	if c.dynamic, err = compilePattern(d, "dynamic", d.Nesting.DynamicPattern, DefaultDynamicPattern); err != nil {
		return nil, err
	}
	if c.catchAll, err = compilePattern(d, "catchAll", d.Nesting.CatchAllPattern, DefaultCatchAllPattern); err != nil {
		return nil, err
	}
	if c.optCatchAll, err = compilePattern(d, "optionalCatchAll", d.Nesting.OptionalCatchAllPattern, DefaultOptionalCatchAllPattern); err != nil {
		return nil, err
	}
	if d.Filter != "" {
		if c.filter, err = glob.Compile(d.Filter, '/'); err != nil {
			return nil, ErrInvalidRoute(d, "filter %q: %v", d.Filter, err)
		}
	}
	return c, nil
}

func compilePattern(d Definition, name, pattern, fallback string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = fallback
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, ErrInvalidRoute(d, "%s pattern: %v", name, err)
	}
	if re.NumSubexp() < 1 {
		return nil, ErrInvalidRoute(d, "%s pattern %q must capture the parameter name", name, pattern)
	}
	return re, nil
}

// allowsExtension reports whether ext is scanned. exts comes from the
// loader when the definition does not override it.
func (c *compiled) allowsExtension(ext string, exts []string) bool {
	if len(c.Extensions) > 0 {
		exts = c.Extensions
	}
	for _, e := range exts {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
