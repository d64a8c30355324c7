// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

// Package loader defines the capability the host uses to import handler and
// hook files. Route scanning, the portal and the hook orchestrator only see
// Module values, never the runtime that produced them.
package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/oops"
)

// Error codes for module loading.
const (
	CodeImportFailed     = "IMPORT_FAILED"
	CodeNoDefault        = "NO_DEFAULT_EXPORT"
	CodeHandlerPanic     = "HANDLER_PANIC"
	CodeUnsupportedFile  = "UNSUPPORTED_FILE"
	CodeModuleNotDefined = "MODULE_NOT_DEFINED"
)

// Export names with a meaning to the host.
const (
	ExportDefault = "default"
	ExportConfig  = "config"
)

// Func is a callable export.
type Func func(ctx context.Context, args ...any) (any, error)

// Module is the imported form of one file: an optional default function, an
// optional config table and any number of named exports.
type Module struct {
	Path    string
	Default Func
	Config  map[string]any
	Named   map[string]any

	closer func()
}

// Loader imports files into Modules.
type Loader interface {
	// Load imports the file at path. Each call performs a fresh import.
	Load(ctx context.Context, path string) (*Module, error)

	// Extensions lists the file extensions this loader accepts, with the dot.
	Extensions() []string
}

// Exports returns the sorted names of every export present on the module.
func (m *Module) Exports() []string {
	names := make([]string, 0, len(m.Named)+2)
	if m.Default != nil {
		names = append(names, ExportDefault)
	}
	if m.Config != nil {
		names = append(names, ExportConfig)
	}
	for name := range m.Named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the module carries the named export.
func (m *Module) Has(name string) bool {
	switch name {
	case ExportDefault:
		return m.Default != nil
	case ExportConfig:
		return m.Config != nil
	}
	_, ok := m.Named[name]
	return ok
}

// Func returns a named export as a callable, if it is one.
func (m *Module) Func(name string) (Func, bool) {
	if name == ExportDefault {
		return m.Default, m.Default != nil
	}
	fn, ok := m.Named[name].(Func)
	return fn, ok
}

// Call invokes the default export. A panic inside the handler is returned as
// an error.
func (m *Module) Call(ctx context.Context, args ...any) (result any, err error) {
	if m.Default == nil {
		return nil, oops.Code(CodeNoDefault).With("path", m.Path).Errorf("module has no default export")
	}
	defer func() {
		if r := recover(); r != nil {
			err = oops.Code(CodeHandlerPanic).With("path", m.Path).Errorf("handler panicked: %v", r)
		}
	}()
	return m.Default(ctx, args...)
}

// SetCloser registers a function releasing runtime resources held by the
// module.
func (m *Module) SetCloser(fn func()) {
	m.closer = fn
}

// Close releases runtime resources. Safe to call on modules without any.
func (m *Module) Close() {
	if m != nil && m.closer != nil {
		m.closer()
	}
}

// Supports reports whether l accepts the file at path.
func Supports(l Loader, path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range l.Extensions() {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// Multi routes each file to the first loader accepting its extension.
type Multi struct {
	loaders []Loader
}

// NewMulti combines loaders. Earlier loaders win on shared extensions.
func NewMulti(loaders ...Loader) *Multi {
	return &Multi{loaders: loaders}
}

// Load imports path with the matching loader.
func (m *Multi) Load(ctx context.Context, path string) (*Module, error) {
	for _, l := range m.loaders {
		if Supports(l, path) {
			return l.Load(ctx, path)
		}
	}
	return nil, oops.Code(CodeUnsupportedFile).With("path", path).Errorf("no loader for %s", filepath.Ext(path))
}

// Extensions returns the union of all loader extensions in loader order.
func (m *Multi) Extensions() []string {
	seen := make(map[string]bool)
	var exts []string
	for _, l := range m.loaders {
		for _, e := range l.Extensions() {
			if !seen[e] {
				seen[e] = true
				exts = append(exts, e)
			}
		}
	}
	return exts
}

// ImportError wraps a runtime failure in the IMPORT_FAILED code.
func ImportError(path string, err error) error {
	return oops.Code(CodeImportFailed).With("path", path).Wrapf(err, "import %s", filepath.Base(path))
}

// String implements fmt.Stringer for log output.
func (m *Module) String() string {
	return fmt.Sprintf("module(%s, exports=%v)", m.Path, m.Exports())
}
