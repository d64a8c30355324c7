// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package loader

import (
	"context"
	"maps"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
)

// Memory serves modules registered from Go. It backs Go-native handlers and
// is the fake loader used throughout the tests.
type Memory struct {
	mu         sync.Mutex
	modules    map[string]*Module
	failures   map[string]error
	loads      map[string]int
	extensions []string
	fallback   func(path string) (*Module, error)
}

// MemoryOption configures a Memory loader.
type MemoryOption func(*Memory)

// WithExtensions sets the extensions the loader claims. Default ".go".
func WithExtensions(exts ...string) MemoryOption {
	return func(m *Memory) {
		m.extensions = exts
	}
}

// WithFallback serves unregistered paths from fn instead of failing.
func WithFallback(fn func(path string) (*Module, error)) MemoryOption {
	return func(m *Memory) {
		m.fallback = fn
	}
}

// NewMemory creates an empty in-memory loader.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		modules:    make(map[string]*Module),
		failures:   make(map[string]error),
		loads:      make(map[string]int),
		extensions: []string{".go"},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register serves mod for path. Replaces any earlier module or failure.
func (m *Memory) Register(path string, mod *Module) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	delete(m.failures, path)
	m.modules[path] = mod
}

// Handler registers a module whose default export is fn.
func (m *Memory) Handler(path string, fn Func, config map[string]any) {
	m.Register(path, &Module{Default: fn, Config: config})
}

// Fail makes every load of path return err until Register is called again.
func (m *Memory) Fail(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[filepath.Clean(path)] = err
}

// Loads returns how many times path has been loaded.
func (m *Memory) Loads(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads[filepath.Clean(path)]
}

// Load returns a fresh copy of the module registered for path.
func (m *Memory) Load(_ context.Context, path string) (*Module, error) {
	path = filepath.Clean(path)

	m.mu.Lock()
	m.loads[path]++
	failure := m.failures[path]
	mod, ok := m.modules[path]
	fallback := m.fallback
	m.mu.Unlock()

	if failure != nil {
		return nil, ImportError(path, failure)
	}
	if !ok {
		if fallback == nil {
			return nil, oops.Code(CodeModuleNotDefined).With("path", path).Errorf("no module registered for %s", path)
		}
		fb, err := fallback(path)
		if err != nil {
			return nil, ImportError(path, err)
		}
		mod = fb
	}

	cp := *mod
	cp.Path = path
	cp.Config = maps.Clone(mod.Config)
	cp.Named = maps.Clone(mod.Named)
	return &cp, nil
}

// Extensions returns the configured extensions.
func (m *Memory) Extensions() []string {
	return m.extensions
}
