// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package portal

import (
	"slices"
)

// ModuleController toggles every record tagged with one module name,
// across all routes.
type ModuleController struct {
	name string
	p    *Portal
}

// Module returns the controller for a module name. Controllers are cheap
// and need not be kept.
func (p *Portal) Module(name string) *ModuleController {
	return &ModuleController{name: name, p: p}
}

// Modules lists every module name carried by a record, sorted.
func (p *Portal) Modules() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var names []string
	for _, t := range p.routes {
		for _, r := range t.records {
			if r.Entry.Module != "" && !slices.Contains(names, r.Entry.Module) {
				names = append(names, r.Entry.Module)
			}
		}
	}
	slices.Sort(names)
	return names
}

// Name returns the module name.
func (m *ModuleController) Name() string { return m.name }

// Enable re-enables the module's records.
func (m *ModuleController) Enable() {
	m.p.mu.Lock()
	defer m.p.mu.Unlock()
	delete(m.p.disabled, m.name)
	m.p.logger.Debug("module enabled", "module", m.name)
}

// Disable disables the module's records. Records stay registered and
// resolve to no-ops at dispatch time.
func (m *ModuleController) Disable() {
	if m.name == "" {
		return
	}
	m.p.mu.Lock()
	defer m.p.mu.Unlock()
	m.p.disabled[m.name] = true
	m.p.logger.Debug("module disabled", "module", m.name)
}

// IsEnabled reports whether the module is enabled.
func (m *ModuleController) IsEnabled() bool {
	m.p.mu.RLock()
	defer m.p.mu.RUnlock()
	return !m.p.disabled[m.name]
}

// Records returns every record tagged with the module.
func (m *ModuleController) Records() []*Record {
	m.p.mu.RLock()
	defer m.p.mu.RUnlock()
	var out []*Record
	for _, t := range m.p.routes {
		for _, r := range t.records {
			if r.Entry.Module == m.name {
				out = append(out, r)
			}
		}
	}
	return out
}
