// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package portal

// ControllerFactory builds the plugin-defined controller of one record. The
// portal stores the result without interpreting it.
type ControllerFactory func(key string, rec *Record, pluginState any) (any, error)

type controllerReg struct {
	factory ControllerFactory
	state   any
}

// RegisterController sets the controller factory of a route, replacing any
// earlier one. pluginState is passed to every factory call.
func (p *Portal) RegisterController(namespace, routeName string, factory ControllerFactory, pluginState any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.routes[tableKey(namespace, routeName)]
	if !ok {
		return ErrRouteNotFound(namespace, routeName)
	}
	t.controller = &controllerReg{factory: factory, state: pluginState}
	for _, r := range t.records {
		r.controller = nil
		r.hasController = false
	}
	return nil
}

// GetController returns the controller of the record under key, building it
// on first use.
func (p *Portal) GetController(namespace, routeName, key string) (any, error) {
	p.mu.RLock()
	t, ok := p.routes[tableKey(namespace, routeName)]
	var reg *controllerReg
	if ok {
		reg = t.controller
	}
	found := p.find(namespace, routeName, key)
	p.mu.RUnlock()

	if len(found) == 0 {
		return nil, ErrHandlerNotFound(namespace, routeName, key)
	}
	if reg == nil {
		return nil, ErrControllerNotFound(namespace, routeName)
	}

	rec := found[0]
	p.mu.RLock()
	if rec.hasController {
		c := rec.controller
		p.mu.RUnlock()
		return c, nil
	}
	gen := rec.generation
	p.mu.RUnlock()

	c, err := reg.factory(key, rec, reg.state)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if rec.hasController {
		return rec.controller, nil
	}
	if rec.generation == gen && t.controller == reg {
		rec.controller = c
		rec.hasController = true
	}
	return c, nil
}
