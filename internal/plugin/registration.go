// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package plugin

import (
	"github.com/samber/oops"
)

// MetaOptions are the registration options the host itself interprets.
type MetaOptions struct {
	// FailSafe downgrades the plugin's hook failures to warnings.
	FailSafe bool `json:"failSafe,omitempty"`
}

// Registration is one entry of the project's plugin list: a bare name or a
// [name, options, metaOptions] tuple.
type Registration struct {
	Name    string         `json:"name"`
	Options map[string]any `json:"options,omitempty"`
	Meta    MetaOptions    `json:"meta,omitempty"`
}

// ParseRegistrations converts the raw plugin list from the project config.
// Options are passed through to the plugin untouched; only
// metaOptions.failSafe is read.
func ParseRegistrations(raw []any) ([]Registration, error) {
	regs := make([]Registration, 0, len(raw))
	seen := make(map[string]bool)
	for i, item := range raw {
		reg, err := parseRegistration(item)
		if err != nil {
			return nil, oops.With("index", i).Wrapf(err, "plugins[%d]", i)
		}
		if seen[reg.Name] {
			return nil, registrationError().
				With("index", i).
				With("plugin", reg.Name).
				Errorf("plugins[%d]: plugin %q registered twice", i, reg.Name)
		}
		seen[reg.Name] = true
		regs = append(regs, reg)
	}
	return regs, nil
}

func parseRegistration(item any) (Registration, error) {
	switch v := item.(type) {
	case string:
		if v == "" {
			return Registration{}, registrationError().Errorf("empty plugin name")
		}
		return Registration{Name: v}, nil
	case []any:
		if len(v) == 0 || len(v) > 3 {
			return Registration{}, registrationError().Errorf("tuple must be [name, options, metaOptions], got %d elements", len(v))
		}
		name, ok := v[0].(string)
		if !ok || name == "" {
			return Registration{}, registrationError().Errorf("tuple name must be a non-empty string")
		}
		reg := Registration{Name: name}
		if len(v) > 1 && v[1] != nil {
			opts, ok := toStringMap(v[1])
			if !ok {
				return Registration{}, registrationError().Errorf("options for %q must be a map", name)
			}
			reg.Options = opts
		}
		if len(v) > 2 && v[2] != nil {
			meta, ok := toStringMap(v[2])
			if !ok {
				return Registration{}, registrationError().Errorf("metaOptions for %q must be a map", name)
			}
			if fs, present := meta["failSafe"]; present {
				b, ok := fs.(bool)
				if !ok {
					return Registration{}, registrationError().Errorf("metaOptions.failSafe for %q must be a boolean", name)
				}
				reg.Meta.FailSafe = b
			}
		}
		return reg, nil
	default:
		return Registration{}, registrationError().Errorf("expected a name or a [name, options, metaOptions] tuple, got %T", item)
	}
}

func registrationError() oops.OopsErrorBuilder {
	return oops.Code(CodeInvalidRegistration).In("plugin")
}

// toStringMap accepts both decoded YAML map shapes.
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
