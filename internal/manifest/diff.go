// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package manifest

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/samber/oops"
)

// diffContext is the number of context lines around each hunk.
const diffContext = 2

// Diff returns a unified diff of the handler and hook tables of two
// manifests. Either side may be nil. An empty string means no change.
func Diff(old, current *Manifest) (string, error) {
	u := difflib.UnifiedDiff{
		A:        difflib.SplitLines(Summary(old)),
		B:        difflib.SplitLines(Summary(current)),
		FromFile: "previous",
		ToFile:   "current",
		Context:  diffContext,
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		return "", oops.In("manifest").Wrapf(err, "diff manifests")
	}
	return s, nil
}

// Summary renders a manifest's handlers and hooks as sorted lines, one per
// entry.
func Summary(m *Manifest) string {
	if m == nil {
		return ""
	}
	var lines []string
	for ns, routes := range m.Handlers {
		for name, entries := range routes {
			for _, e := range entries {
				line := fmt.Sprintf("handler %s:%s %s -> %s", ns, name, e.ID, e.FilePath)
				if e.Module != "" {
					line += " [module " + e.Module + "]"
				}
				lines = append(lines, line)
			}
		}
	}
	for _, t := range HookTypes {
		for _, h := range m.Hooks[t] {
			kind := string(h.Type)
			if h.Phase != "" {
				kind += "/" + string(h.Phase)
			}
			lines = append(lines, fmt.Sprintf("hook %s %d %s", kind, h.Priority, h.Path))
		}
	}
	for _, p := range m.Plugins {
		lines = append(lines, fmt.Sprintf("plugin %s@%s", p.Name, p.Version))
	}
	slices.Sort(lines)
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
