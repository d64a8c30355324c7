// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package hook

import (
	"github.com/samber/oops"

	"github.com/Wave-Play/robo.js-sub007/internal/manifest"
)

// Error codes for hook execution.
const (
	CodeHookFailed    = "HOOK_FAILED"
	CodeInvalidResult = "INVALID_HOOK_RESULT"
)

// errHookFailed wraps the failure of one hook.
func errHookFailed(h manifest.HookEntry, err error) error {
	return oops.Code(CodeHookFailed).
		In("hook").
		With("hook", label(h)).
		With("source", string(h.Source)).
		With("plugin", h.Plugin).
		With("path", h.Path).
		Wrapf(err, "%s hook of %s failed", label(h), owner(h))
}

func label(h manifest.HookEntry) string {
	if h.Phase != "" {
		return string(h.Type) + "/" + string(h.Phase)
	}
	return string(h.Type)
}

func owner(h manifest.HookEntry) string {
	if h.Source == manifest.SourcePlugin {
		return "plugin " + h.Plugin
	}
	return "project"
}
