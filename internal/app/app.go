// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

// Package app wires the host together: the build pipeline that produces a
// manifest and the runtime that serves it.
package app

import (
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/Wave-Play/robo.js-sub007/internal/config"
	"github.com/Wave-Play/robo.js-sub007/internal/manifest"
)

// Option configures Build and NewRuntime.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	hostVersion string
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHostVersion enables plugin requires checks against this host version.
func WithHostVersion(v string) Option {
	return func(o *options) {
		o.hostVersion = v
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// envAccessor adapts a manifest env lookup to the accessor hooks receive.
func envAccessor(lookup func(string) (string, bool)) func(string) string {
	return func(name string) string {
		v, _ := lookup(name)
		return v
	}
}

// relative makes p relative to the project root when possible.
func relative(cfg *config.Config, p string) string {
	if rel, err := filepath.Rel(cfg.Root, p); err == nil {
		return filepath.ToSlash(rel)
	}
	return p
}

// warnEnv logs every declared variable that is not valid.
func warnEnv(logger *slog.Logger, status manifest.EnvStatus) {
	problems := status.Problems()
	sort.Strings(problems)
	for _, name := range problems {
		v := status.Variables[name]
		logger.Warn("environment variable is not valid",
			"variable", name,
			"status", string(v.Status),
			"owner", v.Owner)
	}
}
