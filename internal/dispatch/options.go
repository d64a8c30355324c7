// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package dispatch

import (
	"time"

	"github.com/Wave-Play/robo.js-sub007/internal/config"
)

// Handler config keys read by ResolveOptions.
const (
	OptionDefer        = "defer"
	OptionDeferBuffer  = "deferBuffer"
	OptionReply        = "reply"
	OptionTimeout      = "timeout"
	OptionErrorReplies = "errorReplies"
)

// ResponseOptions govern how one command is answered.
type ResponseOptions struct {
	// Defer sends an interim acknowledgement when the handler has not
	// settled within DeferBuffer.
	Defer       bool
	DeferBuffer time.Duration
	// Reply delivers the handler result. When false the result is
	// discarded.
	Reply bool
	// Timeout is the hard limit for the whole command. Zero disables it.
	Timeout time.Duration
	// ErrorReplies sends GenericFailure to the invoker on failure.
	ErrorReplies bool
}

// DefaultOptions returns the project-wide response options.
func DefaultOptions(cfg *config.Config) ResponseOptions {
	opts := ResponseOptions{
		Defer:        true,
		DeferBuffer:  config.DefaultDeferBuffer,
		Reply:        true,
		ErrorReplies: true,
	}
	if cfg == nil {
		return opts
	}
	opts.Defer = cfg.Response.Defer
	opts.Reply = cfg.Response.Reply
	opts.ErrorReplies = cfg.Response.ErrorReplies
	opts.Timeout = cfg.Timeouts.Command
	if cfg.Timeouts.DeferBuffer > 0 {
		opts.DeferBuffer = cfg.Timeouts.DeferBuffer
	}
	return opts
}

// ResolveOptions overrides defaults with the values a handler declares in
// its config. Durations are milliseconds or Go duration strings. Values of
// the wrong type are ignored.
func ResolveOptions(defaults ResponseOptions, handlerConfig map[string]any) ResponseOptions {
	opts := defaults
	if v, ok := handlerConfig[OptionDefer].(bool); ok {
		opts.Defer = v
	}
	if v, ok := handlerConfig[OptionReply].(bool); ok {
		opts.Reply = v
	}
	if v, ok := handlerConfig[OptionErrorReplies].(bool); ok {
		opts.ErrorReplies = v
	}
	if d, ok := duration(handlerConfig[OptionDeferBuffer]); ok && d > 0 {
		opts.DeferBuffer = d
	}
	if d, ok := duration(handlerConfig[OptionTimeout]); ok && d >= 0 {
		opts.Timeout = d
	}
	return opts
}

func duration(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Millisecond, true
	case int64:
		return time.Duration(n) * time.Millisecond, true
	case float64:
		return time.Duration(n * float64(time.Millisecond)), true
	case string:
		d, err := time.ParseDuration(n)
		return d, err == nil
	case time.Duration:
		return n, true
	}
	return 0, false
}
