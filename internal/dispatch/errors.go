// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package dispatch

import (
	"time"

	"github.com/samber/oops"
)

// Error codes for dispatch failures.
const (
	CodeTimedOut      = "TIMED_OUT"
	CodeHandlerFailed = "HANDLER_FAILED"
	CodeReplyFailed   = "REPLY_FAILED"
)

// GenericFailure is the reply sent to an invoker when a command fails or
// times out.
const GenericFailure = "Something went wrong while running this command."

// ErrTimedOut creates an error for a handler that exceeded its hard timeout.
func ErrTimedOut(kind, key string, timeout time.Duration) error {
	return oops.Code(CodeTimedOut).
		In("dispatch").
		With("kind", kind).
		With("key", key).
		With("timeout", timeout.String()).
		Errorf("%s %s timed out after %s", kind, key, timeout)
}

// ErrHandlerFailed wraps an error returned or raised by a handler.
func ErrHandlerFailed(kind, key string, cause error) error {
	return oops.Code(CodeHandlerFailed).
		In("dispatch").
		With("kind", kind).
		With("key", key).
		Wrapf(cause, "%s %s failed", kind, key)
}

// InvokerMessage returns the text shown to an invoker for err.
func InvokerMessage(err error) string {
	if err == nil {
		return ""
	}
	return GenericFailure
}
