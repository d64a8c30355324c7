// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package route

import (
	"fmt"

	"github.com/samber/oops"
)

// Error codes for route scanning.
const (
	CodeInvalidRoute    = "INVALID_ROUTE"
	CodeShapeMismatch   = "SHAPE_MISMATCH"
	CodeSegmentConflict = "SEGMENT_CONFLICT"
	CodeScanFailed      = "SCAN_FAILED"
)

// ErrInvalidRoute creates an error for a malformed route definition.
func ErrInvalidRoute(d Definition, format string, args ...any) error {
	return oops.Code(CodeInvalidRoute).
		In("route").
		With("route", d.Type()).
		Errorf("invalid route %s: %s", d.Type(), fmt.Sprintf(format, args...))
}

// ErrShapeMismatch creates an error for a file whose exports violate the
// route's ExportsConfig.
func ErrShapeMismatch(file, export string, req Requirement) error {
	return oops.Code(CodeShapeMismatch).
		In("route").
		With("file", file).
		With("export", export).
		With("requirement", string(req)).
		Errorf("export %q is %s", export, req)
}

// ErrSegmentConflict creates an error for a path with more than one
// catch-all segment.
func ErrSegmentConflict(file string, params ...string) error {
	return oops.Code(CodeSegmentConflict).
		In("route").
		With("file", file).
		With("params", params).
		Errorf("only one catch-all segment is allowed per path")
}
