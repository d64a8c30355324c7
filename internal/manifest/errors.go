// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package manifest

import (
	"github.com/samber/oops"
)

// Error codes for manifest operations.
const (
	CodeAmbiguousKey     = "AMBIGUOUS_KEY"
	CodeUnknownRoute     = "UNKNOWN_ROUTE"
	CodeManifestNotFound = "MANIFEST_NOT_FOUND"
	CodeInvalidManifest  = "INVALID_MANIFEST"
	CodeStoreFailed      = "STORE_FAILED"
)

// ErrAmbiguousKey reports two entries sharing a key on a route that does not
// allow multiple handlers.
func ErrAmbiguousKey(routeType, key string, files ...string) error {
	return oops.Code(CodeAmbiguousKey).
		In("manifest").
		With("route", routeType).
		With("key", key).
		With("files", files).
		Hint("rename one of the files or set multiple: true on the route").
		Errorf("key %q on route %s is produced by %d files", key, routeType, len(files))
}

// ErrUnknownRoute reports an entry whose type matches no route definition.
func ErrUnknownRoute(routeType, file string) error {
	return oops.Code(CodeUnknownRoute).
		In("manifest").
		With("route", routeType).
		With("file", file).
		Errorf("entry %s references unknown route %s", file, routeType)
}
