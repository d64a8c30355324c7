// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package portal

import (
	"github.com/samber/oops"
)

// Error codes for portal lookups.
const (
	CodeHandlerNotFound    = "HANDLER_NOT_FOUND"
	CodeControllerNotFound = "CONTROLLER_NOT_FOUND"
	CodeRouteNotFound      = "ROUTE_NOT_FOUND"
	CodeNoStore            = "NO_STORE"
)

// ErrHandlerNotFound creates an error for a key with no handler entry.
func ErrHandlerNotFound(namespace, routeName, key string) error {
	return oops.Code(CodeHandlerNotFound).
		In("portal").
		With("namespace", namespace).
		With("route", routeName).
		With("key", key).
		Errorf("no handler %q in %s:%s", key, namespace, routeName)
}

// ErrControllerNotFound creates an error for a route without a controller
// factory.
func ErrControllerNotFound(namespace, routeName string) error {
	return oops.Code(CodeControllerNotFound).
		In("portal").
		With("namespace", namespace).
		With("route", routeName).
		Errorf("no controller registered for %s:%s", namespace, routeName)
}

// ErrRouteNotFound creates an error for an unknown route.
func ErrRouteNotFound(namespace, routeName string) error {
	return oops.Code(CodeRouteNotFound).
		In("portal").
		With("namespace", namespace).
		With("route", routeName).
		Errorf("route %s:%s does not exist", namespace, routeName)
}
