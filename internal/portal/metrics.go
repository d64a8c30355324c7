// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package portal

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Import results.
const (
	ResultLoaded = "loaded"
	ResultFailed = "failed"
	ResultStale  = "stale"
)

// HandlerImports counts handler imports by result.
// Use RegisterMetrics to register this with a Prometheus registry.
var HandlerImports = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "robo_portal_imports_total",
		Help: "Total number of handler imports",
	},
	[]string{"namespace", "route", "result"},
)

// HandlerReloads counts cache invalidations.
var HandlerReloads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "robo_portal_reloads_total",
		Help: "Total number of handler reloads",
	},
	[]string{"namespace", "route", "kind"},
)

// CacheHits counts lookups served from the cache.
var CacheHits = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "robo_portal_cache_hits_total",
		Help: "Total number of handler lookups served from the cache",
	},
	[]string{"namespace", "route"},
)

// RegisterMetrics registers portal metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(HandlerImports)
	reg.MustRegister(HandlerReloads)
	reg.MustRegister(CacheHits)
}

func recordImport(namespace, routeName, result string) {
	HandlerImports.WithLabelValues(namespace, routeName, result).Inc()
}

func recordReload(namespace, routeName, kind string) {
	HandlerReloads.WithLabelValues(namespace, routeName, kind).Inc()
}

func recordHit(namespace, routeName string) {
	CacheHits.WithLabelValues(namespace, routeName).Inc()
}
