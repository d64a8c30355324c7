// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status values for dispatch metrics and results.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusTimedOut = "timed_out"
	StatusNotFound = "not_found"
	StatusDisabled = "disabled"
)

// Kinds of dispatch.
const (
	KindCommand = "command"
	KindEvent   = "event"
)

// Dispatches counts handler invocations.
// Use RegisterMetrics to register this with a Prometheus registry.
var Dispatches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "robo_dispatch_total",
		Help: "Total number of handler invocations",
	},
	[]string{"kind", "route", "status"},
)

// DispatchDuration observes how long handlers take to settle.
// Use RegisterMetrics to register this with a Prometheus registry.
var DispatchDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "robo_dispatch_duration_seconds",
		Help:    "Handler execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind", "route"},
)

// Deferrals counts interim acknowledgements sent for slow commands.
// Use RegisterMetrics to register this with a Prometheus registry.
var Deferrals = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "robo_dispatch_deferrals_total",
		Help: "Total number of deferred command replies",
	},
	[]string{"route"},
)

// RegisterMetrics registers dispatch metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Dispatches)
	reg.MustRegister(DispatchDuration)
	reg.MustRegister(Deferrals)
}

// recorder tracks the metrics of a single invocation.
type recorder struct {
	start  time.Time
	kind   string
	route  string
	status string
}

func newRecorder(kind, route string) *recorder {
	return &recorder{start: time.Now(), kind: kind, route: route, status: StatusSuccess}
}

func (r *recorder) setStatus(status string) {
	r.status = status
}

// record writes the collected metrics. Lookups that never reached a handler
// are counted without a duration.
func (r *recorder) record() {
	Dispatches.WithLabelValues(r.kind, r.route, r.status).Inc()
	if r.status != StatusNotFound && r.status != StatusDisabled {
		DispatchDuration.WithLabelValues(r.kind, r.route).Observe(time.Since(r.start).Seconds())
	}
}
