// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

// Package observability serves Prometheus metrics, health probes and a
// status document describing the running build.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/Wave-Play/robo.js-sub007/internal/manifest"
)

// ReadinessChecker returns whether the host is ready to dispatch.
type ReadinessChecker func() bool

// Registrar registers a package's metrics, such as dispatch.RegisterMetrics.
type Registrar func(prometheus.Registerer)

// Metrics describes the shape of the loaded manifest.
type Metrics struct {
	BuildInfo *prometheus.GaugeVec
	Handlers  *prometheus.GaugeVec
	Plugins   prometheus.Gauge
}

// NewMetrics creates the manifest gauges and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robo_build_info",
			Help: "Build of the running manifest, always 1",
		}, []string{"project", "version", "build_hash"}),
		Handlers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robo_handlers",
			Help: "Number of handler entries by namespace and route",
		}, []string{"namespace", "route"}),
		Plugins: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "robo_plugins",
			Help: "Number of registered plugins",
		}),
	}
	reg.MustRegister(m.BuildInfo, m.Handlers, m.Plugins)
	return m
}

// Observe replaces the gauges with the shape of man.
func (m *Metrics) Observe(man *manifest.Manifest) {
	m.BuildInfo.Reset()
	m.BuildInfo.WithLabelValues(man.Project.Name, man.Project.Version, man.Project.BuildHash).Set(1)
	m.Handlers.Reset()
	for ns, routes := range man.Handlers {
		for name, entries := range routes {
			m.Handlers.WithLabelValues(ns, name).Set(float64(len(entries)))
		}
	}
	m.Plugins.Set(float64(len(man.Plugins)))
}

// Status is the document served at /status.
type Status struct {
	Ready    bool                 `json:"ready"`
	Project  manifest.ProjectInfo `json:"project"`
	Plugins  []string             `json:"plugins"`
	Handlers map[string]int       `json:"handlers"`
}

// statusOf summarizes man. Handler counts are keyed by route type.
func statusOf(man *manifest.Manifest, ready bool) Status {
	st := Status{Ready: ready, Plugins: []string{}, Handlers: map[string]int{}}
	if man == nil {
		return st
	}
	st.Project = man.Project
	for _, p := range man.Plugins {
		st.Plugins = append(st.Plugins, p.Name)
	}
	sort.Strings(st.Plugins)
	for ns, routes := range man.Handlers {
		for name, entries := range routes {
			st.Handlers[ns+":"+name] = len(entries)
		}
	}
	return st
}

// Server serves /metrics, /status and the /healthz probes.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	current    atomic.Pointer[manifest.Manifest]
	running    atomic.Bool
}

// NewServer creates a server for addr ("127.0.0.1:9100", ":0", ...). The
// registry is private to the server; registrars add package metrics to it.
func NewServer(addr string, readinessChecker ReadinessChecker, registrars ...Registrar) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(registry)
	for _, register := range registrars {
		register(registry)
	}

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
	}
}

// Observe records man as the running build. It is meant to be registered
// as a manifest observer so /metrics and /status follow reloads.
func (s *Server) Observe(man *manifest.Manifest) {
	if man == nil {
		return
	}
	s.current.Store(man)
	s.metrics.Observe(man)
}

// Metrics returns the manifest gauges.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Registry returns the server's metrics registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start listens and serves in the background. Serve failures after Start
// returns are sent on the returned channel, which is closed when the server
// stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("observability").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("observability").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.httpServer = srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	return errCh, nil
}

// Stop shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.In("observability").With("operation", "shutdown").Wrap(err)
		}
	}
	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) ready() bool {
	return s.isReady == nil || s.isReady()
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(statusOf(s.current.Load(), s.ready()))
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, "ok")
}

// handleReadiness reports 200 once the runtime has started, 503 before.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.ready() {
		writeProbe(w, http.StatusOK, "ok")
		return
	}
	writeProbe(w, http.StatusServiceUnavailable, "not ready")
}

func writeProbe(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	//nolint:errcheck // client may disconnect
	w.Write([]byte(body + "\n"))
}
