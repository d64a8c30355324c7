// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Wave-Play/robo.js-sub007/internal/logging"
	"github.com/Wave-Play/robo.js-sub007/internal/portal"
	"github.com/Wave-Play/robo.js-sub007/pkg/errutil"
)

// Lifecycle event names.
const (
	EventStart   = "_start"
	EventStop    = "_stop"
	EventRestart = "_restart"
)

// IsLifecycle reports whether name is a lifecycle event. Any name with the
// "_" prefix counts, including custom ones.
func IsLifecycle(name string) bool {
	return strings.HasPrefix(name, "_")
}

// HandlerResult is the outcome of one event handler.
type HandlerResult struct {
	ID       string
	Plugin   string
	Module   string
	Status   string
	Err      error
	Duration time.Duration
}

// EventReport summarizes one event dispatch.
type EventReport struct {
	ID      string
	Name    string
	Results []HandlerResult
}

// Failed returns the results that did not succeed.
func (r EventReport) Failed() []HandlerResult {
	return lo.Filter(r.Results, func(h HandlerResult, _ int) bool {
		return h.Status != StatusSuccess
	})
}

// Event invokes every enabled handler registered for name concurrently.
// Each handler is isolated: a failure, panic or timeout of one never stops
// the others. Lifecycle events are raced against the lifecycle timeout;
// other events only against the project-wide event timeout, if any.
func (d *Dispatcher) Event(ctx context.Context, name string, args ...any) EventReport {
	report := EventReport{ID: ulid.Make().String(), Name: name}

	ctx, span := tracer.Start(ctx, "dispatch.event",
		trace.WithAttributes(
			attribute.String("event.name", name),
			attribute.String("invocation.id", report.ID),
		),
	)
	defer span.End()

	records, err := d.portal.GetHandlers(d.eventNS, d.eventRoute, name)
	if err != nil {
		d.logger.DebugContext(ctx, "no handlers for event", "event", name)
		return report
	}
	records = lo.Filter(records, func(r *portal.Record, _ int) bool {
		return r.Enabled()
	})

	timeout := d.eventTimeout
	if IsLifecycle(name) {
		timeout = d.lifecycleTimeout
	}

	report.Results = make([]HandlerResult, len(records))
	var wg sync.WaitGroup
	for i, r := range records {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report.Results[i] = d.runEvent(ctx, r, name, timeout, args)
		}()
	}
	wg.Wait()

	failed := len(report.Failed())
	span.SetAttributes(
		attribute.Int("event.handlers", len(records)),
		attribute.Int("event.failed", failed),
	)
	return report
}

func (d *Dispatcher) runEvent(ctx context.Context, r *portal.Record, name string, timeout time.Duration, args []any) HandlerResult {
	res := HandlerResult{ID: r.ID(), Plugin: r.Entry.Plugin, Module: r.Module(), Status: StatusSuccess}
	rec := newRecorder(KindEvent, d.eventNS+":"+d.eventRoute)
	logger := d.logger.With("event", name, "handler", r.ID())
	ctx = logging.ContextWith(ctx, "event", name, "handler", r.ID())
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		rec.setStatus(res.Status)
		rec.record()
	}()

	mod, err := r.Handler(ctx)
	if err != nil {
		res.Status, res.Err = StatusError, err
		errutil.LogError(logger, "failed to load event handler", err)
		return res
	}

	settled := make(chan outcome, 1)
	go func() {
		v, callErr := mod.Call(ctx, args...)
		settled <- outcome{v, callErr}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case out := <-settled:
		if out.err != nil {
			res.Status, res.Err = StatusError, ErrHandlerFailed(KindEvent, name, out.err)
			errutil.LogError(logger, "event handler failed", res.Err)
		}
	case <-expired:
		res.Status, res.Err = StatusTimedOut, ErrTimedOut(KindEvent, name, timeout)
		errutil.LogWarn(logger, "event handler timed out", res.Err, "plugin", r.Entry.Plugin)
		d.drain(logger, settled, start)
	}
	return res
}
