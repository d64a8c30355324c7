// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

// Package dispatch invokes handlers resolved through the portal: commands
// with reply and deferral semantics, events as a concurrent fan-out.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Wave-Play/robo.js-sub007/internal/config"
	"github.com/Wave-Play/robo.js-sub007/internal/logging"
	"github.com/Wave-Play/robo.js-sub007/internal/portal"
	"github.com/Wave-Play/robo.js-sub007/pkg/errutil"
)

var tracer = otel.Tracer("robo/dispatch")

// Default routes commands and events are resolved in.
const (
	DefaultNamespace    = "discord"
	DefaultCommandRoute = "commands"
	DefaultEventRoute   = "events"
)

// Message is the reply shape a string result is wrapped into.
type Message struct {
	Content string `json:"content"`
}

// Interaction is the invoker side of a command.
type Interaction interface {
	// Defer sends an interim acknowledgement.
	Defer(ctx context.Context) error
	// Reply delivers the final reply.
	Reply(ctx context.Context, reply any) error
}

// Result describes one command invocation.
type Result struct {
	ID       string
	Key      string
	Status   string
	Deferred bool
	// Reply is the shaped reply, or nil when none was sent.
	Reply any
}

// Dispatcher invokes handlers held by a portal.
type Dispatcher struct {
	portal   *portal.Portal
	defaults ResponseOptions

	commandNS, commandRoute string
	eventNS, eventRoute     string

	lifecycleTimeout time.Duration
	eventTimeout     time.Duration

	logger   *slog.Logger
	draining sync.WaitGroup
}

// Option configures a Dispatcher during construction.
type Option func(*Dispatcher)

// WithConfig takes response defaults and timeouts from the project config.
func WithConfig(cfg *config.Config) Option {
	return func(d *Dispatcher) {
		d.defaults = DefaultOptions(cfg)
		if cfg == nil {
			return
		}
		if cfg.Timeouts.Lifecycle > 0 {
			d.lifecycleTimeout = cfg.Timeouts.Lifecycle
		}
		d.eventTimeout = cfg.Timeouts.Event
	}
}

// WithCommandRoute sets the route commands are resolved in.
func WithCommandRoute(namespace, routeName string) Option {
	return func(d *Dispatcher) {
		d.commandNS, d.commandRoute = namespace, routeName
	}
}

// WithEventRoute sets the route events are resolved in.
func WithEventRoute(namespace, routeName string) Option {
	return func(d *Dispatcher) {
		d.eventNS, d.eventRoute = namespace, routeName
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// New creates a dispatcher over p.
func New(p *portal.Portal, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		portal:           p,
		defaults:         DefaultOptions(nil),
		commandNS:        DefaultNamespace,
		commandRoute:     DefaultCommandRoute,
		eventNS:          DefaultNamespace,
		eventRoute:       DefaultEventRoute,
		lifecycleTimeout: config.DefaultLifecycle,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// outcome is a settled handler call.
type outcome struct {
	value any
	err   error
}

// Command runs the command handler for key. A disabled handler is a no-op.
// The handler receives args; ix, when set, receives the deferral and the
// reply. On failure or timeout the invoker is sent GenericFailure unless
// error replies are disabled.
func (d *Dispatcher) Command(ctx context.Context, key string, ix Interaction, args ...any) (res Result, err error) {
	res = Result{ID: ulid.Make().String(), Key: key, Status: StatusSuccess}
	rec := newRecorder(KindCommand, d.commandNS+":"+d.commandRoute)
	defer func() {
		rec.setStatus(res.Status)
		rec.record()
	}()

	ctx, span := tracer.Start(ctx, "dispatch.command",
		trace.WithAttributes(
			attribute.String("command.key", key),
			attribute.String("invocation.id", res.ID),
		),
	)
	defer func() {
		span.SetAttributes(attribute.String("command.status", res.Status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	record, err := d.portal.Lookup(d.commandNS, d.commandRoute, key)
	if err != nil {
		res.Status = StatusNotFound
		return res, err
	}
	if !record.Enabled() {
		d.logger.DebugContext(ctx, "command disabled, ignoring", "key", key, "id", record.ID())
		res.Status = StatusDisabled
		return res, nil
	}

	opts := ResolveOptions(d.defaults, record.Entry.Metadata)
	logger := d.logger.With("command", key, "invocation_id", res.ID)
	ctx = logging.ContextWith(ctx, "command", key, "invocation_id", res.ID)

	mod, err := record.Handler(ctx)
	if err != nil {
		res.Status = StatusError
		d.replyFailure(ctx, logger, ix, opts, err)
		return res, err
	}

	start := time.Now()
	settled := make(chan outcome, 1)
	go func() {
		v, callErr := mod.Call(ctx, args...)
		settled <- outcome{v, callErr}
	}()

	var hard <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		hard = timer.C
	}

	var out outcome
	select {
	case out = <-settled:
	default:
		out, res.Deferred, err = d.await(ctx, logger, ix, opts, settled, hard, key)
		if err != nil {
			res.Status = StatusTimedOut
			if ctx.Err() != nil {
				res.Status = StatusError
			}
			d.drain(logger, settled, start)
			d.replyFailure(ctx, logger, ix, opts, err)
			return res, err
		}
	}

	if out.err != nil {
		res.Status = StatusError
		err = ErrHandlerFailed(KindCommand, key, out.err)
		d.replyFailure(ctx, logger, ix, opts, err)
		return res, err
	}

	if !opts.Reply || ix == nil {
		logger.Debug("command reply suppressed")
		return res, nil
	}
	res.Reply = shape(out.value)
	if res.Reply == nil {
		return res, nil
	}
	if replyErr := ix.Reply(ctx, res.Reply); replyErr != nil {
		errutil.LogError(logger, "failed to deliver command reply", replyErr)
	}
	return res, nil
}

// await waits for a handler that did not settle immediately. It defers the
// reply once the deferral buffer elapses and gives up at the hard timeout.
func (d *Dispatcher) await(ctx context.Context, logger *slog.Logger, ix Interaction, opts ResponseOptions, settled <-chan outcome, hard <-chan time.Time, key string) (outcome, bool, error) {
	var buffer <-chan time.Time
	if opts.Defer && ix != nil {
		timer := time.NewTimer(opts.DeferBuffer)
		defer timer.Stop()
		buffer = timer.C
	}

	deferred := false
	for {
		select {
		case out := <-settled:
			return out, deferred, nil
		case <-buffer:
			buffer = nil
			deferred = true
			Deferrals.WithLabelValues(d.commandNS + ":" + d.commandRoute).Inc()
			if err := ix.Defer(ctx); err != nil {
				errutil.LogWarn(logger, "failed to defer command reply", err)
			}
		case <-hard:
			return outcome{}, deferred, ErrTimedOut(KindCommand, key, opts.Timeout)
		case <-ctx.Done():
			return outcome{}, deferred, ErrHandlerFailed(KindCommand, key, ctx.Err())
		}
	}
}

// drain observes an abandoned handler until it settles.
func (d *Dispatcher) drain(logger *slog.Logger, settled <-chan outcome, start time.Time) {
	d.draining.Add(1)
	go func() {
		defer d.draining.Done()
		out := <-settled
		if out.err != nil {
			errutil.LogWarn(logger, "abandoned handler failed", out.err, "elapsed", time.Since(start))
			return
		}
		logger.Info("abandoned handler settled", "elapsed", time.Since(start))
	}()
}

// Wait blocks until every abandoned handler has settled or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.draining.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) replyFailure(ctx context.Context, logger *slog.Logger, ix Interaction, opts ResponseOptions, cause error) {
	errutil.LogError(logger, "command failed", cause)
	if ix == nil || !opts.ErrorReplies {
		return
	}
	if err := ix.Reply(ctx, Message{Content: InvokerMessage(cause)}); err != nil {
		errutil.LogWarn(logger, "failed to deliver failure reply", err)
	}
}

// shape wraps string results into a Message. Other values pass through.
func shape(v any) any {
	switch r := v.(type) {
	case nil:
		return nil
	case string:
		return Message{Content: r}
	default:
		return r
	}
}
