// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package dispatch_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Wave-Play/robo.js-sub007/internal/config"
	"github.com/Wave-Play/robo.js-sub007/internal/dispatch"
	"github.com/Wave-Play/robo.js-sub007/internal/loader"
	"github.com/Wave-Play/robo.js-sub007/internal/logging"
	"github.com/Wave-Play/robo.js-sub007/internal/manifest"
	"github.com/Wave-Play/robo.js-sub007/internal/portal"
	"github.com/Wave-Play/robo.js-sub007/internal/route"
	"github.com/Wave-Play/robo.js-sub007/pkg/errutil"
)

const root = "/project"

type mockInteraction struct {
	mock.Mock
}

func (m *mockInteraction) Defer(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockInteraction) Reply(ctx context.Context, reply any) error {
	return m.Called(ctx, reply).Error(0)
}

var (
	commands = route.Definition{Name: "commands", Namespace: "discord"}
	events   = route.Definition{Name: "events", Namespace: "discord", Multiple: true}
)

// harness builds a portal over handlers registered from Go.
type harness struct {
	mem     *loader.Memory
	entries []manifest.HandlerEntry
}

func newHarness() *harness {
	return &harness{mem: loader.NewMemory()}
}

func (h *harness) add(def route.Definition, id, key string, meta map[string]any, fn loader.Func) *harness {
	e := manifest.HandlerEntry{
		ID:        id,
		Key:       key,
		Type:      def.Type(),
		Namespace: def.Namespace,
		Route:     def.Name,
		FilePath:  "src/" + def.Namespace + "/" + def.Name + "/" + id + ".go",
		Metadata:  meta,
	}
	h.entries = append(h.entries, e)
	h.mem.Handler(filepath.Join(root, filepath.FromSlash(e.FilePath)), fn, meta)
	return h
}

func (h *harness) command(key string, meta map[string]any, fn loader.Func) *harness {
	return h.add(commands, key, key, meta, fn)
}

func (h *harness) event(id, name string, fn loader.Func) *harness {
	return h.add(events, id, name, nil, fn)
}

func (h *harness) portal() *portal.Portal {
	m := &manifest.Manifest{
		Routes:   map[string][]route.Definition{"discord": {commands, events}},
		Handlers: map[string]map[string][]manifest.HandlerEntry{"discord": {"commands": {}, "events": {}}},
	}
	for _, e := range h.entries {
		m.Handlers[e.Namespace][e.Route] = append(m.Handlers[e.Namespace][e.Route], e)
	}
	return portal.New(h.mem, m, portal.WithRoot(root))
}

func testConfig() *config.Config {
	return &config.Config{
		Timeouts: config.TimeoutConfig{DeferBuffer: 10 * time.Millisecond, Lifecycle: 30 * time.Millisecond},
		Response: config.ResponseConfig{Defer: true, Reply: true, ErrorReplies: true},
	}
}

func returns(v any) loader.Func {
	return func(context.Context, ...any) (any, error) { return v, nil }
}

func TestCommand_WrapsStringResult(t *testing.T) {
	p := newHarness().command("ping", nil, returns("pong")).portal()
	d := dispatch.New(p, dispatch.WithConfig(testConfig()))

	ix := &mockInteraction{}
	ix.On("Reply", mock.Anything, dispatch.Message{Content: "pong"}).Return(nil).Once()

	res, err := d.Command(context.Background(), "ping", ix)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusSuccess, res.Status)
	assert.False(t, res.Deferred)
	assert.NotEmpty(t, res.ID)
	ix.AssertExpectations(t)
	ix.AssertNotCalled(t, "Defer", mock.Anything)
}

func TestCommand_PassesStructuredResultThrough(t *testing.T) {
	embed := map[string]any{"title": "Stats", "fields": []any{"a"}}
	p := newHarness().command("stats", nil, returns(embed)).portal()
	d := dispatch.New(p, dispatch.WithConfig(testConfig()))

	ix := &mockInteraction{}
	ix.On("Reply", mock.Anything, embed).Return(nil).Once()

	res, err := d.Command(context.Background(), "stats", ix)
	require.NoError(t, err)
	assert.Equal(t, embed, res.Reply)
	ix.AssertExpectations(t)
}

func TestCommand_HandlerLogsCarryInvocation(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("robo", "test", "json", slog.LevelInfo, &buf)
	p := newHarness().command("ping", nil, func(ctx context.Context, _ ...any) (any, error) {
		logger.InfoContext(ctx, "handling ping")
		return nil, nil
	}).portal()
	d := dispatch.New(p, dispatch.WithConfig(testConfig()))

	res, err := d.Command(context.Background(), "ping", nil)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, res.ID, entry["invocation_id"])
	assert.Equal(t, "ping", entry["command"])
}

func TestCommand_ForwardsArguments(t *testing.T) {
	p := newHarness().command("echo", nil, func(_ context.Context, args ...any) (any, error) {
		return args[0], nil
	}).portal()
	d := dispatch.New(p, dispatch.WithConfig(testConfig()))

	ix := &mockInteraction{}
	ix.On("Reply", mock.Anything, dispatch.Message{Content: "hello"}).Return(nil).Once()

	_, err := d.Command(context.Background(), "echo", ix, "hello")
	require.NoError(t, err)
	ix.AssertExpectations(t)
}

func TestCommand_ReplyDisabledDiscardsResult(t *testing.T) {
	ran := false
	p := newHarness().command("quiet", map[string]any{"reply": false}, func(context.Context, ...any) (any, error) {
		ran = true
		return "ignored", nil
	}).portal()
	d := dispatch.New(p, dispatch.WithConfig(testConfig()))

	ix := &mockInteraction{}
	res, err := d.Command(context.Background(), "quiet", ix)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Nil(t, res.Reply)
	ix.AssertNotCalled(t, "Reply", mock.Anything, mock.Anything)
}

func TestCommand_DefersSlowHandler(t *testing.T) {
	p := newHarness().command("slow", nil, func(context.Context, ...any) (any, error) {
		time.Sleep(80 * time.Millisecond)
		return "done", nil
	}).portal()
	d := dispatch.New(p, dispatch.WithConfig(testConfig()))

	ix := &mockInteraction{}
	ix.On("Defer", mock.Anything).Return(nil).Once()
	ix.On("Reply", mock.Anything, dispatch.Message{Content: "done"}).Return(nil).Once()

	res, err := d.Command(context.Background(), "slow", ix)
	require.NoError(t, err)
	assert.True(t, res.Deferred)
	ix.AssertExpectations(t)
}

func TestCommand_DeferDisabledByHandlerConfig(t *testing.T) {
	p := newHarness().command("slow", map[string]any{"defer": false}, func(context.Context, ...any) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "done", nil
	}).portal()
	d := dispatch.New(p, dispatch.WithConfig(testConfig()))

	ix := &mockInteraction{}
	ix.On("Reply", mock.Anything, dispatch.Message{Content: "done"}).Return(nil).Once()

	res, err := d.Command(context.Background(), "slow", ix)
	require.NoError(t, err)
	assert.False(t, res.Deferred)
	ix.AssertNotCalled(t, "Defer", mock.Anything)
	ix.AssertExpectations(t)
}

func TestCommand_HardTimeoutReportsGenericFailureAndDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	settled := make(chan struct{})
	p := newHarness().command("stuck", map[string]any{"timeout": 40}, func(context.Context, ...any) (any, error) {
		defer close(settled)
		<-release
		return "late", nil
	}).portal()
	d := dispatch.New(p, dispatch.WithConfig(testConfig()))

	ix := &mockInteraction{}
	ix.On("Defer", mock.Anything).Return(nil).Once()
	ix.On("Reply", mock.Anything, dispatch.Message{Content: dispatch.GenericFailure}).Return(nil).Once()

	res, err := d.Command(context.Background(), "stuck", ix)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, dispatch.CodeTimedOut)
	assert.Equal(t, dispatch.StatusTimedOut, res.Status)
	ix.AssertExpectations(t)

	close(release)
	<-settled
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func TestCommand_HandlerErrorRepliesGenericFailure(t *testing.T) {
	tests := []struct {
		name         string
		meta         map[string]any
		expectsReply bool
	}{
		{name: "error replies on", meta: nil, expectsReply: true},
		{name: "error replies off", meta: map[string]any{"errorReplies": false}, expectsReply: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newHarness().command("boom", tt.meta, func(context.Context, ...any) (any, error) {
				return nil, errors.New("database down")
			}).portal()
			d := dispatch.New(p, dispatch.WithConfig(testConfig()))

			ix := &mockInteraction{}
			if tt.expectsReply {
				ix.On("Reply", mock.Anything, dispatch.Message{Content: dispatch.GenericFailure}).Return(nil).Once()
			}

			res, err := d.Command(context.Background(), "boom", ix)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, dispatch.CodeHandlerFailed)
			assert.Equal(t, dispatch.StatusError, res.Status)
			ix.AssertExpectations(t)
			if !tt.expectsReply {
				ix.AssertNotCalled(t, "Reply", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestCommand_DisabledHandlerIsNoop(t *testing.T) {
	ran := false
	p := newHarness().command("ping", nil, func(context.Context, ...any) (any, error) {
		ran = true
		return "pong", nil
	}).portal()
	rec, err := p.Lookup("discord", "commands", "ping")
	require.NoError(t, err)
	rec.SetEnabled(false)

	d := dispatch.New(p, dispatch.WithConfig(testConfig()))
	ix := &mockInteraction{}
	res, err := d.Command(context.Background(), "ping", ix)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusDisabled, res.Status)
	assert.False(t, ran)
	ix.AssertNotCalled(t, "Reply", mock.Anything, mock.Anything)
}

func TestCommand_UnknownKey(t *testing.T) {
	p := newHarness().portal()
	d := dispatch.New(p)

	res, err := d.Command(context.Background(), "nope", nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, portal.CodeHandlerNotFound)
	assert.Equal(t, dispatch.StatusNotFound, res.Status)
}

func TestCommand_NilInteraction(t *testing.T) {
	p := newHarness().command("ping", nil, returns("pong")).portal()
	d := dispatch.New(p)

	res, err := d.Command(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusSuccess, res.Status)
	assert.Nil(t, res.Reply)
}

func TestCommand_RecordsMetrics(t *testing.T) {
	p := newHarness().command("metered", nil, returns(nil)).portal()
	d := dispatch.New(p)

	before := testutil.ToFloat64(dispatch.Dispatches.WithLabelValues(dispatch.KindCommand, "discord:commands", dispatch.StatusSuccess))
	_, err := d.Command(context.Background(), "metered", nil)
	require.NoError(t, err)
	after := testutil.ToFloat64(dispatch.Dispatches.WithLabelValues(dispatch.KindCommand, "discord:commands", dispatch.StatusSuccess))
	assert.Equal(t, before+1, after)
}
