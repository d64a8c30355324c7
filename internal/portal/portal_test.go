// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package portal_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wave-Play/robo.js-sub007/internal/loader"
	"github.com/Wave-Play/robo.js-sub007/internal/manifest"
	"github.com/Wave-Play/robo.js-sub007/internal/portal"
	"github.com/Wave-Play/robo.js-sub007/internal/route"
	"github.com/Wave-Play/robo.js-sub007/pkg/errutil"
)

const root = "/project"

var (
	commands = route.Definition{Name: "commands", Namespace: "discord"}
	events   = route.Definition{Name: "events", Namespace: "discord", Multiple: true}
	tasks    = route.Definition{Name: "tasks", Namespace: "cron"}
)

func handlerEntry(def route.Definition, id, key, module string) manifest.HandlerEntry {
	return manifest.HandlerEntry{
		ID:        id,
		Key:       key,
		Type:      def.Type(),
		Namespace: def.Namespace,
		Route:     def.Name,
		Module:    module,
		FilePath:  "src/" + def.Namespace + "/" + def.Name + "/" + id + ".go",
	}
}

func abs(e manifest.HandlerEntry) string {
	return filepath.Join(root, filepath.FromSlash(e.FilePath))
}

func testManifest(entries ...manifest.HandlerEntry) *manifest.Manifest {
	m := &manifest.Manifest{
		Routes: map[string][]route.Definition{
			"discord": {commands, events},
			"cron":    {tasks},
		},
		Handlers: map[string]map[string][]manifest.HandlerEntry{
			"discord": {"commands": {}, "events": {}},
			"cron":    {"tasks": {}},
		},
	}
	for _, e := range entries {
		m.Handlers[e.Namespace][e.Route] = append(m.Handlers[e.Namespace][e.Route], e)
	}
	return m
}

func memoryFor(entries ...manifest.HandlerEntry) *loader.Memory {
	mem := loader.NewMemory()
	for _, e := range entries {
		id := e.ID
		mem.Handler(abs(e), func(context.Context, ...any) (any, error) { return id, nil }, map[string]any{"id": id})
	}
	return mem
}

func TestPortal_LoadOnceCaching(t *testing.T) {
	ping := handlerEntry(commands, "ping", "ping", "")
	mem := memoryFor(ping)
	p := portal.New(mem, testManifest(ping), portal.WithRoot(root))

	first, err := p.GetHandler(context.Background(), "discord", "commands", "ping")
	require.NoError(t, err)
	second, err := p.GetHandler(context.Background(), "discord", "commands", "ping")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, mem.Loads(abs(ping)))

	require.NoError(t, p.ReloadHandler("discord", "commands", "ping"))
	third, err := p.GetHandler(context.Background(), "discord", "commands", "ping")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 2, mem.Loads(abs(ping)))

	out, err := third.Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ping", out)
}

func TestPortal_NotFound(t *testing.T) {
	p := portal.New(loader.NewMemory(), testManifest(), portal.WithRoot(root))

	_, err := p.GetHandler(context.Background(), "discord", "commands", "nope")
	errutil.AssertErrorCode(t, err, portal.CodeHandlerNotFound)

	_, err = p.GetHandler(context.Background(), "discord", "buttons", "nope")
	errutil.AssertErrorCode(t, err, portal.CodeHandlerNotFound)

	err = p.ReloadHandler("discord", "commands", "nope")
	errutil.AssertErrorCode(t, err, portal.CodeHandlerNotFound)
}

func TestPortal_FailedImportIsNotCached(t *testing.T) {
	ping := handlerEntry(commands, "ping", "ping", "")
	mem := loader.NewMemory()
	mem.Fail(abs(ping), errors.New("syntax error"))
	p := portal.New(mem, testManifest(ping), portal.WithRoot(root))

	_, err := p.GetHandler(context.Background(), "discord", "commands", "ping")
	errutil.AssertErrorCode(t, err, loader.CodeImportFailed)

	rec, err := p.Lookup("discord", "commands", "ping")
	require.NoError(t, err)
	state, stateErr := rec.State()
	assert.Equal(t, portal.StateFailed, state)
	assert.Error(t, stateErr)

	mem.Handler(abs(ping), func(context.Context, ...any) (any, error) { return "fixed", nil }, nil)
	mod, err := p.GetHandler(context.Background(), "discord", "commands", "ping")
	require.NoError(t, err)
	out, _ := mod.Call(context.Background())
	assert.Equal(t, "fixed", out)

	state, _ = rec.State()
	assert.Equal(t, portal.StateLoaded, state)
}

// gatedLoader blocks every import until release is closed.
type gatedLoader struct {
	entered chan struct{}
	release chan struct{}
	loads   atomic.Int32
}

func newGatedLoader() *gatedLoader {
	return &gatedLoader{entered: make(chan struct{}, 64), release: make(chan struct{})}
}

func (g *gatedLoader) Load(_ context.Context, path string) (*loader.Module, error) {
	n := g.loads.Add(1)
	g.entered <- struct{}{}
	<-g.release
	return &loader.Module{Path: path, Config: map[string]any{"n": int(n)}}, nil
}

func (g *gatedLoader) Extensions() []string { return []string{".go"} }

func TestPortal_ConcurrentLookupsShareOneImport(t *testing.T) {
	ping := handlerEntry(commands, "ping", "ping", "")
	gl := newGatedLoader()
	p := portal.New(gl, testManifest(ping), portal.WithRoot(root))

	const callers = 16
	mods := make([]*loader.Module, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mod, err := p.GetHandler(context.Background(), "discord", "commands", "ping")
			assert.NoError(t, err)
			mods[i] = mod
		}()
	}

	<-gl.entered
	close(gl.release)
	wg.Wait()

	assert.Equal(t, int32(1), gl.loads.Load())
	for _, m := range mods {
		assert.Same(t, mods[0], m)
	}
}

func TestPortal_ReloadDuringImportDiscardsStaleResult(t *testing.T) {
	ping := handlerEntry(commands, "ping", "ping", "")
	gl := newGatedLoader()
	p := portal.New(gl, testManifest(ping), portal.WithRoot(root))

	done := make(chan *loader.Module)
	go func() {
		mod, err := p.GetHandler(context.Background(), "discord", "commands", "ping")
		assert.NoError(t, err)
		done <- mod
	}()

	<-gl.entered
	require.NoError(t, p.ReloadHandler("discord", "commands", "ping"))
	close(gl.release)

	mod := <-done
	assert.Equal(t, 2, mod.Config["n"], "the import started before the reload must not be served")

	again, err := p.GetHandler(context.Background(), "discord", "commands", "ping")
	require.NoError(t, err)
	assert.Same(t, mod, again)
}

func TestPortal_ModuleTogglePropagatesAcrossRoutes(t *testing.T) {
	ban := handlerEntry(commands, "ban", "ban", "moderation")
	warn := handlerEntry(events, "warn", "messageCreate", "moderation")
	ping := handlerEntry(commands, "ping", "ping", "")
	backup := handlerEntry(tasks, "backup", "backup", "ops")
	p := portal.New(loader.NewMemory(), testManifest(ban, warn, ping, backup), portal.WithRoot(root))

	mod := p.Module("moderation")
	mod.Disable()
	mod.Disable()
	assert.False(t, mod.IsEnabled())
	assert.Len(t, mod.Records(), 2)

	for _, key := range []struct{ route, key string }{{"commands", "ban"}, {"events", "messageCreate"}} {
		rec, err := p.Lookup("discord", key.route, key.key)
		require.NoError(t, err)
		assert.False(t, rec.Enabled(), key.key)
	}

	rec, err := p.Lookup("discord", "commands", "ping")
	require.NoError(t, err)
	assert.True(t, rec.Enabled())
	rec, err = p.Lookup("cron", "tasks", "backup")
	require.NoError(t, err)
	assert.True(t, rec.Enabled())

	mod.Enable()
	rec, err = p.Lookup("discord", "commands", "ban")
	require.NoError(t, err)
	assert.True(t, rec.Enabled())

	assert.Equal(t, []string{"moderation", "ops"}, p.Modules())
}

func TestPortal_RecordToggle(t *testing.T) {
	ping := handlerEntry(commands, "ping", "ping", "fun")
	p := portal.New(loader.NewMemory(), testManifest(ping), portal.WithRoot(root))

	rec, err := p.Lookup("discord", "commands", "ping")
	require.NoError(t, err)
	rec.SetEnabled(false)
	assert.False(t, rec.Enabled())
	rec.SetEnabled(true)
	p.Module("fun").Disable()
	assert.False(t, rec.Enabled(), "a disabled module wins over the record flag")
}

func TestPortal_GetHandlersForMultipleRoute(t *testing.T) {
	a := handlerEntry(events, "ready:0", "ready", "")
	b := handlerEntry(events, "ai:ready:1", "ready", "")
	c := handlerEntry(events, "ai:message", "message", "")
	p := portal.New(memoryFor(a, b, c), testManifest(a, b, c), portal.WithRoot(root))

	recs, err := p.GetHandlers("discord", "events", "ready")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "ready:0", recs[0].ID())
	assert.Equal(t, "ai:ready:1", recs[1].ID())

	mod, err := recs[1].Handler(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ai:ready:1", mod.Config["id"])

	assert.Len(t, p.Records("discord", "events"), 3)
	assert.Equal(t, []string{"cron:tasks", "discord:commands", "discord:events"}, p.Routes())
}

func TestPortal_Controllers(t *testing.T) {
	ping := handlerEntry(commands, "ping", "ping", "")
	p := portal.New(loader.NewMemory(), testManifest(ping), portal.WithRoot(root))

	_, err := p.GetController("discord", "commands", "ping")
	errutil.AssertErrorCode(t, err, portal.CodeControllerNotFound)

	type toggle struct {
		key   string
		state any
		rec   *portal.Record
	}
	var calls int
	require.NoError(t, p.RegisterController("discord", "commands", func(key string, rec *portal.Record, state any) (any, error) {
		calls++
		return &toggle{key: key, state: state, rec: rec}, nil
	}, "plugin-state"))

	c, err := p.GetController("discord", "commands", "ping")
	require.NoError(t, err)
	ctl, ok := c.(*toggle)
	require.True(t, ok)
	assert.Equal(t, "ping", ctl.key)
	assert.Equal(t, "plugin-state", ctl.state)
	assert.Equal(t, "ping", ctl.rec.ID())

	again, err := p.GetController("discord", "commands", "ping")
	require.NoError(t, err)
	assert.Same(t, ctl, again)
	assert.Equal(t, 1, calls)

	_, err = p.GetController("discord", "commands", "nope")
	errutil.AssertErrorCode(t, err, portal.CodeHandlerNotFound)

	err = p.RegisterController("discord", "buttons", nil, nil)
	errutil.AssertErrorCode(t, err, portal.CodeRouteNotFound)
}

func TestPortal_Unload(t *testing.T) {
	ping := handlerEntry(commands, "ping", "ping", "")
	p := portal.New(memoryFor(ping), testManifest(ping), portal.WithRoot(root))

	rec, err := p.Lookup("discord", "commands", "ping")
	require.NoError(t, err)
	_, err = rec.Handler(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Unload("discord", "commands", "ping"))
	_, err = p.GetHandler(context.Background(), "discord", "commands", "ping")
	errutil.AssertErrorCode(t, err, portal.CodeHandlerNotFound)
	_, err = rec.Handler(context.Background())
	errutil.AssertErrorCode(t, err, portal.CodeHandlerNotFound)

	err = p.Unload("discord", "commands", "ping")
	errutil.AssertErrorCode(t, err, portal.CodeHandlerNotFound)
}

func TestPortal_ClearCache(t *testing.T) {
	ping := handlerEntry(commands, "ping", "ping", "fun")
	mem := memoryFor(ping)
	p := portal.New(mem, testManifest(ping), portal.WithRoot(root))

	first, err := p.GetHandler(context.Background(), "discord", "commands", "ping")
	require.NoError(t, err)
	p.Module("fun").Disable()

	p.ClearCache()
	p.ClearCache()

	assert.True(t, p.Module("fun").IsEnabled())
	second, err := p.GetHandler(context.Background(), "discord", "commands", "ping")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestPortal_ReloadRouteFromStore(t *testing.T) {
	buildDir := t.TempDir()
	store := manifest.NewStore(buildDir)

	ping := handlerEntry(commands, "ping", "ping", "")
	pong := handlerEntry(commands, "pong", "pong", "")
	m := testManifest(ping)
	require.NoError(t, store.Save(m))

	p := portal.New(memoryFor(ping, pong), m, portal.WithRoot(root), portal.WithStore(store))
	rec, err := p.Lookup("discord", "commands", "ping")
	require.NoError(t, err)
	rec.SetEnabled(false)

	require.NoError(t, store.Save(testManifest(ping, pong)))
	require.NoError(t, p.ReloadRoute("discord", "commands"))

	records := p.Records("discord", "commands")
	require.Len(t, records, 2)
	assert.False(t, records[0].Enabled(), "enable flag survives for the same id")
	assert.True(t, records[1].Enabled())

	_, err = p.GetHandler(context.Background(), "discord", "commands", "pong")
	require.NoError(t, err)

	err = p.ReloadRoute("discord", "buttons")
	errutil.AssertErrorCode(t, err, manifest.CodeManifestNotFound)
}

func TestPortal_ReloadRouteWithoutStore(t *testing.T) {
	p := portal.New(loader.NewMemory(), testManifest())
	err := p.ReloadRoute("discord", "commands")
	errutil.AssertErrorCode(t, err, portal.CodeNoStore)
}

func TestPortal_ReloadRouteReplacesDefinition(t *testing.T) {
	store := manifest.NewStore(t.TempDir())
	ping := handlerEntry(commands, "ping", "ping", "")
	m := testManifest(ping)
	require.NoError(t, store.Save(m))

	p := portal.New(memoryFor(ping), m, portal.WithRoot(root), portal.WithStore(store))
	def, ok := p.Definition("discord", "commands")
	require.True(t, ok)
	assert.False(t, def.Multiple)

	next := testManifest(ping)
	next.Routes["discord"][0].Multiple = true
	require.NoError(t, store.Save(next))
	require.NoError(t, p.ReloadRoute("discord", "commands"))

	def, ok = p.Definition("discord", "commands")
	require.True(t, ok)
	assert.True(t, def.Multiple)
}

func TestPortal_RemoveRoute(t *testing.T) {
	task := handlerEntry(tasks, "cleanup", "cleanup", "")
	p := portal.New(memoryFor(task), testManifest(task), portal.WithRoot(root))
	rec, err := p.Lookup("cron", "tasks", "cleanup")
	require.NoError(t, err)

	require.NoError(t, p.RemoveRoute("cron", "tasks"))
	assert.NotContains(t, p.Routes(), "cron:tasks")

	_, err = p.GetHandler(context.Background(), "cron", "tasks", "cleanup")
	errutil.AssertErrorCode(t, err, portal.CodeHandlerNotFound)
	_, err = rec.Handler(context.Background())
	errutil.AssertErrorCode(t, err, portal.CodeHandlerNotFound)

	err = p.RemoveRoute("cron", "tasks")
	errutil.AssertErrorCode(t, err, portal.CodeRouteNotFound)
}

// cancelAwareLoader fails imports whose context is already done.
type cancelAwareLoader struct {
	*loader.Memory
}

func (l cancelAwareLoader) Load(ctx context.Context, path string) (*loader.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.Memory.Load(ctx, path)
}

func TestPortal_SharedImportIgnoresCallerCancellation(t *testing.T) {
	ping := handlerEntry(commands, "ping", "ping", "")
	p := portal.New(cancelAwareLoader{memoryFor(ping)}, testManifest(ping), portal.WithRoot(root))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mod, err := p.GetHandler(ctx, "discord", "commands", "ping")
	require.NoError(t, err)
	out, err := mod.Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ping", out)
}
