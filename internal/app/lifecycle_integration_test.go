// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

//go:build integration

package app_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/Wave-Play/robo.js-sub007/internal/app"
	"github.com/Wave-Play/robo.js-sub007/internal/config"
	"github.com/Wave-Play/robo.js-sub007/internal/dispatch"
	"github.com/Wave-Play/robo.js-sub007/internal/loader"
)

// goProject is a project whose handler and hook files exist on disk but are
// served from Go through a memory loader.
type goProject struct {
	root string
	mem  *loader.Memory

	mu    sync.Mutex
	trace []string
}

func newGoProject(yaml string) *goProject {
	p := &goProject{root: GinkgoT().TempDir(), mem: loader.NewMemory()}
	p.file(config.FileName, yaml)
	return p
}

func (p *goProject) file(rel, content string) string {
	path := filepath.Join(p.root, filepath.FromSlash(rel))
	Expect(os.MkdirAll(filepath.Dir(path), 0o750)).To(Succeed())
	Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
	return path
}

// traced adds a Go-backed file that appends name to the trace when called.
func (p *goProject) traced(rel, name string) {
	path := p.file(rel, "")
	p.mem.Handler(path, func(context.Context, ...any) (any, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.trace = append(p.trace, name)
		return nil, nil
	}, nil)
}

func (p *goProject) handler(rel string, fn loader.Func) {
	p.mem.Handler(p.file(rel, ""), fn, nil)
}

func (p *goProject) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.trace...)
}

func (p *goProject) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trace = nil
}

func (p *goProject) config() *config.Config {
	cfg, err := config.Load(p.root, nil)
	Expect(err).NotTo(HaveOccurred())
	return cfg
}

const lifecycleConfig = `
name: lifecycle
version: 0.1.0
timeouts:
  lifecycle: 100ms
routes:
  - name: commands
    namespace: discord
  - name: events
    namespace: discord
    multiple: true
plugins:
  - alpha
  - beta
`

var _ = Describe("Runtime lifecycle", func() {
	var (
		p   *goProject
		cfg *config.Config
		rt  *app.Runtime
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		p = newGoProject(lifecycleConfig)
		p.file("plugins/alpha/plugin.yaml", "name: alpha\nversion: 1.0.0\n")
		p.file("plugins/beta/plugin.yaml", "name: beta\nversion: 1.0.0\n")

		for _, owner := range []struct{ name, dir string }{
			{"project", "src"},
			{"alpha", "plugins/alpha"},
			{"beta", "plugins/beta"},
		} {
			for _, h := range []string{"init", "start", "stop"} {
				p.traced(owner.dir+"/robo/"+h+".go", h+":"+owner.name)
			}
		}
		p.traced("src/discord/events/_start.go", "event:_start")
		p.traced("src/discord/events/_stop.go", "event:_stop")
		p.handler("src/discord/commands/ping.go", func(context.Context, ...any) (any, error) {
			return "pong", nil
		})

		cfg = p.config()
		_, err := app.Build(ctx, cfg, p.mem)
		Expect(err).NotTo(HaveOccurred())
		rt = app.NewRuntime(cfg, p.mem)
	})

	It("runs init and start hooks in registration order before the start event", func() {
		Expect(rt.Start(ctx)).To(Succeed())
		DeferCleanup(func() { _ = rt.Stop(context.Background()) })

		Expect(p.calls()).To(Equal([]string{
			"init:project", "init:alpha", "init:beta",
			"start:project", "start:alpha", "start:beta",
			"event:_start",
		}))
	})

	It("stops the project first, then plugins in reverse order", func() {
		Expect(rt.Start(ctx)).To(Succeed())
		p.reset()

		Expect(rt.Stop(ctx)).To(Succeed())
		Expect(p.calls()).To(Equal([]string{
			"event:_stop",
			"stop:project", "stop:beta", "stop:alpha",
		}))
	})

	It("serves commands while running", func() {
		Expect(rt.Start(ctx)).To(Succeed())
		DeferCleanup(func() { _ = rt.Stop(context.Background()) })

		res, err := rt.Command(ctx, "ping", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(dispatch.StatusSuccess))
	})
})

var _ = Describe("Lifecycle event timeout", func() {
	It("does not let a hanging _start handler block startup", func() {
		ctx := context.Background()
		p := newGoProject(lifecycleConfig)
		p.file("plugins/alpha/plugin.yaml", "name: alpha\nversion: 1.0.0\n")
		p.file("plugins/beta/plugin.yaml", "name: beta\nversion: 1.0.0\n")

		release := make(chan struct{})
		p.handler("src/discord/events/_start.go", func(context.Context, ...any) (any, error) {
			<-release
			return nil, nil
		})
		p.traced("plugins/alpha/discord/events/_start.go", "event:_start:alpha")

		cfg := p.config()
		_, err := app.Build(ctx, cfg, p.mem)
		Expect(err).NotTo(HaveOccurred())

		rt := app.NewRuntime(cfg, p.mem)
		started := time.Now()
		Expect(rt.Start(ctx)).To(Succeed())
		Expect(time.Since(started)).To(BeNumerically("<", 2*time.Second))
		Expect(p.calls()).To(ContainElement("event:_start:alpha"))

		close(release)
		Expect(rt.Stop(ctx)).To(Succeed())
	})
})

var _ = Describe("Watching for new builds", func() {
	It("reloads routes when a new manifest is saved", func() {
		ctx, cancel := context.WithCancel(context.Background())
		DeferCleanup(cancel)

		p := newGoProject(lifecycleConfig)
		p.file("plugins/alpha/plugin.yaml", "name: alpha\nversion: 1.0.0\n")
		p.file("plugins/beta/plugin.yaml", "name: beta\nversion: 1.0.0\n")
		p.handler("src/discord/commands/ping.go", func(context.Context, ...any) (any, error) {
			return "pong", nil
		})

		cfg := p.config()
		_, err := app.Build(ctx, cfg, p.mem)
		Expect(err).NotTo(HaveOccurred())

		rt := app.NewRuntime(cfg, p.mem)
		Expect(rt.Start(ctx)).To(Succeed())
		DeferCleanup(func() { _ = rt.Stop(context.Background()) })

		watchDone := make(chan error, 1)
		go func() { watchDone <- rt.Watch(ctx) }()
		DeferCleanup(func() {
			cancel()
			Eventually(watchDone).Should(Receive())
		})
		// Let the watcher register before the next build lands.
		time.Sleep(100 * time.Millisecond)

		p.handler("src/discord/commands/uptime.go", func(context.Context, ...any) (any, error) {
			return "up", nil
		})
		_, err = app.Build(ctx, cfg, p.mem)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() error {
			_, err := rt.Command(ctx, "uptime", nil)
			return err
		}).WithTimeout(3 * time.Second).WithPolling(50 * time.Millisecond).Should(Succeed())
	})
})
