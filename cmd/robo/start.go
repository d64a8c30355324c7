// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/Wave-Play/robo.js-sub007/internal/app"
	"github.com/Wave-Play/robo.js-sub007/internal/dispatch"
	"github.com/Wave-Play/robo.js-sub007/internal/observability"
	"github.com/Wave-Play/robo.js-sub007/internal/portal"
)

// shutdownTimeout bounds stop hooks and in-flight handlers on exit.
const shutdownTimeout = 10 * time.Second

// NewStartCmd creates the start subcommand.
func NewStartCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the runtime from the last build",
		Long: `Load the build manifest, run init and start hooks, and serve handlers
until interrupted. With --watch, new builds are picked up without a restart.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd, watch)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "reload routes when a new build is written")

	return cmd
}

func runStart(cmd *cobra.Command, watch bool) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt := app.NewRuntime(p.cfg, p.loader,
		app.WithLogger(p.logger),
		app.WithHostVersion(version))

	var obsServer *observability.Server
	if p.cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(p.cfg.Metrics.Addr, rt.Ready,
			dispatch.RegisterMetrics,
			portal.RegisterMetrics)
		rt.OnManifest(obsServer.Observe)

		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", p.cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	if err := rt.Start(ctx); err != nil {
		stopObservability(obsServer)
		return err
	}

	if watch {
		go func() {
			if err := rt.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("manifest watcher stopped", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Robo started")
	slog.Info("runtime ready",
		"project", p.cfg.Name,
		"mode", p.cfg.Mode,
		"watch", watch)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}
	cancel()

	slog.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	stopErr := rt.Stop(shutdownCtx)
	stopObservability(obsServer)
	if stopErr != nil {
		return stopErr
	}

	slog.Info("shutdown complete")
	return nil
}

func stopObservability(s *observability.Server) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errChan <-chan error, name string) {
	select {
	case err, ok := <-errChan:
		if ok && err != nil {
			slog.Error("server failed", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
