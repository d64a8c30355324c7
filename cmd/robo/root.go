// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/Wave-Play/robo.js-sub007/internal/config"
	"github.com/Wave-Play/robo.js-sub007/internal/loader"
	lualoader "github.com/Wave-Play/robo.js-sub007/internal/loader/lua"
	"github.com/Wave-Play/robo.js-sub007/internal/logging"
	"github.com/Wave-Play/robo.js-sub007/internal/manifest"
)

// serviceName tags every log line.
const serviceName = "robo"

// Global flags available to all subcommands.
var projectRoot string

// NewRootCmd creates the root command for the robo CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "robo",
		Short: "Robo - a convention-driven plugin host",
		Long: `Robo discovers handlers from directory conventions, records them in a
build manifest and dispatches commands and events to them at runtime.
Plugins contribute routes, handlers and lifecycle hooks.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project directory")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewBuildCmd())
	cmd.AddCommand(NewStartCmd())
	cmd.AddCommand(NewManifestCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}

// project is the loaded state every subcommand starts from.
type project struct {
	cfg    *config.Config
	logger *slog.Logger
	loader loader.Loader
}

// loadProject reads the project configuration, sets up logging and builds the
// handler loader. Handler env lookups see the project's .env files.
func loadProject(cmd *cobra.Command) (*project, error) {
	cfg, err := config.Load(projectRoot, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger := logging.Setup(serviceName, version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level), cmd.ErrOrStderr())
	slog.SetDefault(logger)

	lookup, err := manifest.LoadEnv(cfg.Root, cfg.Mode)
	if err != nil {
		return nil, err
	}
	l, err := lualoader.NewLoader(
		lualoader.WithEnv(func(name string) string {
			v, _ := lookup(name)
			return v
		}),
		lualoader.WithLogger(logger),
	)
	if err != nil {
		return nil, oops.Code("LOADER_INIT_FAILED").With("operation", "create lua loader").Wrap(err)
	}

	return &project{cfg: cfg, logger: logger, loader: l}, nil
}
