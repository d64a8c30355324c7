// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Wave-Play/robo.js-sub007/internal/app"
)

// NewBuildCmd creates the build subcommand.
func NewBuildCmd() *cobra.Command {
	var showDiff bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Scan routes and write the build manifest",
		Long: `Resolve plugins, run build hooks around route scanning and write the
manifest the runtime dispatches from.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd, showDiff)
		},
	}

	cmd.Flags().BoolVar(&showDiff, "diff", false, "print the changes against the previous build")

	return cmd
}

func runBuild(cmd *cobra.Command, showDiff bool) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	res, err := app.Build(cmd.Context(), p.cfg, p.loader,
		app.WithLogger(p.logger),
		app.WithHostVersion(version))
	if err != nil {
		return err
	}

	handlers := 0
	for _, routes := range res.Manifest.Handlers {
		for _, entries := range routes {
			handlers += len(entries)
		}
	}
	cmd.Printf("Built %d handlers from %d plugins in %s\n", handlers, len(res.Manifest.Plugins), res.Duration.Round(time.Millisecond))

	if showDiff {
		diff, err := res.Diff()
		if err != nil {
			return err
		}
		if diff == "" {
			cmd.Println("No changes")
		} else {
			cmd.Print(diff)
		}
	}
	return nil
}
