// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package main

import (
	"encoding/json"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/Wave-Play/robo.js-sub007/internal/manifest"
)

// NewManifestCmd creates the manifest subcommand.
func NewManifestCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Print the last build manifest",
		Long:  `Print one line per handler, hook and plugin of the last build, or the full manifest as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runManifest(cmd, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the manifest as JSON")

	return cmd
}

func runManifest(cmd *cobra.Command, asJSON bool) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	m, err := manifest.NewStore(p.cfg.BuildPath()).Load()
	if err != nil {
		return oops.Hint("run 'robo build' first").Wrap(err)
	}

	if asJSON {
		out, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return oops.In("manifest").Wrapf(err, "encode manifest")
		}
		cmd.Println(string(out))
		return nil
	}

	cmd.Printf("%s %s (%s, built %s)\n", m.Project.Name, m.Project.Version, m.Project.BuildHash, m.Project.BuildTime.Format("2006-01-02 15:04:05"))
	cmd.Print(manifest.Summary(m))
	return nil
}
