// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/Wave-Play/robo.js-sub007/internal/plugin"
)

// defaultSchemaPath is where the plugin manifest schema is written.
var defaultSchemaPath = filepath.Join("schemas", "plugin.schema.json")

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Generate the plugin.yaml JSON Schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := plugin.GenerateSchema()
			if err != nil {
				return err
			}
			if outPath == "-" {
				cmd.Println(string(schema))
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
				return oops.With("path", outPath).Wrapf(err, "create schema directory")
			}
			if err := os.WriteFile(outPath, schema, 0o600); err != nil {
				return oops.With("path", outPath).Wrapf(err, "write schema")
			}
			cmd.Printf("Generated %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", defaultSchemaPath, "output file, or - for stdout")

	return cmd
}
