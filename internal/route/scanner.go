// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package route

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/oops"

	"github.com/Wave-Play/robo.js-sub007/internal/loader"
	"github.com/Wave-Play/robo.js-sub007/pkg/errutil"
)

// ModulesDir is the overlay directory holding cross-cutting modules.
const ModulesDir = "modules"

// indexName is the base name of files that may bind to their directory.
const indexName = "index"

// ScannedEntry is one discovered handler file.
type ScannedEntry struct {
	Key  string `json:"key"`
	Type string `json:"type"`
	// RelativePath is relative to the route directory.
	RelativePath string `json:"relativePath"`
	// FilePath is relative to the project root.
	FilePath        string           `json:"filePath"`
	Module          string           `json:"module,omitempty"`
	Plugin          string           `json:"plugin,omitempty"`
	Exports         []string         `json:"exports,omitempty"`
	Config          map[string]any   `json:"config,omitempty"`
	DynamicSegments *DynamicSegments `json:"dynamicSegments,omitempty"`
	// Digest fingerprints the file contents so edits show up in builds.
	Digest string `json:"digest,omitempty"`
}

// Scanner walks route directories and imports each file to capture its
// exports.
type Scanner struct {
	loader      loader.Loader
	projectRoot string
	logger      *slog.Logger
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithProjectRoot sets the directory FilePath is made relative to.
// Defaults to the build directory passed to Scan.
func WithProjectRoot(root string) ScannerOption {
	return func(s *Scanner) {
		s.projectRoot = root
	}
}

// WithLogger sets the scanner's logger.
func WithLogger(logger *slog.Logger) ScannerOption {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// NewScanner creates a scanner importing files through l.
func NewScanner(l loader.Loader, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		loader: l,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// scanPass carries the state of one Scan call.
type scanPass struct {
	*Scanner
	def     *compiled
	exts    []string
	root    string
	module  string
	entries []ScannedEntry
}

// Scan walks buildDir/def.Dir() and returns one entry per accepted file, in
// discovery order. A missing directory yields no entries. Files that fail
// to import, are filtered out or violate the route's export shape are
// logged and skipped.
func (s *Scanner) Scan(ctx context.Context, def Definition, buildDir string) ([]ScannedEntry, error) {
	return s.scan(ctx, def, buildDir, filepath.Join(buildDir, filepath.FromSlash(def.Dir())), "")
}

// ScanModules repeats Scan for every module under buildDir/modules, tagging
// each entry with its module name.
func (s *Scanner) ScanModules(ctx context.Context, def Definition, buildDir string) ([]ScannedEntry, error) {
	modulesRoot := filepath.Join(buildDir, ModulesDir)
	dirs, err := os.ReadDir(modulesRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.Code(CodeScanFailed).In("route").With("dir", modulesRoot).Wrap(err)
	}

	var entries []ScannedEntry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		root := filepath.Join(modulesRoot, d.Name(), filepath.FromSlash(def.Dir()))
		found, err := s.scan(ctx, def, buildDir, root, d.Name())
		if err != nil {
			return nil, err
		}
		entries = append(entries, found...)
	}
	return entries, nil
}

func (s *Scanner) scan(ctx context.Context, def Definition, buildDir, root, module string) ([]ScannedEntry, error) {
	c, err := def.compile()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("route directory missing, nothing to scan",
				"route", def.Type(),
				"dir", root)
			return nil, nil
		}
		return nil, oops.Code(CodeScanFailed).In("route").With("route", def.Type()).With("dir", root).Wrap(err)
	}

	projectRoot := s.projectRoot
	if projectRoot == "" {
		projectRoot = buildDir
	}

	pass := &scanPass{
		Scanner: s,
		def:     c,
		exts:    s.loader.Extensions(),
		root:    projectRoot,
		module:  module,
	}
	if err := pass.walk(ctx, root, nil, 0); err != nil {
		return nil, err
	}
	return pass.entries, nil
}

// walk processes the files of dir before descending into its
// subdirectories.
func (p *scanPass) walk(ctx context.Context, dir string, segments []string, depth int) error {
	if err := ctx.Err(); err != nil {
		return oops.Code(CodeScanFailed).In("route").Wrap(err)
	}

	items, err := os.ReadDir(dir)
	if err != nil {
		p.logger.Warn("skipping unreadable directory",
			"route", p.def.Type(),
			"dir", dir,
			"error", err)
		return nil
	}

	var subdirs []fs.DirEntry
	for _, item := range items {
		if item.IsDir() {
			subdirs = append(subdirs, item)
			continue
		}
		if !p.def.allowsExtension(filepath.Ext(item.Name()), p.exts) {
			continue
		}
		p.visitFile(ctx, filepath.Join(dir, item.Name()), segments, item.Name())
	}

	for _, sub := range subdirs {
		next := depth + 1
		if p.def.Nesting.MaxDepth > 0 && next > p.def.Nesting.MaxDepth {
			p.logger.Warn("max nesting depth exceeded, skipping directory",
				"route", p.def.Type(),
				"dir", filepath.Join(dir, sub.Name()),
				"max_depth", p.def.Nesting.MaxDepth)
			continue
		}
		childSegments := append(slices.Clone(segments), sub.Name())
		if err := p.walk(ctx, filepath.Join(dir, sub.Name()), childSegments, next); err != nil {
			return err
		}
	}
	return nil
}

func (p *scanPass) visitFile(ctx context.Context, abs string, segments []string, fileName string) {
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	relative := path.Join(append(slices.Clone(segments), fileName)...)

	parts := append(slices.Clone(segments), base)
	if base == indexName && p.def.Nesting.AllowIndex {
		if len(segments) == 0 {
			p.logger.Debug("skipping root index file, it would produce an empty key",
				"route", p.def.Type(),
				"file", relative)
			return
		}
		parts = slices.Clone(segments)
	}

	if p.def.filter != nil && !p.def.filter.Match(relative) {
		p.logger.Debug("file filtered out",
			"route", p.def.Type(),
			"file", relative,
			"filter", p.def.Filter)
		return
	}

	key := p.def.generateKey(parts)
	if key == "" {
		p.logger.Warn("skipping file with empty key",
			"route", p.def.Type(),
			"file", relative)
		return
	}

	dynamic, err := p.def.detectSegments(relative, segments)
	if err != nil {
		errutil.LogWarn(p.logger, "skipping file with conflicting segments", err, "route", p.def.Type())
		return
	}

	digest, err := fileDigest(abs)
	if err != nil {
		errutil.LogWarn(p.logger, "skipping unreadable handler", err, "route", p.def.Type())
		return
	}

	mod, err := p.loader.Load(ctx, abs)
	if err != nil {
		errutil.LogError(p.logger, "failed to import handler, excluding it", err,
			"route", p.def.Type(),
			"file", relative)
		return
	}
	defer mod.Close()

	if err := validateExports(relative, mod, p.def.Exports); err != nil {
		errutil.LogWarn(p.logger, "handler exports do not match route, excluding it", err, "route", p.def.Type())
		return
	}

	filePath := abs
	if rel, err := filepath.Rel(p.root, abs); err == nil {
		filePath = filepath.ToSlash(rel)
	}

	p.entries = append(p.entries, ScannedEntry{
		Key:             key,
		Type:            p.def.Type(),
		RelativePath:    relative,
		FilePath:        filePath,
		Module:          p.module,
		Exports:         captureExports(mod, p.def.Exports),
		Config:          maps.Clone(mod.Config),
		DynamicSegments: dynamic,
		Digest:          digest,
	})
}

// fileDigest returns a short sha256 of the file contents.
func fileDigest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", oops.Code(CodeScanFailed).In("route").With("file", path).Wrap(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

// validateExports checks the module against the route's export shape.
func validateExports(file string, mod *loader.Module, cfg ExportsConfig) error {
	checks := []struct {
		name string
		req  Requirement
	}{
		{loader.ExportDefault, cfg.Default},
		{loader.ExportConfig, cfg.Config},
	}
	for _, check := range checks {
		has := mod.Has(check.name)
		switch {
		case check.req == RequireRequired && !has:
			return ErrShapeMismatch(file, check.name, check.req)
		case check.req == RequireForbidden && has:
			return ErrShapeMismatch(file, check.name, check.req)
		}
	}
	return nil
}

// captureExports lists default and config when present plus every declared
// named export the module carries.
func captureExports(mod *loader.Module, cfg ExportsConfig) []string {
	var names []string
	for _, name := range append([]string{loader.ExportDefault, loader.ExportConfig}, cfg.Named...) {
		if mod.Has(name) && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}
