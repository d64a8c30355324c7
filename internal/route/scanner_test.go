// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package route_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wave-Play/robo.js-sub007/internal/loader"
	"github.com/Wave-Play/robo.js-sub007/internal/route"
	"github.com/Wave-Play/robo.js-sub007/pkg/errutil"
)

func noop(context.Context, ...any) (any, error) { return nil, nil }

// fakeLoader serves every .mem file as a module with a default export.
func fakeLoader() *loader.Memory {
	return loader.NewMemory(
		loader.WithExtensions(".mem"),
		loader.WithFallback(func(string) (*loader.Module, error) {
			return &loader.Module{Default: noop}, nil
		}),
	)
}

// tree creates empty files under dir.
func tree(t *testing.T, dir string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(dir, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, nil, 0o600))
	}
}

func keys(entries []route.ScannedEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Key)
	}
	return out
}

func commandsRoute() route.Definition {
	return route.Definition{
		Name:      "commands",
		Namespace: "discord",
		Key:       route.KeyConfig{Style: route.KeyFilepath},
		Nesting:   route.NestingConfig{AllowIndex: true},
	}
}

func TestScanner_FilepathKeys(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir,
		"discord/commands/ping.mem",
		"discord/commands/admin/ban.mem",
		"discord/commands/admin/index.mem",
		"discord/commands/readme.txt",
	)

	entries, err := route.NewScanner(fakeLoader()).Scan(context.Background(), commandsRoute(), dir)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"ping", "admin/ban", "admin"}, keys(entries))
	for _, e := range entries {
		assert.Equal(t, "discord:commands", e.Type)
		assert.Equal(t, []string{"default"}, e.Exports)
	}
}

func TestScanner_FilesBeforeSubdirectories(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir,
		"discord/commands/a/x.mem",
		"discord/commands/z.mem",
	)

	entries, err := route.NewScanner(fakeLoader()).Scan(context.Background(), commandsRoute(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a/x"}, keys(entries))
}

func TestScanner_IndexBinding(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir,
		"discord/commands/index.mem",
		"discord/commands/admin/index.mem",
	)

	entries, err := route.NewScanner(fakeLoader()).Scan(context.Background(), commandsRoute(), dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "root index must be dropped")
	assert.Equal(t, "admin", entries[0].Key)
	assert.Equal(t, "admin/index.mem", entries[0].RelativePath)
	assert.Equal(t, "discord/commands/admin/index.mem", entries[0].FilePath)
}

func TestScanner_IndexWithoutBinding(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir, "discord/commands/index.mem", "discord/commands/admin/index.mem")

	def := commandsRoute()
	def.Nesting.AllowIndex = false
	entries, err := route.NewScanner(fakeLoader()).Scan(context.Background(), def, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"index", "admin/index"}, keys(entries))
}

func TestScanner_KeyStyles(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir, "discord/commands/admin/ban-user.mem")

	tests := []struct {
		name string
		key  route.KeyConfig
		want string
	}{
		{"filename", route.KeyConfig{Style: route.KeyFilename}, "ban-user"},
		{"default is filename", route.KeyConfig{}, "ban-user"},
		{"filepath", route.KeyConfig{Style: route.KeyFilepath}, "admin/ban-user"},
		{"filepath separator", route.KeyConfig{Style: route.KeyFilepath, Separator: " "}, "admin ban-user"},
		{"camelCase", route.KeyConfig{Style: route.KeyCamelCase}, "adminBanUser"},
		{"dotNotation", route.KeyConfig{Style: route.KeyDotNotation}, "admin.ban-user"},
		{"transform", route.KeyConfig{
			Style: route.KeyFilepath,
			Transform: func(key string, segments []string) string {
				return strings.ToUpper(key) + "#" + segments[0]
			},
		}, "ADMIN/BAN-USER#admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := commandsRoute()
			def.Key = tt.key
			entries, err := route.NewScanner(fakeLoader()).Scan(context.Background(), def, dir)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.want, entries[0].Key)
		})
	}
}

func TestScanner_DynamicSegments(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir,
		"api/routes/users/[id]/posts/[...rest]/index.mem",
		"api/routes/[[...slug]]/index.mem",
		"api/routes/static.mem",
	)
	def := route.Definition{
		Name:      "routes",
		Namespace: "api",
		Key:       route.KeyConfig{Style: route.KeyFilepath},
		Nesting:   route.NestingConfig{AllowIndex: true},
	}

	entries, err := route.NewScanner(fakeLoader()).Scan(context.Background(), def, dir)
	require.NoError(t, err)

	byKey := make(map[string]route.ScannedEntry)
	for _, e := range entries {
		byKey[e.Key] = e
	}
	require.Len(t, byKey, 3)

	nested := byKey["users/[id]/posts/[...rest]"].DynamicSegments
	require.NotNil(t, nested)
	assert.Equal(t, []string{"id"}, nested.Params)
	assert.Equal(t, &route.CatchAll{Param: "rest", Optional: false}, nested.CatchAll)

	optional := byKey["[[...slug]]"].DynamicSegments
	require.NotNil(t, optional)
	assert.Empty(t, optional.Params)
	assert.Equal(t, &route.CatchAll{Param: "slug", Optional: true}, optional.CatchAll)

	assert.Nil(t, byKey["static"].DynamicSegments)
}

func TestScanner_DynamicFileNameIsNotASegment(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir, "api/routes/users/[id].mem")
	def := route.Definition{Name: "routes", Namespace: "api", Key: route.KeyConfig{Style: route.KeyFilepath}}

	entries, err := route.NewScanner(fakeLoader()).Scan(context.Background(), def, dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].DynamicSegments)
}

func TestScanner_TwoCatchAllsSkipFile(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir,
		"api/routes/[...a]/[...b]/x.mem",
		"api/routes/ok.mem",
	)
	def := route.Definition{Name: "routes", Namespace: "api", Key: route.KeyConfig{Style: route.KeyFilepath}}

	entries, err := route.NewScanner(fakeLoader()).Scan(context.Background(), def, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, keys(entries))
}

func TestScanner_CustomSegmentPatterns(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir, "api/routes/users/:id/x.mem")
	def := route.Definition{
		Name:      "routes",
		Namespace: "api",
		Key:       route.KeyConfig{Style: route.KeyFilepath},
		Nesting:   route.NestingConfig{DynamicPattern: `^:(\w+)$`},
	}

	entries, err := route.NewScanner(fakeLoader()).Scan(context.Background(), def, dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].DynamicSegments)
	assert.Equal(t, []string{"id"}, entries[0].DynamicSegments.Params)
}

func TestScanner_MissingDirectory(t *testing.T) {
	entries, err := route.NewScanner(fakeLoader()).Scan(context.Background(), commandsRoute(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScanner_ImportFailureExcludesOnlyThatFile(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir, "discord/commands/bad.mem", "discord/commands/good.mem")

	mem := fakeLoader()
	mem.Fail(filepath.Join(dir, "discord/commands/bad.mem"), errors.New("syntax error"))

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	entries, err := route.NewScanner(mem, route.WithLogger(logger)).Scan(context.Background(), commandsRoute(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, keys(entries))
	assert.Contains(t, logs.String(), "failed to import handler")
}

func TestScanner_Filter(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir,
		"discord/commands/ping.mem",
		"discord/commands/admin/ban.mem",
		"discord/commands/admin/kick.mem",
	)
	def := commandsRoute()
	def.Filter = "admin/*"

	entries, err := route.NewScanner(fakeLoader()).Scan(context.Background(), def, dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admin/ban", "admin/kick"}, keys(entries))
}

func TestScanner_MaxDepth(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir,
		"discord/commands/a.mem",
		"discord/commands/one/b.mem",
		"discord/commands/one/two/c.mem",
	)
	def := commandsRoute()
	def.Nesting.MaxDepth = 1

	entries, err := route.NewScanner(fakeLoader()).Scan(context.Background(), def, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "one/b"}, keys(entries))
}

func TestScanner_ExportsShape(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir,
		"discord/commands/full.mem",
		"discord/commands/noconfig.mem",
		"discord/commands/nodefault.mem",
	)
	mem := loader.NewMemory(loader.WithExtensions(".mem"))
	mem.Register(filepath.Join(dir, "discord/commands/full.mem"), &loader.Module{
		Default: noop,
		Config:  map[string]any{"description": "full"},
		Named:   map[string]any{"autocomplete": loader.Func(noop), "ignored": 1},
	})
	mem.Register(filepath.Join(dir, "discord/commands/noconfig.mem"), &loader.Module{Default: noop})
	mem.Register(filepath.Join(dir, "discord/commands/nodefault.mem"), &loader.Module{Config: map[string]any{}})

	def := commandsRoute()
	def.Exports = route.ExportsConfig{
		Default: route.RequireRequired,
		Config:  route.RequireOptional,
		Named:   []string{"autocomplete"},
	}

	entries, err := route.NewScanner(mem).Scan(context.Background(), def, dir)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"full", "noconfig"}, keys(entries))

	for _, e := range entries {
		if e.Key == "full" {
			assert.Equal(t, []string{"default", "config", "autocomplete"}, e.Exports)
			assert.Equal(t, "full", e.Config["description"])
		}
	}

	def.Exports.Config = route.RequireForbidden
	entries, err = route.NewScanner(mem).Scan(context.Background(), def, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"noconfig"}, keys(entries))
}

func TestScanner_Modules(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir,
		"discord/commands/ping.mem",
		"modules/moderation/discord/commands/ban.mem",
		"modules/fun/discord/commands/dice.mem",
	)

	scanner := route.NewScanner(fakeLoader())
	entries, err := scanner.ScanModules(context.Background(), commandsRoute(), dir)
	require.NoError(t, err)

	got := make(map[string]string)
	for _, e := range entries {
		got[e.Key] = e.Module
	}
	assert.Equal(t, map[string]string{"ban": "moderation", "dice": "fun"}, got)

	none, err := scanner.ScanModules(context.Background(), commandsRoute(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScanner_ProjectRelativePaths(t *testing.T) {
	project := t.TempDir()
	pluginSrc := filepath.Join(project, "plugins", "fun")
	tree(t, pluginSrc, "discord/commands/dice.mem")

	entries, err := route.NewScanner(fakeLoader(), route.WithProjectRoot(project)).
		Scan(context.Background(), commandsRoute(), pluginSrc)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "plugins/fun/discord/commands/dice.mem", entries[0].FilePath)
	assert.Equal(t, "dice.mem", entries[0].RelativePath)
}

func TestScanner_Idempotent(t *testing.T) {
	dir := t.TempDir()
	tree(t, dir,
		"discord/commands/a.mem",
		"discord/commands/b/c.mem",
		"discord/commands/b/index.mem",
	)
	scanner := route.NewScanner(fakeLoader())

	first, err := scanner.Scan(context.Background(), commandsRoute(), dir)
	require.NoError(t, err)
	second, err := scanner.Scan(context.Background(), commandsRoute(), dir)
	require.NoError(t, err)

	sortByKey := func(e []route.ScannedEntry) {
		sort.Slice(e, func(i, j int) bool { return e[i].Key < e[j].Key })
	}
	sortByKey(first)
	sortByKey(second)
	assert.Equal(t, first, second)
}

func TestScanner_DigestTracksContents(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "discord", "commands", "ping.mem")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o750))
	require.NoError(t, os.WriteFile(file, []byte("v1"), 0o600))
	s := route.NewScanner(fakeLoader())

	scan := func() string {
		t.Helper()
		entries, err := s.Scan(context.Background(), commandsRoute(), dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		return entries[0].Digest
	}

	first := scan()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, scan(), "unchanged file keeps its digest")

	require.NoError(t, os.WriteFile(file, []byte("v2"), 0o600))
	assert.NotEqual(t, first, scan())
}

func TestScanner_InvalidDefinition(t *testing.T) {
	def := commandsRoute()
	def.Nesting.DynamicPattern = `^\[(`
	_, err := route.NewScanner(fakeLoader()).Scan(context.Background(), def, t.TempDir())
	errutil.AssertErrorCode(t, err, route.CodeInvalidRoute)
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		def     route.Definition
		wantErr bool
	}{
		{"valid", commandsRoute(), false},
		{"missing name", route.Definition{Namespace: "discord"}, true},
		{"missing namespace", route.Definition{Name: "commands"}, true},
		{"bad style", route.Definition{Name: "c", Namespace: "n", Key: route.KeyConfig{Style: "kebab"}}, true},
		{"pattern without group", route.Definition{Name: "c", Namespace: "n", Nesting: route.NestingConfig{CatchAllPattern: `^\*$`}}, true},
		{"escaping directory", route.Definition{Name: "c", Namespace: "n", Directory: "../etc"}, true},
		{"bad filter", route.Definition{Name: "c", Namespace: "n", Filter: "[a-"}, true},
		{"bad requirement", route.Definition{Name: "c", Namespace: "n", Exports: route.ExportsConfig{Default: "maybe"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDefinition_DirAndType(t *testing.T) {
	def := route.Definition{Name: "events", Namespace: "discord"}
	assert.Equal(t, "discord/events", def.Dir())
	assert.Equal(t, "discord:events", def.Type())

	def.Directory = "listeners/"
	assert.Equal(t, "listeners", def.Dir())
}
