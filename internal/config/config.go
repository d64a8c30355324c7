// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

// Package config loads the project configuration from robo.yaml with
// command-line flags layered on top.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/Wave-Play/robo.js-sub007/internal/plugin"
	"github.com/Wave-Play/robo.js-sub007/internal/route"
)

// FileName is the project configuration file looked up in the project root.
const FileName = "robo.yaml"

// CodeInvalidConfig marks configuration errors.
const CodeInvalidConfig = "INVALID_CONFIG"

// Default values.
const (
	DefaultMode       = "development"
	DefaultSrcDir     = "src"
	DefaultBuildDir   = ".robo/build"
	DefaultPluginsDir = "plugins"
	DefaultLogFormat  = "text"
	DefaultLogLevel   = "info"

	DefaultDeferBuffer = 250 * time.Millisecond
	DefaultLifecycle   = 5 * time.Second
)

// Config is the project configuration.
type Config struct {
	Name       string `json:"name,omitempty" yaml:"name"`
	Version    string `json:"version,omitempty" yaml:"version"`
	Mode       string `json:"mode,omitempty" yaml:"mode"`
	SrcDir     string `json:"srcDir,omitempty" yaml:"srcDir"`
	BuildDir   string `json:"buildDir,omitempty" yaml:"buildDir"`
	PluginsDir string `json:"pluginsDir,omitempty" yaml:"pluginsDir"`

	Log      LogConfig          `json:"log,omitempty" yaml:"log"`
	Plugins  []any              `json:"plugins,omitempty" yaml:"plugins"`
	Routes   []route.Definition `json:"routes,omitempty" yaml:"routes"`
	Env      map[string]string  `json:"env,omitempty" yaml:"env"`
	Timeouts TimeoutConfig      `json:"timeouts,omitempty" yaml:"timeouts"`
	Response ResponseConfig     `json:"response,omitempty" yaml:"response"`
	Metrics  MetricsConfig      `json:"metrics,omitempty" yaml:"metrics"`

	// Root is the project directory. Relative directories resolve against it.
	Root string `json:"-" yaml:"-"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Format string `json:"format,omitempty" yaml:"format"`
	Level  string `json:"level,omitempty" yaml:"level"`
}

// TimeoutConfig holds the dispatch and lifecycle timeouts. Zero disables a
// timeout, except DeferBuffer and Lifecycle which fall back to defaults.
type TimeoutConfig struct {
	DeferBuffer time.Duration `json:"deferBuffer,omitempty" yaml:"deferBuffer"`
	Command     time.Duration `json:"command,omitempty" yaml:"command"`
	Lifecycle   time.Duration `json:"lifecycle,omitempty" yaml:"lifecycle"`
	Event       time.Duration `json:"event,omitempty" yaml:"event"`
}

// ResponseConfig holds project-wide command response defaults.
type ResponseConfig struct {
	Defer        bool `json:"defer,omitempty" yaml:"defer"`
	Reply        bool `json:"reply,omitempty" yaml:"reply"`
	ErrorReplies bool `json:"errorReplies,omitempty" yaml:"errorReplies"`
}

// MetricsConfig controls the observability server.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr"`
}

// defaults returns the baseline configuration values.
func defaults() map[string]any {
	return map[string]any{
		"mode":                  DefaultMode,
		"srcDir":                DefaultSrcDir,
		"buildDir":              DefaultBuildDir,
		"pluginsDir":            DefaultPluginsDir,
		"log.format":            DefaultLogFormat,
		"log.level":             DefaultLogLevel,
		"timeouts.deferBuffer":  DefaultDeferBuffer.String(),
		"timeouts.lifecycle":    DefaultLifecycle.String(),
		"response.defer":        true,
		"response.reply":        true,
		"response.errorReplies": true,
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"mode":         "mode",
	"src-dir":      "srcDir",
	"build-dir":    "buildDir",
	"plugins-dir":  "pluginsDir",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"metrics-addr": "metrics.addr",
}

// RegisterFlags adds the flags Load understands.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("mode", DefaultMode, "run mode, selects the .env.<mode> file")
	flags.String("src-dir", DefaultSrcDir, "project source directory")
	flags.String("build-dir", DefaultBuildDir, "build output directory")
	flags.String("plugins-dir", DefaultPluginsDir, "directory holding installed plugins")
	flags.String("log-format", DefaultLogFormat, "log format (json or text)")
	flags.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
}

// Load reads root/robo.yaml, when present, then overlays flags that were
// set explicitly. A nil flag set is allowed.
func Load(root string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code(CodeInvalidConfig).In("config").With("key", key).Wrapf(err, "set default")
		}
	}

	path := filepath.Join(root, FileName)
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeInvalidConfig).In("config").With("path", path).Wrapf(err, "parse config")
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.Code(CodeInvalidConfig).In("config").With("path", path).Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeInvalidConfig).In("config").Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, oops.Code(CodeInvalidConfig).In("config").Wrapf(err, "decode config")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, oops.Code(CodeInvalidConfig).In("config").With("root", root).Wrap(err)
	}
	cfg.Root = abs

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code(CodeInvalidConfig).In("config").Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return oops.Code(CodeInvalidConfig).In("config").Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Mode == "" {
		return oops.Code(CodeInvalidConfig).In("config").Errorf("mode is required")
	}
	for name, d := range map[string]time.Duration{
		"timeouts.deferBuffer": c.Timeouts.DeferBuffer,
		"timeouts.command":     c.Timeouts.Command,
		"timeouts.lifecycle":   c.Timeouts.Lifecycle,
		"timeouts.event":       c.Timeouts.Event,
	} {
		if d < 0 {
			return oops.Code(CodeInvalidConfig).In("config").Errorf("%s must not be negative", name)
		}
	}

	seen := make(map[string]bool)
	for _, def := range c.Routes {
		if err := def.Validate(); err != nil {
			return oops.Code(CodeInvalidConfig).In("config").Wrap(err)
		}
		if seen[def.Type()] {
			return oops.Code(CodeInvalidConfig).In("config").Errorf("route %s declared twice", def.Type())
		}
		seen[def.Type()] = true
	}

	if _, err := c.Registrations(); err != nil {
		return oops.Code(CodeInvalidConfig).In("config").Wrap(err)
	}
	return nil
}

// Registrations parses the plugin list.
func (c *Config) Registrations() ([]plugin.Registration, error) {
	return plugin.ParseRegistrations(c.Plugins)
}

// Path resolves a configured directory against the project root.
func (c *Config) Path(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.Root, filepath.FromSlash(dir))
}

// SourcePath returns the absolute project source directory.
func (c *Config) SourcePath() string { return c.Path(c.SrcDir) }

// BuildPath returns the absolute build directory.
func (c *Config) BuildPath() string { return c.Path(c.BuildDir) }

// PluginsPath returns the absolute plugins directory.
func (c *Config) PluginsPath() string { return c.Path(c.PluginsDir) }

// String summarizes the configuration for logs.
func (c *Config) String() string {
	return fmt.Sprintf("%s@%s (%s)", c.Name, c.Version, c.Mode)
}
