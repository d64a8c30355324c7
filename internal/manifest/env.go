// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package manifest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/samber/oops"
)

// EnvState classifies one environment variable.
type EnvState string

// Env states.
const (
	EnvValid   EnvState = "valid"
	EnvInvalid EnvState = "invalid"
	EnvEmpty   EnvState = "empty"
	EnvMissing EnvState = "missing"
)

// BuiltinEnv holds the patterns checked for every project.
var BuiltinEnv = map[string]string{
	"PORT":           `^[0-9]{1,5}$`,
	"ROBO_LOG_LEVEL": `^(debug|info|warn|error)$`,
}

// EnvVar is the recorded status of one variable. The value itself is never
// kept.
type EnvVar struct {
	Status  EnvState `json:"status"`
	Length  int      `json:"length"`
	Pattern string   `json:"pattern"`
	// Owner is the plugin that declared the pattern, empty for the project.
	Owner string `json:"owner,omitempty"`
}

// EnvCounts tallies variables per state.
type EnvCounts struct {
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
	Empty   int `json:"empty"`
	Missing int `json:"missing"`
}

// EnvStatus is the environment section of a manifest.
type EnvStatus struct {
	Variables map[string]EnvVar `json:"variables"`
	Counts    EnvCounts         `json:"counts"`
}

// EnvPattern is one declared variable.
type EnvPattern struct {
	Name    string
	Pattern string
	Owner   string
}

// EnvChecker classifies environment variables against patterns.
type EnvChecker struct {
	lookup func(string) (string, bool)
}

// NewEnvChecker creates a checker reading values through lookup.
func NewEnvChecker(lookup func(string) (string, bool)) *EnvChecker {
	return &EnvChecker{lookup: lookup}
}

// LoadEnv returns a lookup over the process environment layered on root/.env
// and root/.env.<mode>. Missing files are skipped.
func LoadEnv(root, mode string) (func(string) (string, bool), error) {
	var files []string
	for _, name := range []string{".env", ".env." + mode} {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, oops.In("manifest").With("path", path).Wrap(err)
		}
		files = append(files, path)
	}

	fileEnv := map[string]string{}
	if len(files) > 0 {
		var err error
		if fileEnv, err = godotenv.Read(files...); err != nil {
			return nil, oops.In("manifest").With("files", files).Wrapf(err, "read env files")
		}
	}

	return func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := fileEnv[name]
		return v, ok
	}, nil
}

// Check classifies every pattern. Later patterns for the same name replace
// earlier ones, so callers pass built-ins first.
func (c *EnvChecker) Check(patterns []EnvPattern) (EnvStatus, error) {
	status := EnvStatus{Variables: make(map[string]EnvVar, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return EnvStatus{}, oops.Code(CodeInvalidManifest).In("manifest").
				With("variable", p.Name).
				With("owner", p.Owner).
				Wrapf(err, "invalid env pattern")
		}

		v := EnvVar{Pattern: p.Pattern, Owner: p.Owner}
		value, ok := c.lookup(p.Name)
		switch {
		case !ok:
			v.Status = EnvMissing
		case value == "":
			v.Status = EnvEmpty
		case re.MatchString(value):
			v.Status = EnvValid
		default:
			v.Status = EnvInvalid
		}
		v.Length = len(value)
		status.Variables[p.Name] = v
	}

	for _, v := range status.Variables {
		switch v.Status {
		case EnvValid:
			status.Counts.Valid++
		case EnvInvalid:
			status.Counts.Invalid++
		case EnvEmpty:
			status.Counts.Empty++
		case EnvMissing:
			status.Counts.Missing++
		}
	}
	return status, nil
}

// Patterns flattens a name to pattern table into a sorted list.
func Patterns(owner string, table map[string]string) []EnvPattern {
	out := make([]EnvPattern, 0, len(table))
	for name, pattern := range table {
		out = append(out, EnvPattern{Name: name, Pattern: pattern, Owner: owner})
	}
	slices.SortFunc(out, func(a, b EnvPattern) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Problems lists the names of variables that are not valid.
func (s EnvStatus) Problems() []string {
	var names []string
	for name, v := range s.Variables {
		if v.Status != EnvValid {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
