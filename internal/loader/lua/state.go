// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

// Package lua imports handler and hook files written in Lua. Each file runs
// in a sandboxed state and must return a table of exports:
//
//	return {
//	  config = { description = "Replies with pong" },
//	  default = function(ctx) return "pong" end,
//	}
package lua

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/Wave-Play/robo.js-sub007/internal/logging"
)

// sandboxLibs are the only standard libraries a handler state opens. os,
// io, debug and package stay closed.
var sandboxLibs = map[string]lua.LGFunction{
	lua.BaseLibName:   lua.OpenBase,
	lua.TabLibName:    lua.OpenTable,
	lua.StringLibName: lua.OpenString,
	lua.MathLibName:   lua.OpenMath,
}

// sandboxOrder opens base first so later libraries can rely on it.
var sandboxOrder = []string{lua.BaseLibName, lua.TabLibName, lua.StringLibName, lua.MathLibName}

// fileLoaders are base functions that would let a handler read arbitrary
// files.
var fileLoaders = []string{"dofile", "loadfile", "loadstring", "load"}

// StateFactory creates sandboxed Lua states exposing the robo host table.
type StateFactory struct {
	env    func(string) string
	logger *slog.Logger
}

// NewStateFactory creates a state factory. env backs robo.env and may be nil.
func NewStateFactory(env func(string) string, logger *slog.Logger) *StateFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateFactory{env: env, logger: logger}
}

// NewState creates a sandboxed state for the file at path with the robo
// host table installed.
func (f *StateFactory) NewState(_ context.Context, path string) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, name := range sandboxOrder {
		open := L.NewFunction(sandboxLibs[name])
		if err := L.CallByParam(lua.P{Fn: open, Protect: true}, lua.LString(name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", name).With("path", path).Wrapf(err, "open library")
		}
	}
	for _, fn := range fileLoaders {
		L.SetGlobal(fn, lua.LNil)
	}

	L.SetGlobal("robo", f.hostTable(L, path))
	return L, nil
}

// hostTable builds the robo table:
//
//	robo.log(level, msg [, fields])  logs through the host logger
//	robo.env(name)                   returns the variable or nil
//
// Log records use the context of the running call, so they carry the
// invocation attributes the dispatcher attached.
func (f *StateFactory) hostTable(L *lua.LState, path string) *lua.LTable {
	logger := f.logger.With("file", path)
	host := L.NewTable()

	L.SetField(host, "log", L.NewFunction(func(L *lua.LState) int {
		level := logging.ParseLevel(L.CheckString(1))
		msg := L.CheckString(2)
		var args []any
		if fields, ok := toGo(L.Get(3)).(map[string]any); ok {
			for _, k := range slices.Sorted(maps.Keys(fields)) {
				args = append(args, k, fields[k])
			}
		}
		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		logger.Log(ctx, level, msg, args...)
		return 0
	}))

	L.SetField(host, "env", L.NewFunction(func(L *lua.LState) int {
		var v string
		if f.env != nil {
			v = f.env(L.CheckString(1))
		}
		if v == "" {
			L.Push(lua.LNil)
		} else {
			L.Push(lua.LString(v))
		}
		return 1
	}))

	return host
}
