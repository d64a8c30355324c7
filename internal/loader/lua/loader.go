// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package lua

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/Wave-Play/robo.js-sub007/internal/loader"
)

// Compile-time interface check.
var _ loader.Loader = (*Loader)(nil)

// Extension is the file extension handled by this loader.
const Extension = ".lua"

// defaultProtoCacheSize bounds the number of compiled chunks kept around.
const defaultProtoCacheSize = 512

// Loader imports Lua files. Compiled function prototypes are shared between
// imports of an unchanged file; every import still gets its own state.
type Loader struct {
	factory *StateFactory
	protos  *lru.Cache[string, *lua.FunctionProto]
	logger  *slog.Logger
}

// Option configures a Loader.
type Option func(*options)

type options struct {
	env       func(string) string
	logger    *slog.Logger
	cacheSize int
}

// WithEnv sets the lookup backing robo.env.
func WithEnv(env func(string) string) Option {
	return func(o *options) {
		o.env = env
	}
}

// WithLogger sets the logger backing robo.log.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCacheSize sets how many compiled chunks are cached.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// NewLoader creates a Lua loader.
func NewLoader(opts ...Option) (*Loader, error) {
	o := options{
		env:       os.Getenv,
		logger:    slog.Default(),
		cacheSize: defaultProtoCacheSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cache, err := lru.New[string, *lua.FunctionProto](o.cacheSize)
	if err != nil {
		return nil, oops.In("lua").With("cache_size", o.cacheSize).Wrapf(err, "create proto cache")
	}

	return &Loader{
		factory: NewStateFactory(o.env, o.logger),
		protos:  cache,
		logger:  o.logger,
	}, nil
}

// Extensions returns the Lua extension.
func (l *Loader) Extensions() []string {
	return []string{Extension}
}

// Load runs the file and converts the returned table into a Module.
func (l *Loader) Load(ctx context.Context, path string) (*loader.Module, error) {
	path = filepath.Clean(path)

	proto, err := l.compile(path)
	if err != nil {
		return nil, loader.ImportError(path, err)
	}

	L, err := l.factory.NewState(ctx, path)
	if err != nil {
		return nil, loader.ImportError(path, err)
	}

	L.SetContext(ctx)
	L.Push(L.NewFunctionFromProto(proto))
	callErr := L.PCall(0, 1, nil)
	L.RemoveContext()
	if callErr != nil {
		L.Close()
		return nil, loader.ImportError(path, callErr)
	}

	ret := L.Get(-1)
	L.Pop(1)

	exports, ok := ret.(*lua.LTable)
	if !ok {
		L.Close()
		return nil, loader.ImportError(path, fmt.Errorf("file must return a table of exports, got %s", ret.Type()))
	}

	state := &moduleState{L: L}
	mod := &loader.Module{Path: path}
	var convErr error

	exports.ForEach(func(k, v lua.LValue) {
		name, isString := k.(lua.LString)
		if !isString {
			return
		}
		switch string(name) {
		case loader.ExportDefault:
			fn, isFn := v.(*lua.LFunction)
			if !isFn {
				convErr = fmt.Errorf("default export must be a function, got %s", v.Type())
				return
			}
			mod.Default = state.wrap(fn)
		case loader.ExportConfig:
			cfg, isMap := toGo(v).(map[string]any)
			if !isMap {
				convErr = fmt.Errorf("config export must be a table with string keys, got %s", v.Type())
				return
			}
			mod.Config = cfg
		default:
			if mod.Named == nil {
				mod.Named = make(map[string]any)
			}
			if fn, isFn := v.(*lua.LFunction); isFn {
				mod.Named[string(name)] = state.wrap(fn)
				return
			}
			mod.Named[string(name)] = toGo(v)
		}
	})
	if convErr != nil {
		L.Close()
		return nil, loader.ImportError(path, convErr)
	}

	mod.SetCloser(state.close)
	return mod, nil
}

// compile returns the compiled chunk for path, reusing the cached prototype
// when the file's size and modification time are unchanged.
func (l *Loader) compile(path string) (*lua.FunctionProto, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, oops.In("lua").With("path", path).Wrapf(err, "stat")
	}
	key := fmt.Sprintf("%s|%d|%d", path, info.ModTime().UnixNano(), info.Size())
	if proto, ok := l.protos.Get(key); ok {
		return proto, nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.In("lua").With("path", path).Wrapf(err, "read")
	}
	chunk, err := parse.Parse(bytes.NewReader(src), path)
	if err != nil {
		return nil, oops.In("lua").With("path", path).Hint("syntax error").Wrap(err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, oops.In("lua").With("path", path).Wrapf(err, "compile")
	}

	l.protos.Add(key, proto)
	return proto, nil
}

// moduleState owns the LState behind one imported module. LState is not
// goroutine-safe, so every call into it is serialized.
type moduleState struct {
	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

// wrap turns a Lua function into a loader.Func. A Lua function signals
// failure either by raising an error or by returning nil, message.
func (s *moduleState) wrap(fn *lua.LFunction) loader.Func {
	return func(ctx context.Context, args ...any) (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.closed {
			return nil, oops.In("lua").Errorf("module has been unloaded")
		}

		L := s.L
		L.SetContext(ctx)
		defer L.RemoveContext()

		top := L.GetTop()
		L.Push(fn)
		for _, arg := range args {
			L.Push(toLua(L, arg))
		}
		if err := L.PCall(len(args), 2, nil); err != nil {
			L.SetTop(top)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, oops.In("lua").Wrap(ctxErr)
			}
			return nil, oops.In("lua").Wrap(err)
		}

		result := L.Get(-2)
		failure := L.Get(-1)
		L.SetTop(top)

		if failure != lua.LNil && result == lua.LNil {
			return nil, oops.In("lua").Errorf("%s", failure.String())
		}
		return toGo(result), nil
	}
}

func (s *moduleState) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.L.Close()
	}
}
