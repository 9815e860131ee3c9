// Package luart is the default module loader: each plugin directory holds a
// Lua chunk whose returned function is the plugin's setup function.
//
// A plugin receives its API as a table and calls it with dot syntax:
//
//	return function(api)
//	  api.registerExtension("menu", function(params)
//	    return "<li>" .. params.label .. "</li>"
//	  end, { label = "Home" })
//	  api.setData("greeting", "hello", { target = "local", ttl = 60 })
//	end
package luart

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// DefaultEntry is the file loaded from every plugin directory.
const DefaultEntry = "init.lua"

// ErrStateClosed is returned when calling into a closed runtime.
var ErrStateClosed = errors.New("lua state is closed")

// Runtime loads Lua plugin modules. Each module gets its own Lua state.
type Runtime struct {
	fs     afero.Fs
	entry  string
	logger *zap.Logger

	mu     sync.Mutex
	states []*state
	closed bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithFs sets the filesystem entry files are read from.
func WithFs(fs afero.Fs) Option {
	return func(r *Runtime) { r.fs = fs }
}

// WithEntry sets the entry file name.
func WithEntry(name string) Option {
	return func(r *Runtime) {
		if name != "" {
			r.entry = name
		}
	}
}

// WithLogger sets the logger. Lua print output is logged at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		fs:     afero.NewOsFs(),
		entry:  DefaultEntry,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load compiles and runs the entry chunk of the plugin at path. A chunk
// returning a function yields a *Module; any other return value is
// converted to Go and returned as is, which the loader skips.
func (r *Runtime) Load(path string) (any, error) {
	file := filepath.Join(path, r.entry)
	src, err := afero.ReadFile(r.fs, file)
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}

	st := newState(filepath.Base(path), r.logger)
	ret, err := st.run(src, file)
	if err != nil {
		st.close()
		return nil, err
	}

	fn, ok := ret.(*lua.LFunction)
	if !ok {
		v := toGo(ret)
		st.close()
		return v, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		st.close()
		return nil, ErrStateClosed
	}
	r.states = append(r.states, st)
	return &Module{st: st, fn: fn, path: path}, nil
}

// Close closes every Lua state. Components backed by Lua functions fail to
// render afterwards.
func (r *Runtime) Close() error {
	r.mu.Lock()
	states := r.states
	r.states = nil
	r.closed = true
	r.mu.Unlock()

	for _, st := range states {
		st.close()
	}
	return nil
}

// state is one plugin's Lua VM. gopher-lua states are not goroutine-safe:
// every touch of L happens with mu held. Calls out to the host release mu
// for their duration so host code can render this plugin's components.
//
// Each call runs on its own Lua thread. A call suspended in a host callback
// keeps its frames on that thread while other calls use the state.
type state struct {
	mu     sync.Mutex
	L      *lua.LState
	name   string
	closed bool
	idle   []*lua.LState

	// Lua values already wrapped as components, so the same function or
	// string maps to the same component every time.
	components map[lua.LValue]*component
}

// maxIdleThreads bounds the threads kept per state between calls.
const maxIdleThreads = 8

func newState(name string, logger *zap.Logger) *state {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	log := logger.With(zap.String("plugin", name))
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		var buf bytes.Buffer
		for i := 1; i <= L.GetTop(); i++ {
			if i > 1 {
				buf.WriteByte('\t')
			}
			buf.WriteString(L.ToStringMeta(L.Get(i)).String())
		}
		log.Debug(buf.String())
		return 0
	}))

	return &state{
		L:          L,
		name:       name,
		components: make(map[lua.LValue]*component),
	}
}

// run executes src and returns its first return value.
func (s *state) run(src []byte, chunk string) (lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, err := s.L.Load(bytes.NewReader(src), chunk)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", chunk, err)
	}
	rets, err := s.call(fn, 1)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", chunk, err)
	}
	return rets[0], nil
}

// call invokes fn with args in protected mode on a thread of its own and
// returns nret results. mu must be held.
func (s *state) call(fn *lua.LFunction, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	var rets []lua.LValue
	err := s.onThread(func(co *lua.LState) error {
		if err := co.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
			return err
		}
		rets = make([]lua.LValue, nret)
		for i := range nret {
			rets[i] = co.Get(i + 1)
		}
		return nil
	})
	return rets, err
}

// tostring converts v with Lua's tostring rules, __tostring included.
// mu must be held.
func (s *state) tostring(v lua.LValue) (string, error) {
	var str string
	err := s.onThread(func(co *lua.LState) error {
		str = co.ToStringMeta(v).String()
		return nil
	})
	return str, err
}

// onThread runs fn on an idle thread. A thread whose call failed is
// dropped rather than pooled. mu must be held.
func (s *state) onThread(fn func(co *lua.LState) error) (err error) {
	if s.closed {
		return ErrStateClosed
	}
	co := s.thread()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		if err != nil || s.closed {
			return
		}
		co.SetTop(0)
		if len(s.idle) < maxIdleThreads {
			s.idle = append(s.idle, co)
		}
	}()
	return fn(co)
}

func (s *state) thread() *lua.LState {
	if n := len(s.idle); n > 0 {
		co := s.idle[n-1]
		s.idle = s.idle[:n-1]
		return co
	}
	co, _ := s.L.NewThread()
	return co
}

// unlocked runs fn with mu released. Callers hold mu.
func (s *state) unlocked(fn func()) {
	s.mu.Unlock()
	defer s.mu.Lock()
	fn()
}

func (s *state) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.idle = nil
	s.L.Close()
}
