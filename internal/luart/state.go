// Package luart wraps gopher-lua for the statline host: it bootstraps
// isolated interpreter instances, installs host-safe replacements for
// unsafe os.* entry points, provides the statline namespace with a memoized
// require_plugin, and exposes the owned-handle call discipline the callback
// protocols are built on.
package luart

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// State owns one Lua interpreter instance.
//
// gopher-lua's LState is not goroutine-safe: at most one goroutine may be
// inside it at a time. The State's mutex is exposed through Lock/Unlock
// because the producer and event-watcher protocols bracket a call across
// several method invocations (begin/push-args/end); holders of the lock use
// the non-locking stack methods in between.
//
// The traceback-producing error handler is compiled once at bootstrap and
// kept for the life of the state, so every protected call reports script
// errors with a full traceback.
type State struct {
	mu sync.Mutex

	l     *lua.LState
	errFn *lua.LFunction
}

// Config configures a new State.
type Config struct {
	// LuaDir is the directory statline.require_plugin resolves bare names
	// against.
	LuaDir string

	// Exit replaces the process-exit entry point reachable from Lua
	// (os.exit). Defaults to a flush-then-hard-exit. Injectable for tests.
	Exit func(code int)
}

// errHandlerSrc is the shared error handler: it augments the raw error
// message with a traceback.
const errHandlerSrc = `local msg = ... return debug.traceback(tostring(msg), 2)`

// New creates a bootstrapped interpreter instance: full standard library
// (widget scripts are trusted and run with host privilege), thread-safe
// os.* replacements, the statline namespace, and the error handler.
func New(cfg Config) (*State, error) {
	if cfg.Exit == nil {
		cfg.Exit = func(code int) {
			os.Stdout.Sync()
			os.Stderr.Sync()
			os.Exit(code)
		}
	}

	l := lua.NewState()
	s := &State{l: l}

	s.injectOsReplacements(cfg.Exit)
	s.injectNamespace(cfg.LuaDir)

	errFn, err := l.LoadString(errHandlerSrc)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("compiling error handler: %w", err)
	}
	s.errFn = errFn

	return s, nil
}

// injectOsReplacements swaps the os.* entry points that are unsafe to call
// with more than one interpreter goroutine running.
func (s *State) injectOsReplacements(exit func(int)) {
	osTable, ok := s.l.GetGlobal("os").(*lua.LTable)
	if !ok {
		return
	}

	// os.exit: flush outputs first; a plain exit would lose buffered bar
	// output.
	s.l.SetField(osTable, "exit", s.l.NewFunction(func(l *lua.LState) int {
		exit(l.OptInt(1, 0))
		return 0
	}))

	// os.getenv: routed through the host's environment read.
	s.l.SetField(osTable, "getenv", s.l.NewFunction(func(l *lua.LState) int {
		if v, found := os.LookupEnv(l.CheckString(1)); found {
			l.Push(lua.LString(v))
		} else {
			l.Push(lua.LNil)
		}
		return 1
	}))

	// os.setlocale: inherently process-global; always reports failure.
	s.l.SetField(osTable, "setlocale", s.l.NewFunction(func(l *lua.LState) int {
		l.Push(lua.LNil)
		return 1
	}))
}

// injectNamespace installs the statline global table with require_plugin.
// Loaded Lua plugins are memoized per interpreter instance: repeated
// requests for the same name return the same value.
func (s *State) injectNamespace(luaDir string) {
	loaded := make(map[string]lua.LValue)

	ns := s.l.NewTable()
	s.l.SetField(ns, "require_plugin", s.l.NewFunction(func(l *lua.LState) int {
		name := l.CheckString(1)
		if strings.ContainsRune(name, os.PathSeparator) || strings.ContainsRune(name, '/') {
			l.RaiseError("plugin name contains a path separator")
			return 0
		}
		if v, ok := loaded[name]; ok {
			l.Push(v)
			return 1
		}
		fn, err := l.LoadFile(filepath.Join(luaDir, name+".lua"))
		if err != nil {
			l.RaiseError("%s", err.Error())
			return 0
		}
		l.Push(fn)
		l.Call(0, 1)
		v := l.Get(-1)
		l.Pop(1)
		loaded[name] = v
		l.Push(v)
		return 1
	}))
	s.l.SetGlobal("statline", ns)
}

// Lock acquires the interpreter mutex.
func (s *State) Lock() { s.mu.Lock() }

// Unlock releases the interpreter mutex.
func (s *State) Unlock() { s.mu.Unlock() }

// L returns the underlying interpreter. Callers must hold the lock (or be
// in the single-threaded bootstrap phase).
func (s *State) L() *lua.LState {
	return s.l
}

// Top returns the current stack depth.
func (s *State) Top() int {
	return s.l.GetTop()
}

// PushCall begins a call: it pushes fn onto an empty stack. A non-empty
// stack here means a previous call was not ended or cancelled — a broken
// protocol invariant, so it panics.
func (s *State) PushCall(fn *lua.LFunction) {
	s.assertTop(0)
	if fn == nil {
		s.l.Push(lua.LNil)
		return
	}
	s.l.Push(fn)
}

// PushValue pushes an argument for a pending call.
func (s *State) PushValue(v lua.LValue) {
	s.l.Push(v)
}

// ProtectedCall invokes the pending call (function plus nargs arguments on
// the stack) under the shared error handler. On failure the stack is reset
// and the handler-augmented message is returned.
func (s *State) ProtectedCall(nargs, nret int) error {
	if top := s.l.GetTop(); top < nargs+1 {
		panic(fmt.Sprintf("luart: protected call with %d args but stack depth %d", nargs, top))
	}
	if err := s.l.PCall(nargs, nret, s.errFn); err != nil {
		s.l.SetTop(0)
		return wrapLuaError(err)
	}
	return nil
}

// ResetStack discards everything on the stack, returning the state to the
// between-calls baseline.
func (s *State) ResetStack() {
	s.l.SetTop(0)
}

// DoFileProtected loads path as a chunk and runs it under the error
// handler, discarding results.
func (s *State) DoFileProtected(path string) error {
	fn, err := s.l.LoadFile(path)
	if err != nil {
		return wrapLuaError(err)
	}
	s.l.Push(fn)
	return s.ProtectedCall(0, 0)
}

// CompileString compiles code as a chunk named chunkName without running
// it. The returned function handle is owned by this state and must only be
// invoked through it.
func (s *State) CompileString(code, chunkName string) (*lua.LFunction, error) {
	fn, err := s.l.Load(strings.NewReader(code), chunkName)
	if err != nil {
		return nil, wrapLuaError(err)
	}
	return fn, nil
}

// GlobalTable returns the global with the given name if it is a table.
func (s *State) GlobalTable(name string) (*lua.LTable, bool) {
	t, ok := s.l.GetGlobal(name).(*lua.LTable)
	return t, ok
}

// Close releases the interpreter.
func (s *State) Close() {
	s.l.Close()
}

func (s *State) assertTop(want int) {
	if top := s.l.GetTop(); top != want {
		panic(fmt.Sprintf("luart: stack depth %d, want %d", top, want))
	}
}

// wrapLuaError normalizes gopher-lua errors to plain errors carrying the
// handler-produced message (which includes the traceback for runtime
// errors).
func wrapLuaError(err error) error {
	if apiErr, ok := err.(*lua.ApiError); ok {
		return fmt.Errorf("(lua) %s", apiErr.Object.String())
	}
	return fmt.Errorf("(lua) %s", err.Error())
}
