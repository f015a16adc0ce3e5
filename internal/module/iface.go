// Package module defines the capability interfaces implemented by producer
// plugins and barlibs, the context the host hands them, and the loader that
// resolves module names to implementations (builtin factories or shared
// objects with an engine-ABI check).
package module

import (
	"errors"

	lua "github.com/yuin/gopher-lua"

	"github.com/statline/statline/internal/logging"
	"github.com/statline/statline/internal/syncmap"
)

// LuaVersionNum encodes the embedded engine's binary version (Lua 5.1, the
// dialect gopher-lua implements). Shared-object modules declare the version
// they were built against; the loader rejects anything that is not exactly
// equal. The value a module exchanges with the host (lua.LValue, *lua.LState)
// depends on this version, so a mismatch is unsafe to call, not merely
// incompatible.
const LuaVersionNum = 501

// ErrFatal marks the fatal class of barlib errors. A Set result wrapping
// ErrFatal, or any non-nil SetError/EventWatcher result, means the barlib's
// own state is corrupted and the process must terminate.
var ErrFatal = errors.New("fatal barlib error")

// IsFatal reports whether err belongs to the fatal class.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// Ctx is the host context passed to a module: a logging function tagged
// with the module's identity and the synchronization map accessor. The map
// accessor must not be called for new keys after startup (the map freezes).
type Ctx struct {
	Log logging.Sayf
	Map func(key string) *syncmap.Slot
}

// RunFuncs brackets one producer callback invocation.
//
// Begin locks the widget's interpreter and returns it with the callback
// function already pushed; the producer pushes the callback's arguments onto
// the returned state and then calls End, which evaluates the call and routes
// the result to the barlib. Cancel abandons a begun call instead.
type RunFuncs struct {
	Begin  func() *lua.LState
	End    func()
	Cancel func()
}

// EWFuncs is the event-watcher counterpart of RunFuncs, keyed by widget
// index because the watcher may target stillborn widgets (which resolve to
// the separate state). Begin returns the interpreter the event argument must
// be pushed onto.
type EWFuncs struct {
	Begin  func(widget int) *lua.LState
	End    func(widget int)
	Cancel func(widget int)
}

// Producer generates values for one widget on its own schedule. One
// instance is created per widget; Init and Destroy run on the bootstrap/
// shutdown goroutine, Run on the widget's own goroutine and is expected to
// never return normally.
type Producer interface {
	// Init configures the producer from the widget's opts table. The table
	// belongs to the widget's interpreter and must only be read during Init.
	Init(ctx *Ctx, opts *lua.LTable) error

	// Run is the producer loop: it brackets each emitted value with
	// funcs.Begin/End (or Cancel). Returning is anomalous and makes the
	// host report an error state for the widget.
	Run(ctx *Ctx, funcs RunFuncs)

	// Destroy releases producer resources.
	Destroy(ctx *Ctx)
}

// Barlib is the single value sink. All Set/SetError calls are serialized by
// the host under one mutex. Set's value belongs to the calling widget's
// interpreter and must not be retained past the call.
type Barlib interface {
	// Init receives the barlib's command-line options and the declared
	// widget count (fixed for the process lifetime).
	Init(ctx *Ctx, opts []string, widgets int) error

	// Set consumes a widget's new value. A nil return is success; an error
	// wrapping ErrFatal terminates the process; any other error marks the
	// widget's error state via SetError.
	Set(value lua.LValue, widget int) error

	// SetError marks a widget as failed. A non-nil return is fatal.
	SetError(widget int) error

	// Destroy releases barlib resources.
	Destroy(ctx *Ctx)
}

// EventWatcher is implemented by barlibs that push asynchronous events back
// into widgets. It runs on the host's main goroutine and normally never
// returns; a non-nil return is fatal, a nil return ends event delivery.
type EventWatcher interface {
	EventWatcher(ctx *Ctx, funcs EWFuncs) error
}

// FuncRegistrar is implemented by modules that expose extra functions to
// widget scripts. RegisterFuncs is called once per relevant interpreter
// during startup with the subtable of the statline namespace the module
// owns (statline.plugin or statline.barlib).
type FuncRegistrar interface {
	RegisterFuncs(ctx *Ctx, l *lua.LState, ns *lua.LTable)
}
