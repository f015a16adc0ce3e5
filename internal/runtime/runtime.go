// Package runtime is the host driver: it owns the widget array, the barlib
// and its mutex, the synchronization map and its freeze point, the producer
// goroutines and the event watcher, and it defines the process-wide
// fatal-error policy.
package runtime

import (
	"fmt"
	"os"
	"sync"

	"github.com/statline/statline/internal/logging"
	"github.com/statline/statline/internal/luart"
	"github.com/statline/statline/internal/module"
	"github.com/statline/statline/internal/syncmap"
	"github.com/statline/statline/internal/widget"
)

// Options configures a Runtime.
type Options struct {
	Log         *logging.Logger
	Loader      *module.Loader
	BarlibName  string
	BarlibOpts  []string
	ScriptFiles []string
	LuaDir      string

	// Exit terminates the process. It must not return. Defaults to a
	// flush-then-hard-exit; injectable so the fatal path is testable.
	Exit func(code int)
}

// Runtime is the process-scoped context: constructed once at startup,
// Run once, torn down once in reverse order of construction.
type Runtime struct {
	log  *logging.Logger
	smap *syncmap.Map
	sep  *widget.SepState

	widgets []*widget.Widget

	barlib module.Barlib
	barCtx *module.Ctx
	// barMu serializes every Set/SetError call across every thread. It is
	// only ever acquired while already holding an interpreter mutex, or
	// alone, and always released before the interpreter mutex — the single
	// fixed lock order that makes the two callback protocols deadlock-free.
	barMu sync.Mutex

	exit func(code int)
}

// New builds the runtime: one startup pass over the script files (widgets
// that fail to bootstrap become stillborn), then the barlib, then the map
// freeze. A barlib failure aborts startup with everything constructed so
// far unwound.
func New(opts Options) (*Runtime, error) {
	exit := opts.Exit
	if exit == nil {
		exit = func(code int) {
			os.Stdout.Sync()
			os.Stderr.Sync()
			os.Exit(code)
		}
	}

	r := &Runtime{
		log:  opts.Log,
		smap: syncmap.New(),
		exit: exit,
	}
	r.sep = widget.NewSepState(luart.Config{LuaDir: opts.LuaDir, Exit: exit})

	r.widgets = make([]*widget.Widget, 0, len(opts.ScriptFiles))
	for i, file := range opts.ScriptFiles {
		r.widgets = append(r.widgets, widget.New(widget.Config{
			Index:    i,
			FileName: file,
			Log:      opts.Log,
			Loader:   opts.Loader,
			Sep:      r.sep,
			Map:      r.smap.GetOrInsert,
			LuaDir:   opts.LuaDir,
			Exit:     exit,
		}))
	}
	if len(r.widgets) == 0 {
		opts.Log.Warnf("no widgets specified")
	}

	opts.Log.Debugf("initializing barlib '%s'", opts.BarlibName)
	factory, err := opts.Loader.LoadBarlib(opts.BarlibName)
	if err != nil {
		r.unwindStartup()
		return nil, fmt.Errorf("cannot load barlib '%s': %w", opts.BarlibName, err)
	}
	r.barlib = factory()
	r.barCtx = &module.Ctx{
		Log: opts.Log.Sub("barlib").Sayf,
		Map: r.smap.GetOrInsert,
	}
	if err := r.barlib.Init(r.barCtx, opts.BarlibOpts, len(r.widgets)); err != nil {
		r.barlib = nil
		r.unwindStartup()
		return nil, fmt.Errorf("barlib's init() failed: %w", err)
	}
	opts.Log.Debugf("barlib successfully initialized")

	// The negotiation window closes here: no new map entries past this
	// point.
	r.smap.Freeze()

	if r.sep.Created() {
		r.registerFuncs(r.sep.State(), nil)
	}

	return r, nil
}

func (r *Runtime) unwindStartup() {
	for _, w := range r.widgets {
		w.Destroy()
	}
	r.sep.Close()
}

// Widgets returns the widget array. The array never changes after New.
func (r *Runtime) Widgets() []*widget.Widget {
	return r.widgets
}

// Run reports every stillborn widget's error state (once, synchronously,
// before any producer starts), spawns one goroutine per running widget, and
// runs the barlib's event watcher, if any, on the calling goroutine. It
// returns only when the watcher has returned and every producer loop has
// returned — which normally never happens.
func (r *Runtime) Run() {
	for _, w := range r.widgets {
		if w.Stillborn() {
			r.barMu.Lock()
			r.setErrorLocked(w.Index())
			r.barMu.Unlock()
		}
	}

	var wg sync.WaitGroup
	for _, w := range r.widgets {
		if w.Stillborn() {
			continue
		}
		r.registerFuncs(w.State(), w)
		wg.Add(1)
		go func(w *widget.Widget) {
			defer wg.Done()
			r.widgetLoop(w)
		}(w)
	}

	if ew, ok := r.barlib.(module.EventWatcher); ok {
		if err := ew.EventWatcher(r.barCtx, r.ewFuncs()); err != nil {
			r.log.Fatalf("barlib's event_watcher() reported fatal error: %v", err)
			r.fatal()
		}
	}

	r.log.Debugf("joining all the widget threads")
	wg.Wait()
	r.log.Warnf("all plugins' run() and barlib's event_watcher() have returned")
}

// widgetLoop runs one producer. Run is expected to never return; when it
// does, the widget's error state is reported and the loop ends.
func (r *Runtime) widgetLoop(w *widget.Widget) {
	r.log.Debugf("thread for widget '%s' is running", w.FileName())
	w.Producer().Run(w.Ctx(), r.runFuncs(w))
	r.log.Warnf("plugin's run() for widget '%s' has returned", w.FileName())

	r.barMu.Lock()
	r.setErrorLocked(w.Index())
	r.barMu.Unlock()
}

// registerFuncs installs the barlib's (and, for a widget's own state, the
// producer's) extra script functions under the statline namespace.
func (r *Runtime) registerFuncs(st *luart.State, w *widget.Widget) {
	ns, ok := st.GlobalTable("statline")
	if !ok {
		if w != nil {
			r.log.Warnf("widget '%s': 'statline' is not a table anymore, will not register barlib/plugin functions", w.FileName())
		} else {
			r.log.Warnf("'statline' is not a table anymore, will not register barlib functions")
		}
		return
	}
	if reg, ok := r.barlib.(module.FuncRegistrar); ok {
		sub := st.L().NewTable()
		reg.RegisterFuncs(r.barCtx, st.L(), sub)
		st.L().SetField(ns, "barlib", sub)
	}
	if w != nil {
		if reg, ok := w.Producer().(module.FuncRegistrar); ok {
			sub := st.L().NewTable()
			reg.RegisterFuncs(w.Ctx(), st.L(), sub)
			st.L().SetField(ns, "plugin", sub)
		}
	}
}

// setErrorLocked reports a widget's error state. Callers hold barMu.
func (r *Runtime) setErrorLocked(idx int) {
	if err := r.barlib.SetError(idx); err != nil {
		r.log.Fatalf("barlib's set_error() reported fatal error: %v", err)
		r.fatal()
	}
}

// fatal terminates the process unconditionally. Once the barlib declares
// its own state corrupted, continuing to run interpreters against it is
// unsafe; no graceful degradation is attempted.
func (r *Runtime) fatal() {
	os.Stdout.Sync()
	os.Stderr.Sync()
	r.exit(1)
}

// Shutdown tears the runtime down in reverse order of construction:
// widgets, then the barlib, then the separate state.
func (r *Runtime) Shutdown() {
	for _, w := range r.widgets {
		w.Destroy()
	}
	if r.barlib != nil {
		r.barlib.Destroy(r.barCtx)
		r.barlib = nil
	}
	r.sep.Close()
}
