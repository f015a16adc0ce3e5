// Package widget implements the per-widget lifecycle: bootstrapping a
// scripted producer unit from its Lua file, the degraded stillborn mode used
// when bootstrapping fails, and the separate state shared by stillborn
// widgets and string-form event handlers.
package widget

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/statline/statline/internal/logging"
	"github.com/statline/statline/internal/luart"
	"github.com/statline/statline/internal/module"
	"github.com/statline/statline/internal/syncmap"
)

// Config carries everything widget bootstrapping needs.
type Config struct {
	Index    int
	FileName string
	Log      *logging.Logger
	Loader   *module.Loader
	Sep      *SepState
	Map      func(key string) *syncmap.Slot
	LuaDir   string

	// Exit is forwarded to the interpreter bootstrapper (os.exit
	// replacement). Nil means hard process exit.
	Exit func(code int)
}

// Widget is one independently scripted producer unit, identified by its
// index in the runtime's widget array. The normal payload is nil for a
// stillborn widget; a widget never transitions between the two after
// construction.
type Widget struct {
	index    int
	fileName string
	sep      *SepState

	// nil marks the widget stillborn.
	n         *normal
	destroyed bool

	// event is the handler invoked for backend events; nil means events
	// are discarded after invocation bookkeeping. For sepstateEvent
	// widgets the handle is owned by the separate state, not the widget's
	// own interpreter.
	event         *lua.LFunction
	sepstateEvent bool
}

type normal struct {
	state      *luart.State
	pluginName string
	producer   module.Producer
	ctx        *module.Ctx
	cb         *lua.LFunction
}

// New bootstraps a widget from its script file. Bootstrapping failures are
// logged and produce a stillborn widget rather than an error: a stillborn
// widget still occupies its index and receives (and discards) backend
// events.
func New(cfg Config) *Widget {
	w := &Widget{
		index:    cfg.Index,
		fileName: cfg.FileName,
		sep:      cfg.Sep,
	}

	cfg.Log.Debugf("initializing widget '%s'", cfg.FileName)
	n, err := bootstrap(cfg, w)
	if err != nil {
		cfg.Log.Errorf("cannot load widget '%s': %v", cfg.FileName, err)
		cfg.Sep.Ensure()
		w.event = nil
		w.sepstateEvent = true
		return w
	}

	w.n = n
	cfg.Log.Debugf("widget '%s' successfully initialized", cfg.FileName)
	return w
}

// bootstrap runs the init state machine. Any failure unwinds everything
// created so far, in reverse order, and reports the step that failed.
func bootstrap(cfg Config, w *Widget) (*normal, error) {
	st, err := luart.New(luart.Config{LuaDir: cfg.LuaDir, Exit: cfg.Exit})
	if err != nil {
		return nil, err
	}

	n, err := configure(cfg, w, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	return n, nil
}

func configure(cfg Config, w *Widget, st *luart.State) (*normal, error) {
	cfg.Log.Debugf("running file '%s'", cfg.FileName)
	if err := st.DoFileProtected(cfg.FileName); err != nil {
		return nil, err
	}

	tbl, ok := st.GlobalTable("widget")
	if !ok {
		return nil, fmt.Errorf("'widget': expected table, found %s",
			st.L().GetGlobal("widget").Type().String())
	}

	pluginName, producer, err := inspectPlugin(cfg, tbl)
	if err != nil {
		return nil, err
	}

	cb, err := inspectCb(tbl)
	if err != nil {
		return nil, err
	}

	if err := inspectEvent(cfg, w, st, tbl); err != nil {
		return nil, err
	}

	opts, err := inspectOpts(st, tbl)
	if err != nil {
		return nil, err
	}

	ctx := &module.Ctx{
		Log: cfg.Log.Sub(pluginName + "@" + cfg.FileName).Sayf,
		Map: cfg.Map,
	}
	if err := producer.Init(ctx, opts); err != nil {
		return nil, fmt.Errorf("plugin's init() failed: %w", err)
	}
	st.ResetStack()

	return &normal{
		state:      st,
		pluginName: pluginName,
		producer:   producer,
		ctx:        ctx,
		cb:         cb,
	}, nil
}

func inspectPlugin(cfg Config, tbl *lua.LTable) (string, module.Producer, error) {
	v := tbl.RawGetString("plugin")
	name, ok := v.(lua.LString)
	if !ok {
		return "", nil, fmt.Errorf("'widget.plugin': expected string, found %s", v.Type().String())
	}
	factory, err := cfg.Loader.LoadProducer(string(name))
	if err != nil {
		return "", nil, fmt.Errorf("cannot load plugin '%s': %w", string(name), err)
	}
	return string(name), factory(), nil
}

func inspectCb(tbl *lua.LTable) (*lua.LFunction, error) {
	v := tbl.RawGetString("cb")
	fn, ok := v.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("'widget.cb': expected function, found %s", v.Type().String())
	}
	return fn, nil
}

// inspectEvent handles the polymorphic event field: absent and function
// handlers stay in the widget's own interpreter; a string handler is
// compiled into the (lazily created) separate state, whose single mutex
// then serializes this widget's event deliveries with every other
// string-event and stillborn widget.
func inspectEvent(cfg Config, w *Widget, st *luart.State, tbl *lua.LTable) error {
	switch v := tbl.RawGetString("event").(type) {
	case *lua.LNilType:
		w.event = nil
		w.sepstateEvent = false
		return nil
	case *lua.LFunction:
		w.event = v
		w.sepstateEvent = false
		return nil
	case lua.LString:
		sep := cfg.Sep.Ensure()
		fn, err := sep.CompileString(string(v), "widget.event of "+cfg.FileName)
		if err != nil {
			return err
		}
		w.event = fn
		w.sepstateEvent = true
		return nil
	default:
		return fmt.Errorf("'widget.event': expected function, nil, or string, found %s", v.Type().String())
	}
}

func inspectOpts(st *luart.State, tbl *lua.LTable) (*lua.LTable, error) {
	switch v := tbl.RawGetString("opts").(type) {
	case *lua.LTable:
		return v, nil
	case *lua.LNilType:
		return st.L().NewTable(), nil
	default:
		return nil, fmt.Errorf("'widget.opts': expected table or nil, found %s", v.Type().String())
	}
}

// Index returns the widget's position in the runtime's array.
func (w *Widget) Index() int { return w.index }

// FileName returns the script file the widget was bootstrapped from.
func (w *Widget) FileName() string { return w.fileName }

// Stillborn reports whether bootstrapping failed.
func (w *Widget) Stillborn() bool { return w.n == nil }

// State returns the widget's own interpreter, or nil if stillborn.
func (w *Widget) State() *luart.State {
	if w.n == nil {
		return nil
	}
	return w.n.state
}

// Cb returns the per-invocation callback handle. Only valid for
// non-stillborn widgets.
func (w *Widget) Cb() *lua.LFunction { return w.n.cb }

// Event returns the event-handler handle; nil means deliveries are
// discarded.
func (w *Widget) Event() *lua.LFunction { return w.event }

// SepstateEvent reports whether the event handle lives in the separate
// state rather than the widget's own interpreter.
func (w *Widget) SepstateEvent() bool { return w.sepstateEvent }

// EventState resolves the interpreter backend events for this widget are
// delivered into. For stillborn and string-event widgets this is the
// separate state; it is non-nil in both cases because both ensure the
// separate state at construction.
func (w *Widget) EventState() *luart.State {
	if w.sepstateEvent {
		return w.sep.State()
	}
	return w.n.state
}

// Producer returns the widget's producer instance. Only valid for
// non-stillborn widgets.
func (w *Widget) Producer() module.Producer { return w.n.producer }

// PluginName returns the loaded producer's name. Only valid for
// non-stillborn widgets.
func (w *Widget) PluginName() string { return w.n.pluginName }

// Ctx returns the plugin-facing context. Only valid for non-stillborn
// widgets.
func (w *Widget) Ctx() *module.Ctx { return w.n.ctx }

// Destroy tears a normal widget down: producer destroy hook first, then the
// interpreter. Stillborn widgets own nothing.
func (w *Widget) Destroy() {
	if w.n == nil || w.destroyed {
		return
	}
	w.destroyed = true
	w.n.producer.Destroy(w.n.ctx)
	w.n.state.Close()
}
