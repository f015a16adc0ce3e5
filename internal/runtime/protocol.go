package runtime

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/statline/statline/internal/module"
	"github.com/statline/statline/internal/widget"
)

// runFuncs builds the producer-side callback protocol for one widget.
//
// begin: lock the widget's interpreter, push the stored callback, hand the
// interpreter to the producer (which pushes the callback's arguments).
// end: evaluate under the error handler and route the result to the barlib.
// cancel: abandon a begun call.
//
// The barlib mutex is acquired only while the widget's own mutex is already
// held, and released before it.
func (r *Runtime) runFuncs(w *widget.Widget) module.RunFuncs {
	return module.RunFuncs{
		Begin: func() *lua.LState {
			st := w.State()
			st.Lock()
			st.PushCall(w.Cb())
			return st.L()
		},
		End: func() {
			r.producerCallEnd(w)
		},
		Cancel: func() {
			st := w.State()
			st.ResetStack()
			st.Unlock()
		},
	}
}

func (r *Runtime) producerCallEnd(w *widget.Widget) {
	st := w.State()
	nargs := st.Top() - 1
	callErr := st.ProtectedCall(nargs, 1)

	r.barMu.Lock()
	if callErr == nil {
		err := r.barlib.Set(st.L().Get(-1), w.Index())
		switch {
		case err == nil:
		case module.IsFatal(err):
			r.log.Fatalf("barlib's set() reported fatal error: %v", err)
			r.fatal()
		default:
			r.log.Errorf("barlib's set() failed on widget '%s': %v", w.FileName(), err)
			r.setErrorLocked(w.Index())
		}
		st.ResetStack()
	} else {
		r.log.Errorf("widget '%s': %v", w.FileName(), callErr)
		r.setErrorLocked(w.Index())
	}
	r.barMu.Unlock()

	st.Unlock()
}

// ewFuncs builds the event-watcher callback protocol. It is keyed by widget
// index rather than a widget handle because the watcher may target
// stillborn widgets: those (and string-event widgets) resolve to the
// separate state. A nil event handle means the delivered value is discarded
// after invocation bookkeeping.
func (r *Runtime) ewFuncs() module.EWFuncs {
	return module.EWFuncs{
		Begin: func(idx int) *lua.LState {
			w := r.widgets[idx]
			st := w.EventState()
			st.Lock()
			st.PushCall(w.Event())
			return st.L()
		},
		End: func(idx int) {
			w := r.widgets[idx]
			st := w.EventState()
			if w.Event() == nil {
				st.ResetStack()
			} else {
				nargs := st.Top() - 1
				if err := st.ProtectedCall(nargs, 0); err != nil {
					r.log.Errorf("widget '%s' event handler: %v", w.FileName(), err)
					r.barMu.Lock()
					r.setErrorLocked(idx)
					r.barMu.Unlock()
				}
			}
			st.Unlock()
		},
		Cancel: func(idx int) {
			st := r.widgets[idx].EventState()
			st.ResetStack()
			st.Unlock()
		},
	}
}
