// Package stdout implements the builtin stdout barlib: one text segment per
// widget, the full line rewritten on every update.
package stdout

import (
	"fmt"
	"io"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/statline/statline/internal/module"
)

// errorSegment is displayed for a widget in the error state.
const errorSegment = "(error)"

// Barlib renders widget segments joined by a separator.
type Barlib struct {
	w         io.Writer
	separator string
	segments  []string
}

// New creates a stdout barlib writing to the process's standard output.
func New() module.Barlib {
	return &Barlib{w: os.Stdout}
}

// Init parses the option list. Recognized: separator=<text> (default " | ").
func (b *Barlib) Init(_ *module.Ctx, opts []string, widgets int) error {
	b.separator = " | "
	for _, opt := range opts {
		key, value, _ := strings.Cut(opt, "=")
		switch key {
		case "separator":
			b.separator = value
		default:
			return fmt.Errorf("unknown option '%s'", opt)
		}
	}
	b.segments = make([]string, widgets)
	return nil
}

// Set renders a widget's segment. Nil clears it; strings and numbers render
// as text; anything else is a nonfatal error. A write failure is fatal.
func (b *Barlib) Set(value lua.LValue, widget int) error {
	switch v := value.(type) {
	case *lua.LNilType:
		b.segments[widget] = ""
	case lua.LString:
		b.segments[widget] = string(v)
	case lua.LNumber:
		b.segments[widget] = v.String()
	default:
		return fmt.Errorf("expected string, number or nil, found %s", value.Type().String())
	}
	return b.writeLine()
}

// SetError renders the widget's error marker. A write failure is fatal.
func (b *Barlib) SetError(widget int) error {
	b.segments[widget] = errorSegment
	return b.writeLine()
}

// writeLine writes the joined non-empty segments.
func (b *Barlib) writeLine() error {
	parts := make([]string, 0, len(b.segments))
	for _, s := range b.segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if _, err := fmt.Fprintln(b.w, strings.Join(parts, b.separator)); err != nil {
		return fmt.Errorf("writing output line: %w (%w)", err, module.ErrFatal)
	}
	return nil
}

// Destroy does nothing; the barlib owns no resources.
func (b *Barlib) Destroy(*module.Ctx) {}
