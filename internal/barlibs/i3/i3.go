// Package i3 implements the builtin i3bar barlib: it speaks the i3bar JSON
// protocol on its writer and feeds click events from its reader back into
// widget event handlers.
package i3

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	lua "github.com/yuin/gopher-lua"

	"github.com/statline/statline/internal/logging"
	"github.com/statline/statline/internal/luart"
	"github.com/statline/statline/internal/module"
)

// blockName tags every emitted block so click events can be routed back.
const blockName = "statline"

// Barlib renders i3bar block arrays, one block list per widget.
type Barlib struct {
	w io.Writer
	r io.Reader

	noClickEvents bool

	// blocks[widget] holds the widget's current marshaled, tagged blocks.
	blocks [][]json.RawMessage
}

// New creates an i3 barlib on the process's standard streams.
func New() module.Barlib {
	return &Barlib{w: os.Stdout, r: os.Stdin}
}

// Init parses the option list and emits the protocol header. Recognized:
// no_click_events.
func (b *Barlib) Init(_ *module.Ctx, opts []string, widgets int) error {
	for _, opt := range opts {
		switch opt {
		case "no_click_events":
			b.noClickEvents = true
		default:
			return fmt.Errorf("unknown option '%s'", opt)
		}
	}
	b.blocks = make([][]json.RawMessage, widgets)

	if _, err := fmt.Fprintf(b.w, "{\"version\":1,\"click_events\":%t}\n[\n", !b.noClickEvents); err != nil {
		return fmt.Errorf("writing protocol header: %w", err)
	}
	return nil
}

// Set renders a widget's blocks. Nil clears them; a table is one block; an
// array of tables is a block list. Anything else, and any block that fails
// to marshal, is a nonfatal error. A write failure is fatal.
func (b *Barlib) Set(value lua.LValue, widget int) error {
	switch v := value.(type) {
	case *lua.LNilType:
		b.blocks[widget] = nil
	case *lua.LTable:
		blocks, err := marshalBlocks(v, widget)
		if err != nil {
			return err
		}
		b.blocks[widget] = blocks
	default:
		return fmt.Errorf("expected table or nil, found %s", value.Type().String())
	}
	return b.writeArray()
}

// SetError renders a red error block for the widget. A write failure is
// fatal.
func (b *Barlib) SetError(widget int) error {
	block, err := tagBlock([]byte(`{"full_text":"(error)","color":"#ff0000"}`), widget)
	if err != nil {
		return err
	}
	b.blocks[widget] = []json.RawMessage{block}
	return b.writeArray()
}

// marshalBlocks converts a block table, or an array of block tables, into
// tagged JSON objects.
func marshalBlocks(tbl *lua.LTable, widget int) ([]json.RawMessage, error) {
	if tbl.Len() == 0 {
		block, err := marshalBlock(tbl, widget)
		if err != nil {
			return nil, err
		}
		return []json.RawMessage{block}, nil
	}

	blocks := make([]json.RawMessage, 0, tbl.Len())
	for i := 1; i <= tbl.Len(); i++ {
		elem, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("block %d: expected table, found %s", i, tbl.RawGetInt(i).Type().String())
		}
		block, err := marshalBlock(elem, widget)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func marshalBlock(tbl *lua.LTable, widget int) (json.RawMessage, error) {
	raw, err := json.Marshal(luart.ToGoValue(tbl))
	if err != nil {
		return nil, fmt.Errorf("marshaling block: %w", err)
	}
	return tagBlock(raw, widget)
}

// tagBlock stamps the routing fields onto a marshaled block.
func tagBlock(raw []byte, widget int) (json.RawMessage, error) {
	raw, err := sjson.SetBytes(raw, "name", blockName)
	if err != nil {
		return nil, fmt.Errorf("tagging block: %w", err)
	}
	raw, err = sjson.SetBytes(raw, "instance", strconv.Itoa(widget))
	if err != nil {
		return nil, fmt.Errorf("tagging block: %w", err)
	}
	return raw, nil
}

// writeArray emits one element of the protocol's infinite array: every
// widget's current blocks, concatenated.
func (b *Barlib) writeArray() error {
	var sb strings.Builder
	sb.WriteByte('[')
	first := true
	for _, blocks := range b.blocks {
		for _, block := range blocks {
			if !first {
				sb.WriteByte(',')
			}
			first = false
			sb.Write(block)
		}
	}
	sb.WriteString("],\n")
	if _, err := io.WriteString(b.w, sb.String()); err != nil {
		return fmt.Errorf("writing block array: %w (%w)", err, module.ErrFatal)
	}
	return nil
}

// EventWatcher reads click events, one JSON object per line, and delivers
// each as a Lua table to the clicked widget's event handler. Malformed or
// unroutable lines are skipped with a log message. End of input ends the
// watcher normally.
func (b *Barlib) EventWatcher(ctx *module.Ctx, funcs module.EWFuncs) error {
	if b.noClickEvents {
		return nil
	}

	sc := bufio.NewScanner(b.r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		line = strings.TrimPrefix(line, ",")
		if line == "" || line == "[" || line == "]" {
			continue
		}
		if !gjson.Valid(line) {
			ctx.Log(logging.LevelWarning, "skipping malformed click event: %s", line)
			continue
		}

		ev := gjson.Parse(line)
		if ev.Get("name").String() != blockName {
			continue
		}
		widget, err := strconv.Atoi(ev.Get("instance").String())
		if err != nil || widget < 0 || widget >= len(b.blocks) {
			ctx.Log(logging.LevelWarning, "skipping click event with bad instance: %s", line)
			continue
		}

		l := funcs.Begin(widget)
		l.Push(luaFromJSON(l, ev))
		funcs.End(widget)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading click events: %w (%w)", err, module.ErrFatal)
	}
	return nil
}

// luaFromJSON converts a parsed JSON value into a Lua value owned by l.
func luaFromJSON(l *lua.LState, v gjson.Result) lua.LValue {
	switch v.Type {
	case gjson.String:
		return lua.LString(v.String())
	case gjson.Number:
		return lua.LNumber(v.Float())
	case gjson.True:
		return lua.LTrue
	case gjson.False:
		return lua.LFalse
	case gjson.JSON:
		tbl := l.NewTable()
		if v.IsArray() {
			for _, elem := range v.Array() {
				tbl.Append(luaFromJSON(l, elem))
			}
		} else {
			v.ForEach(func(key, value gjson.Result) bool {
				tbl.RawSetString(key.String(), luaFromJSON(l, value))
				return true
			})
		}
		return tbl
	default:
		return lua.LNil
	}
}

// Destroy does nothing; the standard streams outlive the barlib.
func (b *Barlib) Destroy(*module.Ctx) {}
