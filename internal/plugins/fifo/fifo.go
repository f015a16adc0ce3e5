// Package fifo implements the builtin fifo producer: it reads lines from a
// named pipe (or any file) and invokes the widget's callback with each line.
package fifo

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/statline/statline/internal/logging"
	"github.com/statline/statline/internal/module"
)

// Producer is one fifo instance.
type Producer struct {
	path       string
	retryDelay time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a fifo producer.
func New() module.Producer {
	return &Producer{
		retryDelay: time.Second,
		stop:       make(chan struct{}),
	}
}

// Init reads the options table. Recognized: path (string, required).
func (p *Producer) Init(_ *module.Ctx, opts *lua.LTable) error {
	v := opts.RawGetString("path")
	path, ok := v.(lua.LString)
	if !ok {
		return fmt.Errorf("'path': expected string, found %s", v.Type().String())
	}
	p.path = string(path)
	return nil
}

// Run reads the file line by line, delivering each line as the callback's
// single argument, and reopens on end-of-file. Open and read failures are
// logged and retried after a delay.
//
// An open blocked on a pipe with no writer is not interruptible; Destroy
// takes effect at the next loop boundary.
func (p *Producer) Run(ctx *module.Ctx, funcs module.RunFuncs) {
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		f, err := os.Open(p.path)
		if err != nil {
			ctx.Log(logging.LevelError, "cannot open '%s': %v", p.path, err)
			if !p.wait() {
				return
			}
			continue
		}

		sc := bufio.NewScanner(f)
		for sc.Scan() {
			l := funcs.Begin()
			l.Push(lua.LString(sc.Text()))
			funcs.End()

			select {
			case <-p.stop:
				f.Close()
				return
			default:
			}
		}
		f.Close()
		if err := sc.Err(); err != nil {
			ctx.Log(logging.LevelError, "reading '%s': %v", p.path, err)
		}
		if !p.wait() {
			return
		}
	}
}

func (p *Producer) wait() bool {
	select {
	case <-time.After(p.retryDelay):
		return true
	case <-p.stop:
		return false
	}
}

// Destroy stops the run loop.
func (p *Producer) Destroy(*module.Ctx) {
	p.stopOnce.Do(func() { close(p.stop) })
}
