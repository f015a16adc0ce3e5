// Package timer implements the builtin timer producer: it invokes the
// widget's callback once immediately and then at a fixed period.
package timer

import (
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/statline/statline/internal/module"
)

// Producer is one timer instance.
type Producer struct {
	period time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a timer producer.
func New() module.Producer {
	return &Producer{
		period: time.Second,
		stop:   make(chan struct{}),
	}
}

// Init reads the options table. Recognized: period (seconds, positive
// number, default 1).
func (p *Producer) Init(_ *module.Ctx, opts *lua.LTable) error {
	switch v := opts.RawGetString("period").(type) {
	case *lua.LNilType:
	case lua.LNumber:
		if v <= 0 {
			return fmt.Errorf("'period': expected positive number, got %v", v)
		}
		p.period = time.Duration(float64(v) * float64(time.Second))
	default:
		return fmt.Errorf("'period': expected number, found %s", v.Type().String())
	}
	return nil
}

// Run ticks until destroyed. The callback is invoked with no arguments.
func (p *Producer) Run(_ *module.Ctx, funcs module.RunFuncs) {
	for {
		funcs.Begin()
		funcs.End()

		select {
		case <-time.After(p.period):
		case <-p.stop:
			return
		}
	}
}

// Destroy stops the run loop.
func (p *Producer) Destroy(*module.Ctx) {
	p.stopOnce.Do(func() { close(p.stop) })
}
