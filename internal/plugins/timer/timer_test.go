package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/statline/statline/internal/module"
)

func optsTable(t *testing.T, l *lua.LState, set func(*lua.LTable)) *lua.LTable {
	t.Helper()
	tbl := l.NewTable()
	if set != nil {
		set(tbl)
	}
	return tbl
}

func TestInitDefaults(t *testing.T) {
	l := lua.NewState()
	defer l.Close()

	p := New().(*Producer)
	require.NoError(t, p.Init(nil, optsTable(t, l, nil)))
	assert.Equal(t, time.Second, p.period)
}

func TestInitPeriod(t *testing.T) {
	l := lua.NewState()
	defer l.Close()

	p := New().(*Producer)
	require.NoError(t, p.Init(nil, optsTable(t, l, func(tbl *lua.LTable) {
		tbl.RawSetString("period", lua.LNumber(0.25))
	})))
	assert.Equal(t, 250*time.Millisecond, p.period)
}

func TestInitPeriodInvalid(t *testing.T) {
	l := lua.NewState()
	defer l.Close()

	p := New().(*Producer)
	err := p.Init(nil, optsTable(t, l, func(tbl *lua.LTable) {
		tbl.RawSetString("period", lua.LNumber(0))
	}))
	assert.ErrorContains(t, err, "'period': expected positive number")

	err = p.Init(nil, optsTable(t, l, func(tbl *lua.LTable) {
		tbl.RawSetString("period", lua.LString("fast"))
	}))
	assert.ErrorContains(t, err, "'period': expected number, found string")
}

func TestRunTicksUntilDestroyed(t *testing.T) {
	l := lua.NewState()
	defer l.Close()

	p := New().(*Producer)
	require.NoError(t, p.Init(nil, optsTable(t, l, func(tbl *lua.LTable) {
		tbl.RawSetString("period", lua.LNumber(0.005))
	})))

	ticks := make(chan struct{}, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(nil, module.RunFuncs{
			Begin: func() *lua.LState { return nil },
			End:   func() { ticks <- struct{}{} },
		})
	}()

	// The first tick is immediate, the rest are periodic.
	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatal("timer did not tick")
		}
	}

	p.Destroy(nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop after destroy")
	}

	// Destroy is idempotent.
	p.Destroy(nil)
}
