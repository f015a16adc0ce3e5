package stdout

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/statline/statline/internal/module"
)

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, errors.New("pipe closed") }

func newBarlib(t *testing.T, buf *bytes.Buffer, opts []string, widgets int) *Barlib {
	t.Helper()
	b := &Barlib{w: buf}
	require.NoError(t, b.Init(nil, opts, widgets))
	return b
}

func TestInitUnknownOption(t *testing.T) {
	b := &Barlib{w: &bytes.Buffer{}}
	err := b.Init(nil, []string{"colour=red"}, 1)
	assert.ErrorContains(t, err, "unknown option 'colour=red'")
}

func TestSetJoinsSegments(t *testing.T) {
	buf := &bytes.Buffer{}
	b := newBarlib(t, buf, nil, 3)

	require.NoError(t, b.Set(lua.LString("cpu 42%"), 0))
	require.NoError(t, b.Set(lua.LString("14:30"), 2))

	// Empty segments are dropped from the joined line.
	lines := buf.String()
	assert.Contains(t, lines, "cpu 42%\n")
	assert.Contains(t, lines, "cpu 42% | 14:30\n")
}

func TestSetCustomSeparator(t *testing.T) {
	buf := &bytes.Buffer{}
	b := newBarlib(t, buf, []string{"separator= :: "}, 2)

	require.NoError(t, b.Set(lua.LString("a"), 0))
	require.NoError(t, b.Set(lua.LString("b"), 1))
	assert.Contains(t, buf.String(), "a :: b\n")
}

func TestSetNumber(t *testing.T) {
	buf := &bytes.Buffer{}
	b := newBarlib(t, buf, nil, 1)

	require.NoError(t, b.Set(lua.LNumber(42), 0))
	assert.Contains(t, buf.String(), "42\n")
}

func TestSetNilClears(t *testing.T) {
	buf := &bytes.Buffer{}
	b := newBarlib(t, buf, nil, 1)

	require.NoError(t, b.Set(lua.LString("gone"), 0))
	buf.Reset()
	require.NoError(t, b.Set(lua.LNil, 0))
	assert.Equal(t, "\n", buf.String())
}

func TestSetWrongTypeIsNonfatal(t *testing.T) {
	buf := &bytes.Buffer{}
	b := newBarlib(t, buf, nil, 1)

	l := lua.NewState()
	defer l.Close()
	err := b.Set(l.NewTable(), 0)
	require.Error(t, err)
	assert.False(t, module.IsFatal(err))
	assert.ErrorContains(t, err, "expected string, number or nil, found table")
}

func TestSetErrorSegment(t *testing.T) {
	buf := &bytes.Buffer{}
	b := newBarlib(t, buf, nil, 2)

	require.NoError(t, b.Set(lua.LString("ok"), 0))
	require.NoError(t, b.SetError(1))
	assert.Contains(t, buf.String(), "ok | (error)\n")
}

func TestWriteFailureIsFatal(t *testing.T) {
	b := &Barlib{w: errWriter{}}
	require.NoError(t, b.Init(nil, nil, 1))

	err := b.Set(lua.LString("x"), 0)
	require.Error(t, err)
	assert.True(t, module.IsFatal(err))

	err = b.SetError(0)
	require.Error(t, err)
	assert.True(t, module.IsFatal(err))
}
