package luart

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func newTestState(t *testing.T, cfg Config) *State {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func writeLua(t *testing.T, dir, name, code string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(code), 0o644))
	return path
}

func TestBootstrapOpensStdlib(t *testing.T) {
	s := newTestState(t, Config{})

	require.NoError(t, s.L().DoString(`x = string.format("%d", math.floor(2.5))`))
	assert.Equal(t, lua.LString("2"), s.L().GetGlobal("x"))
}

func TestOsExitReplaced(t *testing.T) {
	exited := -1
	s := newTestState(t, Config{Exit: func(code int) { exited = code }})

	require.NoError(t, s.L().DoString(`os.exit(3)`))
	assert.Equal(t, 3, exited)

	require.NoError(t, s.L().DoString(`os.exit()`))
	assert.Equal(t, 0, exited)
}

func TestOsGetenvReplaced(t *testing.T) {
	t.Setenv("STATLINE_TEST_VAR", "value")
	s := newTestState(t, Config{})

	require.NoError(t, s.L().DoString(`a = os.getenv("STATLINE_TEST_VAR"); b = os.getenv("STATLINE_TEST_UNSET")`))
	assert.Equal(t, lua.LString("value"), s.L().GetGlobal("a"))
	assert.Equal(t, lua.LNil, s.L().GetGlobal("b"))
}

func TestOsSetlocaleStubbed(t *testing.T) {
	s := newTestState(t, Config{})

	require.NoError(t, s.L().DoString(`r = os.setlocale("C")`))
	assert.Equal(t, lua.LNil, s.L().GetGlobal("r"))
}

func TestRequirePluginMemoized(t *testing.T) {
	dir := t.TempDir()
	writeLua(t, dir, "counter.lua", `calls = (calls or 0) + 1; return {n = calls}`)

	s := newTestState(t, Config{LuaDir: dir})
	require.NoError(t, s.L().DoString(`
		a = statline.require_plugin("counter")
		b = statline.require_plugin("counter")
	`))

	assert.Equal(t, lua.LNumber(1), s.L().GetGlobal("calls"), "plugin chunk must run once")
	assert.Equal(t, s.L().GetGlobal("a"), s.L().GetGlobal("b"))
}

func TestRequirePluginRejectsPathSeparator(t *testing.T) {
	s := newTestState(t, Config{LuaDir: t.TempDir()})

	err := s.L().DoString(`statline.require_plugin("../evil")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path separator")
}

func TestRequirePluginMissingFile(t *testing.T) {
	s := newTestState(t, Config{LuaDir: t.TempDir()})

	err := s.L().DoString(`statline.require_plugin("absent")`)
	assert.Error(t, err)
}

func TestProtectedCallSuccess(t *testing.T) {
	s := newTestState(t, Config{})
	fn, err := s.CompileString(`local a, b = ...; return a + b`, "add")
	require.NoError(t, err)

	s.PushCall(fn)
	s.PushValue(lua.LNumber(2))
	s.PushValue(lua.LNumber(3))
	require.NoError(t, s.ProtectedCall(2, 1))

	assert.Equal(t, 1, s.Top())
	assert.Equal(t, lua.LNumber(5), s.L().Get(-1))
	s.ResetStack()
	assert.Equal(t, 0, s.Top())
}

func TestProtectedCallErrorCarriesTraceback(t *testing.T) {
	s := newTestState(t, Config{})
	fn, err := s.CompileString(`error("boom")`, "failing")
	require.NoError(t, err)

	s.PushCall(fn)
	err = s.ProtectedCall(0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "stack traceback")
	assert.Equal(t, 0, s.Top(), "stack must be reset after a failed call")
}

func TestPushCallOnDirtyStackPanics(t *testing.T) {
	s := newTestState(t, Config{})
	s.PushValue(lua.LNumber(1))

	assert.Panics(t, func() {
		s.PushCall(nil)
	})
}

func TestDoFileProtected(t *testing.T) {
	dir := t.TempDir()
	path := writeLua(t, dir, "script.lua", `widget = {plugin = "timer"}`)

	s := newTestState(t, Config{})
	require.NoError(t, s.DoFileProtected(path))

	tbl, ok := s.GlobalTable("widget")
	require.True(t, ok)
	assert.Equal(t, lua.LString("timer"), tbl.RawGetString("plugin"))
}

func TestDoFileProtectedRuntimeError(t *testing.T) {
	dir := t.TempDir()
	path := writeLua(t, dir, "bad.lua", `error("at load time")`)

	s := newTestState(t, Config{})
	err := s.DoFileProtected(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at load time")
}

func TestCompileStringSyntaxError(t *testing.T) {
	s := newTestState(t, Config{})

	_, err := s.CompileString(`this is not lua`, "chunk")
	assert.Error(t, err)
}
