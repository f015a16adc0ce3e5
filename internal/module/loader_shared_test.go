//go:build linux || darwin || freebsd

package module

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSharedObject compiles src into a plugin shared object. Plugin
// buildmode is not available everywhere (it needs cgo and a supported
// platform), so a failed build skips rather than fails.
func buildSharedObject(t *testing.T, name, src string) string {
	t.Helper()

	dir := t.TempDir()
	srcPath := filepath.Join(dir, name+".go")
	require.NoError(t, os.WriteFile(srcPath, []byte(src), 0o644))

	soPath := filepath.Join(dir, name+".so")
	cmd := exec.Command("go", "build", "-buildmode=plugin", "-o", soPath, srcPath)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("cannot build plugin shared object: %v\n%s", err, out)
	}
	return soPath
}

// skipIfUnopenable skips when the object could not even be opened: the test
// binary and the freshly built plugin can disagree on toolchain flags (race
// instrumentation, for one), which is an environment property, not a loader
// defect.
func skipIfUnopenable(t *testing.T, err error) {
	t.Helper()
	if err != nil && strings.Contains(err.Error(), "opening ") {
		t.Skipf("test-built shared object not loadable here: %v", err)
	}
}

func TestLoadSharedObjectVersionMismatch(t *testing.T) {
	so := buildSharedObject(t, "oldver", `package main

// Declares an engine version the host does not have.
var LuaVersionNum = 502

func main() {}
`)

	ld := NewLoader()
	_, err := ld.LoadProducer(so)
	skipIfUnopenable(t, err)
	require.ErrorIs(t, err, ErrVersionMismatch)
	assert.Contains(t, err.Error(), "built with engine version 502, host has 501")
}

func TestLoadSharedObjectVersionWrongType(t *testing.T) {
	so := buildSharedObject(t, "strver", `package main

var LuaVersionNum = "501"

func main() {}
`)

	ld := NewLoader()
	_, err := ld.LoadBarlib(so)
	skipIfUnopenable(t, err)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVersionMismatch)
	assert.Contains(t, err.Error(), "symbol LuaVersionNum is not an int")
}

func TestLoadSharedObjectVersionMissing(t *testing.T) {
	so := buildSharedObject(t, "nover", `package main

func main() {}
`)

	ld := NewLoader()
	_, err := ld.LoadProducer(so)
	skipIfUnopenable(t, err)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LuaVersionNum")
}
