package module

import (
	"errors"
	"fmt"
	"path/filepath"
	"plugin"
	"strings"
)

// Loader errors.
var (
	// ErrProducerNotFound is returned when no builtin or shared object
	// matches a producer name.
	ErrProducerNotFound = errors.New("producer plugin not found")

	// ErrBarlibNotFound is returned when no builtin or shared object
	// matches a barlib name.
	ErrBarlibNotFound = errors.New("barlib not found")

	// ErrVersionMismatch is returned when a shared object declares an
	// engine version different from the host's.
	ErrVersionMismatch = errors.New("engine version mismatch")
)

// ProducerFactory creates one producer instance per widget.
type ProducerFactory func() Producer

// BarlibFactory creates the process's barlib instance.
type BarlibFactory func() Barlib

// Symbol names a shared-object module must export.
const (
	versionSymbol     = "LuaVersionNum"
	newProducerSymbol = "NewProducer"
	newBarlibSymbol   = "NewBarlib"
)

// Loader resolves module names. A name containing a path separator is
// loaded as a shared-object file; a bare name resolves to a builtin factory
// first, then to a shared object in the fixed plugins/barlibs directory.
//
// The loader holds no mutable state after construction; resolution only
// reads the option set, and plugin.Open itself memoizes per path, so the
// loader stays safe if bootstrap is ever parallelized.
type Loader struct {
	producers  map[string]ProducerFactory
	barlibs    map[string]BarlibFactory
	pluginsDir string
	barlibsDir string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithProducer registers a builtin producer factory.
func WithProducer(name string, f ProducerFactory) LoaderOption {
	return func(l *Loader) {
		l.producers[name] = f
	}
}

// WithBarlib registers a builtin barlib factory.
func WithBarlib(name string, f BarlibFactory) LoaderOption {
	return func(l *Loader) {
		l.barlibs[name] = f
	}
}

// WithPluginsDir sets the directory bare producer names resolve against.
func WithPluginsDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.pluginsDir = dir
	}
}

// WithBarlibsDir sets the directory bare barlib names resolve against.
func WithBarlibsDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.barlibsDir = dir
	}
}

// NewLoader creates a Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		producers: make(map[string]ProducerFactory),
		barlibs:   make(map[string]BarlibFactory),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ProducerPath returns the shared-object path a bare producer name resolves
// to.
func (l *Loader) ProducerPath(name string) string {
	return filepath.Join(l.pluginsDir, "plugin-"+name+".so")
}

// BarlibPath returns the shared-object path a bare barlib name resolves to.
func (l *Loader) BarlibPath(name string) string {
	return filepath.Join(l.barlibsDir, "barlib-"+name+".so")
}

// LoadProducer resolves name to a producer factory.
func (l *Loader) LoadProducer(name string) (ProducerFactory, error) {
	if isPath(name) {
		return loadSharedProducer(name)
	}
	if f, ok := l.producers[name]; ok {
		return f, nil
	}
	if l.pluginsDir != "" {
		return loadSharedProducer(l.ProducerPath(name))
	}
	return nil, fmt.Errorf("%w: %s", ErrProducerNotFound, name)
}

// LoadBarlib resolves name to a barlib factory.
func (l *Loader) LoadBarlib(name string) (BarlibFactory, error) {
	if isPath(name) {
		return loadSharedBarlib(name)
	}
	if f, ok := l.barlibs[name]; ok {
		return f, nil
	}
	if l.barlibsDir != "" {
		return loadSharedBarlib(l.BarlibPath(name))
	}
	return nil, fmt.Errorf("%w: %s", ErrBarlibNotFound, name)
}

func isPath(name string) bool {
	return strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator)
}

// openChecked opens a shared object and verifies its declared engine
// version before any other symbol is touched. On any failure it returns a
// descriptive error and no handle; Go plugins cannot be closed, so the
// version check runs before the module is given a factory to construct
// anything with — no partial state is left behind.
func openChecked(path string) (*plugin.Plugin, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	sym, err := p.Lookup(versionSymbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ver, ok := sym.(*int)
	if !ok {
		return nil, fmt.Errorf("%s: symbol %s is not an int", path, versionSymbol)
	}
	if *ver != LuaVersionNum {
		return nil, fmt.Errorf("%w: %s was built with engine version %d, host has %d",
			ErrVersionMismatch, path, *ver, LuaVersionNum)
	}
	return p, nil
}

func loadSharedProducer(path string) (ProducerFactory, error) {
	p, err := openChecked(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup(newProducerSymbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	factory, ok := sym.(func() Producer)
	if !ok {
		return nil, fmt.Errorf("%s: symbol %s is not a producer factory", path, newProducerSymbol)
	}
	return ProducerFactory(factory), nil
}

func loadSharedBarlib(path string) (BarlibFactory, error) {
	p, err := openChecked(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup(newBarlibSymbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	factory, ok := sym.(func() Barlib)
	if !ok {
		return nil, fmt.Errorf("%s: symbol %s is not a barlib factory", path, newBarlibSymbol)
	}
	return BarlibFactory(factory), nil
}
