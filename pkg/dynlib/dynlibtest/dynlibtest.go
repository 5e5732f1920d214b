// Package dynlibtest provides an in-memory dynlib.Loader whose "exports" are
// plain Go functions, for exercising adapters without a native library.
package dynlibtest

import (
	"reflect"
	"sync"

	"github.com/ajitpratap0/dynboard/pkg/dynlib"
	"github.com/ajitpratap0/dynboard/pkg/errors"
)

// Loader is a mock dynlib.Loader. Every library it loads exports the
// functions currently registered in its symbol table.
type Loader struct {
	mu       sync.Mutex
	symbols  map[string]interface{}
	loadErr  error
	loads    int
	opened   int
	unloads  int
	resolves int
	paths    []string
}

var _ dynlib.Loader = (*Loader)(nil)

// NewLoader creates a loader exporting symbols. Values must be func values
// whose types match the pointers later passed to Resolve.
func NewLoader(symbols map[string]interface{}) *Loader {
	l := &Loader{symbols: make(map[string]interface{}, len(symbols))}
	for name, fn := range symbols {
		l.symbols[name] = fn
	}
	return l
}

// SetSymbol adds or replaces an export
func (l *Loader) SetSymbol(name string, fn interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.symbols[name] = fn
}

// RemoveSymbol drops an export so that resolving it fails
func (l *Loader) RemoveSymbol(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.symbols, name)
}

// FailLoad makes subsequent loads fail with err; nil restores loading.
func (l *Loader) FailLoad(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadErr = err
}

// Load implements dynlib.Loader
func (l *Loader) Load(path string) (dynlib.Library, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.loads++
	l.paths = append(l.paths, path)
	if l.loadErr != nil {
		return nil, errors.Wrap(l.loadErr, errors.ErrorTypeLibraryLoad, "failed to load library").
			WithDetail("path", path)
	}
	l.opened++
	return &Library{loader: l, path: path}, nil
}

// Loads returns the number of Load calls
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// Unloads returns the number of effective unloads
func (l *Loader) Unloads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unloads
}

// Resolves returns the number of Resolve calls across all libraries
func (l *Loader) Resolves() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolves
}

// Calls returns the total number of loader interactions observed
func (l *Loader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads + l.unloads + l.resolves
}

// OpenHandles returns loads minus unloads of successfully loaded libraries
func (l *Loader) OpenHandles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened - l.unloads
}

// Paths returns every path passed to Load, in order
func (l *Loader) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.paths))
	copy(out, l.paths)
	return out
}

// Library is a mock loaded library
type Library struct {
	loader   *Loader
	path     string
	unloaded bool
}

// Path implements dynlib.Library
func (lib *Library) Path() string {
	return lib.path
}

// Resolve implements dynlib.Library
func (lib *Library) Resolve(name string, fptr interface{}) error {
	l := lib.loader
	l.mu.Lock()
	defer l.mu.Unlock()

	l.resolves++
	if lib.unloaded {
		return errors.New(errors.ErrorTypeState, "library is unloaded").WithDetail("path", lib.path)
	}

	fn, ok := l.symbols[name]
	if !ok {
		return errors.New(errors.ErrorTypeSymbolResolution, "symbol not exported").
			WithDetail("symbol", name).
			WithDetail("path", lib.path)
	}

	dst := reflect.ValueOf(fptr)
	if dst.Kind() != reflect.Ptr || dst.IsNil() || dst.Elem().Kind() != reflect.Func {
		return errors.Newf(errors.ErrorTypeInternal, "expected pointer to func, got %T", fptr)
	}
	src := reflect.ValueOf(fn)
	if !src.Type().AssignableTo(dst.Elem().Type()) {
		return errors.Newf(errors.ErrorTypeSymbolResolution, "symbol %s has type %s, want %s",
			name, src.Type(), dst.Elem().Type())
	}
	dst.Elem().Set(src)
	return nil
}

// Unload implements dynlib.Library
func (lib *Library) Unload() error {
	l := lib.loader
	l.mu.Lock()
	defer l.mu.Unlock()

	if lib.unloaded {
		return nil
	}
	lib.unloaded = true
	l.unloads++
	return nil
}
