// Package dynlib loads vendor-supplied native shared libraries at runtime and
// binds their exported entry points to Go function variables.
//
// # Overview
//
// A Loader turns a path into a Library. A Library resolves exported symbols by
// name into typed Go function pointers and is unloaded exactly once:
//
//	lib, err := dynlib.NewNativeLoader().Load("/opt/vendor/libdevice.so")
//	if err != nil {
//	    return err // ErrorTypeLibraryLoad
//	}
//	defer lib.Unload()
//
//	var start func(reserved uintptr) int32
//	if err := lib.Resolve("start_stream", &start); err != nil {
//	    return err // ErrorTypeSymbolResolution
//	}
//
// Native bindings go through github.com/ebitengine/purego, so no cgo toolchain
// is needed. Function values obtained from Resolve are only valid until Unload
// returns; callers must drop them before unloading.
//
// Neither Loader nor Library is internally synchronized. The owner serializes
// access.
package dynlib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/dynboard/pkg/errors"
)

// Loader loads native libraries.
type Loader interface {
	Load(path string) (Library, error)
}

// Library is a loaded native module.
type Library interface {
	// Path returns the path the library was loaded from
	Path() string
	// Resolve binds the exported symbol name to fptr, which must be a
	// pointer to a func variable.
	Resolve(name string, fptr interface{}) error
	// Unload releases the module. Calling it again is a no-op.
	Unload() error
}

// NativeLoader loads libraries through the operating system's dynamic linker.
type NativeLoader struct{}

// NewNativeLoader creates a loader backed by the OS dynamic linker
func NewNativeLoader() *NativeLoader {
	return &NativeLoader{}
}

// Load opens the library at path. Missing files, wrong architectures and
// unresolvable transitive dependencies all surface as ErrorTypeLibraryLoad.
func (l *NativeLoader) Load(path string) (Library, error) {
	if path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "library path is empty")
	}
	lib, err := openLibrary(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeLibraryLoad, "failed to load library").
			WithDetail("path", path)
	}
	return lib, nil
}

// ErrSearchPathUnsupported is returned by PrependSearchPath where the dynamic
// linker reads its search path only once, at process start.
var ErrSearchPathUnsupported = errors.New(errors.ErrorTypeUnsupportedPlatform,
	"library search path cannot be changed after process start on this platform")

// RuntimeSearchPath reports whether PrependSearchPath affects libraries loaded
// later by this process. Only Windows consults PATH on every LoadLibrary. On
// unix, dependencies next to a vendor library resolve only through the
// library's rpath (e.g. $ORIGIN) or LD_LIBRARY_PATH / DYLD_LIBRARY_PATH set
// before the process starts.
func RuntimeSearchPath() bool {
	return searchPathVar != ""
}

// PrependSearchPath makes dir visible to the OS library search path of this
// process so that transitive dependencies next to a vendor library resolve.
// Returns the variable that was modified, or ErrSearchPathUnsupported when
// RuntimeSearchPath is false.
func PrependSearchPath(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if !RuntimeSearchPath() {
		return "", ErrSearchPathUnsupported
	}

	value, changed := prependPathList(os.Getenv(searchPathVar), dir)
	if !changed {
		return searchPathVar, nil
	}
	if err := os.Setenv(searchPathVar, value); err != nil {
		return searchPathVar, fmt.Errorf("failed to set %s: %w", searchPathVar, err)
	}
	return searchPathVar, nil
}

// prependPathList puts dir in front of an OS path list unless it is already
// an entry.
func prependPathList(list, dir string) (string, bool) {
	dir = filepath.Clean(dir)
	for _, entry := range filepath.SplitList(list) {
		if entry == dir {
			return list, false
		}
	}
	if list == "" {
		return dir, true
	}
	return strings.Join([]string{dir, list}, string(os.PathListSeparator)), true
}
