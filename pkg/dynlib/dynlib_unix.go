//go:build darwin || freebsd || linux

package dynlib

import (
	"fmt"

	"github.com/ebitengine/purego"

	"github.com/ajitpratap0/dynboard/pkg/errors"
)

// ld.so and dyld read LD_LIBRARY_PATH / DYLD_LIBRARY_PATH once at startup,
// so there is no variable to extend at runtime.
const searchPathVar = ""

// nativeLibrary is a dlopen handle
type nativeLibrary struct {
	path   string
	handle uintptr
}

func openLibrary(path string) (*nativeLibrary, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, err
	}
	return &nativeLibrary{path: path, handle: handle}, nil
}

func (l *nativeLibrary) Path() string {
	return l.path
}

func (l *nativeLibrary) Resolve(name string, fptr interface{}) error {
	if l.handle == 0 {
		return errors.New(errors.ErrorTypeState, "library is unloaded").WithDetail("path", l.path)
	}
	addr, err := purego.Dlsym(l.handle, name)
	if err == nil && addr == 0 {
		err = fmt.Errorf("dlsym returned a null address")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSymbolResolution, "symbol not exported").
			WithDetail("symbol", name).
			WithDetail("path", l.path)
	}
	if err := bindAddress(fptr, addr); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSymbolResolution, "symbol has unsupported signature").
			WithDetail("symbol", name)
	}
	return nil
}

func (l *nativeLibrary) Unload() error {
	if l.handle == 0 {
		return nil
	}
	handle := l.handle
	l.handle = 0
	if err := purego.Dlclose(handle); err != nil {
		return errors.Wrap(err, errors.ErrorTypeLibraryLoad, "failed to unload library").
			WithDetail("path", l.path)
	}
	return nil
}
