//go:build windows

package dynlib

import (
	"golang.org/x/sys/windows"

	"github.com/ajitpratap0/dynboard/pkg/errors"
)

// Dependent DLLs are looked up through PATH.
const searchPathVar = "PATH"

// nativeLibrary is a LoadLibrary handle
type nativeLibrary struct {
	path string
	dll  *windows.DLL
}

func openLibrary(path string) (*nativeLibrary, error) {
	dll, err := windows.LoadDLL(path)
	if err != nil {
		return nil, err
	}
	return &nativeLibrary{path: path, dll: dll}, nil
}

func (l *nativeLibrary) Path() string {
	return l.path
}

func (l *nativeLibrary) Resolve(name string, fptr interface{}) error {
	if l.dll == nil {
		return errors.New(errors.ErrorTypeState, "library is unloaded").WithDetail("path", l.path)
	}
	proc, err := l.dll.FindProc(name)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSymbolResolution, "symbol not exported").
			WithDetail("symbol", name).
			WithDetail("path", l.path)
	}
	if err := bindAddress(fptr, proc.Addr()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSymbolResolution, "symbol has unsupported signature").
			WithDetail("symbol", name)
	}
	return nil
}

func (l *nativeLibrary) Unload() error {
	if l.dll == nil {
		return nil
	}
	dll := l.dll
	l.dll = nil
	if err := dll.Release(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeLibraryLoad, "failed to unload library").
			WithDetail("path", l.path)
	}
	return nil
}
