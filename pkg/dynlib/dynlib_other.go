//go:build !(darwin || freebsd || linux || windows)

package dynlib

import (
	"runtime"

	"github.com/ajitpratap0/dynboard/pkg/errors"
)

const searchPathVar = ""

type nativeLibrary struct{}

func openLibrary(path string) (*nativeLibrary, error) {
	return nil, errors.Newf(errors.ErrorTypeUnsupportedPlatform, "native libraries are not supported on %s/%s",
		runtime.GOOS, runtime.GOARCH)
}

func (l *nativeLibrary) Path() string {
	return ""
}

func (l *nativeLibrary) Resolve(name string, fptr interface{}) error {
	return errors.New(errors.ErrorTypeUnsupportedPlatform, "native libraries are not supported").
		WithDetail("symbol", name)
}

func (l *nativeLibrary) Unload() error {
	return nil
}
