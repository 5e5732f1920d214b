//go:build darwin || freebsd || linux || windows

package dynlib

import (
	"fmt"
	"reflect"

	"github.com/ebitengine/purego"

	"github.com/ajitpratap0/dynboard/pkg/errors"
)

// bindAddress registers addr as the implementation of the func pointed to by
// fptr. purego panics on unsupported signatures, so that is turned into an error.
func bindAddress(fptr interface{}, addr uintptr) (err error) {
	if err := checkFuncPointer(fptr); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cannot bind function: %v", r)
		}
	}()
	purego.RegisterFunc(fptr, addr)
	return nil
}

func checkFuncPointer(fptr interface{}) error {
	v := reflect.ValueOf(fptr)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Func {
		return errors.Newf(errors.ErrorTypeInternal, "expected pointer to func, got %T", fptr)
	}
	return nil
}

