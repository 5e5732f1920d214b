package board

import (
	"github.com/ajitpratap0/dynboard/pkg/dynlib"
	"github.com/ajitpratap0/dynboard/pkg/models"
)

// Go signatures the vendor exports are bound to. Status results are 0 on
// success. Control entry points take a reserved argument that is always 0.
type (
	// InitializeFunc receives the input parameters as a JSON document
	InitializeFunc = func(params string) int32
	// ControlFunc is the shape of open, close, start, stop and release
	ControlFunc = func(reserved uintptr) int32
	// ConfigureFunc writes at most *responseLen bytes to response and stores
	// the written length back into *responseLen
	ConfigureFunc = func(config string, response *byte, responseLen *int32) int32
	// ReadFunc fills channels values into data
	ReadFunc = func(data *float64, channels int32) int32
)

// responseCapacity is the configure response buffer size
const responseCapacity = 8192

// vendorAPI holds the resolved entry points of one loaded library. It must be
// dropped before the library is unloaded.
type vendorAPI struct {
	initialize func() int32
	open       ControlFunc
	close      ControlFunc
	start      ControlFunc
	stop       ControlFunc
	release    ControlFunc
	configure  ConfigureFunc
	read       ReadFunc
}

// bindVendor resolves every required symbol of b from lib. paramsJSON is the
// serialized form of params handed to the default initialize call.
func bindVendor(lib dynlib.Library, b *Binding, params models.InputParameters, paramsJSON string) (*vendorAPI, error) {
	api := &vendorAPI{}
	s := b.Symbols

	if b.Initialize != nil {
		call, err := b.Initialize(lib, s.Initialize, params)
		if err != nil {
			return nil, err
		}
		api.initialize = call
	} else {
		var initialize InitializeFunc
		if err := lib.Resolve(s.Initialize, &initialize); err != nil {
			return nil, err
		}
		api.initialize = func() int32 {
			return initialize(paramsJSON)
		}
	}

	controls := []struct {
		name string
		dst  *ControlFunc
	}{
		{s.Open, &api.open},
		{s.Close, &api.close},
		{s.Start, &api.start},
		{s.Stop, &api.stop},
		{s.Release, &api.release},
	}
	for _, c := range controls {
		if c.name == "" {
			continue
		}
		if err := lib.Resolve(c.name, c.dst); err != nil {
			return nil, err
		}
	}

	if s.Configure != "" {
		if err := lib.Resolve(s.Configure, &api.configure); err != nil {
			return nil, err
		}
	}
	if err := lib.Resolve(s.Read, &api.read); err != nil {
		return nil, err
	}
	return api, nil
}
