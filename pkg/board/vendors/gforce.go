// Package vendors holds the concrete vendor bindings. Importing it registers
// every built-in board with the board registry.
package vendors

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/ajitpratap0/dynboard/pkg/board"
	"github.com/ajitpratap0/dynboard/pkg/board/registry"
	"github.com/ajitpratap0/dynboard/pkg/dynlib"
	"github.com/ajitpratap0/dynboard/pkg/models"
)

const (
	// GforcePro is the OYMotion gForce Pro armband
	GforcePro = "gforce-pro"

	gforceChannels = 11
	// gforceEightChannelBoard is the wrapper's device type for the gForce Pro
	gforceEightChannelBoard int32 = 0
)

// gforceLibraryName picks the wrapper matching the process pointer width
func gforceLibraryName() string {
	if strconv.IntSize == 32 {
		return "gForceSDKWrapper32.dll"
	}
	return "gForceSDKWrapper.dll"
}

// gforceInitialize passes a pointer to the device type instead of the
// connection parameters.
func gforceInitialize(lib dynlib.Library, symbol string, _ models.InputParameters) (func() int32, error) {
	var initialize func(deviceType *int32) int32
	if err := lib.Resolve(symbol, &initialize); err != nil {
		return nil, err
	}
	return func() int32 {
		deviceType := gforceEightChannelBoard
		return initialize(&deviceType)
	}, nil
}

// NewGforceProBinding returns the binding for the gForce Pro. The wrapper
// library lives next to the executable and depends on a sibling DLL, so that
// directory is added to the search path before loading.
func NewGforceProBinding() (*board.Binding, error) {
	return &board.Binding{
		Name:              GforcePro,
		ChannelCount:      gforceChannels,
		LibraryName:       gforceLibraryName,
		LibraryDir:        executableDir(),
		AugmentSearchPath: true,
		Symbols:           board.DefaultSymbols(),
		Supported:         board.OnlyOn("windows"),
		Singleton:         true,
		FatalReadCodes:    []int32{7},
		Initialize:        gforceInitialize,
	}, nil
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

func init() {
	registry.MustRegister(GforcePro, NewGforceProBinding, registry.BoardInfo{
		Description: "OYMotion gForce Pro EMG armband",
		Vendor:      "OYMotion",
		Platforms:   []string{"windows"},
	})
}
