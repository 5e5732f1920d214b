package vendors

import (
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dynboard/pkg/board"
	"github.com/ajitpratap0/dynboard/pkg/board/boardtest"
	"github.com/ajitpratap0/dynboard/pkg/board/registry"
	"github.com/ajitpratap0/dynboard/pkg/config"
	"github.com/ajitpratap0/dynboard/pkg/dynlib"
	"github.com/ajitpratap0/dynboard/pkg/errors"
	"github.com/ajitpratap0/dynboard/pkg/models"
	"github.com/ajitpratap0/dynboard/pkg/testutil"
)

func TestGforcePro_Registered(t *testing.T) {
	require.True(t, registry.Has(GforcePro))

	info, err := registry.Info(GforcePro)
	require.NoError(t, err)
	assert.Equal(t, 11, info.Channels)
	assert.True(t, info.Singleton)
	assert.Equal(t, runtime.GOOS == "windows", info.Supported)
}

func TestGforcePro_Binding(t *testing.T) {
	b, err := NewGforceProBinding()
	require.NoError(t, err)
	require.NoError(t, b.Validate())

	assert.Equal(t, 11, b.ChannelCount)
	assert.True(t, b.Singleton)
	assert.True(t, b.AugmentSearchPath)
	if strconv.IntSize == 64 {
		assert.Equal(t, "gForceSDKWrapper.dll", b.LibraryName())
	} else {
		assert.Equal(t, "gForceSDKWrapper32.dll", b.LibraryName())
	}
	assert.Equal(t, filepath.Join("/opt/gforce", b.LibraryName()), b.LibraryPath("/opt/gforce"))
}

func TestGforcePro_UnsupportedOffWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("gForce Pro is supported on windows")
	}
	vendor := boardtest.NewVendor(11)
	loader := vendor.Loader()
	instances := board.NewInstanceRegistry()

	a, err := registry.Create(GforcePro, models.InputParameters{},
		board.WithLoader(loader),
		board.WithInstanceRegistry(instances),
		board.WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)

	for _, err := range []error{
		a.PrepareSession(),
		a.StartStream(450000, ""),
		a.StopStream(),
		a.ReleaseSession(),
	} {
		assert.Equal(t, errors.StatusUnsupportedBoard, errors.Status(err))
	}
	assert.Zero(t, loader.Calls())
	assert.Zero(t, instances.Len())
}

func TestGforcePro_LifecycleWithMockWrapper(t *testing.T) {
	b, err := NewGforceProBinding()
	require.NoError(t, err)
	b.Supported = nil
	b.AugmentSearchPath = false

	vendor := boardtest.NewVendor(11)
	vendor.Script(boardtest.Samples(10), boardtest.End(7))
	loader := vendor.Loader()

	var deviceType int32 = -1
	loader.SetSymbol("initialize", func(p *int32) int32 {
		deviceType = *p
		return 0
	})

	instances := board.NewInstanceRegistry()
	opts := []board.Option{
		board.WithLoader(loader),
		board.WithInstanceRegistry(instances),
		board.WithLogger(testutil.TestLogger(t)),
		board.WithLibraryDir("/opt/gforce"),
	}
	a, err := board.NewAdapter(b, models.InputParameters{}, opts...)
	require.NoError(t, err)
	defer a.ReleaseSession()

	second, err := board.NewAdapter(b, models.InputParameters{}, opts...)
	require.NoError(t, err)
	assert.Equal(t, errors.StatusAnotherBoardIsCreated, errors.Status(second.PrepareSession()))

	require.NoError(t, a.PrepareSession())
	assert.Equal(t, gforceEightChannelBoard, deviceType)
	assert.Equal(t, []string{filepath.Join("/opt/gforce", gforceLibraryName())}, loader.Paths())

	require.NoError(t, a.StartStream(450000, ""))
	testutil.WaitStreamEnded(t, a.StreamAlive)
	require.NoError(t, a.StopStream())
	require.NoError(t, a.ReleaseSession())
	assert.Zero(t, instances.Len())
}

func TestNewGenericBinding(t *testing.T) {
	cfg := config.BoardConfig{
		Name:                 "acme-8",
		Library:              "libacme.so",
		LibraryDir:           "/opt/acme",
		Channels:             8,
		Platforms:            []string{runtime.GOOS},
		Symbols:              map[string]string{"read": "acme_read", "configure": "acme_config"},
		FatalReadCodes:       []int{9, 10},
		ConfirmOnFirstSample: true,
	}

	b, err := NewGenericBinding(cfg)
	require.NoError(t, err)
	assert.Equal(t, "acme-8", b.Name)
	assert.Equal(t, 8, b.ChannelCount)
	assert.Equal(t, filepath.Join("/opt/acme", "libacme.so"), b.LibraryPath(""))
	assert.Equal(t, dynlib.RuntimeSearchPath(), b.AugmentSearchPath)
	assert.Equal(t, "acme_read", b.Symbols.Read)
	assert.Equal(t, "acme_config", b.Symbols.Configure)
	assert.Equal(t, "open_device", b.Symbols.Open)
	assert.Equal(t, []int32{9, 10}, b.FatalReadCodes)
	assert.True(t, b.ConfirmOnFirstSample)
	assert.True(t, b.PlatformSupported())

	cfg.FatalReadCodes = nil
	cfg.Platforms = []string{"plan9/arm"}
	cfg.LibraryDir = ""
	b, err = NewGenericBinding(cfg)
	require.NoError(t, err)
	assert.False(t, b.AugmentSearchPath)
	assert.Equal(t, []int32{7}, b.FatalReadCodes)
	if runtime.GOOS != "plan9" {
		assert.False(t, b.PlatformSupported())
	}

	_, err = NewGenericBinding(config.BoardConfig{Name: "x"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRegisterConfigured(t *testing.T) {
	r := registry.NewRegistry()
	boards := []config.BoardConfig{
		{Name: "one", Library: "libone.so", Channels: 2},
		{Name: "two", Library: "libtwo.so", Channels: 4, Singleton: true},
	}
	require.NoError(t, RegisterConfigured(r, boards))
	assert.Equal(t, []string{"one", "two"}, r.List())

	info, err := r.Info("two")
	require.NoError(t, err)
	assert.True(t, info.Singleton)
	assert.Equal(t, "libtwo.so", info.Library)

	assert.Error(t, RegisterConfigured(r, boards[:1]), "duplicate names are rejected")
}

func TestGenericBinding_NativeLibrary(t *testing.T) {
	cfg := testutil.NativeBoard(t)
	b, err := NewGenericBinding(cfg)
	require.NoError(t, err)

	a, err := board.NewAdapter(b, models.InputParameters{},
		board.WithInstanceRegistry(board.NewInstanceRegistry()),
		board.WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	defer a.ReleaseSession()

	require.NoError(t, a.PrepareSession())
	require.NoError(t, a.StartStream(1000, ""))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, a.StopStream())
	require.NoError(t, a.ReleaseSession())
	assert.Equal(t, board.StateReleased, a.State())
}
