package board_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/dynboard/pkg/board"
	"github.com/ajitpratap0/dynboard/pkg/board/boardtest"
	"github.com/ajitpratap0/dynboard/pkg/dynlib"
	"github.com/ajitpratap0/dynboard/pkg/dynlib/dynlibtest"
	"github.com/ajitpratap0/dynboard/pkg/errors"
	"github.com/ajitpratap0/dynboard/pkg/models"
	"github.com/ajitpratap0/dynboard/pkg/output"
)

type fixture struct {
	vendor   *boardtest.Vendor
	binding  *board.Binding
	loader   *dynlibtest.Loader
	sinks    *[]*boardtest.Recorder
	registry *board.InstanceRegistry
	adapter  *board.Adapter
}

func newFixture(t *testing.T, channels int, configure func(*board.Binding), opts ...board.Option) *fixture {
	t.Helper()
	f := &fixture{
		vendor:   boardtest.NewVendor(channels),
		registry: board.NewInstanceRegistry(),
	}
	f.binding = f.vendor.Binding("mock")
	if configure != nil {
		configure(f.binding)
	}
	f.loader = f.vendor.Loader()
	var factory board.SinkFactory
	factory, f.sinks = boardtest.RecorderFactory()

	base := []board.Option{
		board.WithLoader(f.loader),
		board.WithInstanceRegistry(f.registry),
		board.WithSinkFactory(factory),
		board.WithLogger(zaptest.NewLogger(t)),
		board.WithHandshakeTimeout(time.Second),
		board.WithJoinWarnAfter(time.Second),
	}
	a, err := board.NewAdapter(f.binding, models.InputParameters{SerialPort: "COM3"}, append(base, opts...)...)
	require.NoError(t, err)
	f.adapter = a
	t.Cleanup(func() { _ = a.ReleaseSession() })
	return f
}

func (f *fixture) lastSink(t *testing.T) *boardtest.Recorder {
	t.Helper()
	require.NotEmpty(t, *f.sinks)
	return (*f.sinks)[len(*f.sinks)-1]
}

func TestAdapter_HappyPath(t *testing.T) {
	f := newFixture(t, 4, nil)
	f.vendor.Script(boardtest.Samples(3))
	a := f.adapter

	assert.Equal(t, board.StateUnprepared, a.State())
	require.NoError(t, a.PrepareSession())
	assert.Equal(t, board.StatePrepared, a.State())
	assert.Equal(t, []string{"libmock.so"}, f.loader.Paths())

	require.NoError(t, a.StartStream(450000, ""))
	assert.Equal(t, board.StateStreaming, a.State())
	assert.True(t, a.StreamAlive())

	require.NoError(t, a.StopStream())
	assert.Equal(t, board.StatePrepared, a.State())
	assert.False(t, a.StreamAlive())

	require.NoError(t, a.ReleaseSession())
	assert.Equal(t, board.StateReleased, a.State())
	require.NoError(t, a.ReleaseSession(), "second release is a no-op")

	assert.Equal(t, []string{
		"initialize", "open_device", "start_stream", "stop_stream", "close_device", "release",
	}, f.vendor.Order())
	assert.Equal(t, 1, f.loader.Loads())
	assert.Equal(t, 1, f.loader.Unloads())
	assert.Zero(t, f.loader.OpenHandles())

	params, err := models.ParseInputParameters(f.vendor.InitParams()[0])
	require.NoError(t, err)
	assert.Equal(t, "COM3", params.SerialPort)
	assert.True(t, f.lastSink(t).Closed())
}

func TestAdapter_SearchPathFixedAtStartupIsReported(t *testing.T) {
	if dynlib.RuntimeSearchPath() {
		t.Skip("search path can be extended at runtime on this platform")
	}
	core, logs := observer.New(zap.WarnLevel)
	dir := filepath.Join(t.TempDir(), "vendor")
	f := newFixture(t, 2, func(b *board.Binding) { b.AugmentSearchPath = true },
		board.WithLibraryDir(dir),
		board.WithLogger(zap.New(core)))

	require.NoError(t, f.adapter.PrepareSession())
	assert.Equal(t, []string{filepath.Join(dir, "libmock.so")}, f.loader.Paths())

	warnings := logs.FilterField(zap.String("library_dir", dir)).All()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "cannot be added to the search path")
}

func TestAdapter_PrepareIsIdempotent(t *testing.T) {
	f := newFixture(t, 2, nil)
	require.NoError(t, f.adapter.PrepareSession())
	require.NoError(t, f.adapter.PrepareSession())
	assert.Equal(t, 1, f.loader.Loads())
	assert.Equal(t, 1, f.vendor.Calls("initialize"))
}

func TestAdapter_StartBeforePrepare(t *testing.T) {
	f := newFixture(t, 2, nil)

	err := f.adapter.StartStream(100, "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))
	assert.Equal(t, errors.StatusBoardNotCreated, errors.Status(err))
	assert.Zero(t, f.loader.Calls())
	assert.Equal(t, board.StateUnprepared, f.adapter.State())

	err = f.adapter.StopStream()
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))
	_, err = f.adapter.ConfigBoard("x")
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))
	assert.Zero(t, f.loader.Calls())
}

func TestAdapter_MissingSymbol(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.loader.RemoveSymbol("start_stream")

	err := f.adapter.PrepareSession()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSymbolResolution))
	assert.Equal(t, board.StateUnprepared, f.adapter.State())
	assert.Zero(t, f.loader.OpenHandles(), "library must be unloaded after a failed prepare")
	assert.Zero(t, f.vendor.Calls("initialize"), "no vendor call before every symbol resolved")

	f.loader.SetSymbol("start_stream", f.vendor.Symbols()["start_stream"])
	require.NoError(t, f.adapter.PrepareSession())
	assert.Equal(t, board.StatePrepared, f.adapter.State())
	assert.Equal(t, 1, f.loader.OpenHandles())
}

func TestAdapter_LoadFailure(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.loader.FailLoad(assert.AnError)

	err := f.adapter.PrepareSession()
	assert.True(t, errors.IsType(err, errors.ErrorTypeLibraryLoad))
	assert.Equal(t, board.StateUnprepared, f.adapter.State())
}

func TestAdapter_VendorOpenFailure(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.vendor.SetResult("open_device", 3)

	err := f.adapter.PrepareSession()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeVendorCall))
	assert.Equal(t, errors.StatusCode(3), errors.Status(err))
	assert.Equal(t, board.StateUnprepared, f.adapter.State())
	assert.Equal(t, 1, f.vendor.Calls("release"), "vendor release runs after failed open")
	assert.Zero(t, f.loader.OpenHandles())
}

func TestAdapter_VendorStartFailure(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.vendor.SetResult("start_stream", 5)
	require.NoError(t, f.adapter.PrepareSession())

	err := f.adapter.StartStream(100, "")
	assert.Equal(t, errors.StatusCode(5), errors.Status(err))
	assert.Equal(t, board.StatePrepared, f.adapter.State())
	assert.False(t, f.adapter.StreamAlive())
	assert.True(t, f.lastSink(t).Closed())
}

func TestAdapter_StartTwice(t *testing.T) {
	f := newFixture(t, 2, nil)
	require.NoError(t, f.adapter.PrepareSession())
	require.NoError(t, f.adapter.StartStream(100, ""))

	err := f.adapter.StartStream(100, "")
	assert.Equal(t, errors.StatusStreamAlreadyRunning, errors.Status(err))
	assert.Equal(t, 1, f.vendor.Calls("start_stream"))
	require.NoError(t, f.adapter.StopStream())
}

func TestAdapter_InvalidBufferSize(t *testing.T) {
	f := newFixture(t, 2, nil, board.WithMaxBufferSize(1000))
	require.NoError(t, f.adapter.PrepareSession())

	for _, size := range []int{0, -1, 1001} {
		err := f.adapter.StartStream(size, "")
		assert.Equal(t, errors.StatusInvalidBufferSize, errors.Status(err), "size %d", size)
	}
	assert.Zero(t, f.vendor.Calls("start_stream"))
	assert.Equal(t, board.StatePrepared, f.adapter.State())
}

func TestAdapter_SingletonConflict(t *testing.T) {
	registry := board.NewInstanceRegistry()
	singleton := func(b *board.Binding) { b.Singleton = true }

	first := newFixture(t, 2, singleton, board.WithInstanceRegistry(registry))
	second := newFixture(t, 2, singleton, board.WithInstanceRegistry(registry))
	assert.True(t, first.adapter.Valid())
	assert.False(t, second.adapter.Valid())

	check := func(err error) {
		t.Helper()
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflictingInstance))
		assert.Equal(t, errors.StatusAnotherBoardIsCreated, errors.Status(err))
	}
	check(second.adapter.PrepareSession())
	check(second.adapter.StartStream(100, ""))
	check(second.adapter.StopStream())
	_, err := second.adapter.ConfigBoard("x")
	check(err)
	check(second.adapter.ReleaseSession())
	assert.Zero(t, second.loader.Calls())

	require.NoError(t, first.adapter.PrepareSession())
	require.NoError(t, first.adapter.ReleaseSession())
	_, held := registry.Holder("mock")
	assert.False(t, held, "release frees the singleton slot")

	third := newFixture(t, 2, singleton, board.WithInstanceRegistry(registry))
	assert.True(t, third.adapter.Valid())
	require.NoError(t, third.adapter.PrepareSession())
}

func TestAdapter_ReleaseFromUnpreparedFreesSlot(t *testing.T) {
	registry := board.NewInstanceRegistry()
	f := newFixture(t, 2, func(b *board.Binding) { b.Singleton = true }, board.WithInstanceRegistry(registry))
	assert.Equal(t, 1, registry.Len())

	require.NoError(t, f.adapter.ReleaseSession())
	assert.Zero(t, registry.Len())
	assert.Zero(t, f.loader.Calls())
}

func TestAdapter_UnsupportedPlatform(t *testing.T) {
	f := newFixture(t, 2, func(b *board.Binding) {
		b.Supported = func() bool { return false }
		b.Singleton = true
	})
	a := f.adapter
	assert.False(t, a.Valid())
	assert.Zero(t, f.registry.Len(), "unsupported adapters never claim a slot")

	check := func(err error) {
		t.Helper()
		assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedPlatform))
		assert.Equal(t, errors.StatusUnsupportedBoard, errors.Status(err))
	}
	check(a.PrepareSession())
	check(a.StartStream(100, ""))
	check(a.StopStream())
	_, err := a.ConfigBoard("x")
	check(err)
	check(a.ReleaseSession())
	check(a.PrepareSession())

	assert.Zero(t, f.loader.Calls())
	assert.Equal(t, board.StateUnprepared, a.State())
}

func TestAdapter_DeliversSamplesUntilEndSignal(t *testing.T) {
	const k = 25
	f := newFixture(t, 11, nil)
	f.vendor.Script(boardtest.Samples(k), boardtest.End(7))
	a := f.adapter

	require.NoError(t, a.PrepareSession())
	require.NoError(t, a.StartStream(1000, ""))

	require.Eventually(t, func() bool { return !a.StreamAlive() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, board.StateStreaming, a.State(), "state is reconciled by stop, not by the loop")

	err := a.StartStream(1000, "")
	assert.Equal(t, errors.StatusStreamThreadNotRunning, errors.Status(err))
	_, err = a.ConfigBoard("x")
	assert.Equal(t, errors.StatusStreamThreadNotRunning, errors.Status(err))

	require.NoError(t, a.StopStream())
	assert.Equal(t, board.StatePrepared, a.State())
	assert.False(t, a.StreamAlive())

	samples := f.lastSink(t).Samples()
	require.Len(t, samples, k)
	for n, s := range samples {
		require.Equal(t, 11, s.Width())
		for c, v := range s.Values {
			assert.Equal(t, boardtest.Value(n, c), v)
		}
		if n > 0 {
			assert.GreaterOrEqual(t, s.Timestamp, samples[n-1].Timestamp)
		}
	}
}

func TestAdapter_ReleaseReconcilesStaleStream(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.vendor.Script(boardtest.Samples(1), boardtest.End(7))
	require.NoError(t, f.adapter.PrepareSession())
	require.NoError(t, f.adapter.StartStream(10, ""))
	require.Eventually(t, func() bool { return !f.adapter.StreamAlive() }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.adapter.ReleaseSession())
	assert.Equal(t, board.StateReleased, f.adapter.State())
	assert.Equal(t, 1, f.vendor.Calls("stop_stream"))
}

func TestAdapter_StopAfterFiftyMilliseconds(t *testing.T) {
	vendor := boardtest.NewVendor(8)
	vendor.Script(boardtest.Step{Code: 0, Repeat: 1 << 30, Delay: time.Millisecond})
	loader := vendor.Loader()

	a, err := board.NewAdapter(vendor.Binding("mock"), models.InputParameters{},
		board.WithLoader(loader),
		board.WithInstanceRegistry(board.NewInstanceRegistry()),
		board.WithLogger(zaptest.NewLogger(t)),
		board.WithHandshakeTimeout(time.Second))
	require.NoError(t, err)
	defer a.ReleaseSession()

	require.NoError(t, a.PrepareSession())
	started := time.Now()
	require.NoError(t, a.StartStream(450000, ""))
	assert.Less(t, time.Since(started), time.Second)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.StopStream())
	assert.False(t, a.StreamAlive())

	out, ok := a.Output().(*output.Output)
	require.True(t, ok)
	delivered := out.Buffer().Count()
	assert.Positive(t, delivered)
	emitted := vendor.Emitted()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, delivered, out.Buffer().Count(), "no samples after stop")
	assert.Equal(t, emitted, vendor.Emitted(), "no reads after stop")
	assert.Equal(t, 450000, out.Buffer().Capacity())
}

func TestAdapter_DefaultOutputLogsWithSessionFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	vendor := boardtest.NewVendor(2)
	a, err := board.NewAdapter(vendor.Binding("mock"), models.InputParameters{},
		board.WithLoader(vendor.Loader()),
		board.WithInstanceRegistry(board.NewInstanceRegistry()),
		board.WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer a.ReleaseSession()

	require.NoError(t, a.PrepareSession())
	require.NoError(t, a.StartStream(16, ""))
	require.NoError(t, a.StopStream())
	_, ok := a.Output().(*output.Output)
	require.True(t, ok)

	opened := logs.FilterMessage("output opened").All()
	require.Len(t, opened, 1)
	fields := opened[0].ContextMap()
	assert.Equal(t, a.SessionID(), fields["session_id"])
	assert.Equal(t, "mock", fields["board"])
	assert.Equal(t, int64(16), fields["buffer_size"])
}

func TestAdapter_PollingDuringBlockedStop(t *testing.T) {
	f := newFixture(t, 2, nil)
	entered := make(chan struct{}, 1)
	unblock := make(chan struct{})
	var unblockOnce sync.Once
	t.Cleanup(func() { unblockOnce.Do(func() { close(unblock) }) })

	f.loader.SetSymbol("get_data", func(data *float64, channels int32) int32 {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-unblock
		return 0
	})

	require.NoError(t, f.adapter.PrepareSession())
	require.NoError(t, f.adapter.StartStream(100, ""))
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("vendor read was never called")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- f.adapter.StopStream() }()
	time.Sleep(20 * time.Millisecond)

	polled := make(chan bool, 1)
	go func() {
		alive := f.adapter.StreamAlive()
		_ = f.adapter.Output()
		polled <- alive
	}()
	select {
	case alive := <-polled:
		assert.True(t, alive, "the read is still in progress")
	case <-time.After(time.Second):
		t.Fatal("StreamAlive waited for StopStream")
	}
	assert.NotNil(t, f.adapter.Output())

	unblockOnce.Do(func() { close(unblock) })
	require.NoError(t, <-stopped)
	assert.False(t, f.adapter.StreamAlive())
	assert.Equal(t, board.StatePrepared, f.adapter.State())
}

func TestAdapter_HandshakeTimeout(t *testing.T) {
	f := newFixture(t, 2, func(b *board.Binding) { b.ConfirmOnFirstSample = true },
		board.WithHandshakeTimeout(50*time.Millisecond))
	f.vendor.IdleCode = 1

	require.NoError(t, f.adapter.PrepareSession())
	err := f.adapter.StartStream(100, "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Equal(t, errors.StatusSyncTimeout, errors.Status(err))

	assert.Equal(t, board.StatePrepared, f.adapter.State())
	assert.False(t, f.adapter.StreamAlive(), "no orphaned acquisition after a failed start")
	assert.Equal(t, 1, f.vendor.Calls("stop_stream"))

	reads := f.vendor.Calls("read")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, reads, f.vendor.Calls("read"))
}

func TestAdapter_HandshakeFailsOnFatalRead(t *testing.T) {
	f := newFixture(t, 2, func(b *board.Binding) { b.ConfirmOnFirstSample = true })
	f.vendor.Script(boardtest.End(7))

	require.NoError(t, f.adapter.PrepareSession())
	err := f.adapter.StartStream(100, "")
	assert.Equal(t, errors.StatusStreamThreadError, errors.Status(err))
	assert.Equal(t, board.StatePrepared, f.adapter.State())
}

func TestAdapter_TransientReadsAreRetried(t *testing.T) {
	f := newFixture(t, 3, func(b *board.Binding) { b.ConfirmOnFirstSample = true })
	f.vendor.Script(boardtest.Fail(2, 5), boardtest.Samples(4), boardtest.End(7))

	require.NoError(t, f.adapter.PrepareSession())
	require.NoError(t, f.adapter.StartStream(100, ""))
	require.Eventually(t, func() bool { return !f.adapter.StreamAlive() }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.adapter.StopStream())

	assert.Equal(t, 4, f.lastSink(t).Len())
	assert.Equal(t, 10, f.vendor.Calls("read"))
}

func TestAdapter_ReadPanicIsContained(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.loader.SetSymbol("get_data", board.ReadFunc(func(*float64, int32) int32 {
		panic("segfault in vendor")
	}))

	require.NoError(t, f.adapter.PrepareSession())
	require.NoError(t, f.adapter.StartStream(100, ""))
	require.Eventually(t, func() bool { return !f.adapter.StreamAlive() }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.adapter.StopStream())
}

func TestAdapter_ControlPanicBecomesVendorError(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.loader.SetSymbol("open_device", board.ControlFunc(func(uintptr) int32 {
		panic("bad handle")
	}))

	err := f.adapter.PrepareSession()
	assert.True(t, errors.IsType(err, errors.ErrorTypeVendorCall))
	assert.Equal(t, board.StateUnprepared, f.adapter.State())
}

func TestAdapter_ReleaseWhileStreaming(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.vendor.Script(boardtest.Step{Code: 0, Repeat: 1 << 30, Delay: time.Millisecond})

	require.NoError(t, f.adapter.PrepareSession())
	require.NoError(t, f.adapter.StartStream(100, ""))
	require.NoError(t, f.adapter.ReleaseSession())

	assert.Equal(t, board.StateReleased, f.adapter.State())
	assert.False(t, f.adapter.StreamAlive())
	assert.Equal(t, []string{
		"initialize", "open_device", "start_stream", "stop_stream", "close_device", "release",
	}, f.vendor.Order())
	assert.Zero(t, f.loader.OpenHandles())

	err := f.adapter.PrepareSession()
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))
}

func TestAdapter_ReleaseRunsEveryStep(t *testing.T) {
	f := newFixture(t, 2, nil)
	require.NoError(t, f.adapter.PrepareSession())
	f.vendor.SetResult("close_device", 4)

	err := f.adapter.ReleaseSession()
	assert.Equal(t, errors.StatusCode(4), errors.Status(err))
	assert.Equal(t, board.StateReleased, f.adapter.State())
	assert.Equal(t, 1, f.vendor.Calls("release"))
	assert.Zero(t, f.loader.OpenHandles())
}

func TestAdapter_ConfigBoard(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.vendor.SetConfigResponse("gain=24", "ok")
	require.NoError(t, f.adapter.PrepareSession())

	resp, err := f.adapter.ConfigBoard("gain=24")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	require.NoError(t, f.adapter.StartStream(100, ""))
	resp, err = f.adapter.ConfigBoard("gain=24")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	require.NoError(t, f.adapter.StopStream())

	f.vendor.SetResult("config_device", 13)
	_, err = f.adapter.ConfigBoard("gain=24")
	assert.Equal(t, errors.StatusCode(13), errors.Status(err))
}

func TestAdapter_ConfigBoardWithoutExport(t *testing.T) {
	f := newFixture(t, 2, func(b *board.Binding) { b.Symbols.Configure = "" })
	require.NoError(t, f.adapter.PrepareSession())

	_, err := f.adapter.ConfigBoard("x")
	assert.Equal(t, errors.StatusUnsupportedBoard, errors.Status(err))
}

func TestAdapter_StreamerParamsValidatedBeforeVendorCall(t *testing.T) {
	vendor := boardtest.NewVendor(2)
	a, err := board.NewAdapter(vendor.Binding("mock"), models.InputParameters{},
		board.WithLoader(vendor.Loader()),
		board.WithInstanceRegistry(board.NewInstanceRegistry()),
		board.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer a.ReleaseSession()

	require.NoError(t, a.PrepareSession())
	err = a.StartStream(100, "file://missing-mode")
	assert.Equal(t, errors.StatusInvalidArguments, errors.Status(err))
	assert.Zero(t, vendor.Calls("start_stream"))
}

func TestNewAdapter_InvalidBinding(t *testing.T) {
	_, err := board.NewAdapter(&board.Binding{Name: "x"}, models.InputParameters{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = board.NewAdapter(nil, models.InputParameters{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
