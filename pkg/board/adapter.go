// Package board provides the generic Adapter that hosts a vendor-supplied
// native acquisition library behind the unified lifecycle API.
//
// # Overview
//
// One Adapter owns one loaded library and is parameterized by a Binding,
// the per-vendor policy (library name, export names, platform predicate,
// singleton rule, channel count). The lifecycle is:
//
//	unprepared --PrepareSession--> prepared --StartStream--> streaming
//	     ^                            ^  <--StopStream----------'
//	     '------- ReleaseSession (from any state) -------> released
//
// While streaming, a background goroutine repeatedly calls the vendor read
// entry point and pushes samples of ChannelCount values into the Sink
// created for that session. StartStream returns only after that goroutine
// has confirmed it is running, or fails after the handshake timeout with the
// goroutine already stopped and joined.
//
// # Usage
//
//	a, err := board.NewAdapter(binding, params, board.WithLibraryDir("/opt/vendor"))
//	if err != nil {
//	    return err
//	}
//	defer a.ReleaseSession()
//
//	if err := a.PrepareSession(); err != nil {
//	    return err
//	}
//	if err := a.StartStream(450000, ""); err != nil {
//	    return err
//	}
//	...
//	err = a.StopStream()
//
// Every failure is an *errors.Error; errors.Status converts it into the
// host status code.
package board

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dynboard/pkg/config"
	"github.com/ajitpratap0/dynboard/pkg/dynlib"
	"github.com/ajitpratap0/dynboard/pkg/errors"
	"github.com/ajitpratap0/dynboard/pkg/logger"
	"github.com/ajitpratap0/dynboard/pkg/metrics"
	"github.com/ajitpratap0/dynboard/pkg/models"
	"github.com/ajitpratap0/dynboard/pkg/observability"
)

// Adapter drives one vendor library through the session lifecycle.
type Adapter struct {
	binding    *Binding
	params     models.InputParameters
	paramsJSON string
	sessionID  string

	loader      dynlib.Loader
	instances   *InstanceRegistry
	sinkFactory SinkFactory
	logger      *zap.Logger
	metrics     *metrics.Collector
	tracer      *observability.BoardTracer

	handshakeTimeout time.Duration
	joinWarnAfter    time.Duration
	readRetryDelay   time.Duration
	libraryDir       string
	maxBufferSize    int

	supported bool // platform predicate, evaluated once
	valid     bool // holds the singleton slot, or no singleton rule

	mu    sync.Mutex // serializes lifecycle operations
	state atomic.Int32
	lib   dynlib.Library
	api   *vendorAPI

	// Written under mu, read without it so that polling never waits on a
	// StopStream blocked in a vendor read.
	stream atomic.Pointer[acquisition]
	sink   atomic.Pointer[sinkHandle]
}

type sinkHandle struct {
	Sink
}

// Option configures an Adapter
type Option func(*Adapter)

// WithLoader replaces the native loader
func WithLoader(loader dynlib.Loader) Option {
	return func(a *Adapter) {
		a.loader = loader
	}
}

// WithInstanceRegistry replaces DefaultInstances
func WithInstanceRegistry(r *InstanceRegistry) Option {
	return func(a *Adapter) {
		a.instances = r
	}
}

// WithSinkFactory replaces the factory building the output collaborator.
// nil selects the default output.Output.
func WithSinkFactory(f SinkFactory) Option {
	return func(a *Adapter) {
		a.sinkFactory = f
	}
}

// WithLogger sets the base logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

// WithHandshakeTimeout bounds the start handshake
func WithHandshakeTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.handshakeTimeout = d
	}
}

// WithJoinWarnAfter sets how long a stop waits before reporting a blocked read
func WithJoinWarnAfter(d time.Duration) Option {
	return func(a *Adapter) {
		a.joinWarnAfter = d
	}
}

// WithReadRetryDelay sets the pause after a transient read failure
func WithReadRetryDelay(d time.Duration) Option {
	return func(a *Adapter) {
		a.readRetryDelay = d
	}
}

// WithLibraryDir sets the directory the vendor library is loaded from
func WithLibraryDir(dir string) Option {
	return func(a *Adapter) {
		a.libraryDir = dir
	}
}

// WithMaxBufferSize caps the buffer size accepted by StartStream
func WithMaxBufferSize(n int) Option {
	return func(a *Adapter) {
		a.maxBufferSize = n
	}
}

// WithAdapterConfig applies the adapter section of the configuration
func WithAdapterConfig(cfg config.AdapterConfig) Option {
	return func(a *Adapter) {
		if cfg.HandshakeTimeout > 0 {
			a.handshakeTimeout = cfg.HandshakeTimeout
		}
		if cfg.JoinWarnAfter > 0 {
			a.joinWarnAfter = cfg.JoinWarnAfter
		}
		if cfg.ReadRetryDelay > 0 {
			a.readRetryDelay = cfg.ReadRetryDelay
		}
		if cfg.LibraryDir != "" {
			a.libraryDir = cfg.LibraryDir
		}
		if cfg.MaxBufferSize > 0 {
			a.maxBufferSize = cfg.MaxBufferSize
		}
	}
}

// NewAdapter creates an adapter for binding. On platforms the binding does not
// support, or when a singleton vendor already has a valid adapter, the
// returned adapter fails every lifecycle call without touching the loader.
func NewAdapter(binding *Binding, params models.InputParameters, opts ...Option) (*Adapter, error) {
	if err := binding.Validate(); err != nil {
		return nil, err
	}
	paramsJSON, err := params.JSON()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid input parameters")
	}

	defaults := config.Default().Adapter
	a := &Adapter{
		binding:          binding,
		params:           params,
		paramsJSON:       paramsJSON,
		sessionID:        uuid.New().String(),
		loader:           dynlib.NewNativeLoader(),
		instances:        DefaultInstances,
		logger:           logger.Get(),
		handshakeTimeout: defaults.HandshakeTimeout,
		joinWarnAfter:    defaults.JoinWarnAfter,
		readRetryDelay:   defaults.ReadRetryDelay,
		maxBufferSize:    defaults.MaxBufferSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.handshakeTimeout <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "handshake timeout must be positive")
	}

	a.logger = a.logger.With(zap.String("board", binding.Name), zap.String("session_id", a.sessionID))
	if a.sinkFactory == nil {
		a.sinkFactory = defaultSinkFactory(a.logger)
	}
	a.metrics = metrics.NewCollector(binding.Name)
	a.tracer = observability.NewBoardTracer(binding.Name, a.sessionID)
	a.state.Store(int32(StateUnprepared))

	a.supported = binding.PlatformSupported()
	a.valid = true
	if !a.supported {
		a.logger.Warn("board is not supported on this platform")
	} else if binding.Singleton {
		a.valid = a.instances.Acquire(binding.Name, a.sessionID)
		if !a.valid {
			a.logger.Info("only one instance of this board is allowed per process")
		}
	}
	return a, nil
}

// Name returns the binding name
func (a *Adapter) Name() string {
	return a.binding.Name
}

// SessionID identifies this adapter in logs, traces and the instance registry
func (a *Adapter) SessionID() string {
	return a.sessionID
}

// ChannelCount returns the width of every emitted sample
func (a *Adapter) ChannelCount() int {
	return a.binding.ChannelCount
}

// State returns the current session state. It does not block on a running
// lifecycle operation.
func (a *Adapter) State() SessionState {
	return SessionState(a.state.Load())
}

// Valid reports whether the adapter may use its vendor library at all
func (a *Adapter) Valid() bool {
	return a.supported && a.valid
}

// StreamAlive reports whether the acquisition goroutine is running. It does
// not block on a running lifecycle operation.
func (a *Adapter) StreamAlive() bool {
	stream := a.stream.Load()
	return stream != nil && stream.alive()
}

// Output returns the sink of the current or most recent streaming session
func (a *Adapter) Output() Sink {
	if h := a.sink.Load(); h != nil {
		return h.Sink
	}
	return nil
}

// PrepareSession loads the vendor library, resolves its exports and calls
// the vendor initialize and open entry points. It is a no-op when the
// session is already prepared.
func (a *Adapter) PrepareSession() error {
	return a.do("prepare_session", func() error {
		switch a.State() {
		case StatePrepared, StateStreaming:
			return nil
		case StateReleased:
			return a.releasedError()
		}

		path := a.binding.LibraryPath(a.libraryDir)
		if a.binding.AugmentSearchPath {
			dir := a.libraryDir
			if dir == "" {
				dir = a.binding.LibraryDir
			}
			variable, err := dynlib.PrependSearchPath(dir)
			switch {
			case errors.Is(err, dynlib.ErrSearchPathUnsupported):
				a.logger.Warn("library directory cannot be added to the search path on this platform; "+
					"dependencies must resolve through the library rpath or the environment at process start",
					zap.String("library_dir", dir))
			case err != nil:
				a.logger.Warn("failed to extend library search path", zap.String("variable", variable), zap.Error(err))
			}
		}
		a.logger.Debug("loading vendor library", zap.String("path", path))

		lib, err := a.loader.Load(path)
		if err != nil {
			return err
		}
		api, err := bindVendor(lib, a.binding, a.params, a.paramsJSON)
		if err != nil {
			a.unload(lib)
			return err
		}

		if err := a.invoke(a.binding.Symbols.Initialize, api.initialize); err != nil {
			a.unload(lib)
			return err
		}
		if err := a.invokeControl(a.binding.Symbols.Open, api.open); err != nil {
			if rerr := a.invokeControl(a.binding.Symbols.Release, api.release); rerr != nil {
				a.logger.Warn("vendor release after failed open also failed", zap.Error(rerr))
			}
			a.unload(lib)
			return err
		}

		a.lib = lib
		a.api = api
		a.setState(StatePrepared)
		return nil
	})
}

// StartStream creates the output sink, calls the vendor start entry point
// and launches the acquisition goroutine. It returns once the goroutine has
// confirmed it is running; if that does not happen within the handshake
// timeout the goroutine is stopped and joined and a timeout error returned.
func (a *Adapter) StartStream(bufferSize int, streamerParams string) error {
	return a.do("start_stream", func() error {
		switch a.State() {
		case StateStreaming:
			if !a.stream.Load().alive() {
				return a.staleError()
			}
			return errors.New(errors.ErrorTypeState, "streaming is already running").
				WithCode(errors.StatusStreamAlreadyRunning)
		case StateUnprepared:
			return errors.New(errors.ErrorTypeState, "session is not prepared").
				WithCode(errors.StatusBoardNotCreated)
		case StateReleased:
			return a.releasedError()
		}

		if bufferSize <= 0 || bufferSize > a.maxBufferSize {
			return errors.New(errors.ErrorTypeConfig, "invalid buffer size").
				WithCode(errors.StatusInvalidBufferSize).
				WithDetail("buffer_size", bufferSize).
				WithDetail("max", a.maxBufferSize)
		}
		sink, err := a.sinkFactory(bufferSize, streamerParams, a.binding.ChannelCount)
		if err != nil {
			return err
		}

		if err := a.invokeControl(a.binding.Symbols.Start, a.api.start); err != nil {
			a.closeSink(sink)
			return err
		}

		stream := newAcquisition(a.api.read, a.binding, sink, a.readRetryDelay, a.logger, a.metrics)
		stream.start()
		if !stream.awaitHandshake(a.handshakeTimeout) {
			stream.stop(a.joinWarnAfter)
			if err := a.invokeControl(a.binding.Symbols.Stop, a.api.stop); err != nil {
				a.logger.Warn("vendor stop after failed start also failed", zap.Error(err))
			}
			a.closeSink(sink)
			return a.handshakeError(stream)
		}

		if previous := a.sink.Swap(&sinkHandle{Sink: sink}); previous != nil {
			a.closeSink(previous.Sink)
		}
		a.stream.Store(stream)
		a.setState(StateStreaming)
		return nil
	})
}

// StopStream stops and joins the acquisition goroutine, then calls the vendor
// stop entry point. The sink stays available through Output.
func (a *Adapter) StopStream() error {
	return a.do("stop_stream", func() error {
		switch a.State() {
		case StateStreaming:
			return a.stopStreaming()
		case StateReleased:
			return a.releasedError()
		default:
			return errors.New(errors.ErrorTypeState, "streaming is not running").
				WithCode(errors.StatusStreamThreadNotRunning)
		}
	})
}

// ReleaseSession stops streaming if needed, calls the vendor close and
// release entry points and unloads the library. Every step runs even if an
// earlier one failed, the adapter always ends Released, and the first
// failure is returned. Releasing twice is a no-op.
func (a *Adapter) ReleaseSession() error {
	return a.do("release_session", func() error {
		if a.State() == StateReleased {
			return nil
		}

		var first error
		record := func(err error) {
			if err == nil {
				return
			}
			if first == nil {
				first = err
			}
			a.logger.Warn("release step failed", zap.Error(err))
		}

		if a.State() == StateStreaming {
			record(a.stopStreaming())
		}
		if a.lib != nil {
			if a.api != nil {
				record(a.invokeControl(a.binding.Symbols.Close, a.api.close))
				record(a.invokeControl(a.binding.Symbols.Release, a.api.release))
			}
			a.api = nil
			lib := a.lib
			a.lib = nil
			record(lib.Unload())
		}
		if h := a.sink.Swap(nil); h != nil {
			record(h.Close())
		}
		if a.binding.Singleton {
			a.instances.Release(a.binding.Name, a.sessionID)
		}
		a.stream.Store(nil)
		a.setState(StateReleased)
		return first
	})
}

// ConfigBoard forwards config to the vendor configure entry point and returns
// its response. Allowed while prepared or streaming.
func (a *Adapter) ConfigBoard(config string) (string, error) {
	var response string
	err := a.do("config_board", func() error {
		switch a.State() {
		case StatePrepared:
		case StateStreaming:
			if !a.stream.Load().alive() {
				return a.staleError()
			}
		case StateReleased:
			return a.releasedError()
		default:
			return errors.New(errors.ErrorTypeState, "session is not prepared").
				WithCode(errors.StatusBoardNotCreated)
		}

		if a.api.configure == nil {
			return errors.New(errors.ErrorTypeVendorCall, "vendor library does not support configuration").
				WithCode(errors.StatusUnsupportedBoard)
		}

		buf := make([]byte, responseCapacity)
		n := int32(len(buf))
		configure := a.api.configure
		err := a.invoke(a.binding.Symbols.Configure, func() int32 {
			return configure(config, &buf[0], &n)
		})
		if n < 0 {
			n = 0
		} else if int(n) > len(buf) {
			n = int32(len(buf))
		}
		response = string(buf[:n])
		return err
	})
	return response, err
}

// do guards, traces and counts one lifecycle operation
func (a *Adapter) do(operation string, fn func() error) error {
	if err := a.admit(); err != nil {
		a.metrics.RecordLifecycle(operation, err)
		return err
	}

	err := a.tracer.Trace(operation, func() error {
		a.mu.Lock()
		defer a.mu.Unlock()
		return fn()
	})

	a.metrics.RecordLifecycle(operation, err)
	if err != nil {
		a.logger.Error("lifecycle operation failed",
			zap.String("operation", operation),
			zap.String("state", a.State().String()),
			zap.Stringer("status", errors.Status(err)),
			zap.Error(err))
	} else {
		a.logger.Info("lifecycle operation succeeded",
			zap.String("operation", operation),
			zap.String("state", a.State().String()))
	}
	return err
}

// admit rejects every operation on unsupported platforms and on adapters
// that lost the singleton slot, before any loader or vendor interaction.
func (a *Adapter) admit() error {
	if !a.supported {
		return errors.New(errors.ErrorTypeUnsupportedPlatform, "board is not supported on this platform").
			WithDetail("board", a.binding.Name)
	}
	if !a.valid {
		return errors.New(errors.ErrorTypeConflictingInstance, "another instance of this board is already created").
			WithDetail("board", a.binding.Name)
	}
	return nil
}

// stopStreaming is the streaming -> prepared transition. It also reconciles
// a session whose acquisition goroutine already exited on its own.
func (a *Adapter) stopStreaming() error {
	stream := a.stream.Load()
	if !stream.alive() {
		code, err := stream.failure()
		a.logger.Warn("acquisition had already stopped, reconciling session",
			zap.Int32("code", code), zap.Error(err))
	}
	stream.stop(a.joinWarnAfter)

	err := a.invokeControl(a.binding.Symbols.Stop, a.api.stop)
	if h := a.sink.Load(); h != nil {
		if ferr := h.Flush(); ferr != nil {
			a.logger.Warn("failed to flush output", zap.Error(ferr))
		}
	}
	a.stream.Store(nil)
	a.setState(StatePrepared)
	return err
}

// invokeControl calls a control entry point if the vendor exports it
func (a *Adapter) invokeControl(symbol string, fn ControlFunc) error {
	if fn == nil {
		return nil
	}
	return a.invoke(symbol, func() int32 { return fn(0) })
}

// invoke calls a vendor entry point, timing it and converting a non-zero
// result or a panic into a vendor call error.
func (a *Adapter) invoke(symbol string, call func() int32) (err error) {
	timer := metrics.NewTimer(symbol)
	defer func() {
		a.metrics.ObserveVendorCall(symbol, timer.Stop())
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrorTypeVendorCall, "vendor entry point panicked: %v", r).
				WithCode(errors.StatusGeneralError).
				WithDetail("symbol", symbol)
		}
	}()

	code := call()
	if code != 0 {
		return errors.Newf(errors.ErrorTypeVendorCall, "%s returned %d", symbol, code).
			WithCode(errors.StatusCode(code)).
			WithDetail("symbol", symbol)
	}
	return nil
}

func (a *Adapter) unload(lib dynlib.Library) {
	if err := lib.Unload(); err != nil {
		a.logger.Warn("failed to unload vendor library", zap.Error(err))
	}
}

func (a *Adapter) closeSink(sink Sink) {
	if err := sink.Close(); err != nil {
		a.logger.Warn("failed to close output", zap.Error(err))
	}
}

func (a *Adapter) setState(s SessionState) {
	a.state.Store(int32(s))
	a.metrics.SetState(int(s))
}

func (a *Adapter) releasedError() error {
	return errors.New(errors.ErrorTypeState, "session is released").
		WithCode(errors.StatusBoardNotCreated)
}

// staleError reports a session whose acquisition goroutine exited without a
// matching StopStream. StopStream or ReleaseSession reconcile it.
func (a *Adapter) staleError() error {
	code, cause := a.stream.Load().failure()
	return withCause(errors.ErrorTypeState, "acquisition stopped unexpectedly, call StopStream to recover", cause).
		WithCode(errors.StatusStreamThreadNotRunning).
		WithDetail("read_code", code)
}

func (a *Adapter) handshakeError(stream *acquisition) error {
	if code, cause := stream.failure(); code != 0 || cause != nil {
		return withCause(errors.ErrorTypeVendorCall, "acquisition stopped before confirming start", cause).
			WithCode(errors.StatusStreamThreadError).
			WithDetail("read_code", code)
	}
	return errors.New(errors.ErrorTypeTimeout, "acquisition did not confirm start in time").
		WithDetail("timeout", a.handshakeTimeout.String())
}

func withCause(errType errors.ErrorType, message string, cause error) *errors.Error {
	if cause == nil {
		return errors.New(errType, message)
	}
	return errors.Wrap(cause, errType, message)
}
