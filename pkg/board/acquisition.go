package board

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dynboard/pkg/metrics"
	"github.com/ajitpratap0/dynboard/pkg/models"
)

// acquisition is one streaming session's background reader. keepAlive and the
// handshake channel are the only state shared with the control path.
type acquisition struct {
	read       ReadFunc
	channels   int
	sink       Sink
	binding    *Binding
	retryDelay time.Duration
	logger     *zap.Logger
	metrics    *metrics.Collector

	keepAlive atomic.Bool
	samples   atomic.Int64
	fatalCode atomic.Int32
	exitErr   atomic.Value // error, set when the loop died on a panic

	confirmed   chan struct{}
	confirmOnce sync.Once
	wake        chan struct{}
	wakeOnce    sync.Once
	done        chan struct{}
}

func newAcquisition(read ReadFunc, b *Binding, sink Sink, retryDelay time.Duration, logger *zap.Logger, m *metrics.Collector) *acquisition {
	return &acquisition{
		read:       read,
		channels:   b.ChannelCount,
		sink:       sink,
		binding:    b,
		retryDelay: retryDelay,
		logger:     logger,
		metrics:    m,
		confirmed:  make(chan struct{}),
		wake:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// start launches the reader goroutine
func (q *acquisition) start() {
	q.keepAlive.Store(true)
	go q.run()
}

func (q *acquisition) run() {
	defer close(q.done)

	// Some vendor SDKs keep per-thread state between reads.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if !q.binding.ConfirmOnFirstSample {
		q.confirm()
	}

	data := make([]float64, q.channels)
	for q.keepAlive.Load() {
		code, err := q.readOnce(data)
		if err != nil {
			q.exitErr.Store(err)
			q.metrics.RecordReadFailure("panic")
			q.logger.Error("vendor read panicked, stopping acquisition", zap.Error(err))
			q.keepAlive.Store(false)
			return
		}

		if code == 0 {
			values := make([]float64, q.channels)
			copy(values, data)
			q.sink.Push(models.Sample{Values: values, Timestamp: models.Timestamp(time.Now())})
			q.samples.Add(1)
			q.metrics.RecordSample()
			q.confirm()
			continue
		}

		if q.binding.isFatalRead(code) {
			q.fatalCode.Store(code)
			q.metrics.RecordReadFailure("fatal")
			q.logger.Warn("vendor read reported a fatal code, stopping acquisition",
				zap.Int32("code", code),
				zap.Int64("samples", q.samples.Load()))
			q.keepAlive.Store(false)
			return
		}

		q.metrics.RecordReadFailure("transient")
		q.logger.Debug("vendor read failed, retrying", zap.Int32("code", code))
		q.pause()
	}
}

// readOnce calls the vendor read entry point, converting a panic into an error
func (q *acquisition) readOnce(data []float64) (code int32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("vendor read panicked: %v", r)
		}
	}()
	return q.read(&data[0], int32(q.channels)), nil
}

// pause sleeps for the retry delay unless stop wakes it first
func (q *acquisition) pause() {
	if q.retryDelay <= 0 {
		return
	}
	timer := time.NewTimer(q.retryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-q.wake:
	}
}

func (q *acquisition) confirm() {
	q.confirmOnce.Do(func() { close(q.confirmed) })
}

func (q *acquisition) isConfirmed() bool {
	select {
	case <-q.confirmed:
		return true
	default:
		return false
	}
}

// alive reports whether the goroutine is still running
func (q *acquisition) alive() bool {
	select {
	case <-q.done:
		return false
	default:
		return true
	}
}

// awaitHandshake blocks until the loop confirms, exits or timeout elapses.
// It reports whether the handshake was confirmed.
func (q *acquisition) awaitHandshake(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.confirmed:
	case <-q.done:
	case <-timer.C:
	}
	return q.isConfirmed()
}

// stop clears keepAlive, wakes a pending retry pause and joins the goroutine.
// A vendor read that never returns keeps the join blocked; that is reported
// every warnAfter rather than abandoned.
func (q *acquisition) stop(warnAfter time.Duration) {
	q.keepAlive.Store(false)
	q.wakeOnce.Do(func() { close(q.wake) })

	if warnAfter <= 0 {
		<-q.done
		return
	}
	ticker := time.NewTicker(warnAfter)
	defer ticker.Stop()
	started := time.Now()
	for {
		select {
		case <-q.done:
			return
		case <-ticker.C:
			q.logger.Warn("acquisition goroutine is blocked in the vendor read call, still waiting",
				zap.Duration("waited", time.Since(started)))
		}
	}
}

// failure describes why the loop ended on its own, if it did
func (q *acquisition) failure() (int32, error) {
	var err error
	if v := q.exitErr.Load(); v != nil {
		err = v.(error)
	}
	return q.fatalCode.Load(), err
}
