// Package runner drives one board adapter through a complete streaming
// session for the CLI: prepare, start, periodic progress reports, stop and
// release.
//
// # Basic Usage
//
//	r := runner.New(adapter, &runner.Config{
//	    BufferSize:     450000,
//	    StreamerParams: "file://session.csv:w",
//	    Duration:       30 * time.Second,
//	}, logger)
//	result, err := r.Run(ctx)
//
// Run returns when the duration elapses, the context is cancelled (for
// example on SIGINT) or the acquisition goroutine stops on its own.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dynboard/pkg/board"
	"github.com/ajitpratap0/dynboard/pkg/metrics"
	"github.com/ajitpratap0/dynboard/pkg/output"
)

// Session is the part of board.Adapter the runner needs
type Session interface {
	Name() string
	PrepareSession() error
	StartStream(bufferSize int, streamerParams string) error
	StopStream() error
	ReleaseSession() error
	StreamAlive() bool
	Output() board.Sink
}

var _ Session = (*board.Adapter)(nil)

// Config controls a streaming run
type Config struct {
	BufferSize     int           // Samples kept in the ring buffer
	StreamerParams string        // Optional streamer, see output.ParseStreamerParams
	Duration       time.Duration // Zero streams until cancelled
	ReportInterval time.Duration // Progress log period (default: 1s)
}

// DefaultConfig returns the CLI defaults
func DefaultConfig() *Config {
	return &Config{
		BufferSize:     450000,
		ReportInterval: time.Second,
	}
}

// Result summarizes a finished run
type Result struct {
	Samples       uint64
	Buffered      int
	Duration      time.Duration
	SamplesPerSec float64
	// Interrupted is true when acquisition stopped before the run ended
	Interrupted bool
}

// Runner runs one streaming session
type Runner struct {
	session    Session
	config     *Config
	logger     *zap.Logger
	throughput *metrics.ThroughputTracker
}

// New creates a runner for session
func New(session Session, config *Config, logger *zap.Logger) *Runner {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = time.Second
	}
	return &Runner{
		session:    session,
		config:     config,
		logger:     logger.With(zap.String("component", "runner"), zap.String("board", session.Name())),
		throughput: metrics.NewThroughputTracker(session.Name()),
	}
}

// Run executes the session. The adapter is always released before Run
// returns.
func (r *Runner) Run(ctx context.Context) (result *Result, err error) {
	result = &Result{}
	defer func() {
		if rerr := r.session.ReleaseSession(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	if err := r.session.PrepareSession(); err != nil {
		return result, err
	}
	if err := r.session.StartStream(r.config.BufferSize, r.config.StreamerParams); err != nil {
		return result, err
	}

	r.logger.Info("streaming started",
		zap.Int("buffer_size", r.config.BufferSize),
		zap.String("streamer", r.config.StreamerParams),
		zap.Duration("duration", r.config.Duration))
	started := time.Now()

	if r.config.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Duration)
		defer cancel()
	}

	ticker := time.NewTicker(r.config.ReportInterval)
	defer ticker.Stop()
	var reported uint64

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			total := r.samples()
			r.throughput.Increment(int64(total - reported))
			reported = total
			r.logger.Info("streaming",
				zap.Uint64("samples", total),
				zap.Float64("samples_per_second", r.throughput.GetAndReset()))
			if !r.session.StreamAlive() {
				result.Interrupted = true
				r.logger.Warn("acquisition stopped before the run ended")
				break loop
			}
		}
	}

	if err := r.session.StopStream(); err != nil {
		return result, err
	}

	result.Duration = time.Since(started)
	result.Samples = r.samples()
	if buf := r.buffer(); buf != nil {
		result.Buffered = buf.Count()
	}
	if secs := result.Duration.Seconds(); secs > 0 {
		result.SamplesPerSec = float64(result.Samples) / secs
	}

	r.logger.Info("streaming finished",
		zap.Uint64("samples", result.Samples),
		zap.Duration("duration", result.Duration),
		zap.Float64("samples_per_second", result.SamplesPerSec))
	return result, nil
}

func (r *Runner) buffer() *output.DataBuffer {
	if out, ok := r.session.Output().(interface{ Buffer() *output.DataBuffer }); ok {
		return out.Buffer()
	}
	return nil
}

func (r *Runner) samples() uint64 {
	if buf := r.buffer(); buf != nil {
		return buf.Total()
	}
	return 0
}
