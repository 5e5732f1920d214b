// Package output is the consumer side of a streaming session: a ring buffer
// the host drains at its own pace plus optional streamers that forward every
// sample to a file or a UDP destination.
//
// Push is called from the acquisition goroutine and never blocks on I/O.
// Samples bound for streamers cross a lock-free queue to a writer goroutine;
// when that queue is full the sample still reaches the buffer but is dropped
// for the streamers and counted in dynboard_output_errors_total.
package output

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dynboard/pkg/errors"
	"github.com/ajitpratap0/dynboard/pkg/logger"
	"github.com/ajitpratap0/dynboard/pkg/metrics"
	"github.com/ajitpratap0/dynboard/pkg/models"
)

const defaultQueueCapacity = 4096

// Output implements the adapter's sink
type Output struct {
	buffer    *DataBuffer
	streamers []Streamer
	logger    *zap.Logger

	queue    *sampleQueue
	notify   chan struct{}
	flushReq chan chan error
	quit     chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Option configures an Output
type Option func(*options)

type options struct {
	logger        *zap.Logger
	queueCapacity int
	streamers     []Streamer
}

// WithLogger sets the logger used for streamer failures
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithQueueCapacity sets how many samples may wait for the streamer writer
func WithQueueCapacity(n int) Option {
	return func(o *options) {
		o.queueCapacity = n
	}
}

// WithStreamer adds an already opened streamer
func WithStreamer(s Streamer) Option {
	return func(o *options) {
		o.streamers = append(o.streamers, s)
	}
}

// New creates an Output holding bufferSize samples and opening the streamer
// described by streamerParams, if any.
func New(bufferSize int, streamerParams string, channels int, opts ...Option) (*Output, error) {
	if bufferSize <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "buffer size must be positive").
			WithCode(errors.StatusInvalidBufferSize).
			WithDetail("buffer_size", bufferSize)
	}
	o := &options{logger: logger.Get(), queueCapacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(o)
	}

	params, err := ParseStreamerParams(streamerParams)
	if err != nil {
		return nil, err
	}
	streamers := o.streamers
	if params != nil {
		s, err := NewStreamer(params, channels)
		if err != nil {
			return nil, err
		}
		streamers = append(streamers, s)
	}

	out := &Output{
		buffer:    NewDataBuffer(bufferSize),
		streamers: streamers,
		logger:    o.logger.With(zap.String("component", "output")),
	}
	if len(streamers) > 0 {
		out.queue = newSampleQueue(o.queueCapacity)
		out.notify = make(chan struct{}, 1)
		out.flushReq = make(chan chan error)
		out.quit = make(chan struct{})
		out.done = make(chan struct{})
		go out.writeLoop()
	}
	out.logger.Debug("output opened",
		zap.Int("buffer_size", bufferSize),
		zap.Int("streamers", len(streamers)))
	return out, nil
}

// NewSinkFactory returns a factory with the board.SinkFactory shape that
// applies opts to every Output it creates
func NewSinkFactory(opts ...Option) func(bufferSize int, streamerParams string, channels int) (*Output, error) {
	return func(bufferSize int, streamerParams string, channels int) (*Output, error) {
		return New(bufferSize, streamerParams, channels, opts...)
	}
}

// Buffer returns the ring buffer samples are collected in
func (o *Output) Buffer() *DataBuffer {
	return o.buffer
}

// Push stores a sample and hands it to the streamers
func (o *Output) Push(sample models.Sample) {
	o.buffer.Push(sample)
	if o.queue == nil {
		return
	}
	if !o.queue.enqueue(sample) {
		metrics.OutputErrors.WithLabelValues("queue_full").Inc()
		return
	}
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Flush waits until every queued sample has been written and flushes the
// streamers.
func (o *Output) Flush() error {
	if o.queue == nil {
		return nil
	}
	reply := make(chan error, 1)
	select {
	case o.flushReq <- reply:
		return <-reply
	case <-o.done:
		return o.closeErr
	}
}

// Close drains the queue, then flushes and closes every streamer
func (o *Output) Close() error {
	o.closeOnce.Do(func() {
		if o.queue == nil {
			return
		}
		close(o.quit)
		<-o.done
		for _, s := range o.streamers {
			if err := s.Close(); err != nil && o.closeErr == nil {
				o.closeErr = err
			}
		}
	})
	return o.closeErr
}

func (o *Output) writeLoop() {
	defer close(o.done)
	for {
		select {
		case <-o.notify:
			o.drain()
		case reply := <-o.flushReq:
			o.drain()
			reply <- o.flushStreamers()
		case <-o.quit:
			o.drain()
			return
		}
	}
}

func (o *Output) drain() {
	for {
		sample, ok := o.queue.dequeue()
		if !ok {
			return
		}
		for _, s := range o.streamers {
			if err := s.Write(sample); err != nil {
				metrics.OutputErrors.WithLabelValues(s.Name()).Inc()
				o.logger.Debug("streamer write failed", zap.String("streamer", s.Name()), zap.Error(err))
			}
		}
	}
}

func (o *Output) flushStreamers() error {
	var first error
	for _, s := range o.streamers {
		if err := s.Flush(); err != nil {
			metrics.OutputErrors.WithLabelValues(s.Name()).Inc()
			o.logger.Warn("streamer flush failed", zap.String("streamer", s.Name()), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
