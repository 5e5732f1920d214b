// Package metrics provides Prometheus instrumentation for board adapters:
// lifecycle outcomes, vendor call latency, acquired samples, read failures and
// the current session state of every adapter.
//
// # Basic Usage
//
//	collector := metrics.NewCollector("gforce-pro")
//
//	timer := metrics.NewTimer("start_stream")
//	code := start(0)
//	collector.ObserveVendorCall("start_stream", timer.Stop())
//
//	collector.RecordSample()
//	collector.RecordLifecycle("start_stream", err)
//
// All vectors are registered on the default registry through promauto, so
// they are exposed by promhttp.Handler() without further wiring.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/dynboard/pkg/errors"
)

var (
	// SamplesAcquired counts samples forwarded to the output collaborator.
	// Labels: board
	SamplesAcquired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynboard_samples_acquired_total",
			Help: "Total number of samples acquired from vendor libraries",
		},
		[]string{"board"},
	)

	// ReadFailures counts non-success results of the vendor read entry point.
	// Labels: board, kind (transient/fatal/panic)
	ReadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynboard_read_failures_total",
			Help: "Total number of failed vendor read calls",
		},
		[]string{"board", "kind"},
	)

	// LifecycleOperations counts lifecycle calls by outcome.
	// Labels: board, operation, status (host status code name)
	LifecycleOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynboard_lifecycle_operations_total",
			Help: "Total number of lifecycle operations by outcome",
		},
		[]string{"board", "operation", "status"},
	)

	// VendorCallLatency tracks the duration of vendor entry point calls in seconds.
	// Labels: board, symbol
	VendorCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "dynboard_vendor_call_duration_seconds",
			Help: "Vendor entry point call latency in seconds",
			Buckets: []float64{
				0.0001, // 100μs - in-process calls
				0.001,  // 1ms
				0.01,   // 10ms - serial round trips
				0.1,    // 100ms
				1,      // 1s - device discovery
				10,     // 10s - bluetooth pairing
			},
		},
		[]string{"board", "symbol"},
	)

	// SessionState exposes the current session state of each board as its ordinal.
	// Labels: board
	SessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dynboard_session_state",
			Help: "Current session state (0=unprepared, 1=prepared, 2=streaming, 3=released)",
		},
		[]string{"board"},
	)

	// OutputErrors counts failed writes to streamers.
	// Labels: streamer
	OutputErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynboard_output_errors_total",
			Help: "Total number of failed streamer writes",
		},
		[]string{"streamer"},
	)

	// Throughput tracks samples per second.
	// Labels: board
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dynboard_throughput_samples_per_second",
			Help: "Current acquisition throughput in samples per second",
		},
		[]string{"board"},
	)
)

// Collector binds the package vectors to one board label.
type Collector struct {
	board   string
	samples prometheus.Counter
}

// NewCollector creates a metrics collector for a board
func NewCollector(board string) *Collector {
	return &Collector{
		board:   board,
		samples: SamplesAcquired.WithLabelValues(board),
	}
}

// Board returns the board label
func (c *Collector) Board() string {
	return c.board
}

// RecordSample counts one acquired sample
func (c *Collector) RecordSample() {
	c.samples.Inc()
}

// RecordReadFailure counts a failed vendor read
func (c *Collector) RecordReadFailure(kind string) {
	ReadFailures.WithLabelValues(c.board, kind).Inc()
}

// RecordLifecycle counts a lifecycle call with its host status
func (c *Collector) RecordLifecycle(operation string, err error) {
	LifecycleOperations.WithLabelValues(c.board, operation, errors.Status(err).String()).Inc()
}

// ObserveVendorCall records the latency of a vendor entry point
func (c *Collector) ObserveVendorCall(symbol string, d time.Duration) {
	VendorCallLatency.WithLabelValues(c.board, symbol).Observe(d.Seconds())
}

// SetState publishes the session state ordinal
func (c *Collector) SetState(state int) {
	SessionState.WithLabelValues(c.board).Set(float64(state))
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer name
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. It can be called
// multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks samples per second over time windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64     // Samples since last reset
	lastReset time.Time // Time of last reset
	board     string
}

// NewThroughputTracker creates a new throughput tracker for a board.
func NewThroughputTracker(board string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		board:     board,
	}
}

// Increment adds n to the sample count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the current throughput (samples/second),
// updates the Prometheus gauge, resets the counter and returns the value.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.board).Set(throughput)

	return throughput
}
