// Package boardtest provides a scriptable in-memory vendor library for
// exercising board adapters without native code.
//
//	vendor := boardtest.NewVendor(11)
//	vendor.Script(boardtest.Samples(5), boardtest.End(7))
//	loader := vendor.Loader()
//	a, _ := board.NewAdapter(binding, params, board.WithLoader(loader))
package boardtest

import (
	"sync"
	"time"
	"unsafe"

	"github.com/ajitpratap0/dynboard/pkg/board"
	"github.com/ajitpratap0/dynboard/pkg/dynlib/dynlibtest"
	"github.com/ajitpratap0/dynboard/pkg/models"
)

// Step is one scripted read result
type Step struct {
	// Code is returned by the read entry point; values are written only for 0
	Code int32
	// Repeat is how many times the step is replayed; 0 means once
	Repeat int
	// Delay blocks the read call before returning
	Delay time.Duration
}

// Samples scripts n successful reads
func Samples(n int) Step {
	return Step{Code: 0, Repeat: n}
}

// Fail scripts n reads returning code
func Fail(code int32, n int) Step {
	return Step{Code: code, Repeat: n}
}

// End scripts a single read returning the fatal code
func End(code int32) Step {
	return Step{Code: code}
}

// Vendor is a mock vendor library. Its entry points record their calls and
// return the configured results. Reads follow the script; once it is
// exhausted they return IdleCode after IdleDelay.
type Vendor struct {
	mu       sync.Mutex
	channels int
	results  map[string]int32
	calls    map[string]int
	order    []string
	params   []string
	script   []Step
	step     int
	served   int
	emitted  int
	config   map[string]string

	// IdleCode is returned by reads once the script is exhausted
	IdleCode int32
	// IdleDelay slows idle reads so tests do not spin
	IdleDelay time.Duration
}

// NewVendor creates a vendor producing samples of channels values
func NewVendor(channels int) *Vendor {
	return &Vendor{
		channels:  channels,
		results:   make(map[string]int32),
		calls:     make(map[string]int),
		config:    make(map[string]string),
		IdleCode:  1,
		IdleDelay: time.Millisecond,
	}
}

// Script replaces the read script
func (v *Vendor) Script(steps ...Step) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.script = steps
	v.step = 0
	v.served = 0
}

// SetResult makes the named entry point return code
func (v *Vendor) SetResult(symbol string, code int32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.results[symbol] = code
}

// SetConfigResponse makes configure answer response for config
func (v *Vendor) SetConfigResponse(config, response string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.config[config] = response
}

// Calls returns how many times the named entry point was invoked
func (v *Vendor) Calls(symbol string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[symbol]
}

// Order returns the control entry points in call order, reads excluded
func (v *Vendor) Order() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.order))
	copy(out, v.order)
	return out
}

// InitParams returns every parameter document passed to initialize
func (v *Vendor) InitParams() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.params))
	copy(out, v.params)
	return out
}

// Emitted returns how many samples reads have produced
func (v *Vendor) Emitted() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.emitted
}

// Value is the deterministic value of channel c in the n-th emitted sample
func Value(n, c int) float64 {
	return float64(n*1000 + c)
}

// Symbols returns the exports keyed by the default symbol names
func (v *Vendor) Symbols() map[string]interface{} {
	return v.SymbolsFor(board.DefaultSymbols())
}

// SymbolsFor returns the exports keyed by the names in s
func (v *Vendor) SymbolsFor(s board.SymbolSet) map[string]interface{} {
	syms := map[string]interface{}{
		s.Initialize: board.InitializeFunc(func(params string) int32 {
			v.mu.Lock()
			v.params = append(v.params, params)
			v.mu.Unlock()
			return v.record(s.Initialize)
		}),
		s.Open:    v.control(s.Open),
		s.Start:   v.control(s.Start),
		s.Stop:    v.control(s.Stop),
		s.Release: v.control(s.Release),
		s.Read:    board.ReadFunc(v.read),
	}
	if s.Close != "" {
		syms[s.Close] = v.control(s.Close)
	}
	if s.Configure != "" {
		syms[s.Configure] = board.ConfigureFunc(func(config string, response *byte, responseLen *int32) int32 {
			code := v.record(s.Configure)
			v.mu.Lock()
			answer := v.config[config]
			v.mu.Unlock()

			dst := unsafe.Slice(response, int(*responseLen))
			n := copy(dst, answer)
			*responseLen = int32(n)
			return code
		})
	}
	return syms
}

// Loader returns a mock loader exporting Symbols
func (v *Vendor) Loader() *dynlibtest.Loader {
	return dynlibtest.NewLoader(v.Symbols())
}

func (v *Vendor) control(name string) board.ControlFunc {
	return func(uintptr) int32 {
		return v.record(name)
	}
}

func (v *Vendor) record(name string) int32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[name]++
	v.order = append(v.order, name)
	return v.results[name]
}

func (v *Vendor) read(data *float64, channels int32) int32 {
	v.mu.Lock()
	v.calls["read"]++
	if v.step >= len(v.script) {
		code, delay := v.IdleCode, v.IdleDelay
		v.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		return code
	}

	st := v.script[v.step]
	v.served++
	if v.served >= st.Repeat {
		v.step++
		v.served = 0
	}
	n := v.emitted
	if st.Code == 0 {
		v.emitted++
	}
	v.mu.Unlock()

	if st.Delay > 0 {
		time.Sleep(st.Delay)
	}
	if st.Code != 0 {
		return st.Code
	}
	out := unsafe.Slice(data, int(channels))
	for c := range out {
		out[c] = Value(n, c)
	}
	return 0
}

// Binding returns a binding for this vendor using the default symbols
func (v *Vendor) Binding(name string) *board.Binding {
	return &board.Binding{
		Name:           name,
		ChannelCount:   v.channels,
		LibraryName:    func() string { return "libmock.so" },
		Symbols:        board.DefaultSymbols(),
		FatalReadCodes: []int32{7},
	}
}

// Recorder is a board.Sink keeping every pushed sample
type Recorder struct {
	mu      sync.Mutex
	samples []models.Sample
	flushes int
	closed  bool
}

// Push implements board.Sink
func (r *Recorder) Push(s models.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

// Flush implements board.Sink
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

// Close implements board.Sink
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Samples returns a copy of the pushed samples
func (r *Recorder) Samples() []models.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Len returns the number of pushed samples
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Closed reports whether Close was called
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// RecorderFactory returns a board.SinkFactory whose sinks are appended to
// the returned slice pointer, newest last.
func RecorderFactory() (board.SinkFactory, *[]*Recorder) {
	var mu sync.Mutex
	created := &[]*Recorder{}
	return func(int, string, int) (board.Sink, error) {
		mu.Lock()
		defer mu.Unlock()
		r := &Recorder{}
		*created = append(*created, r)
		return r, nil
	}, created
}
