package output

import (
	"sync"

	"github.com/ajitpratap0/dynboard/pkg/models"
)

// DataBuffer is a fixed-capacity ring of samples. When full, the oldest
// sample is overwritten. One goroutine pushes while others read.
type DataBuffer struct {
	mu      sync.RWMutex
	samples []models.Sample
	start   int // index of the oldest sample
	count   int
	total   uint64
}

// NewDataBuffer creates a buffer holding at most capacity samples
func NewDataBuffer(capacity int) *DataBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &DataBuffer{samples: make([]models.Sample, capacity)}
}

// Push appends a sample, dropping the oldest one when full
func (b *DataBuffer) Push(s models.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.samples)
	if b.count < capacity {
		b.samples[(b.start+b.count)%capacity] = s
		b.count++
	} else {
		b.samples[b.start] = s
		b.start = (b.start + 1) % capacity
	}
	b.total++
}

// Capacity returns the maximum number of samples held
func (b *DataBuffer) Capacity() int {
	return len(b.samples)
}

// Count returns the number of samples currently held
func (b *DataBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Total returns how many samples were ever pushed, including overwritten ones
func (b *DataBuffer) Total() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Current returns up to n of the newest samples, oldest first, without
// removing them.
func (b *DataBuffer) Current(n int) []models.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]models.Sample, n)
	first := b.start + b.count - n
	for i := range out {
		out[i] = b.samples[(first+i)%len(b.samples)]
	}
	return out
}

// Drain removes and returns every held sample, oldest first
func (b *DataBuffer) Drain() []models.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Sample, b.count)
	for i := range out {
		idx := (b.start + i) % len(b.samples)
		out[i] = b.samples[idx]
		b.samples[idx] = models.Sample{}
	}
	b.start = 0
	b.count = 0
	return out
}
