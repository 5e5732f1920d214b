package output

import (
	"sync/atomic"

	"github.com/ajitpratap0/dynboard/pkg/models"
)

// sampleQueue is a lock-free single-producer single-consumer ring handing
// samples from the acquisition goroutine to the streamer writer. The producer
// never blocks: a full queue rejects the sample.
type sampleQueue struct {
	// head and tail live on separate cache lines
	head      atomic.Uint64
	_padding1 [7]uint64 //nolint:unused

	tail      atomic.Uint64
	_padding2 [7]uint64 //nolint:unused

	buffer []models.Sample
	mask   uint64
}

// newSampleQueue rounds capacity up to the next power of 2. One slot is kept
// free to tell full from empty.
func newSampleQueue(capacity int) *sampleQueue {
	size := uint64(2)
	for size < uint64(capacity)+1 {
		size <<= 1
	}
	return &sampleQueue{
		buffer: make([]models.Sample, size),
		mask:   size - 1,
	}
}

// enqueue must only be called from the producer
func (q *sampleQueue) enqueue(s models.Sample) bool {
	tail := q.tail.Load()
	next := (tail + 1) & q.mask
	if next == q.head.Load() {
		return false
	}
	q.buffer[tail] = s
	q.tail.Store(next)
	return true
}

// dequeue must only be called from the consumer
func (q *sampleQueue) dequeue() (models.Sample, bool) {
	head := q.head.Load()
	if head == q.tail.Load() {
		return models.Sample{}, false
	}
	s := q.buffer[head]
	q.buffer[head] = models.Sample{}
	q.head.Store((head + 1) & q.mask)
	return s, true
}

// size is approximate while both sides are active
func (q *sampleQueue) size() int {
	head := q.head.Load()
	tail := q.tail.Load()
	return int((tail - head) & q.mask)
}
