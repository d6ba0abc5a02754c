package collector

import (
	"sync"

	"github.com/brennhill/tracebackbone/internal/types"
)

// batchBuffer is the collector's in-memory pending batch (§5 "Collector
// batch buffer": single-producer-multi-consumer, bounded capacity; only
// the collector appends, the flusher drains). It also implements the
// backpressure gate of §4.4 step 6: when utilization exceeds 0.9, the
// lowest-severity buffered event is evicted to make room; if every
// buffered event outranks the incoming one, the incoming event is
// dropped instead.
type batchBuffer struct {
	mu       sync.Mutex
	events   []types.Event
	capacity int
}

func newBatchBuffer(capacity int) *batchBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &batchBuffer{capacity: capacity}
}

const backpressureThreshold = 0.9

// utilization returns buffered/capacity without locking; callers must
// hold b.mu.
func (b *batchBuffer) utilizationLocked() float64 {
	return float64(len(b.events)) / float64(b.capacity)
}

// Append admits e into the buffer, applying the backpressure gate first.
// Returns false if e itself was the one dropped.
func (b *batchBuffer) Append(e types.Event) (admitted bool, droppedID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.utilizationLocked() > backpressureThreshold {
		if idx, ok := lowestSeverityIndex(b.events); ok && types.RankOf(b.events[idx].Metadata.Severity) <= types.RankOf(e.Metadata.Severity) {
			droppedID = b.events[idx].ID
			b.events = append(b.events[:idx], b.events[idx+1:]...)
		} else {
			// Every buffered event already outranks the incoming one, or
			// the buffer is somehow empty; drop the incoming event instead.
			return false, e.ID
		}
	}

	b.events = append(b.events, e)
	return true, droppedID
}

// lowestSeverityIndex finds the buffered event with the lowest severity,
// breaking ties toward the oldest (lowest index) entry. Critical events
// are still eligible to be the "lowest" only if nothing else is buffered
// below them — §8 invariant 8 is enforced by the caller's rank comparison,
// not by excluding critical events here.
func lowestSeverityIndex(events []types.Event) (int, bool) {
	if len(events) == 0 {
		return 0, false
	}
	best := 0
	bestRank := types.RankOf(events[0].Metadata.Severity)
	for i := 1; i < len(events); i++ {
		r := types.RankOf(events[i].Metadata.Severity)
		if r < bestRank {
			best, bestRank = i, r
		}
	}
	return best, true
}

// Utilization reports buffered/capacity, for metrics() (§4.4).
func (b *batchBuffer) Utilization() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.utilizationLocked()
}

// Len reports the current buffered event count.
func (b *batchBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// ShouldFlush reports whether the buffer has reached batchSize.
func (b *batchBuffer) ShouldFlush(batchSize int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events) >= batchSize
}

// Drain empties the buffer and returns its contents.
func (b *batchBuffer) Drain() []types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}
