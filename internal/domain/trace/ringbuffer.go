package trace

import "sync"

// RingBuffer keeps the most recent run entries. Safe for concurrent use.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
	head    int
	count   int
}

// NewRingBuffer creates a ring buffer that holds up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 100
	}
	return &RingBuffer{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Add appends an entry, overwriting the oldest if full.
func (rb *RingBuffer) Add(e Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = e
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
}

// Last returns the last n entries, oldest first.
func (rb *RingBuffer) Last(n int) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n = min(n, rb.count)
	if n <= 0 {
		return nil
	}

	result := make([]Entry, n)
	start := (rb.head - n + rb.size) % rb.size
	for i := range n {
		result[i] = rb.entries[(start+i)%rb.size]
	}
	return result
}

// Count returns the number of entries currently stored.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// CountOutcome returns how many stored entries ended with the given outcome.
func (rb *RingBuffer) CountOutcome(o Outcome) int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := 0
	for i := range rb.count {
		if rb.entries[(rb.head-1-i+2*rb.size)%rb.size].Outcome == o {
			n++
		}
	}
	return n
}
