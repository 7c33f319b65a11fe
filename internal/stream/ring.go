// Package stream runs long-lived workers over live rtsp/rtmp sources:
// reconnect with backoff, paced frame sampling into a ring, periodic
// detection rounds, and a ring of recent results.
package stream

import "sync"

// Ring is a fixed-capacity buffer that overwrites its oldest entry on
// overflow. Reads return copied snapshots in chronological order.
type Ring[T any] struct {
	mu   sync.RWMutex
	buf  []T
	head int
	n    int
	seq  uint64
}

// NewRing creates a ring holding up to capacity entries.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends an entry, evicting the oldest when full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
	r.seq++
}

// Len returns the number of entries currently held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

// Sequence returns the total number of pushes since creation.
func (r *Ring[T]) Sequence() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// Last returns up to n of the newest entries, oldest first.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || r.n == 0 {
		return nil
	}
	if n > r.n {
		n = r.n
	}

	out := make([]T, n)
	// head is the next write slot; the newest entry sits just before it.
	start := r.head - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Snapshot returns every held entry, oldest first.
func (r *Ring[T]) Snapshot() []T {
	return r.Last(len(r.buf))
}
