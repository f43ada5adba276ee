// ABOUTME: Lock-free single-producer/single-consumer ring buffer
// ABOUTME: Moves samples and meter reports across the real-time boundary without locks
package ring

import "sync/atomic"

// Ring is a bounded SPSC queue. Exactly one goroutine may call the write
// methods and exactly one may call the read methods. Neither side blocks
// or allocates after construction.
type Ring[T any] struct {
	buffer []T
	mask   uint64

	// head is advanced by the producer, tail by the consumer
	head atomic.Uint64
	tail atomic.Uint64
}

// New creates a ring holding at least capacity items. Capacity is rounded
// up to a power of two.
func New[T any](capacity int) *Ring[T] {
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	return &Ring[T]{
		buffer: make([]T, size),
		mask:   size - 1,
	}
}

// Cap returns the number of slots in the ring
func (r *Ring[T]) Cap() int {
	return len(r.buffer)
}

// Len returns the number of items waiting to be read
func (r *Ring[T]) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Free returns the number of slots available to the producer
func (r *Ring[T]) Free() int {
	return len(r.buffer) - r.Len()
}

// Push appends one item. It returns false when the ring is full.
func (r *Ring[T]) Push(v T) bool {
	head := r.head.Load()
	if head-r.tail.Load() == uint64(len(r.buffer)) {
		return false
	}
	r.buffer[head&r.mask] = v
	r.head.Store(head + 1)
	return true
}

// Pop removes the oldest item
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return zero, false
	}
	v := r.buffer[tail&r.mask]
	r.tail.Store(tail + 1)
	return v, true
}

// Write appends as many items from src as fit and returns the count
func (r *Ring[T]) Write(src []T) int {
	head := r.head.Load()
	free := uint64(len(r.buffer)) - (head - r.tail.Load())
	n := uint64(len(src))
	if n > free {
		n = free
	}
	for i := uint64(0); i < n; i++ {
		r.buffer[(head+i)&r.mask] = src[i]
	}
	r.head.Store(head + n)
	return int(n)
}

// Read fills dst with the oldest items and returns the count. Slots of dst
// past the count are left untouched.
func (r *Ring[T]) Read(dst []T) int {
	tail := r.tail.Load()
	avail := r.head.Load() - tail
	n := uint64(len(dst))
	if n > avail {
		n = avail
	}
	for i := uint64(0); i < n; i++ {
		dst[i] = r.buffer[(tail+i)&r.mask]
	}
	r.tail.Store(tail + n)
	return int(n)
}

// Latest drains the ring and returns the newest item, if any
func (r *Ring[T]) Latest() (T, bool) {
	var (
		last T
		ok   bool
	)
	for {
		v, more := r.Pop()
		if !more {
			return last, ok
		}
		last, ok = v, true
	}
}
