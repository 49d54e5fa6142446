package audit

import "sync"

// DefaultFallbackCapacity bounds the in-memory audit fallback
const DefaultFallbackCapacity = 1000

// RingBuffer is a fixed-capacity FIFO that overwrites its oldest item when
// full. It is safe for concurrent use.
type RingBuffer[T any] struct {
	mu    sync.Mutex
	items []T
	head  int // index of the oldest item
	size  int
}

// NewRingBuffer creates a buffer holding at most capacity items.
// A non-positive capacity uses DefaultFallbackCapacity.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultFallbackCapacity
	}
	return &RingBuffer[T]{items: make([]T, capacity)}
}

// Push appends item and reports whether the oldest item was evicted to make room
func (b *RingBuffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	tail := (b.head + b.size) % len(b.items)
	b.items[tail] = item
	if b.size < len(b.items) {
		b.size++
		return false
	}
	b.head = (b.head + 1) % len(b.items)
	return true
}

// Len returns the number of buffered items
func (b *RingBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the buffer capacity
func (b *RingBuffer[T]) Cap() int {
	return len(b.items)
}

// Snapshot copies the buffered items, oldest first
func (b *RingBuffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Drain removes and returns every buffered item, oldest first
func (b *RingBuffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.snapshotLocked()
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head, b.size = 0, 0
	return out
}

func (b *RingBuffer[T]) snapshotLocked() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}
