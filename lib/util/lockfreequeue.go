// Package util provides a lock-free Multi-Producer Multi-Consumer (MPMC) queue implementation.
//
// Features and Guarantees:
//
//   - Lock-Free: atomic operations for high throughput and low latency even under high contention
//   - Unbounded Size: the queue can grow to any size as needed, limited only by available memory
//   - Small Footprint: minimal memory overhead per item (one value and one pointer per item)
//   - Thread-Safe writes: Allows any number of goroutines to safely Push() concurrently
//   - Thread-Safe reads: TryPop() may be called concurrently, every item is handed out exactly once
//   - FIFO per producer: items pushed by one goroutine are popped in the order they were pushed.
//     Under concurrent Push() operations the relative order between producers is determined by
//     which producer completes its operation first, not by which producer started first.
package util

import (
	"runtime"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// LockFreeQueue is a lock-free unbounded queue (Michael-Scott algorithm).
// The head always points to a sentinel node, the first real item is head.next
type LockFreeQueue[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	length atomic.Int64
	closed atomic.Bool
}

// NewLockFreeQueue creates a new empty lock-free queue
func NewLockFreeQueue[T any]() *LockFreeQueue[T] {
	// Create a sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &LockFreeQueue[T]{}

	// Set the initial head and tail to the sentinel node
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeQueue[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}

	var backoff uint8 = 0

	for {
		tailNode := q.tail.Load()

		// try to atomically append our node to the current tail
		next := tailNode.next.Load()
		if next == nil {
			// the tail has no next node yet, try to append our node
			if tailNode.next.CompareAndSwap(nil, newNode) {
				/*
				 Successfully appended, now try to update tail
				 Note: CAS may fail if another producer helps update tail,
				 but that's okay - tail will still be updated eventually
				*/
				q.tail.CompareAndSwap(tailNode, newNode)
				q.length.Add(1)
				return true
			}
		} else {
			// help update the tail pointer if another producer has already appended a node but hasn't updated the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		/*
		 Exponential backoff to handle contention:
		  - At low contention (<10 retries): yield a growing number of times
		  - At higher contention: yield once per retry
		*/
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// TryPop removes and returns the oldest item of the queue.
// ok is false if the queue was empty at the time of the call.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeQueue[T]) TryPop() (value T, ok bool) {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()

		// head moved while we were reading, retry
		if head != q.head.Load() {
			continue
		}

		if next == nil {
			return value, false
		}

		if head == tail {
			// tail is lagging behind, help the producer
			q.tail.CompareAndSwap(tail, next)
			continue
		}

		// capture value before swinging the head, next becomes the new sentinel
		value = next.value
		if q.head.CompareAndSwap(head, next) {
			q.length.Add(-1)
			return value, true
		}
	}
}

// Drain pops every item currently in the queue and returns them in FIFO order.
func (q *LockFreeQueue[T]) Drain() []T {
	items := make([]T, 0, q.Len())
	for {
		v, ok := q.TryPop()
		if !ok {
			return items
		}
		items = append(items, v)
	}
}

// Close closes the queue, preventing further writes.
// Items already in the queue can still be popped.
func (q *LockFreeQueue[T]) Close() {
	q.closed.Store(true)
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeQueue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of items in the queue.
// The value is exact when no Push or TryPop is in progress.
func (q *LockFreeQueue[T]) Len() int {
	n := q.length.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
