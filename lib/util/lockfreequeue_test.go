package util

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestBasicOperations tests basic push and pop functionality
func TestBasicOperations(t *testing.T) {
	q := NewLockFreeQueue[int]()
	defer q.Close()

	// Push 10 items
	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	if q.Len() != 10 {
		t.Fatalf("Expected length 10, got %d", q.Len())
	}

	// Pop 10 items
	for i := 0; i < 10; i++ {
		val, ok := q.TryPop()
		if !ok {
			t.Fatalf("Queue empty at item %d", i)
		}
		if val != i {
			t.Errorf("Expected %d, got %d", i, val)
		}
	}

	// Make sure queue is empty
	if val, ok := q.TryPop(); ok {
		t.Errorf("Queue should be empty, but got %v", val)
	}
	if q.Len() != 0 {
		t.Errorf("Expected length 0, got %d", q.Len())
	}
}

// TestConcurrentProducersAndConsumers verifies every item is handed out exactly once
func TestConcurrentProducersAndConsumers(t *testing.T) {
	q := NewLockFreeQueue[int]()
	defer q.Close()

	const numProducers = 8
	const numConsumers = 4
	const itemsPerProducer = 2000
	totalItems := numProducers * itemsPerProducer

	var mu sync.Mutex
	received := make(map[int]bool, totalItems)
	var receivedCount atomic.Int64

	// Start consumers
	var consumers sync.WaitGroup
	consumers.Add(numConsumers)
	deadline := time.Now().Add(5 * time.Second)
	for c := 0; c < numConsumers; c++ {
		go func() {
			defer consumers.Done()
			for receivedCount.Load() < int64(totalItems) {
				if time.Now().After(deadline) {
					return
				}
				val, ok := q.TryPop()
				if !ok {
					runtime.Gosched()
					continue
				}
				mu.Lock()
				if received[val] {
					t.Errorf("Duplicate item received: %d", val)
				}
				received[val] = true
				mu.Unlock()
				receivedCount.Add(1)
			}
		}()
	}

	// Start producers
	var producers sync.WaitGroup
	producers.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer producers.Done()
			base := producerID * itemsPerProducer
			for i := 0; i < itemsPerProducer; i++ {
				if !q.Push(base + i) {
					t.Errorf("Producer %d failed to push item %d", producerID, i)
				}
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}

	producers.Wait()
	consumers.Wait()

	if int(receivedCount.Load()) != totalItems {
		t.Errorf("Expected %d items, got %d", totalItems, receivedCount.Load())
	}
}

// TestCloseQueue verifies closing behavior
func TestCloseQueue(t *testing.T) {
	q := NewLockFreeQueue[int]()

	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	q.Close()

	if !q.IsClosed() {
		t.Error("Queue should report closed")
	}

	// Verify we can't push after closing
	if q.Push(100) {
		t.Error("Should not be able to push after queue is closed")
	}

	// Verify we can still read existing items
	for i := 0; i < 5; i++ {
		val, ok := q.TryPop()
		if !ok || val != i {
			t.Fatalf("Expected %d after close, got %d (ok=%v)", i, val, ok)
		}
	}
}

// TestDrain verifies Drain returns all queued items in FIFO order
func TestDrain(t *testing.T) {
	q := NewLockFreeQueue[string]()
	q.Push("a")
	q.Push("b")
	q.Push("c")

	items := q.Drain()
	if len(items) != 3 || items[0] != "a" || items[1] != "b" || items[2] != "c" {
		t.Fatalf("Unexpected drain result: %v", items)
	}
	if q.Len() != 0 {
		t.Errorf("Queue should be empty after drain, len=%d", q.Len())
	}
	if len(q.Drain()) != 0 {
		t.Error("Second drain should be empty")
	}
}

// TestOrderingSingleProducer tests that a single producer observes strict FIFO
func TestOrderingSingleProducer(t *testing.T) {
	q := NewLockFreeQueue[int]()
	defer q.Close()

	const itemCount = 10000
	go func() {
		for i := 0; i < itemCount; i++ {
			q.Push(i)
		}
	}()

	prev := -1
	timeout := time.After(2 * time.Second)
	for i := 0; i < itemCount; {
		select {
		case <-timeout:
			t.Fatalf("Timeout waiting for item %d", i)
		default:
		}
		val, ok := q.TryPop()
		if !ok {
			runtime.Gosched()
			continue
		}
		if val <= prev {
			t.Fatalf("Item %d received after %d", val, prev)
		}
		prev = val
		i++
	}
}

// BenchmarkSingleProducer benchmarks the queue with a single producer
func BenchmarkSingleProducer(b *testing.B) {
	q := NewLockFreeQueue[int]()
	defer q.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Push(i)
		q.TryPop()
	}
}

// BenchmarkMultiProducer benchmarks the queue with multiple producers
func BenchmarkMultiProducer(b *testing.B) {
	q := NewLockFreeQueue[int]()
	defer q.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(i)
			q.TryPop()
			i++
		}
	})
}
