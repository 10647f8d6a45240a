package link

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// typeKey selects the subscription bucket of a payload type
type typeKey = reflect.Type

// outcome is the result a future completes with
type outcome struct {
	payload any
	request *IncomingRequest
	raw     RawChunk
	err     error
}

// future completes exactly once. resolve and cancel race through one CAS,
// the loser's attempt is a no-op
type future struct {
	ch      chan outcome
	claimed atomic.Bool
}

func newFuture() *future {
	return &future{ch: make(chan outcome, 1)}
}

// resolve completes the future, false if it was already completed or cancelled
func (f *future) resolve(o outcome) bool {
	if !f.claimed.CompareAndSwap(false, true) {
		return false
	}
	f.ch <- o
	return true
}

// claim cancels the future, false if a result already won
func (f *future) claim() bool {
	return f.claimed.CompareAndSwap(false, true)
}

// pendingRequest is an outstanding SendRequest owned by the correlation table
type pendingRequest struct {
	requestID int32
	createdAt time.Time
	future    *future
}

// handlerEntry is a persistent type keyed handler
type handlerEntry struct {
	fn Handler
}

// typeBucket holds every subscription for one payload type under its own lock
type typeBucket struct {
	mu       sync.Mutex
	handlers []*handlerEntry // copy on write, registration order
	receives []*future       // one shot Receive futures
	requests []*future       // FIFO of ReceiveRequest awaiters
}

func (c *Connection) bucket(t typeKey) *typeBucket {
	b, _ := c.buckets.LoadOrCompute(t, func() *typeBucket { return &typeBucket{} })
	return b
}

// lookup returns the bucket of t without creating one
func (c *Connection) lookup(t typeKey) *typeBucket {
	if t == nil {
		return nil
	}
	b, _ := c.buckets.Load(t)
	return b
}

// removeFuture deletes f from list, list order is kept
func removeFuture(list []*future, f *future) []*future {
	for i, e := range list {
		if e == f {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// filterEntry is a one shot predicate subscription
type filterEntry struct {
	predicate func(any) bool
	future    *future
}

// filterSet keeps predicate filters in registration order
type filterSet struct {
	mu      sync.Mutex
	entries []*filterEntry
}

func (s *filterSet) add(e *filterEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

func (s *filterSet) remove(e *filterEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.entries {
		if cur == e {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

func (s *filterSet) snapshot() []*filterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*filterEntry(nil), s.entries...)
}

func (s *filterSet) drain() []*filterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.entries
	s.entries = nil
	return entries
}

// rawHandlerEntry is a persistent raw handler of one buffer id
type rawHandlerEntry struct {
	fn RawHandler
}

// rawBucket holds the raw subscriptions of one buffer id
type rawBucket struct {
	mu       sync.Mutex
	handlers []*rawHandlerEntry
	receives []*future
}

// eventSet is an ordered registry of event callbacks
type eventSet[F any] struct {
	mu      sync.Mutex
	entries []*F
}

// add registers fn and returns a function that removes it again
func (s *eventSet[F]) add(fn F) func() {
	entry := &fn
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.entries {
			if e == entry {
				s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
				return
			}
		}
	}
}

// each calls invoke for every callback in registration order, a panic of one
// callback does not stop the others
func (s *eventSet[F]) each(name string, invoke func(F)) {
	s.mu.Lock()
	entries := s.entries
	s.mu.Unlock()

	for _, e := range entries {
		fn := *e
		safeCall(name, func() error {
			invoke(fn)
			return nil
		})
	}
}

// safeCall runs fn and turns a panic or returned error into a *HandlerError
func safeCall(name string, fn func() error) (herr *HandlerError) {
	defer func() {
		if r := recover(); r != nil {
			herr = &HandlerError{Handler: name, Err: fmt.Errorf("panic: %v", r), Panic: r}
		}
		if herr != nil {
			Logger.Warningf("%v", herr)
		}
	}()
	if err := fn(); err != nil {
		return &HandlerError{Handler: name, Err: err}
	}
	return nil
}

// failSubscriptions fails every one shot future with cause
func (c *Connection) failSubscriptions(cause error) int {
	failed := 0
	fail := func(list []*future) {
		for _, f := range list {
			if f.resolve(outcome{err: cause}) {
				failed++
			}
		}
	}

	c.buckets.Range(func(_ typeKey, b *typeBucket) bool {
		b.mu.Lock()
		receives, requests := b.receives, b.requests
		b.receives, b.requests = nil, nil
		b.mu.Unlock()
		fail(receives)
		fail(requests)
		return true
	})

	for _, e := range c.filters.drain() {
		if e.future.resolve(outcome{err: cause}) {
			failed++
		}
	}

	c.rawBuckets.Range(func(_ int32, b *rawBucket) bool {
		b.mu.Lock()
		receives := b.receives
		b.receives = nil
		b.mu.Unlock()
		fail(receives)
		return true
	})
	return failed
}
