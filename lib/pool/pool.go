package pool

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("pool")

var (
	ErrPoolClosed         = errors.New("pool: closed")
	ErrAlreadyInitialized = errors.New("pool: already initialized")
	ErrNotInitialized     = errors.New("pool: not initialized")
)

// WorkItem is one unit of work. Items sharing a Discriminator are routed to the same
// worker while the thread count does not change
type WorkItem[T any] struct {
	Payload       T
	Discriminator int32
	enqueued      time.Time
}

// Stats is a point in time view of the pool
type Stats struct {
	Threads   int
	Pending   int64
	Clients   int64
	Boost     int
	Processed int64
	Panics    int64
	// Latency between Enqueue and the start of processing, in microseconds
	LatencyMean float64
	LatencyP50  float64
	LatencyP99  float64
}

// Pool is an adaptive, sharded worker pool. It may be shared by many producers
type Pool[T any] struct {
	cfg     common.PoolConfig
	handler func(WorkItem[T])

	// gate pauses producers while the worker list is resharded
	gate    sync.RWMutex
	workers []*worker[T]

	// mu serializes thread list mutations (initialize, scaling tick, close)
	mu      sync.Mutex
	scaling scalingState

	pending atomic.Int64
	waiting atomic.Int32
	capMu   sync.Mutex
	capCond *sync.Cond

	clients     atomic.Int64
	nextID      atomic.Int64
	initialized atomic.Bool
	closed      atomic.Bool

	quit     chan struct{}
	tickDone chan struct{}
	wg       sync.WaitGroup

	latency   metrics.Histogram
	processed metrics.Counter
	panics    metrics.Counter
}

// New creates a pool that runs handler for every enqueued item.
// Workers start with Initialize
func New[T any](cfg common.PoolConfig, handler func(WorkItem[T])) *Pool[T] {
	p := &Pool[T]{
		cfg:       cfg,
		handler:   handler,
		quit:      make(chan struct{}),
		tickDone:  make(chan struct{}),
		latency:   metrics.NewHistogram(metrics.NewExpDecaySample(1028, 0.015)),
		processed: metrics.NewCounter(),
		panics:    metrics.NewCounter(),
	}
	p.capCond = sync.NewCond(&p.capMu)
	return p
}

// Initialize validates the configuration, starts MinThreads workers and the scaling ticker
func (p *Pool[T]) Initialize() error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}
	if !p.initialized.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}

	now := time.Now()
	p.mu.Lock()
	p.scaling.reset(now)
	workers := make([]*worker[T], 0, p.cfg.MinThreads)
	for i := 0; i < p.cfg.MinThreads; i++ {
		workers = append(workers, p.spawn(now))
	}
	p.gate.Lock()
	p.workers = workers
	p.gate.Unlock()
	p.mu.Unlock()

	go p.runScaling()

	Logger.Infof("worker pool started with %d threads (max %d)", p.cfg.MinThreads, p.cfg.MaxThreads)
	return nil
}

// Enqueue routes payload to worker discriminator mod threadCount.
// It blocks while the number of pending items is at or above the configured capacity
func (p *Pool[T]) Enqueue(payload T, discriminator int32) error {
	if !p.initialized.Load() {
		return ErrNotInitialized
	}
	if err := p.acquire(); err != nil {
		return err
	}

	item := WorkItem[T]{Payload: payload, Discriminator: discriminator, enqueued: time.Now()}

	p.gate.RLock()
	w := p.workers[shard(discriminator, len(p.workers))]
	ok := w.queue.Push(item)
	p.gate.RUnlock()

	if !ok {
		p.release()
		return ErrPoolClosed
	}
	w.signal()
	return nil
}

// NewClient registers a producer, the scaling tick sizes the pool by the client count
func (p *Pool[T]) NewClient() {
	p.clients.Add(1)
}

// RemoveClient unregisters a producer
func (p *Pool[T]) RemoveClient() {
	for {
		n := p.clients.Load()
		if n <= 0 || p.clients.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// ThreadCount returns the current number of workers
func (p *Pool[T]) ThreadCount() int {
	p.gate.RLock()
	defer p.gate.RUnlock()
	return len(p.workers)
}

// Pending returns the number of enqueued items not yet picked up by a worker
func (p *Pool[T]) Pending() int64 {
	return p.pending.Load()
}

// Clients returns the number of registered clients
func (p *Pool[T]) Clients() int64 {
	return p.clients.Load()
}

// Threads returns a snapshot of all workers
func (p *Pool[T]) Threads() []ThreadInfo {
	p.gate.RLock()
	defer p.gate.RUnlock()
	out := make([]ThreadInfo, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.data.snapshot(w.queue.Len()))
	}
	return out
}

// Stats returns counters and latency percentiles
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	boost := p.scaling.boost
	p.mu.Unlock()

	snap := p.latency.Snapshot()
	return Stats{
		Threads:     p.ThreadCount(),
		Pending:     p.pending.Load(),
		Clients:     p.clients.Load(),
		Boost:       boost,
		Processed:   p.processed.Count(),
		Panics:      p.panics.Count(),
		LatencyMean: snap.Mean(),
		LatencyP50:  snap.Percentile(0.5),
		LatencyP99:  snap.Percentile(0.99),
	}
}

// Close stops the scaling ticker and all workers. Items already queued are still processed.
// Blocked producers return ErrPoolClosed. Close waits until every worker exited
func (p *Pool[T]) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	// wake blocked producers
	p.capMu.Lock()
	p.capCond.Broadcast()
	p.capMu.Unlock()

	if !p.initialized.Load() {
		return
	}

	close(p.quit)
	<-p.tickDone

	p.mu.Lock()
	p.gate.Lock()
	workers := p.workers
	for _, w := range workers {
		w.queue.Close()
	}
	p.gate.Unlock()
	for _, w := range workers {
		w.halt()
	}
	p.mu.Unlock()

	p.wg.Wait()
	Logger.Infof("worker pool closed after %d items", p.processed.Count())
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// shard maps a discriminator to a worker index
func shard(discriminator int32, n int) int {
	return int(uint32(discriminator) % uint32(n))
}

// acquire reserves one pending slot, blocking while the pool is at capacity
func (p *Pool[T]) acquire() error {
	limit := int64(p.cfg.Capacity)

	p.capMu.Lock()
	defer p.capMu.Unlock()
	for {
		if p.closed.Load() {
			return ErrPoolClosed
		}
		if p.pending.Load() < limit {
			break
		}
		// publish the waiter before re-checking, release reads waiting after decrementing
		p.waiting.Add(1)
		if p.pending.Load() < limit {
			p.waiting.Add(-1)
			break
		}
		p.capCond.Wait()
		p.waiting.Add(-1)
	}
	p.pending.Add(1)
	return nil
}

// release frees one pending slot and wakes blocked producers
func (p *Pool[T]) release() {
	p.pending.Add(-1)
	if p.waiting.Load() > 0 {
		p.capMu.Lock()
		p.capCond.Broadcast()
		p.capMu.Unlock()
	}
}
