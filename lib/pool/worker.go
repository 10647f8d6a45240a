package pool

import (
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMsg/lib/util"
)

// ThreadData is written by its worker and read by the scaling tick
type ThreadData struct {
	ID           int64
	Running      atomic.Bool
	StartTick    atomic.Int64 // unix nanos
	LastWorkTick atomic.Int64 // unix nanos, 0 until the first item
	WorkCounter  atomic.Uint64
}

// ThreadInfo is an immutable snapshot of ThreadData
type ThreadInfo struct {
	ID           int64
	Running      bool
	StartTick    time.Time
	LastWorkTick time.Time
	WorkCounter  uint64
	Queued       int
}

func (d *ThreadData) snapshot(queued int) ThreadInfo {
	info := ThreadInfo{
		ID:          d.ID,
		Running:     d.Running.Load(),
		StartTick:   time.Unix(0, d.StartTick.Load()),
		WorkCounter: d.WorkCounter.Load(),
		Queued:      queued,
	}
	if last := d.LastWorkTick.Load(); last != 0 {
		info.LastWorkTick = time.Unix(0, last)
	}
	return info
}

// lastUseful returns the later of start and last work, in unix nanos
func (d *ThreadData) lastUseful() int64 {
	return max(d.StartTick.Load(), d.LastWorkTick.Load())
}

// worker owns one queue and processes it on its own goroutine
type worker[T any] struct {
	pool    *Pool[T]
	data    *ThreadData
	queue   *util.LockFreeQueue[WorkItem[T]]
	wake    chan struct{}
	stop    chan struct{}
}

// spawn creates and starts a worker, the caller adds it to the worker list
func (p *Pool[T]) spawn(now time.Time) *worker[T] {
	w := &worker[T]{
		pool:  p,
		data:  &ThreadData{ID: p.nextID.Add(1)},
		queue: util.NewLockFreeQueue[WorkItem[T]](),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	w.data.StartTick.Store(now.UnixNano())

	p.wg.Add(1)
	go w.run()
	return w
}

// signal wakes the worker if it is blocked, it never blocks itself
func (w *worker[T]) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// halt asks the worker to process what is left in its queue and exit
func (w *worker[T]) halt() {
	close(w.stop)
}

// run is the pop-or-block loop of the worker
func (w *worker[T]) run() {
	defer w.pool.wg.Done()

	for {
		if item, ok := w.queue.TryPop(); ok {
			w.process(item)
			continue
		}

		select {
		case <-w.wake:
		case <-w.stop:
			// the queue is closed before stop, nothing new can arrive
			for {
				item, ok := w.queue.TryPop()
				if !ok {
					return
				}
				w.process(item)
			}
		}
	}
}

// process runs the handler for one item with panic isolation
func (w *worker[T]) process(item WorkItem[T]) {
	p := w.pool
	p.release()

	start := time.Now()
	p.latency.Update(start.Sub(item.enqueued).Microseconds())

	w.data.Running.Store(true)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Inc(1)
			Logger.Errorf("worker %d recovered from panic (discriminator %d): %v", w.data.ID, item.Discriminator, r)
		}
		w.data.Running.Store(false)
		w.data.WorkCounter.Add(1)
		w.data.LastWorkTick.Store(time.Now().UnixNano())
		p.processed.Inc(1)
	}()

	p.handler(item)
}
