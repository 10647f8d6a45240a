// Package pool implements the adaptive worker pool that decouples socket I/O from
// application callbacks.
//
// Sharding:
//
//	Enqueue(payload, discriminator) routes the item to worker
//	`uint32(discriminator) % threadCount`. Items that share a discriminator (all
//	frames of one connection) are therefore processed by one worker in enqueue
//	order as long as the thread count does not change. Every worker owns a lock
//	free queue (util.LockFreeQueue) and a wake channel, and blocks when its queue
//	is empty.
//
// Backpressure:
//
//	Once the number of pending items reaches Capacity, Enqueue blocks the caller
//	until a worker picks up an item. For a connection this stalls the read loop,
//	which in turn lets the socket buffers fill up instead of memory.
//
// Scaling:
//
//	A ticker runs every ScalingInterval and computes the target thread count:
//
//	  - required = ceil(clients / ClientsPerThread), clamped to [MinThreads, MaxThreads]
//	  - boost: +1 thread when pending items exceed the rolling peak by BoostBarrier,
//	    at most once per BoostCooldown
//	  - step down: -1 boost thread once the backlog fell below BoostBarrier, at most
//	    once per StepDownCooldown
//
//	Growing spawns workers and, with ReshardOnGrow, redistributes a snapshot of all
//	queued items over the new thread count while producers are paused. Shrinking
//	removes the least recently useful worker that is past IdleTimeout and
//	StartProtection (swap with last, truncate) and migrates its remaining items
//	to the new last worker. Items queued across a resize may be processed out of
//	order relative to newer items with the same discriminator.
//
// Observability:
//
//	Threads returns per worker snapshots (ThreadData), Stats returns counters and
//	an rcrowley/go-metrics latency histogram of the time between Enqueue and
//	processing. Panics in the handler are recovered, counted and logged.
package pool
