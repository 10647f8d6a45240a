package link

import (
	"sync/atomic"

	"github.com/ValentinKolb/dMsg/lib/frame"
	"github.com/ValentinKolb/dMsg/lib/pool"
	"github.com/ValentinKolb/dMsg/rpc/common"
)

// Handler is a persistent callback for one payload type. A returned error is
// logged and counted, it never reaches the peer
type Handler func(ctx *DispatchContext, payload any) error

// DispatchContext describes one inbound frame. It stays valid after the handler
// returned, so a request can be answered from another goroutine
type DispatchContext struct {
	Header     frame.Header
	Connection *Connection

	handled   atomic.Bool
	responded atomic.Bool
}

// IsRequest reports whether the frame is a trackable request
func (d *DispatchContext) IsRequest() bool {
	h, ok := d.Header.(*frame.TrackableHeader)
	return ok && h.IsRequest()
}

// RequestID returns the request id of a trackable frame, 0 otherwise
func (d *DispatchContext) RequestID() int32 {
	if h, ok := d.Header.(*frame.TrackableHeader); ok {
		return h.RequestID
	}
	return 0
}

// MarkHandled suppresses the automatic empty reply, the handler promises to Respond later
func (d *DispatchContext) MarkHandled() {
	d.handled.Store(true)
}

// Handled reports whether a handler took responsibility for the request
func (d *DispatchContext) Handled() bool {
	return d.handled.Load()
}

// Respond sends payload as response to the request. Only the first call sends
func (d *DispatchContext) Respond(payload any) error {
	if !d.IsRequest() {
		return ErrNotRequest
	}
	d.handled.Store(true)
	if !d.responded.CompareAndSwap(false, true) {
		return ErrAlreadyResponded
	}
	return d.Connection.respond(d.RequestID(), payload)
}

// IncomingRequest is a request taken by ReceiveRequest
type IncomingRequest struct {
	Payload any
	ctx     *DispatchContext
}

// RequestID returns the id the response is correlated with
func (r *IncomingRequest) RequestID() int32 { return r.ctx.RequestID() }

// Respond answers the request, see DispatchContext.Respond
func (r *IncomingRequest) Respond(payload any) error { return r.ctx.Respond(payload) }

// --------------------------------------------------------------------------
// Dispatch pool
// --------------------------------------------------------------------------

// DispatchJob is one inbound frame scheduled on a DispatchPool
type DispatchJob struct {
	conn  *Connection
	frame *frame.Frame
	raw   *RawChunk
}

// DispatchPool runs the handlers of many connections. Jobs of one connection
// share the connection id as discriminator and keep their arrival order
type DispatchPool = pool.Pool[DispatchJob]

// NewDispatchPool creates a pool for WithPool, call Initialize before use
func NewDispatchPool(cfg common.PoolConfig) *DispatchPool {
	return pool.New[DispatchJob](cfg, runDispatchJob)
}

func runDispatchJob(item pool.WorkItem[DispatchJob]) {
	job := item.Payload
	if job.raw != nil {
		job.conn.dispatchRaw(*job.raw)
		return
	}
	job.conn.dispatch(job.frame)
}

// schedule runs job on the pool or inline on the read loop
func (c *Connection) schedule(job DispatchJob) {
	if c.pool != nil {
		err := c.pool.Enqueue(job, int32(c.id))
		if err == nil {
			return
		}
		Logger.Debugf("connection %d: dispatching inline, pool rejected job: %v", c.id, err)
	}
	runDispatchJob(pool.WorkItem[DispatchJob]{Payload: job})
}
