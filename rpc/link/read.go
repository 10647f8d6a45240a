package link

import (
	"errors"
	"io"
	"reflect"
	"time"

	"github.com/ValentinKolb/dMsg/lib/frame"
)

// readLoop feeds transport bytes to the decoder until the transport fails.
// It is the only reader of the transport and the only user of the decoder
func (c *Connection) readLoop() {
	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.touch()
			c.telemetry.incr(MetricLinkBytesIn, float32(n))
			if ferr := c.decoder.Feed(buf[:n]); ferr != nil {
				Logger.Warningf("connection %d: %v", c.id, ferr)
				c.HandleRemoteDisconnect(ferr)
				return
			}
		}
		if err != nil {
			if c.connected.Load() {
				if errors.Is(err, io.EOF) {
					Logger.Debugf("connection %d: closed by peer", c.id)
				}
				c.HandleRemoteDisconnect(&TransportError{Op: "read", Err: err})
			}
			return
		}
	}
}

// route is the decoder's frame callback. Responses are resolved inline so a
// handler blocked in SendRequest never waits for its own worker
func (c *Connection) route(f *frame.Frame) {
	c.telemetry.incr(MetricLinkFramesIn, 1, LabelPacketType.M(f.Header.Kind().String()))

	if h, ok := f.Header.(*frame.TrackableHeader); ok && h.IsResponse() {
		c.resolveResponse(h.RequestID, f.Payload())
		return
	}
	c.schedule(DispatchJob{conn: c, frame: f})
}

// routeRaw is the decoder's raw data callback
func (c *Connection) routeRaw(h *frame.RawDataHeader, data []byte) {
	c.telemetry.incr(MetricLinkFramesIn, 1, LabelPacketType.M(h.Kind().String()))
	c.schedule(DispatchJob{conn: c, raw: &RawChunk{BufferID: h.BufferID, Sequence: h.Sequence, Data: data}})
}

// resolveResponse completes the pending request id, unknown and duplicate ids are ignored
func (c *Connection) resolveResponse(id int32, payload any) {
	pr, ok := c.pending.LoadAndDelete(id)
	if !ok {
		Logger.Debugf("connection %d: ignoring response for unknown request %d", c.id, id)
		return
	}
	c.telemetry.sample(MetricLinkRequestLatency, float32(time.Since(pr.createdAt).Microseconds())/1000)
	pr.future.resolve(outcome{payload: payload})
}

// dispatch delivers a content or request frame
func (c *Connection) dispatch(f *frame.Frame) {
	payload := f.Payload()
	dc := &DispatchContext{Header: f.Header, Connection: c}

	if dc.IsRequest() {
		if c.deliverToAwaiter(dc, payload) {
			return
		}
	}

	c.dispatchGeneral(dc, payload)

	if dc.IsRequest() && !dc.handled.Load() {
		if dc.responded.CompareAndSwap(false, true) {
			c.telemetry.incr(MetricLinkAutoReplyCount, 1)
			if err := c.respond(dc.RequestID(), nil); err != nil {
				Logger.Debugf("connection %d: auto reply to request %d failed: %v", c.id, dc.RequestID(), err)
			}
		}
	}
}

// deliverToAwaiter hands a request to the oldest ReceiveRequest awaiter of its type
func (c *Connection) deliverToAwaiter(dc *DispatchContext, payload any) bool {
	b := c.lookup(reflect.TypeOf(payload))
	if b == nil {
		return false
	}
	req := &IncomingRequest{Payload: payload, ctx: dc}
	for {
		b.mu.Lock()
		if len(b.requests) == 0 {
			b.mu.Unlock()
			return false
		}
		f := b.requests[0]
		b.requests = b.requests[1:]
		b.mu.Unlock()

		// a cancelled awaiter loses, try the next one
		if f.resolve(outcome{request: req}) {
			dc.MarkHandled()
			return true
		}
	}
}

// dispatchGeneral runs the fan out: one shot receives, filters, persistent
// handlers and the catch all event, in this order
func (c *Connection) dispatchGeneral(dc *DispatchContext, payload any) {
	b := c.lookup(reflect.TypeOf(payload))

	var handlers []*handlerEntry
	if b != nil {
		b.mu.Lock()
		receives := b.receives
		b.receives = nil
		handlers = b.handlers
		b.mu.Unlock()

		for _, f := range receives {
			f.resolve(outcome{payload: payload})
		}
	}

	for _, e := range c.filters.snapshot() {
		if e.future.claimed.Load() {
			continue
		}
		matched := false
		if herr := safeCall("filter", func() error {
			matched = e.predicate(payload)
			return nil
		}); herr != nil {
			c.telemetry.incr(MetricLinkHandlerErrors, 1, LabelHandler.M("filter"))
			continue
		}
		if matched {
			c.filters.remove(e)
			e.future.resolve(outcome{payload: payload})
		}
	}

	for _, h := range handlers {
		if herr := safeCall("handler", func() error { return h.fn(dc, payload) }); herr != nil {
			c.telemetry.incr(MetricLinkHandlerErrors, 1, LabelHandler.M("handler"))
		}
	}

	c.onReceived.each("payload received handler", func(fn func(*DispatchContext, any)) {
		fn(dc, payload)
	})
}

// respond queues the response frame for request id
func (c *Connection) respond(id int32, payload any) error {
	h := &frame.TrackableHeader{
		ContentHeader: frame.ContentHeader{Flags: frame.FlagIsResponse},
		RequestID:     id,
	}
	_, err := c.enqueue(&sendItem{header: h, payload: payload})
	return err
}
