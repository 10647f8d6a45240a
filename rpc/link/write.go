package link

import (
	"context"

	"github.com/ValentinKolb/dMsg/lib/frame"
)

// sendItem is one queued outbound frame and its completion handle
type sendItem struct {
	header  frame.Header
	payload any
	raw     []byte
	done    chan error // buffered, receives exactly one result
}

func (s *sendItem) complete(err error) {
	s.done <- err
}

// Send queues payload as content frame. It returns once the frame is queued,
// failures of the later write are only logged. After teardown Send fails
// synchronously with ErrConnectionClosed
func (c *Connection) Send(payload any) error {
	_, err := c.enqueue(&sendItem{header: &frame.ContentHeader{}, payload: payload})
	return err
}

// SendWait queues payload and waits until it was written to the transport
func (c *Connection) SendWait(ctx context.Context, payload any) error {
	done, err := c.enqueue(&sendItem{header: &frame.ContentHeader{}, payload: payload})
	if err != nil {
		return err
	}
	return c.await(ctx, "send", done)
}

// SendRaw queues data as raw frame of bufferID. data must not change until the
// frame is flushed. With dispose set, data is handed back to the buffer pool of the
// connection after the flush, it must come from AcquireRawBuffer
func (c *Connection) SendRaw(bufferID, sequence int32, data []byte, dispose bool) error {
	_, err := c.enqueue(&sendItem{
		header: &frame.RawDataHeader{BufferID: bufferID, Sequence: sequence, DisposeAfterSend: dispose},
		raw:    data,
	})
	return err
}

// AcquireRawBuffer returns an empty buffer with at least size bytes of capacity.
// Pass it to SendRaw with dispose set to return it after the flush
func (c *Connection) AcquireRawBuffer(size int) []byte {
	bp := c.rawBuffers.Get().(*[]byte)
	if cap(*bp) < size {
		c.rawBuffers.Put(bp)
		return make([]byte, 0, size)
	}
	return (*bp)[:0]
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// enqueue appends item to the send FIFO and wakes the write loop
func (c *Connection) enqueue(item *sendItem) (<-chan error, error) {
	if c.State() < StateConnected {
		return nil, ErrNotConnected
	}
	item.done = make(chan error, 1)

	c.sendMu.Lock()
	if c.sendClosed || !c.connected.Load() {
		c.sendMu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.sendQueue.Add(item)
	c.sendMu.Unlock()

	select {
	case c.sendSignal <- struct{}{}:
	default:
	}
	return item.done, nil
}

// await waits for a completion handle or ctx
func (c *Connection) await(ctx context.Context, op string, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &CancellationError{Op: op, Err: ctx.Err()}
	}
}

// nextSend blocks until an item is queued, false once the connection stops
func (c *Connection) nextSend() (*sendItem, bool) {
	for {
		c.sendMu.Lock()
		if c.sendQueue.Length() > 0 {
			item := c.sendQueue.Remove().(*sendItem)
			c.sendMu.Unlock()
			return item, true
		}
		c.sendMu.Unlock()

		select {
		case <-c.sendSignal:
		case <-c.stop:
			return nil, false
		}
	}
}

// writeLoop flushes queued frames in FIFO order, it is the only writer of the transport
func (c *Connection) writeLoop() {
	for {
		item, ok := c.nextSend()
		if !ok {
			return
		}
		if !c.write(item) {
			return
		}
	}
}

// write drives the encoder until item is flushed. It returns false after a fatal transport error
func (c *Connection) write(item *sendItem) bool {
	var err error
	raw, isRaw := item.header.(*frame.RawDataHeader)
	if isRaw {
		err = c.encoder.PrepareRaw(raw, item.raw)
	} else {
		err = c.encoder.Prepare(item.header, item.payload)
	}
	if err != nil {
		// a frame that cannot be encoded fails alone
		Logger.Warningf("connection %d: failed to encode %s frame: %v", c.id, item.header.Kind(), err)
		c.telemetry.incr(MetricLinkSendErrorCount, 1, LabelError.M("encode"))
		item.complete(err)
		return true
	}

	size := c.encoder.Len()
	for {
		chunk := c.encoder.FillSendBuffer(c.cfg.SendBufferSize)
		n, werr := c.conn.Write(chunk)
		if werr != nil {
			c.encoder.Clear()
			terr := &TransportError{Op: "write", Err: werr}
			item.complete(terr)
			c.HandleRemoteDisconnect(terr)
			return false
		}
		if c.encoder.OnSendCompleted(n) {
			break
		}
	}
	c.encoder.Clear()
	c.touch()

	kind := LabelPacketType.M(item.header.Kind().String())
	c.telemetry.incr(MetricLinkFramesOut, 1, kind)
	c.telemetry.incr(MetricLinkBytesOut, float32(size))

	item.complete(nil)

	sent := item.payload
	if isRaw {
		sent = RawChunk{BufferID: raw.BufferID, Sequence: raw.Sequence, Data: item.raw}
	}
	c.onSent.each("payload sent handler", func(fn func(any)) {
		fn(sent)
	})

	if isRaw && raw.DisposeAfterSend {
		b := item.raw[:0]
		c.rawBuffers.Put(&b)
	}
	return true
}

// closeSendQueue makes every later enqueue fail with ErrConnectionClosed
func (c *Connection) closeSendQueue() {
	c.sendMu.Lock()
	c.sendClosed = true
	c.sendMu.Unlock()
}

// failQueuedSends fails every unsent item of the closed send FIFO
func (c *Connection) failQueuedSends(cause error) int {
	c.sendMu.Lock()
	items := make([]*sendItem, 0, c.sendQueue.Length())
	for c.sendQueue.Length() > 0 {
		items = append(items, c.sendQueue.Remove().(*sendItem))
	}
	c.sendMu.Unlock()

	for _, item := range items {
		item.complete(cause)
	}
	return len(items)
}
