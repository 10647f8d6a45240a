package link

import (
	"context"
)

// RawChunk is one raw data frame
type RawChunk struct {
	BufferID int32
	Sequence int32
	Data     []byte
}

// RawHandler processes raw chunks of one buffer id. A non nil return value is
// queued as outbound send: a RawChunk as raw frame, anything else as content frame
type RawHandler func(chunk RawChunk) any

// OnRaw registers handler for bufferID and returns a function that removes it
func (c *Connection) OnRaw(bufferID int32, handler RawHandler) (remove func()) {
	if handler == nil {
		return func() {}
	}
	b, _ := c.rawBuckets.LoadOrCompute(bufferID, func() *rawBucket { return &rawBucket{} })
	entry := &rawHandlerEntry{fn: handler}

	b.mu.Lock()
	b.handlers = append(b.handlers[:len(b.handlers):len(b.handlers)], entry)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := make([]*rawHandlerEntry, 0, len(b.handlers))
		for _, e := range b.handlers {
			if e != entry {
				handlers = append(handlers, e)
			}
		}
		b.handlers = handlers
	}
}

// ReceiveRaw waits for the next chunk of bufferID
func (c *Connection) ReceiveRaw(ctx context.Context, bufferID int32) (RawChunk, error) {
	b, _ := c.rawBuckets.LoadOrCompute(bufferID, func() *rawBucket { return &rawBucket{} })
	f := newFuture()
	b.mu.Lock()
	b.receives = append(b.receives, f)
	b.mu.Unlock()

	o, err := c.wait(ctx, "receive raw", f, func() {
		b.mu.Lock()
		b.receives = removeFuture(b.receives, f)
		b.mu.Unlock()
	})
	if err != nil {
		return RawChunk{}, err
	}
	return o.raw, o.err
}

// dispatchRaw delivers a chunk to all one shot receives and then to the handlers
func (c *Connection) dispatchRaw(chunk RawChunk) {
	b, ok := c.rawBuckets.Load(chunk.BufferID)
	if !ok {
		Logger.Debugf("connection %d: dropping raw chunk %d/%d without subscriber", c.id, chunk.BufferID, chunk.Sequence)
		return
	}

	b.mu.Lock()
	receives, handlers := b.receives, b.handlers
	b.receives = nil
	b.mu.Unlock()

	for _, f := range receives {
		f.resolve(outcome{raw: chunk})
	}

	for _, h := range handlers {
		var reply any
		if herr := safeCall("raw handler", func() error {
			reply = h.fn(chunk)
			return nil
		}); herr != nil {
			c.telemetry.incr(MetricLinkHandlerErrors, 1, LabelHandler.M("raw"))
			continue
		}
		if reply != nil {
			c.queueReply(reply)
		}
	}
}

// queueReply sends the continuation value returned by a raw handler
func (c *Connection) queueReply(reply any) {
	var err error
	switch v := reply.(type) {
	case RawChunk:
		err = c.SendRaw(v.BufferID, v.Sequence, v.Data, false)
	case *RawChunk:
		err = c.SendRaw(v.BufferID, v.Sequence, v.Data, false)
	default:
		err = c.Send(reply)
	}
	if err != nil {
		Logger.Debugf("connection %d: raw handler reply dropped: %v", c.id, err)
	}
}
