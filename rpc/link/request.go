package link

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/ValentinKolb/dMsg/lib/frame"
)

// SendRequest sends payload as trackable request and waits for the response
// payload. It fails with the teardown cause if the connection dies first, with a
// *CancellationError when ctx is done, and with ErrRequestTimeout (also a
// *CancellationError) when ctx has no deadline and the configured RequestTimeout
// passes. A response that arrives after cancellation is dropped
func (c *Connection) SendRequest(ctx context.Context, payload any) (any, error) {
	timedOut := false
	if _, ok := ctx.Deadline(); !ok && c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		timedOut = true
	}

	id := nextRequestID.Add(1)
	pr := &pendingRequest{requestID: id, createdAt: time.Now(), future: newFuture()}
	c.pending.Store(id, pr)

	h := &frame.TrackableHeader{
		ContentHeader: frame.ContentHeader{Flags: frame.FlagIsRequest},
		RequestID:     id,
	}
	sent, err := c.enqueue(&sendItem{header: h, payload: payload})
	if err != nil {
		c.pending.Delete(id)
		return nil, err
	}
	c.telemetry.incr(MetricLinkRequestCount, 1)

	for {
		select {
		case o := <-pr.future.ch:
			return o.payload, o.err
		case err := <-sent:
			sent = nil
			if err != nil {
				// the request never reached the wire
				if _, ok := c.pending.LoadAndDelete(id); ok && pr.future.claim() {
					return nil, err
				}
			}
		case <-ctx.Done():
			if _, ok := c.pending.LoadAndDelete(id); ok && pr.future.claim() {
				cerr := ctx.Err()
				if timedOut && errors.Is(cerr, context.DeadlineExceeded) {
					cerr = ErrRequestTimeout
				}
				Logger.Debugf("connection %d: request %d cancelled: %v", c.id, id, cerr)
				return nil, &CancellationError{Op: "request", Err: cerr}
			}
			// the response won the race
			o := <-pr.future.ch
			return o.payload, o.err
		}
	}
}

// Receive waits for the next content frame whose payload has type t
func (c *Connection) Receive(ctx context.Context, t reflect.Type) (any, error) {
	if t == nil {
		return nil, ErrNilCallback
	}
	b := c.bucket(t)
	f := newFuture()
	b.mu.Lock()
	b.receives = append(b.receives, f)
	b.mu.Unlock()

	o, err := c.wait(ctx, "receive", f, func() {
		b.mu.Lock()
		b.receives = removeFuture(b.receives, f)
		b.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	return o.payload, o.err
}

// ReceiveWhere waits for the first payload predicate matches. A predicate that
// returns false or panics keeps the subscription registered
func (c *Connection) ReceiveWhere(ctx context.Context, predicate func(payload any) bool) (any, error) {
	if predicate == nil {
		return nil, ErrNilCallback
	}
	e := &filterEntry{predicate: predicate, future: newFuture()}
	c.filters.add(e)

	o, err := c.wait(ctx, "filter", e.future, func() {
		c.filters.remove(e)
	})
	if err != nil {
		return nil, err
	}
	return o.payload, o.err
}

// ReceiveRequest waits for the next request whose payload has type t.
// Awaiters of one type are served in FIFO order and take precedence over handlers.
// The caller must answer through IncomingRequest.Respond
func (c *Connection) ReceiveRequest(ctx context.Context, t reflect.Type) (*IncomingRequest, error) {
	if t == nil {
		return nil, ErrNilCallback
	}
	b := c.bucket(t)
	f := newFuture()
	b.mu.Lock()
	b.requests = append(b.requests, f)
	b.mu.Unlock()

	o, err := c.wait(ctx, "receive request", f, func() {
		b.mu.Lock()
		b.requests = removeFuture(b.requests, f)
		b.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	return o.request, o.err
}

// On registers a persistent handler for payloads of type t and returns a function
// that removes it. Handlers run in registration order, a failing handler does
// not affect the others
func (c *Connection) On(t reflect.Type, fn Handler) (remove func()) {
	if t == nil || fn == nil {
		return func() {}
	}
	b := c.bucket(t)
	entry := &handlerEntry{fn: fn}

	b.mu.Lock()
	b.handlers = append(b.handlers[:len(b.handlers):len(b.handlers)], entry)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := make([]*handlerEntry, 0, len(b.handlers))
		for _, e := range b.handlers {
			if e != entry {
				handlers = append(handlers, e)
			}
		}
		b.handlers = handlers
	}
}

// OnPayloadReceived registers a catch all callback that sees every content and request frame
func (c *Connection) OnPayloadReceived(fn func(ctx *DispatchContext, payload any)) (remove func()) {
	return c.onReceived.add(fn)
}

// OnPayloadSent registers a callback that runs after each frame was written
func (c *Connection) OnPayloadSent(fn func(payload any)) (remove func()) {
	return c.onSent.add(fn)
}

// OnDisconnected registers a callback that runs once during teardown
func (c *Connection) OnDisconnected(fn func(conn *Connection, cause error)) (remove func()) {
	return c.onDisconnect.add(fn)
}

// --------------------------------------------------------------------------
// Generic helpers
// --------------------------------------------------------------------------

// On registers fn for payloads of type T
func On[T any](c *Connection, fn func(ctx *DispatchContext, payload T) error) (remove func()) {
	return c.On(typeOf[T](), func(ctx *DispatchContext, payload any) error {
		return fn(ctx, payload.(T))
	})
}

// ReceiveAs waits for the next payload of type T
func ReceiveAs[T any](ctx context.Context, c *Connection) (T, error) {
	var zero T
	v, err := c.Receive(ctx, typeOf[T]())
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// ReceiveRequestAs waits for the next request with a payload of type T
func ReceiveRequestAs[T any](ctx context.Context, c *Connection) (T, *IncomingRequest, error) {
	var zero T
	req, err := c.ReceiveRequest(ctx, typeOf[T]())
	if err != nil {
		return zero, nil, err
	}
	return req.Payload.(T), req, nil
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// wait blocks on a registered one shot future. cancel deregisters it when ctx
// wins the race. Registrations made after teardown fail immediately
func (c *Connection) wait(ctx context.Context, op string, f *future, cancel func()) (outcome, error) {
	if !c.connected.Load() && f.claim() {
		cancel()
		return outcome{}, c.closedErr()
	}

	select {
	case o := <-f.ch:
		return o, nil
	case <-ctx.Done():
		if f.claim() {
			cancel()
			return outcome{}, &CancellationError{Op: op, Err: ctx.Err()}
		}
		return <-f.ch, nil
	}
}

// closedErr returns the teardown cause once it is known
func (c *Connection) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrConnectionClosed
}
