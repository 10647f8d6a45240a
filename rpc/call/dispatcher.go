package call

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ValentinKolb/dMsg/lib/frame"
	"github.com/ValentinKolb/dMsg/rpc/link"
	"github.com/puzpuzpuz/xsync/v3"
)

// Method serves one call. args are the decoded arguments in call order.
// A non nil error is sent back as Fault
type Method func(ctx context.Context, args []any) (any, error)

type connectionKey struct{}

// ConnectionFrom returns the link a method is served on, nil outside of a method
func ConnectionFrom(ctx context.Context) *link.Connection {
	c, _ := ctx.Value(connectionKey{}).(*link.Connection)
	return c
}

// Dispatcher maps method names to Methods and serves them on attached connections
type Dispatcher struct {
	methods *xsync.MapOf[string, Method]
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{methods: xsync.NewMapOf[string, Method]()}
}

// Handle registers fn for method, replacing a previous registration
func (d *Dispatcher) Handle(method string, fn Method) {
	d.methods.Store(method, fn)
}

// Remove deregisters method
func (d *Dispatcher) Remove(method string) {
	d.methods.Delete(method)
}

// Methods returns the number of registered methods
func (d *Dispatcher) Methods() int {
	return d.methods.Size()
}

// Attach serves calls arriving on conn and returns a function that stops it.
// Methods run on the dispatch goroutine of conn, with its connection context
func (d *Dispatcher) Attach(conn *link.Connection) (detach func()) {
	// a call without arguments arrives as a single Call payload
	removeSingle := conn.On(reflect.TypeOf(Call{}), d.serve)
	removeMulti := conn.On(reflect.TypeOf(frame.Composite{}), d.serve)
	return func() {
		removeSingle()
		removeMulti()
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (d *Dispatcher) serve(dc *link.DispatchContext, payload any) error {
	if !dc.IsRequest() {
		return nil
	}

	var head Call
	var args []any
	switch v := payload.(type) {
	case Call:
		head = v
	case frame.Composite:
		if len(v) == 0 {
			return nil
		}
		c, ok := v[0].(Call)
		if !ok {
			// some other multi content request
			return nil
		}
		head, args = c, v[1:]
	default:
		return nil
	}

	fn, ok := d.methods.Load(head.Method)
	if !ok {
		Logger.Debugf("unknown method %q requested by connection %d", head.Method, dc.Connection.ID())
		return dc.Respond(Fault{Method: head.Method, Message: "unknown method"})
	}

	ctx := context.WithValue(dc.Connection.Context(), connectionKey{}, dc.Connection)
	result, err := invoke(ctx, fn, args)
	if err != nil {
		Logger.Debugf("method %q failed: %v", head.Method, err)
		return dc.Respond(Fault{Method: head.Method, Message: err.Error()})
	}
	return dc.Respond(returnValue(head.Method, result))
}

// invoke runs fn and turns a panic into an error
func invoke(ctx context.Context, fn Method, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, args)
}

// returnValue builds the response payload for result
func returnValue(method string, result any) any {
	head := Return{Method: method}
	switch v := result.(type) {
	case nil:
		return head
	case frame.Composite:
		out := make(frame.Composite, 0, len(v)+1)
		out = append(out, head)
		return append(out, v...)
	default:
		return frame.Composite{head, result}
	}
}
