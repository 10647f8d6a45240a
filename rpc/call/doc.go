// Package call maps method names to multi content requests on a link.Connection.
//
// There is no code generation and no interface description. A call is one
// trackable request whose payload is
//
//	frame.Composite{Call{Method: "name"}, arg0, arg1, ...}
//
// and whose response is either Return (no result), Composite{Return, results...}
// or Fault. Arguments and results are encoded by the serializer of the
// connection, so both peers must register their types (and RegisterTypes) in
// the same TypeRegistry names.
//
// Client side:
//
//	sum, err := call.InvokeAs[int](ctx, conn, "add", 40, 2)
//
// Server side:
//
//	d := call.NewDispatcher()
//	d.Handle("add", call.Binary(func(ctx context.Context, a, b int) (int, error) {
//		return a + b, nil
//	}))
//	detach := d.Attach(conn)
//
// A Dispatcher can be attached to any number of connections. Methods run on the
// dispatch goroutine of the connection and receive its connection context, which
// is cancelled when the link closes. Unknown methods, returned errors and panics
// are answered with a Fault, the connection stays up. A peer without a
// Dispatcher answers with the empty automatic reply, which Invoke reports as
// ErrNotServed.
package call
