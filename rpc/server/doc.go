// Package server accepts dMsg links.
//
// A Server listens through a transport.IServerConnector (tcp, unix, quic),
// negotiates the configured security mode on every accepted stream and turns it
// into a link.Connection. With DispatchPool all links share one adaptive
// dispatch pool: each link registers as a pool client, so the pool grows and
// shrinks with the number of open links.
//
// The ConnectHandler registers the handlers of a new link, for example a
// call.Dispatcher:
//
//	d := call.NewDispatcher()
//	d.Handle("echo", call.Unary(func(_ context.Context, s string) (string, error) {
//		return s, nil
//	}))
//
//	s := server.NewServer(cfg, tcp.NewServerConnector(cfg.Transport),
//		server.WithLinkOptions(link.WithSerializer(ser)),
//		server.WithConnectHandler(func(c *link.Connection) { d.Attach(c) }),
//	)
//	if err := s.Serve(ctx); err != nil {
//		log.Fatalf("server error: %v", err)
//	}
//
// Serve returns when ctx is done or Close was called. Close stops accepting,
// closes every open link and then the pool.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Serve may run only once.
package server
