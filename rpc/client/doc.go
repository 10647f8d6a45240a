// Package client opens links to a dMsg server.
//
// Dial connects through any transport.IClientConnector, negotiates the security
// mode of the transport configuration and returns a started link.Connection:
//
//	cfg := common.DefaultConfig()
//	cfg.Transport.Endpoint = "localhost:8080"
//
//	conn, err := client.Dial(ctx, tcp.NewClientConnector(cfg.Transport), cfg,
//		link.WithSerializer(s))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	resp, err := conn.SendRequest(ctx, payload)
//
// A link is never reconnected. When it dies, Dial again.
//
// With DispatchPool and no link.WithPool option every dialed link owns a
// private single worker pool. Processes with many links should share one
// link.NewDispatchPool between them.
package client
