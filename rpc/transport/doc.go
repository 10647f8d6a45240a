// Package transport defines how dMsg obtains the duplex byte streams a link runs
// on, and how a stream is secured before the first frame.
//
// The package focuses on:
//   - Connector contracts that hide the socket type from the link layer
//   - Socket tuning at connect and accept time
//   - The three security modes of a link
//
// Key Components:
//
//   - IClientConnector: Dials an endpoint and returns a tuned net.Conn.
//
//   - IServerConnector: Returns a net.Listener whose accepted connections are tuned.
//
//   - Secure: Negotiates a common.SecurityMode on a fresh connection:
//
//     none       the stream is used as is
//     tls        the link runs over a TLS connection
//     auth-only  a TLS 1.3 handshake authenticates both peers, the server
//     confirms with a one byte ack, then frames flow in plaintext
//     over the original stream
//
//   - LoadTLSConfig: Builds a tls.Config from the certificate files of a
//     common.TransportConfig.
//
// Implementations live in the subpackages tcp, unix and quic.
package transport
