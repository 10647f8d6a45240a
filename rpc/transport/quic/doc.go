// Package quic implements a QUIC transport for dMsg links on top of quic-go.
//
// Every link maps to its own QUIC connection carrying exactly one bidirectional
// stream, so the frame codec sees an ordinary duplex byte stream. QUIC brings its
// own TLS 1.3 handshake, links on this transport therefore use security mode "none".
//
// Key Components:
//
//   - clientConnector: Dials the endpoint, opens the stream and writes a one byte
//     preamble, since a QUIC peer only learns about a stream once data arrives on it.
//
//   - serverConnector / listener: Accepts connections in the background, waits for
//     the first stream and its preamble and hands out the stream through Accept.
//
//   - streamConn: Embeds quic.Stream and adds the connection addresses to satisfy
//     net.Conn. Closing it closes the stream and, after a short linger that lets
//     buffered data drain, the QUIC connection.
package quic
