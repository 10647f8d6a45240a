package quic

import (
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
)

// closeLinger is how long the QUIC connection stays open after its stream was
// closed, so that buffered stream data can still be delivered
const closeLinger = time.Second

// streamConn adapts one bidirectional QUIC stream to net.Conn.
// Every link owns its QUIC connection, closing the stream closes the connection
type streamConn struct {
	quicgo.Stream
	conn      quicgo.Connection
	closeOnce sync.Once
	closeErr  error
}

func (s *streamConn) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *streamConn) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close sends FIN on the stream, aborts pending local reads and tears down the
// connection after closeLinger or as soon as the peer closed it
func (s *streamConn) Close() error {
	s.closeOnce.Do(func() {
		s.Stream.CancelRead(0)
		s.closeErr = s.Stream.Close()
		go func() {
			select {
			case <-s.conn.Context().Done():
			case <-time.After(closeLinger):
			}
			_ = s.conn.CloseWithError(0, "link closed")
		}()
	})
	return s.closeErr
}
