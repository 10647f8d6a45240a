package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	quicgo "github.com/quic-go/quic-go"
)

const (
	// ALPN is the application protocol negotiated on every dMsg QUIC connection
	ALPN = "dmsg/1"

	// streamPreamble is the first byte the dialer writes on its stream
	streamPreamble byte = 0xD1

	preambleTimeout = 5 * time.Second
)

var ErrBadPreamble = errors.New("transport: quic stream preamble mismatch")

// serverConnector implements the IServerConnector interface for QUIC
type serverConnector struct {
	config common.TransportConfig
	tls    *tls.Config
}

// NewServerConnector creates a QUIC connector, tlsConfig must carry the server certificate
func NewServerConnector(config common.TransportConfig, tlsConfig *tls.Config) transport.IServerConnector {
	return &serverConnector{config: config, tls: withALPN(tlsConfig)}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "quic"
}

func (c *serverConnector) Listen(endpoint string) (net.Listener, error) {
	ln, err := quicgo.ListenAddr(endpoint, c.tls, quicConfig(c.config))
	if err != nil {
		return nil, fmt.Errorf("failed to create QUIC listener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &listener{
		ln:     ln,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(chan net.Conn),
	}
	go l.acceptLoop()
	return l, nil
}

// --------------------------------------------------------------------------
// Listener
// --------------------------------------------------------------------------

// listener turns accepted QUIC connections into one stream connection each
type listener struct {
	ln     *quicgo.Listener
	ctx    context.Context
	cancel context.CancelFunc
	conns  chan net.Conn
}

func (l *listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *listener) Close() error {
	l.cancel()
	return l.ln.Close()
}

func (l *listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil {
				transport.Logger.Errorf("quic listener stopped: %v", err)
				l.cancel()
			}
			return
		}
		go l.acceptStream(conn)
	}
}

// acceptStream waits for the dialer's stream and validates its preamble
func (l *listener) acceptStream(conn quicgo.Connection) {
	ctx, cancel := context.WithTimeout(l.ctx, preambleTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		transport.Logger.Warningf("no stream from %s: %v", conn.RemoteAddr(), err)
		_ = conn.CloseWithError(1, "no stream")
		return
	}

	_ = stream.SetReadDeadline(time.Now().Add(preambleTimeout))
	var preamble [1]byte
	if _, err := io.ReadFull(stream, preamble[:]); err != nil || preamble[0] != streamPreamble {
		transport.Logger.Warningf("rejecting stream from %s: %v", conn.RemoteAddr(), errors.Join(ErrBadPreamble, err))
		_ = conn.CloseWithError(1, "bad preamble")
		return
	}
	_ = stream.SetReadDeadline(time.Time{})

	select {
	case l.conns <- &streamConn{Stream: stream, conn: conn}:
	case <-l.ctx.Done():
		_ = conn.CloseWithError(0, "listener closed")
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func withALPN(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	cfg.NextProtos = []string{ALPN}
	if cfg.MinVersion < tls.VersionTLS13 {
		cfg.MinVersion = tls.VersionTLS13
	}
	return cfg
}

func quicConfig(cfg common.TransportConfig) *quicgo.Config {
	return &quicgo.Config{
		HandshakeIdleTimeout: cfg.DialTimeout,
		KeepAlivePeriod:      cfg.TCPKeepAlive,
	}
}
