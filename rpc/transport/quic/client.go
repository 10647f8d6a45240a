package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	quicgo "github.com/quic-go/quic-go"
)

// clientConnector implements the IClientConnector interface for QUIC
type clientConnector struct {
	config common.TransportConfig
	tls    *tls.Config
}

// NewClientConnector creates a QUIC connector. QUIC is always encrypted, tlsConfig
// must at least trust the server certificate
func NewClientConnector(config common.TransportConfig, tlsConfig *tls.Config) transport.IClientConnector {
	return &clientConnector{config: config, tls: withALPN(tlsConfig)}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "quic"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	if c.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.DialTimeout)
		defer cancel()
	}

	conn, err := quicgo.DialAddr(ctx, endpoint, c.tls, quicConfig(c.config))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", endpoint, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "cannot open stream")
		return nil, fmt.Errorf("failed to open stream to %s: %v", endpoint, err)
	}

	// the peer only learns about the stream once data arrives on it
	if _, err := stream.Write([]byte{streamPreamble}); err != nil {
		_ = conn.CloseWithError(1, "cannot write preamble")
		return nil, fmt.Errorf("failed to write stream preamble to %s: %v", endpoint, err)
	}

	transport.Logger.Debugf("quic stream %d to %s opened", stream.StreamID(), conn.RemoteAddr())
	return &streamConn{Stream: stream, conn: conn}, nil
}
