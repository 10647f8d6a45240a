package tcp

import (
	"context"
	"fmt"
	"net"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/transport"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct {
	config common.TransportConfig
}

// NewClientConnector creates a TCP connector that tunes every dialed connection with config
func NewClientConnector(config common.TransportConfig) transport.IClientConnector {
	return &clientConnector{config: config}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", endpoint, err)
	}
	if err := UpgradeConnection(conn, c.config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to tune connection to %s: %v", endpoint, err)
	}
	return conn, nil
}
