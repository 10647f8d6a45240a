package transport

import (
	"context"
	"net"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

// --------------------------------------------------------------------------
// Interface Definitions for dependency injection
// --------------------------------------------------------------------------

// IClientConnector establishes duplex byte streams to a remote endpoint
type IClientConnector interface {
	// Connect establishes a single connection to endpoint.
	// The returned connection is tuned according to the connector's configuration
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp", "quic")
	GetName() string
}

// IServerConnector creates listeners that yield duplex byte streams
type IServerConnector interface {
	// Listen creates a listener on endpoint. Accepted connections are tuned
	// according to the connector's configuration
	Listen(endpoint string) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp", "quic")
	GetName() string
}
