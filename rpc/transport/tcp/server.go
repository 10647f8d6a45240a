package tcp

import (
	"fmt"
	"net"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/transport"
)

// serverConnector implements the IServerConnector interface for TCP sockets
type serverConnector struct {
	config common.TransportConfig
}

// NewServerConnector creates a TCP connector whose listeners tune every accepted connection with config
func NewServerConnector(config common.TransportConfig) transport.IServerConnector {
	return &serverConnector{config: config}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(endpoint string) (net.Listener, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %v", err)
	}
	return &tunedListener{Listener: listener, config: c.config}, nil
}

// tunedListener applies UpgradeConnection to every accepted connection
type tunedListener struct {
	net.Listener
	config common.TransportConfig
}

func (l *tunedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if err := UpgradeConnection(conn, l.config); err != nil {
		transport.Logger.Warningf("failed to tune connection from %s: %v", conn.RemoteAddr(), err)
	}
	return conn, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// UpgradeConnection applies the socket options of config to a TCP connection.
// Connections of other types are returned untouched
func UpgradeConnection(conn net.Conn, config common.TransportConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	// Disable Nagle's algorithm if configured
	if err := tcpConn.SetNoDelay(config.TCPNoDelay); err != nil {
		return err
	}

	if config.SocketWriteBuffer > 0 {
		if err := tcpConn.SetWriteBuffer(config.SocketWriteBuffer); err != nil {
			return err
		}
	}

	if config.SocketReadBuffer > 0 {
		if err := tcpConn.SetReadBuffer(config.SocketReadBuffer); err != nil {
			return err
		}
	}

	if config.TCPKeepAlive > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(config.TCPKeepAlive); err != nil {
			return err
		}
	}

	// negative values keep the OS default
	if config.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(config.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}
