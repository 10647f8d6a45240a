package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/ValentinKolb/dMsg/rpc/common"
)

var (
	ErrMissingTLSConfig = errors.New("transport: security mode requires a tls config")
	ErrAuthOnlyRejected = errors.New("transport: peer did not acknowledge auth-only handshake")
	ErrUnknownSecurity  = errors.New("transport: unknown security mode")
)

// authOnlyAck is written in plaintext by the server after an auth-only handshake.
// The client does not write before it has read the byte, so no plaintext can be
// buffered inside the server's TLS state
const authOnlyAck byte = 0x01

// defaultHandshakeTimeout applies when the context has no deadline
const defaultHandshakeTimeout = 10 * time.Second

// SecurityConfig selects how Secure treats a connection
type SecurityConfig struct {
	Mode common.SecurityMode
	// TLS is required for SecurityTLS and SecurityAuthOnly
	TLS *tls.Config
	// Server selects the server side of the handshake
	Server bool
}

// Secure negotiates the security mode on conn and returns the connection to frame on.
//
//   - SecurityNone returns conn unchanged
//   - SecurityTLS returns the TLS connection after a completed handshake
//   - SecurityAuthOnly performs a TLS 1.3 handshake to authenticate the peer and
//     returns the raw conn afterwards, all frames are exchanged in plaintext
//
// A failed negotiation is final, conn is closed and the error returned
func Secure(ctx context.Context, conn net.Conn, cfg SecurityConfig) (net.Conn, error) {
	switch cfg.Mode {
	case common.SecurityNone, "":
		return conn, nil
	case common.SecurityTLS, common.SecurityAuthOnly:
	default:
		return nil, fmt.Errorf("%q: %w", cfg.Mode, ErrUnknownSecurity)
	}
	if cfg.TLS == nil {
		_ = conn.Close()
		return nil, ErrMissingTLSConfig
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultHandshakeTimeout)
		defer cancel()
	}

	tlsCfg := cfg.TLS.Clone()
	if cfg.Mode == common.SecurityAuthOnly {
		// TLS 1.3 without tickets finishes the handshake without trailing records
		tlsCfg.MinVersion = tls.VersionTLS13
		tlsCfg.SessionTicketsDisabled = true
	}

	var tlsConn *tls.Conn
	if cfg.Server {
		tlsConn = tls.Server(conn, tlsCfg)
	} else {
		tlsConn = tls.Client(conn, tlsCfg)
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: tls handshake with %s failed: %w", conn.RemoteAddr(), err)
	}

	state := tlsConn.ConnectionState()
	Logger.Debugf("tls handshake with %s done (mode %s, version %x, %d peer certificates)",
		conn.RemoteAddr(), cfg.Mode, state.Version, len(state.PeerCertificates))

	if cfg.Mode == common.SecurityTLS {
		return tlsConn, nil
	}

	if err := acknowledgeAuthOnly(ctx, conn, cfg.Server); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// acknowledgeAuthOnly synchronizes the switch from TLS to plaintext
func acknowledgeAuthOnly(ctx context.Context, conn net.Conn, server bool) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if server {
		if _, err := conn.Write([]byte{authOnlyAck}); err != nil {
			return fmt.Errorf("transport: auth-only acknowledgement: %w", err)
		}
		return nil
	}

	var ack [1]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		return fmt.Errorf("transport: auth-only acknowledgement: %w", err)
	}
	if ack[0] != authOnlyAck {
		return ErrAuthOnlyRejected
	}
	return nil
}

// LoadTLSConfig builds a tls.Config from the certificate files of cfg.
// The CA file, when set, is used to verify the peer: as RootCAs for clients and as
// ClientCAs with mandatory client certificates for servers
func LoadTLSConfig(cfg common.TransportConfig, server bool) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("transport: failed to load key pair: %v", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else if server {
		return nil, fmt.Errorf("transport: server needs cert_file and key_file")
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("transport: failed to read ca file: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("transport: no certificates found in %s", cfg.CAFile)
		}
		if server {
			tlsCfg.ClientCAs = pool
			tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			tlsCfg.RootCAs = pool
		}
	}
	return tlsCfg, nil
}
