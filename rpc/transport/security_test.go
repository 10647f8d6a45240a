package transport_test

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/dMsg/internal/testutil/tlstest"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	"github.com/stretchr/testify/require"
)

type secureResult struct {
	conn net.Conn
	err  error
}

// securePair connects two loopback sockets and secures both ends concurrently
func securePair(t *testing.T, server, client transport.SecurityConfig) (secureResult, secureResult) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	serverCh := make(chan secureResult, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverCh <- secureResult{err: err}
			return
		}
		secured, err := transport.Secure(ctx, conn, server)
		serverCh <- secureResult{conn: secured, err: err}
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	secured, err := transport.Secure(ctx, raw, client)
	clientRes := secureResult{conn: secured, err: err}
	serverRes := <-serverCh

	for _, r := range []secureResult{clientRes, serverRes} {
		if r.conn != nil {
			c := r.conn
			t.Cleanup(func() { _ = c.Close() })
		}
	}
	return serverRes, clientRes
}

// exchange writes ping from a to b and pong back
func exchange(t *testing.T, a, b net.Conn) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 4)
		if _, err := io.ReadFull(b, buf); err != nil {
			done <- err
			return
		}
		_, err := b.Write([]byte("pong"))
		done <- err
	}()

	_, err := a.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(a, buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf))
	require.NoError(t, <-done)
}

func TestSecureNone(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	got, err := transport.Secure(context.Background(), a, transport.SecurityConfig{Mode: common.SecurityNone})
	require.NoError(t, err)
	require.Same(t, a, got)
}

func TestSecureTLS(t *testing.T) {
	ca := tlstest.NewAuthority(t, "dmsg test ca")

	server, client := securePair(t,
		transport.SecurityConfig{Mode: common.SecurityTLS, TLS: ca.ServerConfig(t), Server: true},
		transport.SecurityConfig{Mode: common.SecurityTLS, TLS: ca.ClientConfig(t)},
	)
	require.NoError(t, server.err)
	require.NoError(t, client.err)

	_, ok := client.conn.(*tls.Conn)
	require.True(t, ok, "full tls mode must return a tls connection")

	exchange(t, client.conn, server.conn)
	exchange(t, server.conn, client.conn)
}

func TestSecureAuthOnly(t *testing.T) {
	ca := tlstest.NewAuthority(t, "dmsg test ca")

	server, client := securePair(t,
		transport.SecurityConfig{Mode: common.SecurityAuthOnly, TLS: ca.ServerConfig(t), Server: true},
		transport.SecurityConfig{Mode: common.SecurityAuthOnly, TLS: ca.ClientConfig(t)},
	)
	require.NoError(t, server.err)
	require.NoError(t, client.err)

	_, ok := client.conn.(*net.TCPConn)
	require.True(t, ok, "auth-only mode must continue on the raw connection")

	exchange(t, client.conn, server.conn)
	exchange(t, server.conn, client.conn)
}

func TestSecureRejectsUntrustedPeer(t *testing.T) {
	ca := tlstest.NewAuthority(t, "dmsg test ca")
	other := tlstest.NewAuthority(t, "other ca")

	server, client := securePair(t,
		transport.SecurityConfig{Mode: common.SecurityTLS, TLS: ca.ServerConfig(t), Server: true},
		transport.SecurityConfig{Mode: common.SecurityTLS, TLS: other.ClientConfig(t)},
	)
	require.Error(t, client.err)
	require.Error(t, server.err)
}

func TestSecureConfigErrors(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	_, err := transport.Secure(context.Background(), a, transport.SecurityConfig{Mode: common.SecurityTLS})
	require.ErrorIs(t, err, transport.ErrMissingTLSConfig)

	_, err = transport.Secure(context.Background(), a, transport.SecurityConfig{Mode: "bogus"})
	require.ErrorIs(t, err, transport.ErrUnknownSecurity)
}

func TestLoadTLSConfig(t *testing.T) {
	ca := tlstest.NewAuthority(t, "dmsg test ca")
	caFile, certFile, keyFile := ca.WriteFiles(t, t.TempDir())

	cfg := common.DefaultTransportConfig()
	cfg.CAFile, cfg.CertFile, cfg.KeyFile = caFile, certFile, keyFile

	serverCfg, err := transport.LoadTLSConfig(cfg, true)
	require.NoError(t, err)
	require.Len(t, serverCfg.Certificates, 1)
	require.Equal(t, tls.RequireAndVerifyClientCert, serverCfg.ClientAuth)
	require.NotNil(t, serverCfg.ClientCAs)

	clientCfg, err := transport.LoadTLSConfig(common.TransportConfig{CAFile: caFile, ServerName: "localhost"}, false)
	require.NoError(t, err)
	require.NotNil(t, clientCfg.RootCAs)
	require.Empty(t, clientCfg.Certificates)

	_, err = transport.LoadTLSConfig(common.TransportConfig{}, true)
	require.Error(t, err, "server without key pair")

	_, err = transport.LoadTLSConfig(common.TransportConfig{CAFile: certFile + ".missing"}, false)
	require.Error(t, err)
}
