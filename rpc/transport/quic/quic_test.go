package quic

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/dMsg/internal/testutil/tlstest"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/stretchr/testify/require"
)

func TestStreamRoundTrip(t *testing.T) {
	ca := tlstest.NewAuthority(t, "dmsg test ca")
	cfg := common.DefaultTransportConfig()

	ln, err := NewServerConnector(cfg, ca.ServerConfig(t)).Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
		close(accepted)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := NewClientConnector(cfg, ca.ClientConfig(t))
	require.Equal(t, "quic", client.GetName())
	conn, err := client.Connect(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var peer net.Conn
	select {
	case c, ok := <-accepted:
		require.True(t, ok)
		peer = c
	case <-ctx.Done():
		t.Fatal("stream was not accepted")
	}
	defer peer.Close()

	require.NotNil(t, peer.RemoteAddr())
	require.NotNil(t, conn.LocalAddr())

	// server speaks first: the preamble made the stream visible without client data
	_, err = peer.Write([]byte("welcome"))
	require.NoError(t, err)
	buf := make([]byte, 7)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "welcome", string(buf))

	_, err = conn.Write([]byte("thanks"))
	require.NoError(t, err)
	buf = make([]byte, 6)
	_, err = io.ReadFull(peer, buf)
	require.NoError(t, err)
	require.Equal(t, "thanks", string(buf))

	// closing one side ends the stream for the other
	require.NoError(t, conn.Close())
	_ = peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = peer.Read(buf)
	require.Error(t, err)
}

func TestAcceptAfterClose(t *testing.T) {
	ca := tlstest.NewAuthority(t, "dmsg test ca")
	ln, err := NewServerConnector(common.DefaultTransportConfig(), ca.ServerConfig(t)).Listen("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	_, err = ln.Accept()
	require.ErrorIs(t, err, net.ErrClosed)
}
