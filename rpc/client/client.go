package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/link"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("client")

// Dial connects to cfg.Transport.Endpoint through connector and returns an
// initialized link. The security mode of cfg.Transport is negotiated before the
// link is returned, opts are applied after the ones Dial derives from cfg
func Dial(ctx context.Context, connector transport.IClientConnector, cfg common.Config, opts ...link.Option) (*link.Connection, error) {
	return DialEndpoint(ctx, connector, cfg.Transport.Endpoint, cfg, opts...)
}

// DialEndpoint is Dial with an explicit endpoint
func DialEndpoint(ctx context.Context, connector transport.IClientConnector, endpoint string, cfg common.Config, opts ...link.Option) (*link.Connection, error) {
	all := make([]link.Option, 0, len(opts)+1)

	// the QUIC connector secures the stream itself
	if mode := cfg.Transport.Security; mode != common.SecurityNone && mode != "" && connector.GetName() != "quic" {
		tlsCfg, err := transport.LoadTLSConfig(cfg.Transport, false)
		if err != nil {
			return nil, err
		}
		all = append(all, link.WithSecurity(transport.SecurityConfig{Mode: mode, TLS: tlsCfg}))
	}
	all = append(all, opts...)

	raw, err := connector.Connect(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	c := link.NewConnection(raw, cfg.Connection, all...)
	if err := c.Initialize(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("client: failed to initialize link to %s: %w", endpoint, err)
	}

	Logger.Debugf("link %d to %s (%s) established", c.ID(), endpoint, connector.GetName())
	return c, nil
}
