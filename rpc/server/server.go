package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/link"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("server")

var (
	ErrServerClosed  = errors.New("server: closed")
	ErrNotListening  = errors.New("server: not listening")
	ErrAlreadyServed = errors.New("server: already serving")
)

// ConnectHandler is called for every accepted link after Initialize succeeded.
// It registers the handlers of the link and must not block
type ConnectHandler func(conn *link.Connection)

// Option configures a Server
type Option func(s *Server)

// WithLinkOptions adds options to every accepted link
func WithLinkOptions(opts ...link.Option) Option {
	return func(s *Server) {
		s.linkOpts = append(s.linkOpts, opts...)
	}
}

// WithConnectHandler sets the handler called for every new link
func WithConnectHandler(fn ConnectHandler) Option {
	return func(s *Server) {
		s.onConnect = fn
	}
}

// Server accepts links from a transport.IServerConnector. All links share one
// dispatch pool, sized by the number of open links
type Server struct {
	cfg       common.Config
	connector transport.IServerConnector
	linkOpts  []link.Option
	onConnect ConnectHandler

	pool     *link.DispatchPool
	security *transport.SecurityConfig

	mu       sync.Mutex
	listener net.Listener
	serving  atomic.Bool
	closed   atomic.Bool
	conns    *xsync.MapOf[int64, *link.Connection]
	wg       sync.WaitGroup
}

// NewServer creates a server for cfg. Nothing is opened before Listen or Serve
//
// Usage:
//
//	s := server.NewServer(cfg, tcp.NewServerConnector(cfg.Transport),
//		server.WithLinkOptions(link.WithSerializer(s)),
//		server.WithConnectHandler(func(c *link.Connection) { dispatcher.Attach(c) }),
//	)
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewServer(cfg common.Config, connector transport.IServerConnector, opts ...Option) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &Server{
		cfg:       cfg,
		connector: connector,
		conns:     xsync.NewMapOf[int64, *link.Connection](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen opens the listener and starts the dispatch pool. Serve calls it when needed
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrServerClosed
	}
	if s.listener != nil {
		return s.listener.Addr(), nil
	}

	// tls material is loaded once, the QUIC connector brings its own
	if mode := s.cfg.Transport.Security; mode != common.SecurityNone && mode != "" && s.connector.GetName() != "quic" {
		tlsCfg, err := transport.LoadTLSConfig(s.cfg.Transport, true)
		if err != nil {
			return nil, err
		}
		s.security = &transport.SecurityConfig{Mode: mode, TLS: tlsCfg, Server: true}
	}

	if s.cfg.Connection.Dispatch == common.DispatchPool {
		s.pool = link.NewDispatchPool(s.cfg.Pool)
		if err := s.pool.Initialize(); err != nil {
			return nil, fmt.Errorf("server: failed to start dispatch pool: %v", err)
		}
	}

	listener, err := s.connector.Listen(s.cfg.Transport.Endpoint)
	if err != nil {
		if s.pool != nil {
			s.pool.Close()
		}
		return nil, fmt.Errorf("server: failed to listen: %v", err)
	}
	s.listener = listener

	Logger.Infof("listening for %s links on %s", s.connector.GetName(), listener.Addr())
	return listener.Addr(), nil
}

// Serve accepts links until ctx is done or Close is called. It returns nil after
// a regular shutdown
func (s *Server) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServed
	}
	if _, err := s.Listen(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("accept error: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// Addr returns the address of the listener, nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Connections returns the number of open links
func (s *Server) Connections() int {
	return s.conns.Size()
}

// Pool returns the shared dispatch pool, nil for inline dispatch
func (s *Server) Pool() *link.DispatchPool {
	return s.pool
}

// Broadcast sends payload on every open link and returns the number of links it was queued on
func (s *Server) Broadcast(payload any) int {
	n := 0
	s.conns.Range(func(_ int64, c *link.Connection) bool {
		if err := c.Send(payload); err == nil {
			n++
		}
		return true
	})
	return n
}

// Close stops accepting, closes every link and the dispatch pool
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}

	// links still in their handshake are registered once it completes
	s.wg.Wait()
	s.conns.Range(func(_ int64, c *link.Connection) bool {
		_ = c.Close()
		return true
	})

	if s.pool != nil {
		s.pool.Close()
	}
	Logger.Infof("server stopped")
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection secures and starts one link. The handshake runs here so a
// slow peer never blocks the accept loop
func (s *Server) handleConnection(ctx context.Context, raw net.Conn) {
	opts := make([]link.Option, 0, len(s.linkOpts)+2)
	opts = append(opts, s.linkOpts...)
	if s.pool != nil {
		opts = append(opts, link.WithPool(s.pool))
	}
	if s.security != nil {
		opts = append(opts, link.WithSecurity(*s.security))
	}

	c := link.NewConnection(raw, s.cfg.Connection, opts...)

	hsCtx := ctx
	if s.cfg.Transport.DialTimeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, s.cfg.Transport.DialTimeout)
		defer cancel()
	}
	if err := c.Initialize(hsCtx); err != nil {
		Logger.Warningf("rejected link from %s: %v", raw.RemoteAddr(), err)
		_ = c.Close()
		return
	}

	s.conns.Store(c.ID(), c)
	c.OnDisconnected(func(conn *link.Connection, cause error) {
		s.conns.Delete(conn.ID())
		Logger.Debugf("link %d from %s closed: %v", conn.ID(), conn.RemoteAddr(), cause)
	})
	// the link may have died before the callback was registered
	if c.State() >= link.StateDisconnecting {
		s.conns.Delete(c.ID())
		return
	}
	if s.closed.Load() {
		_ = c.Close()
		return
	}

	Logger.Debugf("accepted link %d from %s", c.ID(), c.RemoteAddr())
	if s.onConnect != nil {
		s.onConnect(c)
	}
}
