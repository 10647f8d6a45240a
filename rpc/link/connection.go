package link

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMsg/lib/frame"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/serializer"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	"github.com/eapache/queue"
	"github.com/hashicorp/go-metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("link")

// State is the lifecycle state of a Connection
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateConnected
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateInitialized:
		return "Initialized"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// process wide id generators, wraparound after 2^31 ids is accepted
var (
	nextConnectionID atomic.Int64
	nextRequestID    atomic.Int32
	nextRawBufferID  atomic.Int32
)

// NewRawBufferID returns a process wide unique buffer id for the raw channel
func NewRawBufferID() int32 {
	return nextRawBufferID.Add(1)
}

// Connection is one peer to peer link over a duplex byte stream.
// It owns one read loop, one write loop, one encoder and one decoder.
// A Connection is single use: once closed it cannot be initialized again
type Connection struct {
	id       int64
	connMu   sync.Mutex
	conn     net.Conn
	cfg      common.ConnectionConfig
	security *transport.SecurityConfig

	serializer serializer.ISerializer
	encoder    *frame.Encoder
	decoder    *frame.Decoder

	pool       *DispatchPool
	ownsPool   bool
	registered atomic.Bool

	sink      metrics.MetricSink
	labels    []metrics.Label
	telemetry telemetry

	state atomic.Int32
	// connected is true from creation until teardown and is the only teardown guard
	connected    atomic.Bool
	lastActivity atomic.Int64
	// settled is closed once every future has failed, before the disconnect callbacks run
	settled      chan struct{}
	done         chan struct{}
	cause        error
	ctx          context.Context
	cancel       context.CancelCauseFunc

	// write path
	sendMu     sync.Mutex
	sendQueue  *queue.Queue
	sendClosed bool
	sendSignal chan struct{}
	stop       chan struct{}

	// correlation and subscriptions
	pending      *xsync.MapOf[int32, *pendingRequest]
	buckets      *xsync.MapOf[typeKey, *typeBucket]
	filters      filterSet
	rawBuckets   *xsync.MapOf[int32, *rawBucket]
	onReceived   eventSet[func(*DispatchContext, any)]
	onSent       eventSet[func(any)]
	onDisconnect eventSet[func(*Connection, error)]

	rawBuffers sync.Pool
}

// NewConnection wraps conn. Nothing is read or written before Initialize
func NewConnection(conn net.Conn, cfg common.ConnectionConfig, opts ...Option) *Connection {
	c := &Connection{
		id:         nextConnectionID.Add(1),
		conn:       conn,
		cfg:        cfg,
		settled:    make(chan struct{}),
		done:       make(chan struct{}),
		sendQueue:  queue.New(),
		sendSignal: make(chan struct{}, 1),
		stop:       make(chan struct{}),
		pending:    xsync.NewMapOf[int32, *pendingRequest](),
		buckets:    xsync.NewMapOf[typeKey, *typeBucket](),
		rawBuckets: xsync.NewMapOf[int32, *rawBucket](),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.serializer == nil {
		c.serializer = serializer.NewJSONSerializer(serializer.NewTypeRegistry())
	}
	if c.sink == nil {
		c.sink = metrics.Default()
	}
	if c.cfg.SendBufferSize <= 0 {
		c.cfg.SendBufferSize = common.DefaultConnectionConfig().SendBufferSize
	}
	if c.cfg.ReadBufferSize <= 0 {
		c.cfg.ReadBufferSize = common.DefaultConnectionConfig().ReadBufferSize
	}

	c.telemetry = newTelemetry(c.sink, c.id, c.labels)
	c.encoder = frame.NewEncoder(c.serializer)
	c.decoder = frame.NewDecoder(c.serializer, c.cfg.MaxContentLength, c.route, c.routeRaw)
	c.rawBuffers.New = func() any {
		b := make([]byte, 0, c.cfg.SendBufferSize)
		return &b
	}
	c.ctx, c.cancel = context.WithCancelCause(context.Background())
	c.connected.Store(true)
	c.touch()
	return c
}

// Initialize negotiates the configured security mode, starts the read and write
// loop and registers the connection with its dispatch pool.
// A failed negotiation closes the connection
func (c *Connection) Initialize(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateInitialized)) {
		if c.State() == StateClosed {
			return ErrConnectionClosed
		}
		return ErrAlreadyInitialized
	}

	if c.security != nil {
		secured, err := transport.Secure(ctx, c.netConn(), *c.security)
		if err != nil {
			c.HandleRemoteDisconnect(err)
			return err
		}
		c.connMu.Lock()
		if !c.connected.Load() {
			c.connMu.Unlock()
			_ = secured.Close()
			return ErrConnectionClosed
		}
		c.conn = secured
		c.connMu.Unlock()
	}

	if c.cfg.Dispatch == common.DispatchInline {
		c.pool = nil
	} else if c.pool == nil {
		cfg := common.DefaultPoolConfig()
		cfg.MinThreads, cfg.MaxThreads = 1, 1
		p := NewDispatchPool(cfg)
		if err := p.Initialize(); err != nil {
			c.HandleRemoteDisconnect(err)
			return err
		}
		c.pool, c.ownsPool = p, true
	}
	if c.pool != nil {
		c.pool.NewClient()
		c.registered.Store(true)
	}

	if !c.state.CompareAndSwap(int32(StateInitialized), int32(StateConnected)) || !c.connected.Load() {
		// closed while the handshake was running
		c.HandleRemoteDisconnect(ErrConnectionClosed)
		c.releasePool()
		return ErrConnectionClosed
	}

	go c.readLoop()
	go c.writeLoop()

	Logger.Infof("connection %d to %s established (dispatch %s)", c.id, c.RemoteAddr(), c.cfg.Dispatch)
	return nil
}

// HandleRemoteDisconnect tears the connection down with cause. It is the single
// exit point for EOF, I/O errors, protocol errors and Close, only the first call has
// an effect. Every outstanding future fails with cause
func (c *Connection) HandleRemoteDisconnect(cause error) {
	c.teardown(cause)
}

// teardown runs the disconnect sequence and reports whether this call ran it
func (c *Connection) teardown(cause error) bool {
	if !c.connected.CompareAndSwap(true, false) {
		return false
	}
	if cause == nil {
		cause = ErrConnectionClosed
	}
	c.state.Store(int32(StateDisconnecting))
	c.closeSendQueue()
	c.cause = cause
	c.cancel(cause)

	// stop both loops, the read loop returns once the transport is closed
	_ = c.netConn().Close()
	close(c.stop)

	failed := c.failQueuedSends(cause)
	failed += c.failPending(cause)
	failed += c.failSubscriptions(cause)
	close(c.settled)

	c.telemetry.incr(MetricLinkDisconnects, 1)
	c.onDisconnect.each("disconnected handler", func(fn func(*Connection, error)) {
		fn(c, cause)
	})

	c.releasePool()

	c.state.Store(int32(StateClosed))
	close(c.done)
	Logger.Infof("connection %d closed (%d futures failed): %v", c.id, failed, cause)
	return true
}

// Close tears the connection down. If this call starts the teardown it returns once
// the teardown is complete. If a teardown is already running it returns once every
// future has failed, so Close is safe inside an OnDisconnected callback
func (c *Connection) Close() error {
	if !c.teardown(ErrConnectionClosed) {
		<-c.settled
	}
	return nil
}

// CloseAsync starts the teardown and returns Done
func (c *Connection) CloseAsync() <-chan struct{} {
	go c.HandleRemoteDisconnect(ErrConnectionClosed)
	return c.done
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// ID returns the process wide unique id of the connection
func (c *Connection) ID() int64 { return c.id }

func (c *Connection) State() State { return State(c.state.Load()) }

// LastActivity returns the time of the last successful read or write
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) RemoteAddr() net.Addr { return c.netConn().RemoteAddr() }

// Done is closed once teardown is complete
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns the teardown cause, nil while the connection is open
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.cause
	default:
		return nil
	}
}

// Context is cancelled with the teardown cause when the connection closes
func (c *Connection) Context() context.Context { return c.ctx }

// Serializer returns the serializer of the connection
func (c *Connection) Serializer() serializer.ISerializer { return c.serializer }

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// netConn returns the transport, Initialize swaps it for the secured one
func (c *Connection) netConn() net.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// releasePool unregisters from the dispatch pool and closes a private pool
func (c *Connection) releasePool() {
	if !c.registered.CompareAndSwap(true, false) {
		return
	}
	c.pool.RemoveClient()
	if c.ownsPool {
		// teardown may run on the pool's own worker
		go c.pool.Close()
	}
}

// failPending fails every outstanding SendRequest with cause
func (c *Connection) failPending(cause error) int {
	failed := 0
	c.pending.Range(func(id int32, _ *pendingRequest) bool {
		if pr, ok := c.pending.LoadAndDelete(id); ok && pr.future.resolve(outcome{err: cause}) {
			failed++
		}
		return true
	})
	return failed
}
