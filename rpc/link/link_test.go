package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dMsg/internal/testutil/tlstest"
	"github.com/ValentinKolb/dMsg/lib/frame"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/ValentinKolb/dMsg/rpc/serializer"
	"github.com/ValentinKolb/dMsg/rpc/transport"
	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"
)

type testPing struct {
	Seq int
}

type testPong struct {
	Seq  int
	Text string
}

func testSerializer(t *testing.T) serializer.ISerializer {
	t.Helper()
	r := serializer.NewTypeRegistry()
	require.NoError(t, serializer.RegisterType[testPing](r, "test.ping"))
	require.NoError(t, serializer.RegisterType[testPong](r, "test.pong"))
	return serializer.NewJSONSerializer(r)
}

func testConfig(mode common.DispatchMode) common.ConnectionConfig {
	cfg := common.DefaultConnectionConfig()
	cfg.Dispatch = mode
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newPair connects two initialized connections over net.Pipe
func newPair(t *testing.T, mode common.DispatchMode, opts ...Option) (*Connection, *Connection) {
	t.Helper()
	ca, cb := net.Pipe()
	s := testSerializer(t)
	base := []Option{WithSerializer(s), WithMetricSink(&metrics.BlackholeSink{})}

	a := NewConnection(ca, testConfig(mode), append(base, opts...)...)
	b := NewConnection(cb, testConfig(mode), append(base, opts...)...)
	require.NoError(t, a.Initialize(context.Background()))
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

var dispatchModes = []common.DispatchMode{common.DispatchInline, common.DispatchPool}

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

type captureAddr struct{}

func (captureAddr) Network() string { return "capture" }
func (captureAddr) String() string  { return "capture" }

// captureConn records every write and blocks reads until it is closed.
// maxWrite > 0 turns every write into a short write of at most maxWrite bytes.
// A non nil closeGate blocks Close until the gate is closed
type captureConn struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	writes    int
	maxWrite  int
	closed    chan struct{}
	once      sync.Once
	closeGate chan struct{}
	closing   chan struct{}
}

func newCaptureConn(maxWrite int) *captureConn {
	return &captureConn{maxWrite: maxWrite, closed: make(chan struct{}), closing: make(chan struct{}, 1)}
}

// newBlockingCloseConn returns a captureConn whose Close waits for release
func newBlockingCloseConn() (conn *captureConn, release func()) {
	conn = newCaptureConn(0)
	conn.closeGate = make(chan struct{})
	var once sync.Once
	return conn, func() { once.Do(func() { close(conn.closeGate) }) }
}

func (c *captureConn) Read(p []byte) (int, error) {
	<-c.closed
	return 0, io.EOF
}

func (c *captureConn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	n := len(p)
	if c.maxWrite > 0 && n > c.maxWrite {
		n = c.maxWrite
	}
	c.mu.Lock()
	c.buf.Write(p[:n])
	c.writes++
	c.mu.Unlock()
	return n, nil
}

func (c *captureConn) Close() error {
	select {
	case c.closing <- struct{}{}:
	default:
	}
	if c.closeGate != nil {
		<-c.closeGate
	}
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *captureConn) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

func (c *captureConn) LocalAddr() net.Addr                { return captureAddr{} }
func (c *captureConn) RemoteAddr() net.Addr               { return captureAddr{} }
func (c *captureConn) SetDeadline(t time.Time) error      { return nil }
func (c *captureConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *captureConn) SetWriteDeadline(t time.Time) error { return nil }

// rawPeer speaks the wire protocol directly on one end of a pipe
type rawPeer struct {
	t      *testing.T
	conn   net.Conn
	enc    *frame.Encoder
	frames chan *frame.Frame
}

func newRawPeer(t *testing.T, conn net.Conn, s serializer.ISerializer) *rawPeer {
	p := &rawPeer{t: t, conn: conn, enc: frame.NewEncoder(s), frames: make(chan *frame.Frame, 16)}
	dec := frame.NewDecoder(s, 0, func(f *frame.Frame) { p.frames <- f }, nil)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 && dec.Feed(buf[:n]) != nil {
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return p
}

func (p *rawPeer) write(h frame.Header, payload any) {
	require.NoError(p.t, p.enc.Prepare(h, payload))
	for {
		chunk := p.enc.FillSendBuffer(1 << 16)
		n, err := p.conn.Write(chunk)
		require.NoError(p.t, err)
		if p.enc.OnSendCompleted(n) {
			break
		}
	}
	p.enc.Clear()
}

func (p *rawPeer) next(ctx context.Context) *frame.Frame {
	select {
	case f := <-p.frames:
		return f
	case <-ctx.Done():
		p.t.Fatal("raw peer received no frame")
		return nil
	}
}

func response(id int32) *frame.TrackableHeader {
	return &frame.TrackableHeader{ContentHeader: frame.ContentHeader{Flags: frame.FlagIsResponse}, RequestID: id}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestSendOrder(t *testing.T) {
	for _, mode := range dispatchModes {
		t.Run(string(mode), func(t *testing.T) {
			a, b := newPair(t, mode)

			const n = 200
			got := make(chan int, n)
			On(b, func(_ *DispatchContext, p testPing) error {
				got <- p.Seq
				return nil
			})

			for i := 0; i < n; i++ {
				require.NoError(t, a.Send(testPing{Seq: i}))
			}
			ctx := testContext(t)
			for i := 0; i < n; i++ {
				select {
				case seq := <-got:
					require.Equal(t, i, seq)
				case <-ctx.Done():
					t.Fatalf("only %d of %d payloads arrived", i, n)
				}
			}
		})
	}
}

func TestWireOrderWithShortWrites(t *testing.T) {
	s := testSerializer(t)
	conn := newCaptureConn(7)
	c := NewConnection(conn, testConfig(common.DispatchInline), WithSerializer(s), WithMetricSink(&metrics.BlackholeSink{}))
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Close()

	const n = 50
	for i := 0; i < n-1; i++ {
		require.NoError(t, c.Send(testPing{Seq: i}))
	}
	require.NoError(t, c.SendWait(testContext(t), testPing{Seq: n - 1}))

	var got []any
	dec := frame.NewDecoder(s, 0, func(f *frame.Frame) { got = append(got, f.Payload()) }, nil)
	require.NoError(t, dec.Feed(conn.bytes()))
	require.Len(t, got, n)
	for i, p := range got {
		require.Equal(t, testPing{Seq: i}, p)
	}
}

func TestRequestResponse(t *testing.T) {
	for _, mode := range dispatchModes {
		t.Run(string(mode), func(t *testing.T) {
			a, b := newPair(t, mode)
			On(b, func(ctx *DispatchContext, p testPing) error {
				require.True(t, ctx.IsRequest())
				return ctx.Respond(testPong{Seq: p.Seq, Text: "pong"})
			})

			for i := 0; i < 10; i++ {
				resp, err := a.SendRequest(testContext(t), testPing{Seq: i})
				require.NoError(t, err)
				require.Equal(t, testPong{Seq: i, Text: "pong"}, resp)
			}
			require.Zero(t, a.pending.Size())
		})
	}
}

func TestUnhandledRequestGetsEmptyReply(t *testing.T) {
	a, _ := newPair(t, common.DispatchPool)

	start := time.Now()
	resp, err := a.SendRequest(testContext(t), testPing{Seq: 1})
	require.NoError(t, err)
	require.Nil(t, resp)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestHandlerErrorStillReplies(t *testing.T) {
	a, b := newPair(t, common.DispatchInline)
	On(b, func(_ *DispatchContext, _ testPing) error {
		return errors.New("boom")
	})

	resp, err := a.SendRequest(testContext(t), testPing{})
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestReceiveRequestTakesPrecedence(t *testing.T) {
	a, b := newPair(t, common.DispatchPool)

	var handlerCalls atomic.Int32
	On(b, func(_ *DispatchContext, _ testPing) error {
		handlerCalls.Add(1)
		return nil
	})

	served := make(chan error, 1)
	go func() {
		p, req, err := ReceiveRequestAs[testPing](testContext(t), b)
		if err != nil {
			served <- err
			return
		}
		served <- req.Respond(testPong{Seq: p.Seq * 2})
	}()

	// wait until the awaiter is registered
	require.Eventually(t, func() bool {
		bk := b.lookup(typeOf[testPing]())
		if bk == nil {
			return false
		}
		bk.mu.Lock()
		defer bk.mu.Unlock()
		return len(bk.requests) == 1
	}, 2*time.Second, 5*time.Millisecond)

	resp, err := a.SendRequest(testContext(t), testPing{Seq: 21})
	require.NoError(t, err)
	require.Equal(t, testPong{Seq: 42}, resp)
	require.NoError(t, <-served)
	require.Zero(t, handlerCalls.Load())
}

func TestDuplicateResponseResolvesOnce(t *testing.T) {
	ca, cb := net.Pipe()
	s := testSerializer(t)
	a := NewConnection(ca, testConfig(common.DispatchInline), WithSerializer(s), WithMetricSink(&metrics.BlackholeSink{}))
	require.NoError(t, a.Initialize(context.Background()))
	defer a.Close()
	peer := newRawPeer(t, cb, s)
	defer cb.Close()

	ctx := testContext(t)
	type result struct {
		payload any
		err     error
	}
	results := make(chan result, 2)
	go func() {
		p, err := a.SendRequest(ctx, testPing{Seq: 7})
		results <- result{p, err}
	}()

	req := peer.next(ctx)
	h, ok := req.Header.(*frame.TrackableHeader)
	require.True(t, ok)
	require.True(t, h.IsRequest())

	peer.write(response(h.RequestID+1000), testPong{Seq: -1}) // unknown id
	peer.write(response(h.RequestID), testPong{Seq: 1})
	peer.write(response(h.RequestID), testPong{Seq: 2})

	r := <-results
	require.NoError(t, r.err)
	require.Equal(t, testPong{Seq: 1}, r.payload)

	// the link survived both anomalies
	require.NoError(t, a.SendWait(ctx, testPing{Seq: 8}))
	require.Equal(t, testPing{Seq: 8}, peer.next(ctx).Payload())
	require.Equal(t, StateConnected, a.State())
	require.Empty(t, results)
}

func TestIdempotentTeardown(t *testing.T) {
	a, b := newPair(t, common.DispatchPool)

	received := make(chan struct{})
	On(b, func(ctx *DispatchContext, _ testPing) error {
		ctx.MarkHandled() // never answered
		close(received)
		return nil
	})

	var disconnects atomic.Int32
	a.OnDisconnected(func(_ *Connection, _ error) { disconnects.Add(1) })

	reqErr := make(chan error, 1)
	go func() {
		_, err := a.SendRequest(context.Background(), testPing{})
		reqErr <- err
	}()
	recvErr := make(chan error, 1)
	go func() {
		_, err := ReceiveAs[testPong](context.Background(), a)
		recvErr <- err
	}()
	<-received

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.HandleRemoteDisconnect(&TransportError{Op: "read", Err: io.EOF})
	}()
	go func() {
		defer wg.Done()
		_ = a.Close()
	}()
	wg.Wait()

	require.Equal(t, int32(1), disconnects.Load())
	require.Equal(t, StateClosed, a.State())

	for _, ch := range []chan error{reqErr, recvErr} {
		err := <-ch
		require.Error(t, err)
		require.True(t, errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed), "unexpected cause %v", err)
	}

	// the peer observes the teardown as well
	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("peer did not notice the teardown")
	}
}

func TestCloseInsideDisconnectCallback(t *testing.T) {
	for _, mode := range dispatchModes {
		t.Run(string(mode), func(t *testing.T) {
			a, _ := newPair(t, mode)

			returned := make(chan struct{})
			a.OnDisconnected(func(c *Connection, _ error) {
				_ = c.Close()
				close(returned)
			})
			go a.HandleRemoteDisconnect(&TransportError{Op: "read", Err: io.EOF})

			select {
			case <-returned:
			case <-time.After(5 * time.Second):
				t.Fatalf("Close inside OnDisconnected did not return, state %s", a.State())
			}
			select {
			case <-a.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("teardown did not complete")
			}
			require.Equal(t, StateClosed, a.State())
			require.ErrorIs(t, a.Err(), io.EOF)
		})
	}
}

func TestSendDuringTeardownFails(t *testing.T) {
	conn, release := newBlockingCloseConn()
	defer release()
	c := NewConnection(conn, testConfig(common.DispatchInline), WithSerializer(testSerializer(t)), WithMetricSink(&metrics.BlackholeSink{}))
	require.NoError(t, c.Initialize(context.Background()))

	go c.HandleRemoteDisconnect(&TransportError{Op: "write", Err: io.ErrClosedPipe})
	select {
	case <-conn.closing:
	case <-time.After(5 * time.Second):
		t.Fatal("teardown never closed the transport")
	}

	// the transport close is still blocked
	require.Equal(t, StateDisconnecting, c.State())
	require.ErrorIs(t, c.Send(testPing{Seq: 1}), ErrConnectionClosed)
	require.ErrorIs(t, c.SendRaw(NewRawBufferID(), 0, []byte("late"), false), ErrConnectionClosed)

	release()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("teardown did not complete")
	}
	require.Empty(t, conn.bytes())
}

func TestCloseDuringHandshake(t *testing.T) {
	ca := tlstest.NewAuthority(t, "dmsg test ca")
	local, remote := net.Pipe()
	defer remote.Close()

	// the remote end never reads, the handshake stays blocked until Close
	c := NewConnection(local, testConfig(common.DispatchInline),
		WithSerializer(testSerializer(t)),
		WithMetricSink(&metrics.BlackholeSink{}),
		WithSecurity(transport.SecurityConfig{Mode: common.SecurityTLS, TLS: ca.ClientConfig(t)}),
	)
	initErr := make(chan error, 1)
	go func() { initErr <- c.Initialize(context.Background()) }()

	require.NotNil(t, c.RemoteAddr())
	require.NoError(t, c.Close())

	select {
	case err := <-initErr:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Initialize did not return after Close")
	}
	require.Equal(t, StateClosed, c.State())
}

func TestAutoReplyCountedOnce(t *testing.T) {
	sink := metrics.NewInmemSink(time.Minute, time.Minute)
	a, b := newPair(t, common.DispatchInline, WithMetricSink(sink))

	On(b, func(ctx *DispatchContext, p testPing) error {
		return ctx.Respond(testPong{Seq: p.Seq})
	})

	// answered by the handler
	resp, err := a.SendRequest(testContext(t), testPing{Seq: 1})
	require.NoError(t, err)
	require.Equal(t, testPong{Seq: 1}, resp)

	// nobody handles pongs, the empty reply is automatic
	resp, err = a.SendRequest(testContext(t), testPong{Seq: 2})
	require.NoError(t, err)
	require.Nil(t, resp)

	autoReplies := 0
	for _, interval := range sink.Data() {
		for key, v := range interval.Counters {
			if strings.HasPrefix(key, "dmsg.link.request.auto.reply.count") {
				autoReplies += v.Count
			}
		}
	}
	require.Equal(t, 1, autoReplies)
}

func TestAcquireRawBufferSizes(t *testing.T) {
	a, _ := newPair(t, common.DispatchInline)

	small := a.AcquireRawBuffer(8)
	require.Zero(t, len(small))
	require.GreaterOrEqual(t, cap(small), 8)

	large := a.AcquireRawBuffer(4 * common.DefaultConnectionConfig().SendBufferSize)
	require.Zero(t, len(large))
	require.GreaterOrEqual(t, cap(large), 4*common.DefaultConnectionConfig().SendBufferSize)
}

func TestSendAfterClose(t *testing.T) {
	a, _ := newPair(t, common.DispatchInline)
	require.NoError(t, a.Close())

	require.ErrorIs(t, a.Send(testPing{}), ErrConnectionClosed)
	_, err := a.SendRequest(context.Background(), testPing{})
	require.ErrorIs(t, err, ErrConnectionClosed)
	_, err = a.Receive(context.Background(), typeOf[testPing]())
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.ErrorIs(t, a.Initialize(context.Background()), ErrConnectionClosed)
}

func TestLifecycle(t *testing.T) {
	ca, cb := net.Pipe()
	defer cb.Close()
	c := NewConnection(ca, testConfig(common.DispatchInline), WithMetricSink(&metrics.BlackholeSink{}))
	require.Equal(t, StateCreated, c.State())
	require.ErrorIs(t, c.Send("early"), ErrNotConnected)

	require.NoError(t, c.Initialize(context.Background()))
	require.Equal(t, StateConnected, c.State())
	require.ErrorIs(t, c.Initialize(context.Background()), ErrAlreadyInitialized)
	require.NoError(t, c.Err())

	require.NoError(t, c.Close())
	require.Equal(t, StateClosed, c.State())
	require.ErrorIs(t, c.Err(), ErrConnectionClosed)
	<-c.CloseAsync()
}

func TestHandlerPanicIsolation(t *testing.T) {
	a, b := newPair(t, common.DispatchInline)

	second := make(chan testPing, 1)
	catchAll := make(chan any, 1)
	On(b, func(_ *DispatchContext, _ testPing) error { panic("first handler") })
	On(b, func(_ *DispatchContext, p testPing) error {
		second <- p
		return nil
	})
	b.OnPayloadReceived(func(_ *DispatchContext, _ any) { panic("catch all") })
	b.OnPayloadReceived(func(_ *DispatchContext, p any) { catchAll <- p })

	require.NoError(t, a.Send(testPing{Seq: 3}))
	require.Equal(t, testPing{Seq: 3}, <-second)
	require.Equal(t, testPing{Seq: 3}, <-catchAll)
	require.Equal(t, StateConnected, b.State())
}

func TestRemoveHandler(t *testing.T) {
	a, b := newPair(t, common.DispatchInline)

	var calls atomic.Int32
	remove := On(b, func(_ *DispatchContext, _ testPing) error {
		calls.Add(1)
		return nil
	})
	seen := make(chan int, 2)
	On(b, func(_ *DispatchContext, p testPing) error {
		seen <- p.Seq
		return nil
	})

	require.NoError(t, a.Send(testPing{Seq: 0}))
	require.Equal(t, 0, <-seen)
	remove()
	remove() // idempotent

	require.NoError(t, a.Send(testPing{Seq: 1}))
	require.Equal(t, 1, <-seen)
	require.Equal(t, int32(1), calls.Load())
}

func TestReceiveWhereFilterSemantics(t *testing.T) {
	a, b := newPair(t, common.DispatchInline)

	var calls atomic.Int32
	result := make(chan any, 1)
	go func() {
		p, err := b.ReceiveWhere(testContext(t), func(p any) bool {
			calls.Add(1)
			ping := p.(testPing) // panics for other types
			return ping.Seq == 2
		})
		require.NoError(t, err)
		result <- p
	}()
	require.Eventually(t, func() bool { return len(b.filters.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.Send("not a ping"))
	require.NoError(t, a.Send(testPing{Seq: 1}))
	require.NoError(t, a.Send(testPing{Seq: 2}))
	require.Equal(t, testPing{Seq: 2}, <-result)
	require.Equal(t, int32(3), calls.Load())
	require.Empty(t, b.filters.snapshot())
}

func TestReceiveConsumesAllWaiters(t *testing.T) {
	a, b := newPair(t, common.DispatchInline)

	const waiters = 3
	got := make(chan testPong, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			p, err := ReceiveAs[testPong](testContext(t), b)
			require.NoError(t, err)
			got <- p
		}()
	}
	require.Eventually(t, func() bool {
		bk := b.lookup(typeOf[testPong]())
		if bk == nil {
			return false
		}
		bk.mu.Lock()
		defer bk.mu.Unlock()
		return len(bk.receives) == waiters
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.Send(testPong{Seq: 5}))
	for i := 0; i < waiters; i++ {
		require.Equal(t, testPong{Seq: 5}, <-got)
	}
}

func TestCancellationAndLateResponse(t *testing.T) {
	a, b := newPair(t, common.DispatchPool)

	late := make(chan *DispatchContext, 1)
	On(b, func(ctx *DispatchContext, _ testPing) error {
		ctx.MarkHandled()
		late <- ctx
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := a.SendRequest(ctx, testPing{})
		errCh <- err
	}()

	dc := <-late
	cancel()
	err := <-errCh
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	var cerr *CancellationError
	require.ErrorAs(t, err, &cerr)
	require.Zero(t, a.pending.Size())

	// answering now is a no-op for the requester
	require.NoError(t, dc.Respond(testPong{}))
	require.ErrorIs(t, dc.Respond(testPong{}), ErrAlreadyResponded)
	resp, err := a.SendRequest(testContext(t), testPong{})
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestRequestTimeout(t *testing.T) {
	ca, cb := net.Pipe()
	s := testSerializer(t)
	cfg := testConfig(common.DispatchInline)
	cfg.RequestTimeout = 50 * time.Millisecond
	a := NewConnection(ca, cfg, WithSerializer(s), WithMetricSink(&metrics.BlackholeSink{}))
	require.NoError(t, a.Initialize(context.Background()))
	defer a.Close()
	peer := newRawPeer(t, cb, s)
	defer cb.Close()

	_, err := a.SendRequest(context.Background(), testPing{})
	require.ErrorIs(t, err, ErrRequestTimeout)
	require.ErrorIs(t, err, ErrCancelled)
	require.NotNil(t, peer.next(testContext(t)))
}

func TestSendEncodeErrorIsNotFatal(t *testing.T) {
	a, b := newPair(t, common.DispatchInline)

	type unregistered struct{ X int }
	err := a.SendWait(testContext(t), unregistered{X: 1})
	require.Error(t, err)

	_, err = a.SendRequest(testContext(t), unregistered{X: 1})
	require.Error(t, err)
	require.Zero(t, a.pending.Size())

	require.NoError(t, a.Send(testPing{Seq: 9}))
	p, err := ReceiveAs[testPing](testContext(t), b)
	require.NoError(t, err)
	require.Equal(t, 9, p.Seq)
}

func TestMultiContentPayload(t *testing.T) {
	a, b := newPair(t, common.DispatchPool)

	got := make(chan frame.Composite, 1)
	b.On(reflect.TypeOf(frame.Composite{}), func(ctx *DispatchContext, p any) error {
		got <- p.(frame.Composite)
		return ctx.Respond(frame.Composite{"ok", int64(len(p.(frame.Composite)))})
	})

	resp, err := a.SendRequest(testContext(t), frame.Composite{testPing{Seq: 1}, "arg", int64(3)})
	require.NoError(t, err)
	require.Equal(t, frame.Composite{"ok", int64(3)}, resp)
	require.Equal(t, frame.Composite{testPing{Seq: 1}, "arg", int64(3)}, <-got)
}

func TestRawChannel(t *testing.T) {
	a, b := newPair(t, common.DispatchPool)
	id := NewRawBufferID()

	// a acknowledges every chunk with an empty chunk of the next sequence
	a.OnRaw(id, func(chunk RawChunk) any {
		return RawChunk{BufferID: chunk.BufferID, Sequence: chunk.Sequence + 1, Data: []byte("ack")}
	})

	ctx := testContext(t)
	buf := append(b.AcquireRawBuffer(16), "chunk-1"...)
	ackCh := make(chan RawChunk, 1)
	go func() {
		ack, err := b.ReceiveRaw(ctx, id)
		require.NoError(t, err)
		ackCh <- ack
	}()
	require.Eventually(t, func() bool {
		bk, ok := b.rawBuckets.Load(id)
		if !ok {
			return false
		}
		bk.mu.Lock()
		defer bk.mu.Unlock()
		return len(bk.receives) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, b.SendRaw(id, 1, buf, true))
	ack := <-ackCh
	require.Equal(t, RawChunk{BufferID: id, Sequence: 2, Data: []byte("ack")}, ack)
}

func TestRawChunkWithoutSubscriberIsDropped(t *testing.T) {
	a, b := newPair(t, common.DispatchInline)
	require.NoError(t, a.SendRaw(NewRawBufferID(), 0, []byte("lost"), false))
	require.NoError(t, a.Send(testPing{Seq: 1}))

	p, err := ReceiveAs[testPing](testContext(t), b)
	require.NoError(t, err)
	require.Equal(t, 1, p.Seq)
}

func TestProtocolErrorTearsDown(t *testing.T) {
	ca, cb := net.Pipe()
	a := NewConnection(ca, testConfig(common.DispatchInline), WithMetricSink(&metrics.BlackholeSink{}))
	require.NoError(t, a.Initialize(context.Background()))
	defer cb.Close()

	// headerLength 5, version 1, packet type 9
	_, err := cb.Write([]byte{0x00, 0x05, frame.ProtocolVersion, 0x09, 0x00})
	require.NoError(t, err)

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection survived a protocol error")
	}
	var perr *frame.ProtocolError
	require.ErrorAs(t, a.Err(), &perr)
	require.ErrorIs(t, a.Err(), frame.ErrUnknownPacketType)
}

func TestPayloadSentEvent(t *testing.T) {
	a, _ := newPair(t, common.DispatchInline)

	sent := make(chan any, 2)
	a.OnPayloadSent(func(p any) { sent <- p })
	require.NoError(t, a.SendWait(testContext(t), testPing{Seq: 4}))
	require.Equal(t, testPing{Seq: 4}, <-sent)
	require.WithinDuration(t, time.Now(), a.LastActivity(), 5*time.Second)
}

func TestSharedDispatchPool(t *testing.T) {
	cfg := common.DefaultPoolConfig()
	cfg.ScalingInterval = time.Hour
	p := NewDispatchPool(cfg)
	require.NoError(t, p.Initialize())
	defer p.Close()

	a1, b1 := newPair(t, common.DispatchPool, WithPool(p))
	a2, b2 := newPair(t, common.DispatchPool, WithPool(p))
	require.Equal(t, int64(4), p.Clients())

	for _, pair := range [][2]*Connection{{a1, b1}, {a2, b2}} {
		On(pair[1], func(ctx *DispatchContext, ping testPing) error {
			return ctx.Respond(testPong{Seq: ping.Seq})
		})
		resp, err := pair[0].SendRequest(testContext(t), testPing{Seq: 11})
		require.NoError(t, err)
		require.Equal(t, testPong{Seq: 11}, resp)
	}

	for _, c := range []*Connection{a1, b1, a2, b2} {
		require.NoError(t, c.Close())
	}
	require.Zero(t, p.Clients())
}

func TestTelemetry(t *testing.T) {
	sink := metrics.NewInmemSink(time.Minute, time.Minute)
	a, b := newPair(t, common.DispatchInline, WithMetricSink(sink), WithMetricLabels([]metrics.Label{{Name: "test", Value: "telemetry"}}))

	require.NoError(t, a.SendWait(testContext(t), testPing{}))
	require.Equal(t, StateConnected, b.State())

	data := sink.Data()
	require.NotEmpty(t, data)
	counters := data[len(data)-1].Counters
	var framesOut bool
	for key := range counters {
		if strings.HasPrefix(key, "dmsg.link.frames.out") && strings.Contains(key, "test=telemetry") {
			framesOut = true
		}
	}
	require.True(t, framesOut, "no frames out counter in %v", counters)
}

func TestAuthOnlyLink(t *testing.T) {
	ca := tlstest.NewAuthority(t, "dmsg test ca")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := testSerializer(t)
	serverCh := make(chan *Connection, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(serverCh)
			return
		}
		c := NewConnection(conn, testConfig(common.DispatchPool),
			WithSerializer(s),
			WithMetricSink(&metrics.BlackholeSink{}),
			WithSecurity(transport.SecurityConfig{Mode: common.SecurityAuthOnly, TLS: ca.ServerConfig(t), Server: true}),
		)
		On(c, func(ctx *DispatchContext, p testPing) error {
			return ctx.Respond(testPong{Seq: p.Seq, Text: "secured"})
		})
		if c.Initialize(context.Background()) != nil {
			close(serverCh)
			return
		}
		serverCh <- c
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	client := NewConnection(raw, testConfig(common.DispatchPool),
		WithSerializer(s),
		WithMetricSink(&metrics.BlackholeSink{}),
		WithSecurity(transport.SecurityConfig{Mode: common.SecurityAuthOnly, TLS: ca.ClientConfig(t)}),
	)
	require.NoError(t, client.Initialize(testContext(t)))
	defer client.Close()

	server, ok := <-serverCh
	require.True(t, ok, "server side failed to initialize")
	defer server.Close()

	resp, err := client.SendRequest(testContext(t), testPing{Seq: 99})
	require.NoError(t, err)
	require.Equal(t, testPong{Seq: 99, Text: "secured"}, resp)
}

func BenchmarkRequestResponse(b *testing.B) {
	ca, cb := net.Pipe()
	r := serializer.NewTypeRegistry()
	_ = serializer.RegisterType[testPing](r, "test.ping")
	s := serializer.NewJSONSerializer(r)
	cfg := common.DefaultConnectionConfig()
	cfg.Dispatch = common.DispatchInline

	client := NewConnection(ca, cfg, WithSerializer(s), WithMetricSink(&metrics.BlackholeSink{}))
	server := NewConnection(cb, cfg, WithSerializer(s), WithMetricSink(&metrics.BlackholeSink{}))
	On(server, func(ctx *DispatchContext, p testPing) error { return ctx.Respond(p) })
	_ = client.Initialize(context.Background())
	_ = server.Initialize(context.Background())
	defer client.Close()
	defer server.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.SendRequest(ctx, testPing{Seq: i}); err != nil {
			b.Fatal(err)
		}
	}
}
