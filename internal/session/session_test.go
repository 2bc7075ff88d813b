package session

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ncerr "unkprox/internal/errors"
	"unkprox/internal/metrics"
	"unkprox/internal/transport"
	"unkprox/util"
)

// ── helpers ──────────────────────────────────────────────────────────

// countingDialer records how many times Dial was reached.
type countingDialer struct {
	transport.TCPDialer
	calls atomic.Int32
}

func (d *countingDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.calls.Add(1)
	return d.TCPDialer.Dial(ctx, network, address)
}

// serve starts a one-shot loopback server running handle on the first
// accepted connection.
func serve(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
	return ln.Addr().String()
}

func connect(t *testing.T, addr string) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := Connect(ctx, &transport.TCPDialer{Timeout: 2 * time.Second}, addr,
		util.NewLogger(0), metrics.New())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ── Connect ──────────────────────────────────────────────────────────

func TestConnect_InvalidAddressNeverDials(t *testing.T) {
	for _, addr := range []string{"", "localhost:9009", "[::1]:9009", "127.0.0.1", "127.0.0.1:0", "1.2.3:80"} {
		d := &countingDialer{}
		_, err := Connect(context.Background(), d, addr, util.NewLogger(0), nil)

		var ape *ncerr.AddressParseError
		if !ncerr.As(err, &ape) {
			t.Errorf("Connect(%q) err = %v, want *AddressParseError", addr, err)
		}
		if n := d.calls.Load(); n != 0 {
			t.Errorf("Connect(%q) dialled %d times, want 0", addr, n)
		}
	}
}

func TestConnect_Refused(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}

	m := metrics.New()
	_, err = Connect(context.Background(), &transport.TCPDialer{Timeout: time.Second},
		util.FormatAddr("127.0.0.1", port), util.NewLogger(0), m)

	var ce *ncerr.ConnectionError
	if !ncerr.As(err, &ce) {
		t.Fatalf("err = %v, want *ConnectionError", err)
	}
	if m.ErrorCount() != 1 {
		t.Errorf("errors recorded = %d, want 1", m.ErrorCount())
	}
}

func TestConnect_Success(t *testing.T) {
	addr := serve(t, func(c net.Conn) { io.Copy(io.Discard, c) }) //nolint:errcheck
	s := connect(t, addr)

	if s.Addr != addr {
		t.Errorf("Addr = %q, want %q", s.Addr, addr)
	}
	if s.ID == "" {
		t.Error("session ID should be set")
	}
	if s.Conn() == nil {
		t.Error("Conn() should expose the handle")
	}
}

// ── Guarded transport ────────────────────────────────────────────────

func TestSendReceive_Echo(t *testing.T) {
	addr := serve(t, func(c net.Conn) {
		buf := make([]byte, 4)
		if _, err := io.ReadFull(c, buf); err != nil {
			return
		}
		c.Write([]byte("PONG")) //nolint:errcheck
	})
	s := connect(t, addr)

	n, err := s.Send([]byte("PING"))
	if err != nil || n != 4 {
		t.Fatalf("Send = %d, %v", n, err)
	}

	buf := make([]byte, 4)
	n, err = s.Receive(buf)
	if err != nil || n != 4 {
		t.Fatalf("Receive = %d, %v", n, err)
	}
	if string(buf) != "PONG" {
		t.Errorf("got %q, want PONG", buf)
	}
}

func TestReceive_WaitsForAll(t *testing.T) {
	addr := serve(t, func(c net.Conn) {
		c.Write([]byte("PO")) //nolint:errcheck
		time.Sleep(50 * time.Millisecond)
		c.Write([]byte("NG")) //nolint:errcheck
		time.Sleep(50 * time.Millisecond)
	})
	s := connect(t, addr)

	buf := make([]byte, 4)
	n, err := s.Receive(buf)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if n != 4 || string(buf) != "PONG" {
		t.Errorf("Receive = %d %q, want 4 PONG", n, buf)
	}
}

func TestReceive_PeerClosed(t *testing.T) {
	addr := serve(t, func(net.Conn) {})
	s := connect(t, addr)

	n, err := s.Receive(make([]byte, 4))
	if err != nil || n != 0 {
		t.Errorf("Receive = %d, %v; want 0, nil", n, err)
	}
}

func TestReceive_NeverPartial(t *testing.T) {
	addr := serve(t, func(c net.Conn) {
		c.Write([]byte("PO")) //nolint:errcheck
	})
	s := connect(t, addr)

	n, err := s.Receive(make([]byte, 4))
	if n != 0 {
		t.Errorf("Receive returned partial count %d", n)
	}
	var ioe *ncerr.IOError
	if !ncerr.As(err, &ioe) || !ncerr.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want *IOError wrapping ErrUnexpectedEOF", err)
	}
}

func TestReceive_EmptyBuffer(t *testing.T) {
	s := New(&recordingConn{}, util.NewLogger(0), nil)
	if n, err := s.Receive(nil); n != 0 || err != nil {
		t.Errorf("Receive(nil) = %d, %v", n, err)
	}
}

// recordingConn is a net.Conn whose reads and writes take a while and
// report whether another call was in flight at the same time.
type recordingConn struct {
	net.Conn // nil; only the methods below are used

	active  atomic.Int32
	overlap atomic.Bool

	mu    sync.Mutex
	order []string
}

func (c *recordingConn) enter(op string) {
	if c.active.Add(1) > 1 {
		c.overlap.Store(true)
	}
	c.mu.Lock()
	c.order = append(c.order, op+"-begin")
	c.mu.Unlock()
	time.Sleep(time.Millisecond)
}

func (c *recordingConn) leave(op string) {
	c.mu.Lock()
	c.order = append(c.order, op+"-end")
	c.mu.Unlock()
	c.active.Add(-1)
}

func (c *recordingConn) Write(p []byte) (int, error) {
	c.enter("send")
	defer c.leave("send")
	return len(p), nil
}

func (c *recordingConn) Read(p []byte) (int, error) {
	c.enter("receive")
	defer c.leave("receive")
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

func (c *recordingConn) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 9009} }
func (c *recordingConn) Close() error         { return nil }

func TestSendReceive_Serialized(t *testing.T) {
	conn := &recordingConn{}
	s := New(conn, util.NewLogger(0), nil)

	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			s.Send([]byte("abcd")) //nolint:errcheck
		}
	}()
	go func() {
		defer wg.Done()
		buf := make([]byte, 4)
		for i := 0; i < rounds; i++ {
			s.Receive(buf) //nolint:errcheck
		}
	}()
	wg.Wait()

	if conn.overlap.Load() {
		t.Fatal("send and receive overlapped on the connection")
	}

	// Every begin must be immediately followed by its own end.
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.order) != 4*rounds {
		t.Fatalf("recorded %d events, want %d", len(conn.order), 4*rounds)
	}
	for i := 0; i < len(conn.order); i += 2 {
		begin, end := conn.order[i], conn.order[i+1]
		if begin[:len(begin)-len("-begin")] != end[:len(end)-len("-end")] {
			t.Fatalf("interleaved at %d: %q then %q", i, begin, end)
		}
	}
}

func TestSession_Close(t *testing.T) {
	m := metrics.New()
	s := New(&recordingConn{}, util.NewLogger(0), m)
	if !m.IsConnected() {
		t.Fatal("expected connected after New")
	}
	if s.Addr != "10.0.0.5:9009" {
		t.Errorf("Addr = %q", s.Addr)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if m.IsConnected() {
		t.Error("expected disconnected after Close")
	}
}

func TestPeek_Unsupported(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	s := New(a, util.NewLogger(0), nil)
	if _, err := s.Peek(); !ncerr.Is(err, ncerr.ErrProbeUnsupported) {
		t.Errorf("Peek err = %v, want ErrProbeUnsupported", err)
	}
	if _, err := s.Pending(); !ncerr.Is(err, ncerr.ErrProbeUnsupported) {
		t.Errorf("Pending err = %v, want ErrProbeUnsupported", err)
	}
}
