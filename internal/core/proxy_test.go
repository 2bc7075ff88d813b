package core

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"unkprox/config"
	"unkprox/internal/metrics"
	"unkprox/util"
)

// ── helpers ──────────────────────────────────────────────────────────

func quietLogger() *util.Logger {
	l := util.NewLogger(0)
	l.SetOutput(io.Discard)
	return l
}

// listen prefers the well-known test address and falls back to an
// ephemeral port when something else already holds it.
func listen(t *testing.T, preferred string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", preferred)
	if err != nil {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

// serve runs handle on the first connection accepted by ln.
func serve(ln net.Listener, handle func(net.Conn)) {
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
}

// pingPong answers "PING" with "PONG" and then holds the connection
// open until the client goes away.
func pingPong(conn net.Conn) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return
	}
	if string(buf) == "PING" {
		conn.Write([]byte("PONG")) //nolint:errcheck
	}
	io.Copy(io.Discard, conn) //nolint:errcheck
}

func newProxy(t *testing.T, addr string) *Proxy {
	t.Helper()
	cfg := config.Default()
	cfg.ServerAddr = addr
	cfg.Verbose = 0
	p := NewProxy(cfg, quietLogger(), metrics.New())
	t.Cleanup(func() { p.Close() })
	return p
}

func initialized(t *testing.T, addr string) *Proxy {
	t.Helper()
	p := newProxy(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if code := p.Initialize(ctx); code != StatusOK {
		t.Fatalf("Initialize = %d", code)
	}
	return p
}

// ── end to end ───────────────────────────────────────────────────────

func TestProxy_PingPong(t *testing.T) {
	ln := listen(t, "127.0.0.1:9009")
	serve(ln, pingPong)

	p := initialized(t, ln.Addr().String())

	notified := make(chan int, 16)
	p.SetNotifier(func(n int) int {
		select {
		case notified <- n:
		default:
		}
		return StatusAck
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if code := p.CreatePollerThread(ctx); code != StatusOK {
		t.Fatalf("CreatePollerThread = %d", code)
	}

	if n := p.SendToServer([]byte("PING"), 4); n != 4 {
		t.Fatalf("SendToServer = %d, want 4", n)
	}

	select {
	case n := <-notified:
		if n < 1 {
			t.Errorf("notification count = %d, want >= 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller never reported the reply")
	}

	buf := make([]byte, 4)
	if n := p.ReceiveFromServer(buf, 4); n != 4 {
		t.Fatalf("ReceiveFromServer = %d, want 4", n)
	}
	if string(buf) != "PONG" {
		t.Errorf("got %q, want PONG", buf)
	}

	m := p.Metrics()
	if m.TotalBytesOut() != 4 || m.TotalBytesIn() != 4 {
		t.Errorf("bytes out/in = %d/%d, want 4/4", m.TotalBytesOut(), m.TotalBytesIn())
	}
	if m.Notifications() < 1 {
		t.Errorf("metrics notifications = %d", m.Notifications())
	}
}

// ── Initialize / ConnectToServer ─────────────────────────────────────

func TestProxy_InitializeTwice(t *testing.T) {
	ln := listen(t, "127.0.0.1:0")
	serve(ln, pingPong)

	p := initialized(t, ln.Addr().String())
	if code := p.Initialize(context.Background()); code != StatusAlreadyInitialized {
		t.Errorf("second Initialize = %d, want %d", code, StatusAlreadyInitialized)
	}
}

func TestProxy_InitializeFailure(t *testing.T) {
	tests := []struct {
		name string
		addr string
	}{
		{"hostname", "localhost:9009"},
		{"missing port", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProxy(t, tt.addr)
			if code := p.Initialize(context.Background()); code != StatusInit {
				t.Errorf("Initialize = %d, want %d", code, StatusInit)
			}
			if code := p.Initialize(context.Background()); code != StatusAlreadyInitialized {
				t.Errorf("retry = %d, want %d", code, StatusAlreadyInitialized)
			}
		})
	}
}

func TestProxy_ConnectToServer(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	closed := util.FormatAddr("127.0.0.1", port)

	tests := []struct {
		name string
		addr string
		want int
	}{
		{"not ipv4", "example.com:80", StatusAddressParse},
		{"ipv6", "[::1]:9009", StatusAddressParse},
		{"bad port", "127.0.0.1:70000", StatusAddressParse},
		{"refused", closed, StatusConnect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProxy(t, "")
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if code := p.ConnectToServer(ctx, tt.addr); code != tt.want {
				t.Errorf("ConnectToServer(%q) = %d, want %d", tt.addr, code, tt.want)
			}
			if code := p.SendToServer([]byte("x"), 1); code != StatusNotConnected {
				t.Errorf("send after failed connect = %d, want %d", code, StatusNotConnected)
			}
		})
	}
}

func TestProxy_ConnectTwice(t *testing.T) {
	ln := listen(t, "127.0.0.1:0")
	serve(ln, pingPong)

	p := initialized(t, ln.Addr().String())
	if code := p.ConnectToServer(context.Background(), ln.Addr().String()); code != StatusConnect {
		t.Errorf("second connect = %d, want %d", code, StatusConnect)
	}
}

// ── Send / Receive ───────────────────────────────────────────────────

func TestProxy_NotConnected(t *testing.T) {
	p := newProxy(t, "")
	buf := make([]byte, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	checks := map[string]int{
		"send":    p.SendToServer(buf, 4),
		"receive": p.ReceiveFromServer(buf, 4),
		"pending": p.PendingBytes(),
		"poller":  p.CreatePollerThread(ctx),
		"pause":   p.PausePoller(ctx),
		"resume":  p.ResumePoller(),
	}
	for name, code := range checks {
		if code != StatusNotConnected {
			t.Errorf("%s = %d, want %d", name, code, StatusNotConnected)
		}
	}
}

func TestProxy_Bounds(t *testing.T) {
	ln := listen(t, "127.0.0.1:0")
	serve(ln, pingPong)
	p := initialized(t, ln.Addr().String())

	buf := make([]byte, 4)
	for _, size := range []int{-1, 5} {
		if code := p.SendToServer(buf, size); code != StatusBounds {
			t.Errorf("SendToServer(size=%d) = %d, want %d", size, code, StatusBounds)
		}
		if code := p.ReceiveFromServer(buf, size); code != StatusBounds {
			t.Errorf("ReceiveFromServer(size=%d) = %d, want %d", size, code, StatusBounds)
		}
	}
	if out := p.Metrics().TotalBytesOut(); out != 0 {
		t.Errorf("bounds failure reached the socket: %d bytes out", out)
	}
	if n := p.SendToServer(buf, 0); n != 0 {
		t.Errorf("zero-size send = %d, want 0", n)
	}
}

func TestProxy_ReceiveAfterServerClose(t *testing.T) {
	ln := listen(t, "127.0.0.1:0")
	serve(ln, func(net.Conn) {})
	p := initialized(t, ln.Addr().String())

	buf := make([]byte, 8)
	if n := p.ReceiveFromServer(buf, 8); n != 0 {
		t.Errorf("ReceiveFromServer = %d, want 0 on orderly close", n)
	}
}

func TestProxy_ReceiveShortStream(t *testing.T) {
	ln := listen(t, "127.0.0.1:0")
	serve(ln, func(c net.Conn) { c.Write([]byte("PO")) }) //nolint:errcheck
	p := initialized(t, ln.Addr().String())

	buf := make([]byte, 4)
	if code := p.ReceiveFromServer(buf, 4); code != StatusIO {
		t.Errorf("ReceiveFromServer = %d, want %d", code, StatusIO)
	}
}

// ── Poller controls ──────────────────────────────────────────────────

func TestProxy_PauseResume(t *testing.T) {
	ln := listen(t, "127.0.0.1:0")
	serve(ln, pingPong)
	p := initialized(t, ln.Addr().String())

	if code := p.ResumePoller(); code != StatusThread {
		t.Errorf("resume before pause = %d, want %d", code, StatusThread)
	}
	if code := p.PausePoller(context.Background()); code != StatusAck {
		t.Fatalf("PausePoller = %d, want %d", code, StatusAck)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if code := p.PausePoller(ctx); code != StatusThread {
		t.Errorf("second pause = %d, want %d", code, StatusThread)
	}

	if code := p.ResumePoller(); code != StatusAck {
		t.Errorf("ResumePoller = %d, want %d", code, StatusAck)
	}
}

func TestProxy_CreatePollerTwice(t *testing.T) {
	ln := listen(t, "127.0.0.1:0")
	serve(ln, pingPong)
	p := initialized(t, ln.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if code := p.CreatePollerThread(ctx); code != StatusOK {
		t.Fatalf("first = %d", code)
	}
	if code := p.CreatePollerThread(ctx); code != StatusThread {
		t.Errorf("second = %d, want %d", code, StatusThread)
	}
}

func TestProxy_PausedPollerStaysQuiet(t *testing.T) {
	ln := listen(t, "127.0.0.1:0")
	serve(ln, pingPong)
	p := initialized(t, ln.Addr().String())

	notified := make(chan int, 1)
	p.SetNotifier(func(n int) int {
		select {
		case notified <- n:
		default:
		}
		return StatusAck
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if code := p.PausePoller(ctx); code != StatusAck {
		t.Fatalf("PausePoller = %d", code)
	}
	if code := p.CreatePollerThread(ctx); code != StatusOK {
		t.Fatalf("CreatePollerThread = %d", code)
	}
	p.SendToServer([]byte("PING"), 4)

	select {
	case <-notified:
		t.Fatal("notification while paused")
	case <-time.After(100 * time.Millisecond):
	}

	p.ResumePoller()
	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification after resume")
	}
}

func TestProxy_OnMessageReceived(t *testing.T) {
	p := NewProxy(nil, quietLogger(), nil)
	if got := p.OnMessageReceived(12); got != StatusAck {
		t.Errorf("OnMessageReceived = %d, want %d", got, StatusAck)
	}
	p.SetNotifier(nil)
	if got := p.notify(3); got != StatusAck {
		t.Errorf("default hook = %d, want %d", got, StatusAck)
	}
}

func TestProxy_CloseIdempotent(t *testing.T) {
	ln := listen(t, "127.0.0.1:0")
	serve(ln, pingPong)
	p := initialized(t, ln.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.CreatePollerThread(ctx)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if p.Metrics().IsConnected() {
		t.Error("metrics still report a connection")
	}
}

// stuckDialer blocks in Dial until release is closed, ignoring ctx, and
// then hands back one end of a pipe.
type stuckDialer struct {
	entered chan struct{}
	release chan struct{}
	peer    net.Conn
}

func newStuckDialer() *stuckDialer {
	return &stuckDialer{entered: make(chan struct{}), release: make(chan struct{})}
}

func (d *stuckDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	close(d.entered)
	<-d.release
	c, peer := net.Pipe()
	d.peer = peer
	return c, nil
}

func (d *stuckDialer) Close() error { return nil }

// within fails the test if fn does not return within d.
func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s still blocked after %s while connect in flight", what, d)
	}
}

func TestProxy_CallsDuringSlowConnect(t *testing.T) {
	p := newProxy(t, "")
	d := newStuckDialer()
	p.dialer = d

	result := make(chan int, 1)
	go func() { result <- p.ConnectToServer(context.Background(), "127.0.0.1:9009") }()
	<-d.entered

	buf := make([]byte, 4)
	within(t, 500*time.Millisecond, "SendToServer", func() {
		if code := p.SendToServer(buf, 4); code != StatusNotConnected {
			t.Errorf("SendToServer = %d, want %d", code, StatusNotConnected)
		}
	})
	within(t, 500*time.Millisecond, "PausePoller", func() {
		if code := p.PausePoller(context.Background()); code != StatusNotConnected {
			t.Errorf("PausePoller = %d, want %d", code, StatusNotConnected)
		}
	})
	within(t, 500*time.Millisecond, "second ConnectToServer", func() {
		if code := p.ConnectToServer(context.Background(), "127.0.0.1:9009"); code != StatusConnect {
			t.Errorf("second ConnectToServer = %d, want %d", code, StatusConnect)
		}
	})
	within(t, 500*time.Millisecond, "Close", func() { p.Close() })

	close(d.release)
	select {
	case code := <-result:
		if code != StatusConnect {
			t.Errorf("ConnectToServer after Close = %d, want %d", code, StatusConnect)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectToServer never returned")
	}

	// The late connection is closed rather than installed.
	d.peer.SetReadDeadline(time.Now().Add(time.Second)) //nolint:errcheck
	if _, err := d.peer.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("late connection still open: read err = %v", err)
	}
	if code := p.SendToServer(buf, 4); code != StatusNotConnected {
		t.Errorf("SendToServer after aborted connect = %d, want %d", code, StatusNotConnected)
	}
}

func TestProxy_CloseCancelsDial(t *testing.T) {
	p := newProxy(t, "")

	// A non-routable address keeps the dial pending until cancelled.
	result := make(chan int, 1)
	go func() { result <- p.ConnectToServer(context.Background(), "10.255.255.1:9009") }()
	time.Sleep(50 * time.Millisecond)

	within(t, 500*time.Millisecond, "Close", func() { p.Close() })
	select {
	case code := <-result:
		if code != StatusConnect {
			t.Errorf("ConnectToServer = %d, want %d", code, StatusConnect)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel the dial")
	}
}
