// Package session owns the single upstream connection.  It parses and
// dials the configured address, then serialises application traffic
// through one transport lock.
//
// The poller's probe ([Session.Peek]) runs outside that lock and never
// consumes bytes.  Racing an in-flight receive can at most produce a
// stale "data available" notification.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/google/uuid"

	ncerr "unkprox/internal/errors"
	"unkprox/internal/metrics"
	"unkprox/internal/transport"
	"unkprox/util"
)

// Session is the one connected stream to the upstream server.  A
// Session is either fully connected or never constructed; there is no
// reconnect state.
type Session struct {
	ID   string
	Addr string

	conn    net.Conn
	mu      sync.Mutex // transport lock: Send and Receive
	logger  *util.Logger
	metrics *metrics.Collector

	closeOnce sync.Once
	closeErr  error
}

// Connect validates address as an IPv4 "a.b.c.d:port", then dials it
// through d.  A malformed address fails with *AddressParseError before
// anything is dialled; a dial failure is a *ConnectionError.
func Connect(ctx context.Context, d transport.Dialer, address string,
	logger *util.Logger, m *metrics.Collector) (*Session, error) {

	ap, err := util.ParseIPv4AddrPort(address)
	if err != nil {
		logger.Error("address %q rejected: %v", address, err)
		m.RecordError(err.Error())
		return nil, err
	}
	addr := ap.String()
	logger.Debug("parsed upstream address %s", addr)

	logger.Verbose("connecting to %s", addr)
	conn, err := d.Dial(ctx, "tcp", addr)
	if err != nil {
		cerr := &ncerr.ConnectionError{Addr: addr, Err: err}
		logger.Error("%v", cerr)
		m.RecordError(cerr.Error())
		return nil, cerr
	}

	s := New(conn, logger, m)
	s.Addr = addr
	logger.Info("connected to %s (session %s)", conn.RemoteAddr(), s.ID)
	return s, nil
}

// New wraps an already-established connection.  Connect is the normal
// entry point; New exists for callers that dial on their own and for
// tests that substitute a fake connection.
func New(conn net.Conn, logger *util.Logger, m *metrics.Collector) *Session {
	s := &Session{
		ID:      uuid.NewString(),
		conn:    conn,
		logger:  logger,
		metrics: m,
	}
	if ra := conn.RemoteAddr(); ra != nil {
		s.Addr = ra.String()
	}
	m.Connected()
	return s
}

// Conn exposes the underlying connection handle.
func (s *Session) Conn() net.Conn { return s.conn }

// Send writes buf to the upstream while holding the transport lock.
// The lock is released on every path.
func (s *Session) Send(buf []byte) (int, error) {
	s.mu.Lock()
	n, err := s.conn.Write(buf)
	s.mu.Unlock()

	if err != nil {
		s.metrics.RecordError("send: " + err.Error())
		return n, ncerr.WrapIO("send", s.Addr, err)
	}
	s.metrics.Sent(int64(n))
	s.logger.Debug("sent %d bytes", n)
	return n, nil
}

// Receive fills buf completely while holding the transport lock.  It
// returns len(buf) on success, or 0 with a nil error if the peer closed
// before any byte arrived.  A stream that ends part-way through is
// reported as an *IOError; a partial count is never returned.
func (s *Session) Receive(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	n, err := io.ReadFull(s.conn, buf)
	s.mu.Unlock()

	switch {
	case err == nil:
		s.metrics.Received(int64(n))
		s.logger.Debug("received %d bytes", n)
		return n, nil
	case errors.Is(err, io.EOF):
		s.logger.Verbose("upstream closed the connection")
		return 0, nil
	default:
		s.metrics.RecordError("receive: " + err.Error())
		if n > 0 {
			s.logger.Warn("receive: dropped %d of %d bytes: %v", n, len(buf), err)
		}
		return 0, ncerr.WrapIO("receive", s.Addr, err)
	}
}

// CloseWrite half-closes the sending side when the connection supports
// it, signalling end of input to the upstream while replies can still
// be received.
func (s *Session) CloseWrite() error {
	type closeWriter interface{ CloseWrite() error }
	cw, ok := s.conn.(closeWriter)
	if !ok {
		return nil
	}
	return cw.CloseWrite()
}

// rawConn returns the kernel descriptor access for the probe helpers.
// SSH channels and other userspace streams have none.
func (s *Session) rawConn() (syscall.RawConn, error) {
	sc, ok := s.conn.(syscall.Conn)
	if !ok {
		return nil, ncerr.ErrProbeUnsupported
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return nil, ncerr.WrapIO("probe", s.Addr, err)
	}
	return rc, nil
}

// Close releases the connection.  It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
		s.metrics.Disconnected()
		s.logger.Verbose("session %s closed", s.ID)
	})
	return s.closeErr
}
