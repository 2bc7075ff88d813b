package core

import (
	"context"
	"io"
	"os"
	"time"

	ncerr "unkprox/internal/errors"
	"unkprox/util"
)

// RelayMode connects to the configured server and relays between
// stdin/stdout and the upstream session.
//
// With the poller available, stdin is sent as it arrives and replies
// are drained whenever the poller reports data: pause, size the read
// with the pending count, receive exactly that many bytes, resume.
//
// Without it (--no-poll, or a session that cannot be probed such as an
// SSH channel) the relay is half-duplex: all of stdin is sent first,
// then replies are read until the server closes or QuitAfter expires.
type RelayMode struct {
	Proxy     *Proxy
	NoPoll    bool
	QuitAfter time.Duration // wait after stdin EOF; negative waits for ctx
	Logger    *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer
}

func (m *RelayMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *RelayMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run initializes the proxy and relays until the input is exhausted and
// the reply window closes, the server hangs up, or ctx is cancelled.
// The proxy is closed when Run returns.
func (m *RelayMode) Run(ctx context.Context) error {
	defer m.Proxy.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := m.Proxy.initialize(ctx); err != nil {
		return err
	}

	if m.NoPoll {
		m.Logger.Verbose("poller disabled, relaying half-duplex")
		return m.runSequential(ctx)
	}
	if _, err := m.Proxy.pending(); ncerr.Is(err, ncerr.ErrProbeUnsupported) {
		m.Logger.Verbose("session cannot be probed, relaying half-duplex")
		return m.runSequential(ctx)
	}
	return m.runPolled(ctx)
}

// ── polled relay ─────────────────────────────────────────────────────

func (m *RelayMode) runPolled(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	m.Proxy.SetNotifier(func(int) int {
		select {
		case wake <- struct{}{}:
		default:
		}
		return StatusAck
	})
	if err := m.Proxy.startPoller(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	drained := make(chan struct{})
	recvErr := make(chan error, 1)
	go func() {
		defer close(drained)
		recvErr <- m.drainLoop(ctx, wake)
	}()
	defer func() {
		cancel()
		<-drained
	}()

	sendErr := make(chan error, 1)
	go func() { sendErr <- m.sendAll(ctx) }()

	select {
	case err := <-sendErr:
		if err != nil {
			return err
		}
	case err := <-recvErr:
		return err
	case <-ctx.Done():
		return nil
	}

	m.closeWrite()
	return m.linger(ctx, recvErr)
}

// drainLoop drains the session each time the poller signals data.
func (m *RelayMode) drainLoop(ctx context.Context, wake <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		}
		if err := m.drain(ctx); err != nil {
			return err
		}
	}
}

// drain moves whatever is queued on the session to stdout with the
// poller paused.
func (m *RelayMode) drain(ctx context.Context) error {
	if err := m.Proxy.pause(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() {
		if err := m.Proxy.resume(); err != nil {
			m.Logger.Debug("relay: resume: %v", err)
		}
	}()

	n, err := m.Proxy.pending()
	if err != nil || n == 0 {
		return err
	}

	s, err := m.Proxy.session()
	if err != nil {
		return err
	}

	buf := util.GetBuf()
	defer util.PutBuf(buf)

	for n > 0 {
		chunk := min(n, len(*buf))
		got, err := s.Receive((*buf)[:chunk])
		if err != nil {
			return err
		}
		if got == 0 {
			return nil
		}
		if _, err := m.stdout().Write((*buf)[:got]); err != nil {
			return err
		}
		n -= got
	}
	return nil
}

// linger keeps draining for QuitAfter once stdin is exhausted.
func (m *RelayMode) linger(ctx context.Context, recvErr <-chan error) error {
	if m.QuitAfter < 0 {
		select {
		case err := <-recvErr:
			return err
		case <-ctx.Done():
			return nil
		}
	}

	timer := time.NewTimer(m.QuitAfter)
	defer timer.Stop()

	select {
	case err := <-recvErr:
		return err
	case <-timer.C:
		m.Logger.Verbose("no more input, quitting after %s", m.QuitAfter)
		return nil
	case <-ctx.Done():
		return nil
	}
}

// ── half-duplex relay ────────────────────────────────────────────────

func (m *RelayMode) runSequential(ctx context.Context) error {
	if err := m.sendAll(ctx); err != nil {
		return err
	}
	m.closeWrite()

	// A blocked Receive is only interrupted by closing the session.
	stop := context.AfterFunc(ctx, func() { m.Proxy.Close() })
	defer stop()
	if m.QuitAfter >= 0 {
		timer := time.AfterFunc(m.QuitAfter, func() { m.Proxy.Close() })
		defer timer.Stop()
	}

	s, err := m.Proxy.session()
	if err != nil {
		return err
	}

	var one [1]byte
	for {
		n, err := s.Receive(one[:])
		if err != nil {
			if util.IsHarmless(err) {
				return nil
			}
			return err
		}
		if n == 0 {
			m.Logger.Verbose("server closed the connection")
			return nil
		}
		if _, err := m.stdout().Write(one[:n]); err != nil {
			return err
		}
	}
}

// ── shared ───────────────────────────────────────────────────────────

// sendAll forwards stdin to the session until EOF.
func (m *RelayMode) sendAll(ctx context.Context) error {
	s, err := m.Proxy.session()
	if err != nil {
		return err
	}
	return util.Pump(ctx, m.stdin(), func(b []byte) error {
		_, err := s.Send(b)
		return err
	})
}

func (m *RelayMode) closeWrite() {
	s, err := m.Proxy.session()
	if err != nil {
		return
	}
	if err := s.CloseWrite(); err != nil {
		m.Logger.Debug("relay: half-close: %v", err)
	}
}
