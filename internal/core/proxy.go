package core

import (
	"context"
	"net"
	"sync"

	"unkprox/config"
	ncerr "unkprox/internal/errors"
	"unkprox/internal/metrics"
	"unkprox/internal/poller"
	"unkprox/internal/session"
	"unkprox/internal/transport"
	"unkprox/util"
)

// Boundary status codes.  Methods that move data return a byte count
// instead of StatusOK on success; every failure is negative.
const (
	StatusOK                 = ncerr.CodeOK
	StatusAddressParse       = ncerr.CodeAddressParse
	StatusConnect            = ncerr.CodeConnect
	StatusIO                 = ncerr.CodeIO
	StatusThread             = ncerr.CodeThread
	StatusInit               = ncerr.CodeInit
	StatusNotConnected       = ncerr.CodeNotConnected
	StatusBounds             = ncerr.CodeBounds
	StatusAlreadyInitialized = ncerr.CodeAlreadyInitialized

	// StatusAck is returned by the pause, resume, and notification calls.
	StatusAck = 1
)

// Proxy is the host-facing surface.  It holds at most one session and
// the poller bound to it, and reports every outcome as a signed int.
type Proxy struct {
	cfg     *config.Config
	logger  *util.Logger
	metrics *metrics.Collector

	mu            sync.Mutex
	initialized   bool
	closed        bool
	dialer        transport.Dialer
	sess          *session.Session
	poller        *poller.Poller
	stopPoller    context.CancelFunc
	cancelConnect context.CancelFunc // non-nil while a dial is in flight

	hookMu sync.RWMutex
	hook   poller.Notifier
}

// NewProxy returns an unconnected proxy.  A nil cfg selects
// config.Default(); a nil logger logs at cfg.Verbose.
func NewProxy(cfg *config.Config, logger *util.Logger, m *metrics.Collector) *Proxy {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = util.NewLogger(cfg.Verbose)
	}
	p := &Proxy{cfg: cfg, logger: logger, metrics: m}
	p.hook = p.OnMessageReceived
	return p
}

// Metrics returns the collector, which may be nil.
func (p *Proxy) Metrics() *metrics.Collector { return p.metrics }

// Initialize performs the one-time setup and connects to the configured
// server address.  A second call returns StatusAlreadyInitialized; a
// failed connect returns StatusInit and is not retried.
func (p *Proxy) Initialize(ctx context.Context) int {
	return status(p.initialize(ctx))
}

// ConnectToServer dials address.  It returns StatusOK, or
// StatusAddressParse / StatusConnect.
func (p *Proxy) ConnectToServer(ctx context.Context, address string) int {
	return status(p.connect(ctx, address))
}

// SendToServer writes the first size bytes of buf and returns the count
// sent.
func (p *Proxy) SendToServer(buf []byte, size int) int {
	if size < 0 || size > len(buf) {
		return status(p.boundsError("send", size, len(buf)))
	}
	s, err := p.session()
	if err != nil {
		return status(err)
	}
	n, err := s.Send(buf[:size])
	if err != nil {
		p.logger.Error("%v", err)
		return status(err)
	}
	return n
}

// ReceiveFromServer blocks until exactly size bytes have been read into
// buf and returns size.  It returns 0 if the server closed before any
// byte arrived.
func (p *Proxy) ReceiveFromServer(buf []byte, size int) int {
	if size < 0 || size > len(buf) {
		return status(p.boundsError("receive", size, len(buf)))
	}
	s, err := p.session()
	if err != nil {
		return status(err)
	}
	n, err := s.Receive(buf[:size])
	if err != nil {
		p.logger.Error("%v", err)
		return status(err)
	}
	return n
}

// PendingBytes reports how many received bytes are waiting to be read,
// or a negative status when the session cannot be probed.
func (p *Proxy) PendingBytes() int {
	n, err := p.pending()
	if err != nil {
		return status(err)
	}
	return n
}

// CreatePollerThread starts the background poller.  It runs until ctx
// is cancelled or the proxy is closed.
func (p *Proxy) CreatePollerThread(ctx context.Context) int {
	return status(p.startPoller(ctx))
}

// PausePoller blocks until no probe is in flight, then stops probing.
// It returns StatusAck, or StatusThread if ctx ends first.
func (p *Proxy) PausePoller(ctx context.Context) int {
	if err := p.pause(ctx); err != nil {
		return status(err)
	}
	return StatusAck
}

// ResumePoller lets the poller probe again.
func (p *Proxy) ResumePoller() int {
	if err := p.resume(); err != nil {
		return status(err)
	}
	return StatusAck
}

// OnMessageReceived is the built-in notification hook.
func (p *Proxy) OnMessageReceived(n int) int {
	p.logger.Debug("message received: %d byte(s) waiting", n)
	return StatusAck
}

// SetNotifier replaces the notification hook.  A nil fn restores
// OnMessageReceived.  fn runs on the poller goroutine with the poller's
// gate held, so it must not call PausePoller itself.
func (p *Proxy) SetNotifier(fn poller.Notifier) {
	if fn == nil {
		fn = p.OnMessageReceived
	}
	p.hookMu.Lock()
	p.hook = fn
	p.hookMu.Unlock()
}

// Close stops the poller, closes the session, and releases the dialer.
// A connect still in flight is cancelled and does not wait; its session
// is closed as soon as the dial returns.  It is safe to call more than
// once.
func (p *Proxy) Close() error {
	p.mu.Lock()
	p.closed = true
	stop, pl, s, d := p.stopPoller, p.poller, p.sess, p.dialer
	p.stopPoller = nil
	if p.cancelConnect != nil {
		p.cancelConnect()
		d = nil // released by connect once the dial returns
	}
	p.mu.Unlock()

	if stop != nil {
		stop()
		if done := pl.Done(); done != nil {
			<-done
		}
	}

	var errs []error
	if s != nil {
		if err := s.Close(); err != nil && !util.IsHarmless(err) {
			errs = append(errs, err)
		}
	}
	if d != nil {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return ncerr.Join(errs...)
}

// ── error-returning internals ────────────────────────────────────────

func (p *Proxy) initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		p.logger.Warn("initialize called twice")
		return ncerr.ErrAlreadyInitialized
	}
	p.initialized = true
	p.mu.Unlock()

	p.logger.Info("initializing")
	if err := p.connect(ctx, p.cfg.ServerAddr); err != nil {
		ierr := &ncerr.InitError{Step: "connect", Err: err}
		p.logger.Error("%v", ierr)
		return ierr
	}
	return nil
}

func (p *Proxy) connect(ctx context.Context, address string) error {
	d, ctx, err := p.beginConnect(ctx, address)
	if err != nil {
		return err
	}

	s, err := session.Connect(ctx, d, address, p.logger, p.metrics)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelConnect()
	p.cancelConnect = nil

	if p.closed {
		if s != nil {
			s.Close()
		}
		d.Close()
		if err == nil {
			err = &ncerr.ConnectionError{Addr: address, Err: net.ErrClosed}
		}
		return err
	}
	if err != nil {
		return err
	}

	p.sess = s
	p.poller = poller.New(s, p.cfg.PollInterval, p.logger, p.metrics)
	p.poller.SetNotifier(p.notify)
	return nil
}

// beginConnect claims the single connect slot.  The dial itself runs
// without p.mu so other calls report StatusNotConnected meanwhile.
func (p *Proxy) beginConnect(ctx context.Context, address string) (transport.Dialer, context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return nil, nil, &ncerr.ConnectionError{Addr: address, Err: net.ErrClosed}
	case p.sess != nil, p.cancelConnect != nil:
		return nil, nil, &ncerr.ConnectionError{Addr: address, Err: ncerr.ErrAlreadyConnected}
	}

	if p.dialer == nil {
		d, err := buildDialer(p.cfg, p.logger)
		if err != nil {
			return nil, nil, err
		}
		p.dialer = d
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancelConnect = cancel
	return p.dialer, ctx, nil
}

func (p *Proxy) session() (*session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil, ncerr.ErrNotConnected
	}
	return p.sess, nil
}

func (p *Proxy) currentPoller() (*poller.Poller, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.poller == nil {
		return nil, ncerr.ErrNotConnected
	}
	return p.poller, nil
}

func (p *Proxy) pending() (int, error) {
	s, err := p.session()
	if err != nil {
		return 0, err
	}
	return s.Pending()
}

func (p *Proxy) startPoller(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.poller == nil {
		return ncerr.ErrNotConnected
	}
	pctx, cancel := context.WithCancel(ctx)
	if err := p.poller.Start(pctx); err != nil {
		cancel()
		p.logger.Error("%v", err)
		return err
	}
	p.stopPoller = cancel
	return nil
}

func (p *Proxy) pause(ctx context.Context) error {
	pl, err := p.currentPoller()
	if err != nil {
		return err
	}
	if err := pl.Pause(ctx); err != nil {
		return &ncerr.ThreadError{Err: err}
	}
	return nil
}

func (p *Proxy) resume() error {
	pl, err := p.currentPoller()
	if err != nil {
		return err
	}
	if err := pl.Resume(); err != nil {
		return &ncerr.ThreadError{Err: err}
	}
	return nil
}

// notify forwards a poller notification to the current hook.
func (p *Proxy) notify(n int) int {
	p.hookMu.RLock()
	fn := p.hook
	p.hookMu.RUnlock()
	return fn(n)
}

func (p *Proxy) boundsError(op string, size, capacity int) error {
	p.logger.Error("%s: size %d outside buffer of %d bytes", op, size, capacity)
	p.metrics.RecordError(op + ": " + ncerr.ErrBufferBounds.Error())
	return ncerr.ErrBufferBounds
}

func status(err error) int {
	return ncerr.Code(err)
}
