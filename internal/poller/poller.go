// Package poller runs the background loop that watches the upstream
// session for incoming data.  Every interval it passes through a pause
// gate, probes the session without consuming anything, and raises a
// notification when bytes are waiting.
//
// The loop never exits on probe failures: a broken or closed socket
// simply looks like "no data" until the context is cancelled.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	ncerr "unkprox/internal/errors"
	"unkprox/internal/metrics"
	"unkprox/util"
)

// DefaultInterval is the delay between probes.
const DefaultInterval = 10 * time.Millisecond

// Prober is the part of a session the poller uses.  Peek must not block
// and must not consume data.
type Prober interface {
	Peek() (int, error)
}

// Notifier receives the probe's byte count when data is observed.  The
// return value is the host's acknowledgement and is only logged.
type Notifier func(n int) int

// DefaultNotifier is the built-in hook.  It acknowledges and does
// nothing else.
func DefaultNotifier(int) int { return 1 }

// Poller probes a session on a fixed interval.
type Poller struct {
	interval time.Duration
	prober   Prober
	gate     *Gate
	logger   *util.Logger
	metrics  *metrics.Collector

	mu       sync.Mutex
	notifier Notifier
	done     chan struct{}

	running       atomic.Bool
	probes        atomic.Int64
	notifications atomic.Int64
	warnedProbe   atomic.Bool
}

// New returns a stopped poller for p.  A non-positive interval selects
// DefaultInterval.
func New(p Prober, interval time.Duration, logger *util.Logger, m *metrics.Collector) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		interval: interval,
		prober:   p,
		gate:     NewGate(),
		logger:   logger,
		metrics:  m,
		notifier: DefaultNotifier,
	}
}

// SetNotifier replaces the notification hook.  A nil fn restores
// DefaultNotifier.  The hook runs on the poller goroutine while the
// gate is held, so it must not call Pause; hand the event off instead.
func (p *Poller) SetNotifier(fn Notifier) {
	if fn == nil {
		fn = DefaultNotifier
	}
	p.mu.Lock()
	p.notifier = fn
	p.mu.Unlock()
}

// Start launches the loop.  It runs until ctx is cancelled.  Starting a
// poller that is already running fails with a *ThreadError.
func (p *Poller) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return &ncerr.ThreadError{Err: ncerr.ErrAlreadyRunning}
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.done = done
	p.mu.Unlock()

	p.logger.Verbose("poller: awaiting messages every %s", p.interval)
	go p.loop(ctx, done)
	return nil
}

// Done returns a channel closed when the current loop exits, or nil if
// the poller was never started.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Running reports whether the loop goroutine is active.
func (p *Poller) Running() bool { return p.running.Load() }

// Pause stops probing.  It waits for an in-flight probe to finish, so
// no probe happens after it returns until Resume.  Calling Pause twice
// without Resume blocks until ctx ends.
func (p *Poller) Pause(ctx context.Context) error {
	if err := p.gate.Pause(ctx); err != nil {
		return err
	}
	p.metrics.Paused()
	p.logger.Debug("poller: paused")
	return nil
}

// Resume restarts probing after Pause.
func (p *Poller) Resume() error {
	if err := p.gate.Resume(); err != nil {
		return err
	}
	p.metrics.Resumed()
	p.logger.Debug("poller: resumed")
	return nil
}

// Paused reports whether the poller is currently paused.
func (p *Poller) Paused() bool { return p.gate.Paused() }

// Probes returns how many probes have been issued.
func (p *Poller) Probes() int64 { return p.probes.Load() }

// Notifications returns how many notifications have been raised.
func (p *Poller) Notifications() int64 { return p.notifications.Load() }

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer p.running.Store(false)

	tick := time.NewTicker(p.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("poller: stopped")
			return
		case <-tick.C:
		}

		if err := p.gate.Enter(ctx); err != nil {
			p.logger.Debug("poller: stopped while paused")
			return
		}
		p.probe()
		p.gate.Leave()
	}
}

// probe runs one probe.  Errors are counted and otherwise treated as
// "no data".
func (p *Poller) probe() {
	p.probes.Add(1)
	p.metrics.Probe()

	n, err := p.prober.Peek()
	if err != nil {
		p.metrics.ProbeFailed()
		if p.warnedProbe.CompareAndSwap(false, true) {
			p.logger.Debug("poller: probe failed: %v", err)
		}
		return
	}
	if n <= 0 {
		return
	}

	p.mu.Lock()
	notify := p.notifier
	p.mu.Unlock()

	p.notifications.Add(1)
	p.metrics.Notified()
	p.logger.Verbose("poller: message received (%d)", n)
	if ack := notify(n); ack != 1 {
		p.logger.Debug("poller: notifier returned %d", ack)
	}
}
