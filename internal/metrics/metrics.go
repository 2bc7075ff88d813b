// Package metrics provides lightweight, lock-free counters for tracking
// the runtime statistics of a proxy session: traffic on the guarded
// transport, poller activity, and errors.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for the proxy session.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connected     atomic.Bool
	bytesIn       atomic.Int64
	bytesOut      atomic.Int64
	sends         atomic.Int64
	receives      atomic.Int64
	probes        atomic.Int64
	probeErrors   atomic.Int64
	notifications atomic.Int64
	pauses        atomic.Int64
	resumes       atomic.Int64
	errorsTotal   atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	connectedAt  time.Time
	lastNotify   time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session ──────────────────────────────────────────────────────────

// Connected records that the upstream session was established.
func (c *Collector) Connected() {
	if c == nil {
		return
	}
	c.connected.Store(true)
	c.mu.Lock()
	c.connectedAt = time.Now()
	c.mu.Unlock()
}

// Disconnected records that the session was closed.
func (c *Collector) Disconnected() {
	if c == nil {
		return
	}
	c.connected.Store(false)
}

// IsConnected reports whether a session is currently open.
func (c *Collector) IsConnected() bool {
	if c == nil {
		return false
	}
	return c.connected.Load()
}

// ── Guarded transport ────────────────────────────────────────────────

// Sent records one send call that wrote n bytes.
func (c *Collector) Sent(n int64) {
	if c == nil {
		return
	}
	c.sends.Add(1)
	c.bytesOut.Add(n)
}

// Received records one receive call that read n bytes.
func (c *Collector) Received(n int64) {
	if c == nil {
		return
	}
	c.receives.Add(1)
	c.bytesIn.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Poller ───────────────────────────────────────────────────────────

// Probe records one poller probe attempt.
func (c *Collector) Probe() {
	if c == nil {
		return
	}
	c.probes.Add(1)
}

// ProbeFailed records a probe that returned an error.  These are
// otherwise swallowed by the poller.
func (c *Collector) ProbeFailed() {
	if c == nil {
		return
	}
	c.probeErrors.Add(1)
}

// Probes returns the number of probe attempts.
func (c *Collector) Probes() int64 {
	if c == nil {
		return 0
	}
	return c.probes.Load()
}

// Notified records a data-available notification.
func (c *Collector) Notified() {
	if c == nil {
		return
	}
	c.notifications.Add(1)
	c.mu.Lock()
	c.lastNotify = time.Now()
	c.mu.Unlock()
}

// Notifications returns the number of notifications raised.
func (c *Collector) Notifications() int64 {
	if c == nil {
		return 0
	}
	return c.notifications.Load()
}

// Paused records a poller pause.
func (c *Collector) Paused() {
	if c == nil {
		return
	}
	c.pauses.Add(1)
}

// Resumed records a poller resume.
func (c *Collector) Resumed() {
	if c == nil {
		return
	}
	c.resumes.Add(1)
}

// ── Errors ───────────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	Connected        bool   `json:"connected"`
	ConnectedAt      string `json:"connected_at,omitempty"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	Sends            int64  `json:"sends"`
	Receives         int64  `json:"receives"`
	Probes           int64  `json:"probes"`
	ProbeErrors      int64  `json:"probe_errors"`
	Notifications    int64  `json:"notifications"`
	LastNotification string `json:"last_notification,omitempty"`
	Pauses           int64  `json:"pauses"`
	Resumes          int64  `json:"resumes"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:        time.Since(c.startTime).Truncate(time.Second).String(),
		Connected:     c.connected.Load(),
		BytesIn:       c.bytesIn.Load(),
		BytesOut:      c.bytesOut.Load(),
		Sends:         c.sends.Load(),
		Receives:      c.receives.Load(),
		Probes:        c.probes.Load(),
		ProbeErrors:   c.probeErrors.Load(),
		Notifications: c.notifications.Load(),
		Pauses:        c.pauses.Load(),
		Resumes:       c.resumes.Load(),
		ErrorsTotal:   c.errorsTotal.Load(),
	}
	if !c.connectedAt.IsZero() {
		s.ConnectedAt = c.connectedAt.Format(time.RFC3339)
	}
	if !c.lastNotify.IsZero() {
		s.LastNotification = c.lastNotify.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
