// Package errors provides the error taxonomy for unkprox and the mapping
// from that taxonomy to the signed status codes returned at the host
// boundary.
//
// The structured types carry enough context (address, operation, init
// step) for diagnostics in the log, while callers on the far side of the
// boundary only ever see the integer produced by [Code].
package errors

import (
	"errors"
	"fmt"
)

// ── Status codes ─────────────────────────────────────────────────────
//
// Zero or positive is success (or a byte count); negative is failure.

const (
	CodeOK                 = 0
	CodeAddressParse       = -1
	CodeConnect            = -2
	CodeIO                 = -3
	CodeThread             = -4
	CodeInit               = -5
	CodeNotConnected       = -6
	CodeBounds             = -7
	CodeAlreadyInitialized = -8
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNotConnected       = errors.New("not connected")
	ErrAlreadyConnected   = errors.New("session already connected")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrAlreadyRunning     = errors.New("poller already running")
	ErrNotPaused          = errors.New("poller is not paused")
	ErrProbeUnsupported   = errors.New("connection does not support non-blocking probe")
	ErrBufferBounds       = errors.New("size exceeds buffer capacity")
	ErrTunnelClosed       = errors.New("tunnel is closed")
)

// ── Structured error types ───────────────────────────────────────────

// AddressParseError reports a malformed upstream address.  It is always
// returned before any socket is created.
type AddressParseError struct {
	Addr   string
	Reason string
}

func (e *AddressParseError) Error() string {
	return fmt.Sprintf("parse address %q: %s", e.Addr, e.Reason)
}

// ConnectionError wraps a failure to create or connect the socket.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IOError wraps a send or receive failure on an established session.
type IOError struct {
	Op   string // "send", "receive", "probe", "pending"
	Addr string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ThreadError reports that the poller could not be started.
type ThreadError struct {
	Err error
}

func (e *ThreadError) Error() string { return "poller: " + e.Err.Error() }

func (e *ThreadError) Unwrap() error { return e.Err }

// InitError reports a failed initialization sub-step.
type InitError struct {
	Step string // "logging", "gate", "connect"
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init %s: %v", e.Step, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with jump host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "channel"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// WrapIO creates an IOError.
func WrapIO(op, addr string, err error) *IOError {
	return &IOError{Op: op, Addr: addr, Err: err}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification ───────────────────────────────────────────────────

// Code maps err to the boundary status code.  A nil error is CodeOK;
// anything unrecognised is reported as an I/O failure.
func Code(err error) int {
	if err == nil {
		return CodeOK
	}

	var (
		ape *AddressParseError
		ce  *ConnectionError
		se  *SSHError
		te  *ThreadError
		ie  *InitError
	)
	switch {
	case errors.Is(err, ErrAlreadyInitialized):
		return CodeAlreadyInitialized
	case errors.Is(err, ErrNotConnected):
		return CodeNotConnected
	case errors.Is(err, ErrBufferBounds):
		return CodeBounds
	case errors.As(err, &ie):
		// A failed connect during init still reports as an init failure.
		return CodeInit
	case errors.As(err, &ape):
		return CodeAddressParse
	case errors.As(err, &ce), errors.As(err, &se):
		return CodeConnect
	case errors.As(err, &te), errors.Is(err, ErrAlreadyRunning):
		return CodeThread
	}
	return CodeIO
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
