//go:build !linux && !darwin

package session

import ncerr "unkprox/internal/errors"

// Peek is unavailable on this platform.
func (s *Session) Peek() (int, error) {
	return 0, ncerr.ErrProbeUnsupported
}

// Pending is unavailable on this platform.
func (s *Session) Pending() (int, error) {
	return 0, ncerr.ErrProbeUnsupported
}
