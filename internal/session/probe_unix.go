//go:build linux || darwin

package session

import (
	"errors"

	"golang.org/x/sys/unix"

	ncerr "unkprox/internal/errors"
)

// Peek probes for one byte without blocking and without consuming it.
// It does not take the transport lock.  A result of 0 with a nil error
// means either no data is queued or the peer has closed.
func (s *Session) Peek() (int, error) {
	rc, err := s.rawConn()
	if err != nil {
		return 0, err
	}

	var (
		one  [1]byte
		n    int
		rerr error
	)
	cerr := rc.Control(func(fd uintptr) {
		n, _, rerr = unix.Recvfrom(int(fd), one[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
	})
	if cerr != nil {
		return 0, ncerr.WrapIO("probe", s.Addr, cerr)
	}
	if rerr != nil {
		if errors.Is(rerr, unix.EAGAIN) || errors.Is(rerr, unix.EWOULDBLOCK) || errors.Is(rerr, unix.EINTR) {
			return 0, nil
		}
		return 0, ncerr.WrapIO("probe", s.Addr, rerr)
	}
	return n, nil
}

// Pending reports how many bytes are queued in the kernel receive
// buffer.  Callers use it to size a wait-for-all Receive after the
// poller signals data.
func (s *Session) Pending() (int, error) {
	rc, err := s.rawConn()
	if err != nil {
		return 0, err
	}

	var (
		n    int
		ierr error
	)
	cerr := rc.Control(func(fd uintptr) {
		n, ierr = unix.IoctlGetInt(int(fd), fionread)
	})
	if cerr != nil {
		return 0, ncerr.WrapIO("pending", s.Addr, cerr)
	}
	if ierr != nil {
		return 0, ncerr.WrapIO("pending", s.Addr, ierr)
	}
	return n, nil
}
