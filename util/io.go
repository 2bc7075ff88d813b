package util

import (
	"context"
	"errors"
	"io"
	"net"
)

// Pump reads r in pooled chunks and hands each chunk to fn until r
// reaches EOF, fn fails, or ctx is cancelled.  The chunk passed to fn is
// only valid for the duration of the call.  EOF is reported as nil.
//
// A blocked Read on r is not interrupted by cancellation; Pump returns
// as soon as the read completes.
func Pump(ctx context.Context, r io.Reader, fn func([]byte) error) error {
	buf := GetBuf()
	defer PutBuf(buf)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(*buf)
		if n > 0 {
			if ferr := fn((*buf)[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if IsHarmless(err) {
				return nil
			}
			return err
		}
	}
}

// IsHarmless returns true for errors that are expected during shutdown.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
