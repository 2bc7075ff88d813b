// Package transport provides the ways a session can reach its single
// upstream.  A Dialer only establishes the byte stream; everything that
// happens over it (guarded send/receive, probing) belongs to the
// session package.
package transport

import (
	"context"
	"net"
)

// Dialer opens the outbound stream to the upstream.  Implementations
// are a plain TCP dialer and an SSH dialer that reaches the upstream
// through a jump host.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH client).  Stateless dialers return nil.
	Close() error
}
