package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPDialer opens the session's stream as plain IPv4 TCP.  "tcp" is
// narrowed to "tcp4" so the socket family always matches the dotted-quad
// address the session was configured with.  A zero Timeout leaves the
// connect timeout to the operating system.
type TCPDialer struct {
	Timeout   time.Duration
	LocalPort int // optional source-port binding (0 = ephemeral)
}

// Dial connects to address over IPv4 TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4":
		network = "tcp4"
	default:
		return nil, fmt.Errorf("tcp dialer: unsupported network %q", network)
	}

	dialer := net.Dialer{Timeout: d.Timeout}
	if d.LocalPort > 0 {
		dialer.LocalAddr = &net.TCPAddr{IP: net.IPv4zero, Port: d.LocalPort}
	}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op; the dialer holds nothing between calls.
func (d *TCPDialer) Close() error { return nil }
