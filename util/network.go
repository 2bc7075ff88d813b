package util

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	ncerr "unkprox/internal/errors"
)

// ParseIPv4AddrPort parses addr as a numeric IPv4 "a.b.c.d:port".
// Hostnames, IPv6 literals, and port 0 are rejected; nothing is resolved.
func ParseIPv4AddrPort(addr string) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return netip.AddrPort{}, &ncerr.AddressParseError{Addr: addr, Reason: "expected host:port"}
	}

	ip, err := netip.ParseAddr(host)
	if err != nil || !ip.Is4() {
		return netip.AddrPort{}, &ncerr.AddressParseError{Addr: addr, Reason: "host is not an IPv4 literal"}
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return netip.AddrPort{}, &ncerr.AddressParseError{
			Addr:   addr,
			Reason: fmt.Sprintf("port %q out of range 1-65535", portStr),
		}
	}
	return netip.AddrPortFrom(ip, uint16(port)), nil
}

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
