package config

import "time"

// ServerAddress is the compiled-in upstream.  Override it at link time:
//
//	go build -ldflags "-X unkprox/config.ServerAddress=10.0.0.5:9009"
var ServerAddress = "127.0.0.1:9009" //nolint:gochecknoglobals

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPollInterval is the delay between poller probes.
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultConnTimeout is zero: the connect timeout is left to the
	// operating system.
	DefaultConnTimeout time.Duration = 0

	// DefaultQuitAfter is how long the relay keeps draining replies
	// after local input reaches EOF.
	DefaultQuitAfter = time.Second

	// DefaultSSHPort is the standard SSH port for the jump host.
	DefaultSSHPort = 22

	// DefaultJumpTimeout bounds the SSH handshake with the jump host.
	DefaultJumpTimeout = 30 * time.Second
)

// Default returns a Config populated with the compiled-in defaults.
func Default() *Config {
	return &Config{
		ServerAddr:   ServerAddress,
		Timeout:      DefaultConnTimeout,
		PollInterval: DefaultPollInterval,
		QuitAfter:    DefaultQuitAfter,
		Verbose:      1,
	}
}
