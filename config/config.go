// Package config defines the runtime configuration for unkprox and the
// helpers that parse and validate it.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	ncerr "unkprox/internal/errors"
	"unkprox/util"
)

// Config holds every tuneable for a proxy session.
type Config struct {
	// ── Upstream ─────────────────────────────────────────────────────
	ServerAddr string        // IPv4 host:port of the single upstream
	Timeout    time.Duration // connect timeout (0 = OS default)
	LocalPort  int           // optional source port

	// ── Poller / relay ───────────────────────────────────────────────
	PollInterval time.Duration
	NoPoll       bool          // read replies with blocking receives instead
	QuitAfter    time.Duration // drain time after stdin EOF (<0 = forever)

	// ── SSH jump host ────────────────────────────────────────────────
	JumpSpec       string // raw [user@]host[:port] from --via
	JumpEnabled    bool
	JumpUser       string
	JumpHost       string
	JumpPort       int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int
	Stats      bool   // print metrics JSON on exit
	ConfigFile string // YAML file the values were loaded from, if any
}

// ── Jump-spec parser ─────────────────────────────────────────────────

// jumpRe matches [user@]host[:port].
var jumpRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseJumpSpec extracts user, host, and port from a string such as
// "ops@bastion.example.com:2222".  Port defaults to 22.
func ParseJumpSpec(spec string) (user, host string, port int, err error) {
	m := jumpRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid jump spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid jump port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ResolveJump parses JumpSpec into the Jump* fields.  An empty spec
// disables the jump host.
func (c *Config) ResolveJump() error {
	if c.JumpSpec == "" {
		c.JumpEnabled = false
		return nil
	}
	user, host, port, err := ParseJumpSpec(c.JumpSpec)
	if err != nil {
		return &ncerr.ConfigError{Field: "via", Value: c.JumpSpec, Message: err.Error()}
	}
	c.JumpEnabled = true
	c.JumpUser = user
	c.JumpHost = host
	c.JumpPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return &ncerr.ConfigError{
			Field:   "addr",
			Message: "server address is required",
			Hint:    "set --addr, UNKPROX_ADDR, or server.address in the config file",
		}
	}
	if _, err := util.ParseIPv4AddrPort(c.ServerAddr); err != nil {
		return &ncerr.ConfigError{
			Field:   "addr",
			Value:   c.ServerAddr,
			Message: err.Error(),
			Hint:    "use a numeric IPv4 address such as 10.0.0.5:9009",
		}
	}

	if c.Timeout < 0 {
		return &ncerr.ConfigError{Field: "timeout", Value: c.Timeout, Message: "must not be negative"}
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return &ncerr.ConfigError{Field: "port", Value: c.LocalPort, Message: "out of range 0-65535"}
	}
	if !c.NoPoll && c.PollInterval <= 0 {
		return &ncerr.ConfigError{
			Field:   "poll-interval",
			Value:   c.PollInterval,
			Message: "must be positive",
			Hint:    "use --no-poll to disable the poller",
		}
	}

	if c.JumpEnabled && c.JumpHost == "" {
		return &ncerr.ConfigError{Field: "via", Message: "jump host is required"}
	}
	if c.SSHPassword && !c.JumpEnabled {
		return &ncerr.ConfigError{
			Field:   "ssh-password",
			Message: "only meaningful with a jump host",
			Hint:    "add --via user@host",
		}
	}

	return nil
}
