package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. YAML config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfigFile names the config file when --config is not given.
const EnvConfigFile = "UNKPROX_CONFIG"

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the UNKPROX_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("250ms") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty,
// well-formed values override the existing value.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("UNKPROX_ADDR"); v != "" {
		cfg.ServerAddr = v
	}
	if d, ok := envDuration("UNKPROX_TIMEOUT"); ok {
		cfg.Timeout = d
	}
	if v := envInt("UNKPROX_LOCAL_PORT"); v > 0 {
		cfg.LocalPort = v
	}

	// Poller / relay
	if d, ok := envDuration("UNKPROX_POLL_INTERVAL"); ok {
		cfg.PollInterval = d
	}
	if envBool("UNKPROX_NO_POLL") {
		cfg.NoPoll = true
	}
	if d, ok := envDuration("UNKPROX_QUIT_AFTER"); ok {
		cfg.QuitAfter = d
	}

	// SSH jump host
	if v := os.Getenv("UNKPROX_VIA"); v != "" {
		cfg.JumpSpec = v
	}
	if v := os.Getenv("UNKPROX_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("UNKPROX_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("UNKPROX_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("UNKPROX_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("UNKPROX_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := os.Getenv("UNKPROX_VERBOSE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Verbose = n
		}
	}
	if envBool("UNKPROX_STATS") {
		cfg.Stats = true
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
