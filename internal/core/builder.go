package core

import (
	"unkprox/config"
	"unkprox/internal/metrics"
	"unkprox/internal/transport"
	"unkprox/tunnel"
	"unkprox/util"
)

// Build constructs the CLI mode from the given configuration.  The
// returned mode owns a fresh Proxy.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	if err := cfg.ResolveJump(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return buildRelay(cfg, logger, m), nil
}

// ── mode builders ────────────────────────────────────────────────────

func buildRelay(cfg *config.Config, logger *util.Logger, m *metrics.Collector) *RelayMode {
	return &RelayMode{
		Proxy:     NewProxy(cfg, logger, m),
		NoPoll:    cfg.NoPoll,
		QuitAfter: cfg.QuitAfter,
		Logger:    logger,
	}
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) (transport.Dialer, error) {
	if cfg.JumpSpec != "" && !cfg.JumpEnabled {
		if err := cfg.ResolveJump(); err != nil {
			return nil, err
		}
	}

	if cfg.JumpEnabled {
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.JumpUser,
			Host:          cfg.JumpHost,
			Port:          cfg.JumpPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultJumpTimeout,
		}, logger), nil
	}

	return &transport.TCPDialer{
		Timeout:   cfg.Timeout,
		LocalPort: cfg.LocalPort,
	}, nil
}
