// Package cmd wires up the CLI flags and dispatches to the proxy core.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"unkprox/config"
	"unkprox/internal/core"
	"unkprox/internal/metrics"
	"unkprox/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X unkprox/cmd.version=2.0.0"
var version = "0.1.0" //nolint:gochecknoglobals

// Execute parses args and runs the relay against the configured server.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()

	// ── file and environment (lower precedence than flags) ───────
	path := configPath(args)
	if path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("unkprox", flag.ContinueOnError)

	// ── upstream ─────────────────────────────────────────────────
	fs.StringVarP(&cfg.ServerAddr, "addr", "a", cfg.ServerAddr, "Upstream server as IPv4 host:port")
	fs.DurationVarP(&cfg.Timeout, "timeout", "w", cfg.Timeout, "Connect timeout (0 = OS default)")
	fs.IntVarP(&cfg.LocalPort, "port", "p", cfg.LocalPort, "Local source port")

	// ── poller / relay ───────────────────────────────────────────
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Delay between poller probes")
	fs.BoolVar(&cfg.NoPoll, "no-poll", cfg.NoPoll, "Disable the poller and relay half-duplex")
	fs.DurationVarP(&cfg.QuitAfter, "quit-after", "q", cfg.QuitAfter, "Wait after stdin EOF (negative = forever)")

	// ── SSH jump host ────────────────────────────────────────────
	fs.StringVarP(&cfg.JumpSpec, "via", "J", cfg.JumpSpec, "Reach the server through [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	var extraVerbose int
	fs.CountVarP(&extraVerbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&cfg.Stats, "stats", cfg.Stats, "Print session metrics as JSON on exit")

	var configFile string
	fs.StringVar(&configFile, "config", path, "YAML config file (also "+config.EnvConfigFile+")")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate configuration and exit")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("unkprox %s\n", version)
		return nil
	}

	cfg.Verbose += extraVerbose

	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		cfg.ServerAddr = rest[0]
	default:
		return fmt.Errorf("too many arguments: %s", strings.Join(rest, " "))
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	m := metrics.New()

	mode, err := core.Build(cfg, logger, m)
	if err != nil {
		return err
	}

	if dryRun {
		printSummary(cfg)
		return nil
	}

	err = mode.Run(ctx)
	if cfg.Stats {
		fmt.Fprintln(os.Stderr, m.JSON())
	}
	return err
}

// configPath finds --config in args without a full parse so the file
// can be loaded before the flags that override it are registered.
func configPath(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv(config.EnvConfigFile)
}

func printSummary(cfg *config.Config) {
	fmt.Printf("server:        %s\n", cfg.ServerAddr)
	if cfg.NoPoll {
		fmt.Println("poller:        disabled")
	} else {
		fmt.Printf("poller:        every %s\n", cfg.PollInterval)
	}
	fmt.Printf("quit after:    %s\n", cfg.QuitAfter)
	if cfg.JumpEnabled {
		fmt.Printf("jump host:     %s\n", util.FormatAddr(cfg.JumpHost, cfg.JumpPort))
	}
	if cfg.ConfigFile != "" {
		fmt.Printf("config file:   %s\n", cfg.ConfigFile)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `unkprox – minimal single-upstream proxy client v%s

Connects to one TCP server, relays stdin to it, and copies replies to
stdout as the background poller notices them.

Usage:
  unkprox [options] [ip:port]

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  echo PING | unkprox 127.0.0.1:9009           Send and print the reply
  unkprox -vv --poll-interval 50ms             Compiled-in server, slower polling
  unkprox -J ops@bastion 10.0.0.5:9009         Through an SSH jump host
  unkprox --config unkprox.yaml --dry-run      Check a config file
`)
}
