package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML layout.  Pointer fields distinguish
// "absent" from the zero value so only keys present in the file
// override the defaults.
//
//	server:
//	  address: 10.0.0.5:9009
//	  timeout: 5s
//	poller:
//	  interval: 10ms
//	relay:
//	  quit_after: 2s
//	jump:
//	  via: ops@bastion:22
//	  key: ~/.ssh/id_ed25519
type fileConfig struct {
	Server struct {
		Address   *string        `yaml:"address"`
		Timeout   *time.Duration `yaml:"timeout"`
		LocalPort *int           `yaml:"local_port"`
	} `yaml:"server"`

	Poller struct {
		Interval *time.Duration `yaml:"interval"`
		Disabled *bool          `yaml:"disabled"`
	} `yaml:"poller"`

	Relay struct {
		QuitAfter *time.Duration `yaml:"quit_after"`
	} `yaml:"relay"`

	Jump struct {
		Via           *string `yaml:"via"`
		Key           *string `yaml:"key"`
		Password      *bool   `yaml:"password"`
		Agent         *bool   `yaml:"agent"`
		StrictHostKey *bool   `yaml:"strict_host_key"`
		KnownHosts    *string `yaml:"known_hosts"`
	} `yaml:"jump"`

	Verbose *int  `yaml:"verbose"`
	Stats   *bool `yaml:"stats"`
}

// LoadFile overlays the YAML file at path onto cfg.  Unknown keys are
// rejected so typos do not silently fall back to defaults.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	fc.apply(cfg)
	cfg.ConfigFile = path
	return nil
}

func (fc *fileConfig) apply(cfg *Config) {
	setString(&cfg.ServerAddr, fc.Server.Address)
	setDuration(&cfg.Timeout, fc.Server.Timeout)
	if fc.Server.LocalPort != nil {
		cfg.LocalPort = *fc.Server.LocalPort
	}

	setDuration(&cfg.PollInterval, fc.Poller.Interval)
	setBool(&cfg.NoPoll, fc.Poller.Disabled)
	setDuration(&cfg.QuitAfter, fc.Relay.QuitAfter)

	setString(&cfg.JumpSpec, fc.Jump.Via)
	setString(&cfg.SSHKeyPath, fc.Jump.Key)
	setBool(&cfg.SSHPassword, fc.Jump.Password)
	setBool(&cfg.UseSSHAgent, fc.Jump.Agent)
	setBool(&cfg.StrictHostKey, fc.Jump.StrictHostKey)
	setString(&cfg.KnownHostsPath, fc.Jump.KnownHosts)

	if fc.Verbose != nil {
		cfg.Verbose = *fc.Verbose
	}
	setBool(&cfg.Stats, fc.Stats)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}
