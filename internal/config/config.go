// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config loads the station configuration document: instrument
// definitions plus engine-wide policy knobs.
package config

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/sprigga/webpdtool/errors"
)

// Connection variant names accepted in InstrumentConfig.Connection.Type.
const (
	ConnSerial    = "serial"
	ConnTCP       = "tcp"
	ConnVISA      = "visa"
	ConnSSH       = "ssh"
	ConnSerialSSH = "serial+ssh"
	ConnCAN       = "can"
	ConnUDP       = "udp"
	ConnSimulated = "simulated"
)

// ConnectionConfig describes how to reach one instrument. Which fields are
// meaningful depends on Type; Validate enforces the per-variant requirements.
type ConnectionConfig struct {
	Type string `yaml:"type"`

	// serial
	Device   string `yaml:"device"`
	Baud     int    `yaml:"baud"`
	Parity   string `yaml:"parity"`
	StopBits int    `yaml:"stop_bits"`

	// tcp, ssh, udp
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// udp (VCU-style devices with separate connect and test endpoints)
	ConnectPort int `yaml:"connect_port"`
	TestPort    int `yaml:"test_port"`

	// visa
	Resource string `yaml:"resource"`

	// ssh
	User    string `yaml:"user"`
	Secret  string `yaml:"secret"`
	KeyFile string `yaml:"key_file"`

	// can
	Channel string `yaml:"channel"`
	Bitrate int    `yaml:"bitrate"`
	FD      bool   `yaml:"fd"`

	// simulated
	Model string `yaml:"model"`

	TimeoutMS int `yaml:"timeout_ms"`
}

// Validate checks that the variant's mandatory fields are present.
func (c *ConnectionConfig) Validate() error {
	switch c.Type {
	case ConnSerial:
		if c.Device == "" {
			return errors.New("serial connection requires device")
		}
		if c.Baud <= 0 {
			return errors.New("serial connection requires baud")
		}
	case ConnTCP:
		if c.Host == "" || c.Port <= 0 {
			return errors.New("tcp connection requires host and port")
		}
	case ConnVISA:
		if c.Resource == "" {
			return errors.New("visa connection requires resource")
		}
	case ConnSSH:
		if c.Host == "" || c.User == "" {
			return errors.New("ssh connection requires host and user")
		}
		if c.Secret == "" && c.KeyFile == "" {
			return errors.New("ssh connection requires secret or key_file")
		}
	case ConnSerialSSH:
		if c.Device == "" || c.Host == "" || c.User == "" {
			return errors.New("serial+ssh connection requires device, host and user")
		}
	case ConnCAN:
		if c.Channel == "" {
			return errors.New("can connection requires channel")
		}
	case ConnUDP:
		if c.Host == "" || c.ConnectPort <= 0 || c.TestPort <= 0 {
			return errors.New("udp connection requires host, connect_port and test_port")
		}
	case ConnSimulated:
	case "":
		return errors.New("connection requires type")
	default:
		return errors.Errorf("unknown connection type %q", c.Type)
	}
	return nil
}

// InstrumentConfig declares one instrument available to test plans.
type InstrumentConfig struct {
	ID         string            `yaml:"id"`
	Type       string            `yaml:"type"`
	Connection ConnectionConfig  `yaml:"connection"`
	Options    map[string]string `yaml:"options"`
	Enabled    *bool             `yaml:"enabled"`
}

// IsEnabled reports whether the instrument may be leased. Instruments are
// enabled unless the document says otherwise.
func (c *InstrumentConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Config is the process-wide configuration document.
type Config struct {
	Instruments          []InstrumentConfig `yaml:"instruments"`
	ReportRoot           string             `yaml:"report_root"`
	DefaultItemTimeoutMS int                `yaml:"default_item_timeout_ms"`
	StopOnFail           bool               `yaml:"stop_on_fail"`
	Simulation           bool               `yaml:"simulation"`
}

// Default returns a Config carrying the documented defaults.
func Default() *Config {
	return &Config{
		ReportRoot:           "./reports",
		DefaultItemTimeoutMS: 30000,
		StopOnFail:           true,
	}
}

// Parse unmarshals a YAML document over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "in config %s", path)
	}
	return cfg, nil
}

// Validate checks instrument uniqueness and per-connection requirements.
func (c *Config) Validate() error {
	if c.DefaultItemTimeoutMS <= 0 {
		return errors.New("default_item_timeout_ms must be positive")
	}
	seen := make(map[string]bool)
	for i := range c.Instruments {
		inst := &c.Instruments[i]
		if inst.ID == "" {
			return errors.Errorf("instrument #%d has no id", i)
		}
		if inst.Type == "" {
			return errors.Errorf("instrument %s has no type", inst.ID)
		}
		if seen[inst.ID] {
			return errors.Errorf("duplicate instrument id %q", inst.ID)
		}
		seen[inst.ID] = true
		if err := inst.Connection.Validate(); err != nil {
			return errors.Wrapf(err, "instrument %s", inst.ID)
		}
	}
	return nil
}

// Instrument returns the configuration for the given id.
func (c *Config) Instrument(id string) (*InstrumentConfig, bool) {
	for i := range c.Instruments {
		if c.Instruments[i].ID == id {
			return &c.Instruments[i], true
		}
	}
	return nil, false
}
