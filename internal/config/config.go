// Package config loads the YAML configuration surface shared by the
// coordinator and forwarder-agent binaries, per spec §6.4. Grounded on
// alfred-ai/internal/infra/config: YAML-backed, validated once at
// load, fatal on parse/validation error.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BLE is the device-selection and radio-timing portion of the config
// surface, shared verbatim by the coordinator's local endpoint and
// every agent's endpoint.
type BLE struct {
	DeviceAddress        string   `yaml:"deviceAddress"`
	AddressType          string   `yaml:"addressType"` // "public" | "random"
	HCIInterfaceIndex    int      `yaml:"hciInterfaceIndex"`
	DeviceNamePatterns   []string `yaml:"deviceNamePatterns"`
	ScanDurationMS       int64    `yaml:"scanDuration"`
	ReconnectDelayMS     int64    `yaml:"reconnectDelay"`
	BatteryCheckMS       int64    `yaml:"batteryCheckInterval"`
	ScanOnStart          bool     `yaml:"scanOnStart"`
}

// ScanDuration returns the configured scan duration, or the spec's
// default of 10s.
func (b BLE) ScanDuration() time.Duration {
	if b.ScanDurationMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(b.ScanDurationMS) * time.Millisecond
}

// ReconnectDelay returns the configured BLE reconnect delay, or the
// spec's default of 5s.
func (b BLE) ReconnectDelay() time.Duration {
	if b.ReconnectDelayMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(b.ReconnectDelayMS) * time.Millisecond
}

// BatteryCheckInterval returns the configured battery poll interval,
// or the spec's default of 30 minutes.
func (b BLE) BatteryCheckInterval() time.Duration {
	if b.BatteryCheckMS <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(b.BatteryCheckMS) * time.Millisecond
}

// Coordinator is the coordinator-only portion of the config surface.
type Coordinator struct {
	ListenAddr      string `yaml:"listenAddr"`
	Token           string `yaml:"token"`
	PingIntervalMS  int64  `yaml:"pingInterval"`
	StaleTimeoutMS  int64  `yaml:"staleTimeout"`
	HandoffTimeoutMS int64 `yaml:"handoffTimeout"`
	AdminSocketPath string `yaml:"adminSocketPath"`
}

func (c Coordinator) PingInterval() time.Duration {
	if c.PingIntervalMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PingIntervalMS) * time.Millisecond
}

func (c Coordinator) StaleTimeout() time.Duration {
	if c.StaleTimeoutMS <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.StaleTimeoutMS) * time.Millisecond
}

func (c Coordinator) HandoffTimeout() time.Duration {
	if c.HandoffTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.HandoffTimeoutMS) * time.Millisecond
}

// AuthDisabled reports whether the shared-secret bearer token check is
// disabled: the token is empty or the literal string "none".
func (c Coordinator) AuthDisabled() bool {
	return c.Token == "" || c.Token == "none"
}

// Agent is the agent-only portion of the config surface.
type Agent struct {
	ServerURL string `yaml:"serverUrl"`
	Token     string `yaml:"token"`
	NodeID    string `yaml:"nodeId"`
}

// CoordinatorConfig is the full config for collarhubd.
type CoordinatorConfig struct {
	Coordinator Coordinator `yaml:"coordinator"`
	BLE         BLE         `yaml:"ble"`
}

// AgentConfig is the full config for collar-agent.
type AgentConfig struct {
	Agent Agent `yaml:"agent"`
	BLE   BLE   `yaml:"ble"`
}

// LoadCoordinator reads and validates a coordinator config file.
// Config errors are fatal at startup only, per spec §7.
func LoadCoordinator(path string) (CoordinatorConfig, error) {
	var cfg CoordinatorConfig
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Coordinator.ListenAddr == "" {
		return cfg, fmt.Errorf("config: coordinator.listenAddr is required")
	}
	if err := validateAddressType(cfg.BLE.AddressType); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadAgent reads and validates an agent config file.
func LoadAgent(path string) (AgentConfig, error) {
	var cfg AgentConfig
	if err := readYAML(path, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Agent.ServerURL == "" {
		return cfg, fmt.Errorf("config: agent.serverUrl is required")
	}
	if err := validateAddressType(cfg.BLE.AddressType); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateAddressType(t string) error {
	switch t {
	case "", "public", "random":
		return nil
	default:
		return fmt.Errorf("config: ble.addressType must be %q or %q, got %q", "public", "random", t)
	}
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
