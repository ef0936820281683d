package ble

import "time"

// State is the BLE Endpoint's connection state, per spec §4.2:
// idle -> connecting -> discovering -> ready -> disconnected. Failed
// connect attempts loop back to connecting. The endpoint does not
// watch the device's own connection state, so a link the peripheral
// drops is not detected: disconnected is entered only through
// Disconnect, which also turns auto-reconnect off.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateDiscovering
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return "idle"
	}
}

// AddressType distinguishes public vs. random BLE addresses, relevant
// only on platforms that expose peripheral MAC addresses.
type AddressType string

const (
	AddressPublic AddressType = "public"
	AddressRandom AddressType = "random"
)

// Config is the endpoint's configuration surface, per spec §6.4.
type Config struct {
	DeviceAddress        string
	AddressType          AddressType
	HCIInterfaceIndex    int
	DeviceNamePatterns   []string
	ScanDuration         time.Duration
	ReconnectDelay       time.Duration
	BatteryCheckInterval time.Duration
}

// WithDefaults fills unset durations with the spec's defaults.
func (c Config) WithDefaults() Config {
	if c.ScanDuration <= 0 {
		c.ScanDuration = 10 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.BatteryCheckInterval <= 0 {
		c.BatteryCheckInterval = 30 * time.Minute
	}
	if c.HCIInterfaceIndex < 0 {
		c.HCIInterfaceIndex = 0
	}
	return c
}

// Candidate is one compatible peripheral discovered during a scan.
type Candidate struct {
	Address         string
	Name            string
	RSSI            int
	DetectionMethod string // "service-uuid" | "name-pattern"
}
