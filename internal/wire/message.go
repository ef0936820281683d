// Package wire implements the JSON message envelope exchanged between
// the coordinator and forwarder agents, per the agent wire protocol.
//
// The envelope shape follows the teacher's Event struct (a Type
// discriminator plus a free-form Data payload) generalized from a
// single outbound broadcast type to the full bidirectional message
// set: every message, in either direction, is one JSON object with a
// mandatory "type" field.
package wire

import "encoding/json"

// Type identifies a wire message's shape. Both directions share one
// namespace; §6.1 of the spec lists which types travel which way.
type Type string

const (
	// Agent -> Coordinator
	TypeAuth         Type = "auth"
	TypeStatus       Type = "status"
	TypeScanResult   Type = "scan_result"
	TypeBattery      Type = "battery"
	TypeRSSI         Type = "rssi"
	TypeCommandResult Type = "command_result"

	// Coordinator -> Agent
	TypeAuthResult   Type = "auth_result"
	TypeCommand      Type = "command"
	TypeGetBattery   Type = "get_battery"
	TypeGetRSSI      Type = "get_rssi"
	TypeScan         Type = "scan"
	TypeConnect      Type = "connect"
	TypeDisconnectBLE Type = "disconnect_ble"
	TypePing         Type = "ping"

	// Agent -> Coordinator
	TypePong Type = "pong"
)

// Envelope is the wire shape of every message. Fields not relevant to a
// given Type are simply omitted (zero value) on encode and ignored on
// decode — malformed or unrecognized messages are discarded by the
// reader, never treated as protocol violations severe enough to close
// the link (spec §6.1, §7).
type Envelope struct {
	Type Type `json:"type"`

	// auth
	Token  string `json:"token,omitempty"`
	NodeID string `json:"nodeId,omitempty"`

	// auth_result, command_result
	Success *bool `json:"success,omitempty"`

	// status
	BLEConnected *bool `json:"bleConnected,omitempty"`
	Battery      *int  `json:"battery,omitempty"`

	// scan / scan_result
	Duration int64             `json:"duration,omitempty"` // ms
	Devices  []ScannedDevice   `json:"devices,omitempty"`

	// battery
	Level *int `json:"level,omitempty"`

	// rssi
	Value *int `json:"value,omitempty"`

	// command / command_result
	ID   int64  `json:"id,omitempty"`
	Data string `json:"data,omitempty"` // hex-encoded frame
}

// ScannedDevice is one candidate reported in a scan_result.
type ScannedDevice struct {
	Address         string `json:"address,omitempty"`
	Name            string `json:"name,omitempty"`
	RSSI            int    `json:"rssi"`
	DetectionMethod string `json:"detectionMethod,omitempty"`
}

// Marshal encodes an Envelope as JSON bytes for a single text frame.
func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a single text frame into an Envelope. Callers must
// treat a non-nil error as "discard silently, keep the link open" per
// spec §6.1 — never as grounds to close the connection.
func Unmarshal(b []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(b, &e)
	return e, err
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

// NewStatus builds a status envelope.
func NewStatus(bleConnected bool, battery *int) Envelope {
	return Envelope{Type: TypeStatus, BLEConnected: boolPtr(bleConnected), Battery: battery}
}

// NewAuth builds an auth envelope.
func NewAuth(token, nodeID string) Envelope {
	return Envelope{Type: TypeAuth, Token: token, NodeID: nodeID}
}

// NewAuthResult builds an auth_result envelope.
func NewAuthResult(success bool) Envelope {
	return Envelope{Type: TypeAuthResult, Success: boolPtr(success)}
}

// NewCommand builds a command envelope carrying a hex-encoded frame.
func NewCommand(id int64, dataHex string) Envelope {
	return Envelope{Type: TypeCommand, ID: id, Data: dataHex}
}

// NewCommandResult builds a command_result envelope.
func NewCommandResult(id int64, success bool) Envelope {
	return Envelope{Type: TypeCommandResult, ID: id, Success: boolPtr(success)}
}

// NewScan builds a scan request envelope; duration is in milliseconds.
func NewScan(durationMS int64) Envelope {
	return Envelope{Type: TypeScan, Duration: durationMS}
}

// NewConnect builds a connect envelope directing the agent's endpoint
// to connect to the given peripheral address.
func NewConnect(address string) Envelope {
	return Envelope{Type: TypeConnect, Data: address}
}

// NewScanResult builds a scan_result envelope.
func NewScanResult(devices []ScannedDevice) Envelope {
	return Envelope{Type: TypeScanResult, Devices: devices}
}

// NewBattery builds an unsolicited battery envelope.
func NewBattery(level int) Envelope {
	return Envelope{Type: TypeBattery, Level: intPtr(level)}
}

// NewRSSI builds an rssi reply envelope.
func NewRSSI(value int) Envelope {
	return Envelope{Type: TypeRSSI, Value: intPtr(value)}
}

// Simple() builds the zero-payload envelopes: ping, pong,
// disconnect_ble, get_battery, get_rssi.
func Simple(t Type) Envelope { return Envelope{Type: t} }
