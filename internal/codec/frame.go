// Package codec encodes and parses the collar's Nordic UART-style byte
// frames. It is pure: no I/O, no state, no clocks.
package codec

import "math"

// Frame is an immutable, fully-constructed byte sequence ready to write
// to the device's TX characteristic.
type Frame []byte

const (
	headerCommand      byte = 0xAA
	headerFind         byte = 0xEE
	headerBatteryQuery byte = 0xDD
	footer             byte = 0xBB

	lengthCommand byte = 0x07
	lengthFind    byte = 0x02

	batteryAckByte byte = 0xAA
)

// EncodeCommand builds a shock/vibro/sound command frame. Each input is
// clamped into [0, 100] and rounded to the nearest integer before
// encoding; out-of-range or non-finite inputs are policy-clamped, never
// rejected.
func EncodeCommand(shock, vibro, sound float64) Frame {
	return Frame{
		headerCommand,
		lengthCommand,
		clampByte(shock),
		clampByte(vibro),
		clampByte(sound),
		footer,
	}
}

// IsCommand reports whether frame is a shock/vibro/sound command frame,
// as opposed to a find or battery-query frame. Used to decide which
// frames get the double-send treatment: the whole command variant is
// double-sent regardless of the shock level it carries.
func (f Frame) IsCommand() bool {
	return len(f) > 0 && f[0] == headerCommand
}

// EncodeFind builds the "find beacon" frame.
func EncodeFind() Frame {
	return Frame{headerFind, lengthFind, footer}
}

// EncodeBatteryQuery builds the battery-query frame.
func EncodeBatteryQuery() Frame {
	return Frame{headerBatteryQuery, batteryAckByte, footer}
}

// BatteryReport is the decoded content of an inbound battery
// notification.
type BatteryReport struct {
	Percent byte
}

// ParseNotification recognizes a battery report among inbound
// notification bytes. It returns ok=false, not an error, when the bytes
// don't match the recognized shape — unrecognized frames are simply
// ignored by callers.
func ParseNotification(b []byte) (report BatteryReport, ok bool) {
	if len(b) <= 5 {
		return BatteryReport{}, false
	}
	if b[0] != headerCommand || b[1] != lengthCommand {
		return BatteryReport{}, false
	}
	return BatteryReport{Percent: b[5]}, true
}

// clampByte coerces x into [0, 100], rounds to the nearest integer, and
// returns it as a byte. NaN coerces to zero; +Inf clamps to 100 and
// -Inf to 0.
func clampByte(x float64) byte {
	if math.IsNaN(x) {
		return 0
	}
	if math.IsInf(x, 1) {
		return 100
	}
	if math.IsInf(x, -1) {
		return 0
	}
	if x < 0 {
		x = 0
	}
	if x > 100 {
		x = 100
	}
	return byte(math.Round(x))
}
