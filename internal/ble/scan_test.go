package ble

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interfacesAddedSignal(props map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Name: "org.freedesktop.DBus.ObjectManager.InterfacesAdded",
		Body: []interface{}{
			dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"),
			map[string]map[string]dbus.Variant{
				ifaceDevice1: props,
			},
		},
	}
}

func TestCandidateFromSignal_MatchesByServiceUUID(t *testing.T) {
	sig := interfacesAddedSignal(map[string]dbus.Variant{
		"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:FF"),
		"Name":    dbus.MakeVariant("Unrelated Device"),
		"UUIDs":   dbus.MakeVariant([]string{UARTServiceUUID}),
		"RSSI":    dbus.MakeVariant(int16(-55)),
	})
	c, addr, ok := candidateFromSignal(sig, nil)
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", addr)
	assert.Equal(t, detectionServiceUUID, c.DetectionMethod)
	assert.Equal(t, -55, c.RSSI)
}

func TestCandidateFromSignal_MatchesByNamePattern(t *testing.T) {
	sig := interfacesAddedSignal(map[string]dbus.Variant{
		"Address": dbus.MakeVariant("11:22:33:44:55:66"),
		"Name":    dbus.MakeVariant("MyCollar-4471"),
	})
	c, _, ok := candidateFromSignal(sig, []string{"collar"})
	require.True(t, ok)
	assert.Equal(t, detectionNamePattern, c.DetectionMethod)
}

func TestCandidateFromSignal_NoMatch(t *testing.T) {
	sig := interfacesAddedSignal(map[string]dbus.Variant{
		"Address": dbus.MakeVariant("00:00:00:00:00:00"),
		"Name":    dbus.MakeVariant("Random Speaker"),
	})
	_, _, ok := candidateFromSignal(sig, []string{"collar"})
	assert.False(t, ok)
}
