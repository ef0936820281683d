package ble

// Nordic UART Service UUIDs the device advertises. TX is written from
// the host (write-without-response); RX is subscribed to for
// notifications from the device.
const (
	UARTServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	TXCharUUID      = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	RXCharUUID      = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// BlueZ D-Bus well-known names, interfaces and property keys used
// throughout this package. Grounded on mil-ad-budsctl/bluez.go and
// other_examples/cubeos-app-coreapps__meshtastic_ble.go.
const (
	busName            = "org.bluez"
	ifaceAdapter1      = "org.bluez.Adapter1"
	ifaceDevice1       = "org.bluez.Device1"
	ifaceGattService1  = "org.bluez.GattService1"
	ifaceGattChar1     = "org.bluez.GattCharacteristic1"
	ifaceProperties    = "org.freedesktop.DBus.Properties"
	ifaceObjectManager = "org.freedesktop.DBus.ObjectManager"

	propertiesChangedSignal = "org.freedesktop.DBus.Properties.PropertiesChanged"
)
