package ble

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// managedObjects mirrors the return shape of
// org.freedesktop.DBus.ObjectManager.GetManagedObjects.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

func getManagedObjects(conn *dbus.Conn) (managedObjects, error) {
	obj := conn.Object(busName, "/")
	var out managedObjects
	if err := obj.Call(ifaceObjectManager+".GetManagedObjects", 0).Store(&out); err != nil {
		return nil, fmt.Errorf("ble: GetManagedObjects: %w", err)
	}
	return out, nil
}

// discoverUARTCharacteristics walks the device's GATT tree looking for
// the UART service and its TX/RX characteristics. Grounded on
// other_examples/cubeos-app-coreapps__meshtastic_ble.go's GATT
// discovery: enumerate ObjectManager output, match by UUID and by
// parent path prefix.
func discoverUARTCharacteristics(conn *dbus.Conn, devicePath dbus.ObjectPath) (tx, rx dbus.ObjectPath, err error) {
	objects, err := getManagedObjects(conn)
	if err != nil {
		return "", "", err
	}

	var servicePath dbus.ObjectPath
	for path, ifaces := range objects {
		svc, ok := ifaces[ifaceGattService1]
		if !ok || !strings.HasPrefix(string(path), string(devicePath)+"/") {
			continue
		}
		uuidVar, ok := svc["UUID"]
		if !ok {
			continue
		}
		uuid, _ := uuidVar.Value().(string)
		if strings.EqualFold(uuid, UARTServiceUUID) {
			servicePath = path
			break
		}
	}
	if servicePath == "" {
		return "", "", fmt.Errorf("ble: UART service not found on %s", devicePath)
	}

	for path, ifaces := range objects {
		char, ok := ifaces[ifaceGattChar1]
		if !ok || !strings.HasPrefix(string(path), string(servicePath)+"/") {
			continue
		}
		uuidVar, ok := char["UUID"]
		if !ok {
			continue
		}
		uuid, _ := uuidVar.Value().(string)
		switch {
		case strings.EqualFold(uuid, TXCharUUID):
			tx = path
		case strings.EqualFold(uuid, RXCharUUID):
			rx = path
		}
	}

	if tx == "" || rx == "" {
		return "", "", fmt.Errorf("ble: TX/RX characteristics not found under %s", servicePath)
	}
	return tx, rx, nil
}

// subscribeNotify enables notifications on the RX characteristic.
func subscribeNotify(conn *dbus.Conn, rxPath dbus.ObjectPath) error {
	obj := conn.Object(busName, rxPath)
	return obj.Call(ifaceGattChar1+".StartNotify", 0).Err
}
