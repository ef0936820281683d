package ble

import (
	"context"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const detectionServiceUUID = "service-uuid"
const detectionNamePattern = "name-pattern"

// Scan performs a timed discovery and returns compatible peripherals,
// deduplicated by address. A peripheral is compatible iff it
// advertises the UART service UUID or its local name contains
// (case-insensitive) any configured name pattern.
func (e *Endpoint) Scan(duration time.Duration) ([]Candidate, error) {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		var err error
		conn, err = dbus.SystemBus()
		if err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()
	return scanFor(ctx, conn, e.adapterPath(), e.cfg.DeviceNamePatterns, duration)
}

// scanFor runs BlueZ discovery on the given adapter for up to duration
// and returns matching candidates. Grounded on
// mil-ad-budsctl/bluez.go's subscribePropertyChanges (AddMatch +
// signal channel) generalized from device state tracking to
// advertisement collection.
func scanFor(ctx context.Context, conn *dbus.Conn, adapter dbus.ObjectPath, namePatterns []string, duration time.Duration) ([]Candidate, error) {
	adapterObj := conn.Object(busName, adapter)
	_ = adapterObj.Call(ifaceAdapter1+".StartDiscovery", 0)
	defer adapterObj.Call(ifaceAdapter1+".StopDiscovery", 0)

	signals := make(chan *dbus.Signal, 32)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	matchRule := "type='signal',interface='" + ifaceObjectManager + "',member='InterfacesAdded'"
	conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule)
	defer conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, matchRule)

	seen := map[string]Candidate{}
	order := []string{}

	deadline := time.After(duration)
	for {
		select {
		case <-ctx.Done():
			return orderedCandidates(seen, order), nil
		case <-deadline:
			return orderedCandidates(seen, order), nil
		case sig, ok := <-signals:
			if !ok {
				return orderedCandidates(seen, order), nil
			}
			c, addr, matched := candidateFromSignal(sig, namePatterns)
			if !matched {
				continue
			}
			if _, exists := seen[addr]; !exists {
				order = append(order, addr)
			}
			seen[addr] = c
		}
	}
}

func orderedCandidates(seen map[string]Candidate, order []string) []Candidate {
	out := make([]Candidate, 0, len(order))
	for _, addr := range order {
		out = append(out, seen[addr])
	}
	return out
}

// candidateFromSignal decodes an InterfacesAdded signal for a
// org.bluez.Device1 object and checks it against the UART service
// UUID and configured name patterns.
func candidateFromSignal(sig *dbus.Signal, namePatterns []string) (Candidate, string, bool) {
	if sig.Name != "org.freedesktop.DBus.ObjectManager.InterfacesAdded" || len(sig.Body) < 2 {
		return Candidate{}, "", false
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return Candidate{}, "", false
	}
	dev, ok := ifaces[ifaceDevice1]
	if !ok {
		return Candidate{}, "", false
	}

	address, _ := dev["Address"].Value().(string)
	if address == "" {
		return Candidate{}, "", false
	}
	name, _ := dev["Name"].Value().(string)
	var rssi int
	if v, ok := dev["RSSI"]; ok {
		if r, ok := v.Value().(int16); ok {
			rssi = int(r)
		}
	}

	uuidMatch := false
	if v, ok := dev["UUIDs"]; ok {
		if uuids, ok := v.Value().([]string); ok {
			for _, u := range uuids {
				if strings.EqualFold(u, UARTServiceUUID) {
					uuidMatch = true
					break
				}
			}
		}
	}

	nameMatch := false
	lowerName := strings.ToLower(name)
	for _, p := range namePatterns {
		if p != "" && strings.Contains(lowerName, strings.ToLower(p)) {
			nameMatch = true
			break
		}
	}

	if !uuidMatch && !nameMatch {
		return Candidate{}, "", false
	}

	method := detectionNamePattern
	if uuidMatch {
		method = detectionServiceUUID
	}
	return Candidate{Address: address, Name: name, RSSI: rssi, DetectionMethod: method}, address, true
}
