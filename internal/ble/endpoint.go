// Package ble wraps one host BLE stack's relationship with the collar.
// On Linux this means BlueZ over D-Bus, grounded on
// mil-ad-budsctl/bluez.go and other_examples/cubeos-app-coreapps__meshtastic_ble.go.
// The Endpoint owns at most one peripheral connection and is used
// identically by the coordinator (for its local radio) and by every
// forwarder agent.
package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/collarhub/collarhub/internal/codec"
)

// Callbacks are invoked on connect/disconnect/battery transitions.
// Implementations must not block for long — the endpoint calls these
// synchronously from its own goroutines.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnBattery      func(percent int)
}

// Endpoint is a stateful wrapper around one BlueZ adapter's link to the
// collar. Safe for concurrent use.
type Endpoint struct {
	cfg Config
	log *zap.Logger
	cb  Callbacks

	state atomic.Int32 // State

	mu            sync.Mutex
	conn          *dbus.Conn
	autoReconnect bool
	connecting    bool
	devicePath    dbus.ObjectPath
	txCharPath    dbus.ObjectPath
	rxCharPath    dbus.ObjectPath

	stopNotify context.CancelFunc
	battTicker *time.Ticker
	doneCh     chan struct{}

	lastBattery atomic.Int32 // percent + 1, 0 means "unknown"
}

// NewEndpoint constructs an Endpoint. It does not connect; call
// Connect() to begin the connection lifecycle.
func NewEndpoint(cfg Config, log *zap.Logger, cb Callbacks) *Endpoint {
	e := &Endpoint{
		cfg: cfg.WithDefaults(),
		log: log,
		cb:  cb,
	}
	e.state.Store(int32(StateIdle))
	return e
}

// State returns the endpoint's current lifecycle state.
func (e *Endpoint) State() State {
	return State(e.state.Load())
}

func (e *Endpoint) setState(s State) {
	e.state.Store(int32(s))
}

func (e *Endpoint) adapterPath() dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/hci%d", e.cfg.HCIInterfaceIndex))
}

// Connect is idempotent with respect to an in-flight attempt: calling
// it again while already connecting or ready is a no-op. It sets
// auto-reconnect true and begins the connect loop; connect failures
// retry after cfg.ReconnectDelay indefinitely while auto-reconnect
// holds.
func (e *Endpoint) Connect() error {
	e.mu.Lock()
	if e.autoReconnect || e.connecting {
		e.mu.Unlock()
		return nil
	}
	e.autoReconnect = true
	e.connecting = true
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	conn, err := dbus.SystemBus()
	if err != nil {
		e.mu.Lock()
		e.connecting = false
		e.autoReconnect = false
		e.mu.Unlock()
		return fmt.Errorf("ble: connect system bus: %w", err)
	}
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()

	go e.connectLoop()
	return nil
}

// SetTargetAddress repoints the endpoint at a new peripheral address
// and restarts the connection, used when a coordinator hands an agent
// a specific address to connect to after election (spec §4.4.2).
func (e *Endpoint) SetTargetAddress(addr string) {
	e.mu.Lock()
	e.cfg.DeviceAddress = addr
	e.mu.Unlock()
	e.Disconnect()
	e.autoReconnectRestart()
}

func (e *Endpoint) autoReconnectRestart() {
	e.mu.Lock()
	e.autoReconnect = false
	e.connecting = false
	e.mu.Unlock()
	_ = e.Connect()
}

// Disconnect sets auto-reconnect false and tears down the link.
func (e *Endpoint) Disconnect() {
	e.mu.Lock()
	e.autoReconnect = false
	conn := e.conn
	devicePath := e.devicePath
	done := e.doneCh
	stopNotify := e.stopNotify
	battTicker := e.battTicker
	e.mu.Unlock()

	if stopNotify != nil {
		stopNotify()
	}
	if battTicker != nil {
		battTicker.Stop()
	}
	if conn != nil && devicePath != "" {
		obj := conn.Object(busName, devicePath)
		if err := obj.Call(ifaceDevice1+".Disconnect", 0).Err; err != nil {
			e.log.Warn("ble: disconnect call failed", zap.Error(err))
		}
	}
	e.setState(StateDisconnected)
	if done != nil {
		select {
		case <-done:
		default:
			close(done)
		}
	}
	if e.cb.OnDisconnected != nil {
		e.cb.OnDisconnected()
	}
}

// Write attempts a write-without-response TX. It succeeds iff the
// endpoint is currently ready. Failures are logged and returned as
// false; they are never fatal to the endpoint.
func (e *Endpoint) Write(frame codec.Frame) bool {
	if e.State() != StateReady {
		return false
	}
	e.mu.Lock()
	conn, txPath := e.conn, e.txCharPath
	e.mu.Unlock()
	if conn == nil || txPath == "" {
		return false
	}

	obj := conn.Object(busName, txPath)
	options := map[string]dbus.Variant{"type": dbus.MakeVariant("command")}
	if err := obj.Call(ifaceGattChar1+".WriteValue", 0, []byte(frame), options).Err; err != nil {
		e.log.Warn("ble: write failed", zap.Error(err))
		return false
	}
	return true
}

// RequestBattery writes the battery-query frame. The result, if any,
// arrives asynchronously through Callbacks.OnBattery when the device
// notifies on RX.
func (e *Endpoint) RequestBattery() {
	e.Write(codec.EncodeBatteryQuery())
}

// LastBattery returns the most recently observed battery percent, if
// any notification has arrived since the endpoint was created.
func (e *Endpoint) LastBattery() (int, bool) {
	v := e.lastBattery.Load()
	if v == 0 {
		return 0, false
	}
	return int(v - 1), true
}

// WriteCommand writes a shock/vibro/sound command frame, applying the
// double-send policy: the entire command variant is written twice with
// a 300ms gap, regardless of the shock level it carries, to guard
// against a dropped write-without-response. Find and battery-query
// frames are single-shot; callers use Write for those.
func (e *Endpoint) WriteCommand(frame codec.Frame) bool {
	ok := e.Write(frame)
	if !frame.IsCommand() {
		return ok
	}
	time.Sleep(300 * time.Millisecond)
	second := e.Write(frame)
	return ok || second
}

// ReadRSSI returns a live RSSI reading from the currently connected
// peripheral, if any.
func (e *Endpoint) ReadRSSI() (int, bool) {
	e.mu.Lock()
	conn, devicePath := e.conn, e.devicePath
	e.mu.Unlock()
	if conn == nil || devicePath == "" {
		return 0, false
	}
	obj := conn.Object(busName, devicePath)
	var v dbus.Variant
	if err := obj.Call(ifaceProperties+".Get", 0, ifaceDevice1, "RSSI").Store(&v); err != nil {
		return 0, false
	}
	rssi, ok := v.Value().(int16)
	if !ok {
		return 0, false
	}
	return int(rssi), true
}

// connectLoop drives connect -> discover -> ready, retrying forever
// while auto-reconnect holds. Grounded on ydin/tcp.go's readLoop:
// dial, backoff, retry — generalized here to a BlueZ connect+discover
// sequence with a constant retry delay rather than doubling backoff
// (spec §4.2 specifies a constant reconnectDelay, not exponential).
func (e *Endpoint) connectLoop() {
	for {
		e.mu.Lock()
		if !e.autoReconnect {
			e.connecting = false
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		e.setState(StateConnecting)
		if err := e.connectOnce(); err != nil {
			e.log.Warn("ble: connect attempt failed", zap.Error(err))
			e.mu.Lock()
			delay := e.cfg.ReconnectDelay
			e.mu.Unlock()
			time.Sleep(delay)
			continue
		}

		e.mu.Lock()
		e.connecting = false
		e.mu.Unlock()
		return
	}
}

func (e *Endpoint) connectOnce() error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()

	devicePath, err := e.resolveDevice(conn)
	if err != nil {
		return err
	}

	obj := conn.Object(busName, devicePath)
	if err := obj.Call(ifaceDevice1+".Connect", 0).Err; err != nil {
		return fmt.Errorf("ble: device connect: %w", err)
	}

	e.setState(StateDiscovering)
	txPath, rxPath, err := discoverUARTCharacteristics(conn, devicePath)
	if err != nil {
		return fmt.Errorf("ble: characteristic discovery: %w", err)
	}

	if err := subscribeNotify(conn, rxPath); err != nil {
		return fmt.Errorf("ble: subscribe notify: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.devicePath = devicePath
	e.txCharPath = txPath
	e.rxCharPath = rxPath
	e.stopNotify = cancel
	e.mu.Unlock()

	go e.notifyLoop(ctx, conn, rxPath)

	e.setState(StateReady)
	if e.cb.OnConnected != nil {
		e.cb.OnConnected()
	}
	e.startBatteryTicker()
	return nil
}

func (e *Endpoint) startBatteryTicker() {
	e.mu.Lock()
	if e.battTicker != nil {
		e.battTicker.Stop()
	}
	e.battTicker = time.NewTicker(e.cfg.BatteryCheckInterval)
	ticker := e.battTicker
	e.mu.Unlock()

	go func() {
		for range ticker.C {
			if e.State() != StateReady {
				return
			}
			e.RequestBattery()
		}
	}()
}

// notifyLoop watches RX characteristic value changes and forwards
// recognized battery reports to Callbacks.OnBattery.
func (e *Endpoint) notifyLoop(ctx context.Context, conn *dbus.Conn, rxPath dbus.ObjectPath) {
	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	matchRule := fmt.Sprintf("type='signal',interface='%s',member='PropertiesChanged',path='%s'", ifaceProperties, rxPath)
	conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule)

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			e.handlePropertiesChanged(sig)
		}
	}
}

func (e *Endpoint) handlePropertiesChanged(sig *dbus.Signal) {
	if sig.Name != propertiesChangedSignal || len(sig.Body) < 2 {
		return
	}
	iface, _ := sig.Body[0].(string)
	if iface != ifaceGattChar1 {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	v, ok := changed["Value"]
	if !ok {
		return
	}
	raw, ok := v.Value().([]byte)
	if !ok {
		return
	}
	if report, ok := codec.ParseNotification(raw); ok {
		e.lastBattery.Store(int32(report.Percent) + 1)
		if e.cb.OnBattery != nil {
			e.cb.OnBattery(int(report.Percent))
		}
	}
}

// resolveDevice returns the device's D-Bus object path, either by
// configured address (when the platform exposes MAC addresses) or by
// scanning for a UUID/name match, per spec §4.2's platform-divergence
// note.
func (e *Endpoint) resolveDevice(conn *dbus.Conn) (dbus.ObjectPath, error) {
	if e.cfg.DeviceAddress != "" {
		return deviceObjectPath(e.adapterPath(), e.cfg.DeviceAddress), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	candidates, err := scanFor(ctx, conn, e.adapterPath(), e.cfg.DeviceNamePatterns, 30*time.Second)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("ble: device not found within 30s")
	}
	return deviceObjectPath(e.adapterPath(), candidates[0].Address), nil
}

// deviceObjectPath converts a MAC address to a BlueZ device object
// path, e.g. "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(addr, ":", "_")
	return dbus.ObjectPath(string(adapter) + "/dev_" + escaped)
}
