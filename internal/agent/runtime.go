// Package agent implements the forwarder agent runtime: it owns one
// BLE endpoint, maintains a WebSocket connection to the coordinator,
// and answers the coordinator's command table, per spec §4.3.
//
// Grounded on ydin/tcp.go's dial/backoff/read loop generalized from a
// raw TCP client to a gorilla/websocket client with the JSON envelope
// protocol, and on alfred-ai's edge.go for the pattern of a single
// runtime goroutine owning both the transport connection and the
// local hardware handle.
package agent

import (
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/collarhub/collarhub/internal/ble"
	"github.com/collarhub/collarhub/internal/codec"
	"github.com/collarhub/collarhub/internal/config"
	"github.com/collarhub/collarhub/internal/wire"
)

const (
	statusInterval  = 10 * time.Second
	minBackoff      = 1 * time.Second
	maxBackoff      = 30 * time.Second
)

// Runtime drives one agent process's lifetime: reconnect to the
// coordinator forever, authenticate, and serve command messages
// against the local BLE endpoint until told to stop.
type Runtime struct {
	log      *zap.Logger
	cfg      config.AgentConfig
	endpoint *ble.Endpoint

	connMu sync.Mutex
	conn   *websocket.Conn

	stop chan struct{}
}

// New constructs a Runtime around an already-configured BLE endpoint.
// Neither New nor Run connects the endpoint; it is brought up only when
// the coordinator sends a connect message (see handleMessage).
func New(cfg config.AgentConfig, endpoint *ble.Endpoint, log *zap.Logger) *Runtime {
	return &Runtime{cfg: cfg, endpoint: endpoint, log: log, stop: make(chan struct{})}
}

// Run dials the coordinator forever, reconnecting with exponential
// backoff (1s doubling to a 30s cap, reset on a successful auth) until
// Stop is called, per spec §4.3.
func (r *Runtime) Run() {
	backoff := minBackoff
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		authed, err := r.connectOnce()
		if authed {
			backoff = minBackoff
		}
		if err != nil {
			r.log.Warn("coordinator connection failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-r.stop:
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = minBackoff
	}
}

// Stop ends the runtime's reconnect loop and closes any live connection.
func (r *Runtime) Stop() {
	close(r.stop)
	r.connMu.Lock()
	if r.conn != nil {
		r.conn.Close()
	}
	r.connMu.Unlock()
}

// connectOnce runs one coordinator session. authed reports whether the
// coordinator accepted this session's auth; a rejected auth closes the
// link and returns an error so Run backs off before retrying.
func (r *Runtime) connectOnce() (authed bool, err error) {
	conn, _, err := websocket.DefaultDialer.Dial(r.cfg.Agent.ServerURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := conn.WriteJSON(wire.NewAuth(r.cfg.Agent.Token, r.cfg.Agent.NodeID)); err != nil {
		return false, err
	}
	var resp wire.Envelope
	if err := conn.ReadJSON(&resp); err != nil {
		return false, err
	}
	if resp.Type != wire.TypeAuthResult || resp.Success == nil || !*resp.Success {
		r.log.Error("coordinator rejected auth")
		return false, errors.New("agent: coordinator rejected auth")
	}

	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()
	r.log.Info("connected to coordinator")

	statusStop := make(chan struct{})
	go r.statusLoop(statusStop)
	defer close(statusStop)

	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return true, err
		}
		r.handleMessage(env)
	}
}

func (r *Runtime) send(env wire.Envelope) {
	r.connMu.Lock()
	conn := r.conn
	r.connMu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteJSON(env); err != nil {
		r.log.Warn("send to coordinator failed", zap.Error(err))
	}
}

func (r *Runtime) statusLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.sendStatus()
		}
	}
}

func (r *Runtime) sendStatus() {
	connected := r.endpoint.State() == ble.StateReady
	var battery *int
	if b, ok := r.endpoint.LastBattery(); ok {
		battery = &b
	}
	r.send(wire.NewStatus(connected, battery))
}

// handleMessage answers one coordinator->agent envelope, per spec
// §4.3's message table.
func (r *Runtime) handleMessage(env wire.Envelope) {
	switch env.Type {
	case wire.TypePing:
		r.send(wire.Simple(wire.TypePong))
	case wire.TypeCommand:
		r.handleCommand(env)
	case wire.TypeGetBattery:
		r.handleGetBattery()
	case wire.TypeGetRSSI:
		r.handleGetRSSI()
	case wire.TypeScan:
		r.handleScan(env)
	case wire.TypeConnect:
		if env.Data != "" {
			r.endpoint.SetTargetAddress(env.Data)
		} else if err := r.endpoint.Connect(); err != nil {
			r.log.Warn("connect failed", zap.Error(err))
		}
	case wire.TypeDisconnectBLE:
		r.endpoint.Disconnect()
	}
}

// handleCommand decodes the frame carried by a command envelope and
// writes it to the local endpoint. The same envelope type carries
// command frames (shock/vibro/sound) and the find frame forwarded by
// Router's remote path; only command frames get the
// double-send treatment, so the decision is made on the frame's own
// header byte rather than on the envelope type.
func (r *Runtime) handleCommand(env wire.Envelope) {
	raw, err := hex.DecodeString(env.Data)
	if err != nil || len(raw) == 0 {
		r.send(wire.NewCommandResult(env.ID, false))
		return
	}
	frame := codec.Frame(raw)
	var ok bool
	if frame.IsCommand() {
		ok = r.endpoint.WriteCommand(frame)
	} else {
		ok = r.endpoint.Write(frame)
	}
	r.send(wire.NewCommandResult(env.ID, ok))
}

// handleGetBattery always issues a fresh battery query, then replies
// about a second later with whatever the endpoint's cache holds at
// that point, per spec §4.3's get_battery row. The reply is not
// necessarily the answer to the query it just sent: the device's
// notification and the reply timer race independently.
func (r *Runtime) handleGetBattery() {
	r.endpoint.RequestBattery()
	time.AfterFunc(time.Second, func() {
		level, _ := r.endpoint.LastBattery()
		r.send(wire.NewBattery(level))
	})
}

func (r *Runtime) handleGetRSSI() {
	if v, ok := r.endpoint.ReadRSSI(); ok {
		r.send(wire.NewRSSI(v))
	}
}

func (r *Runtime) handleScan(env wire.Envelope) {
	duration := time.Duration(env.Duration) * time.Millisecond
	if duration <= 0 {
		duration = 10 * time.Second
	}
	candidates, err := r.endpoint.Scan(duration)
	if err != nil {
		r.log.Warn("scan failed", zap.Error(err))
		r.send(wire.NewScanResult(nil))
		return
	}
	devices := make([]wire.ScannedDevice, 0, len(candidates))
	for _, c := range candidates {
		devices = append(devices, wire.ScannedDevice{
			Address:         c.Address,
			Name:            c.Name,
			RSSI:            c.RSSI,
			DetectionMethod: c.DetectionMethod,
		})
	}
	r.send(wire.NewScanResult(devices))
}
