// Package routing implements the coordinator's command dispatch: it
// prefers the local BLE endpoint when ready and otherwise forwards to
// the pool's active remote node, per spec §4.4.3. Grounded on
// ydin/gateway.go's dual-path publish (local bus vs. remote peer)
// generalized from message routing to command routing with a
// local-first preference.
package routing

import (
	"time"

	"go.uber.org/zap"

	"github.com/collarhub/collarhub/internal/ble"
	"github.com/collarhub/collarhub/internal/codec"
	"github.com/collarhub/collarhub/internal/coordinator/pool"
)

const (
	commandTimeout = 5 * time.Second
	queryTimeout   = 3 * time.Second
)

// Router is the single entry point user-facing callers (the admin
// socket, a future HTTP API) use to reach the collar, wherever it is
// currently connected.
type Router struct {
	log   *zap.Logger
	local *ble.Endpoint
	pool  *pool.Pool
}

// New constructs a Router over the coordinator's own BLE endpoint and
// its Node Pool.
func New(local *ble.Endpoint, p *pool.Pool, log *zap.Logger) *Router {
	return &Router{log: log, local: local, pool: p}
}

func (r *Router) localReady() bool {
	return r.local != nil && r.local.State() == ble.StateReady
}

// Submit encodes and delivers a shock/vibro/sound command, per spec
// §4.4.3 submit. It prefers the local endpoint; if unavailable it
// falls back to the pool's active node with a 5s completion timeout.
func (r *Router) Submit(shock, vibro, sound float64) bool {
	frame := codec.EncodeCommand(shock, vibro, sound)
	if r.localReady() {
		return r.local.WriteCommand(frame)
	}
	return r.pool.SendCommand(frame, commandTimeout)
}

// Find triggers the collar's find buzzer/light.
func (r *Router) Find() bool {
	frame := codec.EncodeFind()
	if r.localReady() {
		return r.local.Write(frame)
	}
	return r.pool.SendCommand(frame, commandTimeout)
}

// Battery reports the most recently known battery percent, preferring
// the local endpoint's cache and falling back to the active remote
// node's last reported value.
func (r *Router) Battery() (int, bool) {
	if r.localReady() {
		return r.local.LastBattery()
	}
	snap := r.pool.Snapshot()
	for _, n := range snap.Nodes {
		if n.IsActive && n.LastBattery != nil {
			return *n.LastBattery, true
		}
	}
	return 0, false
}

// Active reports whether the collar is reachable at all right now,
// either through the local endpoint or an active remote node.
func (r *Router) Active() bool {
	if r.localReady() {
		return true
	}
	_, ok := r.pool.ActiveLink()
	return ok
}
