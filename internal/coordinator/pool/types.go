// Package pool implements the Node Pool: registration, liveness,
// election, and the single-active invariant for forwarder agents.
// Grounded on ydin/state.go's Manager (mutex-guarded map with
// snapshot-returning reads) generalized from a passive cache into the
// full write-heavy arbitration state machine of spec §4.4.2, run as a
// single-owner goroutine per the design notes in spec §9 — the actor
// style itself is grounded on jangala-dev-devicecode-go's
// services/hal/hal.go service.loop (one goroutine, one select, one
// owned map).
package pool

import (
	"time"

	"github.com/collarhub/collarhub/internal/wire"
)

// Link is the coordinator's view of a bidirectional connection to one
// forwarder agent. Implemented by internal/coordinator/server.
type Link interface {
	Send(wire.Envelope) error
	Close() error
}

// Liveness tracks whether a node's most recent ping has been answered.
type Liveness int

const (
	LivenessHealthy Liveness = iota
	LivenessAwaiting
)

// HandoffState is the pool-wide election phase.
type HandoffState int

const (
	HandoffIdle HandoffState = iota
	HandoffScanning
	HandoffAwaitingConnect
)

func (s HandoffState) String() string {
	switch s {
	case HandoffScanning:
		return "scanning"
	case HandoffAwaitingConnect:
		return "awaiting_connect"
	default:
		return "idle"
	}
}

// NodeEntry is one registered forwarder agent's state, per spec §3.
type NodeEntry struct {
	NodeID       string
	Link         Link
	BLEConnected bool
	LastBattery  *int
	LastSeen     time.Time
	IsActive     bool
	Liveness     Liveness

	pingAwaiting bool
	pingTimer    *time.Timer
	staleTimer   *time.Timer
}

// Snapshot is a read-only, race-free view of one node, safe to hand to
// callers outside the pool's owner goroutine.
type Snapshot struct {
	NodeID       string
	BLEConnected bool
	LastBattery  *int
	LastSeen     time.Time
	IsActive     bool
	Awaiting     bool
}

// PoolSnapshot is a consistent read-only view of the whole pool.
type PoolSnapshot struct {
	ActiveNodeID string // "" means none
	HandoffState HandoffState
	Nodes        []Snapshot
}

type pendingCommand struct {
	resultCh chan bool
	timer    *time.Timer
	done     bool
}
