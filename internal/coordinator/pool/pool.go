package pool

import (
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/collarhub/collarhub/internal/codec"
	"github.com/collarhub/collarhub/internal/wire"
)

// Config carries the pool's timing knobs, all sourced from
// internal/config per spec §6.4.
type Config struct {
	PingInterval   time.Duration
	StaleTimeout   time.Duration
	HandoffTimeout time.Duration
	ScanDuration   time.Duration
}

// Pool is the Node Pool of spec §4.4: the single owner of forwarder
// agent registration, liveness, and the active-node election that
// enforces the single-active invariant. All mutation happens on one
// goroutine reached through the actions channel; every exported method
// is safe to call from any goroutine.
type Pool struct {
	log *zap.Logger
	cfg Config

	actions chan func()
	stop    chan struct{}

	nodes        map[string]*NodeEntry
	activeNodeID string

	handoff    HandoffState
	handoffGen uint64
	scanOrder  []string
	scanBest   map[string]wire.ScannedDevice
	scanDone   map[string]bool

	pendingCmds map[int64]*pendingCommand
	cmdSeq      int64

	bus *Bus
}

// New constructs a Pool. Call Run in its own goroutine before using it.
func New(cfg Config, log *zap.Logger) *Pool {
	return &Pool{
		log:         log,
		cfg:         cfg,
		actions:     make(chan func(), 64),
		stop:        make(chan struct{}),
		nodes:       map[string]*NodeEntry{},
		pendingCmds: map[int64]*pendingCommand{},
		bus:         newBus(),
	}
}

// Run is the pool's owner loop. It must run on exactly one goroutine
// for the lifetime of the pool.
func (p *Pool) Run() {
	for {
		select {
		case a := <-p.actions:
			a()
		case <-p.stop:
			return
		}
	}
}

// Close stops the owner loop.
func (p *Pool) Close() {
	close(p.stop)
}

// Subscribe exposes the pool's event bus to external observers (the
// admin socket, logging hooks).
func (p *Pool) Subscribe() (<-chan Event, func()) {
	return p.bus.Subscribe()
}

// do runs f on the owner goroutine and blocks until it completes.
func (p *Pool) do(f func()) {
	done := make(chan struct{})
	p.actions <- func() {
		f()
		close(done)
	}
	<-done
}

// AddNode registers a newly authenticated agent connection, per spec
// §4.4.2 addNode. If no node is currently active, it immediately
// triggers a handoff election.
func (p *Pool) AddNode(nodeID string, link Link) {
	p.do(func() {
		if existing, ok := p.nodes[nodeID]; ok {
			existing.Link.Close()
		}
		n := &NodeEntry{
			NodeID:   nodeID,
			Link:     link,
			LastSeen: time.Now(),
			Liveness: LivenessHealthy,
		}
		p.nodes[nodeID] = n
		p.armPing(n)
		p.bus.publish(Event{Type: EventNodeConnected, NodeID: nodeID})
		p.log.Info("node added", zap.String("node_id", nodeID))
		if p.activeNodeID == "" && p.handoff == HandoffIdle {
			p.startHandoffLocked()
		}
	})
}

// RemoveNode drops a node, per spec §4.4.2 removeNode. If the removed
// node was active, it triggers a new election.
func (p *Pool) RemoveNode(nodeID string) {
	p.do(func() {
		p.removeNodeLocked(nodeID)
	})
}

func (p *Pool) removeNodeLocked(nodeID string) {
	n, ok := p.nodes[nodeID]
	if !ok {
		return
	}
	if n.pingTimer != nil {
		n.pingTimer.Stop()
	}
	if n.staleTimer != nil {
		n.staleTimer.Stop()
	}
	delete(p.nodes, nodeID)
	wasActive := p.activeNodeID == nodeID
	p.bus.publish(Event{Type: EventNodeRemoved, NodeID: nodeID})
	p.log.Info("node removed", zap.String("node_id", nodeID), zap.Bool("was_active", wasActive))
	if wasActive {
		p.activeNodeID = ""
		p.bus.publish(Event{Type: EventNoActive})
		p.startHandoffLocked()
	}
}

// HandleMessage dispatches one inbound envelope from a node, per spec
// §4.3's coordinator-side message table.
func (p *Pool) HandleMessage(nodeID string, env wire.Envelope) {
	p.actions <- func() {
		n, ok := p.nodes[nodeID]
		if !ok {
			return
		}
		n.LastSeen = time.Now()
		switch env.Type {
		case wire.TypeStatus:
			p.handleStatus(n, env)
		case wire.TypePong:
			n.pingAwaiting = false
			n.Liveness = LivenessHealthy
			if n.staleTimer != nil {
				n.staleTimer.Stop()
			}
		case wire.TypeCommandResult:
			success := env.Success != nil && *env.Success
			p.completeCommand(env.ID, success)
		case wire.TypeScanResult:
			p.handleScanResult(n, env)
		case wire.TypeBattery:
			if env.Level != nil {
				b := *env.Level
				n.LastBattery = &b
				p.bus.publish(Event{Type: EventBattery, NodeID: nodeID, Value: b, HasVal: true})
			}
		case wire.TypeRSSI:
			if env.Value != nil {
				p.bus.publish(Event{Type: EventRSSI, NodeID: nodeID, Value: *env.Value, HasVal: true})
			}
		}
	}
}

// handleStatus applies a status update and reacts to BLE-connectivity
// edges, per spec §4.4.2: On->Off while active triggers a new
// handoff; Off->On calls tryPromote (which itself enforces the
// single-active invariant, either promoting the node or, if another
// node is already active, sending it disconnect_ble).
func (p *Pool) handleStatus(n *NodeEntry, env wire.Envelope) {
	wasConnected := n.BLEConnected
	if env.BLEConnected != nil {
		n.BLEConnected = *env.BLEConnected
	}
	if env.Battery != nil {
		b := *env.Battery
		n.LastBattery = &b
	}
	if env.BLEConnected == nil {
		return
	}
	switch {
	case n.IsActive && !*env.BLEConnected:
		p.log.Warn("active node lost its BLE connection", zap.String("node_id", n.NodeID))
		p.demoteLocked(n.NodeID)
		p.startHandoffLocked()
	case !wasConnected && *env.BLEConnected:
		p.tryPromote(n.NodeID)
	}
}

// -- liveness -----------------------------------------------------

func (p *Pool) armPing(n *NodeEntry) {
	nodeID := n.NodeID
	n.pingTimer = time.AfterFunc(p.cfg.PingInterval, func() {
		p.actions <- func() { p.tickPing(nodeID) }
	})
}

// tickPing sends one ping and re-arms itself for the next tick,
// independent of whether a pong ever answers this one: PingInterval is
// the cadence, StaleTimeout is a separate absolute bound on how long an
// unanswered ping is tolerated, per spec §4.4.2.
func (p *Pool) tickPing(nodeID string) {
	n, ok := p.nodes[nodeID]
	if !ok {
		return
	}
	n.pingAwaiting = true
	n.Liveness = LivenessAwaiting
	_ = n.Link.Send(wire.Simple(wire.TypePing))
	n.staleTimer = time.AfterFunc(p.cfg.StaleTimeout, func() {
		p.actions <- func() { p.checkStale(nodeID) }
	})
	n.pingTimer = time.AfterFunc(p.cfg.PingInterval, func() {
		p.actions <- func() { p.tickPing(nodeID) }
	})
}

func (p *Pool) checkStale(nodeID string) {
	n, ok := p.nodes[nodeID]
	if !ok || !n.pingAwaiting {
		return
	}
	p.log.Warn("node stale, removing", zap.String("node_id", nodeID))
	p.removeNodeLocked(nodeID)
}

// -- election, per spec §4.4.2 triggerHandoff / electNode ----------

func (p *Pool) startHandoffLocked() {
	if p.handoff != HandoffIdle {
		return
	}
	healthy := p.healthyNodeIDs()
	if len(healthy) == 0 {
		p.bus.publish(Event{Type: EventNoActive})
		return
	}
	p.handoff = HandoffScanning
	p.handoffGen++
	gen := p.handoffGen
	p.scanOrder = nil
	p.scanBest = map[string]wire.ScannedDevice{}
	p.scanDone = map[string]bool{}
	for _, id := range healthy {
		n := p.nodes[id]
		_ = n.Link.Send(wire.NewScan(p.cfg.ScanDuration.Milliseconds()))
	}
	p.log.Info("handoff started", zap.Strings("candidates", healthy))
	// Elect on a fixed time-based cutoff, not a count of scan_results in:
	// a silent or slow node must not block the whole pool from
	// reconnecting, per spec §9.
	electAfter := p.cfg.ScanDuration + 3*time.Second
	time.AfterFunc(electAfter, func() {
		p.actions <- func() { p.electionCutoff(gen) }
	})
	// A single cycle-wide retry timer: if activeNodeId is still none by
	// handoffTimeout + (scanDuration + 3s), the cycle failed (no
	// candidate, or the winner's connect status never arrived) and is
	// restarted, per spec §4.4.2's election protocol.
	time.AfterFunc(p.cfg.HandoffTimeout+electAfter, func() {
		p.actions <- func() { p.handoffRetryTimeout(gen) }
	})
}

func (p *Pool) healthyNodeIDs() []string {
	out := []string{}
	for id, n := range p.nodes {
		if n.Liveness == LivenessHealthy || n.pingAwaiting {
			out = append(out, id)
		}
	}
	return out
}

func (p *Pool) handleScanResult(n *NodeEntry, env wire.Envelope) {
	if p.handoff != HandoffScanning {
		return
	}
	if _, seen := p.scanDone[n.NodeID]; !seen {
		p.scanOrder = append(p.scanOrder, n.NodeID)
	}
	p.scanDone[n.NodeID] = true
	if best, ok := bestCandidate(env.Devices); ok {
		p.scanBest[n.NodeID] = best
	}
}

func bestCandidate(devices []wire.ScannedDevice) (wire.ScannedDevice, bool) {
	if len(devices) == 0 {
		return wire.ScannedDevice{}, false
	}
	best := devices[0]
	for _, d := range devices[1:] {
		if d.RSSI > best.RSSI {
			best = d
		}
	}
	return best, true
}

// electionCutoff fires the time-based election deadline (scanDuration +
// 3s after scanning began). It is a no-op if the pool has already moved
// past HandoffScanning under this generation, e.g. because DemoteForLocal
// superseded it.
func (p *Pool) electionCutoff(gen uint64) {
	if gen != p.handoffGen || p.handoff != HandoffScanning {
		return
	}
	p.electNode()
}

// electNode picks the node whose strongest candidate has the best
// RSSI. Ties resolve by insertion order into scanOrder (first-found
// wins) rather than Go's randomized map iteration, per spec §4.4.2.
func (p *Pool) electNode() {
	var winner string
	winnerRSSI := 0
	found := false
	for _, id := range p.scanOrder {
		cand, ok := p.scanBest[id]
		if !ok {
			continue
		}
		if !found || cand.RSSI > winnerRSSI {
			winner = id
			winnerRSSI = cand.RSSI
			found = true
		}
	}
	if !found {
		// Stay in scanning: the cycle-wide retry timer armed in
		// startHandoffLocked is what eventually restarts the cycle.
		p.log.Warn("election found no candidates, awaiting retry")
		p.bus.publish(Event{Type: EventNoActive})
		return
	}
	n, ok := p.nodes[winner]
	if !ok {
		return
	}
	addr := p.scanBest[winner].Address
	p.handoff = HandoffAwaitingConnect
	_ = n.Link.Send(wire.NewConnect(addr))
	p.log.Info("connect sent, awaiting status", zap.String("node_id", winner))
}

// handoffRetryTimeout is the single cycle-wide retry timer armed at
// handoffTimeout + (scanDuration + 3s) after a handoff cycle started. If
// activeNodeId is still empty by then — whether because the election
// found no candidate or the winner's status{bleConnected: true} never
// arrived — the cycle is restarted. Agents are coordinator-gated and
// never reconnect on their own, so this must retry indefinitely rather
// than leave the pool idle forever waiting for the collar to come back
// in range, per spec §7.
func (p *Pool) handoffRetryTimeout(gen uint64) {
	if gen != p.handoffGen || p.activeNodeID != "" {
		return
	}
	p.handoff = HandoffIdle
	if len(p.nodes) == 0 {
		return
	}
	p.log.Warn("handoff cycle timed out, retrying")
	p.startHandoffLocked()
}

// tryPromote marks nodeID active, enforcing the single-active invariant
// of spec §8. It requires the node to already be BLE-connected —
// promotion happens on the status{bleConnected: true} that follows a
// connect, not on the connect itself. If a different node is already
// active, nodeID is a duplicate connection: it is told to disconnect
// and the incumbent is left untouched.
func (p *Pool) tryPromote(nodeID string) {
	n, ok := p.nodes[nodeID]
	if !ok || !n.BLEConnected {
		return
	}
	if p.activeNodeID != "" && p.activeNodeID != nodeID {
		p.log.Warn("duplicate BLE connection, disconnecting newcomer",
			zap.String("node_id", nodeID), zap.String("active_node_id", p.activeNodeID))
		_ = n.Link.Send(wire.Simple(wire.TypeDisconnectBLE))
		return
	}
	n.IsActive = true
	p.activeNodeID = nodeID
	p.handoff = HandoffIdle
	p.bus.publish(Event{Type: EventActiveChanged, NodeID: nodeID})
	p.log.Info("node promoted to active", zap.String("node_id", nodeID))
}

func (p *Pool) demoteLocked(nodeID string) {
	if n, ok := p.nodes[nodeID]; ok {
		n.IsActive = false
	}
	if p.activeNodeID == nodeID {
		p.activeNodeID = ""
	}
}

// DemoteForLocal cancels any in-flight election, used when the
// coordinator's local endpoint becomes ready mid-handoff and should
// supersede whatever remote election was underway.
func (p *Pool) DemoteForLocal() {
	p.do(func() {
		if p.handoff == HandoffIdle {
			return
		}
		p.handoff = HandoffIdle
		p.handoffGen++
		p.log.Info("handoff superseded by local endpoint")
	})
}

// -- command dispatch, per spec §4.4.3 sendCommand ------------------

// SendCommand writes frame to the active node and waits up to timeout
// for a command_result. Returns false if there is no active node or
// the result did not arrive in time.
func (p *Pool) SendCommand(frame codec.Frame, timeout time.Duration) bool {
	resultCh := make(chan bool, 1)
	sent := false
	p.do(func() {
		if p.activeNodeID == "" {
			return
		}
		n, ok := p.nodes[p.activeNodeID]
		if !ok {
			return
		}
		p.cmdSeq++
		id := p.cmdSeq
		pc := &pendingCommand{resultCh: resultCh}
		p.pendingCmds[id] = pc
		pc.timer = time.AfterFunc(timeout, func() {
			p.actions <- func() { p.completeCommand(id, false) }
		})
		if err := n.Link.Send(wire.NewCommand(id, hex.EncodeToString(frame))); err != nil {
			p.log.Warn("command send failed", zap.Error(err))
			p.completeCommand(id, false)
			return
		}
		sent = true
	})
	if !sent {
		return false
	}
	return <-resultCh
}

func (p *Pool) completeCommand(id int64, success bool) {
	pc, ok := p.pendingCmds[id]
	if !ok || pc.done {
		return
	}
	pc.done = true
	if pc.timer != nil {
		pc.timer.Stop()
	}
	delete(p.pendingCmds, id)
	pc.resultCh <- success
}

// ActiveLink returns the active node's link, if any.
func (p *Pool) ActiveLink() (Link, bool) {
	var link Link
	var ok bool
	p.do(func() {
		if p.activeNodeID == "" {
			return
		}
		if n, exists := p.nodes[p.activeNodeID]; exists {
			link, ok = n.Link, true
		}
	})
	return link, ok
}

// Snapshot returns a consistent, race-free view of the pool.
func (p *Pool) Snapshot() PoolSnapshot {
	var snap PoolSnapshot
	p.do(func() {
		snap.ActiveNodeID = p.activeNodeID
		snap.HandoffState = p.handoff
		for _, n := range p.nodes {
			snap.Nodes = append(snap.Nodes, Snapshot{
				NodeID:       n.NodeID,
				BLEConnected: n.BLEConnected,
				LastBattery:  n.LastBattery,
				LastSeen:     n.LastSeen,
				IsActive:     n.IsActive,
				Awaiting:     n.pingAwaiting,
			})
		}
	})
	return snap
}
