// Package registry implements the Node Registry: the fleet directory of
// known nodes, their slots, health, and drain state.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/gridworks/gridcore/internal/eventbus"
	"github.com/gridworks/gridcore/internal/gridtypes"
	"github.com/gridworks/gridcore/internal/keylock"
)

// Registry is a set of Node records plus the health-check scheduler. All
// node state is guarded by one readers-writer lock; reserve is kept short
// (a single slot flip) to minimize write-lock contention.
type Registry struct {
	secret string
	bus    eventbus.Bus

	mu       sync.RWMutex
	nodes    map[string]*gridtypes.Node // nodeId -> node
	byURI    map[string]string          // externalUri -> nodeId, for restart detection

	// uriLock serializes heartbeat processing per externalURI so two
	// heartbeats racing for the same URI during a restart can't both
	// observe "no existing node" and double-insert.
	uriLock *keylock.Locker
}

// New creates an empty Registry. secret is the registrationSecret every
// heartbeat must present; an empty secret accepts only heartbeats that also
// present an empty secret.
func New(secret string, bus eventbus.Bus) *Registry {
	return &Registry{
		secret:  secret,
		bus:     bus,
		nodes:   make(map[string]*gridtypes.Node),
		byURI:   make(map[string]string),
		uriLock: keylock.New(),
	}
}

// Heartbeat ingests one node status snapshot: validate secret, then either
// apply-update an existing node, evict a stale record at the same URI after
// a restart, or insert a brand new node.
func (r *Registry) Heartbeat(snapshot gridtypes.NodeSnapshot) error {
	if snapshot.RegistrationSecret != r.secret {
		r.bus.Publish("node.rejected", snapshot.NodeID, snapshot)
		return gridtypes.NewGridError(gridtypes.ErrInvalidArgument, "registration secret mismatch")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.uriLock.WithLock(ctx, snapshot.ExternalURI, func() {
		r.applyHeartbeat(snapshot)
	})
}

func (r *Registry) applyHeartbeat(snapshot gridtypes.NodeSnapshot) {
	r.mu.Lock()

	if existing, ok := r.nodes[snapshot.NodeID]; ok {
		// Step 2: apply-update.
		existing.Slots = snapshot.Slots
		existing.Draining = snapshot.Draining
		existing.LastHeartbeat = time.Now()
		existing.MaxConcurrentSessions = snapshot.MaxConcurrentSessions
		existing.ExternalURI = snapshot.ExternalURI
		drainComplete := existing.Draining && existing.BusySlotCount() == 0
		node := *existing
		r.mu.Unlock()

		r.bus.Publish("node.heartbeat", node.ID, node)
		if drainComplete {
			r.bus.Publish("node.drain-complete", node.ID, node)
			r.evict(node.ID)
		}
		return
	}

	if oldID, ok := r.byURI[snapshot.ExternalURI]; ok {
		// Step 3: a node restarted under a stable URI; evict the old
		// record before inserting the new one.
		if old, exists := r.nodes[oldID]; exists {
			delete(r.nodes, oldID)
			delete(r.byURI, snapshot.ExternalURI)
			removed := *old
			r.mu.Unlock()
			r.bus.Publish("node.removed", removed.ID, removed)
			r.mu.Lock()
		}
	}

	// Step 4: insert.
	node := &gridtypes.Node{
		ID:                    snapshot.NodeID,
		ExternalURI:           snapshot.ExternalURI,
		MaxConcurrentSessions: snapshot.MaxConcurrentSessions,
		Slots:                 snapshot.Slots,
		Draining:              snapshot.Draining,
		LastHeartbeat:         time.Now(),
	}
	r.nodes[node.ID] = node
	r.byURI[node.ExternalURI] = node.ID
	r.mu.Unlock()

	r.bus.Publish("node.heartbeat", node.ID, *node)
}

// evict removes nodeID from the registry and publishes node.removed. It is
// idempotent: evicting an already-gone node is a no-op.
func (r *Registry) evict(nodeID string) {
	r.mu.Lock()
	node, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return
	}
	removed := *node
	delete(r.nodes, nodeID)
	if r.byURI[node.ExternalURI] == nodeID {
		delete(r.byURI, node.ExternalURI)
	}
	r.mu.Unlock()

	r.bus.Publish("node.removed", removed.ID, removed)
}

// Evict forcibly removes nodeID, e.g. after a failed health probe. Exported
// for the health-check scheduler.
func (r *Registry) Evict(nodeID string) { r.evict(nodeID) }

// Snapshot returns a consistent, independently-mutable copy of every known
// node.
func (r *Registry) Snapshot() []gridtypes.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]gridtypes.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		cp := *n
		cp.Slots = append([]gridtypes.Slot(nil), n.Slots...)
		out = append(out, cp)
	}
	return out
}

// Get returns a copy of the node record for nodeID.
func (r *Registry) Get(nodeID string) (gridtypes.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return gridtypes.Node{}, false
	}
	cp := *n
	cp.Slots = append([]gridtypes.Slot(nil), n.Slots...)
	return cp, true
}

// Reserve atomically flips slotID on nodeID from Idle to Reserved and
// returns true, or returns false if the slot is no longer idle or the node
// is draining or gone.
func (r *Registry) Reserve(nodeID, slotID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok || node.Draining {
		return false
	}
	for i := range node.Slots {
		if node.Slots[i].ID != slotID {
			continue
		}
		if node.Slots[i].State != gridtypes.SlotIdle {
			return false
		}
		node.Slots[i].State = gridtypes.SlotReserved
		node.Slots[i].ReservedAt = time.Now()
		return true
	}
	return false
}

// Release flips slotID back to Idle from whatever state it is in (Reserved,
// on a failed/timed-out creation, or Busy, on session deletion).
func (r *Registry) Release(nodeID, slotID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	for i := range node.Slots {
		if node.Slots[i].ID == slotID {
			node.Slots[i].State = gridtypes.SlotIdle
			node.Slots[i].SessionID = ""
			node.Slots[i].ReservedAt = time.Time{}
			return
		}
	}
}

// MarkBusy flips slotID from Reserved to Busy once upstream session creation
// succeeds, recording the new sessionID.
func (r *Registry) MarkBusy(nodeID, slotID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	for i := range node.Slots {
		if node.Slots[i].ID == slotID {
			node.Slots[i].State = gridtypes.SlotBusy
			node.Slots[i].SessionID = sessionID
			node.Slots[i].LastStarted = time.Now()
			return
		}
	}
}

// SweepExpiredReservations releases every slot that has been Reserved for
// longer than maxAge, returning the (nodeID, slotID) pairs it released. This
// backs the janitor's periodic sweep.
func (r *Registry) SweepExpiredReservations(maxAge time.Duration) [][2]string {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	var released [][2]string
	for _, node := range r.nodes {
		for i := range node.Slots {
			s := &node.Slots[i]
			if s.State == gridtypes.SlotReserved && s.ReservedAt.Before(cutoff) {
				s.State = gridtypes.SlotIdle
				s.ReservedAt = time.Time{}
				released = append(released, [2]string{node.ID, s.ID})
			}
		}
	}
	return released
}
