// Package sessionmap implements the grid's authoritative sessionId→node
// binding, keyed by sessionId behind a single readers-writer lock.
package sessionmap

import (
	"sync"

	"github.com/gridworks/gridcore/internal/eventbus"
	"github.com/gridworks/gridcore/internal/gridtypes"
)

// Map is the Session Map component. Reads (Get, ListByNode) take a read
// lock; writes (Add, Remove) take a write lock.
type Map struct {
	mu       sync.RWMutex
	sessions map[string]gridtypes.Session
}

// New creates an empty Map and subscribes it to the node.removed topic on
// bus: when a node is evicted, every session it owned is removed and a
// session.ended event is published for each.
func New(bus eventbus.Bus) *Map {
	m := &Map{sessions: make(map[string]gridtypes.Session)}
	if bus != nil {
		bus.Subscribe("node.removed", func(key string, _ any) {
			for _, sess := range m.ListByNode(key) {
				m.Remove(sess.ID)
				bus.Publish("session.ended", sess.ID, sess)
			}
		})
	}
	return m
}

// Add inserts session, failing if the key already exists.
func (m *Map) Add(s gridtypes.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return gridtypes.NewGridError(gridtypes.ErrInvalidArgument, "duplicate session "+s.ID)
	}
	m.sessions[s.ID] = s
	return nil
}

// Get returns the Session for id, or NoSuchSession if it does not exist.
func (m *Map) Get(id string) (gridtypes.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return gridtypes.Session{}, gridtypes.NewGridError(gridtypes.ErrNoSuchSession, "no such session "+id)
	}
	return s, nil
}

// Remove deletes id if present. Idempotent: returns whether a record was
// actually removed.
func (m *Map) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// ListByNode returns every session currently bound to nodeID.
func (m *Map) ListByNode(nodeID string) []gridtypes.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []gridtypes.Session
	for _, s := range m.sessions {
		if s.OwnerNodeID == nodeID {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of live sessions.
func (m *Map) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
