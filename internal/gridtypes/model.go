package gridtypes

import "time"

// Dialect identifies which downstream wire representation a session was
// created with. It is fixed at creation time and never changes.
type Dialect int

const (
	// DialectW3C is the W3C WebDriver request/response shape.
	DialectW3C Dialect = iota
	// DialectLegacy is the pre-W3C JSON-wire-protocol shape.
	DialectLegacy
)

// SlotState is the lifecycle state of a Slot.
type SlotState int

const (
	// SlotIdle means the slot may be reserved.
	SlotIdle SlotState = iota
	// SlotReserved means a placement has claimed the slot but session
	// creation upstream has not yet completed.
	SlotReserved
	// SlotBusy means the slot is hosting a live session.
	SlotBusy
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotReserved:
		return "reserved"
	case SlotBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Slot is the unit of concurrency on a Node.
type Slot struct {
	ID          string
	Stereotype  Capabilities
	LastStarted time.Time
	State       SlotState

	// ReservedAt records when the slot entered SlotReserved, so the
	// janitor can detect a reservation that outlived newSessionTimeout.
	ReservedAt time.Time

	// SessionID is non-empty iff State is SlotBusy.
	SessionID string
}

// Session is the authoritative record of one live browser-automation
// session, owned exclusively by the Session Map.
type Session struct {
	ID                    string
	OwnerNodeID           string
	OwnerSlotID           string
	Stereotype            Capabilities
	NegotiatedCapabilities Capabilities
	StartedAt             time.Time
	DownstreamDialect     Dialect
}

// NodeSnapshot is the message a node emits on every heartbeat.
type NodeSnapshot struct {
	NodeID                string
	ExternalURI           string
	MaxConcurrentSessions int
	Slots                 []Slot
	Draining              bool
	RegistrationSecret    string
	LastHeartbeat         time.Time
}

// Equal reports whether two snapshots are identical in every field relevant
// to round-tripping through the event bus. Timestamps compare with
// time.Time.Equal so differing monotonic readings of the same instant still
// compare equal.
func (n NodeSnapshot) Equal(other NodeSnapshot) bool {
	if n.NodeID != other.NodeID ||
		n.ExternalURI != other.ExternalURI ||
		n.MaxConcurrentSessions != other.MaxConcurrentSessions ||
		n.Draining != other.Draining ||
		n.RegistrationSecret != other.RegistrationSecret ||
		!n.LastHeartbeat.Equal(other.LastHeartbeat) ||
		len(n.Slots) != len(other.Slots) {
		return false
	}
	for i := range n.Slots {
		a, b := n.Slots[i], other.Slots[i]
		if a.ID != b.ID || a.State != b.State || a.SessionID != b.SessionID ||
			!a.LastStarted.Equal(b.LastStarted) || !a.Stereotype.Equal(b.Stereotype) {
			return false
		}
	}
	return true
}

// Node is the registry's record of one fleet member.
type Node struct {
	ID                    string
	ExternalURI           string
	MaxConcurrentSessions int
	Slots                 []Slot
	Draining              bool
	LastHeartbeat         time.Time
}

// BusySlotCount returns the number of slots currently in SlotBusy or
// SlotReserved state (both count against MaxConcurrentSessions).
func (n Node) BusySlotCount() int {
	count := 0
	for _, s := range n.Slots {
		if s.State == SlotBusy || s.State == SlotReserved {
			count++
		}
	}
	return count
}
