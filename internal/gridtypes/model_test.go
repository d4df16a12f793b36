package gridtypes_test

import (
	"testing"
	"time"

	"github.com/gridworks/gridcore/internal/gridtypes"
)

func TestNodeSnapshot_Equal_RoundTrip(t *testing.T) {
	now := time.Now()
	snap := gridtypes.NodeSnapshot{
		NodeID:                "n1",
		ExternalURI:           "http://n1",
		MaxConcurrentSessions: 2,
		Slots: []gridtypes.Slot{
			{ID: "slot-1", State: gridtypes.SlotBusy, SessionID: "sess-1", LastStarted: now, Stereotype: gridtypes.Capabilities{"browserName": "chrome"}},
			{ID: "slot-2", State: gridtypes.SlotIdle},
		},
		Draining:           false,
		RegistrationSecret: "secret",
		LastHeartbeat:      now,
	}

	// Simulate a round trip through the event bus: a value copy, as
	// LocalBus delivers, with its own independent Slots backing array.
	delivered := snap
	delivered.Slots = append([]gridtypes.Slot(nil), snap.Slots...)
	if !snap.Equal(delivered) {
		t.Fatal("expected a round-tripped snapshot to compare equal")
	}

	delivered.Slots[0].SessionID = "sess-2"
	if snap.Equal(delivered) {
		t.Fatal("expected a mutated slot to break equality")
	}
}

func TestNode_BusySlotCount(t *testing.T) {
	node := gridtypes.Node{
		Slots: []gridtypes.Slot{
			{State: gridtypes.SlotIdle},
			{State: gridtypes.SlotBusy},
			{State: gridtypes.SlotReserved},
		},
	}
	if got := node.BusySlotCount(); got != 2 {
		t.Errorf("expected 2 busy-or-reserved slots, got %d", got)
	}
}

func TestSlotState_String(t *testing.T) {
	cases := map[gridtypes.SlotState]string{
		gridtypes.SlotIdle:     "idle",
		gridtypes.SlotReserved: "reserved",
		gridtypes.SlotBusy:     "busy",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
