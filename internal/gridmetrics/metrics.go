// Package gridmetrics provides lightweight, lock-free counters for the grid
// control plane using atomic operations so they impose minimal overhead on
// the request and heartbeat hot paths. This is an internal counters surface,
// not a metrics backend/exporter; wiring a Prometheus/StatsD sink is left to
// the caller.
package gridmetrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks aggregate statistics for one hub process.
type Metrics struct {
	SessionsCreated      uint64
	SessionsFailed       uint64
	PlacementAttempts    uint64
	NodesRegistered      uint64
	NodesEvicted         uint64
	ReservationsExpired  uint64

	startTime time.Time
}

// New creates a Metrics instance with the start time set to now.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) IncrementSessionsCreated()     { atomic.AddUint64(&m.SessionsCreated, 1) }
func (m *Metrics) IncrementSessionsFailed()       { atomic.AddUint64(&m.SessionsFailed, 1) }
func (m *Metrics) IncrementPlacementAttempts()    { atomic.AddUint64(&m.PlacementAttempts, 1) }
func (m *Metrics) IncrementNodesRegistered()      { atomic.AddUint64(&m.NodesRegistered, 1) }
func (m *Metrics) IncrementNodesEvicted()         { atomic.AddUint64(&m.NodesEvicted, 1) }
func (m *Metrics) IncrementReservationsExpired()  { atomic.AddUint64(&m.ReservationsExpired, 1) }

// SessionsPerSecond returns the average session-creation rate since the
// Metrics instance was created.
func (m *Metrics) SessionsPerSecond() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&m.SessionsCreated)) / elapsed
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	SessionsCreated     uint64
	SessionsFailed      uint64
	PlacementAttempts   uint64
	NodesRegistered     uint64
	NodesEvicted        uint64
	ReservationsExpired uint64
}

// Snapshot returns a point-in-time copy of the counters. Because the loads
// are not performed under a single lock, the snapshot may be very slightly
// inconsistent at nanosecond granularity, which is acceptable for monitoring
// purposes.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		SessionsCreated:     atomic.LoadUint64(&m.SessionsCreated),
		SessionsFailed:      atomic.LoadUint64(&m.SessionsFailed),
		PlacementAttempts:   atomic.LoadUint64(&m.PlacementAttempts),
		NodesRegistered:     atomic.LoadUint64(&m.NodesRegistered),
		NodesEvicted:        atomic.LoadUint64(&m.NodesEvicted),
		ReservationsExpired: atomic.LoadUint64(&m.ReservationsExpired),
	}
}
