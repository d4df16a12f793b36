package registry

import (
	"context"
	"time"

	"github.com/gridworks/gridcore/internal/workerpool"
)

// ProbeFunc checks whether nodeID, reachable at externalURI, is still
// healthy. It is expected to honor ctx's deadline.
type ProbeFunc func(ctx context.Context, nodeID, externalURI string) error

// StartHealthChecks runs one ticker at cadence interval; each tick it
// snapshots the fleet and submits one probe job per node to pool, bounding
// total concurrent probe RPCs regardless of fleet size. A node is evicted if
// its last heartbeat is older than unhealthyAfter and its probe fails. It
// returns a stop func; the caller must also have called pool.Start()
// beforehand and is responsible for pool.Stop() afterward.
func (r *Registry) StartHealthChecks(pool *workerpool.Pool, interval, unhealthyAfter, probeTimeout time.Duration, probe ProbeFunc) (stop func()) {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				r.runHealthPass(pool, unhealthyAfter, probeTimeout, probe)
			}
		}
	}()

	return func() { close(done) }
}

func (r *Registry) runHealthPass(pool *workerpool.Pool, unhealthyAfter, probeTimeout time.Duration, probe ProbeFunc) {
	cutoff := time.Now().Add(-unhealthyAfter)
	for _, node := range r.Snapshot() {
		if node.LastHeartbeat.After(cutoff) {
			continue
		}
		node := node
		pool.Submit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			defer cancel()
			if err := probe(ctx, node.ID, node.ExternalURI); err != nil {
				// Evict on a single failed probe rather than requiring
				// several consecutive failures; a node that is stale AND
				// unreachable once is treated as gone.
				r.Evict(node.ID)
			}
		})
	}
}
