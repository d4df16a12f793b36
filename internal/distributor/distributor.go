// Package distributor implements admission, matching, placement, and
// capacity accounting. Distributor composes a Registry and a Session Map
// plus a NodeClient for upstream RPCs; it holds no long-lived lock of its
// own and never holds a Registry lock and a Session Map lock at the same
// time.
package distributor

import (
	"context"
	"sort"
	"time"

	"github.com/gridworks/gridcore/internal/eventbus"
	"github.com/gridworks/gridcore/internal/gridlog"
	"github.com/gridworks/gridcore/internal/gridmetrics"
	"github.com/gridworks/gridcore/internal/gridtypes"
	"github.com/gridworks/gridcore/internal/registry"
	"github.com/gridworks/gridcore/internal/sessionmap"
)

// NodeClient is the minimal set of remote calls the Distributor makes
// against a node. internal/nodeclient.Client is the HTTP-backed
// implementation; an in-process test double can satisfy the same interface
// without a network round trip.
type NodeClient interface {
	CreateSession(ctx context.Context, externalURI string, caps gridtypes.Capabilities) (sessionID string, negotiated gridtypes.Capabilities, err error)
	DeleteSession(ctx context.Context, externalURI, sessionID string) error
}

// Request is a new-session request: a set of first-match alternatives, each
// to be merged with the always-match overlay before matching.
type Request struct {
	FirstMatch        []gridtypes.Capabilities
	AlwaysMatch       gridtypes.Capabilities
	DownstreamDialect gridtypes.Dialect
}

// Config is the subset of the hub configuration the Distributor needs.
type Config struct {
	UnhealthyAfter       time.Duration
	NewSessionTimeout    time.Duration
	NodeRPCTimeout       time.Duration
	MaxPlacementAttempts int
	Informational        map[string]bool
}

// Distributor turns requests into placements and created sessions.
type Distributor struct {
	registry *registry.Registry
	sessions *sessionmap.Map
	client   NodeClient
	bus      eventbus.Bus
	logger   *gridlog.Logger
	metrics  *gridmetrics.Metrics
	cfg      Config
}

// New creates a Distributor.
func New(reg *registry.Registry, sessions *sessionmap.Map, client NodeClient, bus eventbus.Bus, logger *gridlog.Logger, metrics *gridmetrics.Metrics, cfg Config) *Distributor {
	if cfg.MaxPlacementAttempts < 3 {
		cfg.MaxPlacementAttempts = 3
	}
	return &Distributor{
		registry: reg,
		sessions: sessions,
		client:   client,
		bus:      bus,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// candidate is one (node, idle slot) pair eligible for a given blob.
type candidate struct {
	nodeID           string
	externalURI      string
	slotID           string
	slotLastStarted  time.Time
	busySlotsOnNode  int
	hasOtherBusySlot bool
}

func (c candidate) score() int {
	base := 0
	if !c.hasOtherBusySlot {
		base = 1_000_000
	}
	return base - c.busySlotsOnNode
}

// bestCandidate scores every candidate and picks the highest, breaking ties
// by (fewest busy slots on node, least-recently-used slot, smallest nodeID
// lexicographically). This ordering must stay deterministic so that repeated
// placements against the same fleet state pick the same node.
func bestCandidate(candidates []candidate) (candidate, bool) {
	if len(candidates) == 0 {
		return candidate{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score() != b.score() {
			return a.score() > b.score()
		}
		if a.busySlotsOnNode != b.busySlotsOnNode {
			return a.busySlotsOnNode < b.busySlotsOnNode
		}
		if !a.slotLastStarted.Equal(b.slotLastStarted) {
			return a.slotLastStarted.Before(b.slotLastStarted)
		}
		return a.nodeID < b.nodeID
	})
	return candidates[0], true
}

// candidatesFor enumerates every (node, idle slot) pair whose stereotype
// satisfies blob, across nodes that are not draining and whose heartbeat is
// fresh.
func (d *Distributor) candidatesFor(blob gridtypes.Capabilities) []candidate {
	cutoff := time.Now().Add(-d.cfg.UnhealthyAfter)
	var out []candidate
	for _, node := range d.registry.Snapshot() {
		if node.Draining || node.LastHeartbeat.Before(cutoff) {
			continue
		}
		busy := node.BusySlotCount()
		for _, slot := range node.Slots {
			if slot.State != gridtypes.SlotIdle {
				continue
			}
			if !slot.Stereotype.Satisfies(blob, d.cfg.Informational) {
				continue
			}
			out = append(out, candidate{
				nodeID:           node.ID,
				externalURI:      node.ExternalURI,
				slotID:           slot.ID,
				slotLastStarted:  slot.LastStarted,
				busySlotsOnNode:  busy,
				hasOtherBusySlot: busy > 0,
			})
		}
	}
	return out
}

// placement is a reserved (node, slot) pair plus the capability blob the
// session is being created with.
type placement struct {
	nodeID      string
	externalURI string
	slotID      string
	blob        gridtypes.Capabilities
}

// placeAlternative reserves a slot for one first-match alternative, already
// merged with the always-match overlay, resampling up to
// MaxPlacementAttempts times on a lost reservation race.
func (d *Distributor) placeAlternative(blob gridtypes.Capabilities) (placement, bool) {
	for attempt := 0; attempt < d.cfg.MaxPlacementAttempts; attempt++ {
		d.metrics.IncrementPlacementAttempts()

		cands := d.candidatesFor(blob)
		best, ok := bestCandidate(cands)
		if !ok {
			return placement{}, false // no candidates at all for this alternative
		}
		if d.registry.Reserve(best.nodeID, best.slotID) {
			return placement{nodeID: best.nodeID, externalURI: best.externalURI, slotID: best.slotID, blob: blob}, true
		}
		// Lost the race; resample.
	}
	return placement{}, false
}

// CreateSession performs admission, matching, placement, upstream creation,
// and Session Map insertion for one new-session request. It tries every
// first-match alternative in order; if the node chosen for an alternative
// refuses session creation (or is unreachable), the reservation is released
// and the next alternative is tried, per the W3C firstMatch fallback
// contract. A deadline expiring mid-attempt aborts the whole request rather
// than falling through to the next alternative.
func (d *Distributor) CreateSession(ctx context.Context, req Request) (gridtypes.Session, error) {
	if len(req.FirstMatch) == 0 {
		return gridtypes.Session{}, gridtypes.NewGridError(gridtypes.ErrSessionNotCreated, "no capabilities supplied")
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.NewSessionTimeout)
	defer cancel()

	for _, alt := range req.FirstMatch {
		blob := alt.Merge(req.AlwaysMatch)

		p, ok := d.placeAlternative(blob)
		if !ok {
			continue // no slot satisfied this alternative; try the next one
		}

		rpcCtx, rpcCancel := context.WithTimeout(ctx, d.cfg.NodeRPCTimeout)
		sessionID, negotiated, err := d.client.CreateSession(rpcCtx, p.externalURI, p.blob)
		rpcCancel()

		if err != nil {
			d.registry.Release(p.nodeID, p.slotID)
			d.metrics.IncrementSessionsFailed()
			if ctx.Err() != nil {
				return gridtypes.Session{}, gridtypes.NewGridError(gridtypes.ErrSessionNotCreated, "timeout")
			}
			continue // node refused; release and fall through to the next alternative
		}

		d.registry.MarkBusy(p.nodeID, p.slotID, sessionID)

		sess := gridtypes.Session{
			ID:                     sessionID,
			OwnerNodeID:            p.nodeID,
			OwnerSlotID:            p.slotID,
			Stereotype:             p.blob,
			NegotiatedCapabilities: negotiated,
			StartedAt:              time.Now(),
			DownstreamDialect:      req.DownstreamDialect,
		}
		if err := d.sessions.Add(sess); err != nil {
			// Should not happen (sessionID is node-assigned and unique), but
			// don't strand the upstream session if it does.
			delCtx, delCancel := context.WithTimeout(ctx, d.cfg.NodeRPCTimeout)
			_ = d.client.DeleteSession(delCtx, p.externalURI, sessionID)
			delCancel()
			d.registry.Release(p.nodeID, p.slotID)
			return gridtypes.Session{}, err
		}

		d.metrics.IncrementSessionsCreated()
		d.bus.Publish("session.started", sess.ID, sess)
		return sess, nil
	}

	return gridtypes.Session{}, gridtypes.NewGridError(gridtypes.ErrSessionNotCreated, "no slot matched")
}

// DeleteSession tears down a session's upstream slot and removes its binding
// from the Session Map.
func (d *Distributor) DeleteSession(ctx context.Context, sessionID string) error {
	sess, err := d.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	node, ok := d.registry.Get(sess.OwnerNodeID)
	if !ok {
		d.sessions.Remove(sessionID)
		return nil
	}

	rpcCtx, cancel := context.WithTimeout(ctx, d.cfg.NodeRPCTimeout)
	defer cancel()
	if err := d.client.DeleteSession(rpcCtx, node.ExternalURI, sessionID); err != nil {
		return gridtypes.WrapGridError(gridtypes.ErrNodeUnreachable, "node refused session deletion", err)
	}

	d.registry.Release(node.ID, sess.OwnerSlotID)
	d.sessions.Remove(sessionID)
	d.bus.Publish("session.ended", sessionID, sess)
	return nil
}
