// Package router implements the public HTTP boundary: it classifies each
// incoming request by URL path and forwards it to the Distributor, the
// Session Map, or directly to the owning node. It is stateless with respect
// to sessions; all state lives behind it.
//
// Path matching uses github.com/go-chi/chi/v5 for the parameterized-path
// dispatch /session/{id}/* needs.
package router

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gridworks/gridcore/internal/distributor"
	"github.com/gridworks/gridcore/internal/gridlog"
	"github.com/gridworks/gridcore/internal/gridtypes"
	"github.com/gridworks/gridcore/internal/registry"
	"github.com/gridworks/gridcore/internal/sessionmap"
)

// Router wires the downstream HTTP surface to the core components.
type Router struct {
	dist     *distributor.Distributor
	sessions *sessionmap.Map
	registry *registry.Registry
	logger   *gridlog.Logger
	forward  *http.Client
}

// New builds the hub's public HTTP handler. forwardTimeout bounds requests
// proxied verbatim to a node under /session/{id}/*.
func New(dist *distributor.Distributor, sessions *sessionmap.Map, reg *registry.Registry, logger *gridlog.Logger, forwardTimeout time.Duration) http.Handler {
	rt := &Router{
		dist:     dist,
		sessions: sessions,
		registry: reg,
		logger:   logger,
		forward:  &http.Client{Timeout: forwardTimeout},
	}

	r := chi.NewRouter()
	r.Post("/session", rt.handleCreateSession)
	r.Delete("/session/{id}", rt.handleDeleteSession)
	r.Get("/session/{id}/*", rt.handleForward)
	r.Post("/session/{id}/*", rt.handleForward)
	r.Put("/session/{id}/*", rt.handleForward)
	r.Delete("/session/{id}/*", rt.handleForward)
	r.Get("/status", rt.handleStatus)

	r.Route("/se/grid", func(gr chi.Router) {
		gr.Get("/status", rt.handleStatus)
		gr.Get("/sessions", rt.handleGridSessions)
		gr.Post("/register", rt.handleRegisterNode)
	})

	return r
}

// w3cRequestBody and legacyRequestBody model the two downstream dialects of
// POST /session. Exactly one of Capabilities/DesiredCapabilities may be
// populated; a payload setting both is rejected as InvalidArgument.
type w3cRequestBody struct {
	Capabilities *struct {
		AlwaysMatch gridtypes.Capabilities   `json:"alwaysMatch"`
		FirstMatch  []gridtypes.Capabilities `json:"firstMatch"`
	} `json:"capabilities"`
}

type legacyRequestBody struct {
	DesiredCapabilities gridtypes.Capabilities `json:"desiredCapabilities"`
}

// dialectProbe is decoded leniently (no DisallowUnknownFields) purely to
// see which of the two dialect keys the payload actually sets, since a
// payload carrying both fails a strict decode into either dialect's own
// struct and would otherwise never be recognized as mixed.
type dialectProbe struct {
	Capabilities        json.RawMessage `json:"capabilities"`
	DesiredCapabilities json.RawMessage `json:"desiredCapabilities"`
}

func (rt *Router) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, gridtypes.DialectW3C, gridtypes.NewGridError(gridtypes.ErrInvalidArgument, "cannot read request body"))
		return
	}

	var probe dialectProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		writeError(w, gridtypes.DialectW3C, gridtypes.NewGridError(gridtypes.ErrInvalidArgument, "request body malformed"))
		return
	}

	hasW3C := len(probe.Capabilities) > 0
	hasLegacy := len(probe.DesiredCapabilities) > 0

	if hasW3C && hasLegacy {
		writeError(w, gridtypes.DialectW3C, gridtypes.NewGridError(gridtypes.ErrInvalidArgument, "mixed-dialect payload"))
		return
	}

	var req distributor.Request
	switch {
	case hasW3C:
		var w3c w3cRequestBody
		if err := decodeStrict(raw, &w3c); err != nil || w3c.Capabilities == nil {
			writeError(w, gridtypes.DialectW3C, gridtypes.NewGridError(gridtypes.ErrInvalidArgument, "request body malformed"))
			return
		}
		req.DownstreamDialect = gridtypes.DialectW3C
		req.AlwaysMatch = w3c.Capabilities.AlwaysMatch
		req.FirstMatch = w3c.Capabilities.FirstMatch
		if len(req.FirstMatch) == 0 {
			req.FirstMatch = []gridtypes.Capabilities{{}}
		}
	case hasLegacy:
		var legacy legacyRequestBody
		if err := decodeStrict(raw, &legacy); err != nil {
			writeError(w, gridtypes.DialectLegacy, gridtypes.NewGridError(gridtypes.ErrInvalidArgument, "request body malformed"))
			return
		}
		req.DownstreamDialect = gridtypes.DialectLegacy
		req.FirstMatch = []gridtypes.Capabilities{legacy.DesiredCapabilities}
	default:
		writeError(w, gridtypes.DialectW3C, gridtypes.NewGridError(gridtypes.ErrInvalidArgument, "request body malformed"))
		return
	}

	sess, err := rt.dist.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, req.DownstreamDialect, err)
		return
	}

	writeCreateSessionSuccess(w, sess)
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytesReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (rt *Router) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := rt.dist.DeleteSession(r.Context(), id); err != nil {
		writeError(w, gridtypes.DialectW3C, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": map[string]any{}})
}

// handleForward proxies any /session/{id}/* request verbatim to the owning
// node's externalUri + the same path.
func (rt *Router) handleForward(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := rt.sessions.Get(id)
	if err != nil {
		writeError(w, gridtypes.DialectW3C, err)
		return
	}

	node, ok := rt.registry.Get(sess.OwnerNodeID)
	if !ok {
		writeError(w, gridtypes.DialectW3C, gridtypes.NewGridError(gridtypes.ErrNodeUnreachable, "owning node is gone"))
		return
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, node.ExternalURI+r.URL.Path, r.Body)
	if err != nil {
		writeError(w, gridtypes.DialectW3C, gridtypes.WrapGridError(gridtypes.ErrNodeUnreachable, "build forwarded request", err))
		return
	}
	outReq.Header = r.Header.Clone()

	resp, err := rt.forward.Do(outReq)
	if err != nil {
		writeError(w, gridtypes.DialectW3C, gridtypes.WrapGridError(gridtypes.ErrNodeUnreachable, "forward to node", err))
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body) //nolint:errcheck
}

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	nodes := rt.registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"value": map[string]any{
			"ready":   len(nodes) > 0,
			"message": readyMessage(len(nodes)),
			"nodes":   nodes,
		},
	})
}

func readyMessage(nodeCount int) string {
	if nodeCount > 0 {
		return "grid is ready"
	}
	return "no nodes registered"
}

// handleRegisterNode ingests a node status snapshot. Nodes call this
// endpoint on the cadence of their own heartbeatInterval.
func (rt *Router) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var snapshot gridtypes.NodeSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		writeError(w, gridtypes.DialectW3C, gridtypes.NewGridError(gridtypes.ErrInvalidArgument, "malformed node snapshot"))
		return
	}
	if err := rt.registry.Heartbeat(snapshot); err != nil {
		writeError(w, gridtypes.DialectW3C, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": map[string]any{}})
}

func (rt *Router) handleGridSessions(w http.ResponseWriter, r *http.Request) {
	nodes := rt.registry.Snapshot()
	out := make(map[string]any, len(nodes))
	for _, n := range nodes {
		out[n.ID] = rt.sessions.ListByNode(n.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": out})
}
