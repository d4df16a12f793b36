package eventbus

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// frame is the wire representation of one published event.
type frame struct {
	Topic   string          `json:"topic"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// NetworkBus lets several hub replicas share one logical event bus over
// websocket connections: every event published locally is broadcast to every
// connected peer as a JSON frame, and local subscribers see both locally- and
// remotely-published events. An event received from a peer is delivered to
// local subscribers only; it is not re-broadcast to other peers.
//
// Payloads must be JSON-marshalable; NetworkBus marshals them for wire
// transport but still hands subscribers the original decoded value for
// events published on this replica, and the json.RawMessage-decoded value
// (typically map[string]any) for events received from a peer.
type NetworkBus struct {
	local *LocalBus

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	peers map[*websocket.Conn]struct{}
}

// NewNetworkBus wraps local so every Publish/Subscribe call also reaches
// remote peers.
func NewNetworkBus(local *LocalBus) *NetworkBus {
	return &NetworkBus{
		local:    local,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		peers:    make(map[*websocket.Conn]struct{}),
	}
}

// Publish delivers to local subscribers and broadcasts to every connected
// peer.
func (n *NetworkBus) Publish(topic, key string, payload any) {
	n.local.Publish(topic, key, payload)
	n.broadcast(topic, key, payload)
}

// Subscribe registers handler for topic; it observes both locally-published
// and peer-delivered events.
func (n *NetworkBus) Subscribe(topic string, handler func(key string, payload any)) func() {
	return n.local.Subscribe(topic, handler)
}

func (n *NetworkBus) broadcast(topic, key string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	f := frame{Topic: topic, Key: key, Payload: raw}

	n.mu.RLock()
	peers := make([]*websocket.Conn, 0, len(n.peers))
	for c := range n.peers {
		peers = append(peers, c)
	}
	n.mu.RUnlock()

	for _, c := range peers {
		if err := c.WriteJSON(f); err != nil {
			n.removePeer(c)
		}
	}
}

func (n *NetworkBus) addPeer(c *websocket.Conn) {
	n.mu.Lock()
	n.peers[c] = struct{}{}
	n.mu.Unlock()
}

func (n *NetworkBus) removePeer(c *websocket.Conn) {
	n.mu.Lock()
	delete(n.peers, c)
	n.mu.Unlock()
	_ = c.Close()
}

// ServeHTTP upgrades the connection and reads peer-published frames,
// republishing each one to the local bus (but not re-broadcasting it, to
// avoid echo storms in a mesh of replicas). Register it on whatever path the
// hub's HTTP server reserves for bus peering, e.g. "/se/grid/bus".
func (n *NetworkBus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	n.addPeer(conn)
	defer n.removePeer(conn)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		var payload any
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			continue
		}
		n.local.Publish(f.Topic, f.Key, payload)
	}
}

// Dial connects to a peer NetworkBus's ServeHTTP endpoint and forwards
// frames in both directions until the connection closes or ctx-independent
// I/O fails. Call it once per peer replica; the returned close func tears
// the connection down.
func (n *NetworkBus) Dial(url string) (close func() error, err error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	n.addPeer(conn)

	go func() {
		defer n.removePeer(conn)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			var payload any
			if err := json.Unmarshal(f.Payload, &payload); err != nil {
				continue
			}
			n.local.Publish(f.Topic, f.Key, payload)
		}
	}()

	return conn.Close, nil
}
