package nodeclient

import (
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// transportDefaults groups connection-pool sizing for the hub→node RPC
// transport, sized for a hub talking to its own fleet of nodes rather than
// thousands of independent outbound sessions.
var transportDefaults = struct {
	maxIdleConns        int
	maxIdleConnsPerHost int
	maxConnsPerHost     int
}{
	maxIdleConns:        200,
	maxIdleConnsPerHost: 50,
	maxConnsPerHost:     100,
}

// HTTP/2 connection tuning: header table size and max header list size.
const (
	h2HeaderTableSize   uint32 = 65536
	h2MaxHeaderListSize uint32 = 262144
)

// newTransport builds the *http.Transport used for every upstream RPC to a
// node: pool sizing, idle-connection eviction, and a bounded TLS handshake.
// A hub talks directly to its own trusted nodes, so there is no per-session
// cookie jar or proxy dialing.
func newTransport() *http.Transport {
	t := &http.Transport{
		DisableKeepAlives:     false,
		MaxIdleConns:          transportDefaults.maxIdleConns,
		MaxIdleConnsPerHost:   transportDefaults.maxIdleConnsPerHost,
		MaxConnsPerHost:       transportDefaults.maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	if h2, err := http2.ConfigureTransports(t); err == nil {
		h2.MaxHeaderListSize = h2MaxHeaderListSize
		h2.MaxEncoderHeaderTableSize = h2HeaderTableSize
		h2.MaxDecoderHeaderTableSize = h2HeaderTableSize
		h2.ReadIdleTimeout = 15 * time.Second
	}

	return t
}
