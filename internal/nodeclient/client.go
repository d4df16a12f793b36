// Package nodeclient implements the upstream HTTP calls the Distributor and
// the Node Registry's health checker make against a node: create-session,
// delete-session, and the status probe. HTTP/2 is enabled via
// golang.org/x/net/http2 since a hub talks to every node in its fleet over
// a small, long-lived set of connections.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gridworks/gridcore/internal/gridtypes"
)

// Client issues RPCs to node endpoints. A single Client is shared across
// every node in the fleet; node identity is carried per-call as a URI, not
// bound at construction.
type Client struct {
	http *http.Client
}

// New creates a Client whose overall per-request timeout defaults to
// requestTimeout; callers are expected to also bound each call with a
// context deadline (nodeRpcTimeout/healthProbeTimeout), so requestTimeout
// only guards against a transport that ignores context cancellation.
func New(requestTimeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Transport: newTransport(),
			Timeout:   requestTimeout,
		},
	}
}

type createSessionRequest struct {
	Capabilities struct {
		AlwaysMatch gridtypes.Capabilities `json:"alwaysMatch"`
	} `json:"capabilities"`
}

type createSessionResponse struct {
	Value struct {
		SessionID    string                 `json:"sessionId"`
		Capabilities gridtypes.Capabilities `json:"capabilities"`
		Error        string                 `json:"error"`
		Message      string                 `json:"message"`
	} `json:"value"`
}

// CreateSession sends the merged capability blob to externalURI+"/session"
// and returns the node-assigned sessionId and negotiated capabilities.
func (c *Client) CreateSession(ctx context.Context, externalURI string, caps gridtypes.Capabilities) (string, gridtypes.Capabilities, error) {
	var body createSessionRequest
	body.Capabilities.AlwaysMatch = caps

	raw, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("nodeclient: encode create-session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, externalURI+"/session", bytes.NewReader(raw))
	if err != nil {
		return "", nil, fmt.Errorf("nodeclient: build create-session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("nodeclient: create-session RPC to %s: %w", externalURI, err)
	}
	defer resp.Body.Close()

	var out createSessionResponse
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&out); err != nil {
		return "", nil, fmt.Errorf("nodeclient: decode create-session response: %w", err)
	}

	if resp.StatusCode >= 300 || out.Value.SessionID == "" {
		msg := out.Value.Message
		if msg == "" {
			msg = fmt.Sprintf("node returned status %d", resp.StatusCode)
		}
		return "", nil, fmt.Errorf("nodeclient: node rejected session creation: %s", msg)
	}

	return out.Value.SessionID, out.Value.Capabilities, nil
}

// DeleteSession sends DELETE externalURI+"/session/"+sessionID.
func (c *Client) DeleteSession(ctx context.Context, externalURI, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, externalURI+"/session/"+sessionID, nil)
	if err != nil {
		return fmt.Errorf("nodeclient: build delete-session request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("nodeclient: delete-session RPC to %s: %w", externalURI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("nodeclient: node returned status %d deleting session %s", resp.StatusCode, sessionID)
	}
	return nil
}

type statusResponse struct {
	Value gridtypes.NodeSnapshot `json:"value"`
}

// Status performs GET externalURI+"/status" and returns the node's
// self-reported status snapshot, used by the Registry's health checker.
func (c *Client) Status(ctx context.Context, externalURI string) (gridtypes.NodeSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, externalURI+"/status", nil)
	if err != nil {
		return gridtypes.NodeSnapshot{}, fmt.Errorf("nodeclient: build status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gridtypes.NodeSnapshot{}, fmt.Errorf("nodeclient: status RPC to %s: %w", externalURI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return gridtypes.NodeSnapshot{}, fmt.Errorf("nodeclient: node returned status %d for health probe", resp.StatusCode)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return gridtypes.NodeSnapshot{}, fmt.Errorf("nodeclient: decode status response: %w", err)
	}
	return out.Value, nil
}
