package nodeclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gridworks/gridcore/internal/gridtypes"
	"github.com/gridworks/gridcore/internal/nodeclient"
)

func TestCreateSession_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/session" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Capabilities struct {
				AlwaysMatch gridtypes.Capabilities `json:"alwaysMatch"`
			} `json:"capabilities"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Capabilities.AlwaysMatch["browserName"] != "chrome" {
			t.Fatalf("expected browserName=chrome in request, got %+v", body.Capabilities.AlwaysMatch)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]any{
				"sessionId":    "sess-1",
				"capabilities": map[string]any{"browserName": "chrome"},
			},
		})
	}))
	defer srv.Close()

	c := nodeclient.New(5 * time.Second)
	id, negotiated, err := c.CreateSession(context.Background(), srv.URL, gridtypes.Capabilities{"browserName": "chrome"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id != "sess-1" {
		t.Errorf("expected sess-1, got %s", id)
	}
	if negotiated["browserName"] != "chrome" {
		t.Errorf("expected negotiated browserName chrome, got %+v", negotiated)
	}
}

func TestCreateSession_NodeRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]any{"error": "session not created", "message": "no capacity"},
		})
	}))
	defer srv.Close()

	c := nodeclient.New(5 * time.Second)
	_, _, err := c.CreateSession(context.Background(), srv.URL, gridtypes.Capabilities{"browserName": "chrome"})
	if err == nil {
		t.Fatal("expected error when node rejects session creation")
	}
}

func TestDeleteSession_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/session/sess-1" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := nodeclient.New(5 * time.Second)
	if err := c.DeleteSession(context.Background(), srv.URL, "sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
}

func TestStatus_ReturnsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]any{
				"NodeID":                "n1",
				"ExternalURI":           srv2URL(r),
				"MaxConcurrentSessions": 1,
			},
		})
	}))
	defer srv.Close()

	c := nodeclient.New(5 * time.Second)
	snap, err := c.Status(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.NodeID != "n1" {
		t.Errorf("expected NodeID n1, got %q", snap.NodeID)
	}
}

func srv2URL(r *http.Request) string { return "http://" + r.Host }

func TestStatus_ErrorStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := nodeclient.New(5 * time.Second)
	if _, err := c.Status(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for unhealthy status probe")
	}
}
