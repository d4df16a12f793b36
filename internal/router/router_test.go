package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gridworks/gridcore/internal/distributor"
	"github.com/gridworks/gridcore/internal/eventbus"
	"github.com/gridworks/gridcore/internal/gridlog"
	"github.com/gridworks/gridcore/internal/gridmetrics"
	"github.com/gridworks/gridcore/internal/gridtypes"
	"github.com/gridworks/gridcore/internal/registry"
	"github.com/gridworks/gridcore/internal/router"
	"github.com/gridworks/gridcore/internal/sessionmap"
)

type stubClient struct {
	mu  sync.Mutex
	seq int64
}

func (s *stubClient) CreateSession(_ context.Context, _ string, caps gridtypes.Capabilities) (string, gridtypes.Capabilities, error) {
	id := atomic.AddInt64(&s.seq, 1)
	return "sess-" + itoa(id), caps, nil
}

func (s *stubClient) DeleteSession(context.Context, string, string) error { return nil }

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func newTestRouter(t *testing.T) (http.Handler, *registry.Registry) {
	t.Helper()
	bus := eventbus.NewLocalBus()
	reg := registry.New("secret", bus)
	sessions := sessionmap.New(bus)
	dist := distributor.New(reg, sessions, &stubClient{}, bus, gridlog.New(gridlog.LevelError), gridmetrics.New(), distributor.Config{
		UnhealthyAfter:       90 * time.Second,
		NewSessionTimeout:    5 * time.Second,
		NodeRPCTimeout:       time.Second,
		MaxPlacementAttempts: 3,
		Informational:        map[string]bool{"browserVersion": true},
	})
	h := router.New(dist, sessions, reg, gridlog.New(gridlog.LevelError), time.Second)
	return h, reg
}

func chromeSnapshot(nodeID string) gridtypes.NodeSnapshot {
	return gridtypes.NodeSnapshot{
		NodeID:                nodeID,
		ExternalURI:           "http://" + nodeID,
		MaxConcurrentSessions: 1,
		Slots: []gridtypes.Slot{
			{ID: "slot-1", State: gridtypes.SlotIdle, Stereotype: gridtypes.Capabilities{"browserName": "chrome"}},
		},
		RegistrationSecret: "secret",
	}
}

func TestS1_HappyPath(t *testing.T) {
	h, reg := newTestRouter(t)
	if err := reg.Heartbeat(chromeSnapshot("n1")); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	body := bytes.NewBufferString(`{"capabilities":{"alwaysMatch":{"browserName":"chrome"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/session", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Value struct {
			SessionID string `json:"sessionId"`
		} `json:"value"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Value.SessionID == "" {
		t.Fatal("expected non-empty sessionId")
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/session/"+resp.Value.SessionID, nil)
	delRec := httptest.NewRecorder()
	h.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", delRec.Code)
	}

	node, _ := reg.Get("n1")
	if node.Slots[0].State != gridtypes.SlotIdle {
		t.Errorf("expected slot idle after delete, got %v", node.Slots[0].State)
	}
}

func TestS2_NoMatch(t *testing.T) {
	h, reg := newTestRouter(t)
	firefox := chromeSnapshot("n1")
	firefox.Slots[0].Stereotype = gridtypes.Capabilities{"browserName": "firefox"}
	if err := reg.Heartbeat(firefox); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	body := bytes.NewBufferString(`{"capabilities":{"alwaysMatch":{"browserName":"chrome"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/session", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Value struct {
			Error string `json:"error"`
		} `json:"value"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp) //nolint:errcheck
	if resp.Value.Error != "session not created" {
		t.Errorf("expected slug 'session not created', got %q", resp.Value.Error)
	}
}

func TestS5_VersionPrefixMatch(t *testing.T) {
	h, reg := newTestRouter(t)
	node := chromeSnapshot("n1")
	node.Slots[0].Stereotype = gridtypes.Capabilities{"browserName": "chrome", "browserVersion": "121.0.6167.85"}
	if err := reg.Heartbeat(node); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	body := bytes.NewBufferString(`{"capabilities":{"alwaysMatch":{"browserName":"chrome","browserVersion":"121"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/session", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestS6_Race(t *testing.T) {
	h, reg := newTestRouter(t)
	if err := reg.Heartbeat(chromeSnapshot("n1")); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	var wg sync.WaitGroup
	codes := make(chan int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := bytes.NewBufferString(`{"capabilities":{"alwaysMatch":{"browserName":"chrome"}}}`)
			req := httptest.NewRequest(http.MethodPost, "/session", body)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	var ok, fail int
	for c := range codes {
		if c == http.StatusOK {
			ok++
		} else {
			fail++
		}
	}
	if ok != 1 || fail != 1 {
		t.Fatalf("expected exactly one 200 and one 500, got ok=%d fail=%d", ok, fail)
	}
}

func TestGetStatus_ReportsReadiness(t *testing.T) {
	h, reg := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp struct {
		Value struct {
			Ready bool `json:"ready"`
		} `json:"value"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp) //nolint:errcheck
	if resp.Value.Ready {
		t.Error("expected not ready with zero nodes")
	}

	if err := reg.Heartbeat(chromeSnapshot("n1")); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	json.Unmarshal(rec.Body.Bytes(), &resp) //nolint:errcheck
	if !resp.Value.Ready {
		t.Error("expected ready with one node registered")
	}
}
