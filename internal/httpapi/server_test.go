package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pilotfish/pilotfish/internal/automation"
	"github.com/pilotfish/pilotfish/internal/config"
	"github.com/pilotfish/pilotfish/internal/controller"
	"github.com/pilotfish/pilotfish/internal/events"
)

// blockingFactory hands out native-pause mocks whose Execute parks until the
// run context ends, so tests control when sessions finish.
type blockingFactory struct{}

func (blockingFactory) Kind() string { return "mock" }

func (blockingFactory) New(spec automation.TaskSpec) automation.Backend {
	m := automation.NewMock(spec, true)
	m.ExecuteFn = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	return m
}

func newTestServer(t *testing.T) (*httptest.Server, *events.Broadcaster, *controller.Service) {
	t.Helper()
	broadcaster := events.NewBroadcaster()
	svc := controller.NewService(controller.ServiceConfig{
		Factory:        blockingFactory{},
		Sink:           broadcaster,
		DefaultTimeout: time.Minute,
	})
	srv := New(config.Config{AllowAnyOrigin: true}, svc, broadcaster, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		svc.Shutdown(context.Background())
		ts.Close()
	})
	return ts, broadcaster, svc
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestStartStatusStopRoundTrip(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/start-session", map[string]any{
		"session_id": "s1",
		"task":       "look something up",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["session_id"] != "s1" {
		t.Fatalf("start response = %v", body)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/status/s1")
		if err != nil {
			t.Fatalf("GET status: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status code = %d, want 200", resp.StatusCode)
		}
		body = decodeBody(t, resp)
		if body["status"] == "running" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never reached running; last = %v", body)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp = postJSON(t, ts.URL+"/stop-session", map[string]any{"session_id": "s1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}
	decodeBody(t, resp)

	deadline = time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/status/s1")
		if err != nil {
			t.Fatalf("GET status: %v", err)
		}
		code := resp.StatusCode
		decodeBody(t, resp)
		if code == http.StatusNotFound {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session still registered after stop")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartRejectsDuplicateAndBadInput(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/start-session", map[string]any{"session_id": "dup", "task": "t"})
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first start = %d, want 201", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/start-session", map[string]any{"session_id": "dup", "task": "t"})
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate start = %d, want 409", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/start-session", map[string]any{"task": "t"})
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing id start = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/start-session", map[string]any{"session_id": "s2"})
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing task start = %d, want 400", resp.StatusCode)
	}
}

func TestControlEndpoints(t *testing.T) {
	ts, _, svc := newTestServer(t)

	resp := postJSON(t, ts.URL+"/start-session", map[string]any{"session_id": "s1", "task": "t"})
	decodeBody(t, resp)
	waitForStatus(t, svc, "s1", "running")

	resp = postJSON(t, ts.URL+"/pause-session", map[string]any{"session_id": "s1"})
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause = %d, want 200", resp.StatusCode)
	}
	waitForStatus(t, svc, "s1", "paused")

	resp = postJSON(t, ts.URL+"/update-status", map[string]any{"session_id": "s1", "status": "running"})
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update-status = %d, want 200", resp.StatusCode)
	}
	waitForStatus(t, svc, "s1", "running")

	resp = postJSON(t, ts.URL+"/pause-session", map[string]any{"session_id": "s1"})
	decodeBody(t, resp)
	waitForStatus(t, svc, "s1", "paused")

	resp = postJSON(t, ts.URL+"/resume-session", map[string]any{"session_id": "s1", "timeout_seconds": 45})
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume = %d, want 200", resp.StatusCode)
	}
	waitForStatus(t, svc, "s1", "running")

	resp = postJSON(t, ts.URL+"/pause-session", map[string]any{"session_id": "ghost"})
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("pause unknown = %d, want 404", resp.StatusCode)
	}

	// Stopping a session nobody started is still a success.
	resp = postJSON(t, ts.URL+"/stop-session", map[string]any{"session_id": "ghost"})
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop unknown = %d, want 200", resp.StatusCode)
	}
}

func TestWSDeliversSessionEvents(t *testing.T) {
	ts, broadcaster, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/s1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// The subscriber registers synchronously during the upgrade handshake.
	deadline := time.Now().Add(2 * time.Second)
	for broadcaster.SubscriberCount("s1") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	broadcaster.SendActivity("s1", "hello from the task", events.LevelInfo)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Type != events.TypeActivity || ev.SessionID != "s1" || ev.Message != "hello from the task" {
		t.Fatalf("event = %+v", ev)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for broadcaster.SubscriberCount("s1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not removed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestViewportErrors(t *testing.T) {
	ts, _, svc := newTestServer(t)

	resp, err := http.Get(ts.URL + "/viewport/ghost")
	if err != nil {
		t.Fatalf("GET viewport: %v", err)
	}
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("viewport unknown = %d, want 404", resp.StatusCode)
	}

	r := postJSON(t, ts.URL+"/start-session", map[string]any{"session_id": "s1", "task": "t"})
	decodeBody(t, r)
	waitForStatus(t, svc, "s1", "running")

	// The mock backend renders nothing, so the stream is refused.
	resp, err = http.Get(ts.URL + "/viewport/s1")
	if err != nil {
		t.Fatalf("GET viewport: %v", err)
	}
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("viewport without frames = %d, want 409", resp.StatusCode)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/history?limit=5")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recent history = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if recs, ok := body["records"].([]any); !ok || len(recs) != 0 {
		t.Fatalf("recent history body = %v", body)
	}

	resp, err = http.Get(ts.URL + "/history/s1")
	if err != nil {
		t.Fatalf("GET session history: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session history = %d, want 200", resp.StatusCode)
	}
	decodeBody(t, resp)

	resp, err = http.Get(ts.URL + "/history?limit=zero")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	decodeBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit = %d, want 400", resp.StatusCode)
	}
}

func TestHealthReportsActiveSessions(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "ok" {
		t.Fatalf("health body = %v", body)
	}
}

func waitForStatus(t *testing.T, svc *controller.Service, sessionID, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := svc.Get(sessionID)
		if err == nil && string(snap.Status) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached %s", sessionID, want)
}
