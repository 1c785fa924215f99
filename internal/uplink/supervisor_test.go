package uplink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// recordingHandler logs every handler call as a compact event string.
type recordingHandler struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHandler) record(event string) {
	h.mu.Lock()
	h.events = append(h.events, event)
	h.mu.Unlock()
}

func (h *recordingHandler) NewSession(id string, conn *Conn) { h.record("new:" + id) }
func (h *recordingHandler) CloseSession(id string)           { h.record("close:" + id) }
func (h *recordingHandler) Input(id, data string)            { h.record("input:" + id + ":" + data) }
func (h *recordingHandler) Resize(id string, cols, rows uint16) {
	h.record(fmt.Sprintf("resize:%s:%dx%d", id, cols, rows))
}
func (h *recordingHandler) SetBaudRate(id string, baud int) {
	h.record(fmt.Sprintf("baud:%s:%d", id, baud))
}
func (h *recordingHandler) ConnectionLost(conn *Conn) { h.record("lost") }

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *recordingHandler) waitForEvent(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range h.snapshot() {
			if e == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for event %q, have %v", want, h.snapshot())
}

func TestFriendlyID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"ws://localhost:8081", "local"},
		{"ws://127.0.0.1:8081", "local"},
		{"wss://relay.example.org:8081", "relay.example.org"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		if got := friendlyID(tt.url); got != tt.want {
			t.Errorf("friendlyID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestSupervisor_ReconnectBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var delays []time.Duration

	s := &Supervisor{
		conn:    NewConn("ws://pool.test:8081"),
		handler: &recordingHandler{},
		dial: func(string) (*websocket.Conn, error) {
			return nil, errors.New("connection refused")
		},
		sleep: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			delays = append(delays, d)
			n := len(delays)
			mu.Unlock()
			if n >= 6 {
				cancel()
				return context.Canceled
			}
			return nil
		},
	}

	s.Run(ctx)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		16 * time.Second,
	}
	mu.Lock()
	defer mu.Unlock()
	if len(delays) != len(want) {
		t.Fatalf("Expected %d delays, got %d: %v", len(want), len(delays), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("Delay %d = %s, want %s", i, delays[i], want[i])
		}
	}
}

// uplinkTestServer is a stand-in router: it captures each accepted
// websocket so the test can drive frames down the uplink.
func uplinkTestServer(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		conns <- ws
	}))
	return srv, conns
}

func TestSupervisor_DispatchesFrames(t *testing.T) {
	srv, conns := uplinkTestServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	handler := &recordingHandler{}
	s := NewSupervisor(wsURL, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	ws := <-conns
	defer ws.Close()

	frames := []string{
		`{"type":"new_session","session":"s1"}`,
		`{"type":"input","session":"s1","data":"login\r"}`,
		`{"type":"setBaudRate","session":"s1","baudRate":300}`,
		`{"type":"resize","session":"s1","cols":80,"rows":24}`,
		`{"type":"close_session","session":"s1"}`,
		`{"type":"bogus_type","session":"s1"}`,
		`{"type":"input"}`, // no session: dropped
	}
	for _, f := range frames {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	handler.waitForEvent(t, "close:s1")

	got := handler.snapshot()
	want := []string{
		"new:s1",
		"input:s1:login\r",
		"baud:s1:300",
		"resize:s1:80x24",
		"close:s1",
	}
	if len(got) < len(want) {
		t.Fatalf("Expected at least %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSupervisor_BackoffResetsAfterSuccess(t *testing.T) {
	srv, conns := uplinkTestServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	handler := &recordingHandler{}
	s := NewSupervisor(wsURL, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var delays []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	go s.Run(ctx)

	// First connect is immediate: no sleep recorded.
	ws := <-conns
	mu.Lock()
	if len(delays) != 0 {
		t.Errorf("First connect should not wait, got %v", delays)
	}
	mu.Unlock()

	// Kill the socket; the supervisor reports the loss and redials on a
	// fresh backoff schedule.
	ws.Close()
	handler.waitForEvent(t, "lost")

	ws2 := <-conns
	defer ws2.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(delays) == 0 {
		t.Fatal("Expected a backoff sleep before the reconnect")
	}
	if delays[0] != 1*time.Second {
		t.Errorf("First delay after loss = %s, want 1s (reset backoff)", delays[0])
	}
}
