package inspector

import (
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	srv := NewServer(hub, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(srv.WSHandler())
	t.Cleanup(ts.Close)
	return hub, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestWSHandlerStreamsPublishedMessagesAfterSubscribe(t *testing.T) {
	hub, ts := newTestServer(t)
	conn := dial(t, ts)
	defer conn.Close()

	sub, _ := json.Marshal(SubscribeMsg{Type: "SUBSCRIBE", TilesetID: "city"})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	// Give the handler a moment to register the subscription before
	// publishing, polling rather than sleeping a fixed guess.
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.Lock()
		n := len(hub.subscribers["city"])
		hub.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the subscription to register")
		}
		time.Sleep(time.Millisecond)
	}

	hub.Publish("city", []byte(`{"frame":42}`))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != `{"frame":42}` {
		t.Fatalf("msg = %q, want %q", msg, `{"frame":42}`)
	}
}

func TestWSHandlerClosesOnMalformedHandshake(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the server to close the connection after a malformed handshake")
	}
}

func TestWSHandlerClosesOnHandshakeMissingTilesetID(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)
	defer conn.Close()

	sub, _ := json.Marshal(SubscribeMsg{Type: "SUBSCRIBE"})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the server to close the connection when tileset_id is empty")
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:54321", true},
		{"[::1]:54321", true},
		{"10.0.0.5:54321", false},
		{"example.test:443", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isLoopbackRemote(c.addr); got != c.want {
			t.Fatalf("isLoopbackRemote(%q) = %v, want %v", c.addr, got, c.want)
		}
	}
}
