package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/canvas/internal/gateway"
	"github.com/manpreetbhatti/canvas/internal/ratelimit"
	"github.com/manpreetbhatti/canvas/internal/room"
)

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startServer(t *testing.T, cfg Config) (*httptest.Server, context.CancelFunc) {
	t.Helper()

	gw := gateway.New(room.NewStore())
	ctx, cancel := context.WithCancel(context.Background())
	go gw.Run(ctx)

	srv := httptest.NewServer(NewHandler(gw, zap.NewNop(), nil, cfg))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, cancel
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Errorf("Expected text frame, got %d", kind)
	}
	var r received
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("Failed to decode frame %s: %v", data, err)
	}
	return r
}

func expect(t *testing.T, conn *websocket.Conn, event string) received {
	t.Helper()
	r := readFrame(t, conn)
	if r.Type != event {
		t.Fatalf("Expected %s, got %s %s", event, r.Type, r.Data)
	}
	return r
}

func writeFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": event, "data": data}); err != nil {
		t.Fatalf("Failed to write %s: %v", event, err)
	}
}

func userCount(t *testing.T, r received) int {
	t.Helper()
	var c struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(r.Data, &c); err != nil {
		t.Fatalf("Failed to decode userCount: %v", err)
	}
	return c.Count
}

func join(t *testing.T, conn *websocket.Conn, roomID string) {
	t.Helper()
	writeFrame(t, conn, "join", map[string]any{"roomId": roomID})
	expect(t, conn, "userCount")
	expect(t, conn, "fullRedraw")
}

var testStroke = map[string]any{
	"id":     "s1",
	"tool":   "brush",
	"color":  "#123456",
	"size":   4,
	"points": []map[string]any{{"x": 1, "y": 1}, {"x": 2, "y": 2}},
}

func TestEndToEnd(t *testing.T) {
	srv, _ := startServer(t, DefaultConfig())

	a := dial(t, srv)
	hello := expect(t, a, "connected")
	var id struct {
		ID string `json:"id"`
	}
	json.Unmarshal(hello.Data, &id)
	if id.ID == "" {
		t.Error("Expected a connection id")
	}
	join(t, a, "room")

	b := dial(t, srv)
	expect(t, b, "connected")
	join(t, b, "room")
	if n := userCount(t, expect(t, a, "userCount")); n != 2 {
		t.Errorf("Expected A to see 2 members, got %d", n)
	}

	writeFrame(t, a, "stroke", map[string]any{"roomId": "room", "stroke": testStroke})
	expect(t, a, "stroke")
	expect(t, b, "stroke")

	b.Close()
	if n := userCount(t, expect(t, a, "userCount")); n != 1 {
		t.Errorf("Expected 1 member after B leaves, got %d", n)
	}
}

func TestLateJoinerGetsHistory(t *testing.T) {
	srv, _ := startServer(t, DefaultConfig())

	a := dial(t, srv)
	expect(t, a, "connected")
	join(t, a, "room")
	writeFrame(t, a, "stroke", map[string]any{"roomId": "room", "stroke": testStroke})
	expect(t, a, "stroke")

	b := dial(t, srv)
	expect(t, b, "connected")
	writeFrame(t, b, "join", map[string]any{"roomId": "room"})
	expect(t, b, "userCount")
	redraw := expect(t, b, "fullRedraw")

	var data struct {
		Operations []room.Stroke `json:"operations"`
	}
	if err := json.Unmarshal(redraw.Data, &data); err != nil {
		t.Fatalf("Failed to decode fullRedraw: %v", err)
	}
	if len(data.Operations) != 1 || data.Operations[0].ID != "s1" {
		t.Errorf("Expected [s1], got %+v", data.Operations)
	}
}

func TestPreviewRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Preview = ratelimit.Rule{PerSecond: 0.001, Burst: 1}
	srv, _ := startServer(t, cfg)

	a := dial(t, srv)
	expect(t, a, "connected")
	join(t, a, "room")
	b := dial(t, srv)
	expect(t, b, "connected")
	join(t, b, "room")
	expect(t, a, "userCount")

	for i := 0; i < 5; i++ {
		writeFrame(t, a, "cursor", map[string]any{"roomId": "room", "cursor": map[string]any{"x": i, "y": i}})
	}
	writeFrame(t, a, "stroke", map[string]any{"roomId": "room", "stroke": testStroke})

	// one cursor makes it through, the rest are dropped, the commit is not
	expect(t, b, "cursor")
	expect(t, b, "stroke")
}

func TestUpgradeAfterShutdown(t *testing.T) {
	srv, cancel := startServer(t, DefaultConfig())
	cancel()
	time.Sleep(50 * time.Millisecond)

	conn := dial(t, srv)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected the server to close the socket")
	}
}

func TestSendSlowConsumer(t *testing.T) {
	c := &Client{
		id:     "slow",
		send:   make(chan []byte, 1),
		log:    zap.NewNop(),
		closed: make(chan struct{}),
	}

	if err := c.Send([]byte("one")); err != nil {
		t.Fatalf("First send should fit, got %v", err)
	}
	if err := c.Send([]byte("two")); err != ErrSlowConsumer {
		t.Errorf("Expected ErrSlowConsumer, got %v", err)
	}
	select {
	case <-c.closed:
	default:
		t.Error("Slow client should be closed")
	}
	if err := c.Send([]byte("three")); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	// closing twice is fine
	c.Close()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		frame string
		want  ratelimit.Class
	}{
		{`{"type":"drawPoint","data":{}}`, ratelimit.ClassPreview},
		{`{"type":"cursor","data":{}}`, ratelimit.ClassPreview},
		{`{"type":"stroke","data":{}}`, ratelimit.ClassCommit},
		{`{"type":"undo"}`, ratelimit.ClassCommit},
		{`garbage`, ratelimit.ClassCommit},
	}
	for _, tt := range tests {
		if got := classify([]byte(tt.frame)); got != tt.want {
			t.Errorf("Frame %s: expected %s, got %s", tt.frame, tt.want, got)
		}
	}
}
