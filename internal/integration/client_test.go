package integration

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const eventTimeout = 2 * time.Second

// Event is a server frame as a client sees it.
type Event struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// TestClient represents a WebSocket client for testing
type TestClient struct {
	Name string

	conn   *websocket.Conn
	events chan *Event
	done   chan struct{}

	writeMu sync.Mutex
	mu      sync.Mutex
	readErr error
}

// Credential placement for Dial.
const (
	viaHeader = iota
	viaQuery
	viaFirstFrame
)

// Dial connects to serverURL presenting token in the requested place.
func Dial(t *testing.T, name, serverURL, token string, via int) *TestClient {
	t.Helper()

	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("invalid server URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	header := http.Header{}
	switch via {
	case viaHeader:
		header.Set("Authorization", "Bearer "+token)
	case viaQuery:
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		t.Fatalf("%s: failed to connect: %v", name, err)
	}

	c := &TestClient{
		Name:   name,
		conn:   conn,
		events: make(chan *Event, 256),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(func() { _ = c.conn.Close() })

	if via == viaFirstFrame {
		c.Send(t, "authenticate", "", map[string]any{"token": token})
	}
	return c
}

// readLoop continuously reads frames until the connection ends
func (c *TestClient) readLoop() {
	defer close(c.done)
	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		c.events <- &ev
	}
}

// Send writes a flat frame {"type", "request_id", ...payload}.
func (c *TestClient) Send(t *testing.T, op, requestID string, payload map[string]any) {
	t.Helper()
	frame := map[string]any{"type": op}
	if requestID != "" {
		frame["request_id"] = requestID
	}
	for k, v := range payload {
		frame[k] = v
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(eventTimeout))
	if err := c.conn.WriteJSON(frame); err != nil {
		t.Fatalf("%s: send %s: %v", c.Name, op, err)
	}
}

// Expect waits for the next event of eventType, skipping others.
func (c *TestClient) Expect(t *testing.T, eventType string) *Event {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case ev := <-c.events:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("%s: timeout waiting for %s", c.Name, eventType)
			return nil
		case <-c.done:
			// Drain what arrived before the close
			select {
			case ev := <-c.events:
				if ev.Type == eventType {
					return ev
				}
				continue
			default:
			}
			t.Fatalf("%s: disconnected while waiting for %s: %v", c.Name, eventType, c.err())
			return nil
		}
	}
}

// ExpectNone asserts no eventType arrives within d.
func (c *TestClient) ExpectNone(t *testing.T, eventType string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev := <-c.events:
			if ev.Type == eventType {
				t.Fatalf("%s: unexpected %s: %s", c.Name, eventType, ev.Data)
			}
		case <-deadline:
			return
		case <-c.done:
			return
		}
	}
}

// ExpectClose waits for the server to close the connection and returns the code.
func (c *TestClient) ExpectClose(t *testing.T) int {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(eventTimeout):
		t.Fatalf("%s: connection not closed", c.Name)
	}
	var ce *websocket.CloseError
	if !errors.As(c.err(), &ce) {
		t.Fatalf("%s: expected close frame, got %v", c.Name, c.err())
	}
	return ce.Code
}

// Close performs a client-initiated close handshake.
func (c *TestClient) Close() {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	select {
	case <-c.done:
	case <-time.After(eventTimeout):
	}
	_ = c.conn.Close()
}

func (c *TestClient) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func decodeData[T any](t *testing.T, ev *Event) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(ev.Data, &v); err != nil {
		t.Fatalf("decode %s data: %v (%s)", ev.Type, err, ev.Data)
	}
	return v
}
