package testutil

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header sent by Dial. Test servers must allow it.
const TestOrigin = "http://localhost:8080"

// ReadTimeout bounds every frame read.
const ReadTimeout = 3 * time.Second

// Frame mirrors the realtime wire envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSClient is a realtime test client. A single goroutine owns reads from
// the connection and hands frames over through a channel, so waiting for a
// frame never puts a deadline on the connection itself.
type WSClient struct {
	t      testing.TB
	Conn   *websocket.Conn
	frames chan []byte
	done   chan struct{}
	stop   chan struct{}
	err    error
}

// WebSocketURL turns an httptest server URL into the chat endpoint URL.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/chat"
}

// Dial connects to the chat endpoint of serverURL, presenting token as a
// bearer credential when it is not empty. The connection is closed when the
// test ends.
func Dial(t testing.TB, serverURL, token string) *WSClient {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", TestOrigin)
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return dial(t, WebSocketURL(serverURL), header)
}

// DialWithQueryToken connects passing token in the query string.
func DialWithQueryToken(t testing.TB, serverURL, token string) *WSClient {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", TestOrigin)
	return dial(t, WebSocketURL(serverURL)+"?token="+url.QueryEscape(token), header)
}

func dial(t testing.TB, wsURL string, header http.Header) *WSClient {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: ReadTimeout}
	conn, resp, err := dialer.Dial(wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	c := &WSClient{
		t:      t,
		Conn:   conn,
		frames: make(chan []byte, 256),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(func() {
		close(c.stop)
		conn.Close()
	})
	return c
}

// readLoop feeds frames until the connection fails. The failure is kept in
// err and announced by closing done.
func (c *WSClient) readLoop() {
	defer close(c.done)
	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		select {
		case c.frames <- raw:
		case <-c.stop:
			return
		}
	}
}

// Emit sends one event frame.
func (c *WSClient) Emit(event string, data interface{}) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("encoding %s payload: %v", event, err)
	}
	c.EmitRaw(mustMarshal(c.t, Frame{Event: event, Data: raw}))
}

// EmitRaw sends bytes as a text message.
func (c *WSClient) EmitRaw(payload []byte) {
	c.t.Helper()
	if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.t.Fatalf("writing frame: %v", err)
	}
}

// Next reads the next frame.
func (c *WSClient) Next() Frame {
	c.t.Helper()
	raw, ok := c.receive(ReadTimeout)
	if !ok {
		if c.closed() {
			c.t.Fatalf("reading frame: connection closed: %v", c.err)
		}
		c.t.Fatalf("reading frame: no frame within %s", ReadTimeout)
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.t.Fatalf("decoding frame %q: %v", raw, err)
	}
	return frame
}

// receive waits up to timeout for a frame. A frame read before the
// connection failed is still returned.
func (c *WSClient) receive(timeout time.Duration) ([]byte, bool) {
	select {
	case raw := <-c.frames:
		return raw, true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case raw := <-c.frames:
		return raw, true
	case <-c.done:
		select {
		case raw := <-c.frames:
			return raw, true
		default:
			return nil, false
		}
	case <-timer.C:
		return nil, false
	}
}

func (c *WSClient) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Expect reads the next frame, checks its event name and decodes its data
// into v when v is not nil.
func (c *WSClient) Expect(event string, v interface{}) {
	c.t.Helper()
	frame := c.Next()
	if frame.Event != event {
		c.t.Fatalf("expected %q event, got %q with %s", event, frame.Event, frame.Data)
	}
	if v == nil {
		return
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		c.t.Fatalf("decoding %s data %s: %v", event, frame.Data, err)
	}
}

// ExpectError reads the next frame and returns the message of the error
// event it must be.
func (c *WSClient) ExpectError() string {
	c.t.Helper()
	var payload struct {
		Message string `json:"message"`
	}
	c.Expect("error", &payload)
	return payload.Message
}

// ExpectSilence fails if a frame arrives within d. The connection stays
// usable afterwards.
func (c *WSClient) ExpectSilence(d time.Duration) {
	c.t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case raw := <-c.frames:
		c.t.Fatalf("expected no frame, got %s", raw)
	case <-c.done:
		c.t.Fatalf("connection closed while expecting silence: %v", c.err)
	case <-timer.C:
	}
}

// ExpectClosed waits for the server to end the connection, discarding any
// frames that arrive first, and returns the read error.
func (c *WSClient) ExpectClosed() error {
	c.t.Helper()
	timer := time.NewTimer(ReadTimeout)
	defer timer.Stop()
	for {
		select {
		case <-c.frames:
		case <-c.done:
			return c.err
		case <-timer.C:
			c.t.Fatalf("connection still open after %s", ReadTimeout)
			return nil
		}
	}
}

// Close closes the connection with a normal closure handshake.
func (c *WSClient) Close() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.Conn.Close()
}

func mustMarshal(t testing.TB, v interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	return raw
}
