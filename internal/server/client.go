package server

import (
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"golang.org/x/time/rate"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

// Client represents a WebSocket connection in the chat system. It owns the
// connection, its outbound queue and the session of the user behind it.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	gateway        *Gateway
	addr           string
	closed         bool
	roomID         string
	maxMessageSize int64
	limiter        *rate.Limiter
	rateLimit      RateLimitConfig
	session        *Session
}

// NewClient creates a Client for conn. The session carries the identity
// resolved at connect time, which may be nil.
func NewClient(conn *websocket.Conn, gateway *Gateway, session *Session, addr string, cfg Config) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Client{
		id:             session.ID,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            gateway.hub,
		gateway:        gateway,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		session:        session,
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// queue places payload on the send channel of a client that is not yet
// registered with the hub.
func (c *Client) queue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		logger.Warningf("dropping queued frame for %s: buffer full", c.id)
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Warningf("error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			logger.Warningf("error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// logReadError records why the read loop of this client stopped.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Warningf("frame from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		logger.Debugf("client %s disconnected: %v", c.id, err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		logger.Debugf("client %s connection closed: %v", c.id, err)
	default:
		logger.Warningf("WebSocket read error from %s: %v", c.addr, err)
	}
}

// checkRateLimit reports whether the next inbound event may be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.Allow() {
		logger.Debugf("rate limit exceeded for %s (%d events per %s)", c.id, c.rateLimit.Burst, c.rateLimit.RefillInterval)
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.gateway.Disconnect(c)
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			logger.Warningf("error closing connection in readPump: %v", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			c.gateway.emitError(c, msgRateLimited)
			continue
		}

		c.gateway.Dispatch(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		logger.Warningf("error closing connection in writePump: %v", err)
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		logger.Debugf("error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessages(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		logger.Debugf("error writing close message to %s: %v", c.addr, err)
	}
	return false
}

// writeTextMessages writes message and then every frame already queued, one
// WebSocket message per frame so each stays a complete JSON document.
func (c *Client) writeTextMessages(message []byte) bool {
	if !c.writeTextMessage(message) {
		return false
	}
	n := len(c.send)
	for i := 0; i < n; i++ {
		queued, ok := <-c.send
		if !ok {
			return c.writeCloseMessage()
		}
		if !c.writeTextMessage(queued) {
			return false
		}
	}
	return true
}

func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			logger.Debugf("error writing message to %s: %v", c.addr, err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		logger.Debugf("error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		logger.Debugf("error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}
