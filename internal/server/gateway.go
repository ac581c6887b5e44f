package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/Tyrowin/roomchat/internal/identity"
	"github.com/Tyrowin/roomchat/internal/messages"
	"github.com/Tyrowin/roomchat/internal/rooms"
)

var gatewayLogger = loggo.GetLogger("roomchat.gateway")

// Error texts sent to realtime clients.
const (
	msgUnauthorized    = "Unauthorized"
	msgRoomNotFound    = "Room not found"
	msgJoinFailed      = "Failed to join room"
	msgAlreadyInRoom   = "You are already in a room"
	msgMustJoin        = "You must join a room first"
	msgSendFailed      = "Failed to send message"
	msgEmptyText       = "Message text must not be empty"
	msgInvalidPayload  = "Invalid payload"
	msgUnknownEvent    = "Unknown event"
	msgRateLimited     = "Rate limit exceeded"
	msgTextTooLongTmpl = "Message text must be at most %d characters"
)

// Authenticator resolves bearer tokens to identities.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*identity.Identity, error)
}

// RoomResolver finds rooms for join requests.
type RoomResolver interface {
	RoomBySlug(ctx context.Context, slug string) (*rooms.Room, error)
}

// MessageLog stores and replays room history.
type MessageLog interface {
	Append(ctx context.Context, roomID, userID, userName, text string) (*messages.Message, error)
	Recent(ctx context.Context, roomID string, limit int) ([]*messages.Message, error)
}

// Gateway runs the realtime protocol: it authenticates connections, applies
// room:join and message:send and keeps room broadcasts in append order.
type Gateway struct {
	hub          *Hub
	auth         Authenticator
	rooms        RoomResolver
	log          MessageLog
	clock        clock.Clock
	metrics      *Metrics
	roomLocks    *kmutex.Kmutex
	maxText      int
	historyLimit int
}

// NewGateway returns a Gateway delivering through hub.
func NewGateway(hub *Hub, auth Authenticator, resolver RoomResolver, log MessageLog, clk clock.Clock, metrics *Metrics, cfg Config) *Gateway {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Gateway{
		hub:          hub,
		auth:         auth,
		rooms:        resolver,
		log:          log,
		clock:        clk,
		metrics:      metrics,
		roomLocks:    kmutex.New(),
		maxText:      cfg.MaxTextLength,
		historyLimit: cfg.HistoryLimit,
	}
}

// Connect builds the session of a new connection. An empty or invalid token
// yields an unauthenticated session; the failure is reported to the caller
// so it can be sent to the client.
func (g *Gateway) Connect(ctx context.Context, id, token string) (*Session, error) {
	session := &Session{ID: id}
	if token == "" {
		return session, errors.Unauthorizedf("missing token")
	}
	user, err := g.auth.Authenticate(ctx, token)
	if err != nil {
		return session, errors.Trace(err)
	}
	session.User = user
	return session, nil
}

// Dispatch decodes one inbound frame and runs its handler. A failing or
// panicking handler results in an error event; the session keeps its prior
// state.
func (g *Gateway) Dispatch(c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		g.emitError(c, msgInvalidPayload)
		return
	}

	ctx := context.Background()
	switch frame.Event {
	case EventRoomJoin:
		g.guard(c, frame.Event, msgJoinFailed, func() { g.join(ctx, c, frame.Data) })
	case EventMessageSend:
		g.guard(c, frame.Event, msgSendFailed, func() { g.sendMessage(ctx, c, frame.Data) })
	default:
		gatewayLogger.Debugf("client %s sent unknown event %q", c.id, frame.Event)
		g.emitError(c, msgUnknownEvent)
	}
}

func (g *Gateway) guard(c *Client, event, failure string, handler func()) {
	defer func() {
		if r := recover(); r != nil {
			gatewayLogger.Errorf("panic handling %s for client %s: %v", event, c.id, r)
			g.metrics.eventHandled(event, "panic")
			g.emitError(c, failure)
		}
	}()
	handler()
}

func (g *Gateway) join(ctx context.Context, c *Client, data json.RawMessage) {
	s := c.session
	switch s.State() {
	case StateConnected:
		g.reject(c, EventRoomJoin, msgUnauthorized)
		return
	case StateInRoom:
		g.reject(c, EventRoomJoin, msgAlreadyInRoom)
		return
	}

	var req JoinRequest
	if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.RoomSlug) == "" {
		g.reject(c, EventRoomJoin, msgInvalidPayload)
		return
	}

	gatewayLogger.Infof("user %s joining room %q", s.User.ID, req.RoomSlug)
	room, err := g.rooms.RoomBySlug(ctx, req.RoomSlug)
	if errors.Is(err, errors.NotFound) {
		gatewayLogger.Debugf("room %q not found for user %s", req.RoomSlug, s.User.ID)
		g.reject(c, EventRoomJoin, msgRoomNotFound)
		return
	}
	if err != nil {
		gatewayLogger.Errorf("resolving room %q: %v", req.RoomSlug, errors.ErrorStack(err))
		g.reject(c, EventRoomJoin, msgJoinFailed)
		return
	}

	g.roomLocks.Lock(room.ID)
	defer g.roomLocks.Unlock(room.ID)

	history, err := g.log.Recent(ctx, room.ID, g.historyLimit)
	if err != nil {
		gatewayLogger.Errorf("loading history of room %s: %v", room.ID, errors.ErrorStack(err))
		g.reject(c, EventRoomJoin, msgJoinFailed)
		return
	}

	g.hub.Join(c, room.ID)
	s.Room = room

	g.broadcast(room.ID, EventUserJoined, Presence{
		UserID:    s.User.ID,
		UserName:  s.User.Name,
		Timestamp: g.clock.Now().UTC(),
	})
	g.emit(c, EventRoomJoin, JoinReply{Room: room, Messages: history})
	g.metrics.eventHandled(EventRoomJoin, "ok")
	gatewayLogger.Infof("user %s joined room %s (%s)", s.User.ID, room.Slug, room.ID)
}

func (g *Gateway) sendMessage(ctx context.Context, c *Client, data json.RawMessage) {
	s := c.session
	switch s.State() {
	case StateConnected:
		g.reject(c, EventMessageSend, msgUnauthorized)
		return
	case StateAuthenticated:
		g.reject(c, EventMessageSend, msgMustJoin)
		return
	}

	var req SendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		g.reject(c, EventMessageSend, msgInvalidPayload)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		g.reject(c, EventMessageSend, msgEmptyText)
		return
	}
	if utf8.RuneCountInString(req.Text) > g.maxText {
		g.reject(c, EventMessageSend, fmt.Sprintf(msgTextTooLongTmpl, g.maxText))
		return
	}

	roomID := s.Room.ID
	gatewayLogger.Debugf("user %s sending to room %s: %q", s.User.ID, roomID, req.Text)

	// Holding the room lock across append and broadcast makes delivery order
	// equal to append completion order.
	g.roomLocks.Lock(roomID)
	defer g.roomLocks.Unlock(roomID)

	msg, err := g.log.Append(ctx, roomID, s.User.ID, s.User.Name, req.Text)
	if err != nil {
		gatewayLogger.Errorf("storing message from user %s in room %s: %v", s.User.ID, roomID, errors.ErrorStack(err))
		g.reject(c, EventMessageSend, msgSendFailed)
		return
	}

	g.broadcast(roomID, EventMessageNew, NewMessage{
		ID:        msg.ID,
		Text:      msg.Text,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		CreatedAt: msg.CreatedAt,
	})
	g.metrics.eventHandled(EventMessageSend, "ok")
	gatewayLogger.Infof("user %s sent message %s in room %s", s.User.ID, msg.ID, roomID)
}

// Disconnect ends the session of c, announcing the departure to its room.
func (g *Gateway) Disconnect(c *Client) {
	s := c.session
	if s.State() == StateInRoom {
		roomID := s.Room.ID
		g.roomLocks.Lock(roomID)
		g.hub.Leave(c)
		g.broadcast(roomID, EventUserLeft, Presence{
			UserID:    s.User.ID,
			UserName:  s.User.Name,
			Timestamp: g.clock.Now().UTC(),
		})
		g.roomLocks.Unlock(roomID)
		gatewayLogger.Infof("user %s left room %s", s.User.ID, roomID)
	}
	s.Room = nil
	s.disconnected = true
	gatewayLogger.Debugf("session %s disconnected", s.ID)
}

func (g *Gateway) reject(c *Client, event, message string) {
	g.metrics.eventHandled(event, "rejected")
	g.emitError(c, message)
}

func (g *Gateway) emitError(c *Client, message string) {
	g.emit(c, EventError, ErrorEvent{Message: message})
}

func (g *Gateway) emit(c *Client, event string, data interface{}) {
	payload, err := encodeFrame(event, data)
	if err != nil {
		gatewayLogger.Errorf("encoding %s for client %s: %v", event, c.id, err)
		return
	}
	if !g.hub.SendTo(c, payload) {
		gatewayLogger.Debugf("could not deliver %s to client %s", event, c.id)
	}
}

func (g *Gateway) broadcast(roomID, event string, data interface{}) {
	payload, err := encodeFrame(event, data)
	if err != nil {
		gatewayLogger.Errorf("encoding %s for room %s: %v", event, roomID, err)
		return
	}
	g.hub.Broadcast(roomID, payload)
}
