package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/messages"
	"github.com/Tyrowin/roomchat/internal/rooms"
)

// Realtime event names.
const (
	EventRoomJoin    = "room:join"
	EventMessageSend = "message:send"
	EventMessageNew  = "message:new"
	EventUserJoined  = "user:joined"
	EventUserLeft    = "user:left"
	EventError       = "error"
)

// Frame is the envelope of every realtime message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest is the payload of an inbound room:join.
type JoinRequest struct {
	RoomSlug string `json:"roomSlug"`
}

// SendRequest is the payload of an inbound message:send.
type SendRequest struct {
	Text string `json:"text"`
}

// JoinReply is sent to a client after it joined a room.
type JoinReply struct {
	Room     *rooms.Room         `json:"room"`
	Messages []*messages.Message `json:"messages"`
}

// NewMessage is broadcast for every stored chat message.
type NewMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	CreatedAt time.Time `json:"createdAt"`
}

// Presence is the payload of user:joined and user:left.
type Presence struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent is the payload of an outbound error event.
type ErrorEvent struct {
	Message string `json:"message"`
}

func encodeFrame(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
