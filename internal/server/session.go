package server

import (
	"github.com/Tyrowin/roomchat/internal/identity"
	"github.com/Tyrowin/roomchat/internal/rooms"
)

// SessionState is the lifecycle position of a realtime connection.
type SessionState int

const (
	// StateConnected is a live connection without a verified identity.
	StateConnected SessionState = iota
	// StateAuthenticated is a verified connection outside any room.
	StateAuthenticated
	// StateInRoom is a verified connection subscribed to one room.
	StateInRoom
	// StateDisconnected is terminal.
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateInRoom:
		return "in-room"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is the per-connection record built once at connect time. Only the
// owning client's read loop mutates it.
type Session struct {
	ID   string
	User *identity.Identity
	Room *rooms.Room

	disconnected bool
}

// State derives the lifecycle state from the session fields.
func (s *Session) State() SessionState {
	switch {
	case s.disconnected:
		return StateDisconnected
	case s.User == nil:
		return StateConnected
	case s.Room == nil:
		return StateAuthenticated
	}
	return StateInRoom
}
