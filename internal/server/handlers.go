package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/Tyrowin/roomchat/internal/identity"
	"github.com/Tyrowin/roomchat/internal/rooms"
)

const (
	maxBodyBytes       = 1 << 20
	connectAuthTimeout = 5 * time.Second
)

var errBadBody = errors.WithType(errors.New("Invalid request body"), errors.BadRequest)

func decodeJSON(r *http.Request, w http.ResponseWriter, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		httpLogger.Debugf("undecodable body on %s %s: %v", r.Method, r.URL.Path, err)
		return errBadBody
	}
	return nil
}

// handleChat upgrades the request to a realtime connection. The bearer token
// comes from the Authorization header or the token query parameter. A
// connection that fails authentication stays open and is told so with an
// error event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	token := identity.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectAuthTimeout)
	session, authErr := s.gateway.Connect(ctx, uuid.NewString(), token)
	cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		gatewayLogger.Warningf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, s.gateway, session, r.RemoteAddr, s.cfg)
	if authErr != nil {
		gatewayLogger.Infof("connection %s from %s is unauthenticated: %v", session.ID, r.RemoteAddr, authErr)
		if payload, err := encodeFrame(EventError, ErrorEvent{Message: msgUnauthorized}); err == nil {
			client.queue(payload)
		}
	} else {
		gatewayLogger.Infof("user %s connected as %s", session.User.ID, session.ID)
	}

	// The hub launches the pump goroutines.
	if !s.hub.Register(client) {
		_ = conn.Close()
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

// handleHealth reports liveness and the number of realtime connections.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Connections: s.hub.ClientCount()})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in identity.RegisterInput
	if err := decodeJSON(r, w, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.identity.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in identity.LoginInput
	if err := decodeJSON(r, w, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := s.identity.Login(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// handleMe returns the stored identity of the caller.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	who, _ := IdentityFrom(r.Context())
	user, err := s.identity.UserByID(r.Context(), who.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if user == nil {
		s.writeError(w, r, errors.Unauthorizedf("Unauthorized"))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var in rooms.CreateRoomInput
	if err := decodeJSON(r, w, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	room, err := s.rooms.CreateRoom(r.Context(), in.Name, in.MaxUsers)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	who, _ := IdentityFrom(r.Context())
	httpLogger.Infof("user %s created room %s", who.ID, room.Slug)
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	list, err := s.rooms.ListRooms(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// roomDetail is a room together with its live occupancy.
type roomDetail struct {
	*rooms.Room
	OnlineUsers int `json:"onlineUsers"`
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.RoomBySlug(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roomDetail{Room: room, OnlineUsers: s.hub.RoomSize(room.ID)})
}
