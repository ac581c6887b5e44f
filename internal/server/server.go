package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"

	"github.com/Tyrowin/roomchat/internal/identity"
	"github.com/Tyrowin/roomchat/internal/rooms"
)

// IdentityService is what the HTTP API needs from the identity verifier.
type IdentityService interface {
	Authenticator
	Register(ctx context.Context, in identity.RegisterInput) (*identity.PublicUser, error)
	Login(ctx context.Context, in identity.LoginInput) (*identity.AccessToken, error)
	UserByID(ctx context.Context, id string) (*identity.Identity, error)
}

// RoomDirectory is what the HTTP API and gateway need from the room
// directory.
type RoomDirectory interface {
	RoomResolver
	CreateRoom(ctx context.Context, name string, maxUsers int) (*rooms.Room, error)
	ListRooms(ctx context.Context) ([]*rooms.Room, error)
}

// Deps are the collaborators of a Server.
type Deps struct {
	Identity IdentityService
	Rooms    RoomDirectory
	Messages MessageLog
	Clock    clock.Clock
	Metrics  *Metrics
}

// Server ties the HTTP API, the hub and the realtime gateway together.
type Server struct {
	cfg      Config
	identity IdentityService
	rooms    RoomDirectory
	hub      *Hub
	gateway  *Gateway
	metrics  *Metrics
	clock    clock.Clock
	origins  originPolicy
	upgrader websocket.Upgrader
}

// New builds a Server from cfg. Unset or invalid settings fall back to
// their defaults.
func New(cfg Config, deps Deps) *Server {
	cfg = sanitizeConfig(cfg)
	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	hub := NewHub(metrics)
	s := &Server{
		cfg:      cfg,
		identity: deps.Identity,
		rooms:    deps.Rooms,
		hub:      hub,
		gateway:  NewGateway(hub, deps.Identity, deps.Rooms, deps.Messages, clk, metrics, cfg),
		metrics:  metrics,
		clock:    clk,
		origins:  newOriginPolicy(cfg.AllowedOrigins),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	cfg := s.cfg
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// Hub returns the connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// StartHub starts the hub loop in a separate goroutine. Call it before
// serving requests.
func (s *Server) StartHub() {
	go s.hub.Run()
	logger.Infof("hub started and ready to manage WebSocket connections")
}

// Shutdown closes every realtime connection and waits for their goroutines.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}

// Handler returns the routed HTTP handler of the service.
func (s *Server) Handler() http.Handler {
	return s.routes()
}
