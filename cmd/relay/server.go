package main

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/avaropoint/deskrelay/internal/protocol"
	"github.com/avaropoint/deskrelay/internal/relay"
	"github.com/avaropoint/deskrelay/internal/security"
	"github.com/avaropoint/deskrelay/internal/store"
)

// Server exposes the room registry over HTTP. The same handler serves the
// control and streaming listeners; peers pick the port by role.
type Server struct {
	reg      *relay.Registry
	rooms    store.RoomStore
	guard    *security.AdminGuard
	upgrader *websocket.Upgrader
}

// NewServer creates a new Server instance.
func NewServer(reg *relay.Registry, rooms store.RoomStore, guard *security.AdminGuard) *Server {
	return &Server{
		reg:      reg,
		rooms:    rooms,
		guard:    guard,
		upgrader: protocol.NewUpgrader(),
	}
}

// Routes returns the relay's HTTP mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/create_room", s.handleCreateRoom)
	mux.HandleFunc("/api/rooms", s.guard.Wrap(s.handleListRooms))
	mux.HandleFunc("/", s.handleHealth)
	return mux
}
