package main

import (
	"log"
	"net/http"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// handleWS upgrades a host or viewer socket and hands it to the registry,
// which waits for its join and routes it until it closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := protocol.Upgrade(s.upgrader, w, r)
	if err != nil {
		log.Printf("WebSocket upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	s.reg.Serve(r.Context(), ws, clientIP(r))
}

// clientIP prefers X-Forwarded-For when the relay sits behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
