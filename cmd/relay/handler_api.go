package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/avaropoint/deskrelay/internal/relay"
	"github.com/avaropoint/deskrelay/internal/security"
	"github.com/avaropoint/deskrelay/internal/store"
)

// handleHealth answers load balancer health checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true}) //nolint:errcheck
}

// handleCreateRoom creates or updates a room's password hash.
// The admin key may be sent in the body or in a header.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	var req struct {
		Room         string `json:"room"`
		PasswordHash string `json:"password_hash"`
		AdminKey     string `json:"admin_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Room == "" || req.PasswordHash == "" {
		http.Error(w, `{"error":"room and password_hash required"}`, http.StatusBadRequest)
		return
	}

	key := req.AdminKey
	if key == "" {
		key = security.ExtractAdminKey(r)
	}
	if !s.guard.Allow(key) {
		http.Error(w, `{"error":"Invalid admin key"}`, http.StatusForbidden)
		return
	}
	if !security.ValidHash(req.PasswordHash) {
		http.Error(w, `{"error":"password_hash must be a hex SHA-256"}`, http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	rec := &store.RoomRecord{
		ID:           req.Room,
		PasswordHash: strings.ToLower(req.PasswordHash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing, err := s.rooms.GetRoom(r.Context(), req.Room); err == nil && existing != nil && !existing.CreatedAt.IsZero() {
		rec.CreatedAt = existing.CreatedAt
	}
	if err := s.rooms.PutRoom(r.Context(), rec); err != nil {
		log.Printf("Failed to save room config: %v", err)
		http.Error(w, fmt.Sprintf(`{"error":%q}`, "Failed to save: "+err.Error()), http.StatusInternalServerError)
		return
	}

	log.Printf("Room %q created/updated", req.Room)
	json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
		"ok":      true,
		"message": fmt.Sprintf("Room %s created successfully", req.Room),
	})
}

// handleListRooms returns configured room ids and the live room table.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	configured, err := s.rooms.ListRooms(r.Context())
	if err != nil {
		http.Error(w, `{"error":"failed to list rooms"}`, http.StatusInternalServerError)
		return
	}
	if configured == nil {
		configured = []*store.RoomRecord{}
	}

	json.NewEncoder(w).Encode(struct { //nolint:errcheck
		Configured []*store.RoomRecord `json:"configured"`
		Live       []relay.RoomInfo    `json:"live"`
	}{configured, s.reg.Rooms()})
}
