package relay

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// Registry owns every room. Rooms are created on first join and destroyed
// when both sides are empty. Lock order is Registry.mu then Room.mu.
type Registry struct {
	cfg    Config
	access *AccessController

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry.
func NewRegistry(access *AccessController, cfg Config) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:    cfg,
		access: access,
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*Room),
	}
}

// Close stops every room's loops.
func (reg *Registry) Close() {
	reg.cancel()
}

// Join validates j and adds sock to its room.
func (reg *Registry) Join(ctx context.Context, sock Socket, j *protocol.Join, remote string) (*Room, *Connection, error) {
	if j.Room == "" {
		return nil, nil, fmt.Errorf("join without room")
	}
	if !j.Role.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidRole, j.Role)
	}
	if err := reg.access.Check(ctx, j.Room, j.Password); err != nil {
		log.Printf("Access denied: %s from %s to room %q", j.Role, remote, j.Room)
		return nil, nil, err
	}

	conn := newConnection(sock, j.Role, j.ConnID, remote)

	reg.mu.Lock()
	room, ok := reg.rooms[j.Room]
	if !ok {
		room = newRoom(reg.ctx, j.Room, reg.cfg)
		reg.rooms[j.Room] = room
		log.Printf("[%s] Room created", j.Room)
	}
	room.mu.Lock()
	isMain, replaced := room.add(conn)
	hosts, viewers := room.count(protocol.SideHost), room.count(protocol.SideViewer)
	room.mu.Unlock()
	reg.mu.Unlock()

	tag := ""
	if isMain {
		tag = " (main)"
	}
	log.Printf("[%s] + %s%s from %s (hosts: %d, viewers: %d)", j.Room, conn, tag, remote, hosts, viewers)
	if replaced != nil {
		log.Printf("[%s] %s takes %s main over from %s", j.Room, conn, conn.Side(), replaced)
	}
	return room, conn, nil
}

// Leave removes conn, promotes a new main if needed, notifies the other
// side when this side is now empty, and destroys the room when both are.
func (reg *Registry) Leave(room *Room, conn *Connection) {
	conn.Close() //nolint:errcheck

	reg.mu.Lock()
	room.mu.Lock()
	promoted, sideEmpty := room.remove(conn)
	roomEmpty := room.count(protocol.SideHost) == 0 && room.count(protocol.SideViewer) == 0
	if roomEmpty && reg.rooms[room.ID] == room {
		delete(reg.rooms, room.ID)
		room.closed = true
	}
	room.mu.Unlock()
	reg.mu.Unlock()

	if roomEmpty {
		room.cancel()
		log.Printf("[%s] Room empty, removed", room.ID)
		return
	}
	log.Printf("[%s] - %s left", room.ID, conn)
	if promoted != nil {
		log.Printf("[%s] %s promoted to %s main", room.ID, promoted, promoted.Side())
	}
	if sideEmpty {
		room.notifyLeft(conn.Side())
	}
}

// Room returns the live room with id, or nil.
func (reg *Registry) Room(id string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.rooms[id]
}

// Len reports the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Rooms snapshots every live room, sorted by id.
func (reg *Registry) Rooms() []RoomInfo {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
