package relay

import (
	"context"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// Room joins one host side with one viewer side. All connection lists,
// main pointers and transfer state are guarded by mu; the frame loop and
// file worker only read them through the helper methods below.
type Room struct {
	ID      string
	Created time.Time

	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[protocol.Role][]*Connection
	main  map[protocol.Side]*Connection

	closed        bool
	framesRunning bool
	frameRR       int

	files             *fileWorker
	pendingPuts       int
	pendingFolderDone []byte
	transfer          TransferState

	frames        chan []byte
	pendingFrames atomic.Int32
	stats         frameStats
}

type frameStats struct {
	recv, sent, skip, bytes atomic.Int64
}

func newRoom(parent context.Context, id string, cfg Config) *Room {
	ctx, cancel := context.WithCancel(parent)
	return &Room{
		ID:      id,
		Created: time.Now(),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[protocol.Role][]*Connection),
		main:    make(map[protocol.Side]*Connection),
		frames:  make(chan []byte, 1),
	}
}

// add appends conn and claims the main slot for an eligible role when the
// slot is empty. A primary role also takes the slot over from a stand-in
// of another role. Caller holds mu.
func (r *Room) add(conn *Connection) (isMain bool, replaced *Connection) {
	r.conns[conn.Role] = append(r.conns[conn.Role], conn)
	side := conn.Side()
	cur := r.main[side]
	if cur != nil && cur.Closed() {
		cur = nil
	}
	switch {
	case cur == nil && conn.Role.MainEligible():
	case cur != nil && conn.Role.IsPrimary() && !cur.Role.IsPrimary():
		replaced = cur
	default:
		return false, nil
	}
	r.main[side] = conn
	return true, replaced
}

// remove drops conn. If it was main, the next open connection of the side
// is promoted in PromotionOrder. Caller holds mu.
func (r *Room) remove(conn *Connection) (promoted *Connection, sideEmpty bool) {
	list := r.conns[conn.Role]
	if i := slices.Index(list, conn); i >= 0 {
		r.conns[conn.Role] = slices.Delete(list, i, i+1)
	}
	side := conn.Side()
	if r.main[side] == conn {
		delete(r.main, side)
		promoted = r.promote(side)
	}
	return promoted, r.count(side) == 0
}

func (r *Room) promote(side protocol.Side) *Connection {
	for _, role := range protocol.PromotionOrder(side) {
		for _, c := range r.conns[role] {
			if !c.Closed() {
				r.main[side] = c
				return c
			}
		}
	}
	return nil
}

// count reports connections of a side that have not left yet. Caller
// holds mu.
func (r *Room) count(side protocol.Side) int {
	n := 0
	for _, role := range protocol.Roles(side) {
		n += len(r.conns[role])
	}
	return n
}

// hasOpen reports whether any connection of side is still open. Caller
// holds mu.
func (r *Room) hasOpen(side protocol.Side) bool {
	for _, role := range protocol.Roles(side) {
		for _, c := range r.conns[role] {
			if !c.Closed() {
				return true
			}
		}
	}
	return false
}

func openOf(list []*Connection) []*Connection {
	out := make([]*Connection, 0, len(list))
	for _, c := range list {
		if !c.Closed() {
			out = append(out, c)
		}
	}
	return out
}

// Main returns the promoted main connection of side, or nil.
func (r *Room) Main(side protocol.Side) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.main[side]; m != nil && !m.Closed() {
		return m
	}
	return nil
}

// Counts reports the number of joined connections per side.
func (r *Room) Counts() (hosts, viewers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count(protocol.SideHost), r.count(protocol.SideViewer)
}

// TransferInProgress reports whether a download is active or draining.
func (r *Room) TransferInProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transfer.InProgress()
}

// Transfer returns a copy of the transfer state.
func (r *Room) Transfer() TransferState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transfer
}

// viewerBroadcast returns the viewer main plus every legacy "viewer"
// connection, without duplicates. Caller holds mu.
func (r *Room) viewerBroadcast() []*Connection {
	var out []*Connection
	if m := r.main[protocol.SideViewer]; m != nil && !m.Closed() {
		out = append(out, m)
	}
	for _, c := range r.conns[protocol.RoleViewer] {
		if !c.Closed() && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// announceReady sends ready to both mains (and legacy viewers) once both
// sides have an open connection, and makes sure the frame loop runs.
func (r *Room) announceReady() bool {
	r.mu.Lock()
	if r.closed || !r.hasOpen(protocol.SideHost) || !r.hasOpen(protocol.SideViewer) {
		r.mu.Unlock()
		return false
	}
	var targets []*Connection
	if m := r.main[protocol.SideHost]; m != nil && !m.Closed() {
		targets = append(targets, m)
	}
	targets = append(targets, r.viewerBroadcast()...)
	r.mu.Unlock()

	log.Printf("[%s] === CONNECTED (host + viewer) ===", r.ID)
	ready := protocol.MustEncode(&protocol.Ready{})
	for _, c := range targets {
		if err := c.WriteText(ready, r.cfg.TextWriteTimeout); err != nil {
			log.Printf("[%s] ready to %s: %v", r.ID, c, err)
		}
	}
	r.ensureFrameLoop()
	return true
}

// notifyLeft tells the opposite side that side has no connections left.
func (r *Room) notifyLeft(side protocol.Side) {
	var cmd protocol.Command
	var targets []*Connection
	r.mu.Lock()
	switch side {
	case protocol.SideHost:
		cmd = &protocol.HostLeft{}
		targets = r.viewerBroadcast()
	case protocol.SideViewer:
		cmd = &protocol.ViewerLeft{}
		if m := r.main[protocol.SideHost]; m != nil && !m.Closed() {
			targets = append(targets, m)
		}
	}
	r.mu.Unlock()

	data := protocol.MustEncode(cmd)
	for _, c := range targets {
		if err := c.WriteText(data, r.cfg.TextWriteTimeout); err != nil {
			log.Printf("[%s] %s to %s: %v", r.ID, cmd.Kind(), c, err)
		}
	}
	if len(targets) > 0 {
		log.Printf("[%s] Notified %s: all %s connections left", r.ID, side.Opposite(), side)
	}
}

// RoomInfo is a point-in-time view of a room for the admin API.
type RoomInfo struct {
	ID         string    `json:"id"`
	Hosts      int       `json:"hosts"`
	Viewers    int       `json:"viewers"`
	HostMain   string    `json:"host_main,omitempty"`
	ViewerMain string    `json:"viewer_main,omitempty"`
	Streaming  bool      `json:"streaming"`
	Transfer   string    `json:"transfer"`
	Created    time.Time `json:"created"`
}

// Info snapshots the room.
func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := RoomInfo{
		ID:        r.ID,
		Hosts:     r.count(protocol.SideHost),
		Viewers:   r.count(protocol.SideViewer),
		Streaming: r.framesRunning,
		Transfer:  r.transfer.Phase.String(),
		Created:   r.Created,
	}
	if m := r.main[protocol.SideHost]; m != nil {
		info.HostMain = m.String()
	}
	if m := r.main[protocol.SideViewer]; m != nil {
		info.ViewerMain = m.String()
	}
	return info
}
