// Package relay implements the room broker: rooms and their role-tagged
// connections, password-gated joins, control command routing, the per-room
// live frame fan-out and the per-room file chunk forwarder.
package relay

import (
	"errors"
	"time"
)

var (
	ErrAccessDenied = errors.New("access denied")
	ErrInvalidRole  = errors.New("invalid role")
	ErrRoomClosed   = errors.New("room closed")
	ErrNoHost       = errors.New("no host connection")
	ErrNoViewer     = errors.New("no viewer connection")
	ErrConnClosed   = errors.New("connection closed")
)

// Config holds the relay's timing and sizing knobs.
type Config struct {
	// Frames larger than this are dropped.
	MaxFrameSize int
	// Abandon a frame send after this long.
	FrameSendTimeout time.Duration
	// Stop the frame loop after this long without frames (unless a
	// transfer is in progress).
	FrameIdleStop time.Duration
	// Frame stats log interval.
	StatsInterval time.Duration

	// Bounded file chunk queue; producers block when it is full.
	FileQueueSize int
	// Chunks parked while no viewer file connection is open.
	PendingRingSize int
	// Worker exits after this long without data and no transfer.
	FileIdleExit time.Duration
	// Retry cadence for a held FILE_END and the idle check.
	FileRetryTick time.Duration
	// Write timeout for one file chunk.
	FileSendTimeout time.Duration

	// Pause between an access-denied error and the close.
	DenyGrace time.Duration
	// The join must arrive within this window.
	JoinTimeout time.Duration
	// Write timeout for JSON control messages.
	TextWriteTimeout time.Duration
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:     500 * 1024,
		FrameSendTimeout: 15 * time.Second,
		FrameIdleStop:    30 * time.Second,
		StatsInterval:    5 * time.Second,
		FileQueueSize:    20000,
		PendingRingSize:  100,
		FileIdleExit:     60 * time.Second,
		FileRetryTick:    20 * time.Millisecond,
		FileSendTimeout:  2 * time.Minute,
		DenyGrace:        time.Second,
		JoinTimeout:      30 * time.Second,
		TextWriteTimeout: 10 * time.Second,
	}
}

// frameBudget is the number of frame sends allowed in flight for n screen
// connections.
func frameBudget(n int) int {
	return min(20, max(4, 2*n))
}
