package relay

import (
	"context"
	"fmt"

	"github.com/avaropoint/deskrelay/internal/security"
	"github.com/avaropoint/deskrelay/internal/store"
)

// AccessController validates room id and password pairs against the
// configured room store. It holds no state of its own.
type AccessController struct {
	rooms store.RoomStore
}

// NewAccessController checks joins against rooms. A nil store, or a store
// with no rooms, admits every join.
func NewAccessController(rooms store.RoomStore) *AccessController {
	return &AccessController{rooms: rooms}
}

// Check returns nil when the join may proceed and an error wrapping
// ErrAccessDenied otherwise.
func (a *AccessController) Check(ctx context.Context, room, password string) error {
	if a == nil || a.rooms == nil {
		return nil
	}
	n, err := a.rooms.CountRooms(ctx)
	if err != nil {
		return fmt.Errorf("%w: room store: %v", ErrAccessDenied, err)
	}
	if n == 0 {
		return nil
	}
	rec, err := a.rooms.GetRoom(ctx, room)
	if err != nil {
		return fmt.Errorf("%w: room store: %v", ErrAccessDenied, err)
	}
	if rec == nil {
		return fmt.Errorf("%w: room %q not configured", ErrAccessDenied, room)
	}
	if !security.VerifyPassword(password, rec.PasswordHash) {
		return fmt.Errorf("%w: wrong password for room %q", ErrAccessDenied, room)
	}
	return nil
}

// DeniedMessage is the error text sent to a rejected joiner.
func DeniedMessage(room string) string {
	return fmt.Sprintf("Access denied: wrong room ID or password for room %q", room)
}
