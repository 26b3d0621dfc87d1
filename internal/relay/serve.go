package relay

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// Serve runs one peer socket: it waits for the join (answering pings
// meanwhile), admits the socket into its room and then routes every
// message until the socket closes.
func (reg *Registry) Serve(ctx context.Context, ws PeerSocket, remote string) {
	defer ws.Close() //nolint:errcheck

	join, err := reg.awaitJoin(ws)
	if err != nil {
		return
	}

	room, conn, err := reg.Join(ctx, ws, join, remote)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, ErrAccessDenied) {
			msg = DeniedMessage(join.Room)
		}
		_ = ws.SetWriteDeadline(time.Now().Add(reg.cfg.TextWriteTimeout))
		_ = ws.WriteMessage(websocket.TextMessage, protocol.MustEncode(&protocol.Error{Message: msg}))
		// Let the error flush before the close.
		select {
		case <-time.After(reg.cfg.DenyGrace):
		case <-ctx.Done():
		}
		return
	}
	defer reg.Leave(room, conn)

	room.announceReady()

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Printf("[%s] %s read: %v", room.ID, conn, err)
			}
			return
		}
		switch mt {
		case websocket.TextMessage:
			room.RouteText(conn, data)
		case websocket.BinaryMessage:
			if err := room.RouteBinary(ctx, conn, data); err != nil {
				return
			}
		}
	}
}

// awaitJoin reads until a join arrives or JoinTimeout passes.
func (reg *Registry) awaitJoin(ws PeerSocket) (*protocol.Join, error) {
	_ = ws.SetReadDeadline(time.Now().Add(reg.cfg.JoinTimeout))
	defer ws.SetReadDeadline(time.Time{}) //nolint:errcheck
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		cmd, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		switch c := cmd.(type) {
		case *protocol.Join:
			return c, nil
		case *protocol.Ping:
			ws.WriteMessage(websocket.TextMessage, protocol.MustEncode(&protocol.Pong{})) //nolint:errcheck
		}
	}
}
