package protocol

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// MaxMessageSize bounds a single inbound message on either end.
const MaxMessageSize = 100 << 20

// HandshakeTimeout bounds the WebSocket opening handshake.
const HandshakeTimeout = 30 * time.Second

// NewUpgrader returns the relay-side upgrader. Hosts and viewers are
// native clients, so any origin is accepted.
func NewUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:   64 << 10,
		WriteBufferSize:  64 << 10,
		HandshakeTimeout: HandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
}

// Upgrade upgrades an HTTP request and applies the read limit.
func Upgrade(u *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	conn.SetReadLimit(MaxMessageSize)
	return conn, nil
}

// Dial opens a client connection to url.
func Dial(ctx context.Context, url string) (*websocket.Conn, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: HandshakeTimeout,
		ReadBufferSize:   64 << 10,
		WriteBufferSize:  1 << 20,
	}
	conn, resp, err := d.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(MaxMessageSize)
	return conn, nil
}

// WriteCommand encodes c and writes it as one text message.
func WriteCommand(conn *websocket.Conn, c Command) error {
	data, err := Encode(c)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
