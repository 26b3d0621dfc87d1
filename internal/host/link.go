package host

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// Conn is the client end of one relay socket. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a socket to the relay.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DialWebSocket is the production Dialer.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	conn, err := protocol.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Link is one joined socket of the host side. Writes are serialized and a
// failed write closes the link.
type Link struct {
	Role   protocol.Role
	ConnID int
	URL    string

	conn   Conn
	mu     sync.Mutex
	closed atomic.Bool
	sent   atomic.Int64

	textTimeout time.Duration
}

func newLink(conn Conn, role protocol.Role, connID int, url string, textTimeout time.Duration) *Link {
	return &Link{Role: role, ConnID: connID, URL: url, conn: conn, textTimeout: textTimeout}
}

// dialLink opens a socket and sends its join.
func dialLink(ctx context.Context, dial Dialer, url string, role protocol.Role, connID int, cfg Config, t Timing) (*Link, error) {
	dctx, cancel := context.WithTimeout(ctx, t.ConnectTimeout)
	defer cancel()
	conn, err := dial(dctx, url)
	if err != nil {
		return nil, err
	}
	l := newLink(conn, role, connID, url, t.TextWriteTimeout)
	kind := "file"
	if role.IsScreen() {
		kind = "screen"
	}
	err = l.Send(&protocol.Join{
		Room:           cfg.Room,
		Password:       cfg.Password,
		Role:           role,
		ConnID:         connID,
		ConnectionType: kind,
	})
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", l, err)
	}
	return l, nil
}

func (l *Link) String() string {
	return fmt.Sprintf("%s#%d", l.Role, l.ConnID)
}

func (l *Link) Closed() bool { return l == nil || l.closed.Load() }

func (l *Link) BytesSent() int64 { return l.sent.Load() }

// Close marks the link closed and closes the socket once.
func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.conn.Close()
}

// Send writes one control command.
func (l *Link) Send(cmd protocol.Command) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	return l.write(websocket.TextMessage, data, l.textTimeout)
}

// SendTimeout writes one control command with an explicit deadline.
func (l *Link) SendTimeout(cmd protocol.Command, timeout time.Duration) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	return l.write(websocket.TextMessage, data, timeout)
}

// WriteBinary writes a frame or a file chunk.
func (l *Link) WriteBinary(data []byte, timeout time.Duration) error {
	return l.write(websocket.BinaryMessage, data, timeout)
}

// Read returns the next message. It is only called by the link's reader.
func (l *Link) Read() (int, []byte, error) {
	return l.conn.ReadMessage()
}

func (l *Link) write(messageType int, data []byte, timeout time.Duration) error {
	if l.closed.Load() {
		return fmt.Errorf("write %s: %w", l, ErrNoLink)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	l.conn.SetWriteDeadline(deadline) //nolint:errcheck
	if err := l.conn.WriteMessage(messageType, data); err != nil {
		l.Close() //nolint:errcheck
		return fmt.Errorf("write %s: %w", l, err)
	}
	l.sent.Add(int64(len(data)))
	return nil
}

// openLinks keeps the open members of links.
func openLinks(links []*Link) []*Link {
	out := make([]*Link, 0, len(links))
	for _, l := range links {
		if !l.Closed() {
			out = append(out, l)
		}
	}
	return out
}
