package relay

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// Socket is the write side of a peer WebSocket. *websocket.Conn
// satisfies it.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// PeerSocket adds the read side used by Serve.
type PeerSocket interface {
	Socket
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
}

// Connection is one joined socket. Writes are serialized; a failed write
// closes the socket so its read loop ends and the registry removes it.
type Connection struct {
	Role   protocol.Role // canonical
	Joined protocol.Role // as sent in the join
	ConnID int
	Remote string

	sock   Socket
	mu     sync.Mutex
	closed atomic.Bool
	sent   atomic.Int64
}

func newConnection(sock Socket, role protocol.Role, connID int, remote string) *Connection {
	return &Connection{
		Role:   role.Canonical(),
		Joined: role,
		ConnID: connID,
		Remote: remote,
		sock:   sock,
	}
}

func (c *Connection) String() string {
	return fmt.Sprintf("%s#%d", c.Role, c.ConnID)
}

func (c *Connection) Side() protocol.Side { return c.Role.Side() }

func (c *Connection) Closed() bool { return c.closed.Load() }

// BytesSent reports how much the relay has written to this peer.
func (c *Connection) BytesSent() int64 { return c.sent.Load() }

// Close marks the connection closed and closes the socket once.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.sock.Close()
}

// WriteText writes one JSON message.
func (c *Connection) WriteText(data []byte, timeout time.Duration) error {
	return c.write(websocket.TextMessage, data, timeout)
}

// WriteBinary writes one frame or file chunk.
func (c *Connection) WriteBinary(data []byte, timeout time.Duration) error {
	return c.write(websocket.BinaryMessage, data, timeout)
}

// Send encodes and writes a command.
func (c *Connection) Send(cmd protocol.Command, timeout time.Duration) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	return c.WriteText(data, timeout)
}

func (c *Connection) write(messageType int, data []byte, timeout time.Duration) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrConnClosed
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	c.sock.SetWriteDeadline(deadline) //nolint:errcheck
	if err := c.sock.WriteMessage(messageType, data); err != nil {
		// gorilla leaves the stream unusable after a failed or timed out write.
		c.Close() //nolint:errcheck
		return fmt.Errorf("write %s: %w", c, err)
	}
	c.sent.Add(int64(len(data)))
	return nil
}
