package host

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

type sentMsg struct {
	typ  int
	data []byte
}

// fakeConn records writes and serves queued inbound text until closed.
type fakeConn struct {
	mu      sync.Mutex
	msgs    []sentMsg
	onWrite func(typ int, data []byte)

	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case d := <-c.in:
		return websocket.TextMessage, d, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(typ int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.mu.Lock()
	c.msgs = append(c.msgs, sentMsg{typ: typ, data: append([]byte(nil), data...)})
	hook := c.onWrite
	c.mu.Unlock()
	if hook != nil {
		hook(typ, data)
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) all() []sentMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMsg(nil), c.msgs...)
}

// commands decodes the text messages written so far.
func (c *fakeConn) commands(t *testing.T) []protocol.Command {
	t.Helper()
	var out []protocol.Command
	for _, m := range c.all() {
		if m.typ != websocket.TextMessage {
			continue
		}
		cmd, err := protocol.Decode(m.data)
		if err != nil {
			t.Fatalf("decode %s: %v", m.data, err)
		}
		out = append(out, cmd)
	}
	return out
}

// fakeTransport sends control replies on its first link like a session.
type fakeTransport struct {
	links []*Link
	conns []*fakeConn
}

func newFakeTransport(n int) *fakeTransport {
	ft := &fakeTransport{}
	for i := 0; i < n; i++ {
		c := newFakeConn()
		role := protocol.RoleHostFile
		if i == 0 {
			role = protocol.RoleHost
		}
		ft.conns = append(ft.conns, c)
		ft.links = append(ft.links, newLink(c, role, i, "ws://test/ws", time.Second))
	}
	return ft
}

func (ft *fakeTransport) Send(cmd protocol.Command) error { return ft.links[0].Send(cmd) }

func (ft *fakeTransport) FileLinks() []*Link { return openLinks(ft.links) }

func findCommand[T protocol.Command](cmds []protocol.Command) (T, bool) {
	for _, c := range cmds {
		if v, ok := c.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}
