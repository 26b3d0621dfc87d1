package host

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// session is one connected set of links. files[0] is always the main
// link; the rest of files are the extra host_file sockets.
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	mu      sync.RWMutex
	files   []*Link
	screens []*Link
	// screensWanted is the configured screen link count. Frames fall back
	// to the main link only when it is zero.
	screensWanted int

	graceUsed atomic.Bool
	readers   sync.WaitGroup
}

func newSession(ctx context.Context, files, screens []*Link, screensWanted int) *session {
	sctx, cancel := context.WithCancel(ctx)
	return &session{
		ctx:           sctx,
		cancel:        cancel,
		started:       time.Now(),
		files:         files,
		screens:       screens,
		screensWanted: screensWanted,
	}
}

// Main returns the link control commands are read from and sent on.
func (s *session) Main() *Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.files[0]
}

// Send writes a control reply on the main link, or on the first open file
// link when the main one is gone: the relay promotes that socket.
func (s *session) Send(cmd protocol.Command) error {
	s.mu.RLock()
	links := slices.Clone(s.files)
	s.mu.RUnlock()
	for _, l := range links {
		if !l.Closed() {
			return l.Send(cmd)
		}
	}
	return ErrNoLink
}

// FileLinks returns the open file links, main first.
func (s *session) FileLinks() []*Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return openLinks(s.files)
}

// FrameLink returns the link live frames go out on.
func (s *session) FrameLink() *Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.screens {
		if !l.Closed() {
			return l
		}
	}
	if s.screensWanted == 0 && !s.files[0].Closed() {
		return s.files[0]
	}
	return nil
}

// replaceMain swaps in a freshly joined main link.
func (s *session) replaceMain(l *Link) {
	s.mu.Lock()
	old := s.files[0]
	s.files[0] = l
	s.mu.Unlock()
	old.Close() //nolint:errcheck
}

// aux lists every link except the main one.
func (s *session) aux() []*Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Link, 0, len(s.files)-1+len(s.screens))
	out = append(out, s.files[1:]...)
	return append(out, s.screens...)
}

func (s *session) close() {
	s.mu.RLock()
	links := append(slices.Clone(s.files), s.screens...)
	s.mu.RUnlock()
	for _, l := range links {
		l.Close() //nolint:errcheck
	}
	s.cancel()
}
