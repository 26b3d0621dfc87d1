package host

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// State is the transport manager's lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStabilizing
	StateActive
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStabilizing:
		return "stabilizing"
	case StateActive:
		return "active"
	}
	return "disconnected"
}

const sendQueueSize = 30

// Manager keeps the host joined to its relay room. It opens the main,
// file and screen links, runs the session tasks and reconnects with
// backoff whenever the session ends.
type Manager struct {
	settings  *Settings
	timing    Timing
	dial      Dialer
	capturer  Capturer
	injector  Injector
	reconnect *ReconnectPolicy

	queue     *SendQueue
	encoder   *FrameEncoder
	transfers *Transfers
	uploads   *Uploads
	monitors  *Monitors
	hostInfo  func() protocol.HostInfo

	state            atomic.Int32
	streaming        atomic.Bool
	resumeStream     atomic.Bool
	viewerConnected  atomic.Bool
	framesSinceStart atomic.Int64
	lastViewer       atomic.Int64 // unix nanos
	cur              atomic.Pointer[session]
}

type Option func(*Manager)

func WithDialer(d Dialer) Option { return func(m *Manager) { m.dial = d } }

func WithCapturer(c Capturer) Option { return func(m *Manager) { m.capturer = c } }

func WithInjector(i Injector) Option { return func(m *Manager) { m.injector = i } }

func WithTiming(t Timing) Option { return func(m *Manager) { m.timing = t } }

func WithReconnectPolicy(p *ReconnectPolicy) Option {
	return func(m *Manager) { m.reconnect = p }
}

func NewManager(settings *Settings, opts ...Option) *Manager {
	m := &Manager{
		settings:  settings,
		timing:    DefaultTiming(),
		dial:      DialWebSocket,
		reconnect: DefaultReconnectPolicy(),
		queue:     NewSendQueue(sendQueueSize),
		uploads:   NewUploads(),
		hostInfo:  sync.OnceValue(CollectHostInfo),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.capturer == nil {
		m.capturer = NewScreenCapturer()
	}
	if m.injector == nil {
		m.injector = NewSystemInjector()
	}
	cfg := settings.Snapshot()
	m.encoder = NewFrameEncoder(cfg.MaxFrameBytes())
	m.transfers = NewTransfers(cfg.ChunkSize, m.timing.FileWriteTimeout)
	m.monitors = NewMonitors(m.send)
	return m
}

func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(s State) {
	if State(m.state.Swap(int32(s))) != s {
		log.Printf("State: %s", s)
	}
}

// Streaming reports whether frames are being captured.
func (m *Manager) Streaming() bool { return m.streaming.Load() }

// send writes on the current session's main link.
func (m *Manager) send(cmd protocol.Command) error {
	s := m.cur.Load()
	if s == nil {
		return ErrNoLink
	}
	return s.Send(cmd)
}

// Run connects and serves sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	defer m.monitors.StopAll()
	defer m.setState(StateDisconnected)
	for {
		s, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("Connect failed: %v (retry in %s)", err, m.timing.NoLinkRetry)
			if !sleepCtx(ctx, m.timing.NoLinkRetry) {
				return nil
			}
			continue
		}
		m.reconnect.Reset()

		err = m.runSession(ctx, s)
		if ctx.Err() != nil {
			return nil
		}
		d := m.reconnect.Next()
		log.Printf("Session ended: %v (reconnect #%d in %s)", err, m.reconnect.Attempt(), d)
		if !sleepCtx(ctx, d) {
			return nil
		}
	}
}

// connect opens the main link first, then the extra file and screen links
// in parallel. A failed extra link only shrinks the session. Without a
// main link the first file link stands in for it.
func (m *Manager) connect(ctx context.Context) (*session, error) {
	m.setState(StateConnecting)
	cfg := m.settings.Snapshot()
	nFiles, nScreens := cfg.LinkCounts()

	files := make([]*Link, max(1, nFiles))
	screens := make([]*Link, nScreens)

	main, err := dialLink(ctx, m.dial, cfg.ControlURL(), protocol.RoleHost, 0, cfg, m.timing)
	if err != nil {
		log.Printf("Main link to %s: %v", cfg.ControlURL(), err)
	}
	files[0] = main

	streamURL := cfg.StreamingURL()
	var g errgroup.Group
	for i := 1; i < len(files); i++ {
		i := i
		g.Go(func() error {
			l, err := dialLink(ctx, m.dial, streamURL, protocol.RoleHostFile, i, cfg, m.timing)
			if err != nil {
				log.Printf("File link %d: %v", i, err)
				return nil
			}
			files[i] = l
			return nil
		})
	}
	for i := range screens {
		i := i
		g.Go(func() error {
			l, err := dialLink(ctx, m.dial, streamURL, protocol.RoleHostScreen, i, cfg, m.timing)
			if err != nil {
				log.Printf("Screen link %d: %v", i, err)
				return nil
			}
			screens[i] = l
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	files = compact(files)
	screens = compact(screens)
	if len(files) == 0 {
		for _, l := range screens {
			l.Close() //nolint:errcheck
		}
		return nil, ErrNoLink
	}
	if main == nil {
		log.Printf("Main link unavailable, using %s", files[0])
	}
	log.Printf("Connected: main %s, %d file links, %d screen links", files[0], len(files), len(screens))
	return newSession(ctx, files, screens, nScreens), nil
}

func compact(links []*Link) []*Link {
	out := links[:0]
	for _, l := range links {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

// runSession stabilizes the fresh links, runs the session tasks until one
// of them fails and tears everything down. In-flight downloads get a
// bounded drain before the links close.
func (m *Manager) runSession(ctx context.Context, s *session) error {
	m.cur.Store(s)
	defer m.cur.Store(nil)

	m.setState(StateStabilizing)
	m.viewerConnected.Store(false)
	m.touchViewer()
	for _, l := range s.aux() {
		s.readers.Add(1)
		go m.readAux(s, l)
	}
	if !sleepCtx(ctx, m.timing.Stabilize) {
		s.close()
		s.readers.Wait()
		return ctx.Err()
	}

	m.setState(StateActive)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.recv(gctx, s) })
	g.Go(func() error { return m.sendLoop(gctx, s) })
	g.Go(func() error { return m.captureLoop(gctx) })
	g.Go(func() error { return m.checkLoop(gctx, s) })
	g.Go(func() error { return m.viewerWatchdog(gctx) })

	<-gctx.Done()
	m.streaming.Store(false)
	if m.transfers.Active() {
		log.Printf("Waiting for file transfer to finish")
		if !m.transfers.WaitIdle(ctx, m.timing.TransferDrain) {
			log.Printf("File transfer still running, closing links")
		}
	}
	s.close()
	err := g.Wait()
	s.readers.Wait()
	m.queue.Purge()
	m.setState(StateDisconnected)
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// recv reads commands from the main link. The first failure shortly after
// connecting is answered with one rejoin.
func (m *Manager) recv(ctx context.Context, s *session) error {
	for {
		l := s.Main()
		typ, data, err := l.Read()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if m.rejoinOnce(ctx, s, err) {
				continue
			}
			return fmt.Errorf("%w: main link: %v", ErrSessionEnded, err)
		}
		if typ == websocket.TextMessage {
			m.handleText(s, data)
		}
	}
}

func (m *Manager) rejoinOnce(ctx context.Context, s *session, cause error) bool {
	if time.Since(s.started) > m.timing.GraceWindow || !s.graceUsed.CompareAndSwap(false, true) {
		return false
	}
	log.Printf("Main link dropped early (%v), rejoining", cause)
	cfg := m.settings.Snapshot()
	l, err := dialLink(ctx, m.dial, cfg.ControlURL(), protocol.RoleHost, 0, cfg, m.timing)
	if err != nil {
		log.Printf("Rejoin failed: %v", err)
		return false
	}
	s.replaceMain(l)
	return true
}

// readAux drains a secondary link. The relay may promote it to main, so
// text commands arriving here are handled like those on the main link.
func (m *Manager) readAux(s *session, l *Link) {
	defer s.readers.Done()
	for {
		typ, data, err := l.Read()
		if err != nil {
			if !l.Closed() {
				log.Printf("%s closed: %v", l, err)
				l.Close() //nolint:errcheck
			}
			return
		}
		if typ == websocket.TextMessage {
			m.handleText(s, data)
		}
	}
}

// checkLoop pings the relay on the main link. Checks pause while a
// download runs and are relaxed right after one.
func (m *Manager) checkLoop(ctx context.Context, s *session) error {
	interval := m.timing.CheckInterval
	for {
		if !sleepCtx(ctx, interval) {
			return nil
		}
		since := m.transfers.SinceLast()
		interval = m.timing.CheckInterval
		if since < m.timing.PostTransferWindow {
			interval = m.timing.CheckIntervalAfterTransfer
		}
		if m.transfers.Active() {
			continue
		}
		main := s.Main()
		if main.Closed() {
			return fmt.Errorf("%w: main link closed", ErrSessionEnded)
		}
		timeout := m.timing.PingTimeout
		if since < m.timing.PingTolerance {
			timeout = m.timing.PingTolerance
		}
		if err := main.SendTimeout(&protocol.Ping{}, timeout); err != nil {
			return fmt.Errorf("%w: ping: %v", ErrSessionEnded, err)
		}
	}
}

// viewerWatchdog stops the stream when the viewer went quiet.
func (m *Manager) viewerWatchdog(ctx context.Context) error {
	t := time.NewTicker(m.timing.ViewerTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if m.transfers.Active() {
			m.touchViewer()
			continue
		}
		if !m.streaming.Load() {
			continue
		}
		if idle := time.Since(time.Unix(0, m.lastViewer.Load())); idle > m.timing.ViewerTimeout {
			log.Printf("No viewer message for %s, stopping stream", idle.Round(time.Second))
			m.stopStream()
			m.viewerConnected.Store(false)
		}
	}
}

func (m *Manager) touchViewer() {
	m.lastViewer.Store(time.Now().UnixNano())
}

func (m *Manager) stopStream() {
	m.streaming.Store(false)
	m.queue.Purge()
}

// sleepCtx waits d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
