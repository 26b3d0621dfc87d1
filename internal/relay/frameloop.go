package relay

import (
	"log"
	"time"

	"github.com/jpillora/sizestr"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// offerFrame stores frame in the single-slot buffer, replacing any frame
// the loop has not picked up yet.
func (r *Room) offerFrame(frame []byte) {
	r.stats.recv.Add(1)
	r.stats.bytes.Add(int64(len(frame)))
	for {
		select {
		case r.frames <- frame:
			r.ensureFrameLoop()
			return
		default:
		}
		select {
		case <-r.frames:
			r.stats.skip.Add(1)
		default:
		}
	}
}

// ensureFrameLoop starts the frame loop unless one is already running.
func (r *Room) ensureFrameLoop() {
	r.mu.Lock()
	if r.closed || r.framesRunning {
		r.mu.Unlock()
		return
	}
	r.framesRunning = true
	r.mu.Unlock()
	go r.runFrames()
}

// runFrames fans frames out to viewer screen connections until the room
// closes, the host side empties, or no frame arrives for FrameIdleStop
// while no transfer is in progress.
func (r *Room) runFrames() {
	defer func() {
		r.mu.Lock()
		r.framesRunning = false
		r.mu.Unlock()
		log.Printf("[%s] Frame relay stopped", r.ID)
	}()
	log.Printf("[%s] Frame relay started", r.ID)

	idle := time.NewTimer(r.cfg.FrameIdleStop)
	defer idle.Stop()
	stats := time.NewTicker(r.cfg.StatsInterval)
	defer stats.Stop()
	last := time.Now()

	for {
		select {
		case <-r.ctx.Done():
			return
		case frame := <-r.frames:
			idle.Reset(r.cfg.FrameIdleStop)
			r.relayFrame(frame)
		case <-idle.C:
			if r.TransferInProgress() {
				idle.Reset(r.cfg.FrameIdleStop)
				continue
			}
			log.Printf("[%s] No frames for %s, host capture may be stuck", r.ID, r.cfg.FrameIdleStop)
			return
		case now := <-stats.C:
			r.logFrameStats(now.Sub(last))
			last = now
			r.mu.Lock()
			hostGone := !r.hasOpen(protocol.SideHost)
			r.mu.Unlock()
			if hostGone {
				return
			}
		}
	}
}

// relayFrame sends one frame to the next screen target, or drops it when
// it is oversized, nobody is watching, or the send budget is spent.
func (r *Room) relayFrame(frame []byte) {
	if len(frame) > r.cfg.MaxFrameSize {
		r.stats.skip.Add(1)
		return
	}
	target, n := r.nextFrameTarget()
	if target == nil {
		r.stats.skip.Add(1)
		return
	}
	if int(r.pendingFrames.Load()) >= frameBudget(n) {
		r.stats.skip.Add(1)
		return
	}
	r.pendingFrames.Add(1)
	go func() {
		defer r.pendingFrames.Add(-1)
		if err := target.WriteBinary(frame, r.cfg.FrameSendTimeout); err != nil {
			r.stats.skip.Add(1)
			return
		}
		r.stats.sent.Add(1)
	}()
}

// nextFrameTarget round-robins over open viewer screen connections,
// falling back to the viewer main unless it is a file connection.
func (r *Room) nextFrameTarget() (*Connection, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	screens := openOf(r.conns[protocol.RoleViewerScreen])
	if len(screens) > 0 {
		c := screens[r.frameRR%len(screens)]
		r.frameRR++
		return c, len(screens)
	}
	if m := r.main[protocol.SideViewer]; m != nil && !m.Closed() && !m.Role.IsFile() {
		return m, 1
	}
	return nil, 0
}

func (r *Room) logFrameStats(elapsed time.Duration) {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return
	}
	recv, sent, skip, bytes := r.stats.recv.Swap(0), r.stats.sent.Swap(0), r.stats.skip.Swap(0), r.stats.bytes.Swap(0)
	if recv == 0 && sent == 0 {
		return
	}
	log.Printf("[%s] Recv:%.0f Sent:%.0f Skip:%.0f FPS | %s/s | P:%d", r.ID,
		float64(recv)/secs, float64(sent)/secs, float64(skip)/secs,
		sizestr.ToString(int64(float64(bytes)/secs)), r.pendingFrames.Load())
}
