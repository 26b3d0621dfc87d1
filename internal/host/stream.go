package host

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// idleCapturePoll is how often the capture loop looks for stream_start.
const idleCapturePoll = 100 * time.Millisecond

// captureLoop grabs and encodes frames at the configured rate while the
// viewer has the stream on. Settings are re-read every tick so
// set_stream_config applies without a restart.
func (m *Manager) captureLoop(ctx context.Context) error {
	frames := 0
	window := time.Now()
	for {
		st := m.settings.Stream()
		if !m.streaming.Load() {
			frames, window = 0, time.Now()
			if !sleepCtx(ctx, idleCapturePoll) {
				return nil
			}
			continue
		}

		start := time.Now()
		if err := m.captureFrame(st); err != nil {
			log.Printf("Capture: %v", err)
		} else {
			frames++
		}

		if elapsed := time.Since(window); elapsed >= m.timing.FPSLogInterval {
			fps := float64(frames) / elapsed.Seconds()
			if fps < 0.8*float64(st.FPS) {
				log.Printf("WARNING: %.1f fps, target %d (quality %d, %d dropped)", fps, st.FPS, m.encoder.Quality(), m.queue.Dropped())
			} else {
				log.Printf("Streaming %.1f fps (quality %d)", fps, m.encoder.Quality())
			}
			frames, window = 0, time.Now()
		}

		wait := time.Second/time.Duration(max(1, st.FPS)) - time.Since(start)
		if wait <= 0 {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if !sleepCtx(ctx, wait) {
			return nil
		}
	}
}

func (m *Manager) captureFrame(st protocol.StreamSettings) error {
	img, err := m.capturer.Capture()
	if err != nil {
		return err
	}
	frame, err := m.encoder.Encode(img, st, m.framesSinceStart.Load())
	if err != nil {
		return err
	}
	m.queue.Push(frame)
	m.framesSinceStart.Add(1)
	return nil
}

// sendLoop ships queued frames on the frame link. Repeated send failures
// end the session; the limits are relaxed right after a file transfer.
func (m *Manager) sendLoop(ctx context.Context, s *session) error {
	errs := 0
	for {
		frame, ok := m.queue.Pop(ctx, m.timing.IdlePing)
		if ctx.Err() != nil {
			return nil
		}
		recent := m.transfers.SinceLast() < m.timing.PostTransferWindow
		timeout, limit := m.timing.ScreenSendTimeout, m.timing.MaxSendErrors
		if recent {
			timeout, limit = m.timing.ScreenSendTimeoutAfterTransfer, m.timing.MaxSendErrorsAfterTransfer
		}

		l := s.FrameLink()
		if !ok {
			if m.streaming.Load() && l != nil {
				l.SendTimeout(&protocol.Ping{}, timeout) //nolint:errcheck
			}
			continue
		}

		var err error
		if l == nil {
			err = ErrNoLink
		} else {
			err = l.WriteBinary(frame, timeout)
		}
		if err == nil {
			errs = 0
			continue
		}
		errs++
		log.Printf("Frame send failed (%d/%d): %v", errs, limit, err)
		if errs > limit {
			m.streaming.Store(false)
			return fmt.Errorf("%w: %d consecutive frame send errors", ErrSessionEnded, errs)
		}
	}
}
