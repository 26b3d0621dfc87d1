package host

import (
	"context"
	"sync"
	"time"
)

// SendQueue is a bounded frame queue for the live stream. When full, the
// oldest frame is evicted to make room for the new one.
type SendQueue struct {
	mu      sync.Mutex
	frames  [][]byte
	cap     int
	dropped int64
	notify  chan struct{}
}

func NewSendQueue(capacity int) *SendQueue {
	return &SendQueue{
		frames: make([][]byte, 0, capacity),
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// Push appends frame and reports whether an older frame was evicted.
func (q *SendQueue) Push(frame []byte) (evicted bool) {
	q.mu.Lock()
	if len(q.frames) >= q.cap {
		q.frames[0] = nil
		q.frames = q.frames[1:]
		q.dropped++
		evicted = true
	}
	q.frames = append(q.frames, frame)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

// Pop waits up to wait for a frame. It returns false on timeout or when
// ctx is done.
func (q *SendQueue) Pop(ctx context.Context, wait time.Duration) ([]byte, bool) {
	if f, ok := q.take(); ok {
		return f, true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-timer.C:
			return q.take()
		case <-q.notify:
			if f, ok := q.take(); ok {
				return f, true
			}
		}
	}
}

func (q *SendQueue) take() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return f, true
}

// Purge drops every queued frame and returns how many there were.
func (q *SendQueue) Purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.frames)
	q.frames = q.frames[:0]
	return n
}

func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped counts frames evicted by overflow.
func (q *SendQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
