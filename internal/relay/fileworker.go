package relay

import (
	"context"
	"log"
	"time"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

type fileItem struct {
	data  []byte
	shard int // sender's conn_id
	end   bool
}

// fileWorker forwards FILE_DATA/FILE_END from host connections to viewer
// file connections. There is at most one per room; it is created on the
// first chunk and exits after FileIdleExit with nothing queued and no
// transfer in progress. ring and held belong to the worker goroutine.
type fileWorker struct {
	room  *Room
	queue chan fileItem

	ring     []fileItem // parked while no viewer file connection is open
	held     *fileItem  // undeliverable FILE_END, retried every tick
	lastData time.Time
	sent     int
}

// enqueueFile hands a chunk to the room's worker, starting one if needed.
// It blocks while the queue is full; chunks are never dropped here.
func (r *Room) enqueueFile(ctx context.Context, from *Connection, data []byte) error {
	item := fileItem{data: data, shard: from.ConnID, end: protocol.ClassifyBinary(data) == protocol.BinaryFileEnd}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	w := r.files
	if w == nil {
		w = &fileWorker{room: r, queue: make(chan fileItem, r.cfg.FileQueueSize), lastData: time.Now()}
		r.files = w
		go w.run()
	}
	if !item.end {
		r.transfer.Observe(len(data)-protocol.FileDataHeaderLen, time.Now())
	}
	r.pendingPuts++
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.pendingPuts--
		r.mu.Unlock()
	}()

	select {
	case w.queue <- item:
		return nil
	default:
	}
	log.Printf("[%s] File queue full (%d), %s waiting", r.ID, cap(w.queue), from)
	select {
	case w.queue <- item:
		return nil
	case <-r.ctx.Done():
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *fileWorker) run() {
	r := w.room
	log.Printf("[%s] File worker started", r.ID)
	defer func() { log.Printf("[%s] File worker stopped (%d items forwarded)", r.ID, w.sent) }()

	tick := time.NewTicker(r.cfg.FileRetryTick)
	defer tick.Stop()

	for {
		if w.held != nil {
			if !w.send(*w.held) {
				select {
				case <-r.ctx.Done():
					return
				case <-tick.C:
					continue
				}
			}
			item := *w.held
			w.held = nil
			w.delivered(item)
		}

		select {
		case <-r.ctx.Done():
			return
		case item := <-w.queue:
			w.lastData = time.Now()
			w.handle(item)
		case <-tick.C:
			w.flushFolderDone()
			if w.tryExit() {
				return
			}
		}
	}
}

func (w *fileWorker) handle(item fileItem) {
	if w.send(item) {
		w.delivered(item)
		return
	}
	if item.end {
		log.Printf("[%s] FILE_END held until a viewer file connection is available", w.room.ID)
		w.held = &item
		return
	}
	w.park(item)
}

// send replays parked chunks and then writes item to its target. It
// returns false when no target exists or a write failed.
func (w *fileWorker) send(item fileItem) bool {
	r := w.room
	for len(w.ring) > 0 {
		parked := w.ring[0]
		target := r.fileTarget(parked.shard)
		if target == nil || target.WriteBinary(parked.data, r.cfg.FileSendTimeout) != nil {
			return false
		}
		w.ring = w.ring[1:]
		w.sent++
		if len(w.ring) == 0 {
			log.Printf("[%s] Parked file data replayed", r.ID)
		}
	}
	target := r.fileTarget(item.shard)
	if target == nil {
		return false
	}
	if err := target.WriteBinary(item.data, r.cfg.FileSendTimeout); err != nil {
		log.Printf("[%s] File data to %s: %v", r.ID, target, err)
		return false
	}
	w.sent++
	return true
}

// park keeps the most recent PendingRingSize chunks for replay.
func (w *fileWorker) park(item fileItem) {
	w.ring = append(w.ring, item)
	if over := len(w.ring) - w.room.cfg.PendingRingSize; over > 0 {
		w.ring = append(w.ring[:0:0], w.ring[over:]...)
		log.Printf("[%s] Pending file buffer full, dropped %d oldest chunks", w.room.ID, over)
	}
}

func (w *fileWorker) delivered(item fileItem) {
	r := w.room
	if item.end {
		r.mu.Lock()
		finished := r.transfer.FileEnded()
		summary := r.transfer.Summary(time.Now())
		r.mu.Unlock()
		if finished {
			log.Printf("[%s] File transfer completed: %s", r.ID, summary)
		}
	}
	w.flushFolderDone()
}

// drained reports whether nothing is queued, parked, held or about to be
// queued. Caller holds room.mu.
func (w *fileWorker) drained() bool {
	return len(w.queue) == 0 && w.room.pendingPuts == 0 && w.held == nil && len(w.ring) == 0
}

// flushFolderDone delivers a deferred folder_done once every chunk queued
// before it has left the worker.
func (w *fileWorker) flushFolderDone() {
	r := w.room
	r.mu.Lock()
	if r.pendingFolderDone == nil || !w.drained() {
		r.mu.Unlock()
		return
	}
	data := r.pendingFolderDone
	r.pendingFolderDone = nil
	r.mu.Unlock()
	r.finishFolder(data)
}

// tryExit detaches the worker from the room when it has been idle long
// enough and no transfer is in progress.
func (w *fileWorker) tryExit() bool {
	r := w.room
	if time.Since(w.lastData) < r.cfg.FileIdleExit {
		return false
	}
	r.mu.Lock()
	if r.transfer.InProgress() || !w.drained() || r.files != w {
		r.mu.Unlock()
		return false
	}
	r.files = nil
	pending := r.pendingFolderDone
	r.pendingFolderDone = nil
	r.mu.Unlock()
	if pending != nil {
		r.finishFolder(pending)
	}
	return true
}

// fileTarget selects exactly one viewer connection for a chunk from the
// host connection with conn_id shard.
func (r *Room) fileTarget(shard int) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	files := openOf(r.conns[protocol.RoleViewerFile])
	if len(files) > 0 {
		if shard < 0 {
			shard = -shard
		}
		return files[shard%len(files)]
	}
	// Older viewers receive files on their single socket.
	for _, c := range r.conns[protocol.RoleViewer] {
		if !c.Closed() {
			return c
		}
	}
	return nil
}

// QueueLen reports how many chunks wait in the room's file queue.
func (r *Room) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.files == nil {
		return 0
	}
	return len(r.files.queue)
}
