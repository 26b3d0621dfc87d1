package relay

import (
	"context"
	"log"
	"time"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// RouteText forwards one JSON message from a joined connection. Malformed
// and unknown messages are logged and dropped; the connection stays open.
func (r *Room) RouteText(from *Connection, data []byte) {
	kind, err := protocol.Peek(data)
	if err != nil {
		log.Printf("[%s] Bad message from %s: %v", r.ID, from, err)
		return
	}
	switch kind.Route() {
	case protocol.RouteSession:
		// Already joined.
	case protocol.RouteMirror:
		r.mirror(from, kind, data)
	case protocol.RouteToHost:
		if from.Side() != protocol.SideViewer {
			return
		}
		r.toHost(kind, data)
	case protocol.RouteToViewer:
		if from.Side() != protocol.SideHost {
			return
		}
		r.toViewer(kind, data)
	default:
		log.Printf("[%s] Ignoring %q from %s: %v", r.ID, kind, from, protocol.ErrUnknownCommand)
	}
}

// mirror forwards ping, pong and ready to the opposite side.
func (r *Room) mirror(from *Connection, kind protocol.Kind, data []byte) {
	var targets []*Connection
	r.mu.Lock()
	switch from.Side() {
	case protocol.SideHost:
		if kind == protocol.KindPing {
			if m := r.main[protocol.SideViewer]; m != nil && !m.Closed() {
				targets = append(targets, m)
			}
		} else {
			targets = r.viewerBroadcast()
		}
	case protocol.SideViewer:
		if m := r.main[protocol.SideHost]; m != nil && !m.Closed() {
			targets = append(targets, m)
		}
	}
	r.mu.Unlock()

	for _, c := range targets {
		if err := c.WriteText(data, r.cfg.TextWriteTimeout); err != nil {
			log.Printf("[%s] %s to %s: %v", r.ID, kind, c, err)
		}
	}
}

func (r *Room) toHost(kind protocol.Kind, data []byte) {
	host := r.Main(protocol.SideHost)
	if host == nil {
		log.Printf("[%s] Cannot forward %q: %v", r.ID, kind, ErrNoHost)
		return
	}
	if err := host.WriteText(data, r.cfg.TextWriteTimeout); err != nil {
		log.Printf("[%s] Forward %q to host: %v", r.ID, kind, err)
		return
	}
	switch kind {
	case protocol.KindStreamStart, protocol.KindStreamStop, protocol.KindFileDownload:
		log.Printf("[%s] Forwarded %q to %s", r.ID, kind, host)
	}
}

func (r *Room) toViewer(kind protocol.Kind, data []byte) {
	now := time.Now()
	switch kind {
	case protocol.KindFileDownloadFolderBegin:
		id, total := "", int64(0)
		if cmd, err := protocol.Decode(data); err == nil {
			fb := cmd.(*protocol.FileDownloadFolderBegin)
			id, total = fb.FolderID, fb.TotalBytes
		}
		r.mu.Lock()
		r.transfer.BeginFolder(id, total, now)
		r.mu.Unlock()
		log.Printf("[%s] Folder transfer started (%d bytes declared)", r.ID, total)

	case protocol.KindFileDownloadStart:
		r.mu.Lock()
		r.transfer.BeginFile(now)
		r.mu.Unlock()
		log.Printf("[%s] File transfer started", r.ID)

	case protocol.KindFileDownloadError, protocol.KindFileDownloadCancelled:
		r.mu.Lock()
		if !r.transfer.Folder {
			r.transfer.Finish()
		}
		r.mu.Unlock()

	case protocol.KindFileDownloadFolderDone:
		if r.deferFolderDone(data) {
			log.Printf("[%s] Folder done queued until the file queue drains", r.ID)
			return
		}
		r.finishFolder(data)
		return
	}

	viewer := r.Main(protocol.SideViewer)
	if viewer == nil {
		log.Printf("[%s] Cannot forward %q: %v", r.ID, kind, ErrNoViewer)
		return
	}
	if err := viewer.WriteText(data, r.cfg.TextWriteTimeout); err != nil {
		log.Printf("[%s] Forward %q to viewer: %v", r.ID, kind, err)
	}
}

// deferFolderDone parks folder_done with the file worker when one is
// running. It returns false when there is nothing to wait for.
func (r *Room) deferFolderDone(data []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfer.Drain()
	if r.files == nil {
		return false
	}
	r.pendingFolderDone = data
	return true
}

// finishFolder delivers folder_done to the viewer main and closes the
// transfer.
func (r *Room) finishFolder(data []byte) {
	r.mu.Lock()
	summary := r.transfer.Summary(time.Now())
	r.transfer.Finish()
	r.mu.Unlock()

	viewer := r.Main(protocol.SideViewer)
	if viewer == nil {
		log.Printf("[%s] Folder done dropped: %v", r.ID, ErrNoViewer)
		return
	}
	if err := viewer.WriteText(data, r.cfg.TextWriteTimeout); err != nil {
		log.Printf("[%s] Folder done to viewer: %v", r.ID, err)
		return
	}
	log.Printf("[%s] Folder transfer completed: %s", r.ID, summary)
}

// RouteBinary dispatches a binary payload from a host connection: file
// traffic goes to the file worker, anything else is a screen frame.
// Viewers never send binary.
func (r *Room) RouteBinary(ctx context.Context, from *Connection, data []byte) error {
	if from.Side() != protocol.SideHost {
		return nil
	}
	switch protocol.ClassifyBinary(data) {
	case protocol.BinaryFileData, protocol.BinaryFileEnd:
		return r.enqueueFile(ctx, from, data)
	}
	r.offerFrame(data)
	return nil
}
