package host

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strings"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// handleText applies one control message from the relay. Session and
// stream commands are handled in place; everything that may block runs in
// its own goroutine.
func (m *Manager) handleText(s *session, data []byte) {
	cmd, err := protocol.Decode(data)
	if err != nil {
		log.Printf("Ignoring message: %v", err)
		return
	}
	m.touchViewer()

	switch c := cmd.(type) {
	case *protocol.Error:
		lower := strings.ToLower(c.Message)
		if strings.Contains(lower, "access denied") || strings.Contains(lower, "wrong") {
			log.Printf("Access denied: %s (check room and password in the config file)", c.Message)
			return
		}
		log.Printf("Relay error: %s", c.Message)
	case *protocol.Ready:
		m.onReady(s)
	case *protocol.ViewerLeft:
		log.Printf("Viewer left")
		m.viewerConnected.Store(false)
		m.stopStream()
	case *protocol.StreamStart:
		log.Printf("Stream started")
		m.framesSinceStart.Store(0)
		m.streaming.Store(true)
	case *protocol.StreamStop:
		log.Printf("Stream stopped")
		m.streaming.Store(false)
	case *protocol.Ping:
		s.Send(&protocol.Pong{}) //nolint:errcheck
	case *protocol.Pong:
	case *protocol.Control:
		// Input is applied in arrival order.
		m.handleControl(c)
	case *protocol.FileDownloadCancel:
		m.cancelDownload(s, c)
	case *protocol.FileUploadInfo:
		// Registered before the reader takes the next message, so no chunk
		// can overtake it.
		if _, err := m.uploads.Open(c); err != nil {
			s.Send(uploadResult(c.UploadID, "", err)) //nolint:errcheck
		}
	default:
		go m.dispatch(s, cmd)
	}
}

// onReady greets a newly attached viewer with the current stream settings,
// host details and the root directory listing.
func (m *Manager) onReady(s *session) {
	if m.viewerConnected.Swap(true) {
		return
	}
	log.Printf("Viewer connected")
	m.streaming.Store(false)
	info := m.hostInfo()
	err := s.Send(&protocol.StreamConfigInfo{StreamSettings: m.settings.Stream(), Host: &info})
	if err != nil {
		log.Printf("Send stream config: %v", err)
	}
	go func() {
		if err := s.Send(ListDir("/")); err != nil {
			log.Printf("Send initial file list: %v", err)
		}
	}()
}

func (m *Manager) handleControl(c *protocol.Control) {
	scale := m.settings.Stream().Scale
	if err := m.injector.Inject(toScreen(*c, scale)); err != nil {
		log.Printf("Input: %v", err)
	}
}

func (m *Manager) cancelDownload(s *session, c *protocol.FileDownloadCancel) {
	found := false
	for _, id := range []string{c.DownloadID, c.FolderID} {
		if id != "" && m.transfers.Cancel(id) {
			found = true
		}
	}
	id := c.DownloadID
	if id == "" {
		id = c.FolderID
	}
	log.Printf("Cancel download %s (running: %v)", id, found)
	s.Send(&protocol.FileDownloadCancelled{DownloadID: id}) //nolint:errcheck
}

// dispatch runs one blocking command and sends its reply. A panic in a
// handler is logged and does not take the host down.
func (m *Manager) dispatch(s *session, cmd protocol.Command) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Command %s panicked: %v\n%s", cmd.Kind(), r, debug.Stack())
		}
	}()
	ctx := s.ctx

	var reply protocol.Command
	switch c := cmd.(type) {
	case *protocol.Terminal:
		reply = m.terminal(ctx, c.Data)
	case *protocol.FileList:
		reply = ListDir(c.Path)
	case *protocol.FileDownload:
		m.download(ctx, s, c)
	case *protocol.FileUpload:
		path, err := LegacyUpload(c)
		reply = uploadResult("", path, err)
	case *protocol.FileUploadChunk:
		res, err := m.uploads.Chunk(c)
		if err != nil {
			reply = uploadResult(c.UploadID, "", err)
		} else if res != nil {
			log.Printf("Upload complete: %s", res.Path)
			reply = res
		}
	case *protocol.FileDelete:
		reply = DeletePath(c.Path)
	case *protocol.FileEdit:
		reply = EditFile(c.Path, c.Content, c.Encoding)
	case *protocol.FileMonitor:
		if err := m.monitors.Toggle(c.Path, c.AutoDownload); err != nil {
			reply = &protocol.FileMonitorResult{Path: c.Path, Error: err.Error()}
		}
	case *protocol.Service:
		reply = ControlService(ctx, c.Action, c.Name)
	case *protocol.ProgramRun:
		reply = StartProgram(c)
	case *protocol.SetStreamConfig:
		st, changed, err := m.settings.UpdateStream(c)
		if err != nil {
			log.Printf("Save config: %v", err)
		}
		if changed {
			log.Printf("Stream config: quality %d, fps %d, scale %d", st.Quality, st.FPS, st.Scale)
		}
		reply = &protocol.StreamConfigUpdated{StreamSettings: st}
	default:
		log.Printf("Unhandled command: %s", cmd.Kind())
	}

	if reply == nil {
		return
	}
	if err := s.Send(reply); err != nil {
		log.Printf("Reply %s: %v", reply.Kind(), err)
	}
}

func uploadResult(id, path string, err error) *protocol.FileUploadResult {
	if err != nil {
		log.Printf("Upload failed: %v", err)
		return &protocol.FileUploadResult{OpResult: protocol.OpResult{Error: err.Error()}, UploadID: id}
	}
	return &protocol.FileUploadResult{OpResult: protocol.OpResult{Success: true, Path: path}, UploadID: id}
}

// terminal runs a shell line, or toggles a folder monitor for
// "monitor <path> [--auto]".
func (m *Manager) terminal(ctx context.Context, line string) *protocol.TerminalOut {
	if path, auto, ok := parseMonitorLine(line); ok {
		if err := m.monitors.Toggle(path, auto); err != nil {
			return &protocol.TerminalOut{Data: fmt.Sprintf("Monitor error: %v", err)}
		}
		if m.monitors.Watching(path) {
			return &protocol.TerminalOut{Data: "Monitoring: " + path}
		}
		return &protocol.TerminalOut{Data: "Stopped monitoring: " + path}
	}
	return &protocol.TerminalOut{Data: RunShell(ctx, line)}
}

// download pauses the live stream for the length of the transfer and
// resumes it once no download is left running.
func (m *Manager) download(ctx context.Context, s *session, req *protocol.FileDownload) {
	if m.streaming.Swap(false) {
		m.resumeStream.Store(true)
		m.queue.Purge()
	}
	m.transfers.Download(ctx, s, req)
	if !m.transfers.Active() && m.resumeStream.Swap(false) && ctx.Err() == nil {
		m.streaming.Store(true)
	}
}
