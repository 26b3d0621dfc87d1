package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/sizestr"
	"golang.org/x/sync/errgroup"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// Chunked mode limits.
const (
	minChunkedChunk     = 2 << 20
	defaultChunkedChunk = 8 << 20
)

// fileTransport is what the transfer engine needs from a session: the main
// link for control replies and the open file links for data.
type fileTransport interface {
	Send(cmd protocol.Command) error
	FileLinks() []*Link
}

// FileTransferSession is one file being sent. Folder members point at
// their folder so cancelling the folder stops the member.
type FileTransferSession struct {
	ID         string
	Path       string
	Size       int64
	ResumeFrom int64
	ChunkSize  int64

	parent    *FileTransferSession
	cancelled atomic.Bool
	sent      atomic.Int64
}

func (t *FileTransferSession) Cancel() { t.cancelled.Store(true) }

func (t *FileTransferSession) Cancelled() bool {
	return t.cancelled.Load() || (t.parent != nil && t.parent.Cancelled())
}

func (t *FileTransferSession) BytesSent() int64 { return t.sent.Load() }

// Transfers runs downloads and tracks them by id for cancellation.
type Transfers struct {
	ChunkSize    int64
	WriteTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*FileTransferSession

	inFlight atomic.Int32
	lastDone atomic.Int64 // unix nanos
}

func NewTransfers(chunkSize int64, writeTimeout time.Duration) *Transfers {
	if chunkSize <= 0 {
		chunkSize = DefaultConfig().ChunkSize
	}
	return &Transfers{
		ChunkSize:    chunkSize,
		WriteTimeout: writeTimeout,
		sessions:     make(map[string]*FileTransferSession),
	}
}

// Active reports whether a download is running.
func (tr *Transfers) Active() bool { return tr.inFlight.Load() > 0 }

// SinceLast returns the time since the last download finished, or a very
// long duration when there has been none.
func (tr *Transfers) SinceLast() time.Duration {
	last := tr.lastDone.Load()
	if last == 0 {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(time.Unix(0, last))
}

// WaitIdle blocks until no download runs, ctx is done or timeout passes.
func (tr *Transfers) WaitIdle(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for tr.Active() {
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return true
}

// Cancel flags the transfer (file or folder) with id. It reports whether
// one was running.
func (tr *Transfers) Cancel(id string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	s, ok := tr.sessions[id]
	if ok {
		s.Cancel()
	}
	return ok
}

func (tr *Transfers) register(s *FileTransferSession) {
	tr.mu.Lock()
	tr.sessions[s.ID] = s
	tr.mu.Unlock()
}

func (tr *Transfers) unregister(s *FileTransferSession) {
	tr.mu.Lock()
	delete(tr.sessions, s.ID)
	tr.mu.Unlock()
}

func (tr *Transfers) begin() {
	tr.inFlight.Add(1)
}

func (tr *Transfers) end() {
	tr.lastDone.Store(time.Now().UnixNano())
	tr.inFlight.Add(-1)
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Download serves one file_download request.
func (tr *Transfers) Download(ctx context.Context, t fileTransport, req *protocol.FileDownload) {
	tr.begin()
	defer tr.end()

	id := req.DownloadID
	if id == "" {
		id = newID("dl_")
	}
	path, err := filepath.Abs(req.Path)
	if err != nil {
		path = req.Path
	}
	name := filepath.Base(path)

	info, err := checkReadable(path)
	if err != nil {
		log.Printf("Download %s refused: %v", path, err)
		t.Send(&protocol.FileDownloadError{Error: err.Error(), DownloadID: id, Name: name}) //nolint:errcheck
		return
	}

	if info.IsDir() {
		chunk := tr.ChunkSize
		if req.Chunked {
			chunk = chunkedSize(req.ChunkSize)
		}
		if err := tr.Folder(ctx, t, path, chunk); err != nil {
			log.Printf("Folder download %s failed: %v", path, err)
			t.Send(&protocol.FileDownloadResult{Error: err.Error()}) //nolint:errcheck
		}
		return
	}

	s := &FileTransferSession{ID: id, Path: path, Size: info.Size(), ChunkSize: tr.ChunkSize}
	// Resuming at the end leaves only FILE_END to send.
	if req.ResumeFrom > 0 && req.ResumeFrom <= s.Size {
		s.ResumeFrom = req.ResumeFrom
	}
	tr.register(s)
	defer tr.unregister(s)

	start := time.Now()
	if req.Chunked {
		s.ChunkSize = chunkedSize(req.ChunkSize)
		err = tr.sendChunked(ctx, t, s, max(1, req.ConnCount))
	} else {
		err = tr.sendParts(ctx, t, s)
	}
	switch {
	case errors.Is(err, ErrCancelled):
		log.Printf("Download cancelled: %s after %s", name, sizestr.ToString(s.BytesSent()))
	case err != nil:
		log.Printf("Download %s failed: %v", name, err)
		t.Send(&protocol.FileDownloadError{Error: err.Error(), DownloadID: id, Name: name}) //nolint:errcheck
	default:
		log.Printf("Download complete: %s (%s in %s)", name, sizestr.ToString(s.BytesSent()), time.Since(start).Round(time.Millisecond))
	}
}

// checkReadable fails fast when path cannot be read, before any data is
// announced.
func checkReadable(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		if _, err := os.ReadDir(path); err != nil {
			return nil, fmt.Errorf("Permission denied: Cannot access '%s'. %v", path, err)
		}
		return info, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Permission denied: Cannot access '%s'. %v", path, err)
	}
	defer f.Close()
	var one [1]byte
	if _, err := f.Read(one[:]); err != nil && err != io.EOF {
		return nil, fmt.Errorf("Permission denied: Cannot access '%s'. %v", path, err)
	}
	return info, nil
}

func chunkedSize(requested int64) int64 {
	if requested <= 0 {
		return defaultChunkedChunk
	}
	return max(minChunkedChunk, requested)
}

// sendParts splits the remaining bytes into one contiguous range per file
// link and streams every range concurrently. FILE_END follows on the
// first link once all ranges are out.
func (tr *Transfers) sendParts(ctx context.Context, t fileTransport, s *FileTransferSession) error {
	links := t.FileLinks()
	if len(links) == 0 {
		return ErrNoLink
	}
	err := t.Send(&protocol.FileDownloadStart{
		DownloadID: s.ID,
		Name:       filepath.Base(s.Path),
		Size:       s.Size,
		FilePath:   s.Path,
		FileName:   filepath.Base(s.Path),
		ResumeFrom: s.ResumeFrom,
	})
	if err != nil {
		return err
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	remaining := s.Size - s.ResumeFrom
	partSize := max(s.ChunkSize, (remaining+int64(len(links))-1)/int64(len(links)))

	g, gctx := errgroup.WithContext(ctx)
	for i, l := range links {
		l := l
		start := s.ResumeFrom + int64(i)*partSize
		if start >= s.Size {
			break
		}
		end := min(start+partSize, s.Size)
		g.Go(func() error {
			return tr.sendRange(gctx, l, f, s, start, end)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if s.Cancelled() {
		return ErrCancelled
	}
	return links[0].WriteBinary(protocol.FileEnd(), tr.WriteTimeout)
}

// sendRange writes [start, end) of f on one link in ChunkSize pieces.
func (tr *Transfers) sendRange(ctx context.Context, l *Link, f io.ReaderAt, s *FileTransferSession, start, end int64) error {
	buf := make([]byte, 0, protocol.FileDataHeaderLen+int(min(s.ChunkSize, end-start)))
	for off := start; off < end; {
		if s.Cancelled() {
			return ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(s.ChunkSize, end-off)
		msg, err := readChunk(buf, f, off, n)
		if err != nil {
			return err
		}
		buf = msg
		if err := l.WriteBinary(msg, tr.WriteTimeout); err != nil {
			return err
		}
		s.sent.Add(n)
		off += n
	}
	return nil
}

// readChunk reads n bytes at off into a FILE_DATA message reusing buf.
func readChunk(buf []byte, f io.ReaderAt, off, n int64) ([]byte, error) {
	msg := protocol.AppendFileData(buf[:0], off, nil)
	hdr := len(msg)
	msg = slices.Grow(msg, int(n))[:hdr+int(n)]
	if got, err := f.ReadAt(msg[hdr:], off); got < int(n) {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read at %d: got %d of %d bytes: %w", off, got, n, err)
	}
	return msg, nil
}

// sendChunked announces the file with start and info messages and deals
// fixed-size chunks round-robin over up to connCount links. Each batch
// hands every link its chunks in offset order.
func (tr *Transfers) sendChunked(ctx context.Context, t fileTransport, s *FileTransferSession, connCount int) error {
	links := t.FileLinks()
	if len(links) == 0 {
		return ErrNoLink
	}
	links = links[:min(connCount, len(links))]

	name := filepath.Base(s.Path)
	total := (s.Size - s.ResumeFrom + s.ChunkSize - 1) / s.ChunkSize
	err := t.Send(&protocol.FileDownloadStart{
		DownloadID:  s.ID,
		FilePath:    s.Path,
		FileName:    name,
		FileSize:    s.Size,
		Type:        "file",
		ChunkSize:   s.ChunkSize,
		TotalChunks: total,
		ResumeFrom:  s.ResumeFrom,
	})
	if err != nil {
		return err
	}
	t.Send(&protocol.FileDownloadInfo{ //nolint:errcheck
		DownloadID:  s.ID,
		Path:        s.Path,
		Type:        "file",
		Name:        name,
		Size:        s.Size,
		ChunkSize:   s.ChunkSize,
		TotalChunks: total,
		ResumeFrom:  s.ResumeFrom,
	})

	f, err := os.Open(s.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	batch := min(4, 2*len(links))
	offsets := make([]int64, 0, total)
	for off := s.ResumeFrom; off < s.Size; off += s.ChunkSize {
		offsets = append(offsets, off)
	}
	for b := 0; b < len(offsets); b += batch {
		if s.Cancelled() {
			return ErrCancelled
		}
		perLink := make([][]int64, len(links))
		for j, off := range offsets[b:min(b+batch, len(offsets))] {
			k := (b + j) % len(links)
			perLink[k] = append(perLink[k], off)
		}
		g, gctx := errgroup.WithContext(ctx)
		for k, offs := range perLink {
			k, offs := k, offs
			if len(offs) == 0 {
				continue
			}
			g.Go(func() error {
				for _, off := range offs {
					if err := tr.sendRange(gctx, links[k], f, s, off, min(off+s.ChunkSize, s.Size)); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	if s.Cancelled() {
		return ErrCancelled
	}
	return links[0].WriteBinary(protocol.FileEnd(), tr.WriteTimeout)
}

type folderEntry struct {
	path string
	size int64
}

// Folder streams every regular file under root without archiving it:
// folder_begin, then per file a file_download_start, its chunks and a
// FILE_END, then folder_done. Empty files get FILE_END only.
func (tr *Transfers) Folder(ctx context.Context, t fileTransport, root string, chunkSize int64) error {
	folder := &FileTransferSession{ID: newID("fd_"), Path: root, ChunkSize: chunkSize}
	name := filepath.Base(root)

	if _, err := os.ReadDir(root); err != nil {
		msg := fmt.Sprintf("Permission denied: Cannot read directory '%s'. %v", root, err)
		return t.Send(&protocol.FileDownloadError{Error: msg, DownloadID: folder.ID, Name: name})
	}
	tr.register(folder)
	defer tr.unregister(folder)

	var entries []folderEntry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped.
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		var size int64
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		entries = append(entries, folderEntry{path: p, size: size})
		folder.Size += size
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("Folder %s: %d files, %s", name, len(entries), sizestr.ToString(folder.Size))

	err = t.Send(&protocol.FileDownloadFolderBegin{
		FolderID:   folder.ID,
		Name:       name,
		TotalFiles: len(entries),
		TotalBytes: folder.Size,
	})
	if err != nil {
		return err
	}

	for _, e := range entries {
		if folder.Cancelled() {
			log.Printf("Folder download cancelled: %s", folder.ID)
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s := &FileTransferSession{ID: newID("dl_"), Path: e.path, Size: e.size, ChunkSize: chunkSize, parent: folder}
		tr.register(s)
		err := tr.sendFolderFile(ctx, t, s)
		tr.unregister(s)
		folder.sent.Add(s.BytesSent())
		if errors.Is(err, ErrNoLink) {
			return err
		}
		if err != nil && !errors.Is(err, ErrCancelled) && ctx.Err() == nil {
			log.Printf("Folder member %s: %v", e.path, err)
			t.Send(&protocol.FileDownloadError{ //nolint:errcheck
				Error:      err.Error(),
				DownloadID: s.ID,
				Name:       filepath.Base(e.path),
			})
		}
	}

	log.Printf("Folder transfer finished: %s (%s)", name, sizestr.ToString(folder.BytesSent()))
	return t.Send(&protocol.FileDownloadFolderDone{FolderID: folder.ID})
}

// sendFolderFile sends one folder member sequentially, rotating chunks
// over the file links and retrying a failed chunk once on the next link.
// FILE_END only follows a member that went out whole; a cancelled member
// returns ErrCancelled without it.
func (tr *Transfers) sendFolderFile(ctx context.Context, t fileTransport, s *FileTransferSession) error {
	links := t.FileLinks()
	if len(links) == 0 {
		return ErrNoLink
	}
	name := filepath.Base(s.Path)
	err := links[0].Send(&protocol.FileDownloadStart{
		DownloadID: s.ID,
		Name:       name,
		FilePath:   s.Path,
		FileName:   name,
		FileSize:   s.Size,
	})
	if err != nil {
		return err
	}
	if s.Size == 0 {
		return links[0].WriteBinary(protocol.FileEnd(), tr.WriteTimeout)
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 0, protocol.FileDataHeaderLen+int(min(s.ChunkSize, s.Size)))
	for i, off := 0, int64(0); off < s.Size; i++ {
		if s.Cancelled() {
			return ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(s.ChunkSize, s.Size-off)
		msg, err := readChunk(buf, f, off, n)
		if err != nil {
			return err
		}
		buf = msg
		if err := links[i%len(links)].WriteBinary(msg, tr.WriteTimeout); err != nil {
			if len(links) == 1 {
				return err
			}
			if err := links[(i+1)%len(links)].WriteBinary(msg, tr.WriteTimeout); err != nil {
				return fmt.Errorf("chunk at %d: %w", off, err)
			}
		}
		s.sent.Add(n)
		off += n
	}
	return links[0].WriteBinary(protocol.FileEnd(), tr.WriteTimeout)
}
