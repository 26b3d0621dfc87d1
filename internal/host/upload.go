package host

import (
	"archive/zip"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jpillora/sizestr"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

var ErrInvalidUpload = errors.New("Invalid upload metadata")

// UploadSession is one indexed upload. The temporary file is truncated to
// the declared size up front and chunks are written at index*ChunkSize, so
// they may arrive in any order and more than once.
type UploadSession struct {
	ID          string
	Dir         string
	Name        string
	Size        int64
	ChunkSize   int64
	TotalChunks int
	Folder      bool

	tmpPath string
	file    *os.File

	mu        sync.Mutex
	claimed   map[int]bool
	written   int
	finalized bool
}

// Uploads owns the open upload sessions.
type Uploads struct {
	mu       sync.Mutex
	sessions map[string]*UploadSession
}

func NewUploads() *Uploads {
	return &Uploads{sessions: make(map[string]*UploadSession)}
}

// Open validates info and pre-allocates the temporary file next to the
// destination.
func (u *Uploads) Open(info *protocol.FileUploadInfo) (*UploadSession, error) {
	if info.UploadID == "" || info.Size <= 0 || info.TotalChunks <= 0 {
		return nil, ErrInvalidUpload
	}
	chunk := info.ChunkSize
	if chunk <= 0 {
		chunk = 2 << 20
	}
	dir, err := filepath.Abs(info.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := filepath.Base(info.Name)
	tmp := filepath.Join(dir, info.UploadID+"_"+name)
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(info.Size); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("preallocate %s: %w", tmp, err)
	}

	s := &UploadSession{
		ID:          info.UploadID,
		Dir:         dir,
		Name:        name,
		Size:        info.Size,
		ChunkSize:   chunk,
		TotalChunks: info.TotalChunks,
		Folder:      info.Type == "folder" && strings.HasSuffix(name, ".zip"),
		tmpPath:     tmp,
		file:        f,
		claimed:     make(map[int]bool),
	}

	u.mu.Lock()
	if old := u.sessions[s.ID]; old != nil {
		old.abort()
	}
	u.sessions[s.ID] = s
	u.mu.Unlock()
	log.Printf("Upload %s: %s (%s, %d chunks)", s.ID, name, sizestr.ToString(s.Size), s.TotalChunks)
	return s, nil
}

// Chunk writes one chunk. It returns a result once the last missing index
// has been written and the upload was moved into place; otherwise nil.
// Chunks of unknown or finished uploads and repeated indices are ignored.
func (u *Uploads) Chunk(c *protocol.FileUploadChunk) (*protocol.FileUploadResult, error) {
	if c.UploadID == "" || c.Index < 0 || c.Data == "" {
		return nil, nil
	}
	u.mu.Lock()
	s := u.sessions[c.UploadID]
	u.mu.Unlock()
	if s == nil {
		log.Printf("Chunk %d for unknown upload %s ignored", c.Index, c.UploadID)
		return nil, nil
	}

	done, err := s.write(c.Index, c.Data)
	if err != nil || !done {
		return nil, err
	}

	u.mu.Lock()
	delete(u.sessions, s.ID)
	u.mu.Unlock()

	path, err := s.finalize()
	if err != nil {
		return nil, err
	}
	return &protocol.FileUploadResult{OpResult: protocol.OpResult{Success: true, Path: path}, UploadID: s.ID}, nil
}

// Len is the number of open uploads.
func (u *Uploads) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.sessions)
}

// write claims index, writes it and reports whether every index is now
// on disk.
func (s *UploadSession) write(index int, b64 string) (bool, error) {
	if index >= s.TotalChunks {
		return false, fmt.Errorf("chunk %d out of range (%d chunks)", index, s.TotalChunks)
	}
	s.mu.Lock()
	if s.claimed[index] || s.finalized {
		s.mu.Unlock()
		return false, nil
	}
	s.claimed[index] = true
	s.mu.Unlock()

	data, err := base64.StdEncoding.DecodeString(b64)
	if err == nil {
		_, err = s.file.WriteAt(data, int64(index)*s.ChunkSize)
	}
	if err != nil {
		s.mu.Lock()
		delete(s.claimed, index)
		s.mu.Unlock()
		return false, fmt.Errorf("upload %s chunk %d: %w", s.ID, index, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.written++
	if s.written < s.TotalChunks || s.finalized {
		return false, nil
	}
	s.finalized = true
	return true, nil
}

// finalize renames the temporary file into place, or extracts it when it
// is a folder archive.
func (s *UploadSession) finalize() (string, error) {
	if err := s.file.Close(); err != nil {
		return "", err
	}
	if s.Folder {
		defer os.Remove(s.tmpPath)
		if err := extractZip(s.tmpPath, s.Dir); err != nil {
			return "", err
		}
		return s.Dir, nil
	}
	dest := filepath.Join(s.Dir, s.Name)
	os.Remove(dest) //nolint:errcheck
	if err := os.Rename(s.tmpPath, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (s *UploadSession) abort() {
	s.mu.Lock()
	s.finalized = true
	s.mu.Unlock()
	s.file.Close()
	os.Remove(s.tmpPath)
}

// LegacyUpload stores a whole file sent in one message. A folder upload
// is a base64 zip extracted into path.
func LegacyUpload(req *protocol.FileUpload) (string, error) {
	dir, err := filepath.Abs(req.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := filepath.Base(req.Name)
	src := base64.NewDecoder(base64.StdEncoding, strings.NewReader(req.Data))

	if req.Type == "folder" && strings.HasSuffix(name, ".zip") {
		tmp, err := os.CreateTemp("", "upload-*.zip")
		if err != nil {
			return "", err
		}
		defer os.Remove(tmp.Name())
		_, err = io.Copy(tmp, src)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", err
		}
		return dir, extractZip(tmp.Name(), dir)
	}

	dest := filepath.Join(dir, name)
	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return dest, err
}

// extractZip unpacks archive into dir. Entries that would land outside
// dir are rejected.
func extractZip(archive, dir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	root := filepath.Clean(dir) + string(os.PathSeparator)
	for _, zf := range zr.File {
		target := filepath.Join(dir, zf.Name)
		if !strings.HasPrefix(target+string(os.PathSeparator), root) {
			return fmt.Errorf("zip entry %q escapes %s", zf.Name, dir)
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(zf, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(zf *zip.File, target string) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, zf.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}
