package host

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// monitorSettle coalesces bursts of filesystem events into one report.
const monitorSettle = 500 * time.Millisecond

// Monitors watches folders for the file_monitor command. Each report
// lists the regular files in the folder; with auto download every file is
// sent inline and then removed.
type Monitors struct {
	send func(protocol.Command) error

	mu       sync.Mutex
	watchers map[string]*folderWatch
}

type folderWatch struct {
	path string
	auto bool
	w    *fsnotify.Watcher
	done chan struct{}
}

func NewMonitors(send func(protocol.Command) error) *Monitors {
	return &Monitors{send: send, watchers: make(map[string]*folderWatch)}
}

// Toggle starts watching path, or stops it when it is already watched.
func (m *Monitors) Toggle(path string, auto bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("Not a directory: %s", abs)
	}

	m.mu.Lock()
	if fw := m.watchers[abs]; fw != nil {
		delete(m.watchers, abs)
		m.mu.Unlock()
		fw.stop()
		log.Printf("Stopped monitoring %s", abs)
		return m.send(&protocol.FileMonitorResult{Path: abs, Stopped: true})
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if err := w.Add(abs); err != nil {
		m.mu.Unlock()
		w.Close()
		return err
	}
	fw := &folderWatch{path: abs, auto: auto, w: w, done: make(chan struct{})}
	m.watchers[abs] = fw
	m.mu.Unlock()

	log.Printf("Monitoring %s (auto download: %v)", abs, auto)
	go m.run(fw)
	m.check(fw)
	return nil
}

// StopAll ends every watch.
func (m *Monitors) StopAll() {
	m.mu.Lock()
	ws := m.watchers
	m.watchers = make(map[string]*folderWatch)
	m.mu.Unlock()
	for _, fw := range ws {
		fw.stop()
	}
}

// Watching reports whether path is monitored.
func (m *Monitors) Watching(path string) bool {
	abs, _ := filepath.Abs(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watchers[abs] != nil
}

func (fw *folderWatch) stop() {
	close(fw.done)
	fw.w.Close()
}

func (m *Monitors) run(fw *folderWatch) {
	var settle <-chan time.Time
	for {
		select {
		case <-fw.done:
			return
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) {
				settle = time.After(monitorSettle)
			}
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}
			log.Printf("Monitor %s: %v", fw.path, err)
		case <-settle:
			settle = nil
			m.check(fw)
		}
	}
}

// check reports the folder's files and, in auto mode, ships and removes
// each of them.
func (m *Monitors) check(fw *folderWatch) {
	entries, err := os.ReadDir(fw.path)
	if err != nil {
		log.Printf("Monitor check %s: %v", fw.path, err)
		return
	}
	var files []protocol.MonitoredFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, protocol.MonitoredFile{
			Name:     e.Name(),
			Path:     filepath.Join(fw.path, e.Name()),
			Size:     info.Size(),
			Modified: float64(info.ModTime().UnixNano()) / 1e9,
		})
	}
	if len(files) == 0 {
		return
	}
	if err := m.send(&protocol.FileMonitorResult{Path: fw.path, Files: files}); err != nil {
		return
	}
	if !fw.auto {
		return
	}
	for _, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			log.Printf("Monitor error for %s: %v", f.Name, err)
			continue
		}
		err = m.send(&protocol.FileDownloadResult{
			Path: f.Path,
			Type: "file",
			Name: f.Name,
			Data: base64.StdEncoding.EncodeToString(data),
		})
		if err != nil {
			log.Printf("Monitor error for %s: %v", f.Name, err)
			continue
		}
		os.Remove(f.Path) //nolint:errcheck
	}
}
