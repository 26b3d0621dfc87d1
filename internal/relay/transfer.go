package relay

import (
	"fmt"
	"time"

	"github.com/jpillora/sizestr"
)

// TransferPhase is the relay's view of a room's file transfer.
type TransferPhase int

const (
	TransferIdle TransferPhase = iota
	TransferActive
	// Draining: the host has finished (folder_done seen) but chunks may
	// still be queued.
	TransferDraining
	TransferDone
)

func (p TransferPhase) String() string {
	switch p {
	case TransferActive:
		return "active"
	case TransferDraining:
		return "draining"
	case TransferDone:
		return "done"
	}
	return "idle"
}

// TransferState tracks one download as it passes through a room. It is
// guarded by the room mutex.
type TransferState struct {
	Phase         TransferPhase
	Folder        bool
	FolderID      string
	DeclaredBytes int64
	Forwarded     int64
	Files         int
	Started       time.Time
}

// InProgress reports whether idle timers should be suspended.
func (t *TransferState) InProgress() bool {
	return t.Phase == TransferActive || t.Phase == TransferDraining
}

// BeginFile records a file_download_start. Inside a folder it only counts
// the file.
func (t *TransferState) BeginFile(now time.Time) {
	if t.Folder && t.InProgress() {
		return
	}
	*t = TransferState{Phase: TransferActive, Started: now}
}

// BeginFolder records a file_download_folder_begin.
func (t *TransferState) BeginFolder(id string, totalBytes int64, now time.Time) {
	*t = TransferState{
		Phase:         TransferActive,
		Folder:        true,
		FolderID:      id,
		DeclaredBytes: totalBytes,
		Started:       now,
	}
}

// Observe counts bytes seen on a file connection, starting a transfer if
// data arrives without a preceding start command.
func (t *TransferState) Observe(n int, now time.Time) {
	if !t.InProgress() {
		*t = TransferState{Phase: TransferActive, Started: now}
	}
	t.Forwarded += int64(n)
}

// FileEnded records a delivered FILE_END. It returns true when that ends a
// single-file transfer.
func (t *TransferState) FileEnded() bool {
	t.Files++
	if t.Folder || t.Phase != TransferActive {
		return false
	}
	t.Phase = TransferDone
	return true
}

// Drain moves an active transfer to draining.
func (t *TransferState) Drain() {
	if t.Phase == TransferActive {
		t.Phase = TransferDraining
	}
}

// Finish marks the transfer done.
func (t *TransferState) Finish() {
	if t.InProgress() {
		t.Phase = TransferDone
	}
}

// Summary renders size, duration and throughput for the completion log.
func (t *TransferState) Summary(now time.Time) string {
	elapsed := now.Sub(t.Started)
	if elapsed < 100*time.Millisecond {
		elapsed = 100 * time.Millisecond
	}
	total := t.Forwarded
	if t.Folder && t.DeclaredBytes > 0 {
		total = t.DeclaredBytes
	}
	rate := int64(float64(total) / elapsed.Seconds())
	s := fmt.Sprintf("total %s in %s (%s/s)", sizestr.ToString(total), elapsed.Round(100*time.Millisecond), sizestr.ToString(rate))
	if t.Folder && t.DeclaredBytes > 0 && t.Forwarded < t.DeclaredBytes {
		s += fmt.Sprintf(", forwarded %s (%.1f%%)", sizestr.ToString(t.Forwarded), 100*float64(t.Forwarded)/float64(t.DeclaredBytes))
	}
	return s
}
