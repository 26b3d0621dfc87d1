package host

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

func writeRandomFile(t *testing.T, dir, name string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data) //nolint:errcheck
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return data
}

type piece struct {
	link int
	off  int64
	data []byte
}

// collect returns every FILE_DATA piece and the FILE_END count over all
// links of ft.
func collect(t *testing.T, ft *fakeTransport) ([]piece, int) {
	t.Helper()
	var pieces []piece
	ends := 0
	for i, c := range ft.conns {
		for _, m := range c.all() {
			if m.typ != websocket.BinaryMessage {
				continue
			}
			switch protocol.ClassifyBinary(m.data) {
			case protocol.BinaryFileData:
				off, chunk, err := protocol.DecodeFileData(m.data)
				if err != nil {
					t.Fatal(err)
				}
				pieces = append(pieces, piece{link: i, off: off, data: chunk})
			case protocol.BinaryFileEnd:
				ends++
			}
		}
	}
	return pieces, ends
}

// reassemble checks the pieces tile [from, len(want)) without gaps or
// overlaps and match want.
func reassemble(t *testing.T, pieces []piece, want []byte, from int64) {
	t.Helper()
	sorted := append([]piece(nil), pieces...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].off < sorted[j].off })
	next := from
	for _, p := range sorted {
		if p.off != next {
			t.Fatalf("piece at %d, expected %d", p.off, next)
		}
		if !bytes.Equal(p.data, want[p.off:p.off+int64(len(p.data))]) {
			t.Fatalf("piece at %d differs", p.off)
		}
		next += int64(len(p.data))
	}
	if next != int64(len(want)) {
		t.Fatalf("covered up to %d of %d", next, len(want))
	}
}

func TestDownloadSplitsAcrossLinks(t *testing.T) {
	dir := t.TempDir()
	want := writeRandomFile(t, dir, "big.bin", 10<<20)
	ft := newFakeTransport(4)
	tr := NewTransfers(2<<20, time.Second)

	tr.Download(context.Background(), ft, &protocol.FileDownload{Path: filepath.Join(dir, "big.bin"), DownloadID: "dl1"})

	pieces, ends := collect(t, ft)
	if ends != 1 {
		t.Fatalf("FILE_END sent %d times", ends)
	}
	reassemble(t, pieces, want, 0)
	used := map[int]bool{}
	for _, p := range pieces {
		used[p.link] = true
	}
	if len(used) != 4 {
		t.Fatalf("data went over %d links, want 4", len(used))
	}

	start, ok := findCommand[*protocol.FileDownloadStart](ft.conns[0].commands(t))
	if !ok {
		t.Fatal("no file_download_start")
	}
	if start.DownloadID != "dl1" || start.Name != "big.bin" || start.Size != 10<<20 {
		t.Fatalf("start = %+v", start)
	}
	if tr.Active() {
		t.Fatal("transfer still active")
	}
	if tr.SinceLast() > time.Minute {
		t.Fatal("last transfer time not recorded")
	}
}

func TestDownloadChunkedRoundRobin(t *testing.T) {
	dir := t.TempDir()
	want := writeRandomFile(t, dir, "c.bin", 7<<20)
	ft := newFakeTransport(4)
	tr := NewTransfers(16<<20, time.Second)

	tr.Download(context.Background(), ft, &protocol.FileDownload{
		Path: filepath.Join(dir, "c.bin"), Chunked: true, ConnCount: 3, ChunkSize: 1 << 20,
	})

	cmds := ft.conns[0].commands(t)
	start, ok := findCommand[*protocol.FileDownloadStart](cmds)
	if !ok {
		t.Fatal("no file_download_start")
	}
	if start.ChunkSize != 2<<20 || start.TotalChunks != 4 || start.FileSize != 7<<20 {
		t.Fatalf("start = %+v", start)
	}
	if _, ok := findCommand[*protocol.FileDownloadInfo](cmds); !ok {
		t.Fatal("no file_download_info")
	}

	pieces, ends := collect(t, ft)
	if ends != 1 {
		t.Fatalf("FILE_END sent %d times", ends)
	}
	reassemble(t, pieces, want, 0)
	last := map[int]int64{}
	for _, p := range pieces {
		if p.link == 3 {
			t.Fatal("link beyond conn_count used")
		}
		if prev, ok := last[p.link]; ok && p.off < prev {
			t.Fatalf("link %d sent offset %d after %d", p.link, p.off, prev)
		}
		last[p.link] = p.off
	}
}

func TestDownloadResume(t *testing.T) {
	dir := t.TempDir()
	want := writeRandomFile(t, dir, "r.bin", 5000)
	ft := newFakeTransport(2)
	tr := NewTransfers(1024, time.Second)

	tr.Download(context.Background(), ft, &protocol.FileDownload{Path: filepath.Join(dir, "r.bin"), ResumeFrom: 1000})

	start, _ := findCommand[*protocol.FileDownloadStart](ft.conns[0].commands(t))
	if start == nil || start.ResumeFrom != 1000 {
		t.Fatalf("start = %+v", start)
	}
	pieces, _ := collect(t, ft)
	reassemble(t, pieces, want, 1000)
}

func TestDownloadResumeAtEnd(t *testing.T) {
	dir := t.TempDir()
	writeRandomFile(t, dir, "done.bin", 4096)
	ft := newFakeTransport(2)
	tr := NewTransfers(1024, time.Second)

	tr.Download(context.Background(), ft, &protocol.FileDownload{Path: filepath.Join(dir, "done.bin"), ResumeFrom: 4096})

	start, _ := findCommand[*protocol.FileDownloadStart](ft.conns[0].commands(t))
	if start == nil || start.ResumeFrom != 4096 {
		t.Fatalf("start = %+v", start)
	}
	pieces, ends := collect(t, ft)
	if len(pieces) != 0 || ends != 1 {
		t.Fatalf("%d pieces, %d FILE_END; want only FILE_END", len(pieces), ends)
	}
}

func TestReadChunkShortRead(t *testing.T) {
	src := bytes.NewReader(make([]byte, 1500))
	if _, err := readChunk(nil, src, 1024, 1024); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want unexpected EOF", err)
	}
	msg, err := readChunk(nil, src, 0, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if _, chunk, _ := protocol.DecodeFileData(msg); len(chunk) != 1024 {
		t.Fatalf("chunk is %d bytes", len(chunk))
	}
}

func TestDownloadMissingFile(t *testing.T) {
	ft := newFakeTransport(1)
	tr := NewTransfers(1024, time.Second)
	tr.Download(context.Background(), ft, &protocol.FileDownload{Path: filepath.Join(t.TempDir(), "nope"), DownloadID: "x"})

	cmds := ft.conns[0].commands(t)
	e, ok := findCommand[*protocol.FileDownloadError](cmds)
	if !ok || e.DownloadID != "x" || e.Name != "nope" {
		t.Fatalf("got %v", cmds)
	}
	if _, ok := findCommand[*protocol.FileDownloadStart](cmds); ok {
		t.Fatal("start sent for a missing file")
	}
}

func TestDownloadCancel(t *testing.T) {
	dir := t.TempDir()
	writeRandomFile(t, dir, "slow.bin", 1<<20)
	ft := newFakeTransport(1)
	tr := NewTransfers(16<<10, time.Second)
	ft.conns[0].onWrite = func(typ int, data []byte) {
		if protocol.ClassifyBinary(data) == protocol.BinaryFileData {
			tr.Cancel("dl-c")
		}
	}

	tr.Download(context.Background(), ft, &protocol.FileDownload{Path: filepath.Join(dir, "slow.bin"), DownloadID: "dl-c"})

	pieces, ends := collect(t, ft)
	if ends != 0 {
		t.Fatal("FILE_END sent after cancel")
	}
	if len(pieces) != 1 {
		t.Fatalf("%d chunks sent after cancel", len(pieces))
	}
	if tr.Cancel("dl-c") {
		t.Fatal("cancelled transfer still registered")
	}
}

func TestDownloadFolder(t *testing.T) {
	root := filepath.Join(t.TempDir(), "docs")
	a := writeRandomFile(t, root, "a.txt", 3000)
	writeRandomFile(t, root, "empty.txt", 0)
	writeRandomFile(t, root, filepath.Join("sub", "b.bin"), 100)
	ft := newFakeTransport(1)
	tr := NewTransfers(1024, time.Second)

	tr.Download(context.Background(), ft, &protocol.FileDownload{Path: root})

	// Walk the single link in order: begin, per file start..FILE_END, done.
	var seq []string
	var aData []piece
	current := ""
	for _, m := range ft.conns[0].all() {
		if m.typ == websocket.TextMessage {
			cmd, err := protocol.Decode(m.data)
			if err != nil {
				t.Fatal(err)
			}
			switch c := cmd.(type) {
			case *protocol.FileDownloadFolderBegin:
				if c.TotalFiles != 3 || c.TotalBytes != 3100 || c.Name != "docs" {
					t.Fatalf("begin = %+v", c)
				}
				seq = append(seq, "begin")
			case *protocol.FileDownloadStart:
				current = c.FileName
				seq = append(seq, "start:"+c.FileName)
			case *protocol.FileDownloadFolderDone:
				seq = append(seq, "done")
			}
			continue
		}
		switch protocol.ClassifyBinary(m.data) {
		case protocol.BinaryFileEnd:
			seq = append(seq, "end:"+current)
		case protocol.BinaryFileData:
			if current == "a.txt" {
				off, chunk, _ := protocol.DecodeFileData(m.data)
				aData = append(aData, piece{off: off, data: chunk})
			}
		}
	}
	want := []string{"begin", "start:a.txt", "end:a.txt", "start:empty.txt", "end:empty.txt", "start:b.bin", "end:b.bin", "done"}
	if len(seq) != len(want) {
		t.Fatalf("sequence %v", seq)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("sequence %v, want %v", seq, want)
		}
	}
	reassemble(t, aData, a, 0)
}

func TestWaitIdle(t *testing.T) {
	tr := NewTransfers(0, time.Second)
	if tr.ChunkSize != DefaultConfig().ChunkSize {
		t.Fatalf("chunk size %d", tr.ChunkSize)
	}
	if !tr.WaitIdle(context.Background(), time.Millisecond) {
		t.Fatal("idle transfers reported busy")
	}
	tr.begin()
	if tr.WaitIdle(context.Background(), 150*time.Millisecond) {
		t.Fatal("busy transfers reported idle")
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		tr.end()
	}()
	if !tr.WaitIdle(context.Background(), 5*time.Second) {
		t.Fatal("did not see the transfer finish")
	}
}

func TestDownloadFolderReportsBrokenMember(t *testing.T) {
	root := filepath.Join(t.TempDir(), "docs")
	writeRandomFile(t, root, "a.bin", 3072)
	ft := newFakeTransport(3)
	// The sockets behind links 1 and 2 die without the links noticing yet.
	ft.conns[1].Close() //nolint:errcheck
	ft.conns[2].Close() //nolint:errcheck
	tr := NewTransfers(1024, time.Second)

	tr.Download(context.Background(), ft, &protocol.FileDownload{Path: root})

	pieces, ends := collect(t, ft)
	if len(pieces) != 1 || ends != 0 {
		t.Fatalf("%d pieces, %d FILE_END; truncated member must not end", len(pieces), ends)
	}
	cmds := ft.conns[0].commands(t)
	start, _ := findCommand[*protocol.FileDownloadStart](cmds)
	e, ok := findCommand[*protocol.FileDownloadError](cmds)
	if !ok || start == nil || e.DownloadID != start.DownloadID || e.Name != "a.bin" {
		t.Fatalf("error = %+v, start = %+v", e, start)
	}
	if _, ok := findCommand[*protocol.FileDownloadFolderDone](cmds); !ok {
		t.Fatal("folder_done missing")
	}
}
