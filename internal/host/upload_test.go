package host

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

func chunkMsg(id string, i int, data []byte) *protocol.FileUploadChunk {
	return &protocol.FileUploadChunk{UploadID: id, Index: i, Data: base64.StdEncoding.EncodeToString(data)}
}

func TestUploadOutOfOrderAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("0123456789"), 25) // 250 bytes
	u := NewUploads()
	_, err := u.Open(&protocol.FileUploadInfo{UploadID: "u1", Path: dir, Name: "f.txt", Size: 250, ChunkSize: 100, TotalChunks: 3})
	if err != nil {
		t.Fatal(err)
	}

	order := []int{2, 0, 0, 2}
	for _, i := range order {
		end := min(len(data), (i+1)*100)
		res, err := u.Chunk(chunkMsg("u1", i, data[i*100:end]))
		if err != nil || res != nil {
			t.Fatalf("chunk %d: %v %v", i, res, err)
		}
	}
	res, err := u.Chunk(chunkMsg("u1", 1, data[100:200]))
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || !res.Success || res.UploadID != "u1" {
		t.Fatalf("result = %+v", res)
	}
	got, err := os.ReadFile(filepath.Join(dir, "f.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("uploaded content differs")
	}
	if _, err := os.Stat(filepath.Join(dir, "u1_f.txt")); !os.IsNotExist(err) {
		t.Fatal("temporary file left behind")
	}
	if u.Len() != 0 {
		t.Fatal("session not released")
	}
	if res, err := u.Chunk(chunkMsg("u1", 1, data[100:200])); res != nil || err != nil {
		t.Fatal("late chunk for a finished upload was not ignored")
	}
}

func TestUploadInvalidMetadata(t *testing.T) {
	u := NewUploads()
	if _, err := u.Open(&protocol.FileUploadInfo{UploadID: "x", Path: t.TempDir(), Name: "a", Size: 0, TotalChunks: 1}); err != ErrInvalidUpload {
		t.Fatalf("err = %v", err)
	}
}

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(content)) //nolint:errcheck
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestUploadFolderZipExtracts(t *testing.T) {
	dir := t.TempDir()
	archive := makeZip(t, map[string]string{"proj/readme.md": "hi", "proj/src/main.go": "package main"})
	u := NewUploads()
	_, err := u.Open(&protocol.FileUploadInfo{
		UploadID: "z1", Path: dir, Name: "proj.zip", Size: int64(len(archive)),
		ChunkSize: int64(len(archive)), TotalChunks: 1, Type: "folder",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := u.Chunk(chunkMsg("z1", 0, archive))
	if err != nil || res == nil {
		t.Fatalf("res %v err %v", res, err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "proj", "src", "main.go"))
	if err != nil || string(got) != "package main" {
		t.Fatalf("extracted %q, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "z1_proj.zip")); !os.IsNotExist(err) {
		t.Fatal("archive left behind")
	}
}

func TestExtractZipRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	os.WriteFile(archive, makeZip(t, map[string]string{"../outside.txt": "x"}), 0o644) //nolint:errcheck
	dest := filepath.Join(dir, "dest")
	if err := extractZip(archive, dest); err == nil {
		t.Fatal("escaping entry accepted")
	}
	if _, err := os.Stat(filepath.Join(dir, "outside.txt")); !os.IsNotExist(err) {
		t.Fatal("file written outside destination")
	}
}

func TestLegacyUpload(t *testing.T) {
	dir := t.TempDir()
	path, err := LegacyUpload(&protocol.FileUpload{Path: dir, Name: "../n.txt", Data: base64.StdEncoding.EncodeToString([]byte("hello"))})
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "n.txt") {
		t.Fatalf("path %s", path)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "hello" {
		t.Fatalf("content %q", got)
	}

	archive := makeZip(t, map[string]string{"d/x.txt": "x"})
	if _, err := LegacyUpload(&protocol.FileUpload{Path: dir, Name: "d.zip", Type: "folder", Data: base64.StdEncoding.EncodeToString(archive)}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "d", "x.txt")); err != nil {
		t.Fatal(err)
	}
}
