package host

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// ListDir lists path for the file browser: directories first, then files,
// each group sorted by name ignoring case.
func ListDir(path string) *protocol.FileListResult {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return &protocol.FileListResult{Path: path, Error: err.Error()}
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return &protocol.FileListResult{Path: abs, Error: err.Error()}
	}

	items := make([]protocol.FileItem, 0, len(entries))
	for _, e := range entries {
		item := protocol.FileItem{Name: e.Name(), Type: "file"}
		info, err := os.Stat(filepath.Join(abs, e.Name()))
		if err != nil {
			item.Error = "Permission denied"
			if e.IsDir() {
				item.Type = "dir"
			}
			items = append(items, item)
			continue
		}
		if info.IsDir() {
			item.Type = "dir"
		} else {
			item.Size = info.Size()
		}
		item.Modified = float64(info.ModTime().UnixNano()) / 1e9
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		di, dj := items[i].Type == "dir", items[j].Type == "dir"
		if di != dj {
			return di
		}
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return &protocol.FileListResult{Path: abs, Items: items}
}

// DeletePath removes a file or a whole directory tree.
func DeletePath(path string) *protocol.FileDeleteResult {
	abs, err := filepath.Abs(path)
	if err == nil {
		_, err = os.Lstat(abs)
	}
	if err == nil {
		err = os.RemoveAll(abs)
	}
	if err != nil {
		return &protocol.FileDeleteResult{OpResult: protocol.OpResult{Error: err.Error()}}
	}
	return &protocol.FileDeleteResult{OpResult: protocol.OpResult{Success: true, Path: abs}}
}

// EditFile overwrites path with content in the named text encoding
// (utf-8 when empty).
func EditFile(path, content, encoding string) *protocol.FileEditResult {
	abs, err := filepath.Abs(path)
	if err == nil {
		var data []byte
		data, err = encodeText(content, encoding)
		if err == nil {
			err = os.WriteFile(abs, data, 0o644)
		}
	}
	if err != nil {
		return &protocol.FileEditResult{OpResult: protocol.OpResult{Error: err.Error()}}
	}
	return &protocol.FileEditResult{OpResult: protocol.OpResult{Success: true, Path: abs}}
}

func encodeText(s, name string) ([]byte, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return []byte(s), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
	out, err := enc.NewEncoder().String(s)
	if err != nil {
		return nil, fmt.Errorf("encode as %s: %w", name, err)
	}
	return []byte(out), nil
}
