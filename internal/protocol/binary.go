package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Binary payload tags. A binary message that starts with neither tag is an
// encoded screen frame.
var (
	TagFileData = []byte("FILE_DATA")
	TagFileEnd  = []byte("FILE_END")
)

// FileDataHeaderLen is the tag plus the 8-byte big-endian offset.
var FileDataHeaderLen = len(TagFileData) + 8

var ErrShortFileData = errors.New("FILE_DATA payload shorter than header")

// BinaryKind classifies a binary payload.
type BinaryKind int

const (
	BinaryFrame BinaryKind = iota
	BinaryFileData
	BinaryFileEnd
)

func (k BinaryKind) String() string {
	switch k {
	case BinaryFileData:
		return "file_data"
	case BinaryFileEnd:
		return "file_end"
	}
	return "frame"
}

// ClassifyBinary inspects the payload prefix.
func ClassifyBinary(data []byte) BinaryKind {
	switch {
	case bytes.HasPrefix(data, TagFileData):
		return BinaryFileData
	case bytes.HasPrefix(data, TagFileEnd):
		return BinaryFileEnd
	}
	return BinaryFrame
}

// IsFileTraffic reports whether data is a FILE_DATA or FILE_END message.
func IsFileTraffic(data []byte) bool {
	return ClassifyBinary(data) != BinaryFrame
}

// AppendFileData appends a FILE_DATA message for chunk at offset to dst.
func AppendFileData(dst []byte, offset int64, chunk []byte) []byte {
	dst = append(dst, TagFileData...)
	dst = binary.BigEndian.AppendUint64(dst, uint64(offset))
	return append(dst, chunk...)
}

// EncodeFileData builds a FILE_DATA message in a fresh buffer.
func EncodeFileData(offset int64, chunk []byte) []byte {
	return AppendFileData(make([]byte, 0, FileDataHeaderLen+len(chunk)), offset, chunk)
}

// FileEnd returns a FILE_END message.
func FileEnd() []byte {
	return append([]byte(nil), TagFileEnd...)
}

// DecodeFileData splits a FILE_DATA message into offset and chunk. The
// chunk aliases data.
func DecodeFileData(data []byte) (int64, []byte, error) {
	if !bytes.HasPrefix(data, TagFileData) || len(data) < FileDataHeaderLen {
		return 0, nil, ErrShortFileData
	}
	off := binary.BigEndian.Uint64(data[len(TagFileData):FileDataHeaderLen])
	return int64(off), data[FileDataHeaderLen:], nil
}
