package host

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/avaropoint/deskrelay/internal/protocol"
)

// Quality floors for the first and second re-encode of an oversized frame.
const (
	firstRetryFloor  = 20
	secondRetryFloor = 15
	// Frames since stream start before quality may climb back.
	warmupFrames = 50
)

// FrameEncoder turns captured images into JPEG frames, lowering quality
// when frames exceed MaxBytes and raising it back toward the configured
// baseline once frames are comfortably small.
type FrameEncoder struct {
	MaxBytes int

	base    int
	quality int
	buf     bytes.Buffer
}

func NewFrameEncoder(maxBytes int) *FrameEncoder {
	return &FrameEncoder{MaxBytes: maxBytes}
}

// Quality is the level the next frame will be encoded at.
func (e *FrameEncoder) Quality() int { return e.quality }

// Reset restarts adaptation at the baseline.
func (e *FrameEncoder) Reset(base int) {
	e.base = base
	e.quality = base
}

// Encode scales img by s.Scale percent and encodes it. framesSinceStart
// gates the upward adjustment.
func (e *FrameEncoder) Encode(img image.Image, s protocol.StreamSettings, framesSinceStart int64) ([]byte, error) {
	if s.Quality != e.base || e.quality == 0 {
		e.Reset(s.Quality)
	}
	src := scaleImage(img, s.Scale)

	data, err := e.encode(src)
	if err != nil {
		return nil, err
	}
	switch {
	case len(data) > e.MaxBytes:
		e.quality = max(firstRetryFloor, e.quality-25)
		if data, err = e.encode(src); err != nil {
			return nil, err
		}
		if len(data) > e.MaxBytes {
			e.quality = max(secondRetryFloor, e.quality-15)
			if data, err = e.encode(src); err != nil {
				return nil, err
			}
		}
	case len(data)*10 < e.MaxBytes*6 && framesSinceStart > warmupFrames:
		e.quality = min(e.base, e.quality+2)
	}
	return data, nil
}

func (e *FrameEncoder) encode(img image.Image) ([]byte, error) {
	e.buf.Reset()
	if err := jpeg.Encode(&e.buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, err
	}
	return bytes.Clone(e.buf.Bytes()), nil
}

// scaleImage returns img resized to pct percent. 100 or more returns img.
func scaleImage(img image.Image, pct int) image.Image {
	if pct <= 0 || pct >= 100 {
		return img
	}
	b := img.Bounds()
	w := max(1, b.Dx()*pct/100)
	h := max(1, b.Dy()*pct/100)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
