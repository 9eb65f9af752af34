// Package framebuffer decodes the header and pixel stream produced by the
// "framebuffer:" transport service.
package framebuffer

import (
	"encoding/binary"
	"io"

	"github.com/pg9182/adbkit/pkg/adb"
)

// HeaderSize is the length of the framebuffer header preceding pixel data.
const HeaderSize = 52

// oldHeaderVersion identifies the legacy, unsupported raw image layout.
const oldHeaderVersion = 16

// Header describes the pixel layout of a framebuffer capture.
type Header struct {
	Version     uint32
	BPP         uint32
	Size        uint32
	Width       uint32
	Height      uint32
	RedOffset   uint32
	RedLength   uint32
	BlueOffset  uint32
	BlueLength  uint32
	GreenOffset uint32
	GreenLength uint32
	AlphaOffset uint32
	AlphaLength uint32
}

// Format returns the pixel channel order derived from the header, one of
// "rgb", "rgba", "bgr", or "bgra".
func (h Header) Format() string {
	f := "rgb"
	if h.BlueOffset == 0 {
		f = "bgr"
	}
	if h.BPP == 32 || h.AlphaLength != 0 {
		f += "a"
	}
	return f
}

// DecodeHeader parses a HeaderSize-byte little-endian framebuffer header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, &adb.PrematureEOFError{Missing: HeaderSize - len(b)}
	}
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
	h := Header{
		Version:     u32(0),
		BPP:         u32(4),
		Size:        u32(8),
		Width:       u32(12),
		Height:      u32(16),
		RedOffset:   u32(20),
		RedLength:   u32(24),
		BlueOffset:  u32(28),
		BlueLength:  u32(32),
		GreenOffset: u32(36),
		GreenLength: u32(40),
		AlphaOffset: u32(44),
		AlphaLength: u32(48),
	}
	if h.Version == oldHeaderVersion {
		return Header{}, &adb.ConfigError{Reason: "old-style raw framebuffer images are not supported"}
	}
	return h, nil
}

// RGBTransform reads packed pixels in the layout described by h from r and
// rewrites them as tightly packed 24-bit RGB triples, dropping any alpha
// channel and reordering BGR source data.
type RGBTransform struct {
	r    io.Reader
	rPos int
	gPos int
	bPos int
	pix  int

	buf []byte // undigested tail shorter than one pixel
}

// NewRGBTransform wraps r, a framebuffer pixel stream matching h. h.BPP must
// be 24 or 32.
func NewRGBTransform(h Header, r io.Reader) (*RGBTransform, error) {
	if h.BPP != 24 && h.BPP != 32 {
		return nil, &adb.ConfigError{Reason: "rgb transform requires 24 or 32 bpp source data"}
	}
	return &RGBTransform{
		r:    r,
		rPos: int(h.RedOffset / 8),
		gPos: int(h.GreenOffset / 8),
		bPos: int(h.BlueOffset / 8),
		pix:  int(h.BPP / 8),
	}, nil
}

// Read implements io.Reader, yielding RGB triples.
func (t *RGBTransform) Read(p []byte) (int, error) {
	if len(p) < 3 {
		return 0, nil
	}
	// Round the caller's buffer down to a whole number of output triples so
	// a partial triple is never handed back.
	want := (len(p) / 3) * t.pix
	if want == 0 {
		want = t.pix
	}
	raw := make([]byte, want)
	n, err := t.r.Read(raw)
	data := append(t.buf, raw[:n]...)

	out := 0
	src := 0
	for len(data)-src >= t.pix {
		p[out] = data[src+t.rPos]
		p[out+1] = data[src+t.gPos]
		p[out+2] = data[src+t.bPos]
		out += 3
		src += t.pix
	}
	t.buf = append(t.buf[:0], data[src:]...)

	if out == 0 && err == nil {
		return 0, nil
	}
	return out, err
}
