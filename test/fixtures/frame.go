package fixtures

import (
	"encoding/binary"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// Page is an upright page under construction.
type Page struct {
	*domain.Bitmap
}

// NewPage creates a white upright page.
func NewPage(width, height int) *Page {
	return &Page{Bitmap: domain.NewBitmap(width, height)}
}

// Fill paints the half-open rectangle with value v.
func (p *Page) Fill(r domain.Rect, v uint8) *Page {
	for y := max(r.Y0, 0); y < min(r.Y1, p.Height); y++ {
		for x := max(r.X0, 0); x < min(r.X1, p.Width); x++ {
			p.Set(x, y, v)
		}
	}
	return p
}

// SampleFunc maps an upright 8-bit intensity to the raw 16-bit sample the
// device would store for it.
type SampleFunc func(v uint8) uint16

// Widen is the identity mapping for full-range panels.
func Widen(v uint8) uint16 { return uint16(v) * 0x101 }

// NarrowBand maps 0..255 into [black, white] fractions of full scale, the
// way a narrow-range gray16 panel stores intensities.
func NarrowBand(black, white float64) SampleFunc {
	return func(v uint8) uint16 {
		f := black + (white-black)*float64(v)/255
		return uint16(f*0xffff + 0.5)
	}
}

// Encode lays the upright page out as raw device memory for geometry g,
// undoing rotation and flip. Only gray formats are supported.
func (p *Page) Encode(g domain.FramebufferGeometry, sample SampleFunc) []byte {
	if sample == nil {
		sample = Widen
	}
	w, h := g.Width, g.Height
	bpp := g.Format.BytesPerPixel()
	raw := make([]byte, w*h*bpp)

	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			sx, sy := deviceCoord(x, y, p.Width, w, h, g.Rotation, g.FlipHorizontal)
			off := (sy*w + sx) * bpp
			v := p.At(x, y)
			switch g.Format {
			case domain.FormatGray8:
				raw[off] = v
			case domain.FormatGray16LE:
				binary.LittleEndian.PutUint16(raw[off:], sample(v))
			case domain.FormatGray16BE:
				binary.BigEndian.PutUint16(raw[off:], sample(v))
			}
		}
	}
	return raw
}

// deviceCoord returns where upright pixel (x, y) lives in a w x h device frame.
func deviceCoord(x, y, uprightWidth, w, h, rotation int, flip bool) (int, int) {
	if flip {
		x = uprightWidth - 1 - x
	}
	switch rotation {
	case 90:
		return y, h - 1 - x
	case 180:
		return w - 1 - x, h - 1 - y
	case 270:
		return w - 1 - y, x
	default:
		return x, y
	}
}

// PlaceFrame builds a device exposing raw as the framebuffer of process pid,
// inside an anonymous mapping at base with the given header offset. A few
// unrelated mappings surround it.
func PlaceFrame(pid int, name string, base uint64, headerOffset uint64, raw []byte) *FakeDevice {
	size := headerOffset + uint64(len(raw))
	mem := make([]byte, size)
	copy(mem[headerOffset:], raw)

	return NewFakeDevice().
		AddProcess(1, "init", Mapping(0x10000, 0x1000, "/sbin/init")).
		AddProcess(pid, name,
			Mapping(0x10000, 0xa4c000, "/usr/bin/"+name),
			Mapping(base-0x1000, 0x1000, "/dev/fb0"),
			Mapping(base, size, ""),
			Mapping(base+size+0x10000, 0x21000, "[stack]"),
		).
		WriteMemory(pid, base, mem)
}
