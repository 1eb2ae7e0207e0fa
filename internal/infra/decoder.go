package infra

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// RawDecoder implements domain.Decoder for packed framebuffers (stride = width * bpp).
// All formats are widened to 16-bit intensity so narrow-range gray16 panels
// keep their precision until the levels curve is applied.
type RawDecoder struct{}

// NewRawDecoder creates a raw framebuffer decoder.
func NewRawDecoder() *RawDecoder {
	return &RawDecoder{}
}

// Decode converts raw bytes to a Gray16 image in device orientation.
func (d *RawDecoder) Decode(raw []byte, g domain.FramebufferGeometry) (*image.Gray16, error) {
	bpp := g.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("%w: unknown pixel format %q", domain.ErrDecode, g.Format)
	}
	if bpp != g.BytesPerPixel {
		return nil, fmt.Errorf("%w: format %s is %d bytes per pixel, geometry says %d",
			domain.ErrDecode, g.Format, bpp, g.BytesPerPixel)
	}
	if g.Width <= 0 || g.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", domain.ErrDecode, g.Width, g.Height)
	}
	if want := g.FrameSize(); len(raw) != want {
		return nil, fmt.Errorf("%w: got %d bytes, %dx%dx%d needs %d",
			domain.ErrDecode, len(raw), g.Width, g.Height, g.BytesPerPixel, want)
	}

	img := image.NewGray16(image.Rect(0, 0, g.Width, g.Height))
	n := g.Width * g.Height
	for i := 0; i < n; i++ {
		px := raw[i*bpp : (i+1)*bpp]
		v := sample(g.Format, px)
		img.Pix[2*i] = uint8(v >> 8)
		img.Pix[2*i+1] = uint8(v)
	}
	return img, nil
}

// sample returns the 16-bit intensity of one pixel.
func sample(f domain.PixelFormat, px []byte) uint16 {
	switch f {
	case domain.FormatGray8:
		return uint16(px[0]) * 0x101
	case domain.FormatGray16LE:
		return binary.LittleEndian.Uint16(px)
	case domain.FormatGray16BE:
		return binary.BigEndian.Uint16(px)
	case domain.FormatRGB565LE:
		v := binary.LittleEndian.Uint16(px)
		r := uint32(v>>11) & 0x1f
		g := uint32(v>>5) & 0x3f
		b := uint32(v) & 0x1f
		return luma(r*0xffff/0x1f, g*0xffff/0x3f, b*0xffff/0x1f)
	case domain.FormatBGRA32:
		return luma(uint32(px[2])*0x101, uint32(px[1])*0x101, uint32(px[0])*0x101)
	case domain.FormatRGBA32:
		return luma(uint32(px[0])*0x101, uint32(px[1])*0x101, uint32(px[2])*0x101)
	default:
		return 0
	}
}

// luma uses the same weights as color.Gray16Model.
func luma(r, g, b uint32) uint16 {
	return uint16((19595*r + 38470*g + 7471*b + 1<<15) >> 16)
}

// Ensure RawDecoder implements domain.Decoder.
var _ domain.Decoder = (*RawDecoder)(nil)
