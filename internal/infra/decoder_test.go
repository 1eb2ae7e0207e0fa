package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

func geom(w, h int, f domain.PixelFormat) domain.FramebufferGeometry {
	return domain.FramebufferGeometry{Width: w, Height: h, BytesPerPixel: f.BytesPerPixel(), Format: f}
}

func TestRawDecoder_Formats(t *testing.T) {
	tests := []struct {
		name   string
		format domain.PixelFormat
		raw    []byte
		want   []uint16
	}{
		{"gray8", domain.FormatGray8, []byte{0x00, 0x80, 0xff}, []uint16{0x0000, 0x8080, 0xffff}},
		{"gray16le", domain.FormatGray16LE, []byte{0x34, 0x12, 0xff, 0xff, 0, 0}, []uint16{0x1234, 0xffff, 0}},
		{"gray16be", domain.FormatGray16BE, []byte{0x12, 0x34, 0xff, 0xff, 0, 0}, []uint16{0x1234, 0xffff, 0}},
		{"rgb565le", domain.FormatRGB565LE, []byte{0xff, 0xff, 0, 0, 0x00, 0xf8}, []uint16{0xffff, 0, 19595}},
		{"bgra32", domain.FormatBGRA32, []byte{255, 255, 255, 255, 0, 0, 0, 255, 255, 0, 0, 255}, []uint16{0xffff, 0, 7471}},
		{"rgba32", domain.FormatRGBA32, []byte{255, 255, 255, 0, 0, 0, 0, 0, 255, 0, 0, 0}, []uint16{0xffff, 0, 19595}},
	}

	d := NewRawDecoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := d.Decode(tt.raw, geom(3, 1, tt.format))
			require.NoError(t, err)
			require.Equal(t, 3, img.Bounds().Dx())
			for x, want := range tt.want {
				assert.Equal(t, want, img.Gray16At(x, 0).Y, "pixel %d", x)
			}
		})
	}
}

func TestRawDecoder_RowMajor(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5, 6}
	img, err := NewRawDecoder().Decode(raw, geom(3, 2, domain.FormatGray8))
	require.NoError(t, err)

	assert.Equal(t, uint16(3*0x101), img.Gray16At(2, 0).Y)
	assert.Equal(t, uint16(4*0x101), img.Gray16At(0, 1).Y)
}

func TestRawDecoder_Errors(t *testing.T) {
	d := NewRawDecoder()
	tests := []struct {
		name string
		raw  []byte
		g    domain.FramebufferGeometry
	}{
		{"short buffer", make([]byte, 5), geom(3, 2, domain.FormatGray8)},
		{"long buffer", make([]byte, 7), geom(3, 2, domain.FormatGray8)},
		{"unknown format", make([]byte, 6), domain.FramebufferGeometry{Width: 3, Height: 2, BytesPerPixel: 1, Format: "yuv"}},
		{"bpp mismatch", make([]byte, 12), domain.FramebufferGeometry{Width: 3, Height: 2, BytesPerPixel: 2, Format: domain.FormatGray8}},
		{"zero size", nil, geom(0, 2, domain.FormatGray8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode(tt.raw, tt.g)
			assert.ErrorIs(t, err, domain.ErrDecode)
		})
	}
}
