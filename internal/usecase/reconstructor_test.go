package usecase

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/rmgrab/internal/domain"
	"github.com/eliteGoblin/rmgrab/internal/infra"
	"github.com/eliteGoblin/rmgrab/test/fixtures"
)

func newTestReconstructor(t *testing.T, levels Levels) *Reconstructor {
	t.Helper()
	r, err := NewReconstructor(infra.NewRawDecoder(), ReconstructorConfig{Levels: levels}, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestReconstructor_Orientation(t *testing.T) {
	// device frame, 3x2:
	//   1 2 3
	//   4 5 6
	raw := []byte{1, 2, 3, 4, 5, 6}

	tests := []struct {
		name     string
		rotation int
		flip     bool
		w, h     int
		want     []uint8
	}{
		{"0", 0, false, 3, 2, []uint8{1, 2, 3, 4, 5, 6}},
		{"0 flip", 0, true, 3, 2, []uint8{3, 2, 1, 6, 5, 4}},
		{"90", 90, false, 2, 3, []uint8{4, 1, 5, 2, 6, 3}},
		{"180", 180, false, 3, 2, []uint8{6, 5, 4, 3, 2, 1}},
		{"270", 270, false, 2, 3, []uint8{3, 6, 2, 5, 1, 4}},
		{"270 flip", 270, true, 2, 3, []uint8{6, 3, 5, 2, 4, 1}},
	}

	r := newTestReconstructor(t, IdentityLevels())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := domain.FramebufferGeometry{
				Width: 3, Height: 2, BytesPerPixel: 1, Format: domain.FormatGray8,
				Rotation: tt.rotation, FlipHorizontal: tt.flip,
			}
			bmp, err := r.Reconstruct(raw, g)
			require.NoError(t, err)
			assert.Equal(t, tt.w, bmp.Width)
			assert.Equal(t, tt.h, bmp.Height)
			assert.Equal(t, tt.want, bmp.Pix)
		})
	}
}

func TestReconstructor_InvertsFixtureEncoding(t *testing.T) {
	page := fixtures.NewPage(6, 4)
	page.Fill(domain.Rect{X0: 1, Y0: 0, X1: 3, Y1: 2}, 0)
	page.Set(5, 3, 77)

	r := newTestReconstructor(t, IdentityLevels())
	for _, rot := range []int{0, 90, 180, 270} {
		for _, flip := range []bool{false, true} {
			w, h := 6, 4
			if rot == 90 || rot == 270 {
				w, h = 4, 6
			}
			g := domain.FramebufferGeometry{
				Width: w, Height: h, BytesPerPixel: 1, Format: domain.FormatGray8,
				Rotation: rot, FlipHorizontal: flip,
			}
			bmp, err := r.Reconstruct(page.Encode(g, nil), g)
			require.NoError(t, err)
			assert.Equal(t, page.Pix, bmp.Pix, "rotation %d flip %v", rot, flip)
		}
	}
}

func TestReconstructor_NarrowBandLevels(t *testing.T) {
	levels := Levels{Black: 0.045, White: 0.06, Gamma: 1}
	g := domain.FramebufferGeometry{
		Width: 4, Height: 6, BytesPerPixel: 2, Format: domain.FormatGray16LE,
		Rotation: 270, FlipHorizontal: true,
	}
	page := fixtures.NewPage(6, 4)
	page.Fill(domain.Rect{X0: 0, Y0: 0, X1: 3, Y1: 4}, 0)

	raw := page.Encode(g, fixtures.NarrowBand(0.045, 0.06))
	bmp, err := newTestReconstructor(t, levels).Reconstruct(raw, g)
	require.NoError(t, err)

	require.Equal(t, 6, bmp.Width)
	assert.LessOrEqual(t, bmp.At(0, 0), uint8(2))
	assert.GreaterOrEqual(t, bmp.At(5, 0), uint8(253))
}

func TestLevels_Table(t *testing.T) {
	id := IdentityLevels().Table()
	for v := 0; v < 256; v++ {
		assert.Equal(t, uint8(v), id[v*0x101])
	}

	narrow := Levels{Black: 0.045, White: 0.06, Gamma: 1}.Table()
	black, mid := 0.045, 0.0525
	assert.Equal(t, uint8(0), narrow[0])
	assert.Equal(t, uint8(0), narrow[int(black*0xffff)])
	assert.Equal(t, uint8(255), narrow[0xffff])
	assert.InDelta(t, 128, int(narrow[int(mid*0xffff)]), 2)
	for v := 1; v < len(narrow); v++ {
		require.GreaterOrEqual(t, narrow[v], narrow[v-1], "monotonic at %d", v)
	}

	gamma := Levels{Black: 0, White: 1, Gamma: 2}.Table()
	assert.InDelta(t, 180, int(gamma[0x8000]), 1)
}

func TestLevels_Validate(t *testing.T) {
	assert.NoError(t, IdentityLevels().Validate())
	for _, l := range []Levels{
		{Black: 0.5, White: 0.5, Gamma: 1},
		{Black: -0.1, White: 1, Gamma: 1},
		{Black: 0, White: 1.1, Gamma: 1},
		{Black: 0, White: 1, Gamma: 0},
	} {
		assert.ErrorIs(t, l.Validate(), domain.ErrConfig, "%+v", l)
	}

	_, err := NewReconstructor(infra.NewRawDecoder(), ReconstructorConfig{Levels: Levels{Black: 1, White: 0}}, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestReconstructor_Deterministic(t *testing.T) {
	g := domain.FramebufferGeometry{Width: 64, Height: 48, BytesPerPixel: 2, Format: domain.FormatGray16BE, Rotation: 90}
	raw := make([]byte, g.FrameSize())
	for i := range raw {
		raw[i] = byte(i * 31)
	}
	r := newTestReconstructor(t, Levels{Black: 0.1, White: 0.9, Gamma: 1.8})

	a, err := r.Reconstruct(raw, g)
	require.NoError(t, err)
	b, err := r.Reconstruct(raw, g)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestReconstructor_Errors(t *testing.T) {
	r := newTestReconstructor(t, IdentityLevels())
	g := domain.FramebufferGeometry{Width: 3, Height: 2, BytesPerPixel: 1, Format: domain.FormatGray8}

	_, err := r.Reconstruct(make([]byte, 5), g)
	assert.ErrorIs(t, err, domain.ErrDecode)

	bad := g
	bad.Rotation = 45
	_, err = r.Reconstruct(make([]byte, 6), bad)
	assert.ErrorIs(t, err, domain.ErrDecode)
}

// wrongSizeDecoder returns an image of the wrong size.
type wrongSizeDecoder struct{}

func (wrongSizeDecoder) Decode(raw []byte, g domain.FramebufferGeometry) (*image.Gray16, error) {
	return image.NewGray16(image.Rect(0, 0, 1, 1)), nil
}

func TestReconstructor_RejectsBadDecoderOutput(t *testing.T) {
	r, err := NewReconstructor(wrongSizeDecoder{}, ReconstructorConfig{Levels: IdentityLevels()}, zap.NewNop())
	require.NoError(t, err)

	_, err = r.Reconstruct(make([]byte, 6), domain.FramebufferGeometry{Width: 3, Height: 2, BytesPerPixel: 1, Format: domain.FormatGray8})
	assert.ErrorIs(t, err, domain.ErrDecode)
}
