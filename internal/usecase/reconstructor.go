package usecase

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// Levels is a fixed black/white point stretch with optional gamma.
// Black and White are fractions of full scale; input at or below Black maps
// to 0, at or above White maps to 255.
type Levels struct {
	Black float64 `yaml:"black"`
	White float64 `yaml:"white"`
	Gamma float64 `yaml:"gamma"`
}

// IdentityLevels leaves intensities unchanged.
func IdentityLevels() Levels {
	return Levels{Black: 0, White: 1, Gamma: 1}
}

// Validate checks the curve is monotonic and well defined.
func (l Levels) Validate() error {
	if l.Black < 0 || l.White > 1 || l.Black >= l.White {
		return fmt.Errorf("%w: levels need 0 <= black < white <= 1, got black=%g white=%g",
			domain.ErrConfig, l.Black, l.White)
	}
	if l.Gamma <= 0 {
		return fmt.Errorf("%w: gamma must be positive, got %g", domain.ErrConfig, l.Gamma)
	}
	return nil
}

// Table precomputes the 16-bit to 8-bit mapping.
func (l Levels) Table() []uint8 {
	lut := make([]uint8, 1<<16)
	span := l.White - l.Black
	for v := range lut {
		x := (float64(v)/0xffff - l.Black) / span
		switch {
		case x <= 0:
			lut[v] = 0
		case x >= 1:
			lut[v] = 0xff
		default:
			if l.Gamma != 1 {
				x = math.Pow(x, 1/l.Gamma)
			}
			lut[v] = uint8(math.Round(x * 0xff))
		}
	}
	return lut
}

// ReconstructorConfig holds bitmap reconstruction settings.
type ReconstructorConfig struct {
	Levels Levels
}

// Reconstructor turns a raw frame into an upright, level-adjusted bitmap.
type Reconstructor struct {
	decoder domain.Decoder
	lut     []uint8
	config  ReconstructorConfig
	logger  *zap.Logger
}

// NewReconstructor creates a reconstructor; the levels table is built once.
func NewReconstructor(decoder domain.Decoder, config ReconstructorConfig, logger *zap.Logger) (*Reconstructor, error) {
	if err := config.Levels.Validate(); err != nil {
		return nil, err
	}
	return &Reconstructor{
		decoder: decoder,
		lut:     config.Levels.Table(),
		config:  config,
		logger:  logger,
	}, nil
}

// Reconstruct decodes raw, applies levels, then rotates and flips upright.
func (r *Reconstructor) Reconstruct(raw []byte, g domain.FramebufferGeometry) (*domain.Bitmap, error) {
	if want := g.FrameSize(); len(raw) != want {
		return nil, fmt.Errorf("%w: raw buffer is %d bytes, %dx%dx%d needs %d",
			domain.ErrDecode, len(raw), g.Width, g.Height, g.BytesPerPixel, want)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	samples, err := r.decoder.Decode(raw, g)
	if err != nil {
		return nil, err
	}
	if b := samples.Bounds(); b.Dx() != g.Width || b.Dy() != g.Height {
		return nil, fmt.Errorf("%w: decoder returned %dx%d, expected %dx%d",
			domain.ErrDecode, b.Dx(), b.Dy(), g.Width, g.Height)
	}

	// Levels in device orientation, one byte per pixel
	leveled := make([]uint8, g.Width*g.Height)
	for y := 0; y < g.Height; y++ {
		row := samples.Pix[y*samples.Stride:]
		for x := 0; x < g.Width; x++ {
			v := uint16(row[2*x])<<8 | uint16(row[2*x+1])
			leveled[y*g.Width+x] = r.lut[v]
		}
	}

	bmp := orient(leveled, g.Width, g.Height, g.Rotation, g.FlipHorizontal)

	r.logger.Debug("bitmap reconstructed",
		zap.Int("width", bmp.Width),
		zap.Int("height", bmp.Height),
		zap.Int("rotation", g.Rotation),
		zap.Bool("flip", g.FlipHorizontal))
	return bmp, nil
}

// orient rotates src (w x h) clockwise by rotation degrees, then mirrors
// horizontally if flip is set. Pure index permutation, no resampling.
func orient(src []uint8, w, h, rotation int, flip bool) *domain.Bitmap {
	ow, oh := w, h
	if rotation == 90 || rotation == 270 {
		ow, oh = h, w
	}
	out := &domain.Bitmap{Width: ow, Height: oh, Pix: make([]uint8, ow*oh)}

	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			ux := x
			if flip {
				ux = ow - 1 - x
			}
			var sx, sy int
			switch rotation {
			case 90:
				sx, sy = y, h-1-ux
			case 180:
				sx, sy = w-1-ux, h-1-y
			case 270:
				sx, sy = w-1-y, ux
			default:
				sx, sy = ux, y
			}
			out.Pix[y*ow+x] = src[sy*w+sx]
		}
	}
	return out
}
