package usecase

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// Detection defaults, tuned on reMarkable screenshots.
const (
	DefaultInkThreshold = 200
	DefaultMinArea      = 100
	DefaultMargin       = 50
	DefaultConnectivity = 8
)

// DetectorConfig holds ink detection settings.
type DetectorConfig struct {
	Threshold    uint8 // Pixels strictly darker than this are ink
	MinArea      int   // Components smaller than this many pixels are noise
	Margin       int   // Padding added around the union box
	Connectivity int   // 4 or 8
}

// DefaultDetectorConfig returns the default detection settings.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Threshold:    DefaultInkThreshold,
		MinArea:      DefaultMinArea,
		Margin:       DefaultMargin,
		Connectivity: DefaultConnectivity,
	}
}

// Validate checks the settings.
func (c DetectorConfig) Validate() error {
	if c.Connectivity != 4 && c.Connectivity != 8 {
		return fmt.Errorf("%w: connectivity must be 4 or 8, got %d", domain.ErrConfig, c.Connectivity)
	}
	if c.MinArea < 1 {
		return fmt.Errorf("%w: min area must be at least 1, got %d", domain.ErrConfig, c.MinArea)
	}
	if c.Margin < 0 {
		return fmt.Errorf("%w: margin must not be negative, got %d", domain.ErrConfig, c.Margin)
	}
	return nil
}

var (
	offsets4 = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	offsets8 = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

// Detector finds the box enclosing handwritten ink.
type Detector struct {
	config DetectorConfig
	logger *zap.Logger
}

// NewDetector creates a detector.
func NewDetector(config DetectorConfig, logger *zap.Logger) *Detector {
	return &Detector{config: config, logger: logger}
}

// InkMask thresholds the bitmap and clears excluded rectangles.
func (d *Detector) InkMask(bmp *domain.Bitmap, excluded []domain.Rect) []bool {
	mask := make([]bool, len(bmp.Pix))
	for i, v := range bmp.Pix {
		mask[i] = v < d.config.Threshold
	}
	for _, r := range excluded {
		x0, y0 := max(r.X0, 0), max(r.Y0, 0)
		x1, y1 := min(r.X1, bmp.Width), min(r.Y1, bmp.Height)
		for y := y0; y < y1; y++ {
			row := mask[y*bmp.Width : (y+1)*bmp.Width]
			for x := x0; x < x1; x++ {
				row[x] = false
			}
		}
	}
	return mask
}

// Components labels connected ink pixels. Seeds are visited in row-major
// order, so the result order is deterministic.
func (d *Detector) Components(bmp *domain.Bitmap, mask []bool) []domain.InkRegion {
	offsets := offsets8
	if d.config.Connectivity == 4 {
		offsets = offsets4
	}

	w, h := bmp.Width, bmp.Height
	visited := make([]bool, len(mask))
	var stack []int
	var regions []domain.InkRegion

	for seed, ink := range mask {
		if !ink || visited[seed] {
			continue
		}
		visited[seed] = true
		stack = append(stack[:0], seed)

		box := domain.BoundingBox{MinX: w, MinY: h, MaxX: -1, MaxY: -1}
		area := 0
		darkness := 0

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%w, idx/w

			area++
			darkness += 0xff - int(bmp.Pix[idx])
			box.MinX, box.MaxX = min(box.MinX, x), max(box.MaxX, x)
			box.MinY, box.MaxY = min(box.MinY, y), max(box.MaxY, y)

			for _, o := range offsets {
				nx, ny := x+o[0], y+o[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				n := ny*w + nx
				if mask[n] && !visited[n] {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}

		regions = append(regions, domain.InkRegion{
			Bounds:       box,
			Area:         area,
			MeanDarkness: float64(darkness) / float64(area),
		})
	}
	return regions
}

// Detect returns the padded box around all significant ink outside the
// excluded regions. With no significant ink it returns the full bitmap with
// Fallback set. Deterministic and side-effect free.
func (d *Detector) Detect(bmp *domain.Bitmap, excluded []domain.Rect) domain.Detection {
	mask := d.InkMask(bmp, excluded)
	all := d.Components(bmp, mask)

	var kept []domain.InkRegion
	for _, r := range all {
		if r.Area >= d.config.MinArea {
			kept = append(kept, r)
		}
	}

	if len(kept) == 0 {
		box := bmp.FullBox()
		box.Fallback = true
		d.logger.Info("no significant ink found, using full bitmap",
			zap.Int("components", len(all)))
		return domain.Detection{Box: box, ComponentCount: len(all)}
	}

	union := kept[0].Bounds
	for _, r := range kept[1:] {
		union.MinX = min(union.MinX, r.Bounds.MinX)
		union.MinY = min(union.MinY, r.Bounds.MinY)
		union.MaxX = max(union.MaxX, r.Bounds.MaxX)
		union.MaxY = max(union.MaxY, r.Bounds.MaxY)
	}

	m := d.config.Margin
	box := domain.BoundingBox{
		MinX: max(union.MinX-m, 0),
		MinY: max(union.MinY-m, 0),
		MaxX: min(union.MaxX+m, bmp.Width-1),
		MaxY: min(union.MaxY+m, bmp.Height-1),
	}

	d.logger.Info("ink detected",
		zap.Int("components", len(all)),
		zap.Int("significant", len(kept)),
		zap.String("box", box.String()))
	return domain.Detection{Box: box, Regions: kept, ComponentCount: len(all)}
}
