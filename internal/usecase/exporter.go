package usecase

import (
	"context"
	"image"
	"image/color"

	"go.uber.org/zap"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// Exporter writes the full and cropped bitmaps.
type Exporter struct {
	writer domain.ImageWriter
	logger *zap.Logger
}

// NewExporter creates an exporter.
func NewExporter(writer domain.ImageWriter, logger *zap.Logger) *Exporter {
	return &Exporter{writer: writer, logger: logger}
}

// Export writes bmp unmodified to fullPath and the pixel-exact box slice to
// croppedPath. Both writes are always attempted; the result says which landed.
func (e *Exporter) Export(ctx context.Context, bmp *domain.Bitmap, box domain.BoundingBox, fullPath, croppedPath string) domain.ExportResult {
	result := domain.ExportResult{FullPath: fullPath, CroppedPath: croppedPath}

	result.FullErr = e.writer.WriteImage(ctx, bmp.Image(), fullPath)
	if result.FullErr != nil {
		e.logger.Error("failed to write full image",
			zap.String("path", fullPath),
			zap.Error(result.FullErr))
	} else {
		e.logger.Info("saved full image", zap.String("path", fullPath))
	}

	cropped, err := bmp.Crop(box)
	if err == nil {
		err = e.writer.WriteImage(ctx, cropped.Image(), croppedPath)
	}
	result.CroppedErr = err
	if err != nil {
		e.logger.Error("failed to write cropped image",
			zap.String("path", croppedPath),
			zap.Error(err))
	} else {
		e.logger.Info("saved cropped image",
			zap.String("path", croppedPath),
			zap.String("box", box.String()))
	}

	return result
}

var (
	overlayExcluded = color.RGBA{R: 0x40, G: 0x40, B: 0xff, A: 0xff}
	overlayRegion   = color.RGBA{R: 0xff, A: 0xff}
	overlayBox      = color.RGBA{G: 0xc0, A: 0xff}
)

// RenderOverlay draws excluded regions (blue), significant components (red)
// and the final box (green) over the bitmap, for tuning detection settings.
func RenderOverlay(bmp *domain.Bitmap, det domain.Detection, excluded []domain.Rect) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, bmp.Width, bmp.Height))
	for i, v := range bmp.Pix {
		img.Pix[4*i] = v
		img.Pix[4*i+1] = v
		img.Pix[4*i+2] = v
		img.Pix[4*i+3] = 0xff
	}

	for _, r := range excluded {
		strokeRect(img, r, overlayExcluded)
	}
	for _, r := range det.Regions {
		strokeRect(img, r.Bounds.Rect(), overlayRegion)
	}
	strokeRect(img, det.Box.Rect(), overlayBox)
	return img
}

func strokeRect(img *image.RGBA, r domain.Rect, c color.RGBA) {
	b := img.Bounds()
	x0, y0 := max(r.X0, 0), max(r.Y0, 0)
	x1, y1 := min(r.X1, b.Dx())-1, min(r.Y1, b.Dy())-1
	if x0 > x1 || y0 > y1 {
		return
	}
	for x := x0; x <= x1; x++ {
		img.SetRGBA(x, y0, c)
		img.SetRGBA(x, y1, c)
	}
	for y := y0; y <= y1; y++ {
		img.SetRGBA(x0, y, c)
		img.SetRGBA(x1, y, c)
	}
}
