package infra

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// ImageFileWriter implements domain.ImageWriter with imaging's encoders.
// The format is taken from the file extension.
type ImageFileWriter struct {
	jpegQuality int
}

// NewImageFileWriter creates a writer; jpegQuality applies to .jpg outputs.
func NewImageFileWriter(jpegQuality int) *ImageFileWriter {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 95
	}
	return &ImageFileWriter{jpegQuality: jpegQuality}
}

// WriteImage encodes img to path atomically.
func (w *ImageFileWriter) WriteImage(ctx context.Context, img image.Image, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		return fmt.Errorf("output %s: %w", path, err)
	}

	return atomicWrite(path, func(out io.Writer) error {
		return imaging.Encode(out, img, format,
			imaging.JPEGQuality(w.jpegQuality),
			imaging.PNGCompressionLevel(png.BestSpeed))
	})
}

// Ensure ImageFileWriter implements domain.ImageWriter.
var _ domain.ImageWriter = (*ImageFileWriter)(nil)
