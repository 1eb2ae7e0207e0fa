package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"

	"go.uber.org/multierr"
)

// Bitmap is an upright 8-bit grayscale frame, row-major with stride Width.
type Bitmap struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewBitmap allocates a white bitmap.
func NewBitmap(width, height int) *Bitmap {
	pix := make([]uint8, width*height)
	for i := range pix {
		pix[i] = 0xff
	}
	return &Bitmap{Width: width, Height: height, Pix: pix}
}

// At returns the intensity at (x, y).
func (b *Bitmap) At(x, y int) uint8 {
	return b.Pix[y*b.Width+x]
}

// Set writes the intensity at (x, y).
func (b *Bitmap) Set(x, y int, v uint8) {
	b.Pix[y*b.Width+x] = v
}

// Image exposes the bitmap as an *image.Gray sharing the same pixels.
func (b *Bitmap) Image() *image.Gray {
	return &image.Gray{
		Pix:    b.Pix,
		Stride: b.Width,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// Crop returns a pixel-exact copy of the area covered by box.
func (b *Bitmap) Crop(box BoundingBox) (*Bitmap, error) {
	if !box.Within(b.Width, b.Height) {
		return nil, fmt.Errorf("crop box %s outside %dx%d bitmap", box, b.Width, b.Height)
	}
	w, h := box.Width(), box.Height()
	out := &Bitmap{Width: w, Height: h, Pix: make([]uint8, w*h)}
	for y := 0; y < h; y++ {
		src := (box.MinY+y)*b.Width + box.MinX
		copy(out.Pix[y*w:(y+1)*w], b.Pix[src:src+w])
	}
	return out, nil
}

// FullBox returns the inclusive box covering the whole bitmap.
func (b *Bitmap) FullBox() BoundingBox {
	return BoundingBox{MinX: 0, MinY: 0, MaxX: b.Width - 1, MaxY: b.Height - 1}
}

// Digest returns the hex SHA-256 of the dimensions and pixels.
func (b *Bitmap) Digest() string {
	h := sha256.New()
	fmt.Fprintf(h, "%dx%d:", b.Width, b.Height)
	h.Write(b.Pix)
	return hex.EncodeToString(h.Sum(nil))
}

// ExportResult records the outcome of each of the two independent writes.
type ExportResult struct {
	FullPath    string
	CroppedPath string
	FullErr     error
	CroppedErr  error
}

// FullWritten reports whether the full bitmap reached disk.
func (r ExportResult) FullWritten() bool { return r.FullErr == nil }

// CroppedWritten reports whether the cropped bitmap reached disk.
func (r ExportResult) CroppedWritten() bool { return r.CroppedErr == nil }

// Err combines both write failures; nil when both succeeded.
func (r ExportResult) Err() error {
	var err error
	if r.FullErr != nil {
		err = multierr.Append(err, fmt.Errorf("%w: full image %s: %v", ErrExport, r.FullPath, r.FullErr))
	}
	if r.CroppedErr != nil {
		err = multierr.Append(err, fmt.Errorf("%w: cropped image %s: %v", ErrExport, r.CroppedPath, r.CroppedErr))
	}
	return err
}
