// Package domain contains core capture entities and interfaces.
// This is the innermost layer - no dependencies on infra or usecase.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// RemoteTarget identifies the device to connect to.
type RemoteTarget struct {
	Address        string
	Port           int
	User           string
	KeyPath        string // Private key file; empty means agent/password only
	Password       string
	KnownHostsPath string
	AcceptNewHosts bool // Append unknown host keys to KnownHostsPath (ssh accept-new)
	ConnectTimeout time.Duration
}

// ProcessInfo is one row of a process listing.
type ProcessInfo struct {
	PID  int
	Name string
}

// MemoryMapEntry is one line of /proc/<pid>/maps.
type MemoryMapEntry struct {
	Start  uint64
	End    uint64
	Perms  string // e.g. "rw-p"
	Offset uint64
	Device string
	Inode  uint64
	Label  string // Backing path or pseudo name; empty for anonymous mappings
}

// Size returns the mapping length in bytes.
func (e MemoryMapEntry) Size() uint64 {
	if e.End < e.Start {
		return 0
	}
	return e.End - e.Start
}

// Readable reports whether the mapping allows reads.
func (e MemoryMapEntry) Readable() bool {
	return strings.HasPrefix(e.Perms, "r")
}

// ProcessHandle is a process together with its memory map.
type ProcessHandle struct {
	PID     int
	Name    string
	Entries []MemoryMapEntry
}

// PixelFormat names the raw framebuffer sample layout.
type PixelFormat string

const (
	FormatGray8    PixelFormat = "gray8"
	FormatGray16LE PixelFormat = "gray16le"
	FormatGray16BE PixelFormat = "gray16be"
	FormatRGB565LE PixelFormat = "rgb565le"
	FormatBGRA32   PixelFormat = "bgra32"
	FormatRGBA32   PixelFormat = "rgba32"
)

// BytesPerPixel returns the sample size for the format, or 0 if unknown.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatGray8:
		return 1
	case FormatGray16LE, FormatGray16BE, FormatRGB565LE:
		return 2
	case FormatBGRA32, FormatRGBA32:
		return 4
	default:
		return 0
	}
}

// FramebufferGeometry describes how the device lays out one frame.
type FramebufferGeometry struct {
	Width          int
	Height         int
	BytesPerPixel  int
	Format         PixelFormat
	Rotation       int  // Clockwise degrees to make the frame upright: 0, 90, 180, 270
	FlipHorizontal bool // Mirror after rotation
	HeaderOffset   uint64
}

// FrameSize returns width * height * bytes-per-pixel.
func (g FramebufferGeometry) FrameSize() int {
	return g.Width * g.Height * g.BytesPerPixel
}

// UprightSize returns the bitmap dimensions after rotation.
func (g FramebufferGeometry) UprightSize() (int, int) {
	if g.Rotation == 90 || g.Rotation == 270 {
		return g.Height, g.Width
	}
	return g.Width, g.Height
}

// Validate checks that the geometry can describe a real frame.
func (g FramebufferGeometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: frame dimensions must be positive, got %dx%d", ErrConfig, g.Width, g.Height)
	}
	if g.BytesPerPixel <= 0 {
		return fmt.Errorf("%w: bytes per pixel must be positive, got %d", ErrConfig, g.BytesPerPixel)
	}
	if bpp := g.Format.BytesPerPixel(); bpp == 0 {
		return fmt.Errorf("%w: unknown pixel format %q", ErrConfig, g.Format)
	} else if bpp != g.BytesPerPixel {
		return fmt.Errorf("%w: pixel format %s uses %d bytes per pixel, configured %d",
			ErrConfig, g.Format, bpp, g.BytesPerPixel)
	}
	switch g.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: rotation must be 0, 90, 180 or 270, got %d", ErrConfig, g.Rotation)
	}
	return nil
}

// FramebufferRegion is the located frame inside a process's address space.
type FramebufferRegion struct {
	PID      int
	Base     uint64
	Length   int
	Geometry FramebufferGeometry
	Entry    MemoryMapEntry // Mapping the frame was sliced from
}

// Rect is a half-open rectangle [X0,X1) x [Y0,Y1) in upright bitmap coordinates.
type Rect struct {
	X0 int `yaml:"x0" json:"x0"`
	Y0 int `yaml:"y0" json:"y0"`
	X1 int `yaml:"x1" json:"x1"`
	Y1 int `yaml:"y1" json:"y1"`
}

// Contains reports whether (x, y) lies inside the rectangle.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X0 && x < r.X1 && y >= r.Y0 && y < r.Y1
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.X0 >= r.X1 || r.Y0 >= r.Y1
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X0, r.Y0, r.X1, r.Y1)
}

// BoundingBox is an inclusive pixel box in upright bitmap coordinates.
type BoundingBox struct {
	MinX, MinY, MaxX, MaxY int
	// Fallback is set when no ink qualified and the box covers the whole bitmap.
	Fallback bool
}

// Width returns the number of columns covered.
func (b BoundingBox) Width() int { return b.MaxX - b.MinX + 1 }

// Height returns the number of rows covered.
func (b BoundingBox) Height() int { return b.MaxY - b.MinY + 1 }

// Rect converts the inclusive box into a half-open Rect.
func (b BoundingBox) Rect() Rect {
	return Rect{X0: b.MinX, Y0: b.MinY, X1: b.MaxX + 1, Y1: b.MaxY + 1}
}

// Within reports whether the box lies inside a width x height bitmap.
func (b BoundingBox) Within(width, height int) bool {
	return b.MinX >= 0 && b.MinY >= 0 && b.MinX <= b.MaxX && b.MinY <= b.MaxY &&
		b.MaxX < width && b.MaxY < height
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d) %dx%d", b.MinX, b.MinY, b.MaxX, b.MaxY, b.Width(), b.Height())
}

// InkRegion is one connected component of ink pixels.
type InkRegion struct {
	Bounds       BoundingBox
	Area         int
	MeanDarkness float64 // Mean of 255-intensity over the component's pixels
}

// Detection is the outcome of ink detection on a bitmap.
type Detection struct {
	Box            BoundingBox
	Regions        []InkRegion // Components that survived the area filter
	ComponentCount int         // All components before filtering
}

// CaptureResult summarizes one completed pipeline run.
type CaptureResult struct {
	Region     *FramebufferRegion // Nil when reprocessing a raw dump
	Detection  Detection
	Export     ExportResult
	RawPath    string // Set when the raw buffer was kept
	Width      int    // Upright bitmap size
	Height     int
	FullSHA256 string // Pixel digests, see Bitmap.Digest
	CropSHA256 string
	StartedAt  time.Time
	FinishedAt time.Time
}

// CaptureRecord is one journaled capture.
type CaptureRecord struct {
	ID          int64
	CapturedAt  time.Time
	Device      string
	PID         int
	BaseAddress uint64
	Width       int
	Height      int
	Box         BoundingBox
	FullPath    string
	CroppedPath string
	FullSHA256  string
	CropSHA256  string
}
