package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// CaptureConfig holds run-level settings for the capture pipeline.
type CaptureConfig struct {
	ProcessName  string
	Excluded     []domain.Rect
	OutputDir    string
	Format       string // File extension without the dot, e.g. "png"
	KeepRaw      bool   // Save the raw frame next to the images
	DebugOverlay bool   // Save a detection overlay next to the images
	DeviceLabel  string // Recorded in the catalog, e.g. the device address
}

// OutputPaths returns the file names used for a capture taken at t.
func OutputPaths(dir string, t time.Time, format string) (full, cropped, raw, overlay string) {
	stem := t.Format("01-02-2006-15-04-05") + "-remarkable-screen"
	ext := "." + strings.TrimPrefix(format, ".")
	return filepath.Join(dir, stem+ext),
		filepath.Join(dir, stem+"_cropped"+ext),
		filepath.Join(dir, stem+".raw"),
		filepath.Join(dir, stem+"_overlay.png")
}

// Capturer runs Inspector -> Extractor -> Reconstructor -> Detector -> Exporter.
type Capturer struct {
	config        CaptureConfig
	inspector     *Inspector
	extractor     *Extractor
	reconstructor *Reconstructor
	detector      *Detector
	exporter      *Exporter
	writer        domain.ImageWriter
	fs            domain.FileSystemManager
	catalog       domain.CaptureCatalog
	now           func() time.Time
	logger        *zap.Logger
}

// NewCapturer wires the pipeline stages.
func NewCapturer(
	config CaptureConfig,
	inspector *Inspector,
	extractor *Extractor,
	reconstructor *Reconstructor,
	detector *Detector,
	writer domain.ImageWriter,
	fs domain.FileSystemManager,
	logger *zap.Logger,
) *Capturer {
	if config.Format == "" {
		config.Format = "png"
	}
	return &Capturer{
		config:        config,
		inspector:     inspector,
		extractor:     extractor,
		reconstructor: reconstructor,
		detector:      detector,
		exporter:      NewExporter(writer, logger),
		writer:        writer,
		fs:            fs,
		now:           time.Now,
		logger:        logger,
	}
}

// WithCatalog journals every capture into catalog.
func (c *Capturer) WithCatalog(catalog domain.CaptureCatalog) *Capturer {
	c.catalog = catalog
	return c
}

// WithClock overrides the time source used for file names (for testing).
func (c *Capturer) WithClock(now func() time.Time) *Capturer {
	c.now = now
	return c
}

// Capture runs the whole pipeline against device. The device is only used by
// the first two stages; everything after extraction is local.
func (c *Capturer) Capture(ctx context.Context, device domain.Device) (*domain.CaptureResult, error) {
	started := c.now()

	region, err := c.inspector.LocateFramebuffer(ctx, device, c.config.ProcessName)
	if err != nil {
		return nil, fmt.Errorf("locate framebuffer: %w", err)
	}

	raw, err := c.extractor.Extract(ctx, device, region)
	if err != nil {
		return nil, err
	}

	result, err := c.process(ctx, raw, region.Geometry, started)
	if result != nil {
		result.Region = region
		c.record(ctx, result)
	}
	return result, err
}

// Reprocess runs the local stages on a previously saved raw frame.
func (c *Capturer) Reprocess(ctx context.Context, raw []byte, geometry domain.FramebufferGeometry) (*domain.CaptureResult, error) {
	return c.process(ctx, raw, geometry, c.now())
}

func (c *Capturer) process(ctx context.Context, raw []byte, geometry domain.FramebufferGeometry, started time.Time) (*domain.CaptureResult, error) {
	if err := c.fs.EnsureDir(c.config.OutputDir); err != nil {
		return nil, fmt.Errorf("%w: create output directory %s: %v", domain.ErrExport, c.config.OutputDir, err)
	}
	dir := c.fs.ExpandHome(c.config.OutputDir)
	fullPath, croppedPath, rawPath, overlayPath := OutputPaths(dir, started, c.config.Format)

	result := &domain.CaptureResult{StartedAt: started}

	// raw frames are kept even when they fail to decode
	if c.config.KeepRaw {
		if err := c.fs.WriteFile(rawPath, raw); err != nil {
			c.logger.Warn("failed to keep raw framebuffer", zap.String("path", rawPath), zap.Error(err))
		} else {
			result.RawPath = rawPath
			c.logger.Info("saved raw framebuffer", zap.String("path", rawPath))
		}
	}

	bmp, err := c.reconstructor.Reconstruct(raw, geometry)
	if err != nil {
		return nil, fmt.Errorf("reconstruct bitmap: %w", err)
	}

	result.Detection = c.detector.Detect(bmp, c.config.Excluded)

	if c.config.DebugOverlay {
		overlay := RenderOverlay(bmp, result.Detection, c.config.Excluded)
		if err := c.writer.WriteImage(ctx, overlay, overlayPath); err != nil {
			c.logger.Warn("failed to write detection overlay", zap.String("path", overlayPath), zap.Error(err))
		}
	}

	result.Export = c.exporter.Export(ctx, bmp, result.Detection.Box, fullPath, croppedPath)
	result.FinishedAt = c.now()

	result.Width, result.Height = bmp.Width, bmp.Height
	if err := result.Export.Err(); err != nil {
		return result, err
	}

	c.logger.Info("capture complete",
		zap.String("full", fullPath),
		zap.String("cropped", croppedPath),
		zap.Bool("fallback", result.Detection.Box.Fallback),
		zap.Duration("elapsed", result.FinishedAt.Sub(started)))

	result.FullSHA256 = bmp.Digest()
	if cropped, err := bmp.Crop(result.Detection.Box); err == nil {
		result.CropSHA256 = cropped.Digest()
	}
	return result, nil
}

// record journals a successful capture; catalog failures never fail the run.
func (c *Capturer) record(ctx context.Context, result *domain.CaptureResult) {
	if c.catalog == nil || result.Export.Err() != nil || result.Region == nil {
		return
	}
	id, err := c.catalog.Record(ctx, domain.CaptureRecord{
		CapturedAt:  result.StartedAt,
		Device:      c.config.DeviceLabel,
		PID:         result.Region.PID,
		BaseAddress: result.Region.Base,
		Width:       result.Width,
		Height:      result.Height,
		Box:         result.Detection.Box,
		FullPath:    result.Export.FullPath,
		CroppedPath: result.Export.CroppedPath,
		FullSHA256:  result.FullSHA256,
		CropSHA256:  result.CropSHA256,
	})
	if err != nil {
		c.logger.Warn("failed to record capture in catalog", zap.Error(err))
		return
	}
	c.logger.Debug("capture recorded", zap.Int64("id", id))
}
