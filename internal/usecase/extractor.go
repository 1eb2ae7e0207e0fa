package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// DefaultReadTimeout bounds the remote memory read.
const DefaultReadTimeout = 30 * time.Second

// ExtractorConfig holds framebuffer read settings.
type ExtractorConfig struct {
	ReadTimeout time.Duration
}

// Extractor copies the raw frame out of the display process.
type Extractor struct {
	config ExtractorConfig
	logger *zap.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(config ExtractorConfig, logger *zap.Logger) *Extractor {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	return &Extractor{config: config, logger: logger}
}

// Extract reads exactly region.Length bytes at region.Base. A short read is
// an error, never a truncated success; surplus bytes past the frame are
// dropped. Nothing is retried here.
func (e *Extractor) Extract(ctx context.Context, device domain.Device, region *domain.FramebufferRegion) ([]byte, error) {
	start := time.Now()

	readCtx, cancel := context.WithTimeout(ctx, e.config.ReadTimeout)
	defer cancel()

	e.logger.Info("extracting framebuffer",
		zap.Int("pid", region.PID),
		zap.String("base", fmt.Sprintf("0x%x", region.Base)),
		zap.Int("length", region.Length),
		zap.Duration("timeout", e.config.ReadTimeout))

	raw, err := device.ReadProcessMemory(readCtx, region.PID, region.Base, region.Length)
	if err != nil {
		if errors.Is(readCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrExtractTimeout) {
			return nil, fmt.Errorf("%w: after %s: %v", domain.ErrExtractTimeout, e.config.ReadTimeout, err)
		}
		return nil, fmt.Errorf("extract framebuffer: %w", err)
	}
	if len(raw) < region.Length {
		return nil, fmt.Errorf("extract framebuffer: %w",
			&domain.PartialReadError{Address: region.Base, Want: region.Length, Got: len(raw)})
	}
	if len(raw) > region.Length {
		e.logger.Debug("dropping bytes past the frame",
			zap.Int("extra", len(raw)-region.Length))
		raw = raw[:region.Length]
	}

	e.logger.Info("framebuffer extracted",
		zap.Int("bytes", len(raw)),
		zap.Duration("elapsed", time.Since(start)))
	return raw, nil
}
