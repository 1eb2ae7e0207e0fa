// Package profile holds per-device capture presets. Each device model has its
// own profile describing framebuffer layout, tone curve and UI chrome.
package profile

import (
	"github.com/eliteGoblin/rmgrab/internal/domain"
	"github.com/eliteGoblin/rmgrab/internal/usecase"
)

// DefaultProcessName is the reMarkable UI process that owns the framebuffer.
const DefaultProcessName = "xochitl"

// DeviceProfile describes how to find and read one device model's screen.
type DeviceProfile interface {
	// ID returns unique identifier (e.g., "rm2").
	ID() string

	// Name returns human-readable name for display.
	Name() string

	// ProcessName returns the display process to inspect.
	ProcessName() string

	// Geometry returns the raw frame layout.
	Geometry() domain.FramebufferGeometry

	// AnchorLabel returns the mapping label the framebuffer follows, if any.
	AnchorLabel() string

	// Levels returns the tone curve for the panel's native gray range.
	Levels() usecase.Levels

	// ExcludedRegions returns UI chrome rectangles in upright coordinates.
	ExcludedRegions() []domain.Rect
}

// Settings is a flattened, editable copy of a profile.
type Settings struct {
	ID          string
	Name        string
	ProcessName string
	Geometry    domain.FramebufferGeometry
	AnchorLabel string
	Levels      usecase.Levels
	Excluded    []domain.Rect
}

// ToSettings converts a DeviceProfile into Settings.
func ToSettings(p DeviceProfile) Settings {
	excluded := p.ExcludedRegions()
	return Settings{
		ID:          p.ID(),
		Name:        p.Name(),
		ProcessName: p.ProcessName(),
		Geometry:    p.Geometry(),
		AnchorLabel: p.AnchorLabel(),
		Levels:      p.Levels(),
		Excluded:    append([]domain.Rect(nil), excluded...),
	}
}
