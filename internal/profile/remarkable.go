package profile

import (
	"github.com/eliteGoblin/rmgrab/internal/domain"
	"github.com/eliteGoblin/rmgrab/internal/usecase"
)

// RM2Profile is the reMarkable 2. Its framebuffer is an anonymous mapping in
// xochitl right after the /dev/fb0 mapping, 7 bytes in, stored landscape as
// 16-bit gray with a very narrow used range.
type RM2Profile struct{}

// NewRM2Profile creates the reMarkable 2 profile.
func NewRM2Profile() *RM2Profile {
	return &RM2Profile{}
}

func (p *RM2Profile) ID() string {
	return "rm2"
}

func (p *RM2Profile) Name() string {
	return "reMarkable 2"
}

func (p *RM2Profile) ProcessName() string {
	return DefaultProcessName
}

// Geometry: 1872x1404 landscape; turning it counter-clockwise and mirroring
// gives the 1404x1872 portrait page.
func (p *RM2Profile) Geometry() domain.FramebufferGeometry {
	return domain.FramebufferGeometry{
		Width:          1872,
		Height:         1404,
		BytesPerPixel:  2,
		Format:         domain.FormatGray16LE,
		Rotation:       270,
		FlipHorizontal: true,
		HeaderOffset:   7,
	}
}

func (p *RM2Profile) AnchorLabel() string {
	return "/dev/fb0"
}

// Levels stretches 4.5%..6% of full scale to black..white.
func (p *RM2Profile) Levels() usecase.Levels {
	return usecase.Levels{Black: 0.045, White: 0.06, Gamma: 1}
}

// ExcludedRegions covers the menu button in the top-left corner.
func (p *RM2Profile) ExcludedRegions() []domain.Rect {
	return []domain.Rect{
		{X0: 0, Y0: 0, X1: 200, Y1: 200},
	}
}

// Gray8Profile is a generic 8-bit e-ink panel mounted a quarter turn
// counter-clockwise, with a toolbar strip along the top of the upright image.
type Gray8Profile struct{}

// NewGray8Profile creates the generic 8-bit profile.
func NewGray8Profile() *Gray8Profile {
	return &Gray8Profile{}
}

func (p *Gray8Profile) ID() string {
	return "gray8"
}

func (p *Gray8Profile) Name() string {
	return "Generic 8-bit e-ink (1404x1872, rotated)"
}

func (p *Gray8Profile) ProcessName() string {
	return DefaultProcessName
}

func (p *Gray8Profile) Geometry() domain.FramebufferGeometry {
	return domain.FramebufferGeometry{
		Width:         1404,
		Height:        1872,
		BytesPerPixel: 1,
		Format:        domain.FormatGray8,
		Rotation:      90,
	}
}

func (p *Gray8Profile) AnchorLabel() string {
	return ""
}

func (p *Gray8Profile) Levels() usecase.Levels {
	return usecase.IdentityLevels()
}

// ExcludedRegions covers the 60px toolbar across the upright 1872px width.
func (p *Gray8Profile) ExcludedRegions() []domain.Rect {
	return []domain.Rect{
		{X0: 0, Y0: 0, X1: 1872, Y1: 60},
	}
}

var (
	_ DeviceProfile = (*RM2Profile)(nil)
	_ DeviceProfile = (*Gray8Profile)(nil)
)
