package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/rmgrab/internal/domain"
	"github.com/eliteGoblin/rmgrab/internal/infra"
	"github.com/eliteGoblin/rmgrab/test/fixtures"
)

// portraitGray8 is a 1404x1872 8-bit panel mounted a quarter turn counter-clockwise.
var portraitGray8 = domain.FramebufferGeometry{
	Width: 1404, Height: 1872, BytesPerPixel: 1, Format: domain.FormatGray8, Rotation: 90,
}

var toolbar = domain.Rect{X0: 0, Y0: 0, X1: 1872, Y1: 60}

// mockCatalog implements domain.CaptureCatalog for testing
type mockCatalog struct {
	mu        sync.Mutex
	records   []domain.CaptureRecord
	recordErr error
}

func (m *mockCatalog) Record(ctx context.Context, rec domain.CaptureRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return 0, m.recordErr
	}
	m.records = append(m.records, rec)
	return int64(len(m.records)), nil
}

func (m *mockCatalog) List(ctx context.Context, limit int) ([]domain.CaptureRecord, error) {
	return m.records, nil
}

func (m *mockCatalog) Close() error { return nil }

var fixedTime = time.Date(2026, 10, 17, 9, 30, 5, 0, time.Local)

func newTestCapturer(t *testing.T, outDir string, writer domain.ImageWriter, mutate func(c *CaptureConfig)) *Capturer {
	t.Helper()
	logger := zap.NewNop()

	cfg := CaptureConfig{
		ProcessName: "xochitl",
		Excluded:    []domain.Rect{toolbar},
		OutputDir:   outDir,
		DeviceLabel: "10.11.99.1",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	reconstructor, err := NewReconstructor(infra.NewRawDecoder(), ReconstructorConfig{Levels: IdentityLevels()}, logger)
	require.NoError(t, err)

	return NewCapturer(
		cfg,
		NewInspector(InspectorConfig{
			ProcessName:   "xochitl",
			Geometry:      portraitGray8,
			SizeTolerance: DefaultSizeTolerance,
		}, logger),
		NewExtractor(ExtractorConfig{}, logger),
		reconstructor,
		NewDetector(DefaultDetectorConfig(), logger),
		writer,
		infra.NewFileSystemManager(),
		logger,
	).WithClock(func() time.Time { return fixedTime })
}

// strokePage draws a dark toolbar and two strokes spanning (600,300)-(899,699).
func strokePage() *fixtures.Page {
	return fixtures.NewPage(1872, 1404).
		Fill(toolbar, 30).
		Fill(domain.Rect{X0: 600, Y0: 400, X1: 900, Y1: 412}, 0).
		Fill(domain.Rect{X0: 700, Y0: 300, X1: 708, Y1: 700}, 20)
}

func TestOutputPaths(t *testing.T) {
	at := time.Date(2026, 3, 7, 14, 5, 9, 0, time.UTC)

	full, cropped, raw, overlay := OutputPaths("/out", at, "png")

	assert.Equal(t, "/out/03-07-2026-14-05-09-remarkable-screen.png", full)
	assert.Equal(t, "/out/03-07-2026-14-05-09-remarkable-screen_cropped.png", cropped)
	assert.Equal(t, "/out/03-07-2026-14-05-09-remarkable-screen.raw", raw)
	assert.Equal(t, "/out/03-07-2026-14-05-09-remarkable-screen_overlay.png", overlay)

	full, _, _, _ = OutputPaths("/out", at, ".jpg")
	assert.Equal(t, "/out/03-07-2026-14-05-09-remarkable-screen.jpg", full)
}

func TestCapturer_EndToEnd_RotatedGray8(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "shots")
	page := strokePage()
	raw := page.Encode(portraitGray8, nil)
	dev := fixtures.PlaceFrame(412, "xochitl", 0x73c6f000, 0, raw)
	catalog := &mockCatalog{}

	c := newTestCapturer(t, outDir, infra.NewImageFileWriter(0), func(cfg *CaptureConfig) {
		cfg.KeepRaw = true
		cfg.DebugOverlay = true
	}).WithCatalog(catalog)

	res, err := c.Capture(context.Background(), dev)
	require.NoError(t, err)

	require.NotNil(t, res.Region)
	assert.Equal(t, uint64(0x73c6f000), res.Region.Base)
	assert.Equal(t, 1872, res.Width)
	assert.Equal(t, 1404, res.Height)

	// tight around both strokes plus the 50px margin, clear of the toolbar
	box := res.Detection.Box
	assert.Equal(t, domain.BoundingBox{MinX: 550, MinY: 250, MaxX: 949, MaxY: 749}, box)
	assert.Greater(t, box.MinY, 60)

	full, err := imaging.Open(res.Export.FullPath)
	require.NoError(t, err)
	assert.Equal(t, 1872, full.Bounds().Dx())
	assert.Equal(t, 1404, full.Bounds().Dy())

	cropped, err := imaging.Open(res.Export.CroppedPath)
	require.NoError(t, err)
	assert.Equal(t, 400, cropped.Bounds().Dx())
	assert.Equal(t, 500, cropped.Bounds().Dy())
	r, _, _, _ := cropped.At(600-550, 405-250).RGBA()
	assert.Equal(t, uint32(0), r>>8)

	want, err := page.Crop(box)
	require.NoError(t, err)
	assert.Equal(t, want.Digest(), res.CropSHA256)
	assert.Equal(t, page.Digest(), res.FullSHA256)

	assert.FileExists(t, res.RawPath)
	assert.FileExists(t, filepath.Join(outDir, "10-17-2026-09-30-05-remarkable-screen_overlay.png"))
	assert.Equal(t, filepath.Join(outDir, "10-17-2026-09-30-05-remarkable-screen_cropped.png"), res.Export.CroppedPath)

	require.Len(t, catalog.records, 1)
	rec := catalog.records[0]
	assert.Equal(t, 412, rec.PID)
	assert.Equal(t, "10.11.99.1", rec.Device)
	assert.Equal(t, box, rec.Box)
	assert.Equal(t, res.CropSHA256, rec.CropSHA256)

	// the kept raw frame reprocesses to the same result
	kept, err := os.ReadFile(res.RawPath)
	require.NoError(t, err)
	again, err := c.Reprocess(context.Background(), kept, portraitGray8)
	require.NoError(t, err)
	assert.Equal(t, box, again.Detection.Box)
	assert.Equal(t, res.CropSHA256, again.CropSHA256)
	assert.Nil(t, again.Region)
	assert.Len(t, catalog.records, 1, "reprocessing is not journaled")
}

func TestCapturer_BlankPageWritesFullCrop(t *testing.T) {
	outDir := t.TempDir()
	raw := fixtures.NewPage(1872, 1404).Fill(toolbar, 0).Encode(portraitGray8, nil)
	dev := fixtures.PlaceFrame(412, "xochitl", 0x40000000, 0, raw)
	w := newMockImageWriter()

	res, err := newTestCapturer(t, outDir, w, nil).Capture(context.Background(), dev)
	require.NoError(t, err)

	assert.True(t, res.Detection.Box.Fallback)
	assert.Equal(t, 1872, w.images[res.Export.CroppedPath].Bounds().Dx())
}

func TestCapturer_StageFailures(t *testing.T) {
	raw := strokePage().Encode(portraitGray8, nil)

	tests := []struct {
		name    string
		device  func() *fixtures.FakeDevice
		wantErr error
	}{
		{
			name:    "no display process",
			device:  func() *fixtures.FakeDevice { return fixtures.NewFakeDevice().AddProcess(1, "init") },
			wantErr: domain.ErrProcessNotFound,
		},
		{
			name: "no framebuffer",
			device: func() *fixtures.FakeDevice {
				return fixtures.NewFakeDevice().AddProcess(412, "xochitl", fixtures.Mapping(0x1000, 0x1000, ""))
			},
			wantErr: domain.ErrFramebufferNotFound,
		},
		{
			name: "interrupted read",
			device: func() *fixtures.FakeDevice {
				d := fixtures.PlaceFrame(412, "xochitl", 0x73c6f000, 0, raw)
				d.Truncate = 1 << 20
				return d
			},
			wantErr: domain.ErrPartialRead,
		},
		{
			name: "access denied",
			device: func() *fixtures.FakeDevice {
				d := fixtures.PlaceFrame(412, "xochitl", 0x73c6f000, 0, raw)
				d.ReadErr = domain.ErrAccessDenied
				return d
			},
			wantErr: domain.ErrAccessDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outDir := t.TempDir()
			w := newMockImageWriter()
			catalog := &mockCatalog{}

			res, err := newTestCapturer(t, outDir, w, nil).WithCatalog(catalog).Capture(context.Background(), tt.device())

			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, w.images, "no stage substitutes data")
			assert.Empty(t, catalog.records)
		})
	}
}

func TestCapturer_ExportFailureIsNotJournaled(t *testing.T) {
	raw := strokePage().Encode(portraitGray8, nil)
	dev := fixtures.PlaceFrame(412, "xochitl", 0x73c6f000, 0, raw)
	outDir := t.TempDir()
	w := newMockImageWriter()
	_, cropped, _, _ := OutputPaths(outDir, fixedTime, "png")
	w.failFor[cropped] = errors.New("read-only file system")
	catalog := &mockCatalog{}

	res, err := newTestCapturer(t, outDir, w, nil).WithCatalog(catalog).Capture(context.Background(), dev)

	require.ErrorIs(t, err, domain.ErrExport)
	require.NotNil(t, res)
	assert.True(t, res.Export.FullWritten())
	assert.False(t, res.Export.CroppedWritten())
	assert.Empty(t, catalog.records)
	assert.Equal(t, domain.ExitExport, domain.ExitCode(err))
}

func TestCapturer_CatalogFailureDoesNotFailCapture(t *testing.T) {
	raw := strokePage().Encode(portraitGray8, nil)
	dev := fixtures.PlaceFrame(412, "xochitl", 0x73c6f000, 0, raw)
	catalog := &mockCatalog{recordErr: errors.New("database is locked")}

	res, err := newTestCapturer(t, t.TempDir(), newMockImageWriter(), nil).WithCatalog(catalog).
		Capture(context.Background(), dev)

	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestCapturer_ReprocessRejectsWrongSize(t *testing.T) {
	w := newMockImageWriter()
	_, err := newTestCapturer(t, t.TempDir(), w, nil).
		Reprocess(context.Background(), make([]byte, 100), portraitGray8)

	assert.ErrorIs(t, err, domain.ErrDecode)
	assert.Empty(t, w.images)
}
