//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/disintegration/imaging"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/rmgrab/internal/config"
	"github.com/eliteGoblin/rmgrab/internal/domain"
	"github.com/eliteGoblin/rmgrab/internal/infra"
	"github.com/eliteGoblin/rmgrab/internal/profile"
	"github.com/eliteGoblin/rmgrab/internal/usecase"
	"github.com/eliteGoblin/rmgrab/test/fixtures"
)

func buildCapturer(cfg *config.Config, at time.Time) *usecase.Capturer {
	logger := zap.NewNop()
	reconstructor, err := usecase.NewReconstructor(infra.NewRawDecoder(), cfg.ReconstructorConfig(), logger)
	Expect(err).NotTo(HaveOccurred())

	return usecase.NewCapturer(
		cfg.CaptureConfig(),
		usecase.NewInspector(cfg.InspectorConfig(), logger),
		usecase.NewExtractor(cfg.ExtractorConfig(), logger),
		reconstructor,
		usecase.NewDetector(cfg.DetectorConfig(), logger),
		infra.NewImageFileWriter(0),
		infra.NewFileSystemManager(),
		logger,
	).WithClock(func() time.Time { return at })
}

var _ = Describe("Capture pipeline", func() {
	var (
		tmpDir   string
		registry *profile.Registry
		catalog  *infra.EncryptedCatalog
		ctx      context.Context
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "rmgrab-integration-*")
		Expect(err).NotTo(HaveOccurred())

		registry = profile.NewRegistry()
		catalog, err = infra.OpenCatalog(infra.CatalogOptions{DataDir: tmpDir + "/data"})
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		catalog.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("reMarkable 2 profile", func() {
		var (
			cfg  *config.Config
			page *fixtures.Page
			dev  *fixtures.FakeDevice
		)

		BeforeEach(func() {
			settings, err := registry.Lookup("rm2")
			Expect(err).NotTo(HaveOccurred())
			cfg = config.Default(settings)
			cfg.Device.Address = "10.11.99.1"
			cfg.Output.Dir = tmpDir + "/shots"
			cfg.Output.KeepRaw = true
			Expect(cfg.ValidateRemote()).To(Succeed())
			Expect(cfg.Catalog.Enabled).To(BeFalse())

			// portrait page: a dark menu icon in the corner and one pen stroke
			page = fixtures.NewPage(1404, 1872).
				Fill(domain.Rect{X0: 20, Y0: 20, X1: 120, Y1: 120}, 0).
				Fill(domain.Rect{X0: 400, Y0: 600, X1: 800, Y1: 612}, 0)

			raw := page.Encode(cfg.Geometry(), fixtures.NarrowBand(0.045, 0.06))
			dev = fixtures.PlaceFrame(1187, "xochitl", 0x73c6f000, cfg.Framebuffer.HeaderOffset, raw)
		})

		Context("when the frame follows the /dev/fb0 mapping", func() {
			It("should crop around the stroke and journal the capture", func() {
				at := time.Date(2026, 10, 17, 8, 0, 0, 0, time.Local)
				res, err := buildCapturer(cfg, at).WithCatalog(catalog).Capture(ctx, dev)
				Expect(err).NotTo(HaveOccurred())

				Expect(res.Region.Base).To(Equal(uint64(0x73c6f000)))
				Expect(res.Width).To(Equal(1404))
				Expect(res.Height).To(Equal(1872))
				Expect(res.Detection.Box).To(Equal(domain.BoundingBox{MinX: 350, MinY: 550, MaxX: 849, MaxY: 661}))

				cropped, err := imaging.Open(res.Export.CroppedPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(cropped.Bounds().Dx()).To(Equal(500))
				Expect(cropped.Bounds().Dy()).To(Equal(112))

				records, err := catalog.List(ctx, 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))
				Expect(records[0].Device).To(Equal("10.11.99.1"))
				Expect(records[0].PID).To(Equal(1187))
				Expect(records[0].BaseAddress).To(Equal(uint64(0x73c6f000)))
				Expect(records[0].CropSHA256).To(Equal(res.CropSHA256))
			})

			It("should reprocess the kept raw frame to the same crop", func() {
				capturer := buildCapturer(cfg, time.Date(2026, 10, 17, 8, 0, 0, 0, time.Local))
				res, err := capturer.Capture(ctx, dev)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.RawPath).To(BeAnExistingFile())

				raw, err := os.ReadFile(res.RawPath)
				Expect(err).NotTo(HaveOccurred())
				again, err := capturer.Reprocess(ctx, raw, cfg.Geometry())
				Expect(err).NotTo(HaveOccurred())
				Expect(again.Detection.Box).To(Equal(res.Detection.Box))
				Expect(again.CropSHA256).To(Equal(res.CropSHA256))
			})
		})

		Context("when the page holds only the menu icon", func() {
			It("should fall back to the whole page", func() {
				blank := fixtures.NewPage(1404, 1872).Fill(domain.Rect{X0: 20, Y0: 20, X1: 120, Y1: 120}, 0)
				raw := blank.Encode(cfg.Geometry(), fixtures.NarrowBand(0.045, 0.06))
				dev := fixtures.PlaceFrame(1187, "xochitl", 0x73c6f000, cfg.Framebuffer.HeaderOffset, raw)

				res, err := buildCapturer(cfg, time.Now()).Capture(ctx, dev)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Detection.Box.Fallback).To(BeTrue())
				Expect(res.Detection.Box.Width()).To(Equal(1404))
			})
		})

		Context("when xochitl is not running", func() {
			It("should report the process as missing without writing files", func() {
				dev := fixtures.NewFakeDevice().AddProcess(1, "init")

				_, err := buildCapturer(cfg, time.Now()).WithCatalog(catalog).Capture(ctx, dev)
				Expect(err).To(MatchError(domain.ErrProcessNotFound))
				Expect(domain.ExitCode(err)).To(Equal(domain.ExitProcessNotFound))
				Expect(cfg.Output.Dir).NotTo(BeADirectory())

				records, err := catalog.List(ctx, 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})
		})
	})

	Describe("8-bit profile loaded from a config file", func() {
		It("should skip the toolbar and record captures newest first", func() {
			yml := fmt.Sprintf("profile: gray8\noutput:\n  dir: %[1]s/shots\n  format: jpg\ndevice:\n  address: tablet.local\n"+
				"catalog:\n  enabled: true\n  data_dir: %[1]s/data\n", tmpDir)
			cfg, err := config.Parse([]byte(yml), registry, profile.DefaultProfileID)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Profile).To(Equal("gray8"))
			Expect(cfg.Catalog.Enabled).To(BeTrue())
			Expect(cfg.Catalog.DataDir).To(Equal(tmpDir + "/data"))

			page := fixtures.NewPage(1872, 1404).
				Fill(domain.Rect{X0: 0, Y0: 0, X1: 1872, Y1: 60}, 10).
				Fill(domain.Rect{X0: 1000, Y0: 900, X1: 1100, Y1: 1000}, 40)
			dev := fixtures.PlaceFrame(300, "xochitl", 0x40000000, 0, page.Encode(cfg.Geometry(), nil))

			first := time.Date(2026, 10, 17, 8, 0, 0, 0, time.Local)
			for i := 0; i < 2; i++ {
				res, err := buildCapturer(cfg, first.Add(time.Duration(i)*time.Minute)).WithCatalog(catalog).Capture(ctx, dev)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Detection.Box).To(Equal(domain.BoundingBox{MinX: 950, MinY: 850, MaxX: 1149, MaxY: 1049}))
				Expect(res.Export.CroppedPath).To(HaveSuffix("_cropped.jpg"))
				Expect(res.Export.CroppedPath).To(BeAnExistingFile())
			}

			records, err := catalog.List(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
			Expect(records[0].CapturedAt.After(records[1].CapturedAt)).To(BeTrue())
			Expect(records[0].Device).To(Equal("tablet.local"))
		})
	})
})
