package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/rmgrab/internal/config"
	"github.com/eliteGoblin/rmgrab/internal/domain"
	"github.com/eliteGoblin/rmgrab/internal/infra"
	"github.com/eliteGoblin/rmgrab/internal/usecase"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Grab the screen and write full and cropped images",
	Long: `Connects to the tablet, locates the framebuffer in the display process,
copies one frame, and writes the upright image plus a copy cropped to the ink.

With --local the frame is read from this machine's /proc (run on the tablet).
With --from-raw a previously kept raw frame is processed instead.`,
	Example: `  rmgrab capture -I 10.11.99.1 -d ~/Pictures/remarkable
  rmgrab capture -I 10.11.99.1 --exclude 0,0,1404,120 --debug-overlay
  rmgrab capture --from-raw 10-17-2026-09-30-00-remarkable-screen.raw`,
	RunE: runCapture,
}

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Show framebuffer candidates without reading pixels",
	Long: `Lists every display process and the memory mappings that could hold the
framebuffer, best candidate first.`,
	RunE: runLocate,
}

// captureFlags are the per-run overrides of config values.
type captureFlags struct {
	address      string
	directory    string
	process      string
	threshold    int
	minArea      int
	margin       int
	connectivity int
	exclude      []string
	user         string
	identity     string
	password     string
	knownHosts   string
	acceptNew    bool
	timeout      time.Duration
	readTimeout  time.Duration
	retries      int
	local        bool
	keepRaw      bool
	debugOverlay bool
	fromRaw      string
	format       string
	catalog      bool
}

var flags captureFlags

func init() {
	for _, cmd := range []*cobra.Command{captureCmd, locateCmd} {
		f := cmd.Flags()
		f.StringVarP(&flags.address, "ip-address", "I", "", "Device address")
		f.StringVar(&flags.process, "process", "", "Display process name")
		f.StringVar(&flags.user, "user", "", "SSH user")
		f.StringVar(&flags.identity, "identity", "", "SSH private key file")
		f.StringVar(&flags.password, "password", "", "SSH password")
		f.StringVar(&flags.knownHosts, "known-hosts", "", "known_hosts file")
		f.BoolVar(&flags.acceptNew, "insecure-accept-new", false, "Trust and record unknown host keys")
		f.DurationVar(&flags.timeout, "timeout", 0, "SSH connect timeout")
		f.BoolVar(&flags.local, "local", false, "Read this machine's /proc instead of connecting")
	}

	f := captureCmd.Flags()
	f.StringVarP(&flags.directory, "directory", "d", "", "Output directory")
	f.IntVar(&flags.threshold, "threshold", 0, "Ink threshold (pixels darker than this are ink)")
	f.IntVar(&flags.minArea, "min-area", 0, "Minimum ink component area in pixels")
	f.IntVar(&flags.margin, "margin", 0, "Padding around the ink box")
	f.IntVar(&flags.connectivity, "connectivity", 0, "Pixel connectivity, 4 or 8")
	f.StringArrayVar(&flags.exclude, "exclude", nil, "Excluded region x0,y0,x1,y1 (repeatable, replaces the profile's)")
	f.DurationVar(&flags.readTimeout, "read-timeout", 0, "Framebuffer read timeout")
	f.BoolVar(&flags.keepRaw, "keep-raw", false, "Keep the raw frame for --from-raw")
	f.BoolVar(&flags.debugOverlay, "debug-overlay", false, "Write an image showing detected ink")
	f.StringVar(&flags.format, "format", "", "Output format: png, jpg, gif, tif, bmp")
	f.BoolVar(&flags.catalog, "catalog", false, "Record the capture in the encrypted catalog")
	f.IntVar(&flags.retries, "retries", 0, "Re-run the capture on connection, partial read or timeout errors")
	f.StringVar(&flags.fromRaw, "from-raw", "", "Process a kept raw frame instead of capturing")
}

// applyFlags overrides config values with flags the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config, fl captureFlags) error {
	changed := cmd.Flags().Changed

	if changed("ip-address") {
		cfg.Device.Address = fl.address
	}
	if changed("user") {
		cfg.Device.User = fl.user
	}
	if changed("identity") {
		cfg.Device.Identity = fl.identity
	}
	if changed("password") {
		cfg.Device.Password = fl.password
	}
	if changed("known-hosts") {
		cfg.Device.KnownHosts = fl.knownHosts
	}
	if changed("insecure-accept-new") {
		cfg.Device.AcceptNew = fl.acceptNew
	}
	if changed("timeout") {
		cfg.Device.ConnectTimeout = fl.timeout
	}
	if changed("process") {
		cfg.Framebuffer.Process = fl.process
	}
	if changed("read-timeout") {
		cfg.Framebuffer.ReadTimeout = fl.readTimeout
	}
	if changed("directory") {
		cfg.Output.Dir = fl.directory
	}
	if changed("format") {
		cfg.Output.Format = fl.format
	}
	if changed("keep-raw") {
		cfg.Output.KeepRaw = fl.keepRaw
	}
	if changed("debug-overlay") {
		cfg.Output.DebugOverlay = fl.debugOverlay
	}
	if changed("catalog") {
		cfg.Catalog.Enabled = fl.catalog
	}
	if changed("threshold") {
		cfg.Detection.Threshold = fl.threshold
	}
	if changed("min-area") {
		cfg.Detection.MinArea = fl.minArea
	}
	if changed("margin") {
		cfg.Detection.Margin = fl.margin
	}
	if changed("connectivity") {
		cfg.Detection.Connectivity = fl.connectivity
	}
	if changed("retries") {
		cfg.Retries = fl.retries
	}
	if changed("exclude") {
		cfg.Detection.Excluded = nil
		for _, s := range fl.exclude {
			r, err := config.ParseRect(s)
			if err != nil {
				return err
			}
			cfg.Detection.Excluded = append(cfg.Detection.Excluded, r)
		}
	}
	return nil
}

// openDevice connects to the configured device.
func openDevice(ctx context.Context, cfg *config.Config, local bool, fs domain.FileSystemManager, logger *zap.Logger) (domain.Device, error) {
	if local {
		return infra.NewLocalDevice(logger), nil
	}
	shell, err := infra.DialSSH(ctx, cfg.Target(fs.ExpandHome), logger)
	if err != nil {
		return nil, err
	}
	return infra.NewShellDevice(shell, logger), nil
}

func buildCapturer(cfg *config.Config, fs domain.FileSystemManager, logger *zap.Logger) (*usecase.Capturer, error) {
	reconstructor, err := usecase.NewReconstructor(infra.NewRawDecoder(), cfg.ReconstructorConfig(), logger)
	if err != nil {
		return nil, err
	}
	return usecase.NewCapturer(
		cfg.CaptureConfig(),
		usecase.NewInspector(cfg.InspectorConfig(), logger),
		usecase.NewExtractor(cfg.ExtractorConfig(), logger),
		reconstructor,
		usecase.NewDetector(cfg.DetectorConfig(), logger),
		infra.NewImageFileWriter(0),
		fs,
		logger,
	), nil
}

func catalogOptions(cfg *config.Config, fs domain.FileSystemManager) infra.CatalogOptions {
	return infra.CatalogOptions{
		DataDir: fs.ExpandHome(cfg.Catalog.DataDir),
		KeyFile: fs.ExpandHome(cfg.Catalog.KeyFile),
	}
}

// attachCatalog opens the catalog when enabled. A catalog that cannot be
// opened only costs the journal entry.
func attachCatalog(capturer *usecase.Capturer, cfg *config.Config, fs domain.FileSystemManager, logger *zap.Logger) func() {
	if !cfg.Catalog.Enabled {
		return func() {}
	}
	catalog, err := infra.OpenCatalog(catalogOptions(cfg, fs))
	if err != nil {
		logger.Warn("capture catalog unavailable", zap.Error(err))
		return func() {}
	}
	capturer.WithCatalog(catalog)
	return func() { _ = catalog.Close() }
}

func runCapture(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext(logger)
	defer cancel()

	fs := infra.NewFileSystemManager()
	cfg, err := loadConfig(cmd, fs)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg, flags); err != nil {
		return err
	}

	remote := !flags.local && flags.fromRaw == ""
	if remote {
		err = cfg.ValidateRemote()
	} else {
		err = cfg.Validate()
	}
	if err != nil {
		return err
	}

	capturer, err := buildCapturer(cfg, fs, logger)
	if err != nil {
		return err
	}

	closeCatalog := attachCatalog(capturer, cfg, fs, logger)
	defer closeCatalog()

	var result *domain.CaptureResult
	if flags.fromRaw != "" {
		raw, err := fs.ReadFile(fs.ExpandHome(flags.fromRaw))
		if err != nil {
			return fmt.Errorf("%w: read raw frame: %v", domain.ErrConfig, err)
		}
		result, err = capturer.Reprocess(ctx, raw, cfg.Geometry())
		if err != nil {
			printOutputs(result)
			return err
		}
	} else {
		err = retry(ctx, cfg.Retries, time.Second, logger, func(ctx context.Context) error {
			device, err := openDevice(ctx, cfg, flags.local, fs, logger)
			if err != nil {
				return err
			}
			defer device.Close()

			result, err = capturer.Capture(ctx, device)
			return err
		})
		if err != nil {
			printOutputs(result)
			return err
		}
	}

	printOutputs(result)
	return nil
}

// printOutputs writes the cropped path to stdout, the full path when only it exists.
func printOutputs(result *domain.CaptureResult) {
	if result == nil {
		return
	}
	switch {
	case result.Export.CroppedWritten():
		fmt.Println(result.Export.CroppedPath)
	case result.Export.FullWritten():
		fmt.Println(result.Export.FullPath)
	}
}

func runLocate(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext(logger)
	defer cancel()

	fs := infra.NewFileSystemManager()
	cfg, err := loadConfig(cmd, fs)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg, flags); err != nil {
		return err
	}
	if flags.local {
		err = cfg.Validate()
	} else {
		err = cfg.ValidateRemote()
	}
	if err != nil {
		return err
	}

	device, err := openDevice(ctx, cfg, flags.local, fs, logger)
	if err != nil {
		return err
	}
	defer device.Close()

	inspector := usecase.NewInspector(cfg.InspectorConfig(), logger)
	pids, err := inspector.FindProcesses(ctx, device, cfg.Framebuffer.Process)
	if err != nil {
		return err
	}

	g := cfg.Geometry()
	fmt.Printf("Frame: %dx%d %s (%d bytes), header offset %d\n", g.Width, g.Height, g.Format, g.FrameSize(), g.HeaderOffset)

	found := false
	for _, pid := range pids {
		handle, candidates, err := inspector.Inspect(ctx, device, pid)
		if err != nil {
			if errors.Is(err, domain.ErrConnection) {
				return err
			}
			fmt.Printf("\n[%d] %s: %v\n", pid, cfg.Framebuffer.Process, err)
			continue
		}
		fmt.Printf("\n[%d] %s: %d mappings, %d candidates\n", handle.PID, handle.Name, len(handle.Entries), len(candidates))
		for i, c := range candidates {
			marks := ""
			if c.Anchored {
				marks += " anchored"
			}
			if c.Exact() {
				marks += " exact"
			}
			label := c.Entry.Label
			if label == "" {
				label = "[anon]"
			}
			fmt.Printf("  %d. %#x-%#x %s %-20s frames=%d rem=%d%s\n",
				i+1, c.Entry.Start, c.Entry.End, c.Entry.Perms, label, c.Frames, c.Remainder, marks)
		}
		if len(candidates) > 0 {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: no candidate mapping in %d %s process(es)",
			domain.ErrFramebufferNotFound, len(pids), cfg.Framebuffer.Process)
	}
	return nil
}
