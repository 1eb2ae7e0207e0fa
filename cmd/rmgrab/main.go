// Package main is the CLI entry point for rmgrab.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/rmgrab/internal/config"
	"github.com/eliteGoblin/rmgrab/internal/domain"
	"github.com/eliteGoblin/rmgrab/internal/infra"
	"github.com/eliteGoblin/rmgrab/internal/profile"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(domain.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "rmgrab",
	Short: "Screenshot a reMarkable tablet and crop to the ink",
	Long: `rmgrab reads the live framebuffer out of the reMarkable display process
over SSH, saves it as an image, and writes a second copy cropped to the
handwriting on the page.

The cropped image path is printed to stdout; logs go to stderr.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List device profiles",
	Long:  `Shows the built-in device profiles and their framebuffer layouts.`,
	RunE:  runProfiles,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent captures",
	Long:  `Lists captures recorded in the encrypted catalog, newest first.`,
	RunE:  runHistory,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Writes the defaults of the selected profile to the configuration file
(--config, or ~/.rmgrab/config.yaml).`,
	RunE: runConfigInit,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath   string
	profileID    string
	verbose      bool
	logFile      string
	jsonOutput   bool
	historyLimit int
	forceInit    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.rmgrab/config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&profileID, "profile", profile.DefaultProfileID, "Device profile")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file")

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of captures to show (0 for all)")
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func createLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	if logFile != "" {
		config.OutputPaths = append(config.OutputPaths, logFile)
	}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr only if the log file cannot be opened
		logger, _ = zap.NewProduction()
	}
	return logger
}

// loadConfig resolves the config file and the --profile flag into a Config.
func loadConfig(cmd *cobra.Command, fs domain.FileSystemManager) (*config.Config, error) {
	registry := profile.NewRegistry()

	path := configPath
	if path == "" {
		candidate := fs.ExpandHome(config.DefaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}

	if path == "" {
		settings, err := registry.Lookup(profileID)
		if err != nil {
			return nil, err
		}
		return config.Default(settings), nil
	}

	cfg, err := config.Load(fs.ExpandHome(path), registry, profileID)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("profile") && cfg.Profile != profileID {
		return nil, fmt.Errorf("%w: config file %s selects profile %q but --profile is %q",
			domain.ErrConfig, path, cfg.Profile, profileID)
	}
	return cfg, nil
}

func runProfiles(cmd *cobra.Command, args []string) error {
	registry := profile.NewRegistry()

	fmt.Println("\n=== Device Profiles ===")
	for _, p := range registry.GetAll() {
		g := p.Geometry()
		w, h := g.UprightSize()
		fmt.Printf("\n[%s] %s\n", p.ID(), p.Name())
		fmt.Printf("  Process:     %s\n", p.ProcessName())
		fmt.Printf("  Frame:       %dx%d %s, header offset %d\n", g.Width, g.Height, g.Format, g.HeaderOffset)
		fmt.Printf("  Upright:     %dx%d (rotate %d, flip %v)\n", w, h, g.Rotation, g.FlipHorizontal)
		if anchor := p.AnchorLabel(); anchor != "" {
			fmt.Printf("  Anchor:      %s\n", anchor)
		}
		for _, r := range p.ExcludedRegions() {
			fmt.Printf("  Excluded:    %s\n", r)
		}
	}
	fmt.Println("\n=======================")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	fs := infra.NewFileSystemManager()
	cfg, err := loadConfig(cmd, fs)
	if err != nil {
		return err
	}

	opts := catalogOptions(cfg, fs)
	if !opts.Exists() {
		fmt.Println("No captures recorded.")
		return nil
	}
	catalog, err := infra.OpenCatalog(opts)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer catalog.Close()

	records, err := catalog.List(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("list captures: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No captures recorded.")
		return nil
	}

	for _, r := range records {
		fallback := ""
		if r.Box.Fallback {
			fallback = " (no ink, full page)"
		}
		fmt.Printf("#%d  %s  %s  pid %d @ %#x\n", r.ID, r.CapturedAt.Local().Format("2006-01-02 15:04:05"),
			r.Device, r.PID, r.BaseAddress)
		fmt.Printf("     box %s%s\n", r.Box, fallback)
		fmt.Printf("     %s\n", r.CroppedPath)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	fs := infra.NewFileSystemManager()

	path := configPath
	if path == "" {
		path = config.DefaultConfigFile
	}
	path = fs.ExpandHome(path)

	if _, err := os.Stat(path); err == nil && !forceInit {
		return fmt.Errorf("%w: %s already exists (use --force to overwrite)", domain.ErrConfig, path)
	}

	settings, err := profile.NewRegistry().Lookup(profileID)
	if err != nil {
		return err
	}
	if err := config.Default(settings).Write(path); err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(out))
	} else {
		fmt.Printf("rmgrab %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
