// Package config loads rmgrab settings from YAML and turns them into the
// per-stage configs the pipeline constructors take.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/rmgrab/internal/domain"
	"github.com/eliteGoblin/rmgrab/internal/profile"
	"github.com/eliteGoblin/rmgrab/internal/usecase"
)

const (
	// DefaultDataDir holds the config file and the capture catalog.
	DefaultDataDir = "~/.rmgrab"
	// DefaultConfigFile is looked up when --config is not given.
	DefaultConfigFile = DefaultDataDir + "/config.yaml"

	DefaultUser           = "root"
	DefaultPort           = 22
	DefaultConnectTimeout = 10 * time.Second
	DefaultKnownHosts     = "~/.ssh/known_hosts"
	DefaultOutputDir      = "."
	DefaultFormat         = "png"
)

var supportedFormats = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "tif": true, "tiff": true, "bmp": true,
}

// Config is the full on-disk configuration.
type Config struct {
	Profile     string            `yaml:"profile"`
	Device      DeviceConfig      `yaml:"device"`
	Framebuffer FramebufferConfig `yaml:"framebuffer"`
	Levels      usecase.Levels    `yaml:"levels"`
	Detection   DetectionConfig   `yaml:"detection"`
	Output      OutputConfig      `yaml:"output"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Retries     int               `yaml:"retries"`
}

// DeviceConfig is how to reach the device over SSH.
type DeviceConfig struct {
	Address        string        `yaml:"address"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Identity       string        `yaml:"identity,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	KnownHosts     string        `yaml:"known_hosts"`
	AcceptNew      bool          `yaml:"accept_new"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// FramebufferConfig locates and reads the frame.
type FramebufferConfig struct {
	Process        string             `yaml:"process"`
	Width          int                `yaml:"width"`
	Height         int                `yaml:"height"`
	BytesPerPixel  int                `yaml:"bytes_per_pixel"`
	Format         domain.PixelFormat `yaml:"format"`
	Rotation       int                `yaml:"rotation"`
	FlipHorizontal bool               `yaml:"flip_horizontal"`
	HeaderOffset   uint64             `yaml:"header_offset"`
	SizeTolerance  uint64             `yaml:"size_tolerance"`
	LabelPattern   string             `yaml:"label_pattern,omitempty"`
	AnchorLabel    string             `yaml:"anchor_label,omitempty"`
	ReadTimeout    time.Duration      `yaml:"read_timeout"`
}

// DetectionConfig tunes ink detection.
type DetectionConfig struct {
	Threshold    int           `yaml:"threshold"`
	MinArea      int           `yaml:"min_area"`
	Margin       int           `yaml:"margin"`
	Connectivity int           `yaml:"connectivity"`
	Excluded     []domain.Rect `yaml:"excluded"`
}

// OutputConfig controls where and how images are written.
type OutputConfig struct {
	Dir          string `yaml:"dir"`
	Format       string `yaml:"format"`
	KeepRaw      bool   `yaml:"keep_raw"`
	DebugOverlay bool   `yaml:"debug_overlay"`
}

// CatalogConfig controls the encrypted capture journal. It is off unless
// enabled in the file or with --catalog.
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	DataDir string `yaml:"data_dir"`
	KeyFile string `yaml:"key_file,omitempty"` // defaults to <data_dir>/.catalog.key
}

// Default returns a config seeded from a device profile.
func Default(p profile.Settings) *Config {
	g := p.Geometry
	return &Config{
		Profile: p.ID,
		Device: DeviceConfig{
			Port:           DefaultPort,
			User:           DefaultUser,
			KnownHosts:     DefaultKnownHosts,
			ConnectTimeout: DefaultConnectTimeout,
		},
		Framebuffer: FramebufferConfig{
			Process:        p.ProcessName,
			Width:          g.Width,
			Height:         g.Height,
			BytesPerPixel:  g.BytesPerPixel,
			Format:         g.Format,
			Rotation:       g.Rotation,
			FlipHorizontal: g.FlipHorizontal,
			HeaderOffset:   g.HeaderOffset,
			SizeTolerance:  usecase.DefaultSizeTolerance,
			AnchorLabel:    p.AnchorLabel,
			ReadTimeout:    usecase.DefaultReadTimeout,
		},
		Levels: p.Levels,
		Detection: DetectionConfig{
			Threshold:    usecase.DefaultInkThreshold,
			MinArea:      usecase.DefaultMinArea,
			Margin:       usecase.DefaultMargin,
			Connectivity: usecase.DefaultConnectivity,
			Excluded:     append([]domain.Rect(nil), p.Excluded...),
		},
		Output: OutputConfig{
			Dir:    DefaultOutputDir,
			Format: DefaultFormat,
		},
		Catalog: CatalogConfig{
			Enabled: false,
			DataDir: DefaultDataDir,
		},
	}
}

// Load reads a YAML file. The profile named in the file (or fallbackProfile
// when the file names none) seeds every value the file leaves out.
func Load(path string, registry *profile.Registry, fallbackProfile string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config %s: %v", domain.ErrConfig, path, err)
	}
	return Parse(data, registry, fallbackProfile)
}

// Parse decodes YAML config data; see Load.
func Parse(data []byte, registry *profile.Registry, fallbackProfile string) (*Config, error) {
	var header struct {
		Profile string `yaml:"profile"`
	}
	if err := yaml.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", domain.ErrConfig, err)
	}

	id := header.Profile
	if id == "" {
		id = fallbackProfile
	}
	settings, err := registry.Lookup(id)
	if err != nil {
		return nil, err
	}

	cfg := Default(settings)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse config: %v", domain.ErrConfig, err)
	}
	return cfg, nil
}

// Validate checks the whole config once, before any stage runs.
func (c *Config) Validate() error {
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", domain.ErrConfig, c.Device.Port)
	}
	if c.Device.User == "" {
		return fmt.Errorf("%w: device user is required", domain.ErrConfig)
	}
	if c.Framebuffer.Process == "" {
		return fmt.Errorf("%w: display process name is required", domain.ErrConfig)
	}
	if err := c.Geometry().Validate(); err != nil {
		return err
	}
	if err := c.Levels.Validate(); err != nil {
		return err
	}
	if c.Detection.Threshold < 1 || c.Detection.Threshold > 255 {
		return fmt.Errorf("%w: threshold must be in 1..255, got %d", domain.ErrConfig, c.Detection.Threshold)
	}
	if err := c.DetectorConfig().Validate(); err != nil {
		return err
	}
	for _, r := range c.Detection.Excluded {
		if r.Empty() {
			return fmt.Errorf("%w: excluded region %s is empty", domain.ErrConfig, r)
		}
	}
	if !supportedFormats[strings.ToLower(c.Output.Format)] {
		return fmt.Errorf("%w: unsupported output format %q", domain.ErrConfig, c.Output.Format)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("%w: output directory is required", domain.ErrConfig)
	}
	if c.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative, got %d", domain.ErrConfig, c.Retries)
	}
	return nil
}

// ValidateRemote additionally checks what an SSH capture needs.
func (c *Config) ValidateRemote() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Device.Address == "" {
		return fmt.Errorf("%w: device address is required (-I or device.address)", domain.ErrConfig)
	}
	return nil
}

// Write saves the config as YAML, creating parent directories.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	header := []byte("# rmgrab configuration\n")
	return os.WriteFile(path, append(header, data...), 0644)
}

// Geometry returns the configured frame layout.
func (c *Config) Geometry() domain.FramebufferGeometry {
	fb := c.Framebuffer
	return domain.FramebufferGeometry{
		Width:          fb.Width,
		Height:         fb.Height,
		BytesPerPixel:  fb.BytesPerPixel,
		Format:         fb.Format,
		Rotation:       fb.Rotation,
		FlipHorizontal: fb.FlipHorizontal,
		HeaderOffset:   fb.HeaderOffset,
	}
}

// Target returns the SSH target, with home-relative paths expanded by expand.
func (c *Config) Target(expand func(string) string) domain.RemoteTarget {
	d := c.Device
	target := domain.RemoteTarget{
		Address:        d.Address,
		Port:           d.Port,
		User:           d.User,
		KeyPath:        d.Identity,
		Password:       d.Password,
		KnownHostsPath: d.KnownHosts,
		AcceptNewHosts: d.AcceptNew,
		ConnectTimeout: d.ConnectTimeout,
	}
	if expand != nil {
		target.KeyPath = expand(target.KeyPath)
		target.KnownHostsPath = expand(target.KnownHostsPath)
	}
	return target
}

func (c *Config) InspectorConfig() usecase.InspectorConfig {
	return usecase.InspectorConfig{
		ProcessName:   c.Framebuffer.Process,
		Geometry:      c.Geometry(),
		SizeTolerance: c.Framebuffer.SizeTolerance,
		LabelPattern:  c.Framebuffer.LabelPattern,
		AnchorLabel:   c.Framebuffer.AnchorLabel,
	}
}

func (c *Config) ExtractorConfig() usecase.ExtractorConfig {
	return usecase.ExtractorConfig{ReadTimeout: c.Framebuffer.ReadTimeout}
}

func (c *Config) ReconstructorConfig() usecase.ReconstructorConfig {
	return usecase.ReconstructorConfig{Levels: c.Levels}
}

func (c *Config) DetectorConfig() usecase.DetectorConfig {
	return usecase.DetectorConfig{
		Threshold:    uint8(c.Detection.Threshold),
		MinArea:      c.Detection.MinArea,
		Margin:       c.Detection.Margin,
		Connectivity: c.Detection.Connectivity,
	}
}

// CaptureConfig returns the run-level pipeline settings.
func (c *Config) CaptureConfig() usecase.CaptureConfig {
	return usecase.CaptureConfig{
		ProcessName:  c.Framebuffer.Process,
		Excluded:     append([]domain.Rect(nil), c.Detection.Excluded...),
		OutputDir:    c.Output.Dir,
		Format:       strings.ToLower(c.Output.Format),
		KeepRaw:      c.Output.KeepRaw,
		DebugOverlay: c.Output.DebugOverlay,
		DeviceLabel:  c.Device.Address,
	}
}

// ParseRect parses "x0,y0,x1,y1" as used by --exclude.
func ParseRect(s string) (domain.Rect, error) {
	var r domain.Rect
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return r, fmt.Errorf("%w: region %q must be x0,y0,x1,y1", domain.ErrConfig, s)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return r, fmt.Errorf("%w: region %q: %v", domain.ErrConfig, s, err)
		}
		vals[i] = v
	}
	r = domain.Rect{X0: vals[0], Y0: vals[1], X1: vals[2], Y1: vals[3]}
	if r.Empty() {
		return r, fmt.Errorf("%w: region %q is empty", domain.ErrConfig, s)
	}
	return r, nil
}
