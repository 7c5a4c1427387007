// Package config provides configuration loading and management for volshot.
// It handles loading configuration from YAML files, provides default values
// and lets command line flags override what the file says.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"volshot/pkg/camera"
	"volshot/pkg/output"
	"volshot/pkg/render"
	"volshot/pkg/transfer"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Render parameters
	Render struct {
		// Width and Height of the offscreen framebuffer in pixels
		Width  int `yaml:"width"`
		Height int `yaml:"height"`

		// Dither is a preset name: "none", "2x2" ... "8x8"
		Dither string `yaml:"dither"`

		// NumDitherSamples is the number of sub-pixel samples per pixel
		NumDitherSamples int `yaml:"numDitherSamples"`

		// CacheBlockSize is the edge length of a cache block in voxels
		CacheBlockSize int `yaml:"cacheBlockSize"`

		// MaxCacheMB bounds the voxel cache
		MaxCacheMB int `yaml:"maxCacheMB"`

		// MaxRenderMillis is the time budget of one render pass; 0 is unlimited
		MaxRenderMillis int `yaml:"maxRenderMillis"`

		// MaxStepInVoxels is the largest ray step in source voxels
		MaxStepInVoxels float64 `yaml:"maxStepInVoxels"`

		// MaxPasses caps the refinement passes per frame
		MaxPasses int `yaml:"maxPasses"`

		// NumCores specifies how many CPU cores render in parallel
		NumCores int `yaml:"numCores"`
	} `yaml:"render"`

	// Camera parameters
	Camera struct {
		// Projection is "perspective" or "orthographic"
		Projection string `yaml:"projection"`

		// Distance from the eye to the screen plane
		Distance float64 `yaml:"distance"`

		// ClipNear and ClipFar are the viewer-space depths of the clip planes
		ClipNear float64 `yaml:"clipNear"`
		ClipFar  float64 `yaml:"clipFar"`

		// Padding is the fraction of the shorter screen side the scene fills
		Padding float64 `yaml:"padding"`

		// FitIterations caps the fit solver
		FitIterations int `yaml:"fitIterations"`

		// Realign holds Euler angles in degrees (x, y, z) applied to the data
		Realign [3]float64 `yaml:"realign"`
	} `yaml:"camera"`

	// Movie parameters
	Movie struct {
		// Frames is the number of frames of a full turn
		Frames int `yaml:"frames"`

		// FailurePolicy is "abort" or "skip"
		FailurePolicy string `yaml:"failurePolicy"`
	} `yaml:"movie"`

	// Data parameters
	Data struct {
		// InputDir holds the intensity slices
		InputDir string `yaml:"inputDir"`

		// LabelDir optionally holds label slices used as a mask
		LabelDir string `yaml:"labelDir"`

		// MaskLabels selects labels to keep; empty keeps every non-zero label
		MaskLabels []int64 `yaml:"maskLabels"`

		// VoxelSize is the physical voxel size (x, y, z)
		VoxelSize [3]float64 `yaml:"voxelSize"`

		// Levels is the number of resolution levels to build
		Levels int `yaml:"levels"`

		// Level is the resolution level rendered for the final image
		Level int `yaml:"level"`

		// MinLevel hides levels finer than this one
		MinLevel int `yaml:"minLevel"`

		Timepoint int `yaml:"timepoint"`
	} `yaml:"data"`

	// Display parameters
	Display struct {
		Min   float64 `yaml:"min"`
		Max   float64 `yaml:"max"`
		Gamma float64 `yaml:"gamma"`

		AlphaMin   float64 `yaml:"alphaMin"`
		AlphaMax   float64 `yaml:"alphaMax"`
		AlphaGamma float64 `yaml:"alphaGamma"`

		// Color is a hex colour such as "#ff8800"
		Color string `yaml:"color"`

		// RenderType is "mip" or "volumetric"
		RenderType string `yaml:"renderType"`

		// LUT is an optional PNG or TGA lookup table
		LUT string `yaml:"lut"`

		// AutoContrast derives min and max from the data
		AutoContrast bool `yaml:"autoContrast"`
	} `yaml:"display"`

	// Output parameters
	Output struct {
		// Mode is "screenshot" or "movie"
		Mode string `yaml:"mode"`

		// Path is the screenshot file
		Path string `yaml:"path"`

		// Dir receives movie frames
		Dir string `yaml:"dir"`

		// Format of movie frames: "png" or "webp"
		Format string `yaml:"format"`

		// Width and Height resize the written images when both are set
		Width  int `yaml:"width"`
		Height int `yaml:"height"`

		// PreviewDir receives centre slice previews when set
		PreviewDir string `yaml:"previewDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default render parameters
	cfg.Render.Width = 800
	cfg.Render.Height = 600
	cfg.Render.Dither = "none"
	cfg.Render.NumDitherSamples = 3
	cfg.Render.CacheBlockSize = 32
	cfg.Render.MaxCacheMB = 500
	cfg.Render.MaxRenderMillis = 0
	cfg.Render.MaxStepInVoxels = 1
	cfg.Render.MaxPasses = render.DefaultMaxPasses
	cfg.Render.NumCores = runtime.NumCPU()

	// Set default camera parameters
	cfg.Camera.Projection = "orthographic"
	cfg.Camera.Distance = 3000
	cfg.Camera.ClipNear = 1
	cfg.Camera.ClipFar = 10000
	cfg.Camera.Padding = camera.DefaultPadding
	cfg.Camera.FitIterations = camera.DefaultFitIterations
	cfg.Camera.Realign = camera.DefaultRealign

	// Set default movie parameters
	cfg.Movie.Frames = 36
	cfg.Movie.FailurePolicy = "abort"

	// Set default data parameters
	cfg.Data.VoxelSize = [3]float64{1, 1, 1}
	cfg.Data.Levels = 3

	// Set default display parameters
	cfg.Display.Min = 0
	cfg.Display.Max = 1
	cfg.Display.Gamma = 1
	cfg.Display.AlphaGamma = 1
	cfg.Display.Color = "#ffffff"
	cfg.Display.RenderType = "mip"

	// Set default output parameters
	cfg.Output.Mode = "screenshot"
	cfg.Output.Path = "screenshot.png"
	cfg.Output.Dir = "movie"
	cfg.Output.Format = "png"
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Flags holds CLI flag values that override config file settings.
// Zero values leave the file setting alone.
type Flags struct {
	InputDir   string
	LabelDir   string
	Mode       string
	Output     string
	Format     string
	Projection string
	Dither     string
	Width      int
	Height     int
	Frames     int
	NumCores   int
	PreviewDir string
	Verbose    bool
}

// Resolve applies flag overrides and fixes up dependent settings.
func (c *Config) Resolve(flags Flags) {
	// CLI flags override config file
	if flags.InputDir != "" {
		c.Data.InputDir = flags.InputDir
	}
	if flags.LabelDir != "" {
		c.Data.LabelDir = flags.LabelDir
	}
	if flags.Mode != "" {
		c.Output.Mode = flags.Mode
	}
	if flags.Output != "" {
		if c.Output.Mode == "movie" {
			c.Output.Dir = flags.Output
		} else {
			c.Output.Path = flags.Output
		}
	}
	if flags.Format != "" {
		c.Output.Format = flags.Format
	}
	if flags.Projection != "" {
		c.Camera.Projection = flags.Projection
	}
	if flags.Dither != "" {
		c.Render.Dither = flags.Dither
	}
	if flags.Width > 0 {
		c.Render.Width = flags.Width
	}
	if flags.Height > 0 {
		c.Render.Height = flags.Height
	}
	if flags.Frames > 0 {
		c.Movie.Frames = flags.Frames
	}
	if flags.NumCores > 0 {
		c.Render.NumCores = flags.NumCores
	}
	if flags.PreviewDir != "" {
		c.Output.PreviewDir = flags.PreviewDir
	}
	if flags.Verbose {
		c.Output.Verbose = true
	}

	// The eye sits at viewer z = -distance and must stay in front of the
	// near clip plane
	if c.Camera.Distance <= -c.Camera.ClipNear {
		c.Camera.Distance = 5 - c.Camera.ClipNear
	}
	if c.Render.NumCores <= 0 {
		c.Render.NumCores = runtime.NumCPU()
	}
}

// ditherPresets maps preset names to dither widths.
var ditherPresets = map[string]int{
	"none": 1,
	"2x2":  2,
	"3x3":  3,
	"4x4":  4,
	"5x5":  5,
	"6x6":  6,
	"7x7":  7,
	"8x8":  8,
}

// ParseDither returns the dither width of a preset. Unknown names fall
// back to no dithering.
func ParseDither(preset string) int {
	if w, ok := ditherPresets[strings.ToLower(strings.TrimSpace(preset))]; ok {
		return w
	}
	return 1
}

// DitherWidth returns the configured dither width.
func (c *Config) DitherWidth() int {
	return ParseDither(c.Render.Dither)
}

// Validate checks value ranges. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		invalid("render size %dx%d", c.Render.Width, c.Render.Height)
	}
	if _, err := render.DitherStep(c.DitherWidth()); err != nil {
		invalid("%v", err)
	}
	if c.Render.NumDitherSamples < 1 {
		invalid("numDitherSamples %d must be at least 1", c.Render.NumDitherSamples)
	}
	if c.Render.CacheBlockSize < 1 || c.Render.MaxCacheMB < 1 {
		invalid("cache block size %d and budget %d MB must be positive", c.Render.CacheBlockSize, c.Render.MaxCacheMB)
	}
	if c.Render.MaxRenderMillis < 0 {
		invalid("maxRenderMillis %d is negative", c.Render.MaxRenderMillis)
	}
	if c.Render.MaxStepInVoxels <= 0 {
		invalid("maxStepInVoxels %g must be positive", c.Render.MaxStepInVoxels)
	}

	if _, err := c.Projection(); err != nil {
		invalid("%v", err)
	}
	if c.Camera.Padding <= 0 || c.Camera.Padding > 1 {
		invalid("padding %g must be in (0, 1]", c.Camera.Padding)
	}
	if c.Camera.FitIterations < 1 {
		invalid("fitIterations %d must be at least 1", c.Camera.FitIterations)
	}

	if c.Movie.Frames < 1 {
		invalid("movie frames %d must be at least 1", c.Movie.Frames)
	}
	if p := c.Movie.FailurePolicy; p != "abort" && p != "skip" {
		invalid("failure policy %q", p)
	}

	if c.Data.Levels < 1 || c.Data.Level < 0 || c.Data.MinLevel < 0 {
		invalid("levels %d, level %d, minLevel %d", c.Data.Levels, c.Data.Level, c.Data.MinLevel)
	}
	for i, v := range c.Data.VoxelSize {
		if v <= 0 {
			invalid("voxel size %d is %g", i, v)
		}
	}

	if _, err := transfer.ParseRenderType(c.Display.RenderType); err != nil {
		invalid("%v", err)
	}
	if _, err := ParseColor(c.Display.Color); err != nil {
		invalid("%v", err)
	}

	switch c.Output.Mode {
	case "screenshot":
		if c.Output.Path == "" {
			invalid("screenshot path is empty")
		}
	case "movie":
		if c.Output.Dir == "" {
			invalid("movie directory is empty")
		}
	default:
		invalid("output mode %q", c.Output.Mode)
	}
	if _, err := output.ParseFormat(c.Output.Format); err != nil {
		invalid("%v", err)
	}
	if (c.Output.Width > 0) != (c.Output.Height > 0) {
		invalid("output size %dx%d needs both dimensions", c.Output.Width, c.Output.Height)
	}

	return errors.Join(errs...)
}

// Projection builds the camera projection.
func (c *Config) Projection() (camera.Projection, error) {
	kind, err := camera.ParseKind(c.Camera.Projection)
	if err != nil {
		return camera.Projection{}, err
	}
	p := camera.Projection{
		Kind:     kind,
		Distance: c.Camera.Distance,
		Near:     c.Camera.ClipNear,
		Far:      c.Camera.ClipFar,
		Width:    c.Render.Width,
		Height:   c.Render.Height,
	}
	return p, p.Validate()
}

// ParseColor parses "#rrggbb" or "rrggbb".
func ParseColor(s string) (color.NRGBA, error) {
	var r, g, b uint8
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// TransferFunction builds the display settings for a source.
func (c *Config) TransferFunction(name string) (*transfer.Function, error) {
	rt, err := transfer.ParseRenderType(c.Display.RenderType)
	if err != nil {
		return nil, err
	}
	col, err := ParseColor(c.Display.Color)
	if err != nil {
		return nil, err
	}

	tf := transfer.Default(name)
	tf.DisplayMin, tf.DisplayMax = c.Display.Min, c.Display.Max
	tf.Gamma = c.Display.Gamma
	tf.AlphaMin, tf.AlphaMax = c.Display.AlphaMin, c.Display.AlphaMax
	tf.AlphaGamma = c.Display.AlphaGamma
	tf.Color = col
	tf.RenderType = rt

	if c.Display.LUT != "" {
		lut, err := transfer.LoadLUT(c.Display.LUT)
		if err != nil {
			return nil, err
		}
		tf.LUT = lut
	}
	return tf, nil
}
