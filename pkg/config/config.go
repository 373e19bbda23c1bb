// Package config provides configuration loading and management for spmdrift.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"spmdrift/internal/logger"
	"spmdrift/internal/models"
	"spmdrift/pkg/correlation"
	"spmdrift/pkg/drift"
	"spmdrift/pkg/interpolation"
	"spmdrift/pkg/visualization"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Limits accepted by Validate
const (
	MaxSearchSize   = 100
	MaxWindowSize   = 100
	MaxSearchOffset = 200
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Correlation parameters
	Correlation struct {
		// SearchWidth, SearchHeight are the size of the searched neighbourhood in pixels
		SearchWidth  int `yaml:"searchWidth"`
		SearchHeight int `yaml:"searchHeight"`

		// WindowWidth, WindowHeight are the correlation window size in pixels
		WindowWidth  int `yaml:"windowWidth"`
		WindowHeight int `yaml:"windowHeight"`

		// ZeroOffsetBoost favours reporting no movement on ambiguous data, 0 for the default
		ZeroOffsetBoost float64 `yaml:"zeroOffsetBoost"`

		// SearchOffsetX, SearchOffsetY are the expected drift in pixels
		SearchOffsetX int `yaml:"searchOffsetX"`
		SearchOffsetY int `yaml:"searchOffsetY"`

		// GuessOffset estimates the search offset from the scans instead
		GuessOffset bool `yaml:"guessOffset"`
	} `yaml:"correlation"`

	// Output parameters
	Output struct {
		// Result selects the maps to produce: all, abs, x, y, dir or score
		Result string `yaml:"result"`

		// LowScoreMask adds a mask of pixels scoring below Threshold
		LowScoreMask bool    `yaml:"lowScoreMask"`
		Threshold    float64 `yaml:"threshold"`

		// Dir is the directory the maps are written to
		Dir string `yaml:"dir"`

		// Format is the image format: png, jpeg or tiff
		Format string `yaml:"format"`
	} `yaml:"output"`

	// Postprocess parameters
	Postprocess struct {
		// ExtendBorders smooths the displacements into the unsearched border
		ExtendBorders bool `yaml:"extendBorders"`

		// LaplaceIterations bounds the border relaxation
		LaplaceIterations int `yaml:"laplaceIterations"`

		// Seed is the starting value of the border: average or nearest
		Seed string `yaml:"seed"`

		// Correct writes the second scan resampled along the drift
		Correct bool `yaml:"correct"`
	} `yaml:"postprocess"`

	// Logging parameters
	Logging struct {
		// Level is the minimum level logged: debug, info, warn or error
		Level string `yaml:"level"`

		// JSON selects machine readable output instead of the console writer
		JSON bool `yaml:"json"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	params := drift.DefaultParams()

	// Set default correlation parameters
	cfg.Correlation.SearchWidth = params.Correlation.SearchWidth
	cfg.Correlation.SearchHeight = params.Correlation.SearchHeight
	cfg.Correlation.WindowWidth = params.Correlation.WindowWidth
	cfg.Correlation.WindowHeight = params.Correlation.WindowHeight
	cfg.Correlation.ZeroOffsetBoost = correlation.DefaultZeroOffsetBoost

	// Set default output parameters
	cfg.Output.Result = params.Result.String()
	cfg.Output.LowScoreMask = params.LowScoreMask
	cfg.Output.Threshold = params.Threshold
	cfg.Output.Dir = "drift_output"
	cfg.Output.Format = visualization.FormatPNG

	// Set default postprocess parameters
	cfg.Postprocess.ExtendBorders = params.ExtendBorders
	cfg.Postprocess.LaplaceIterations = params.Laplace.MaxIterations
	cfg.Postprocess.Seed = SeedAverage
	cfg.Postprocess.Correct = params.Correct

	// Set default logging parameters
	cfg.Logging.Level = "info"

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

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	cc := c.Correlation
	if cc.SearchWidth <= 0 || cc.SearchWidth > MaxSearchSize ||
		cc.SearchHeight <= 0 || cc.SearchHeight > MaxSearchSize {
		return fmt.Errorf("%w: search area %dx%d must be within 1..%d", ErrInvalidConfig,
			cc.SearchWidth, cc.SearchHeight, MaxSearchSize)
	}
	if cc.WindowWidth <= 0 || cc.WindowWidth > MaxWindowSize ||
		cc.WindowHeight <= 0 || cc.WindowHeight > MaxWindowSize {
		return fmt.Errorf("%w: window %dx%d must be within 1..%d", ErrInvalidConfig,
			cc.WindowWidth, cc.WindowHeight, MaxWindowSize)
	}
	if abs(cc.SearchOffsetX) > MaxSearchOffset || abs(cc.SearchOffsetY) > MaxSearchOffset {
		return fmt.Errorf("%w: search offset %d,%d must be within ±%d", ErrInvalidConfig,
			cc.SearchOffsetX, cc.SearchOffsetY, MaxSearchOffset)
	}
	if cc.ZeroOffsetBoost < 0 {
		return fmt.Errorf("%w: negative zero offset boost %g", ErrInvalidConfig, cc.ZeroOffsetBoost)
	}

	if _, err := models.ParseResultKind(c.Output.Result); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Output.Threshold < -1 || c.Output.Threshold > 1 {
		return fmt.Errorf("%w: threshold %g must be within -1..1", ErrInvalidConfig, c.Output.Threshold)
	}
	if _, err := visualization.NewExporter(c.Output.Dir, c.Output.Format); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Postprocess.LaplaceIterations < 0 {
		return fmt.Errorf("%w: negative laplace iterations %d", ErrInvalidConfig, c.Postprocess.LaplaceIterations)
	}
	if _, err := parseSeed(c.Postprocess.Seed); err != nil {
		return err
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DriftParams converts the configuration into drift analysis parameters.
func (c *Config) DriftParams() (drift.Params, error) {
	if err := c.Validate(); err != nil {
		return drift.Params{}, err
	}
	kind, _ := models.ParseResultKind(c.Output.Result)
	seed, _ := parseSeed(c.Postprocess.Seed)

	laplace := interpolation.DefaultLaplaceParams()
	if c.Postprocess.LaplaceIterations > 0 {
		laplace.MaxIterations = c.Postprocess.LaplaceIterations
	}
	laplace.Seed = seed

	return drift.Params{
		Correlation: correlation.CrossCorrelationParams{
			SearchWidth:     c.Correlation.SearchWidth,
			SearchHeight:    c.Correlation.SearchHeight,
			WindowWidth:     c.Correlation.WindowWidth,
			WindowHeight:    c.Correlation.WindowHeight,
			ZeroOffsetBoost: c.Correlation.ZeroOffsetBoost,
		},
		SearchOffsetX: c.Correlation.SearchOffsetX,
		SearchOffsetY: c.Correlation.SearchOffsetY,
		GuessOffset:   c.Correlation.GuessOffset,
		Result:        kind,
		LowScoreMask:  c.Output.LowScoreMask,
		Threshold:     c.Output.Threshold,
		ExtendBorders: c.Postprocess.ExtendBorders,
		Laplace:       laplace,
		Correct:       c.Postprocess.Correct,
	}, nil
}

// Border seed names
const (
	SeedAverage = "average"
	SeedNearest = "nearest"
)

func parseSeed(name string) (interpolation.Seed, error) {
	switch name {
	case SeedAverage, "":
		return interpolation.SeedAverage, nil
	case SeedNearest:
		return interpolation.SeedNearest, nil
	}
	return 0, fmt.Errorf("%w: unknown border seed %q", ErrInvalidConfig, name)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
