package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spmdrift/internal/models"
	"spmdrift/pkg/correlation"
	"spmdrift/pkg/interpolation"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Correlation.SearchWidth)
	assert.Equal(t, 10, cfg.Correlation.SearchHeight)
	assert.Equal(t, 25, cfg.Correlation.WindowWidth)
	assert.Equal(t, correlation.DefaultZeroOffsetBoost, cfg.Correlation.ZeroOffsetBoost)
	assert.False(t, cfg.Correlation.GuessOffset)
	assert.Equal(t, "abs", cfg.Output.Result)
	assert.True(t, cfg.Output.LowScoreMask)
	assert.Equal(t, 0.95, cfg.Output.Threshold)
	assert.True(t, cfg.Postprocess.ExtendBorders)
	assert.Equal(t, 10000, cfg.Postprocess.LaplaceIterations)
	assert.Equal(t, SeedAverage, cfg.Postprocess.Seed)
	assert.True(t, cfg.Postprocess.Correct)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
correlation:
  searchWidth: 16
  searchOffsetX: -3
output:
  result: dir
  format: tiff
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Correlation.SearchWidth)
	assert.Equal(t, -3, cfg.Correlation.SearchOffsetX)
	// unset values keep their defaults
	assert.Equal(t, 10, cfg.Correlation.SearchHeight)
	assert.Equal(t, 0.95, cfg.Output.Threshold)
	assert.Equal(t, "dir", cfg.Output.Result)
	assert.Equal(t, "tiff", cfg.Output.Format)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("correlation: [unterminated"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Correlation.SearchHeight = 12
	cfg.Output.Result = "all"
	cfg.Logging.JSON = true
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	defaultPath := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(defaultPath))
	loaded, err = LoadConfig(defaultPath)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero search width", func(c *Config) { c.Correlation.SearchWidth = 0 }},
		{"search height too large", func(c *Config) { c.Correlation.SearchHeight = MaxSearchSize + 1 }},
		{"negative window", func(c *Config) { c.Correlation.WindowWidth = -1 }},
		{"offset too large", func(c *Config) { c.Correlation.SearchOffsetY = -MaxSearchOffset - 1 }},
		{"negative boost", func(c *Config) { c.Correlation.ZeroOffsetBoost = -0.5 }},
		{"unknown result", func(c *Config) { c.Output.Result = "magnitude" }},
		{"threshold above 1", func(c *Config) { c.Output.Threshold = 1.5 }},
		{"unknown format", func(c *Config) { c.Output.Format = "bmp" }},
		{"negative laplace iterations", func(c *Config) { c.Postprocess.LaplaceIterations = -1 }},
		{"unknown seed", func(c *Config) { c.Postprocess.Seed = "random" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

			_, err := cfg.DriftParams()
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDriftParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Correlation.SearchWidth = 14
	cfg.Correlation.SearchOffsetX = 5
	cfg.Correlation.GuessOffset = true
	cfg.Correlation.ZeroOffsetBoost = correlation.LegacyZeroOffsetBoost
	cfg.Output.Result = "score"
	cfg.Output.LowScoreMask = false
	cfg.Postprocess.ExtendBorders = false
	cfg.Postprocess.LaplaceIterations = 500
	cfg.Postprocess.Seed = SeedNearest

	params, err := cfg.DriftParams()
	require.NoError(t, err)

	assert.Equal(t, 14, params.Correlation.SearchWidth)
	assert.Equal(t, 10, params.Correlation.SearchHeight)
	assert.Equal(t, correlation.LegacyZeroOffsetBoost, params.Correlation.ZeroOffsetBoost)
	assert.Equal(t, 5, params.SearchOffsetX)
	assert.True(t, params.GuessOffset)
	assert.Equal(t, models.ResultScore, params.Result)
	assert.False(t, params.LowScoreMask)
	assert.False(t, params.ExtendBorders)
	assert.True(t, params.Correct)
	assert.Equal(t, 500, params.Laplace.MaxIterations)
	assert.Equal(t, interpolation.SeedNearest, params.Laplace.Seed)
	assert.Equal(t, 0.2, params.Laplace.Relaxation)
	require.NoError(t, params.Correlation.Validate())
}
