// Package config provides configuration loading and management for hsiprep.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"hsiprep/internal/models"
	"hsiprep/pkg/background"
	"hsiprep/pkg/bands"
	"hsiprep/pkg/envi"
)

// Input is one acquisition batch: a folder of cubes sharing the crop
// rectangle and threshold an operator picked for them
type Input struct {
	// Dir is the folder scanned for header files
	Dir string `yaml:"dir"`

	// Extension of header files, ".hdr" when empty
	Extension string `yaml:"extension,omitempty"`

	// Crop is applied to every cube of the batch before band alignment
	Crop *models.CropRegion `yaml:"crop,omitempty"`

	// VarianceThreshold overrides Masking.VarianceThreshold when set
	VarianceThreshold *float64 `yaml:"varianceThreshold,omitempty"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers is how many files are processed concurrently. Each
		// worker holds whole cubes in memory.
		NumWorkers int `yaml:"numWorkers"`

		// TargetBands is the band count every cube is aligned to
		TargetBands int `yaml:"targetBands"`

		// AlignMethod is crop, interpolate or bin
		AlignMethod string `yaml:"alignMethod"`

		// Normalize rescales samples into [0, 1] before alignment
		Normalize bool `yaml:"normalize"`
	} `yaml:"processing"`

	// Background masking parameters
	Masking struct {
		// VarianceThreshold is the per-pixel spectral variance cutoff
		VarianceThreshold float64 `yaml:"varianceThreshold"`

		// MinUsefulRatio is the foreground fraction that triggers the fallback
		MinUsefulRatio float64 `yaml:"minUsefulRatio"`

		// FillBackground zeroes background pixels in the written cube
		FillBackground bool `yaml:"fillBackground"`

		// Fallback is relax or flag
		Fallback string `yaml:"fallback"`

		// SweepThresholds are evaluated and logged for each file when not empty
		SweepThresholds []float64 `yaml:"sweepThresholds"`
	} `yaml:"masking"`

	// Inputs lists the folders to process
	Inputs []Input `yaml:"inputs"`

	// Output parameters
	Output struct {
		// Dir receives the prepared cubes, masks and quick-look images
		Dir string `yaml:"dir"`

		// WriteCube saves the filtered cube as ENVI float32
		WriteCube bool `yaml:"writeCube"`

		// WriteMask saves the mask as a one-band ENVI cube
		WriteMask bool `yaml:"writeMask"`

		// Quicklook saves mean, middle band and mask images for review
		Quicklook bool `yaml:"quicklook"`

		// Interleave of written cubes (bsq, bil, bip)
		Interleave string `yaml:"interleave"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.TargetBands = 256
	cfg.Processing.AlignMethod = string(bands.MethodCrop)
	cfg.Processing.Normalize = true

	// Set default masking parameters
	cfg.Masking.VarianceThreshold = 0.01
	cfg.Masking.MinUsefulRatio = 0.3
	cfg.Masking.FillBackground = true
	cfg.Masking.Fallback = background.FallbackRelax.String()
	cfg.Masking.SweepThresholds = []float64{0.01, 0.03, 0.05, 0.1, 0.15}

	// Set default output parameters
	cfg.Output.Dir = "prepared"
	cfg.Output.WriteCube = true
	cfg.Output.WriteMask = true
	cfg.Output.Quicklook = false
	cfg.Output.Interleave = string(envi.BSQ)
	cfg.Output.Verbose = false

	return cfg
}

// Validate checks value ranges and names
func (c *Config) Validate() error {
	if c.Processing.NumWorkers < 1 {
		return fmt.Errorf("processing.numWorkers must be at least 1, got %d", c.Processing.NumWorkers)
	}
	if c.Processing.TargetBands < 1 {
		return fmt.Errorf("processing.targetBands must be at least 1, got %d", c.Processing.TargetBands)
	}
	if _, err := bands.ParseMethod(c.Processing.AlignMethod); err != nil {
		return fmt.Errorf("processing.alignMethod: %w", err)
	}
	if err := checkThreshold("masking.varianceThreshold", c.Masking.VarianceThreshold); err != nil {
		return err
	}
	if c.Masking.MinUsefulRatio < 0 || c.Masking.MinUsefulRatio > 1 {
		return fmt.Errorf("masking.minUsefulRatio must be within [0, 1], got %v", c.Masking.MinUsefulRatio)
	}
	if _, err := background.ParseFallback(c.Masking.Fallback); err != nil {
		return fmt.Errorf("masking.fallback: %w", err)
	}
	for _, th := range c.Masking.SweepThresholds {
		if err := checkThreshold("masking.sweepThresholds", th); err != nil {
			return err
		}
	}
	if _, err := envi.ParseInterleave(c.Output.Interleave); err != nil {
		return fmt.Errorf("output.interleave: %w", err)
	}
	outputs := make(map[string]int, len(c.Inputs))
	for i, in := range c.Inputs {
		if in.Dir == "" {
			return fmt.Errorf("inputs[%d].dir is required", i)
		}
		// each input writes to output.dir/<base name of its dir>
		sub := OutputSubdir(in)
		if j, dup := outputs[sub]; dup {
			return fmt.Errorf("inputs[%d].dir and inputs[%d].dir both write to output subdirectory %q", j, i, sub)
		}
		outputs[sub] = i
		if in.VarianceThreshold != nil {
			if err := checkThreshold(fmt.Sprintf("inputs[%d].varianceThreshold", i), *in.VarianceThreshold); err != nil {
				return err
			}
		}
		if in.Crop != nil && (in.Crop.Height() <= 0 || in.Crop.Width() <= 0 || in.Crop.Top < 0 || in.Crop.Left < 0) {
			return fmt.Errorf("inputs[%d].crop is empty or negative: %s", i, in.Crop)
		}
	}
	return nil
}

func checkThreshold(name string, v float64) error {
	if v < 0 || math.IsNaN(v) {
		return fmt.Errorf("%s must be a non-negative number, got %v", name, v)
	}
	return nil
}

// LoadConfig reads and validates a YAML configuration. Fields missing from
// the file keep their DefaultConfig value; a missing file yields the
// defaults unchanged.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating the parent directory
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// CreateDefaultConfigFile writes DefaultConfig to configPath with one
// example input so the inputs section shows its fields
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	threshold := cfg.Masking.VarianceThreshold
	cfg.Inputs = []Input{{
		Dir:               "raw/batch01",
		Extension:         ".hdr",
		Crop:              &models.CropRegion{Top: 0, Bottom: 512, Left: 0, Right: 640},
		VarianceThreshold: &threshold,
	}}
	return SaveConfig(cfg, configPath)
}

// OutputSubdir names the directory, below output.dir, that receives the
// prepared files of in
func OutputSubdir(in Input) string {
	return filepath.Base(filepath.Clean(in.Dir))
}

// ThresholdFor returns the variance threshold for an input batch
func (c *Config) ThresholdFor(in Input) float64 {
	if in.VarianceThreshold != nil {
		return *in.VarianceThreshold
	}
	return c.Masking.VarianceThreshold
}
