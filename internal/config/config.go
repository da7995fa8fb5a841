package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for an inference run.
type Config struct {
	Model      string  `yaml:"model"`
	NumClasses int     `yaml:"num_classes"`
	InChannels int     `yaml:"in_channels"`
	DropRate   float64 `yaml:"drop_rate"`
	Weights    string  `yaml:"weights"`
	ImageRoot  string  `yaml:"image_root"`
	ImageSize  int     `yaml:"image_size"`
	BatchSize  int     `yaml:"batch_size"`
	NumWorkers int     `yaml:"num_workers"`
	LogEvery   int     `yaml:"log_every"`
	Listen     string  `yaml:"listen"`
	Seed       int64   `yaml:"seed"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Model      string
	NumClasses int
	Weights    string
	ImageRoot  string
	BatchSize  int
	NumWorkers int
	LogEvery   int
	Listen     string
	Seed       int64
}

// Default returns a config with sensible starting values.
func Default() *Config {
	return &Config{
		Model:      "inception_v4",
		NumClasses: 1000,
		InChannels: 3,
		DropRate:   0.2,
		ImageSize:  299,
		BatchSize:  8,
		NumWorkers: 2,
		LogEvery:   10,
		Listen:     ":8080",
		Seed:       1,
	}
}

// Load reads and validates a Config from YAML. Unset keys keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.NumClasses > 0 {
		c.NumClasses = o.NumClasses
	}
	if o.Weights != "" {
		c.Weights = o.Weights
	}
	if o.ImageRoot != "" {
		c.ImageRoot = o.ImageRoot
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Listen != "" {
		c.Listen = o.Listen
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Model == "" {
		return errors.New("model must be set")
	}
	if c.NumClasses <= 0 {
		return fmt.Errorf("num_classes must be > 0 (got %d)", c.NumClasses)
	}
	if c.InChannels <= 0 {
		return fmt.Errorf("in_channels must be > 0 (got %d)", c.InChannels)
	}
	if c.DropRate < 0 || c.DropRate >= 1 {
		return fmt.Errorf("drop_rate must be in [0, 1) (got %g)", c.DropRate)
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("image_size must be > 0 (got %d)", c.ImageSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 10
	}
	return nil
}
