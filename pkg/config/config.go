package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvDBPath  = "BILLBOARDVIS_DB_PATH"
	EnvAddress = "BILLBOARDVIS_ADDR"
)

// Config holds the application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	Server   ServerConfig   `yaml:"server"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Session  SessionConfig  `yaml:"session"`
	Data     DataConfig     `yaml:"data"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
	Trace    bool        `yaml:"trace"` // Per-vertex geometry logs at DEBUG
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// AnalysisConfig holds the visibility model parameters.
type AnalysisConfig struct {
	FeatureSize    Distance `yaml:"feature_size"`        // Smallest feature a viewer must resolve
	VisualAngle    float64  `yaml:"visual_angle_arcsec"` // Visual acuity
	CircleSegments int      `yaml:"circle_segments"`
	ArcSteps       int      `yaml:"arc_steps"`
	Workers        int      `yaml:"workers"`
	SpatialIndex   bool     `yaml:"spatial_index"`
}

// SessionConfig holds API session settings.
type SessionConfig struct {
	TTL Duration `yaml:"ttl"`
}

// DataConfig points at the datasets imported on startup.
type DataConfig struct {
	Buildings string `yaml:"buildings"` // GeoJSON FeatureCollection
	Traces    string `yaml:"traces"`    // GPS trace CSV
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "./data/billboardvis.db",
		},
		Server: ServerConfig{
			Address: "localhost:5000",
		},
		Analysis: AnalysisConfig{
			FeatureSize:    Distance(0.01), // 1cm
			VisualAngle:    3.0,
			CircleSegments: 64,
			ArcSteps:       32,
			Workers:        4,
			SpatialIndex:   true,
		},
		Session: SessionConfig{
			TTL: Duration(2 * time.Hour),
		},
		Data: DataConfig{
			Buildings: "./data/buildings.geojson",
			Traces:    "",
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk.
// Environment overrides are applied last and never written to disk.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DB.Path = v
	}
	if v := os.Getenv(EnvAddress); v != "" {
		cfg.Server.Address = v
	}
}

// LoadEnv reads KEY=value pairs from a .env file into the process
// environment. Variables already set win. A missing file is not an error.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Validate rejects parameters the analysis cannot run with.
func (c *Config) Validate() error {
	a := c.Analysis
	if a.FeatureSize <= 0 {
		return fmt.Errorf("analysis.feature_size must be positive, got %v", float64(a.FeatureSize))
	}
	if a.VisualAngle <= 0 {
		return fmt.Errorf("analysis.visual_angle_arcsec must be positive, got %v", a.VisualAngle)
	}
	if a.CircleSegments < 3 {
		return fmt.Errorf("analysis.circle_segments must be at least 3, got %d", a.CircleSegments)
	}
	if a.ArcSteps < 1 {
		return fmt.Errorf("analysis.arc_steps must be positive, got %d", a.ArcSteps)
	}
	if a.Workers < 1 {
		return fmt.Errorf("analysis.workers must be positive, got %d", a.Workers)
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is empty")
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# billboardvis Configuration
# -------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: mm, cm, m (meters), km (kilometers), nm (nautical miles), ft

`)
	data = append(header, data...)

	reAngle := regexp.MustCompile(`(?m)^(\s+)visual_angle_arcsec:`)
	data = reAngle.ReplaceAll(data, []byte("${1}# Visual acuity in arc seconds (3 for a normal eye)\n${1}visual_angle_arcsec:"))

	reIndex := regexp.MustCompile(`(?m)^(\s+)spatial_index:`)
	data = reIndex.ReplaceAll(data, []byte("${1}# R-tree candidate scan; false falls back to a linear scan\n${1}spatial_index:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
