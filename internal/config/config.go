package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/peakscan/internal/cache"
	"github.com/sawpanic/peakscan/internal/infrastructure/db"
	httpapi "github.com/sawpanic/peakscan/internal/interfaces/http"
	"github.com/sawpanic/peakscan/internal/peaks"
	"github.com/sawpanic/peakscan/internal/report"
	"github.com/sawpanic/peakscan/internal/series"
)

// Config is the complete peakscan configuration file.
type Config struct {
	Analysis AnalysisConfig       `yaml:"analysis"`
	Database db.Config            `yaml:"database"`
	Cache    cache.Config         `yaml:"cache"`
	Server   httpapi.ServerConfig `yaml:"server"`
}

// AnalysisConfig holds detection and report settings.
type AnalysisConfig struct {
	ProminenceRatio float64 `yaml:"prominence_ratio"` // fraction of max total views, (0, 1]
	MinDistance     int     `yaml:"min_distance"`     // days between peaks
	TopK            int     `yaml:"top_k"`            // contributors per peak in the summary
}

// Detection returns the peak detector settings.
func (a AnalysisConfig) Detection() peaks.Config {
	return peaks.Config{ProminenceRatio: a.ProminenceRatio, MinDistance: a.MinDistance}
}

// Validate checks analysis bounds.
func (a AnalysisConfig) Validate() error {
	if err := a.Detection().Validate(); err != nil {
		return err
	}
	if a.TopK < 0 {
		return fmt.Errorf("%w: top_k must be >= 0, got %d", series.ErrInvalidArgument, a.TopK)
	}
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	det := peaks.DefaultConfig()
	return Config{
		Analysis: AnalysisConfig{
			ProminenceRatio: det.ProminenceRatio,
			MinDistance:     det.MinDistance,
			TopK:            report.DefaultTopK,
		},
		Database: db.DefaultConfig(),
		Cache:    cache.DefaultConfig(),
		Server:   httpapi.DefaultServerConfig(),
	}
}

// Load reads a YAML file over the defaults, then applies PG_* environment
// overrides to the database section. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	db.ApplyEnv(&cfg.Database)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database: %w: dsn is required when enabled", series.ErrInvalidArgument)
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache: %w: addr is required when enabled", series.ErrInvalidArgument)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache: %w: ttl must be >= 0, got %s", series.ErrInvalidArgument, c.Cache.TTL)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: %w: port must be 1-65535, got %d", series.ErrInvalidArgument, c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server: %w: rate_limit must be >= 0, got %v", series.ErrInvalidArgument, c.Server.RateLimit)
	}
	return nil
}
