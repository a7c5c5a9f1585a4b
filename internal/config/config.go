// Package config provides unified configuration loading for pagetiles.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the tile renderer.
type Config struct {
	Tiles         TilesConfig         `yaml:"tiles"`
	Workers       WorkersConfig       `yaml:"workers"`
	Zoom          ZoomConfig          `yaml:"zoom"`
	Raster        RasterConfig        `yaml:"raster"`
	Store         StoreConfig         `yaml:"store"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// TilesConfig holds tile grid settings.
type TilesConfig struct {
	TileSize  int       `yaml:"tile_size"`
	Buffer    int       `yaml:"buffer"`
	LODLevels []float64 `yaml:"lod_levels"`
}

// WorkersConfig holds rasterization pool settings.
type WorkersConfig struct {
	Count int `yaml:"count"`
}

// ZoomConfig holds stable-zoom settings.
type ZoomConfig struct {
	MinScale    float64 `yaml:"min_scale"`
	MaxScale    float64 `yaml:"max_scale"`
	Step        float64 `yaml:"step"`
	ClampScroll bool    `yaml:"clamp_scroll"`
}

// RasterConfig selects and tunes the rasterizer.
type RasterConfig struct {
	Engine     string  `yaml:"engine"` // fitz or pattern
	BaseDPI    float64 `yaml:"base_dpi"`
	Background string  `yaml:"background"` // hex color, e.g. #ffffff
}

// StoreConfig holds the shared encoded-tile store settings.
type StoreConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4
	}
	return &Config{
		Tiles: TilesConfig{
			TileSize:  256,
			Buffer:    1,
			LODLevels: []float64{0.125, 0.25, 0.5, 1, 2, 4, 8},
		},
		Workers: WorkersConfig{
			Count: workers,
		},
		Zoom: ZoomConfig{
			MinScale: 0.1,
			MaxScale: 10,
			Step:     1.25,
		},
		Raster: RasterConfig{
			Engine:     "fitz",
			BaseDPI:    72,
			Background: "#ffffff",
		},
		Store: StoreConfig{
			Driver:     "none",
			TTL:        30 * time.Minute,
			MaxEntries: 4096,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
				Prefix:   "pagetiles:",
			},
		},
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			RequestTimeout:   60 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Tiles.TileSize < 1 {
		return fmt.Errorf("tile_size must be positive, got %d", c.Tiles.TileSize)
	}
	if c.Tiles.Buffer < 0 {
		return fmt.Errorf("buffer must not be negative, got %d", c.Tiles.Buffer)
	}
	if len(c.Tiles.LODLevels) == 0 {
		return fmt.Errorf("lod_levels must have at least one entry")
	}
	for _, l := range c.Tiles.LODLevels {
		if l <= 0 {
			return fmt.Errorf("lod level must be positive, got %g", l)
		}
	}
	if !sort.Float64sAreSorted(c.Tiles.LODLevels) {
		return fmt.Errorf("lod_levels must be sorted ascending")
	}

	if c.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1, got %d", c.Workers.Count)
	}

	if c.Zoom.MinScale <= 0 || c.Zoom.MaxScale < c.Zoom.MinScale {
		return fmt.Errorf("invalid zoom range [%g, %g]", c.Zoom.MinScale, c.Zoom.MaxScale)
	}
	if c.Zoom.Step <= 1 {
		return fmt.Errorf("zoom step must be greater than 1, got %g", c.Zoom.Step)
	}

	if c.Raster.Engine != "fitz" && c.Raster.Engine != "pattern" {
		return fmt.Errorf("invalid raster engine: %s", c.Raster.Engine)
	}
	if c.Raster.BaseDPI <= 0 {
		return fmt.Errorf("base_dpi must be positive")
	}

	switch c.Store.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAGETILES_TILE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tiles.TileSize = n
		}
	}

	if v := os.Getenv("PAGETILES_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tiles.Buffer = n
		}
	}

	if v := os.Getenv("PAGETILES_LOD_LEVELS"); v != "" {
		var levels []float64
		for _, part := range strings.Split(v, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				levels = nil
				break
			}
			levels = append(levels, f)
		}
		if len(levels) > 0 {
			cfg.Tiles.LODLevels = levels
		}
	}

	if v := os.Getenv("PAGETILES_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.Count = n
		}
	}

	if v := os.Getenv("PAGETILES_RASTER_ENGINE"); v != "" {
		cfg.Raster.Engine = v
	}

	if v := os.Getenv("PAGETILES_STORE"); v != "" {
		cfg.Store.Driver = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.Driver = "redis"
		// Parse redis://host:port format
		cfg.Store.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Store.Redis.Password = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
