package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 256, cfg.Tiles.TileSize)
	assert.Equal(t, []float64{0.125, 0.25, 0.5, 1, 2, 4, 8}, cfg.Tiles.LODLevels)
	assert.GreaterOrEqual(t, cfg.Workers.Count, 1)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pagetiles.yaml")
	yamlDoc := `
tiles:
  tile_size: 512
  buffer: 2
  lod_levels: [0.5, 1, 2]
workers:
  count: 3
raster:
  engine: pattern
store:
  driver: memory
  ttl: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Tiles.TileSize)
	assert.Equal(t, 2, cfg.Tiles.Buffer)
	assert.Equal(t, []float64{0.5, 1, 2}, cfg.Tiles.LODLevels)
	assert.Equal(t, 3, cfg.Workers.Count)
	assert.Equal(t, "pattern", cfg.Raster.Engine)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Store.TTL)
	// untouched sections keep defaults
	assert.Equal(t, 8090, cfg.Server.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PAGETILES_WORKERS", "6")
	t.Setenv("PAGETILES_LOD_LEVELS", "1, 2, 4")
	t.Setenv("REDIS_URL", "redis://cache:6380")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Workers.Count)
	assert.Equal(t, []float64{1, 2, 4}, cfg.Tiles.LODLevels)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "cache:6380", cfg.Store.Redis.Addr)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tile size", func(c *Config) { c.Tiles.TileSize = 0 }},
		{"negative buffer", func(c *Config) { c.Tiles.Buffer = -1 }},
		{"no levels", func(c *Config) { c.Tiles.LODLevels = nil }},
		{"unsorted levels", func(c *Config) { c.Tiles.LODLevels = []float64{2, 1} }},
		{"non-positive level", func(c *Config) { c.Tiles.LODLevels = []float64{0, 1} }},
		{"no workers", func(c *Config) { c.Workers.Count = 0 }},
		{"bad zoom range", func(c *Config) { c.Zoom.MaxScale = 0.01 }},
		{"bad step", func(c *Config) { c.Zoom.Step = 1 }},
		{"bad engine", func(c *Config) { c.Raster.Engine = "cairo" }},
		{"bad store", func(c *Config) { c.Store.Driver = "memcached" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
