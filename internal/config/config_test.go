package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiskeygoggles/goggles/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("GOGGLES_ASSET_BASE_URL", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, resolved)
	assert.False(t, exists)

	assert.Equal(t, filepath.Join(tempHome, ".cache", "goggles"), cfg.Assets.CacheDir)
	assert.Equal(t, filepath.Join(tempHome, ".config", "goggles", "catalog.json"), cfg.Catalog.Path)
	assert.Equal(t, config.StoreSQLite, cfg.Assets.Store)
	assert.Equal(t, "pixel_values", cfg.Runtime.InputName)
	assert.Equal(t, "logits", cfg.Runtime.OutputName)
	assert.Equal(t, 20, cfg.Ranking.TopK)
	assert.InDelta(t, 0.5, cfg.Ranking.HighConfidence, 1e-9)
	assert.Equal(t, int64(5<<20), cfg.Server.MaxUploadBytes)
}

func TestLoadFileOverridesAndEnvFallbacks(t *testing.T) {
	t.Setenv("GOGGLES_CATALOG_DSN", "host=db user=goggles")
	t.Setenv("GOGGLES_ASSET_BASE_URL", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "goggles.toml")
	content := `
[assets]
base_url = "https://bottles.example.com/"
store = "DIR"
cache_dir = "` + filepath.ToSlash(filepath.Join(dir, "cache")) + `"

[catalog]
source = "postgres"

[ranking]
top_k = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, resolved, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, path, resolved)
	assert.Equal(t, "https://bottles.example.com", cfg.Assets.BaseURL)
	assert.Equal(t, config.StoreDir, cfg.Assets.Store)
	assert.Equal(t, "host=db user=goggles", cfg.Catalog.DSN)
	assert.Equal(t, 5, cfg.Ranking.TopK)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "store", mutate: func(c *config.Config) { c.Assets.Store = "redis" }},
		{name: "base url", mutate: func(c *config.Config) { c.Assets.BaseURL = "" }},
		{name: "top k", mutate: func(c *config.Config) { c.Ranking.TopK = 0 }},
		{name: "threshold", mutate: func(c *config.Config) { c.Ranking.HighConfidence = 1.5 }},
		{name: "catalog dsn", mutate: func(c *config.Config) { c.Catalog.Source = config.CatalogMySQL }},
		{name: "catalog source", mutate: func(c *config.Config) { c.Catalog.Source = "csv" }},
		{name: "log format", mutate: func(c *config.Config) { c.Logging.Format = "xml" }},
		{name: "input name", mutate: func(c *config.Config) { c.Runtime.InputName = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, config.CreateSample(path))

	cfg, _, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, config.Default().Ranking, cfg.Ranking)
}
