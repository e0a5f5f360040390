package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/whiskeygoggles/goggles/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Assets.CacheDir = filepath.Join(base, "cache")
	cfgVal.Catalog.Path = filepath.Join(base, "catalog.json")
	cfgVal.Server.AssetDir = filepath.Join(base, "onnx")
	cfgVal.Server.Bind = "127.0.0.1:0"
	cfgVal.Logging.Level = "disabled"

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithAssetBaseURL points asset downloads at url.
func WithAssetBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Assets.BaseURL = url
	}
}

// WithAssetStore selects the asset store backend.
func WithAssetStore(store string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Assets.Store = store
	}
}

// WithHandoffURL sets the selection hand-off endpoint.
func WithHandoffURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Handoff.URL = url
	}
}
