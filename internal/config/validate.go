package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAssets(); err != nil {
		return err
	}
	if err := c.validateRuntime(); err != nil {
		return err
	}
	if err := c.validateRanking(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateHandoff(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAssets() error {
	if c.Assets.BaseURL == "" {
		return errors.New("assets.base_url must be set (or GOGGLES_ASSET_BASE_URL)")
	}
	if _, err := url.ParseRequestURI(c.Assets.BaseURL); err != nil {
		return fmt.Errorf("assets.base_url: %w", err)
	}
	switch c.Assets.Store {
	case StoreSQLite, StoreDir:
	default:
		return fmt.Errorf("assets.store: unsupported value %q", c.Assets.Store)
	}
	if c.Assets.CacheDir == "" {
		return errors.New("assets.cache_dir must be set")
	}
	if c.Assets.DownloadTimeout < 0 {
		return errors.New("assets.download_timeout must be >= 0")
	}
	return nil
}

func (c *Config) validateRuntime() error {
	if c.Runtime.InputName == "" {
		return errors.New("runtime.input_name must be set")
	}
	if c.Runtime.OutputName == "" {
		return errors.New("runtime.output_name must be set")
	}
	if c.Runtime.IntraOpThreads < 0 {
		return errors.New("runtime.intra_op_threads must be >= 0")
	}
	return nil
}

func (c *Config) validateRanking() error {
	if c.Ranking.TopK <= 0 {
		return errors.New("ranking.top_k must be positive")
	}
	if c.Ranking.HighConfidence < 0 || c.Ranking.HighConfidence > 1 {
		return errors.New("ranking.high_confidence must be between 0 and 1")
	}
	if c.Pipeline.EstimatedSeconds < 0 {
		return errors.New("pipeline.estimated_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateCatalog() error {
	switch c.Catalog.Source {
	case CatalogFile:
		if c.Catalog.Path == "" {
			return errors.New("catalog.path must be set when catalog.source is file")
		}
	case CatalogPostgres, CatalogMySQL:
		if c.Catalog.DSN == "" {
			return fmt.Errorf("catalog.dsn must be set when catalog.source is %s (or GOGGLES_CATALOG_DSN)", c.Catalog.Source)
		}
	default:
		return fmt.Errorf("catalog.source: unsupported value %q", c.Catalog.Source)
	}
	return nil
}

func (c *Config) validateHandoff() error {
	if c.Handoff.URL != "" {
		if _, err := url.ParseRequestURI(c.Handoff.URL); err != nil {
			return fmt.Errorf("handoff.url: %w", err)
		}
	}
	if c.Handoff.Timeout <= 0 {
		return errors.New("handoff.timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
