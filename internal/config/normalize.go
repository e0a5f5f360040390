package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if env := strings.TrimSpace(os.Getenv("GOGGLES_ASSET_BASE_URL")); env != "" {
		c.Assets.BaseURL = env
	}
	c.Assets.BaseURL = strings.TrimRight(strings.TrimSpace(c.Assets.BaseURL), "/")
	c.Assets.Store = strings.ToLower(strings.TrimSpace(c.Assets.Store))
	if c.Assets.Store == "" {
		c.Assets.Store = defaultAssetStore
	}
	if c.Assets.Concurrency <= 0 {
		c.Assets.Concurrency = defaultDownloadWorkers
	}
	if c.Assets.MemoEntries <= 0 {
		c.Assets.MemoEntries = defaultMemoEntries
	}

	c.Runtime.InputName = strings.TrimSpace(c.Runtime.InputName)
	c.Runtime.OutputName = strings.TrimSpace(c.Runtime.OutputName)

	c.Catalog.Source = strings.ToLower(strings.TrimSpace(c.Catalog.Source))
	c.Catalog.DSN = strings.TrimSpace(c.Catalog.DSN)
	if c.Catalog.DSN == "" {
		c.Catalog.DSN = strings.TrimSpace(os.Getenv("GOGGLES_CATALOG_DSN"))
	}

	c.Handoff.URL = strings.TrimSpace(c.Handoff.URL)
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	var err error
	for _, field := range []*string{&c.Assets.CacheDir, &c.Runtime.LibraryPath, &c.Catalog.Path, &c.Server.AssetDir} {
		trimmed := strings.TrimSpace(*field)
		if trimmed == "" {
			*field = ""
			continue
		}
		if *field, err = expandPath(trimmed); err != nil {
			return fmt.Errorf("normalize path %q: %w", trimmed, err)
		}
	}
	return nil
}
