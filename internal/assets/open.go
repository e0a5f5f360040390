package assets

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/whiskeygoggles/goggles/internal/config"
)

const (
	sqliteFileName = "assets.db"
	dirStoreName   = "onnx"
	lockFileName   = "download.lock"
)

// Open builds the client cache described by the [assets] section: the
// selected store under cache_dir and an HTTP fetcher for base_url.
func Open(cfg *config.Config, logger zerolog.Logger) (*Cache, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	var (
		store Store
		err   error
	)
	switch cfg.Assets.Store {
	case config.StoreSQLite:
		store, err = OpenSQLiteStore(filepath.Join(cfg.Assets.CacheDir, sqliteFileName))
	case config.StoreDir:
		store, err = OpenDirStore(filepath.Join(cfg.Assets.CacheDir, dirStoreName))
	default:
		err = fmt.Errorf("assets: unsupported store %q", cfg.Assets.Store)
	}
	if err != nil {
		return nil, err
	}
	return newOwning(Options{
		Store:       store,
		Fetcher:     NewHTTPFetcher(cfg.Assets.BaseURL, nil, cfg.DownloadTimeout()),
		LockPath:    filepath.Join(cfg.Assets.CacheDir, lockFileName),
		Concurrency: cfg.Assets.Concurrency,
		MemoEntries: int64(cfg.Assets.MemoEntries),
		Logger:      logger,
	})
}

// OpenServing builds a read-only cache over the server's asset directory.
// The returned DirStore is the same one the cache reads from.
func OpenServing(cfg *config.Config, logger zerolog.Logger) (*Cache, *DirStore, error) {
	store, err := OpenDirStore(cfg.Server.AssetDir)
	if err != nil {
		return nil, nil, err
	}
	cache, err := newOwning(Options{
		Store:       store,
		MemoEntries: int64(cfg.Assets.MemoEntries),
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return cache, store, nil
}

// newOwning is New for a store the caller just opened: the store is closed
// when the cache cannot be built.
func newOwning(opts Options) (*Cache, error) {
	cache, err := New(opts)
	if err != nil {
		_ = opts.Store.Close()
		return nil, err
	}
	return cache, nil
}
