package assets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/whiskeygoggles/goggles/internal/apperr"
	"github.com/whiskeygoggles/goggles/internal/logging"
)

const lockRetryDelay = 250 * time.Millisecond

// Options configures a Cache.
type Options struct {
	Store   Store
	Fetcher Fetcher
	// LockPath, when set, names a lock file that serializes downloads across
	// processes sharing the same store.
	LockPath    string
	Concurrency int
	MemoEntries int64
	Logger      zerolog.Logger
}

// Cache owns the three model assets: it downloads the missing ones, persists
// them through a Store and serves reads. It never downloads as a side effect
// of a read.
type Cache struct {
	store       Store
	fetcher     Fetcher
	lock        *flock.Flock
	ensureSem   chan struct{}
	concurrency int
	memo        *ristretto.Cache
	logger      zerolog.Logger
}

// Status describes one asset's presence in the cache.
type Status struct {
	Asset  Asset
	Cached bool
	Meta   Meta
}

// New builds a Cache. Fetcher may be nil for read-only use.
func New(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, errors.New("assets: store is required")
	}
	if opts.Concurrency < 0 {
		return nil, fmt.Errorf("assets: concurrency must not be negative (got %d)", opts.Concurrency)
	}
	entries := opts.MemoEntries
	if entries <= 0 {
		entries = 16
	}
	memo, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * entries,
		MaxCost:     entries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("assets: create memo: %w", err)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = len(All)
	}
	c := &Cache{
		store:       opts.Store,
		fetcher:     opts.Fetcher,
		ensureSem:   make(chan struct{}, 1),
		concurrency: concurrency,
		memo:        memo,
		logger:      logging.WithComponent(opts.Logger, "assets"),
	}
	if opts.LockPath != "" {
		c.lock = flock.New(opts.LockPath)
	}
	return c, nil
}

// IsFullyCached reports whether every asset is present in the store.
func (c *Cache) IsFullyCached(ctx context.Context) (bool, error) {
	missing, err := c.Missing(ctx)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// Missing lists the assets not yet stored.
func (c *Cache) Missing(ctx context.Context) ([]Asset, error) {
	var missing []Asset
	for _, a := range All {
		ok, err := c.store.Has(ctx, a.Key)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, a)
		}
	}
	return missing, nil
}

// EnsureCached downloads and stores every asset that is not already cached.
// Each asset is checked individually, so a retry after a partial failure
// only fetches what is still missing; assets stored before a failure stay
// stored. Downloads run concurrently and onProgress calls are serialized.
func (c *Cache) EnsureCached(ctx context.Context, onProgress ProgressFunc) error {
	if c.fetcher == nil {
		return errors.New("assets: cache has no fetcher")
	}

	select {
	case c.ensureSem <- struct{}{}:
		defer func() { <-c.ensureSem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if c.lock != nil {
		locked, err := c.lock.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			return fmt.Errorf("assets: acquire download lock: %w", err)
		}
		if !locked {
			return errors.New("assets: download lock not acquired")
		}
		defer func() {
			if err := c.lock.Unlock(); err != nil {
				c.logger.Warn().Err(err).Msg("release download lock")
			}
		}()
	}

	var (
		mu      sync.Mutex
		sampler = make(map[Key]*logging.ProgressSampler, len(All))
	)
	for _, a := range All {
		sampler[a.Key] = logging.NewProgressSampler(10)
	}
	report := func(p DownloadProgress) {
		mu.Lock()
		defer mu.Unlock()
		if sampler[p.Asset].ShouldLog(p.Percent(), string(p.Asset)) {
			c.logger.Debug().
				Str("asset", string(p.Asset)).
				Int64("loaded", p.Loaded).
				Bool("total_known", p.TotalKnown).
				Float64("percent", p.Percent()).
				Msg("download progress")
		}
		if onProgress != nil {
			onProgress(p)
		}
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, a := range All {
		g.Go(func() error {
			return c.ensureOne(ctx, a, report)
		})
	}
	return g.Wait()
}

func (c *Cache) ensureOne(ctx context.Context, a Asset, report ProgressFunc) error {
	ok, err := c.store.Has(ctx, a.Key)
	if err != nil {
		return err
	}
	if ok {
		c.logger.Debug().Str("asset", string(a.Key)).Msg("asset already cached")
		return nil
	}

	start := time.Now()
	data, err := c.fetcher.Fetch(ctx, a, report)
	if err != nil {
		c.logger.Warn().Err(err).Str("asset", string(a.Key)).Msg("asset download failed")
		return err
	}
	if err := Validate(a, data); err != nil {
		return apperr.DownloadFailed(string(a.Key), 200, err)
	}
	meta, err := c.store.Put(ctx, a.Key, data)
	if err != nil {
		return err
	}
	c.logger.Info().
		Str("asset", string(a.Key)).
		Str("size", humanize.IBytes(uint64(meta.Size))).
		Str("digest", meta.Digest).
		Dur("elapsed", time.Since(start)).
		Msg("asset cached")
	return nil
}

// Get returns the raw bytes of a cached asset, or a NotCached error.
func (c *Cache) Get(ctx context.Context, key Key) ([]byte, error) {
	data, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotCached(string(key))
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Meta returns the stored metadata of an asset, or a NotCached error.
func (c *Cache) Meta(ctx context.Context, key Key) (Meta, error) {
	meta, err := c.store.Meta(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Meta{}, apperr.NotCached(string(key))
	}
	return meta, err
}

// Labels returns the parsed label list. The slice is shared; do not modify it.
func (c *Cache) Labels(ctx context.Context) ([]string, error) {
	v, err := c.parsed(ctx, KeyLabels, apperr.KindLabelMismatch, func(data []byte) (any, error) { return ParseLabels(data) })
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// MeanStd returns the parsed normalization statistics.
func (c *Cache) MeanStd(ctx context.Context) (MeanStd, error) {
	v, err := c.parsed(ctx, KeyMeanStd, apperr.KindModelLoad, func(data []byte) (any, error) { return ParseMeanStd(data) })
	if err != nil {
		return MeanStd{}, err
	}
	return v.(MeanStd), nil
}

// parsed memoizes decoded JSON assets keyed by digest, so a replaced asset is
// never served from a stale memo entry. A stored value that no longer parses
// is reported as corruptKind.
func (c *Cache) parsed(ctx context.Context, key Key, corruptKind apperr.Kind, parse func([]byte) (any, error)) (any, error) {
	meta, err := c.Meta(ctx, key)
	if err != nil {
		return nil, err
	}
	memoKey := string(key) + ":" + meta.Digest
	if v, ok := c.memo.Get(memoKey); ok {
		return v, nil
	}
	data, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	v, err := parse(data)
	if err != nil {
		return nil, apperr.New(corruptKind, "parse "+string(key), err)
	}
	c.memo.Set(memoKey, v, 1)
	c.memo.Wait()
	return v, nil
}

// Status reports presence and metadata for every asset.
func (c *Cache) Status(ctx context.Context) ([]Status, error) {
	out := make([]Status, 0, len(All))
	for _, a := range All {
		meta, err := c.store.Meta(ctx, a.Key)
		switch {
		case errors.Is(err, ErrNotFound):
			out = append(out, Status{Asset: a})
		case err != nil:
			return nil, err
		default:
			out = append(out, Status{Asset: a, Cached: true, Meta: meta})
		}
	}
	return out, nil
}

// Clear removes the given assets, or all of them when none are given.
func (c *Cache) Clear(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		for _, a := range All {
			keys = append(keys, a.Key)
		}
	}
	for _, key := range keys {
		if _, ok := Lookup(key); !ok {
			return fmt.Errorf("assets: unknown asset %q", key)
		}
		if err := c.store.Delete(ctx, key); err != nil {
			return err
		}
		c.logger.Info().Str("asset", string(key)).Msg("asset cleared")
	}
	return nil
}

// Close releases the memo and the underlying store.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.memo.Close()
	return c.store.Close()
}
