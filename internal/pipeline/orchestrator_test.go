package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiskeygoggles/goggles/internal/apperr"
	"github.com/whiskeygoggles/goggles/internal/assets"
	"github.com/whiskeygoggles/goggles/internal/catalog"
	"github.com/whiskeygoggles/goggles/internal/logging"
	"github.com/whiskeygoggles/goggles/internal/model"
	"github.com/whiskeygoggles/goggles/internal/pipeline"
	"github.com/whiskeygoggles/goggles/internal/testsupport"
)

var (
	mean = [3]float64{0.485, 0.456, 0.406}
	std  = [3]float64{0.229, 0.224, 0.225}
)

// countingSource records whether the cache was consulted at all.
type countingSource struct {
	pipeline.AssetSource
	checks atomic.Int32
}

func (c *countingSource) IsFullyCached(ctx context.Context) (bool, error) {
	c.checks.Add(1)
	return c.AssetSource.IsFullyCached(ctx)
}

type fixture struct {
	server  *testsupport.AssetServer
	cache   *assets.Cache
	source  *countingSource
	runtime *testsupport.FakeRuntime
	orch    *pipeline.Orchestrator
	catalog *catalog.Catalog
	image   []byte
}

func newFixture(t *testing.T, labels []string, scores ...float32) *fixture {
	t.Helper()
	server := testsupport.NewAssetServer(t, labels, mean, std)
	store, err := assets.OpenSQLiteStore(filepath.Join(t.TempDir(), "assets.db"))
	require.NoError(t, err)
	cache, err := assets.New(assets.Options{
		Store:   store,
		Fetcher: assets.NewHTTPFetcher(server.URL, server.Client(), 0),
		Logger:  logging.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	rt := testsupport.NewFakeRuntime(scores...)
	engine := model.NewEngine(rt, logging.Nop())
	t.Cleanup(func() { _ = engine.Close() })

	source := &countingSource{AssetSource: cache}
	orch, err := pipeline.New(pipeline.Options{
		Assets:   source,
		Engine:   engine,
		Estimate: 8 * time.Second,
		Logger:   logging.Nop(),
	})
	require.NoError(t, err)

	var entries []catalog.Entry
	for i, l := range labels {
		stock := 0
		if i < 2 {
			stock = 5 - 2*i
		}
		entries = append(entries, catalog.Entry{ID: int64(i + 1), UniqueName: l, Name: l, Stock: stock})
	}
	cat, err := catalog.New(entries)
	require.NoError(t, err)

	return &fixture{
		server:  server,
		cache:   cache,
		source:  source,
		runtime: rt,
		orch:    orch,
		catalog: cat,
		image:   testsupport.SolidPNG(t, 32, 24, color.NRGBA{R: 200, G: 120, B: 40, A: 255}),
	}
}

func (f *fixture) serverHits() int {
	n := 0
	for _, a := range assets.All {
		n += f.server.Hits(a.FileName)
	}
	return n
}

func TestRunWithoutImageFailsBeforeTouchingAssets(t *testing.T) {
	f := newFixture(t, []string{"A_750ml", "B_750ml"}, 2, 0)

	res, err := f.orch.Run(context.Background(), pipeline.Request{Catalog: f.catalog, Fetch: true})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, apperr.ErrNoImage))
	assert.Zero(t, f.source.checks.Load())
	assert.Zero(t, f.serverHits())
	assert.Equal(t, pipeline.StateIdle, f.orch.State())
}

func TestRunFailsFastWhenAssetsMissing(t *testing.T) {
	f := newFixture(t, []string{"A_750ml", "B_750ml"}, 2, 0)

	_, err := f.orch.Run(context.Background(), pipeline.Request{Image: f.image, Catalog: f.catalog})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrAssetsNotCached))
	assert.Zero(t, f.serverHits(), "runs never download implicitly")
	assert.Zero(t, f.runtime.Loads())
}

func TestRunRanksCandidates(t *testing.T) {
	f := newFixture(t, []string{"A_750ml", "B_750ml"}, 2, 0)
	require.NoError(t, f.cache.EnsureCached(context.Background(), nil))

	var states []pipeline.State
	res, err := f.orch.Run(context.Background(), pipeline.Request{
		Image:      f.image,
		Catalog:    f.catalog,
		OnProgress: func(p pipeline.Progress) { states = append(states, p.State) },
	})
	require.NoError(t, err)

	require.Len(t, res.Ranking.Candidates, 2)
	a, b := res.Ranking.Candidates[0], res.Ranking.Candidates[1]
	assert.Equal(t, "A_750ml", a.UniqueName)
	assert.InDelta(t, 0.8808, a.Probability, 1e-4)
	assert.Equal(t, 5, a.Stock)
	assert.Equal(t, "B_750ml", b.UniqueName)
	assert.InDelta(t, 0.1192, b.Probability, 1e-4)
	assert.Equal(t, 3, b.Stock)

	assert.Equal(t, f.image, res.Image)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, assets.Digest(testsupport.DefaultModel), res.ModelDigest)
	assert.Equal(t, []pipeline.State{
		pipeline.StateCheckingCache,
		pipeline.StatePreprocessing,
		pipeline.StateLoading,
		pipeline.StateInferring,
		pipeline.StatePostprocessing,
		pipeline.StateDone,
	}, states)
	assert.Equal(t, pipeline.StateIdle, f.orch.State())

	shape := f.runtime.Sessions()[0].Shape()
	assert.Equal(t, []int64{1, 3, 224, 224}, shape)
}

func TestRunWithFetchDownloadsThenClassifies(t *testing.T) {
	f := newFixture(t, []string{"A_750ml", "B_750ml"}, 0, 3)

	var (
		mu        sync.Mutex
		downloads int
		progress  []pipeline.Progress
	)
	res, err := f.orch.Run(context.Background(), pipeline.Request{
		Image:   f.image,
		Catalog: f.catalog,
		Fetch:   true,
		OnDownload: func(assets.DownloadProgress) {
			mu.Lock()
			downloads++
			mu.Unlock()
		},
		OnProgress: func(p pipeline.Progress) { progress = append(progress, p) },
	})
	require.NoError(t, err)
	assert.Equal(t, "B_750ml", res.Ranking.Top()[0].UniqueName)
	assert.Positive(t, downloads)

	require.GreaterOrEqual(t, len(progress), 2)
	assert.Equal(t, pipeline.StateDownloading, progress[1].State)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i].Fraction, progress[i-1].Fraction)
	}
	last := progress[len(progress)-1]
	assert.Equal(t, pipeline.StateDone, last.State)
	assert.Equal(t, 1.0, last.Fraction)
	assert.Zero(t, last.Remaining)
	assert.Equal(t, 8*time.Second, progress[0].Remaining.Round(time.Second))
}

func TestRunReportsLabelMismatchWithoutPartialResult(t *testing.T) {
	labels := make([]string, 500)
	for i := range labels {
		labels[i] = fmt.Sprintf("W%03d_750ml", i)
	}
	f := newFixture(t, labels, make([]float32, 498)...)
	require.NoError(t, f.cache.EnsureCached(context.Background(), nil))

	res, err := f.orch.Run(context.Background(), pipeline.Request{Image: f.image, Catalog: f.catalog})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, apperr.ErrLabelMismatch))
	assert.Equal(t, pipeline.StateIdle, f.orch.State())
}

func TestRunRejectsUndecodableImage(t *testing.T) {
	f := newFixture(t, []string{"A_750ml", "B_750ml"}, 2, 0)
	require.NoError(t, f.cache.EnsureCached(context.Background(), nil))

	_, err := f.orch.Run(context.Background(), pipeline.Request{Image: []byte("not an image"), Catalog: f.catalog})
	assert.True(t, errors.Is(err, apperr.ErrInvalidImage))
	assert.Zero(t, f.runtime.Loads())
}

func TestRunReusesSessionAcrossRuns(t *testing.T) {
	f := newFixture(t, []string{"A_750ml", "B_750ml"}, 2, 0)
	require.NoError(t, f.cache.EnsureCached(context.Background(), nil))

	for i := 0; i < 3; i++ {
		_, err := f.orch.Run(context.Background(), pipeline.Request{Image: f.image, Catalog: f.catalog})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.runtime.Loads())
	assert.Equal(t, 3, f.runtime.Runs())
}

func TestSecondRunWhileActiveIsBusy(t *testing.T) {
	f := newFixture(t, []string{"A_750ml", "B_750ml"}, 2, 0)
	require.NoError(t, f.cache.EnsureCached(context.Background(), nil))
	gate := f.runtime.Gate()

	errCh := make(chan error, 1)
	go func() {
		_, err := f.orch.Run(context.Background(), pipeline.Request{Image: f.image, Catalog: f.catalog})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return f.runtime.InFlight() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, pipeline.StateInferring, f.orch.State())

	_, err := f.orch.Run(context.Background(), pipeline.Request{Image: f.image, Catalog: f.catalog})
	assert.True(t, errors.Is(err, apperr.ErrBusy))

	close(gate)
	require.NoError(t, <-errCh)
	assert.Equal(t, pipeline.StateIdle, f.orch.State())
}

func TestCanceledRunDiscardsInference(t *testing.T) {
	f := newFixture(t, []string{"A_750ml", "B_750ml"}, 2, 0)
	require.NoError(t, f.cache.EnsureCached(context.Background(), nil))
	gate := f.runtime.Gate()
	defer close(gate)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		res, err := f.orch.Run(ctx, pipeline.Request{Image: f.image, Catalog: f.catalog})
		assert.Nil(t, res)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return f.runtime.InFlight() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	err := <-errCh
	assert.True(t, errors.Is(err, apperr.ErrCanceled))
	assert.Equal(t, apperr.KindCanceled, apperr.KindOf(err))
	assert.Equal(t, pipeline.StateIdle, f.orch.State())
}

func TestResultSelectOnlyAcceptsRankedCandidates(t *testing.T) {
	f := newFixture(t, []string{"A_750ml", "B_750ml"}, 2, 0)
	require.NoError(t, f.cache.EnsureCached(context.Background(), nil))
	res, err := f.orch.Run(context.Background(), pipeline.Request{Image: f.image, Catalog: f.catalog})
	require.NoError(t, err)

	sel, err := res.Select("B_750ml")
	require.NoError(t, err)
	assert.Equal(t, "B_750ml", sel.UniqueName)
	assert.Equal(t, f.image, sel.Image)

	_, err = res.Select("Z_1L")
	assert.ErrorIs(t, err, pipeline.ErrUnknownCandidate)
}
