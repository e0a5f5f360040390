// Package pipeline sequences one classification run: cache check, optional
// download, preprocessing, model load, inference and ranking.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whiskeygoggles/goggles/internal/apperr"
	"github.com/whiskeygoggles/goggles/internal/assets"
	"github.com/whiskeygoggles/goggles/internal/catalog"
	"github.com/whiskeygoggles/goggles/internal/handoff"
	"github.com/whiskeygoggles/goggles/internal/logging"
	"github.com/whiskeygoggles/goggles/internal/model"
	"github.com/whiskeygoggles/goggles/internal/preprocess"
	"github.com/whiskeygoggles/goggles/internal/ranking"
)

// AssetSource is the read side of the asset cache plus the explicit
// download operation.
type AssetSource interface {
	IsFullyCached(ctx context.Context) (bool, error)
	EnsureCached(ctx context.Context, onProgress assets.ProgressFunc) error
	Get(ctx context.Context, key assets.Key) ([]byte, error)
	Meta(ctx context.Context, key assets.Key) (assets.Meta, error)
	Labels(ctx context.Context) ([]string, error)
	MeanStd(ctx context.Context) (assets.MeanStd, error)
}

// Request is the input of one run.
type Request struct {
	// Image holds the encoded photo. Empty means nothing was captured.
	Image   []byte
	Catalog *catalog.Catalog
	// Fetch downloads missing assets before continuing instead of failing
	// with AssetsNotCached.
	Fetch      bool
	OnDownload assets.ProgressFunc
	OnProgress ProgressSink
}

// Result is a successful run: the ranked candidates and the photo they were
// computed from.
type Result struct {
	RunID       string
	Image       []byte
	Ranking     ranking.Ranking
	ModelDigest string
	Elapsed     time.Duration
}

// ErrUnknownCandidate is returned by Select for names not in the ranking.
var ErrUnknownCandidate = errors.New("not a ranked candidate")

// Select confirms one candidate and pairs it with the photo.
func (r *Result) Select(uniqueName string) (handoff.Selection, error) {
	if _, ok := r.Ranking.Lookup(uniqueName); !ok {
		return handoff.Selection{}, fmt.Errorf("select %q: %w", uniqueName, ErrUnknownCandidate)
	}
	return handoff.Selection{UniqueName: uniqueName, Image: r.Image}, nil
}

// Options configures an Orchestrator.
type Options struct {
	Assets  AssetSource
	Engine  *model.Engine
	Ranking ranking.Options
	// Estimate is the expected duration of a run, used before enough of the
	// run has elapsed to extrapolate.
	Estimate time.Duration
	Logger   zerolog.Logger
}

// Orchestrator runs the pipeline. Only one run is active at a time; the
// orchestrator is otherwise stateless between runs.
type Orchestrator struct {
	assets   AssetSource
	engine   *model.Engine
	ranking  ranking.Options
	estimate time.Duration
	logger   zerolog.Logger

	running atomic.Bool
	state   atomic.Int32
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Assets == nil {
		return nil, errors.New("pipeline: asset source is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("pipeline: engine is required")
	}
	return &Orchestrator{
		assets:   opts.Assets,
		engine:   opts.Engine,
		ranking:  opts.Ranking,
		estimate: opts.Estimate,
		logger:   logging.WithComponent(opts.Logger, "pipeline"),
	}, nil
}

// State returns the step the active run is in, or StateIdle.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

type run struct {
	o       *Orchestrator
	id      string
	started time.Time
	sink    ProgressSink
	logger  zerolog.Logger
}

func (r *run) enter(s State) {
	r.o.state.Store(int32(s))
	r.logger.Debug().Str("state", s.String()).Msg("pipeline state")
	if r.sink == nil {
		return
	}
	fraction := stageFraction[s]
	r.sink(Progress{
		RunID:     r.id,
		State:     s,
		Fraction:  fraction,
		Remaining: estimateRemaining(r.o.estimate, time.Since(r.started), fraction),
	})
}

// fail classifies err against the step it happened in and reports Failed.
func (r *run) fail(step State, err error) error {
	classified := classify(step, err)
	r.o.state.Store(int32(StateFailed))
	if r.sink != nil {
		r.sink(Progress{RunID: r.id, State: StateFailed, Fraction: stageFraction[step]})
	}
	r.logger.Warn().
		Err(classified).
		Str("state", step.String()).
		Str("kind", apperr.KindOf(classified).String()).
		Dur("elapsed", time.Since(r.started)).
		Msg("pipeline run failed")
	return classified
}

func classify(step State, err error) error {
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return err
	}
	if apperr.KindOf(err) == apperr.KindCanceled {
		return apperr.New(apperr.KindCanceled, step.String(), err)
	}
	return apperr.New(apperr.KindInternal, step.String(), err)
}

// Run executes one pipeline run. A missing image fails with NoImage before
// any asset or network access. A second call while a run is active fails
// with Busy. On any failure no partial result is returned and the
// orchestrator is Idle again when Run returns.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, apperr.Newf(apperr.KindBusy, "run", "a classification is already in progress")
	}
	defer func() {
		o.state.Store(int32(StateIdle))
		o.running.Store(false)
	}()

	id := uuid.NewString()
	r := &run{
		o:       o,
		id:      id,
		started: time.Now(),
		sink:    req.OnProgress,
		logger:  o.logger.With().Str("run_id", id).Logger(),
	}

	if len(req.Image) == 0 {
		return nil, r.fail(StateIdle, apperr.Newf(apperr.KindNoImage, "run", "no captured image"))
	}
	if req.Catalog == nil {
		return nil, r.fail(StateIdle, errors.New("no catalog supplied"))
	}

	r.enter(StateCheckingCache)
	cached, err := o.assets.IsFullyCached(ctx)
	if err != nil {
		return nil, r.fail(StateCheckingCache, err)
	}
	if !cached {
		if !req.Fetch {
			return nil, r.fail(StateCheckingCache, apperr.Newf(apperr.KindAssetsNotCached, "check cache", "model assets are not downloaded"))
		}
		r.enter(StateDownloading)
		if err := o.assets.EnsureCached(ctx, req.OnDownload); err != nil {
			return nil, r.fail(StateDownloading, err)
		}
	}

	r.enter(StatePreprocessing)
	meanStd, err := o.assets.MeanStd(ctx)
	if err != nil {
		return nil, r.fail(StatePreprocessing, err)
	}
	tensor, err := preprocess.FromBytes(ctx, req.Image, meanStd)
	if err != nil {
		return nil, r.fail(StatePreprocessing, err)
	}

	r.enter(StateLoading)
	session, digest, err := o.loadSession(ctx)
	if err != nil {
		return nil, r.fail(StateLoading, err)
	}

	r.enter(StateInferring)
	scores, err := o.engine.Run(ctx, session, tensor, preprocess.Shape)
	if err != nil {
		return nil, r.fail(StateInferring, err)
	}

	r.enter(StatePostprocessing)
	labels, err := o.assets.Labels(ctx)
	if err != nil {
		return nil, r.fail(StatePostprocessing, err)
	}
	ranked, err := ranking.Rank(scores, labels, req.Catalog, o.ranking)
	if err != nil {
		return nil, r.fail(StatePostprocessing, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, r.fail(StatePostprocessing, err)
	}

	r.enter(StateDone)
	res := &Result{
		RunID:       id,
		Image:       req.Image,
		Ranking:     ranked,
		ModelDigest: digest,
		Elapsed:     time.Since(r.started),
	}
	ev := r.logger.Info().
		Int("candidates", ranked.Len()).
		Int("high_confidence", ranked.HighConfidence()).
		Dur("elapsed", res.Elapsed)
	if top := ranked.Top(); len(top) > 0 {
		ev = ev.Str("top", top[0].UniqueName).Float64("probability", top[0].Probability)
	}
	ev.Msg("pipeline run complete")
	return res, nil
}

func (o *Orchestrator) loadSession(ctx context.Context) (model.Session, string, error) {
	meta, err := o.assets.Meta(ctx, assets.KeyModel)
	if err != nil {
		return nil, "", err
	}
	if session, ok := o.engine.Cached(meta.Digest); ok {
		return session, meta.Digest, nil
	}
	data, err := o.assets.Get(ctx, assets.KeyModel)
	if err != nil {
		return nil, "", err
	}
	session, err := o.engine.Load(ctx, data, meta.Digest)
	if err != nil {
		return nil, "", err
	}
	return session, meta.Digest, nil
}
