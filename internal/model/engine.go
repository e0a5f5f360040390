// Package model runs the whiskey classifier. Engine owns the loaded session
// and reuses it across runs until the cached model changes.
package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whiskeygoggles/goggles/internal/apperr"
)

// Engine loads sessions through a Runtime and executes forward passes.
type Engine struct {
	runtime Runtime
	logger  zerolog.Logger

	mu      sync.Mutex
	digest  string
	session Session

	// slot is held for the whole forward pass, including passes whose caller
	// has already given up.
	slot chan struct{}
}

func NewEngine(runtime Runtime, logger zerolog.Logger) *Engine {
	return &Engine{
		runtime: runtime,
		logger:  logger,
		slot:    make(chan struct{}, 1),
	}
}

// Load returns a session for the model bytes identified by digest. The
// previous session is reused when the digest is unchanged and closed when it
// is replaced.
func (e *Engine) Load(ctx context.Context, data []byte, digest string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.New(apperr.KindCanceled, "load", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil && digest != "" && digest == e.digest {
		return e.session, nil
	}

	start := time.Now()
	session, err := e.runtime.Load(data)
	if err != nil {
		return nil, apperr.New(apperr.KindModelLoad, "load", err)
	}
	if e.session != nil {
		if err := e.acquire(ctx); err != nil {
			_ = session.Close()
			return nil, err
		}
		if cerr := e.session.Close(); cerr != nil {
			e.logger.Warn().Err(cerr).Str("digest", e.digest).Msg("failed to close replaced session")
		}
		e.release()
	}
	e.session = session
	e.digest = digest
	e.logger.Info().
		Str("digest", digest).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("model session loaded")
	return session, nil
}

// Cached returns the loaded session when it was built from the model with
// this digest.
func (e *Engine) Cached(digest string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || digest == "" || digest != e.digest {
		return nil, false
	}
	return e.session, true
}

// Run executes one forward pass. Passes are serialized across the engine.
// The runtime cannot be interrupted, so on cancellation Run returns at once
// and the eventual output is dropped.
func (e *Engine) Run(ctx context.Context, session Session, input []float32, shape []int64) ([]float32, error) {
	if session == nil {
		return nil, apperr.Newf(apperr.KindInference, "infer", "no session loaded")
	}
	want := int64(1)
	for _, d := range shape {
		want *= d
	}
	if int64(len(input)) != want {
		return nil, apperr.Newf(apperr.KindInference, "infer", "input length %d does not match shape %v", len(input), shape)
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}

	type outcome struct {
		scores []float32
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer e.release()
		scores, err := session.Run(input, shape)
		done <- outcome{scores: scores, err: err}
	}()

	select {
	case <-ctx.Done():
		e.logger.Debug().Msg("inference abandoned; result will be discarded")
		return nil, apperr.New(apperr.KindCanceled, "infer", ctx.Err())
	case out := <-done:
		if out.err != nil {
			return nil, apperr.New(apperr.KindInference, "infer", out.err)
		}
		if len(out.scores) == 0 {
			return nil, apperr.Newf(apperr.KindInference, "infer", "model produced no scores")
		}
		return out.scores, nil
	}
}

// Close releases the cached session.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	e.slot <- struct{}{}
	err := e.session.Close()
	<-e.slot
	e.session = nil
	e.digest = ""
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return apperr.New(apperr.KindCanceled, "infer", ctx.Err())
	}
}

func (e *Engine) release() {
	<-e.slot
}
