package testsupport

import (
	"errors"
	"sync"

	"github.com/whiskeygoggles/goggles/internal/model"
)

// FakeRuntime is an in-memory model.Runtime returning fixed scores.
type FakeRuntime struct {
	mu       sync.Mutex
	scores   []float32
	loadErr  error
	runErr   error
	gate     chan struct{}
	loads    int
	runs     int
	inflight int
	sessions []*FakeSession
}

// NewFakeRuntime returns a runtime whose sessions output scores.
func NewFakeRuntime(scores ...float32) *FakeRuntime {
	return &FakeRuntime{scores: scores}
}

// SetScores changes the output of every session.
func (r *FakeRuntime) SetScores(scores ...float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores = scores
}

// FailLoad makes Load return err.
func (r *FakeRuntime) FailLoad(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadErr = err
}

// FailRun makes Run return err.
func (r *FakeRuntime) FailRun(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runErr = err
}

// Gate makes every Run block until the returned channel is closed.
func (r *FakeRuntime) Gate() chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = make(chan struct{})
	return r.gate
}

// Loads reports how many sessions were created.
func (r *FakeRuntime) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

// Runs reports how many forward passes completed.
func (r *FakeRuntime) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// InFlight reports how many Run calls have started and not returned.
func (r *FakeRuntime) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight
}

// Sessions returns every session created so far.
func (r *FakeRuntime) Sessions() []*FakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*FakeSession(nil), r.sessions...)
}

func (r *FakeRuntime) Load(data []byte) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	if len(data) == 0 {
		return nil, errors.New("empty model")
	}
	r.loads++
	s := &FakeSession{runtime: r, Model: append([]byte(nil), data...)}
	r.sessions = append(r.sessions, s)
	return s, nil
}

// FakeSession records the inputs it was run with.
type FakeSession struct {
	runtime *FakeRuntime
	Model   []byte

	mu     sync.Mutex
	closed bool
	shape  []int64
}

func (s *FakeSession) Run(input []float32, shape []int64) ([]float32, error) {
	r := s.runtime
	r.mu.Lock()
	gate, runErr := r.gate, r.runErr
	scores := append([]float32(nil), r.scores...)
	r.inflight++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inflight--
		r.mu.Unlock()
	}()

	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	closed := s.closed
	s.shape = append([]int64(nil), shape...)
	s.mu.Unlock()
	if closed {
		return nil, errors.New("session closed")
	}
	if runErr != nil {
		return nil, runErr
	}

	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	return scores, nil
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Shape returns the input shape of the last Run.
func (s *FakeSession) Shape() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shape
}
