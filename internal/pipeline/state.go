package pipeline

import "time"

// State is a step of a pipeline run.
type State int

const (
	StateIdle State = iota
	StateCheckingCache
	StateDownloading
	StatePreprocessing
	StateLoading
	StateInferring
	StatePostprocessing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateCheckingCache:  "checking_cache",
	StateDownloading:    "downloading",
	StatePreprocessing:  "preprocessing",
	StateLoading:        "loading",
	StateInferring:      "inferring",
	StatePostprocessing: "postprocessing",
	StateDone:           "done",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// stageFraction is the share of a run completed on entering a state.
// Inference dominates, so the gap before Postprocessing is the widest.
var stageFraction = map[State]float64{
	StateCheckingCache:  0.02,
	StateDownloading:    0.05,
	StatePreprocessing:  0.10,
	StateLoading:        0.20,
	StateInferring:      0.35,
	StatePostprocessing: 0.90,
	StateDone:           1,
}

// Progress is the coarse run-level signal. It is separate from the
// per-byte download progress of the asset cache.
type Progress struct {
	RunID     string
	State     State
	Fraction  float64
	Remaining time.Duration
}

// ProgressSink receives run progress. Calls are made from the goroutine
// executing Run.
type ProgressSink func(Progress)

// estimateRemaining starts from the configured estimate and switches to
// extrapolating from elapsed time once the run is far enough along for the
// measurement to mean something.
func estimateRemaining(estimate, elapsed time.Duration, fraction float64) time.Duration {
	switch {
	case fraction >= 1:
		return 0
	case fraction < stageFraction[StateLoading] || elapsed <= 0:
		remaining := estimate - elapsed
		if remaining < 0 {
			return 0
		}
		return remaining
	}
	projected := time.Duration(float64(elapsed) / fraction)
	return projected - elapsed
}
