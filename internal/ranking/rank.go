// Package ranking turns raw classifier scores into catalog candidates sorted
// by confidence.
package ranking

import (
	"sort"
	"strings"

	"github.com/whiskeygoggles/goggles/internal/apperr"
	"github.com/whiskeygoggles/goggles/internal/catalog"
)

// Default presentation limits.
const (
	DefaultTopK           = 20
	DefaultHighConfidence = 0.5
)

// Candidate is a prediction joined with its catalog record.
type Candidate struct {
	ID          int64   `json:"id"`
	UniqueName  string  `json:"unique_name"`
	Name        string  `json:"name"`
	Stock       int     `json:"stock"`
	Probability float64 `json:"probability"`
}

// Size returns the bottle size tag from the unique name.
func (c Candidate) Size() string {
	return SizeTag(c.UniqueName)
}

// Options controls how a Ranking is presented.
type Options struct {
	TopK           int
	HighConfidence float64
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.HighConfidence <= 0 {
		o.HighConfidence = DefaultHighConfidence
	}
	return o
}

// Ranking is the full filtered list of candidates, sorted non-increasing by
// probability. Equal probabilities keep catalog order.
type Ranking struct {
	Candidates []Candidate
	opts       Options

	highConfidence int
}

// Rank applies softmax to scores, pairs each probability with its label and
// keeps only labels present in cat. labels and scores must be the same
// length; a mismatch means the model and label list come from different
// versions and is reported as LabelMismatch.
func Rank(scores []float32, labels []string, cat *catalog.Catalog, opts Options) (Ranking, error) {
	if len(scores) != len(labels) {
		return Ranking{}, apperr.Newf(apperr.KindLabelMismatch, "rank",
			"model produced %d scores for %d labels", len(scores), len(labels))
	}
	opts = opts.withDefaults()
	probs := Softmax(scores)

	high := 0
	for _, p := range probs {
		if p > opts.HighConfidence {
			high++
		}
	}

	byLabel := make(map[string]int, len(labels))
	for i, label := range labels {
		if _, ok := byLabel[label]; !ok {
			byLabel[label] = i
		}
	}

	// Walking the catalog rather than the labels fixes the pre-sort order
	// that the stable sort preserves for ties.
	var candidates []Candidate
	for _, e := range cat.Entries() {
		i, ok := byLabel[e.UniqueName]
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:          e.ID,
			UniqueName:  e.UniqueName,
			Name:        e.Name,
			Stock:       e.Stock,
			Probability: probs[i],
		})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].Probability > candidates[b].Probability
	})
	return Ranking{Candidates: candidates, opts: opts, highConfidence: high}, nil
}

// Len returns the number of catalog matches.
func (r Ranking) Len() int {
	return len(r.Candidates)
}

// TopK returns the display limit in effect.
func (r Ranking) TopK() int {
	return r.opts.withDefaults().TopK
}

// Top returns the highest-probability candidates up to the display limit.
func (r Ranking) Top() []Candidate {
	k := r.TopK()
	if len(r.Candidates) <= k {
		return r.Candidates
	}
	return r.Candidates[:k]
}

// Search returns every candidate whose normalized unique name contains the
// normalized term, in ranked order. There is no result limit.
func (r Ranking) Search(term string) []Candidate {
	needle := NormalizeName(term)
	if needle == "" {
		return nil
	}
	var out []Candidate
	for _, c := range r.Candidates {
		if strings.Contains(NormalizeName(c.UniqueName), needle) {
			out = append(out, c)
		}
	}
	return out
}

// View is what a results screen shows: the top candidates for an empty
// term, otherwise every match for the term.
func (r Ranking) View(term string) []Candidate {
	if strings.TrimSpace(term) == "" {
		return r.Top()
	}
	return r.Search(term)
}

// HighConfidence counts model predictions above the high-confidence
// threshold. The count is taken before the catalog filter, so a confident
// prediction for a bottle the catalog lacks still counts.
func (r Ranking) HighConfidence() int {
	return r.highConfidence
}

// Lookup finds a ranked candidate by unique name.
func (r Ranking) Lookup(uniqueName string) (Candidate, bool) {
	for _, c := range r.Candidates {
		if c.UniqueName == uniqueName {
			return c, true
		}
	}
	return Candidate{}, false
}
