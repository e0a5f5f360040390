package ranking

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiskeygoggles/goggles/internal/apperr"
	"github.com/whiskeygoggles/goggles/internal/catalog"
)

func mustCatalog(t *testing.T, entries ...catalog.Entry) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(entries)
	require.NoError(t, err)
	return c
}

func TestSoftmaxSumsToOne(t *testing.T) {
	cases := [][]float32{
		{2, 0},
		{1000, -1000, 0},
		{1000, 1000, 999},
		{-1000, -1000},
		{0},
		{3.5, -2.25, 0.125, 7, 7},
	}
	for _, scores := range cases {
		probs := Softmax(scores)
		require.Len(t, probs, len(scores))
		var sum float64
		for _, p := range probs {
			assert.False(t, math.IsNaN(p) || math.IsInf(p, 0), "scores %v", scores)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "scores %v", scores)
	}
	assert.Nil(t, Softmax(nil))
}

func TestRankTwoLabelScenario(t *testing.T) {
	cat := mustCatalog(t,
		catalog.Entry{ID: 1, UniqueName: "A_750ml", Name: "A", Stock: 5},
		catalog.Entry{ID: 2, UniqueName: "B_750ml", Name: "B", Stock: 3},
	)
	r, err := Rank([]float32{2, 0}, []string{"A_750ml", "B_750ml"}, cat, Options{})
	require.NoError(t, err)

	require.Len(t, r.Candidates, 2)
	assert.Equal(t, "A_750ml", r.Candidates[0].UniqueName)
	assert.InDelta(t, 0.8808, r.Candidates[0].Probability, 1e-4)
	assert.Equal(t, 5, r.Candidates[0].Stock)
	assert.Equal(t, "B_750ml", r.Candidates[1].UniqueName)
	assert.InDelta(t, 0.1192, r.Candidates[1].Probability, 1e-4)
	assert.Equal(t, 3, r.Candidates[1].Stock)
	assert.Equal(t, 1, r.HighConfidence())
}

func TestHighConfidenceCountsPredictionsOutsideCatalog(t *testing.T) {
	cat := mustCatalog(t, catalog.Entry{ID: 1, UniqueName: "A_750ml", Stock: 2})
	r, err := Rank([]float32{0, 6}, []string{"A_750ml", "Unlisted_1L"}, cat, Options{})
	require.NoError(t, err)

	require.Len(t, r.Candidates, 1)
	assert.Less(t, r.Candidates[0].Probability, DefaultHighConfidence)
	assert.Equal(t, 1, r.HighConfidence(), "the confident unlisted prediction still counts")

	r, err = Rank([]float32{0, 6}, []string{"A_750ml", "Unlisted_1L"}, cat, Options{HighConfidence: 0.999})
	require.NoError(t, err)
	assert.Zero(t, r.HighConfidence())

	assert.Zero(t, Ranking{}.HighConfidence())
}

func TestRankLengthMismatchIsLabelMismatch(t *testing.T) {
	labels := make([]string, 500)
	for i := range labels {
		labels[i] = fmt.Sprintf("W%d_750ml", i)
	}
	scores := make([]float32, 498)

	r, err := Rank(scores, labels, mustCatalog(t, catalog.Entry{UniqueName: "W1_750ml"}), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrLabelMismatch))
	assert.Empty(t, r.Candidates)
}

func TestRankFiltersToCatalogAndKeepsCatalogOrderOnTies(t *testing.T) {
	labels := []string{"X_1L", "C_750ml", "B_750ml", "A_750ml", "Y_1L"}
	scores := []float32{9, 1, 1, 1, 0}
	cat := mustCatalog(t,
		catalog.Entry{ID: 10, UniqueName: "B_750ml"},
		catalog.Entry{ID: 11, UniqueName: "A_750ml"},
		catalog.Entry{ID: 12, UniqueName: "Y_1L"},
		catalog.Entry{ID: 13, UniqueName: "C_750ml"},
		catalog.Entry{ID: 14, UniqueName: "Z_1L"},
	)

	r, err := Rank(scores, labels, cat, Options{})
	require.NoError(t, err)

	var got []string
	for _, c := range r.Candidates {
		got = append(got, c.UniqueName)
		_, ok := cat.Lookup(c.UniqueName)
		assert.True(t, ok, "candidate %s must be in the catalog", c.UniqueName)
	}
	assert.Equal(t, []string{"B_750ml", "A_750ml", "C_750ml", "Y_1L"}, got)

	for i := 1; i < len(r.Candidates); i++ {
		assert.GreaterOrEqual(t, r.Candidates[i-1].Probability, r.Candidates[i].Probability)
	}
}

func TestTopTruncatesAfterFiltering(t *testing.T) {
	var (
		labels  []string
		scores  []float32
		entries []catalog.Entry
	)
	// The five best-scoring labels are not in the catalog.
	for i := 0; i < 30; i++ {
		name := fmt.Sprintf("W%02d_750ml", i)
		labels = append(labels, name)
		scores = append(scores, float32(30-i))
		if i >= 5 {
			entries = append(entries, catalog.Entry{ID: int64(i), UniqueName: name})
		}
	}
	r, err := Rank(scores, labels, mustCatalog(t, entries...), Options{TopK: 20})
	require.NoError(t, err)

	assert.Equal(t, 25, r.Len())
	top := r.Top()
	require.Len(t, top, 20)
	assert.Equal(t, "W05_750ml", top[0].UniqueName)
	assert.Equal(t, "W24_750ml", top[19].UniqueName)
}

func TestViewAndSearch(t *testing.T) {
	var (
		labels  []string
		scores  []float32
		entries []catalog.Entry
	)
	for i := 0; i < 25; i++ {
		name := fmt.Sprintf("Old_Forester_%d_750ml", i)
		labels = append(labels, name)
		scores = append(scores, float32(i))
		entries = append(entries, catalog.Entry{ID: int64(i), UniqueName: name})
	}
	labels = append(labels, "Blanton_s_Original_750ml")
	scores = append(scores, -5)
	entries = append(entries, catalog.Entry{ID: 99, UniqueName: "Blanton_s_Original_750ml"})

	r, err := Rank(scores, labels, mustCatalog(t, entries...), Options{TopK: 20})
	require.NoError(t, err)

	assert.Len(t, r.View("   "), 20)
	assert.Len(t, r.View("old forester"), 25, "search has no result limit")

	hits := r.Search("BLANTON'S original")
	require.Len(t, hits, 1)
	assert.Equal(t, "Blanton_s_Original_750ml", hits[0].UniqueName)

	assert.Empty(t, r.Search("pappy"))
	assert.Nil(t, r.Search(""))

	c, ok := r.Lookup("Blanton_s_Original_750ml")
	require.True(t, ok)
	assert.Equal(t, int64(99), c.ID)
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Blanton's Original":   "blanton_s_original",
		"  Old   Forester 1920": "old_forester_1920",
		"E.H. Taylor, Jr.":     "e_h_taylor_jr_",
		"already_normal__name": "already_normal_name",
		"":                     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeName(in), in)
	}
}

func TestUniqueNameAndSizeTag(t *testing.T) {
	assert.Equal(t, "Blanton_s_Original_750ml", UniqueName("Blanton's Original", 750))
	assert.Equal(t, "E_H_Taylor_Jr_1000ml", UniqueName("E.H. Taylor, Jr.", 1000))

	assert.Equal(t, "750ml", SizeTag("Blanton_s_Original_750ml"))
	assert.Equal(t, "1.75L", SizeTag("Jim_Beam_1.75L"))
	assert.Equal(t, "1L", Candidate{UniqueName: "Maker_s_Mark_1L"}.Size())
	assert.Equal(t, "", SizeTag("Mystery_Bottle"))
	assert.Equal(t, "", SizeTag("NoSeparator"))
}
