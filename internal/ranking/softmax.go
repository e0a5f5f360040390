package ranking

import "math"

// Softmax converts raw scores to probabilities. Scores are shifted by their
// maximum before exponentiation so large logits cannot overflow.
func Softmax(scores []float32) []float64 {
	if len(scores) == 0 {
		return nil
	}
	m := float64(scores[0])
	for _, s := range scores[1:] {
		if float64(s) > m {
			m = float64(s)
		}
	}
	probs := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		e := math.Exp(float64(s) - m)
		probs[i] = e
		sum += e
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
