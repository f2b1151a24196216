// Package scoring implements the retrieval final-score and graph-density
// functions, with every summand clamped to [0, 1].
package scoring

import "math"

// Weights are the four final-score coefficients plus the recency decay
// constant, sourced from config.MemoryScoringConfig.
type Weights struct {
	Similarity  float64
	Access      float64
	Recency     float64
	Graph       float64
	DecayLambda float64
}

// DefaultWeights is the stock 0.4/0.3/0.2/0.1 blend.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.4, Access: 0.3, Recency: 0.2, Graph: 0.1, DecayLambda: 1e-6}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// AccessComponent is min(access_count/100, 1).
func AccessComponent(accessCount int64) float64 {
	return clamp01(float64(accessCount) / 100.0)
}

// RecencyComponent is exp(-lambda * (now - lastAccessedAt)) with the age
// in milliseconds: at the default lambda of 1e-6 the score is ≈0.69 after
// ~6 minutes and ≈0.23 after ~25 minutes.
func RecencyComponent(lambda float64, ageMillis float64) float64 {
	if ageMillis < 0 {
		ageMillis = 0
	}
	return clamp01(math.Exp(-lambda * ageMillis))
}

// GraphDensity blends neighborhood size, edge count, and average edge
// weight.
func GraphDensity(nodeCount, edgeCount int, avgWeight float64) float64 {
	n := clamp01(float64(nodeCount) / 10.0)
	e := clamp01(float64(edgeCount) / 20.0)
	w := clamp01(avgWeight)
	return clamp01(0.4*n + 0.3*e + 0.3*w)
}

// FinalScore blends similarity, usage, recency, and graph density. Every
// input is clamped before and after weighting so the result is always in
// [0, 1] regardless of out-of-range callers.
func FinalScore(w Weights, similarity float64, accessCount int64, ageMillis float64, graphDensity float64) float64 {
	sim := clamp01(similarity)
	access := AccessComponent(accessCount)
	recency := RecencyComponent(w.DecayLambda, ageMillis)
	graph := clamp01(graphDensity)
	return clamp01(w.Similarity*sim + w.Access*access + w.Recency*recency + w.Graph*graph)
}
