package utils

import "math"

// WeightedConfidence returns the weighted mean of scores. Weights and scores are
// matched by position and weights must not all be zero.
func WeightedConfidence(scores, weights []float64) float64 {
	var sum, weightSum float64
	for i, score := range scores {
		if i >= len(weights) {
			break
		}
		sum += score * weights[i]
		weightSum += weights[i]
	}

	if weightSum == 0 {
		return 0
	}
	return RoundConfidence(sum / weightSum)
}

// RoundConfidence clamps c into [0, 1] and rounds it to 2 decimal places.
func RoundConfidence(c float64) float64 {
	c = math.Round(c*100) / 100
	return math.Max(0, math.Min(1, c))
}
