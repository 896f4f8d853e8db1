package ability

import "math"

// MasteryProbability is P(true ability > threshold) under a normal posterior:
// Phi((thetaHat - threshold) / se). A non-positive or NaN se is floored.
func MasteryProbability(thetaHat, se, threshold float64) float64 {
	if math.IsNaN(se) || se < SEFloor {
		se = SEFloor
	}
	if math.IsNaN(thetaHat) {
		return 0
	}
	p := 0.5 * math.Erfc(-(thetaHat-threshold)/(se*math.Sqrt2))
	return math.Min(math.Max(p, 0), 1)
}
