package ability

import "math"

// likelihood dispatches on the response shape:
//   - thresholds present: partial-credit category probability
//   - partial score only: binomial p^s (1-p)^(1-s)
//   - otherwise: dichotomous Rasch
func likelihood(theta float64, resp Response, difficulty float64, thresholds []float64) float64 {
	if len(thresholds) > 0 {
		return partialCredit(theta, thresholds, category(resp, len(thresholds)))
	}
	p := Probability(theta, difficulty)
	if resp.PartialScore != nil {
		s := *resp.PartialScore
		return math.Pow(p, s) * math.Pow(1-p, 1-s)
	}
	if resp.Correct {
		return p
	}
	return 1 - p
}

// category maps a response onto 0..steps. Without a partial score a correct
// answer earns the top category.
func category(resp Response, steps int) int {
	if resp.PartialScore == nil {
		if resp.Correct {
			return steps
		}
		return 0
	}
	return int(math.Round(*resp.PartialScore * float64(steps)))
}

// partialCredit evaluates P(k | theta) for the partial credit model with unit
// discrimination and absolute step difficulties b_1..b_K:
//
//	P(k) = exp(sum_{j<=k}(theta - b_j)) / sum_c exp(sum_{j<=c}(theta - b_j))
func partialCredit(theta float64, steps []float64, k int) float64 {
	logits := make([]float64, len(steps)+1)
	maxLogit := 0.0
	for c := 1; c <= len(steps); c++ {
		logits[c] = logits[c-1] + theta - steps[c-1]
		if logits[c] > maxLogit {
			maxLogit = logits[c]
		}
	}
	var denom float64
	for _, l := range logits {
		denom += math.Exp(l - maxLogit)
	}
	return math.Exp(logits[k]-maxLogit) / denom
}
