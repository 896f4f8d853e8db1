// Package ability estimates learner ability per learning objective with a
// Bayesian EAP update over a fixed quadrature grid.
//
// The grid is 41 equispaced nodes over [ThetaMin, ThetaMax]. It stands in for
// Gauss-Hermite quadrature and is intentionally kept: every downstream mastery
// decision is calibrated against it.
package ability

import (
	"math"

	"github.com/example/adaptivestudy/pkg/models"
)

const (
	ThetaMin = -4.0
	ThetaMax = 4.0
	// QuadratureNodes is the number of equispaced grid nodes, endpoints included.
	QuadratureNodes = 41
	// SEFloor bounds the posterior standard error away from zero.
	SEFloor = 0.05
)

// Prior is the normal prior for one update.
type Prior struct {
	Mu    float64
	Sigma float64
}

// Response is a single learner answer. PartialScore, when set, must lie in [0, 1].
type Response struct {
	Correct      bool
	PartialScore *float64
}

// Estimate is the posterior summary. Degenerate is set when the posterior
// weights underflowed and the prior was returned unchanged.
type Estimate struct {
	ThetaHat   float64
	SE         float64
	Degenerate bool
}

// Estimator holds the quadrature grid. It is immutable and safe for concurrent use.
type Estimator struct {
	nodes []float64
}

// NewEstimator builds the 41-node equispaced grid.
func NewEstimator() *Estimator {
	nodes := make([]float64, QuadratureNodes)
	step := (ThetaMax - ThetaMin) / float64(QuadratureNodes-1)
	for i := range nodes {
		nodes[i] = ThetaMin + float64(i)*step
	}
	return &Estimator{nodes: nodes}
}

// Nodes returns a copy of the quadrature grid.
func (e *Estimator) Nodes() []float64 {
	return append([]float64(nil), e.nodes...)
}

// Update computes the posterior ability after one response.
// thresholds selects the partial-credit likelihood; without them the Rasch
// (or binomial, for a partial score) likelihood is used.
func (e *Estimator) Update(prior Prior, resp Response, difficulty float64, thresholds []float64) (Estimate, error) {
	if err := validate(prior, resp, difficulty, thresholds); err != nil {
		return Estimate{}, err
	}

	var sumW, sumWT float64
	weights := make([]float64, len(e.nodes))
	for i, theta := range e.nodes {
		w := normalDensity(theta, prior.Mu, prior.Sigma) * likelihood(theta, resp, difficulty, thresholds)
		weights[i] = w
		sumW += w
		sumWT += w * theta
	}
	if sumW == 0 || math.IsNaN(sumW) || math.IsInf(sumW, 0) {
		return fallback(prior), nil
	}

	mean := sumWT / sumW
	var sumSq float64
	for i, theta := range e.nodes {
		d := theta - mean
		sumSq += weights[i] * d * d
	}
	sd := math.Sqrt(sumSq / sumW)
	if math.IsNaN(mean) || math.IsNaN(sd) {
		return fallback(prior), nil
	}

	return Estimate{ThetaHat: clampTheta(mean), SE: math.Max(sd, SEFloor)}, nil
}

// PriorFor returns the prior carried forward on an LO state.
func PriorFor(st *models.LoState) Prior {
	return Prior{Mu: st.PriorMu, Sigma: st.PriorSigma}
}

// ApplyToLoState records an attempt at the given difficulty and carries the
// estimate forward as the next prior.
func ApplyToLoState(st *models.LoState, est Estimate, difficulty float64) {
	st.ThetaHat = est.ThetaHat
	st.SE = est.SE
	st.PriorMu = est.ThetaHat
	st.PriorSigma = est.SE
	st.ItemsAttempted++
	st.LastProbeDifficulty = difficulty
	st.PushSE(est.SE)
}

// ValidateLoState rejects persisted states that would poison an update.
func ValidateLoState(st *models.LoState) error {
	switch {
	case !finite(st.ThetaHat):
		return invalid("thetaHat", st.ThetaHat)
	case !(st.SE > 0) || math.IsInf(st.SE, 0):
		return invalid("se", st.SE)
	case !finite(st.PriorMu):
		return invalid("priorMu", st.PriorMu)
	case !(st.PriorSigma > 0) || math.IsInf(st.PriorSigma, 0):
		return invalid("priorSigma", st.PriorSigma)
	}
	return nil
}

// Probability is the Rasch probability of a correct response.
func Probability(theta, difficulty float64) float64 {
	return logistic(theta - difficulty)
}

func validate(prior Prior, resp Response, difficulty float64, thresholds []float64) error {
	if !finite(prior.Mu) {
		return invalid("priorMu", prior.Mu)
	}
	if !(prior.Sigma > 0) || math.IsInf(prior.Sigma, 0) {
		return invalid("priorSigma", prior.Sigma)
	}
	if !finite(difficulty) {
		return invalid("difficulty", difficulty)
	}
	if resp.PartialScore != nil {
		s := *resp.PartialScore
		if math.IsNaN(s) || s < 0 || s > 1 {
			return invalid("partialScore", s)
		}
	}
	for i, t := range thresholds {
		if !finite(t) {
			return invalid("threshold", t)
		}
		if i > 0 && t < thresholds[i-1] {
			return invalid("threshold", t)
		}
	}
	return nil
}

func fallback(prior Prior) Estimate {
	return Estimate{ThetaHat: clampTheta(prior.Mu), SE: math.Max(prior.Sigma, SEFloor), Degenerate: true}
}

func clampTheta(theta float64) float64 {
	return math.Min(math.Max(theta, ThetaMin), ThetaMax)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func normalDensity(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5*z*z) / (sigma * math.Sqrt(2*math.Pi))
}

func logistic(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	ex := math.Exp(x)
	return ex / (1 + ex)
}
