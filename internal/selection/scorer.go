// Package selection scores catalog items and picks the next one to present
// within a learning objective.
package selection

import (
	"time"

	"github.com/example/adaptivestudy/internal/ability"
	"github.com/example/adaptivestudy/internal/exposure"
	"github.com/example/adaptivestudy/pkg/models"
)

// Policy tunes scoring. Zero values are replaced by DefaultPolicy.
type Policy struct {
	// Fatigue decay per within-session attempt
	FatigueRate float64 `yaml:"fatigue_rate"`
	// Utilities closer than this are treated as tied
	TieEpsilon float64 `yaml:"tie_epsilon"`
	// Ability threshold used for the reported mastery probability
	MasteryThreshold float64 `yaml:"mastery_threshold"`
}

// DefaultPolicy returns the production scoring policy
func DefaultPolicy() Policy {
	return Policy{FatigueRate: 0.05, TieEpsilon: 1e-12}
}

// Context is the learner snapshot a score is computed against
type Context struct {
	Now                 time.Time
	Exposure            map[string]*models.ItemExposureRecord
	BlueprintMultiplier float64 // multiplier of the LO being probed
	SessionAttempts     int
}

// Signals explains a score
type Signals struct {
	Info                float64 `json:"info"`
	BlueprintMultiplier float64 `json:"blueprint_multiplier"`
	ExposureMultiplier  float64 `json:"exposure_multiplier"`
	FatigueScalar       float64 `json:"fatigue_scalar"`
	MedianSeconds       float64 `json:"median_seconds"`
	Utility             float64 `json:"utility"`
	ThetaHat            float64 `json:"theta_hat"`
	SE                  float64 `json:"se"`
	MasteryProbability  float64 `json:"mastery_probability"`
	Reason              string  `json:"reason,omitempty"`
}

// Scorer combines information, time, exposure, balance and fatigue
type Scorer struct {
	guard  *exposure.Guard
	policy Policy
}

// NewScorer creates a scorer using guard for exposure multipliers
func NewScorer(guard *exposure.Guard, p Policy) *Scorer {
	d := DefaultPolicy()
	if p.FatigueRate <= 0 {
		p.FatigueRate = d.FatigueRate
	}
	if p.TieEpsilon <= 0 {
		p.TieEpsilon = d.TieEpsilon
	}
	return &Scorer{guard: guard, policy: p}
}

// Information is the Rasch Fisher information p(1-p) at thetaHat
func Information(thetaHat, difficulty float64) float64 {
	p := ability.Probability(thetaHat, difficulty)
	return p * (1 - p)
}

// FatigueScalar is in (0, 1] and decreases with within-session attempts
func (s *Scorer) FatigueScalar(sessionAttempts int) float64 {
	if sessionAttempts <= 0 {
		return 1
	}
	return 1 / (1 + s.policy.FatigueRate*float64(sessionAttempts))
}

// Score computes the utility of item for a learner at thetaHat
func (s *Scorer) Score(item models.CandidateItem, thetaHat float64, c Context) Signals {
	bm := c.BlueprintMultiplier
	if bm < 0 {
		bm = 0
	}
	sig := Signals{
		Info:                Information(thetaHat, item.Difficulty),
		BlueprintMultiplier: bm,
		ExposureMultiplier:  s.guard.Multiplier(c.Exposure[item.ID], c.Now),
		FatigueScalar:       s.FatigueScalar(c.SessionAttempts),
		MedianSeconds:       item.MedianTimeSeconds,
		ThetaHat:            thetaHat,
	}
	if item.MedianTimeSeconds > 0 {
		sig.Utility = sig.Info / item.MedianTimeSeconds * sig.BlueprintMultiplier * sig.ExposureMultiplier * sig.FatigueScalar
	}
	return sig
}
