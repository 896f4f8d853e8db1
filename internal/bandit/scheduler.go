// Package bandit chooses the next learning objective with Thompson-style sampling.
package bandit

import (
	"math"
	"math/rand"
	"sort"

	"github.com/example/adaptivestudy/internal/seed"
	"github.com/example/adaptivestudy/pkg/models"
)

// Scheduling reasons
const (
	ReasonThompson         = "thompson_sample"
	ReasonSeededTieBreak   = "seeded_tiebreak"
	ReasonCooldownFallback = "cooldown_fallback"
)

const tieEpsilon = 1e-12

// Policy tunes arm construction and eligibility. Zero values use DefaultPolicy.
type Policy struct {
	// Hours an LO rests after an attempt before it is eligible again
	CooldownHours float64 `yaml:"cooldown_hours"`
	// Posterior SE is scaled by this factor to get the sampling sigma
	ExplorationScale float64 `yaml:"exploration_scale"`
	// Urgency boost per unit of SE (capped at SE=1)
	LowConfidenceWeight float64 `yaml:"low_confidence_weight"`
}

// DefaultPolicy returns the production scheduling policy
func DefaultPolicy() Policy {
	return Policy{CooldownHours: 96, ExplorationScale: 0.5, LowConfidenceWeight: 0.5}
}

// ThompsonResult is the chosen LO with the values that produced its score
type ThompsonResult struct {
	LoID                string  `json:"lo_id"`
	Score               float64 `json:"score"`
	Sample              float64 `json:"sample"`
	Urgency             float64 `json:"urgency"`
	BlueprintMultiplier float64 `json:"blueprint_multiplier"`
	Reason              string  `json:"reason"`
}

// Scheduler is stateless apart from its policy; randomness comes only from the seed
type Scheduler struct {
	policy Policy
}

// NewScheduler creates a scheduler, filling unset policy fields with defaults
func NewScheduler(p Policy) *Scheduler {
	d := DefaultPolicy()
	if p.CooldownHours <= 0 {
		p.CooldownHours = d.CooldownHours
	}
	if p.ExplorationScale <= 0 {
		p.ExplorationScale = d.ExplorationScale
	}
	if p.LowConfidenceWeight < 0 {
		p.LowConfidenceWeight = d.LowConfidenceWeight
	}
	return &Scheduler{policy: p}
}

// Policy returns the effective policy
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Eligible reports whether an LO may be scheduled: its cooldown has elapsed or
// it is in hard blueprint deficit
func (s *Scheduler) Eligible(cooldownHours float64, hardDeficit bool) bool {
	return cooldownHours >= s.policy.CooldownHours || hardDeficit
}

type candidate struct {
	arm    models.ThompsonArm
	sample float64
	score  float64
}

// ScheduleNextLo draws one sample per arm and returns the best eligible arm.
// When no arm is eligible the whole set is ranked instead. ok is false only
// when arms is empty.
func (s *Scheduler) ScheduleNextLo(arms []models.ThompsonArm, seedValue int64) (ThompsonResult, bool) {
	if len(arms) == 0 {
		return ThompsonResult{}, false
	}

	sorted := append([]models.ThompsonArm(nil), arms...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LoID < sorted[j].LoID })

	rng := rand.New(rand.NewSource(seedValue))
	all := make([]candidate, 0, len(sorted))
	eligible := make([]candidate, 0, len(sorted))
	for _, arm := range sorted {
		z := rng.NormFloat64()
		sample := arm.Mu
		if arm.Sigma > 0 {
			sample += arm.Sigma * z
		}
		c := candidate{arm: arm, sample: sample, score: sample * arm.Urgency * arm.BlueprintMultiplier}
		all = append(all, c)
		if arm.Eligible {
			eligible = append(eligible, c)
		}
	}

	pool, reason := eligible, ReasonThompson
	if len(eligible) == 0 {
		pool, reason = all, ReasonCooldownFallback
	}

	best := pool[0]
	bestKey := seed.TieKey(seedValue, best.arm.LoID)
	tied := false
	for _, c := range pool[1:] {
		switch {
		case c.score > best.score+tieEpsilon:
			best, bestKey, tied = c, seed.TieKey(seedValue, c.arm.LoID), false
		case math.Abs(c.score-best.score) <= tieEpsilon:
			tied = true
			if k := seed.TieKey(seedValue, c.arm.LoID); k < bestKey {
				best, bestKey = c, k
			}
		}
	}
	if tied && reason == ReasonThompson {
		reason = ReasonSeededTieBreak
	}

	return ThompsonResult{
		LoID:                best.arm.LoID,
		Score:               best.score,
		Sample:              best.sample,
		Urgency:             best.arm.Urgency,
		BlueprintMultiplier: best.arm.BlueprintMultiplier,
		Reason:              reason,
	}, true
}
