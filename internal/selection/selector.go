package selection

import (
	"math"

	"github.com/example/adaptivestudy/internal/ability"
	"github.com/example/adaptivestudy/internal/seed"
	"github.com/example/adaptivestudy/pkg/models"
)

// Selection reasons
const (
	ReasonMaxUtility       = "max_utility"
	ReasonSeededTieBreak   = "seeded_tiebreak"
	ReasonExposureFallback = "exposure_fallback"
)

// SelectionResult is the chosen item plus the signals that led to it
type SelectionResult struct {
	ItemID  string  `json:"item_id"`
	Signals Signals `json:"signals"`
}

// Selector ranks candidates inside one LO
type Selector struct {
	scorer *Scorer
}

// NewSelector creates a selector
func NewSelector(scorer *Scorer) *Selector {
	return &Selector{scorer: scorer}
}

// Scorer returns the underlying scorer
func (s *Selector) Scorer() *Scorer {
	return s.scorer
}

type scored struct {
	item models.CandidateItem
	sig  Signals
}

// Select picks the highest-utility candidate. Capped items are skipped unless
// every candidate is capped, in which case the full set is ranked instead.
// Ties are broken by a seeded hash of the item id. ok is false only when
// candidates is empty.
func (s *Selector) Select(candidates []models.CandidateItem, lo *models.LoState, c Context, seedValue int64) (res SelectionResult, ok bool) {
	if len(candidates) == 0 {
		return SelectionResult{}, false
	}

	all := make([]scored, 0, len(candidates))
	open := make([]scored, 0, len(candidates))
	for _, item := range candidates {
		sc := scored{item: item, sig: s.scorer.Score(item, lo.ThetaHat, c)}
		all = append(all, sc)
		if sc.sig.ExposureMultiplier > 0 {
			open = append(open, sc)
		}
	}

	pool, reason := open, ReasonMaxUtility
	if len(open) == 0 {
		pool, reason = all, ReasonExposureFallback
	}

	best, tied := s.argmax(pool, seedValue, reason == ReasonExposureFallback)
	if tied && reason == ReasonMaxUtility {
		reason = ReasonSeededTieBreak
	}

	sig := best.sig
	sig.SE = lo.SE
	sig.MasteryProbability = ability.MasteryProbability(lo.ThetaHat, lo.SE, s.scorer.policy.MasteryThreshold)
	sig.Reason = reason
	return SelectionResult{ItemID: best.item.ID, Signals: sig}, true
}

// argmax ranks by utility. In the fallback pool every utility is zero, so the
// ranking uses the utility the item would have without the exposure cap.
func (s *Selector) argmax(pool []scored, seedValue int64, ignoreExposure bool) (scored, bool) {
	rank := func(sc scored) float64 {
		if ignoreExposure && sc.item.MedianTimeSeconds > 0 {
			return sc.sig.Info / sc.item.MedianTimeSeconds * sc.sig.BlueprintMultiplier * sc.sig.FatigueScalar
		}
		return sc.sig.Utility
	}

	best := pool[0]
	bestRank := rank(best)
	bestKey := seed.TieKey(seedValue, best.item.ID)
	tied := false
	for _, sc := range pool[1:] {
		r := rank(sc)
		switch {
		case r > bestRank+s.scorer.policy.TieEpsilon:
			best, bestRank, bestKey, tied = sc, r, seed.TieKey(seedValue, sc.item.ID), false
		case math.Abs(r-bestRank) <= s.scorer.policy.TieEpsilon:
			tied = true
			if k := seed.TieKey(seedValue, sc.item.ID); k < bestKey {
				best, bestRank, bestKey = sc, r, k
			}
		}
	}
	return best, tied
}
