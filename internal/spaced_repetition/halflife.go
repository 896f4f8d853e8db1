package spaced_repetition

import (
	"math"
	"time"

	"github.com/example/adaptivestudy/pkg/models"
)

// HalfLife implements a half-life forgetting-curve scheduler.
// Recall probability decays as 2^(-elapsed/halfLife); a review is due when it
// falls to TargetRetention.
type HalfLife struct {
	// Half-life assigned to a card on mastery handoff
	InitialHalfLifeHours float64 `yaml:"initial_half_life_hours"`
	// Lower bound after lapses
	MinHalfLifeHours float64 `yaml:"min_half_life_hours"`
	// Upper bound after consolidation (two years)
	MaxHalfLifeHours float64 `yaml:"max_half_life_hours"`
	// Minimum growth factor on a correct recall
	GrowthBase float64 `yaml:"growth_base"`
	// Extra growth proportional to how unexpected the recall was
	GrowthBonus float64 `yaml:"growth_bonus"`
	// Shrink factor on a lapse
	LapseFactor float64 `yaml:"lapse_factor"`
	// Recall probability at which the next review is scheduled
	TargetRetention float64 `yaml:"target_retention"`
}

// NewHalfLife returns a scheduler with the default settings
func NewHalfLife() *HalfLife {
	return &HalfLife{
		InitialHalfLifeHours: 48,
		MinHalfLifeHours:     4,
		MaxHalfLifeHours:     17520,
		GrowthBase:           1.5,
		GrowthBonus:          1.5,
		LapseFactor:          0.5,
		TargetRetention:      0.8,
	}
}

// WithDefaults fills zero or out-of-range fields from NewHalfLife
func (hl HalfLife) WithDefaults() *HalfLife {
	d := NewHalfLife()
	if hl.InitialHalfLifeHours <= 0 {
		hl.InitialHalfLifeHours = d.InitialHalfLifeHours
	}
	if hl.MinHalfLifeHours <= 0 {
		hl.MinHalfLifeHours = d.MinHalfLifeHours
	}
	if hl.MaxHalfLifeHours < hl.MinHalfLifeHours {
		hl.MaxHalfLifeHours = math.Max(d.MaxHalfLifeHours, hl.MinHalfLifeHours)
	}
	if hl.GrowthBase < 1 {
		hl.GrowthBase = d.GrowthBase
	}
	if hl.GrowthBonus < 0 {
		hl.GrowthBonus = d.GrowthBonus
	}
	if hl.LapseFactor <= 0 || hl.LapseFactor >= 1 {
		hl.LapseFactor = d.LapseFactor
	}
	if hl.TargetRetention <= 0 || hl.TargetRetention >= 1 {
		hl.TargetRetention = d.TargetRetention
	}
	return &hl
}

// ReviewOutcome describes one processed review
type ReviewOutcome struct {
	ExpectedRecall   float64 `json:"expected_recall"`
	PreviousHalfLife float64 `json:"previous_half_life_hours"`
	HalfLife         float64 `json:"half_life_hours"`
	NextReviewMs     int64   `json:"next_review_ms"`
	Lapsed           bool    `json:"lapsed"`
}

// NewCard creates the retention card for an item entering the review lane
func (hl *HalfLife) NewCard(item models.CandidateItem, now time.Time) *models.RetentionCard {
	return &models.RetentionCard{
		ItemID:        item.ID,
		LoIDs:         append([]string(nil), item.LoIDs...),
		HalfLifeHours: hl.InitialHalfLifeHours,
		NextReviewMs:  now.Add(hl.Interval(hl.InitialHalfLifeHours)).UnixMilli(),
		LastReviewMs:  now.UnixMilli(),
	}
}

// ExpectedRecall is the probability the learner still recalls the card at now
func (hl *HalfLife) ExpectedRecall(card *models.RetentionCard, now time.Time) float64 {
	if card.LastReviewMs == 0 || card.HalfLifeHours <= 0 {
		return 1
	}
	elapsed := hoursBetween(card.LastReviewMs, now.UnixMilli())
	if elapsed <= 0 {
		return 1
	}
	return math.Exp2(-elapsed / card.HalfLifeHours)
}

// NextHalfLife grows the half-life on recall, more so when recall was unlikely,
// and shrinks it toward the floor on a lapse
func (hl *HalfLife) NextHalfLife(halfLife, expectedRecall float64, correct bool) float64 {
	if halfLife <= 0 {
		halfLife = hl.InitialHalfLifeHours
	}
	recall := math.Min(math.Max(expectedRecall, 0), 1)
	var next float64
	if correct {
		next = halfLife * (hl.GrowthBase + hl.GrowthBonus*(1-recall))
	} else {
		next = halfLife * hl.LapseFactor
	}
	return math.Min(math.Max(next, hl.MinHalfLifeHours), hl.MaxHalfLifeHours)
}

// Interval is the time until recall decays to TargetRetention
func (hl *HalfLife) Interval(halfLifeHours float64) time.Duration {
	hours := -halfLifeHours * math.Log2(hl.TargetRetention)
	return time.Duration(hours * float64(time.Hour))
}

// Review processes a review of card at now and updates it in place
func (hl *HalfLife) Review(card *models.RetentionCard, correct bool, now time.Time) ReviewOutcome {
	recall := hl.ExpectedRecall(card, now)
	prev := card.HalfLifeHours
	next := hl.NextHalfLife(prev, recall, correct)

	card.HalfLifeHours = next
	card.LastReviewMs = now.UnixMilli()
	card.NextReviewMs = now.Add(hl.Interval(next)).UnixMilli()
	card.Reviews++
	if !correct {
		card.Lapses++
	}

	return ReviewOutcome{
		ExpectedRecall:   recall,
		PreviousHalfLife: prev,
		HalfLife:         next,
		NextReviewMs:     card.NextReviewMs,
		Lapsed:           !correct,
	}
}

func hoursBetween(fromMs, toMs int64) float64 {
	return float64(toMs-fromMs) / float64(time.Hour/time.Millisecond)
}
