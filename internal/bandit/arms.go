package bandit

import (
	"math"
	"time"

	"github.com/example/adaptivestudy/internal/ability"
	"github.com/example/adaptivestudy/internal/blueprint"
	"github.com/example/adaptivestudy/pkg/models"
)

// ArmInput is the learner snapshot arms are derived from
type ArmInput struct {
	LoIDs            []string
	State            *models.LearnerState
	Balancer         *blueprint.Balancer
	RetentionUrgency map[string]float64 // per LO, >= 1; missing means 1
	MasteryThreshold float64
	Now              time.Time
}

// BuildArms derives one arm per LO. The arm mean is the learner's need
// (1 - mastery probability); sigma follows the posterior SE; urgency grows
// with overdue reviews and low confidence.
func (s *Scheduler) BuildArms(in ArmInput) []models.ThompsonArm {
	counts := in.State.LoAttemptCounts()
	arms := make([]models.ThompsonArm, 0, len(in.LoIDs))
	for _, loID := range in.LoIDs {
		st, ok := in.State.LoStates[loID]
		if !ok {
			st = models.NewLoState(loID)
		}

		mastery := ability.MasteryProbability(st.ThetaHat, st.SE, in.MasteryThreshold)
		retention := 1.0
		if u, ok := in.RetentionUrgency[loID]; ok && u > 0 {
			retention = u
		}
		urgency := retention * (1 + s.policy.LowConfidenceWeight*math.Min(st.SE, 1))

		drift := in.Balancer.Drift(loID, counts)
		cooldown := CooldownHours(st, in.Now)

		arms = append(arms, models.ThompsonArm{
			LoID:                loID,
			Mu:                  1 - mastery,
			Sigma:               st.SE * s.policy.ExplorationScale,
			Urgency:             urgency,
			BlueprintMultiplier: in.Balancer.Multiplier(drift),
			Drift:               drift,
			Eligible:            s.Eligible(cooldown, in.Balancer.HardDeficit(drift)),
			CooldownHours:       cooldown,
		})
	}
	return arms
}

// CooldownHours is the time since the last attempt on the LO. An LO that was
// never attempted has an infinite cooldown.
func CooldownHours(st *models.LoState, now time.Time) float64 {
	if st == nil || st.LastAttemptMs == 0 {
		return math.Inf(1)
	}
	return float64(now.UnixMilli()-st.LastAttemptMs) / float64(time.Hour/time.Millisecond)
}
