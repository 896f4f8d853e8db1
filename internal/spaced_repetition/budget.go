package spaced_repetition

import (
	"sort"
	"time"

	"github.com/example/adaptivestudy/pkg/models"
)

const (
	// BaseReviewShare is the session share reserved for reviews
	BaseReviewShare = 0.4
	// BacklogReviewShare applies once the backlog is older than BacklogOverdueDays
	BacklogReviewShare = 0.6
	// BacklogOverdueDays is the max days overdue above which the larger share applies
	BacklogOverdueDays = 7.0
	// OverdueUrgencyPerDay is the urgency boost per day overdue
	OverdueUrgencyPerDay = 0.1
)

// ComputeRetentionBudget returns the share of a session reserved for review.
// It is a step function of the most overdue card.
func ComputeRetentionBudget(maxDaysOverdue float64) float64 {
	if maxDaysOverdue > BacklogOverdueDays {
		return BacklogReviewShare
	}
	return BaseReviewShare
}

// BudgetMinutes converts the review share into minutes of a session
func BudgetMinutes(sessionMinutes, maxDaysOverdue float64) float64 {
	if sessionMinutes <= 0 {
		return 0
	}
	return sessionMinutes * ComputeRetentionBudget(maxDaysOverdue)
}

// UrgencyMultiplier is 1 + 0.1 per day overdue
func UrgencyMultiplier(daysOverdue float64) float64 {
	if daysOverdue <= 0 {
		return 1
	}
	return 1 + OverdueUrgencyPerDay*daysOverdue
}

// DaysOverdue is how long past its review time a card is, 0 if not yet due
func DaysOverdue(card *models.RetentionCard, now time.Time) float64 {
	late := now.UnixMilli() - card.NextReviewMs
	if late <= 0 {
		return 0
	}
	return float64(late) / float64(24*time.Hour/time.Millisecond)
}

// IsDue reports whether the card should be reviewed at now
func IsDue(card *models.RetentionCard, now time.Time) bool {
	return card.NextReviewMs <= now.UnixMilli()
}

// MaxDaysOverdue returns the largest DaysOverdue over cards
func MaxDaysOverdue(cards map[string]*models.RetentionCard, now time.Time) float64 {
	var m float64
	for _, c := range cards {
		if d := DaysOverdue(c, now); d > m {
			m = d
		}
	}
	return m
}

// LoUrgency returns, per LO, the urgency multiplier of its most overdue card.
// LOs without overdue cards are absent.
func LoUrgency(cards map[string]*models.RetentionCard, now time.Time) map[string]float64 {
	out := make(map[string]float64)
	for _, c := range cards {
		d := DaysOverdue(c, now)
		if d <= 0 {
			continue
		}
		u := UrgencyMultiplier(d)
		for _, lo := range c.LoIDs {
			if u > out[lo] {
				out[lo] = u
			}
		}
	}
	return out
}

// DueCards returns the cards due at now, most overdue first, then the ones
// with more lapses, then by item id. limit <= 0 means no limit.
func DueCards(cards map[string]*models.RetentionCard, now time.Time, limit int) []*models.RetentionCard {
	var due []*models.RetentionCard
	for _, c := range cards {
		if IsDue(c, now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextReviewMs != due[j].NextReviewMs {
			return due[i].NextReviewMs < due[j].NextReviewMs
		}
		if due[i].Lapses != due[j].Lapses {
			return due[i].Lapses > due[j].Lapses
		}
		return due[i].ItemID < due[j].ItemID
	})
	if limit > 0 && len(due) > limit {
		return due[:limit]
	}
	return due
}

// Plan is the review part of a session
type Plan struct {
	BudgetShare      float64  `json:"budget_share"`
	BudgetMinutes    float64  `json:"budget_minutes"`
	MaxDaysOverdue   float64  `json:"max_days_overdue"`
	DueCount         int      `json:"due_count"`
	ItemIDs          []string `json:"item_ids"`
	EstimatedMinutes float64  `json:"estimated_minutes"`
}

// PlanSession fills the review budget with due cards in priority order.
// seconds returns the expected review time of an item; non-positive values
// count as defaultSeconds.
func PlanSession(cards map[string]*models.RetentionCard, seconds func(itemID string) float64, now time.Time, sessionMinutes float64) Plan {
	const defaultSeconds = 60.0

	maxOverdue := MaxDaysOverdue(cards, now)
	due := DueCards(cards, now, 0)
	plan := Plan{
		BudgetShare:    ComputeRetentionBudget(maxOverdue),
		BudgetMinutes:  BudgetMinutes(sessionMinutes, maxOverdue),
		MaxDaysOverdue: maxOverdue,
		DueCount:       len(due),
		ItemIDs:        []string{},
	}
	for _, c := range due {
		s := defaultSeconds
		if seconds != nil {
			if v := seconds(c.ItemID); v > 0 {
				s = v
			}
		}
		minutes := s / 60
		if plan.EstimatedMinutes+minutes > plan.BudgetMinutes {
			break
		}
		plan.EstimatedMinutes += minutes
		plan.ItemIDs = append(plan.ItemIDs, c.ItemID)
	}
	return plan
}
