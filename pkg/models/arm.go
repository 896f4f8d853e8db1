package models

// ThompsonArm is the derived, per-call view of an LO offered to the bandit
type ThompsonArm struct {
	LoID                string  `json:"lo_id"`
	Mu                  float64 `json:"mu"`
	Sigma               float64 `json:"sigma"`   // >= 0; zero makes the draw deterministic
	Urgency             float64 `json:"urgency"` // >= 0
	BlueprintMultiplier float64 `json:"blueprint_multiplier"`
	Drift               float64 `json:"drift"` // observed - target coverage
	Eligible            bool    `json:"eligible"`
	CooldownHours       float64 `json:"cooldown_hours"` // hours since last attempt on the LO
}
