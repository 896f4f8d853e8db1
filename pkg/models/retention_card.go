package models

// RetentionCard schedules spaced review of an item after mastery handoff
type RetentionCard struct {
	ItemID        string   `json:"item_id" db:"item_id"`
	LoIDs         []string `json:"lo_ids" db:"-"`
	HalfLifeHours float64  `json:"half_life_hours" db:"half_life_hours"`
	NextReviewMs  int64    `json:"next_review_ms" db:"next_review_ms"`
	LastReviewMs  int64    `json:"last_review_ms" db:"last_review_ms"`
	Lapses        int      `json:"lapses" db:"lapses"`
	Reviews       int      `json:"reviews" db:"reviews"`
}

// Clone returns a deep copy
func (c *RetentionCard) Clone() *RetentionCard {
	cp := *c
	cp.LoIDs = append([]string(nil), c.LoIDs...)
	return &cp
}

// HasLo reports whether the card belongs to the given LO
func (c *RetentionCard) HasLo(loID string) bool {
	for _, id := range c.LoIDs {
		if id == loID {
			return true
		}
	}
	return false
}
