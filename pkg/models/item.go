package models

// CandidateItem is a catalog entry that can be presented to a learner
type CandidateItem struct {
	ID                string    `json:"id" db:"id" validate:"required"`
	LoIDs             []string  `json:"lo_ids" db:"-" validate:"required,min=1,unique,dive,required"`
	// Rasch β
	Difficulty        float64   `json:"difficulty" db:"difficulty"`
	// Ordered partial-credit step difficulties
	Thresholds        []float64 `json:"thresholds,omitempty" db:"-"`
	MedianTimeSeconds float64   `json:"median_time_seconds" db:"median_time_seconds" validate:"gt=0"`
}

// HasLo reports whether the item is mapped to the given LO
func (i CandidateItem) HasLo(loID string) bool {
	for _, id := range i.LoIDs {
		if id == loID {
			return true
		}
	}
	return false
}
