package models

// ItemExposureRecord tracks how often a learner has seen a specific item
type ItemExposureRecord struct {
	ItemID         string  `json:"item_id" db:"item_id"`
	Attempts       int     `json:"attempts" db:"attempts"`
	Correct        int     `json:"correct" db:"correct"`
	LastAttemptMs  int64   `json:"last_attempt_ms" db:"last_attempt_ms"`
	RecentAttempts []int64 `json:"recent_attempts" db:"-"` // unix ms, oldest first, bounded
}

// Clone returns a deep copy
func (r *ItemExposureRecord) Clone() *ItemExposureRecord {
	c := *r
	c.RecentAttempts = append([]int64(nil), r.RecentAttempts...)
	return &c
}
