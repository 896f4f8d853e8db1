package models

// Session holds within-session counters used for fatigue and LO continuity
type Session struct {
	ID       string `json:"id" db:"session_id"`
	Attempts int    `json:"attempts" db:"session_attempts"`
	ActiveLo string `json:"active_lo" db:"active_lo"` // LO currently being probed, empty when none
}

// LearnerState is the full per-learner snapshot loaded and saved by the repository
type LearnerState struct {
	LearnerID      string                         `json:"learner_id" db:"id"`
	Version        int64                          `json:"version" db:"version"`
	AttemptCounter int64                          `json:"attempt_counter" db:"attempt_counter"`
	Session        Session                        `json:"session"`
	LoStates       map[string]*LoState            `json:"lo_states"`
	Exposure       map[string]*ItemExposureRecord `json:"exposure"`
	Cards          map[string]*RetentionCard      `json:"cards"`
}

// NewLearnerState returns an empty state for a learner that has never studied
func NewLearnerState(learnerID string) *LearnerState {
	return &LearnerState{
		LearnerID: learnerID,
		LoStates:  make(map[string]*LoState),
		Exposure:  make(map[string]*ItemExposureRecord),
		Cards:     make(map[string]*RetentionCard),
	}
}

// GetOrCreateLo returns the state for loID, creating it with the default prior
// if the learner has never attempted that LO
func (s *LearnerState) GetOrCreateLo(loID string) *LoState {
	if s.LoStates == nil {
		s.LoStates = make(map[string]*LoState)
	}
	st, ok := s.LoStates[loID]
	if !ok {
		st = NewLoState(loID)
		s.LoStates[loID] = st
	}
	return st
}

// GetOrCreateExposure returns the exposure record for itemID, creating an empty one if missing
func (s *LearnerState) GetOrCreateExposure(itemID string) *ItemExposureRecord {
	if s.Exposure == nil {
		s.Exposure = make(map[string]*ItemExposureRecord)
	}
	rec, ok := s.Exposure[itemID]
	if !ok {
		rec = &ItemExposureRecord{ItemID: itemID}
		s.Exposure[itemID] = rec
	}
	return rec
}

// LoAttemptCounts returns the number of attempts per LO, used as observed blueprint coverage
func (s *LearnerState) LoAttemptCounts() map[string]int {
	counts := make(map[string]int, len(s.LoStates))
	for id, st := range s.LoStates {
		counts[id] = st.ItemsAttempted
	}
	return counts
}

// Clone returns a deep copy so callers can mutate without touching the loaded snapshot
func (s *LearnerState) Clone() *LearnerState {
	c := &LearnerState{
		LearnerID:      s.LearnerID,
		Version:        s.Version,
		AttemptCounter: s.AttemptCounter,
		Session:        s.Session,
		LoStates:       make(map[string]*LoState, len(s.LoStates)),
		Exposure:       make(map[string]*ItemExposureRecord, len(s.Exposure)),
		Cards:          make(map[string]*RetentionCard, len(s.Cards)),
	}
	for k, v := range s.LoStates {
		c.LoStates[k] = v.Clone()
	}
	for k, v := range s.Exposure {
		c.Exposure[k] = v.Clone()
	}
	for k, v := range s.Cards {
		c.Cards[k] = v.Clone()
	}
	return c
}
