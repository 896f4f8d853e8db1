package models

// ProbeState is the position of an LO in the stop-rule state machine
type ProbeState string

const (
	// ProbeProbing means more items should be presented for the LO
	ProbeProbing ProbeState = "probing"
	// ProbeMasteryConfirmed is terminal: the learner has demonstrated mastery
	ProbeMasteryConfirmed ProbeState = "mastery_confirmed"
	// ProbeStopped is terminal: probing ended without confirmed mastery
	ProbeStopped ProbeState = "stopped"
)

// Terminal reports whether no further transitions are possible in the current run
func (p ProbeState) Terminal() bool {
	return p == ProbeMasteryConfirmed || p == ProbeStopped
}

// RecentSEWindow is the number of standard errors kept in LoState.RecentSEs
const RecentSEWindow = 10

// LoState tracks a learner's ability estimate for a single learning objective
type LoState struct {
	LoID                string     `json:"lo_id" db:"lo_id"`
	ThetaHat            float64    `json:"theta_hat" db:"theta_hat"`
	SE                  float64    `json:"se" db:"se"`
	ItemsAttempted      int        `json:"items_attempted" db:"items_attempted"`
	RecentSEs           []float64  `json:"recent_ses" db:"-"`                 // last RecentSEWindow values, oldest first
	PriorMu             float64    `json:"prior_mu" db:"prior_mu"`             // prior mean for the next update
	PriorSigma          float64    `json:"prior_sigma" db:"prior_sigma"`       // prior SD for the next update
	LastProbeDifficulty float64    `json:"last_probe_difficulty" db:"last_probe_difficulty"`
	MasteryConfirmed    bool       `json:"mastery_confirmed" db:"mastery_confirmed"`
	ProbeState          ProbeState `json:"probe_state" db:"probe_state"`
	LastAttemptMs       int64      `json:"last_attempt_ms" db:"last_attempt_ms"` // 0 when never attempted
}

// Default prior for an LO that has never been attempted
const (
	DefaultPriorMu    = 0.0
	DefaultPriorSigma = 1.0
)

// NewLoState returns the initial state for an LO with the default prior
func NewLoState(loID string) *LoState {
	return &LoState{
		LoID:       loID,
		ThetaHat:   DefaultPriorMu,
		SE:         DefaultPriorSigma,
		PriorMu:    DefaultPriorMu,
		PriorSigma: DefaultPriorSigma,
		ProbeState: ProbeProbing,
	}
}

// PushSE appends se to the bounded history
func (s *LoState) PushSE(se float64) {
	s.RecentSEs = append(s.RecentSEs, se)
	if n := len(s.RecentSEs); n > RecentSEWindow {
		s.RecentSEs = append([]float64(nil), s.RecentSEs[n-RecentSEWindow:]...)
	}
}

// Clone returns a deep copy
func (s *LoState) Clone() *LoState {
	c := *s
	c.RecentSEs = append([]float64(nil), s.RecentSEs...)
	return &c
}
