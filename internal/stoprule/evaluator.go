// Package stoprule decides when to stop probing a learning objective.
//
// Each LO runs a small state machine:
//
//	Probing -> MasteryConfirmed | Stopped
//
// Both outcomes are terminal for the current probe run.
package stoprule

import (
	"math"

	"github.com/example/adaptivestudy/internal/ability"
	"github.com/example/adaptivestudy/pkg/models"
)

// Decision reasons
const (
	ReasonBelowMinItems  = "below_min_items"
	ReasonContinue       = "continue"
	ReasonSEThreshold    = "se_threshold"
	ReasonProbeConverged = "probe_converged"
	ReasonMaxItems       = "max_items"
	ReasonTerminal       = "terminal"
)

// Config holds the stop-rule thresholds. Zero values use DefaultConfig.
type Config struct {
	MinItems         int     `yaml:"min_items"`
	MaxItems         int     `yaml:"max_items"`
	SEThreshold      float64 `yaml:"se_threshold"`
	ProbeWindow      float64 `yaml:"probe_window"`
	MasteryThreshold float64 `yaml:"mastery_threshold"`
	MasteryTarget    float64 `yaml:"mastery_target"`
}

// DefaultConfig returns the production thresholds
func DefaultConfig() Config {
	return Config{
		MinItems:         5,
		MaxItems:         40,
		SEThreshold:      0.3,
		ProbeWindow:      0.5,
		MasteryThreshold: 0,
		MasteryTarget:    0.85,
	}
}

// Decision is the evaluator output for one LO
type Decision struct {
	State              models.ProbeState `json:"state"`
	Stop               bool              `json:"stop"`
	MasteryProbability float64           `json:"mastery_probability"`
	Reason             string            `json:"reason"`
}

// Evaluator applies the stop rule. It is stateless.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an evaluator. MasteryThreshold has no zero-value
// default because 0 is a meaningful threshold.
func NewEvaluator(cfg Config) *Evaluator {
	d := DefaultConfig()
	if cfg.MinItems <= 0 {
		cfg.MinItems = d.MinItems
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = d.MaxItems
	}
	if cfg.MaxItems < cfg.MinItems {
		cfg.MaxItems = cfg.MinItems
	}
	if cfg.SEThreshold <= 0 {
		cfg.SEThreshold = d.SEThreshold
	}
	if cfg.ProbeWindow <= 0 {
		cfg.ProbeWindow = d.ProbeWindow
	}
	if cfg.MasteryTarget <= 0 || cfg.MasteryTarget > 1 {
		cfg.MasteryTarget = d.MasteryTarget
	}
	return &Evaluator{cfg: cfg}
}

// Config returns the effective configuration
func (e *Evaluator) Config() Config {
	return e.cfg
}

// MasteryProbability is Phi((thetaHat - masteryThreshold) / se)
func (e *Evaluator) MasteryProbability(thetaHat, se float64) float64 {
	return ability.MasteryProbability(thetaHat, se, e.cfg.MasteryThreshold)
}

// Evaluate returns the next state for st without mutating it
func (e *Evaluator) Evaluate(st *models.LoState) Decision {
	pm := e.MasteryProbability(st.ThetaHat, st.SE)
	if st.ProbeState.Terminal() {
		return Decision{State: st.ProbeState, Stop: true, MasteryProbability: pm, Reason: ReasonTerminal}
	}
	if st.ItemsAttempted < e.cfg.MinItems {
		return Decision{State: models.ProbeProbing, MasteryProbability: pm, Reason: ReasonBelowMinItems}
	}

	switch {
	case st.SE <= e.cfg.SEThreshold:
		return e.terminal(pm, ReasonSEThreshold)
	case math.Abs(st.ThetaHat-st.LastProbeDifficulty) <= e.cfg.ProbeWindow && pm >= e.cfg.MasteryTarget:
		return e.terminal(pm, ReasonProbeConverged)
	case st.ItemsAttempted >= e.cfg.MaxItems:
		return e.terminal(pm, ReasonMaxItems)
	}
	return Decision{State: models.ProbeProbing, MasteryProbability: pm, Reason: ReasonContinue}
}

func (e *Evaluator) terminal(pm float64, reason string) Decision {
	state := models.ProbeStopped
	if pm >= e.cfg.MasteryTarget {
		state = models.ProbeMasteryConfirmed
	}
	return Decision{State: state, Stop: true, MasteryProbability: pm, Reason: reason}
}

// ShouldStopLo reports whether probing should stop for st
func (e *Evaluator) ShouldStopLo(st *models.LoState) bool {
	return e.Evaluate(st).Stop
}

// Apply evaluates st and records the resulting state on it
func (e *Evaluator) Apply(st *models.LoState) Decision {
	d := e.Evaluate(st)
	st.ProbeState = d.State
	if d.State == models.ProbeMasteryConfirmed {
		st.MasteryConfirmed = true
	}
	return d
}

// Restart begins a new probe run on an LO whose previous run ended.
// Confirmed mastery is kept.
func Restart(st *models.LoState) {
	st.ProbeState = models.ProbeProbing
}
