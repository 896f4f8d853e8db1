// Package engine is the use-case layer around the decision core. It loads a
// learner snapshot, runs the pure components on it, saves the result and
// reports telemetry. It holds no learner state between calls.
package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/adaptivestudy/internal/ability"
	"github.com/example/adaptivestudy/internal/bandit"
	"github.com/example/adaptivestudy/internal/blueprint"
	"github.com/example/adaptivestudy/internal/clock"
	"github.com/example/adaptivestudy/internal/exposure"
	"github.com/example/adaptivestudy/internal/seed"
	"github.com/example/adaptivestudy/internal/selection"
	"github.com/example/adaptivestudy/internal/spaced_repetition"
	"github.com/example/adaptivestudy/internal/stoprule"
	"github.com/example/adaptivestudy/internal/telemetry"
	"github.com/example/adaptivestudy/pkg/models"
)

// Repository loads and saves learner snapshots with optimistic versioning
type Repository interface {
	Load(ctx context.Context, learnerID string) (*models.LearnerState, error)
	Save(ctx context.Context, state *models.LearnerState) (*models.LearnerState, error)
}

// Telemetry receives events. Record must not block.
type Telemetry interface {
	Record(ev telemetry.Event)
}

// Catalog is the static item bank
type Catalog interface {
	Item(id string) (models.CandidateItem, bool)
	ItemsForLo(loID string) []models.CandidateItem
}

// Policies groups the tunables of every core component
type Policies struct {
	Exposure  exposure.Policy            `yaml:"exposure"`
	Selection selection.Policy           `yaml:"selection"`
	Bandit    bandit.Policy              `yaml:"bandit"`
	StopRule  stoprule.Config            `yaml:"stop_rule"`
	Retention spaced_repetition.HalfLife `yaml:"retention"`
}

// DefaultPolicies returns the production settings
func DefaultPolicies() Policies {
	return Policies{
		Exposure:  exposure.DefaultPolicy(),
		Selection: selection.DefaultPolicy(),
		Bandit:    bandit.DefaultPolicy(),
		StopRule:  stoprule.DefaultConfig(),
		Retention: *spaced_repetition.NewHalfLife(),
	}
}

// Options are the explicit dependencies of an Engine. Repository, Catalog and
// Blueprint are required.
type Options struct {
	Repository Repository
	Telemetry  Telemetry
	Catalog    Catalog
	Blueprint  blueprint.Config
	Policies   Policies
	Clock      clock.Clock
	Logger     *zap.Logger
	Metrics    *telemetry.Metrics
	// Attempts per call when the repository reports a conflict
	Retries int
}

// Engine orchestrates LO scheduling, item selection, ability updates, the
// stop rule and retention review for many learners
type Engine struct {
	repo      Repository
	telemetry Telemetry
	catalog   Catalog
	balancer  *blueprint.Balancer
	estimator *ability.Estimator
	guard     *exposure.Guard
	selector  *selection.Selector
	bandit    *bandit.Scheduler
	stop      *stoprule.Evaluator
	retention *spaced_repetition.HalfLife
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	retries   int
	locks     *keyedMutex

	// blueprint LOs that have at least one catalog item
	schedulable []string
	inSchedule  map[string]bool
}

// New wires an engine from opts
func New(opts Options) (*Engine, error) {
	if opts.Repository == nil {
		return nil, errors.New("engine: repository is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("engine: catalog is required")
	}
	balancer, err := blueprint.NewBalancer(opts.Blueprint)
	if err != nil {
		return nil, err
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}

	stop := stoprule.NewEvaluator(opts.Policies.StopRule)
	sel := opts.Policies.Selection
	sel.MasteryThreshold = stop.Config().MasteryThreshold
	guard := exposure.NewGuard(opts.Policies.Exposure)

	e := &Engine{
		repo:       opts.Repository,
		telemetry:  opts.Telemetry,
		catalog:    opts.Catalog,
		balancer:   balancer,
		estimator:  ability.NewEstimator(),
		guard:      guard,
		selector:   selection.NewSelector(selection.NewScorer(guard, sel)),
		bandit:     bandit.NewScheduler(opts.Policies.Bandit),
		stop:       stop,
		retention:  opts.Policies.Retention.WithDefaults(),
		clock:      opts.Clock,
		logger:     opts.Logger.Named("engine"),
		metrics:    opts.Metrics,
		retries:    opts.Retries,
		locks:      newKeyedMutex(),
		inSchedule: make(map[string]bool),
	}
	for _, lo := range balancer.Config().LoIDs() {
		if len(opts.Catalog.ItemsForLo(lo)) > 0 {
			e.schedulable = append(e.schedulable, lo)
			e.inSchedule[lo] = true
		}
	}
	if len(e.schedulable) == 0 {
		return nil, ErrNoCandidates
	}
	return e, nil
}

// DeriveSeed is the seed of a learner's decision at the given attempt counter
func DeriveSeed(learnerID, sessionID string, counter int64) int64 {
	return seed.Derive(learnerID, sessionID, counter)
}

// Recommendation is the next item for a learner with everything needed to replay it
type Recommendation struct {
	LearnerID string                    `json:"learner_id"`
	SessionID string                    `json:"session_id"`
	Seed      int64                     `json:"seed"`
	LoID      string                    `json:"lo_id"`
	Continued bool                      `json:"continued"` // active probe kept, no bandit draw
	Restarted bool                      `json:"restarted"` // a finished probe run was reopened
	Schedule  *bandit.ThompsonResult    `json:"schedule,omitempty"`
	Selection selection.SelectionResult `json:"selection"`
}

// NextItem picks the LO and item a learner should see next. The active LO is
// kept while its probe is running; otherwise the bandit chooses.
func (e *Engine) NextItem(ctx context.Context, learnerID, sessionID string) (Recommendation, error) {
	if learnerID == "" || sessionID == "" {
		return Recommendation{}, fmt.Errorf("%w: learner and session are required", ErrInvalidAttempt)
	}
	unlock := e.locks.Lock(learnerID)
	defer unlock()

	var (
		rec    Recommendation
		events []telemetry.Event
	)
	err := WithRetry(ctx, e.retries, func() error {
		state, err := e.repo.Load(ctx, learnerID)
		if err != nil {
			return fmt.Errorf("failed to load learner %s: %w", learnerID, err)
		}
		var changed bool
		rec, events, changed, err = e.nextItem(state, sessionID)
		if err != nil || !changed {
			return err
		}
		return e.save(ctx, state)
	})
	if err != nil {
		return Recommendation{}, err
	}

	e.emit(events)
	e.logger.Info("Selected next item",
		zap.String("learner_id", learnerID),
		zap.String("session_id", sessionID),
		zap.Int64("seed", rec.Seed),
		zap.String("lo_id", rec.LoID),
		zap.String("item_id", rec.Selection.ItemID),
		zap.String("reason", rec.Selection.Signals.Reason),
		zap.Bool("continued", rec.Continued))
	return rec, nil
}

func (e *Engine) nextItem(state *models.LearnerState, sessionID string) (Recommendation, []telemetry.Event, bool, error) {
	now := e.clock.Now()
	changed := false
	if state.Session.ID != sessionID {
		state.Session = models.Session{ID: sessionID}
		changed = true
	}

	seedValue := DeriveSeed(state.LearnerID, sessionID, state.AttemptCounter)
	rec := Recommendation{LearnerID: state.LearnerID, SessionID: sessionID, Seed: seedValue}
	var events []telemetry.Event

	if lo := e.activeProbe(state); lo != "" {
		rec.LoID = lo
		rec.Continued = true
	} else {
		arms := e.bandit.BuildArms(bandit.ArmInput{
			LoIDs:            e.schedulable,
			State:            state,
			Balancer:         e.balancer,
			RetentionUrgency: spaced_repetition.LoUrgency(state.Cards, now),
			MasteryThreshold: e.stop.Config().MasteryThreshold,
			Now:              now,
		})
		res, ok := e.bandit.ScheduleNextLo(arms, seedValue)
		if !ok {
			return rec, nil, false, ErrNoCandidates
		}
		if res.Reason == bandit.ReasonCooldownFallback {
			e.metrics.Fallback("scheduler")
		}
		rec.LoID = res.LoID
		rec.Schedule = &res
		events = append(events, telemetry.LoScheduled{
			LearnerID: state.LearnerID,
			SessionID: sessionID,
			LoID:      res.LoID,
			Seed:      seedValue,
			Score:     res.Score,
			Reason:    res.Reason,
		})
	}

	lo, ok := state.LoStates[rec.LoID]
	if !ok {
		lo = models.NewLoState(rec.LoID)
	} else if lo.ProbeState.Terminal() {
		stoprule.Restart(lo)
		rec.Restarted = true
		changed = true
	}

	counts := state.LoAttemptCounts()
	sel, ok := e.selector.Select(e.catalog.ItemsForLo(rec.LoID), lo, selection.Context{
		Now:                 now,
		Exposure:            state.Exposure,
		BlueprintMultiplier: e.balancer.MultiplierFor(rec.LoID, counts),
		SessionAttempts:     state.Session.Attempts,
	}, seedValue)
	if !ok {
		return rec, nil, false, fmt.Errorf("%w: lo %s has no items", ErrNoCandidates, rec.LoID)
	}
	if sel.Signals.Reason == selection.ReasonExposureFallback {
		e.metrics.Fallback("selection")
	}
	rec.Selection = sel
	events = append(events, telemetry.ItemSelected{
		LearnerID: state.LearnerID,
		SessionID: sessionID,
		LoID:      rec.LoID,
		ItemID:    sel.ItemID,
		Seed:      seedValue,
		Utility:   sel.Signals.Utility,
		Reason:    sel.Signals.Reason,
	})

	if state.Session.ActiveLo != rec.LoID {
		state.Session.ActiveLo = rec.LoID
		changed = true
	}
	return rec, events, changed, nil
}

// activeProbe returns the session's active LO if its probe is still running
func (e *Engine) activeProbe(state *models.LearnerState) string {
	lo := state.Session.ActiveLo
	if lo == "" || !e.inSchedule[lo] {
		return ""
	}
	if st, ok := state.LoStates[lo]; ok && st.ProbeState.Terminal() {
		return ""
	}
	return lo
}

// RetentionPlan fills the review share of a session of sessionMinutes with
// the learner's due cards
func (e *Engine) RetentionPlan(ctx context.Context, learnerID string, sessionMinutes float64) (spaced_repetition.Plan, error) {
	state, err := e.repo.Load(ctx, learnerID)
	if err != nil {
		return spaced_repetition.Plan{}, fmt.Errorf("failed to load learner %s: %w", learnerID, err)
	}
	return spaced_repetition.PlanSession(state.Cards, e.itemSeconds, e.clock.Now(), sessionMinutes), nil
}

func (e *Engine) itemSeconds(itemID string) float64 {
	if item, ok := e.catalog.Item(itemID); ok {
		return item.MedianTimeSeconds
	}
	return 0
}

func (e *Engine) save(ctx context.Context, state *models.LearnerState) error {
	if _, err := e.repo.Save(ctx, state); err != nil {
		if errors.Is(err, models.ErrRepositoryConflict) {
			e.metrics.Conflict()
			e.logger.Debug("Learner state conflict, retrying",
				zap.String("learner_id", state.LearnerID), zap.Int64("version", state.Version))
		}
		return err
	}
	return nil
}

func (e *Engine) emit(events []telemetry.Event) {
	for _, ev := range events {
		e.telemetry.Record(ev)
	}
}
