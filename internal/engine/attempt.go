package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/example/adaptivestudy/internal/ability"
	"github.com/example/adaptivestudy/internal/spaced_repetition"
	"github.com/example/adaptivestudy/internal/stoprule"
	"github.com/example/adaptivestudy/internal/telemetry"
	"github.com/example/adaptivestudy/pkg/models"
)

// ErrInvalidAttempt is returned for a malformed attempt
var ErrInvalidAttempt = errors.New("engine: invalid attempt")

var attemptValidate = validator.New(validator.WithRequiredStructEnabled())

// Attempt is one learner response
type Attempt struct {
	LearnerID    string   `json:"learner_id" validate:"required"`
	SessionID    string   `json:"session_id" validate:"required"`
	ItemID       string   `json:"item_id" validate:"required"`
	Correct      bool     `json:"correct"`
	PartialScore *float64 `json:"partial_score,omitempty" validate:"omitempty,gte=0,lte=1"`
	ResponseMs   int64    `json:"response_ms" validate:"gte=0"`
}

// recalled is the binary outcome used for exposure and retention. A partial
// score counts as recalled from one half up.
func (a Attempt) recalled() bool {
	if a.PartialScore != nil {
		return *a.PartialScore >= 0.5
	}
	return a.Correct
}

// LoUpdate is the effect of an attempt on one LO
type LoUpdate struct {
	LoID        string            `json:"lo_id"`
	ThetaBefore float64           `json:"theta_before"`
	SEBefore    float64           `json:"se_before"`
	ThetaAfter  float64           `json:"theta_after"`
	SEAfter     float64           `json:"se_after"`
	Degenerate  bool              `json:"degenerate"`
	Decision    stoprule.Decision `json:"decision"`
	// Items that entered spaced review because mastery was confirmed
	CardsCreated []string `json:"cards_created,omitempty"`
}

// AttemptOutcome summarizes what SubmitAttempt changed
type AttemptOutcome struct {
	LearnerID string                           `json:"learner_id"`
	SessionID string                           `json:"session_id"`
	ItemID    string                           `json:"item_id"`
	Seed      int64                            `json:"seed"`
	Updates   []LoUpdate                       `json:"updates"`
	Review    *spaced_repetition.ReviewOutcome `json:"review,omitempty"`
	Version   int64                            `json:"version"`
}

// SubmitAttempt applies a response: ability update for every LO of the item,
// exposure record, stop rule, retention review or mastery handoff, then save.
// A rejected update leaves the stored state untouched.
func (e *Engine) SubmitAttempt(ctx context.Context, a Attempt) (AttemptOutcome, error) {
	if err := attemptValidate.Struct(a); err != nil {
		e.metrics.Invalid()
		return AttemptOutcome{}, fmt.Errorf("%w: %v", ErrInvalidAttempt, err)
	}
	item, ok := e.catalog.Item(a.ItemID)
	if !ok {
		return AttemptOutcome{}, fmt.Errorf("%w: %s", ErrUnknownItem, a.ItemID)
	}

	unlock := e.locks.Lock(a.LearnerID)
	defer unlock()

	var (
		out    AttemptOutcome
		events []telemetry.Event
	)
	err := WithRetry(ctx, e.retries, func() error {
		state, err := e.repo.Load(ctx, a.LearnerID)
		if err != nil {
			return fmt.Errorf("failed to load learner %s: %w", a.LearnerID, err)
		}
		out, events, err = e.applyAttempt(state, item, a)
		if err != nil {
			return err
		}
		if err := e.save(ctx, state); err != nil {
			return err
		}
		out.Version = state.Version + 1
		return nil
	})
	if err != nil {
		var se *StateError
		if errors.As(err, &se) {
			e.metrics.Invalid()
			e.logger.Error("Rejected attempt",
				zap.String("learner_id", se.LearnerID),
				zap.String("lo_id", se.LoID),
				zap.String("item_id", a.ItemID),
				zap.Error(se.Err))
		}
		return AttemptOutcome{}, err
	}

	e.emit(events)
	e.logger.Debug("Recorded attempt",
		zap.String("learner_id", a.LearnerID),
		zap.String("item_id", a.ItemID),
		zap.Int64("seed", out.Seed),
		zap.Bool("correct", a.Correct))
	return out, nil
}

func (e *Engine) applyAttempt(state *models.LearnerState, item models.CandidateItem, a Attempt) (AttemptOutcome, []telemetry.Event, error) {
	now := e.clock.Now()
	if state.Session.ID != a.SessionID {
		state.Session = models.Session{ID: a.SessionID}
	}
	out := AttemptOutcome{
		LearnerID: state.LearnerID,
		SessionID: a.SessionID,
		ItemID:    item.ID,
		Seed:      DeriveSeed(state.LearnerID, a.SessionID, state.AttemptCounter),
	}
	resp := ability.Response{Correct: a.Correct, PartialScore: a.PartialScore}

	// every estimate is computed before any LO is touched
	priors := make([]ability.Prior, len(item.LoIDs))
	estimates := make([]ability.Estimate, len(item.LoIDs))
	for i, loID := range item.LoIDs {
		prior := ability.Prior{Mu: models.DefaultPriorMu, Sigma: models.DefaultPriorSigma}
		if st, ok := state.LoStates[loID]; ok {
			if err := ability.ValidateLoState(st); err != nil {
				return out, nil, &StateError{LearnerID: state.LearnerID, LoID: loID, Err: err}
			}
			prior = ability.PriorFor(st)
		}
		est, err := e.estimator.Update(prior, resp, item.Difficulty, item.Thresholds)
		if err != nil {
			return out, nil, &StateError{LearnerID: state.LearnerID, LoID: loID, Err: err}
		}
		priors[i], estimates[i] = prior, est
	}

	var events []telemetry.Event
	recalled := a.recalled()

	if card, ok := state.Cards[item.ID]; ok {
		review := e.retention.Review(card, recalled, now)
		out.Review = &review
		events = append(events, telemetry.ReviewScheduled{
			LearnerID:     state.LearnerID,
			ItemID:        item.ID,
			HalfLifeHours: review.HalfLife,
			NextReviewMs:  review.NextReviewMs,
			Lapsed:        review.Lapsed,
		})
	}

	e.guard.Record(state.GetOrCreateExposure(item.ID), recalled, now)

	for i, loID := range item.LoIDs {
		st := state.GetOrCreateLo(loID)
		upd := LoUpdate{LoID: loID, ThetaBefore: st.ThetaHat, SEBefore: st.SE, Degenerate: estimates[i].Degenerate}

		ability.ApplyToLoState(st, estimates[i], item.Difficulty)
		st.LastAttemptMs = now.UnixMilli()
		wasProbing := st.ProbeState == models.ProbeProbing
		upd.Decision = e.stop.Apply(st)
		upd.ThetaAfter, upd.SEAfter = st.ThetaHat, st.SE

		if upd.Degenerate {
			e.metrics.Degenerate()
			e.logger.Warn("Degenerate ability update, prior kept",
				zap.String("learner_id", state.LearnerID),
				zap.String("lo_id", loID),
				zap.String("item_id", item.ID),
				zap.Float64("prior_mu", priors[i].Mu),
				zap.Float64("prior_sigma", priors[i].Sigma),
				zap.Float64("difficulty", item.Difficulty))
			events = append(events, telemetry.AbilityDegenerate{
				LearnerID:  state.LearnerID,
				LoID:       loID,
				ItemID:     item.ID,
				PriorMu:    priors[i].Mu,
				PriorSigma: priors[i].Sigma,
				Difficulty: item.Difficulty,
			})
		}

		if wasProbing && upd.Decision.State == models.ProbeMasteryConfirmed {
			upd.CardsCreated = e.handoff(state, loID, now)
			e.logger.Info("Mastery confirmed",
				zap.String("learner_id", state.LearnerID),
				zap.String("lo_id", loID),
				zap.Float64("theta_hat", st.ThetaHat),
				zap.Float64("se", st.SE),
				zap.Int("cards_created", len(upd.CardsCreated)))
			events = append(events, telemetry.MasteryConfirmed{
				LearnerID:          state.LearnerID,
				LoID:               loID,
				ThetaHat:           st.ThetaHat,
				SE:                 st.SE,
				MasteryProbability: upd.Decision.MasteryProbability,
				CardsCreated:       len(upd.CardsCreated),
			})
		}
		out.Updates = append(out.Updates, upd)
	}

	state.AttemptCounter++
	state.Session.Attempts++
	if active, ok := state.LoStates[state.Session.ActiveLo]; ok && active.ProbeState.Terminal() {
		state.Session.ActiveLo = ""
	}

	first := out.Updates[0]
	events = append([]telemetry.Event{telemetry.AttemptRecorded{
		LearnerID:    state.LearnerID,
		SessionID:    a.SessionID,
		ItemID:       item.ID,
		LoIDs:        append([]string(nil), item.LoIDs...),
		Correct:      a.Correct,
		PartialScore: a.PartialScore,
		ResponseMs:   a.ResponseMs,
		Seed:         out.Seed,
		ThetaBefore:  first.ThetaBefore,
		ThetaAfter:   first.ThetaAfter,
		SEAfter:      first.SEAfter,
	}}, events...)
	return out, events, nil
}

// handoff moves the items of a mastered LO that the learner has already seen
// into spaced review
func (e *Engine) handoff(state *models.LearnerState, loID string, now time.Time) []string {
	var created []string
	for _, item := range e.catalog.ItemsForLo(loID) {
		if _, seen := state.Exposure[item.ID]; !seen {
			continue
		}
		if _, ok := state.Cards[item.ID]; ok {
			continue
		}
		state.Cards[item.ID] = e.retention.NewCard(item, now)
		created = append(created, item.ID)
	}
	return created
}
