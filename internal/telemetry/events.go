// Package telemetry records engine events without blocking the decision path.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrInvalidEvent is returned when an event fails validation. The event is
// rejected as a whole.
var ErrInvalidEvent = errors.New("telemetry: invalid event")

// Kind identifies an event variant
type Kind string

const (
	KindAttemptRecorded   Kind = "attempt_recorded"
	KindItemSelected      Kind = "item_selected"
	KindLoScheduled       Kind = "lo_scheduled"
	KindMasteryConfirmed  Kind = "mastery_confirmed"
	KindReviewScheduled   Kind = "review_scheduled"
	KindAbilityDegenerate Kind = "ability_degenerate"
	KindReviewDue         Kind = "review_due"
)

// Event is implemented only by the variants in this package
type Event interface {
	Kind() Kind
	Learner() string
	isEvent()
}

// AttemptRecorded is emitted after a learner response has been applied
type AttemptRecorded struct {
	LearnerID    string   `json:"learner_id" validate:"required"`
	SessionID    string   `json:"session_id" validate:"required"`
	ItemID       string   `json:"item_id" validate:"required"`
	LoIDs        []string `json:"lo_ids" validate:"required,min=1,dive,required"`
	Correct      bool     `json:"correct"`
	PartialScore *float64 `json:"partial_score,omitempty" validate:"omitempty,gte=0,lte=1"`
	ResponseMs   int64    `json:"response_ms" validate:"gte=0"`
	Seed         int64    `json:"seed"`
	ThetaBefore  float64  `json:"theta_before"`
	ThetaAfter   float64  `json:"theta_after"`
	SEAfter      float64  `json:"se_after" validate:"gt=0"`
}

// ItemSelected is emitted when an item is recommended
type ItemSelected struct {
	LearnerID string  `json:"learner_id" validate:"required"`
	SessionID string  `json:"session_id" validate:"required"`
	LoID      string  `json:"lo_id" validate:"required"`
	ItemID    string  `json:"item_id" validate:"required"`
	Seed      int64   `json:"seed"`
	Utility   float64 `json:"utility" validate:"gte=0"`
	Reason    string  `json:"reason" validate:"required"`
}

// LoScheduled is emitted when the bandit picks an LO
type LoScheduled struct {
	LearnerID string  `json:"learner_id" validate:"required"`
	SessionID string  `json:"session_id" validate:"required"`
	LoID      string  `json:"lo_id" validate:"required"`
	Seed      int64   `json:"seed"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason" validate:"required"`
}

// MasteryConfirmed is emitted when an LO leaves probing with mastery
type MasteryConfirmed struct {
	LearnerID          string  `json:"learner_id" validate:"required"`
	LoID               string  `json:"lo_id" validate:"required"`
	ThetaHat           float64 `json:"theta_hat"`
	SE                 float64 `json:"se" validate:"gt=0"`
	MasteryProbability float64 `json:"mastery_probability" validate:"gte=0,lte=1"`
	CardsCreated       int     `json:"cards_created" validate:"gte=0"`
}

// ReviewScheduled is emitted when a retention card is reviewed
type ReviewScheduled struct {
	LearnerID     string  `json:"learner_id" validate:"required"`
	ItemID        string  `json:"item_id" validate:"required"`
	HalfLifeHours float64 `json:"half_life_hours" validate:"gt=0"`
	NextReviewMs  int64   `json:"next_review_ms" validate:"gt=0"`
	Lapsed        bool    `json:"lapsed"`
}

// AbilityDegenerate flags an update whose posterior weights underflowed
type AbilityDegenerate struct {
	LearnerID  string  `json:"learner_id" validate:"required"`
	LoID       string  `json:"lo_id" validate:"required"`
	ItemID     string  `json:"item_id" validate:"required"`
	PriorMu    float64 `json:"prior_mu"`
	PriorSigma float64 `json:"prior_sigma"`
	Difficulty float64 `json:"difficulty"`
}

// ReviewDue is emitted by the review sweep for learners with due cards
type ReviewDue struct {
	LearnerID      string  `json:"learner_id" validate:"required"`
	DueCount       int     `json:"due_count" validate:"gt=0"`
	MaxDaysOverdue float64 `json:"max_days_overdue" validate:"gte=0"`
	BudgetShare    float64 `json:"budget_share" validate:"gt=0,lte=1"`
}

func (AttemptRecorded) Kind() Kind   { return KindAttemptRecorded }
func (ItemSelected) Kind() Kind      { return KindItemSelected }
func (LoScheduled) Kind() Kind       { return KindLoScheduled }
func (MasteryConfirmed) Kind() Kind  { return KindMasteryConfirmed }
func (ReviewScheduled) Kind() Kind   { return KindReviewScheduled }
func (AbilityDegenerate) Kind() Kind { return KindAbilityDegenerate }
func (ReviewDue) Kind() Kind         { return KindReviewDue }

func (e AttemptRecorded) Learner() string   { return e.LearnerID }
func (e ItemSelected) Learner() string      { return e.LearnerID }
func (e LoScheduled) Learner() string       { return e.LearnerID }
func (e MasteryConfirmed) Learner() string  { return e.LearnerID }
func (e ReviewScheduled) Learner() string   { return e.LearnerID }
func (e AbilityDegenerate) Learner() string { return e.LearnerID }
func (e ReviewDue) Learner() string         { return e.LearnerID }

func (AttemptRecorded) isEvent()   {}
func (ItemSelected) isEvent()      {}
func (LoScheduled) isEvent()       {}
func (MasteryConfirmed) isEvent()  {}
func (ReviewScheduled) isEvent()   {}
func (AbilityDegenerate) isEvent() {}
func (ReviewDue) isEvent()         {}

var eventValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field of ev against its variant's rules
func Validate(ev Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	switch ev.(type) {
	case AttemptRecorded, ItemSelected, LoScheduled, MasteryConfirmed,
		ReviewScheduled, AbilityDegenerate, ReviewDue:
	default:
		return fmt.Errorf("%w: unknown variant %T", ErrInvalidEvent, ev)
	}
	if err := eventValidate.Struct(ev); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, ev.Kind(), err)
	}
	return nil
}

// Envelope is the stored form of an event
type Envelope struct {
	ID         string          `json:"id" db:"id"`
	Kind       Kind            `json:"kind" db:"kind"`
	LearnerID  string          `json:"learner_id" db:"learner_id"`
	OccurredAt time.Time       `json:"occurred_at" db:"occurred_at"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
}

// Wrap validates ev and encodes it into an envelope
func Wrap(ev Event, at time.Time) (Envelope, error) {
	if err := Validate(ev); err != nil {
		return Envelope{}, err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: encode %s: %v", ErrInvalidEvent, ev.Kind(), err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Kind:       ev.Kind(),
		LearnerID:  ev.Learner(),
		OccurredAt: at.UTC(),
		Payload:    payload,
	}, nil
}

// Decode turns an envelope back into its typed variant
func Decode(env Envelope) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch env.Kind {
	case KindAttemptRecorded:
		ev, err = decodeAs[AttemptRecorded](env.Payload)
	case KindItemSelected:
		ev, err = decodeAs[ItemSelected](env.Payload)
	case KindLoScheduled:
		ev, err = decodeAs[LoScheduled](env.Payload)
	case KindMasteryConfirmed:
		ev, err = decodeAs[MasteryConfirmed](env.Payload)
	case KindReviewScheduled:
		ev, err = decodeAs[ReviewScheduled](env.Payload)
	case KindAbilityDegenerate:
		ev, err = decodeAs[AbilityDegenerate](env.Payload)
	case KindReviewDue:
		ev, err = decodeAs[ReviewDue](env.Payload)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, env.Kind)
	}
	if err != nil {
		return nil, err
	}
	if err := Validate(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeAs[T Event](payload []byte) (Event, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidEvent, err)
	}
	return v, nil
}
