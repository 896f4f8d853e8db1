package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type foreignEvent struct{}

func (foreignEvent) Kind() Kind      { return "foreign" }
func (foreignEvent) Learner() string { return "l1" }
func (foreignEvent) isEvent()        {}

func validAttempt() AttemptRecorded {
	return AttemptRecorded{
		LearnerID:  "l1",
		SessionID:  "s1",
		ItemID:     "i1",
		LoIDs:      []string{"lo-a"},
		Correct:    true,
		ResponseMs: 1200,
		Seed:       42,
		ThetaAfter: 0.3,
		SEAfter:    0.7,
	}
}

func TestValidateAcceptsWellFormedEvents(t *testing.T) {
	events := []Event{
		validAttempt(),
		ItemSelected{LearnerID: "l1", SessionID: "s1", LoID: "lo-a", ItemID: "i1", Utility: 1.2, Reason: "max_utility"},
		LoScheduled{LearnerID: "l1", SessionID: "s1", LoID: "lo-a", Score: 0.4, Reason: "thompson_sample"},
		MasteryConfirmed{LearnerID: "l1", LoID: "lo-a", SE: 0.25, MasteryProbability: 0.9, CardsCreated: 3},
		ReviewScheduled{LearnerID: "l1", ItemID: "i1", HalfLifeHours: 48, NextReviewMs: 1},
		AbilityDegenerate{LearnerID: "l1", LoID: "lo-a", ItemID: "i1", PriorSigma: 0.01},
		ReviewDue{LearnerID: "l1", DueCount: 2, BudgetShare: 0.4},
	}
	for _, ev := range events {
		assert.NoError(t, Validate(ev), "%s", ev.Kind())
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	missing := validAttempt()
	missing.ItemID = ""
	assert.True(t, errors.Is(Validate(missing), ErrInvalidEvent))

	bad := validAttempt()
	s := 1.5
	bad.PartialScore = &s
	assert.True(t, errors.Is(Validate(bad), ErrInvalidEvent))

	noLos := validAttempt()
	noLos.LoIDs = nil
	assert.True(t, errors.Is(Validate(noLos), ErrInvalidEvent))

	assert.True(t, errors.Is(Validate(nil), ErrInvalidEvent))
	assert.True(t, errors.Is(Validate(foreignEvent{}), ErrInvalidEvent))
}

func TestWrapAndDecode(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	env, err := Wrap(validAttempt(), at)
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, KindAttemptRecorded, env.Kind)
	assert.Equal(t, "l1", env.LearnerID)
	assert.Equal(t, time.UTC, env.OccurredAt.Location())

	ev, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, validAttempt(), ev)
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode(Envelope{Kind: "nope", Payload: []byte(`{}`)})
	assert.True(t, errors.Is(err, ErrInvalidEvent))

	_, err = Decode(Envelope{Kind: KindReviewDue, Payload: []byte(`{"learner_id":"l1"}`)})
	assert.True(t, errors.Is(err, ErrInvalidEvent))
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	payload := []byte(`{"learner_id":"l1","due_count":2,"max_days_overdue":1,"budget_share":0.4}`)
	ev, err := Decode(Envelope{Kind: KindReviewDue, Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, ReviewDue{LearnerID: "l1", DueCount: 2, MaxDaysOverdue: 1, BudgetShare: 0.4}, ev)

	extra := []byte(`{"learner_id":"l1","due_count":2,"max_days_overdue":1,"budget_share":0.4,"priority":"high"}`)
	_, err = Decode(Envelope{Kind: KindReviewDue, Payload: extra})
	assert.True(t, errors.Is(err, ErrInvalidEvent))
}
