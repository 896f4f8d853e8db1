package bandit

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/adaptivestudy/internal/blueprint"
	"github.com/example/adaptivestudy/pkg/models"
)

func arm(id string, mu, sigma float64, eligible bool) models.ThompsonArm {
	return models.ThompsonArm{LoID: id, Mu: mu, Sigma: sigma, Urgency: 1, BlueprintMultiplier: 1, Eligible: eligible, CooldownHours: 200}
}

func TestZeroSigmaPicksHigherMean(t *testing.T) {
	s := NewScheduler(Policy{})
	for seedValue := int64(0); seedValue < 25; seedValue++ {
		res, ok := s.ScheduleNextLo([]models.ThompsonArm{arm("a", 0.1, 0, true), arm("b", 0.2, 0, true)}, seedValue)
		require.True(t, ok)
		assert.Equal(t, "b", res.LoID)
		assert.Equal(t, 0.2, res.Sample)
		assert.Equal(t, ReasonThompson, res.Reason)
	}
}

func TestNeverReturnsIneligibleWhenEligibleExists(t *testing.T) {
	s := NewScheduler(Policy{})
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 300; trial++ {
		n := 2 + rng.Intn(6)
		arms := make([]models.ThompsonArm, n)
		eligible := map[string]bool{}
		anyEligible := false
		for i := range arms {
			id := string(rune('a' + i))
			e := rng.Float64() < 0.4
			arms[i] = models.ThompsonArm{
				LoID: id, Mu: rng.Float64()*2 - 0.5, Sigma: rng.Float64(),
				Urgency: 1 + rng.Float64(), BlueprintMultiplier: 0.2 + rng.Float64(), Eligible: e,
			}
			eligible[id] = e
			anyEligible = anyEligible || e
		}
		res, ok := s.ScheduleNextLo(arms, int64(trial))
		require.True(t, ok)
		if anyEligible {
			assert.True(t, eligible[res.LoID], "trial %d picked ineligible %s", trial, res.LoID)
		} else {
			assert.Equal(t, ReasonCooldownFallback, res.Reason)
		}
	}
}

func TestFallbackWhenAllOnCooldown(t *testing.T) {
	s := NewScheduler(Policy{})
	res, ok := s.ScheduleNextLo([]models.ThompsonArm{arm("a", 0.3, 0, false), arm("b", 0.9, 0, false)}, 1)
	require.True(t, ok)
	assert.Equal(t, "b", res.LoID)
	assert.Equal(t, ReasonCooldownFallback, res.Reason)
}

func TestEmptyArms(t *testing.T) {
	_, ok := NewScheduler(Policy{}).ScheduleNextLo(nil, 1)
	assert.False(t, ok)
}

func TestDeterministicAndOrderIndependent(t *testing.T) {
	s := NewScheduler(Policy{})
	arms := []models.ThompsonArm{arm("x", 0.4, 0.3, true), arm("y", 0.5, 0.3, true), arm("z", 0.45, 0.3, true)}
	reversed := []models.ThompsonArm{arms[2], arms[1], arms[0]}
	seen := map[string]bool{}
	for seedValue := int64(0); seedValue < 60; seedValue++ {
		a, _ := s.ScheduleNextLo(arms, seedValue)
		b, _ := s.ScheduleNextLo(reversed, seedValue)
		c, _ := s.ScheduleNextLo(arms, seedValue)
		assert.Equal(t, a, b)
		assert.Equal(t, a, c)
		seen[a.LoID] = true
	}
	assert.Greater(t, len(seen), 1, "sampling should explore")
}

func TestScoreCombinesUrgencyAndBlueprint(t *testing.T) {
	s := NewScheduler(Policy{})
	a := models.ThompsonArm{LoID: "a", Mu: 0.5, Urgency: 1, BlueprintMultiplier: 1, Eligible: true}
	b := models.ThompsonArm{LoID: "b", Mu: 0.3, Urgency: 1.8, BlueprintMultiplier: 1.2, Eligible: true}
	res, ok := s.ScheduleNextLo([]models.ThompsonArm{a, b}, 3)
	require.True(t, ok)
	assert.Equal(t, "b", res.LoID)
	assert.InDelta(t, 0.3*1.8*1.2, res.Score, 1e-12)
}

func TestTiedArmsUseSeededTieBreak(t *testing.T) {
	s := NewScheduler(Policy{})
	res, ok := s.ScheduleNextLo([]models.ThompsonArm{arm("a", 0.5, 0, true), arm("b", 0.5, 0, true)}, 11)
	require.True(t, ok)
	assert.Equal(t, ReasonSeededTieBreak, res.Reason)
}

func TestBuildArms(t *testing.T) {
	now := time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC)
	bal, err := blueprint.NewBalancer(blueprint.Config{Targets: map[string]float64{"a": 0.5, "b": 0.25, "c": 0.25}})
	require.NoError(t, err)

	state := models.NewLearnerState("learner")
	recent := state.GetOrCreateLo("a")
	recent.ItemsAttempted = 9
	recent.ThetaHat, recent.SE = 1.5, 0.3
	recent.LastAttemptMs = now.Add(-10 * time.Hour).UnixMilli()

	old := state.GetOrCreateLo("b")
	old.ItemsAttempted = 1
	old.LastAttemptMs = now.Add(-100 * time.Hour).UnixMilli()

	s := NewScheduler(Policy{})
	arms := s.BuildArms(ArmInput{
		LoIDs:            []string{"a", "b", "c"},
		State:            state,
		Balancer:         bal,
		RetentionUrgency: map[string]float64{"b": 1.3},
		Now:              now,
	})
	require.Len(t, arms, 3)

	// a: recently attempted and over-represented
	assert.False(t, arms[0].Eligible)
	assert.InDelta(t, 10, arms[0].CooldownHours, 1e-9)
	assert.Less(t, arms[0].Mu, 0.01)
	assert.Less(t, arms[0].BlueprintMultiplier, 1.0)

	// b: cooldown elapsed, retention urgency applied
	assert.True(t, arms[1].Eligible)
	assert.InDelta(t, 1.3*(1+0.5*1), arms[1].Urgency, 1e-12)
	assert.InDelta(t, 0.5, arms[1].Sigma, 1e-12)

	// c: never attempted
	assert.True(t, math.IsInf(arms[2].CooldownHours, 1))
	assert.True(t, arms[2].Eligible)
	assert.InDelta(t, 0.5, arms[2].Mu, 1e-12)
}

func TestDeficitOverridesCooldown(t *testing.T) {
	now := time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC)
	bal, err := blueprint.NewBalancer(blueprint.Config{Targets: map[string]float64{"a": 0.2, "b": 0.8}})
	require.NoError(t, err)
	state := models.NewLearnerState("learner")
	a := state.GetOrCreateLo("a")
	a.ItemsAttempted = 9
	a.LastAttemptMs = now.Add(-time.Hour).UnixMilli()
	b := state.GetOrCreateLo("b")
	b.ItemsAttempted = 1
	b.LastAttemptMs = now.Add(-time.Hour).UnixMilli()

	s := NewScheduler(Policy{})
	arms := s.BuildArms(ArmInput{LoIDs: []string{"a", "b"}, State: state, Balancer: bal, Now: now})
	assert.False(t, arms[0].Eligible)
	assert.True(t, arms[1].Eligible, "b is far under target")

	res, ok := s.ScheduleNextLo(arms, 5)
	require.True(t, ok)
	assert.Equal(t, "b", res.LoID)
}
