package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/example/adaptivestudy/internal/ability"
	"github.com/example/adaptivestudy/internal/blueprint"
	"github.com/example/adaptivestudy/internal/catalog"
	"github.com/example/adaptivestudy/internal/clock"
	"github.com/example/adaptivestudy/internal/database"
	"github.com/example/adaptivestudy/internal/stoprule"
	"github.com/example/adaptivestudy/internal/telemetry"
	"github.com/example/adaptivestudy/pkg/models"
)

var start = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recorder) Record(ev telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []telemetry.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]telemetry.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind())
	}
	return out
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]models.CandidateItem{
		{ID: "a1", LoIDs: []string{"lo-a"}, Difficulty: -0.5, MedianTimeSeconds: 30},
		{ID: "a2", LoIDs: []string{"lo-a"}, Difficulty: 0, MedianTimeSeconds: 30},
		{ID: "a3", LoIDs: []string{"lo-a"}, Difficulty: 0.5, MedianTimeSeconds: 30},
		{ID: "ab1", LoIDs: []string{"lo-a", "lo-b"}, Difficulty: 0, MedianTimeSeconds: 45},
		{ID: "b1", LoIDs: []string{"lo-b"}, Difficulty: -1, MedianTimeSeconds: 20},
		{ID: "b2", LoIDs: []string{"lo-b"}, Difficulty: 1, MedianTimeSeconds: 20},
	})
	require.NoError(t, err)
	return c
}

type fixture struct {
	engine  *Engine
	repo    Repository
	clock   *clock.Manual
	events  *recorder
	metrics *telemetry.Metrics
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		repo:    database.NewMemoryRepository(),
		clock:   clock.NewManual(start),
		events:  &recorder{},
		metrics: telemetry.NewMetrics(prometheus.NewRegistry()),
	}
	o := Options{
		Repository: f.repo,
		Telemetry:  f.events,
		Catalog:    testCatalog(t),
		Blueprint:  blueprint.DefaultConfig(map[string]float64{"lo-a": 0.5, "lo-b": 0.5}),
		Policies:   DefaultPolicies(),
		Clock:      f.clock,
		Logger:     zaptest.NewLogger(t),
		Metrics:    f.metrics,
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.repo = o.Repository
	e, err := New(o)
	require.NoError(t, err)
	f.engine = e
	return f
}

func easyMastery(o *Options) {
	o.Policies.StopRule = stoprule.Config{MinItems: 1, SEThreshold: 0.99, MasteryThreshold: -3, MasteryTarget: 0.5}
}

func onlyLoA(o *Options) {
	o.Blueprint = blueprint.DefaultConfig(map[string]float64{"lo-a": 1})
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{Catalog: testCatalog(t), Blueprint: blueprint.DefaultConfig(map[string]float64{"lo-a": 1})})
	assert.Error(t, err)

	_, err = New(Options{Repository: database.NewMemoryRepository(), Catalog: testCatalog(t),
		Blueprint: blueprint.DefaultConfig(map[string]float64{"lo-a": 0.7})})
	assert.ErrorIs(t, err, blueprint.ErrInvalidBlueprint)

	_, err = New(Options{Repository: database.NewMemoryRepository(), Catalog: testCatalog(t),
		Blueprint: blueprint.DefaultConfig(map[string]float64{"lo-z": 1})})
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestNextItemIsDeterministic(t *testing.T) {
	ctx := context.Background()
	a := newFixture(t)
	b := newFixture(t)

	ra, err := a.engine.NextItem(ctx, "learner-1", "session-1")
	require.NoError(t, err)
	rb, err := b.engine.NextItem(ctx, "learner-1", "session-1")
	require.NoError(t, err)

	assert.Equal(t, ra, rb)
	assert.Equal(t, DeriveSeed("learner-1", "session-1", 0), ra.Seed)
	require.NotNil(t, ra.Schedule)
	assert.Equal(t, ra.LoID, ra.Schedule.LoID)
	assert.Equal(t, []telemetry.Kind{telemetry.KindLoScheduled, telemetry.KindItemSelected}, a.events.kinds())
}

func TestNextItemContinuesActiveProbe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.engine.NextItem(ctx, "learner-1", "session-1")
	require.NoError(t, err)
	_, err = f.engine.SubmitAttempt(ctx, Attempt{LearnerID: "learner-1", SessionID: "session-1", ItemID: first.Selection.ItemID, Correct: true})
	require.NoError(t, err)

	next, err := f.engine.NextItem(ctx, "learner-1", "session-1")
	require.NoError(t, err)
	assert.True(t, next.Continued)
	assert.Nil(t, next.Schedule)
	assert.Equal(t, first.LoID, next.LoID)
	assert.NotEqual(t, first.Selection.ItemID, next.Selection.ItemID, "item seen within 24h must not be repeated")
	assert.Equal(t, DeriveSeed("learner-1", "session-1", 1), next.Seed)
}

func TestSubmitAttemptUpdatesEveryLo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.engine.SubmitAttempt(ctx, Attempt{LearnerID: "learner-1", SessionID: "session-1", ItemID: "ab1", Correct: true, ResponseMs: 1500})
	require.NoError(t, err)
	require.Len(t, out.Updates, 2)
	for _, upd := range out.Updates {
		assert.Greater(t, upd.ThetaAfter, upd.ThetaBefore, upd.LoID)
		assert.Less(t, upd.SEAfter, upd.SEBefore, upd.LoID)
		assert.Equal(t, models.ProbeProbing, upd.Decision.State)
	}
	assert.Equal(t, int64(1), out.Version)
	assert.Equal(t, DeriveSeed("learner-1", "session-1", 0), out.Seed)

	st, err := f.repo.Load(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.AttemptCounter)
	assert.Equal(t, 1, st.Session.Attempts)
	assert.Equal(t, 1, st.Exposure["ab1"].Attempts)
	assert.Equal(t, 1, st.Exposure["ab1"].Correct)
	assert.Equal(t, start.UnixMilli(), st.LoStates["lo-b"].LastAttemptMs)
	assert.Equal(t, 1, st.LoStates["lo-a"].ItemsAttempted)
	assert.Equal(t, []telemetry.Kind{telemetry.KindAttemptRecorded}, f.events.kinds())
}

func TestSubmitAttemptRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.SubmitAttempt(ctx, Attempt{LearnerID: "learner-1", SessionID: "session-1", ItemID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownItem)

	score := 1.5
	_, err = f.engine.SubmitAttempt(ctx, Attempt{LearnerID: "learner-1", SessionID: "session-1", ItemID: "a1", PartialScore: &score})
	assert.ErrorIs(t, err, ErrInvalidAttempt)

	_, err = f.engine.SubmitAttempt(ctx, Attempt{SessionID: "session-1", ItemID: "a1"})
	assert.ErrorIs(t, err, ErrInvalidAttempt)
}

func TestSubmitAttemptRejectsInvalidStateUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bad := models.NewLearnerState("learner-1")
	bad.GetOrCreateLo("lo-a").SE = 0
	_, err := f.repo.Save(ctx, bad)
	require.NoError(t, err)

	_, err = f.engine.SubmitAttempt(ctx, Attempt{LearnerID: "learner-1", SessionID: "session-1", ItemID: "a1", Correct: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ability.ErrInvalidState)
	var se *StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "learner-1", se.LearnerID)
	assert.Equal(t, "lo-a", se.LoID)

	st, err := f.repo.Load(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Version)
	assert.Zero(t, st.AttemptCounter)
	assert.Empty(t, st.Exposure)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InvalidState))
	assert.Empty(t, f.events.kinds())
}

func TestDegenerateUpdateKeepsPrior(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	st := models.NewLearnerState("learner-1")
	lo := st.GetOrCreateLo("lo-a")
	lo.ThetaHat, lo.SE = 3.9, ability.SEFloor
	lo.PriorMu, lo.PriorSigma = 3.9, 0.001
	_, err := f.repo.Save(ctx, st)
	require.NoError(t, err)

	out, err := f.engine.SubmitAttempt(ctx, Attempt{LearnerID: "learner-1", SessionID: "session-1", ItemID: "a1", Correct: true})
	require.NoError(t, err)
	require.Len(t, out.Updates, 1)
	assert.True(t, out.Updates[0].Degenerate)
	assert.Equal(t, 3.9, out.Updates[0].ThetaAfter)
	assert.Equal(t, ability.SEFloor, out.Updates[0].SEAfter)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AbilityDegenerate))
	assert.Contains(t, f.events.kinds(), telemetry.KindAbilityDegenerate)
}

func TestMasteryHandoffAndReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, easyMastery)

	out, err := f.engine.SubmitAttempt(ctx, Attempt{LearnerID: "learner-1", SessionID: "session-1", ItemID: "a1", Correct: true})
	require.NoError(t, err)
	require.Len(t, out.Updates, 1)
	assert.Equal(t, models.ProbeMasteryConfirmed, out.Updates[0].Decision.State)
	assert.Equal(t, []string{"a1"}, out.Updates[0].CardsCreated)
	assert.Nil(t, out.Review)
	assert.Contains(t, f.events.kinds(), telemetry.KindMasteryConfirmed)

	st, err := f.repo.Load(ctx, "learner-1")
	require.NoError(t, err)
	require.Contains(t, st.Cards, "a1")
	assert.True(t, st.LoStates["lo-a"].MasteryConfirmed)
	assert.Equal(t, 48.0, st.Cards["a1"].HalfLifeHours)

	plan, err := f.engine.RetentionPlan(ctx, "learner-1", 50)
	require.NoError(t, err)
	assert.Zero(t, plan.DueCount)
	assert.Equal(t, 0.4, plan.BudgetShare)
	assert.Equal(t, 20.0, plan.BudgetMinutes)

	f.clock.Advance(30 * 24 * time.Hour)
	plan, err = f.engine.RetentionPlan(ctx, "learner-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.DueCount)
	assert.Equal(t, []string{"a1"}, plan.ItemIDs)
	assert.Equal(t, 0.6, plan.BudgetShare)
	assert.Equal(t, 30.0, plan.BudgetMinutes)

	out, err = f.engine.SubmitAttempt(ctx, Attempt{LearnerID: "learner-1", SessionID: "session-2", ItemID: "a1", Correct: true})
	require.NoError(t, err)
	require.NotNil(t, out.Review)
	assert.False(t, out.Review.Lapsed)
	assert.Greater(t, out.Review.HalfLife, 48.0)
	assert.Empty(t, out.Updates[0].CardsCreated)
	assert.Contains(t, f.events.kinds(), telemetry.KindReviewScheduled)
}

func TestNextItemRestartsFinishedProbe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, easyMastery, onlyLoA)

	_, err := f.engine.SubmitAttempt(ctx, Attempt{LearnerID: "learner-1", SessionID: "session-1", ItemID: "a1", Correct: true})
	require.NoError(t, err)

	rec, err := f.engine.NextItem(ctx, "learner-1", "session-1")
	require.NoError(t, err)
	assert.Equal(t, "lo-a", rec.LoID)
	assert.True(t, rec.Restarted)
	assert.False(t, rec.Continued)
	assert.NotEqual(t, "a1", rec.Selection.ItemID)

	st, err := f.repo.Load(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, models.ProbeProbing, st.LoStates["lo-a"].ProbeState)
	assert.True(t, st.LoStates["lo-a"].MasteryConfirmed)
	assert.Equal(t, "lo-a", st.Session.ActiveLo)
}

type flakyRepo struct {
	Repository
	mu    sync.Mutex
	fails int
}

func (r *flakyRepo) Save(ctx context.Context, st *models.LearnerState) (*models.LearnerState, error) {
	r.mu.Lock()
	if r.fails > 0 {
		r.fails--
		r.mu.Unlock()
		return nil, fmt.Errorf("stale write: %w", models.ErrRepositoryConflict)
	}
	r.mu.Unlock()
	return r.Repository.Save(ctx, st)
}

func TestSubmitAttemptRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{Repository: database.NewMemoryRepository(), fails: 1}
	f := newFixture(t, func(o *Options) { o.Repository = repo })

	_, err := f.engine.SubmitAttempt(ctx, Attempt{LearnerID: "learner-1", SessionID: "session-1", ItemID: "a1", Correct: true})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RepositoryConflicts))
	assert.Len(t, f.events.kinds(), 1, "events are emitted once per successful attempt")

	repo.fails = 10
	_, err = f.engine.SubmitAttempt(ctx, Attempt{LearnerID: "learner-1", SessionID: "session-1", ItemID: "a2", Correct: true})
	assert.ErrorIs(t, err, ErrRepositoryConflict)
}

func TestConcurrentAttemptsAreSerialized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	const n = 16

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.SubmitAttempt(ctx, Attempt{LearnerID: "learner-1", SessionID: "session-1", ItemID: "a2", Correct: i%2 == 0})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	st, err := f.repo.Load(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), st.AttemptCounter)
	assert.Equal(t, n, st.LoStates["lo-a"].ItemsAttempted)
	assert.Zero(t, f.engine.locks.size())
}
