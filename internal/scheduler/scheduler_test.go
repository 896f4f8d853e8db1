package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/example/adaptivestudy/internal/clock"
	"github.com/example/adaptivestudy/internal/database"
	"github.com/example/adaptivestudy/internal/telemetry"
	"github.com/example/adaptivestudy/pkg/models"
)

type notifications struct {
	mu   sync.Mutex
	sent map[string]Due
	err  error
}

func (n *notifications) NotifyDue(_ context.Context, learnerID string, due Due) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	if n.sent == nil {
		n.sent = make(map[string]Due)
	}
	n.sent[learnerID] = due
	return nil
}

func (n *notifications) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var noon = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func seedLearners(t *testing.T) *database.MemoryRepository {
	t.Helper()
	ctx := context.Background()
	repo := database.NewMemoryRepository()

	due := models.NewLearnerState("due")
	due.Cards["i1"] = &models.RetentionCard{ItemID: "i1", LoIDs: []string{"lo"}, HalfLifeHours: 48,
		NextReviewMs: noon.Add(-10 * 24 * time.Hour).UnixMilli(), LastReviewMs: noon.Add(-12 * 24 * time.Hour).UnixMilli()}
	due.Cards["i2"] = &models.RetentionCard{ItemID: "i2", LoIDs: []string{"lo"}, HalfLifeHours: 48,
		NextReviewMs: noon.Add(-time.Hour).UnixMilli(), LastReviewMs: noon.Add(-48 * time.Hour).UnixMilli()}
	_, err := repo.Save(ctx, due)
	require.NoError(t, err)

	fresh := models.NewLearnerState("fresh")
	fresh.Cards["i1"] = &models.RetentionCard{ItemID: "i1", LoIDs: []string{"lo"}, HalfLifeHours: 48,
		NextReviewMs: noon.Add(time.Hour).UnixMilli(), LastReviewMs: noon.UnixMilli()}
	_, err = repo.Save(ctx, fresh)
	require.NoError(t, err)
	return repo
}

func TestSweepNotifiesDueLearners(t *testing.T) {
	n := &notifications{}
	s := New(seedLearners(t), n, Options{Clock: clock.NewManual(noon)})

	notified, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, notified)
	require.Contains(t, n.sent, "due")
	assert.Equal(t, 2, n.sent["due"].Count)
	assert.InDelta(t, 10.0, n.sent["due"].MaxDaysOverdue, 1e-9)
	assert.Equal(t, 0.6, n.sent["due"].BudgetShare)
}

func TestSweepRespectsNotificationHours(t *testing.T) {
	n := &notifications{}
	clk := clock.NewManual(noon.Add(-10 * time.Hour))
	s := New(seedLearners(t), n, Options{Clock: clk, StartHour: 8, EndHour: 20})

	notified, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, notified)
	assert.Zero(t, n.count())

	ok, err := s.RunManualCheck(context.Background(), "due")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInWindowWrapsMidnight(t *testing.T) {
	s := New(database.NewMemoryRepository(), &notifications{}, Options{StartHour: 22, EndHour: 6})
	assert.True(t, s.InWindow(23))
	assert.True(t, s.InWindow(3))
	assert.False(t, s.InWindow(12))
}

func TestSweepContinuesPastNotifierErrors(t *testing.T) {
	n := &notifications{err: errors.New("smtp down")}
	s := New(seedLearners(t), n, Options{Clock: clock.NewManual(noon)})

	notified, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, notified)

	_, err = s.RunManualCheck(context.Background(), "due")
	assert.Error(t, err)
}

type eventSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (e *eventSink) Record(ev telemetry.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func TestTelemetryNotifier(t *testing.T) {
	sink := &eventSink{}
	s := New(seedLearners(t), TelemetryNotifier{Recorder: sink}, Options{Clock: clock.NewManual(noon)})

	_, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	ev, ok := sink.events[0].(telemetry.ReviewDue)
	require.True(t, ok)
	assert.Equal(t, "due", ev.LearnerID)
	assert.NoError(t, telemetry.Validate(ev))
}

func TestStartStopDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	n := &notifications{}
	s := New(seedLearners(t), n, Options{Interval: 20 * time.Millisecond, Clock: clock.NewManual(noon)})
	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return n.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Stop()
}
