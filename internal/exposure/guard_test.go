package exposure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/adaptivestudy/pkg/models"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func recordAt(times ...time.Time) *models.ItemExposureRecord {
	rec := &models.ItemExposureRecord{ItemID: "item"}
	for _, ts := range times {
		rec.Attempts++
		rec.LastAttemptMs = ts.UnixMilli()
		rec.RecentAttempts = append(rec.RecentAttempts, ts.UnixMilli())
	}
	return rec
}

func TestNeverSeenItemIsFullyAvailable(t *testing.T) {
	g := NewGuard(Policy{})
	assert.Equal(t, 1.0, g.Multiplier(nil, t0))
	assert.Equal(t, 1.0, g.Multiplier(&models.ItemExposureRecord{ItemID: "x"}, t0))
}

func TestAnyAttemptInLast24hCaps(t *testing.T) {
	g := NewGuard(Policy{})
	for _, ago := range []time.Duration{0, time.Minute, 5 * time.Hour, 23*time.Hour + 59*time.Minute} {
		rec := recordAt(t0.Add(-ago))
		assert.Zero(t, g.Multiplier(rec, t0), "ago=%v", ago)
	}
	// older history never lifts the cap
	rec := recordAt(t0.Add(-30*24*time.Hour), t0.Add(-20*24*time.Hour), t0.Add(-2*time.Hour))
	assert.Zero(t, g.Multiplier(rec, t0))
}

func TestTwoAttemptsInWeekCaps(t *testing.T) {
	g := NewGuard(Policy{})
	rec := recordAt(t0.Add(-6*24*time.Hour), t0.Add(-3*24*time.Hour))
	assert.Zero(t, g.Multiplier(rec, t0))
	last24h, last7d := g.Counts(rec, t0)
	assert.Equal(t, 0, last24h)
	assert.Equal(t, 2, last7d)
}

func TestMultiplierRisesAndSaturates(t *testing.T) {
	g := NewGuard(Policy{})
	m36 := g.Multiplier(recordAt(t0.Add(-36*time.Hour)), t0)
	m48 := g.Multiplier(recordAt(t0.Add(-48*time.Hour)), t0)
	m100 := g.Multiplier(recordAt(t0.Add(-100*time.Hour)), t0)
	assert.InDelta(t, 0.5, m36, 1e-9)
	assert.Greater(t, m48, m36)
	assert.Equal(t, 1.0, m100)
}

func TestRecordTrimsWindow(t *testing.T) {
	g := NewGuard(Policy{WindowSize: 3})
	rec := &models.ItemExposureRecord{ItemID: "item"}
	g.Record(rec, true, t0.Add(-10*24*time.Hour))
	for i := 4; i > 0; i-- {
		g.Record(rec, i%2 == 0, t0.Add(-time.Duration(i)*time.Hour))
	}
	require.Len(t, rec.RecentAttempts, 3)
	assert.Equal(t, 5, rec.Attempts)
	assert.Equal(t, 3, rec.Correct)
	assert.Equal(t, t0.Add(-time.Hour).UnixMilli(), rec.LastAttemptMs)
	for _, ts := range rec.RecentAttempts {
		assert.Greater(t, ts, t0.Add(-7*24*time.Hour).UnixMilli())
	}
}

func TestCustomPolicyIsRespected(t *testing.T) {
	g := NewGuard(Policy{MaxAttempts24h: 3, MaxAttempts7d: 5, SaturationHours: 10})
	rec := recordAt(t0.Add(-5*time.Hour), t0.Add(-4*time.Hour))
	assert.InDelta(t, 0.4, g.Multiplier(rec, t0), 1e-9)
	assert.Equal(t, 3, g.Policy().MaxAttempts24h)
}
