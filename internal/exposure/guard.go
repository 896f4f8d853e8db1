// Package exposure limits how often the same item is shown to a learner.
package exposure

import (
	"math"
	"time"

	"github.com/example/adaptivestudy/pkg/models"
)

// Policy holds the exposure caps. Zero values are replaced by DefaultPolicy.
type Policy struct {
	// Hard cap: attempts inside the last 24 hours
	MaxAttempts24h int `yaml:"max_attempts_24h"`
	// Hard cap: attempts inside the last 7 days
	MaxAttempts7d int `yaml:"max_attempts_7d"`
	// Hours since the last attempt after which the multiplier reaches 1
	SaturationHours float64 `yaml:"saturation_hours"`
	// Maximum number of timestamps kept in RecentAttempts
	WindowSize int `yaml:"window_size"`
}

// DefaultPolicy returns the production exposure caps
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts24h:  1,
		MaxAttempts7d:   2,
		SaturationHours: 72,
		WindowSize:      16,
	}
}

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// Guard computes exposure multipliers. It has no state besides its policy.
type Guard struct {
	policy Policy
}

// NewGuard creates a guard, filling unset policy fields with defaults
func NewGuard(p Policy) *Guard {
	d := DefaultPolicy()
	if p.MaxAttempts24h <= 0 {
		p.MaxAttempts24h = d.MaxAttempts24h
	}
	if p.MaxAttempts7d <= 0 {
		p.MaxAttempts7d = d.MaxAttempts7d
	}
	if p.SaturationHours <= 0 {
		p.SaturationHours = d.SaturationHours
	}
	if p.WindowSize <= 0 {
		p.WindowSize = d.WindowSize
	}
	return &Guard{policy: p}
}

// Policy returns the effective policy
func (g *Guard) Policy() Policy {
	return g.policy
}

// Counts returns the number of recorded attempts inside the last 24 hours and 7 days.
// Timestamps in the future relative to now count toward both windows.
func (g *Guard) Counts(rec *models.ItemExposureRecord, now time.Time) (last24h, last7d int) {
	if rec == nil {
		return 0, 0
	}
	nowMs := now.UnixMilli()
	for _, ts := range rec.RecentAttempts {
		age := time.Duration(nowMs-ts) * time.Millisecond
		if age < day {
			last24h++
		}
		if age < week {
			last7d++
		}
	}
	return last24h, last7d
}

// Multiplier returns 0 when the item is capped, otherwise a value in (0, 1]
// that rises with the hours since the last attempt
func (g *Guard) Multiplier(rec *models.ItemExposureRecord, now time.Time) float64 {
	if rec == nil || rec.Attempts == 0 || rec.LastAttemptMs == 0 {
		return 1
	}
	last24h, last7d := g.Counts(rec, now)
	if last24h >= g.policy.MaxAttempts24h || last7d >= g.policy.MaxAttempts7d {
		return 0
	}
	hours := float64(now.UnixMilli()-rec.LastAttemptMs) / float64(time.Hour/time.Millisecond)
	if hours <= 0 {
		return 0
	}
	return math.Min(1, hours/g.policy.SaturationHours)
}

// Capped reports whether the hard cap applies
func (g *Guard) Capped(rec *models.ItemExposureRecord, now time.Time) bool {
	return g.Multiplier(rec, now) == 0
}

// Record registers an attempt on rec and trims the timestamp window
func (g *Guard) Record(rec *models.ItemExposureRecord, correct bool, now time.Time) {
	nowMs := now.UnixMilli()
	rec.Attempts++
	if correct {
		rec.Correct++
	}
	rec.LastAttemptMs = nowMs

	kept := rec.RecentAttempts[:0:0]
	for _, ts := range rec.RecentAttempts {
		if time.Duration(nowMs-ts)*time.Millisecond < week {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, nowMs)
	if n := len(kept); n > g.policy.WindowSize {
		kept = kept[n-g.policy.WindowSize:]
	}
	rec.RecentAttempts = kept
}
