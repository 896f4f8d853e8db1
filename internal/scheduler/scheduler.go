// Package scheduler runs the periodic review sweep that tells learners when
// spaced-review cards are due.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/example/adaptivestudy/internal/clock"
	"github.com/example/adaptivestudy/internal/spaced_repetition"
	"github.com/example/adaptivestudy/internal/telemetry"
	"github.com/example/adaptivestudy/pkg/models"
)

// Defaults for the notification window (hours, inclusive)
const (
	DefaultNotificationStartHour = 8
	DefaultNotificationEndHour   = 22
)

// Due summarizes a learner's review backlog
type Due struct {
	Count          int
	MaxDaysOverdue float64
	BudgetShare    float64
}

// Notifier delivers review reminders
type Notifier interface {
	NotifyDue(ctx context.Context, learnerID string, due Due) error
}

// Learners is the part of the learner store the sweep reads
type Learners interface {
	ListLearnerIDs(ctx context.Context) ([]string, error)
	Load(ctx context.Context, learnerID string) (*models.LearnerState, error)
}

// Options configures the sweep. Zero values use defaults.
type Options struct {
	Interval  time.Duration
	StartHour int
	EndHour   int
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Scheduler manages the review sweep job
type Scheduler struct {
	scheduler *gocron.Scheduler
	learners  Learners
	notifier  Notifier
	opts      Options
	logger    *zap.Logger
}

// New creates a new scheduler instance
func New(learners Learners, notifier Notifier, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.StartHour == 0 && opts.EndHour == 0 {
		opts.StartHour, opts.EndHour = DefaultNotificationStartHour, DefaultNotificationEndHour
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		learners:  learners,
		notifier:  notifier,
		opts:      opts,
		logger:    opts.Logger.Named("sweep"),
	}
}

// Start schedules the sweep every Interval and runs it in the background
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(s.opts.Interval).Do(s.checkAndSendReminders); err != nil {
		return fmt.Errorf("failed to schedule review sweep: %w", err)
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop terminates the job and waits for a running sweep to finish
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) checkAndSendReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Interval)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("Review sweep failed", zap.Error(err))
	}
}

// InWindow reports whether hour lies in the notification window. A window
// with start > end wraps around midnight.
func (s *Scheduler) InWindow(hour int) bool {
	start, end := s.opts.StartHour, s.opts.EndHour
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}

// Sweep notifies every learner with due cards and returns how many were notified
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.opts.Clock.Now()
	if !s.InWindow(now.Hour()) {
		s.logger.Debug("Outside notification hours, skipping reminders",
			zap.Int("hour", now.Hour()),
			zap.Int("start_hour", s.opts.StartHour),
			zap.Int("end_hour", s.opts.EndHour))
		return 0, nil
	}

	ids, err := s.learners.ListLearnerIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list learners: %w", err)
	}

	notified := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return notified, err
		}
		ok, err := s.check(ctx, id, now)
		if err != nil {
			s.logger.Warn("Failed to check learner", zap.String("learner_id", id), zap.Error(err))
			continue
		}
		if ok {
			notified++
		}
	}
	s.logger.Info("Review sweep finished", zap.Int("learners", len(ids)), zap.Int("notified", notified))
	return notified, nil
}

// RunManualCheck checks one learner regardless of the notification window
func (s *Scheduler) RunManualCheck(ctx context.Context, learnerID string) (bool, error) {
	return s.check(ctx, learnerID, s.opts.Clock.Now())
}

func (s *Scheduler) check(ctx context.Context, learnerID string, now time.Time) (bool, error) {
	state, err := s.learners.Load(ctx, learnerID)
	if err != nil {
		return false, err
	}
	due := spaced_repetition.DueCards(state.Cards, now, 0)
	if len(due) == 0 {
		return false, nil
	}
	maxOverdue := spaced_repetition.MaxDaysOverdue(state.Cards, now)
	d := Due{
		Count:          len(due),
		MaxDaysOverdue: maxOverdue,
		BudgetShare:    spaced_repetition.ComputeRetentionBudget(maxOverdue),
	}
	if err := s.notifier.NotifyDue(ctx, learnerID, d); err != nil {
		return false, fmt.Errorf("failed to notify %s: %w", learnerID, err)
	}
	return true, nil
}

// Recorder receives telemetry events
type Recorder interface {
	Record(ev telemetry.Event)
}

// TelemetryNotifier reports due reviews as ReviewDue events
type TelemetryNotifier struct {
	Recorder Recorder
}

// NotifyDue records a ReviewDue event
func (n TelemetryNotifier) NotifyDue(_ context.Context, learnerID string, due Due) error {
	n.Recorder.Record(telemetry.ReviewDue{
		LearnerID:      learnerID,
		DueCount:       due.Count,
		MaxDaysOverdue: due.MaxDaysOverdue,
		BudgetShare:    due.BudgetShare,
	})
	return nil
}
