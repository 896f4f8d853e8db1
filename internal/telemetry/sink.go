package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/adaptivestudy/internal/clock"
)

// Drop reasons
const (
	DropInvalid    = "invalid"
	DropBufferFull = "buffer_full"
	DropClosed     = "closed"
	DropStoreError = "store_error"
)

// Store persists envelopes
type Store interface {
	SaveEvents(ctx context.Context, events []Envelope) error
}

// Nop discards every event
type Nop struct{}

// Record does nothing
func (Nop) Record(Event) {}

// SinkOptions configures an AsyncSink. Zero values use defaults.
type SinkOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *zap.Logger
	Metrics       *Metrics
	Clock         clock.Clock
}

// AsyncSink records events on a background goroutine. Record never blocks:
// when the buffer is full the event is dropped and counted.
type AsyncSink struct {
	store   Store
	logger  *zap.Logger
	metrics *Metrics
	clock   clock.Clock
	batch   int
	flush   time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan Envelope
	done   chan struct{}
}

// NewAsyncSink starts the background writer. store may be nil, in which case
// events are only logged.
func NewAsyncSink(store Store, opts SinkOptions) *AsyncSink {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	s := &AsyncSink{
		store:   store,
		logger:  opts.Logger.Named("telemetry"),
		metrics: opts.Metrics,
		clock:   opts.Clock,
		batch:   opts.BatchSize,
		flush:   opts.FlushInterval,
		ch:      make(chan Envelope, opts.BufferSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Record validates ev and queues it. It returns immediately.
func (s *AsyncSink) Record(ev Event) {
	env, err := Wrap(ev, s.clock.Now())
	if err != nil {
		s.logger.Warn("Rejected telemetry event", zap.Error(err))
		s.metrics.dropped(DropInvalid)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.metrics.dropped(DropClosed)
		return
	}
	select {
	case s.ch <- env:
	default:
		s.logger.Warn("Telemetry buffer full, dropping event", zap.String("kind", string(env.Kind)))
		s.metrics.dropped(DropBufferFull)
	}
}

// Close stops accepting events and waits for queued ones to be written or ctx to expire
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.flush)
	defer ticker.Stop()

	pending := make([]Envelope, 0, s.batch)
	for {
		select {
		case env, ok := <-s.ch:
			if !ok {
				s.write(pending)
				return
			}
			pending = append(pending, env)
			if len(pending) >= s.batch {
				s.write(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				s.write(pending)
				pending = pending[:0]
			}
		}
	}
}

func (s *AsyncSink) write(events []Envelope) {
	if len(events) == 0 {
		return
	}
	for _, env := range events {
		s.logger.Debug("Telemetry event",
			zap.String("id", env.ID),
			zap.String("kind", string(env.Kind)),
			zap.String("learner_id", env.LearnerID),
			zap.ByteString("payload", env.Payload))
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.store.SaveEvents(ctx, events)
		cancel()
		if err != nil {
			s.logger.Error("Failed to persist telemetry events", zap.Int("count", len(events)), zap.Error(err))
			for range events {
				s.metrics.dropped(DropStoreError)
			}
			return
		}
	}
	counts := make(map[Kind]int)
	for _, env := range events {
		counts[env.Kind]++
	}
	for kind, n := range counts {
		s.metrics.recorded(kind, n)
	}
}
