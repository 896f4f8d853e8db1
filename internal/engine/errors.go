package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/adaptivestudy/pkg/models"
)

var (
	// ErrUnknownItem is returned when an attempt names an item missing from the catalog
	ErrUnknownItem = errors.New("engine: unknown item")
	// ErrNoCandidates is returned when no LO of the blueprint has catalog items
	ErrNoCandidates = errors.New("engine: no schedulable learning objective")
	// ErrRepositoryConflict aliases the repository sentinel for callers of this package
	ErrRepositoryConflict = models.ErrRepositoryConflict
)

// StateError carries the learner and LO an update was rejected for
type StateError struct {
	LearnerID string
	LoID      string
	Err       error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("learner %s, lo %s: %v", e.LearnerID, e.LoID, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// DefaultRetries bounds WithRetry when no limit is configured
const DefaultRetries = 3

// WithRetry runs fn until it succeeds, fails with an error other than a
// repository conflict, or attempts are exhausted. fn must perform a fresh
// load-modify-save cycle on each call.
func WithRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultRetries
	}
	var err error
	for i := 0; i < attempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = fn(); !errors.Is(err, models.ErrRepositoryConflict) {
			return err
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
