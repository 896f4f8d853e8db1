package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/adaptivestudy/pkg/models"
)

// MemoryRepository is an in-process learner store with the same versioning
// rules as LearnerStateRepository. Safe for concurrent use.
type MemoryRepository struct {
	mu     sync.RWMutex
	states map[string]*models.LearnerState
}

// NewMemoryRepository creates an empty store
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{states: make(map[string]*models.LearnerState)}
}

// Load returns a copy of the stored state, or an empty state with version 0
func (r *MemoryRepository) Load(_ context.Context, learnerID string) (*models.LearnerState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.states[learnerID]; ok {
		return st.Clone(), nil
	}
	return models.NewLearnerState(learnerID), nil
}

// Save stores a copy of state if its version matches
func (r *MemoryRepository) Save(_ context.Context, state *models.LearnerState) (*models.LearnerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current int64
	if st, ok := r.states[state.LearnerID]; ok {
		current = st.Version
	}
	if current != state.Version {
		return nil, fmt.Errorf("learner %s at version %d, stored %d: %w",
			state.LearnerID, state.Version, current, models.ErrRepositoryConflict)
	}

	saved := state.Clone()
	saved.Version = current + 1
	r.states[state.LearnerID] = saved
	return saved.Clone(), nil
}

// ListLearnerIDs returns every stored learner id in order
func (r *MemoryRepository) ListLearnerIDs(context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
