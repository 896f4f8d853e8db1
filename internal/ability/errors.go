package ability

import (
	"errors"
	"fmt"
)

// ErrInvalidState is matched by every InvalidStateError.
// Use errors.Is(err, ability.ErrInvalidState) to detect a rejected update.
var ErrInvalidState = errors.New("ability: invalid state")

// InvalidStateError reports the offending field and value of a rejected update.
type InvalidStateError struct {
	Field string
	Value float64
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("ability: invalid %s: %v", e.Field, e.Value)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func invalid(field string, value float64) error {
	return &InvalidStateError{Field: field, Value: value}
}
