// Package blueprint keeps study time balanced across learning objectives.
package blueprint

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidBlueprint is returned when target weights or thresholds are malformed
var ErrInvalidBlueprint = errors.New("blueprint: invalid configuration")

// weightTolerance is the allowed deviation of the weight sum from 1
const weightTolerance = 1e-6

// Config is the target coverage per LO plus the drift policy
type Config struct {
	Targets map[string]float64 `yaml:"targets" validate:"required,min=1,dive,keys,required,endkeys,gte=0,lte=1"`
	// Multiplier slope applied to over-represented LOs
	OverWeight float64 `yaml:"over_weight" validate:"gte=0"`
	// Multiplier slope applied to under-represented LOs
	UnderWeight   float64 `yaml:"under_weight" validate:"gte=0"`
	MinMultiplier float64 `yaml:"min_multiplier" validate:"gte=0"`
	MaxMultiplier float64 `yaml:"max_multiplier" validate:"gte=0"`
	// Deficit (target - observed) above which an LO overrides its cooldown
	DeficitThreshold float64 `yaml:"deficit_threshold" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the drift policy with the given targets
func DefaultConfig(targets map[string]float64) Config {
	return Config{
		Targets:          targets,
		OverWeight:       2,
		UnderWeight:      3,
		MinMultiplier:    0.2,
		MaxMultiplier:    1.5,
		DeficitThreshold: 0.08,
	}
}

// WithDefaults fills unset policy fields
func (c Config) WithDefaults() Config {
	d := DefaultConfig(c.Targets)
	if c.OverWeight == 0 {
		c.OverWeight = d.OverWeight
	}
	if c.UnderWeight == 0 {
		c.UnderWeight = d.UnderWeight
	}
	if c.MinMultiplier == 0 {
		c.MinMultiplier = d.MinMultiplier
	}
	if c.MaxMultiplier == 0 {
		c.MaxMultiplier = d.MaxMultiplier
	}
	if c.DeficitThreshold == 0 {
		c.DeficitThreshold = d.DeficitThreshold
	}
	return c
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and that the target weights sum to 1
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlueprint, err)
	}
	var sum float64
	for _, w := range c.Targets {
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: target weights sum to %.6f, want 1", ErrInvalidBlueprint, sum)
	}
	if c.MinMultiplier > c.MaxMultiplier {
		return fmt.Errorf("%w: min multiplier %.3f above max %.3f", ErrInvalidBlueprint, c.MinMultiplier, c.MaxMultiplier)
	}
	return nil
}

// LoIDs returns the configured LOs in sorted order
func (c Config) LoIDs() []string {
	ids := make([]string, 0, len(c.Targets))
	for id := range c.Targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
