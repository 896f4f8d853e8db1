// Package catalog holds the static item bank a session selects from.
package catalog

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/example/adaptivestudy/pkg/models"
)

var (
	// ErrInvalidItem is returned for an item that fails validation
	ErrInvalidItem = errors.New("catalog: invalid item")
	// ErrDuplicateItem is returned when two items share an id
	ErrDuplicateItem = errors.New("catalog: duplicate item")
)

var itemValidate = validator.New(validator.WithRequiredStructEnabled())

// ValidateItem checks an item's fields and that its thresholds are ordered
func ValidateItem(item models.CandidateItem) error {
	if err := itemValidate.Struct(item); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidItem, item.ID, err)
	}
	if !finite(item.Difficulty) || !finite(item.MedianTimeSeconds) {
		return fmt.Errorf("%w: %s: non-finite difficulty or median time", ErrInvalidItem, item.ID)
	}
	for _, t := range item.Thresholds {
		if !finite(t) {
			return fmt.Errorf("%w: %s: non-finite threshold", ErrInvalidItem, item.ID)
		}
	}
	for i := 1; i < len(item.Thresholds); i++ {
		if item.Thresholds[i] < item.Thresholds[i-1] {
			return fmt.Errorf("%w: %s: thresholds not ordered", ErrInvalidItem, item.ID)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Catalog is an immutable, indexed set of items. Safe for concurrent reads.
type Catalog struct {
	items map[string]models.CandidateItem
	byLo  map[string][]string
	ids   []string
}

// New validates items and indexes them by id and LO
func New(items []models.CandidateItem) (*Catalog, error) {
	c := &Catalog{
		items: make(map[string]models.CandidateItem, len(items)),
		byLo:  make(map[string][]string),
	}
	for _, item := range items {
		if err := ValidateItem(item); err != nil {
			return nil, err
		}
		if _, ok := c.items[item.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, item.ID)
		}
		c.items[item.ID] = clone(item)
		c.ids = append(c.ids, item.ID)
		for _, lo := range item.LoIDs {
			c.byLo[lo] = append(c.byLo[lo], item.ID)
		}
	}
	sort.Strings(c.ids)
	for lo := range c.byLo {
		sort.Strings(c.byLo[lo])
	}
	return c, nil
}

// Item returns the item with the given id
func (c *Catalog) Item(id string) (models.CandidateItem, bool) {
	item, ok := c.items[id]
	if !ok {
		return models.CandidateItem{}, false
	}
	return clone(item), true
}

// ItemsForLo returns the items mapped to lo, ordered by id
func (c *Catalog) ItemsForLo(lo string) []models.CandidateItem {
	ids := c.byLo[lo]
	out := make([]models.CandidateItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(c.items[id]))
	}
	return out
}

// Items returns every item ordered by id
func (c *Catalog) Items() []models.CandidateItem {
	out := make([]models.CandidateItem, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, clone(c.items[id]))
	}
	return out
}

// LoIDs returns the LOs that have at least one item
func (c *Catalog) LoIDs() []string {
	out := make([]string, 0, len(c.byLo))
	for lo := range c.byLo {
		out = append(out, lo)
	}
	sort.Strings(out)
	return out
}

// MedianSeconds returns an item's median response time, or 0 if unknown
func (c *Catalog) MedianSeconds(id string) float64 {
	return c.items[id].MedianTimeSeconds
}

// Len returns the number of items
func (c *Catalog) Len() int { return len(c.items) }

func clone(item models.CandidateItem) models.CandidateItem {
	item.LoIDs = append([]string(nil), item.LoIDs...)
	if item.Thresholds != nil {
		item.Thresholds = append([]float64(nil), item.Thresholds...)
	}
	return item
}
