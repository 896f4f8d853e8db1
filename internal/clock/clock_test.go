package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixed(t *testing.T) {
	at := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	c := Fixed(at)
	assert.Equal(t, at, c.Now())
	assert.Equal(t, c.Now(), c.Now())
}

func TestManual(t *testing.T) {
	at := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	c := NewManual(at)
	c.Advance(time.Hour)
	assert.Equal(t, at.Add(time.Hour), c.Now())
	c.Set(at)
	assert.Equal(t, at, c.Now())
}
