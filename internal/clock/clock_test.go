package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual(t *testing.T) {
	t.Parallel()

	c := NewManual(time.Second)
	assert.Equal(t, time.Second, c.Now())

	assert.Equal(t, 3*time.Second, c.Advance(2*time.Second))
	assert.Equal(t, 3*time.Second, c.Advance(-time.Second), "negative advance ignored")

	c.Set(time.Second)
	assert.Equal(t, 3*time.Second, c.Now(), "set never rewinds")

	c.Set(10 * time.Second)
	assert.Equal(t, 10*time.Second, c.Now())
}

func TestManual_ZeroValue(t *testing.T) {
	t.Parallel()

	var c Manual
	assert.Equal(t, time.Duration(0), c.Now())
	c.Advance(time.Millisecond)
	assert.Equal(t, time.Millisecond, c.Now())
}

func TestWall_Monotonic(t *testing.T) {
	t.Parallel()

	w := NewWall()
	a := w.Now()
	b := w.Now()
	assert.GreaterOrEqual(t, b, a)
	assert.GreaterOrEqual(t, a, time.Duration(0))
}
