package store

import (
	"fmt"
	"sync"
	"time"
)

// Clock produces the engine's notion of "now": wall-clock milliseconds scaled by an
// acceleration factor. The factor is 1 outside of simulations.
type Clock struct {
	mu     sync.Mutex
	wall   func() time.Time
	factor float64
}

// NewClock creates a clock reading from wall. A nil wall uses time.Now.
func NewClock(wall func() time.Time) *Clock {
	if wall == nil {
		wall = time.Now
	}
	return &Clock{wall: wall, factor: 1}
}

// Now returns wall-clock milliseconds multiplied by the acceleration factor.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	factor := c.factor
	c.mu.Unlock()

	ms := c.wall().UnixMilli()
	if factor == 1 {
		return time.UnixMilli(ms)
	}
	return time.UnixMilli(int64(float64(ms) * factor))
}

// Acceleration returns the current acceleration factor.
func (c *Clock) Acceleration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.factor
}

// SetAcceleration replaces the acceleration factor and returns a function that restores
// the previous one.
func (c *Clock) SetAcceleration(factor float64) (func(), error) {
	if factor <= 0 {
		return nil, fmt.Errorf("acceleration factor must be positive, got %v", factor)
	}

	c.mu.Lock()
	previous := c.factor
	c.factor = factor
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.factor = previous
			c.mu.Unlock()
		})
	}, nil
}
