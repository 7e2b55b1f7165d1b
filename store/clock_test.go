package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockAcceleration(t *testing.T) {
	wall := time.UnixMilli(1_000)
	clock := NewClock(func() time.Time { return wall })

	assert.Equal(t, int64(1_000), clock.Now().UnixMilli())

	restore, err := clock.SetAcceleration(10)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), clock.Now().UnixMilli())
	assert.Equal(t, 10.0, clock.Acceleration())

	restore()
	restore()
	assert.Equal(t, 1.0, clock.Acceleration())
	assert.Equal(t, int64(1_000), clock.Now().UnixMilli())
}

func TestClockRejectsNonPositiveFactor(t *testing.T) {
	clock := NewClock(nil)
	_, err := clock.SetAcceleration(0)
	assert.Error(t, err)
	_, err = clock.SetAcceleration(-2)
	assert.Error(t, err)
	assert.Equal(t, 1.0, clock.Acceleration())
}
