package variant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestHashMatchesPolynomialOverUTF16(t *testing.T) {
	assert.Equal(t, int64(0), Hash(""))
	assert.Equal(t, int64(97), Hash("a"))
	assert.Equal(t, int64(96354), Hash("abc"))
	assert.Equal(t, int64(1554574838), Hash("user-1onboarding"))
	assert.Equal(t, int64(103094734), Hash("héllo"))
	// Astral characters hash as their surrogate pair.
	assert.Equal(t, int64(1772899), Hash("😀"))
}

func TestBucket(t *testing.T) {
	assert.Equal(t, 38, Bucket("user-1", "onboarding"))
	assert.Equal(t, 99, Bucket("user-2", "onboarding"))
	assert.Equal(t, 60, Bucket("user-3", "onboarding"))
}

func TestSelect(t *testing.T) {
	exp := Experiment{
		TestID:            "onboarding",
		Variants:          []string{"control", "guided"},
		TrafficAllocation: []float64{50, 50},
	}

	a, ok := Select("user-1", exp, nil)
	require.True(t, ok)
	assert.Equal(t, Assignment{TestID: "onboarding", VariantID: "control", Index: 0, Bucket: 38}, a)

	a, ok = Select("user-3", exp, nil)
	require.True(t, ok)
	assert.Equal(t, "guided", a.VariantID)
	assert.Equal(t, 1, a.Index)

	again, _ := Select("user-3", exp, nil)
	assert.Equal(t, a, again, "assignment is a pure function of its inputs")
}

func TestSelectFallsBackToFirstVariant(t *testing.T) {
	exp := Experiment{
		TestID:            "onboarding",
		Variants:          []string{"control", "guided"},
		TrafficAllocation: []float64{30, 30},
	}

	a, ok := Select("user-2", exp, nil)
	require.True(t, ok)
	assert.Equal(t, 99, a.Bucket)
	assert.Equal(t, "control", a.VariantID)
}

func TestSelectRejectsMalformedExperiments(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	_, ok := Select("user-1", Experiment{TestID: "t", TrafficAllocation: []float64{100}}, logger)
	assert.False(t, ok)

	_, ok = Select("user-1", Experiment{TestID: "t", Variants: []string{"a"}}, logger)
	assert.False(t, ok)

	_, ok = Select("user-1", Experiment{TestID: "t", Variants: []string{"a", "b"}, TrafficAllocation: []float64{80, 30}}, logger)
	assert.False(t, ok)

	_, ok = Select("user-1", Experiment{TestID: "t", Variants: []string{"a", "b"}, TrafficAllocation: []float64{-10, 60}}, logger)
	assert.False(t, ok)

	assert.Equal(t, 2, logs.FilterMessage("malformed traffic allocation, skipping experiment").Len())
}

func TestValidAllocation(t *testing.T) {
	assert.True(t, ValidAllocation([]float64{33.3, 33.3, 33.4}))
	assert.True(t, ValidAllocation(nil))
	assert.False(t, ValidAllocation([]float64{100, 0.1}))
}
