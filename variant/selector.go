// Package variant assigns subjects to experiment arms deterministically and counts the
// experiment's declared metrics.
package variant

import (
	"unicode/utf16"

	"go.uber.org/zap"
)

// Experiment describes an A/B test. TrafficAllocation holds percentages parallel to Variants.
type Experiment struct {
	TestID            string
	Variants          []string
	TrafficAllocation []float64
	Metrics           []string
}

// Assignment records which arm a subject landed in.
type Assignment struct {
	TestID    string
	VariantID string
	Index     int
	Bucket    int
}

// Hash is a 31-multiplier polynomial rolling hash over UTF-16 code units, wrapped to a signed
// 32-bit integer, returned as its absolute value.
func Hash(s string) int64 {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(unit)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return abs
}

// Bucket maps a subject into 0..99 for an experiment.
func Bucket(subjectKey, testID string) int {
	return int(Hash(subjectKey+testID) % 100)
}

// Select assigns subjectKey to a variant. It is a pure function of its arguments. Empty
// variant or allocation lists, negative allocations and allocations summing above 100 all
// yield no assignment. When rounding leaves the bucket uncovered the first variant wins.
func Select(subjectKey string, exp Experiment, logger *zap.Logger) (Assignment, bool) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(exp.Variants) == 0 || len(exp.TrafficAllocation) == 0 {
		return Assignment{}, false
	}
	if !ValidAllocation(exp.TrafficAllocation) {
		logger.Warn("malformed traffic allocation, skipping experiment",
			zap.String("test", exp.TestID),
			zap.Float64s("allocation", exp.TrafficAllocation))
		return Assignment{}, false
	}

	bucket := Bucket(subjectKey, exp.TestID)
	index := 0
	cumulative := 0.0
	for i := range exp.Variants {
		if i >= len(exp.TrafficAllocation) {
			break
		}
		cumulative += exp.TrafficAllocation[i]
		if float64(bucket) < cumulative {
			index = i
			break
		}
	}

	return Assignment{
		TestID:    exp.TestID,
		VariantID: exp.Variants[index],
		Index:     index,
		Bucket:    bucket,
	}, true
}

// ValidAllocation reports whether every share is non-negative and the total is at most 100.
func ValidAllocation(allocation []float64) bool {
	total := 0.0
	for _, share := range allocation {
		if share < 0 {
			return false
		}
		total += share
	}
	return total <= 100
}
