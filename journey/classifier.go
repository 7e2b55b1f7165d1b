// Package journey infers how a user is moving through an area from the cadence of their
// recent interactions.
package journey

import (
	"time"

	"go.uber.org/zap"

	"github.com/effectus/progressive-go/store"
)

// Behavior is the inferred skill label.
type Behavior string

const (
	Exploring Behavior = "exploring"
	Focused   Behavior = "focused"
	Expert    Behavior = "expert"
)

// GlobalScope analyzes the global sequence ring across every area.
const GlobalScope = ""

const (
	// MinSamples is the number of buffered interactions needed before classifying.
	MinSamples = 5
	// SampleSize is how many of the newest interactions feed the rate.
	SampleSize = 10
	// FocusedRate is the interactions-per-minute rate above which a user is focused.
	FocusedRate = 2.0
	// ExpertShare is the share of used advanced elements above which a user is an expert.
	ExpertShare = 0.5
)

// minSpan keeps the rate finite when samples share a timestamp.
const minSpan = time.Second

// Result is one classification.
type Result struct {
	Area                 string
	Behavior             Behavior
	InteractionRate      float64
	AdvancedFeatureUsage int
	Samples              int
}

// Classifier classifies areas and remembers the latest result per area. It is not safe for
// concurrent use.
type Classifier struct {
	store  *store.Store
	logger *zap.Logger
	last   map[string]Result
}

// NewClassifier creates a classifier reading the store's sequence rings.
func NewClassifier(st *store.Store, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{store: st, logger: logger, last: make(map[string]Result)}
}

// Analyze classifies an area without recording the result. It reports false until the
// area's sequence ring holds MinSamples entries.
func (c *Classifier) Analyze(area string) (Result, bool) {
	if c.store.SequenceLen(area) < MinSamples {
		return Result{}, false
	}

	samples := c.store.Sequence(area, SampleSize)
	rate := interactionRate(samples)

	advancedUsed, total := 0, 0
	for _, el := range c.store.Elements(area) {
		total++
		if el.Category.IsAdvanced() && el.Interactions > 0 {
			advancedUsed++
		}
	}

	behavior := Exploring
	if rate > FocusedRate {
		behavior = Focused
	}
	if total > 0 && float64(advancedUsed)/float64(total) > ExpertShare {
		behavior = Expert
	}

	return Result{
		Area:                 area,
		Behavior:             behavior,
		InteractionRate:      rate,
		AdvancedFeatureUsage: advancedUsed,
		Samples:              len(samples),
	}, true
}

// Observe classifies an area and records the result.
func (c *Classifier) Observe(area string) (Result, bool) {
	result, ok := c.Analyze(area)
	if !ok {
		return Result{}, false
	}
	if previous, seen := c.last[area]; !seen || previous.Behavior != result.Behavior {
		c.logger.Debug("journey classification changed",
			zap.String("area", area),
			zap.String("behavior", string(result.Behavior)),
			zap.Float64("rate", result.InteractionRate))
	}
	c.last[area] = result
	return result, true
}

// Last returns the most recent recorded classification for an area.
func (c *Classifier) Last(area string) (Result, bool) {
	result, ok := c.last[area]
	return result, ok
}

// Forget drops the recorded classification for an area.
func (c *Classifier) Forget(area string) {
	delete(c.last, area)
}

// Clear drops every recorded classification.
func (c *Classifier) Clear() {
	c.last = make(map[string]Result)
}

func interactionRate(samples []time.Time) float64 {
	if len(samples) == 0 {
		return 0
	}
	span := samples[len(samples)-1].Sub(samples[0])
	if span < minSpan {
		span = minSpan
	}
	return float64(len(samples)) / span.Minutes()
}
