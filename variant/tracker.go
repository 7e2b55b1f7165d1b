package variant

// MetricChange is reported when a tracked metric's counter moves.
type MetricChange struct {
	TestVariant string
	Metric      string
	Value       float64
}

// Tracker counts the metrics an experiment declares for the assigned variant.
type Tracker struct {
	assignment *Assignment
	declared   map[string]struct{}
	counts     map[string]float64
}

// NewTracker creates a tracker. A nil assignment makes every Track call a no-op.
func NewTracker(assignment *Assignment, metrics []string) *Tracker {
	declared := make(map[string]struct{}, len(metrics))
	for _, metric := range metrics {
		declared[metric] = struct{}{}
	}
	return &Tracker{
		assignment: assignment,
		declared:   declared,
		counts:     make(map[string]float64),
	}
}

// Inherit carries over the counters of prev when it tracks the same test and variant, so a
// configuration reload does not reset them. Metrics t no longer declares are dropped.
func (t *Tracker) Inherit(prev *Tracker) {
	if t == nil || prev == nil || t.assignment == nil || prev.assignment == nil {
		return
	}
	if t.assignment.TestID != prev.assignment.TestID || t.assignment.VariantID != prev.assignment.VariantID {
		return
	}
	for name, value := range prev.counts {
		if _, ok := t.declared[name]; ok {
			t.counts[name] = value
		}
	}
}

// Track adds value to a declared metric. Undeclared metrics, and any metric when no variant
// is assigned, are ignored.
func (t *Tracker) Track(name string, value float64) (MetricChange, bool) {
	if t == nil || t.assignment == nil {
		return MetricChange{}, false
	}
	if _, ok := t.declared[name]; !ok {
		return MetricChange{}, false
	}
	t.counts[name] += value
	return MetricChange{
		TestVariant: t.assignment.VariantID,
		Metric:      name,
		Value:       t.counts[name],
	}, true
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	if t == nil {
		return out
	}
	for name, value := range t.counts {
		out[name] = value
	}
	return out
}
