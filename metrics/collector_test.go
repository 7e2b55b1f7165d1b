package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/effectus/progressive-go/notify"
)

func TestCollectorCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	require.NoError(t, err)

	bus := notify.NewBus()
	bus.Subscribe(collector.Handle)

	bus.Publish(notify.Event{Kind: notify.InteractionRecorded, Payload: notify.Interaction{ElementID: "save", Category: "basic", Area: "editor"}})
	bus.Publish(notify.Event{Kind: notify.InteractionRecorded, Payload: notify.Interaction{ElementID: "save", Category: "basic", Area: "editor"}})
	bus.Publish(notify.Event{Kind: notify.VisibilityChanged, Payload: notify.Visibility{ElementID: "export", Category: "advanced", Visible: true}})
	bus.Publish(notify.Event{Kind: notify.NewFeatureFlagged, Payload: notify.NewFeature{ElementID: "save"}})
	bus.Publish(notify.Event{Kind: notify.RuleTriggered, Payload: notify.RuleAction{Rule: "reward", Action: "unlock_element"}})
	bus.Publish(notify.Event{Kind: notify.ABMetricChanged, Payload: notify.Metric{TestVariant: "guided", Metric: "conversions", Value: 3}})
	bus.Publish(notify.Event{Kind: notify.JourneyAnalyzed, Payload: notify.Journey{Area: "editor", Behavior: "focused"}})

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.Interactions.WithLabelValues("editor", "basic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.VisibilityFlips.WithLabelValues("advanced", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.FeatureHints))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.RuleActions.WithLabelValues("reward", "unlock_element")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.ExperimentValues.WithLabelValues("guided", "conversions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Classifications.WithLabelValues("focused")))
}

func TestCollectorRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)

	_, err = NewCollector(reg)
	assert.Error(t, err)
}
