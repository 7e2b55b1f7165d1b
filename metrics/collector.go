// Package metrics exports engine notifications as Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/effectus/progressive-go/notify"
)

const namespace = "progressive"

// Collector turns notifications into counters. Register it with Subscribe on a bus.
type Collector struct {
	Interactions     *prometheus.CounterVec
	VisibilityFlips  *prometheus.CounterVec
	FeatureHints     prometheus.Counter
	RuleActions      *prometheus.CounterVec
	ExperimentValues *prometheus.GaugeVec
	Classifications  *prometheus.CounterVec
}

// NewCollector creates the counters and registers them on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		Interactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interactions_total",
				Help:      "Recorded interactions by area and category",
			},
			[]string{"area", "category"},
		),
		VisibilityFlips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "visibility_changes_total",
				Help:      "Element visibility transitions by category and direction",
			},
			[]string{"category", "visible"},
		),
		FeatureHints: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feature_hints_total",
				Help:      "Elements flagged as new discovery hints",
			},
		),
		RuleActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_actions_total",
				Help:      "Rule actions executed by rule and action type",
			},
			[]string{"rule", "action"},
		),
		ExperimentValues: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "experiment_metric_value",
				Help:      "Current value of each tracked experiment metric",
			},
			[]string{"variant", "metric"},
		),
		Classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "journey_classifications_total",
				Help:      "Journey classifications by behavior",
			},
			[]string{"behavior"},
		),
	}

	for _, collector := range []prometheus.Collector{
		c.Interactions,
		c.VisibilityFlips,
		c.FeatureHints,
		c.RuleActions,
		c.ExperimentValues,
		c.Classifications,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handle updates counters for one event. It satisfies notify.Handler.
func (c *Collector) Handle(event notify.Event) {
	switch payload := event.Payload.(type) {
	case notify.Interaction:
		c.Interactions.WithLabelValues(payload.Area, payload.Category).Inc()
	case notify.Visibility:
		visible := "false"
		if payload.Visible {
			visible = "true"
		}
		c.VisibilityFlips.WithLabelValues(payload.Category, visible).Inc()
	case notify.NewFeature:
		c.FeatureHints.Inc()
	case notify.RuleAction:
		c.RuleActions.WithLabelValues(payload.Rule, payload.Action).Inc()
	case notify.Metric:
		c.ExperimentValues.WithLabelValues(payload.TestVariant, payload.Metric).Set(payload.Value)
	case notify.Journey:
		c.Classifications.WithLabelValues(payload.Behavior).Inc()
	}
}
