package progression

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/effectus/progressive-go/config"
	"github.com/effectus/progressive-go/internal/testutils"
	"github.com/effectus/progressive-go/journey"
	"github.com/effectus/progressive-go/notify"
	"github.com/effectus/progressive-go/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const chainDocument = `
name: chain
areas:
  main:
    elements:
      - id: A
        category: basic
      - id: B
        category: advanced
        dependencies: { type: usage_count, target: A, threshold: 2 }
      - id: C
        category: expert
        dependencies: { type: logical_and, elements: [A, B] }
`

type fixture struct {
	controller *Controller
	recorder   *testutils.Recorder
	wall       *testutils.ManualClock
}

func setup(t *testing.T, document string, options ...Option) fixture {
	t.Helper()

	doc, err := config.Parse([]byte(document), config.FormatYAML)
	require.NoError(t, err)

	wall := testutils.NewManualClock(testutils.Epoch)
	options = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithClock(store.NewClock(wall.Now)),
	}, options...)
	controller := New(options...)
	t.Cleanup(controller.Close)

	recorder := &testutils.Recorder{}
	controller.Subscribe(recorder.Handle)
	require.NoError(t, controller.Load(context.Background(), doc))

	return fixture{controller: controller, recorder: recorder, wall: wall}
}

func (f fixture) interact(t *testing.T, id string, n int, gap time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.controller.OnInteraction(id, time.Time{}))
		f.wall.Advance(gap)
	}
}

func TestEndToEndDependencyChain(t *testing.T) {
	f := setup(t, chainDocument)
	c := f.controller

	assert.True(t, c.IsVisible("A"))
	assert.False(t, c.IsVisible("B"))
	assert.False(t, c.IsVisible("C"))

	f.interact(t, "A", 1, time.Minute)
	assert.False(t, c.IsVisible("B"))

	f.interact(t, "A", 1, time.Minute)
	assert.True(t, c.IsVisible("B"))

	f.interact(t, "B", 1, time.Minute)
	assert.True(t, c.IsVisible("C"))

	assert.Equal(t, []string{"B", "C"}, f.recorder.Revealed())

	events := f.recorder.OfKind(notify.VisibilityChanged)
	require.NotEmpty(t, events)
	payload := events[0].Payload.(notify.Visibility)
	assert.Equal(t, notify.Visibility{
		ElementID:    "B",
		Category:     "advanced",
		Area:         "main",
		Visible:      true,
		Dependencies: "usage_count(A, 2)",
	}, payload)
}

func TestVisibilityIsMonotoneOutsideReset(t *testing.T) {
	f := setup(t, chainDocument)
	f.interact(t, "A", 2, time.Minute)
	f.interact(t, "A", 5, time.Minute)

	assert.True(t, f.controller.IsVisible("B"))
	assert.Equal(t, []string{"B", "C"}, f.recorder.Revealed())
}

func TestInteractionRecordedEvents(t *testing.T) {
	f := setup(t, chainDocument)
	f.interact(t, "A", 2, time.Minute)

	events := f.recorder.OfKind(notify.InteractionRecorded)
	require.Len(t, events, 2)
	assert.Equal(t, notify.Interaction{ElementID: "A", Category: "basic", Area: "main", Interactions: 2}, events[1].Payload)
}

func TestUnknownElementInteraction(t *testing.T) {
	f := setup(t, chainDocument)
	f.recorder.Reset()

	err := f.controller.OnInteraction("ghost", time.Time{})
	assert.ErrorIs(t, err, ErrUnknownElement)
	assert.Empty(t, f.recorder.Events())

	_, err = f.controller.Element("ghost")
	assert.ErrorIs(t, err, ErrUnknownElement)
}

func TestResetRestoresDefaults(t *testing.T) {
	f := setup(t, chainDocument)
	c := f.controller
	f.interact(t, "A", 5, time.Minute)
	require.True(t, c.IsVisible("B"))
	_, ok := c.Journey("main")
	require.True(t, ok)

	f.recorder.Reset()
	c.Reset("main")

	for _, el := range c.Elements("main") {
		assert.Zero(t, el.Interactions, el.ID)
		assert.False(t, el.IsNew, el.ID)
		assert.Equal(t, el.Category == store.Basic, el.Visible, el.ID)
	}
	_, ok = c.Journey("main")
	assert.False(t, ok, "reset forgets the journey classification")
	assert.Zero(t, c.RecentUsage("main", 24*time.Hour)[store.Basic])

	hidden := 0
	for _, event := range f.recorder.OfKind(notify.VisibilityChanged) {
		if !event.Payload.(notify.Visibility).Visible {
			hidden++
		}
	}
	assert.Equal(t, 2, hidden)

	f.interact(t, "A", 4, time.Minute)
	_, ok = c.Journey("main")
	assert.False(t, ok, "stale cadence does not count towards the next classification")
}

func TestResetKeepsForcedUnlockOfUnconditionalElements(t *testing.T) {
	f := setup(t, `
name: forced
areas:
  main:
    elements:
      - id: A
        category: basic
      - id: pro
        category: advanced
rules:
  - name: reveal-pro
    trigger: { type: element_interaction, elements: [A] }
    action: { type: unlock_element, element: pro }
`)
	c := f.controller
	f.interact(t, "A", 1, time.Minute)
	c.Tick()
	require.True(t, c.IsVisible("pro"))

	c.Reset("main")
	assert.False(t, c.IsVisible("pro"), "reset returns elements to their registration default")
}

func TestSimulateRestoresAcceleration(t *testing.T) {
	f := setup(t, chainDocument)
	c := f.controller

	require.NoError(t, c.Simulate([]Step{{ElementID: "A", Count: 2}}, 60))
	assert.Equal(t, 1.0, c.Clock().Acceleration())
	assert.True(t, c.IsVisible("B"))

	err := c.Simulate([]Step{{ElementID: "A", Count: 1}, {ElementID: "ghost", Count: 1}}, 60)
	assert.ErrorIs(t, err, ErrUnknownElement)
	assert.Equal(t, 1.0, c.Clock().Acceleration())

	assert.Error(t, c.Simulate(nil, 0))
}

func TestJourneyExploringFlagsBasicElements(t *testing.T) {
	f := setup(t, chainDocument)
	f.interact(t, "A", 5, time.Minute)

	result, ok := f.controller.Journey("main")
	require.True(t, ok)
	assert.Equal(t, journey.Exploring, result.Behavior)

	a, err := f.controller.Element("A")
	require.NoError(t, err)
	assert.True(t, a.IsNew)

	hints := f.recorder.OfKind(notify.NewFeatureFlagged)
	require.Len(t, hints, 1, "an element is flagged once")
	assert.Equal(t, notify.NewFeature{ElementID: "A"}, hints[0].Payload)

	require.NotEmpty(t, f.recorder.OfKind(notify.JourneyAnalyzed))
}

func TestJourneyFocusedFlagsVisibleAdvancedElements(t *testing.T) {
	f := setup(t, `
name: focused
areas:
  main:
    elements:
      - id: A
        category: basic
      - id: B
        category: advanced
        helpText: Batch edit
        dependencies: { type: usage_count, target: A, threshold: 1 }
      - id: D
        category: advanced
        dependencies: { type: usage_count, target: A, threshold: 50 }
`)
	f.interact(t, "A", 5, time.Second)

	result, ok := f.controller.Journey("main")
	require.True(t, ok)
	assert.Equal(t, journey.Focused, result.Behavior)

	b, _ := f.controller.Element("B")
	assert.True(t, b.IsNew)
	d, _ := f.controller.Element("D")
	assert.False(t, d.IsNew, "hidden elements are not hinted")
	assert.False(t, d.Visible)

	hints := f.recorder.OfKind(notify.NewFeatureFlagged)
	require.Len(t, hints, 1)
	assert.Equal(t, notify.NewFeature{ElementID: "B", HelpText: "Batch edit"}, hints[0].Payload)
}

func TestJourneyExpertUnlocksExpertCategory(t *testing.T) {
	f := setup(t, `
name: expert
areas:
  main:
    elements:
      - id: X
        category: advanced
      - id: W
        category: advanced
      - id: Y
        category: expert
        dependencies: { type: usage_count, target: X, threshold: 100 }
  other:
    elements:
      - id: Z
        category: expert
`)
	f.interact(t, "X", 3, time.Minute)
	f.interact(t, "W", 2, time.Minute)

	result, ok := f.controller.Journey("main")
	require.True(t, ok)
	assert.Equal(t, journey.Expert, result.Behavior)
	assert.Equal(t, 2, result.AdvancedFeatureUsage)

	assert.True(t, f.controller.IsVisible("Y"), "expert unlock ignores the element's own dependency")
	assert.False(t, f.controller.IsVisible("Z"), "other areas are untouched")
}

func TestJourneyGlobalScope(t *testing.T) {
	f := setup(t, chainDocument)
	_, ok := f.controller.Journey(journey.GlobalScope)
	assert.False(t, ok)

	f.interact(t, "A", 5, time.Minute)
	result, ok := f.controller.Journey(journey.GlobalScope)
	require.True(t, ok)
	assert.Equal(t, 5, result.Samples)
}

const rulesDocument = `
name: rules
areas:
  main:
    elements:
      - id: A
        category: basic
      - id: pro
        category: advanced
        dependencies: { type: usage_count, target: A, threshold: 100 }
      - id: macros
        category: expert
templates:
  - id: intro
    title: Welcome
    content: Start here
    steps: [open, save]
rules:
  - name: reveal-pro
    trigger: { type: element_interaction, elements: [A] }
    action: { type: unlock_element, element: pro }
  - name: experts
    trigger: { type: time_based, threshold: 3 }
    action: { type: unlock_category, category: expert, area: main }
  - name: tour
    trigger: { type: element_interaction, elements: [A] }
    action: { type: show_tutorial, data: { template: intro } }
  - name: broken-tour
    trigger: { type: element_interaction, elements: [A] }
    action: { type: show_tutorial, data: { template: outro } }
  - name: welcome
    trigger: { type: custom_event, event: signup, match: plan.premium }
    action: { type: send_event, data: { name: premium-welcome } }
`

func TestTickExecutesRuleActions(t *testing.T) {
	f := setup(t, rulesDocument)
	c := f.controller

	report := c.Tick()
	assert.Empty(t, report.Fired)

	f.interact(t, "A", 1, time.Minute)
	f.recorder.Reset()
	report = c.Tick()

	assert.Equal(t, []string{"reveal-pro", "tour"}, report.Fired)
	require.Contains(t, report.Errors, "broken-tour")
	assert.True(t, c.IsVisible("pro"))
	assert.False(t, c.IsVisible("macros"))

	triggered := f.recorder.OfKind(notify.RuleTriggered)
	require.Len(t, triggered, 1)
	assert.Equal(t, notify.RuleAction{
		Rule:   "reveal-pro",
		Action: "unlock_element",
		Data:   map[string]interface{}{"element": "pro"},
	}, triggered[0].Payload)

	tutorials := f.recorder.OfKind(notify.TutorialRequested)
	require.Len(t, tutorials, 1)
	tutorial := tutorials[0].Payload.(notify.RuleAction)
	require.NotNil(t, tutorial.Template)
	assert.Equal(t, notify.Template{ID: "intro", Title: "Welcome", Content: "Start here", Steps: []string{"open", "save"}}, *tutorial.Template)

	f.interact(t, "A", 2, time.Minute)
	f.recorder.Reset()
	report = c.Tick()
	assert.Contains(t, report.Fired, "experts")
	assert.True(t, c.IsVisible("macros"))

	for _, event := range f.recorder.OfKind(notify.RuleTriggered) {
		action := event.Payload.(notify.RuleAction)
		if action.Rule == "experts" {
			assert.Equal(t, 1, action.Data["unlocked"])
		}
	}
	assert.Len(t, f.recorder.OfKind(notify.TutorialRequested), 1, "tutorials repeat on every tick while the trigger holds")
}

func TestInjectedEventsReachCustomEventRules(t *testing.T) {
	f := setup(t, rulesDocument)
	c := f.controller

	c.InjectEvent("signup", []byte(`{"plan": {"premium": true}}`))
	report := c.Tick()
	assert.Equal(t, []string{"welcome"}, report.Fired)

	events := f.recorder.OfKind(notify.CustomEvent)
	require.Len(t, events, 1)
	assert.Equal(t, "premium-welcome", events[0].Payload.(notify.RuleAction).Data["name"])

	report = c.Tick()
	assert.Empty(t, report.Fired)
}

func TestSchedulerTicksRules(t *testing.T) {
	f := setup(t, rulesDocument, WithTickInterval(5*time.Millisecond), WithLogger(zap.NewNop()))
	f.interact(t, "A", 1, time.Minute)

	require.Eventually(t, func() bool {
		return f.controller.IsVisible("pro")
	}, 2*time.Second, 5*time.Millisecond)
}

const experimentDocument = `
name: experiment
areas:
  main:
    elements:
      - id: A
        category: basic
abTest:
  testId: onboarding
  trafficAllocation: [50, 50]
  metrics: [conversions]
  variants:
    - id: control
    - id: guided
      configuration:
        areas:
          main:
            elements:
              - id: A
                category: basic
              - id: wizard
                category: basic
`

func TestVariantAssignmentAppliesConfiguration(t *testing.T) {
	control := setup(t, experimentDocument, WithSubjectKey("user-1"))
	assignment, ok := control.controller.Assignment()
	require.True(t, ok)
	assert.Equal(t, "control", assignment.VariantID)
	assert.Len(t, control.controller.Elements(""), 1)

	guided := setup(t, experimentDocument, WithSubjectKey("user-3"))
	assignment, ok = guided.controller.Assignment()
	require.True(t, ok)
	assert.Equal(t, "guided", assignment.VariantID)
	assert.True(t, guided.controller.IsVisible("wizard"))

	doc, err := guided.controller.Document()
	require.NoError(t, err)
	assert.Len(t, doc.Areas["main"].Elements, 2)
}

func TestTrackMetric(t *testing.T) {
	f := setup(t, experimentDocument, WithSubjectKey("user-3"))
	c := f.controller

	c.TrackMetric("conversions")
	c.TrackMetricValue("conversions", 2)
	c.TrackMetric("clicks")

	events := f.recorder.OfKind(notify.ABMetricChanged)
	require.Len(t, events, 2)
	assert.Equal(t, notify.Metric{TestVariant: "guided", Metric: "conversions", Value: 3}, events[1].Payload)
	assert.Equal(t, map[string]float64{"conversions": 3}, c.Metrics())
}

func TestReloadKeepsMetricCounters(t *testing.T) {
	f := setup(t, experimentDocument, WithSubjectKey("user-3"))
	c := f.controller
	c.TrackMetricValue("conversions", 2)

	doc, err := config.Parse([]byte(experimentDocument), config.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background(), doc))
	assert.Equal(t, map[string]float64{"conversions": 2}, c.Metrics())

	c.TrackMetric("conversions")
	events := f.recorder.OfKind(notify.ABMetricChanged)
	require.Len(t, events, 2)
	assert.Equal(t, 3.0, events[1].Payload.(notify.Metric).Value)
}

func TestNoAssignmentWithoutExperiment(t *testing.T) {
	f := setup(t, chainDocument)
	_, ok := f.controller.Assignment()
	assert.False(t, ok)

	f.controller.TrackMetric("conversions")
	assert.Empty(t, f.recorder.OfKind(notify.ABMetricChanged))
}

func TestLoadAndCloseAreIdempotent(t *testing.T) {
	f := setup(t, chainDocument)
	c := f.controller
	f.interact(t, "A", 2, time.Minute)

	doc, err := config.Parse([]byte(chainDocument), config.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background(), doc))

	a, err := c.Element("A")
	require.NoError(t, err)
	assert.Zero(t, a.Interactions, "loading starts from a clean store")
	assert.False(t, c.IsVisible("B"))

	c.Close()
	c.Close()

	assert.Error(t, c.Load(context.Background(), nil))
}

func TestDocumentBeforeLoad(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.Document()
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.Empty(t, c.Tick().Fired)
}

func TestHandlersMayCallBackIntoController(t *testing.T) {
	f := setup(t, chainDocument)
	c := f.controller

	var seen []bool
	c.Subscribe(func(event notify.Event) {
		if event.Kind == notify.VisibilityChanged {
			seen = append(seen, c.IsVisible(event.Payload.(notify.Visibility).ElementID))
		}
	})
	f.interact(t, "A", 2, time.Minute)
	assert.Equal(t, []bool{true, true}, seen)
}

func TestHandlerMayCloseDuringScheduledTick(t *testing.T) {
	f := setup(t, `
name: beacon
areas:
  main:
    elements:
      - id: A
        category: basic
rules:
  - name: beacon
    trigger: { type: element_interaction, elements: [A] }
    action: { type: send_event, data: { name: ping } }
`, WithTickInterval(5*time.Millisecond), WithLogger(zap.NewNop()))
	c := f.controller

	var once sync.Once
	closed := make(chan struct{})
	c.Subscribe(func(event notify.Event) {
		if event.Kind != notify.CustomEvent {
			return
		}
		once.Do(func() {
			c.Close()
			close(closed)
		})
	})
	f.interact(t, "A", 1, time.Minute)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close called from a scheduled tick handler did not return")
	}

	require.Eventually(t, func() bool {
		before := len(f.recorder.OfKind(notify.CustomEvent))
		time.Sleep(20 * time.Millisecond)
		return len(f.recorder.OfKind(notify.CustomEvent)) == before
	}, 2*time.Second, time.Millisecond, "ticks stop after Close")
}
