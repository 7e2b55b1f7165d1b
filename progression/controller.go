// Package progression wires the interaction store, dependency evaluator, journey classifier,
// rule engine and variant selector into the single entry point presentation layers use.
package progression

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/effectus/progressive-go/config"
	"github.com/effectus/progressive-go/dependency"
	"github.com/effectus/progressive-go/journey"
	"github.com/effectus/progressive-go/notify"
	"github.com/effectus/progressive-go/rules"
	"github.com/effectus/progressive-go/store"
	"github.com/effectus/progressive-go/variant"
)

var (
	// ErrUnknownElement is returned for ids that were never registered.
	ErrUnknownElement = errors.New("unknown element")
	// ErrNotLoaded is returned by operations that need a configuration.
	ErrNotLoaded = errors.New("no configuration loaded")
)

// Controller is safe for concurrent use. Interaction callbacks and rule ticks are serialized
// by one mutex; notifications are published after it is released, so handlers may call back
// into the controller.
type Controller struct {
	mu sync.Mutex

	logger     *zap.Logger
	clock      *store.Clock
	bus        *notify.Bus
	interval   time.Duration
	subjectKey string

	store      *store.Store
	evaluator  *dependency.Evaluator
	classifier *journey.Classifier
	engine     *rules.Engine
	scheduler  *rules.Scheduler

	doc        *config.Document
	assignment *variant.Assignment
	tracker    *variant.Tracker

	pending []notify.Event
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock used for timestamps and time windows.
func WithClock(clock *store.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithBus publishes notifications on an existing bus.
func WithBus(bus *notify.Bus) Option {
	return func(c *Controller) {
		if bus != nil {
			c.bus = bus
		}
	}
}

// WithTickInterval sets the rule evaluation interval.
func WithTickInterval(interval time.Duration) Option {
	return func(c *Controller) {
		c.interval = interval
	}
}

// WithSubjectKey sets the key used for experiment assignment.
func WithSubjectKey(key string) Option {
	return func(c *Controller) {
		c.subjectKey = key
	}
}

// New creates a controller with no configuration loaded.
func New(options ...Option) *Controller {
	c := &Controller{
		logger:   zap.NewNop(),
		bus:      notify.NewBus(),
		interval: rules.DefaultInterval,
	}
	for _, option := range options {
		option(c)
	}
	if c.clock == nil {
		c.clock = store.NewClock(nil)
	}

	c.store = store.New(store.WithClock(c.clock), store.WithLogger(c.logger))
	c.evaluator = dependency.NewEvaluator(c.store, c.logger)
	c.classifier = journey.NewClassifier(c.store, c.logger)
	c.engine = rules.NewEngine(nil, rules.WithLogger(c.logger))
	return c
}

// Subscribe registers a notification handler and returns a function removing it.
func (c *Controller) Subscribe(handler notify.Handler) func() {
	return c.bus.Subscribe(handler)
}

// Bus returns the notification bus.
func (c *Controller) Bus() *notify.Bus {
	return c.bus
}

// Clock returns the controller clock.
func (c *Controller) Clock() *store.Clock {
	return c.clock
}

// Load replaces the active configuration. It stops the previous rule scheduler, assigns the
// experiment variant, registers every element, recomputes visibility and starts a new
// scheduler bound to ctx.
func (c *Controller) Load(ctx context.Context, doc *config.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	c.stopScheduler()

	c.mu.Lock()
	effective := doc
	var assignment *variant.Assignment
	if exp, ok := doc.Experiment(); ok {
		if a, ok := variant.Select(c.subjectKey, exp, c.logger); ok {
			merged := doc.WithVariant(a.Index)
			if err := merged.Validate(); err != nil {
				c.logger.Warn("variant configuration is invalid, using base configuration",
					zap.String("test", a.TestID),
					zap.String("variant", a.VariantID),
					zap.Error(err))
			} else {
				effective = merged
				assignment = &a
				c.logger.Info("experiment variant assigned",
					zap.String("test", a.TestID),
					zap.String("variant", a.VariantID),
					zap.Int("bucket", a.Bucket))
			}
		}
	}

	c.store.Clear()
	c.classifier.Clear()
	for _, reg := range effective.Registrations() {
		if unknown, ok := reg.Dependency.(dependency.Unknown); ok {
			c.logger.Warn("unknown dependency type",
				zap.String("element", reg.ID),
				zap.String("type", unknown.Type))
		}
		c.store.Register(reg)
	}

	decoded := effective.DecodeRules()
	for _, rule := range decoded {
		if unknown, ok := rule.Trigger.(rules.UnknownTrigger); ok {
			c.logger.Warn("unknown trigger type",
				zap.String("rule", rule.Name),
				zap.String("type", unknown.Kind))
		}
		if unknown, ok := rule.Action.(rules.UnknownAction); ok {
			c.logger.Warn("unknown action type",
				zap.String("rule", rule.Name),
				zap.String("type", unknown.Kind))
		}
	}
	c.engine = rules.NewEngine(decoded, rules.WithLogger(c.logger))

	c.doc = effective
	c.assignment = assignment
	var metrics []string
	if doc.ABTest != nil {
		metrics = doc.ABTest.Metrics
	}
	tracker := variant.NewTracker(assignment, metrics)
	tracker.Inherit(c.tracker)
	c.tracker = tracker

	c.recompute()

	scheduler := rules.NewScheduler(c.interval, func() { c.Tick() }, c.logger)
	previous := c.scheduler
	c.scheduler = scheduler
	c.logger.Info("configuration loaded",
		zap.String("name", effective.Name),
		zap.String("version", effective.Version),
		zap.Int("elements", len(c.store.Elements(""))),
		zap.Int("rules", len(decoded)))
	c.flush()

	if previous != nil {
		previous.Stop()
	}
	return scheduler.Start(ctx)
}

// Close stops the rule scheduler. It is safe to call more than once, and from a handler
// notified by a scheduled tick.
func (c *Controller) Close() {
	c.stopScheduler()
}

func (c *Controller) stopScheduler() {
	c.mu.Lock()
	scheduler := c.scheduler
	c.scheduler = nil
	c.mu.Unlock()

	if scheduler != nil {
		scheduler.Stop()
	}
}

// OnInteraction records one user interaction. A zero at uses the clock's current time.
// Unknown ids are logged and reported with ErrUnknownElement; engine state is unchanged.
func (c *Controller) OnInteraction(elementID string, at time.Time) error {
	c.mu.Lock()

	var (
		el store.Element
		ok bool
	)
	if at.IsZero() {
		el, ok = c.store.RecordInteraction(elementID)
	} else {
		el, ok = c.store.RecordInteractionAt(elementID, at)
	}
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownElement, elementID)
	}

	c.emit(notify.InteractionRecorded, notify.Interaction{
		ElementID:    el.ID,
		Category:     string(el.Category),
		Area:         el.Area,
		Interactions: el.Interactions,
	})

	c.recompute()
	c.observeJourney(el.Area)
	c.flush()
	return nil
}

// Reset clears the interaction history of an area, including its journey cadence, and
// returns every element in it to its registration-time visibility before recomputing.
func (c *Controller) Reset(area string) {
	c.mu.Lock()

	ids := c.store.Reset(area)
	c.classifier.Forget(area)
	for _, id := range ids {
		el, _ := c.store.Element(id)
		c.store.SetNew(id, false)
		c.setVisible(el, el.DefaultVisibility())
	}
	c.recompute()

	c.logger.Info("area reset", zap.String("area", area), zap.Int("elements", len(ids)))
	c.flush()
}

// Step is one entry of a simulated usage pattern.
type Step struct {
	ElementID string
	Count     int
}

// Simulate replays a usage pattern with the clock accelerated by factor. The previous
// factor is restored before returning, and visibility is recomputed afterwards.
func (c *Controller) Simulate(steps []Step, factor float64) error {
	restore, err := c.clock.SetAcceleration(factor)
	if err != nil {
		return err
	}
	defer func() {
		restore()
		c.mu.Lock()
		c.recompute()
		c.flush()
	}()

	for _, step := range steps {
		for i := 0; i < step.Count; i++ {
			if err := c.OnInteraction(step.ElementID, time.Time{}); err != nil {
				return fmt.Errorf("simulating %s: %w", step.ElementID, err)
			}
		}
	}
	return nil
}

// Tick evaluates the rules once. The scheduler calls it on every interval.
func (c *Controller) Tick() rules.TickReport {
	c.mu.Lock()
	report := c.engine.Tick(c.store, c)
	c.flush()
	return report
}

// InjectEvent queues a custom event that custom_event triggers see on the next tick.
func (c *Controller) InjectEvent(name string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engine.Inject(name, payload)
}

// TrackMetric adds one to a declared experiment metric.
func (c *Controller) TrackMetric(name string) {
	c.TrackMetricValue(name, 1)
}

// TrackMetricValue adds value to a declared experiment metric. It is a no-op when the metric
// is undeclared or no variant is assigned.
func (c *Controller) TrackMetricValue(name string, value float64) {
	c.mu.Lock()
	if change, ok := c.tracker.Track(name, value); ok {
		c.emit(notify.ABMetricChanged, notify.Metric{
			TestVariant: change.TestVariant,
			Metric:      change.Metric,
			Value:       change.Value,
		})
	}
	c.flush()
}

// Assignment returns the experiment assignment made at load time.
func (c *Controller) Assignment() (variant.Assignment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.assignment == nil {
		return variant.Assignment{}, false
	}
	return *c.assignment, true
}

// Metrics returns the experiment metric counters.
func (c *Controller) Metrics() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Snapshot()
}

// IsVisible reports whether an element is currently visible.
func (c *Controller) IsVisible(elementID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.store.Element(elementID)
	return ok && el.Visible
}

// Element returns a copy of an element record.
func (c *Controller) Element(elementID string) (store.Element, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.store.Element(elementID)
	if !ok {
		return store.Element{}, fmt.Errorf("%w: %s", ErrUnknownElement, elementID)
	}
	return el, nil
}

// Elements returns copies of the elements of an area, or of every element for "".
func (c *Controller) Elements(area string) []store.Element {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Elements(area)
}

// RecentUsage counts, per category, an area's interactions within window.
func (c *Controller) RecentUsage(area string, window time.Duration) map[store.Category]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.RecentUsage(area, window)
}

// Journey returns the latest classification of an area. journey.GlobalScope analyzes the
// global sequence across all areas on demand.
func (c *Controller) Journey(area string) (journey.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if area == journey.GlobalScope {
		return c.classifier.Analyze(journey.GlobalScope)
	}
	return c.classifier.Last(area)
}

// Document returns the effective configuration after variant merging.
func (c *Controller) Document() (*config.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil {
		return nil, ErrNotLoaded
	}
	return c.doc, nil
}

// recompute reveals every hidden element whose dependency now holds. Visibility only grows
// here; Reset is the one path that hides elements again.
func (c *Controller) recompute() {
	for _, el := range c.store.Elements("") {
		if el.Dependency == nil || el.Visible {
			continue
		}
		if c.evaluator.IsSatisfied(el.ID) {
			c.setVisible(el, true)
		}
	}
}

func (c *Controller) setVisible(el store.Element, visible bool) bool {
	if !c.store.SetVisible(el.ID, visible) {
		return false
	}
	payload := notify.Visibility{
		ElementID: el.ID,
		Category:  string(el.Category),
		Area:      el.Area,
		Visible:   visible,
	}
	if el.Dependency != nil {
		payload.Dependencies = el.Dependency.String()
	}
	c.emit(notify.VisibilityChanged, payload)
	return true
}

func (c *Controller) observeJourney(area string) {
	result, ok := c.classifier.Observe(area)
	if !ok {
		return
	}
	c.emit(notify.JourneyAnalyzed, notify.Journey{
		Area:                 result.Area,
		Behavior:             string(result.Behavior),
		InteractionRate:      result.InteractionRate,
		AdvancedFeatureUsage: result.AdvancedFeatureUsage,
	})

	switch result.Behavior {
	case journey.Exploring:
		c.flagNew(area, store.Basic)
	case journey.Focused:
		c.flagNew(area, store.Advanced)
	case journey.Expert:
		c.unlockCategory(store.Expert, area)
	}
}

// flagNew marks visible elements of a category as new discovery hints without changing
// visibility.
func (c *Controller) flagNew(area string, category store.Category) {
	for _, el := range c.store.Elements(area) {
		if el.Category != category || !el.Visible {
			continue
		}
		if c.store.SetNew(el.ID, true) {
			c.emit(notify.NewFeatureFlagged, notify.NewFeature{ElementID: el.ID, HelpText: el.HelpText})
		}
	}
}

// unlockCategory forces a category visible regardless of dependencies and returns how many
// elements went from hidden to visible. An empty area spans every area.
func (c *Controller) unlockCategory(category store.Category, area string) int {
	unlocked := 0
	for _, el := range c.store.Elements(area) {
		if el.Category != category {
			continue
		}
		if c.setVisible(el, true) {
			unlocked++
		}
	}
	return unlocked
}

// emit queues a notification. The caller must hold c.mu.
func (c *Controller) emit(kind notify.Kind, payload interface{}) {
	c.pending = append(c.pending, notify.Event{Kind: kind, At: c.clock.Now(), Payload: payload})
}

// flush releases c.mu and publishes the queued notifications.
func (c *Controller) flush() {
	events := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, event := range events {
		c.bus.Publish(event)
	}
}
