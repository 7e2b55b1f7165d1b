// Package notify delivers engine notifications to registered observers.
package notify

import (
	"sort"
	"sync"
	"time"
)

// Kind names a notification.
type Kind string

const (
	VisibilityChanged   Kind = "visibility-changed"
	NewFeatureFlagged   Kind = "new-feature-flagged"
	RuleTriggered       Kind = "rule-triggered"
	TutorialRequested   Kind = "tutorial-requested"
	CustomEvent         Kind = "custom-event"
	ABMetricChanged     Kind = "ab-metric-changed"
	JourneyAnalyzed     Kind = "journey-analyzed"
	InteractionRecorded Kind = "interaction-recorded"
)

// Event is one notification.
type Event struct {
	Kind    Kind        `json:"kind"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload"`
}

// Visibility is the payload of VisibilityChanged.
type Visibility struct {
	ElementID    string `json:"elementId"`
	Category     string `json:"category"`
	Area         string `json:"area"`
	Visible      bool   `json:"visible"`
	Dependencies string `json:"dependencies,omitempty"`
}

// NewFeature is the payload of NewFeatureFlagged.
type NewFeature struct {
	ElementID string `json:"elementId"`
	HelpText  string `json:"helpText,omitempty"`
}

// Template is a tutorial template attached to a TutorialRequested payload.
type Template struct {
	ID      string   `json:"id"`
	Title   string   `json:"title,omitempty"`
	Content string   `json:"content,omitempty"`
	Steps   []string `json:"steps,omitempty"`
}

// RuleAction is the payload of RuleTriggered, TutorialRequested and CustomEvent.
type RuleAction struct {
	Rule     string                 `json:"rule"`
	Action   string                 `json:"action"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Template *Template              `json:"template,omitempty"`
}

// Metric is the payload of ABMetricChanged.
type Metric struct {
	TestVariant string  `json:"testVariant"`
	Metric      string  `json:"metric"`
	Value       float64 `json:"value"`
}

// Journey is the payload of JourneyAnalyzed.
type Journey struct {
	Area                 string  `json:"area"`
	Behavior             string  `json:"behavior"`
	InteractionRate      float64 `json:"interactionRate"`
	AdvancedFeatureUsage int     `json:"advancedFeatureUsage"`
}

// Interaction is the payload of InteractionRecorded.
type Interaction struct {
	ElementID    string `json:"elementId"`
	Category     string `json:"category"`
	Area         string `json:"area"`
	Interactions int    `json:"interactions"`
}

// Handler receives events. Handlers run synchronously on the publishing goroutine.
type Handler func(Event)

type subscription struct {
	kinds   map[Kind]struct{}
	handler Handler
}

// Bus is an explicit observer registry. The zero value is not usable; call NewBus.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers a handler for every kind and returns a function removing it.
func (b *Bus) Subscribe(handler Handler) func() {
	return b.SubscribeKind(handler)
}

// SubscribeKind registers a handler for the listed kinds, or every kind when none are given.
func (b *Bus) SubscribeKind(handler Handler, kinds ...Kind) func() {
	sub := subscription{handler: handler}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, kind := range kinds {
			sub.kinds[kind] = struct{}{}
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers an event to matching handlers in subscription order.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		sub := b.subs[id]
		if sub.kinds != nil {
			if _, ok := sub.kinds[event.Kind]; !ok {
				continue
			}
		}
		handlers = append(handlers, sub.handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
