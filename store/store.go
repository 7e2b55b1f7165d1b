// Package store holds the interaction history that drives progressive disclosure: per-element
// counters, per-area activity and the bounded usage-history rings read by the evaluators.
//
// A Store is not safe for concurrent use. The progression controller serializes every access.
package store

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/effectus/progressive-go/dependency"
)

const (
	// ElementHistoryLimit caps the per-element history ring.
	ElementHistoryLimit = 100
	// CategoryHistoryLimit caps each (area, category) history ring.
	CategoryHistoryLimit = 30
	// SequenceLimit caps the per-area and global sequence rings.
	SequenceLimit = 20
)

// Element is the state kept for one registered UI element.
type Element struct {
	ID           string
	Category     Category
	Area         string
	HelpText     string
	Interactions int
	LastUsed     time.Time
	Dependency   dependency.Expression
	Visible      bool
	IsNew        bool
}

// DefaultVisibility is the visibility an element has right after registration.
func (e Element) DefaultVisibility() bool {
	if e.Dependency != nil {
		return false
	}
	return e.Category == Basic
}

// Area tracks activity for one independently progressing section.
type Area struct {
	ID                string
	LastActivity      time.Time
	TotalInteractions int
}

// Registration describes an element to register.
type Registration struct {
	ID         string
	Category   Category
	Area       string
	HelpText   string
	Dependency dependency.Expression
}

type historyKey struct {
	area     string
	category Category
}

// Store records interactions and answers history queries.
type Store struct {
	clock  *Clock
	logger *zap.Logger

	elements  map[string]*Element
	order     []string
	areas     map[string]*Area
	areaOrder []string

	categoryHistory map[historyKey]*Ring
	elementHistory  map[string]*Ring
	sequences       map[string]*Ring
	global          *Ring
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps.
func WithClock(clock *Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty store.
func New(options ...Option) *Store {
	s := &Store{
		clock:  NewClock(nil),
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(s)
	}
	s.Clear()
	return s
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// Clock returns the store clock.
func (s *Store) Clock() *Clock {
	return s.clock
}

// Clear drops every element, area and history ring.
func (s *Store) Clear() {
	s.elements = make(map[string]*Element)
	s.order = nil
	s.areas = make(map[string]*Area)
	s.areaOrder = nil
	s.categoryHistory = make(map[historyKey]*Ring)
	s.elementHistory = make(map[string]*Ring)
	s.sequences = make(map[string]*Ring)
	s.global = NewRing(SequenceLimit)
}

// Register creates or overwrites an element record and returns a copy of it.
func (s *Store) Register(reg Registration) Element {
	el := &Element{
		ID:         reg.ID,
		Category:   reg.Category,
		Area:       reg.Area,
		HelpText:   reg.HelpText,
		Dependency: reg.Dependency,
	}
	el.Visible = el.DefaultVisibility()

	if _, exists := s.elements[reg.ID]; !exists {
		s.order = append(s.order, reg.ID)
	}
	s.elements[reg.ID] = el

	if _, exists := s.areas[reg.Area]; !exists {
		s.areas[reg.Area] = &Area{ID: reg.Area}
		s.areaOrder = append(s.areaOrder, reg.Area)
	}

	return *el
}

// RecordInteraction records an interaction at the clock's current time.
func (s *Store) RecordInteraction(id string) (Element, bool) {
	return s.RecordInteractionAt(id, s.Now())
}

// RecordInteractionAt records an interaction at the given time. Unknown ids are logged and
// ignored.
func (s *Store) RecordInteractionAt(id string, at time.Time) (Element, bool) {
	el, ok := s.elements[id]
	if !ok {
		s.logger.Warn("interaction with unknown element", zap.String("element", id))
		return Element{}, false
	}

	el.Interactions++
	el.LastUsed = at

	s.ring(s.elementHistory, id, ElementHistoryLimit).Push(at)

	key := historyKey{area: el.Area, category: el.Category}
	history, ok := s.categoryHistory[key]
	if !ok {
		history = NewRing(CategoryHistoryLimit)
		s.categoryHistory[key] = history
	}
	history.Push(at)

	s.ring(s.sequences, el.Area, SequenceLimit).Push(at)
	s.global.Push(at)

	if area, ok := s.areas[el.Area]; ok {
		area.LastActivity = at
		area.TotalInteractions++
	}

	return *el, true
}

func (s *Store) ring(rings map[string]*Ring, key string, limit int) *Ring {
	r, ok := rings[key]
	if !ok {
		r = NewRing(limit)
		rings[key] = r
	}
	return r
}

// RecentUsage counts, per category, the area's history entries newer than now minus window.
func (s *Store) RecentUsage(area string, window time.Duration) map[Category]int {
	cutoff := s.Now().Add(-window)
	usage := make(map[Category]int, len(Categories))
	for _, category := range Categories {
		usage[category] = s.CategoryHistorySince(area, category, cutoff)
	}
	return usage
}

// CategoryHistorySince counts (area, category) history entries strictly newer than since.
func (s *Store) CategoryHistorySince(area string, category Category, since time.Time) int {
	history, ok := s.categoryHistory[historyKey{area: area, category: category}]
	if !ok {
		return 0
	}
	return history.Since(since)
}

// HistorySince counts per-element history entries strictly newer than since.
func (s *Store) HistorySince(id string, since time.Time) int {
	history, ok := s.elementHistory[id]
	if !ok {
		return 0
	}
	return history.Since(since)
}

// Lookup exposes the fields the dependency evaluator needs.
func (s *Store) Lookup(id string) (dependency.Target, bool) {
	el, ok := s.elements[id]
	if !ok {
		return dependency.Target{}, false
	}
	return dependency.Target{Interactions: el.Interactions, Expression: el.Dependency}, true
}

// Reset zeroes counters and drops history for every element in the area, including the
// area's sequence ring. It returns the ids of the affected elements.
func (s *Store) Reset(area string) []string {
	var ids []string
	for _, id := range s.order {
		el := s.elements[id]
		if el.Area != area {
			continue
		}
		el.Interactions = 0
		el.LastUsed = time.Time{}
		delete(s.elementHistory, id)
		ids = append(ids, id)
	}

	for key := range s.categoryHistory {
		if key.area == area {
			delete(s.categoryHistory, key)
		}
	}
	delete(s.sequences, area)

	if record, ok := s.areas[area]; ok {
		record.LastActivity = time.Time{}
		record.TotalInteractions = 0
	}

	return ids
}

// Element returns a copy of the element record.
func (s *Store) Element(id string) (Element, bool) {
	el, ok := s.elements[id]
	if !ok {
		return Element{}, false
	}
	return *el, true
}

// Elements returns copies of the elements in an area in registration order. An empty area
// returns every element.
func (s *Store) Elements(area string) []Element {
	out := make([]Element, 0, len(s.order))
	for _, id := range s.order {
		el := s.elements[id]
		if area != "" && el.Area != area {
			continue
		}
		out = append(out, *el)
	}
	return out
}

// Area returns a copy of the area record.
func (s *Store) Area(id string) (Area, bool) {
	area, ok := s.areas[id]
	if !ok {
		return Area{}, false
	}
	return *area, true
}

// Areas returns area ids sorted alphabetically.
func (s *Store) Areas() []string {
	ids := append([]string(nil), s.areaOrder...)
	sort.Strings(ids)
	return ids
}

// Sequence returns the newest n entries of an area's sequence ring. An empty area reads the
// global ring.
func (s *Store) Sequence(area string, n int) []time.Time {
	if area == "" {
		return s.global.Last(n)
	}
	ring, ok := s.sequences[area]
	if !ok {
		return nil
	}
	return ring.Last(n)
}

// SequenceLen returns the number of entries in an area's (or the global) sequence ring.
func (s *Store) SequenceLen(area string) int {
	if area == "" {
		return s.global.Len()
	}
	ring, ok := s.sequences[area]
	if !ok {
		return 0
	}
	return ring.Len()
}

// SetVisible updates the visibility flag and reports whether it changed.
func (s *Store) SetVisible(id string, visible bool) bool {
	el, ok := s.elements[id]
	if !ok || el.Visible == visible {
		return false
	}
	el.Visible = visible
	return true
}

// SetNew updates the is-new flag and reports whether it changed.
func (s *Store) SetNew(id string, isNew bool) bool {
	el, ok := s.elements[id]
	if !ok || el.IsNew == isNew {
		return false
	}
	el.IsNew = isNew
	return true
}

// TotalInteractions sums interaction counts across every registered element.
func (s *Store) TotalInteractions() int {
	total := 0
	for _, el := range s.elements {
		total += el.Interactions
	}
	return total
}
