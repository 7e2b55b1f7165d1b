// Package rules evaluates timed behavioral rules against interaction history and executes
// their actions.
package rules

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/effectus/progressive-go/dependency"
	"github.com/effectus/progressive-go/store"
)

// TriggerType identifies a trigger variant.
type TriggerType string

const (
	TriggerUsagePattern       TriggerType = "usage_pattern"
	TriggerTimeBased          TriggerType = "time_based"
	TriggerElementInteraction TriggerType = "element_interaction"
	TriggerCustomEvent        TriggerType = "custom_event"
	TriggerExpression         TriggerType = "expression"
)

// ActionType identifies an action variant.
type ActionType string

const (
	ActionUnlockElement  ActionType = "unlock_element"
	ActionUnlockCategory ActionType = "unlock_category"
	ActionShowTutorial   ActionType = "show_tutorial"
	ActionSendEvent      ActionType = "send_event"
)

// Frequency is the cadence a usage pattern expects.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Unit returns the length of one period.
func (f Frequency) Unit() (time.Duration, bool) {
	switch f {
	case Daily:
		return 24 * time.Hour, true
	case Weekly:
		return 7 * 24 * time.Hour, true
	case Monthly:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Required is the number of uses a usage pattern needs within duration.
func (f Frequency) Required(duration time.Duration) (int, bool) {
	unit, ok := f.Unit()
	if !ok {
		return 0, false
	}
	return int(math.Ceil(float64(duration) / float64(unit))), true
}

// Trigger is a closed sum type: UsagePattern, TimeThreshold, ElementInteraction,
// CustomEvent, Condition or UnknownTrigger.
type Trigger interface {
	Type() TriggerType
	trigger()
}

// UsagePattern holds when every referenced element's (area, category) history has enough
// entries within Duration for the Frequency.
type UsagePattern struct {
	Elements  []string
	Frequency Frequency
	Duration  string
}

// TimeThreshold holds when the total interaction count across all elements reaches Threshold.
type TimeThreshold struct {
	Threshold int
}

// ElementInteraction holds when any referenced element has been used.
type ElementInteraction struct {
	Elements []string
}

// CustomEvent holds only for the tick after an external collaborator injected an event with
// a matching name. Match, when set, is a gjson path that must resolve to a truthy value in
// the injected payload.
type CustomEvent struct {
	Event string
	Match string
}

// Condition holds when its compiled expr-lang program returns true against the usage
// environment.
type Condition struct {
	Source  string
	program *vm.Program
	err     error
}

// UnknownTrigger carries an unrecognised type tag. It never holds.
type UnknownTrigger struct {
	Kind string
}

func (UsagePattern) Type() TriggerType       { return TriggerUsagePattern }
func (TimeThreshold) Type() TriggerType      { return TriggerTimeBased }
func (ElementInteraction) Type() TriggerType { return TriggerElementInteraction }
func (CustomEvent) Type() TriggerType        { return TriggerCustomEvent }
func (Condition) Type() TriggerType          { return TriggerExpression }
func (u UnknownTrigger) Type() TriggerType   { return TriggerType(u.Kind) }

func (UsagePattern) trigger()       {}
func (TimeThreshold) trigger()      {}
func (ElementInteraction) trigger() {}
func (CustomEvent) trigger()        {}
func (Condition) trigger()          {}
func (UnknownTrigger) trigger()     {}

// Err returns the compile error of a condition, if any.
func (c Condition) Err() error {
	return c.err
}

// Action is a closed sum type: UnlockElement, UnlockCategory, ShowTutorial, SendEvent or
// UnknownAction.
type Action interface {
	Type() ActionType
	action()
}

// UnlockElement makes one element visible.
type UnlockElement struct {
	Element string
}

// UnlockCategory makes every element of a category visible. An empty Area spans all areas.
type UnlockCategory struct {
	Category store.Category
	Area     string
}

// ShowTutorial forwards Data to the presentation layer.
type ShowTutorial struct {
	Data map[string]interface{}
}

// SendEvent forwards Data to the presentation layer as a custom event.
type SendEvent struct {
	Data map[string]interface{}
}

// UnknownAction carries an unrecognised type tag. It is skipped.
type UnknownAction struct {
	Kind string
}

func (UnlockElement) Type() ActionType   { return ActionUnlockElement }
func (UnlockCategory) Type() ActionType  { return ActionUnlockCategory }
func (ShowTutorial) Type() ActionType    { return ActionShowTutorial }
func (SendEvent) Type() ActionType       { return ActionSendEvent }
func (u UnknownAction) Type() ActionType { return ActionType(u.Kind) }

func (UnlockElement) action()  {}
func (UnlockCategory) action() {}
func (ShowTutorial) action()   {}
func (SendEvent) action()      {}
func (UnknownAction) action()  {}

// Rule pairs a trigger with the action to execute while it holds.
type Rule struct {
	Name    string
	Trigger Trigger
	Action  Action
}

// Idempotent reports whether executing the rule's action repeatedly has no further effect.
func (r Rule) Idempotent() bool {
	switch r.Action.(type) {
	case UnlockElement, UnlockCategory:
		return true
	default:
		return false
	}
}

// Spec is the document form of a rule.
type Spec struct {
	Name    string      `yaml:"name" json:"name" validate:"required"`
	Trigger TriggerSpec `yaml:"trigger" json:"trigger"`
	Action  ActionSpec  `yaml:"action" json:"action"`
}

// TriggerSpec is the document form of a trigger.
type TriggerSpec struct {
	Type      string   `yaml:"type" json:"type" validate:"required"`
	Elements  []string `yaml:"elements,omitempty" json:"elements,omitempty"`
	Frequency string   `yaml:"frequency,omitempty" json:"frequency,omitempty"`
	Duration  string   `yaml:"duration,omitempty" json:"duration,omitempty"`
	Threshold int      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Event     string   `yaml:"event,omitempty" json:"event,omitempty"`
	Match     string   `yaml:"match,omitempty" json:"match,omitempty"`
	Condition string   `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// ActionSpec is the document form of an action.
type ActionSpec struct {
	Type     string                 `yaml:"type" json:"type" validate:"required"`
	Element  string                 `yaml:"element,omitempty" json:"element,omitempty"`
	Category string                 `yaml:"category,omitempty" json:"category,omitempty"`
	Area     string                 `yaml:"area,omitempty" json:"area,omitempty"`
	Data     map[string]interface{} `yaml:"data,omitempty" json:"data,omitempty"`
}

// Env is the environment condition triggers are evaluated against.
type Env struct {
	Total        int             `expr:"total"`
	Interactions map[string]int  `expr:"interactions"`
	Visible      map[string]bool `expr:"visible"`
	Areas        map[string]int  `expr:"areas"`
}

// CompileCondition compiles an expr-lang source into a Condition. Compile errors are kept on
// the condition so it evaluates to false and lint can report them.
func CompileCondition(source string) Condition {
	cond := Condition{Source: source}
	if strings.TrimSpace(source) == "" {
		cond.err = fmt.Errorf("empty condition")
		return cond
	}
	program, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		cond.err = fmt.Errorf("compiling condition: %w", err)
		return cond
	}
	cond.program = program
	return cond
}

// Decode converts a document spec into a Rule. Unknown tags decode into UnknownTrigger and
// UnknownAction.
func Decode(spec Spec) Rule {
	return Rule{
		Name:    spec.Name,
		Trigger: decodeTrigger(spec.Trigger),
		Action:  decodeAction(spec.Action),
	}
}

// DecodeAll decodes specs preserving order.
func DecodeAll(specs []Spec) []Rule {
	out := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		out = append(out, Decode(spec))
	}
	return out
}

func decodeTrigger(spec TriggerSpec) Trigger {
	elements := append([]string(nil), spec.Elements...)
	switch TriggerType(strings.TrimSpace(spec.Type)) {
	case TriggerUsagePattern:
		return UsagePattern{
			Elements:  elements,
			Frequency: Frequency(strings.ToLower(spec.Frequency)),
			Duration:  spec.Duration,
		}
	case TriggerTimeBased:
		return TimeThreshold{Threshold: spec.Threshold}
	case TriggerElementInteraction:
		return ElementInteraction{Elements: elements}
	case TriggerCustomEvent:
		return CustomEvent{Event: spec.Event, Match: spec.Match}
	case TriggerExpression:
		return CompileCondition(spec.Condition)
	default:
		return UnknownTrigger{Kind: spec.Type}
	}
}

func decodeAction(spec ActionSpec) Action {
	switch ActionType(strings.TrimSpace(spec.Type)) {
	case ActionUnlockElement:
		return UnlockElement{Element: spec.Element}
	case ActionUnlockCategory:
		category, err := store.ParseCategory(spec.Category)
		if err != nil {
			return UnknownAction{Kind: spec.Type + ":" + spec.Category}
		}
		return UnlockCategory{Category: category, Area: spec.Area}
	case ActionShowTutorial:
		return ShowTutorial{Data: copyData(spec.Data)}
	case ActionSendEvent:
		return SendEvent{Data: copyData(spec.Data)}
	default:
		return UnknownAction{Kind: spec.Type}
	}
}

func copyData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// References lists the element ids a rule reads or writes.
func References(rule Rule) (reads []string, writes []string) {
	switch t := rule.Trigger.(type) {
	case UsagePattern:
		reads = append(reads, t.Elements...)
	case ElementInteraction:
		reads = append(reads, t.Elements...)
	}
	if a, ok := rule.Action.(UnlockElement); ok {
		writes = append(writes, a.Element)
	}
	return reads, writes
}

// DurationOf parses a usage pattern's duration with the same rules as dependency windows.
func DurationOf(p UsagePattern) (time.Duration, bool) {
	if !dependency.ValidWindow(p.Duration) {
		return dependency.DefaultWindow, false
	}
	return dependency.ParseWindow(p.Duration, nil), true
}
