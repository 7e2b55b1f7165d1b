// Package dependency evaluates the boolean conditions that gate an element's visibility.
package dependency

import (
	"fmt"
	"strings"
)

// Kind identifies the type of a dependency expression.
type Kind string

const (
	KindUsageCount Kind = "usage_count"
	KindTimeBased  Kind = "time_based"
	KindSequence   Kind = "sequence"
	KindLogicalAnd Kind = "logical_and"
	KindLogicalOr  Kind = "logical_or"
)

// Expression is a closed sum type. The concrete variants are UsageCount, TimeBased,
// Sequence, LogicalAnd, LogicalOr and Unknown.
type Expression interface {
	Kind() Kind
	String() string
	expression()
}

// UsageCount holds when Target has at least Threshold interactions.
type UsageCount struct {
	Target    string
	Threshold int
}

// TimeBased holds when Target was used at least MinUsage times within Window.
type TimeBased struct {
	Target   string
	Window   string
	MinUsage int
}

// Sequence holds when every referenced element has been used at least once. Ordering is
// not checked.
type Sequence struct {
	Elements []string
}

// LogicalAnd holds when every referenced element's own dependency is satisfied.
type LogicalAnd struct {
	Elements []string
}

// LogicalOr holds when any referenced element's own dependency is satisfied.
type LogicalOr struct {
	Elements []string
}

// Unknown carries a type tag the decoder did not recognise. It never holds.
type Unknown struct {
	Type string
}

func (UsageCount) Kind() Kind { return KindUsageCount }
func (TimeBased) Kind() Kind  { return KindTimeBased }
func (Sequence) Kind() Kind   { return KindSequence }
func (LogicalAnd) Kind() Kind { return KindLogicalAnd }
func (LogicalOr) Kind() Kind  { return KindLogicalOr }
func (u Unknown) Kind() Kind  { return Kind(u.Type) }

func (UsageCount) expression() {}
func (TimeBased) expression()  {}
func (Sequence) expression()   {}
func (LogicalAnd) expression() {}
func (LogicalOr) expression()  {}
func (Unknown) expression()    {}

func (e UsageCount) String() string {
	return fmt.Sprintf("usage_count(%s, %d)", e.Target, e.Threshold)
}

func (e TimeBased) String() string {
	return fmt.Sprintf("time_based(%s, %s, %d)", e.Target, e.Window, e.MinUsage)
}

func (e Sequence) String() string {
	return "sequence(" + strings.Join(e.Elements, ", ") + ")"
}

func (e LogicalAnd) String() string {
	return "logical_and(" + strings.Join(e.Elements, ", ") + ")"
}

func (e LogicalOr) String() string {
	return "logical_or(" + strings.Join(e.Elements, ", ") + ")"
}

func (e Unknown) String() string {
	return fmt.Sprintf("unknown(%s)", e.Type)
}

// Spec is the document form of an expression as it appears in configuration.
type Spec struct {
	Type      string   `yaml:"type" json:"type" validate:"required"`
	Target    string   `yaml:"target,omitempty" json:"target,omitempty"`
	Threshold int      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Window    string   `yaml:"window,omitempty" json:"window,omitempty"`
	MinUsage  int      `yaml:"minUsage,omitempty" json:"minUsage,omitempty"`
	Elements  []string `yaml:"elements,omitempty" json:"elements,omitempty"`
}

// Decode converts a document spec into an Expression. A nil spec decodes to nil, and an
// unrecognised type tag decodes to Unknown.
func Decode(spec *Spec) Expression {
	if spec == nil {
		return nil
	}

	elements := append([]string(nil), spec.Elements...)
	switch Kind(strings.TrimSpace(spec.Type)) {
	case KindUsageCount:
		return UsageCount{Target: spec.Target, Threshold: spec.Threshold}
	case KindTimeBased:
		return TimeBased{Target: spec.Target, Window: spec.Window, MinUsage: spec.MinUsage}
	case KindSequence:
		return Sequence{Elements: elements}
	case KindLogicalAnd:
		return LogicalAnd{Elements: elements}
	case KindLogicalOr:
		return LogicalOr{Elements: elements}
	default:
		return Unknown{Type: spec.Type}
	}
}

// References lists the element ids an expression reads, in declaration order.
func References(expr Expression) []string {
	switch e := expr.(type) {
	case UsageCount:
		return []string{e.Target}
	case TimeBased:
		return []string{e.Target}
	case Sequence:
		return append([]string(nil), e.Elements...)
	case LogicalAnd:
		return append([]string(nil), e.Elements...)
	case LogicalOr:
		return append([]string(nil), e.Elements...)
	default:
		return nil
	}
}

// Recursive reports whether evaluating the expression recurses into the referenced elements'
// own dependencies.
func Recursive(expr Expression) bool {
	switch expr.(type) {
	case LogicalAnd, LogicalOr:
		return true
	default:
		return false
	}
}
