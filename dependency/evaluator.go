package dependency

import (
	"time"

	"go.uber.org/zap"
)

// Target is the part of an element record the evaluator reads.
type Target struct {
	Interactions int
	Expression   Expression
}

// State is the read-only view of interaction history the evaluator works against.
type State interface {
	Lookup(id string) (Target, bool)
	HistorySince(id string, since time.Time) int
	Now() time.Time
}

// Evaluator decides whether an element's dependency expression is satisfied. Evaluation
// never mutates state and never fails: anything unexpected evaluates to false.
type Evaluator struct {
	state  State
	logger *zap.Logger
}

// NewEvaluator creates an evaluator over state.
func NewEvaluator(state State, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{state: state, logger: logger}
}

// IsSatisfied reports whether the element's dependency holds. Elements without a dependency
// are satisfied; unknown elements are not. Each element is evaluated at most once per call, so
// the cost is bounded by the size of the dependency graph.
func (e *Evaluator) IsSatisfied(id string) bool {
	p := &pass{
		visiting: make(map[string]struct{}),
		done:     make(map[string]bool),
	}
	return e.satisfied(id, p)
}

// pass is the state of one IsSatisfied call. visiting holds the ids on the current recursion
// path; revisiting one means the logical references form a cycle, which evaluates to false.
// done caches finished ids whose evaluation hit no cycle cut.
type pass struct {
	visiting map[string]struct{}
	done     map[string]bool
	cuts     int
}

func (e *Evaluator) satisfied(id string, p *pass) bool {
	if result, ok := p.done[id]; ok {
		return result
	}
	if _, seen := p.visiting[id]; seen {
		e.logger.Debug("dependency cycle detected", zap.String("element", id))
		p.cuts++
		return false
	}

	target, ok := e.state.Lookup(id)
	if !ok {
		p.done[id] = false
		return false
	}
	if target.Expression == nil {
		p.done[id] = true
		return true
	}

	cuts := p.cuts
	p.visiting[id] = struct{}{}
	result := e.evaluate(id, target.Expression, p)
	delete(p.visiting, id)

	if p.cuts == cuts {
		p.done[id] = result
	}
	return result
}

func (e *Evaluator) evaluate(id string, expr Expression, p *pass) bool {
	switch dep := expr.(type) {
	case UsageCount:
		target, ok := e.state.Lookup(dep.Target)
		return ok && target.Interactions >= dep.Threshold

	case TimeBased:
		target, ok := e.state.Lookup(dep.Target)
		if !ok {
			return false
		}
		if target.Interactions >= dep.MinUsage {
			return true
		}
		window := ParseWindow(dep.Window, e.logger)
		recent := e.state.HistorySince(dep.Target, e.state.Now().Add(-window))
		return recent >= dep.MinUsage

	case Sequence:
		for _, ref := range dep.Elements {
			target, ok := e.state.Lookup(ref)
			if !ok || target.Interactions == 0 {
				return false
			}
		}
		return true

	case LogicalAnd:
		for _, ref := range dep.Elements {
			if !e.satisfied(ref, p) {
				return false
			}
		}
		return true

	case LogicalOr:
		for _, ref := range dep.Elements {
			if e.satisfied(ref, p) {
				return true
			}
		}
		return false

	default:
		e.logger.Warn("unknown dependency type",
			zap.String("element", id),
			zap.String("type", string(expr.Kind())))
		return false
	}
}
