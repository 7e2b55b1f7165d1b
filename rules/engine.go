package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/effectus/progressive-go/dependency"
	"github.com/effectus/progressive-go/store"
)

// Executor carries out rule actions. The progression controller implements it.
type Executor interface {
	UnlockElement(rule Rule, id string) error
	UnlockCategory(rule Rule, category store.Category, area string) (int, error)
	ShowTutorial(rule Rule, data map[string]interface{}) error
	SendEvent(rule Rule, data map[string]interface{}) error
}

// TickReport summarizes one evaluation pass.
type TickReport struct {
	At     time.Time
	Fired  []string
	Errors map[string]error
}

// Engine holds the ordered rule list for a loaded configuration. Triggers are
// level-triggered: every tick re-evaluates every rule, so non-idempotent actions repeat for
// as long as their trigger holds. An Engine is not safe for concurrent use.
type Engine struct {
	rules  []Rule
	logger *zap.Logger
	events map[string][][]byte
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine over rules, keeping their order.
func NewEngine(rules []Rule, options ...EngineOption) *Engine {
	engine := &Engine{
		rules:  append([]Rule(nil), rules...),
		logger: zap.NewNop(),
		events: make(map[string][][]byte),
	}
	for _, option := range options {
		option(engine)
	}
	return engine
}

// Rules returns a copy of the rule list.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Inject queues a custom event for the next tick.
func (e *Engine) Inject(name string, payload []byte) {
	e.events[name] = append(e.events[name], append([]byte(nil), payload...))
}

// Tick evaluates every rule in order and executes the actions of those whose trigger holds.
// A failing or panicking rule is logged and recorded; the remaining rules still run.
// Injected events are consumed.
func (e *Engine) Tick(st *store.Store, exec Executor) TickReport {
	report := TickReport{At: st.Now(), Errors: make(map[string]error)}
	env := buildEnv(st)

	for _, rule := range e.rules {
		fired, err := e.run(rule, st, env, exec)
		if err != nil {
			report.Errors[rule.Name] = err
			e.logger.Warn("rule failed",
				zap.String("rule", rule.Name),
				zap.Error(err))
			continue
		}
		if fired {
			report.Fired = append(report.Fired, rule.Name)
		}
	}

	e.events = make(map[string][][]byte)
	e.logger.Debug("rules evaluated",
		zap.Int("rules", len(e.rules)),
		zap.Int("fired", len(report.Fired)))
	return report
}

func (e *Engine) run(rule Rule, st *store.Store, env Env, exec Executor) (fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			fired = false
			err = fmt.Errorf("rule %q panicked: %v", rule.Name, r)
		}
	}()

	if !e.evaluate(rule, st, env) {
		return false, nil
	}
	if err := e.execute(rule, exec); err != nil {
		return false, err
	}
	return true, nil
}

// Evaluate reports whether a rule's trigger currently holds.
func (e *Engine) Evaluate(rule Rule, st *store.Store) bool {
	return e.evaluate(rule, st, buildEnv(st))
}

func (e *Engine) evaluate(rule Rule, st *store.Store, env Env) bool {
	switch t := rule.Trigger.(type) {
	case UsagePattern:
		return e.usagePattern(rule, t, st)

	case TimeThreshold:
		return st.TotalInteractions() >= t.Threshold

	case ElementInteraction:
		for _, id := range t.Elements {
			if el, ok := st.Element(id); ok && el.Interactions > 0 {
				return true
			}
		}
		return false

	case CustomEvent:
		for _, payload := range e.events[t.Event] {
			if t.Match == "" {
				return true
			}
			if gjson.GetBytes(payload, t.Match).Bool() {
				return true
			}
		}
		return false

	case Condition:
		if t.err != nil || t.program == nil {
			e.logger.Warn("rule condition does not compile",
				zap.String("rule", rule.Name),
				zap.Error(t.err))
			return false
		}
		out, err := expr.Run(t.program, env)
		if err != nil {
			e.logger.Warn("rule condition failed",
				zap.String("rule", rule.Name),
				zap.Error(err))
			return false
		}
		held, _ := out.(bool)
		return held

	default:
		e.logger.Warn("unknown trigger type",
			zap.String("rule", rule.Name),
			zap.String("type", string(rule.Trigger.Type())))
		return false
	}
}

func (e *Engine) usagePattern(rule Rule, p UsagePattern, st *store.Store) bool {
	if len(p.Elements) == 0 {
		return false
	}
	duration := dependency.ParseWindow(p.Duration, e.logger)
	required, ok := p.Frequency.Required(duration)
	if !ok {
		e.logger.Warn("unknown usage frequency",
			zap.String("rule", rule.Name),
			zap.String("frequency", string(p.Frequency)))
		return false
	}

	cutoff := st.Now().Add(-duration)
	for _, id := range p.Elements {
		el, ok := st.Element(id)
		if !ok {
			return false
		}
		if st.CategoryHistorySince(el.Area, el.Category, cutoff) < required {
			return false
		}
	}
	return true
}

func (e *Engine) execute(rule Rule, exec Executor) error {
	switch a := rule.Action.(type) {
	case UnlockElement:
		return exec.UnlockElement(rule, a.Element)
	case UnlockCategory:
		_, err := exec.UnlockCategory(rule, a.Category, a.Area)
		return err
	case ShowTutorial:
		return exec.ShowTutorial(rule, a.Data)
	case SendEvent:
		return exec.SendEvent(rule, a.Data)
	default:
		return fmt.Errorf("unknown action type %q", strings.TrimSpace(string(rule.Action.Type())))
	}
}

func buildEnv(st *store.Store) Env {
	env := Env{
		Interactions: make(map[string]int),
		Visible:      make(map[string]bool),
		Areas:        make(map[string]int),
	}
	for _, el := range st.Elements("") {
		env.Total += el.Interactions
		env.Interactions[el.ID] = el.Interactions
		env.Visible[el.ID] = el.Visible
		env.Areas[el.Area] += el.Interactions
	}
	return env
}
