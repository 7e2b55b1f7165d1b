package lint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	exprast "github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/effectus/progressive-go/analysis"
	"github.com/effectus/progressive-go/config"
	"github.com/effectus/progressive-go/dependency"
	"github.com/effectus/progressive-go/rules"
	"github.com/effectus/progressive-go/variant"
)

const (
	SeverityWarning = "warning"
	SeverityError   = "error"

	CodeCyclicDependency   = "cyclic-dependency"
	CodeUnknownReference   = "unknown-reference"
	CodeUnknownDependency  = "unknown-dependency-type"
	CodeUnknownTrigger     = "unknown-trigger"
	CodeUnknownAction      = "unknown-action"
	CodeInvalidWindow      = "invalid-window"
	CodeInvalidFrequency   = "invalid-frequency"
	CodeInvalidCondition   = "invalid-condition"
	CodeDeadRule           = "dead-rule"
	CodeRepeatFiring       = "repeat-firing"
	CodeUnknownTemplate    = "unknown-template"
	CodeUnsafeExpression   = "unsafe-expression"
	CodeAllocationOverflow = "allocation-overflow"
	CodeAllocationMismatch = "allocation-mismatch"
)

// UnsafeMode controls how unsafe expression usage is reported.
type UnsafeMode string

const (
	UnsafeIgnore UnsafeMode = "ignore"
	UnsafeWarn   UnsafeMode = "warn"
	UnsafeError  UnsafeMode = "error"
)

// LintOptions configures lint behavior.
type LintOptions struct {
	UnsafeMode UnsafeMode
}

// DefaultOptions returns the default lint options.
func DefaultOptions() LintOptions {
	return LintOptions{UnsafeMode: UnsafeWarn}
}

// ParseUnsafeMode parses a string into UnsafeMode.
func ParseUnsafeMode(raw string) (UnsafeMode, error) {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	switch trimmed {
	case "", "warn", "warning":
		return UnsafeWarn, nil
	case "error", "err":
		return UnsafeError, nil
	case "ignore", "off", "none":
		return UnsafeIgnore, nil
	default:
		return UnsafeWarn, fmt.Errorf("unknown unsafe mode: %s", raw)
	}
}

// Issue represents a linter finding. Path locates the offending node inside the document,
// e.g. "areas.editor.elements[2]" or "rules[0].trigger".
type Issue struct {
	File     string `json:"file,omitempty"`
	Path     string `json:"path"`
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

func (i Issue) String() string {
	if i.File == "" {
		return fmt.Sprintf("%s: %s [%s] %s", i.Path, i.Severity, i.Code, i.Message)
	}
	return fmt.Sprintf("%s:%s: %s [%s] %s", i.File, i.Path, i.Severity, i.Code, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// LintConfig runs lint checks on a validated document.
func LintConfig(doc *config.Document, path string) []Issue {
	return LintConfigWithOptions(doc, path, DefaultOptions())
}

// LintConfigWithOptions runs lint checks with custom options.
func LintConfigWithOptions(doc *config.Document, path string, options LintOptions) []Issue {
	if doc == nil {
		return nil
	}

	issues := make([]Issue, 0)
	mode := normalizeUnsafeMode(options.UnsafeMode)
	known := doc.ElementIDs()

	for _, areaID := range doc.AreaIDs() {
		for i, el := range doc.Areas[areaID].Elements {
			at := fmt.Sprintf("areas.%s.elements[%d]", areaID, i)
			issues = append(issues, lintDependency(path, at, el, known)...)
		}
	}

	for i, spec := range doc.Rules {
		at := fmt.Sprintf("rules[%d]", i)
		rule := rules.Decode(spec)
		issues = append(issues, lintTrigger(path, at+".trigger", rule, known, mode)...)
		issues = append(issues, lintAction(path, at+".action", rule, doc, known)...)
		issues = append(issues, lintRepeatFiring(path, at, rule)...)
	}

	for _, cycle := range analysis.BuildDependencyGraph(doc).Cycles() {
		issues = append(issues, Issue{
			File:     path,
			Path:     "areas",
			Severity: SeverityWarning,
			Code:     CodeCyclicDependency,
			Message:  fmt.Sprintf("elements %s depend on each other and can never be revealed", strings.Join(append(cycle, cycle[0]), " -> ")),
		})
	}

	if doc.ABTest != nil {
		issues = append(issues, lintExperiment(path, doc)...)
	}

	return issues
}

func lintDependency(path, at string, el config.ElementSpec, known map[string]struct{}) []Issue {
	if el.Dependencies == nil {
		return nil
	}
	at += ".dependencies"
	dep := dependency.Decode(el.Dependencies)

	var issues []Issue
	if unknown, ok := dep.(dependency.Unknown); ok {
		return []Issue{{
			File:     path,
			Path:     at,
			Severity: SeverityWarning,
			Code:     CodeUnknownDependency,
			Message:  fmt.Sprintf("element %q uses unknown dependency type %q and will stay hidden", el.ID, unknown.Type),
		}}
	}
	if tb, ok := dep.(dependency.TimeBased); ok && !dependency.ValidWindow(tb.Window) {
		issues = append(issues, Issue{
			File:     path,
			Path:     at + ".window",
			Severity: SeverityWarning,
			Code:     CodeInvalidWindow,
			Message:  fmt.Sprintf("window %q is malformed, %s is used instead", tb.Window, dependency.DefaultWindow),
		})
	}
	for _, ref := range dependency.References(dep) {
		if _, ok := known[ref]; ok {
			continue
		}
		issues = append(issues, Issue{
			File:     path,
			Path:     at,
			Severity: SeverityWarning,
			Code:     CodeUnknownReference,
			Message:  fmt.Sprintf("element %q depends on undeclared element %q", el.ID, ref),
		})
	}
	return issues
}

func lintTrigger(path, at string, rule rules.Rule, known map[string]struct{}, mode UnsafeMode) []Issue {
	var issues []Issue
	switch t := rule.Trigger.(type) {
	case rules.UnknownTrigger:
		issues = append(issues, Issue{
			File:     path,
			Path:     at,
			Severity: SeverityWarning,
			Code:     CodeUnknownTrigger,
			Message:  fmt.Sprintf("rule %q has unknown trigger type %q and never fires", rule.Name, t.Kind),
		})
	case rules.UsagePattern:
		if _, ok := t.Frequency.Unit(); !ok {
			issues = append(issues, Issue{
				File:     path,
				Path:     at + ".frequency",
				Severity: SeverityWarning,
				Code:     CodeInvalidFrequency,
				Message:  fmt.Sprintf("rule %q has unknown frequency %q and never fires", rule.Name, t.Frequency),
			})
		}
		if _, ok := rules.DurationOf(t); !ok {
			issues = append(issues, Issue{
				File:     path,
				Path:     at + ".duration",
				Severity: SeverityWarning,
				Code:     CodeInvalidWindow,
				Message:  fmt.Sprintf("duration %q is malformed, %s is used instead", t.Duration, dependency.DefaultWindow),
			})
		}
		if len(t.Elements) == 0 {
			issues = append(issues, deadRule(path, at, rule.Name, "it lists no elements"))
		}
	case rules.ElementInteraction:
		if len(t.Elements) == 0 {
			issues = append(issues, deadRule(path, at, rule.Name, "it lists no elements"))
		}
	case rules.Condition:
		if err := t.Err(); err != nil {
			issues = append(issues, Issue{
				File:     path,
				Path:     at + ".condition",
				Severity: SeverityError,
				Code:     CodeInvalidCondition,
				Message:  fmt.Sprintf("rule %q: %v", rule.Name, err),
			})
			break
		}
		issues = append(issues, lintDeadExpression(path, at+".condition", rule.Name, t.Source)...)
		issues = append(issues, lintUnsafeExpression(path, at+".condition", rule.Name, t.Source, mode)...)
	}

	reads, _ := rules.References(rule)
	for _, ref := range reads {
		if _, ok := known[ref]; ok {
			continue
		}
		issues = append(issues, Issue{
			File:     path,
			Path:     at + ".elements",
			Severity: SeverityWarning,
			Code:     CodeUnknownReference,
			Message:  fmt.Sprintf("rule %q reads undeclared element %q", rule.Name, ref),
		})
	}
	return issues
}

func lintAction(path, at string, rule rules.Rule, doc *config.Document, known map[string]struct{}) []Issue {
	switch a := rule.Action.(type) {
	case rules.UnknownAction:
		return []Issue{{
			File:     path,
			Path:     at,
			Severity: SeverityError,
			Code:     CodeUnknownAction,
			Message:  fmt.Sprintf("rule %q has unknown action %q and fails every time it fires", rule.Name, a.Kind),
		}}
	case rules.UnlockElement:
		if _, ok := known[a.Element]; !ok {
			return []Issue{{
				File:     path,
				Path:     at + ".element",
				Severity: SeverityError,
				Code:     CodeUnknownReference,
				Message:  fmt.Sprintf("rule %q unlocks undeclared element %q", rule.Name, a.Element),
			}}
		}
	case rules.ShowTutorial:
		id, ok := a.Data["template"].(string)
		if !ok {
			return nil
		}
		if _, found := doc.Template(id); !found {
			return []Issue{{
				File:     path,
				Path:     at + ".data.template",
				Severity: SeverityError,
				Code:     CodeUnknownTemplate,
				Message:  fmt.Sprintf("rule %q requests undeclared template %q", rule.Name, id),
			}}
		}
	}
	return nil
}

func lintRepeatFiring(path, at string, rule rules.Rule) []Issue {
	if rule.Idempotent() {
		return nil
	}
	if _, ok := rule.Trigger.(rules.CustomEvent); ok {
		return nil
	}
	if _, ok := rule.Action.(rules.UnknownAction); ok {
		return nil
	}
	return []Issue{{
		File:     path,
		Path:     at,
		Severity: SeverityWarning,
		Code:     CodeRepeatFiring,
		Message:  fmt.Sprintf("rule %q repeats its %s action on every tick while its trigger holds", rule.Name, rule.Action.Type()),
	}}
}

func lintExperiment(path string, doc *config.Document) []Issue {
	exp, _ := doc.Experiment()
	var issues []Issue
	if len(exp.TrafficAllocation) != len(exp.Variants) {
		issues = append(issues, Issue{
			File:     path,
			Path:     "abTest.trafficAllocation",
			Severity: SeverityWarning,
			Code:     CodeAllocationMismatch,
			Message:  fmt.Sprintf("%d variants but %d allocation shares", len(exp.Variants), len(exp.TrafficAllocation)),
		})
	}
	if !variant.ValidAllocation(exp.TrafficAllocation) {
		issues = append(issues, Issue{
			File:     path,
			Path:     "abTest.trafficAllocation",
			Severity: SeverityError,
			Code:     CodeAllocationOverflow,
			Message:  "allocation has negative shares or sums above 100, no subject will be assigned",
		})
	}
	return issues
}

func deadRule(path, at, name, reason string) Issue {
	return Issue{
		File:     path,
		Path:     at,
		Severity: SeverityWarning,
		Code:     CodeDeadRule,
		Message:  fmt.Sprintf("rule %q can never fire because %s", name, reason),
	}
}

func lintDeadExpression(path, at, name, expression string) []Issue {
	exprText := strings.TrimSpace(expression)
	if exprText == "" {
		return nil
	}

	value, ok := constantBool(exprText)
	if !ok || value {
		return nil
	}

	return []Issue{deadRule(path, at, name, "the condition is always false")}
}

func lintUnsafeExpression(path, at, name, expression string, mode UnsafeMode) []Issue {
	if mode == UnsafeIgnore {
		return nil
	}

	usage := findUnsafeOps(strings.TrimSpace(expression))
	if len(usage) == 0 {
		return nil
	}

	severity := SeverityWarning
	if mode == UnsafeError {
		severity = SeverityError
	}

	return []Issue{{
		File:     path,
		Path:     at,
		Severity: severity,
		Code:     CodeUnsafeExpression,
		Message:  fmt.Sprintf("rule %q uses unsafe expression operations: %s", name, strings.Join(usage, ", ")),
	}}
}

func normalizeUnsafeMode(mode UnsafeMode) UnsafeMode {
	switch strings.ToLower(strings.TrimSpace(string(mode))) {
	case string(UnsafeError):
		return UnsafeError
	case string(UnsafeIgnore):
		return UnsafeIgnore
	default:
		return UnsafeWarn
	}
}

// findUnsafeOps reports regex matching, which runs on every tick against user-controlled
// element ids.
func findUnsafeOps(expression string) []string {
	tree, err := parser.Parse(expression)
	if err != nil {
		return nil
	}

	finder := &unsafeVisitor{seen: make(map[string]struct{})}
	node := tree.Node
	exprast.Walk(&node, finder)

	results := make([]string, 0, len(finder.seen))
	for op := range finder.seen {
		results = append(results, op)
	}
	sort.Strings(results)
	return results
}

type unsafeVisitor struct {
	seen map[string]struct{}
}

func (v *unsafeVisitor) Visit(node *exprast.Node) {
	if n, ok := (*node).(*exprast.BinaryNode); ok && strings.EqualFold(n.Operator, "matches") {
		v.seen["matches"] = struct{}{}
	}
}

func constantBool(expression string) (bool, bool) {
	tree, err := parser.Parse(expression)
	if err != nil {
		return false, false
	}

	visitor := &variableVisitor{}
	node := tree.Node
	exprast.Walk(&node, visitor)
	if visitor.hasVariables {
		return false, false
	}

	result, err := expr.Eval(expression, map[string]interface{}{})
	if err != nil {
		return false, false
	}
	value, ok := result.(bool)
	return value, ok
}

type variableVisitor struct {
	hasVariables bool
}

func (v *variableVisitor) Visit(node *exprast.Node) {
	switch (*node).(type) {
	case *exprast.IdentifierNode, *exprast.MemberNode, *exprast.PointerNode, *exprast.VariableDeclaratorNode:
		v.hasVariables = true
	}
}
