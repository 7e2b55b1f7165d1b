package lint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/effectus/progressive-go/config"
)

func TestLintDetectsDeadRule(t *testing.T) {
	content := `
name: dead
areas:
  editor:
    elements:
      - id: save
        category: basic
rules:
  - name: never
    trigger: { type: expression, condition: "1 > 2" }
    action: { type: unlock_element, element: save }
`

	issues := LintConfig(parseDocument(t, content), "test.yaml")
	assert.True(t, hasIssue(issues, CodeDeadRule))
}

func TestLintDetectsInvalidCondition(t *testing.T) {
	content := `
name: broken
areas:
  editor:
    elements:
      - id: save
        category: basic
rules:
  - name: bad
    trigger: { type: expression, condition: "total >" }
    action: { type: unlock_element, element: save }
`

	issues := LintConfig(parseDocument(t, content), "test.yaml")
	assert.True(t, hasIssue(issues, CodeInvalidCondition))
	assert.True(t, HasErrors(issues))
}

func TestLintDetectsUnsafeExpression(t *testing.T) {
	content := `
name: unsafe
areas:
  editor:
    elements:
      - id: save
        category: basic
rules:
  - name: regex
    trigger: { type: expression, condition: "'save' matches '^sa' && total > 1" }
    action: { type: unlock_element, element: save }
`

	doc := parseDocument(t, content)
	assert.True(t, hasIssue(LintConfig(doc, "test.yaml"), CodeUnsafeExpression))

	quiet := LintConfigWithOptions(doc, "test.yaml", LintOptions{UnsafeMode: UnsafeIgnore})
	assert.False(t, hasIssue(quiet, CodeUnsafeExpression))

	strict := LintConfigWithOptions(doc, "test.yaml", LintOptions{UnsafeMode: UnsafeError})
	assert.True(t, HasErrors(strict))
}

func TestLintDetectsCyclicDependency(t *testing.T) {
	content := `
name: cycle
areas:
  editor:
    elements:
      - id: a
        category: advanced
        dependencies: { type: logical_and, elements: [b] }
      - id: b
        category: advanced
        dependencies: { type: logical_or, elements: [a] }
`

	issues := LintConfig(parseDocument(t, content), "test.yaml")
	require.True(t, hasIssue(issues, CodeCyclicDependency))
	for _, issue := range issues {
		if issue.Code == CodeCyclicDependency {
			assert.Contains(t, issue.Message, "a -> b -> a")
		}
	}
}

func TestLintDetectsReferenceProblems(t *testing.T) {
	content := `
name: refs
areas:
  editor:
    elements:
      - id: save
        category: basic
      - id: export
        category: advanced
        dependencies: { type: usage_count, target: missing, threshold: 2 }
      - id: macros
        category: expert
        dependencies: { type: telepathy }
      - id: history
        category: advanced
        dependencies: { type: time_based, target: save, window: "soon", minUsage: 2 }
rules:
  - name: ghost
    trigger: { type: element_interaction, elements: [phantom] }
    action: { type: unlock_element, element: nowhere }
`

	issues := LintConfig(parseDocument(t, content), "test.yaml")
	assert.True(t, hasIssue(issues, CodeUnknownReference))
	assert.True(t, hasIssue(issues, CodeUnknownDependency))
	assert.True(t, hasIssue(issues, CodeInvalidWindow))
	assert.Equal(t, 3, countIssues(issues, CodeUnknownReference))
}

func TestLintDetectsUnknownTriggerAndAction(t *testing.T) {
	content := `
name: unknown
areas:
  editor:
    elements:
      - id: save
        category: basic
rules:
  - name: odd-trigger
    trigger: { type: moon_phase }
    action: { type: unlock_element, element: save }
  - name: odd-action
    trigger: { type: time_based, threshold: 1 }
    action: { type: teleport }
  - name: odd-frequency
    trigger: { type: usage_pattern, elements: [save], frequency: hourly, duration: 3d }
    action: { type: unlock_element, element: save }
`

	issues := LintConfig(parseDocument(t, content), "test.yaml")
	assert.True(t, hasIssue(issues, CodeUnknownTrigger))
	assert.True(t, hasIssue(issues, CodeUnknownAction))
	assert.True(t, hasIssue(issues, CodeInvalidFrequency))
	assert.False(t, hasIssue(issues, CodeRepeatFiring))
}

func TestLintDetectsRepeatFiring(t *testing.T) {
	content := `
name: chatty
areas:
  editor:
    elements:
      - id: save
        category: basic
templates:
  - id: intro
    title: Welcome
rules:
  - name: nag
    trigger: { type: time_based, threshold: 5 }
    action: { type: show_tutorial, data: { template: intro } }
  - name: once
    trigger: { type: custom_event, event: signup }
    action: { type: send_event, data: { name: welcome } }
  - name: missing-template
    trigger: { type: custom_event, event: help }
    action: { type: show_tutorial, data: { template: outro } }
`

	issues := LintConfig(parseDocument(t, content), "test.yaml")
	assert.Equal(t, 1, countIssues(issues, CodeRepeatFiring))
	assert.True(t, hasIssue(issues, CodeUnknownTemplate))
}

func TestLintDetectsAllocationProblems(t *testing.T) {
	content := `
name: experiment
areas:
  editor:
    elements:
      - id: save
        category: basic
abTest:
  testId: onboarding
  variants:
    - id: control
    - id: guided
  trafficAllocation: [80, 30, 10]
`

	issues := LintConfig(parseDocument(t, content), "test.yaml")
	assert.True(t, hasIssue(issues, CodeAllocationOverflow))
	assert.True(t, hasIssue(issues, CodeAllocationMismatch))
}

func TestLintCleanConfig(t *testing.T) {
	content := `
name: clean
areas:
  editor:
    elements:
      - id: save
        category: basic
      - id: export
        category: advanced
        dependencies: { type: usage_count, target: save, threshold: 3 }
rules:
  - name: reward
    trigger: { type: usage_pattern, elements: [save], frequency: daily, duration: 3d }
    action: { type: unlock_category, category: advanced, area: editor }
`

	issues := LintConfig(parseDocument(t, content), "test.yaml")
	assert.Empty(t, issues)
}

func TestParseUnsafeMode(t *testing.T) {
	mode, err := ParseUnsafeMode("OFF")
	require.NoError(t, err)
	assert.Equal(t, UnsafeIgnore, mode)

	mode, err = ParseUnsafeMode("bogus")
	assert.Error(t, err)
	assert.Equal(t, UnsafeWarn, mode)
}

func TestIssueString(t *testing.T) {
	issue := Issue{File: "a.yaml", Path: "rules[0]", Severity: SeverityWarning, Code: CodeDeadRule, Message: "never"}
	assert.Equal(t, "a.yaml:rules[0]: warning [dead-rule] never", issue.String())
}

func parseDocument(t *testing.T, content string) *config.Document {
	t.Helper()
	doc, err := config.Parse([]byte(content), config.FormatYAML)
	require.NoError(t, err)
	return doc
}

func hasIssue(issues []Issue, code string) bool {
	return countIssues(issues, code) > 0
}

func countIssues(issues []Issue, code string) int {
	count := 0
	for _, issue := range issues {
		if issue.Code == code {
			count++
		}
	}
	return count
}
