package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/effectus/progressive-go/config"
	"github.com/effectus/progressive-go/dependency"
	"github.com/effectus/progressive-go/rules"
)

const (
	elementPrefix = "element:"
	rulePrefix    = "rule:"

	EdgeTrigger = "trigger"
	EdgeAction  = "action"
)

// Edge represents a dependency edge in the graph. Element edges carry the dependency kind.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// DependencyGraph captures how elements gate each other and how rules read and unlock them.
type DependencyGraph struct {
	Elements []string `json:"elements"`
	Rules    []string `json:"rules"`
	Edges    []Edge   `json:"edges"`
	Missing  []string `json:"missing,omitempty"`
}

// BuildDependencyGraph builds the graph for a configuration document.
func BuildDependencyGraph(doc *config.Document) DependencyGraph {
	graph := DependencyGraph{}
	if doc == nil {
		return graph
	}

	known := doc.ElementIDs()
	missing := make(map[string]struct{})
	note := func(id string) {
		if _, ok := known[id]; !ok {
			missing[id] = struct{}{}
		}
	}

	for _, reg := range doc.Registrations() {
		graph.Elements = append(graph.Elements, reg.ID)
		if reg.Dependency == nil {
			continue
		}
		for _, ref := range dependency.References(reg.Dependency) {
			note(ref)
			graph.Edges = append(graph.Edges, Edge{
				From: elementPrefix + reg.ID,
				To:   elementPrefix + ref,
				Kind: string(reg.Dependency.Kind()),
			})
		}
	}

	for _, rule := range doc.DecodeRules() {
		graph.Rules = append(graph.Rules, rule.Name)
		reads, writes := rules.References(rule)
		for _, ref := range reads {
			note(ref)
			graph.Edges = append(graph.Edges, Edge{
				From: rulePrefix + rule.Name,
				To:   elementPrefix + ref,
				Kind: EdgeTrigger,
			})
		}
		for _, ref := range writes {
			note(ref)
			graph.Edges = append(graph.Edges, Edge{
				From: rulePrefix + rule.Name,
				To:   elementPrefix + ref,
				Kind: EdgeAction,
			})
		}
	}

	sort.Strings(graph.Elements)
	sort.Strings(graph.Rules)
	graph.Missing = sortedKeys(missing)
	return graph
}

// Cycles returns the element cycles formed by logical_and/logical_or edges, the only edges
// the evaluator recurses through. Each cycle starts at its smallest id and is reported once.
func (g DependencyGraph) Cycles() [][]string {
	adjacency := make(map[string][]string)
	for _, edge := range g.Edges {
		if edge.Kind != string(dependency.KindLogicalAnd) && edge.Kind != string(dependency.KindLogicalOr) {
			continue
		}
		from := strings.TrimPrefix(edge.From, elementPrefix)
		to := strings.TrimPrefix(edge.To, elementPrefix)
		adjacency[from] = append(adjacency[from], to)
	}
	for from := range adjacency {
		sort.Strings(adjacency[from])
	}

	var cycles [][]string
	seen := make(map[string]struct{})
	onPath := make(map[string]int)
	var path []string

	var visit func(node string)
	visit = func(node string) {
		if index, ok := onPath[node]; ok {
			cycle := canonicalCycle(path[index:])
			key := strings.Join(cycle, "->")
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				cycles = append(cycles, cycle)
			}
			return
		}
		onPath[node] = len(path)
		path = append(path, node)
		for _, next := range adjacency[node] {
			visit(next)
		}
		path = path[:len(path)-1]
		delete(onPath, node)
	}

	roots := make([]string, 0, len(adjacency))
	for node := range adjacency {
		roots = append(roots, node)
	}
	sort.Strings(roots)
	for _, root := range roots {
		visit(root)
	}

	sort.Slice(cycles, func(i, j int) bool {
		return strings.Join(cycles[i], ",") < strings.Join(cycles[j], ",")
	})
	return cycles
}

// DOT renders the graph in Graphviz format.
func (g DependencyGraph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph progression {\n")
	for _, id := range g.Elements {
		fmt.Fprintf(&b, "  %q [shape=box];\n", elementPrefix+id)
	}
	for _, name := range g.Rules {
		fmt.Fprintf(&b, "  %q [shape=ellipse];\n", rulePrefix+name)
	}
	for _, edge := range g.Edges {
		fmt.Fprintf(&b, "  %q -> %q [label=%q];\n", edge.From, edge.To, edge.Kind)
	}
	b.WriteString("}\n")
	return b.String()
}

func canonicalCycle(cycle []string) []string {
	start := 0
	for i, node := range cycle {
		if node < cycle[start] {
			start = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[start:]...)
	out = append(out, cycle[:start]...)
	return out
}

func sortedKeys(values map[string]struct{}) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
