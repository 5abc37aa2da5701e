package pdp

import (
	"fmt"
	"sort"
	"strings"
)

// ============================================================================
// ROLE HIERARCHY
// ============================================================================
//
// A hierarchy specification is a list of lines "SENIOR > JUNIOR". Validation
// rejects, in order: malformed lines, unknown roles, duplicate edges, reverse
// edges, transitively redundant edges, and cycles. Administrators must express
// hierarchy via the minimal edge set.

type hierarchyEdge struct {
	Senior string
	Junior string
	Line   int // 1-based source line
}

// parseHierarchySpec splits a spec into edges. Blank lines are skipped.
func parseHierarchySpec(spec string) ([]hierarchyEdge, error) {
	var edges []hierarchyEdge
	for i, raw := range strings.Split(spec, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ">")
		if len(parts) != 2 {
			return nil, &ValidationError{Field: "hierarchy", Line: i + 1, Reason: fmt.Sprintf("malformed line %q: expected SENIOR > JUNIOR", line)}
		}
		senior := strings.TrimSpace(parts[0])
		junior := strings.TrimSpace(parts[1])
		if senior == "" || junior == "" {
			return nil, &ValidationError{Field: "hierarchy", Line: i + 1, Reason: fmt.Sprintf("malformed line %q: empty role name", line)}
		}
		if senior == junior {
			return nil, &ValidationError{Field: "hierarchy", Line: i + 1, Reason: fmt.Sprintf("role %s cannot imply itself", senior)}
		}
		edges = append(edges, hierarchyEdge{Senior: senior, Junior: junior, Line: i + 1})
	}
	return edges, nil
}

// ValidateHierarchy checks a hierarchy specification for logical soundness
// against the set of existing role names. The first violation wins.
func ValidateHierarchy(spec string, existingRoles []string) error {
	edges, err := parseHierarchySpec(spec)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(existingRoles))
	for _, r := range existingRoles {
		known[r] = true
	}
	for _, e := range edges {
		if !known[e.Senior] {
			return &ValidationError{Field: "hierarchy", Line: e.Line, Reason: "unknown role " + e.Senior}
		}
		if !known[e.Junior] {
			return &ValidationError{Field: "hierarchy", Line: e.Line, Reason: "unknown role " + e.Junior}
		}
	}

	seen := make(map[[2]string]bool, len(edges))
	for _, e := range edges {
		pair := [2]string{e.Senior, e.Junior}
		if seen[pair] {
			return &ValidationError{Field: "hierarchy", Line: e.Line, Reason: fmt.Sprintf("duplicate relation %s > %s", e.Senior, e.Junior)}
		}
		if seen[[2]string{e.Junior, e.Senior}] {
			return &ValidationError{Field: "hierarchy", Line: e.Line, Reason: fmt.Sprintf("reverse relation: both %s > %s and %s > %s", e.Junior, e.Senior, e.Senior, e.Junior)}
		}
		seen[pair] = true
	}

	graph := buildGraph(edges)

	// an edge is redundant when its junior stays reachable without it
	for _, e := range edges {
		if reachableWithout(graph, e.Senior, e.Junior, e) {
			return &ValidationError{Field: "hierarchy", Line: e.Line, Reason: fmt.Sprintf("redundant relation %s > %s: already implied transitively", e.Senior, e.Junior)}
		}
	}

	if role, ok := findCycle(graph); ok {
		return &ValidationError{Field: "hierarchy", Reason: "cycle detected involving role " + role}
	}
	return nil
}

func buildGraph(edges []hierarchyEdge) map[string][]string {
	g := make(map[string][]string)
	for _, e := range edges {
		g[e.Senior] = append(g[e.Senior], e.Junior)
		if _, ok := g[e.Junior]; !ok {
			g[e.Junior] = nil
		}
	}
	return g
}

// reachableWithout runs a breadth-first search from 'from' to 'to', skipping
// the single excluded edge.
func reachableWithout(graph map[string][]string, from, to string, excluded hierarchyEdge) bool {
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range graph[cur] {
			if cur == excluded.Senior && next == excluded.Junior {
				continue
			}
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// findCycle runs a depth-first search from every node with a recursion-stack
// set; a back-edge into the active stack is a cycle.
func findCycle(graph map[string][]string) (string, bool) {
	visited := make(map[string]bool, len(graph))
	onStack := make(map[string]bool, len(graph))

	roles := make([]string, 0, len(graph))
	for r := range graph {
		roles = append(roles, r)
	}
	sort.Strings(roles) // deterministic reporting

	var dfs func(string) (string, bool)
	dfs = func(role string) (string, bool) {
		visited[role] = true
		onStack[role] = true
		for _, next := range graph[role] {
			if onStack[next] {
				return next, true
			}
			if !visited[next] {
				if r, found := dfs(next); found {
					return r, true
				}
			}
		}
		onStack[role] = false
		return "", false
	}

	for _, r := range roles {
		if !visited[r] {
			if role, found := dfs(r); found {
				return role, true
			}
		}
	}
	return "", false
}

// FlattenHierarchy computes the senior -> transitive closure of juniors
// relation for a (presumed valid) specification.
func FlattenHierarchy(spec string) (map[string][]string, error) {
	edges, err := parseHierarchySpec(spec)
	if err != nil {
		return nil, err
	}
	graph := buildGraph(edges)
	flat := make(map[string][]string, len(graph))
	for senior := range graph {
		visited := make(map[string]bool)
		queue := append([]string(nil), graph[senior]...)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if visited[cur] || cur == senior {
				continue
			}
			visited[cur] = true
			queue = append(queue, graph[cur]...)
		}
		if len(visited) == 0 {
			continue
		}
		juniors := make([]string, 0, len(visited))
		for j := range visited {
			juniors = append(juniors, j)
		}
		sort.Strings(juniors)
		flat[senior] = juniors
	}
	return flat, nil
}

// ============================================================================
// HIERARCHY SNAPSHOT
// ============================================================================

// HierarchySnapshot is the immutable, installed form of an active hierarchy.
// It is rebuilt wholesale on every activation and swapped atomically; it is
// never mutated field by field.
type HierarchySnapshot struct {
	implied map[string][]string
}

// NewHierarchySnapshot flattens a specification into an installable snapshot.
// An empty spec yields a snapshot that implies nothing.
func NewHierarchySnapshot(spec string) (*HierarchySnapshot, error) {
	flat, err := FlattenHierarchy(spec)
	if err != nil {
		return nil, err
	}
	return &HierarchySnapshot{implied: flat}, nil
}

// Expand returns the authorities plus everything they imply through the
// hierarchy, deduplicated, directly granted entries first.
func (h *HierarchySnapshot) Expand(authorities []string) []string {
	if h == nil || len(h.implied) == 0 {
		return authorities
	}
	out := make([]string, 0, len(authorities))
	seen := make(map[string]bool, len(authorities))
	for _, a := range authorities {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, a := range authorities {
		for _, j := range h.implied[a] {
			if !seen[j] {
				seen[j] = true
				out = append(out, j)
			}
		}
	}
	return out
}

// Implies reports whether senior transitively implies junior
func (h *HierarchySnapshot) Implies(senior, junior string) bool {
	if h == nil {
		return false
	}
	for _, j := range h.implied[senior] {
		if j == junior {
			return true
		}
	}
	return false
}
