package graph

import (
	"sort"
	"strings"

	"github.com/go-go-golems/stackctl/pkg/topology"
)

// Graph is the dependency graph derived from a validated topology. It is a
// pure value: building it has no side effects and a built graph is never
// mutated.
type Graph struct {
	// deps maps a service to the services it depends on.
	deps map[string][]string
	// dependents maps a service to the services that depend on it.
	dependents map[string][]string
	order      []string
}

// CycleError reports a dependency cycle. Cycle holds the minimal cycle as a
// sequence of service names, starting and ending at the same service.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

// Build derives the dependency graph from a topology and verifies it is
// acyclic. A *CycleError is returned before any orchestration can start.
func Build(topo *topology.Topology) (*Graph, error) {
	g := &Graph{
		deps:       map[string][]string{},
		dependents: map[string][]string{},
	}
	names := topo.Names()
	sort.Strings(names)
	for _, name := range names {
		svc := topo.Services[name]
		deps := append([]string{}, svc.DependsOn...)
		sort.Strings(deps)
		g.deps[name] = deps
		for _, dep := range deps {
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}
	for _, name := range names {
		sort.Strings(g.dependents[name])
	}

	if cycle := findCycle(names, g.deps); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}

	g.order = topoOrder(names, g.deps)
	return g, nil
}

// Order returns the start order: every service appears after all of its
// dependencies, ties broken by ascending name so the order is reproducible.
func (g *Graph) Order() []string {
	return append([]string{}, g.order...)
}

// DependenciesOf returns the direct dependencies of name in ascending order.
func (g *Graph) DependenciesOf(name string) []string {
	return append([]string{}, g.deps[name]...)
}

// DependentsOf returns the services that directly depend on name.
func (g *Graph) DependentsOf(name string) []string {
	return append([]string{}, g.dependents[name]...)
}

// findCycle runs a depth-first search over deps and returns the first cycle
// found as a closed path, or nil. Iteration order is deterministic because
// names and adjacency lists are sorted.
func findCycle(names []string, deps map[string][]string) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(names))
	var path []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = gray
		path = append(path, name)
		for _, dep := range deps[name] {
			switch color[dep] {
			case gray:
				// Trim the path down to the cycle itself.
				start := 0
				for i, n := range path {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append([]string{}, path[start:]...)
				return append(cycle, dep)
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return nil
	}

	for _, name := range names {
		if color[name] == white {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topoOrder is Kahn's algorithm with a sorted frontier. Assumes deps is
// acyclic.
func topoOrder(names []string, deps map[string][]string) []string {
	remaining := make(map[string]int, len(names))
	dependents := map[string][]string{}
	for _, name := range names {
		remaining[name] = len(deps[name])
		for _, dep := range deps[name] {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var frontier []string
	for _, name := range names {
		if remaining[name] == 0 {
			frontier = append(frontier, name)
		}
	}
	sort.Strings(frontier)

	order := make([]string, 0, len(names))
	for len(frontier) > 0 {
		name := frontier[0]
		frontier = frontier[1:]
		order = append(order, name)
		for _, dep := range dependents[name] {
			remaining[dep]--
			if remaining[dep] == 0 {
				frontier = append(frontier, dep)
			}
		}
		sort.Strings(frontier)
	}
	return order
}
