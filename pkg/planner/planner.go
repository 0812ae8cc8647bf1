// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package planner implements the Workflow Planner: it parses a text DAG
// specification, topologically sorts it, and computes a minimum-cost
// path from a start node to an end node by relaxing edges in
// topological order — the DAG-restricted special case of the shortest-
// path search the original implementation reached for with Dijkstra/A*
// (original_source/butler/algorithms.py), here closed-form in O(V+E)
// because the graph is acyclic by construction.
package planner

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/HelloEveryboby/Butler/pkg/apperr"
	"github.com/HelloEveryboby/Butler/pkg/metrics"
	"github.com/HelloEveryboby/Butler/pkg/model"
)

// Node is one module declared (or referenced as a dependency) in a
// workflow specification.
type Node struct {
	Module      string
	Cost        int
	PositionKey string
	DependsOn   []string
}

// Graph is a parsed workflow specification: nodes keyed by module name,
// plus the declaration order used to break topological-sort ties
// deterministically (spec §4.4 "Determinism").
type Graph struct {
	Nodes        map[string]*Node
	DeclareOrder []string

	// Metrics, if set, receives one RecordPlanComputation call per
	// ShortestPath call.
	Metrics *metrics.Metrics
}

// Parse reads a workflow specification from r. Each non-blank,
// non-comment ('#'-prefixed) line has the form:
//
//	<module> <cost> <position_key> [<dep1>,<dep2>,...]
//
// A module referenced only as a dependency, never declared on its own
// line, is added as a zero-cost node (spec §4.4 "Graph construction").
func Parse(r io.Reader) (*Graph, error) {
	g := &Graph{Nodes: make(map[string]*Node)}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, apperr.New(apperr.InvalidSpec, "Parse",
				fmt.Sprintf("line %d: expected at least 3 fields, got %d", lineNo, len(fields)), nil)
		}

		module, costField, positionKey := fields[0], fields[1], fields[2]
		cost, err := strconv.Atoi(costField)
		if err != nil || cost < 0 {
			return nil, apperr.New(apperr.InvalidSpec, "Parse",
				fmt.Sprintf("line %d: cost %q must be a non-negative integer", lineNo, costField), nil)
		}

		var deps []string
		if len(fields) >= 4 {
			deps = strings.Split(fields[3], ",")
		}

		g.declare(module, cost, positionKey, deps)
		for _, dep := range deps {
			g.ensureReferenced(dep)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.New(apperr.InvalidSpec, "Parse", "reading specification", err)
	}

	return g, nil
}

func (g *Graph) declare(module string, cost int, positionKey string, deps []string) {
	if _, exists := g.Nodes[module]; !exists {
		g.DeclareOrder = append(g.DeclareOrder, module)
	}
	g.Nodes[module] = &Node{Module: module, Cost: cost, PositionKey: positionKey, DependsOn: deps}
}

func (g *Graph) ensureReferenced(module string) {
	if _, exists := g.Nodes[module]; exists {
		return
	}
	g.Nodes[module] = &Node{Module: module, Cost: 0}
	g.DeclareOrder = append(g.DeclareOrder, module)
}

// children returns, for every node, the list of nodes that directly
// depend on it (the outgoing edges of the dependency graph dep→module).
func (g *Graph) children() map[string][]string {
	children := make(map[string][]string, len(g.Nodes))
	for _, name := range g.DeclareOrder {
		node := g.Nodes[name]
		for _, dep := range node.DependsOn {
			children[dep] = append(children[dep], name)
		}
	}
	return children
}

// TopoSort returns nodes in topological order (dependencies before
// dependents), breaking ties by declaration order. Reports
// apperr.CyclicGraph if the graph has a cycle.
func (g *Graph) TopoSort() ([]string, error) {
	children := g.children()
	inDegree := make(map[string]int, len(g.Nodes))
	for name := range g.Nodes {
		inDegree[name] = 0
	}
	for _, node := range g.Nodes {
		inDegree[node.Module] += len(node.DependsOn)
	}

	// Seed the ready queue in declaration order, not map iteration
	// order, so tie-breaking is deterministic (spec §4.4).
	var ready []string
	for _, name := range g.DeclareOrder {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	var order []string
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, child := range children[next] {
			inDegree[child]--
			if inDegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, apperr.New(apperr.CyclicGraph, "TopoSort", "workflow specification contains a cycle", nil)
	}
	return order, nil
}

// ShortestPath computes the minimum-cost path from start to end by
// relaxing edges in topological order: edge u→v is weighted by
// cost[v], matching spec §4.4's "Shortest-cost plan" steps 2-4. Returns
// an empty Plan if end is unreachable from start.
func (g *Graph) ShortestPath(start, end string) (plan model.Plan, err error) {
	started := time.Now()
	defer func() {
		result := "found"
		switch {
		case err != nil:
			result = "error"
		case plan.Empty():
			result = "unreachable"
		}
		g.Metrics.RecordPlanComputation(result, time.Since(started), len(plan.Nodes))
	}()

	if _, ok := g.Nodes[start]; !ok {
		return model.Plan{}, apperr.New(apperr.InvalidSpec, "ShortestPath", fmt.Sprintf("unknown start node %q", start), nil)
	}
	if _, ok := g.Nodes[end]; !ok {
		return model.Plan{}, apperr.New(apperr.InvalidSpec, "ShortestPath", fmt.Sprintf("unknown end node %q", end), nil)
	}

	order, err := g.TopoSort()
	if err != nil {
		return model.Plan{}, err
	}

	children := g.children()
	const unreachable = -1
	dist := make(map[string]int, len(g.Nodes))
	pred := make(map[string]string, len(g.Nodes))
	for name := range g.Nodes {
		dist[name] = unreachable
	}
	dist[start] = 0

	for _, u := range order {
		if dist[u] == unreachable {
			continue
		}
		for _, v := range children[u] {
			candidate := dist[u] + g.Nodes[v].Cost
			if dist[v] == unreachable || candidate < dist[v] {
				dist[v] = candidate
				pred[v] = u
			}
		}
	}

	if dist[end] == unreachable {
		return model.Plan{}, nil
	}

	var nodes []string
	for at := end; ; {
		nodes = append([]string{at}, nodes...)
		if at == start {
			break
		}
		prev, ok := pred[at]
		if !ok {
			return model.Plan{}, nil
		}
		at = prev
	}

	return model.Plan{Nodes: nodes, Cost: dist[end]}, nil
}
