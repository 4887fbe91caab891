package dataflow

import (
	"slices"

	"github.com/google/uuid"
)

// Plan is a dataflow DAG with a single sink.
type Plan struct {
	ID   string
	sink Node
}

// NewPlan builds a plan rooted at sink. An empty id is replaced with a generated one.
func NewPlan(id string, sink Node) *Plan {
	if id == "" {
		id = "dfp_" + uuid.NewString()
	}
	return &Plan{ID: id, sink: sink}
}

// AsPlan returns a plan rooted at n, for analyzing a sub-DAG.
func AsPlan(n Node) *Plan {
	return NewPlan("", n)
}

// Sink returns the terminal node.
func (p *Plan) Sink() Node { return p.sink }

// Nodes returns every node reachable from the sink, each once, parents before
// the nodes that read them.
func (p *Plan) Nodes() []Node {
	type frame struct {
		node    Node
		parents []Node
		next    int
	}
	visited := map[NodeID]bool{p.sink.ID(): true}
	stack := []*frame{{node: p.sink, parents: p.sink.Parents()}}
	var order []Node
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next == len(top.parents) {
			order = append(order, top.node)
			stack = stack[:len(stack)-1]
			continue
		}
		parent := top.parents[top.next]
		top.next++
		if visited[parent.ID()] {
			continue
		}
		visited[parent.ID()] = true
		stack = append(stack, &frame{node: parent, parents: parent.Parents()})
	}
	return order
}

// Transform rebuilds p bottom-up. fn receives each node with its already
// transformed parents and returns the replacement; returning n keeps it. Nodes
// whose parents changed but that fn leaves alone are rebuilt with WithParents, so
// shared nodes stay shared in the result.
func Transform(p *Plan, fn func(n Node, parents []Node) Node) *Plan {
	replaced := make(map[NodeID]Node)
	for _, n := range p.Nodes() {
		original := n.Parents()
		parents := make([]Node, len(original))
		changed := false
		for i, parent := range original {
			parents[i] = replaced[parent.ID()]
			if parents[i] != parent {
				changed = true
			}
		}
		current := n
		if changed {
			current = WithParents(n, parents...)
		}
		replaced[n.ID()] = fn(current, parents)
	}
	sink := replaced[p.sink.ID()]
	if sink == p.sink {
		return p
	}
	return NewPlan(p.ID, sink)
}

// SortNodes orders nodes by id.
func SortNodes(nodes []Node) {
	slices.SortFunc(nodes, func(a, b Node) int { return a.ID().Compare(b.ID()) })
}
