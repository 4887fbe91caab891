package dataflow

// FindCommonBranches returns the largest sub-DAGs of p that the sink reaches
// through more than one path: the nodes with several paths from the sink that
// can be reached without first passing through another such node. Results are
// ordered by node id. A plan without shared nodes yields nil.
//
// Path counts are propagated from the sink in topological order and saturate at
// two, so the analysis is linear in the size of the plan.
func FindCommonBranches(p *Plan) []Node {
	order := p.Nodes()

	paths := make(map[NodeID]int, len(order))
	paths[p.Sink().ID()] = 1
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		for _, parent := range n.Parents() {
			paths[parent.ID()] = min(paths[parent.ID()]+paths[n.ID()], 2)
		}
	}

	var common []Node
	visited := map[NodeID]bool{p.Sink().ID(): true}
	stack := []Node{p.Sink()}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if paths[n.ID()] > 1 {
			common = append(common, n)
			continue
		}
		for _, parent := range n.Parents() {
			if !visited[parent.ID()] {
				visited[parent.ID()] = true
				stack = append(stack, parent)
			}
		}
	}
	SortNodes(common)
	return common
}
