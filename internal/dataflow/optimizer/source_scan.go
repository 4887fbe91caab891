package optimizer

import (
	"log/slog"
	"strings"

	"semantic-compiler/internal/dataflow"
	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/spec"
)

// SourceScanOptimizer merges the inputs of a combine node that read the same
// semantic model the same way and differ only in the measures they aggregate
// and the metrics they compute, so one scan serves all of them. Branches read
// by more than one node are left alone to keep them shared.
type SourceScanOptimizer struct {
	logger *slog.Logger
}

func (*SourceScanOptimizer) Name() string { return SourceScan.String() }

func (o *SourceScanOptimizer) Optimize(p *dataflow.Plan) (*dataflow.Plan, error) {
	consumers := make(map[dataflow.NodeID]int)
	for _, n := range p.Nodes() {
		for _, parent := range n.Parents() {
			consumers[parent.ID()]++
		}
	}

	out := dataflow.Transform(p, func(n dataflow.Node, parents []dataflow.Node) dataflow.Node {
		if _, ok := n.(*dataflow.CombineAggregatedOutputsNode); !ok || len(parents) < 2 {
			return n
		}
		var (
			merged    []dataflow.Node
			groups    = map[string][]int{}
			chains    = make([][]dataflow.Node, len(parents))
			signature = make([]string, len(parents))
		)
		for i, parent := range parents {
			chain, ok := mergeableChain(parent, consumers)
			if !ok {
				continue
			}
			chains[i] = chain
			signature[i] = chainSignature(chain)
			groups[signature[i]] = append(groups[signature[i]], i)
		}

		changed := false
		for i, parent := range parents {
			if chains[i] == nil {
				merged = append(merged, parent)
				continue
			}
			group := groups[signature[i]]
			if len(group) == 1 {
				merged = append(merged, parent)
				continue
			}
			if group[0] != i {
				continue
			}
			members := make([][]dataflow.Node, len(group))
			for k, idx := range group {
				members[k] = chains[idx]
			}
			merged = append(merged, mergeChains(members))
			changed = true
		}
		if !changed {
			return n
		}
		return dataflow.NewCombineAggregatedOutputsNode(merged...)
	})
	logPass(o.logger, o.Name(), p, out)
	return out, nil
}

// mergeableChain returns the nodes from a simple metric computation down to
// its source scan, top first, when every node has a single consumer and the
// chain has no time spine joins.
func mergeableChain(n dataflow.Node, consumers map[dataflow.NodeID]int) ([]dataflow.Node, bool) {
	cm, ok := n.(*dataflow.ComputeMetricsNode)
	if !ok {
		return nil, false
	}
	if _, ok := cm.Parent().(*dataflow.AggregateMeasuresNode); !ok {
		return nil, false
	}
	for _, mc := range cm.Metrics {
		if t := mc.Metric.Type; t != domain.MetricTypeSimple && t != domain.MetricTypeCumulative {
			return nil, false
		}
	}
	var chain []dataflow.Node
	for cur := n; ; {
		if consumers[cur.ID()] != 1 {
			return nil, false
		}
		chain = append(chain, cur)
		switch c := cur.(type) {
		case *dataflow.ReadSQLSourceNode:
			return chain, true
		case *dataflow.JoinOnEntitiesNode:
			cur = c.Left()
		case *dataflow.ComputeMetricsNode:
			if c != cm {
				return nil, false
			}
			cur = c.Parent()
		case *dataflow.AggregateMeasuresNode, *dataflow.FilterElementsNode, *dataflow.ConstrainTimeRangeNode,
			*dataflow.WhereConstraintNode, *dataflow.MetricTimeDimensionTransformNode:
			cur = cur.Parents()[0]
		default:
			return nil, false
		}
	}
}

func chainSignature(chain []dataflow.Node) string {
	parts := make([]string, len(chain))
	for i, n := range chain {
		parts[i] = nodeSignature(n)
	}
	return strings.Join(parts, " <- ")
}

// nodeSignature describes what a node does apart from measures and metrics.
func nodeSignature(n dataflow.Node) string {
	switch n := n.(type) {
	case *dataflow.ReadSQLSourceNode:
		return "read(" + n.Model.Name + ")"
	case *dataflow.MetricTimeDimensionTransformNode:
		return "metric_time(" + n.AggTimeDimension + ")"
	case *dataflow.JoinOnEntitiesNode:
		targets := make([]string, len(n.Targets))
		for i, t := range n.Targets {
			targets[i] = t.Entity + "=" + subtreeSignature(t.Node)
		}
		return "join(" + strings.Join(targets, ", ") + ")"
	case *dataflow.WhereConstraintNode:
		return "where(" + n.Where.Template + ")"
	case *dataflow.ConstrainTimeRangeNode:
		return "time_range(" + n.TimeRange.String() + ", " + n.MetricTime.Key() + ")"
	case *dataflow.FilterElementsNode:
		keys := make([]string, 0, len(n.Include))
		for _, s := range n.Include {
			if s.Kind() != spec.KindMeasure {
				keys = append(keys, s.Key())
			}
		}
		if n.Distinct {
			keys = append(keys, "distinct")
		}
		return "filter(" + strings.Join(keys, ", ") + ")"
	case *dataflow.AggregateMeasuresNode:
		return "aggregate"
	case *dataflow.ComputeMetricsNode:
		return "compute"
	default:
		return n.Description()
	}
}

func subtreeSignature(n dataflow.Node) string {
	parts := []string{nodeSignature(n)}
	for _, p := range n.Parents() {
		parts = append(parts, subtreeSignature(p))
	}
	return strings.Join(parts, " <- ")
}

// mergeChains rebuilds one chain bottom-up that carries the measures and
// metrics of every member. Members have equal signatures, so they line up
// node by node.
func mergeChains(members [][]dataflow.Node) dataflow.Node {
	first := members[0]
	var cur dataflow.Node
	for i := len(first) - 1; i >= 0; i-- {
		switch n := first[i].(type) {
		case *dataflow.ReadSQLSourceNode:
			cur = dataflow.NewReadSQLSourceNode(n.Model)
		case *dataflow.MetricTimeDimensionTransformNode:
			cur = dataflow.NewMetricTimeDimensionTransformNode(cur, n.AggTimeDimension)
		case *dataflow.JoinOnEntitiesNode:
			cur = dataflow.NewJoinOnEntitiesNode(cur, n.Targets...)
		case *dataflow.WhereConstraintNode:
			cur = dataflow.NewWhereConstraintNode(cur, n.Where)
		case *dataflow.ConstrainTimeRangeNode:
			cur = dataflow.NewConstrainTimeRangeNode(cur, n.TimeRange, n.MetricTime)
		case *dataflow.FilterElementsNode:
			var include []spec.Spec
			for _, s := range n.Include {
				if s.Kind() != spec.KindMeasure {
					include = append(include, s)
				}
			}
			seen := map[string]bool{}
			for _, m := range members {
				for _, s := range m[i].(*dataflow.FilterElementsNode).Include {
					if s.Kind() == spec.KindMeasure && !seen[s.Key()] {
						seen[s.Key()] = true
						include = append(include, s)
					}
				}
			}
			cur = dataflow.NewFilterElementsNode(cur, include, n.Distinct)
		case *dataflow.AggregateMeasuresNode:
			var measures []domain.Measure
			seen := map[string]bool{}
			for _, m := range members {
				for _, measure := range m[i].(*dataflow.AggregateMeasuresNode).Measures {
					if !seen[measure.Name] {
						seen[measure.Name] = true
						measures = append(measures, measure)
					}
				}
			}
			cur = dataflow.NewAggregateMeasuresNode(cur, measures)
		case *dataflow.ComputeMetricsNode:
			var metrics []dataflow.MetricComputation
			for _, m := range members {
				metrics = append(metrics, m[i].(*dataflow.ComputeMetricsNode).Metrics...)
			}
			cur = dataflow.NewComputeMetricsNode(cur, metrics...)
		}
	}
	return cur
}
