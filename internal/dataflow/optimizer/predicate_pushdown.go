package optimizer

import (
	"log/slog"

	"semantic-compiler/internal/dataflow"
)

// PredicatePushdownOptimizer moves where filters below entity joins when the
// left side of the join already has every column the filter reads, so rows are
// filtered before they are joined.
type PredicatePushdownOptimizer struct {
	logger *slog.Logger
}

func (*PredicatePushdownOptimizer) Name() string { return PredicatePushdown.String() }

func (o *PredicatePushdownOptimizer) Optimize(p *dataflow.Plan) (*dataflow.Plan, error) {
	out := dataflow.Transform(p, func(n dataflow.Node, _ []dataflow.Node) dataflow.Node {
		where, ok := n.(*dataflow.WhereConstraintNode)
		if !ok {
			return n
		}
		join, ok := where.Parent().(*dataflow.JoinOnEntitiesNode)
		if !ok || !dataflow.ContainsSpecs(join.Left(), where.Where.Specs()...) {
			return n
		}
		filtered := dataflow.NewWhereConstraintNode(join.Left(), where.Where)
		return dataflow.NewJoinOnEntitiesNode(filtered, join.Targets...)
	})
	logPass(o.logger, o.Name(), p, out)
	return out, nil
}
