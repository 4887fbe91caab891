package semantic

import (
	"context"
	"fmt"

	"semantic-compiler/internal/dataflow/optimizer"
	"semantic-compiler/internal/sqlgen"
	"semantic-compiler/internal/sqlplan"
)

// ExplainMetricQuery compiles a metric request into SQL for the configured
// engine and returns every intermediate stage. Compilation is synchronous;
// ctx is checked between stages.
func (s *Service) ExplainMetricQuery(ctx context.Context, req MetricQueryRequest) (*MetricQueryPlan, error) {
	level := s.opts.OptimizationLevel
	if req.OptimizationLevel != nil {
		level = *req.OptimizationLevel
		if !level.IsValid() {
			return nil, fmt.Errorf("invalid optimization level %d", int(level))
		}
	}

	q, err := s.resolver.Resolve(req.queryRequest())
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plan, err := s.builder.Build(q)
	if err != nil {
		return nil, err
	}
	plan, err = optimizer.Apply(plan, s.optimizers)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.converter.ConvertToSQLPlan(plan.Sink(), s.opts.Engine, level, sqlgen.ConvertOptions{
		SpecOutputOrder: q.OutputSpecs(),
	})
	if err != nil {
		return nil, err
	}
	generated := sqlplan.Render(result.SQLPlan.Statement, s.opts.Engine)

	s.logger.Debug("metric query compiled",
		"query", q.String(),
		"dataflow_plan_id", plan.ID,
		"sql_plan_id", result.SQLPlan.ID,
		"level", result.Level.String())

	return &MetricQueryPlan{
		Query:          q,
		DataflowPlan:   plan,
		SQLPlan:        result.SQLPlan,
		GeneratedSQL:   generated,
		Columns:        result.InstanceSet.Columns(),
		RequestedLevel: level,
		UsedLevel:      result.Level,
	}, nil
}
