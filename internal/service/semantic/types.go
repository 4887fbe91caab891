package semantic

import (
	"time"

	"semantic-compiler/internal/dataflow"
	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/query"
	"semantic-compiler/internal/sqlgen"
	"semantic-compiler/internal/sqlplan"
)

// MetricQueryRequest is the request contract for metric query compilation.
type MetricQueryRequest struct {
	Metrics []string
	// GroupBy items use dunder names: metric_time__month, listing__country.
	GroupBy []string
	// Where holds templated filters, combined with AND.
	Where   []string
	OrderBy []string
	Limit   *int

	TimeConstraintStart *time.Time
	TimeConstraintEnd   *time.Time
	// Granularity applies to metric_time items given without one.
	Granularity domain.TimeGranularity

	// OptimizationLevel overrides the service level for this request.
	OptimizationLevel *sqlgen.OptimizationLevel
}

func (r MetricQueryRequest) queryRequest() query.Request {
	return query.Request{
		Metrics:              r.Metrics,
		GroupBy:              r.GroupBy,
		OrderBy:              r.OrderBy,
		Where:                r.Where,
		Limit:                r.Limit,
		TimeConstraintStart:  r.TimeConstraintStart,
		TimeConstraintEnd:    r.TimeConstraintEnd,
		RequestedGranularity: r.Granularity,
	}
}

// MetricQueryPlan captures every stage of a compiled query.
type MetricQueryPlan struct {
	Query        *query.Query
	DataflowPlan *dataflow.Plan
	SQLPlan      *sqlplan.SQLPlan
	GeneratedSQL string
	// Columns are the output column names, group-by items first.
	Columns []string
	// RequestedLevel and UsedLevel differ when generation fell back to a
	// lower optimization level.
	RequestedLevel sqlgen.OptimizationLevel
	UsedLevel      sqlgen.OptimizationLevel
}
