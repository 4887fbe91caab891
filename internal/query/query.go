// Package query resolves metric query requests written with element names into
// fully specified queries over specs.
package query

import (
	"strings"
	"time"

	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/spec"
)

// Request is a metric query as a caller writes it. Group-by and order-by items
// use dunder names such as metric_time__month or listing__country_latest;
// order-by items prefixed with "-" sort descending. Where filters are templates
// such as {{ Dimension "booking__is_instant" }} = true.
type Request struct {
	Metrics              []string
	GroupBy              []string
	OrderBy              []string
	Where                []string
	Limit                *int
	TimeConstraintStart  *time.Time
	TimeConstraintEnd    *time.Time
	RequestedGranularity domain.TimeGranularity
}

// Query is a resolved request.
type Query struct {
	Metrics []spec.MetricSpec
	// GroupBy holds entity, dimension and time dimension specs in request order.
	GroupBy   []spec.Spec
	OrderBy   []spec.OrderBySpec
	Where     spec.WhereFilter
	Limit     *int
	TimeRange *domain.TimeRange
}

// MetricNames returns the queried metric names in order.
func (q *Query) MetricNames() []string {
	names := make([]string, len(q.Metrics))
	for i, m := range q.Metrics {
		names[i] = m.Element
	}
	return names
}

// MetricTimeSpecs returns the queried metric_time specs.
func (q *Query) MetricTimeSpecs() []spec.TimeDimensionSpec {
	var out []spec.TimeDimensionSpec
	for _, s := range q.GroupBy {
		if td, ok := s.(spec.TimeDimensionSpec); ok && td.IsMetricTime() {
			out = append(out, td)
		}
	}
	return out
}

// OutputSpecs returns the group-by specs followed by the metrics, the column
// order of the query result.
func (q *Query) OutputSpecs() []spec.Spec {
	out := make([]spec.Spec, 0, len(q.GroupBy)+len(q.Metrics))
	out = append(out, q.GroupBy...)
	for _, m := range q.Metrics {
		out = append(out, m)
	}
	return out
}

func (q *Query) String() string {
	var b strings.Builder
	b.WriteString("metrics=[")
	for i, name := range q.MetricNames() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
	}
	b.WriteString("] group_by=[")
	for i, s := range q.GroupBy {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(s.QualifiedName())
	}
	b.WriteString("]")
	return b.String()
}
