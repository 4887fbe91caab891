// Package builder turns resolved metric queries into dataflow plans.
package builder

import (
	"slices"

	"semantic-compiler/internal/dataflow"
	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/manifest"
	"semantic-compiler/internal/query"
	"semantic-compiler/internal/spec"
)

// Builder builds dataflow plans against one manifest. It is read-only and safe
// for concurrent use.
type Builder struct {
	lookup *manifest.Lookup
}

// NewBuilder creates a builder over lookup.
func NewBuilder(lookup *manifest.Lookup) *Builder {
	return &Builder{lookup: lookup}
}

// Build returns the plan computing q. Each metric is computed once per plan, so
// a metric feeding several derived metrics becomes a node with several
// consumers.
func (b *Builder) Build(q *query.Query) (*dataflow.Plan, error) {
	r := &buildRun{lookup: b.lookup, q: q, metricNodes: make(map[string]dataflow.Node)}
	if err := r.checkMetricTime(); err != nil {
		return nil, err
	}

	outputs := make([]dataflow.Node, 0, len(q.Metrics))
	for _, m := range q.Metrics {
		n, err := r.metricNode(m)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, n)
	}
	top := outputs[0]
	if len(outputs) > 1 {
		top = dataflow.NewCombineAggregatedOutputsNode(outputs...)
	}
	if len(q.OrderBy) > 0 || q.Limit != nil {
		top = dataflow.NewOrderByLimitNode(top, q.OrderBy, q.Limit)
	}
	return dataflow.NewPlan("", dataflow.NewWriteToResultDataTableNode(top)), nil
}

type buildRun struct {
	lookup      *manifest.Lookup
	q           *query.Query
	metricNodes map[string]dataflow.Node
}

// checkMetricTime rejects shapes that join to a time spine at more than one
// granularity.
func (r *buildRun) checkMetricTime() error {
	if len(r.q.MetricTimeSpecs()) <= 1 {
		return nil
	}
	for _, m := range r.q.Metrics {
		metric, err := r.lookup.Metric(m.Element)
		if err != nil {
			return err
		}
		if r.lookup.ContainsCumulativeMetric(m.Element) {
			return domain.ErrNotImplemented("cumulative metric %q cannot be queried with metric_time at several granularities", m.Element)
		}
		if p := metric.TypeParams.Measure; p != nil && p.JoinToTimespine {
			return domain.ErrNotImplemented("metric %q joins to the time spine and cannot be queried with metric_time at several granularities", m.Element)
		}
	}
	return nil
}

func (r *buildRun) metricNode(ms spec.MetricSpec) (dataflow.Node, error) {
	if n, ok := r.metricNodes[ms.Key()]; ok {
		return n, nil
	}
	metric, err := r.lookup.Metric(ms.Element)
	if err != nil {
		return nil, err
	}

	var n dataflow.Node
	switch metric.Type {
	case domain.MetricTypeSimple, domain.MetricTypeCumulative:
		n, err = r.measureBranch(ms, metric)
	case domain.MetricTypeRatio, domain.MetricTypeDerived:
		n, err = r.derivedBranch(ms, metric)
	default:
		return nil, domain.ErrNotImplemented("metric type %q is not supported", metric.Type)
	}
	if err != nil {
		return nil, err
	}
	r.metricNodes[ms.Key()] = n
	return n, nil
}

func (r *buildRun) derivedBranch(ms spec.MetricSpec, metric *domain.Metric) (dataflow.Node, error) {
	inputs := metric.InputMetrics()
	if len(inputs) == 0 {
		return nil, domain.ErrValidation("metric %q has no input metrics", metric.Name)
	}
	parents := make([]dataflow.Node, 0, len(inputs))
	for _, in := range inputs {
		n, err := r.metricNode(spec.MetricSpec{Element: in.Name, Alias: in.Alias})
		if err != nil {
			return nil, err
		}
		parents = append(parents, n)
	}
	parent := parents[0]
	if len(parents) > 1 {
		parent = dataflow.NewCombineAggregatedOutputsNode(parents...)
	}
	return dataflow.NewComputeMetricsNode(parent, dataflow.MetricComputation{Spec: ms, Metric: metric}), nil
}

func (r *buildRun) measureBranch(ms spec.MetricSpec, metric *domain.Metric) (dataflow.Node, error) {
	input := metric.TypeParams.Measure
	if input == nil {
		return nil, domain.ErrValidation("metric %q has no measure", metric.Name)
	}
	measure, model, err := r.lookup.Measure(input.Name)
	if err != nil {
		return nil, err
	}
	aggDim, err := r.lookup.AggTimeDimension(measure.Name, model)
	if err != nil {
		return nil, err
	}
	aggMetricTime := spec.MetricTime(aggDim.Granularity())
	measureSpec := spec.MeasureSpec{Element: measure.Name}

	var n dataflow.Node = dataflow.NewReadSQLSourceNode(model)
	n = dataflow.NewMetricTimeDimensionTransformNode(n, aggDim.Name)

	needed := slices.Clone(r.q.GroupBy)
	needed = append(needed, r.q.Where.Specs()...)
	targets, err := r.joinTargets(n, model, needed)
	if err != nil {
		return nil, err
	}
	if len(targets) > 0 {
		n = dataflow.NewJoinOnEntitiesNode(n, targets...)
	}
	if !r.q.Where.IsZero() {
		n = dataflow.NewWhereConstraintNode(n, r.q.Where)
	}

	include := append(slices.Clone(r.q.GroupBy), measureSpec)
	metricTimes := r.q.MetricTimeSpecs()

	if metric.Type == domain.MetricTypeCumulative {
		if len(metricTimes) == 0 {
			if r.q.TimeRange != nil {
				n = dataflow.NewConstrainTimeRangeNode(n, *r.q.TimeRange, aggMetricTime)
			}
			n = dataflow.NewFilterElementsNode(n, include, false)
		} else {
			mt := metricTimes[0]
			spine, err := r.lookup.TimeSpine(mt.Granularity)
			if err != nil {
				return nil, err
			}
			n = dataflow.NewFilterElementsNode(n, include, false)
			n = dataflow.NewJoinOverTimeRangeNode(n, *spine, mt, metric.TypeParams.Window, metric.TypeParams.GrainToDate)
			if r.q.TimeRange != nil {
				n = dataflow.NewConstrainTimeRangeNode(n, *r.q.TimeRange, mt)
			}
		}
		n = dataflow.NewAggregateMeasuresNode(n, []domain.Measure{*measure})
		return dataflow.NewComputeMetricsNode(n, dataflow.MetricComputation{Spec: ms, Metric: metric}), nil
	}

	if r.q.TimeRange != nil {
		n = dataflow.NewConstrainTimeRangeNode(n, *r.q.TimeRange, aggMetricTime)
	}
	n = dataflow.NewFilterElementsNode(n, include, false)
	n = dataflow.NewAggregateMeasuresNode(n, []domain.Measure{*measure})
	if input.JoinToTimespine && len(metricTimes) > 0 {
		mt := metricTimes[0]
		spine, err := r.lookup.TimeSpine(mt.Granularity)
		if err != nil {
			return nil, err
		}
		n = dataflow.NewJoinToTimeSpineNode(n, *spine, mt)
		if r.q.TimeRange != nil {
			n = dataflow.NewConstrainTimeRangeNode(n, *r.q.TimeRange, mt)
		}
	}
	return dataflow.NewComputeMetricsNode(n, dataflow.MetricComputation{Spec: ms, Metric: metric}), nil
}

// joinTargets finds, for every needed spec the measure's model does not
// produce, a model identified by the spec's entity link that does. Only one
// hop is supported.
func (r *buildRun) joinTargets(left dataflow.Node, model *domain.SemanticModel, needed []spec.Spec) ([]dataflow.JoinTarget, error) {
	var entities []string
	byEntity := map[string][]spec.Spec{}
	for _, s := range needed {
		if dataflow.ContainsSpecs(left, s) {
			continue
		}
		links := s.Links()
		switch len(links) {
		case 0:
			return nil, domain.ErrInvalidQuery("%s is not available for measures of semantic model %q", s.QualifiedName(), model.Name)
		case 1:
		default:
			return nil, domain.ErrNotImplemented("%s needs a join over %d entities; only single joins are supported", s.QualifiedName(), len(links))
		}
		e := links[0]
		if _, ok := byEntity[e]; !ok {
			entities = append(entities, e)
		}
		byEntity[e] = append(byEntity[e], s)
	}

	targets := make([]dataflow.JoinTarget, 0, len(entities))
	for _, e := range entities {
		key := spec.NewEntitySpec(e)
		if !dataflow.ContainsSpecs(left, key) {
			return nil, domain.ErrInvalidQuery("semantic model %q has no entity %q to join on", model.Name, e)
		}
		target, err := r.joinTarget(model, e, byEntity[e])
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func (r *buildRun) joinTarget(from *domain.SemanticModel, entity string, specs []spec.Spec) (dataflow.JoinTarget, error) {
	key := spec.NewEntitySpec(entity)
	for _, candidate := range r.lookup.EntityOwners(entity) {
		if candidate.Name == from.Name || !slices.Contains(manifest.IdentifyingEntities(candidate), entity) {
			continue
		}
		src := dataflow.NewReadSQLSourceNode(candidate)
		if !dataflow.ContainsSpecs(src, key) || !dataflow.ContainsSpecs(src, specs...) {
			continue
		}
		include := append([]spec.Spec{key}, specs...)
		return dataflow.JoinTarget{Node: dataflow.NewFilterElementsNode(src, include, false), Entity: entity}, nil
	}
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.QualifiedName()
	}
	return dataflow.JoinTarget{}, domain.ErrInvalidQuery("no semantic model identified by %q provides %v", entity, names)
}
