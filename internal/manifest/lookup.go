package manifest

import (
	"slices"
	"sort"
	"unicode/utf8"

	"semantic-compiler/internal/domain"
)

// Lookup is a read-only index over a semantic manifest. It is safe for
// concurrent use once constructed.
type Lookup struct {
	models          map[string]*domain.SemanticModel
	modelOrder      []string
	metrics         map[string]*domain.Metric
	metricOrder     []string
	measureModels   map[string][]*domain.SemanticModel
	dimensionOwners map[string][]*domain.SemanticModel
	entityOwners    map[string][]*domain.SemanticModel
	timeSpines      []domain.TimeSpine
}

// NewLookup validates the structural references of m and indexes it.
func NewLookup(m domain.SemanticManifest) (*Lookup, error) {
	l := &Lookup{
		models:          make(map[string]*domain.SemanticModel, len(m.SemanticModels)),
		metrics:         make(map[string]*domain.Metric, len(m.Metrics)),
		measureModels:   make(map[string][]*domain.SemanticModel),
		dimensionOwners: make(map[string][]*domain.SemanticModel),
		entityOwners:    make(map[string][]*domain.SemanticModel),
	}

	models := slices.Clone(m.SemanticModels)
	for i := range models {
		model := &models[i]
		if err := validateModel(model); err != nil {
			return nil, err
		}
		if _, dup := l.models[model.Name]; dup {
			return nil, domain.ErrValidation("duplicate semantic model %q", model.Name)
		}
		l.models[model.Name] = model
		l.modelOrder = append(l.modelOrder, model.Name)
		for _, measure := range model.Measures {
			l.measureModels[measure.Name] = append(l.measureModels[measure.Name], model)
		}
		for _, dim := range model.Dimensions {
			l.dimensionOwners[dim.Name] = append(l.dimensionOwners[dim.Name], model)
		}
		for _, ent := range model.Entities {
			l.entityOwners[ent.Name] = append(l.entityOwners[ent.Name], model)
		}
	}

	metrics := slices.Clone(m.Metrics)
	for i := range metrics {
		metric := &metrics[i]
		if metric.Name == "" {
			return nil, domain.ErrValidation("metric name is required")
		}
		if _, dup := l.metrics[metric.Name]; dup {
			return nil, domain.ErrValidation("duplicate metric %q", metric.Name)
		}
		l.metrics[metric.Name] = metric
		l.metricOrder = append(l.metricOrder, metric.Name)
	}
	for _, name := range l.metricOrder {
		if err := l.validateMetric(l.metrics[name]); err != nil {
			return nil, err
		}
	}
	if err := l.checkMetricCycles(); err != nil {
		return nil, err
	}

	for _, ts := range m.TimeSpines {
		if ts.NodeRelation.Alias == "" || ts.PrimaryColumn.Name == "" {
			return nil, domain.ErrValidation("time spine requires node_relation.alias and primary_column.name")
		}
		if !ts.PrimaryColumn.TimeGranularity.IsValid() {
			return nil, domain.ErrValidation("time spine %q has no valid time_granularity", ts.NodeRelation.QualifiedName())
		}
		l.timeSpines = append(l.timeSpines, ts)
	}
	sort.SliceStable(l.timeSpines, func(i, j int) bool {
		return l.timeSpines[i].PrimaryColumn.TimeGranularity < l.timeSpines[j].PrimaryColumn.TimeGranularity
	})
	return l, nil
}

func validateModel(model *domain.SemanticModel) error {
	if model.Name == "" {
		return domain.ErrValidation("semantic model name is required")
	}
	if utf8.RuneCountInString(model.Name) > domain.MaxSemanticNameLength {
		return domain.ErrValidation("semantic model name must be <= %d characters", domain.MaxSemanticNameLength)
	}
	if model.NodeRelation.Alias == "" {
		return domain.ErrValidation("semantic model %q requires node_relation.alias", model.Name)
	}

	names := map[string]bool{}
	for _, e := range model.Entities {
		if e.Name == "" || names[e.Name] {
			return domain.ErrValidation("semantic model %q has a missing or duplicate element name %q", model.Name, e.Name)
		}
		names[e.Name] = true
	}
	timeDims := map[string]bool{}
	for _, d := range model.Dimensions {
		if d.Name == "" || names[d.Name] {
			return domain.ErrValidation("semantic model %q has a missing or duplicate element name %q", model.Name, d.Name)
		}
		if d.Type != domain.DimensionTypeCategorical && d.Type != domain.DimensionTypeTime {
			return domain.ErrValidation("dimension %q in %q must be categorical or time", d.Name, model.Name)
		}
		names[d.Name] = true
		if d.Type == domain.DimensionTypeTime {
			timeDims[d.Name] = true
		}
	}
	validAggs := map[domain.AggregationType]bool{
		domain.AggSum: true, domain.AggCount: true, domain.AggCountDistinct: true, domain.AggAverage: true,
		domain.AggMin: true, domain.AggMax: true, domain.AggSumBoolean: true,
	}
	for _, ms := range model.Measures {
		if ms.Name == "" || names[ms.Name] {
			return domain.ErrValidation("semantic model %q has a missing or duplicate element name %q", model.Name, ms.Name)
		}
		names[ms.Name] = true
		if !validAggs[ms.Agg] {
			return domain.ErrValidation("measure %q in %q has unsupported agg %q", ms.Name, model.Name, ms.Agg)
		}
		aggTime := ms.AggTimeDimension
		if aggTime == "" {
			aggTime = model.Defaults.AggTimeDimension
		}
		if !timeDims[aggTime] {
			return domain.ErrValidation("measure %q in %q has no valid agg_time_dimension (got %q)", ms.Name, model.Name, aggTime)
		}
	}
	return nil
}

func (l *Lookup) validateMetric(metric *domain.Metric) error {
	p := metric.TypeParams
	switch metric.Type {
	case domain.MetricTypeSimple, domain.MetricTypeCumulative:
		if p.Measure == nil || p.Measure.Name == "" {
			return domain.ErrValidation("metric %q requires type_params.measure", metric.Name)
		}
		if len(l.measureModels[p.Measure.Name]) == 0 {
			return domain.ErrValidation("metric %q references unknown measure %q", metric.Name, p.Measure.Name)
		}
		if metric.Type == domain.MetricTypeCumulative && p.Window != nil && p.GrainToDate.IsValid() {
			return domain.ErrValidation("cumulative metric %q cannot set both window and grain_to_date", metric.Name)
		}
	case domain.MetricTypeRatio:
		if p.Numerator == nil || p.Denominator == nil {
			return domain.ErrValidation("ratio metric %q requires numerator and denominator", metric.Name)
		}
	case domain.MetricTypeDerived:
		if p.Expr == "" || len(p.Metrics) == 0 {
			return domain.ErrValidation("derived metric %q requires expr and metrics", metric.Name)
		}
	default:
		return domain.ErrValidation("metric %q has unsupported type %q", metric.Name, metric.Type)
	}
	for _, in := range metric.InputMetrics() {
		if _, ok := l.metrics[in.Name]; !ok {
			return domain.ErrValidation("metric %q references unknown metric %q", metric.Name, in.Name)
		}
	}
	return nil
}

func (l *Lookup) checkMetricCycles() error {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(l.metrics))
	type frame struct {
		name string
		next int
	}
	for _, root := range l.metricOrder {
		if state[root] == done {
			continue
		}
		stack := []frame{{name: root}}
		state[root] = inProgress
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			inputs := l.metrics[top.name].InputMetrics()
			if top.next >= len(inputs) {
				state[top.name] = done
				stack = stack[:len(stack)-1]
				continue
			}
			child := inputs[top.next].Name
			top.next++
			switch state[child] {
			case inProgress:
				return domain.ErrValidation("metric %q is part of a reference cycle", child)
			case unvisited:
				state[child] = inProgress
				stack = append(stack, frame{name: child})
			}
		}
	}
	return nil
}

// SemanticModels returns the models in manifest order.
func (l *Lookup) SemanticModels() []*domain.SemanticModel {
	out := make([]*domain.SemanticModel, len(l.modelOrder))
	for i, name := range l.modelOrder {
		out[i] = l.models[name]
	}
	return out
}

// SemanticModel returns a model by name.
func (l *Lookup) SemanticModel(name string) (*domain.SemanticModel, error) {
	m, ok := l.models[name]
	if !ok {
		return nil, domain.ErrNotFound("semantic model %q not found", name)
	}
	return m, nil
}

// MetricNames returns every metric name in manifest order.
func (l *Lookup) MetricNames() []string {
	return slices.Clone(l.metricOrder)
}

// Metric returns a metric by name.
func (l *Lookup) Metric(name string) (*domain.Metric, error) {
	m, ok := l.metrics[name]
	if !ok {
		return nil, domain.ErrNotFound("metric %q not found", name)
	}
	return m, nil
}

// MeasureModels returns every model that defines the measure.
func (l *Lookup) MeasureModels(measure string) []*domain.SemanticModel {
	return slices.Clone(l.measureModels[measure])
}

// Measure returns the measure and the single model that defines it. A measure
// defined in more than one model cannot be planned unambiguously.
func (l *Lookup) Measure(name string) (*domain.Measure, *domain.SemanticModel, error) {
	owners := l.measureModels[name]
	switch len(owners) {
	case 0:
		return nil, nil, domain.ErrNotFound("measure %q not found", name)
	case 1:
	default:
		return nil, nil, domain.ErrNotImplemented("measure %q is defined in %d semantic models", name, len(owners))
	}
	model := owners[0]
	for i := range model.Measures {
		if model.Measures[i].Name == name {
			return &model.Measures[i], model, nil
		}
	}
	return nil, nil, domain.ErrNotFound("measure %q not found", name)
}

// AggTimeDimension returns the time dimension that metric_time maps to for a
// measure within one of its models.
func (l *Lookup) AggTimeDimension(measure string, model *domain.SemanticModel) (*domain.Dimension, error) {
	name := ""
	for _, ms := range model.Measures {
		if ms.Name == measure {
			name = ms.AggTimeDimension
			break
		}
	}
	if name == "" {
		name = model.Defaults.AggTimeDimension
	}
	dim := FindDimension(model, name)
	if dim == nil || dim.Type != domain.DimensionTypeTime {
		return nil, domain.ErrValidation("measure %q in %q has no agg time dimension", measure, model.Name)
	}
	return dim, nil
}

// MeasuresForMetrics returns the measures the metrics depend on, following ratio,
// derived and cumulative inputs, deduplicated in first-seen order.
func (l *Lookup) MeasuresForMetrics(names ...string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	visited := map[string]bool{}
	stack := slices.Clone(names)
	slices.Reverse(stack)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[name] {
			continue
		}
		visited[name] = true
		metric, err := l.Metric(name)
		if err != nil {
			return nil, err
		}
		if metric.TypeParams.Measure != nil && !seen[metric.TypeParams.Measure.Name] {
			seen[metric.TypeParams.Measure.Name] = true
			out = append(out, metric.TypeParams.Measure.Name)
		}
		inputs := metric.InputMetrics()
		for i := len(inputs) - 1; i >= 0; i-- {
			stack = append(stack, inputs[i].Name)
		}
	}
	return out, nil
}

// ContainsCumulativeMetric reports whether any of the metrics, or their inputs,
// is cumulative.
func (l *Lookup) ContainsCumulativeMetric(names ...string) bool {
	visited := map[string]bool{}
	stack := slices.Clone(names)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[name] {
			continue
		}
		visited[name] = true
		metric, ok := l.metrics[name]
		if !ok {
			continue
		}
		if metric.Type == domain.MetricTypeCumulative {
			return true
		}
		for _, in := range metric.InputMetrics() {
			stack = append(stack, in.Name)
		}
	}
	return false
}

// DimensionOwners returns the models that define a dimension with this name.
func (l *Lookup) DimensionOwners(name string) []*domain.SemanticModel {
	return slices.Clone(l.dimensionOwners[name])
}

// EntityOwners returns the models that define an entity with this name.
func (l *Lookup) EntityOwners(name string) []*domain.SemanticModel {
	return slices.Clone(l.entityOwners[name])
}

// TimeSpine returns the coarsest time spine that is at least as fine as g.
func (l *Lookup) TimeSpine(g domain.TimeGranularity) (*domain.TimeSpine, error) {
	var best *domain.TimeSpine
	for i := range l.timeSpines {
		if l.timeSpines[i].PrimaryColumn.TimeGranularity <= g {
			best = &l.timeSpines[i]
		}
	}
	if best == nil {
		return nil, domain.ErrInvalidQuery("no time spine is defined at granularity %s or finer", g)
	}
	return best, nil
}

// FindDimension returns the named dimension of a model, or nil.
func FindDimension(model *domain.SemanticModel, name string) *domain.Dimension {
	for i := range model.Dimensions {
		if model.Dimensions[i].Name == name {
			return &model.Dimensions[i]
		}
	}
	return nil
}

// FindEntity returns the named entity of a model, or nil.
func FindEntity(model *domain.SemanticModel, name string) *domain.Entity {
	for i := range model.Entities {
		if model.Entities[i].Name == name {
			return &model.Entities[i]
		}
	}
	return nil
}

// IdentifyingEntities returns the entities that identify rows of model: the
// primary entity plus any primary, unique or natural entity, without duplicates.
// Local elements of the model can be qualified with any of them.
func IdentifyingEntities(model *domain.SemanticModel) []string {
	var out []string
	if model.PrimaryEntity != "" {
		out = append(out, model.PrimaryEntity)
	}
	for _, e := range model.Entities {
		if e.Type == domain.EntityTypeForeign || slices.Contains(out, e.Name) {
			continue
		}
		out = append(out, e.Name)
	}
	return out
}
