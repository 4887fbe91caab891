// Package dataflow defines the dataflow plan: an immutable DAG of relational
// operations over specs that a metric query is compiled into before SQL
// generation.
package dataflow

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/manifest"
	"semantic-compiler/internal/spec"
)

// NodeID identifies a node. IDs are unique within a process and ordered by
// creation.
type NodeID struct {
	Prefix string
	Seq    uint64
}

func (id NodeID) String() string { return id.Prefix + "_" + strconv.FormatUint(id.Seq, 10) }

// Compare orders ids by creation sequence.
func (id NodeID) Compare(other NodeID) int {
	if c := cmp.Compare(id.Seq, other.Seq); c != 0 {
		return c
	}
	return strings.Compare(id.Prefix, other.Prefix)
}

var nodeSeq atomic.Uint64

func newNodeID(prefix string) NodeID {
	return NodeID{Prefix: prefix, Seq: nodeSeq.Add(1)}
}

// Node is one relational operation of a plan. The set of implementations is
// closed; code that switches over node kinds must handle all of them.
type Node interface {
	ID() NodeID
	// Parents are the inputs of the node, in order.
	Parents() []Node
	// OutputSpecs describes the row shape the node produces.
	OutputSpecs() []spec.Spec
	Description() string
	dataflowNode()
}

type nodeBase struct {
	id      NodeID
	parents []Node
	outputs []spec.Spec
}

func (b *nodeBase) ID() NodeID               { return b.id }
func (b *nodeBase) Parents() []Node          { return slices.Clone(b.parents) }
func (b *nodeBase) OutputSpecs() []spec.Spec { return slices.Clone(b.outputs) }

func newBase(prefix string, outputs []spec.Spec, parents ...Node) nodeBase {
	return nodeBase{id: newNodeID(prefix), parents: parents, outputs: dedupeSpecs(outputs)}
}

func dedupeSpecs(specs []spec.Spec) []spec.Spec {
	seen := make(map[string]bool, len(specs))
	out := make([]spec.Spec, 0, len(specs))
	for _, s := range specs {
		if seen[s.Key()] {
			continue
		}
		seen[s.Key()] = true
		out = append(out, s)
	}
	return out
}

// ContainsSpecs reports whether n produces every spec in specs.
func ContainsSpecs(n Node, specs ...spec.Spec) bool {
	have := make(map[string]bool)
	for _, s := range n.OutputSpecs() {
		have[s.Key()] = true
	}
	for _, s := range specs {
		if !have[s.Key()] {
			return false
		}
	}
	return true
}

// LinkableSpecs returns the group-by specs (entities, dimensions and time
// dimensions) of specs.
func LinkableSpecs(specs []spec.Spec) []spec.Spec {
	var out []spec.Spec
	for _, s := range specs {
		switch s.Kind() {
		case spec.KindEntity, spec.KindDimension, spec.KindTimeDimension:
			out = append(out, s)
		}
	}
	return out
}

func isMetricTime(s spec.Spec) bool {
	td, ok := s.(spec.TimeDimensionSpec)
	return ok && td.IsMetricTime()
}

// ReadSQLSourceNode scans the table of a semantic model. Its output carries every
// entity, dimension and measure of the model; local dimensions are also exposed
// qualified by each identifying entity, and time dimensions at their defined
// granularity and every coarser one.
type ReadSQLSourceNode struct {
	nodeBase
	Model *domain.SemanticModel
}

// NewReadSQLSourceNode builds a scan of model.
func NewReadSQLSourceNode(model *domain.SemanticModel) *ReadSQLSourceNode {
	return &ReadSQLSourceNode{nodeBase: newBase("rss", sourceSpecs(model)), Model: model}
}

func sourceSpecs(model *domain.SemanticModel) []spec.Spec {
	identifying := manifest.IdentifyingEntities(model)
	qualifiers := [][]string{nil}
	for _, e := range identifying {
		qualifiers = append(qualifiers, []string{e})
	}

	var out []spec.Spec
	for _, e := range model.Entities {
		out = append(out, spec.NewEntitySpec(e.Name))
		for _, link := range identifying {
			if link != e.Name {
				out = append(out, spec.NewEntitySpec(e.Name, link))
			}
		}
	}
	for _, d := range model.Dimensions {
		for _, links := range qualifiers {
			if d.Type == domain.DimensionTypeTime {
				for _, g := range domain.AllTimeGranularities {
					if !g.FinerThan(d.Granularity()) {
						out = append(out, spec.NewTimeDimensionSpec(d.Name, g, links...))
					}
				}
				continue
			}
			out = append(out, spec.NewDimensionSpec(d.Name, links...))
		}
	}
	for _, m := range model.Measures {
		out = append(out, spec.MeasureSpec{Element: m.Name})
	}
	return out
}

func (n *ReadSQLSourceNode) Description() string {
	return fmt.Sprintf("Read From SemanticModel(%s)", n.Model.Name)
}

// MetricTimeDimensionTransformNode exposes the aggregation time dimension of its
// parent as metric_time at every available granularity.
type MetricTimeDimensionTransformNode struct {
	nodeBase
	AggTimeDimension string
}

// NewMetricTimeDimensionTransformNode aliases aggTimeDimension as metric_time.
func NewMetricTimeDimensionTransformNode(parent Node, aggTimeDimension string) *MetricTimeDimensionTransformNode {
	outputs := parent.OutputSpecs()
	for _, s := range parent.OutputSpecs() {
		td, ok := s.(spec.TimeDimensionSpec)
		if ok && td.Element == aggTimeDimension && len(td.EntityLinks) == 0 {
			outputs = append(outputs, spec.MetricTime(td.Granularity))
		}
	}
	return &MetricTimeDimensionTransformNode{
		nodeBase:         newBase("mtt", outputs, parent),
		AggTimeDimension: aggTimeDimension,
	}
}

func (n *MetricTimeDimensionTransformNode) Parent() Node { return n.parents[0] }

func (n *MetricTimeDimensionTransformNode) Description() string {
	return fmt.Sprintf("Metric Time Dimension '%s'", n.AggTimeDimension)
}

// JoinTarget is the right side of an entity join.
type JoinTarget struct {
	Node   Node
	Entity string
}

// JoinOnEntitiesNode left-joins targets to a left node on shared entities. Only
// the target specs qualified by the join entity are added to the output.
type JoinOnEntitiesNode struct {
	nodeBase
	Targets []JoinTarget
}

// NewJoinOnEntitiesNode joins each target to left.
func NewJoinOnEntitiesNode(left Node, targets ...JoinTarget) *JoinOnEntitiesNode {
	parents := []Node{left}
	outputs := left.OutputSpecs()
	for _, t := range targets {
		parents = append(parents, t.Node)
		outputs = append(outputs, JoinedSpecs(t)...)
	}
	return &JoinOnEntitiesNode{nodeBase: newBase("joe", outputs, parents...), Targets: slices.Clone(targets)}
}

// JoinedSpecs returns the specs a join target contributes.
func JoinedSpecs(t JoinTarget) []spec.Spec {
	var out []spec.Spec
	for _, s := range t.Node.OutputSpecs() {
		if links := s.Links(); len(links) > 0 && links[0] == t.Entity {
			out = append(out, s)
		}
	}
	return out
}

func (n *JoinOnEntitiesNode) Left() Node { return n.parents[0] }

func (n *JoinOnEntitiesNode) Description() string {
	entities := make([]string, len(n.Targets))
	for i, t := range n.Targets {
		entities[i] = t.Entity
	}
	return fmt.Sprintf("Join Standard Outputs on %s", strings.Join(entities, ", "))
}

// WhereConstraintNode filters rows with a templated predicate.
type WhereConstraintNode struct {
	nodeBase
	Where spec.WhereFilter
}

// NewWhereConstraintNode filters parent with where.
func NewWhereConstraintNode(parent Node, where spec.WhereFilter) *WhereConstraintNode {
	return &WhereConstraintNode{nodeBase: newBase("wcc", parent.OutputSpecs(), parent), Where: where}
}

func (n *WhereConstraintNode) Parent() Node        { return n.parents[0] }
func (n *WhereConstraintNode) Description() string { return "Constrain Output with WHERE" }

// ConstrainTimeRangeNode keeps rows whose metric time falls in an inclusive range.
type ConstrainTimeRangeNode struct {
	nodeBase
	TimeRange  domain.TimeRange
	MetricTime spec.TimeDimensionSpec
}

// NewConstrainTimeRangeNode filters parent on metricTime.
func NewConstrainTimeRangeNode(parent Node, r domain.TimeRange, metricTime spec.TimeDimensionSpec) *ConstrainTimeRangeNode {
	return &ConstrainTimeRangeNode{
		nodeBase:   newBase("ctr", parent.OutputSpecs(), parent),
		TimeRange:  r,
		MetricTime: metricTime,
	}
}

func (n *ConstrainTimeRangeNode) Parent() Node { return n.parents[0] }

func (n *ConstrainTimeRangeNode) Description() string {
	return "Constrain Time Range to " + n.TimeRange.String()
}

// FilterElementsNode projects its parent onto Include, in order.
type FilterElementsNode struct {
	nodeBase
	Include  []spec.Spec
	Distinct bool
}

// NewFilterElementsNode keeps only include.
func NewFilterElementsNode(parent Node, include []spec.Spec, distinct bool) *FilterElementsNode {
	return &FilterElementsNode{
		nodeBase: newBase("pfe", include, parent),
		Include:  slices.Clone(include),
		Distinct: distinct,
	}
}

func (n *FilterElementsNode) Parent() Node { return n.parents[0] }

func (n *FilterElementsNode) Description() string {
	names := make([]string, len(n.Include))
	for i, s := range n.Include {
		names[i] = s.QualifiedName()
	}
	return fmt.Sprintf("Pass Only Elements: [%s]", strings.Join(names, ", "))
}

// AggregateMeasuresNode aggregates the measures of its parent grouped by every
// other column.
type AggregateMeasuresNode struct {
	nodeBase
	Measures []domain.Measure
}

// NewAggregateMeasuresNode aggregates measures over parent.
func NewAggregateMeasuresNode(parent Node, measures []domain.Measure) *AggregateMeasuresNode {
	return &AggregateMeasuresNode{
		nodeBase: newBase("am", parent.OutputSpecs(), parent),
		Measures: slices.Clone(measures),
	}
}

func (n *AggregateMeasuresNode) Parent() Node { return n.parents[0] }

// Aggregation returns the aggregation of the named measure.
func (n *AggregateMeasuresNode) Aggregation(measure string) (domain.AggregationType, bool) {
	for _, m := range n.Measures {
		if m.Name == measure {
			return m.Agg, true
		}
	}
	return "", false
}

func (n *AggregateMeasuresNode) Description() string { return "Aggregate Measures" }

// MetricComputation is one metric computed by a ComputeMetricsNode.
type MetricComputation struct {
	Spec   spec.MetricSpec
	Metric *domain.Metric
}

// ComputeMetricsNode computes metrics from the aggregated measures or input
// metrics of its parent. Measures and input metrics are dropped from the output.
type ComputeMetricsNode struct {
	nodeBase
	Metrics []MetricComputation
}

// NewComputeMetricsNode computes metrics over parent.
func NewComputeMetricsNode(parent Node, metrics ...MetricComputation) *ComputeMetricsNode {
	outputs := LinkableSpecs(parent.OutputSpecs())
	for _, m := range metrics {
		outputs = append(outputs, m.Spec)
	}
	return &ComputeMetricsNode{nodeBase: newBase("cm", outputs, parent), Metrics: slices.Clone(metrics)}
}

func (n *ComputeMetricsNode) Parent() Node { return n.parents[0] }

func (n *ComputeMetricsNode) Description() string {
	names := make([]string, len(n.Metrics))
	for i, m := range n.Metrics {
		names[i] = m.Spec.QualifiedName()
	}
	return fmt.Sprintf("Compute Metrics via Expressions: [%s]", strings.Join(names, ", "))
}

// CombineAggregatedOutputsNode full-outer-joins aggregated branches on their
// group-by columns.
type CombineAggregatedOutputsNode struct {
	nodeBase
}

// NewCombineAggregatedOutputsNode combines parents.
func NewCombineAggregatedOutputsNode(parents ...Node) *CombineAggregatedOutputsNode {
	var outputs []spec.Spec
	if len(parents) > 0 {
		outputs = LinkableSpecs(parents[0].OutputSpecs())
	}
	for _, p := range parents {
		for _, s := range p.OutputSpecs() {
			if k := s.Kind(); k == spec.KindMeasure || k == spec.KindMetric {
				outputs = append(outputs, s)
			}
		}
	}
	return &CombineAggregatedOutputsNode{nodeBase: newBase("cao", outputs, parents...)}
}

func (n *CombineAggregatedOutputsNode) Description() string { return "Combine Aggregated Outputs" }

// JoinToTimeSpineNode right-joins its parent to a time spine so that every
// period of MetricTime has a row.
type JoinToTimeSpineNode struct {
	nodeBase
	TimeSpine  domain.TimeSpine
	MetricTime spec.TimeDimensionSpec
}

// NewJoinToTimeSpineNode joins parent to spine on metricTime.
func NewJoinToTimeSpineNode(parent Node, spine domain.TimeSpine, metricTime spec.TimeDimensionSpec) *JoinToTimeSpineNode {
	return &JoinToTimeSpineNode{
		nodeBase:   newBase("jts", spineOutputs(parent, metricTime), parent),
		TimeSpine:  spine,
		MetricTime: metricTime,
	}
}

func spineOutputs(parent Node, metricTime spec.TimeDimensionSpec) []spec.Spec {
	outputs := []spec.Spec{metricTime}
	for _, s := range parent.OutputSpecs() {
		if !isMetricTime(s) {
			outputs = append(outputs, s)
		}
	}
	return outputs
}

func (n *JoinToTimeSpineNode) Parent() Node        { return n.parents[0] }
func (n *JoinToTimeSpineNode) Description() string { return "Join to Time Spine" }

// JoinOverTimeRangeNode joins each time spine period to the parent rows inside
// its cumulative window: a trailing Window, the period-to-date of GrainToDate, or
// all earlier rows when neither is set.
type JoinOverTimeRangeNode struct {
	nodeBase
	TimeSpine   domain.TimeSpine
	MetricTime  spec.TimeDimensionSpec
	Window      *domain.MetricTimeWindow
	GrainToDate domain.TimeGranularity
}

// NewJoinOverTimeRangeNode builds a cumulative window join.
func NewJoinOverTimeRangeNode(
	parent Node,
	spine domain.TimeSpine,
	metricTime spec.TimeDimensionSpec,
	window *domain.MetricTimeWindow,
	grainToDate domain.TimeGranularity,
) *JoinOverTimeRangeNode {
	return &JoinOverTimeRangeNode{
		nodeBase:    newBase("jotr", spineOutputs(parent, metricTime), parent),
		TimeSpine:   spine,
		MetricTime:  metricTime,
		Window:      window,
		GrainToDate: grainToDate,
	}
}

func (n *JoinOverTimeRangeNode) Parent() Node { return n.parents[0] }

func (n *JoinOverTimeRangeNode) Description() string {
	switch {
	case n.Window != nil:
		return "Join Self Over Time Range (window " + n.Window.String() + ")"
	case n.GrainToDate.IsValid():
		return "Join Self Over Time Range (" + n.GrainToDate.String() + " to date)"
	default:
		return "Join Self Over Time Range (all time)"
	}
}

// OrderByLimitNode orders and optionally limits its parent.
type OrderByLimitNode struct {
	nodeBase
	OrderBy []spec.OrderBySpec
	Limit   *int
}

// NewOrderByLimitNode orders parent by orderBy and keeps at most limit rows.
func NewOrderByLimitNode(parent Node, orderBy []spec.OrderBySpec, limit *int) *OrderByLimitNode {
	return &OrderByLimitNode{
		nodeBase: newBase("obl", parent.OutputSpecs(), parent),
		OrderBy:  slices.Clone(orderBy),
		Limit:    limit,
	}
}

func (n *OrderByLimitNode) Parent() Node { return n.parents[0] }

func (n *OrderByLimitNode) Description() string {
	parts := make([]string, len(n.OrderBy))
	for i, o := range n.OrderBy {
		parts[i] = o.String()
	}
	desc := fmt.Sprintf("Order By [%s]", strings.Join(parts, ", "))
	if n.Limit != nil {
		desc += " Limit " + strconv.Itoa(*n.Limit)
	}
	return desc
}

// WriteToResultDataTableNode is the sink of a query plan.
type WriteToResultDataTableNode struct {
	nodeBase
}

// NewWriteToResultDataTableNode makes parent the plan output.
func NewWriteToResultDataTableNode(parent Node) *WriteToResultDataTableNode {
	return &WriteToResultDataTableNode{nodeBase: newBase("wrd", parent.OutputSpecs(), parent)}
}

func (n *WriteToResultDataTableNode) Parent() Node        { return n.parents[0] }
func (n *WriteToResultDataTableNode) Description() string { return "Write to Result Data Table" }

func (*ReadSQLSourceNode) dataflowNode()                {}
func (*MetricTimeDimensionTransformNode) dataflowNode() {}
func (*JoinOnEntitiesNode) dataflowNode()               {}
func (*WhereConstraintNode) dataflowNode()              {}
func (*ConstrainTimeRangeNode) dataflowNode()           {}
func (*FilterElementsNode) dataflowNode()               {}
func (*AggregateMeasuresNode) dataflowNode()            {}
func (*ComputeMetricsNode) dataflowNode()               {}
func (*CombineAggregatedOutputsNode) dataflowNode()     {}
func (*JoinToTimeSpineNode) dataflowNode()              {}
func (*JoinOverTimeRangeNode) dataflowNode()            {}
func (*OrderByLimitNode) dataflowNode()                 {}
func (*WriteToResultDataTableNode) dataflowNode()       {}

// WithParents returns a new node of the same kind and parameters as n reading
// from parents. The parent count must match the node kind.
func WithParents(n Node, parents ...Node) Node {
	switch n := n.(type) {
	case *ReadSQLSourceNode:
		return NewReadSQLSourceNode(n.Model)
	case *MetricTimeDimensionTransformNode:
		return NewMetricTimeDimensionTransformNode(parents[0], n.AggTimeDimension)
	case *JoinOnEntitiesNode:
		targets := make([]JoinTarget, len(n.Targets))
		for i, t := range n.Targets {
			targets[i] = JoinTarget{Node: parents[i+1], Entity: t.Entity}
		}
		return NewJoinOnEntitiesNode(parents[0], targets...)
	case *WhereConstraintNode:
		return NewWhereConstraintNode(parents[0], n.Where)
	case *ConstrainTimeRangeNode:
		return NewConstrainTimeRangeNode(parents[0], n.TimeRange, n.MetricTime)
	case *FilterElementsNode:
		return NewFilterElementsNode(parents[0], n.Include, n.Distinct)
	case *AggregateMeasuresNode:
		return NewAggregateMeasuresNode(parents[0], n.Measures)
	case *ComputeMetricsNode:
		return NewComputeMetricsNode(parents[0], n.Metrics...)
	case *CombineAggregatedOutputsNode:
		return NewCombineAggregatedOutputsNode(parents...)
	case *JoinToTimeSpineNode:
		return NewJoinToTimeSpineNode(parents[0], n.TimeSpine, n.MetricTime)
	case *JoinOverTimeRangeNode:
		return NewJoinOverTimeRangeNode(parents[0], n.TimeSpine, n.MetricTime, n.Window, n.GrainToDate)
	case *OrderByLimitNode:
		return NewOrderByLimitNode(parents[0], n.OrderBy, n.Limit)
	case *WriteToResultDataTableNode:
		return NewWriteToResultDataTableNode(parents[0])
	default:
		panic(fmt.Sprintf("unhandled dataflow node type %T", n))
	}
}
