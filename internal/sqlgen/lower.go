package sqlgen

import (
	"fmt"
	"slices"

	"semantic-compiler/internal/dataflow"
	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/manifest"
	"semantic-compiler/internal/spec"
	"semantic-compiler/internal/sqlplan"
)

// lowered is a statement together with the row shape it produces.
type lowered struct {
	stmt      *sqlplan.SelectStatement
	instances spec.InstanceSet
}

type cteEntry struct {
	name      string
	instances spec.InstanceSet
}

// lowering converts one dataflow plan. Without CTE nodes every parent is
// inlined as a subquery, so a node reached twice is lowered twice. Nodes in
// cteNodes are lowered once, declared on the top-level statement in
// dependency order and read by name.
type lowering struct {
	resolver spec.ColumnAssociationResolver
	cteNodes map[dataflow.NodeID]bool
	ctes     map[dataflow.NodeID]cteEntry
	declared []sqlplan.CommonTableExpression
	aliasSeq int
}

func newLowering(resolver spec.ColumnAssociationResolver, cteNodes []dataflow.Node) *lowering {
	l := &lowering{
		resolver: resolver,
		cteNodes: make(map[dataflow.NodeID]bool, len(cteNodes)),
		ctes:     make(map[dataflow.NodeID]cteEntry),
	}
	for _, n := range cteNodes {
		l.cteNodes[n.ID()] = true
	}
	return l
}

// lowerPlan lowers the plan rooted at sink and attaches the CTEs.
func (l *lowering) lowerPlan(sink dataflow.Node) (lowered, error) {
	out, err := l.lowerNode(sink)
	if err != nil {
		return lowered{}, err
	}
	if len(l.declared) > 0 {
		stmt := out.stmt.Clone()
		stmt.CteSources = append(slices.Clone(l.declared), stmt.CteSources...)
		out.stmt = stmt
	}
	return out, nil
}

func (l *lowering) nextAlias(prefix string) string {
	l.aliasSeq++
	return fmt.Sprintf("%s_%d", prefix, l.aliasSeq)
}

// source returns how a parent is read: inline or by CTE name.
func (l *lowering) source(parent dataflow.Node) (sqlplan.Source, spec.InstanceSet, error) {
	if !l.cteNodes[parent.ID()] {
		out, err := l.lowerNode(parent)
		if err != nil {
			return nil, spec.InstanceSet{}, err
		}
		return out.stmt, out.instances, nil
	}
	if entry, ok := l.ctes[parent.ID()]; ok {
		return &sqlplan.CteRef{Name: entry.name}, entry.instances, nil
	}
	out, err := l.lowerNode(parent)
	if err != nil {
		return nil, spec.InstanceSet{}, err
	}
	entry := cteEntry{name: parent.ID().String() + "_cte", instances: out.instances}
	l.ctes[parent.ID()] = entry
	l.declared = append(l.declared, sqlplan.CommonTableExpression{Name: entry.name, Select: out.stmt})
	return &sqlplan.CteRef{Name: entry.name}, entry.instances, nil
}

// input is a parent read under an alias.
type input struct {
	alias     string
	source    sqlplan.Source
	instances spec.InstanceSet
}

func (l *lowering) read(parent dataflow.Node) (input, error) {
	src, instances, err := l.source(parent)
	if err != nil {
		return input{}, err
	}
	return input{alias: l.nextAlias("subq"), source: src, instances: instances}, nil
}

// column references s in the input.
func (in input) column(s spec.Spec) (*sqlplan.ColumnRef, error) {
	inst, ok := in.instances.Lookup(s)
	if !ok {
		return nil, fmt.Errorf("%s is not produced by input %s", s.QualifiedName(), in.alias)
	}
	return sqlplan.Col(in.alias, inst.Column), nil
}

// passthrough selects specs from the input under their own column names.
func (l *lowering) passthrough(in input, specs []spec.Spec) ([]sqlplan.SelectColumn, error) {
	cols := make([]sqlplan.SelectColumn, 0, len(specs))
	for _, s := range specs {
		ref, err := in.column(s)
		if err != nil {
			return nil, err
		}
		cols = append(cols, sqlplan.SelectColumn{Expr: ref, Alias: l.resolver.ColumnName(s)})
	}
	return cols, nil
}

func (l *lowering) instancesOf(n dataflow.Node) spec.InstanceSet {
	return spec.InstancesFor(l.resolver, n.OutputSpecs()...)
}

func (l *lowering) lowerNode(n dataflow.Node) (lowered, error) {
	var (
		stmt *sqlplan.SelectStatement
		err  error
	)
	switch n := n.(type) {
	case *dataflow.ReadSQLSourceNode:
		stmt, err = l.lowerReadSQLSource(n)
	case *dataflow.MetricTimeDimensionTransformNode:
		stmt, err = l.lowerMetricTimeTransform(n)
	case *dataflow.JoinOnEntitiesNode:
		stmt, err = l.lowerJoinOnEntities(n)
	case *dataflow.WhereConstraintNode:
		stmt, err = l.lowerWhereConstraint(n)
	case *dataflow.ConstrainTimeRangeNode:
		stmt, err = l.lowerConstrainTimeRange(n)
	case *dataflow.FilterElementsNode:
		stmt, err = l.lowerFilterElements(n)
	case *dataflow.AggregateMeasuresNode:
		stmt, err = l.lowerAggregateMeasures(n)
	case *dataflow.ComputeMetricsNode:
		stmt, err = l.lowerComputeMetrics(n)
	case *dataflow.CombineAggregatedOutputsNode:
		stmt, err = l.lowerCombine(n)
	case *dataflow.JoinToTimeSpineNode:
		stmt, err = l.lowerJoinToTimeSpine(n)
	case *dataflow.JoinOverTimeRangeNode:
		stmt, err = l.lowerJoinOverTimeRange(n)
	case *dataflow.OrderByLimitNode:
		stmt, err = l.lowerOrderByLimit(n)
	case *dataflow.WriteToResultDataTableNode:
		return l.lowerNode(n.Parent())
	default:
		panic(fmt.Sprintf("unhandled dataflow node type %T", n))
	}
	if err != nil {
		return lowered{}, err
	}
	stmt.Description = n.Description()
	return lowered{stmt: stmt, instances: l.instancesOf(n)}, nil
}

func (l *lowering) lowerReadSQLSource(n *dataflow.ReadSQLSourceNode) (*sqlplan.SelectStatement, error) {
	model := n.Model
	cols := make([]sqlplan.SelectColumn, 0, len(n.OutputSpecs()))
	for _, s := range n.OutputSpecs() {
		var expr sqlplan.Expr
		switch s := s.(type) {
		case spec.EntitySpec:
			e := manifest.FindEntity(model, s.Element)
			if e == nil {
				return nil, fmt.Errorf("entity %q not found in semantic model %q", s.Element, model.Name)
			}
			expr = &sqlplan.StringExpr{SQL: e.Column()}
		case spec.DimensionSpec:
			d := manifest.FindDimension(model, s.Element)
			if d == nil {
				return nil, fmt.Errorf("dimension %q not found in semantic model %q", s.Element, model.Name)
			}
			expr = &sqlplan.StringExpr{SQL: d.Column()}
		case spec.TimeDimensionSpec:
			d := manifest.FindDimension(model, s.Element)
			if d == nil {
				return nil, fmt.Errorf("time dimension %q not found in semantic model %q", s.Element, model.Name)
			}
			expr = &sqlplan.DateTrunc{Granularity: s.Granularity, Expr: &sqlplan.StringExpr{SQL: d.Column()}}
		case spec.MeasureSpec:
			idx := slices.IndexFunc(model.Measures, func(m domain.Measure) bool { return m.Name == s.Element })
			if idx < 0 {
				return nil, fmt.Errorf("measure %q not found in semantic model %q", s.Element, model.Name)
			}
			m := model.Measures[idx]
			expr = &sqlplan.StringExpr{SQL: m.Column()}
			if m.Agg == domain.AggSumBoolean {
				expr = &sqlplan.Cast{Expr: expr, Type: "INTEGER"}
			}
		default:
			return nil, fmt.Errorf("semantic model %q cannot produce %s", model.Name, s.QualifiedName())
		}
		cols = append(cols, sqlplan.SelectColumn{Expr: expr, Alias: l.resolver.ColumnName(s)})
	}
	return &sqlplan.SelectStatement{
		SelectColumns: cols,
		FromSource:    sqlplan.TableRefFor(model.NodeRelation),
		FromAlias:     l.nextAlias(model.Name + "_src"),
	}, nil
}

func (l *lowering) lowerMetricTimeTransform(n *dataflow.MetricTimeDimensionTransformNode) (*sqlplan.SelectStatement, error) {
	in, err := l.read(n.Parent())
	if err != nil {
		return nil, err
	}
	cols := make([]sqlplan.SelectColumn, 0, len(n.OutputSpecs()))
	for _, s := range n.OutputSpecs() {
		from := s
		if td, ok := s.(spec.TimeDimensionSpec); ok && td.IsMetricTime() {
			from = spec.NewTimeDimensionSpec(n.AggTimeDimension, td.Granularity)
		}
		ref, err := in.column(from)
		if err != nil {
			return nil, err
		}
		cols = append(cols, sqlplan.SelectColumn{Expr: ref, Alias: l.resolver.ColumnName(s)})
	}
	return &sqlplan.SelectStatement{SelectColumns: cols, FromSource: in.source, FromAlias: in.alias}, nil
}

func (l *lowering) lowerJoinOnEntities(n *dataflow.JoinOnEntitiesNode) (*sqlplan.SelectStatement, error) {
	left, err := l.read(n.Left())
	if err != nil {
		return nil, err
	}
	cols, err := l.passthrough(left, n.Left().OutputSpecs())
	if err != nil {
		return nil, err
	}
	stmt := &sqlplan.SelectStatement{FromSource: left.source, FromAlias: left.alias}
	for _, t := range n.Targets {
		right, err := l.read(t.Node)
		if err != nil {
			return nil, err
		}
		leftKey, err := left.column(spec.NewEntitySpec(t.Entity))
		if err != nil {
			return nil, err
		}
		rightKey, err := right.column(spec.NewEntitySpec(t.Entity))
		if err != nil {
			return nil, err
		}
		joined, err := l.passthrough(right, dataflow.JoinedSpecs(t))
		if err != nil {
			return nil, err
		}
		cols = append(cols, joined...)
		stmt.Joins = append(stmt.Joins, sqlplan.JoinDesc{
			Source: right.source,
			Alias:  right.alias,
			Type:   sqlplan.JoinLeftOuter,
			On:     &sqlplan.BinaryExpr{Op: "=", Left: leftKey, Right: rightKey},
		})
	}
	stmt.SelectColumns = cols
	return stmt, nil
}

func (l *lowering) lowerWhereConstraint(n *dataflow.WhereConstraintNode) (*sqlplan.SelectStatement, error) {
	in, err := l.read(n.Parent())
	if err != nil {
		return nil, err
	}
	used := make([]string, 0, len(n.Where.Specs()))
	for _, s := range n.Where.Specs() {
		if _, ok := in.instances.Lookup(s); !ok {
			return nil, domain.ErrInvalidQuery("where filter references %s, which is not available to the filtered query", s.QualifiedName())
		}
		used = append(used, l.resolver.ColumnName(s))
	}
	rendered, err := n.Where.Render(l.resolver)
	if err != nil {
		return nil, err
	}
	cols, err := l.passthrough(in, n.OutputSpecs())
	if err != nil {
		return nil, err
	}
	return &sqlplan.SelectStatement{
		SelectColumns: cols,
		FromSource:    in.source,
		FromAlias:     in.alias,
		Where:         &sqlplan.StringExpr{SQL: rendered, UsedColumns: used},
	}, nil
}

func (l *lowering) lowerConstrainTimeRange(n *dataflow.ConstrainTimeRangeNode) (*sqlplan.SelectStatement, error) {
	in, err := l.read(n.Parent())
	if err != nil {
		return nil, err
	}
	cols, err := l.passthrough(in, n.OutputSpecs())
	if err != nil {
		return nil, err
	}
	ref, err := in.column(n.MetricTime)
	if err != nil {
		return nil, err
	}
	return &sqlplan.SelectStatement{
		SelectColumns: cols,
		FromSource:    in.source,
		FromAlias:     in.alias,
		Where: &sqlplan.Between{
			Expr: ref,
			Low:  &sqlplan.Literal{Value: n.TimeRange.Start},
			High: &sqlplan.Literal{Value: n.TimeRange.End},
		},
	}, nil
}

func (l *lowering) lowerFilterElements(n *dataflow.FilterElementsNode) (*sqlplan.SelectStatement, error) {
	in, err := l.read(n.Parent())
	if err != nil {
		return nil, err
	}
	cols, err := l.passthrough(in, n.Include)
	if err != nil {
		return nil, err
	}
	return &sqlplan.SelectStatement{
		SelectColumns: cols,
		FromSource:    in.source,
		FromAlias:     in.alias,
		Distinct:      n.Distinct,
	}, nil
}

func aggregate(agg domain.AggregationType, arg sqlplan.Expr) (sqlplan.Expr, error) {
	switch agg {
	case domain.AggSum, domain.AggSumBoolean:
		return &sqlplan.FuncCall{Name: "SUM", Args: []sqlplan.Expr{arg}}, nil
	case domain.AggCount:
		return &sqlplan.FuncCall{Name: "COUNT", Args: []sqlplan.Expr{arg}}, nil
	case domain.AggCountDistinct:
		return &sqlplan.FuncCall{Name: "COUNT", Args: []sqlplan.Expr{arg}, Distinct: true}, nil
	case domain.AggAverage:
		return &sqlplan.FuncCall{Name: "AVG", Args: []sqlplan.Expr{arg}}, nil
	case domain.AggMin:
		return &sqlplan.FuncCall{Name: "MIN", Args: []sqlplan.Expr{arg}}, nil
	case domain.AggMax:
		return &sqlplan.FuncCall{Name: "MAX", Args: []sqlplan.Expr{arg}}, nil
	default:
		return nil, domain.ErrNotImplemented("aggregation type %q is not supported", agg)
	}
}

func (l *lowering) lowerAggregateMeasures(n *dataflow.AggregateMeasuresNode) (*sqlplan.SelectStatement, error) {
	in, err := l.read(n.Parent())
	if err != nil {
		return nil, err
	}
	stmt := &sqlplan.SelectStatement{FromSource: in.source, FromAlias: in.alias}
	for _, s := range n.OutputSpecs() {
		ref, err := in.column(s)
		if err != nil {
			return nil, err
		}
		col := sqlplan.SelectColumn{Expr: ref, Alias: l.resolver.ColumnName(s)}
		if s.Kind() != spec.KindMeasure {
			stmt.SelectColumns = append(stmt.SelectColumns, col)
			stmt.GroupBys = append(stmt.GroupBys, col)
			continue
		}
		agg, ok := n.Aggregation(s.ElementName())
		if !ok {
			return nil, fmt.Errorf("no aggregation given for measure %q", s.ElementName())
		}
		if col.Expr, err = aggregate(agg, ref); err != nil {
			return nil, err
		}
		stmt.SelectColumns = append(stmt.SelectColumns, col)
	}
	return stmt, nil
}

func (l *lowering) lowerComputeMetrics(n *dataflow.ComputeMetricsNode) (*sqlplan.SelectStatement, error) {
	in, err := l.read(n.Parent())
	if err != nil {
		return nil, err
	}
	cols, err := l.passthrough(in, dataflow.LinkableSpecs(n.Parent().OutputSpecs()))
	if err != nil {
		return nil, err
	}
	for _, mc := range n.Metrics {
		expr, err := l.metricExpr(in, mc.Metric)
		if err != nil {
			return nil, err
		}
		cols = append(cols, sqlplan.SelectColumn{Expr: expr, Alias: l.resolver.ColumnName(mc.Spec)})
	}
	return &sqlplan.SelectStatement{SelectColumns: cols, FromSource: in.source, FromAlias: in.alias}, nil
}

func (l *lowering) metricExpr(in input, metric *domain.Metric) (sqlplan.Expr, error) {
	params := metric.TypeParams
	switch metric.Type {
	case domain.MetricTypeSimple, domain.MetricTypeCumulative:
		if params.Measure == nil {
			return nil, domain.ErrValidation("metric %q has no measure", metric.Name)
		}
		ref, err := in.column(spec.MeasureSpec{Element: params.Measure.Name})
		if err != nil {
			return nil, err
		}
		if params.Measure.FillNullsWith == nil {
			return ref, nil
		}
		return &sqlplan.FuncCall{Name: "COALESCE", Args: []sqlplan.Expr{ref, &sqlplan.Literal{Value: *params.Measure.FillNullsWith}}}, nil
	case domain.MetricTypeRatio:
		if params.Numerator == nil || params.Denominator == nil {
			return nil, domain.ErrValidation("ratio metric %q needs a numerator and a denominator", metric.Name)
		}
		num, err := in.column(spec.MetricSpec{Element: params.Numerator.Name, Alias: params.Numerator.Alias})
		if err != nil {
			return nil, err
		}
		den, err := in.column(spec.MetricSpec{Element: params.Denominator.Name, Alias: params.Denominator.Alias})
		if err != nil {
			return nil, err
		}
		return &sqlplan.BinaryExpr{
			Op:   "/",
			Left: &sqlplan.Cast{Expr: num, Type: "DOUBLE"},
			Right: &sqlplan.Cast{
				Expr: &sqlplan.FuncCall{Name: "NULLIF", Args: []sqlplan.Expr{den, &sqlplan.Literal{Value: 0}}},
				Type: "DOUBLE",
			},
		}, nil
	case domain.MetricTypeDerived:
		used := make([]string, 0, len(params.Metrics))
		for _, mi := range params.Metrics {
			s := spec.MetricSpec{Element: mi.Name, Alias: mi.Alias}
			if _, err := in.column(s); err != nil {
				return nil, err
			}
			used = append(used, l.resolver.ColumnName(s))
		}
		return &sqlplan.StringExpr{SQL: params.Expr, UsedColumns: used}, nil
	default:
		return nil, domain.ErrNotImplemented("metric type %q is not supported", metric.Type)
	}
}

func (l *lowering) lowerCombine(n *dataflow.CombineAggregatedOutputsNode) (*sqlplan.SelectStatement, error) {
	parents := n.Parents()
	inputs := make([]input, len(parents))
	for i, p := range parents {
		in, err := l.read(p)
		if err != nil {
			return nil, err
		}
		inputs[i] = in
	}
	if len(inputs) == 1 {
		cols, err := l.passthrough(inputs[0], n.OutputSpecs())
		if err != nil {
			return nil, err
		}
		return &sqlplan.SelectStatement{SelectColumns: cols, FromSource: inputs[0].source, FromAlias: inputs[0].alias}, nil
	}

	linkable := dataflow.LinkableSpecs(n.OutputSpecs())
	// keys[i][k] is the column of linkable spec k in input i.
	keys := make([][]sqlplan.Expr, len(inputs))
	for i, in := range inputs {
		keys[i] = make([]sqlplan.Expr, len(linkable))
		for k, s := range linkable {
			ref, err := in.column(s)
			if err != nil {
				return nil, err
			}
			keys[i][k] = ref
		}
	}
	coalesced := func(k, upTo int) sqlplan.Expr {
		if upTo == 1 {
			return keys[0][k]
		}
		args := make([]sqlplan.Expr, upTo)
		for i := 0; i < upTo; i++ {
			args[i] = keys[i][k]
		}
		return &sqlplan.FuncCall{Name: "COALESCE", Args: args}
	}

	stmt := &sqlplan.SelectStatement{FromSource: inputs[0].source, FromAlias: inputs[0].alias}
	for k, s := range linkable {
		col := sqlplan.SelectColumn{Expr: coalesced(k, len(inputs)), Alias: l.resolver.ColumnName(s)}
		stmt.SelectColumns = append(stmt.SelectColumns, col)
		stmt.GroupBys = append(stmt.GroupBys, col)
	}
	for i, in := range inputs {
		for _, s := range in.instances.Specs() {
			if k := s.Kind(); k != spec.KindMeasure && k != spec.KindMetric {
				continue
			}
			ref, err := in.column(s)
			if err != nil {
				return nil, err
			}
			stmt.SelectColumns = append(stmt.SelectColumns, sqlplan.SelectColumn{
				Expr:  &sqlplan.FuncCall{Name: "MAX", Args: []sqlplan.Expr{ref}},
				Alias: l.resolver.ColumnName(s),
			})
		}
		if i == 0 {
			continue
		}
		if len(linkable) == 0 {
			stmt.Joins = append(stmt.Joins, sqlplan.JoinDesc{Source: in.source, Alias: in.alias, Type: sqlplan.JoinCross})
			continue
		}
		conds := make([]sqlplan.Expr, len(linkable))
		for k := range linkable {
			conds[k] = &sqlplan.BinaryExpr{Op: "=", Left: coalesced(k, i), Right: keys[i][k]}
		}
		stmt.Joins = append(stmt.Joins, sqlplan.JoinDesc{
			Source: in.source,
			Alias:  in.alias,
			Type:   sqlplan.JoinFullOuter,
			On:     sqlplan.And(conds...),
		})
	}
	return stmt, nil
}

// spineSubquery selects each distinct period of the time spine at the
// granularity of metricTime.
func (l *lowering) spineSubquery(spine domain.TimeSpine, metricTime spec.TimeDimensionSpec) *sqlplan.SelectStatement {
	alias := l.nextAlias("time_spine_src")
	return &sqlplan.SelectStatement{
		Description: "Time Spine",
		SelectColumns: []sqlplan.SelectColumn{{
			Expr:  &sqlplan.DateTrunc{Granularity: metricTime.Granularity, Expr: sqlplan.Col(alias, spine.PrimaryColumn.Name)},
			Alias: l.resolver.ColumnName(metricTime),
		}},
		FromSource: sqlplan.TableRefFor(spine.NodeRelation),
		FromAlias:  alias,
		Distinct:   true,
	}
}

// spineJoin builds SELECT spine.metric_time, parent.<other columns> FROM spine
// JOIN parent. on receives the spine and parent metric time columns.
func (l *lowering) spineJoin(
	n dataflow.Node,
	spine domain.TimeSpine,
	metricTime spec.TimeDimensionSpec,
	joinType sqlplan.JoinType,
	on func(spineTime, parentTime sqlplan.Expr) sqlplan.Expr,
) (*sqlplan.SelectStatement, error) {
	in, err := l.read(n.Parents()[0])
	if err != nil {
		return nil, err
	}
	parentTime, err := in.column(metricTime)
	if err != nil {
		return nil, err
	}
	spineAlias := l.nextAlias("subq")
	column := l.resolver.ColumnName(metricTime)
	spineTime := sqlplan.Col(spineAlias, column)

	cols := []sqlplan.SelectColumn{{Expr: spineTime, Alias: column}}
	for _, s := range n.OutputSpecs() {
		if spec.Equal(s, metricTime) {
			continue
		}
		ref, err := in.column(s)
		if err != nil {
			return nil, err
		}
		cols = append(cols, sqlplan.SelectColumn{Expr: ref, Alias: l.resolver.ColumnName(s)})
	}
	return &sqlplan.SelectStatement{
		SelectColumns: cols,
		FromSource:    l.spineSubquery(spine, metricTime),
		FromAlias:     spineAlias,
		Joins: []sqlplan.JoinDesc{{
			Source: in.source,
			Alias:  in.alias,
			Type:   joinType,
			On:     on(spineTime, parentTime),
		}},
	}, nil
}

func (l *lowering) lowerJoinToTimeSpine(n *dataflow.JoinToTimeSpineNode) (*sqlplan.SelectStatement, error) {
	return l.spineJoin(n, n.TimeSpine, n.MetricTime, sqlplan.JoinLeftOuter, func(spineTime, parentTime sqlplan.Expr) sqlplan.Expr {
		return &sqlplan.BinaryExpr{Op: "=", Left: spineTime, Right: parentTime}
	})
}

func (l *lowering) lowerJoinOverTimeRange(n *dataflow.JoinOverTimeRangeNode) (*sqlplan.SelectStatement, error) {
	return l.spineJoin(n, n.TimeSpine, n.MetricTime, sqlplan.JoinInner, func(spineTime, parentTime sqlplan.Expr) sqlplan.Expr {
		upTo := &sqlplan.BinaryExpr{Op: "<=", Left: parentTime, Right: spineTime}
		switch {
		case n.Window != nil:
			return sqlplan.And(upTo, &sqlplan.BinaryExpr{
				Op:   ">",
				Left: parentTime,
				Right: &sqlplan.BinaryExpr{
					Op:    "-",
					Left:  spineTime,
					Right: &sqlplan.Interval{Count: n.Window.Count, Granularity: n.Window.Granularity},
				},
			})
		case n.GrainToDate.IsValid():
			return sqlplan.And(upTo, &sqlplan.BinaryExpr{
				Op:    ">=",
				Left:  parentTime,
				Right: &sqlplan.DateTrunc{Granularity: n.GrainToDate, Expr: spineTime},
			})
		default:
			return upTo
		}
	})
}

func (l *lowering) lowerOrderByLimit(n *dataflow.OrderByLimitNode) (*sqlplan.SelectStatement, error) {
	in, err := l.read(n.Parent())
	if err != nil {
		return nil, err
	}
	cols, err := l.passthrough(in, n.OutputSpecs())
	if err != nil {
		return nil, err
	}
	stmt := &sqlplan.SelectStatement{SelectColumns: cols, FromSource: in.source, FromAlias: in.alias, Limit: n.Limit}
	for _, o := range n.OrderBy {
		ref, err := in.column(o.Spec)
		if err != nil {
			return nil, domain.ErrInvalidQuery("cannot order by %s: it is not part of the query output", o.Spec.QualifiedName())
		}
		stmt.OrderBys = append(stmt.OrderBys, sqlplan.OrderBy{Expr: ref, Descending: o.Descending})
	}
	return stmt, nil
}
