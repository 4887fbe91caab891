package optimizer

import (
	"semantic-compiler/internal/sqlplan"
)

// ColumnPruner removes select columns that nothing above reads. Columns of
// DISTINCT statements and grouped columns are always kept, as is at least one
// column per statement. Requirements on a CTE are the union over every
// reference to it.
type ColumnPruner struct{}

// NewColumnPruner returns a column pruner.
func NewColumnPruner() *ColumnPruner { return &ColumnPruner{} }

func (*ColumnPruner) Name() string { return "column_pruner" }

// Optimize prunes stmt. The top-level select list is kept as is.
func (*ColumnPruner) Optimize(stmt *sqlplan.SelectStatement) (*sqlplan.SelectStatement, error) {
	run := &pruneRun{cteNeeds: make(map[string]*columnSet)}
	return run.prune(stmt, allColumns()), nil
}

// columnSet is the set of columns read from a source; all means unknown.
type columnSet struct {
	all  bool
	cols map[string]bool
}

func allColumns() *columnSet { return &columnSet{all: true} }

func (c *columnSet) add(col string) {
	if c.all {
		return
	}
	if c.cols == nil {
		c.cols = make(map[string]bool)
	}
	c.cols[col] = true
}

func (c *columnSet) merge(other *columnSet) {
	if other.all {
		c.all = true
		c.cols = nil
		return
	}
	for col := range other.cols {
		c.add(col)
	}
}

type pruneRun struct {
	cteNeeds map[string]*columnSet
}

func (r *pruneRun) prune(s *sqlplan.SelectStatement, need *columnSet) *sqlplan.SelectStatement {
	out := s.Clone()
	if !need.all && !s.Distinct {
		grouped := make(map[string]bool, len(s.GroupBys))
		for _, g := range s.GroupBys {
			grouped[g.Alias] = true
		}
		kept := make([]sqlplan.SelectColumn, 0, len(s.SelectColumns))
		for _, c := range s.SelectColumns {
			if need.cols[c.Alias] || grouped[c.Alias] {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 && len(s.SelectColumns) > 0 {
			kept = append(kept, s.SelectColumns[0])
		}
		out.SelectColumns = kept
	}

	sources := sqlplan.Sources(out)
	needs := make(map[string]*columnSet, len(sources))
	for _, src := range sources {
		needs[src.Alias] = &columnSet{}
	}
	everySource := func(fn func(*columnSet)) {
		for _, n := range needs {
			fn(n)
		}
	}
	for _, e := range sqlplan.StatementExprs(out) {
		sqlplan.VisitExpr(e, func(x sqlplan.Expr) {
			switch x := x.(type) {
			case *sqlplan.ColumnRef:
				if n, ok := needs[x.Table]; ok && x.Table != "" {
					n.add(x.Column)
					return
				}
				everySource(func(n *columnSet) { n.add(x.Column) })
			case *sqlplan.StringExpr:
				if x.UsedColumns == nil {
					everySource(func(n *columnSet) { n.merge(allColumns()) })
					return
				}
				for _, col := range x.UsedColumns {
					everySource(func(n *columnSet) { n.add(col) })
				}
			}
		})
	}

	if child, ok := out.FromSource.(*sqlplan.SelectStatement); ok {
		out.FromSource = r.prune(child, needs[out.FromAlias])
	} else {
		r.noteCteNeed(out.FromSource, needs[out.FromAlias])
	}
	for i, j := range out.Joins {
		if child, ok := j.Source.(*sqlplan.SelectStatement); ok {
			out.Joins[i].Source = r.prune(child, needs[j.Alias])
			continue
		}
		r.noteCteNeed(j.Source, needs[j.Alias])
	}

	// CTEs may only read CTEs declared before them, so walking backwards sees
	// every reference to a CTE before pruning it.
	for i := len(out.CteSources) - 1; i >= 0; i-- {
		cte := out.CteSources[i]
		cteNeed, ok := r.cteNeeds[cte.Name]
		if !ok {
			cteNeed = allColumns()
		}
		out.CteSources[i].Select = r.prune(cte.Select, cteNeed)
	}
	return out
}

func (r *pruneRun) noteCteNeed(src sqlplan.Source, need *columnSet) {
	ref, ok := src.(*sqlplan.CteRef)
	if !ok || need == nil {
		return
	}
	if existing, ok := r.cteNeeds[ref.Name]; ok {
		existing.merge(need)
		return
	}
	merged := &columnSet{}
	merged.merge(need)
	r.cteNeeds[ref.Name] = merged
}
