package optimizer

import (
	"semantic-compiler/internal/sqlplan"
)

// SubQueryReducer folds a FROM subquery into the statement reading it when
// the result is equivalent. The child must be a plain projection: no grouping,
// DISTINCT, ordering, limit, aggregates or CTEs of its own. The parent must be
// free of raw SQL since raw SQL cannot have its column references rewritten.
type SubQueryReducer struct {
	useColumnAliasInGroupBy bool
}

// NewSubQueryReducer returns a reducer. With useColumnAliasInGroupBy set,
// GROUP BY terms of every statement are rewritten to reference select aliases.
func NewSubQueryReducer(useColumnAliasInGroupBy bool) *SubQueryReducer {
	return &SubQueryReducer{useColumnAliasInGroupBy: useColumnAliasInGroupBy}
}

func (*SubQueryReducer) Name() string { return "sub_query_reducer" }

func (r *SubQueryReducer) Optimize(stmt *sqlplan.SelectStatement) (*sqlplan.SelectStatement, error) {
	return r.reduce(stmt), nil
}

func (r *SubQueryReducer) reduce(s *sqlplan.SelectStatement) *sqlplan.SelectStatement {
	out := s.Clone()
	for i, cte := range out.CteSources {
		out.CteSources[i].Select = r.reduce(cte.Select)
	}
	if child, ok := out.FromSource.(*sqlplan.SelectStatement); ok {
		out.FromSource = r.reduce(child)
	}
	for i, j := range out.Joins {
		if child, ok := j.Source.(*sqlplan.SelectStatement); ok {
			out.Joins[i].Source = r.reduce(child)
		}
	}
	for {
		child, ok := out.FromSource.(*sqlplan.SelectStatement)
		if !ok || !canMerge(out, child) {
			break
		}
		out = merge(out, child)
	}
	if r.useColumnAliasInGroupBy {
		for i, g := range out.GroupBys {
			out.GroupBys[i].Expr = &sqlplan.ColumnRef{Column: g.Alias}
		}
	}
	return out
}

func canMerge(parent, child *sqlplan.SelectStatement) bool {
	if len(child.GroupBys) > 0 || child.Distinct || child.Limit != nil ||
		len(child.OrderBys) > 0 || len(child.CteSources) > 0 {
		return false
	}
	for _, c := range child.SelectColumns {
		if sqlplan.ContainsAggregate(c.Expr) {
			return false
		}
	}
	if len(parent.Joins) > 0 && len(child.Joins) > 0 {
		return false
	}
	for _, e := range sqlplan.StatementExprs(parent) {
		if sqlplan.ContainsStringExpr(e) {
			return false
		}
	}
	if len(parent.Joins) > 0 {
		for _, e := range sqlplan.StatementExprs(child) {
			if sqlplan.ContainsStringExpr(e) {
				return false
			}
		}
	}
	for _, j := range parent.Joins {
		if j.Type != sqlplan.JoinFullOuter {
			continue
		}
		// An outer join on the other side turns unmatched child columns into
		// NULL, which only a bare column reference reproduces.
		if child.Where != nil {
			return false
		}
		for _, c := range child.SelectColumns {
			if _, ok := c.Expr.(*sqlplan.ColumnRef); !ok {
				return false
			}
		}
	}
	for _, e := range sqlplan.StatementExprs(parent) {
		for _, ref := range sqlplan.ColumnRefs(e) {
			if ref.Table == "" {
				return false
			}
			if ref.Table != parent.FromAlias {
				continue
			}
			if _, ok := child.Column(ref.Column); !ok {
				return false
			}
		}
	}
	return true
}

func merge(parent, child *sqlplan.SelectStatement) *sqlplan.SelectStatement {
	alias := parent.FromAlias
	out := sqlplan.MapStatementExprs(parent, func(e sqlplan.Expr) sqlplan.Expr {
		return sqlplan.ReplaceExpr(e, func(x sqlplan.Expr) (sqlplan.Expr, bool) {
			ref, ok := x.(*sqlplan.ColumnRef)
			if !ok || ref.Table != alias {
				return nil, false
			}
			c, _ := child.Column(ref.Column)
			return c.Expr, true
		})
	})
	out.FromSource = child.FromSource
	out.FromAlias = child.FromAlias
	out.Joins = append(append([]sqlplan.JoinDesc(nil), child.Joins...), out.Joins...)
	out.Where = sqlplan.And(child.Where, out.Where)
	return out
}
