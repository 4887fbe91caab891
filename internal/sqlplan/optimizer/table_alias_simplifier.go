package optimizer

import "semantic-compiler/internal/sqlplan"

// TableAliasSimplifier drops table qualifiers from column references in
// statements that read a single source.
type TableAliasSimplifier struct{}

// NewTableAliasSimplifier returns a table alias simplifier.
func NewTableAliasSimplifier() *TableAliasSimplifier { return &TableAliasSimplifier{} }

func (*TableAliasSimplifier) Name() string { return "table_alias_simplifier" }

func (t *TableAliasSimplifier) Optimize(stmt *sqlplan.SelectStatement) (*sqlplan.SelectStatement, error) {
	return t.simplify(stmt), nil
}

func (t *TableAliasSimplifier) simplify(s *sqlplan.SelectStatement) *sqlplan.SelectStatement {
	var out *sqlplan.SelectStatement
	if len(s.Joins) == 0 {
		out = sqlplan.MapStatementExprs(s, func(e sqlplan.Expr) sqlplan.Expr {
			return sqlplan.ReplaceExpr(e, func(x sqlplan.Expr) (sqlplan.Expr, bool) {
				ref, ok := x.(*sqlplan.ColumnRef)
				if !ok || ref.Table == "" {
					return nil, false
				}
				return &sqlplan.ColumnRef{Column: ref.Column}, true
			})
		})
	} else {
		out = s.Clone()
	}
	for i, cte := range out.CteSources {
		out.CteSources[i].Select = t.simplify(cte.Select)
	}
	if child, ok := out.FromSource.(*sqlplan.SelectStatement); ok {
		out.FromSource = t.simplify(child)
	}
	for i, j := range out.Joins {
		if child, ok := j.Source.(*sqlplan.SelectStatement); ok {
			out.Joins[i].Source = t.simplify(child)
		}
	}
	return out
}
