// Package sqlplan is the SQL abstract syntax tree produced from a dataflow plan:
// nested SELECT statements with joins, CTEs and a small expression language.
// Trees are never mutated after construction; rewrites return new statements
// and share unchanged subtrees.
package sqlplan

import (
	"slices"

	"semantic-compiler/internal/domain"
)

// Node is the base interface for all AST nodes.
type Node interface {
	node()
}

// Expr is a marker interface for expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Source is a marker interface for anything that can appear in FROM or JOIN.
type Source interface {
	Node
	sourceNode()
}

// SQLPlan is the final lowered form of a dataflow plan.
type SQLPlan struct {
	ID        string
	Statement *SelectStatement
}

// SelectStatement is one SELECT. CTEs are owned by the statement that declares
// them and referenced elsewhere only by name.
type SelectStatement struct {
	Description   string
	SelectColumns []SelectColumn
	FromSource    Source
	FromAlias     string
	Joins         []JoinDesc
	Where         Expr
	GroupBys      []SelectColumn
	OrderBys      []OrderBy
	Limit         *int
	Distinct      bool
	CteSources    []CommonTableExpression
}

func (*SelectStatement) node()       {}
func (*SelectStatement) sourceNode() {}

// Clone returns a shallow copy whose slices may be modified independently.
func (s *SelectStatement) Clone() *SelectStatement {
	c := *s
	c.SelectColumns = slices.Clone(s.SelectColumns)
	c.Joins = slices.Clone(s.Joins)
	c.GroupBys = slices.Clone(s.GroupBys)
	c.OrderBys = slices.Clone(s.OrderBys)
	c.CteSources = slices.Clone(s.CteSources)
	return &c
}

// ColumnAliases returns the output column names in order.
func (s *SelectStatement) ColumnAliases() []string {
	out := make([]string, len(s.SelectColumns))
	for i, c := range s.SelectColumns {
		out[i] = c.Alias
	}
	return out
}

// Column returns the select column with the given alias.
func (s *SelectStatement) Column(alias string) (SelectColumn, bool) {
	for _, c := range s.SelectColumns {
		if c.Alias == alias {
			return c, true
		}
	}
	return SelectColumn{}, false
}

// SelectColumn is an aliased expression in a select list or group by.
type SelectColumn struct {
	Expr  Expr
	Alias string
}

// JoinType is the kind of a join.
type JoinType string

// JoinLeftOuter and friends are the join kinds the compiler emits.
const (
	JoinInner     JoinType = "INNER JOIN"
	JoinLeftOuter JoinType = "LEFT OUTER JOIN"
	JoinFullOuter JoinType = "FULL OUTER JOIN"
	JoinCross     JoinType = "CROSS JOIN"
)

// JoinDesc joins Source under Alias. On is nil for cross joins.
type JoinDesc struct {
	Source Source
	Alias  string
	Type   JoinType
	On     Expr
}

// OrderBy is one ORDER BY term.
type OrderBy struct {
	Expr       Expr
	Descending bool
}

// CommonTableExpression is a named statement declared in a WITH clause.
type CommonTableExpression struct {
	Name   string
	Select *SelectStatement
}

// TableRef is a warehouse table.
type TableRef struct {
	Schema string
	Table  string
}

func (*TableRef) node()       {}
func (*TableRef) sourceNode() {}

// TableRefFor returns the table of a node relation.
func TableRefFor(r domain.NodeRelation) *TableRef {
	return &TableRef{Schema: r.SchemaName, Table: r.Alias}
}

// CteRef reads a CTE declared on an enclosing statement.
type CteRef struct {
	Name string
}

func (*CteRef) node()       {}
func (*CteRef) sourceNode() {}

// === Expressions ===

// ColumnRef references a column, optionally qualified by a table alias.
type ColumnRef struct {
	Table  string
	Column string
}

// StringExpr is raw SQL from the semantic manifest or a where filter.
// UsedColumns lists the unqualified columns it reads from the sources of its
// statement; nil means unknown.
type StringExpr struct {
	SQL         string
	UsedColumns []string
}

// Literal is a constant: string, int, float64, bool, time.Time, or nil for NULL.
type Literal struct {
	Value any
}

// FuncCall is a function or aggregate call.
type FuncCall struct {
	Name     string
	Args     []Expr
	Distinct bool
}

// Cast converts Expr to a logical type such as DOUBLE or INTEGER.
type Cast struct {
	Expr Expr
	Type string
}

// DateTrunc truncates Expr to the start of its Granularity period.
type DateTrunc struct {
	Granularity domain.TimeGranularity
	Expr        Expr
}

// BinaryExpr is an infix operation such as =, <=, AND, -, /.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

// Between is an inclusive range check.
type Between struct {
	Expr Expr
	Low  Expr
	High Expr
}

// Interval is a duration of Count granularity periods.
type Interval struct {
	Count       int
	Granularity domain.TimeGranularity
}

func (*ColumnRef) node()      {}
func (*ColumnRef) exprNode()  {}
func (*StringExpr) node()     {}
func (*StringExpr) exprNode() {}
func (*Literal) node()        {}
func (*Literal) exprNode()    {}
func (*FuncCall) node()       {}
func (*FuncCall) exprNode()   {}
func (*Cast) node()           {}
func (*Cast) exprNode()       {}
func (*DateTrunc) node()      {}
func (*DateTrunc) exprNode()  {}
func (*BinaryExpr) node()     {}
func (*BinaryExpr) exprNode() {}
func (*Between) node()        {}
func (*Between) exprNode()    {}
func (*Interval) node()       {}
func (*Interval) exprNode()   {}

// Col is shorthand for a qualified column reference.
func Col(table, column string) *ColumnRef { return &ColumnRef{Table: table, Column: column} }

// And joins predicates with AND, skipping nils. It returns nil when all are nil.
func And(exprs ...Expr) Expr {
	var out Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = &BinaryExpr{Op: "AND", Left: out, Right: e}
	}
	return out
}

var aggregateFuncs = map[string]bool{
	"SUM": true, "COUNT": true, "AVG": true, "MIN": true, "MAX": true,
}

// IsAggregate reports whether the call is an aggregate function.
func (f *FuncCall) IsAggregate() bool { return aggregateFuncs[f.Name] }
