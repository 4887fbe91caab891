package sqlplan

import "fmt"

// VisitExpr calls fn on e and every sub-expression, parents first.
func VisitExpr(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch e := e.(type) {
	case *ColumnRef, *StringExpr, *Literal, *Interval:
	case *FuncCall:
		for _, a := range e.Args {
			VisitExpr(a, fn)
		}
	case *Cast:
		VisitExpr(e.Expr, fn)
	case *DateTrunc:
		VisitExpr(e.Expr, fn)
	case *BinaryExpr:
		VisitExpr(e.Left, fn)
		VisitExpr(e.Right, fn)
	case *Between:
		VisitExpr(e.Expr, fn)
		VisitExpr(e.Low, fn)
		VisitExpr(e.High, fn)
	default:
		panic(fmt.Sprintf("unhandled sql expression type %T", e))
	}
}

// ReplaceExpr returns e with every sub-expression for which fn reports a
// replacement swapped out. Replacements are not descended into. Unchanged
// subtrees are shared with the input.
func ReplaceExpr(e Expr, fn func(Expr) (Expr, bool)) Expr {
	if e == nil {
		return nil
	}
	if r, ok := fn(e); ok {
		return r
	}
	switch e := e.(type) {
	case *ColumnRef, *StringExpr, *Literal, *Interval:
		return e
	case *FuncCall:
		args := make([]Expr, len(e.Args))
		changed := false
		for i, a := range e.Args {
			args[i] = ReplaceExpr(a, fn)
			changed = changed || args[i] != a
		}
		if !changed {
			return e
		}
		return &FuncCall{Name: e.Name, Args: args, Distinct: e.Distinct}
	case *Cast:
		inner := ReplaceExpr(e.Expr, fn)
		if inner == e.Expr {
			return e
		}
		return &Cast{Expr: inner, Type: e.Type}
	case *DateTrunc:
		inner := ReplaceExpr(e.Expr, fn)
		if inner == e.Expr {
			return e
		}
		return &DateTrunc{Granularity: e.Granularity, Expr: inner}
	case *BinaryExpr:
		l, r := ReplaceExpr(e.Left, fn), ReplaceExpr(e.Right, fn)
		if l == e.Left && r == e.Right {
			return e
		}
		return &BinaryExpr{Op: e.Op, Left: l, Right: r}
	case *Between:
		x, lo, hi := ReplaceExpr(e.Expr, fn), ReplaceExpr(e.Low, fn), ReplaceExpr(e.High, fn)
		if x == e.Expr && lo == e.Low && hi == e.High {
			return e
		}
		return &Between{Expr: x, Low: lo, High: hi}
	default:
		panic(fmt.Sprintf("unhandled sql expression type %T", e))
	}
}

// StatementExprs returns the expressions owned directly by s: select columns,
// join conditions, where, group bys and order bys. Nested statements are not
// included.
func StatementExprs(s *SelectStatement) []Expr {
	var out []Expr
	for _, c := range s.SelectColumns {
		out = append(out, c.Expr)
	}
	for _, j := range s.Joins {
		if j.On != nil {
			out = append(out, j.On)
		}
	}
	if s.Where != nil {
		out = append(out, s.Where)
	}
	for _, g := range s.GroupBys {
		out = append(out, g.Expr)
	}
	for _, o := range s.OrderBys {
		out = append(out, o.Expr)
	}
	return out
}

// MapStatementExprs returns a copy of s with fn applied to each expression
// StatementExprs would return.
func MapStatementExprs(s *SelectStatement, fn func(Expr) Expr) *SelectStatement {
	c := s.Clone()
	for i := range c.SelectColumns {
		c.SelectColumns[i].Expr = fn(c.SelectColumns[i].Expr)
	}
	for i := range c.Joins {
		if c.Joins[i].On != nil {
			c.Joins[i].On = fn(c.Joins[i].On)
		}
	}
	if c.Where != nil {
		c.Where = fn(c.Where)
	}
	for i := range c.GroupBys {
		c.GroupBys[i].Expr = fn(c.GroupBys[i].Expr)
	}
	for i := range c.OrderBys {
		c.OrderBys[i].Expr = fn(c.OrderBys[i].Expr)
	}
	return c
}

// ColumnRefs returns every column reference in e.
func ColumnRefs(e Expr) []*ColumnRef {
	var out []*ColumnRef
	VisitExpr(e, func(x Expr) {
		if c, ok := x.(*ColumnRef); ok {
			out = append(out, c)
		}
	})
	return out
}

// ContainsStringExpr reports whether e contains raw SQL.
func ContainsStringExpr(e Expr) bool {
	found := false
	VisitExpr(e, func(x Expr) {
		if _, ok := x.(*StringExpr); ok {
			found = true
		}
	})
	return found
}

// ContainsAggregate reports whether e contains an aggregate call.
func ContainsAggregate(e Expr) bool {
	found := false
	VisitExpr(e, func(x Expr) {
		if f, ok := x.(*FuncCall); ok && f.IsAggregate() {
			found = true
		}
	})
	return found
}

// AliasedSource is a FROM or JOIN source with its alias.
type AliasedSource struct {
	Alias  string
	Source Source
}

// Sources returns the FROM source followed by each joined source.
func Sources(s *SelectStatement) []AliasedSource {
	var out []AliasedSource
	if s.FromSource != nil {
		out = append(out, AliasedSource{Alias: s.FromAlias, Source: s.FromSource})
	}
	for _, j := range s.Joins {
		out = append(out, AliasedSource{Alias: j.Alias, Source: j.Source})
	}
	return out
}
