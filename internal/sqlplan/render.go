package sqlplan

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"semantic-compiler/internal/domain"
)

// Render formats a statement as SQL for engine. The output is flat (no
// pretty-printing) and always quotes identifiers.
func Render(stmt *SelectStatement, engine domain.SQLEngine) string {
	f := newFormatter(engine)
	f.formatSelect(stmt)
	return strings.TrimSpace(f.buf.String())
}

// RenderExpr formats an expression as SQL for engine.
func RenderExpr(e Expr, engine domain.SQLEngine) string {
	f := newFormatter(engine)
	f.formatExpr(e)
	return strings.TrimSpace(f.buf.String())
}

// formatter is a simple SQL string builder. No indentation or pretty-printing.
type formatter struct {
	buf      strings.Builder
	bigQuery bool
}

func newFormatter(engine domain.SQLEngine) *formatter {
	return &formatter{bigQuery: engine == domain.EngineBigQuery}
}

func (f *formatter) write(s string) {
	f.buf.WriteString(s)
}

func (f *formatter) space() {
	f.buf.WriteByte(' ')
}

// writeIdent writes a quoted identifier, escaping embedded quotes by doubling.
func (f *formatter) writeIdent(s string) {
	q := `"`
	if f.bigQuery {
		q = "`"
	}
	f.write(q + strings.ReplaceAll(s, q, q+q) + q)
}

// commaSep writes items separated by ", ".
func (f *formatter) commaSep(n int, fn func(i int)) {
	for i := 0; i < n; i++ {
		if i > 0 {
			f.write(", ")
		}
		fn(i)
	}
}

func (f *formatter) formatSelect(s *SelectStatement) {
	if len(s.CteSources) > 0 {
		f.write("WITH ")
		f.commaSep(len(s.CteSources), func(i int) {
			cte := s.CteSources[i]
			f.writeIdent(cte.Name)
			f.write(" AS (")
			f.formatSelect(cte.Select)
			f.write(")")
		})
		f.space()
	}

	f.write("SELECT ")
	if s.Distinct {
		f.write("DISTINCT ")
	}
	f.commaSep(len(s.SelectColumns), func(i int) {
		f.formatSelectColumn(s.SelectColumns[i])
	})

	if s.FromSource != nil {
		f.write(" FROM ")
		f.formatSource(s.FromSource, s.FromAlias)
	}
	for _, j := range s.Joins {
		f.space()
		f.write(string(j.Type))
		f.space()
		f.formatSource(j.Source, j.Alias)
		if j.On != nil {
			f.write(" ON ")
			f.formatExpr(j.On)
		}
	}
	if s.Where != nil {
		f.write(" WHERE ")
		f.formatExpr(s.Where)
	}
	if len(s.GroupBys) > 0 {
		f.write(" GROUP BY ")
		f.commaSep(len(s.GroupBys), func(i int) {
			f.formatExpr(s.GroupBys[i].Expr)
		})
	}
	if len(s.OrderBys) > 0 {
		f.write(" ORDER BY ")
		f.commaSep(len(s.OrderBys), func(i int) {
			f.formatExpr(s.OrderBys[i].Expr)
			if s.OrderBys[i].Descending {
				f.write(" DESC")
			}
		})
	}
	if s.Limit != nil {
		f.write(" LIMIT ")
		f.write(strconv.Itoa(*s.Limit))
	}
}

func (f *formatter) formatSelectColumn(c SelectColumn) {
	f.formatExpr(c.Expr)
	if c.Alias == "" {
		return
	}
	if ref, ok := c.Expr.(*ColumnRef); ok && ref.Table == "" && ref.Column == c.Alias {
		return
	}
	f.write(" AS ")
	f.writeIdent(c.Alias)
}

func (f *formatter) formatSource(src Source, alias string) {
	switch src := src.(type) {
	case *SelectStatement:
		f.write("(")
		f.formatSelect(src)
		f.write(")")
	case *TableRef:
		if src.Schema != "" {
			f.writeIdent(src.Schema)
			f.write(".")
		}
		f.writeIdent(src.Table)
	case *CteRef:
		f.writeIdent(src.Name)
	default:
		panic(fmt.Sprintf("unhandled sql source type %T", src))
	}
	if alias != "" {
		f.space()
		f.writeIdent(alias)
	}
}

func (f *formatter) formatExpr(e Expr) {
	switch e := e.(type) {
	case *ColumnRef:
		if e.Table != "" {
			f.writeIdent(e.Table)
			f.write(".")
		}
		f.writeIdent(e.Column)
	case *StringExpr:
		f.write(e.SQL)
	case *Literal:
		f.formatLiteral(e.Value)
	case *FuncCall:
		f.write(e.Name)
		f.write("(")
		if e.Distinct {
			f.write("DISTINCT ")
		}
		f.commaSep(len(e.Args), func(i int) {
			f.formatExpr(e.Args[i])
		})
		f.write(")")
	case *Cast:
		f.write("CAST(")
		f.formatExpr(e.Expr)
		f.write(" AS ")
		f.write(f.typeName(e.Type))
		f.write(")")
	case *DateTrunc:
		if f.bigQuery {
			f.write("DATE_TRUNC(")
			f.formatExpr(e.Expr)
			f.write(", ")
			f.write(f.datePart(e.Granularity))
			f.write(")")
			return
		}
		f.write("DATE_TRUNC('")
		f.write(f.datePart(e.Granularity))
		f.write("', ")
		f.formatExpr(e.Expr)
		f.write(")")
	case *BinaryExpr:
		f.formatOperand(e.Left, e.Op)
		f.space()
		f.write(e.Op)
		f.space()
		f.formatOperand(e.Right, e.Op)
	case *Between:
		f.formatOperand(e.Expr, "BETWEEN")
		f.write(" BETWEEN ")
		f.formatOperand(e.Low, "BETWEEN")
		f.write(" AND ")
		f.formatOperand(e.High, "BETWEEN")
	case *Interval:
		if f.bigQuery {
			f.write(fmt.Sprintf("INTERVAL %d %s", e.Count, f.datePart(e.Granularity)))
			return
		}
		f.write(fmt.Sprintf("INTERVAL '%d %s'", e.Count, e.Granularity))
	default:
		panic(fmt.Sprintf("unhandled sql expression type %T", e))
	}
}

// formatOperand parenthesizes nested operators, except chains of AND.
func (f *formatter) formatOperand(e Expr, parentOp string) {
	switch e := e.(type) {
	case *BinaryExpr:
		if e.Op == "AND" && parentOp == "AND" {
			f.formatExpr(e)
			return
		}
	case *Between:
		if parentOp == "AND" {
			f.formatExpr(e)
			return
		}
	case *StringExpr:
	default:
		f.formatExpr(e)
		return
	}
	f.write("(")
	f.formatExpr(e)
	f.write(")")
}

func (f *formatter) formatLiteral(v any) {
	switch v := v.(type) {
	case nil:
		f.write("NULL")
	case string:
		f.write("'" + strings.ReplaceAll(v, "'", "''") + "'")
	case bool:
		if v {
			f.write("TRUE")
		} else {
			f.write("FALSE")
		}
	case int:
		f.write(strconv.Itoa(v))
	case float64:
		f.write(strconv.FormatFloat(v, 'f', -1, 64))
	case time.Time:
		layout := time.DateOnly
		if v.Hour() != 0 || v.Minute() != 0 || v.Second() != 0 || v.Nanosecond() != 0 {
			layout = time.DateTime
		}
		f.write("'" + v.Format(layout) + "'")
	default:
		panic(fmt.Sprintf("unhandled sql literal type %T", v))
	}
}

func (f *formatter) typeName(t string) string {
	if !f.bigQuery {
		return t
	}
	switch t {
	case "DOUBLE":
		return "FLOAT64"
	case "INTEGER":
		return "INT64"
	default:
		return t
	}
}

func (f *formatter) datePart(g domain.TimeGranularity) string {
	if !f.bigQuery {
		return g.String()
	}
	if g == domain.GranularityWeek {
		return "ISOWEEK"
	}
	return strings.ToUpper(g.String())
}
