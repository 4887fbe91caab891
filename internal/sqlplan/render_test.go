package sqlplan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"semantic-compiler/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRender(t *testing.T) {
	limit := 10
	stmt := &SelectStatement{
		CteSources: []CommonTableExpression{{
			Name: "cm_1_cte",
			Select: &SelectStatement{
				SelectColumns: []SelectColumn{{Expr: Col("t", "a"), Alias: "a"}},
				FromSource:    &TableRef{Schema: "main", Table: "t"},
				FromAlias:     "t",
			},
		}},
		SelectColumns: []SelectColumn{
			{Expr: Col("c", "a"), Alias: "a"},
			{Expr: &FuncCall{Name: "SUM", Args: []Expr{Col("c", "b")}}, Alias: "b"},
		},
		FromSource: &CteRef{Name: "cm_1_cte"},
		FromAlias:  "c",
		Joins: []JoinDesc{{
			Source: &TableRef{Schema: "main", Table: "u"},
			Alias:  "u",
			Type:   JoinLeftOuter,
			On:     &BinaryExpr{Op: "=", Left: Col("c", "a"), Right: Col("u", "a")},
		}},
		Where: And(
			&Between{Expr: Col("c", "d"), Low: &Literal{Value: date(2020, 1, 1)}, High: &Literal{Value: date(2020, 1, 31)}},
			&StringExpr{SQL: "x > 1"},
		),
		GroupBys: []SelectColumn{{Expr: Col("c", "a"), Alias: "a"}},
		OrderBys: []OrderBy{{Expr: Col("c", "a"), Descending: true}},
		Limit:    &limit,
	}

	want := `WITH "cm_1_cte" AS (SELECT "t"."a" AS "a" FROM "main"."t" "t") ` +
		`SELECT "c"."a" AS "a", SUM("c"."b") AS "b" FROM "cm_1_cte" "c" ` +
		`LEFT OUTER JOIN "main"."u" "u" ON "c"."a" = "u"."a" ` +
		`WHERE "c"."d" BETWEEN '2020-01-01' AND '2020-01-31' AND (x > 1) ` +
		`GROUP BY "c"."a" ORDER BY "c"."a" DESC LIMIT 10`
	assert.Equal(t, want, Render(stmt, domain.EngineDuckDB))
}

func TestRenderExpr(t *testing.T) {
	ratio := &BinaryExpr{
		Op:    "/",
		Left:  &Cast{Expr: Col("a", "num"), Type: "DOUBLE"},
		Right: &Cast{Expr: &FuncCall{Name: "NULLIF", Args: []Expr{Col("a", "den"), &Literal{Value: 0}}}, Type: "DOUBLE"},
	}
	window := &BinaryExpr{
		Op:    "-",
		Left:  &DateTrunc{Granularity: domain.GranularityMonth, Expr: Col("t", "ds")},
		Right: &Interval{Count: 2, Granularity: domain.GranularityMonth},
	}

	tests := []struct {
		name   string
		expr   Expr
		engine domain.SQLEngine
		want   string
	}{
		{"ratio", ratio, domain.EngineDuckDB, `CAST("a"."num" AS DOUBLE) / CAST(NULLIF("a"."den", 0) AS DOUBLE)`},
		{"ratio bigquery", ratio, domain.EngineBigQuery, "CAST(`a`.`num` AS FLOAT64) / CAST(NULLIF(`a`.`den`, 0) AS FLOAT64)"},
		{"window", window, domain.EngineDuckDB, `DATE_TRUNC('month', "t"."ds") - INTERVAL '2 month'`},
		{"window bigquery", window, domain.EngineBigQuery, "DATE_TRUNC(`t`.`ds`, MONTH) - INTERVAL 2 MONTH"},
		{
			"nested operators",
			&BinaryExpr{Op: "*", Left: &BinaryExpr{Op: "-", Left: Col("", "a"), Right: Col("", "b")}, Right: Col("", "c")},
			domain.EngineDuckDB,
			`("a" - "b") * "c"`,
		},
		{"count distinct", &FuncCall{Name: "COUNT", Args: []Expr{Col("", "guest")}, Distinct: true}, domain.EngineDuckDB, `COUNT(DISTINCT "guest")`},
		{"string literal", &Literal{Value: "it's"}, domain.EnginePostgres, `'it''s'`},
		{"null", &Literal{}, domain.EngineDuckDB, "NULL"},
		{"float", &Literal{Value: 0.5}, domain.EngineDuckDB, "0.5"},
		{"timestamp", &Literal{Value: time.Date(2020, 1, 1, 12, 30, 0, 0, time.UTC)}, domain.EngineDuckDB, "'2020-01-01 12:30:00'"},
		{"quoted identifier", Col("t", `we"ird`), domain.EngineDuckDB, `"t"."we""ird"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderExpr(tt.expr, tt.engine))
		})
	}
}

func TestStructureText(t *testing.T) {
	inner := &SelectStatement{
		Description:   "Read From SemanticModel(bookings_source)",
		SelectColumns: []SelectColumn{{Expr: &StringExpr{SQL: "1"}, Alias: "bookings"}},
		FromSource:    &TableRef{Schema: "main", Table: "fct_bookings"},
		FromAlias:     "src_1",
	}
	outer := &SelectStatement{
		SelectColumns: []SelectColumn{{Expr: &FuncCall{Name: "SUM", Args: []Expr{Col("subq_2", "bookings")}}, Alias: "bookings"}},
		FromSource:    inner,
		FromAlias:     "subq_2",
	}
	text := StructureText(outer)
	assert.Equal(t,
		"-> SelectStatement columns=[bookings]\n"+
			"  -> SelectStatement subq_2 (Read From SemanticModel(bookings_source)) columns=[bookings]\n"+
			"    -> Table main.fct_bookings src_1",
		text)
}

func TestReplaceExprSharesUnchangedSubtrees(t *testing.T) {
	keep := &Cast{Expr: Col("a", "x"), Type: "DOUBLE"}
	e := &BinaryExpr{Op: "+", Left: keep, Right: Col("b", "y")}

	out := ReplaceExpr(e, func(x Expr) (Expr, bool) {
		if c, ok := x.(*ColumnRef); ok && c.Table == "b" {
			return &Literal{Value: 1}, true
		}
		return nil, false
	})
	bin := out.(*BinaryExpr)
	assert.NotSame(t, e, bin)
	assert.Same(t, keep, bin.Left)
	assert.Equal(t, `CAST("a"."x" AS DOUBLE) + 1`, RenderExpr(out, domain.EngineDuckDB))

	unchanged := ReplaceExpr(e, func(Expr) (Expr, bool) { return nil, false })
	assert.Same(t, e, unchanged)
}
