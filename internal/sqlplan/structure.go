package sqlplan

import (
	"fmt"
	"strings"
)

// StructureText describes the shape of a statement tree, one source per line,
// for logging optimizer passes.
func StructureText(stmt *SelectStatement) string {
	var b strings.Builder
	writeStructure(&b, stmt, "", 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeStructure(b *strings.Builder, s *SelectStatement, alias string, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s-> SelectStatement", indent)
	if alias != "" {
		fmt.Fprintf(b, " %s", alias)
	}
	if s.Description != "" {
		fmt.Fprintf(b, " (%s)", s.Description)
	}
	fmt.Fprintf(b, " columns=[%s]", strings.Join(s.ColumnAliases(), ", "))
	if s.Distinct {
		b.WriteString(" distinct")
	}
	if s.Where != nil {
		b.WriteString(" where")
	}
	if len(s.GroupBys) > 0 {
		fmt.Fprintf(b, " group_by=%d", len(s.GroupBys))
	}
	if len(s.OrderBys) > 0 {
		fmt.Fprintf(b, " order_by=%d", len(s.OrderBys))
	}
	if s.Limit != nil {
		fmt.Fprintf(b, " limit=%d", *s.Limit)
	}
	b.WriteByte('\n')

	for _, cte := range s.CteSources {
		fmt.Fprintf(b, "%s  cte %s:\n", indent, cte.Name)
		writeStructure(b, cte.Select, "", depth+2)
	}
	for _, src := range Sources(s) {
		switch source := src.Source.(type) {
		case *SelectStatement:
			writeStructure(b, source, src.Alias, depth+1)
		case *TableRef:
			fmt.Fprintf(b, "%s  -> Table %s %s\n", indent, strings.TrimPrefix(source.Schema+"."+source.Table, "."), src.Alias)
		case *CteRef:
			fmt.Fprintf(b, "%s  -> CteRef %s %s\n", indent, source.Name, src.Alias)
		}
	}
}
