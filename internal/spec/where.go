package spec

import (
	"strings"
	"text/template"

	"semantic-compiler/internal/domain"
)

// WhereFilter is a SQL predicate whose column references are template calls:
//
//	{{ Dimension "listing__country_latest" }} = 'us'
//	{{ TimeDimension "metric_time" "month" }} >= '2020-01-01'
//	{{ Entity "listing" }} IS NOT NULL
//
// The referenced specs are collected when the filter is parsed; Render
// substitutes the column names chosen by a ColumnAssociationResolver.
type WhereFilter struct {
	Template string
	specs    []Spec
}

// ParseWhereFilter parses text and records the specs it references.
func ParseWhereFilter(text string) (WhereFilter, error) {
	f := WhereFilter{Template: text}
	var refs []Spec
	_, err := f.execute(func(s Spec) string {
		refs = append(refs, s)
		return s.QualifiedName()
	})
	if err != nil {
		return WhereFilter{}, err
	}
	seen := map[string]bool{}
	for _, s := range refs {
		if !seen[s.Key()] {
			seen[s.Key()] = true
			f.specs = append(f.specs, s)
		}
	}
	return f, nil
}

// MergeWhereFilters ANDs filters together. A single filter is returned as is.
func MergeWhereFilters(filters ...WhereFilter) (WhereFilter, error) {
	switch len(filters) {
	case 0:
		return WhereFilter{}, nil
	case 1:
		return filters[0], nil
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = "(" + f.Template + ")"
	}
	return ParseWhereFilter(strings.Join(parts, " AND "))
}

// IsZero reports whether the filter is empty.
func (f WhereFilter) IsZero() bool { return strings.TrimSpace(f.Template) == "" }

// Specs returns the referenced specs in first-use order.
func (f WhereFilter) Specs() []Spec { return append([]Spec(nil), f.specs...) }

// Render returns the predicate with every reference replaced by its column.
func (f WhereFilter) Render(resolver ColumnAssociationResolver) (string, error) {
	return f.execute(resolver.ColumnName)
}

func (f WhereFilter) execute(column func(Spec) string) (string, error) {
	funcs := template.FuncMap{
		"Dimension": func(name string) (string, error) {
			links, element, g := ParseDunderName(name)
			if g.IsValid() {
				return "", domain.ErrInvalidQuery("Dimension(%q) names a time dimension; use TimeDimension", name)
			}
			return column(NewDimensionSpec(element, links...)), nil
		},
		"TimeDimension": func(name, granularity string) (string, error) {
			links, element, _ := ParseDunderName(name)
			g, err := domain.ParseTimeGranularity(granularity)
			if err != nil {
				return "", domain.ErrInvalidQuery("TimeDimension(%q): %s", name, err.Error())
			}
			return column(NewTimeDimensionSpec(element, g, links...)), nil
		},
		"Entity": func(name string) string {
			links, element, _ := ParseDunderName(name)
			return column(NewEntitySpec(element, links...))
		},
	}
	tmpl, err := template.New("where").Funcs(funcs).Option("missingkey=error").Parse(f.Template)
	if err != nil {
		return "", domain.ErrInvalidQuery("invalid where filter %q: %s", f.Template, err.Error())
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, nil); err != nil {
		return "", domain.ErrInvalidQuery("invalid where filter %q: %s", f.Template, err.Error())
	}
	return b.String(), nil
}

// ParseDunderName splits a dunder name into entity links, element name and an
// optional trailing granularity: "listing__ds__month" -> [listing], ds, month.
func ParseDunderName(name string) (links []string, element string, g domain.TimeGranularity) {
	parts := strings.Split(name, DunderSeparator)
	if len(parts) > 1 {
		if parsed, err := domain.ParseTimeGranularity(parts[len(parts)-1]); err == nil {
			g = parsed
			parts = parts[:len(parts)-1]
		}
	}
	element = parts[len(parts)-1]
	if len(parts) > 1 {
		links = append([]string(nil), parts[:len(parts)-1]...)
	}
	return links, element, g
}
