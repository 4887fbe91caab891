package spec

// ColumnAssociationResolver decides the output column name of a spec.
type ColumnAssociationResolver interface {
	ColumnName(s Spec) string
}

// DunderColumnAssociationResolver names columns after the spec's dunder name,
// e.g. listing__country or metric_time__month.
type DunderColumnAssociationResolver struct{}

// ColumnName implements ColumnAssociationResolver.
func (DunderColumnAssociationResolver) ColumnName(s Spec) string {
	return s.QualifiedName()
}
