// Package spec defines the value types that name columns in a query: metrics,
// measures, dimensions, time dimensions and entities, plus the instance sets that
// describe a plan's output row shape.
package spec

import (
	"cmp"
	"strings"

	"semantic-compiler/internal/domain"
)

// DunderSeparator joins entity links, element names and granularities.
const DunderSeparator = "__"

// Kind classifies a spec.
type Kind int

// KindMeasure and friends are the spec kinds, in output column order.
const (
	KindEntity Kind = iota
	KindDimension
	KindTimeDimension
	KindMeasure
	KindMetric
)

func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindDimension:
		return "dimension"
	case KindTimeDimension:
		return "time_dimension"
	case KindMeasure:
		return "measure"
	case KindMetric:
		return "metric"
	default:
		return "unknown"
	}
}

// Spec names one column of a plan's output.
type Spec interface {
	Kind() Kind
	ElementName() string
	Links() []string
	// QualifiedName is the dunder name, e.g. listing__country or metric_time__month.
	QualifiedName() string
	// Key is unique per structurally distinct spec and usable as a map key.
	Key() string
}

// Equal reports structural equality.
func Equal(a, b Spec) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Key() == b.Key()
}

// Compare orders specs by kind, then by structural key.
func Compare(a, b Spec) int {
	if c := cmp.Compare(a.Kind(), b.Kind()); c != 0 {
		return c
	}
	return strings.Compare(a.Key(), b.Key())
}

func dunder(links []string, element string, suffix string) string {
	parts := make([]string, 0, len(links)+2)
	parts = append(parts, links...)
	parts = append(parts, element)
	if suffix != "" {
		parts = append(parts, suffix)
	}
	return strings.Join(parts, DunderSeparator)
}

func copyLinks(links []string) []string {
	if len(links) == 0 {
		return nil
	}
	return append([]string(nil), links...)
}

// MeasureSpec names a measure column before aggregation.
type MeasureSpec struct {
	Element string
}

func (s MeasureSpec) Kind() Kind            { return KindMeasure }
func (s MeasureSpec) ElementName() string   { return s.Element }
func (s MeasureSpec) Links() []string       { return nil }
func (s MeasureSpec) QualifiedName() string { return s.Element }
func (s MeasureSpec) Key() string           { return "measure:" + s.Element }
func (s MeasureSpec) String() string        { return "MeasureSpec(" + s.Element + ")" }

// MetricSpec names a computed metric. Alias renames the output column when the
// metric feeds a derived metric under another name.
type MetricSpec struct {
	Element string
	Alias   string
}

func (s MetricSpec) Kind() Kind          { return KindMetric }
func (s MetricSpec) ElementName() string { return s.Element }
func (s MetricSpec) Links() []string     { return nil }

func (s MetricSpec) QualifiedName() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Element
}

func (s MetricSpec) Key() string {
	if s.Alias != "" {
		return "metric:" + s.Element + " as " + s.Alias
	}
	return "metric:" + s.Element
}

func (s MetricSpec) String() string { return "MetricSpec(" + s.QualifiedName() + ")" }

// DimensionSpec names a categorical dimension reached through EntityLinks.
type DimensionSpec struct {
	Element     string
	EntityLinks []string
}

// NewDimensionSpec builds a DimensionSpec, copying links.
func NewDimensionSpec(element string, links ...string) DimensionSpec {
	return DimensionSpec{Element: element, EntityLinks: copyLinks(links)}
}

func (s DimensionSpec) Kind() Kind            { return KindDimension }
func (s DimensionSpec) ElementName() string   { return s.Element }
func (s DimensionSpec) Links() []string       { return s.EntityLinks }
func (s DimensionSpec) QualifiedName() string { return dunder(s.EntityLinks, s.Element, "") }
func (s DimensionSpec) Key() string           { return "dimension:" + s.QualifiedName() }
func (s DimensionSpec) String() string        { return "DimensionSpec(" + s.QualifiedName() + ")" }

// TimeDimensionSpec names a time dimension truncated to Granularity.
type TimeDimensionSpec struct {
	Element     string
	EntityLinks []string
	Granularity domain.TimeGranularity
}

// NewTimeDimensionSpec builds a TimeDimensionSpec, copying links.
func NewTimeDimensionSpec(element string, g domain.TimeGranularity, links ...string) TimeDimensionSpec {
	return TimeDimensionSpec{Element: element, EntityLinks: copyLinks(links), Granularity: g}
}

// MetricTime returns the metric_time spec at g.
func MetricTime(g domain.TimeGranularity) TimeDimensionSpec {
	return TimeDimensionSpec{Element: domain.MetricTimeName, Granularity: g}
}

func (s TimeDimensionSpec) Kind() Kind          { return KindTimeDimension }
func (s TimeDimensionSpec) ElementName() string { return s.Element }
func (s TimeDimensionSpec) Links() []string     { return s.EntityLinks }

func (s TimeDimensionSpec) QualifiedName() string {
	return dunder(s.EntityLinks, s.Element, s.Granularity.String())
}

func (s TimeDimensionSpec) Key() string    { return "time_dimension:" + s.QualifiedName() }
func (s TimeDimensionSpec) String() string { return "TimeDimensionSpec(" + s.QualifiedName() + ")" }

// IsMetricTime reports whether the spec is metric_time at any granularity.
func (s TimeDimensionSpec) IsMetricTime() bool {
	return s.Element == domain.MetricTimeName && len(s.EntityLinks) == 0
}

// Partial drops the granularity.
func (s TimeDimensionSpec) Partial() PartialTimeDimensionSpec {
	return PartialTimeDimensionSpec{Element: s.Element, EntityLinks: copyLinks(s.EntityLinks)}
}

// WithGranularity returns a copy at g.
func (s TimeDimensionSpec) WithGranularity(g domain.TimeGranularity) TimeDimensionSpec {
	return TimeDimensionSpec{Element: s.Element, EntityLinks: copyLinks(s.EntityLinks), Granularity: g}
}

// EntitySpec names an entity reached through EntityLinks.
type EntitySpec struct {
	Element     string
	EntityLinks []string
}

// NewEntitySpec builds an EntitySpec, copying links.
func NewEntitySpec(element string, links ...string) EntitySpec {
	return EntitySpec{Element: element, EntityLinks: copyLinks(links)}
}

func (s EntitySpec) Kind() Kind            { return KindEntity }
func (s EntitySpec) ElementName() string   { return s.Element }
func (s EntitySpec) Links() []string       { return s.EntityLinks }
func (s EntitySpec) QualifiedName() string { return dunder(s.EntityLinks, s.Element, "") }
func (s EntitySpec) Key() string           { return "entity:" + s.QualifiedName() }
func (s EntitySpec) String() string        { return "EntitySpec(" + s.QualifiedName() + ")" }

// PartialTimeDimensionSpec is a time dimension whose granularity is still to be
// resolved.
type PartialTimeDimensionSpec struct {
	Element     string
	EntityLinks []string
}

// Key is unique per structurally distinct partial spec.
func (s PartialTimeDimensionSpec) Key() string {
	return "partial_time_dimension:" + dunder(s.EntityLinks, s.Element, "")
}

// WithGranularity resolves the partial spec.
func (s PartialTimeDimensionSpec) WithGranularity(g domain.TimeGranularity) TimeDimensionSpec {
	return TimeDimensionSpec{Element: s.Element, EntityLinks: copyLinks(s.EntityLinks), Granularity: g}
}

func (s PartialTimeDimensionSpec) String() string {
	return "PartialTimeDimensionSpec(" + dunder(s.EntityLinks, s.Element, "") + ")"
}

// OrderBySpec orders the output by one spec.
type OrderBySpec struct {
	Spec       Spec
	Descending bool
}

func (o OrderBySpec) String() string {
	if o.Descending {
		return "-" + o.Spec.QualifiedName()
	}
	return o.Spec.QualifiedName()
}
