package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// MetricTimeName is the virtual time dimension aligned to each measure's
// aggregation time dimension.
const MetricTimeName = "metric_time"

// MaxSemanticNameLength bounds element names in a manifest.
const MaxSemanticNameLength = 255

// EntityType classifies join keys.
type EntityType string

// EntityTypePrimary and friends are the supported entity types.
const (
	EntityTypePrimary EntityType = "primary"
	EntityTypeUnique  EntityType = "unique"
	EntityTypeForeign EntityType = "foreign"
	EntityTypeNatural EntityType = "natural"
)

// AggregationType is the aggregation applied to a measure.
type AggregationType string

// AggSum and friends are the supported measure aggregations.
const (
	AggSum           AggregationType = "sum"
	AggCount         AggregationType = "count"
	AggCountDistinct AggregationType = "count_distinct"
	AggAverage       AggregationType = "average"
	AggMin           AggregationType = "min"
	AggMax           AggregationType = "max"
	AggSumBoolean    AggregationType = "sum_boolean"
)

// DimensionType classifies a dimension.
type DimensionType string

// DimensionTypeCategorical and DimensionTypeTime are the supported dimension types.
const (
	DimensionTypeCategorical DimensionType = "categorical"
	DimensionTypeTime        DimensionType = "time"
)

// MetricType classifies how a metric is computed.
type MetricType string

// MetricTypeSimple and friends are the supported metric types.
const (
	MetricTypeSimple     MetricType = "simple"
	MetricTypeRatio      MetricType = "ratio"
	MetricTypeDerived    MetricType = "derived"
	MetricTypeCumulative MetricType = "cumulative"
)

// SemanticManifest is the validated collection of models, metrics and time spines.
type SemanticManifest struct {
	SemanticModels []SemanticModel `yaml:"semantic_models"`
	Metrics        []Metric        `yaml:"metrics"`
	TimeSpines     []TimeSpine     `yaml:"time_spines"`
}

// NodeRelation points at a warehouse table.
type NodeRelation struct {
	SchemaName string `yaml:"schema_name"`
	Alias      string `yaml:"alias"`
}

// QualifiedName returns schema.alias, or alias when no schema is set.
func (r NodeRelation) QualifiedName() string {
	if r.SchemaName == "" {
		return r.Alias
	}
	return r.SchemaName + "." + r.Alias
}

// SemanticModelDefaults holds model-wide defaults.
type SemanticModelDefaults struct {
	AggTimeDimension string `yaml:"agg_time_dimension"`
}

// SemanticModel describes one warehouse table with its entities, measures and dimensions.
type SemanticModel struct {
	Name          string                `yaml:"name"`
	Description   string                `yaml:"description"`
	NodeRelation  NodeRelation          `yaml:"node_relation"`
	Defaults      SemanticModelDefaults `yaml:"defaults"`
	PrimaryEntity string                `yaml:"primary_entity"`
	Entities      []Entity              `yaml:"entities"`
	Measures      []Measure             `yaml:"measures"`
	Dimensions    []Dimension           `yaml:"dimensions"`
}

// Entity is a join key of a semantic model.
type Entity struct {
	Name string     `yaml:"name"`
	Type EntityType `yaml:"type"`
	Expr string     `yaml:"expr"`
}

// Column returns the expression that computes the entity.
func (e Entity) Column() string {
	if e.Expr != "" {
		return e.Expr
	}
	return e.Name
}

// Measure is an aggregatable column of a semantic model.
type Measure struct {
	Name             string          `yaml:"name"`
	Description      string          `yaml:"description"`
	Agg              AggregationType `yaml:"agg"`
	Expr             string          `yaml:"expr"`
	AggTimeDimension string          `yaml:"agg_time_dimension"`
}

// Column returns the expression that computes the measure input.
func (m Measure) Column() string {
	if m.Expr != "" {
		return m.Expr
	}
	return m.Name
}

// DimensionTypeParams holds time-dimension settings.
type DimensionTypeParams struct {
	TimeGranularity TimeGranularity `yaml:"time_granularity"`
}

// Dimension is a group-by attribute of a semantic model.
type Dimension struct {
	Name       string               `yaml:"name"`
	Type       DimensionType        `yaml:"type"`
	Expr       string               `yaml:"expr"`
	TypeParams *DimensionTypeParams `yaml:"type_params"`
}

// Column returns the expression that computes the dimension.
func (d Dimension) Column() string {
	if d.Expr != "" {
		return d.Expr
	}
	return d.Name
}

// Granularity returns the defined granularity of a time dimension.
func (d Dimension) Granularity() TimeGranularity {
	if d.TypeParams == nil || !d.TypeParams.TimeGranularity.IsValid() {
		return DefaultGranularity
	}
	return d.TypeParams.TimeGranularity
}

// MetricInputMeasure references the measure a simple or cumulative metric aggregates.
type MetricInputMeasure struct {
	Name            string   `yaml:"name"`
	FillNullsWith   *float64 `yaml:"fill_nulls_with"`
	JoinToTimespine bool     `yaml:"join_to_timespine"`
}

// MetricInput references another metric from a ratio or derived metric.
type MetricInput struct {
	Name  string `yaml:"name"`
	Alias string `yaml:"alias"`
}

// ColumnName is how the input is referenced from a derived expression.
func (i MetricInput) ColumnName() string {
	if i.Alias != "" {
		return i.Alias
	}
	return i.Name
}

// MetricTimeWindow is a trailing window such as "7 days".
type MetricTimeWindow struct {
	Count       int
	Granularity TimeGranularity
}

// UnmarshalText parses "<count> <granularity>[s]".
func (w *MetricTimeWindow) UnmarshalText(text []byte) error {
	parts := strings.Fields(string(text))
	if len(parts) != 2 {
		return fmt.Errorf("invalid window %q: expected \"<count> <granularity>\"", text)
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil || count <= 0 {
		return fmt.Errorf("invalid window count %q", parts[0])
	}
	g, err := ParseTimeGranularity(strings.TrimSuffix(parts[1], "s"))
	if err != nil {
		return fmt.Errorf("invalid window %q: %w", text, err)
	}
	w.Count = count
	w.Granularity = g
	return nil
}

func (w MetricTimeWindow) String() string {
	return fmt.Sprintf("%d %ss", w.Count, w.Granularity)
}

// MetricTypeParams holds the per-type inputs of a metric.
type MetricTypeParams struct {
	Measure     *MetricInputMeasure `yaml:"measure"`
	Numerator   *MetricInput        `yaml:"numerator"`
	Denominator *MetricInput        `yaml:"denominator"`
	Expr        string              `yaml:"expr"`
	Metrics     []MetricInput       `yaml:"metrics"`
	Window      *MetricTimeWindow   `yaml:"window"`
	GrainToDate TimeGranularity     `yaml:"grain_to_date"`
}

// Metric is a named, queryable computation over measures or other metrics.
type Metric struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Type        MetricType       `yaml:"type"`
	TypeParams  MetricTypeParams `yaml:"type_params"`
}

// InputMetrics returns the metrics a ratio or derived metric is computed from.
func (m Metric) InputMetrics() []MetricInput {
	switch m.Type {
	case MetricTypeRatio:
		var inputs []MetricInput
		if m.TypeParams.Numerator != nil {
			inputs = append(inputs, *m.TypeParams.Numerator)
		}
		if m.TypeParams.Denominator != nil {
			inputs = append(inputs, *m.TypeParams.Denominator)
		}
		return inputs
	case MetricTypeDerived:
		return m.TypeParams.Metrics
	default:
		return nil
	}
}

// TimeSpineColumn is the time column of a time spine table.
type TimeSpineColumn struct {
	Name            string          `yaml:"name"`
	TimeGranularity TimeGranularity `yaml:"time_granularity"`
}

// TimeSpine is a table with one row per period.
type TimeSpine struct {
	NodeRelation  NodeRelation    `yaml:"node_relation"`
	PrimaryColumn TimeSpineColumn `yaml:"primary_column"`
}

// UnmarshalText parses a granularity name.
func (g *TimeGranularity) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeGranularity(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// MarshalText renders the granularity name.
func (g TimeGranularity) MarshalText() ([]byte, error) {
	if !g.IsValid() {
		return nil, fmt.Errorf("invalid time granularity %d", int(g))
	}
	return []byte(g.String()), nil
}
