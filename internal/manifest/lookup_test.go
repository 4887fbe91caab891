package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semantic-compiler/internal/domain"
)

func loadFixture(t *testing.T) *Lookup {
	t.Helper()
	m, err := LoadFile(fixturePath)
	require.NoError(t, err)
	l, err := NewLookup(*m)
	require.NoError(t, err)
	return l
}

func TestLookup_Measures(t *testing.T) {
	l := loadFixture(t)

	measure, model, err := l.Measure("booking_value")
	require.NoError(t, err)
	assert.Equal(t, "bookings_source", model.Name)
	assert.Equal(t, domain.AggSum, measure.Agg)

	dim, err := l.AggTimeDimension("txn_revenue", l.MeasureModels("txn_revenue")[0])
	require.NoError(t, err)
	assert.Equal(t, "ds", dim.Name)
	assert.Equal(t, domain.GranularityMonth, dim.Granularity())

	_, _, err = l.Measure("nope")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestLookup_MeasuresForMetrics(t *testing.T) {
	l := loadFixture(t)

	measures, err := l.MeasuresForMetrics("booking_value_per_booking", "bookings_per_listing", "revenue")
	require.NoError(t, err)
	assert.Equal(t, []string{"booking_value", "bookings", "listings", "txn_revenue"}, measures)

	_, err = l.MeasuresForMetrics("unknown")
	require.Error(t, err)

	assert.True(t, l.ContainsCumulativeMetric("bookings", "trailing_2_months_revenue"))
	assert.False(t, l.ContainsCumulativeMetric("bookings_per_listing"))
}

func TestLookup_Owners(t *testing.T) {
	l := loadFixture(t)

	owners := l.EntityOwners("listing")
	require.Len(t, owners, 2)
	assert.Equal(t, "bookings_source", owners[0].Name)

	assert.Len(t, l.DimensionOwners("ds"), 3)
	assert.Empty(t, l.DimensionOwners("missing"))
	assert.NotNil(t, FindEntity(owners[1], "user"))
	assert.Nil(t, FindDimension(owners[1], "is_instant"))
}

func TestLookup_TimeSpine(t *testing.T) {
	l := loadFixture(t)

	ts, err := l.TimeSpine(domain.GranularityMonth)
	require.NoError(t, err)
	assert.Equal(t, "mf_time_spine", ts.NodeRelation.Alias)

	empty, err := NewLookup(domain.SemanticManifest{})
	require.NoError(t, err)
	_, err = empty.TimeSpine(domain.GranularityDay)
	require.Error(t, err)
}

func TestNewLookup_Validation(t *testing.T) {
	model := func(name string) domain.SemanticModel {
		return domain.SemanticModel{
			Name:         name,
			NodeRelation: domain.NodeRelation{Alias: name},
			Defaults:     domain.SemanticModelDefaults{AggTimeDimension: "ds"},
			Dimensions:   []domain.Dimension{{Name: "ds", Type: domain.DimensionTypeTime}},
			Measures:     []domain.Measure{{Name: name + "_count", Agg: domain.AggCount, Expr: "1"}},
		}
	}
	simple := func(name, measure string) domain.Metric {
		return domain.Metric{Name: name, Type: domain.MetricTypeSimple, TypeParams: domain.MetricTypeParams{
			Measure: &domain.MetricInputMeasure{Name: measure},
		}}
	}
	derived := func(name string, inputs ...string) domain.Metric {
		m := domain.Metric{Name: name, Type: domain.MetricTypeDerived, TypeParams: domain.MetricTypeParams{Expr: "x"}}
		for _, in := range inputs {
			m.TypeParams.Metrics = append(m.TypeParams.Metrics, domain.MetricInput{Name: in})
		}
		return m
	}

	tests := []struct {
		name     string
		manifest domain.SemanticManifest
		wantErr  string
	}{
		{
			name:     "duplicate_model",
			manifest: domain.SemanticManifest{SemanticModels: []domain.SemanticModel{model("a"), model("a")}},
			wantErr:  "duplicate semantic model",
		},
		{
			name:     "unknown_measure",
			manifest: domain.SemanticManifest{Metrics: []domain.Metric{simple("m", "missing")}},
			wantErr:  "unknown measure",
		},
		{
			name: "cycle",
			manifest: domain.SemanticManifest{
				SemanticModels: []domain.SemanticModel{model("a")},
				Metrics:        []domain.Metric{derived("x", "y"), derived("y", "x")},
			},
			wantErr: "cycle",
		},
		{
			name: "missing_agg_time_dimension",
			manifest: domain.SemanticManifest{SemanticModels: []domain.SemanticModel{func() domain.SemanticModel {
				m := model("a")
				m.Defaults.AggTimeDimension = ""
				return m
			}()}},
			wantErr: "agg_time_dimension",
		},
		{
			name: "unknown_input_metric",
			manifest: domain.SemanticManifest{
				SemanticModels: []domain.SemanticModel{model("a")},
				Metrics:        []domain.Metric{derived("x", "nope")},
			},
			wantErr: "unknown metric",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLookup(tt.manifest)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLookup_MeasureInSeveralModelsIsNotImplemented(t *testing.T) {
	a := domain.SemanticModel{
		Name:         "a",
		NodeRelation: domain.NodeRelation{Alias: "a"},
		Defaults:     domain.SemanticModelDefaults{AggTimeDimension: "ds"},
		Dimensions:   []domain.Dimension{{Name: "ds", Type: domain.DimensionTypeTime}},
		Measures:     []domain.Measure{{Name: "shared", Agg: domain.AggSum}},
	}
	b := a
	b.Name = "b"
	l, err := NewLookup(domain.SemanticManifest{SemanticModels: []domain.SemanticModel{a, b}})
	require.NoError(t, err)

	_, _, err = l.Measure("shared")
	var ni *domain.NotImplementedError
	require.ErrorAs(t, err, &ni)
	assert.Len(t, l.MeasureModels("shared"), 2)
}
