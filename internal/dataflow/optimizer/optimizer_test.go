package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semantic-compiler/internal/dataflow"
	"semantic-compiler/internal/dataflow/builder"
	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/manifest"
	"semantic-compiler/internal/query"
	"semantic-compiler/internal/spec"
	"semantic-compiler/internal/testutil"
)

func buildPlan(t *testing.T, req query.Request) *dataflow.Plan {
	t.Helper()
	return buildPlanWith(t, testutil.SimpleManifestLookup(t), req)
}

func buildPlanWith(t *testing.T, lookup *manifest.Lookup, req query.Request) *dataflow.Plan {
	t.Helper()
	q, err := query.NewResolver(lookup).Resolve(req)
	require.NoError(t, err)
	p, err := builder.NewBuilder(lookup).Build(q)
	require.NoError(t, err)
	return p
}

func prefixes(n dataflow.Node) []string {
	var out []string
	for {
		out = append(out, n.ID().Prefix)
		parents := n.Parents()
		if len(parents) == 0 {
			return out
		}
		n = parents[0]
	}
}

func count[T dataflow.Node](p *dataflow.Plan) int {
	c := 0
	for _, n := range p.Nodes() {
		if _, ok := n.(T); ok {
			c++
		}
	}
	return c
}

func TestParseOptimizationKind(t *testing.T) {
	tests := []struct {
		in      string
		want    OptimizationKind
		wantErr bool
	}{
		{"predicate_pushdown", PredicatePushdown, false},
		{" SOURCE_SCAN ", SourceScan, false},
		{"column_pruner", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOptimizationKind(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFactory_GetOptimizers(t *testing.T) {
	f := NewFactory(testutil.DiscardLogger())

	got := f.GetOptimizers([]OptimizationKind{SourceScan, PredicatePushdown})
	require.Len(t, got, 2)
	assert.Equal(t, "source_scan", got[0].Name())
	assert.Equal(t, "predicate_pushdown", got[1].Name())

	assert.Empty(t, f.GetOptimizers(nil))
	assert.Panics(t, func() { f.GetOptimizers([]OptimizationKind{OptimizationKind(42)}) })
}

func TestPredicatePushdown(t *testing.T) {
	opt := NewFactory(testutil.DiscardLogger()).GetOptimizers([]OptimizationKind{PredicatePushdown})[0]

	t.Run("filter on local dimension moves below join", func(t *testing.T) {
		p := buildPlan(t, query.Request{
			Metrics: []string{"bookings"},
			GroupBy: []string{"listing__country_latest"},
			Where:   []string{`{{ Dimension "booking__is_instant" }}`},
		})
		require.Equal(t, []string{"wrd", "cm", "am", "pfe", "wcc", "joe", "mtt", "rss"}, prefixes(p.Sink()))

		out, err := opt.Optimize(p)
		require.NoError(t, err)
		assert.Equal(t, []string{"wrd", "cm", "am", "pfe", "joe", "wcc", "mtt", "rss"}, prefixes(out.Sink()))
		assert.Equal(t, p.ID, out.ID)
		assert.Equal(t, p.Sink().OutputSpecs(), out.Sink().OutputSpecs())
	})

	t.Run("filter on joined dimension stays", func(t *testing.T) {
		p := buildPlan(t, query.Request{
			Metrics: []string{"bookings"},
			GroupBy: []string{"listing__country_latest"},
			Where:   []string{`{{ Dimension "listing__country_latest" }} = 'us'`},
		})

		out, err := opt.Optimize(p)
		require.NoError(t, err)
		assert.Same(t, p, out)
	})
}

func TestSourceScan(t *testing.T) {
	opt := NewFactory(testutil.DiscardLogger()).GetOptimizers([]OptimizationKind{SourceScan})[0]

	t.Run("metrics of one model share a scan", func(t *testing.T) {
		p := buildPlan(t, query.Request{
			Metrics: []string{"bookings", "instant_bookings", "booking_value"},
			GroupBy: []string{"metric_time__day", "booking__is_instant"},
		})
		require.Equal(t, 3, count[*dataflow.ReadSQLSourceNode](p))

		out, err := opt.Optimize(p)
		require.NoError(t, err)
		assert.Equal(t, 1, count[*dataflow.ReadSQLSourceNode](out))
		assert.Equal(t, p.Sink().OutputSpecs(), out.Sink().OutputSpecs())

		var merged *dataflow.ComputeMetricsNode
		for _, n := range out.Nodes() {
			if cm, ok := n.(*dataflow.ComputeMetricsNode); ok {
				merged = cm
			}
		}
		require.NotNil(t, merged)
		assert.Len(t, merged.Metrics, 3)
		am := merged.Parent().(*dataflow.AggregateMeasuresNode)
		assert.Len(t, am.Measures, 3)
	})

	t.Run("metrics over one measure keep a single measure column", func(t *testing.T) {
		m, err := manifest.Load(testutil.SimpleManifestYAML())
		require.NoError(t, err)
		m.Metrics = append(m.Metrics, domain.Metric{
			Name: "bookings_copy",
			Type: domain.MetricTypeSimple,
			TypeParams: domain.MetricTypeParams{
				Measure: &domain.MetricInputMeasure{Name: "bookings"},
			},
		})
		lookup, err := manifest.NewLookup(*m)
		require.NoError(t, err)

		p := buildPlanWith(t, lookup, query.Request{
			Metrics: []string{"bookings", "bookings_copy"},
			GroupBy: []string{"metric_time__day"},
		})
		out, err := opt.Optimize(p)
		require.NoError(t, err)
		assert.Equal(t, 1, count[*dataflow.ReadSQLSourceNode](out))

		var measures []string
		for _, n := range out.Nodes() {
			if fe, ok := n.(*dataflow.FilterElementsNode); ok {
				for _, s := range fe.Include {
					if s.Kind() == spec.KindMeasure {
						measures = append(measures, s.Key())
					}
				}
			}
		}
		assert.Len(t, measures, 1)
	})

	t.Run("different models are not merged", func(t *testing.T) {
		p := buildPlan(t, query.Request{Metrics: []string{"bookings", "revenue"}, GroupBy: []string{"metric_time__month"}})

		out, err := opt.Optimize(p)
		require.NoError(t, err)
		assert.Same(t, p, out)
	})

	t.Run("shared branches are kept", func(t *testing.T) {
		p := buildPlan(t, query.Request{
			Metrics: []string{"instant_booking_fraction", "booking_value_per_booking"},
			GroupBy: []string{"metric_time"},
		})

		out, err := opt.Optimize(p)
		require.NoError(t, err)
		assert.Same(t, p, out)
		assert.Len(t, dataflow.FindCommonBranches(out), 1)
	})
}

func TestApply(t *testing.T) {
	p := buildPlan(t, query.Request{
		Metrics: []string{"bookings", "instant_bookings"},
		GroupBy: []string{"listing__country_latest"},
		Where:   []string{`{{ Dimension "booking__is_instant" }}`},
	})

	out, err := Apply(p, NewFactory(testutil.DiscardLogger()).GetOptimizers(DefaultOptimizations))
	require.NoError(t, err)
	assert.Equal(t, 1, count[*dataflow.WhereConstraintNode](out))
	// one scan of the bookings model plus the listings join target
	assert.Equal(t, 2, count[*dataflow.ReadSQLSourceNode](out))

	for _, n := range out.Nodes() {
		if join, ok := n.(*dataflow.JoinOnEntitiesNode); ok {
			_, filtered := join.Left().(*dataflow.WhereConstraintNode)
			assert.True(t, filtered)
		}
	}
}
