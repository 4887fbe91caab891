package builder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semantic-compiler/internal/dataflow"
	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/query"
	"semantic-compiler/internal/spec"
	"semantic-compiler/internal/testutil"
)

func build(t *testing.T, req query.Request) *dataflow.Plan {
	t.Helper()
	lookup := testutil.SimpleManifestLookup(t)
	q, err := query.NewResolver(lookup).Resolve(req)
	require.NoError(t, err)
	plan, err := NewBuilder(lookup).Build(q)
	require.NoError(t, err)
	return plan
}

// kinds follows the first parent of each node from n down to the source and
// returns the id prefixes on the way.
func kinds(n dataflow.Node) []string {
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

func find[T dataflow.Node](p *dataflow.Plan) []T {
	var out []T
	for _, n := range p.Nodes() {
		if typed, ok := n.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

func TestBuild_SimpleMetric(t *testing.T) {
	plan := build(t, query.Request{Metrics: []string{"bookings"}, GroupBy: []string{"metric_time__day"}})

	assert.Equal(t, []string{"wrd", "cm", "am", "pfe", "mtt", "rss"}, kinds(plan.Sink()))
	assert.Equal(t,
		[]spec.Spec{spec.MetricTime(domain.GranularityDay), spec.MetricSpec{Element: "bookings"}},
		plan.Sink().OutputSpecs())
	assert.Empty(t, dataflow.FindCommonBranches(plan))
}

func TestBuild_OrderLimitAndWhere(t *testing.T) {
	limit := 5
	plan := build(t, query.Request{
		Metrics: []string{"bookings"},
		GroupBy: []string{"listing__country_latest"},
		Where:   []string{`{{ Dimension "booking__is_instant" }}`},
		OrderBy: []string{"-bookings"},
		Limit:   &limit,
	})

	assert.Equal(t, []string{"wrd", "obl", "cm", "am", "pfe", "wcc", "joe", "mtt", "rss"}, kinds(plan.Sink()))
	joins := find[*dataflow.JoinOnEntitiesNode](plan)
	require.Len(t, joins, 1)
	require.Len(t, joins[0].Targets, 1)
	target := joins[0].Targets[0]
	assert.Equal(t, "listing", target.Entity)
	assert.Equal(t, []string{"pfe", "rss"}, kinds(target.Node))
	assert.True(t, dataflow.ContainsSpecs(joins[0], spec.NewDimensionSpec("country_latest", "listing")))
}

func TestBuild_SharedInputMetric(t *testing.T) {
	plan := build(t, query.Request{
		Metrics: []string{"instant_booking_fraction", "booking_value_per_booking"},
		GroupBy: []string{"metric_time"},
	})

	common := dataflow.FindCommonBranches(plan)
	require.Len(t, common, 1)
	cm, ok := common[0].(*dataflow.ComputeMetricsNode)
	require.True(t, ok)
	require.Len(t, cm.Metrics, 1)
	assert.Equal(t, "bookings", cm.Metrics[0].Spec.Element)

	// one scan per distinct input metric: instant_bookings, bookings, booking_value
	assert.Len(t, find[*dataflow.ReadSQLSourceNode](plan), 3)
}

func TestBuild_AliasedInputs(t *testing.T) {
	plan := build(t, query.Request{Metrics: []string{"instant_minus_total"}})

	computes := find[*dataflow.ComputeMetricsNode](plan)
	var names []string
	for _, cm := range computes {
		for _, m := range cm.Metrics {
			names = append(names, m.Spec.QualifiedName())
		}
	}
	assert.ElementsMatch(t, []string{"instant", "total", "instant_minus_total"}, names)
}

func TestBuild_CumulativeMetrics(t *testing.T) {
	tests := []struct {
		metric string
		window *domain.MetricTimeWindow
		grain  domain.TimeGranularity
	}{
		{"revenue_all_time", nil, domain.GranularityUnknown},
		{"trailing_2_months_revenue", &domain.MetricTimeWindow{Count: 2, Granularity: domain.GranularityMonth}, domain.GranularityUnknown},
		{"revenue_mtd", nil, domain.GranularityMonth},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			plan := build(t, query.Request{Metrics: []string{tt.metric}, GroupBy: []string{"metric_time"}})

			assert.Equal(t, []string{"wrd", "cm", "am", "jotr", "pfe", "mtt", "rss"}, kinds(plan.Sink()))
			jotr := find[*dataflow.JoinOverTimeRangeNode](plan)
			require.Len(t, jotr, 1)
			assert.Equal(t, tt.window, jotr[0].Window)
			assert.Equal(t, tt.grain, jotr[0].GrainToDate)
			assert.Equal(t, spec.MetricTime(domain.GranularityMonth), jotr[0].MetricTime)
		})
	}

	t.Run("without metric_time", func(t *testing.T) {
		plan := build(t, query.Request{Metrics: []string{"revenue_all_time"}})
		assert.Empty(t, find[*dataflow.JoinOverTimeRangeNode](plan))
	})
}

func TestBuild_JoinToTimeSpine(t *testing.T) {
	start := testTime(2020, 1, 1)
	plan := build(t, query.Request{
		Metrics:             []string{"bookings_fill_nulls_with_0"},
		GroupBy:             []string{"metric_time"},
		TimeConstraintStart: &start,
	})

	assert.Equal(t, []string{"wrd", "cm", "ctr", "jts", "am", "pfe", "ctr", "mtt", "rss"}, kinds(plan.Sink()))
	spines := find[*dataflow.JoinToTimeSpineNode](plan)
	require.Len(t, spines, 1)
	assert.Equal(t, "mf_time_spine", spines[0].TimeSpine.NodeRelation.Alias)
}

func TestBuild_Errors(t *testing.T) {
	lookup := testutil.SimpleManifestLookup(t)
	tests := []struct {
		name    string
		groupBy []spec.Spec
		wantErr error
	}{
		{"unjoinable local name", []spec.Spec{spec.NewDimensionSpec("country_latest")}, &domain.InvalidQueryError{}},
		{"no join entity", []spec.Spec{spec.NewDimensionSpec("country_latest", "user")}, &domain.InvalidQueryError{}},
		{"multi hop", []spec.Spec{spec.NewDimensionSpec("country_latest", "guest", "listing")}, &domain.NotImplementedError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &query.Query{Metrics: []spec.MetricSpec{{Element: "bookings"}}, GroupBy: tt.groupBy}
			_, err := NewBuilder(lookup).Build(q)
			require.Error(t, err)
			assert.IsType(t, tt.wantErr, err)
		})
	}
}

func testTime(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
