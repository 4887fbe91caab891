package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/spec"
	"semantic-compiler/internal/testutil"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(testutil.SimpleManifestLookup(t))
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestResolve_OrderByMetricTimeAndDescendingMetric(t *testing.T) {
	q, err := newResolver(t).Resolve(Request{
		Metrics: []string{"bookings"},
		GroupBy: []string{"is_instant", "listing", "metric_time"},
		OrderBy: []string{"metric_time", "-bookings"},
	})
	require.NoError(t, err)

	assert.Equal(t, []spec.Spec{
		spec.NewDimensionSpec("is_instant"),
		spec.NewEntitySpec("listing"),
		spec.MetricTime(domain.GranularityDay),
	}, q.GroupBy)
	require.Len(t, q.OrderBy, 2)
	assert.Equal(t, spec.OrderBySpec{Spec: spec.MetricTime(domain.GranularityDay)}, q.OrderBy[0])
	assert.Equal(t, spec.OrderBySpec{Spec: spec.MetricSpec{Element: "bookings"}, Descending: true}, q.OrderBy[1])
}

func TestResolve_MetricTimeUsesCoarsestGranularity(t *testing.T) {
	q, err := newResolver(t).Resolve(Request{
		Metrics: []string{"bookings", "revenue"},
		GroupBy: []string{"metric_time"},
		OrderBy: []string{"-metric_time"},
	})
	require.NoError(t, err)

	require.Len(t, q.OrderBy, 1)
	td, ok := q.OrderBy[0].Spec.(spec.TimeDimensionSpec)
	require.True(t, ok)
	assert.True(t, td.IsMetricTime())
	assert.Equal(t, domain.GranularityMonth, td.Granularity)
	assert.True(t, q.OrderBy[0].Descending)
}

func TestResolve_GroupByNames(t *testing.T) {
	tests := []struct {
		name      string
		metrics   []string
		groupBy   string
		requested domain.TimeGranularity
		want      spec.Spec
	}{
		{"explicit metric time", []string{"bookings"}, "metric_time__week", 0, spec.MetricTime(domain.GranularityWeek)},
		{"requested granularity", []string{"bookings"}, "metric_time", domain.GranularityQuarter, spec.MetricTime(domain.GranularityQuarter)},
		{"local time dimension", []string{"revenue"}, "ds", 0, spec.NewTimeDimensionSpec("ds", domain.GranularityMonth)},
		{"joined dimension", []string{"bookings"}, "listing__country_latest", 0, spec.NewDimensionSpec("country_latest", "listing")},
		{"joined time dimension defaults to day", []string{"bookings"}, "listing__ds", 0, spec.NewTimeDimensionSpec("ds", domain.GranularityDay, "listing")},
		{"linked entity", []string{"bookings"}, "listing__user", 0, spec.NewEntitySpec("user", "listing")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := newResolver(t).Resolve(Request{Metrics: tt.metrics, GroupBy: []string{tt.groupBy}, RequestedGranularity: tt.requested})
			require.NoError(t, err)
			require.Len(t, q.GroupBy, 1)
			assert.Equal(t, tt.want.Key(), q.GroupBy[0].Key())
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	limit := -1
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"no metrics", Request{}, &domain.InvalidQueryError{}},
		{"unknown metric", Request{Metrics: []string{"nope"}}, &domain.NotFoundError{}},
		{"unknown group by", Request{Metrics: []string{"bookings"}, GroupBy: []string{"nope"}}, &domain.InvalidQueryError{}},
		{"granularity on categorical", Request{Metrics: []string{"bookings"}, GroupBy: []string{"is_instant__month"}}, &domain.InvalidQueryError{}},
		{"too fine", Request{Metrics: []string{"revenue"}, GroupBy: []string{"metric_time__day"}}, &domain.RequestTimeGranularityError{}},
		{"requested too fine", Request{Metrics: []string{"revenue"}, GroupBy: []string{"metric_time"}, RequestedGranularity: domain.GranularityWeek}, &domain.RequestTimeGranularityError{}},
		{"cumulative mismatch", Request{Metrics: []string{"revenue_all_time"}, GroupBy: []string{"metric_time__year"}}, &domain.RequestTimeGranularityError{}},
		{"cumulative requested coarser", Request{Metrics: []string{"revenue_all_time"}, GroupBy: []string{"metric_time"}, RequestedGranularity: domain.GranularityYear}, &domain.RequestTimeGranularityError{}},
		{"order by unknown", Request{Metrics: []string{"bookings"}, OrderBy: []string{"is_instant"}}, &domain.InvalidQueryError{}},
		{"negative limit", Request{Metrics: []string{"bookings"}, Limit: &limit}, &domain.InvalidQueryError{}},
		{"bad where", Request{Metrics: []string{"bookings"}, Where: []string{"{{ Dimension }}"}}, &domain.InvalidQueryError{}},
		{"reversed time range", Request{Metrics: []string{"bookings"}, TimeConstraintStart: day(2020, 2, 1), TimeConstraintEnd: day(2020, 1, 1)}, &domain.InvalidQueryError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newResolver(t).Resolve(tt.req)
			require.Error(t, err)
			assert.True(t, domain.IsUserError(err), err.Error())
			assert.IsType(t, tt.wantErr, err)
		})
	}
}

func TestResolve_TimeRangeIsSnappedToMetricTime(t *testing.T) {
	q, err := newResolver(t).Resolve(Request{
		Metrics:             []string{"bookings"},
		GroupBy:             []string{"metric_time__month"},
		TimeConstraintStart: day(2020, 1, 15),
		TimeConstraintEnd:   day(2020, 2, 15),
	})
	require.NoError(t, err)
	require.NotNil(t, q.TimeRange)
	assert.Equal(t, "[2020-01-01, 2020-02-29]", q.TimeRange.String())

	q, err = newResolver(t).Resolve(Request{
		Metrics:             []string{"revenue"},
		TimeConstraintStart: day(2020, 3, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, *day(2020, 3, 1), q.TimeRange.Start)
	assert.Equal(t, domain.MaxTime, q.TimeRange.End)
}

func TestResolve_DeduplicatesAndMergesFilters(t *testing.T) {
	q, err := newResolver(t).Resolve(Request{
		Metrics: []string{"bookings", "bookings"},
		GroupBy: []string{"metric_time", "metric_time__day"},
		Where: []string{
			`{{ Dimension "booking__is_instant" }}`,
			`{{ TimeDimension "metric_time" "day" }} >= '2020-01-01'`,
		},
	})
	require.NoError(t, err)
	assert.Len(t, q.Metrics, 1)
	assert.Len(t, q.GroupBy, 1)
	assert.Len(t, q.Where.Specs(), 2)
	assert.Equal(t, []string{"bookings"}, q.MetricNames())
	assert.Equal(t, "metrics=[bookings] group_by=[metric_time__day]", q.String())
}
