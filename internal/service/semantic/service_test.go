package semantic

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semantic-compiler/internal/config"
	"semantic-compiler/internal/dataflow/optimizer"
	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/sqlgen"
	"semantic-compiler/internal/testutil"
)

func setupSemanticService(t *testing.T, opts Options) *Service {
	t.Helper()
	return NewService(testutil.SimpleManifestLookup(t), opts, testutil.DiscardLogger())
}

func ptr[T any](v T) *T { return &v }

func TestService_ExplainMetricQuery(t *testing.T) {
	svc := setupSemanticService(t, DefaultOptions())
	db := testutil.OpenWarehouse(t)
	ctx := context.Background()

	plan, err := svc.ExplainMetricQuery(ctx, MetricQueryRequest{
		Metrics: []string{"bookings"},
		GroupBy: []string{"listing__country_latest"},
		Where:   []string{`{{ Dimension "booking__is_instant" }}`},
		OrderBy: []string{"-bookings"},
		Limit:   ptr(10),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"listing__country_latest", "bookings"}, plan.Columns)
	assert.Equal(t, sqlgen.O5, plan.RequestedLevel)
	assert.Equal(t, sqlgen.O5, plan.UsedLevel)
	assert.NotEmpty(t, plan.DataflowPlan.ID)
	assert.True(t, strings.HasPrefix(plan.SQLPlan.ID, "sqp_"))
	assert.Contains(t, plan.GeneratedSQL, `ORDER BY "bookings" DESC LIMIT 10`)
	assert.Equal(t, []string{"fr|1", "us|3"}, testutil.QueryRows(t, db, plan.GeneratedSQL))
}

func TestService_LevelsAgree(t *testing.T) {
	svc := setupSemanticService(t, DefaultOptions())
	db := testutil.OpenWarehouse(t)
	req := MetricQueryRequest{
		Metrics: []string{"instant_booking_fraction", "booking_value_per_booking", "bookings"},
		GroupBy: []string{"metric_time__month", "listing__country_latest"},
	}

	top, err := svc.ExplainMetricQuery(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, top.SQLPlan.Statement.CteSources)
	want := testutil.QueryRows(t, db, top.GeneratedSQL)
	require.NotEmpty(t, want)

	req.OptimizationLevel = ptr(sqlgen.O0)
	bottom, err := svc.ExplainMetricQuery(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, sqlgen.O0, bottom.UsedLevel)
	assert.Empty(t, bottom.SQLPlan.Statement.CteSources)
	assert.Equal(t, top.Columns, bottom.Columns)
	assert.Equal(t, want, testutil.QueryRows(t, db, bottom.GeneratedSQL))
}

func TestService_CumulativeWithTimeConstraint(t *testing.T) {
	svc := setupSemanticService(t, DefaultOptions())
	start := time.Date(2020, 2, 14, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 3, 2, 0, 0, 0, 0, time.UTC)

	plan, err := svc.ExplainMetricQuery(context.Background(), MetricQueryRequest{
		Metrics:             []string{"trailing_2_months_revenue"},
		GroupBy:             []string{"metric_time"},
		TimeConstraintStart: &start,
		TimeConstraintEnd:   &end,
	})
	require.NoError(t, err)
	assert.Equal(t, "[2020-02-01, 2020-03-31]", plan.Query.TimeRange.String())
	assert.Equal(t, []string{"metric_time__month", "trailing_2_months_revenue"}, plan.Columns)

	rows := testutil.QueryRows(t, testutil.OpenWarehouse(t), plan.GeneratedSQL)
	require.Len(t, rows, 2)
	assert.True(t, strings.HasSuffix(rows[0], "|2200"), rows[0])
	assert.True(t, strings.HasSuffix(rows[1], "|1000"), rows[1])
}

func TestService_WithoutDataflowOptimizations(t *testing.T) {
	opts := DefaultOptions()
	opts.DataflowOptimizations = nil
	plain := setupSemanticService(t, opts)
	optimized := setupSemanticService(t, DefaultOptions())
	req := MetricQueryRequest{Metrics: []string{"bookings", "booking_value", "revenue"}, GroupBy: []string{"metric_time__month"}}

	a, err := plain.ExplainMetricQuery(context.Background(), req)
	require.NoError(t, err)
	b, err := optimized.ExplainMetricQuery(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(a.GeneratedSQL, `"main"."fct_bookings"`))
	assert.Equal(t, 1, strings.Count(b.GeneratedSQL, `"main"."fct_bookings"`))
	assert.Equal(t, a.Columns, b.Columns)

	db := testutil.OpenWarehouse(t)
	assert.Equal(t, testutil.QueryRows(t, db, a.GeneratedSQL), testutil.QueryRows(t, db, b.GeneratedSQL))
}

func TestService_BigQuery(t *testing.T) {
	opts := DefaultOptions()
	opts.Engine = domain.EngineBigQuery
	opts.DataflowOptimizations = []optimizer.OptimizationKind{optimizer.PredicatePushdown}
	svc := setupSemanticService(t, opts)

	plan, err := svc.ExplainMetricQuery(context.Background(), MetricQueryRequest{
		Metrics: []string{"bookings"},
		GroupBy: []string{"metric_time__week"},
	})
	require.NoError(t, err)
	assert.Contains(t, plan.GeneratedSQL, "DATE_TRUNC(ds, ISOWEEK)")
	assert.Contains(t, plan.GeneratedSQL, "GROUP BY `metric_time__week`")
}

func TestService_Errors(t *testing.T) {
	svc := setupSemanticService(t, DefaultOptions())

	tests := []struct {
		name string
		req  MetricQueryRequest
	}{
		{"no metrics", MetricQueryRequest{}},
		{"unknown metric", MetricQueryRequest{Metrics: []string{"nope"}}},
		{"unknown group by", MetricQueryRequest{Metrics: []string{"bookings"}, GroupBy: []string{"listing__nope"}}},
		{"granularity too fine", MetricQueryRequest{Metrics: []string{"revenue"}, GroupBy: []string{"metric_time__day"}}},
		{"order by outside query", MetricQueryRequest{Metrics: []string{"bookings"}, OrderBy: []string{"booking_value"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ExplainMetricQuery(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, domain.IsUserError(err), "%T: %v", err, err)
		})
	}

	t.Run("invalid level", func(t *testing.T) {
		_, err := svc.ExplainMetricQuery(context.Background(), MetricQueryRequest{
			Metrics:           []string{"bookings"},
			OptimizationLevel: ptr(sqlgen.OptimizationLevel(7)),
		})
		require.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := svc.ExplainMetricQuery(ctx, MetricQueryRequest{Metrics: []string{"bookings"}})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	data, err := io.ReadAll(testutil.SimpleManifestYAML())
	require.NoError(t, err)
	file := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(file, data, 0o600))

	for _, path := range []string{file, dir} {
		lookup, err := LoadManifest(path)
		require.NoError(t, err, path)
		svc := NewService(lookup, DefaultOptions(), testutil.DiscardLogger())
		assert.Len(t, svc.ListSemanticModels(), 3)
		metrics := svc.ListMetrics()
		require.NotEmpty(t, metrics)
		assert.Equal(t, "bookings", metrics[0].Name)
	}

	_, err = LoadManifest(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestNewServiceFromConfig(t *testing.T) {
	dir := t.TempDir()
	data, err := io.ReadAll(testutil.SimpleManifestYAML())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models.yaml"), data, 0o600))

	t.Setenv("MANIFEST_PATH", dir)
	t.Setenv("SQL_ENGINE", "bigquery")
	t.Setenv("SQL_OPTIMIZATION_LEVEL", "O0")
	t.Setenv("DATAFLOW_OPTIMIZATIONS", "none")
	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, domain.EngineBigQuery, opts.Engine)
	assert.Equal(t, sqlgen.O0, opts.OptimizationLevel)
	assert.Empty(t, opts.DataflowOptimizations)

	svc, err := NewServiceFromConfig(cfg, testutil.DiscardLogger())
	require.NoError(t, err)
	plan, err := svc.ExplainMetricQuery(context.Background(), MetricQueryRequest{Metrics: []string{"bookings"}})
	require.NoError(t, err)
	assert.Equal(t, sqlgen.O0, plan.UsedLevel)
	assert.Contains(t, plan.GeneratedSQL, "`")

	cfg.ManifestPath = ""
	_, err = NewServiceFromConfig(cfg, testutil.DiscardLogger())
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}
