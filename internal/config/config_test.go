package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semantic-compiler/internal/dataflow/optimizer"
	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/sqlgen"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"LOG_LEVEL", "MANIFEST_PATH", "SQL_ENGINE", "SQL_OPTIMIZATION_LEVEL", "DATAFLOW_OPTIMIZATIONS"} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, domain.EngineDuckDB, cfg.SQLEngine)
	assert.Equal(t, sqlgen.O5, cfg.OptimizationLevel)
	assert.Equal(t, []optimizer.OptimizationKind{optimizer.PredicatePushdown, optimizer.SourceScan}, cfg.DataflowOptimizations)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "MANIFEST_PATH")
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MANIFEST_PATH", "/etc/semantic/manifest")
	t.Setenv("SQL_ENGINE", "BigQuery")
	t.Setenv("SQL_OPTIMIZATION_LEVEL", "o3")
	t.Setenv("DATAFLOW_OPTIMIZATIONS", "source_scan, predicate_pushdown")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "/etc/semantic/manifest", cfg.ManifestPath)
	assert.Equal(t, domain.EngineBigQuery, cfg.SQLEngine)
	assert.Equal(t, sqlgen.O3, cfg.OptimizationLevel)
	assert.Equal(t, []optimizer.OptimizationKind{optimizer.SourceScan, optimizer.PredicatePushdown}, cfg.DataflowOptimizations)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_DisableDataflowOptimizations(t *testing.T) {
	clearEnv(t)
	t.Setenv("MANIFEST_PATH", "manifest.yaml")
	t.Setenv("DATAFLOW_OPTIMIZATIONS", "none")
	t.Setenv("SQL_OPTIMIZATION_LEVEL", "0")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.NotNil(t, cfg.DataflowOptimizations)
	assert.Empty(t, cfg.DataflowOptimizations)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "O0")
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SQL_ENGINE", "oracle"},
		{"SQL_OPTIMIZATION_LEVEL", "O9"},
		{"DATAFLOW_OPTIMIZATIONS", "predicate_pushdown,column_pruner"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.in}
		assert.Equal(t, tt.want, cfg.SlogLevel(), tt.in)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := (&Config{LogLevel: "warn"}).NewLogger(&buf)

	logger.Info("dropped")
	logger.Warn("kept", "component", "sqlgen")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"msg":"kept"`)
	assert.Contains(t, buf.String(), `"component":"sqlgen"`)
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	require.NoError(t, LoadDotEnv("/nonexistent/.env"))
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "# compiler settings\n\nSQL_ENGINE=postgres\nMANIFEST_PATH=\"/srv/manifest\"\nnot a pair\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))
	t.Setenv("SQL_ENGINE", "")
	t.Setenv("MANIFEST_PATH", "")

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "postgres", os.Getenv("SQL_ENGINE"))
	assert.Equal(t, "/srv/manifest", os.Getenv("MANIFEST_PATH"))
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("SQL_OPTIMIZATION_LEVEL", "O2")
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SQL_OPTIMIZATION_LEVEL=O4\n"), 0o600))

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "O2", os.Getenv("SQL_OPTIMIZATION_LEVEL"))
}
