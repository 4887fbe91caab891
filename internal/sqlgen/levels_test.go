package sqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func optimizerNames(o SQLGenOptions) []string {
	var names []string
	for _, opt := range o.Optimizers {
		names = append(names, opt.Name())
	}
	return names
}

func TestOptionsForLevel(t *testing.T) {
	full := []string{"column_pruner", "sub_query_reducer", "table_alias_simplifier"}
	tests := []struct {
		level      OptimizationLevel
		optimizers []string
		allowCTE   bool
	}{
		{O0, nil, false},
		{O1, []string{"table_alias_simplifier"}, false},
		{O2, []string{"column_pruner", "table_alias_simplifier"}, false},
		{O3, []string{"column_pruner", "table_alias_simplifier"}, false},
		{O4, full, false},
		{O5, full, true},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			got := OptionsForLevel(tt.level, false)
			assert.Equal(t, tt.optimizers, optimizerNames(got))
			assert.Equal(t, tt.allowCTE, got.AllowCTE)
		})
	}

	assert.Panics(t, func() { OptionsForLevel(OptimizationLevel(6), false) })
	assert.Panics(t, func() { OptionsForLevel(OptimizationLevel(-1), false) })
}

func TestParseOptimizationLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    OptimizationLevel
		wantErr bool
	}{
		{"O0", O0, false},
		{"o3", O3, false},
		{" 5 ", O5, false},
		{"O6", 0, true},
		{"-1", 0, true},
		{"fast", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOptimizationLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRetryLevels(t *testing.T) {
	assert.Equal(t, []OptimizationLevel{O5, O4, O3, O2, O1}, retryLevels(O5))
	assert.Equal(t, []OptimizationLevel{O2, O1}, retryLevels(O2))
	assert.Equal(t, []OptimizationLevel{O1}, retryLevels(O1))
	assert.Equal(t, []OptimizationLevel{O0}, retryLevels(O0))
}
