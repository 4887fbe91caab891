// Package sqlgen lowers dataflow plans into SQL statement trees and drives the
// SQL optimizers, falling back to lower optimization levels when generation
// fails.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"semantic-compiler/internal/sqlplan/optimizer"
)

// OptimizationLevel selects the SQL optimizers that run and whether shared
// plan branches are emitted as CTEs. Higher levels produce simpler SQL.
type OptimizationLevel int

// O0 through O5 are the optimization levels.
const (
	O0 OptimizationLevel = iota
	O1
	O2
	O3
	O4
	O5
)

// DefaultOptimizationLevel is used when none is configured.
const DefaultOptimizationLevel = O5

func (l OptimizationLevel) String() string { return "O" + strconv.Itoa(int(l)) }

// IsValid reports whether l is one of O0 through O5.
func (l OptimizationLevel) IsValid() bool { return l >= O0 && l <= O5 }

// ParseOptimizationLevel parses "O3", "o3" or "3".
func ParseOptimizationLevel(s string) (OptimizationLevel, error) {
	trimmed := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "O")
	n, err := strconv.Atoi(trimmed)
	if err != nil || !OptimizationLevel(n).IsValid() {
		return 0, fmt.Errorf("invalid optimization level %q: expected O0 through O5", s)
	}
	return OptimizationLevel(n), nil
}

// SQLGenOptions is what a level turns on.
type SQLGenOptions struct {
	Optimizers []optimizer.Optimizer
	AllowCTE   bool
}

// OptionsForLevel returns the options of level. Optimizers are built per call
// and hold no state.
func OptionsForLevel(level OptimizationLevel, useColumnAliasInGroupBy bool) SQLGenOptions {
	switch level {
	case O0:
		return SQLGenOptions{}
	case O1:
		return SQLGenOptions{Optimizers: []optimizer.Optimizer{optimizer.NewTableAliasSimplifier()}}
	case O2, O3:
		return SQLGenOptions{Optimizers: []optimizer.Optimizer{
			optimizer.NewColumnPruner(),
			optimizer.NewTableAliasSimplifier(),
		}}
	case O4:
		return SQLGenOptions{Optimizers: []optimizer.Optimizer{
			optimizer.NewColumnPruner(),
			optimizer.NewSubQueryReducer(useColumnAliasInGroupBy),
			optimizer.NewTableAliasSimplifier(),
		}}
	case O5:
		return SQLGenOptions{
			Optimizers: []optimizer.Optimizer{
				optimizer.NewColumnPruner(),
				optimizer.NewSubQueryReducer(useColumnAliasInGroupBy),
				optimizer.NewTableAliasSimplifier(),
			},
			AllowCTE: true,
		}
	default:
		panic(fmt.Sprintf("unhandled optimization level %d", int(level)))
	}
}

// retryLevels returns the levels to attempt for a request at level, highest
// first. O0 is only attempted when requested.
func retryLevels(level OptimizationLevel) []OptimizationLevel {
	levels := []OptimizationLevel{level}
	for l := level - 1; l >= O1; l-- {
		levels = append(levels, l)
	}
	return levels
}
