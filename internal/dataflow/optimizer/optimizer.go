// Package optimizer holds the dataflow plan rewrites that run between plan
// building and SQL generation.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"semantic-compiler/internal/dataflow"
)

// OptimizationKind names a dataflow optimizer.
type OptimizationKind int

// PredicatePushdown and SourceScan are the available dataflow optimizers.
const (
	PredicatePushdown OptimizationKind = iota + 1
	SourceScan
)

// DefaultOptimizations are applied when none are configured.
var DefaultOptimizations = []OptimizationKind{PredicatePushdown, SourceScan}

func (k OptimizationKind) String() string {
	switch k {
	case PredicatePushdown:
		return "predicate_pushdown"
	case SourceScan:
		return "source_scan"
	default:
		return fmt.Sprintf("OptimizationKind(%d)", int(k))
	}
}

// ParseOptimizationKind parses a kind by name.
func ParseOptimizationKind(s string) (OptimizationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "predicate_pushdown":
		return PredicatePushdown, nil
	case "source_scan":
		return SourceScan, nil
	default:
		return 0, fmt.Errorf("unknown dataflow optimization %q", s)
	}
}

// Optimizer rewrites a dataflow plan into an equivalent one.
type Optimizer interface {
	Name() string
	Optimize(p *dataflow.Plan) (*dataflow.Plan, error)
}

// Factory hands out optimizers. Optimizers carry no per-call state, so the
// same instances may be shared across goroutines.
type Factory struct {
	logger *slog.Logger
}

// NewFactory creates a factory whose optimizers log through logger.
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{logger: logger.With("component", "dataflow_optimizer")}
}

// GetOptimizers returns one optimizer per kind, in the order given. An unknown
// kind is a programming error and panics.
func (f *Factory) GetOptimizers(kinds []OptimizationKind) []Optimizer {
	out := make([]Optimizer, 0, len(kinds))
	for _, k := range kinds {
		switch k {
		case PredicatePushdown:
			out = append(out, &PredicatePushdownOptimizer{logger: f.logger})
		case SourceScan:
			out = append(out, &SourceScanOptimizer{logger: f.logger})
		default:
			panic(fmt.Sprintf("unhandled dataflow optimization kind %d", int(k)))
		}
	}
	return out
}

// Apply runs optimizers over p in order.
func Apply(p *dataflow.Plan, optimizers []Optimizer) (*dataflow.Plan, error) {
	for _, o := range optimizers {
		next, err := o.Optimize(p)
		if err != nil {
			return nil, fmt.Errorf("dataflow optimizer %s: %w", o.Name(), err)
		}
		p = next
	}
	return p, nil
}

func logPass(logger *slog.Logger, name string, before, after *dataflow.Plan) {
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	logger.Debug("dataflow optimizer pass",
		"optimizer", name,
		"plan_id", before.ID,
		"changed", before != after,
		"nodes_before", len(before.Nodes()),
		"nodes_after", len(after.Nodes()))
}
