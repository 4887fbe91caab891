package sqlgen

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"semantic-compiler/internal/dataflow"
	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/spec"
	"semantic-compiler/internal/sqlplan"
)

// LoweringError is a failure to build or optimize SQL at one level. It is
// retried at the next lower level.
type LoweringError struct {
	Level OptimizationLevel
	Err   error
}

func (e *LoweringError) Error() string {
	return fmt.Sprintf("sql generation failed at %s: %v", e.Level, e.Err)
}

func (e *LoweringError) Unwrap() error { return e.Err }

// ConvertOptions are the optional inputs of a conversion.
type ConvertOptions struct {
	// PlanID names the SQL plan. A random id is used when empty.
	PlanID string
	// SpecOutputOrder lists specs that lead the output columns, in order.
	// Columns not listed follow in plan order.
	SpecOutputOrder []spec.Spec
}

// ConvertToSQLPlanResult is a lowered plan and its output row shape.
type ConvertToSQLPlanResult struct {
	InstanceSet spec.InstanceSet
	SQLPlan     *sqlplan.SQLPlan
	// Level is the optimization level that produced the plan, which is lower
	// than the requested one after a downgrade.
	Level OptimizationLevel
}

// Converter lowers dataflow plans to SQL plans. It holds no per-call state and
// is safe for concurrent use.
type Converter struct {
	resolver        spec.ColumnAssociationResolver
	logger          *slog.Logger
	optionsForLevel func(OptimizationLevel, bool) SQLGenOptions
}

// NewConverter creates a converter. A nil resolver uses dunder column names.
func NewConverter(resolver spec.ColumnAssociationResolver, logger *slog.Logger) *Converter {
	if resolver == nil {
		resolver = spec.DunderColumnAssociationResolver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		resolver:        resolver,
		logger:          logger.With("component", "sqlgen"),
		optionsForLevel: OptionsForLevel,
	}
}

// ConvertToSQLPlan lowers the plan rooted at node. On a lowering failure it
// retries at each lower level down to O1 and logs the downgrade when a lower
// level succeeds. When every level fails the error of the requested level is
// returned. User errors are returned as is without retrying.
func (c *Converter) ConvertToSQLPlan(
	node dataflow.Node,
	engine domain.SQLEngine,
	level OptimizationLevel,
	opts ConvertOptions,
) (*ConvertToSQLPlanResult, error) {
	if !level.IsValid() {
		panic(fmt.Sprintf("unhandled optimization level %d", int(level)))
	}
	planID := opts.PlanID
	if planID == "" {
		planID = "sqp_" + uuid.NewString()
	}

	var firstErr error
	for i, attempt := range retryLevels(level) {
		result, err := c.convertAtLevel(node, engine, attempt, planID, opts.SpecOutputOrder)
		if err == nil {
			if i > 0 {
				c.logger.Error("sql generation downgraded",
					"requested_level", level.String(),
					"used_level", attempt.String(),
					"plan_id", planID,
					"error", firstErr)
			}
			return result, nil
		}
		if domain.IsUserError(err) {
			return nil, err
		}
		c.logger.Warn("sql generation failed at level", "level", attempt.String(), "plan_id", planID, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	panic("sql generation attempted no optimization level")
}

func (c *Converter) convertAtLevel(
	node dataflow.Node,
	engine domain.SQLEngine,
	level OptimizationLevel,
	planID string,
	order []spec.Spec,
) (result *ConvertToSQLPlanResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &LoweringError{Level: level, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	options := c.optionsForLevel(level, engine.UseColumnAliasInGroupBy())
	result, err = c.convertUsingSpecifics(node, options, level, planID, order)
	if err != nil && !domain.IsUserError(err) {
		return nil, &LoweringError{Level: level, Err: err}
	}
	return result, err
}

func (c *Converter) convertUsingSpecifics(
	node dataflow.Node,
	options SQLGenOptions,
	level OptimizationLevel,
	planID string,
	order []spec.Spec,
) (*ConvertToSQLPlanResult, error) {
	var common []dataflow.Node
	if options.AllowCTE {
		common = dataflow.FindCommonBranches(dataflow.AsPlan(node))
	}
	out, err := newLowering(c.resolver, common).lowerPlan(node)
	if err != nil {
		return nil, err
	}
	stmt, instances, err := applyOutputOrder(out.stmt, out.instances, order)
	if err != nil {
		return nil, err
	}

	debug := c.logger.Enabled(context.Background(), slog.LevelDebug)
	for _, opt := range options.Optimizers {
		before := stmt
		if stmt, err = opt.Optimize(stmt); err != nil {
			return nil, fmt.Errorf("%s: %w", opt.Name(), err)
		}
		if debug {
			c.logger.Debug("sql optimizer pass",
				"optimizer", opt.Name(),
				"level", level.String(),
				"before", sqlplan.StructureText(before),
				"after", sqlplan.StructureText(stmt))
		}
	}
	return &ConvertToSQLPlanResult{
		InstanceSet: instances,
		SQLPlan:     &sqlplan.SQLPlan{ID: planID, Statement: stmt},
		Level:       level,
	}, nil
}

// applyOutputOrder moves the columns of order to the front.
func applyOutputOrder(
	stmt *sqlplan.SelectStatement,
	instances spec.InstanceSet,
	order []spec.Spec,
) (*sqlplan.SelectStatement, spec.InstanceSet, error) {
	if len(order) == 0 {
		return stmt, instances, nil
	}
	specs := make([]spec.Spec, 0, instances.Len())
	for _, s := range order {
		if _, ok := instances.Lookup(s); !ok {
			return nil, spec.InstanceSet{}, domain.ErrInvalidQuery("output order names %s, which the query does not produce", s.QualifiedName())
		}
		specs = append(specs, s)
	}
	specs = append(specs, instances.Specs()...)
	ordered := instances.Only(specs...)

	out := stmt.Clone()
	out.SelectColumns = out.SelectColumns[:0]
	for _, column := range ordered.Columns() {
		col, ok := stmt.Column(column)
		if !ok {
			return nil, spec.InstanceSet{}, fmt.Errorf("output column %q is missing from the statement", column)
		}
		out.SelectColumns = append(out.SelectColumns, col)
	}
	return out, ordered, nil
}
