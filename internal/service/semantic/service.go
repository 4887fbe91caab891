// Package semantic compiles metric queries against a loaded semantic manifest.
package semantic

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"semantic-compiler/internal/config"
	"semantic-compiler/internal/dataflow/builder"
	"semantic-compiler/internal/dataflow/optimizer"
	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/manifest"
	"semantic-compiler/internal/query"
	"semantic-compiler/internal/sqlgen"
)

// Options select the target engine and the optimizations of a Service.
type Options struct {
	Engine                domain.SQLEngine
	OptimizationLevel     sqlgen.OptimizationLevel
	DataflowOptimizations []optimizer.OptimizationKind
}

// DefaultOptions targets DuckDB at the default level with every dataflow
// optimization.
func DefaultOptions() Options {
	return Options{
		Engine:                domain.EngineDuckDB,
		OptimizationLevel:     sqlgen.DefaultOptimizationLevel,
		DataflowOptimizations: slices.Clone(optimizer.DefaultOptimizations),
	}
}

// OptionsFromConfig returns the service options selected by cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Engine:                cfg.SQLEngine,
		OptimizationLevel:     cfg.OptimizationLevel,
		DataflowOptimizations: slices.Clone(cfg.DataflowOptimizations),
	}
}

// Service compiles metric queries. It holds only read-only state and is safe
// for concurrent use.
type Service struct {
	lookup     *manifest.Lookup
	resolver   *query.Resolver
	builder    *builder.Builder
	optimizers []optimizer.Optimizer
	converter  *sqlgen.Converter
	opts       Options
	logger     *slog.Logger
}

// NewService creates a Service over lookup. An empty engine defaults to DuckDB.
func NewService(lookup *manifest.Lookup, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Engine == "" {
		opts.Engine = domain.EngineDuckDB
	}
	if !opts.OptimizationLevel.IsValid() {
		panic(fmt.Sprintf("unhandled optimization level %d", int(opts.OptimizationLevel)))
	}
	return &Service{
		lookup:     lookup,
		resolver:   query.NewResolver(lookup),
		builder:    builder.NewBuilder(lookup),
		optimizers: optimizer.NewFactory(logger).GetOptimizers(opts.DataflowOptimizations),
		converter:  sqlgen.NewConverter(nil, logger),
		opts:       opts,
		logger:     logger.With("component", "semantic"),
	}
}

// NewServiceFromConfig loads the manifest named by cfg.ManifestPath and creates
// a Service with the configured engine and optimizations. Config warnings are
// logged once.
func NewServiceFromConfig(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	if cfg.ManifestPath == "" {
		return nil, domain.ErrValidation("MANIFEST_PATH is required")
	}
	lookup, err := LoadManifest(cfg.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	return NewService(lookup, OptionsFromConfig(cfg), logger), nil
}

// LoadManifest loads the manifest at path, a YAML file or a directory of YAML
// files, and indexes it.
func LoadManifest(path string) (*manifest.Lookup, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat manifest: %w", err)
	}
	var m *domain.SemanticManifest
	if info.IsDir() {
		m, err = manifest.LoadDirectory(path)
	} else {
		m, err = manifest.LoadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return manifest.NewLookup(*m)
}

// ListMetrics returns the metrics of the manifest in definition order.
func (s *Service) ListMetrics() []domain.Metric {
	names := s.lookup.MetricNames()
	out := make([]domain.Metric, 0, len(names))
	for _, name := range names {
		if m, err := s.lookup.Metric(name); err == nil {
			out = append(out, *m)
		}
	}
	return out
}

// ListSemanticModels returns the semantic models of the manifest.
func (s *Service) ListSemanticModels() []domain.SemanticModel {
	models := s.lookup.SemanticModels()
	out := make([]domain.SemanticModel, 0, len(models))
	for _, m := range models {
		out = append(out, *m)
	}
	return out
}
