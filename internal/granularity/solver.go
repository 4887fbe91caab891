// Package granularity resolves and validates the time granularities of a query.
package granularity

import (
	"slices"

	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/manifest"
	"semantic-compiler/internal/spec"
)

// Solver resolves partial time dimensions to concrete granularities and checks
// that requested granularities can be served by the queried metrics. It is built
// once per manifest and is read-only afterwards.
type Solver struct {
	lookup *manifest.Lookup
	// measure -> local time dimension name -> granularities across defining models.
	supported map[string]map[string][]domain.TimeGranularity
}

// NewSolver precomputes the per-measure local time dimension granularities.
// metric_time is recorded against each measure's agg time dimension.
func NewSolver(lookup *manifest.Lookup) *Solver {
	s := &Solver{
		lookup:    lookup,
		supported: make(map[string]map[string][]domain.TimeGranularity),
	}
	for _, model := range lookup.SemanticModels() {
		for _, measure := range model.Measures {
			dims := s.supported[measure.Name]
			if dims == nil {
				dims = make(map[string][]domain.TimeGranularity)
				s.supported[measure.Name] = dims
			}
			for _, dim := range model.Dimensions {
				if dim.Type != domain.DimensionTypeTime {
					continue
				}
				dims[dim.Name] = addGranularity(dims[dim.Name], dim.Granularity())
			}
			if aggDim, err := lookup.AggTimeDimension(measure.Name, model); err == nil {
				dims[domain.MetricTimeName] = addGranularity(dims[domain.MetricTimeName], aggDim.Granularity())
			}
		}
	}
	return s
}

func addGranularity(set []domain.TimeGranularity, g domain.TimeGranularity) []domain.TimeGranularity {
	if slices.Contains(set, g) {
		return set
	}
	set = append(set, g)
	slices.Sort(set)
	return set
}

// LocalDimensionGranularityRange returns the finest and coarsest granularity at
// which the named local time dimension is defined across the measures feeding
// metrics. The coarsest value is the minimum granularity usable for querying.
func (s *Solver) LocalDimensionGranularityRange(metrics []string, dimension string) (minG, maxG domain.TimeGranularity, err error) {
	measures, err := s.lookup.MeasuresForMetrics(metrics...)
	if err != nil {
		return domain.GranularityUnknown, domain.GranularityUnknown, domain.ErrInvalidQuery("%s", err.Error())
	}
	for _, measure := range measures {
		grans := s.supported[measure][dimension]
		switch len(grans) {
		case 0:
			return domain.GranularityUnknown, domain.GranularityUnknown,
				domain.ErrInvalidQuery("measure %q has no local time dimension %q", measure, dimension)
		case 1:
		default:
			return domain.GranularityUnknown, domain.GranularityUnknown,
				domain.ErrNotImplemented("local time dimension %q of measure %q is defined at several granularities %v across semantic models",
					dimension, measure, grans)
		}
		g := grans[0]
		if minG == domain.GranularityUnknown || g < minG {
			minG = g
		}
		if g > maxG {
			maxG = g
		}
	}
	if minG == domain.GranularityUnknown {
		return domain.GranularityUnknown, domain.GranularityUnknown,
			domain.ErrInvalidQuery("metrics %v have no measures to resolve %q against", metrics, dimension)
	}
	return minG, maxG, nil
}

// ValidateTimeGranularity checks every local time dimension in specs against the
// minimum usable granularity of the metrics. Cumulative metrics must be queried at
// exactly that granularity.
func (s *Solver) ValidateTimeGranularity(metrics []string, specs []spec.TimeDimensionSpec) error {
	cumulative := s.lookup.ContainsCumulativeMetric(metrics...)
	for _, td := range specs {
		local, err := s.isLocal(metrics, td.Partial())
		if err != nil {
			return err
		}
		if !local {
			continue
		}
		_, minUsable, err := s.LocalDimensionGranularityRange(metrics, td.Element)
		if err != nil {
			return err
		}
		if td.Granularity.FinerThan(minUsable) {
			return domain.ErrRequestTimeGranularity(
				"%s is requested at granularity %s, but the metrics %v can only be queried at %s or coarser",
				td.QualifiedName(), td.Granularity, metrics, minUsable)
		}
		if cumulative && td.Granularity != minUsable {
			return domain.ErrRequestTimeGranularity(
				"cumulative metrics in %v must be queried with %s at granularity %s, got %s",
				metrics, td.Element, minUsable, td.Granularity)
		}
	}
	return nil
}

// ResolveGranularityForPartialTimeDimensionSpecs resolves each partial spec to the
// minimum granularity usable for querying the metrics. When primary is requested
// with an explicit granularity, that granularity is used after checking it is not
// finer than the minimum, and equal to it when a metric is cumulative. Joined time dimensions resolve to
// domain.DefaultGranularity. The result is keyed by PartialTimeDimensionSpec.Key.
func (s *Solver) ResolveGranularityForPartialTimeDimensionSpecs(
	metrics []string,
	partials []spec.PartialTimeDimensionSpec,
	primary spec.PartialTimeDimensionSpec,
	requested domain.TimeGranularity,
) (map[string]spec.TimeDimensionSpec, error) {
	out := make(map[string]spec.TimeDimensionSpec, len(partials))
	for _, partial := range partials {
		local, err := s.isLocal(metrics, partial)
		if err != nil {
			return nil, err
		}
		if !local {
			// TODO: minimize joined time dimensions across join paths instead of
			// defaulting; callers rely on DAY today.
			out[partial.Key()] = partial.WithGranularity(domain.DefaultGranularity)
			continue
		}
		_, minUsable, err := s.LocalDimensionGranularityRange(metrics, partial.Element)
		if err != nil {
			return nil, err
		}
		resolved := minUsable
		if partial.Key() == primary.Key() && requested.IsValid() {
			if requested.FinerThan(minUsable) {
				return nil, domain.ErrRequestTimeGranularity(
					"requested granularity %s for %s is finer than %s, the minimum supported by metrics %v",
					requested, domain.MetricTimeName, minUsable, metrics)
			}
			if requested != minUsable && s.lookup.ContainsCumulativeMetric(metrics...) {
				return nil, domain.ErrRequestTimeGranularity(
					"cumulative metrics in %v must be queried with %s at granularity %s, got %s",
					metrics, domain.MetricTimeName, minUsable, requested)
			}
			resolved = requested
		}
		out[partial.Key()] = partial.WithGranularity(resolved)
	}
	return out, nil
}

// isLocal reports whether the time dimension is defined on the semantic models of
// the measures themselves: metric_time, an unlinked dimension, or a dimension
// linked through the primary entity of the measure's model.
func (s *Solver) isLocal(metrics []string, partial spec.PartialTimeDimensionSpec) (bool, error) {
	if partial.Element == domain.MetricTimeName {
		return len(partial.EntityLinks) == 0, nil
	}
	switch len(partial.EntityLinks) {
	case 0:
		return true, nil
	case 1:
	default:
		return false, nil
	}
	measures, err := s.lookup.MeasuresForMetrics(metrics...)
	if err != nil {
		return false, domain.ErrInvalidQuery("%s", err.Error())
	}
	link := partial.EntityLinks[0]
	for _, measure := range measures {
		for _, model := range s.lookup.MeasureModels(measure) {
			if slices.Contains(manifest.IdentifyingEntities(model), link) && manifest.FindDimension(model, partial.Element) != nil {
				return true, nil
			}
		}
	}
	return false, nil
}

// AdjustTimeRangeToGranularity widens r so that it starts at the beginning of a
// period and ends at the end of one, clamped to the representable time range.
// Already aligned ranges are returned unchanged. An end bound that already lies
// within the last day of its period keeps its time of day.
func AdjustTimeRangeToGranularity(r domain.TimeRange, g domain.TimeGranularity) domain.TimeRange {
	start := g.PeriodStart(r.Start)
	end := g.PeriodEnd(r.End)
	if r.End.After(end) {
		end = r.End
	}
	if start.Before(domain.MinTime) {
		start = domain.MinTime
	}
	if end.After(domain.MaxTime) {
		end = domain.MaxTime
	}
	return domain.TimeRange{Start: start, End: end}
}
