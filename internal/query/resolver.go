package query

import (
	"slices"
	"strings"
	"time"

	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/granularity"
	"semantic-compiler/internal/manifest"
	"semantic-compiler/internal/spec"
)

// Resolver turns requests into queries against one manifest.
type Resolver struct {
	lookup *manifest.Lookup
	solver *granularity.Solver
}

// NewResolver creates a resolver over lookup.
func NewResolver(lookup *manifest.Lookup) *Resolver {
	return &Resolver{lookup: lookup, solver: granularity.NewSolver(lookup)}
}

// Resolve validates req and resolves every name in it. All failures are user
// errors.
func (r *Resolver) Resolve(req Request) (*Query, error) {
	if len(req.Metrics) == 0 {
		return nil, domain.ErrInvalidQuery("at least one metric is required")
	}
	q := &Query{Limit: req.Limit}
	if req.Limit != nil && *req.Limit < 0 {
		return nil, domain.ErrInvalidQuery("limit must not be negative, got %d", *req.Limit)
	}

	seen := map[string]bool{}
	for _, name := range req.Metrics {
		name = strings.TrimSpace(name)
		if _, err := r.lookup.Metric(name); err != nil {
			return nil, err
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		q.Metrics = append(q.Metrics, spec.MetricSpec{Element: name})
	}
	metrics := q.MetricNames()

	groupBy, err := r.resolveGroupBy(metrics, req.GroupBy, req.RequestedGranularity)
	if err != nil {
		return nil, err
	}
	q.GroupBy = groupBy

	filters := make([]spec.WhereFilter, 0, len(req.Where))
	for _, text := range req.Where {
		f, err := spec.ParseWhereFilter(text)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if q.Where, err = spec.MergeWhereFilters(filters...); err != nil {
		return nil, err
	}

	for _, item := range req.OrderBy {
		o, err := resolveOrderBy(q, item)
		if err != nil {
			return nil, err
		}
		q.OrderBy = append(q.OrderBy, o)
	}

	if req.TimeConstraintStart != nil || req.TimeConstraintEnd != nil {
		tr, err := r.resolveTimeRange(q, req)
		if err != nil {
			return nil, err
		}
		q.TimeRange = &tr
	}
	return q, nil
}

// groupByItem is a resolved group-by entry or a time dimension still waiting
// for its granularity.
type groupByItem struct {
	resolved spec.Spec
	partial  *spec.PartialTimeDimensionSpec
}

func (r *Resolver) resolveGroupBy(metrics, names []string, requested domain.TimeGranularity) ([]spec.Spec, error) {
	items := make([]groupByItem, 0, len(names))
	var (
		partials []spec.PartialTimeDimensionSpec
		explicit []spec.TimeDimensionSpec
	)
	for _, name := range names {
		item, err := r.parseGroupBy(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		switch {
		case item.partial != nil:
			partials = append(partials, *item.partial)
		case item.resolved.Kind() == spec.KindTimeDimension:
			explicit = append(explicit, item.resolved.(spec.TimeDimensionSpec))
		}
		items = append(items, item)
	}

	if err := r.solver.ValidateTimeGranularity(metrics, explicit); err != nil {
		return nil, err
	}
	primary := spec.PartialTimeDimensionSpec{Element: domain.MetricTimeName}
	resolved, err := r.solver.ResolveGranularityForPartialTimeDimensionSpecs(metrics, partials, primary, requested)
	if err != nil {
		return nil, err
	}

	out := make([]spec.Spec, 0, len(items))
	seen := map[string]bool{}
	for _, item := range items {
		s := item.resolved
		if item.partial != nil {
			s = resolved[item.partial.Key()]
		}
		if seen[s.Key()] {
			continue
		}
		seen[s.Key()] = true
		out = append(out, s)
	}
	return out, nil
}

func (r *Resolver) parseGroupBy(name string) (groupByItem, error) {
	links, element, g := spec.ParseDunderName(name)
	if element == "" {
		return groupByItem{}, domain.ErrInvalidQuery("invalid group by item %q", name)
	}
	if element == domain.MetricTimeName && len(links) == 0 {
		return timeItem(element, links, g), nil
	}
	if owners := r.lookup.DimensionOwners(element); len(owners) > 0 {
		dim := manifest.FindDimension(owners[0], element)
		if dim.Type == domain.DimensionTypeTime {
			return timeItem(element, links, g), nil
		}
		if g != domain.GranularityUnknown {
			return groupByItem{}, domain.ErrInvalidQuery("%q is not a time dimension and takes no granularity", name)
		}
		return groupByItem{resolved: spec.NewDimensionSpec(element, links...)}, nil
	}
	if len(r.lookup.EntityOwners(element)) > 0 && g == domain.GranularityUnknown {
		return groupByItem{resolved: spec.NewEntitySpec(element, links...)}, nil
	}
	return groupByItem{}, domain.ErrInvalidQuery("unknown group by item %q", name)
}

func timeItem(element string, links []string, g domain.TimeGranularity) groupByItem {
	if g.IsValid() {
		return groupByItem{resolved: spec.NewTimeDimensionSpec(element, g, links...)}
	}
	return groupByItem{partial: &spec.PartialTimeDimensionSpec{Element: element, EntityLinks: links}}
}

// resolveOrderBy matches an order-by item against the queried metrics and
// group-by items. A time dimension named without a granularity matches the
// queried one.
func resolveOrderBy(q *Query, item string) (spec.OrderBySpec, error) {
	name := strings.TrimSpace(item)
	descending := strings.HasPrefix(name, "-")
	name = strings.TrimPrefix(name, "-")

	for _, m := range q.Metrics {
		if m.Element == name {
			return spec.OrderBySpec{Spec: m, Descending: descending}, nil
		}
	}
	links, element, g := spec.ParseDunderName(name)
	for _, s := range q.GroupBy {
		if s.ElementName() != element || !slices.Equal(s.Links(), links) {
			continue
		}
		td, isTime := s.(spec.TimeDimensionSpec)
		switch {
		case isTime && g.IsValid() && td.Granularity != g:
			continue
		case !isTime && g.IsValid():
			continue
		}
		return spec.OrderBySpec{Spec: s, Descending: descending}, nil
	}
	return spec.OrderBySpec{}, domain.ErrInvalidQuery("order by item %q is not one of the queried metrics or group by items", item)
}

// resolveTimeRange fills an open bound with the representable limit and snaps
// the range to the queried metric_time granularity, or to the coarsest
// granularity of the metrics when metric_time is not queried.
func (r *Resolver) resolveTimeRange(q *Query, req Request) (domain.TimeRange, error) {
	tr := domain.TimeRange{Start: domain.MinTime, End: domain.MaxTime}
	if req.TimeConstraintStart != nil {
		tr.Start = *req.TimeConstraintStart
	}
	if req.TimeConstraintEnd != nil {
		tr.End = *req.TimeConstraintEnd
	}
	if tr.End.Before(tr.Start) {
		return domain.TimeRange{}, domain.ErrInvalidQuery("time constraint end %s is before start %s",
			tr.End.Format(time.DateOnly), tr.Start.Format(time.DateOnly))
	}

	var g domain.TimeGranularity
	if mts := q.MetricTimeSpecs(); len(mts) > 0 {
		g = mts[0].Granularity
	} else {
		_, coarsest, err := r.solver.LocalDimensionGranularityRange(q.MetricNames(), domain.MetricTimeName)
		if err != nil {
			return domain.TimeRange{}, err
		}
		g = coarsest
	}
	return granularity.AdjustTimeRangeToGranularity(tr, g), nil
}
