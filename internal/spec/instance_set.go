package spec

import "slices"

// Instance binds a spec to the column that carries it.
type Instance struct {
	Spec   Spec
	Column string
}

// InstanceSet is the ordered, duplicate-free set of instances in a row shape.
// It is immutable; every transform returns a new set.
type InstanceSet struct {
	instances []Instance
}

// NewInstanceSet builds a set, dropping later duplicates of the same spec.
func NewInstanceSet(instances ...Instance) InstanceSet {
	seen := make(map[string]bool, len(instances))
	out := make([]Instance, 0, len(instances))
	for _, inst := range instances {
		key := inst.Spec.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, inst)
	}
	return InstanceSet{instances: out}
}

// InstancesFor associates each spec with its column through resolver.
func InstancesFor(resolver ColumnAssociationResolver, specs ...Spec) InstanceSet {
	instances := make([]Instance, 0, len(specs))
	for _, s := range specs {
		instances = append(instances, Instance{Spec: s, Column: resolver.ColumnName(s)})
	}
	return NewInstanceSet(instances...)
}

// Instances returns a copy of the instances in order.
func (s InstanceSet) Instances() []Instance {
	return slices.Clone(s.instances)
}

// Len returns the number of instances.
func (s InstanceSet) Len() int { return len(s.instances) }

// Specs returns the specs in order.
func (s InstanceSet) Specs() []Spec {
	specs := make([]Spec, len(s.instances))
	for i, inst := range s.instances {
		specs[i] = inst.Spec
	}
	return specs
}

// Columns returns the column names in order.
func (s InstanceSet) Columns() []string {
	cols := make([]string, len(s.instances))
	for i, inst := range s.instances {
		cols[i] = inst.Column
	}
	return cols
}

// ByKind returns the instances of one kind in order.
func (s InstanceSet) ByKind(k Kind) []Instance {
	var out []Instance
	for _, inst := range s.instances {
		if inst.Spec.Kind() == k {
			out = append(out, inst)
		}
	}
	return out
}

// Lookup finds the instance for a spec.
func (s InstanceSet) Lookup(sp Spec) (Instance, bool) {
	key := sp.Key()
	for _, inst := range s.instances {
		if inst.Spec.Key() == key {
			return inst, true
		}
	}
	return Instance{}, false
}

// Contains reports whether every spec is present.
func (s InstanceSet) Contains(specs ...Spec) bool {
	for _, sp := range specs {
		if _, ok := s.Lookup(sp); !ok {
			return false
		}
	}
	return true
}

// Merge appends the instances of others that are not already present.
func (s InstanceSet) Merge(others ...InstanceSet) InstanceSet {
	all := slices.Clone(s.instances)
	for _, o := range others {
		all = append(all, o.instances...)
	}
	return NewInstanceSet(all...)
}

// Only keeps the instances whose spec is in specs, in the order of specs.
func (s InstanceSet) Only(specs ...Spec) InstanceSet {
	out := make([]Instance, 0, len(specs))
	for _, sp := range specs {
		if inst, ok := s.Lookup(sp); ok {
			out = append(out, inst)
		}
	}
	return NewInstanceSet(out...)
}

// Without drops every instance of the given kinds.
func (s InstanceSet) Without(kinds ...Kind) InstanceSet {
	out := make([]Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		if !slices.Contains(kinds, inst.Spec.Kind()) {
			out = append(out, inst)
		}
	}
	return InstanceSet{instances: out}
}

// Sorted returns the set ordered by kind and then by structural key.
func (s InstanceSet) Sorted() InstanceSet {
	out := slices.Clone(s.instances)
	slices.SortStableFunc(out, func(a, b Instance) int { return Compare(a.Spec, b.Spec) })
	return InstanceSet{instances: out}
}
