package runtime

import (
	"github.com/mitchellh/mapstructure"
	"k8s.io/klog/v2"
	"sort"
	"strings"
)

type lessVariableFunc func(v1, v2 *Variable) bool

type variableSorter struct {
	vs        []*Variable
	lessFuncs []lessVariableFunc
}

func ByVariable(less ...lessVariableFunc) *variableSorter {
	return &variableSorter{
		lessFuncs: less,
	}
}

func (ms *variableSorter) Sort(vs []*Variable) {
	ms.vs = vs
	sort.Sort(ms)
}

func (ms *variableSorter) Len() int {
	return len(ms.vs)
}

func (ms *variableSorter) Swap(i, j int) {
	ms.vs[i], ms.vs[j] = ms.vs[j], ms.vs[i]
}

func (ms *variableSorter) Less(i, j int) bool {
	p, q := ms.vs[i], ms.vs[j]
	var k int
	for k = 0; k < len(ms.lessFuncs)-1; k++ {
		less := ms.lessFuncs[k]
		switch {
		case less(p, q):
			return true
		case less(q, p):
			return false
		}
	}
	return ms.lessFuncs[k](p, q)
}

func ByName(v1, v2 *Variable) bool {
	return v1.Name < v2.Name
}

type NameFilterFunc struct {
	Eq         string
	In         []string
	Contains   string
	StartsWith string
	EndsWith   string
}

// VariableFilter is decoded from the "filter" query parameter. Name is
// either a plain string or an object shaped like NameFilterFunc.
type VariableFilter struct {
	Name     interface{} `json:"name"`
	Group    string      `json:"group"`
	Table    string      `json:"table"`
	Writable *bool       `json:"writable"`
}

type Predicate func(v *Variable) bool

func ParseVariableFilter(filter *VariableFilter) []Predicate {
	predicates := make([]Predicate, 0)

	if len(filter.Group) > 0 {
		predicates = append(predicates, func(v *Variable) bool { return v.Group == filter.Group })
	}

	if len(filter.Table) > 0 {
		predicates = append(predicates, func(v *Variable) bool { return v.Table == filter.Table })
	}

	if filter.Writable != nil {
		writable := *filter.Writable
		predicates = append(predicates, func(v *Variable) bool { return v.Writable == writable })
	}

	if filter.Name != nil {
		if name, ok := filter.Name.(string); ok {
			predicates = append(predicates, func(v *Variable) bool { return v.Name == name })
			return predicates
		}

		var ff NameFilterFunc
		if err := mapstructure.Decode(filter.Name, &ff); err != nil {
			klog.V(3).InfoS("Failed to parse filter.name", "err", err)
		}
		if len(ff.Eq) > 0 {
			predicates = append(predicates, func(v *Variable) bool { return ff.Eq == v.Name })
		}
		if len(ff.In) > 0 {
			predicates = append(predicates, func(v *Variable) bool {
				for _, name := range ff.In {
					if name == v.Name {
						return true
					}
				}
				return false
			})
		}
		if len(ff.Contains) > 0 {
			predicates = append(predicates, func(v *Variable) bool { return strings.Contains(v.Name, ff.Contains) })
		}
		if len(ff.StartsWith) > 0 {
			prefix := strings.TrimSpace(ff.StartsWith)
			predicates = append(predicates, func(v *Variable) bool { return strings.HasPrefix(v.Name, prefix) })
		}
		if len(ff.EndsWith) > 0 {
			suffix := strings.TrimSpace(ff.EndsWith)
			predicates = append(predicates, func(v *Variable) bool { return strings.HasSuffix(v.Name, suffix) })
		}
	}

	return predicates
}

// Match reports whether v satisfies every predicate.
func Match(v *Variable, predicates []Predicate) bool {
	for _, p := range predicates {
		if !p(v) {
			return false
		}
	}
	return true
}
