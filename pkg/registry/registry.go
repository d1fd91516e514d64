package registry

import (
	"os"
	"pacbridge/pkg/runtime"
	"pacbridge/pkg/runtime/constant"
	v1 "pacbridge/pkg/v1"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

const (
	GlobalGroup = "Sistema_General"
	SimpleGroup = "SimpleVariables"

	DefaultPacIP            = "192.168.1.30"
	DefaultPacPort          = 22001
	DefaultPacTimeoutMs     = 3000
	DefaultOpcUaPort        = 4840
	DefaultUpdateIntervalMs = 2000
	DefaultServerName       = "PAC Control SCADA Server"
)

// DefaultCriticalFields are the alarm setpoints. A write to one of them
// holds back polled values until the controller has applied it.
var DefaultCriticalFields = []string{"SetHH", "SetH", "SetL", "SetLL"}

// TableGroup is the set of variables read together from one table.
type TableGroup struct {
	Table     string
	DataType  constant.DataType
	Min       int
	Max       int
	Variables []*runtime.Variable
}

// Registry is the flat variable list derived from a tags document. It is
// filled before the scheduler starts and only read afterwards.
type Registry struct {
	mu             sync.RWMutex
	criticalFields sets.Set[string]
	variables      []*runtime.Variable
	byName         map[string]*runtime.Variable
	groups         map[string]*TableGroup
	singles        []*runtime.Variable
}

type Option func(*Registry)

func WithCriticalFields(fields ...string) Option {
	return func(r *Registry) {
		r.criticalFields = sets.New[string](fields...)
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{criticalFields: sets.New[string](DefaultCriticalFields...)}
	for _, o := range opts {
		o(r)
	}
	r.Reset()
	return r
}

// Load reads a tags document in JSON or YAML and fills in defaults.
func Load(path string) (*v1.TagsDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read tags file %s", path)
	}
	doc := &v1.TagsDocument{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrapf(err, "parse tags file %s", path)
	}
	SetDefaults(doc)
	return doc, nil
}

func SetDefaults(doc *v1.TagsDocument) {
	if doc.PacConfig == nil {
		doc.PacConfig = &v1.PacConfig{}
	}
	if len(doc.PacConfig.IP) == 0 {
		doc.PacConfig.IP = DefaultPacIP
	}
	if doc.PacConfig.Port == 0 {
		doc.PacConfig.Port = DefaultPacPort
	}
	if doc.PacConfig.TimeoutMs == 0 {
		doc.PacConfig.TimeoutMs = DefaultPacTimeoutMs
	}
	if doc.ServerConfig == nil {
		doc.ServerConfig = &v1.ServerConfig{}
	}
	if doc.ServerConfig.OpcUaPort == 0 {
		doc.ServerConfig.OpcUaPort = DefaultOpcUaPort
	}
	if doc.ServerConfig.UpdateIntervalMs == 0 {
		doc.ServerConfig.UpdateIntervalMs = DefaultUpdateIntervalMs
	}
	if len(doc.ServerConfig.ServerName) == 0 {
		doc.ServerConfig.ServerName = DefaultServerName
	}
}

// Build creates a registry from doc.
func Build(doc *v1.TagsDocument, opts ...Option) (*Registry, error) {
	r := New(opts...)
	if err := r.Populate(doc); err != nil {
		return nil, err
	}
	return r, nil
}

// Reset drops every variable and group.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables = make([]*runtime.Variable, 0)
	r.byName = make(map[string]*runtime.Variable)
	r.groups = make(map[string]*TableGroup)
	r.singles = make([]*runtime.Variable, 0)
}

// Populate replaces the registry content with the variables of doc. On a
// validation error the registry is left empty.
func (r *Registry) Populate(doc *v1.TagsDocument) error {
	r.Reset()
	if doc == nil {
		return nil
	}
	b := &builder{criticalFields: r.criticalFields, byName: make(map[string]*runtime.Variable)}
	b.build(doc)
	if len(b.errs) > 0 {
		return b.errs.ToAggregate()
	}

	groups := make(map[string]*TableGroup)
	singles := make([]*runtime.Variable, 0)
	for _, v := range b.variables {
		if !v.IsTableIndexed() {
			singles = append(singles, v)
			continue
		}
		g, ok := groups[v.Table]
		if !ok {
			g = &TableGroup{Table: v.Table, DataType: v.DataType, Min: v.Index, Max: v.Index}
			groups[v.Table] = g
		}
		if v.Index < g.Min {
			g.Min = v.Index
		}
		if v.Index > g.Max {
			g.Max = v.Index
		}
		g.Variables = append(g.Variables, v)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables = b.variables
	r.byName = b.byName
	r.groups = groups
	r.singles = singles
	klog.V(1).InfoS("Built variable registry", "variables", len(r.variables), "tables", len(groups), "singles", len(singles))
	return nil
}

func (r *Registry) Variables() []*runtime.Variable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*runtime.Variable(nil), r.variables...)
}

func (r *Registry) Lookup(name string) (*runtime.Variable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byName[name]
	return v, ok
}

// TableGroups returns the groups ordered by table name.
func (r *Registry) TableGroups() []*TableGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	groups := make([]*TableGroup, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Table < groups[j].Table })
	return groups
}

func (r *Registry) SingleVariables() []*runtime.Variable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*runtime.Variable(nil), r.singles...)
}

// Groups returns the distinct owning group names in declaration order.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := sets.New[string]()
	names := make([]string, 0)
	for _, v := range r.variables {
		if !seen.Has(v.Group) {
			seen.Insert(v.Group)
			names = append(names, v.Group)
		}
	}
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.variables)
}
