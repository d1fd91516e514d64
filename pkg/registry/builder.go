package registry

import (
	"pacbridge/pkg/runtime"
	"pacbridge/pkg/runtime/constant"
	v1 "pacbridge/pkg/v1"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"k8s.io/klog/v2"
)

type builder struct {
	criticalFields sets.Set[string]
	variables      []*runtime.Variable
	byName         map[string]*runtime.Variable
	errs           field.ErrorList
}

func (b *builder) build(doc *v1.TagsDocument) {
	for i, tag := range doc.Tags {
		b.tag(field.NewPath("tbL_tags").Index(i), tag)
	}
	for i, tag := range doc.APITags {
		path := field.NewPath("TBL_tags_api").Index(i)
		if tag == nil {
			continue
		}
		b.tableFields(path, tag.Name, tag.ValueTable, tag.Variables, constant.FamilyAPI)
	}
	for i, tag := range doc.BatchTags {
		path := field.NewPath("batch_tags").Index(i)
		if tag == nil {
			continue
		}
		b.tableFields(path, tag.Name, tag.Table, tag.Variables, constant.FamilyBatch)
	}
	for i, sv := range doc.FloatVariables {
		b.single(field.NewPath("float_variables").Index(i), GlobalGroup, sv, constant.FLOAT)
	}
	for i, sv := range doc.Int32Variables {
		b.single(field.NewPath("int32_variables").Index(i), GlobalGroup, sv, constant.INT32)
	}
	for i, sv := range doc.SimpleVariables {
		b.simple(field.NewPath("simple_variables").Index(i), sv)
	}
}

func (b *builder) tag(path *field.Path, tag *v1.Tag) {
	if tag == nil {
		return
	}
	if len(tag.Variables) > 0 {
		b.tableFields(path, tag.Name, tag.ValueTable, tag.Variables, constant.FamilyValue)
	}
	if len(tag.Alarms) > 0 {
		b.tableFields(path.Child("alarms"), tag.Name, tag.AlarmTable, tag.Alarms, constant.FamilyAlarm)
	}
	for i, sv := range tag.FloatVariables {
		b.single(path.Child("float_variables").Index(i), tag.Name, sv, constant.FLOAT)
	}
	for i, sv := range tag.Int32Variables {
		b.single(path.Child("int32_variables").Index(i), tag.Name, sv, constant.INT32)
	}
}

func (b *builder) tableFields(path *field.Path, group, table string, fields []string, family constant.Family) {
	b.errs = append(b.errs, runtime.ValidateName(path.Child("name"), group, runtime.ValidateNodeName)...)
	if len(fields) == 0 {
		return
	}
	if len(table) == 0 {
		b.errs = append(b.errs, field.Required(path.Child("table"), "a table is required when fields are declared"))
		return
	}

	dt := constant.FLOAT
	if family == constant.FamilyAlarm || runtime.IsAlarmTable(table) {
		dt = constant.INT32
	}
	for i, name := range fields {
		index := IndexOf(family, name)
		if index == NoIndex {
			klog.V(2).InfoS("Skipped field with no table offset", "group", group, "field", name, "family", family)
			continue
		}
		writable := IsWritableField(family, name)
		b.add(path.Child("variables").Index(i), &runtime.Variable{
			Name:       group + "." + name,
			Group:      group,
			Field:      name,
			Source:     runtime.TableLocator(table, index),
			Table:      table,
			Index:      index,
			DataType:   dt,
			Family:     family,
			Writable:   writable,
			AccessMode: constant.AccessModeOf(writable),
			Critical:   writable && b.criticalFields.Has(name),
		})
	}
}

func (b *builder) single(path *field.Path, group string, sv *v1.SingleVariable, dt constant.DataType) {
	if sv == nil {
		return
	}
	if len(strings.TrimSpace(sv.PacTag)) == 0 {
		b.errs = append(b.errs, field.Required(path.Child("pac_tag"), ""))
		return
	}
	writable := IsWritableField(constant.FamilySingle, sv.Name)
	if sv.Writable != nil {
		writable = *sv.Writable
	}
	b.add(path, &runtime.Variable{
		Name:       group + "." + sv.Name,
		Group:      group,
		Field:      sv.Name,
		Source:     sv.PacTag,
		Index:      -1,
		DataType:   dt,
		Family:     constant.FamilySingle,
		Writable:   writable,
		AccessMode: constant.AccessModeOf(writable),
		Critical:   writable && b.criticalFields.Has(sv.Name),
	})
}

func (b *builder) simple(path *field.Path, sv *v1.SimpleVariable) {
	if sv == nil {
		return
	}
	if len(sv.PacSource) == 0 {
		b.errs = append(b.errs, field.Required(path.Child("pac_source"), ""))
		return
	}
	dt := constant.FLOAT
	if len(sv.Type) > 0 {
		t, ok := constant.StringToDataType[sv.Type]
		if !ok {
			b.errs = append(b.errs, field.NotSupported(path.Child("type"), sv.Type, []string{"FLOAT", "INT32"}))
			return
		}
		dt = t
	}

	v := &runtime.Variable{
		Name:       sv.OpcUaName,
		Group:      SimpleGroup,
		Field:      sv.OpcUaName,
		Source:     sv.PacSource,
		Index:      -1,
		DataType:   dt,
		Family:     constant.FamilySingle,
		Writable:   sv.Writable,
		AccessMode: constant.AccessModeOf(sv.Writable),
		Critical:   sv.Writable && b.criticalFields.Has(sv.OpcUaName),
	}
	if table, index, ok := runtime.ParseLocator(sv.PacSource); ok {
		if index < 0 {
			b.errs = append(b.errs, field.Invalid(path.Child("pac_source"), sv.PacSource, "index must not be negative"))
			return
		}
		if runtime.IsAlarmTable(table) != (dt == constant.INT32) {
			b.errs = append(b.errs, field.Invalid(path.Child("type"), sv.Type, "does not match the element type of table "+table))
			return
		}
		v.Table = table
		v.Index = index
		v.Family = constant.FamilyValue
		if dt == constant.INT32 {
			v.Family = constant.FamilyAlarm
		}
	}
	b.add(path, v)
}

func (b *builder) add(path *field.Path, v *runtime.Variable) {
	if errs := runtime.ValidateName(path.Child("name"), v.Name, runtime.ValidateNodeName); len(errs) > 0 {
		b.errs = append(b.errs, errs...)
		return
	}
	if _, ok := b.byName[v.Name]; ok {
		b.errs = append(b.errs, field.Duplicate(path.Child("name"), v.Name))
		return
	}
	b.byName[v.Name] = v
	b.variables = append(b.variables, v)
}
