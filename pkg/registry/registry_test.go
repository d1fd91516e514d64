package registry

import (
	"pacbridge/pkg/runtime/constant"
	v1 "pacbridge/pkg/v1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariableIndex(t *testing.T) {
	cases := map[string]int{
		"Input": 0, "SetHH": 1, "SetH": 2, "SetL": 3, "SetLL": 4, "SIM_Value": 5,
		"PV": 6, "min": 7, "Min": 7, "max": 8, "Max": 8, "percent": 9, "Percent": 9,
		"HH": 0, "H": 1, "L": 2, "LL": 3, "Color": 4,
		"ALARM_HH": 0, "ALARM_H": 1, "ALARM_L": 2, "ALARM_LL": 3, "COLOR": 4,
		"SET_7": 7, "E_3": 3, "E_x": NoIndex, "Unknown": NoIndex, "": NoIndex,
	}
	for name, want := range cases {
		assert.Equal(t, want, VariableIndex(name), name)
	}
	assert.Equal(t, 0, APIVariableIndex("IV"))
	assert.Equal(t, 9, APIVariableIndex("PRESSURE"))
	assert.Equal(t, NoIndex, APIVariableIndex("PV"))
	assert.Equal(t, 1, BatchVariableIndex("Cliente"))
	assert.Equal(t, 9, BatchVariableIndex("Placa"))
	assert.Equal(t, NoIndex, BatchVariableIndex("cliente"))
}

func TestIsWritableField(t *testing.T) {
	assert.True(t, IsWritableField(constant.FamilyValue, "SetHH"))
	assert.True(t, IsWritableField(constant.FamilyValue, "SIM_Value"))
	assert.True(t, IsWritableField(constant.FamilyValue, "SET_4"))
	assert.True(t, IsWritableField(constant.FamilyValue, "E_1"))
	assert.False(t, IsWritableField(constant.FamilyValue, "PV"))
	assert.False(t, IsWritableField(constant.FamilyAlarm, "SetHH"))
	assert.True(t, IsWritableField(constant.FamilyAPI, "IV"))
	assert.False(t, IsWritableField(constant.FamilyAPI, "NSV"))
	assert.True(t, IsWritableField(constant.FamilyBatch, "Cliente"))
	assert.False(t, IsWritableField(constant.FamilyBatch, "Volumen"))
}

func TestLoadAndBuild(t *testing.T) {
	doc, err := Load("testdata/tags.json")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", doc.PacConfig.IP)
	assert.Equal(t, DefaultPacTimeoutMs, doc.PacConfig.TimeoutMs)
	assert.Equal(t, 4841, doc.ServerConfig.OpcUaPort)
	assert.Equal(t, "Planta Norte", doc.ServerConfig.ServerName)

	r, err := Build(doc)
	require.NoError(t, err)
	// 10 known value fields, 5 alarms, 1 tag single, 3 api, 3 batch, 2 globals, 2 simple
	assert.Equal(t, 26, r.Len())

	pv, ok := r.Lookup("TT_11001.PV")
	require.True(t, ok)
	assert.Equal(t, "TBL_TT_11001:6", pv.Source)
	assert.Equal(t, constant.FLOAT, pv.DataType)
	assert.False(t, pv.Writable)

	sethh, ok := r.Lookup("TT_11001.SetHH")
	require.True(t, ok)
	assert.True(t, sethh.Writable)
	assert.True(t, sethh.Critical)
	assert.Equal(t, constant.AccessModeReadWrite, sethh.AccessMode)

	color, ok := r.Lookup("TT_11001.Color")
	require.True(t, ok)
	assert.Equal(t, constant.INT32, color.DataType)
	assert.Equal(t, "TBL_TA_11001:4", color.Source)
	assert.False(t, color.Writable)

	_, ok = r.Lookup("TT_11001.Bogus")
	assert.False(t, ok)

	offset, ok := r.Lookup("TT_11001.Offset")
	require.True(t, ok)
	assert.False(t, offset.IsTableIndexed())
	assert.Equal(t, "F_TT_11001_OFFSET", offset.Source)

	estado, ok := r.Lookup("Sistema_General.Estado")
	require.True(t, ok)
	assert.Equal(t, constant.INT32, estado.DataType)
	assert.Equal(t, GlobalGroup, estado.Group)

	bomba, ok := r.Lookup("Bomba_1")
	require.True(t, ok)
	assert.Equal(t, SimpleGroup, bomba.Group)
	assert.Equal(t, "TBL_PT_9", bomba.Table)
	assert.Equal(t, 3, bomba.Index)
	assert.True(t, bomba.Writable)

	iv, ok := r.Lookup("API_11001.IV")
	require.True(t, ok)
	assert.True(t, iv.Writable)

	placa, ok := r.Lookup("BATCH_1.Placa")
	require.True(t, ok)
	assert.True(t, placa.Writable)
	assert.Equal(t, "TBL_BATCH_1:9", placa.Source)

	assert.Len(t, r.SingleVariables(), 4)
	assert.Equal(t, []string{"TT_11001", "API_11001", "BATCH_1", GlobalGroup, SimpleGroup}, r.Groups())
}

func TestTableGroups(t *testing.T) {
	doc, err := Load("testdata/tags.json")
	require.NoError(t, err)
	r, err := Build(doc)
	require.NoError(t, err)

	groups := r.TableGroups()
	tables := make([]string, 0, len(groups))
	for _, g := range groups {
		tables = append(tables, g.Table)
	}
	assert.Equal(t, []string{"TBL_API_11001", "TBL_BATCH_1", "TBL_PT_9", "TBL_TA_11001", "TBL_TT_11001"}, tables)

	for _, g := range groups {
		switch g.Table {
		case "TBL_TT_11001":
			assert.Equal(t, 0, g.Min)
			assert.Equal(t, 9, g.Max)
			assert.Equal(t, constant.FLOAT, g.DataType)
			assert.Len(t, g.Variables, 10)
		case "TBL_TA_11001":
			assert.Equal(t, 0, g.Min)
			assert.Equal(t, 4, g.Max)
			assert.Equal(t, constant.INT32, g.DataType)
		case "TBL_API_11001":
			assert.Equal(t, 0, g.Min)
			assert.Equal(t, 9, g.Max)
		case "TBL_PT_9":
			assert.Equal(t, 3, g.Min)
			assert.Equal(t, 3, g.Max)
		}
	}
}

func TestPopulateReplacesPreviousContent(t *testing.T) {
	r, err := Build(&v1.TagsDocument{Tags: []*v1.Tag{{
		Name: "PT_1", ValueTable: "TBL_PT_1", Variables: []string{"PV", "SetH"},
	}}})
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())

	require.NoError(t, r.Populate(&v1.TagsDocument{Tags: []*v1.Tag{{
		Name: "LT_2", ValueTable: "TBL_LT_2", Variables: []string{"PV"},
	}}}))
	assert.Equal(t, 1, r.Len())
	_, ok := r.Lookup("PT_1.PV")
	assert.False(t, ok)
	require.Len(t, r.TableGroups(), 1)
	assert.Equal(t, "TBL_LT_2", r.TableGroups()[0].Table)

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.TableGroups())
}

func TestBuildRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]*v1.TagsDocument{
		"duplicate name": {
			Tags: []*v1.Tag{{Name: "PT_1", ValueTable: "TBL_PT_1", Variables: []string{"PV"}}},
			SimpleVariables: []*v1.SimpleVariable{
				{OpcUaName: "PT_1.PV", PacSource: "X"},
			},
		},
		"missing table": {
			Tags: []*v1.Tag{{Name: "PT_1", Variables: []string{"PV"}}},
		},
		"missing tag name": {
			Tags: []*v1.Tag{{ValueTable: "TBL_PT_1", Variables: []string{"PV"}}},
		},
		"missing pac tag": {
			FloatVariables: []*v1.SingleVariable{{Name: "X"}},
		},
		"bad type": {
			SimpleVariables: []*v1.SimpleVariable{{OpcUaName: "A", PacSource: "X", Type: "BOOL"}},
		},
		"type mismatch": {
			SimpleVariables: []*v1.SimpleVariable{{OpcUaName: "A", PacSource: "TBL_DA_1:0", Type: "FLOAT"}},
		},
		"slash in name": {
			SimpleVariables: []*v1.SimpleVariable{{OpcUaName: "A/B", PacSource: "X"}},
		},
	}
	for name, doc := range cases {
		_, err := Build(doc)
		assert.Error(t, err, name)
	}
}

func TestSingleVariableWritableOverride(t *testing.T) {
	yes := true
	r, err := Build(&v1.TagsDocument{
		FloatVariables: []*v1.SingleVariable{
			{Name: "Caudal", PacTag: "F_CAUDAL", Writable: &yes},
			{Name: "SetCaudal", PacTag: "F_SET_CAUDAL"},
			{Name: "Nivel", PacTag: "F_NIVEL"},
		},
	})
	require.NoError(t, err)
	v, _ := r.Lookup("Sistema_General.Caudal")
	assert.True(t, v.Writable)
	v, _ = r.Lookup("Sistema_General.SetCaudal")
	assert.True(t, v.Writable)
	v, _ = r.Lookup("Sistema_General.Nivel")
	assert.False(t, v.Writable)
}
