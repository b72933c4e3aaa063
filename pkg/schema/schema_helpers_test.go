package schema

import (
	"testing"

	"github.com/leapstack-labs/redcapetl/internal/testutil"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
	"github.com/stretchr/testify/require"
)

func testProject() *redcap.ProjectData {
	return &redcap.ProjectData{
		Info: redcap.ProjectInfo{HasRepeatingInstrumentsOrEvents: true},
		Metadata: []redcap.FieldMetadata{
			{FieldName: "record_id", FormName: "demo", FieldType: redcap.TypeText},
			{FieldName: "a", FormName: "demo", FieldType: redcap.TypeText},
			{FieldName: "b", FormName: "demo", FieldType: redcap.TypeText, ValidationType: "integer"},
			{FieldName: "age", FormName: "demo", FieldType: redcap.TypeText, ValidationType: "integer"},
			{FieldName: "sex", FormName: "demo", FieldType: redcap.TypeRadio, Choices: "0, Female | 1, Male"},
			{FieldName: "days", FormName: "demo", FieldType: redcap.TypeCheckbox, Choices: "0, Mon | 1, Tue"},
			{FieldName: "weight", FormName: "visit", FieldType: redcap.TypeText, ValidationType: "number"},
			{FieldName: "site", FormName: "visit", FieldType: redcap.TypeDropdown, Choices: "1, North | 2, South"},
			{FieldName: "bp_1", FormName: "vitals", FieldType: redcap.TypeText},
			{FieldName: "bp_2", FormName: "vitals", FieldType: redcap.TypeText},
			{FieldName: "zip_1", FormName: "vitals", FieldType: redcap.TypeText, ValidationType: "zipcode"},
			{FieldName: "zip_2", FormName: "vitals", FieldType: redcap.TypeText, ValidationType: "phone"},
			{FieldName: "memo_1", FormName: "vitals", FieldType: redcap.TypeText, ValidationType: "zipcode"},
			{FieldName: "memo_2", FormName: "vitals", FieldType: redcap.TypeText},
			{FieldName: "pain_1", FormName: "vitals", FieldType: redcap.TypeRadio, Choices: "1, Mild | 2, Severe"},
			{FieldName: "pain_2", FormName: "vitals", FieldType: redcap.TypeRadio, Choices: "1, Mild | 3, Extreme"},
			{FieldName: "mood_1", FormName: "vitals", FieldType: redcap.TypeRadio, Choices: "1, Calm | 2, Upset"},
			{FieldName: "mood_2", FormName: "vitals", FieldType: redcap.TypeText},
		},
		Instruments: []redcap.Instrument{{Name: "demo"}, {Name: "visit"}, {Name: "vitals"}},
		Repeating:   []redcap.RepeatingForm{{FormName: "visit"}},
	}
}

func generate(t *testing.T, cfg GeneratorConfig, text string) *Schema {
	t.Helper()
	s, r, err := NewGenerator(cfg, testutil.NewTestLogger(t)).GenerateFromText(testProject(), text)
	require.NoError(t, err, r.Errors())
	return s
}

func mustTable(t *testing.T, s *Schema, name string) *Table {
	t.Helper()
	table, ok := s.Table(name)
	require.True(t, ok, "table %q not found", name)
	return table
}
