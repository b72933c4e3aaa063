package rules

import (
	"testing"

	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
	"github.com/stretchr/testify/assert"
)

func classicProject() *redcap.ProjectData {
	return &redcap.ProjectData{
		Info: redcap.ProjectInfo{HasRepeatingInstrumentsOrEvents: true},
		Metadata: []redcap.FieldMetadata{
			{FieldName: "record_id", FormName: "enrollment", FieldType: redcap.TypeText},
			{FieldName: "dob", FormName: "enrollment", FieldType: redcap.TypeText, ValidationType: "date_ymd"},
			{FieldName: "sex", FormName: "enrollment", FieldType: redcap.TypeRadio, Choices: "0, Female | 1, Male"},
			{FieldName: "intro", FormName: "enrollment", FieldType: redcap.TypeDescriptive},
			{FieldName: "email", FormName: "contact", FieldType: redcap.TypeText, ValidationType: "email"},
			{FieldName: "consent", FormName: "contact", FieldType: redcap.TypeFile},
			{FieldName: "weight", FormName: "visit", FieldType: redcap.TypeText, ValidationType: "number_1dp"},
			{FieldName: "symptoms", FormName: "visit", FieldType: redcap.TypeCheckbox, Choices: "1, Cough | 2, Fever"},
		},
		Instruments: []redcap.Instrument{{Name: "enrollment"}, {Name: "contact"}, {Name: "visit"}},
		Repeating:   []redcap.RepeatingForm{{FormName: "visit"}},
	}
}

func TestGenerateDefaultRules_Classic(t *testing.T) {
	want := `TABLE,enrollment,enrollment_id,ROOT
FIELD,record_id,varchar(255)
FIELD,dob,date
FIELD,sex,int

TABLE,contact,contact_id,ROOT
FIELD,record_id,varchar(255)
FIELD,email,varchar(255)

TABLE,visit,enrollment,REPEATING_INSTRUMENTS
FIELD,weight,float
FIELD,symptoms,checkbox
`
	got := GenerateDefaultRules(classicProject(), GenerateOptions{})
	assert.Equal(t, want, got)

	r := Check(Parse(got))
	assert.False(t, r.HasErrors(), r.Errors())
}

func TestGenerateDefaultRules_Options(t *testing.T) {
	got := GenerateDefaultRules(classicProject(), GenerateOptions{
		IncludeCompleteFields: true,
		IncludeDAGField:       true,
	})
	assert.Contains(t, got, "TABLE,enrollment,enrollment_id,ROOT\nFIELD,redcap_data_access_group,varchar(255)\n")
	assert.Contains(t, got, "FIELD,visit_complete,int\n")
	assert.Contains(t, got, "FIELD,contact_complete,int\n")
}

func TestGenerateDefaultRules_Longitudinal(t *testing.T) {
	p := &redcap.ProjectData{
		Info: redcap.ProjectInfo{IsLongitudinal: true, HasRepeatingInstrumentsOrEvents: true},
		Metadata: []redcap.FieldMetadata{
			{FieldName: "study_id", FormName: "baseline", FieldType: redcap.TypeText},
			{FieldName: "age", FormName: "baseline", FieldType: redcap.TypeText, ValidationType: "integer"},
			{FieldName: "seen_at", FormName: "followup", FieldType: redcap.TypeText, ValidationType: "datetime_ymd"},
			{FieldName: "note", FormName: "meds", FieldType: redcap.TypeNotes},
			{FieldName: "unused", FormName: "orphan", FieldType: redcap.TypeText},
		},
		Instruments: []redcap.Instrument{{Name: "baseline"}, {Name: "followup"}, {Name: "meds"}, {Name: "orphan"}},
		FormEvents: []redcap.FormEventMapping{
			{UniqueEventName: "base_arm_1", Form: "baseline"},
			{UniqueEventName: "visit_arm_1", Form: "followup"},
			{UniqueEventName: "weekly_arm_1", Form: "followup"},
			{UniqueEventName: "visit_arm_1", Form: "meds"},
		},
		Repeating: []redcap.RepeatingForm{
			{EventName: "weekly_arm_1"},
			{EventName: "visit_arm_1", FormName: "meds"},
		},
	}

	want := `TABLE,root,root_id,ROOT
FIELD,study_id,varchar(255)

TABLE,baseline,root,EVENTS
FIELD,age,int

TABLE,followup,root,EVENTS+REPEATING_EVENTS
FIELD,seen_at,datetime

TABLE,meds,root,REPEATING_INSTRUMENTS
FIELD,note,string
`
	got := GenerateDefaultRules(p, GenerateOptions{})
	assert.Equal(t, want, got)
	assert.Equal(t, got, GenerateDefaultRules(p, GenerateOptions{}), "output must be deterministic")

	r := Check(Parse(got))
	assert.False(t, r.HasErrors(), r.Errors())
	assert.Equal(t, core.RowsEvents|core.RowsRepeatingEvents, r.TableRules()[2].RowsType)
}

func TestInferFieldSpec(t *testing.T) {
	tests := []struct {
		name string
		meta redcap.FieldMetadata
		want string
		ok   bool
	}{
		{"plain text", redcap.FieldMetadata{FieldType: "text"}, "string", true},
		{"date", redcap.FieldMetadata{FieldType: "text", ValidationType: "date_mdy"}, "date", true},
		{"datetime seconds", redcap.FieldMetadata{FieldType: "text", ValidationType: "datetime_seconds_ymd"}, "datetime", true},
		{"integer", redcap.FieldMetadata{FieldType: "text", ValidationType: "integer"}, "int", true},
		{"number", redcap.FieldMetadata{FieldType: "text", ValidationType: "number"}, "float", true},
		{"zipcode", redcap.FieldMetadata{FieldType: "text", ValidationType: "zipcode"}, "varchar(10)", true},
		{"phone", redcap.FieldMetadata{FieldType: "text", ValidationType: "phone"}, "varchar(20)", true},
		{"notes", redcap.FieldMetadata{FieldType: "notes"}, "string", true},
		{"calc", redcap.FieldMetadata{FieldType: "calc"}, "string", true},
		{"yesno", redcap.FieldMetadata{FieldType: "yesno"}, "int", true},
		{"slider", redcap.FieldMetadata{FieldType: "slider"}, "int", true},
		{"dropdown numeric", redcap.FieldMetadata{FieldType: "dropdown", Choices: "1, A | 2, B"}, "int", true},
		{"dropdown text codes", redcap.FieldMetadata{FieldType: "dropdown", Choices: "a, A | b, B"}, "varchar(255)", true},
		{"checkbox", redcap.FieldMetadata{FieldType: "checkbox", Choices: "1, A"}, "checkbox", true},
		{"descriptive", redcap.FieldMetadata{FieldType: "descriptive"}, "", false},
		{"file", redcap.FieldMetadata{FieldType: "file"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, ok := InferFieldSpec(tt.meta)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, spec.String())
			}
		})
	}
}
