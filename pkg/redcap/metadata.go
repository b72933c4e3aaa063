package redcap

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Reserved column names in REDCap flat record exports.
const (
	EventNameField          = "redcap_event_name"
	RepeatInstrumentField   = "redcap_repeat_instrument"
	RepeatInstanceField     = "redcap_repeat_instance"
	DataAccessGroupField    = "redcap_data_access_group"
	SurveyIdentifierField   = "redcap_survey_identifier"
	CheckboxSeparator       = "___"
	completeFieldSuffix     = "_complete"
	defaultRecordIDFallback = "record_id"
)

// REDCap field types.
const (
	TypeText        = "text"
	TypeNotes       = "notes"
	TypeDropdown    = "dropdown"
	TypeRadio       = "radio"
	TypeCheckbox    = "checkbox"
	TypeYesNo       = "yesno"
	TypeTrueFalse   = "truefalse"
	TypeCalc        = "calc"
	TypeSlider      = "slider"
	TypeFile        = "file"
	TypeDescriptive = "descriptive"
	TypeSQL         = "sql"
)

// ProjectInfo holds the project-level flags the transform depends on.
type ProjectInfo struct {
	ProjectID                       int    `json:"project_id"`
	Title                           string `json:"project_title"`
	IsLongitudinal                  Flag   `json:"is_longitudinal"`
	HasRepeatingInstrumentsOrEvents Flag   `json:"has_repeating_instruments_or_events"`
}

// FieldMetadata is one row of the REDCap data dictionary.
type FieldMetadata struct {
	FieldName      string `json:"field_name"`
	FormName       string `json:"form_name"`
	FieldType      string `json:"field_type"`
	FieldLabel     string `json:"field_label"`
	Choices        string `json:"select_choices_or_calculations"`
	ValidationType string `json:"text_validation_type_or_show_slider_number"`
	Identifier     string `json:"identifier"`
}

// Instrument is a REDCap form.
type Instrument struct {
	Name  string `json:"instrument_name"`
	Label string `json:"instrument_label"`
}

// Event is a longitudinal event.
type Event struct {
	Name       string `json:"event_name"`
	ArmNum     int    `json:"arm_num"`
	UniqueName string `json:"unique_event_name"`
}

// FormEventMapping records that a form is collected in an event.
type FormEventMapping struct {
	ArmNum          int    `json:"arm_num"`
	UniqueEventName string `json:"unique_event_name"`
	Form            string `json:"form"`
}

// RepeatingForm marks a repeating instrument (FormName set) or a repeating
// event (FormName empty). EventName is empty for classic projects.
type RepeatingForm struct {
	EventName string `json:"event_name"`
	FormName  string `json:"form_name"`
}

// Choice is one code/label pair of a multiple-choice field.
type Choice struct {
	Code  string
	Label string
}

// IsCheckbox reports whether the field is a multi-select checkbox.
func (f FieldMetadata) IsCheckbox() bool { return f.FieldType == TypeCheckbox }

// HasChoices reports whether values of the field are codes with labels.
func (f FieldMetadata) HasChoices() bool {
	switch f.FieldType {
	case TypeRadio, TypeDropdown, TypeCheckbox, TypeYesNo, TypeTrueFalse:
		return true
	}
	return false
}

// ParsedChoices returns the field's code/label pairs in declaration order.
func (f FieldMetadata) ParsedChoices() []Choice {
	switch f.FieldType {
	case TypeYesNo:
		return []Choice{{Code: "1", Label: "Yes"}, {Code: "0", Label: "No"}}
	case TypeTrueFalse:
		return []Choice{{Code: "1", Label: "True"}, {Code: "0", Label: "False"}}
	case TypeRadio, TypeDropdown, TypeCheckbox:
		return ParseChoices(f.Choices)
	}
	return nil
}

// ParseChoices parses REDCap's "1, Male | 2, Female" choice syntax. Labels
// are NFC-normalized; entries without a code are dropped.
func ParseChoices(s string) []Choice {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []Choice
	for _, part := range strings.Split(s, "|") {
		code, label, found := strings.Cut(part, ",")
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if !found {
			label = code
		}
		out = append(out, Choice{
			Code:  code,
			Label: norm.NFC.String(strings.TrimSpace(label)),
		})
	}
	return out
}

// CheckboxColumn returns the export column name for one checkbox choice.
// REDCap lower-cases choice codes and replaces '-' with '_' in these names.
func CheckboxColumn(field, code string) string {
	c := strings.ToLower(strings.ReplaceAll(code, "-", "_"))
	return field + CheckboxSeparator + c
}

// completeFieldMetadata synthesizes metadata for "<form>_complete", which the
// data dictionary never lists.
func completeFieldMetadata(form string) FieldMetadata {
	return FieldMetadata{
		FieldName: form + completeFieldSuffix,
		FormName:  form,
		FieldType: TypeDropdown,
		Choices:   "0, Incomplete | 1, Unverified | 2, Complete",
	}
}
