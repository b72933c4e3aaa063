package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
)

// GenerateOptions tunes GenerateDefaultRules.
type GenerateOptions struct {
	// IncludeCompleteFields adds each form's "<form>_complete" status field.
	IncludeCompleteFields bool `koanf:"include_complete_fields"`
	// IncludeDAGField adds the data access group to root tables.
	IncludeDAGField bool `koanf:"include_dag_field"`
	// IncludeSurveyIdentifier adds the survey identifier to root tables.
	IncludeSurveyIdentifier bool `koanf:"include_survey_identifier"`
}

// LongitudinalRootTable is the root table emitted for longitudinal projects.
const LongitudinalRootTable = "root"

// recordIDSpec is the type used for the record id in generated rules.
var recordIDSpec = core.FieldSpec{Type: core.FieldTypeVarchar, Size: 255}

// Size hints for validated text fields.
var validationSizes = map[string]int{
	"zipcode": 10,
	"phone":   20,
	"email":   255,
	"time":    8,
}

// GenerateDefaultRules derives rule text from project metadata. Output
// follows instrument order, then data dictionary order, and is identical
// for identical metadata.
func GenerateDefaultRules(p *redcap.ProjectData, opts GenerateOptions) string {
	g := &generator{p: p, opts: opts, recordID: p.RecordIDField()}
	if p.IsLongitudinal() {
		g.longitudinal()
	} else {
		g.classic()
	}
	return g.b.String()
}

type generator struct {
	p        *redcap.ProjectData
	opts     GenerateOptions
	recordID string
	b        strings.Builder
}

func (g *generator) table(name, parentOrKey string, rt core.RowsType) {
	if g.b.Len() > 0 {
		g.b.WriteString("\n")
	}
	fmt.Fprintf(&g.b, "%s,%s,%s,%s\n", KeywordTable, name, parentOrKey, rt)
}

func (g *generator) field(name string, spec core.FieldSpec) {
	fmt.Fprintf(&g.b, "%s,%s,%s\n", KeywordField, name, spec)
}

func (g *generator) rootExtras() {
	if g.opts.IncludeDAGField {
		g.field(redcap.DataAccessGroupField, recordIDSpec)
	}
	if g.opts.IncludeSurveyIdentifier {
		g.field(redcap.SurveyIdentifierField, recordIDSpec)
	}
}

// formFields writes the FIELD lines of one form. The record id field is
// always written with recordIDSpec when includeRecordID is set and skipped
// otherwise.
func (g *generator) formFields(form string, includeRecordID bool) {
	for _, f := range g.p.InstrumentFields(form) {
		if f.FieldName == g.recordID {
			if includeRecordID {
				g.field(f.FieldName, recordIDSpec)
			}
			continue
		}
		if spec, ok := InferFieldSpec(f); ok {
			g.field(f.FieldName, spec)
		}
	}
	if g.opts.IncludeCompleteFields {
		g.field(form+"_complete", core.FieldSpec{Type: core.FieldTypeInt})
	}
}

// classic maps the record id form to a root table, other plain forms to
// root tables of their own, and repeating forms to children of the record
// id table.
func (g *generator) classic() {
	rootForm := g.p.RecordIDForm()
	for _, in := range g.p.Instruments {
		form := in.Name
		switch {
		case form == rootForm:
			g.table(form, form+"_id", core.RowsRoot)
			g.rootExtras()
			g.formFields(form, true)
		case g.p.IsRepeatingInstrument(form):
			g.table(form, rootForm, core.RowsRepeatingInstruments)
			g.formFields(form, false)
		default:
			g.table(form, form+"_id", core.RowsRoot)
			g.field(g.recordID, recordIDSpec)
			g.formFields(form, false)
		}
	}
}

// longitudinal emits one root table holding the record id and one child
// per form whose rows type reflects how the form is collected across its
// events.
func (g *generator) longitudinal() {
	g.table(LongitudinalRootTable, LongitudinalRootTable+"_id", core.RowsRoot)
	g.field(g.recordID, recordIDSpec)
	g.rootExtras()

	for _, in := range g.p.Instruments {
		form := in.Name
		events := g.p.FormEventNames(form)
		if len(events) == 0 {
			continue
		}
		var rt core.RowsType
		for _, ev := range events {
			switch {
			case g.p.IsRepeatingEvent(ev):
				rt |= core.RowsRepeatingEvents
			case g.p.IsRepeatingInstrumentInEvent(form, ev):
				rt |= core.RowsRepeatingInstruments
			default:
				rt |= core.RowsEvents
			}
		}
		g.table(form, LongitudinalRootTable, rt)
		g.formFields(form, false)
	}
}

// InferFieldSpec maps REDCap field metadata to a column type. Descriptive
// and file fields have no exportable value and report false.
func InferFieldSpec(f redcap.FieldMetadata) (core.FieldSpec, bool) {
	switch f.FieldType {
	case redcap.TypeDescriptive, redcap.TypeFile:
		return core.FieldSpec{}, false
	case redcap.TypeCheckbox:
		return core.FieldSpec{Type: core.FieldTypeCheckbox}, true
	case redcap.TypeYesNo, redcap.TypeTrueFalse, redcap.TypeSlider:
		return core.FieldSpec{Type: core.FieldTypeInt}, true
	case redcap.TypeRadio, redcap.TypeDropdown:
		if integerCodes(f.ParsedChoices()) {
			return core.FieldSpec{Type: core.FieldTypeInt}, true
		}
		return core.FieldSpec{Type: core.FieldTypeVarchar, Size: 255}, true
	case redcap.TypeText:
		return inferTextSpec(f.ValidationType), true
	}
	return core.FieldSpec{Type: core.FieldTypeString}, true
}

func inferTextSpec(validation string) core.FieldSpec {
	v := strings.ToLower(validation)
	switch {
	case strings.HasPrefix(v, "datetime_"):
		return core.FieldSpec{Type: core.FieldTypeDatetime}
	case strings.HasPrefix(v, "date_"):
		return core.FieldSpec{Type: core.FieldTypeDate}
	case v == "integer":
		return core.FieldSpec{Type: core.FieldTypeInt}
	case strings.HasPrefix(v, "number"):
		return core.FieldSpec{Type: core.FieldTypeFloat}
	}
	if size, ok := validationSizes[v]; ok {
		return core.FieldSpec{Type: core.FieldTypeVarchar, Size: size}
	}
	return core.FieldSpec{Type: core.FieldTypeString}
}

func integerCodes(choices []redcap.Choice) bool {
	if len(choices) == 0 {
		return false
	}
	for _, c := range choices {
		if _, err := strconv.Atoi(c.Code); err != nil {
			return false
		}
	}
	return true
}
