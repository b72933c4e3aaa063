package redcap

import (
	"context"
	"slices"
	"strings"

	"github.com/leapstack-labs/redcapetl/pkg/core"
)

// Record is one row of a flat REDCap export. A REDCap record spans several
// Records when the project has events or repeating instruments.
type Record map[string]string

// Get returns the value of field, or "" when absent.
func (r Record) Get(field string) string { return r[field] }

// Event returns the unique event name of the row.
func (r Record) Event() string { return r[EventNameField] }

// RepeatInstrument returns the repeating instrument name of the row.
func (r Record) RepeatInstrument() string { return r[RepeatInstrumentField] }

// RepeatInstance returns the repeat instance number of the row, as exported.
func (r Record) RepeatInstance() string { return r[RepeatInstanceField] }

// IsRepeating reports whether the row belongs to a repeating instance.
func (r Record) IsRepeating() bool { return r.RepeatInstance() != "" }

// ProjectData is everything the transform needs to know about a project,
// fetched once per run.
type ProjectData struct {
	Info        ProjectInfo
	Metadata    []FieldMetadata
	Instruments []Instrument
	Events      []Event
	FormEvents  []FormEventMapping
	Repeating   []RepeatingForm

	// RecordIDOverride replaces the record id field derived from metadata.
	RecordIDOverride string
}

// RecordIDField returns the name of the record id field: the first field in
// the data dictionary unless overridden.
func (p *ProjectData) RecordIDField() string {
	if p.RecordIDOverride != "" {
		return p.RecordIDOverride
	}
	if len(p.Metadata) > 0 {
		return p.Metadata[0].FieldName
	}
	return defaultRecordIDFallback
}

// RecordIDForm returns the instrument that holds the record id field.
func (p *ProjectData) RecordIDForm() string {
	if f, ok := p.Field(p.RecordIDField()); ok {
		return f.FormName
	}
	if len(p.Instruments) > 0 {
		return p.Instruments[0].Name
	}
	return ""
}

// IsLongitudinal reports whether records are split by event.
func (p *ProjectData) IsLongitudinal() bool { return bool(p.Info.IsLongitudinal) }

// HasInstrument reports whether form is a known instrument.
func (p *ProjectData) HasInstrument(form string) bool {
	for _, in := range p.Instruments {
		if in.Name == form {
			return true
		}
	}
	return false
}

// Field looks up metadata for a field by name. Fields REDCap exports but
// never lists in the data dictionary ("<form>_complete", the data access
// group, and the survey identifier) are synthesized.
func (p *ProjectData) Field(name string) (FieldMetadata, bool) {
	for _, f := range p.Metadata {
		if f.FieldName == name {
			return f, true
		}
	}
	switch name {
	case DataAccessGroupField, SurveyIdentifierField:
		return FieldMetadata{FieldName: name, FormName: p.firstForm(), FieldType: TypeText}, true
	}
	if form, ok := strings.CutSuffix(name, completeFieldSuffix); ok && p.HasInstrument(form) {
		return completeFieldMetadata(form), true
	}
	return FieldMetadata{}, false
}

func (p *ProjectData) firstForm() string {
	if len(p.Metadata) > 0 {
		return p.Metadata[0].FormName
	}
	return ""
}

// InstrumentFields returns the data dictionary rows of one form, in
// dictionary order.
func (p *ProjectData) InstrumentFields(form string) []FieldMetadata {
	var out []FieldMetadata
	for _, f := range p.Metadata {
		if f.FormName == form {
			out = append(out, f)
		}
	}
	return out
}

// IsRepeatingInstrument reports whether form repeats in any event (or in
// the project, for classic projects).
func (p *ProjectData) IsRepeatingInstrument(form string) bool {
	for _, r := range p.Repeating {
		if r.FormName == form {
			return true
		}
	}
	return false
}

// IsRepeatingInstrumentInEvent reports whether form repeats within event.
// Classic projects record repeating forms with an empty event name.
func (p *ProjectData) IsRepeatingInstrumentInEvent(form, event string) bool {
	for _, r := range p.Repeating {
		if r.FormName == form && (r.EventName == event || r.EventName == "") {
			return true
		}
	}
	return false
}

// IsRepeatingEvent reports whether the whole event repeats.
func (p *ProjectData) IsRepeatingEvent(event string) bool {
	for _, r := range p.Repeating {
		if r.FormName == "" && r.EventName == event {
			return true
		}
	}
	return false
}

// FormEventNames returns the unique names of the events that collect form,
// in mapping order.
func (p *ProjectData) FormEventNames(form string) []string {
	var out []string
	for _, m := range p.FormEvents {
		if m.Form == form && !slices.Contains(out, m.UniqueEventName) {
			out = append(out, m.UniqueEventName)
		}
	}
	return out
}

// Source supplies project data and records. Implementations must be safe
// for use by one goroutine at a time; the pipeline never calls a Source
// concurrently.
type Source interface {
	ProjectInfo(ctx context.Context) (ProjectInfo, error)
	Metadata(ctx context.Context) ([]FieldMetadata, error)
	Instruments(ctx context.Context) ([]Instrument, error)
	Events(ctx context.Context) ([]Event, error)
	FormEventMappings(ctx context.Context) ([]FormEventMapping, error)
	RepeatingForms(ctx context.Context) ([]RepeatingForm, error)

	// RecordIDs returns the distinct record ids, optionally restricted by a
	// REDCap filter logic expression, in export order.
	RecordIDs(ctx context.Context, recordIDField, filterLogic string) ([]string, error)

	// Records returns every export row of the given records.
	Records(ctx context.Context, ids []string) ([]Record, error)
}

// LoadProjectData fetches everything ProjectData holds. Events and form
// mappings are only requested for longitudinal projects, and repeating
// forms only when the project declares them.
func LoadProjectData(ctx context.Context, src Source) (*ProjectData, error) {
	const op = "load project data"
	wrap := func(what string, err error) error {
		return core.Errorf(core.SourceError, op, "%s: %w", what, err)
	}

	p := &ProjectData{}
	var err error
	if p.Info, err = src.ProjectInfo(ctx); err != nil {
		return nil, wrap("project info", err)
	}
	if p.Metadata, err = src.Metadata(ctx); err != nil {
		return nil, wrap("metadata", err)
	}
	if len(p.Metadata) == 0 {
		return nil, core.Errorf(core.SourceError, op, "project has no fields")
	}
	if p.Instruments, err = src.Instruments(ctx); err != nil {
		return nil, wrap("instruments", err)
	}
	if p.IsLongitudinal() {
		if p.Events, err = src.Events(ctx); err != nil {
			return nil, wrap("events", err)
		}
		if p.FormEvents, err = src.FormEventMappings(ctx); err != nil {
			return nil, wrap("form event mappings", err)
		}
	}
	if p.Info.HasRepeatingInstrumentsOrEvents {
		if p.Repeating, err = src.RepeatingForms(ctx); err != nil {
			return nil, wrap("repeating forms", err)
		}
	}
	return p, nil
}

// RecordGroup is every export row of one record.
type RecordGroup struct {
	ID   string
	Rows []Record
}

// Merged folds the non-repeating rows into one record, keeping the first
// non-empty value of each field. Root tables map from this view.
func (g RecordGroup) Merged() Record {
	out := Record{}
	for _, row := range g.Rows {
		if row.IsRepeating() {
			continue
		}
		for k, v := range row {
			if k == EventNameField || k == RepeatInstrumentField || k == RepeatInstanceField {
				continue
			}
			if cur, ok := out[k]; !ok || cur == "" {
				out[k] = v
			}
		}
	}
	return out
}

// GroupByRecord splits export rows by record id, keeping the order in which
// record ids first appear.
func GroupByRecord(rows []Record, recordIDField string) []RecordGroup {
	index := make(map[string]int)
	var out []RecordGroup
	for _, row := range rows {
		id := row[recordIDField]
		i, ok := index[id]
		if !ok {
			i = len(out)
			index[id] = i
			out = append(out, RecordGroup{ID: id})
		}
		out[i].Rows = append(out[i].Rows, row)
	}
	return out
}
