package redcap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// MemorySource serves a fixed project from memory. It backs offline runs
// from exported JSON files and tests.
type MemorySource struct {
	Info        ProjectInfo
	Meta        []FieldMetadata
	Forms       []Instrument
	EventList   []Event
	Mappings    []FormEventMapping
	Repeats     []RepeatingForm
	RecordsData []Record

	// IDField names the record id column; the first metadata field when empty.
	IDField string
}

var _ Source = (*MemorySource)(nil)

// Export file names read by ReadDir, named after the REDCap API content
// types that produce them.
const (
	ProjectFile          = "project.json"
	MetadataFile         = "metadata.json"
	InstrumentFile       = "instrument.json"
	EventFile            = "event.json"
	FormEventMappingFile = "formEventMapping.json"
	RepeatingFormsFile   = "repeatingFormsEvents.json"
	RecordFile           = "record.json"
)

// ReadDir loads a project from a directory of REDCap API JSON exports.
// metadata.json and record.json are required; the other files default to
// empty when absent.
func ReadDir(dir string) (*MemorySource, error) {
	s := &MemorySource{}
	files := []struct {
		name     string
		dst      any
		required bool
	}{
		{ProjectFile, &s.Info, false},
		{MetadataFile, &s.Meta, true},
		{InstrumentFile, &s.Forms, false},
		{EventFile, &s.EventList, false},
		{FormEventMappingFile, &s.Mappings, false},
		{RepeatingFormsFile, &s.Repeats, false},
	}
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f.name))
		if errors.Is(err, fs.ErrNotExist) && !f.required {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redcap: read %s: %w", f.name, err)
		}
		if err := json.Unmarshal(data, f.dst); err != nil {
			return nil, fmt.Errorf("redcap: parse %s: %w", f.name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, RecordFile))
	if err != nil {
		return nil, fmt.Errorf("redcap: read %s: %w", RecordFile, err)
	}
	if s.RecordsData, err = DecodeRecords(data); err != nil {
		return nil, fmt.Errorf("redcap: parse %s: %w", RecordFile, err)
	}

	if len(s.Forms) == 0 {
		s.Forms = instrumentsFromMetadata(s.Meta)
	}
	return s, nil
}

// instrumentsFromMetadata derives the instrument list from the data
// dictionary when no instrument export is present.
func instrumentsFromMetadata(meta []FieldMetadata) []Instrument {
	var out []Instrument
	seen := map[string]bool{}
	for _, f := range meta {
		if f.FormName == "" || seen[f.FormName] {
			continue
		}
		seen[f.FormName] = true
		out = append(out, Instrument{Name: f.FormName, Label: f.FormName})
	}
	return out
}

// DecodeRecords decodes a flat JSON record export. REDCap emits most values
// as strings but numbers and nulls appear in some versions.
func DecodeRecords(data []byte) ([]Record, error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(raw))
	for _, m := range raw {
		rec := make(Record, len(m))
		for k, v := range m {
			rec[k] = stringValue(v)
		}
		out = append(out, rec)
	}
	return out, nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(t)
	}
}

func (s *MemorySource) ProjectInfo(context.Context) (ProjectInfo, error) { return s.Info, nil }

func (s *MemorySource) Metadata(context.Context) ([]FieldMetadata, error) { return s.Meta, nil }

func (s *MemorySource) Instruments(context.Context) ([]Instrument, error) { return s.Forms, nil }

func (s *MemorySource) Events(context.Context) ([]Event, error) { return s.EventList, nil }

func (s *MemorySource) FormEventMappings(context.Context) ([]FormEventMapping, error) {
	return s.Mappings, nil
}

func (s *MemorySource) RepeatingForms(context.Context) ([]RepeatingForm, error) {
	return s.Repeats, nil
}

// RecordIDs returns the distinct record ids in export order. Filter logic
// needs a REDCap server to evaluate, so a non-empty filter is an error.
func (s *MemorySource) RecordIDs(_ context.Context, recordIDField, filterLogic string) ([]string, error) {
	if filterLogic != "" {
		return nil, errors.New("redcap: filter logic is not supported by an offline source")
	}
	var ids []string
	seen := map[string]bool{}
	for _, r := range s.RecordsData {
		id := r[recordIDField]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// Records returns the rows of the given records in export order.
func (s *MemorySource) Records(_ context.Context, ids []string) ([]Record, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	field := s.idField()
	var out []Record
	for _, r := range s.RecordsData {
		if want[r[field]] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemorySource) idField() string {
	if s.IDField != "" {
		return s.IDField
	}
	if len(s.Meta) > 0 {
		return s.Meta[0].FieldName
	}
	return defaultRecordIDFallback
}
