package schema

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
)

// Role says where a column comes from.
type Role uint8

// Column roles, in the order columns appear in a table.
const (
	RolePrimaryKey Role = iota
	RoleForeignKey
	RoleHousekeeping
	RoleData
)

// Field is one column of a Table.
type Field struct {
	// Name is the REDCap field the column is read from.
	Name string
	// DBName is the column name in the target.
	DBName string
	Type   core.FieldType
	Size   int
	Role   Role

	// IsLabel marks a column that renders labels instead of codes.
	IsLabel bool
	// UsesLookup is the REDCap field whose choices label this column, or "".
	UsesLookup string
	// RedCapType is the REDCap field type, empty for generated columns.
	RedCapType string

	// CheckboxRoot and CheckboxCode are set on the columns a checkbox
	// field expands into.
	CheckboxRoot string
	CheckboxCode string
}

// IsCheckbox reports whether the column is one choice of a checkbox field.
func (f *Field) IsCheckbox() bool { return f.CheckboxRoot != "" }

// SourceName returns the record key the column is read from for suffix.
func (f *Field) SourceName(suffix string) string {
	if f.IsCheckbox() {
		return redcap.CheckboxColumn(f.CheckboxRoot+suffix, f.CheckboxCode)
	}
	return f.Name + suffix
}

// Spec returns the column's type and size.
func (f *Field) Spec() core.FieldSpec { return core.FieldSpec{Type: f.Type, Size: f.Size} }

// Merge widens f to hold values of other: the larger CHAR/VARCHAR size wins,
// CHAR merged with VARCHAR is VARCHAR, and any text column merged with an
// unsized STRING is STRING. Non-text types are left as f declares them.
func (f *Field) Merge(other *Field) *Field {
	out := *f
	if other == nil {
		return &out
	}
	if out.Type != other.Type && out.Type.IsText() && other.Type.IsText() {
		if out.Type == core.FieldTypeString || other.Type == core.FieldTypeString {
			out.Type, out.Size = core.FieldTypeString, 0
			return &out
		}
		out.Type = core.FieldTypeVarchar
	}
	if out.Type.HasSize() && other.Size > out.Size {
		out.Size = other.Size
	}
	return &out
}

// Convert turns a raw export value into a typed Value. Empty values are
// NULL for numeric and temporal columns and "" for text. Values that do not
// parse as the column type become NULL.
func (f *Field) Convert(raw string) Value {
	if f.IsCheckbox() {
		if strings.TrimSpace(raw) == "1" {
			return IntValue(1)
		}
		return IntValue(0)
	}
	if f.Type.IsText() {
		return TextValue(raw)
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return Null()
	}
	switch f.Type {
	case core.FieldTypeInt, core.FieldTypeAutoIncrement, core.FieldTypeCheckbox:
		return parseInt(s)
	case core.FieldTypeFloat:
		return parseFloat(s)
	case core.FieldTypeDate:
		if t, ok := parseTime(s); ok {
			return DateValue(t)
		}
	case core.FieldTypeDatetime:
		if t, ok := parseTime(s); ok {
			return DatetimeValue(t)
		}
	}
	return Null()
}

func parseInt(s string) Value {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return IntValue(n)
	}
	v := parseFloat(s)
	if !v.IsNull() && v.f == math.Trunc(v.f) && math.Abs(v.f) < math.MaxInt64 {
		return IntValue(int64(v.f))
	}
	return Null()
}

// parseFloat accepts a comma as the decimal mark, which REDCap's
// number_comma_decimal validations export.
func parseFloat(s string) Value {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return FloatValue(f)
	}
	if f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64); err == nil {
		return FloatValue(f)
	}
	return Null()
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	DateLayout,
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
