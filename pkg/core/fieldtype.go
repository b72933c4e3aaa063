package core

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// FieldType
// =============================================================================

// FieldType is the logical database type of a column.
type FieldType int

// Field types understood by the rule language and the adapters.
const (
	FieldTypeInvalid FieldType = iota
	FieldTypeInt
	FieldTypeFloat
	FieldTypeString
	FieldTypeChar
	FieldTypeVarchar
	FieldTypeDate
	FieldTypeDatetime
	FieldTypeCheckbox
	FieldTypeAutoIncrement
)

var fieldTypeNames = map[FieldType]string{
	FieldTypeInt:           "int",
	FieldTypeFloat:         "float",
	FieldTypeString:        "string",
	FieldTypeChar:          "char",
	FieldTypeVarchar:       "varchar",
	FieldTypeDate:          "date",
	FieldTypeDatetime:      "datetime",
	FieldTypeCheckbox:      "checkbox",
	FieldTypeAutoIncrement: "auto_increment",
}

// String returns the rule-language spelling of the type.
func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return "invalid"
}

// HasSize reports whether the type takes a size argument.
func (t FieldType) HasSize() bool {
	return t == FieldTypeChar || t == FieldTypeVarchar
}

// IsNumeric reports whether empty source values map to NULL rather than "".
func (t FieldType) IsNumeric() bool {
	switch t {
	case FieldTypeInt, FieldTypeFloat, FieldTypeCheckbox, FieldTypeAutoIncrement:
		return true
	}
	return false
}

// IsText reports whether the type stores character data.
func (t FieldType) IsText() bool {
	switch t {
	case FieldTypeString, FieldTypeChar, FieldTypeVarchar:
		return true
	}
	return false
}

// IsTemporal reports whether the type stores a date or timestamp.
func (t FieldType) IsTemporal() bool {
	return t == FieldTypeDate || t == FieldTypeDatetime
}

// ParseFieldType converts a type keyword (without size) into a FieldType.
func ParseFieldType(s string) (FieldType, bool) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for t, name := range fieldTypeNames {
		if name == needle {
			return t, true
		}
	}
	return FieldTypeInvalid, false
}

// =============================================================================
// FieldSpec
// =============================================================================

// FieldSpec is a field type plus optional size, e.g. "varchar(255)".
type FieldSpec struct {
	Type FieldType
	Size int
}

// String renders the spec in rule-language form.
func (s FieldSpec) String() string {
	if s.Type.HasSize() && s.Size > 0 {
		return fmt.Sprintf("%s(%d)", s.Type, s.Size)
	}
	return s.Type.String()
}

// ParseFieldSpec parses "type" or "type(size)". Sizes are only accepted for
// char and varchar, and are required for them.
func ParseFieldSpec(s string) (FieldSpec, error) {
	raw := strings.TrimSpace(s)
	name, size := raw, ""
	if open := strings.Index(raw, "("); open >= 0 {
		if !strings.HasSuffix(raw, ")") {
			return FieldSpec{}, fmt.Errorf("unterminated size in field type %q", raw)
		}
		name = strings.TrimSpace(raw[:open])
		size = strings.TrimSpace(raw[open+1 : len(raw)-1])
	}

	t, ok := ParseFieldType(name)
	if !ok || t == FieldTypeAutoIncrement {
		return FieldSpec{}, fmt.Errorf("unrecognized field type %q", name)
	}

	spec := FieldSpec{Type: t}
	switch {
	case size != "" && !t.HasSize():
		return FieldSpec{}, fmt.Errorf("field type %q does not take a size", name)
	case size == "" && t.HasSize():
		return FieldSpec{}, fmt.Errorf("field type %q requires a size", name)
	case size != "":
		n, err := strconv.Atoi(size)
		if err != nil || n <= 0 {
			return FieldSpec{}, fmt.Errorf("invalid size %q for field type %q", size, name)
		}
		spec.Size = n
	}
	return spec, nil
}

// UnmarshalText lets configuration decoders accept "varchar(255)" style values.
// The keyword "auto_increment" is accepted here since it is a valid key type.
func (s *FieldSpec) UnmarshalText(text []byte) error {
	if t, ok := ParseFieldType(string(text)); ok && t == FieldTypeAutoIncrement {
		*s = FieldSpec{Type: FieldTypeAutoIncrement}
		return nil
	}
	spec, err := ParseFieldSpec(string(text))
	if err != nil {
		return err
	}
	*s = spec
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (s FieldSpec) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
