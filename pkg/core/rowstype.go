package core

import (
	"sort"
	"strings"
)

// =============================================================================
// RowsType
// =============================================================================

// RowsType describes how a table's rows are derived from a source record.
// Values are bit flags; a table may combine several (for example events and
// repeating instruments), except RowsRoot which stands alone.
type RowsType uint8

// Rows types.
const (
	RowsRoot RowsType = 1 << iota
	RowsEvents
	RowsRepeatingInstruments
	RowsRepeatingEvents
	RowsSuffixes
)

// rowsTypeOrder is the canonical iteration order used when a table combines
// several rows types.
var rowsTypeOrder = []RowsType{
	RowsRoot,
	RowsEvents,
	RowsRepeatingInstruments,
	RowsRepeatingEvents,
	RowsSuffixes,
}

var rowsTypeNames = map[RowsType]string{
	RowsRoot:                 "ROOT",
	RowsEvents:               "EVENTS",
	RowsRepeatingInstruments: "REPEATING_INSTRUMENTS",
	RowsRepeatingEvents:      "REPEATING_EVENTS",
	RowsSuffixes:             "SUFFIXES",
}

// ParseRowsKeyword converts a single keyword such as "EVENTS".
func ParseRowsKeyword(s string) (RowsType, bool) {
	needle := strings.ToUpper(strings.TrimSpace(s))
	for t, name := range rowsTypeNames {
		if name == needle {
			return t, true
		}
	}
	return 0, false
}

// Has reports whether every flag in other is set.
func (r RowsType) Has(other RowsType) bool {
	return other != 0 && r&other == other
}

// Any reports whether at least one flag in other is set.
func (r RowsType) Any(other RowsType) bool {
	return r&other != 0
}

// Flags returns the individual flags in canonical order.
func (r RowsType) Flags() []RowsType {
	var out []RowsType
	for _, t := range rowsTypeOrder {
		if r&t != 0 {
			out = append(out, t)
		}
	}
	return out
}

// IsRoot reports whether the table is a root table.
func (r RowsType) IsRoot() bool { return r&RowsRoot != 0 }

// NeedsEvent reports whether rows carry an event name column.
func (r RowsType) NeedsEvent() bool {
	return r.Any(RowsEvents | RowsRepeatingEvents)
}

// NeedsRepeat reports whether rows carry repeating instrument/instance columns.
func (r RowsType) NeedsRepeat() bool {
	return r.Any(RowsRepeatingInstruments | RowsRepeatingEvents)
}

// String joins the flag names with "+", e.g. "EVENTS+REPEATING_INSTRUMENTS".
func (r RowsType) String() string {
	flags := r.Flags()
	if len(flags) == 0 {
		return ""
	}
	names := make([]string, 0, len(flags))
	for _, f := range flags {
		names = append(names, rowsTypeNames[f])
	}
	return strings.Join(names, "+")
}

// RowsKeywords returns all recognized keywords, sorted.
func RowsKeywords() []string {
	out := make([]string, 0, len(rowsTypeNames))
	for _, name := range rowsTypeNames {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
