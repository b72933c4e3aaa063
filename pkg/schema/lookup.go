package schema

import (
	"errors"
	"fmt"
	"slices"

	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
)

// ErrLabelNotFound is returned by GetLabel when a code has no label.
var ErrLabelNotFound = errors.New("label not found")

// Lookup table column names.
const (
	LookupIDColumn    = "lookup_id"
	LookupTableColumn = "table_name"
	LookupFieldColumn = "field_name"
	LookupValueColumn = "value"
	LookupLabelColumn = "label"
)

type lookupField struct {
	choices []redcap.Choice
	index   map[string]int
}

type lookupTable struct {
	fields map[string]*lookupField
	order  []string
}

// LookupTable maps (table, field, code) to a choice label. Tables and
// fields keep the order they were registered in.
type LookupTable struct {
	tables map[string]*lookupTable
	order  []string
}

// LookupEntry is one (table, field, code, label) quadruple.
type LookupEntry struct {
	Table string
	Field string
	Code  string
	Label string
}

// NewLookupTable returns an empty LookupTable.
func NewLookupTable() *LookupTable {
	return &LookupTable{tables: make(map[string]*lookupTable)}
}

// AddLookupField registers that table.field is labelled through the lookup.
func (l *LookupTable) AddLookupField(table, field string) {
	l.field(table, field)
}

func (l *LookupTable) field(table, field string) *lookupField {
	if l.tables == nil {
		l.tables = make(map[string]*lookupTable)
	}
	t, ok := l.tables[table]
	if !ok {
		t = &lookupTable{fields: make(map[string]*lookupField)}
		l.tables[table] = t
		l.order = append(l.order, table)
	}
	f, ok := t.fields[field]
	if !ok {
		f = &lookupField{index: make(map[string]int)}
		t.fields[field] = f
		t.order = append(t.order, field)
	}
	return f
}

// AddChoices registers choices for table.field. A code that already has a
// label keeps it.
func (l *LookupTable) AddChoices(table, field string, choices []redcap.Choice) {
	f := l.field(table, field)
	for _, c := range choices {
		if _, ok := f.index[c.Code]; ok {
			continue
		}
		f.index[c.Code] = len(f.choices)
		f.choices = append(f.choices, c)
	}
}

// GetLabel returns the label of code, or an error wrapping ErrLabelNotFound.
func (l *LookupTable) GetLabel(table, field, code string) (string, error) {
	if t, ok := l.tables[table]; ok {
		if f, ok := t.fields[field]; ok {
			if i, ok := f.index[code]; ok {
				return f.choices[i].Label, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s.%s code %q", ErrLabelNotFound, table, field, code)
}

// GetValueLabelMap returns the choices of table.field in registration order.
func (l *LookupTable) GetValueLabelMap(table, field string) []redcap.Choice {
	t, ok := l.tables[table]
	if !ok {
		return nil
	}
	f, ok := t.fields[field]
	if !ok {
		return nil
	}
	return slices.Clone(f.choices)
}

// HasField reports whether table.field is registered.
func (l *LookupTable) HasField(table, field string) bool {
	t, ok := l.tables[table]
	if !ok {
		return false
	}
	_, ok = t.fields[field]
	return ok
}

// Tables returns the registered table names.
func (l *LookupTable) Tables() []string { return slices.Clone(l.order) }

// Fields returns the registered fields of table.
func (l *LookupTable) Fields(table string) []string {
	if t, ok := l.tables[table]; ok {
		return slices.Clone(t.order)
	}
	return nil
}

// Merge returns a new LookupTable holding the union of l and other. On a
// conflicting code the label from l wins. Neither input is modified.
func (l *LookupTable) Merge(other *LookupTable) *LookupTable {
	out := NewLookupTable()
	for _, src := range []*LookupTable{l, other} {
		if src == nil {
			continue
		}
		for _, table := range src.order {
			t := src.tables[table]
			for _, field := range t.order {
				out.AddChoices(table, field, t.fields[field].choices)
			}
		}
	}
	return out
}

// Entries flattens the table in registration order.
func (l *LookupTable) Entries() []LookupEntry {
	var out []LookupEntry
	for _, table := range l.order {
		t := l.tables[table]
		for _, field := range t.order {
			for _, c := range t.fields[field].choices {
				out = append(out, LookupEntry{Table: table, Field: field, Code: c.Code, Label: c.Label})
			}
		}
	}
	return out
}

// ToTable describes the table the lookup is materialized into.
func (l *LookupTable) ToTable(name string) *Table {
	t := &Table{Name: name, RowsType: core.RowsRoot}
	t.PrimaryKey = &Field{Name: LookupIDColumn, DBName: LookupIDColumn, Type: core.FieldTypeAutoIncrement, Role: RolePrimaryKey}
	t.Fields = []*Field{
		t.PrimaryKey,
		{Name: LookupTableColumn, DBName: LookupTableColumn, Type: core.FieldTypeVarchar, Size: 255, Role: RoleData},
		{Name: LookupFieldColumn, DBName: LookupFieldColumn, Type: core.FieldTypeVarchar, Size: 255, Role: RoleData},
		{Name: LookupValueColumn, DBName: LookupValueColumn, Type: core.FieldTypeVarchar, Size: 255, Role: RoleData},
		{Name: LookupLabelColumn, DBName: LookupLabelColumn, Type: core.FieldTypeString, Role: RoleData},
	}
	return t
}

// Rows materializes the lookup as rows of t, a table built by ToTable.
// Keys are assigned 1..n in entry order.
func (l *LookupTable) Rows(t *Table) []*Row {
	entries := l.Entries()
	rows := make([]*Row, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, &Row{Table: t, Data: map[string]Value{
			LookupIDColumn:    IntValue(int64(i + 1)),
			LookupTableColumn: TextValue(e.Table),
			LookupFieldColumn: TextValue(e.Field),
			LookupValueColumn: TextValue(e.Code),
			LookupLabelColumn: TextValue(e.Label),
		}})
	}
	return rows
}
