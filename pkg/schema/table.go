package schema

import (
	"slices"
	"strconv"
	"strings"

	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
)

// Housekeeping column names. They precede user fields in every table that
// needs them.
const (
	EventColumn            = redcap.EventNameField
	RepeatInstrumentColumn = redcap.RepeatInstrumentField
	RepeatInstanceColumn   = redcap.RepeatInstanceField
	SuffixColumn           = "redcap_suffix"
)

// Table is one target table. A child table holds a non-owning reference to
// its parent; the Schema owns every table.
type Table struct {
	Name       string
	Parent     *Table
	PrimaryKey *Field
	ForeignKey *Field
	RowsType   core.RowsType
	Suffixes   []string
	// Fields holds every column in order: primary key, foreign key,
	// housekeeping columns, then user fields.
	Fields         []*Field
	UsesLookup     bool
	NeedsLabelView bool

	// Instruments are the REDCap forms the table's fields come from.
	Instruments []string
	// Longitudinal is set when rows come from a project with events.
	Longitudinal bool
	// RecordIDField is the record id column of the source, read when the
	// primary key is the natural record id.
	RecordIDField string

	children []*Table
}

// Children returns the tables whose parent is t, in declaration order.
func (t *Table) Children() []*Table { return t.children }

// IsRoot reports whether t has no parent.
func (t *Table) IsRoot() bool { return t.Parent == nil }

// Field returns the column with the given database name.
func (t *Table) Field(dbName string) (*Field, bool) {
	for _, f := range t.Fields {
		if f.DBName == dbName {
			return f, true
		}
	}
	return nil, false
}

// ColumnNames returns the database names of every column, in order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		out[i] = f.DBName
	}
	return out
}

// UserFields returns the columns declared by FIELD rules.
func (t *Table) UserFields() []*Field {
	var out []*Field
	for _, f := range t.Fields {
		if f.Role == RoleData {
			out = append(out, f)
		}
	}
	return out
}

// EffectiveSuffixes returns the suffixes rows of t are mapped with: its own
// when it is a SUFFIXES table, otherwise its parent's. Tables outside any
// suffix hierarchy return nil.
func (t *Table) EffectiveSuffixes() []string {
	for cur := t; cur != nil; cur = cur.Parent {
		if cur.RowsType.Has(core.RowsSuffixes) {
			return cur.Suffixes
		}
	}
	return nil
}

// addField appends f and reports false if the database name is taken.
func (t *Table) addField(f *Field) bool {
	if _, exists := t.Field(f.DBName); exists {
		return false
	}
	t.Fields = append(t.Fields, f)
	return true
}

// contextValid checks that rec carries the columns ctx requires.
func (t *Table) contextValid(rec redcap.Record, suffix string, ctx core.RowsType) bool {
	event := rec.Event()
	instrument := rec.RepeatInstrument()
	instance := rec.RepeatInstance()

	switch ctx {
	case core.RowsRoot:
		return true
	case core.RowsSuffixes:
		return suffix != ""
	case core.RowsEvents:
		return event != "" && instrument == "" && instance == ""
	case core.RowsRepeatingInstruments:
		if t.Longitudinal && event == "" {
			return false
		}
		return instrument != "" && instance != "" && slices.Contains(t.Instruments, instrument)
	case core.RowsRepeatingEvents:
		return event != "" && instance != "" && instrument == ""
	}
	return false
}

// CreateRow maps one export row into a Row of t for the given rows type
// context. It returns false, without allocating a key, when the record
// lacks the event, instrument, instance, or suffix the context requires,
// when a child row has no data, or when a natural key is missing.
func (t *Table) CreateRow(rec redcap.Record, fk any, suffix string, ctx core.RowsType, keys *KeyAllocator) (*Row, bool) {
	if !t.contextValid(rec, suffix, ctx) {
		return nil, false
	}

	data := make(map[string]Value, len(t.Fields))
	empty := true
	for _, f := range t.Fields {
		if f.Role != RoleData {
			continue
		}
		raw := rec[f.SourceName(suffix)]
		v := f.Convert(raw)
		if f.IsCheckbox() {
			if v.Int() == 1 {
				empty = false
			}
		} else if strings.TrimSpace(raw) != "" {
			empty = false
		}
		data[f.DBName] = v
	}
	if empty && !t.IsRoot() {
		return nil, false
	}

	var key Value
	if t.PrimaryKey.Type == core.FieldTypeAutoIncrement {
		if keys == nil {
			return nil, false
		}
		key = IntValue(keys.Next(t.Name))
	} else {
		key = t.PrimaryKey.Convert(rec[t.RecordIDField])
		if key.IsNull() || (key.Kind() == KindText && key.Text() == "") {
			return nil, false
		}
	}
	data[t.PrimaryKey.DBName] = key

	if t.ForeignKey != nil {
		data[t.ForeignKey.DBName] = ValueOf(fk)
	}
	if t.RowsType.NeedsEvent() {
		data[EventColumn] = optionalText(rec.Event())
	}
	if t.RowsType.NeedsRepeat() {
		data[RepeatInstrumentColumn] = optionalText(rec.RepeatInstrument())
		data[RepeatInstanceColumn] = optionalInt(rec.RepeatInstance())
	}
	if t.RowsType.Has(core.RowsSuffixes) {
		data[SuffixColumn] = TextValue(suffix)
	}
	return &Row{Table: t, Data: data}, true
}

func optionalText(s string) Value {
	if s == "" {
		return Null()
	}
	return TextValue(s)
}

func optionalInt(s string) Value {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return Null()
	}
	return IntValue(n)
}

// Row is one typed row of a Table, keyed by column database name.
type Row struct {
	Table *Table
	Data  map[string]Value
}

// Key returns the row's primary key value.
func (r *Row) Key() Value { return r.Data[r.Table.PrimaryKey.DBName] }

// Get returns the value of a column, NULL when unset.
func (r *Row) Get(column string) Value { return r.Data[column] }

// Values returns the row's values aligned with Table.ColumnNames.
func (r *Row) Values() []Value {
	out := make([]Value, len(r.Table.Fields))
	for i, f := range r.Table.Fields {
		out[i] = r.Data[f.DBName]
	}
	return out
}

// Args returns Values converted with Value.Any.
func (r *Row) Args() []any {
	vals := r.Values()
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v.Any()
	}
	return out
}

// LabelColumn is one column of a table's label view. Choices is set for
// columns that render a label instead of a code.
type LabelColumn struct {
	Field   *Field
	Choices []redcap.Choice
}

// LabelColumns describes t's label view: every column in table order, with
// lookup columns marked IsLabel and paired with their choices. A checkbox
// column carries only its own choice.
func (t *Table) LabelColumns(lookup *LookupTable) []LabelColumn {
	out := make([]LabelColumn, 0, len(t.Fields))
	for _, f := range t.Fields {
		col := LabelColumn{Field: f}
		if f.UsesLookup != "" && lookup != nil {
			choices := lookup.GetValueLabelMap(t.Name, f.UsesLookup)
			if f.IsCheckbox() {
				choices = slices.DeleteFunc(choices, func(c redcap.Choice) bool {
					return c.Code != f.CheckboxCode
				})
			}
			if len(choices) > 0 {
				lf := *f
				lf.IsLabel = true
				col.Field = &lf
				col.Choices = choices
			}
		}
		out = append(out, col)
	}
	return out
}

// LabelText returns the label a label view shows for v in column c: the
// choice label for a coded value, the label for a checked box and "" for an
// unchecked one, or the raw value when the column is not labelled or the
// code is unknown.
func (c LabelColumn) LabelText(v Value) string {
	if c.Choices == nil {
		return v.String()
	}
	if c.Field.IsCheckbox() {
		if v.Int() == 1 {
			return c.Choices[0].Label
		}
		return ""
	}
	code := v.String()
	for _, ch := range c.Choices {
		if ch.Code == code {
			return ch.Label
		}
	}
	return code
}
