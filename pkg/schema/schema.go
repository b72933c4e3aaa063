package schema

// Schema is the derived target of one ETL run.
type Schema struct {
	// Tables in rule declaration order.
	Tables []*Table
	Lookup *LookupTable
	// LookupTable is the materialized lookup, nil unless requested.
	LookupTable *Table
	// FilterLogic restricts which records are extracted.
	FilterLogic string
}

// Table returns the table with the given name.
func (s *Schema) Table(name string) (*Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// RootTables returns the tables without a parent.
func (s *Schema) RootTables() []*Table {
	var out []*Table
	for _, t := range s.Tables {
		if t.IsRoot() {
			out = append(out, t)
		}
	}
	return out
}

// LoadOrder returns the tables parents first: roots in declaration order,
// each followed depth-first by its descendants. Adapters create tables and
// foreign keys in this order.
func (s *Schema) LoadOrder() []*Table {
	var out []*Table
	var walk func(t *Table)
	walk = func(t *Table) {
		out = append(out, t)
		for _, c := range t.children {
			walk(c)
		}
	}
	for _, t := range s.RootTables() {
		walk(t)
	}
	return out
}
