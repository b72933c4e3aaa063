package rules

import "github.com/leapstack-labs/redcapetl/pkg/core"

// Check validates a rule set against itself and returns it. Every check
// runs regardless of earlier failures; errors accumulate on the offending
// rules. Check is idempotent.
func Check(r *Rules) *Rules {
	checkTables(r)
	checkFields(r)
	checkFilters(r)
	return r
}

func checkTables(r *Rules) {
	tables := r.TableRules()
	first := make(map[string]*TableRule, len(tables))
	for _, t := range tables {
		if t.TableName == "" {
			continue
		}
		if prev, ok := first[t.TableName]; ok {
			t.addErrorf(ErrDuplicateTable, t.TableName, prev.LineNumber())
			continue
		}
		first[t.TableName] = t
	}

	for _, t := range tables {
		if t.RowsType.IsRoot() && t.RowsType != core.RowsRoot {
			t.AddError(ErrRootCombined)
		}
		if !t.RowsType.IsRoot() && t.ParentTableName != "" {
			switch {
			case t.ParentTableName == t.TableName:
				t.addErrorf(ErrSelfParent, t.TableName)
			case first[t.ParentTableName] == nil:
				t.addErrorf(ErrUndefinedParent, t.ParentTableName)
			}
		}
		hasSuffixType := t.RowsType.Has(core.RowsSuffixes)
		switch {
		case hasSuffixType && len(t.Suffixes) == 0:
			t.AddError(ErrMissingSuffixes)
		case !hasSuffixType && len(t.Suffixes) > 0:
			t.AddError(ErrUnexpectedSuffix)
		}
	}
}

func checkFields(r *Rules) {
	for _, f := range r.FieldRules() {
		if f.RedCapFieldName == "" {
			f.AddError(ErrEmptyFieldName)
		}
		if f.Table == nil {
			f.AddError(ErrFieldWithoutTable)
		}
	}
}

func checkFilters(r *Rules) {
	var first *FilterRule
	for _, rule := range r.All {
		f, ok := rule.(*FilterRule)
		if !ok {
			continue
		}
		if first == nil {
			first = f
			continue
		}
		f.addErrorf(ErrMultipleFilters, first.LineNumber())
	}
}
