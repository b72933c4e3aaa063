package rules

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/redcapetl/pkg/core"
)

// Rule is one parsed line of rule text.
type Rule interface {
	// SourceLine is the original text of the line.
	SourceLine() string
	// LineNumber is the 1-based physical line number.
	LineNumber() int
	Errors() []string
	AddError(msg string)
}

type ruleBase struct {
	Line   string
	LineNo int
	errs   []string
}

func (r *ruleBase) SourceLine() string { return r.Line }
func (r *ruleBase) LineNumber() int    { return r.LineNo }
func (r *ruleBase) Errors() []string   { return r.errs }

// AddError records msg once; repeated messages are ignored so that
// re-checking a rule set does not multiply its errors.
func (r *ruleBase) AddError(msg string) {
	if slices.Contains(r.errs, msg) {
		return
	}
	r.errs = append(r.errs, msg)
}

func (r *ruleBase) addErrorf(format string, args ...any) {
	r.AddError(fmt.Sprintf(format, args...))
}

// TableRule declares a table.
type TableRule struct {
	ruleBase
	TableName string
	// ParentTableName is empty for root tables.
	ParentTableName string
	// PrimaryKeyName is only given for root tables; child tables use
	// "<table>_id".
	PrimaryKeyName string
	RowsType       core.RowsType
	Suffixes       []string
	Fields         []*FieldRule
}

// IsRoot reports whether the rule declares a root table.
func (t *TableRule) IsRoot() bool { return t.RowsType.IsRoot() }

// FieldRule declares one column of the nearest preceding table.
type FieldRule struct {
	ruleBase
	RedCapFieldName string
	DBFieldName     string
	DBFieldType     core.FieldType
	DBFieldSize     int
	Table           *TableRule
}

// FilterRule restricts which records are extracted.
type FilterRule struct {
	ruleBase
	FilterLogic string
}

// UnknownRule is a line whose keyword was not recognized.
type UnknownRule struct {
	ruleBase
	Keyword string
}

// Rules is a parsed rule set in source order.
type Rules struct {
	All         []Rule
	parsedLines int
}

// ParsedLineCount is the number of non-blank, non-comment lines.
func (r *Rules) ParsedLineCount() int { return r.parsedLines }

// TableRules returns every table rule, including ones with errors.
func (r *Rules) TableRules() []*TableRule {
	var out []*TableRule
	for _, rule := range r.All {
		if t, ok := rule.(*TableRule); ok {
			out = append(out, t)
		}
	}
	return out
}

// FieldRules returns every field rule in source order.
func (r *Rules) FieldRules() []*FieldRule {
	var out []*FieldRule
	for _, rule := range r.All {
		if f, ok := rule.(*FieldRule); ok {
			out = append(out, f)
		}
	}
	return out
}

// FilterLogic returns the expression of the first error-free FILTER rule.
func (r *Rules) FilterLogic() string {
	for _, rule := range r.All {
		if f, ok := rule.(*FilterRule); ok && len(f.Errors()) == 0 {
			return f.FilterLogic
		}
	}
	return ""
}

// ErrorCount is the total number of errors across all rules.
func (r *Rules) ErrorCount() int {
	n := 0
	for _, rule := range r.All {
		n += len(rule.Errors())
	}
	return n
}

// HasErrors reports whether any rule carries an error.
func (r *Rules) HasErrors() bool { return r.ErrorCount() > 0 }

// Errors returns every error prefixed with its line number.
func (r *Rules) Errors() []string {
	var out []string
	for _, rule := range r.All {
		for _, e := range rule.Errors() {
			out = append(out, fmt.Sprintf("line %d: %s", rule.LineNumber(), e))
		}
	}
	return out
}

// Valid reports whether a rule carries no errors and, for field rules,
// belongs to a valid table.
func Valid(rule Rule) bool {
	if len(rule.Errors()) > 0 {
		return false
	}
	if f, ok := rule.(*FieldRule); ok {
		return f.Table != nil && len(f.Table.Errors()) == 0
	}
	return true
}
