package rules

import (
	"strings"

	"github.com/leapstack-labs/redcapetl/pkg/core"
)

// Rule keywords.
const (
	KeywordTable  = "TABLE"
	KeywordField  = "FIELD"
	KeywordFilter = "FILTER"
)

// CommentPrefix starts a comment line.
const CommentPrefix = "#"

// Error messages attached to rules.
const (
	ErrTableColumns      = "TABLE rule needs 4 or 5 comma-separated values, found %d"
	ErrFieldColumns      = "FIELD rule needs 3 or 4 comma-separated values, found %d"
	ErrEmptyTableName    = "missing table name"
	ErrEmptyParentOrKey  = "missing parent table or primary key name"
	ErrEmptyRowsType     = "missing rows type"
	ErrUnknownRowsType   = "unrecognized rows type %q"
	ErrFieldBeforeTable  = "FIELD rule appears before any TABLE rule"
	ErrEmptyFieldName    = "missing REDCap field name"
	ErrEmptyFilter       = "FILTER rule has no filter logic"
	ErrUnknownRuleType   = "unrecognized rule type %q"
	ErrRootCombined      = "ROOT cannot be combined with other rows types"
	ErrDuplicateTable    = "table %q is already defined on line %d"
	ErrUndefinedParent   = "parent table %q is not defined"
	ErrSelfParent        = "table %q cannot be its own parent"
	ErrMissingSuffixes   = "SUFFIXES rows type requires a suffix list"
	ErrUnexpectedSuffix  = "suffixes given for a table without the SUFFIXES rows type"
	ErrMultipleFilters   = "only one FILTER rule is allowed; first is on line %d"
	ErrFieldWithoutTable = "field does not belong to any table"
)

// Parse tokenizes rule text. It never fails: malformed lines yield rules
// that carry errors, and each FIELD rule is attached to the nearest
// preceding TABLE rule.
func Parse(text string) *Rules {
	rules := &Rules{}
	var current *TableRule

	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, CommentPrefix) {
			continue
		}
		rules.parsedLines++
		base := ruleBase{Line: line, LineNo: i + 1}

		keyword, rest, _ := strings.Cut(trimmed, ",")
		switch strings.ToUpper(strings.TrimSpace(keyword)) {
		case KeywordTable:
			t := parseTable(base, trimmed)
			current = t
			rules.All = append(rules.All, t)
		case KeywordField:
			f := parseField(base, trimmed)
			if current == nil {
				f.AddError(ErrFieldBeforeTable)
			} else {
				f.Table = current
				current.Fields = append(current.Fields, f)
			}
			rules.All = append(rules.All, f)
		case KeywordFilter:
			f := &FilterRule{ruleBase: base, FilterLogic: strings.TrimSpace(rest)}
			if f.FilterLogic == "" {
				f.AddError(ErrEmptyFilter)
			}
			rules.All = append(rules.All, f)
		default:
			u := &UnknownRule{ruleBase: base, Keyword: strings.TrimSpace(keyword)}
			u.addErrorf(ErrUnknownRuleType, u.Keyword)
			rules.All = append(rules.All, u)
		}
	}
	return rules
}

func splitTokens(line string) []string {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseTable(base ruleBase, line string) *TableRule {
	t := &TableRule{ruleBase: base}
	tokens := splitTokens(line)
	if n := len(tokens); n < 4 || n > 5 {
		t.addErrorf(ErrTableColumns, n)
	}
	at := func(i int) string {
		if i < len(tokens) {
			return tokens[i]
		}
		return ""
	}

	t.TableName = at(1)
	if t.TableName == "" {
		t.AddError(ErrEmptyTableName)
	}

	rowsSpec, legacySuffixes, hasLegacy := strings.Cut(at(3), ":")
	t.RowsType = parseRowsType(t, rowsSpec)

	switch {
	case at(2) == "":
		t.AddError(ErrEmptyParentOrKey)
	case t.RowsType.IsRoot():
		t.PrimaryKeyName = at(2)
	default:
		t.ParentTableName = at(2)
	}

	if hasLegacy {
		t.Suffixes = append(t.Suffixes, splitSuffixes(legacySuffixes)...)
	}
	t.Suffixes = append(t.Suffixes, splitSuffixes(at(4))...)
	return t
}

// parseRowsType accepts one or more keywords joined by '+' or whitespace.
func parseRowsType(t *TableRule, spec string) core.RowsType {
	words := strings.FieldsFunc(spec, func(r rune) bool {
		return r == '+' || r == ' ' || r == '\t'
	})
	if len(words) == 0 {
		t.AddError(ErrEmptyRowsType)
		return 0
	}
	var rt core.RowsType
	for _, w := range words {
		flag, ok := core.ParseRowsKeyword(w)
		if !ok {
			t.addErrorf(ErrUnknownRowsType, w)
			continue
		}
		rt |= flag
	}
	return rt
}

func splitSuffixes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == ' ' || r == '\t'
	})
}

func parseField(base ruleBase, line string) *FieldRule {
	f := &FieldRule{ruleBase: base}
	tokens := splitTokens(line)
	if n := len(tokens); n < 3 || n > 4 {
		f.addErrorf(ErrFieldColumns, n)
	}
	if len(tokens) > 1 {
		f.RedCapFieldName = tokens[1]
	}
	if f.RedCapFieldName == "" {
		f.AddError(ErrEmptyFieldName)
	}
	if len(tokens) > 2 {
		spec, err := core.ParseFieldSpec(tokens[2])
		if err != nil {
			f.AddError(err.Error())
		} else {
			f.DBFieldType = spec.Type
			f.DBFieldSize = spec.Size
		}
	}
	f.DBFieldName = f.RedCapFieldName
	if len(tokens) > 3 && tokens[3] != "" {
		f.DBFieldName = tokens[3]
	}
	return f
}
