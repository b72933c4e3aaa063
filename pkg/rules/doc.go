// Package rules implements the transformation rule language.
//
// Rule text is line oriented and comma separated:
//
//	TABLE,<name>,<parent table or primary key>,<rows type>[,<suffixes>]
//	FIELD,<redcap field>,<type>[(<size>)][,<db name>]
//	FILTER,<REDCap filter logic>
//
// Parse tokenizes rule text without consulting REDCap metadata, Check
// validates a parsed rule set against itself, and GenerateDefaultRules
// derives a rule set from project metadata for "auto" mode. Problems are
// attached to the offending rule; neither Parse nor Check ever fails as a
// whole.
package rules
