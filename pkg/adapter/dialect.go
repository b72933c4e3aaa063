package adapter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
)

// PlaceholderStyle defines how query parameters are formatted.
type PlaceholderStyle int

const (
	// PlaceholderQuestion uses ? for all parameters (MySQL, SQLite, DuckDB).
	PlaceholderQuestion PlaceholderStyle = iota
	// PlaceholderDollar uses $1, $2, etc. (PostgreSQL).
	PlaceholderDollar
	// PlaceholderAtP uses @p1, @p2, etc. (SQL Server).
	PlaceholderAtP
)

// Dialect is the per-backend SQL syntax the SQLHelper needs. It holds only
// spelling: the helper owns every decision about what to emit.
type Dialect struct {
	Name string

	// Identifier quoting, e.g. `"` and `"`, or `[` and `]`.
	Quote    string
	QuoteEnd string

	Placeholder PlaceholderStyle

	// DefaultSchema is used when Config.Schema is empty. SQLite has none.
	DefaultSchema string

	// Types maps logical field types to column types. Entries for CHAR and
	// VARCHAR are format strings taking the size.
	Types map[core.FieldType]string

	// TextCast is the type a coded value is cast to in a label view.
	TextCast string

	// StringPrefix is prepended to string literals (N for SQL Server).
	StringPrefix string

	// ReplaceView is the statement prefix that replaces a view, e.g.
	// "CREATE OR REPLACE VIEW". Empty means drop and create.
	ReplaceView string

	// NoIfNotExists is set when CREATE TABLE IF NOT EXISTS is unsupported.
	NoIfNotExists bool

	// InlineKeys declares key constraints in CREATE TABLE because the
	// backend cannot add them later.
	InlineKeys bool

	// Arg converts a Value into a driver argument. Nil uses Value.Any.
	Arg func(v schema.Value) any
}

// QuoteIdent quotes an identifier, doubling embedded end quotes.
func (d *Dialect) QuoteIdent(name string) string {
	end := d.QuoteEnd
	if end == "" {
		end = d.Quote
	}
	return d.Quote + strings.ReplaceAll(name, end, end+end) + end
}

// StringLiteral renders s as a SQL string literal.
func (d *Dialect) StringLiteral(s string) string {
	return d.StringPrefix + "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// FormatPlaceholder returns the placeholder for the 1-based parameter n.
func (d *Dialect) FormatPlaceholder(n int) string {
	switch d.Placeholder {
	case PlaceholderDollar:
		return "$" + strconv.Itoa(n)
	case PlaceholderAtP:
		return "@p" + strconv.Itoa(n)
	default:
		return "?"
	}
}

// ColumnType returns the column type for f. Auto-increment keys are plain
// integers: keys are allocated by the ETL run, not the database.
func (d *Dialect) ColumnType(f *schema.Field) string {
	t := f.Type
	if t == core.FieldTypeAutoIncrement || t == core.FieldTypeCheckbox {
		t = core.FieldTypeInt
	}
	name, ok := d.Types[t]
	if !ok {
		name = d.Types[core.FieldTypeString]
	}
	if t.HasSize() {
		size := f.Size
		if size <= 0 {
			size = 255
		}
		return fmt.Sprintf(name, size)
	}
	return name
}

// ArgOf converts v with the dialect's Arg hook.
func (d *Dialect) ArgOf(v schema.Value) any {
	if d.Arg != nil {
		return d.Arg(v)
	}
	return v.Any()
}

// TimeArg passes temporal values as time.Time and everything else through
// Value.Any. Backends whose drivers type-check temporal columns use it.
func TimeArg(v schema.Value) any {
	switch v.Kind() {
	case schema.KindDate, schema.KindDatetime:
		return v.Time()
	}
	return v.Any()
}
