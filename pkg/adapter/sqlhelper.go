package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
)

// SQLHelper implements Connection on top of database/sql for any Dialect.
// SQL targets hold one and override only what their driver does better,
// such as bulk loading.
type SQLHelper struct {
	DB      *sql.DB
	Cfg     Config
	Dialect *Dialect
	Logger  *slog.Logger

	// MaxParams caps the bind parameters of one statement; 0 means no cap.
	MaxParams int
}

// NewSQLHelper wires a helper. A nil logger uses a discard logger.
func NewSQLHelper(db *sql.DB, cfg Config, d *Dialect, logger *slog.Logger) *SQLHelper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLHelper{DB: db, Cfg: cfg.WithDefaults(), Dialect: d, Logger: logger}
}

// Close closes the database connection.
func (h *SQLHelper) Close() error {
	if h.DB != nil {
		h.Logger.Debug("closing database connection")
		return h.DB.Close()
	}
	return nil
}

// Identity names the database for key scoping.
func (h *SQLHelper) Identity() string { return h.Cfg.Identity() }

// SchemaName is the configured schema or the dialect default.
func (h *SQLHelper) SchemaName() string {
	if h.Cfg.Schema != "" {
		return h.Cfg.Schema
	}
	return h.Dialect.DefaultSchema
}

// QualifiedName quotes name, qualified by the schema when there is one.
func (h *SQLHelper) QualifiedName(name string) string {
	if s := h.SchemaName(); s != "" {
		return h.Dialect.QuoteIdent(s) + "." + h.Dialect.QuoteIdent(name)
	}
	return h.Dialect.QuoteIdent(name)
}

// LabelViewName returns the name of t's label view.
func (h *SQLHelper) LabelViewName(t *schema.Table) string {
	return t.Name + h.Cfg.LabelViewSuffix
}

// Exec runs a statement, wrapping failures with op and table.
func (h *SQLHelper) Exec(ctx context.Context, op, table, query string, args ...any) error {
	if h.DB == nil {
		return core.DBError(op, table, fmt.Errorf("database connection not established"))
	}
	h.Logger.Debug("exec", slog.String("op", op), slog.String("table", table))
	if _, err := h.DB.ExecContext(ctx, query, args...); err != nil {
		return core.DBError(op, table, err)
	}
	return nil
}

// ExistsTable checks the catalog for t.
func (h *SQLHelper) ExistsTable(ctx context.Context, t *schema.Table) (bool, error) {
	const op = "exists table"
	if h.DB == nil {
		return false, core.DBError(op, t.Name, fmt.Errorf("database connection not established"))
	}
	var (
		query string
		args  []any
	)
	if s := h.SchemaName(); s == "" {
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
		args = []any{t.Name}
	} else {
		//nolint:gosec // Placeholders come from the dialect
		query = fmt.Sprintf(
			"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = %s AND table_name = %s",
			h.Dialect.FormatPlaceholder(1), h.Dialect.FormatPlaceholder(2))
		args = []any{s, t.Name}
	}
	var n int
	if err := h.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, core.DBError(op, t.Name, err)
	}
	return n > 0, nil
}

// CreateTableSQL renders the CREATE TABLE statement for t.
func (h *SQLHelper) CreateTableSQL(t *schema.Table, ifNotExists bool) string {
	d := h.Dialect
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists && !d.NoIfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(h.QualifiedName(t.Name))
	b.WriteString(" (\n")
	defs := make([]string, 0, len(t.Fields)+2)
	for _, f := range t.Fields {
		def := "  " + d.QuoteIdent(f.DBName) + " " + d.ColumnType(f)
		if f.Role == schema.RolePrimaryKey {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if d.InlineKeys {
		defs = append(defs, "  PRIMARY KEY ("+d.QuoteIdent(t.PrimaryKey.DBName)+")")
		if t.ForeignKey != nil && t.Parent != nil {
			defs = append(defs, fmt.Sprintf("  FOREIGN KEY (%s) REFERENCES %s (%s)",
				d.QuoteIdent(t.ForeignKey.DBName),
				d.QuoteIdent(t.Parent.Name),
				d.QuoteIdent(t.Parent.PrimaryKey.DBName)))
		}
	}
	b.WriteString(strings.Join(defs, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

// CreateTable creates t. Dialects without IF NOT EXISTS check the catalog
// first.
func (h *SQLHelper) CreateTable(ctx context.Context, t *schema.Table, ifNotExists bool) error {
	if ifNotExists && h.Dialect.NoIfNotExists {
		exists, err := h.ExistsTable(ctx, t)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}
	return h.Exec(ctx, "create table", t.Name, h.CreateTableSQL(t, ifNotExists))
}

func ifExistsClause(ifExists bool) string {
	if ifExists {
		return "IF EXISTS "
	}
	return ""
}

// DropTable drops t.
func (h *SQLHelper) DropTable(ctx context.Context, t *schema.Table, ifExists bool) error {
	return h.Exec(ctx, "drop table", t.Name,
		"DROP TABLE "+ifExistsClause(ifExists)+h.QualifiedName(t.Name))
}

// DropLabelView drops t's label view.
func (h *SQLHelper) DropLabelView(ctx context.Context, t *schema.Table, ifExists bool) error {
	return h.Exec(ctx, "drop label view", t.Name,
		"DROP VIEW "+ifExistsClause(ifExists)+h.QualifiedName(h.LabelViewName(t)))
}

// AddPrimaryKeyConstraint adds t's primary key unless keys are inline.
func (h *SQLHelper) AddPrimaryKeyConstraint(ctx context.Context, t *schema.Table) error {
	if h.Dialect.InlineKeys {
		return nil
	}
	d := h.Dialect
	query := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s)",
		h.QualifiedName(t.Name),
		d.QuoteIdent("pk_"+t.Name),
		d.QuoteIdent(t.PrimaryKey.DBName))
	return h.Exec(ctx, "add primary key", t.Name, query)
}

// AddForeignKeyConstraint links t to its parent unless keys are inline.
func (h *SQLHelper) AddForeignKeyConstraint(ctx context.Context, t *schema.Table) error {
	if h.Dialect.InlineKeys || t.ForeignKey == nil || t.Parent == nil {
		return nil
	}
	d := h.Dialect
	query := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		h.QualifiedName(t.Name),
		d.QuoteIdent("fk_"+t.Name+"_"+t.ForeignKey.DBName),
		d.QuoteIdent(t.ForeignKey.DBName),
		h.QualifiedName(t.Parent.Name),
		d.QuoteIdent(t.Parent.PrimaryKey.DBName))
	return h.Exec(ctx, "add foreign key", t.Name, query)
}

// codeLiteral renders a choice code for comparison with column f.
func (h *SQLHelper) codeLiteral(f *schema.Field, code string) string {
	if f.Type.IsNumeric() {
		if _, err := strconv.ParseInt(code, 10, 64); err == nil {
			return code
		}
	}
	return h.Dialect.StringLiteral(code)
}

// LabelViewSelect renders the SELECT behind t's label view.
func (h *SQLHelper) LabelViewSelect(t *schema.Table, lookup *schema.LookupTable) string {
	d := h.Dialect
	cols := t.LabelColumns(lookup)
	exprs := make([]string, 0, len(cols))
	for _, c := range cols {
		name := d.QuoteIdent(c.Field.DBName)
		switch {
		case c.Choices == nil:
			exprs = append(exprs, name)
		case c.Field.IsCheckbox():
			exprs = append(exprs, fmt.Sprintf("CASE WHEN %s = 1 THEN %s ELSE %s END AS %s",
				name, d.StringLiteral(c.Choices[0].Label), d.StringLiteral(""), name))
		default:
			var b strings.Builder
			b.WriteString("CASE " + name)
			for _, ch := range c.Choices {
				fmt.Fprintf(&b, " WHEN %s THEN %s", h.codeLiteral(c.Field, ch.Code), d.StringLiteral(ch.Label))
			}
			fmt.Fprintf(&b, " ELSE CAST(%s AS %s) END AS %s", name, d.TextCast, name)
			exprs = append(exprs, b.String())
		}
	}
	return "SELECT " + strings.Join(exprs, ", ") + " FROM " + h.QualifiedName(t.Name)
}

// ReplaceLookupView (re)creates t's label view.
func (h *SQLHelper) ReplaceLookupView(ctx context.Context, t *schema.Table, lookup *schema.LookupTable) error {
	view := h.QualifiedName(h.LabelViewName(t))
	sel := h.LabelViewSelect(t, lookup)
	if h.Dialect.ReplaceView != "" {
		return h.Exec(ctx, "replace label view", t.Name, h.Dialect.ReplaceView+" "+view+" AS "+sel)
	}
	if err := h.DropLabelView(ctx, t, true); err != nil {
		return err
	}
	return h.Exec(ctx, "replace label view", t.Name, "CREATE VIEW "+view+" AS "+sel)
}

// InsertSQL renders a multi-row INSERT for n rows of t.
func (h *SQLHelper) InsertSQL(t *schema.Table, n int) string {
	d := h.Dialect
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = d.QuoteIdent(f.DBName)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", h.QualifiedName(t.Name), strings.Join(cols, ", "))
	p := 1
	for r := 0; r < n; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := range t.Fields {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.FormatPlaceholder(p))
			p++
		}
		b.WriteString(")")
	}
	return b.String()
}

// Args converts a row's values with the dialect's Arg hook.
func (h *SQLHelper) Args(row *schema.Row) []any {
	vals := row.Values()
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = h.Dialect.ArgOf(v)
	}
	return out
}

// InsertRow inserts one row and returns its primary key.
func (h *SQLHelper) InsertRow(ctx context.Context, row *schema.Row) (any, error) {
	if err := h.Exec(ctx, "insert row", row.Table.Name, h.InsertSQL(row.Table, 1), h.Args(row)...); err != nil {
		return nil, err
	}
	return row.Key().Any(), nil
}

// rowsPerStatement bounds a batch by the bind parameter cap.
func (h *SQLHelper) rowsPerStatement(t *schema.Table) int {
	n := h.Cfg.BatchSize
	if n <= 0 {
		n = DefaultBatchSize
	}
	if h.MaxParams > 0 && len(t.Fields) > 0 {
		if limit := h.MaxParams / len(t.Fields); limit < n {
			n = max(limit, 1)
		}
	}
	return n
}

// InTx runs fn in a transaction, committing on success.
func (h *SQLHelper) InTx(ctx context.Context, op, table string, fn func(tx *sql.Tx) error) error {
	if h.DB == nil {
		return core.DBError(op, table, fmt.Errorf("database connection not established"))
	}
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return core.DBError(op, table, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return core.DBError(op, table, err)
	}
	if err := tx.Commit(); err != nil {
		return core.DBError(op, table, err)
	}
	return nil
}

// InsertRows inserts rows with multi-row INSERT statements, one
// transaction per batch.
func (h *SQLHelper) InsertRows(ctx context.Context, t *schema.Table, rows []*schema.Row) error {
	per := h.rowsPerStatement(t)
	for start := 0; start < len(rows); start += per {
		batch := rows[start:min(start+per, len(rows))]
		args := make([]any, 0, len(batch)*len(t.Fields))
		for _, r := range batch {
			args = append(args, h.Args(r)...)
		}
		query := h.InsertSQL(t, len(batch))
		err := h.InTx(ctx, "insert rows", t.Name, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, query, args...)
			return err
		})
		if err != nil {
			return err
		}
		h.Logger.Debug("inserted batch", slog.String("table", t.Name), slog.Int("rows", len(batch)))
	}
	return nil
}

// GetData reads a whole table. []byte values are returned as strings.
func (h *SQLHelper) GetData(ctx context.Context, tableName, orderByField string) ([]map[string]any, error) {
	const op = "get data"
	if h.DB == nil {
		return nil, core.DBError(op, tableName, fmt.Errorf("database connection not established"))
	}
	query := "SELECT * FROM " + h.QualifiedName(tableName)
	if orderByField != "" {
		query += " ORDER BY " + h.Dialect.QuoteIdent(orderByField)
	}
	rows, err := h.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, core.DBError(op, tableName, err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, core.DBError(op, tableName, err)
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, core.DBError(op, tableName, err)
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = vals[i]
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.DBError(op, tableName, err)
	}
	return out, nil
}
