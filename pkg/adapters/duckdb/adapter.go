// Package duckdb provides the DuckDB load target.
package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
	"github.com/marcboeker/go-duckdb"
)

// Dialect is the DuckDB spelling used by the SQL helper. Integers are
// BIGINT so appended int64 values match the column type exactly.
var Dialect = &adapter.Dialect{
	Name:          "duckdb",
	Quote:         `"`,
	Placeholder:   adapter.PlaceholderQuestion,
	DefaultSchema: "main",
	Types: map[core.FieldType]string{
		core.FieldTypeInt:      "BIGINT",
		core.FieldTypeFloat:    "DOUBLE",
		core.FieldTypeString:   "VARCHAR",
		core.FieldTypeChar:     "CHAR(%d)",
		core.FieldTypeVarchar:  "VARCHAR(%d)",
		core.FieldTypeDate:     "DATE",
		core.FieldTypeDatetime: "TIMESTAMP",
	},
	TextCast:    "VARCHAR",
	ReplaceView: "CREATE OR REPLACE VIEW",
	InlineKeys:  true,
	Arg:         adapter.TimeArg,
}

// Connection is a DuckDB target. Bulk inserts use the DuckDB appender.
type Connection struct {
	*adapter.SQLHelper
}

// Open connects to DuckDB.
// Use ":memory:" (the default) as the path for an in-memory database.
func Open(ctx context.Context, cfg adapter.Config, logger *slog.Logger) (*Connection, error) {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return nil, err
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
		cfg.Path = path
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	// Settings are per session and an in-memory database is per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	for _, stmt := range params.setupStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply duckdb setting %q: %w", stmt, err)
		}
	}

	h := adapter.NewSQLHelper(db, cfg, Dialect, logger)
	h.Logger.Debug("connected to duckdb", slog.String("path", path))
	return &Connection{SQLHelper: h}, nil
}

// InsertRows appends rows through the DuckDB appender, flushing every
// BatchSize rows.
func (c *Connection) InsertRows(ctx context.Context, t *schema.Table, rows []*schema.Row) error {
	const op = "insert rows"
	if len(rows) == 0 {
		return nil
	}
	conn, err := c.DB.Conn(ctx)
	if err != nil {
		return core.DBError(op, t.Name, err)
	}
	defer func() { _ = conn.Close() }()

	err = conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		app, err := duckdb.NewAppenderFromConn(dc, c.SchemaName(), t.Name)
		if err != nil {
			return err
		}
		for i, r := range rows {
			args := c.Args(r)
			vals := make([]driver.Value, len(args))
			for j, a := range args {
				vals[j] = a
			}
			if err := app.AppendRow(vals...); err != nil {
				_ = app.Close()
				return err
			}
			if (i+1)%c.Cfg.BatchSize == 0 {
				if err := app.Flush(); err != nil {
					_ = app.Close()
					return err
				}
			}
		}
		return app.Close()
	})
	if err != nil {
		return core.DBError(op, t.Name, err)
	}
	c.Logger.Debug("appended rows", slog.String("table", t.Name), slog.Int("rows", len(rows)))
	return nil
}

var _ adapter.Connection = (*Connection)(nil)
