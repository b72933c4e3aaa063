// Package sqlite provides the SQLite load target.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/core"

	_ "modernc.org/sqlite" // sqlite driver
)

// Dialect is the SQLite spelling used by the SQL helper. SQLite cannot add
// key constraints to an existing table, so keys are declared inline.
var Dialect = &adapter.Dialect{
	Name:        "sqlite",
	Quote:       `"`,
	Placeholder: adapter.PlaceholderQuestion,
	Types: map[core.FieldType]string{
		core.FieldTypeInt:      "INTEGER",
		core.FieldTypeFloat:    "REAL",
		core.FieldTypeString:   "TEXT",
		core.FieldTypeChar:     "CHAR(%d)",
		core.FieldTypeVarchar:  "VARCHAR(%d)",
		core.FieldTypeDate:     "DATE",
		core.FieldTypeDatetime: "DATETIME",
	},
	TextCast:   "TEXT",
	InlineKeys: true,
}

// maxParams is SQLite's default SQLITE_MAX_VARIABLE_NUMBER.
const maxParams = 32766

// Connection is a SQLite target.
type Connection struct {
	*adapter.SQLHelper
}

// Open connects to the database file at cfg.Path.
// Use ":memory:" (the default) for an in-memory database.
func Open(ctx context.Context, cfg adapter.Config, logger *slog.Logger) (*Connection, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
		cfg.Path = path
	}
	// SQLite has no schemas.
	cfg.Schema = ""

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writes.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	h := adapter.NewSQLHelper(db, cfg, Dialect, logger)
	h.MaxParams = maxParams
	h.Logger.Debug("connected to sqlite", slog.String("path", path))
	return &Connection{SQLHelper: h}, nil
}

func dsn(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

var _ adapter.Connection = (*Connection)(nil)
