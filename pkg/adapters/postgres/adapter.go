// Package postgres provides the PostgreSQL load target.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
)

// Dialect is the PostgreSQL spelling used by the SQL helper.
var Dialect = &adapter.Dialect{
	Name:          "postgres",
	Quote:         `"`,
	Placeholder:   adapter.PlaceholderDollar,
	DefaultSchema: "public",
	Types: map[core.FieldType]string{
		core.FieldTypeInt:      "BIGINT",
		core.FieldTypeFloat:    "DOUBLE PRECISION",
		core.FieldTypeString:   "TEXT",
		core.FieldTypeChar:     "CHAR(%d)",
		core.FieldTypeVarchar:  "VARCHAR(%d)",
		core.FieldTypeDate:     "DATE",
		core.FieldTypeDatetime: "TIMESTAMP",
	},
	TextCast:    "TEXT",
	ReplaceView: "CREATE OR REPLACE VIEW",
	Arg:         adapter.TimeArg,
}

// maxParams is the PostgreSQL wire protocol limit on bind parameters.
const maxParams = 65535

// Connection is a PostgreSQL target. Bulk inserts use COPY FROM STDIN.
type Connection struct {
	*adapter.SQLHelper
}

// Open connects to PostgreSQL.
func Open(ctx context.Context, cfg adapter.Config, logger *slog.Logger) (*Connection, error) {
	db, err := sql.Open("pgx", buildPostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	c := newConnection(db, cfg, logger)
	c.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return c, nil
}

func newConnection(db *sql.DB, cfg adapter.Config, logger *slog.Logger) *Connection {
	h := adapter.NewSQLHelper(db, cfg, Dialect, logger)
	h.MaxParams = maxParams
	return &Connection{SQLHelper: h}
}

// buildPostgresDSN constructs a PostgreSQL connection string.
func buildPostgresDSN(cfg adapter.Config) string {
	// Build key=value format: host=localhost port=5432 user=postgres ...
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if cfg.Options != nil {
		if mode, ok := cfg.Options["sslmode"]; ok {
			sslmode = mode
		}
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		dsnValue(host), port, dsnValue(cfg.Database), dsnValue(sslmode))

	if cfg.Username != "" {
		dsn += " user=" + dsnValue(cfg.Username)
	}
	if cfg.Password != "" {
		dsn += " password=" + dsnValue(cfg.Password)
	}

	return dsn
}

// dsnValue quotes a keyword/value DSN value when it contains spaces,
// quotes or backslashes.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// InsertRows loads rows with COPY, one COPY per BatchSize rows.
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

	ident := pgx.Identifier{c.SchemaName(), t.Name}
	cols := t.ColumnNames()
	err = conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		pgxConn := sc.Conn()
		for start := 0; start < len(rows); start += c.Cfg.BatchSize {
			batch := rows[start:min(start+c.Cfg.BatchSize, len(rows))]
			values := make([][]any, len(batch))
			for i, r := range batch {
				values[i] = c.Args(r)
			}
			n, err := pgxConn.CopyFrom(ctx, ident, cols, pgx.CopyFromRows(values))
			if err != nil {
				return err
			}
			c.Logger.Debug("copied batch", slog.String("table", t.Name), slog.Int64("rows", n))
		}
		return nil
	})
	if err != nil {
		return core.DBError(op, t.Name, err)
	}
	return nil
}

var _ adapter.Connection = (*Connection)(nil)
