// Package sqlserver provides the Microsoft SQL Server load target.
package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// Dialect is the SQL Server spelling used by the SQL helper.
var Dialect = &adapter.Dialect{
	Name:          "sqlserver",
	Quote:         "[",
	QuoteEnd:      "]",
	Placeholder:   adapter.PlaceholderAtP,
	DefaultSchema: "dbo",
	Types: map[core.FieldType]string{
		core.FieldTypeInt:      "BIGINT",
		core.FieldTypeFloat:    "FLOAT",
		core.FieldTypeString:   "NVARCHAR(MAX)",
		core.FieldTypeChar:     "NCHAR(%d)",
		core.FieldTypeVarchar:  "NVARCHAR(%d)",
		core.FieldTypeDate:     "DATE",
		core.FieldTypeDatetime: "DATETIME2",
	},
	TextCast:      "NVARCHAR(MAX)",
	StringPrefix:  "N",
	ReplaceView:   "CREATE OR ALTER VIEW",
	NoIfNotExists: true,
	Arg:           adapter.TimeArg,
}

// maxParams stays under SQL Server's 2100 parameter limit per request.
const maxParams = 2000

// Connection is a SQL Server target. Bulk inserts use the TDS bulk copy
// protocol.
type Connection struct {
	*adapter.SQLHelper
}

// Open connects to SQL Server.
func Open(ctx context.Context, cfg adapter.Config, logger *slog.Logger) (*Connection, error) {
	dsn := buildSQLServerDSN(cfg)
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("sqlserver dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlserver connection: %w", err)
	}

	c := newConnection(db, cfg, logger)
	c.Logger.Debug("connecting to sqlserver", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlserver: %w", err)
	}
	return c, nil
}

func newConnection(db *sql.DB, cfg adapter.Config, logger *slog.Logger) *Connection {
	h := adapter.NewSQLHelper(db, cfg, Dialect, logger)
	h.MaxParams = maxParams
	return &Connection{SQLHelper: h}
}

// buildSQLServerDSN constructs a sqlserver:// URL. Options become query
// parameters (e.g. encrypt, TrustServerCertificate).
func buildSQLServerDSN(cfg adapter.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 1433
	}

	q := url.Values{}
	if cfg.Database != "" {
		q.Set("database", cfg.Database)
	}
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		RawQuery: q.Encode(),
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u.String()
}

// InsertRows bulk copies rows, one transaction per BatchSize rows.
func (c *Connection) InsertRows(ctx context.Context, t *schema.Table, rows []*schema.Row) error {
	const op = "insert rows"
	table := c.QualifiedName(t.Name)
	cols := t.ColumnNames()
	for start := 0; start < len(rows); start += c.Cfg.BatchSize {
		batch := rows[start:min(start+c.Cfg.BatchSize, len(rows))]
		err := c.InTx(ctx, op, t.Name, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, cols...))
			if err != nil {
				return fmt.Errorf("prepare bulk: %w", err)
			}
			for i, r := range batch {
				if _, err := stmt.ExecContext(ctx, c.Args(r)...); err != nil {
					_ = stmt.Close()
					return fmt.Errorf("bulk row %d: %w", start+i, err)
				}
			}
			_, err = stmt.ExecContext(ctx)
			if cerr := stmt.Close(); cerr != nil && err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("bulk finalize: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		c.Logger.Debug("bulk copied batch", slog.String("table", t.Name), slog.Int("rows", len(batch)))
	}
	return nil
}

var _ adapter.Connection = (*Connection)(nil)
