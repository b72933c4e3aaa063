// Package mysql provides the MySQL and MariaDB load target.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/core"
)

// baseDialect is the MySQL spelling used by the SQL helper. The schema is
// the database, so each connection gets a copy with DefaultSchema set.
var baseDialect = adapter.Dialect{
	Name:        "mysql",
	Quote:       "`",
	Placeholder: adapter.PlaceholderQuestion,
	Types: map[core.FieldType]string{
		core.FieldTypeInt:      "BIGINT",
		core.FieldTypeFloat:    "DOUBLE",
		core.FieldTypeString:   "TEXT",
		core.FieldTypeChar:     "CHAR(%d)",
		core.FieldTypeVarchar:  "VARCHAR(%d)",
		core.FieldTypeDate:     "DATE",
		core.FieldTypeDatetime: "DATETIME",
	},
	TextCast:    "CHAR",
	ReplaceView: "CREATE OR REPLACE VIEW",
}

// maxParams is the MySQL prepared statement placeholder limit.
const maxParams = 65535

// Connection is a MySQL target.
type Connection struct {
	*adapter.SQLHelper
}

// Open connects to MySQL.
func Open(ctx context.Context, cfg adapter.Config, logger *slog.Logger) (*Connection, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("mysql target requires a database")
	}
	db, err := sql.Open("mysql", buildMySQLDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	c := newConnection(db, cfg, logger)
	c.Logger.Debug("connecting to mysql", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}
	return c, nil
}

func newConnection(db *sql.DB, cfg adapter.Config, logger *slog.Logger) *Connection {
	d := baseDialect
	d.DefaultSchema = cfg.Database
	// A MySQL schema is a database; the configured database wins.
	cfg.Schema = ""
	h := adapter.NewSQLHelper(db, cfg, &d, logger)
	h.MaxParams = maxParams
	return &Connection{SQLHelper: h}
}

// buildMySQLDSN constructs a MySQL DSN. Options become DSN parameters.
func buildMySQLDSN(cfg adapter.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}

	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	for k, v := range cfg.Options {
		mc.Params[k] = v
	}
	return mc.FormatDSN()
}

var _ adapter.Connection = (*Connection)(nil)
