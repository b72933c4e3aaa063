// Package adapter defines the contract every load target implements and the
// shared database/sql machinery the SQL targets are built from.
//
// Concrete targets live in pkg/adapters/ subdirectories and register
// themselves with Register from their init functions. Import
// pkg/adapters/all to register every target.
package adapter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/leapstack-labs/redcapetl/pkg/schema"
)

// Connection is a load target. Every operation is scoped to one schema
// table; implementations must behave identically in observable effect.
type Connection interface {
	// ExistsTable reports whether the table exists in the target.
	ExistsTable(ctx context.Context, t *schema.Table) (bool, error)

	// CreateTable creates the table. With ifNotExists an existing table is
	// left alone; otherwise creating an existing table fails.
	CreateTable(ctx context.Context, t *schema.Table, ifNotExists bool) error

	// DropTable drops the table, ignoring a missing table when ifExists.
	DropTable(ctx context.Context, t *schema.Table, ifExists bool) error

	// DropLabelView drops the table's label view.
	DropLabelView(ctx context.Context, t *schema.Table, ifExists bool) error

	AddPrimaryKeyConstraint(ctx context.Context, t *schema.Table) error
	AddForeignKeyConstraint(ctx context.Context, t *schema.Table) error

	// ReplaceLookupView (re)creates the table's label view, which shows
	// choice labels in place of codes.
	ReplaceLookupView(ctx context.Context, t *schema.Table, lookup *schema.LookupTable) error

	// InsertRow stores one row and returns its primary key.
	InsertRow(ctx context.Context, row *schema.Row) (any, error)

	// InsertRows stores rows of t in batches of Config.BatchSize.
	InsertRows(ctx context.Context, t *schema.Table, rows []*schema.Row) error

	// GetData returns every row of a table, ordered by orderByField when
	// it is not empty.
	GetData(ctx context.Context, tableName, orderByField string) ([]map[string]any, error)

	// Identity names the database for key allocation scoping.
	Identity() string

	Close() error
}

// DefaultBatchSize is used when Config.BatchSize is not positive.
const DefaultBatchSize = 500

// DefaultLabelViewSuffix names label views "<table>_label_view".
const DefaultLabelViewSuffix = schema.DefaultLabelViewSuffix

// Config holds connection settings for a target.
type Config struct {
	Type     string            `koanf:"type"`
	Path     string            `koanf:"path"`
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	Database string            `koanf:"database"`
	Username string            `koanf:"user"`
	Password string            `koanf:"password"`
	Schema   string            `koanf:"schema"`
	Options  map[string]string `koanf:"options"`
	// Params holds structured target-specific settings, decoded by the
	// target itself.
	Params map[string]any `koanf:"params"`

	// BatchSize is the number of rows per InsertRows batch.
	BatchSize int `koanf:"batch_size"`
	// LabelViewSuffix is appended to a table name to name its label view.
	LabelViewSuffix string `koanf:"label_view_suffix"`
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.LabelViewSuffix == "" {
		c.LabelViewSuffix = DefaultLabelViewSuffix
	}
	return c
}

// Identity identifies the database the config points at. Passwords are
// never part of it.
func (c Config) Identity() string {
	if c.Path != "" {
		return c.Type + ":" + c.Path
	}
	id := c.Type + "://" + c.Host
	if c.Port != 0 {
		id += ":" + strconv.Itoa(c.Port)
	}
	id += "/" + c.Database
	if c.Schema != "" {
		id += "." + c.Schema
	}
	return id
}

// String implements fmt.Stringer without leaking the password.
func (c Config) String() string {
	return fmt.Sprintf("%s (%s)", c.Type, c.Identity())
}
