// Package csv provides a flat-file load target: one CSV file per table in
// the directory named by Config.Path. A table's label "view" is a second
// file, <table><label_view_suffix>.csv, rendered from the table file and
// kept in step with it: rows inserted after ReplaceLookupView are appended
// to both files.
package csv

import (
	"cmp"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
)

// Connection writes tables as CSV files.
type Connection struct {
	dir    string
	cfg    adapter.Config
	logger *slog.Logger

	mu sync.Mutex
	// views holds the lookup of every label file this connection maintains.
	views map[string]*schema.LookupTable
}

// Open prepares the output directory, creating it when missing.
func Open(_ context.Context, cfg adapter.Config, logger *slog.Logger) (*Connection, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("csv target requires a path")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create csv directory: %w", err)
	}
	return &Connection{
		dir:    cfg.Path,
		cfg:    cfg.WithDefaults(),
		logger: logger,
		views:  make(map[string]*schema.LookupTable),
	}, nil
}

func (c *Connection) path(name string) string {
	return filepath.Join(c.dir, name+".csv")
}

func (c *Connection) viewName(t *schema.Table) string {
	return t.Name + c.cfg.LabelViewSuffix
}

// Identity names the output directory.
func (c *Connection) Identity() string { return c.cfg.Identity() }

// Close is a no-op; files are closed after every operation.
func (c *Connection) Close() error { return nil }

// ExistsTable reports whether the table file exists.
func (c *Connection) ExistsTable(_ context.Context, t *schema.Table) (bool, error) {
	_, err := os.Stat(c.path(t.Name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, core.DBError("exists table", t.Name, err)
	}
}

// CreateTable writes the header row of a new table file.
func (c *Connection) CreateTable(ctx context.Context, t *schema.Table, ifNotExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	exists, err := c.ExistsTable(ctx, t)
	if err != nil {
		return err
	}
	if exists {
		if ifNotExists {
			return nil
		}
		return core.DBError("create table", t.Name, fmt.Errorf("file %s already exists", c.path(t.Name)))
	}
	if err := writeFile(c.path(t.Name), t.ColumnNames(), nil); err != nil {
		return core.DBError("create table", t.Name, err)
	}
	return nil
}

func (c *Connection) remove(op, table, name string, ifExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.views, table)
	err := os.Remove(c.path(name))
	if err == nil || (ifExists && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return core.DBError(op, table, err)
}

// DropTable removes the table file. An existing label file is left in
// place but no longer follows inserts.
func (c *Connection) DropTable(_ context.Context, t *schema.Table, ifExists bool) error {
	return c.remove("drop table", t.Name, t.Name, ifExists)
}

// DropLabelView removes the label file.
func (c *Connection) DropLabelView(_ context.Context, t *schema.Table, ifExists bool) error {
	return c.remove("drop label view", t.Name, c.viewName(t), ifExists)
}

// AddPrimaryKeyConstraint is a no-op for flat files.
func (c *Connection) AddPrimaryKeyConstraint(context.Context, *schema.Table) error { return nil }

// AddForeignKeyConstraint is a no-op for flat files.
func (c *Connection) AddForeignKeyConstraint(context.Context, *schema.Table) error { return nil }

// ReplaceLookupView rewrites the label file from the current table file.
// Later inserts into the table are appended to the label file as well.
func (c *Connection) ReplaceLookupView(_ context.Context, t *schema.Table, lookup *schema.LookupTable) error {
	const op = "replace label view"
	c.mu.Lock()
	defer c.mu.Unlock()

	header, records, err := readFile(c.path(t.Name))
	if err != nil {
		return core.DBError(op, t.Name, err)
	}
	out, err := labelRecords(t, lookup, header, records)
	if err != nil {
		return core.DBError(op, t.Name, fmt.Errorf("%w in %s", err, c.path(t.Name)))
	}
	if err := writeFile(c.path(c.viewName(t)), t.ColumnNames(), out); err != nil {
		return core.DBError(op, t.Name, err)
	}
	c.views[t.Name] = lookup
	return nil
}

// labelRecords renders table records, laid out by header, as label file
// records.
func labelRecords(t *schema.Table, lookup *schema.LookupTable, header []string, records [][]string) ([][]string, error) {
	cols := t.LabelColumns(lookup)
	index := columnIndex(header)

	out := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(cols))
		for j, col := range cols {
			k, ok := index[col.Field.DBName]
			if !ok {
				return nil, fmt.Errorf("column %q missing", col.Field.DBName)
			}
			row[j] = col.LabelText(col.Field.Convert(rec[k]))
		}
		out[i] = row
	}
	return out, nil
}

// InsertRow appends one row and returns its primary key.
func (c *Connection) InsertRow(ctx context.Context, row *schema.Row) (any, error) {
	if err := c.InsertRows(ctx, row.Table, []*schema.Row{row}); err != nil {
		return nil, err
	}
	return row.Key().Any(), nil
}

// InsertRows appends rows to the table file, and to its label file when
// one is maintained, flushing every BatchSize rows.
func (c *Connection) InsertRows(_ context.Context, t *schema.Table, rows []*schema.Row) error {
	const op = "insert rows"
	c.mu.Lock()
	defer c.mu.Unlock()

	records := make([][]string, len(rows))
	for i, r := range rows {
		vals := r.Values()
		rec := make([]string, len(vals))
		for j, v := range vals {
			rec[j] = v.String()
		}
		records[i] = rec
	}
	if err := c.appendRecords(c.path(t.Name), records); err != nil {
		return core.DBError(op, t.Name, err)
	}

	if lookup, ok := c.views[t.Name]; ok {
		labelled, err := labelRecords(t, lookup, t.ColumnNames(), records)
		if err != nil {
			return core.DBError(op, t.Name, err)
		}
		if err := c.appendRecords(c.path(c.viewName(t)), labelled); err != nil {
			return core.DBError(op, t.Name, err)
		}
	}
	c.logger.Debug("appended rows", slog.String("table", t.Name), slog.Int("rows", len(rows)))
	return nil
}

// appendRecords appends to an existing file, flushing every BatchSize
// records.
func (c *Connection) appendRecords(path string, records [][]string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0) //nolint:gosec // path is built from the configured directory
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	for i, rec := range records {
		if err := w.Write(rec); err != nil {
			_ = f.Close()
			return err
		}
		if (i+1)%c.cfg.BatchSize == 0 {
			w.Flush()
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// GetData reads a table or label file. Empty cells are returned as nil.
// Ordering compares numerically when both cells are numbers.
func (c *Connection) GetData(_ context.Context, tableName, orderByField string) ([]map[string]any, error) {
	const op = "get data"
	c.mu.Lock()
	defer c.mu.Unlock()

	header, records, err := readFile(c.path(tableName))
	if err != nil {
		return nil, core.DBError(op, tableName, err)
	}
	if orderByField != "" {
		k, ok := columnIndex(header)[orderByField]
		if !ok {
			return nil, core.DBError(op, tableName, fmt.Errorf("no column %q", orderByField))
		}
		slices.SortStableFunc(records, func(a, b []string) int { return compareCells(a[k], b[k]) })
	}

	out := make([]map[string]any, len(records))
	for i, rec := range records {
		m := make(map[string]any, len(header))
		for j, name := range header {
			if rec[j] == "" {
				m[name] = nil
			} else {
				m[name] = rec[j]
			}
		}
		out[i] = m
	}
	return out, nil
}

func compareCells(a, b string) int {
	x, errA := strconv.ParseFloat(a, 64)
	y, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		return cmp.Compare(x, y)
	}
	return cmp.Compare(a, b)
}

func columnIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}
	return index
}

func readFile(path string) ([]string, [][]string, error) {
	f, err := os.Open(path) //nolint:gosec // path is built from the configured directory
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("%s has no header row", path)
	}
	return all[0], all[1:], nil
}

func writeFile(path string, header []string, records [][]string) error {
	f, err := os.Create(path) //nolint:gosec // path is built from the configured directory
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.WriteAll(records); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var _ adapter.Connection = (*Connection)(nil)
