package etl

import (
	"context"
	"errors"
	"log/slog"

	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
)

var errTableExists = errors.New("table already exists; enable drop_tables to replace it")

// targetTables returns every table the run writes, parents first. The
// lookup table has no relations and goes last.
func targetTables(s *schema.Schema) []*schema.Table {
	tables := s.LoadOrder()
	if s.LookupTable != nil {
		tables = append(tables, s.LookupTable)
	}
	return tables
}

// prepareTarget drops (when configured) and creates every table with its
// constraints, then creates label views. Keys are allocated per run from 1,
// so loading into a table that already exists is refused.
func (p *Pipeline) prepareTarget(ctx context.Context, s *schema.Schema) error {
	tables := targetTables(s)

	if p.cfg.DropTables {
		for i := len(tables) - 1; i >= 0; i-- {
			t := tables[i]
			if t.NeedsLabelView {
				if err := p.target.DropLabelView(ctx, t, true); err != nil {
					return err
				}
			}
			if err := p.target.DropTable(ctx, t, true); err != nil {
				return err
			}
			p.logger.Debug("dropped table", slog.String("table", t.Name))
		}
	}

	for _, t := range tables {
		exists, err := p.target.ExistsTable(ctx, t)
		if err != nil {
			return err
		}
		if exists {
			return &core.Error{
				Code:  core.ConfigError,
				Op:    "create table",
				Table: t.Name,
				Err:   errTableExists,
			}
		}
		if err := p.target.CreateTable(ctx, t, false); err != nil {
			return err
		}
		if err := p.target.AddPrimaryKeyConstraint(ctx, t); err != nil {
			return err
		}
		if err := p.target.AddForeignKeyConstraint(ctx, t); err != nil {
			return err
		}
		p.logger.Debug("created table", slog.String("table", t.Name), slog.Int("columns", len(t.Fields)))
	}

	for _, t := range s.Tables {
		if !t.NeedsLabelView {
			continue
		}
		if err := p.target.ReplaceLookupView(ctx, t, s.Lookup); err != nil {
			return err
		}
		p.logger.Debug("created label view", slog.String("table", t.Name))
	}
	return nil
}
