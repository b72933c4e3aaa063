package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/redcapetl/internal/cli/output"
	"github.com/leapstack-labs/redcapetl/internal/etl"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// SchemaOptions holds options for the schema command.
type SchemaOptions struct {
	Format string
	Lookup bool
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand() *cobra.Command {
	opts := &SchemaOptions{}
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show the tables the rules produce",
		Long: `Derive the target schema from the rules and project metadata without
loading anything, and print every table with its columns.`,
		Example: `  # Show the schema
  redcapetl schema

  # Include the code/label lookup entries
  redcapetl schema --lookup

  # Export as YAML
  redcapetl schema --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchema(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: text, markdown, json, yaml")
	cmd.Flags().BoolVar(&opts.Lookup, "lookup", false, "Include lookup entries")
	return cmd
}

// SchemaDoc describes a derived schema.
type SchemaDoc struct {
	Tables      []TableDoc  `json:"tables" yaml:"tables"`
	FilterLogic string      `json:"filter_logic,omitempty" yaml:"filter_logic,omitempty"`
	Lookup      []LookupDoc `json:"lookup,omitempty" yaml:"lookup,omitempty"`
}

// LookupDoc is one lookup entry.
type LookupDoc struct {
	Table string `json:"table" yaml:"table"`
	Field string `json:"field" yaml:"field"`
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// TableDoc describes one table.
type TableDoc struct {
	Name       string      `json:"name" yaml:"name"`
	Parent     string      `json:"parent,omitempty" yaml:"parent,omitempty"`
	RowsType   string      `json:"rows_type" yaml:"rows_type"`
	Suffixes   []string    `json:"suffixes,omitempty" yaml:"suffixes,omitempty"`
	PrimaryKey string      `json:"primary_key" yaml:"primary_key"`
	ForeignKey string      `json:"foreign_key,omitempty" yaml:"foreign_key,omitempty"`
	LabelView  bool        `json:"label_view,omitempty" yaml:"label_view,omitempty"`
	Columns    []ColumnDoc `json:"columns" yaml:"columns"`
}

// ColumnDoc describes one column.
type ColumnDoc struct {
	Name   string `json:"name" yaml:"name"`
	Type   string `json:"type" yaml:"type"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Lookup string `json:"lookup,omitempty" yaml:"lookup,omitempty"`
}

func runSchema(cmd *cobra.Command, opts *SchemaOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	if err := cmdCtx.Cfg.ValidateSource(); err != nil {
		return err
	}
	src, name, err := cmdCtx.OpenSource()
	if err != nil {
		return err
	}
	plan, err := etl.BuildPlan(cmd.Context(), src, cmdCtx.PipelineConfig(name), cmdCtx.Logger)
	if err != nil {
		return err
	}

	doc := describeSchema(plan.Schema, plan.FilterLogic, opts.Lookup)
	if opts.Format == "yaml" {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode schema: %w", err)
		}
		return enc.Close()
	}

	r := cmdCtx.WithFormat(cmd, opts.Format)
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(doc)
	}
	renderSchema(r, doc)
	return nil
}

func describeSchema(s *schema.Schema, filter string, withLookup bool) *SchemaDoc {
	doc := &SchemaDoc{FilterLogic: filter}
	tables := s.LoadOrder()
	if s.LookupTable != nil {
		tables = append(tables, s.LookupTable)
	}
	for _, t := range tables {
		td := TableDoc{
			Name:       t.Name,
			RowsType:   t.RowsType.String(),
			Suffixes:   t.Suffixes,
			PrimaryKey: t.PrimaryKey.DBName,
			LabelView:  t.NeedsLabelView,
		}
		if t.Parent != nil {
			td.Parent = t.Parent.Name
		}
		if t.ForeignKey != nil {
			td.ForeignKey = t.ForeignKey.DBName
		}
		for _, f := range t.Fields {
			cd := ColumnDoc{Name: f.DBName, Type: f.Spec().String(), Lookup: f.UsesLookup}
			if f.Role == schema.RoleData && f.Name != f.DBName {
				cd.Source = f.Name
			}
			td.Columns = append(td.Columns, cd)
		}
		doc.Tables = append(doc.Tables, td)
	}
	if withLookup {
		for _, e := range s.Lookup.Entries() {
			doc.Lookup = append(doc.Lookup, LookupDoc{Table: e.Table, Field: e.Field, Value: e.Code, Label: e.Label})
		}
	}
	return doc
}

func renderSchema(r *output.Renderer, doc *SchemaDoc) {
	for _, t := range doc.Tables {
		r.Header(t.Name)
		if t.Parent != "" {
			r.KeyValue("parent", t.Parent)
		}
		r.KeyValue("rows", t.RowsType)
		if len(t.Suffixes) > 0 {
			r.KeyValue("suffixes", strings.Join(t.Suffixes, " "))
		}
		if t.LabelView {
			r.KeyValue("label view", "yes")
		}
		r.Println()

		rows := make([][]any, 0, len(t.Columns))
		for _, c := range t.Columns {
			rows = append(rows, []any{c.Name, c.Type, c.Source, c.Lookup})
		}
		r.Table([]string{"column", "type", "source", "lookup"}, rows)
		r.Println()
	}
	if doc.FilterLogic != "" {
		r.KeyValue("filter", doc.FilterLogic)
	}

	if len(doc.Lookup) > 0 {
		r.Header("Lookup")
		rows := make([][]any, 0, len(doc.Lookup))
		for _, e := range doc.Lookup {
			rows = append(rows, []any{e.Table, e.Field, e.Value, e.Label})
		}
		r.Table([]string{"table", "field", "value", "label"}, rows)
	}
}
