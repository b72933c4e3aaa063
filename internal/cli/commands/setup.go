package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/redcapetl/internal/cli/output"
	"github.com/leapstack-labs/redcapetl/internal/config"
	"github.com/leapstack-labs/redcapetl/internal/etl"
	"github.com/leapstack-labs/redcapetl/internal/state"
	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext collects the config, logger and renderer the root
// command stored in the context. Outside the root command the config is
// loaded from the working directory and the command's flags.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		var err error
		cfg, err = config.LoadConfig("", cmd.Flags())
		if err != nil {
			return nil, err
		}
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output)),
	}, nil
}

// WithFormat returns the renderer, switched to format when it is set.
func (c *CommandContext) WithFormat(cmd *cobra.Command, format string) *output.Renderer {
	if format == "" {
		return c.Renderer
	}
	return output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(format))
}

// OpenSource opens the configured REDCap source and returns it with a name
// for run history.
func (c *CommandContext) OpenSource() (redcap.Source, string, error) {
	rc := c.Cfg.Redcap
	if c.Cfg.UsesDataDir() {
		src, err := redcap.ReadDir(rc.DataDir)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read export directory: %w", err)
		}
		return src, "dir:" + rc.DataDir, nil
	}
	client, err := redcap.NewClient(redcap.ClientConfig{
		URL:                rc.APIURL,
		Token:              rc.APIToken,
		Timeout:            rc.Timeout,
		InsecureSkipVerify: rc.InsecureSkipVerify,
		Logger:             c.Logger,
	})
	if err != nil {
		return nil, "", err
	}
	return client, rc.APIURL, nil
}

// OpenTarget connects to the configured load target.
func (c *CommandContext) OpenTarget(ctx context.Context) (adapter.Connection, error) {
	return adapter.Open(ctx, c.Cfg.AdapterConfig(), c.Logger)
}

// OpenStore opens the run history database.
func (c *CommandContext) OpenStore() (*state.SQLiteStore, error) {
	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(c.Cfg.StatePath); err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return store, nil
}

// PipelineConfig maps the loaded config onto the pipeline settings.
func (c *CommandContext) PipelineConfig(sourceName string) etl.Config {
	t := c.Cfg.Transform
	return etl.Config{
		Rules: etl.RulesConfig{
			Source: t.RulesSource,
			Text:   t.RulesText,
			File:   t.RulesFile,
			Auto:   t.Auto,
		},
		Schema:        c.Cfg.GeneratorConfig(),
		RecordIDField: c.Cfg.Redcap.RecordIDField,
		FilterLogic:   t.ExtractFilterLogic,
		BatchSize:     c.Cfg.BatchSize,
		TimeLimit:     c.Cfg.TimeLimit,
		DropTables:    c.Cfg.DropTables,
		SourceName:    sourceName,
		ConfigFile:    c.Cfg.ConfigFile,
	}
}
