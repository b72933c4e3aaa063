package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/leapstack-labs/redcapetl/internal/cli/output"
	"github.com/leapstack-labs/redcapetl/internal/etl"
	"github.com/leapstack-labs/redcapetl/internal/state"
	"github.com/spf13/cobra"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	NoHistory bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract, transform and load a REDCap project",
		Long: `Extract every record of a REDCap project, map it to tables with the
transformation rules and load the rows into the target.

Existing tables are dropped and recreated unless drop_tables is false, in
which case the run refuses to load into a table that already exists.
Each run is recorded in the state database.`,
		Example: `  # Load a project into the configured target
  redcapetl run

  # Load an offline export into SQLite with a rules file
  redcapetl run --data-dir ./export --rules rules.txt --target sqlite --target-path out.db

  # Stop after five minutes
  redcapetl run --time-limit 5m

  # Machine-readable summary
  redcapetl run -o json`,
		Aliases: []string{"load"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "Do not record the run in the state database")

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	if err := cmdCtx.Cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	src, sourceName, err := cmdCtx.OpenSource()
	if err != nil {
		return err
	}

	target, err := cmdCtx.OpenTarget(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = target.Close() }()

	var store state.Store
	if !opts.NoHistory {
		s, err := cmdCtx.OpenStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		store = s
	}

	p := etl.New(cmdCtx.PipelineConfig(sourceName), src, target, store, cmdCtx.Logger)
	result, runErr := p.Run(ctx)
	if result != nil {
		if err := renderResult(cmdCtx.Renderer, result, runErr); err != nil {
			cmdCtx.Logger.Warn("failed to render result", slog.String("error", err.Error()))
		}
	}
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

// RunOutput is the JSON form of a run result.
type RunOutput struct {
	RunID    string           `json:"run_id,omitempty"`
	Status   string           `json:"status"`
	Records  int64            `json:"records"`
	Rows     map[string]int64 `json:"rows"`
	Skipped  map[string]int64 `json:"skipped"`
	Duration string           `json:"duration"`
	Error    string           `json:"error,omitempty"`
}

func renderResult(r *output.Renderer, res *etl.Result, runErr error) error {
	status, errMsg := state.RunStatusCompleted, ""
	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		status, errMsg = state.RunStatusCancelled, runErr.Error()
	case runErr != nil:
		status, errMsg = state.RunStatusFailed, runErr.Error()
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(RunOutput{
			RunID:    res.RunID,
			Status:   string(status),
			Records:  res.Records,
			Rows:     res.Rows,
			Skipped:  res.Skipped,
			Duration: res.Duration.Round(time.Millisecond).String(),
			Error:    errMsg,
		})
	}

	r.Header("Run summary")
	if res.RunID != "" {
		r.KeyValue("run", res.RunID)
	}
	r.KeyValue("status", status)
	r.KeyValue("records", res.Records)
	r.KeyValue("duration", res.Duration.Round(time.Millisecond))
	r.Println()

	if rows := resultRows(res); len(rows) > 0 {
		r.Table([]string{"table", "rows", "skipped"}, rows)
	}
	if runErr == nil {
		r.Success(fmt.Sprintf("Loaded %d rows from %d records", res.TotalRows(), res.Records))
	}
	return nil
}

// resultRows lists every table that loaded or skipped rows, by name.
func resultRows(res *etl.Result) [][]any {
	names := make(map[string]struct{}, len(res.Rows))
	for name := range res.Rows {
		names[name] = struct{}{}
	}
	for name := range res.Skipped {
		names[name] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	rows := make([][]any, 0, len(sorted))
	for _, name := range sorted {
		rows = append(rows, []any{name, res.Rows[name], res.Skipped[name]})
	}
	return rows
}
