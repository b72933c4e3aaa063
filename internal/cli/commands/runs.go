package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/leapstack-labs/redcapetl/internal/cli/output"
	"github.com/leapstack-labs/redcapetl/internal/state"
	"github.com/spf13/cobra"
)

// RunsOptions holds options for the runs command.
type RunsOptions struct {
	Limit int
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	opts := &RunsOptions{}
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show run history",
		Long: `List recent runs from the state database, newest first. With a run id,
show that run with its per-table row counts. "latest" names the most
recent run.`,
		Example: `  # List the last 20 runs
  redcapetl runs

  # Show the most recent run
  redcapetl runs latest`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return showRun(cmd, args[0])
			}
			return listRuns(cmd, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Maximum number of runs to list")
	return cmd
}

// RunRecord is the JSON form of a recorded run.
type RunRecord struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	Source      string           `json:"source"`
	Target      string           `json:"target"`
	ConfigFile  string           `json:"config_file,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Records     int64            `json:"records"`
	Skipped     int64            `json:"skipped"`
	Tables      map[string]int64 `json:"tables,omitempty"`
	Error       string           `json:"error,omitempty"`
}

func toRunRecord(run *state.Run) RunRecord {
	return RunRecord{
		ID:          run.ID,
		Status:      string(run.Status),
		Source:      run.Source,
		Target:      run.Target,
		ConfigFile:  run.ConfigFile,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Records:     run.Stats.Records,
		Skipped:     run.Stats.Skipped,
		Tables:      run.Stats.Tables,
		Error:       run.Error,
	}
}

func listRuns(cmd *cobra.Command, opts *RunsOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(cmd.Context(), opts.Limit)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		records := make([]RunRecord, 0, len(runs))
		for _, run := range runs {
			records = append(records, toRunRecord(run))
		}
		return r.JSON(records)
	}

	if len(runs) == 0 {
		r.Muted("No runs recorded yet. Use 'redcapetl run' to load a project.")
		return nil
	}
	rows := make([][]any, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []any{
			run.ID[:8],
			r.Styles().StatusIcon(string(run.Status)) + " " + string(run.Status),
			run.StartedAt.Local().Format(time.DateTime),
			run.Duration().Round(time.Millisecond),
			run.Stats.Records,
			run.Stats.Rows(),
			run.Target,
		})
	}
	r.Table([]string{"run", "status", "started", "duration", "records", "rows", "target"}, rows)
	return nil
}

func showRun(cmd *cobra.Command, id string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var run *state.Run
	if id == "latest" {
		run, err = store.GetLatestRun(cmd.Context())
		if err == nil && run == nil {
			err = fmt.Errorf("no runs recorded")
		}
	} else {
		run, err = findRun(cmd, store, id)
	}
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(toRunRecord(run))
	}

	r.Header("Run " + run.ID)
	r.KeyValue("status", run.Status)
	r.KeyValue("source", run.Source)
	r.KeyValue("target", run.Target)
	if run.ConfigFile != "" {
		r.KeyValue("config", run.ConfigFile)
	}
	r.KeyValue("started", run.StartedAt.Local().Format(time.DateTime))
	r.KeyValue("duration", run.Duration().Round(time.Millisecond))
	r.KeyValue("records", run.Stats.Records)
	r.KeyValue("skipped", run.Stats.Skipped)
	if run.Error != "" {
		r.KeyValue("error", r.Styles().Error.Render(run.Error))
	}
	r.Println()

	if len(run.Stats.Tables) > 0 {
		names := make([]string, 0, len(run.Stats.Tables))
		for name := range run.Stats.Tables {
			names = append(names, name)
		}
		sort.Strings(names)
		rows := make([][]any, 0, len(names))
		for _, name := range names {
			rows = append(rows, []any{name, run.Stats.Tables[name]})
		}
		r.Table([]string{"table", "rows"}, rows)
	}
	return nil
}

// findRun resolves a full run id or a unique prefix of one, as printed by
// the run list.
func findRun(cmd *cobra.Command, store *state.SQLiteStore, id string) (*state.Run, error) {
	if run, err := store.GetRun(cmd.Context(), id); err == nil {
		return run, nil
	}
	runs, err := store.ListRuns(cmd.Context(), 0)
	if err != nil {
		return nil, err
	}
	var match *state.Run
	for _, run := range runs {
		if len(id) >= 4 && len(run.ID) >= len(id) && run.ID[:len(id)] == id {
			if match != nil {
				return nil, fmt.Errorf("run id %q is ambiguous", id)
			}
			match = run
		}
	}
	if match == nil {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return store.GetRun(cmd.Context(), match.ID)
}
