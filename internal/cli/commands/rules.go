package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/redcapetl/internal/cli/output"
	"github.com/leapstack-labs/redcapetl/internal/config"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
	"github.com/leapstack-labs/redcapetl/pkg/rules"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
	"github.com/spf13/cobra"
)

// errRulesInvalid is returned by rules check when any rule has an error.
var errRulesInvalid = errors.New("rules have errors")

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 100 * time.Millisecond

// NewRulesCommand creates the rules command group.
func NewRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Generate and check transformation rules",
		Long: `Work with transformation rules, the TABLE, FIELD and FILTER lines that
map a REDCap project onto target tables.`,
	}
	cmd.AddCommand(newRulesGenerateCommand())
	cmd.AddCommand(newRulesCheckCommand())
	return cmd
}

// RulesGenerateOptions holds options for rules generate.
type RulesGenerateOptions struct {
	Out   string
	Force bool
}

func newRulesGenerateCommand() *cobra.Command {
	opts := &RulesGenerateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate default rules from project metadata",
		Long: `Generate one table per instrument from the project metadata: a root table
for the instrument holding the record id and child tables for repeating
instruments and events. The result is a starting point for hand edits.`,
		Example: `  # Print default rules
  redcapetl rules generate

  # Write them to a file
  redcapetl rules generate --out rules.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRulesGenerate(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Out, "out", "", "Write rules to a file instead of stdout")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite an existing output file")
	return cmd
}

func runRulesGenerate(cmd *cobra.Command, opts *RulesGenerateOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	if err := cmdCtx.Cfg.ValidateSource(); err != nil {
		return err
	}
	project, err := loadProject(cmd.Context(), cmdCtx)
	if err != nil {
		return err
	}

	text := rules.GenerateDefaultRules(project, cmdCtx.Cfg.Transform.Auto)
	if opts.Out == "" {
		cmdCtx.Renderer.Printf("%s", text)
		return nil
	}
	if _, err := os.Stat(opts.Out); err == nil && !opts.Force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", opts.Out)
	}
	if err := os.WriteFile(opts.Out, []byte(text), 0o600); err != nil {
		return fmt.Errorf("failed to write rules: %w", err)
	}
	cmdCtx.Renderer.StatusLine(opts.Out, "success", fmt.Sprintf("%d lines", strings.Count(text, "\n")))
	return nil
}

func loadProject(ctx context.Context, cmdCtx *CommandContext) (*redcap.ProjectData, error) {
	src, _, err := cmdCtx.OpenSource()
	if err != nil {
		return nil, err
	}
	project, err := redcap.LoadProjectData(ctx, src)
	if err != nil {
		return nil, err
	}
	project.RecordIDOverride = cmdCtx.Cfg.Redcap.RecordIDField
	return project, nil
}

// RulesCheckOptions holds options for rules check.
type RulesCheckOptions struct {
	Metadata bool
	Watch    bool
	Format   string
}

func newRulesCheckCommand() *cobra.Command {
	opts := &RulesCheckOptions{}
	cmd := &cobra.Command{
		Use:   "check [rules-file]",
		Short: "Check transformation rules for errors",
		Long: `Parse and check transformation rules, reporting every error with its line.

Without an argument the configured rules are checked. With --metadata the
rules are also resolved against the project, which catches unknown fields
and undefined parent tables. With --watch the file is checked again each
time it is saved.`,
		Example: `  # Check the configured rules
  redcapetl rules check

  # Check a file against the project metadata
  redcapetl rules check rules.txt --metadata

  # Re-check on every save
  redcapetl rules check rules.txt --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) > 0 {
				file = args[0]
			}
			return runRulesCheck(cmd, file, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Metadata, "metadata", false, "Also resolve rules against the project metadata")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Re-check whenever the rules file changes")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: text, markdown, json")
	return cmd
}

func runRulesCheck(cmd *cobra.Command, file string, opts *RulesCheckOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	r := cmdCtx.WithFormat(cmd, opts.Format)
	cfg := cmdCtx.Cfg

	if file == "" && cfg.Transform.RulesSource == config.RulesSourceFile {
		file = cfg.Transform.RulesFile
	}
	if opts.Watch && file == "" {
		return fmt.Errorf("--watch needs a rules file")
	}

	var project *redcap.ProjectData
	if opts.Metadata {
		if err := cfg.ValidateSource(); err != nil {
			return err
		}
		if project, err = loadProject(cmd.Context(), cmdCtx); err != nil {
			return err
		}
	}

	check := func() error {
		text, err := checkedRulesText(cfg, file, project)
		if err != nil {
			return err
		}
		report := checkRules(text, project, cfg.GeneratorConfig())
		report.File = file
		if err := renderCheckReport(r, report); err != nil {
			return err
		}
		if !report.Valid {
			return errRulesInvalid
		}
		return nil
	}

	if !opts.Watch {
		return check()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	return watchRules(ctx, r, file, check)
}

// checkedRulesText returns the rules to check: the named file, or the
// configured rules. Generated rules need the project.
func checkedRulesText(cfg *config.Config, file string, project *redcap.ProjectData) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read rules: %w", err)
		}
		return string(data), nil
	}
	switch cfg.Transform.RulesSource {
	case config.RulesSourceText:
		return cfg.Transform.RulesText, nil
	case config.RulesSourceAuto:
		if project == nil {
			return "", fmt.Errorf("rules are generated from metadata; pass --metadata or a rules file")
		}
		return rules.GenerateDefaultRules(project, cfg.Transform.Auto), nil
	}
	return "", fmt.Errorf("no rules to check: set transform.rules_text or transform.rules_file")
}

// CheckDiagnostic is one rule error.
type CheckDiagnostic struct {
	Line    int    `json:"line"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// CheckReport is the outcome of checking a rule text.
type CheckReport struct {
	File        string            `json:"file,omitempty"`
	Lines       int               `json:"lines"`
	Tables      int               `json:"tables"`
	Fields      int               `json:"fields"`
	Diagnostics []CheckDiagnostic `json:"diagnostics"`
	// SchemaError is set when the rules parse but cannot be resolved
	// against the project.
	SchemaError string `json:"schema_error,omitempty"`
	Valid       bool   `json:"valid"`
}

// checkRules parses and checks text. With a project the rules are also
// resolved into a schema.
func checkRules(text string, project *redcap.ProjectData, gen schema.GeneratorConfig) *CheckReport {
	parsed := rules.Check(rules.Parse(text))
	report := &CheckReport{
		Lines:       parsed.ParsedLineCount(),
		Tables:      len(parsed.TableRules()),
		Fields:      len(parsed.FieldRules()),
		Diagnostics: []CheckDiagnostic{},
	}
	for _, rule := range parsed.All {
		for _, msg := range rule.Errors() {
			report.Diagnostics = append(report.Diagnostics, CheckDiagnostic{
				Line:    rule.LineNumber(),
				Source:  rule.SourceLine(),
				Message: msg,
			})
		}
	}

	if project != nil && !parsed.HasErrors() {
		gen.IgnoreRuleErrors = false
		if _, err := schema.NewGenerator(gen, nil).Generate(project, parsed); err != nil {
			report.SchemaError = err.Error()
		}
	}
	report.Valid = len(report.Diagnostics) == 0 && report.SchemaError == ""
	return report
}

func renderCheckReport(r *output.Renderer, report *CheckReport) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(report)
	case output.ModeMarkdown:
		renderCheckMarkdown(r, report)
	default:
		renderCheckText(r, report)
	}
	return nil
}

func renderCheckText(r *output.Renderer, report *CheckReport) {
	styles := r.Styles()
	name := report.File
	if name == "" {
		name = "rules"
	}
	for _, d := range report.Diagnostics {
		r.Printf("%s:%d: %s %s\n", name, d.Line, styles.Error.Render("error:"), d.Message)
		r.Printf("    %s\n", styles.Muted.Render(d.Source))
	}
	if report.SchemaError != "" {
		r.Printf("%s: %s %s\n", name, styles.Error.Render("error:"), report.SchemaError)
	}

	summary := fmt.Sprintf("%d lines, %d tables, %d fields", report.Lines, report.Tables, report.Fields)
	if report.Valid {
		r.StatusLine(name, "success", summary)
		return
	}
	errs := len(report.Diagnostics)
	if report.SchemaError != "" {
		errs++
	}
	r.StatusLine(name, "failed", fmt.Sprintf("%s, %d errors", summary, errs))
}

func renderCheckMarkdown(r *output.Renderer, report *CheckReport) {
	r.Header("Rules check")
	r.KeyValue("lines", report.Lines)
	r.KeyValue("tables", report.Tables)
	r.KeyValue("fields", report.Fields)
	r.KeyValue("valid", report.Valid)
	r.Println()

	if len(report.Diagnostics) > 0 {
		rows := make([][]any, 0, len(report.Diagnostics))
		for _, d := range report.Diagnostics {
			rows = append(rows, []any{d.Line, d.Message, "`" + d.Source + "`"})
		}
		r.Table([]string{"line", "error", "rule"}, rows)
	}
	if report.SchemaError != "" {
		r.Printf("Schema error: %s\n", report.SchemaError)
	}
}

// watchRules runs check once and again after each save of file, until ctx
// is done. Check failures are reported, not returned.
func watchRules(ctx context.Context, r *output.Renderer, file string, check func() error) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", file, err)
	}

	runCheck := func() {
		if err := check(); err != nil && !errors.Is(err, errRulesInvalid) {
			r.Warning(err.Error())
		}
	}
	runCheck()
	r.Muted(fmt.Sprintf("Watching %s for changes (Ctrl+C to stop)", file))

	changed := make(chan struct{}, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Clean(event.Name) != abs {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
		case <-changed:
			r.Println()
			runCheck()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.Warning(fmt.Sprintf("watch error: %v", err))
		}
	}
}
