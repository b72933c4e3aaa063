package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/redcapetl/internal/cli/testutil"
	"github.com/leapstack-labs/redcapetl/internal/config"
)

// execute runs the root command with args, capturing stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// classicWorkspace changes into an empty directory and returns the
// absolute path of the classic export fixture.
func classicWorkspace(t *testing.T) (dataDir, work string) {
	t.Helper()
	dataDir = testutil.ClassicExportDir(t)
	work = t.TempDir()
	t.Chdir(work)
	return dataDir, work
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"run", "rules", "schema", "runs", "init", "version", "completion"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}

	for _, flag := range []string{"config", "data-dir", "rules", "target", "target-path", "state", "output", "time-limit"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestRun_ClassicExport(t *testing.T) {
	dataDir, work := classicWorkspace(t)
	common := []string{
		"--data-dir", dataDir,
		"--target", "sqlite",
		"--target-path", filepath.Join(work, "out.db"),
		"--state", filepath.Join(work, "state.db"),
		"-o", "json",
	}

	out, _, err := execute(t, append([]string{"run"}, common...)...)
	require.NoError(t, err)

	var res struct {
		RunID   string           `json:"run_id"`
		Status  string           `json:"status"`
		Records int64            `json:"records"`
		Rows    map[string]int64 `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, int64(2), res.Records)
	assert.Equal(t, map[string]int64{"demographics": 2, "visits": 1}, res.Rows)
	assert.NotEmpty(t, res.RunID)

	// The same target can be loaded again because tables are dropped.
	_, _, err = execute(t, append([]string{"run"}, common...)...)
	require.NoError(t, err)

	out, _, err = execute(t, append([]string{"runs"}, common...)...)
	require.NoError(t, err)
	var runs []struct {
		ID     string           `json:"id"`
		Status string           `json:"status"`
		Tables map[string]int64 `json:"tables"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, int64(1), runs[1].Tables["visits"])
	assert.Equal(t, res.RunID, runs[1].ID)

	out, _, err = execute(t, append([]string{"runs", res.RunID[:8]}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, res.RunID)
}

func TestRun_KeepTablesRefusesExisting(t *testing.T) {
	dataDir, work := classicWorkspace(t)
	args := []string{
		"run",
		"--data-dir", dataDir,
		"--target-path", filepath.Join(work, "out.db"),
		"--state", filepath.Join(work, "state.db"),
		"--drop-tables=false",
	}

	_, _, err := execute(t, args...)
	require.NoError(t, err)

	_, _, err = execute(t, args...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table already exists")
}

func TestRun_InvalidConfig(t *testing.T) {
	_, work := classicWorkspace(t)
	_, _, err := execute(t, "run", "--target", "oracle", "--state", filepath.Join(work, "state.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redcap.api_url is required")
	assert.Contains(t, err.Error(), "unknown target type")
}

func TestRulesGenerate(t *testing.T) {
	dataDir, work := classicWorkspace(t)

	out, _, err := execute(t, "rules", "generate", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "TABLE,demographics,demographics_id,ROOT")
	assert.Contains(t, out, "TABLE,visits,demographics,REPEATING_INSTRUMENTS")

	path := filepath.Join(work, "rules.txt")
	_, _, err = execute(t, "rules", "generate", "--data-dir", dataDir, "--out", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, out, string(data))

	_, _, err = execute(t, "rules", "generate", "--data-dir", dataDir, "--out", path)
	require.Error(t, err, "existing file needs --force")
}

func TestRulesCheck(t *testing.T) {
	dataDir, work := classicWorkspace(t)

	good := filepath.Join(work, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte("TABLE,demographics,demographics_id,ROOT\nFIELD,sex,int\n"), 0o600))
	out, _, err := execute(t, "rules", "check", good, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"valid": true`)

	bad := filepath.Join(work, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("TABLE,demographics,demographics_id,ROOT\nFIELD,sex,integer\n"), 0o600))
	out, _, err = execute(t, "rules", "check", bad, "-o", "json")
	require.Error(t, err)
	var report struct {
		Valid       bool `json:"valid"`
		Diagnostics []struct {
			Line int `json:"line"`
		} `json:"diagnostics"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Valid)
	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, 2, report.Diagnostics[0].Line)

	// Valid syntax, but the field does not exist in the project.
	unknown := filepath.Join(work, "unknown.txt")
	require.NoError(t, os.WriteFile(unknown, []byte("TABLE,demographics,demographics_id,ROOT\nFIELD,height,float\n"), 0o600))
	_, _, err = execute(t, "rules", "check", unknown)
	require.NoError(t, err)
	out, _, err = execute(t, "rules", "check", unknown, "--metadata", "--data-dir", dataDir, "-o", "text")
	require.Error(t, err)
	assert.Contains(t, out, "height")
}

func TestSchema(t *testing.T) {
	dataDir, _ := classicWorkspace(t)

	out, _, err := execute(t, "schema", "--data-dir", dataDir, "--format", "yaml", "--lookup")
	require.NoError(t, err)
	assert.Contains(t, out, "name: demographics")
	assert.Contains(t, out, "parent: demographics")
	assert.Contains(t, out, "label: Female")

	out, _, err = execute(t, "schema", "--data-dir", dataDir, "-o", "markdown")
	require.NoError(t, err)
	assert.Contains(t, out, "## visits")
	assert.Contains(t, out, "| weight |")
}

func TestInit(t *testing.T) {
	_, work := classicWorkspace(t)

	out, _, err := execute(t, "init", "proj", "--export-dir", "./export", "--target-type", "postgres")
	require.NoError(t, err)
	assert.Contains(t, out, "initialized")

	path := filepath.Join(work, "proj", config.ConfigFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Load target")

	t.Setenv("PGPASSWORD", "secret")
	cfg, err := config.LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Target.Type)
	assert.Equal(t, 5432, cfg.Target.Port)
	assert.Equal(t, "secret", cfg.Target.Password)
	assert.Equal(t, filepath.Join(work, "proj", "export"), cfg.Redcap.DataDir)
	assert.True(t, cfg.DropTables)
	require.NoError(t, cfg.Validate())

	_, _, err = execute(t, "init", "proj")
	require.Error(t, err)
	_, _, err = execute(t, "init", "proj", "--force")
	require.NoError(t, err)
}

func TestCompletion(t *testing.T) {
	out, _, err := execute(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "redcapetl")

	_, _, err = execute(t, "completion", "tcsh")
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	logger.Debug("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))

	_, err = newLogger(&buf, config.LogConfig{Level: "info", Format: "xml"})
	require.Error(t, err)
	_, err = newLogger(&buf, config.LogConfig{Level: "loud", Format: "text"})
	require.Error(t, err)
}
