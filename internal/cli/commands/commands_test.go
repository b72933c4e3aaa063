package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/redcapetl/internal/cli/output"
	"github.com/leapstack-labs/redcapetl/internal/cli/testutil"
	"github.com/leapstack-labs/redcapetl/internal/config"
	"github.com/leapstack-labs/redcapetl/internal/etl"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
)

func TestNewRunCommand(t *testing.T) {
	cmd := NewRunCommand()

	assert.Equal(t, "run", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")
	assert.NotNil(t, cmd.Flags().Lookup("no-history"))
	assert.Equal(t, []string{"load"}, cmd.Aliases)
}

func TestNewRulesCommand(t *testing.T) {
	cmd := NewRulesCommand()

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"generate", "check"}, names)

	check, _, err := cmd.Find([]string{"check"})
	require.NoError(t, err)
	for _, flag := range []string{"metadata", "watch", "format"} {
		assert.NotNil(t, check.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestCheckRules(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantValid bool
		wantDiags int
		tables    int
		fields    int
	}{
		{
			name:      "valid",
			text:      "# demographics\nTABLE,demographics,demographics_id,ROOT\nFIELD,sex,int\nFIELD,dob,date\n",
			wantValid: true,
			tables:    1,
			fields:    2,
		},
		{
			name:      "bad type and orphan field",
			text:      "FIELD,sex,int\nTABLE,demographics,demographics_id,ROOT\nFIELD,dob,when\n",
			wantDiags: 3,
			tables:    1,
			fields:    2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := checkRules(tt.text, nil, (&config.Config{}).GeneratorConfig())
			assert.Equal(t, tt.wantValid, report.Valid)
			assert.Len(t, report.Diagnostics, tt.wantDiags)
			assert.Equal(t, tt.tables, report.Tables)
			assert.Equal(t, tt.fields, report.Fields)
		})
	}
}

func TestCheckRules_Metadata(t *testing.T) {
	src, err := redcap.ReadDir(testutil.ClassicExportDir(t))
	require.NoError(t, err)
	project, err := redcap.LoadProjectData(context.Background(), src)
	require.NoError(t, err)

	report := checkRules("TABLE,demographics,demographics_id,ROOT\nFIELD,sex,int\n", project, (&config.Config{}).GeneratorConfig())
	assert.True(t, report.Valid)

	report = checkRules("TABLE,demographics,demographics_id,ROOT\nFIELD,height,float\n", project, (&config.Config{}).GeneratorConfig())
	assert.False(t, report.Valid)
	assert.Empty(t, report.Diagnostics)
	assert.Contains(t, report.SchemaError, `field "height" not found`)
}

func TestRenderCheckReport(t *testing.T) {
	report := checkRules("TABLE,demographics,demographics_id,ROOT\nFIELD,dob,when\n", nil, (&config.Config{}).GeneratorConfig())
	report.File = "rules.txt"

	t.Run("text", func(t *testing.T) {
		tr := testutil.NewTestRenderer(output.ModeText, false)
		require.NoError(t, renderCheckReport(tr.Renderer, report))
		assert.Contains(t, tr.Output(), "rules.txt:2: error:")
		assert.Contains(t, tr.Output(), "FIELD,dob,when")
		assert.Contains(t, tr.Output(), "1 errors")
		testutil.AssertNoANSI(t, tr.Output())
	})

	t.Run("markdown", func(t *testing.T) {
		tr := testutil.NewTestRendererMarkdown()
		require.NoError(t, renderCheckReport(tr.Renderer, report))
		assert.Contains(t, tr.Output(), "## Rules check")
		assert.Contains(t, tr.Output(), "- **valid**: false")
		testutil.AssertValidMarkdown(t, tr.Output())
		testutil.AssertNoANSI(t, tr.Output())
	})

	t.Run("json", func(t *testing.T) {
		tr := testutil.NewTestRendererJSON()
		require.NoError(t, renderCheckReport(tr.Renderer, report))
		assert.Contains(t, tr.Output(), `"valid": false`)
		assert.Contains(t, tr.Output(), `"line": 2`)
	})
}

func TestCheckedRulesText(t *testing.T) {
	cfg := &config.Config{}
	cfg.Transform.RulesSource = config.RulesSourceText
	cfg.Transform.RulesText = "TABLE,a,a_id,ROOT"

	text, err := checkedRulesText(cfg, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "TABLE,a,a_id,ROOT", text)

	path := testutil.WriteRules(t, "TABLE,b,b_id,ROOT\n")
	text, err = checkedRulesText(cfg, path, nil)
	require.NoError(t, err)
	assert.Equal(t, "TABLE,b,b_id,ROOT\n", text)

	cfg.Transform.RulesSource = config.RulesSourceAuto
	_, err = checkedRulesText(cfg, "", nil)
	require.Error(t, err)
}

func TestWatchRules_StopsWithContext(t *testing.T) {
	path := testutil.WriteRules(t, "TABLE,a,a_id,ROOT\n")
	tr := testutil.NewTestRendererText()

	ctx, cancel := context.WithCancel(context.Background())
	checks := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- watchRules(ctx, tr.Renderer, path, func() error {
			checks <- struct{}{}
			return errRulesInvalid
		})
	}()

	select {
	case <-checks:
	case <-time.After(5 * time.Second):
		t.Fatal("initial check did not run")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Empty(t, tr.ErrorOutput(), "invalid rules are reported by the check, not as warnings")
}

func TestRenderResult(t *testing.T) {
	res := &etl.Result{
		RunID:    "0b6c8f0e-1111-2222-3333-444455556666",
		Records:  2,
		Rows:     map[string]int64{"visits": 1, "demographics": 2},
		Skipped:  map[string]int64{"visits": 1},
		Duration: 1500 * time.Millisecond,
	}

	tr := testutil.NewTestRendererMarkdown()
	require.NoError(t, renderResult(tr.Renderer, res, nil))
	out := tr.Output()
	assert.Contains(t, out, "## Run summary")
	assert.Contains(t, out, "| demographics | 2 | 0 |")
	assert.Contains(t, out, "| visits | 1 | 1 |")
	assert.Contains(t, out, "Loaded 3 rows from 2 records")

	tr = testutil.NewTestRendererJSON()
	require.NoError(t, renderResult(tr.Renderer, res, context.Canceled))
	assert.Contains(t, tr.Output(), `"status": "cancelled"`)

	tr = testutil.NewTestRendererJSON()
	require.NoError(t, renderResult(tr.Renderer, res, errors.New("boom")))
	assert.Contains(t, tr.Output(), `"status": "failed"`)
	assert.Contains(t, tr.Output(), `"error": "boom"`)
}

func TestResultRows_Sorted(t *testing.T) {
	rows := resultRows(&etl.Result{
		Rows:    map[string]int64{"b": 1, "a": 2},
		Skipped: map[string]int64{"c": 3},
	})
	require.Len(t, rows, 3)
	assert.Equal(t, []any{"a", int64(2), int64(0)}, rows[0])
	assert.Equal(t, []any{"c", int64(0), int64(3)}, rows[2])
}

func TestRenderStarter(t *testing.T) {
	data, err := renderStarter(starter(&InitOptions{Target: "csv"}))
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, "# Rules: auto generates them from metadata")
	assert.Contains(t, s, "api_token: ${REDCAP_API_TOKEN}")
	assert.Contains(t, s, "type: csv")
	assert.Contains(t, s, "path: out")
	assert.NotContains(t, s, "data_dir:")
}
