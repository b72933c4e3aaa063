// Package config loads and validates redcapetl configuration.
//
// Values are layered with koanf, lowest to highest precedence: built-in
// defaults, the YAML config file, REDCAPETL_ environment variables, and
// explicitly set command-line flags.
package config

import (
	"time"

	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/rules"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
)

// Config holds all redcapetl configuration.
type Config struct {
	Redcap    RedcapConfig    `koanf:"redcap"`
	Transform TransformConfig `koanf:"transform"`
	Target    TargetConfig    `koanf:"target"`

	// BatchSize is the number of records extracted, transformed and loaded
	// together. It is also the target's insert batch size.
	BatchSize int `koanf:"batch_size"`
	// TimeLimit bounds a run; zero means no limit.
	TimeLimit time.Duration `koanf:"time_limit"`
	// DropTables drops existing tables and label views before loading.
	DropTables bool `koanf:"drop_tables"`
	// StatePath is the SQLite file holding run history.
	StatePath string `koanf:"state_path"`

	Log LogConfig `koanf:"log"`
	// Output selects CLI output: auto, text, markdown or json.
	Output string `koanf:"output"`

	// ConfigFile is the config file that was loaded, if any.
	ConfigFile string `koanf:"-"`
}

// RedcapConfig selects the REDCap data source: the API, or a directory of
// JSON exports when DataDir is set.
type RedcapConfig struct {
	APIURL             string        `koanf:"api_url"`
	APIToken           string        `koanf:"api_token"`
	Timeout            time.Duration `koanf:"timeout"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
	DataDir            string        `koanf:"data_dir"`
	// RecordIDField overrides the record id field, which otherwise is the
	// first field of the project metadata.
	RecordIDField string `koanf:"record_id_field"`
}

// Rules sources.
const (
	RulesSourceText = "text"
	RulesSourceFile = "file"
	RulesSourceAuto = "auto"
)

// TransformConfig controls rule loading and schema generation.
type TransformConfig struct {
	// RulesSource is text (RulesText), file (RulesFile) or auto (generated
	// from the project metadata).
	RulesSource string `koanf:"rules_source"`
	RulesText   string `koanf:"rules_text"`
	RulesFile   string `koanf:"rules_file"`

	TablePrefix       string         `koanf:"table_prefix"`
	GeneratedKeyType  core.FieldSpec `koanf:"generated_key_type"`
	LabelViews        bool           `koanf:"label_views"`
	LabelViewSuffix   string         `koanf:"label_view_suffix"`
	CreateLookupTable bool           `koanf:"create_lookup_table"`
	LookupTableName   string         `koanf:"lookup_table_name"`
	IgnoreRuleErrors  bool           `koanf:"ignore_rule_errors"`

	// ExtractFilterLogic is REDCap filter logic applied when selecting
	// record ids. A FILTER rule takes precedence.
	ExtractFilterLogic string `koanf:"extract_filter_logic"`

	Auto rules.GenerateOptions `koanf:"auto"`
}

// TargetConfig is the load target configuration.
type TargetConfig = adapter.Config

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
}

// GeneratorConfig returns the schema generator settings.
func (c *Config) GeneratorConfig() schema.GeneratorConfig {
	t := c.Transform
	return schema.GeneratorConfig{
		TablePrefix:       t.TablePrefix,
		GeneratedKeyType:  t.GeneratedKeyType,
		LabelViews:        t.LabelViews,
		LabelViewSuffix:   t.LabelViewSuffix,
		CreateLookupTable: t.CreateLookupTable,
		LookupTableName:   t.LookupTableName,
		IgnoreRuleErrors:  t.IgnoreRuleErrors,
	}
}

// AdapterConfig returns the target configuration with the run-wide batch
// size and label view suffix applied.
func (c *Config) AdapterConfig() adapter.Config {
	a := c.Target
	if a.BatchSize <= 0 {
		a.BatchSize = c.BatchSize
	}
	if a.LabelViewSuffix == "" {
		a.LabelViewSuffix = c.Transform.LabelViewSuffix
	}
	return a
}

// UsesDataDir reports whether records come from a local export directory.
func (c *Config) UsesDataDir() bool { return c.Redcap.DataDir != "" }
