package config

import (
	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
)

// Config file names, searched in this order.
const (
	ConfigFileName    = "redcapetl.yaml"
	ConfigFileNameAlt = "redcapetl.yml"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: REDCAPETL_TARGET__TYPE sets target.type.
const EnvPrefix = "REDCAPETL_"

// Default configuration values.
const (
	DefaultStateFile        = ".redcapetl/state.db"
	DefaultTargetType       = "sqlite"
	DefaultTargetPath       = "redcapetl.db"
	DefaultOutput           = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultRedcapTimeout    = "60s"
	DefaultGeneratedKeyType = "auto_increment"
)

func defaults() map[string]any {
	return map[string]any{
		"redcap.timeout":               DefaultRedcapTimeout,
		"transform.rules_source":       RulesSourceAuto,
		"transform.generated_key_type": DefaultGeneratedKeyType,
		"transform.label_view_suffix":  schema.DefaultLabelViewSuffix,
		"transform.lookup_table_name":  schema.DefaultLookupTableName,
		"target.type":                  DefaultTargetType,
		"target.path":                  DefaultTargetPath,
		"batch_size":                   adapter.DefaultBatchSize,
		"time_limit":                   "0s",
		"drop_tables":                  true,
		"state_path":                   DefaultStateFile,
		"log.level":                    DefaultLogLevel,
		"log.format":                   DefaultLogFormat,
		"output":                       DefaultOutput,
	}
}
