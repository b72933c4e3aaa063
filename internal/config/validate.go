package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/core"
)

// Validate checks the whole configuration needed for a run.
func (c *Config) Validate() error {
	return configError("validate config", errors.Join(
		c.validateSource(),
		c.validateTransform(),
		c.validateTarget(),
		c.validateRun(),
	))
}

// ValidateSource checks only what is needed to read from REDCap, for
// commands that never touch the target.
func (c *Config) ValidateSource() error {
	return configError("validate config", errors.Join(c.validateSource(), c.validateRun()))
}

func configError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &core.Error{Code: core.ConfigError, Op: op, Err: err}
}

func (c *Config) validateSource() error {
	r := c.Redcap
	if r.DataDir != "" {
		return nil
	}
	var errs []error
	if r.APIURL == "" {
		errs = append(errs, errors.New("redcap.api_url is required (or set redcap.data_dir)"))
	}
	if r.APIToken == "" {
		errs = append(errs, errors.New("redcap.api_token is required (or set redcap.data_dir)"))
	}
	if r.Timeout < 0 {
		errs = append(errs, errors.New("redcap.timeout must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) validateTransform() error {
	t := c.Transform
	var errs []error
	switch t.RulesSource {
	case RulesSourceAuto:
	case RulesSourceText:
		if strings.TrimSpace(t.RulesText) == "" {
			errs = append(errs, errors.New("transform.rules_text is required when rules_source is text"))
		}
	case RulesSourceFile:
		if t.RulesFile == "" {
			errs = append(errs, errors.New("transform.rules_file is required when rules_source is file"))
		}
	default:
		errs = append(errs, fmt.Errorf("transform.rules_source %q must be text, file or auto", t.RulesSource))
	}
	switch t.GeneratedKeyType.Type {
	case core.FieldTypeAutoIncrement, core.FieldTypeInt, core.FieldTypeString, core.FieldTypeChar, core.FieldTypeVarchar:
	default:
		errs = append(errs, fmt.Errorf("transform.generated_key_type %q is not a valid key type", t.GeneratedKeyType))
	}
	if t.LabelViews && t.LabelViewSuffix == "" {
		errs = append(errs, errors.New("transform.label_view_suffix must not be empty"))
	}
	if t.CreateLookupTable && t.LookupTableName == "" {
		errs = append(errs, errors.New("transform.lookup_table_name must not be empty"))
	}
	return errors.Join(errs...)
}

func (c *Config) validateTarget() error {
	if c.Target.Type == "" {
		return errors.New("target.type is required")
	}
	if !adapter.IsRegistered(c.Target.Type) {
		return &adapter.UnknownAdapterError{Type: c.Target.Type, Available: adapter.ListAdapters()}
	}
	return nil
}

func (c *Config) validateRun() error {
	var errs []error
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.TimeLimit < 0 {
		errs = append(errs, errors.New("time_limit must not be negative"))
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ParseLogLevel converts a log.level value into a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q must be debug, info, warn or error", s)
	}
	return level, nil
}
