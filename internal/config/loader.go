package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store the logger in a command context.
type loggerKey struct{}

// configKey is used to store the loaded config in a command context.
type configKey struct{}

// MemoryPath is the target path of in-memory databases. It is never
// resolved against a directory.
const MemoryPath = ":memory:"

// flagKeys maps command-line flag names to config keys. Flags not listed
// here are command options and never reach the config.
var flagKeys = map[string]string{
	"api-url":         "redcap.api_url",
	"api-token":       "redcap.api_token",
	"data-dir":        "redcap.data_dir",
	"record-id-field": "redcap.record_id_field",
	"rules":           "transform.rules_file",
	"table-prefix":    "transform.table_prefix",
	"label-views":     "transform.label_views",
	"filter":          "transform.extract_filter_logic",
	"target":          "target.type",
	"target-path":     "target.path",
	"batch-size":      "batch_size",
	"time-limit":      "time_limit",
	"drop-tables":     "drop_tables",
	"state":           "state_path",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"output":          "output",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// findConfigFile returns the config file to load: the explicit path, or
// redcapetl.yaml / redcapetl.yml in the working directory.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty, absolute, or the in-memory marker.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == MemoryPath || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// LoadConfig loads configuration from defaults, the config file, environment
// variables and flags. Precedence (highest to lowest): flags > env vars >
// config file > defaults. Only flags that were explicitly set are applied.
//
// The returned config is not validated; call Validate before using it.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	configFile := findConfigFile(cfgFile)
	baseDir, _ := os.Getwd()
	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		if abs, err := filepath.Abs(configFile); err == nil {
			baseDir = filepath.Dir(abs)
		}
	}

	// 3. Environment variables
	// Transform: REDCAPETL_TARGET__TYPE -> target.type
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	flagPaths := map[string]string{}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			val := posflag.FlagVal(flags, f)
			if s, isString := val.(string); isString && isPathKey(key) && s != MemoryPath {
				if abs, err := filepath.Abs(s); err == nil {
					flagPaths[key] = abs
				}
			}
			return key, val
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
		// --rules implies the rules come from that file.
		if flags.Changed("rules") {
			if err := k.Set("transform.rules_source", RulesSourceFile); err != nil {
				return nil, fmt.Errorf("failed to apply --rules: %w", err)
			}
		}
	}

	// 5. Decode
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ConfigFile = configFile
	cfg.Target.Type = strings.ToLower(cfg.Target.Type)

	// 6. Paths from flags are relative to the working directory; the rest
	// are relative to the config file.
	for key, ptr := range map[string]*string{
		"redcap.data_dir":      &cfg.Redcap.DataDir,
		"transform.rules_file": &cfg.Transform.RulesFile,
		"state_path":           &cfg.StatePath,
		"target.path":          &cfg.Target.Path,
	} {
		if abs, ok := flagPaths[key]; ok {
			*ptr = abs
			continue
		}
		*ptr = resolvePathRelativeTo(*ptr, baseDir)
	}

	expandSecrets(&cfg)
	return &cfg, nil
}

func isPathKey(key string) bool {
	switch key {
	case "redcap.data_dir", "transform.rules_file", "state_path", "target.path":
		return true
	}
	return false
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

// expandSecrets expands environment variables in credentials and hosts so
// they can stay out of the config file.
func expandSecrets(cfg *Config) {
	cfg.Redcap.APIURL = expandEnvVars(cfg.Redcap.APIURL)
	cfg.Redcap.APIToken = expandEnvVars(cfg.Redcap.APIToken)
	cfg.Target.Host = expandEnvVars(cfg.Target.Host)
	cfg.Target.Database = expandEnvVars(cfg.Target.Database)
	cfg.Target.Username = expandEnvVars(cfg.Target.Username)
	cfg.Target.Password = expandEnvVars(cfg.Target.Password)
}

// LoggerKey returns the context key used for storing the logger.
func LoggerKey() interface{} {
	return loggerKey{}
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

// WithConfig returns a copy of ctx carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the config stored by WithConfig, or nil.
func FromContext(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	return nil
}
