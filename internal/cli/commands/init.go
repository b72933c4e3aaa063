package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/redcapetl/internal/config"
	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// InitOptions holds options for the init command.
type InitOptions struct {
	Force   bool
	DataDir string
	Target  string
}

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	opts := &InitOptions{}
	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Create a starter redcapetl.yaml",
		Long: `Write a commented redcapetl.yaml with every section filled in with its
default. The API token is read from the REDCAP_API_TOKEN environment
variable so it stays out of the file.`,
		Example: `  # Initialize in the current directory
  redcapetl init

  # Start from an offline export and a PostgreSQL target
  redcapetl init --export-dir ./export --target-type postgres

  # Overwrite an existing config
  redcapetl init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			path, err := runInit(dir, opts)
			if err != nil {
				return err
			}
			r := cmdCtx.Renderer
			r.StatusLine(path, "success", "")
			r.Println()
			r.Success("redcapetl project initialized!")
			r.Println()
			r.Println("Next steps:")
			r.Println("  1. Set redcap.api_url and export REDCAP_API_TOKEN, or point redcap.data_dir at an export")
			r.Println("  2. Run 'redcapetl rules generate --out rules.txt' and edit the rules")
			r.Println("  3. Run 'redcapetl run' to load the project")
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite an existing configuration")
	cmd.Flags().StringVar(&opts.DataDir, "export-dir", "", "Read records from a directory of JSON exports")
	cmd.Flags().StringVar(&opts.Target, "target-type", config.DefaultTargetType, "Target type")
	return cmd
}

type starterConfig struct {
	Redcap    starterRedcap    `yaml:"redcap"`
	Transform starterTransform `yaml:"transform"`
	Target    starterTarget    `yaml:"target"`
	BatchSize int              `yaml:"batch_size"`
	TimeLimit string           `yaml:"time_limit"`
	Drop      bool             `yaml:"drop_tables"`
	StatePath string           `yaml:"state_path"`
	Log       starterLog       `yaml:"log"`
}

type starterRedcap struct {
	APIURL   string `yaml:"api_url,omitempty"`
	APIToken string `yaml:"api_token,omitempty"`
	DataDir  string `yaml:"data_dir,omitempty"`
	Timeout  string `yaml:"timeout"`
}

type starterTransform struct {
	RulesSource       string `yaml:"rules_source"`
	RulesFile         string `yaml:"rules_file,omitempty"`
	TablePrefix       string `yaml:"table_prefix"`
	GeneratedKeyType  string `yaml:"generated_key_type"`
	LabelViews        bool   `yaml:"label_views"`
	CreateLookupTable bool   `yaml:"create_lookup_table"`
	LookupTableName   string `yaml:"lookup_table_name"`
}

type starterTarget struct {
	Type     string `yaml:"type"`
	Path     string `yaml:"path,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type starterLog struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// sectionComments are written above the top-level keys.
var sectionComments = map[string]string{
	"redcap":      "REDCap source: the API, or a directory of JSON exports (data_dir).",
	"transform":   "Rules: auto generates them from metadata; file reads rules_file.",
	"target":      "Load target: sqlite, duckdb, postgres, mysql, sqlserver or csv.",
	"batch_size":  "Records extracted and rows inserted per batch.",
	"time_limit":  "Abort the run after this long; 0s means no limit.",
	"drop_tables": "Drop and recreate tables on every run.",
}

// targetDefaults fills connection settings a target type needs.
func targetDefaults(kind string) starterTarget {
	t := starterTarget{Type: kind}
	switch kind {
	case "sqlite", "duckdb":
		t.Path = config.DefaultTargetPath
		if kind == "duckdb" {
			t.Path = "redcapetl.duckdb"
		}
	case "csv":
		t.Path = "out"
	case "postgres":
		t.Host, t.Port, t.Database, t.User, t.Password = "localhost", 5432, "redcap", "redcap", "${PGPASSWORD}"
	case "mysql":
		t.Host, t.Port, t.Database, t.User, t.Password = "localhost", 3306, "redcap", "redcap", "${MYSQL_PASSWORD}"
	case "sqlserver":
		t.Host, t.Port, t.Database, t.User, t.Password = "localhost", 1433, "redcap", "sa", "${MSSQL_PASSWORD}"
	}
	return t
}

func starter(opts *InitOptions) starterConfig {
	sc := starterConfig{
		Redcap: starterRedcap{Timeout: config.DefaultRedcapTimeout},
		Transform: starterTransform{
			RulesSource:      config.RulesSourceAuto,
			GeneratedKeyType: config.DefaultGeneratedKeyType,
			LabelViews:       true,
			LookupTableName:  schema.DefaultLookupTableName,
		},
		Target:    targetDefaults(opts.Target),
		BatchSize: adapter.DefaultBatchSize,
		TimeLimit: "0s",
		Drop:      true,
		StatePath: config.DefaultStateFile,
		Log:       starterLog{Level: config.DefaultLogLevel, Format: config.DefaultLogFormat},
	}
	if opts.DataDir != "" {
		sc.Redcap.DataDir = opts.DataDir
	} else {
		sc.Redcap.APIURL = "https://redcap.example.org/api/"
		sc.Redcap.APIToken = "${REDCAP_API_TOKEN}"
	}
	return sc
}

// renderStarter encodes the starter config with section comments.
func renderStarter(sc starterConfig) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(sc); err != nil {
		return nil, err
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if c, ok := sectionComments[key.Value]; ok {
			key.HeadComment = c
		}
	}

	var buf bytes.Buffer
	buf.WriteString("# redcapetl configuration\n\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func runInit(dir string, opts *InitOptions) (string, error) {
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	path := filepath.Join(dir, config.ConfigFileName)
	if _, err := os.Stat(path); err == nil && !opts.Force {
		return "", fmt.Errorf("%s already exists. Use --force to overwrite", config.ConfigFileName)
	}

	data, err := renderStarter(starter(opts))
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
