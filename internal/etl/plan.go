// Package etl runs the extract, transform and load pipeline: it reads a
// REDCap project, derives the target schema from transformation rules and
// loads every record into a target.
package etl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
	"github.com/leapstack-labs/redcapetl/pkg/rules"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
)

// Rules sources.
const (
	RulesText = "text"
	RulesFile = "file"
	RulesAuto = "auto"
)

// RulesConfig says where transformation rules come from.
type RulesConfig struct {
	// Source is RulesText, RulesFile or RulesAuto.
	Source string
	Text   string
	File   string
	// Auto controls rules generated from project metadata.
	Auto rules.GenerateOptions
}

// LoadRulesText returns the rule text for project p.
func LoadRulesText(rc RulesConfig, p *redcap.ProjectData) (string, error) {
	const op = "load rules"
	switch rc.Source {
	case RulesText:
		return rc.Text, nil
	case RulesFile:
		data, err := os.ReadFile(rc.File)
		if err != nil {
			return "", core.Errorf(core.ConfigError, op, "read rules file: %w", err)
		}
		return string(data), nil
	case RulesAuto, "":
		return rules.GenerateDefaultRules(p, rc.Auto), nil
	}
	return "", core.Errorf(core.ConfigError, op, "unknown rules source %q", rc.Source)
}

// Plan is everything derived before any row is loaded.
type Plan struct {
	Project   *redcap.ProjectData
	RulesText string
	Rules     *rules.Rules
	Schema    *schema.Schema
	// FilterLogic is the record filter in effect: the FILTER rule, or the
	// configured extract filter logic.
	FilterLogic string
}

// BuildPlan loads the project from src, resolves the rules and generates
// the schema.
func BuildPlan(ctx context.Context, src redcap.Source, cfg Config, logger *slog.Logger) (*Plan, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	project, err := redcap.LoadProjectData(ctx, src)
	if err != nil {
		return nil, err
	}
	project.RecordIDOverride = cfg.RecordIDField
	logger.Debug("loaded project",
		slog.String("title", project.Info.Title),
		slog.Int("fields", len(project.Metadata)),
		slog.Bool("longitudinal", project.IsLongitudinal()),
		slog.String("record_id_field", project.RecordIDField()))

	text, err := LoadRulesText(cfg.Rules, project)
	if err != nil {
		return nil, err
	}

	gen := schema.NewGenerator(cfg.Schema, logger)
	s, r, err := gen.GenerateFromText(project, text)
	if err != nil {
		return nil, err
	}
	for _, msg := range r.Errors() {
		logger.Warn("ignored rule error", slog.String("error", msg))
	}

	filter := s.FilterLogic
	if strings.TrimSpace(filter) == "" {
		filter = cfg.FilterLogic
	}
	return &Plan{Project: project, RulesText: text, Rules: r, Schema: s, FilterLogic: filter}, nil
}

func (p *Plan) String() string {
	return fmt.Sprintf("%d tables, %d lookup entries", len(p.Schema.Tables), len(p.Schema.Lookup.Entries()))
}
