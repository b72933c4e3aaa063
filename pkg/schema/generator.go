package schema

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
	"github.com/leapstack-labs/redcapetl/pkg/rules"
)

// Defaults for GeneratorConfig.
const (
	DefaultLookupTableName = "lookup"
	DefaultLabelViewSuffix = "_label_view"
)

// GeneratorConfig controls schema generation.
type GeneratorConfig struct {
	// TablePrefix is prepended to every table name.
	TablePrefix string
	// GeneratedKeyType is the root primary key type. AUTO_INCREMENT keys
	// are allocated per table; any other type holds the record id.
	GeneratedKeyType core.FieldSpec
	// LabelViews creates a label view for each table that uses lookups.
	LabelViews      bool
	LabelViewSuffix string
	// CreateLookupTable materializes the lookup as a table.
	CreateLookupTable bool
	LookupTableName   string
	// IgnoreRuleErrors generates from the error-free rules instead of
	// failing when any rule has an error.
	IgnoreRuleErrors bool
}

// Generator builds a Schema from rules and project metadata.
type Generator struct {
	cfg    GeneratorConfig
	logger *slog.Logger
}

// NewGenerator creates a Generator. Zero config values get defaults.
func NewGenerator(cfg GeneratorConfig, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.GeneratedKeyType.Type == core.FieldTypeInvalid {
		cfg.GeneratedKeyType = core.FieldSpec{Type: core.FieldTypeAutoIncrement}
	}
	if cfg.LookupTableName == "" {
		cfg.LookupTableName = DefaultLookupTableName
	}
	if cfg.LabelViewSuffix == "" {
		cfg.LabelViewSuffix = DefaultLabelViewSuffix
	}
	return &Generator{cfg: cfg, logger: logger}
}

// Config returns the effective configuration.
func (g *Generator) Config() GeneratorConfig { return g.cfg }

// LabelViewName returns the name of t's label view.
func (g *Generator) LabelViewName(t *Table) string { return t.Name + g.cfg.LabelViewSuffix }

// GenerateFromText parses and checks rule text, then generates.
func (g *Generator) GenerateFromText(p *redcap.ProjectData, text string) (*Schema, *rules.Rules, error) {
	r := rules.Check(rules.Parse(text))
	s, err := g.Generate(p, r)
	return s, r, err
}

type build struct {
	cfg     GeneratorConfig
	p       *redcap.ProjectData
	tables  map[string]*Table
	lookups map[*Table]*LookupTable
	errs    []string
}

func (b *build) errorf(format string, args ...any) {
	b.errs = append(b.errs, fmt.Sprintf(format, args...))
}

// Generate derives the schema. Any unresolved field, undefined parent,
// duplicate column, or ambiguous rows type fails the whole generation.
func (g *Generator) Generate(p *redcap.ProjectData, r *rules.Rules) (*Schema, error) {
	const op = "generate schema"
	if r.HasErrors() && !g.cfg.IgnoreRuleErrors {
		return nil, core.Errorf(core.InputError, op, "rules have errors: %s", strings.Join(r.Errors(), "; "))
	}

	b := &build{
		cfg:     g.cfg,
		p:       p,
		tables:  make(map[string]*Table),
		lookups: make(map[*Table]*LookupTable),
	}

	var valid []*rules.TableRule
	for _, tr := range r.TableRules() {
		if !rules.Valid(tr) {
			g.logger.Warn("skipping table rule with errors",
				slog.Int("line", tr.LineNumber()), slog.String("table", tr.TableName))
			continue
		}
		valid = append(valid, tr)
	}
	if len(valid) == 0 {
		return nil, core.Errorf(core.InputError, op, "no valid TABLE rules")
	}

	s := &Schema{Lookup: NewLookupTable(), FilterLogic: r.FilterLogic()}
	for _, tr := range valid {
		t := b.newTable(tr)
		b.tables[tr.TableName] = t
		s.Tables = append(s.Tables, t)
	}
	for i, tr := range valid {
		b.linkParent(s.Tables[i], tr)
	}
	for i, tr := range valid {
		t := s.Tables[i]
		b.addHousekeeping(t)
		for _, fr := range tr.Fields {
			if !rules.Valid(fr) {
				continue
			}
			b.addField(t, fr)
		}
		t.UsesLookup = slices.ContainsFunc(t.Fields, func(f *Field) bool { return f.UsesLookup != "" })
		t.NeedsLabelView = t.UsesLookup && g.cfg.LabelViews
	}
	b.validateForest(s.Tables)

	for _, t := range s.Tables {
		if l, ok := b.lookups[t]; ok {
			s.Lookup = s.Lookup.Merge(l)
		}
	}
	if g.cfg.CreateLookupTable {
		name := g.cfg.TablePrefix + g.cfg.LookupTableName
		if _, exists := s.Table(name); exists {
			b.errorf("lookup table name %q is already used by a table", name)
		}
		s.LookupTable = s.Lookup.ToTable(name)
	}

	if len(b.errs) > 0 {
		return nil, core.Errorf(core.InputError, op, "%s", strings.Join(b.errs, "; "))
	}
	g.logger.Debug("schema generated",
		slog.Int("tables", len(s.Tables)),
		slog.Int("lookup_entries", len(s.Lookup.Entries())))
	return s, nil
}

func (b *build) newTable(tr *rules.TableRule) *Table {
	t := &Table{
		Name:          b.cfg.TablePrefix + tr.TableName,
		RowsType:      tr.RowsType,
		Suffixes:      slices.Clone(tr.Suffixes),
		Longitudinal:  b.p.IsLongitudinal(),
		RecordIDField: b.p.RecordIDField(),
	}
	if tr.IsRoot() {
		if tr.RowsType != core.RowsRoot {
			b.errorf("table %q: ROOT cannot be combined with other rows types", t.Name)
		}
		t.PrimaryKey = &Field{
			Name:   tr.PrimaryKeyName,
			DBName: tr.PrimaryKeyName,
			Type:   b.cfg.GeneratedKeyType.Type,
			Size:   b.cfg.GeneratedKeyType.Size,
			Role:   RolePrimaryKey,
		}
	} else {
		pk := tr.TableName + "_id"
		t.PrimaryKey = &Field{Name: pk, DBName: pk, Type: core.FieldTypeAutoIncrement, Role: RolePrimaryKey}
	}
	t.Fields = append(t.Fields, t.PrimaryKey)
	return t
}

// linkParent resolves the parent and adds the foreign key, typed like the
// parent's primary key.
func (b *build) linkParent(t *Table, tr *rules.TableRule) {
	if tr.IsRoot() {
		return
	}
	parent, ok := b.tables[tr.ParentTableName]
	if !ok {
		b.errorf("table %q: parent table %q is not defined", t.Name, tr.ParentTableName)
		return
	}
	t.Parent = parent
	parent.children = append(parent.children, t)

	fkType := parent.PrimaryKey.Type
	if fkType == core.FieldTypeAutoIncrement {
		fkType = core.FieldTypeInt
	}
	t.ForeignKey = &Field{
		Name:   parent.PrimaryKey.DBName,
		DBName: parent.PrimaryKey.DBName,
		Type:   fkType,
		Size:   parent.PrimaryKey.Size,
		Role:   RoleForeignKey,
	}
	if !t.addField(t.ForeignKey) {
		b.errorf("table %q: foreign key %q collides with the primary key", t.Name, t.ForeignKey.DBName)
	}
}

func (b *build) addHousekeeping(t *Table) {
	hk := func(name string, typ core.FieldType, size int) {
		t.addField(&Field{Name: name, DBName: name, Type: typ, Size: size, Role: RoleHousekeeping})
	}
	if t.RowsType.NeedsEvent() {
		hk(EventColumn, core.FieldTypeVarchar, 255)
	}
	if t.RowsType.NeedsRepeat() {
		hk(RepeatInstrumentColumn, core.FieldTypeVarchar, 255)
		hk(RepeatInstanceColumn, core.FieldTypeInt, 0)
	}
	if t.RowsType.Has(core.RowsSuffixes) {
		hk(SuffixColumn, core.FieldTypeVarchar, 255)
	}
}

// variants resolves the metadata of every suffix-qualified form of a field.
func (b *build) variants(t *Table, name string) ([]redcap.FieldMetadata, bool) {
	suffixes := t.EffectiveSuffixes()
	if len(suffixes) == 0 {
		suffixes = []string{""}
	}
	out := make([]redcap.FieldMetadata, 0, len(suffixes))
	for _, s := range suffixes {
		meta, ok := b.p.Field(name + s)
		if !ok {
			b.errorf("table %q: field %q not found in REDCap metadata", t.Name, name+s)
			return nil, false
		}
		out = append(out, meta)
	}
	return out, true
}

func (b *build) lookup(t *Table) *LookupTable {
	l, ok := b.lookups[t]
	if !ok {
		l = NewLookupTable()
		b.lookups[t] = l
	}
	return l
}

func (b *build) add(t *Table, f *Field) {
	if !t.addField(f) {
		b.errorf("table %q: duplicate column %q", t.Name, f.DBName)
	}
}

func (b *build) addField(t *Table, fr *rules.FieldRule) {
	metas, ok := b.variants(t, fr.RedCapFieldName)
	if !ok {
		return
	}
	for _, m := range metas {
		if m.FormName != "" && !slices.Contains(t.Instruments, m.FormName) {
			t.Instruments = append(t.Instruments, m.FormName)
		}
	}
	meta := metas[0]

	if meta.IsCheckbox() {
		b.addCheckbox(t, fr, metas)
		return
	}
	if fr.DBFieldType == core.FieldTypeCheckbox {
		b.errorf("table %q: field %q is declared checkbox but REDCap type is %q", t.Name, fr.RedCapFieldName, meta.FieldType)
		return
	}

	var f *Field
	for _, m := range metas {
		if m.FieldType != meta.FieldType {
			b.errorf("table %q: field %q variants disagree on REDCap type: %q is %s, %q is %s",
				t.Name, fr.RedCapFieldName, meta.FieldName, meta.FieldType, m.FieldName, m.FieldType)
			return
		}
		variant := &Field{
			Name:       fr.RedCapFieldName,
			DBName:     fr.DBFieldName,
			Type:       fr.DBFieldType,
			Size:       fr.DBFieldSize,
			Role:       RoleData,
			RedCapType: m.FieldType,
		}
		if len(metas) > 1 && fr.DBFieldType == core.FieldTypeString {
			// An unsized text rule takes each variant's own text type,
			// so the merged column is as narrow as the variants allow.
			if spec, ok := rules.InferFieldSpec(m); ok && spec.Type.IsText() {
				variant.Type, variant.Size = spec.Type, spec.Size
			}
		}
		if f == nil {
			f = variant
		} else {
			f = f.Merge(variant)
		}
	}
	if meta.HasChoices() {
		f.UsesLookup = fr.RedCapFieldName
		l := b.lookup(t)
		for _, m := range metas {
			l.AddChoices(t.Name, fr.RedCapFieldName, m.ParsedChoices())
		}
	}
	b.add(t, f)
}

// addCheckbox expands a checkbox into one INT column per choice.
func (b *build) addCheckbox(t *Table, fr *rules.FieldRule, metas []redcap.FieldMetadata) {
	l := b.lookup(t)
	for _, m := range metas {
		l.AddChoices(t.Name, fr.RedCapFieldName, m.ParsedChoices())
	}
	choices := l.GetValueLabelMap(t.Name, fr.RedCapFieldName)
	if len(choices) == 0 {
		b.errorf("table %q: checkbox field %q has no choices", t.Name, fr.RedCapFieldName)
		return
	}
	for _, c := range choices {
		b.add(t, &Field{
			Name:         redcap.CheckboxColumn(fr.RedCapFieldName, c.Code),
			DBName:       redcap.CheckboxColumn(fr.DBFieldName, c.Code),
			Type:         core.FieldTypeInt,
			Role:         RoleData,
			UsesLookup:   fr.RedCapFieldName,
			RedCapType:   redcap.TypeCheckbox,
			CheckboxRoot: fr.RedCapFieldName,
			CheckboxCode: c.Code,
		})
	}
}

// validateForest checks that every table reaches a root.
func (b *build) validateForest(tables []*Table) {
	for _, t := range tables {
		if t.IsRoot() && !t.RowsType.IsRoot() {
			// Parent resolution already failed and was reported.
			continue
		}
		seen := map[*Table]bool{}
		for cur := t; cur.Parent != nil; cur = cur.Parent {
			if seen[cur] {
				b.errorf("table %q: parent chain contains a cycle", t.Name)
				break
			}
			seen[cur] = true
		}
	}
}
