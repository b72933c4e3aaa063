package adapter

import (
	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
)

var testDialect = &Dialect{
	Name:          "test",
	Quote:         `"`,
	Placeholder:   PlaceholderDollar,
	DefaultSchema: "public",
	Types: map[core.FieldType]string{
		core.FieldTypeInt:      "INTEGER",
		core.FieldTypeFloat:    "DOUBLE PRECISION",
		core.FieldTypeString:   "TEXT",
		core.FieldTypeChar:     "CHAR(%d)",
		core.FieldTypeVarchar:  "VARCHAR(%d)",
		core.FieldTypeDate:     "DATE",
		core.FieldTypeDatetime: "TIMESTAMP",
	},
	TextCast:    "TEXT",
	ReplaceView: "CREATE OR REPLACE VIEW",
}

// testTables returns enrollment(enrollment_id, record_id, sex, days___1)
// and its child visit(visit_id, enrollment_id, weight).
func testTables() (*schema.Table, *schema.Table, *schema.LookupTable) {
	root := &schema.Table{Name: "enrollment", RowsType: core.RowsRoot, UsesLookup: true}
	root.PrimaryKey = &schema.Field{Name: "enrollment_id", DBName: "enrollment_id", Type: core.FieldTypeAutoIncrement, Role: schema.RolePrimaryKey}
	root.Fields = []*schema.Field{
		root.PrimaryKey,
		{Name: "record_id", DBName: "record_id", Type: core.FieldTypeVarchar, Size: 255, Role: schema.RoleData},
		{Name: "sex", DBName: "sex", Type: core.FieldTypeInt, Role: schema.RoleData, UsesLookup: "sex"},
		{Name: "days", DBName: "days___1", Type: core.FieldTypeCheckbox, Role: schema.RoleData, UsesLookup: "days", CheckboxRoot: "days", CheckboxCode: "1"},
	}

	child := &schema.Table{Name: "visit", Parent: root, RowsType: core.RowsRepeatingInstruments}
	child.PrimaryKey = &schema.Field{Name: "visit_id", DBName: "visit_id", Type: core.FieldTypeAutoIncrement, Role: schema.RolePrimaryKey}
	child.ForeignKey = &schema.Field{Name: "enrollment_id", DBName: "enrollment_id", Type: core.FieldTypeInt, Role: schema.RoleForeignKey}
	child.Fields = []*schema.Field{
		child.PrimaryKey,
		child.ForeignKey,
		{Name: "weight", DBName: "weight", Type: core.FieldTypeFloat, Role: schema.RoleData},
	}

	lookup := schema.NewLookupTable()
	lookup.AddChoices("enrollment", "sex", []redcap.Choice{{Code: "0", Label: "Female"}, {Code: "1", Label: "Male"}})
	lookup.AddChoices("enrollment", "days", []redcap.Choice{{Code: "0", Label: "Mon"}, {Code: "1", Label: "Tue's"}})
	return root, child, lookup
}

func enrollmentRow(t *schema.Table, id int64, recordID string) *schema.Row {
	return &schema.Row{Table: t, Data: map[string]schema.Value{
		"enrollment_id": schema.IntValue(id),
		"record_id":     schema.TextValue(recordID),
		"sex":           schema.IntValue(1),
		"days___1":      schema.IntValue(0),
	}}
}
