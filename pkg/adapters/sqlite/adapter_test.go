package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/redcapetl/internal/testutil"
	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTables() (*schema.Table, *schema.Table, *schema.LookupTable) {
	root := &schema.Table{Name: "enrollment", RowsType: core.RowsRoot, UsesLookup: true}
	root.PrimaryKey = &schema.Field{Name: "enrollment_id", DBName: "enrollment_id", Type: core.FieldTypeAutoIncrement, Role: schema.RolePrimaryKey}
	root.Fields = []*schema.Field{
		root.PrimaryKey,
		{Name: "record_id", DBName: "record_id", Type: core.FieldTypeVarchar, Size: 255, Role: schema.RoleData},
		{Name: "sex", DBName: "sex", Type: core.FieldTypeInt, Role: schema.RoleData, UsesLookup: "sex"},
		{Name: "days", DBName: "days___1", Type: core.FieldTypeCheckbox, Role: schema.RoleData, UsesLookup: "days", CheckboxRoot: "days", CheckboxCode: "1"},
		{Name: "dob", DBName: "dob", Type: core.FieldTypeDate, Role: schema.RoleData},
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
	lookup.AddChoices("enrollment", "days", []redcap.Choice{{Code: "0", Label: "Mon"}, {Code: "1", Label: "Tue"}})
	return root, child, lookup
}

func openMemory(t *testing.T) *Connection {
	t.Helper()
	conn, err := Open(context.Background(), adapter.Config{Type: "sqlite"}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func row(t *schema.Table, data map[string]schema.Value) *schema.Row {
	return &schema.Row{Table: t, Data: data}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etl.db")
	conn, err := Open(context.Background(), adapter.Config{Type: "sqlite", Path: path, Schema: "ignored"}, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	root, _, _ := testTables()
	require.NoError(t, conn.CreateTable(context.Background(), root, false))
	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
	assert.Equal(t, "sqlite:"+path, conn.Identity())
}

func TestConnection_TableLifecycle(t *testing.T) {
	ctx := context.Background()
	conn := openMemory(t)
	root, _, _ := testTables()

	exists, err := conn.ExistsTable(ctx, root)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, conn.CreateTable(ctx, root, false))
	require.NoError(t, conn.CreateTable(ctx, root, true), "IF NOT EXISTS should tolerate an existing table")
	require.Error(t, conn.CreateTable(ctx, root, false))

	exists, err = conn.ExistsTable(ctx, root)
	require.NoError(t, err)
	assert.True(t, exists)

	// Constraints are inline for sqlite.
	require.NoError(t, conn.AddPrimaryKeyConstraint(ctx, root))

	require.NoError(t, conn.DropTable(ctx, root, false))
	require.NoError(t, conn.DropTable(ctx, root, true))
	err = conn.DropTable(ctx, root, false)
	require.Error(t, err)
	assert.Equal(t, core.DatabaseError, core.CodeOf(err))
}

func TestConnection_InsertAndRead(t *testing.T) {
	ctx := context.Background()
	conn := openMemory(t)
	root, child, _ := testTables()
	require.NoError(t, conn.CreateTable(ctx, root, true))
	require.NoError(t, conn.CreateTable(ctx, child, true))

	dob, err := time.Parse(schema.DateLayout, "1977-05-03")
	require.NoError(t, err)

	key, err := conn.InsertRow(ctx, row(root, map[string]schema.Value{
		"enrollment_id": schema.IntValue(1),
		"record_id":     schema.TextValue("1001"),
		"sex":           schema.IntValue(1),
		"days___1":      schema.IntValue(1),
		"dob":           schema.DateValue(dob),
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), key)

	visits := []*schema.Row{
		row(child, map[string]schema.Value{"visit_id": schema.IntValue(1), "enrollment_id": schema.IntValue(1), "weight": schema.FloatValue(70.5)}),
		row(child, map[string]schema.Value{"visit_id": schema.IntValue(2), "enrollment_id": schema.IntValue(1), "weight": schema.Null()}),
	}
	require.NoError(t, conn.InsertRows(ctx, child, visits))

	data, err := conn.GetData(ctx, "visit", "visit_id")
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.Equal(t, int64(1), data[0]["visit_id"])
	assert.InEpsilon(t, 70.5, data[0]["weight"], 0.0001)
	assert.Nil(t, data[1]["weight"])

	roots, err := conn.GetData(ctx, "enrollment", "")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "1001", roots[0]["record_id"])
}

func TestConnection_ForeignKeyEnforced(t *testing.T) {
	ctx := context.Background()
	conn := openMemory(t)
	root, child, _ := testTables()
	require.NoError(t, conn.CreateTable(ctx, root, true))
	require.NoError(t, conn.CreateTable(ctx, child, true))

	_, err := conn.InsertRow(ctx, row(child, map[string]schema.Value{
		"visit_id":      schema.IntValue(1),
		"enrollment_id": schema.IntValue(99),
	}))
	require.Error(t, err)
	assert.Equal(t, core.DatabaseError, core.CodeOf(err))
}

func TestConnection_LabelView(t *testing.T) {
	ctx := context.Background()
	conn := openMemory(t)
	root, _, lookup := testTables()
	require.NoError(t, conn.CreateTable(ctx, root, true))
	require.NoError(t, conn.InsertRows(ctx, root, []*schema.Row{
		row(root, map[string]schema.Value{"enrollment_id": schema.IntValue(1), "record_id": schema.TextValue("a"), "sex": schema.IntValue(0), "days___1": schema.IntValue(1)}),
		row(root, map[string]schema.Value{"enrollment_id": schema.IntValue(2), "record_id": schema.TextValue("b"), "sex": schema.IntValue(7), "days___1": schema.IntValue(0)}),
	}))

	require.NoError(t, conn.ReplaceLookupView(ctx, root, lookup))
	// Replacing twice drops the old view first.
	require.NoError(t, conn.ReplaceLookupView(ctx, root, lookup))

	data, err := conn.GetData(ctx, "enrollment"+adapter.DefaultLabelViewSuffix, "enrollment_id")
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.Equal(t, "Female", data[0]["sex"])
	assert.Equal(t, "Tue", data[0]["days___1"])
	assert.Equal(t, "7", data[1]["sex"], "unknown codes show the raw value")
	assert.Equal(t, "", data[1]["days___1"])

	require.NoError(t, conn.DropLabelView(ctx, root, false))
	require.NoError(t, conn.DropLabelView(ctx, root, true))
}
